package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/realtime"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Identity string
	WaitAck  time.Duration
}

// SendResult is the result of send.
type SendResult struct {
	Type  realtime.EventType `json:"type"`
	Acked bool               `json:"acked"`
}

// RenderText writes a confirmation line.
func (r SendResult) RenderText(w io.Writer) error {
	if r.Acked {
		_, err := fmt.Fprintf(w, "Sent %s (acknowledged)\n", r.Type)
		return err
	}
	_, err := fmt.Fprintf(w, "Sent %s\n", r.Type)
	return err
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <type> <json>",
		Short: "Publish one event on the realtime channel",
		Long: `Connect to realtime.url, send one envelope and disconnect.

The payload is inline JSON, @file, or - for stdin. With --wait-ack the
command waits for the server's ack event before disconnecting.`,
		Example: `  fieldsync send staff_notification '{"title":"Shift","message":"Starts at 9","priority":"low"}'
  fieldsync send task_update @update.json --wait-ack 5s`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, realtime.EventType(args[0]), args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Identity, "identity", "", "connect as this user (overrides realtime.identity)")
	cmd.Flags().DurationVar(&opts.WaitAck, "wait-ack", 0, "wait this long for an ack event (0 = do not wait)")

	return cmd
}

func runSend(opts *SendOptions, typ realtime.EventType, payload string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	if typ == realtime.EventConnect || typ == realtime.EventDisconnect || typ == realtime.EventMessage {
		_ = out.Error(CodeInput, fmt.Sprintf("%s is a local event and cannot be sent", typ), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s is a local event and cannot be sent", typ))
	}
	data, err := readJSONArg(payload, cmd.InOrStdin())
	if err != nil {
		_ = out.Error(CodeInput, "invalid payload", err.Error())
		return WrapExitError(ExitCommandError, "invalid payload", err)
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ch, err := a.channel()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	// Registered before Connect so an ack cannot slip past.
	acks := make(chan struct{}, 1)
	ch.On(realtime.EventAck, func(ev realtime.Event) error {
		select {
		case acks <- struct{}{}:
		default:
		}
		return nil
	})

	identity := opts.Identity
	if identity == "" {
		identity = a.cfg.Realtime.Identity
	}
	if err := ch.Connect(ctx, identity, a.cfg.Token); err != nil {
		ch.Disconnect()
		return a.fail(CodeNetwork, "failed to connect to realtime feed", err)
	}
	defer ch.Disconnect()

	if err := ch.Send(ctx, typ, json.RawMessage(data)); err != nil {
		return a.fail(CodeNetwork, "failed to send event", err)
	}

	result := SendResult{Type: typ}
	if opts.WaitAck > 0 {
		wctx, cancel := context.WithTimeout(ctx, opts.WaitAck)
		defer cancel()
		select {
		case <-acks:
			result.Acked = true
		case <-wctx.Done():
			return a.fail(CodeNetwork, "no ack received", wctx.Err())
		}
	}
	return a.out.Success(result)
}
