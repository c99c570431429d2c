package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/fieldsync/internal/realtime"
)

// ListenOptions holds flags for the listen command.
type ListenOptions struct {
	*RootOptions
	Types    []string
	Count    int
	Identity string
}

// EventRecord is one printed realtime event.
type EventRecord struct {
	Type      realtime.EventType `json:"type"`
	Heading   string             `json:"heading"`
	SenderID  string             `json:"sender_id,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Data      json.RawMessage    `json:"data"`
}

var headingCaser = cases.Title(language.English)

// eventHeading turns "staff_notification" into "Staff Notification".
func eventHeading(typ realtime.EventType) string {
	return headingCaser.String(strings.ReplaceAll(string(typ), "_", " "))
}

func newEventRecord(ev realtime.Event) EventRecord {
	return EventRecord{
		Type:      ev.Type,
		Heading:   eventHeading(ev.Type),
		SenderID:  ev.SenderID,
		Timestamp: ev.Timestamp,
		Data:      ev.Data,
	}
}

// RenderText writes "[time] Heading from sender: data".
func (r EventRecord) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "[%s] %s", r.Timestamp.UTC().Format(time.RFC3339), r.Heading)
	if r.SenderID != "" {
		fmt.Fprintf(w, " from %s", r.SenderID)
	}
	_, err := fmt.Fprintf(w, ": %s\n", r.Data)
	return err
}

// NewListenCommand creates the listen command.
func NewListenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print events from the realtime push feed",
		Long: `Connect to realtime.url and print every push event as it arrives.

Dropped connections are retried with exponential backoff
(realtime.base_delay, realtime.max_attempts). Stops on Ctrl-C or after
--count events.`,
		Example: `  fieldsync listen
  fieldsync listen --type sensor_alert --type staff_notification
  fieldsync listen --count 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Types, "type", nil, "only print this event type (repeatable)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many events (0 = unlimited)")
	cmd.Flags().StringVar(&opts.Identity, "identity", "", "connect as this user (overrides realtime.identity)")

	return cmd
}

func runListen(opts *ListenOptions, cmd *cobra.Command) error {
	types, err := selectEventTypes(opts.Types)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --type", err)
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

	ctx, stop := signalContext(commandContext(cmd), a.logger)
	defer stop()

	events := make(chan realtime.Event, 64)
	forward := func(ev realtime.Event) error {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
		return nil
	}
	for _, typ := range types {
		ch.On(typ, forward)
	}
	ch.On(realtime.EventConnect, func(ev realtime.Event) error {
		a.out.VerboseLog("connected")
		return nil
	})
	ch.On(realtime.EventDisconnect, func(ev realtime.Event) error {
		info, _ := realtime.Decode[realtime.DisconnectInfo](ev)
		a.out.VerboseLog("disconnected: %s", info.Reason)
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

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := a.out.Event(newEventRecord(ev)); err != nil {
				return err
			}
			seen++
			if opts.Count > 0 && seen >= opts.Count {
				return nil
			}
		}
	}
}

// selectEventTypes validates --type values. None means every push event.
func selectEventTypes(raw []string) ([]realtime.EventType, error) {
	if len(raw) == 0 {
		return realtime.DomainEvents, nil
	}
	types := make([]realtime.EventType, 0, len(raw))
	for _, s := range raw {
		typ := realtime.EventType(s)
		if !slices.Contains(realtime.DomainEvents, typ) {
			return nil, fmt.Errorf("unknown event type %q", s)
		}
		if !slices.Contains(types, typ) {
			types = append(types, typ)
		}
	}
	return types, nil
}
