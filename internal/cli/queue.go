package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay the offline write queue",
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueSyncCommand(rootOpts))
	cmd.AddCommand(newQueueDeadLettersCommand(rootOpts))

	return cmd
}

// QueueListing is the result of queue list.
type QueueListing struct {
	Pending []model.PendingRequest `json:"pending"`
}

// RenderText writes one line per request in replay order.
func (l QueueListing) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Pending requests: %d\n", len(l.Pending))
	for _, pr := range l.Pending {
		fmt.Fprintf(w, "#%d  seq=%d  %s %s  enqueued=%s\n",
			pr.ID, pr.Seq, pr.Request.Method, pr.Request.URL,
			pr.EnqueuedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued requests in replay order",
		Example: `  fieldsync queue list
  fieldsync queue list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.engine.GetPendingRequests(commandContext(cmd))
			if err != nil {
				return a.fail(CodeStorage, "failed to list queue", err)
			}
			return a.out.Success(QueueListing{Pending: pending})
		},
	}
}

// SyncReport is the result of queue sync.
type SyncReport struct {
	Online    bool   `json:"online"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	Replayed  int    `json:"replayed"`
	Rejected  int    `json:"rejected"`
	Failed    int    `json:"failed"`
	Aborted   bool   `json:"aborted"`
	Blocked   bool   `json:"blocked"`
	Remaining int    `json:"remaining"`
}

func newSyncReport(online bool, r engine.SyncResult) SyncReport {
	return SyncReport{
		Online:    online,
		Skipped:   r.Skipped,
		Reason:    r.SkipReason,
		Replayed:  r.Replayed,
		Rejected:  r.Rejected,
		Failed:    r.Failed,
		Aborted:   r.Aborted,
		Blocked:   r.Blocked,
		Remaining: r.Remaining,
	}
}

// RenderText writes a one-line summary.
func (r SyncReport) RenderText(w io.Writer) error {
	if r.Skipped {
		_, err := fmt.Fprintf(w, "Sync skipped (%s)\n", r.Reason)
		return err
	}
	_, err := fmt.Fprintf(w, "Replayed %d, rejected %d, failed %d, remaining %d",
		r.Replayed, r.Rejected, r.Failed, r.Remaining)
	if err != nil {
		return err
	}
	if r.Aborted {
		fmt.Fprint(w, " (aborted: connectivity lost)")
	}
	if r.Blocked {
		fmt.Fprint(w, " (blocked: head of queue kept)")
	}
	fmt.Fprintln(w)
	return nil
}

func newQueueSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued requests once",
		Long: `Replay every queued request in submission order.

Acknowledged requests are removed. Requests the server rejects are handled
by sync.rejection_policy (retain, dead-letter or drop). A connectivity
failure stops the pass and leaves the rest queued. So does a request that
stays queued under retain, so later requests never overtake it.

When sync.probe_address is set, reachability is probed first and the pass
is skipped if the address cannot be dialled.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			a.probe(ctx)

			result, err := a.engine.SyncPendingRequests(ctx)
			if err != nil {
				return a.fail(CodeStorage, "sync failed", err)
			}
			report := newSyncReport(a.engine.Online(), result)
			if err := a.out.Success(report); err != nil {
				return err
			}
			if report.Aborted {
				return NewExitError(ExitFailure, "sync aborted: connectivity lost")
			}
			return nil
		},
	}
}

// DeadLetterListing is the result of queue dead-letters.
type DeadLetterListing struct {
	DeadLetters []model.DeadLetter `json:"dead_letters"`
}

// RenderText writes one line per dead letter.
func (l DeadLetterListing) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Dead letters: %d\n", len(l.DeadLetters))
	for _, dl := range l.DeadLetters {
		fmt.Fprintf(w, "#%d  %s %s  status=%d  failed=%s",
			dl.ID, dl.Request.Method, dl.Request.URL, dl.Status,
			dl.FailedAt.UTC().Format(time.RFC3339))
		if dl.Reason != "" {
			fmt.Fprintf(w, "  reason=%q", dl.Reason)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func newQueueDeadLettersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dead-letters",
		Short:         "List requests the server rejected",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			dls, err := a.engine.DeadLetters(commandContext(cmd))
			if err != nil {
				return a.fail(CodeStorage, "failed to list dead letters", err)
			}
			return a.out.Success(DeadLetterListing{DeadLetters: dls})
		},
	}
}
