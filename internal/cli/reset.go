package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/store"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Partition string
	Yes       bool
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the local database",
		Long: `Delete every cached task, quality score, queued request and dead letter.

Queued requests that have not been replayed are lost. Use --partition to
clear a single collection: tasks, qualityScores, pendingRequests or
deadLetters.`,
		Example: `  fieldsync reset --yes
  fieldsync reset --partition deadLetters --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Partition, "partition", "", "clear only this partition")
	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm deletion")

	return cmd
}

func runReset(opts *ResetOptions, cmd *cobra.Command) error {
	if !opts.Yes {
		out := newFormatter(opts.RootOptions, cmd)
		_ = out.Error(CodeInput, "refusing to clear the database without --yes", nil)
		return NewExitError(ExitCommandError, "refusing to clear the database without --yes")
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	if opts.Partition == "" {
		if err := a.engine.ClearDatabase(ctx); err != nil {
			return a.fail(CodeStorage, "failed to clear database", err)
		}
		return a.out.Success("Local database cleared")
	}

	if err := a.store.ClearPartition(ctx, store.Partition(opts.Partition)); err != nil {
		return a.fail(CodeStorage, fmt.Sprintf("failed to clear %s", opts.Partition), err)
	}
	return a.out.Success(fmt.Sprintf("Cleared %s", opts.Partition))
}
