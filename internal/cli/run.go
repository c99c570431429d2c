package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/realtime"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	NoRealtime bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine until interrupted",
		Long: `Run the fieldsync background loop.

The queue is drained at start, every time connectivity is restored, and on
every sync.flush_interval tick. When sync.probe_address is set the address
is dialled every sync.probe_interval to detect connectivity changes.

When realtime.url is set the push feed is also opened, and task_update,
schedule_change and quality_score events are written to the local cache.

Example:
  fieldsync run --db ./fieldsync.db
  fieldsync run --no-realtime --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoRealtime, "no-realtime", false, "do not open the realtime push feed")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(commandContext(cmd), a.logger)
	defer stop()

	var wg sync.WaitGroup
	errs := make(chan error, 1)

	if a.prober != nil {
		a.prober.Probe(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.prober.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			errs <- err
		}
	}()

	var ch *realtime.Channel
	if !opts.NoRealtime && (a.cfg.Realtime.URL != "" || a.opts.Dialer != nil) {
		ch, err = a.channel()
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
		newCacheMirror(a.engine, a.logger).attach(ch)
		// A failed first dial is retried on the backoff schedule.
		if err := ch.Connect(ctx, a.cfg.Realtime.Identity, a.cfg.Token); err != nil {
			a.logger.Warn("realtime connect failed", "error", err)
		}
	}

	a.logger.Info("engine starting", "db", a.cfg.DB, "policy", a.cfg.Sync.RejectionPolicy)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync engine started. Waiting for connectivity changes...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		stop()
	}

	if ch != nil {
		ch.Disconnect()
	}
	wg.Wait()

	if runErr != nil {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}
	a.logger.Info("engine stopped gracefully")
	return nil
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
// stop releases the signal handler and cancels the context.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
