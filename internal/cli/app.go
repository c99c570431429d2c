package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/realtime"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/transport"
)

// app is everything a command needs, built from flags and config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     *OutputFormatter
	store   *store.Store
	monitor *connectivity.Monitor
	prober  *connectivity.Prober // nil without sync.probe_address
	engine  *engine.Engine
	opts    *RootOptions
}

// openApp loads config, opens the database and wires the engine.
// The caller must call Close.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	out := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = out.Error(CodeConfig, "failed to load config", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DB = opts.Database
	}

	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	policy, err := engine.ParseRejectionPolicy(cfg.Sync.RejectionPolicy)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid rejection policy", err)
	}

	logger.Debug("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB)
	if err != nil {
		_ = out.Error(CodeStorage, "failed to open database", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	t := opts.Transport
	if t == nil {
		ht, err := transport.NewHTTP(
			transport.WithTimeout(cfg.API.Timeout.Std()),
			transport.WithLogger(logger),
		)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to create transport", err)
		}
		t = ht
	}

	monitorOpts := []connectivity.MonitorOption{connectivity.WithLogger(logger)}
	if opts.Now != nil {
		monitorOpts = append(monitorOpts, connectivity.WithClock(opts.Now))
	}
	monitor := connectivity.NewMonitor(connectivity.Online, monitorOpts...)

	var prober *connectivity.Prober
	if cfg.Sync.ProbeAddress != "" {
		prober = connectivity.NewProber(monitor, cfg.Sync.ProbeAddress,
			connectivity.WithInterval(cfg.Sync.ProbeInterval.Std()),
			connectivity.WithProberLogger(logger),
		)
	}

	engineOpts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithRejectionPolicy(policy),
		engine.WithFlushInterval(cfg.Sync.FlushInterval.Std()),
	}
	if opts.Now != nil {
		engineOpts = append(engineOpts, engine.WithClock(opts.Now))
	}
	if opts.Keys != nil {
		engineOpts = append(engineOpts, engine.WithKeyGenerator(opts.Keys))
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		store:   st,
		monitor: monitor,
		prober:  prober,
		engine:  engine.New(st, t, monitor, engineOpts...),
		opts:    opts,
	}, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// probe runs one reachability check when a probe address is configured.
func (a *app) probe(ctx context.Context) {
	if a.prober != nil {
		a.prober.Probe(ctx)
	}
}

// channel builds a realtime channel from config. It is not connected.
func (a *app) channel() (*realtime.Channel, error) {
	d := a.opts.Dialer
	if d == nil {
		if a.cfg.Realtime.URL == "" {
			err := errors.New("realtime.url is not set")
			_ = a.out.Error(CodeConfig, "no realtime endpoint configured", err.Error())
			return nil, WrapExitError(ExitCommandError, "no realtime endpoint configured", err)
		}
		d = realtime.NewWebSocketDialer(a.cfg.Realtime.URL)
	}

	chOpts := []realtime.ChannelOption{
		realtime.WithLogger(a.logger),
		realtime.WithBackoff(realtime.Backoff{
			BaseDelay:   a.cfg.Realtime.BaseDelay.Std(),
			MaxAttempts: a.cfg.Realtime.MaxAttempts,
		}),
		realtime.WithDialTimeout(a.cfg.Realtime.DialTimeout.Std()),
	}
	if a.opts.Now != nil {
		chOpts = append(chOpts, realtime.WithClock(a.opts.Now))
	}
	return realtime.NewChannel(d, chOpts...), nil
}

// resolveURL joins a path-only target onto api.base_url.
func (a *app) resolveURL(target string) string {
	if strings.HasPrefix(target, "/") && a.cfg.API.BaseURL != "" {
		return strings.TrimRight(a.cfg.API.BaseURL, "/") + target
	}
	return target
}

// now reads the test clock when set.
func (a *app) now() time.Time {
	if a.opts.Now != nil {
		return a.opts.Now()
	}
	return time.Now()
}

// fail reports err on the formatter and wraps it with ExitFailure.
func (a *app) fail(code, message string, err error) error {
	_ = a.out.Error(code, message, err.Error())
	return WrapExitError(ExitFailure, message, err)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger builds the slog handler from log settings. --verbose forces
// debug.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseHeaders turns "Key: value" flags into a map.
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q: want \"Key: value\"", h)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}
