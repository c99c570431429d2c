package connectivity

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// DefaultProbeInterval is how often a Prober checks reachability.
const DefaultProbeInterval = 15 * time.Second

// DialFunc opens a connection to address. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober stands in for the platform signal in a headless process: it
// dials a TCP address on an interval and reports the outcome to a Monitor.
type Prober struct {
	monitor  *Monitor
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	logger   *slog.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithInterval sets the probe interval. Default: DefaultProbeInterval.
func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithDialTimeout bounds each probe. Default: 5s.
func WithDialTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialFunc replaces the TCP dialer (used by tests).
func WithDialFunc(dial DialFunc) ProberOption {
	return func(p *Prober) {
		p.dial = dial
	}
}

// WithProberLogger sets the logger. Default: slog.Default().
func WithProberLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = l
	}
}

// NewProber creates a prober for address ("host:port").
func NewProber(m *Monitor, address string, opts ...ProberOption) *Prober {
	d := &net.Dialer{}
	p := &Prober{
		monitor:  m,
		address:  address,
		interval: DefaultProbeInterval,
		timeout:  5 * time.Second,
		dial:     d.DialContext,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe performs one check and reports it. Returns the observed reachability.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.address)
	if err != nil {
		p.logger.Debug("probe failed", "address", p.address, "error", err)
		p.monitor.set(Offline, ReasonProbe)
		return false
	}
	conn.Close()
	p.monitor.set(Online, ReasonProbe)
	return true
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.logger.Info("prober starting", "address", p.address, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prober stopping")
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
