package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// ErrClosed is returned by Subscription.Next after Close.
var ErrClosed = errors.New("subscription closed")

// Monitor derives the online/offline state. Safe for concurrent use.
type Monitor struct {
	mu     sync.Mutex
	state  State
	subs   map[*Subscription]struct{}
	logger *slog.Logger
	now    func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithClock sets the time source used to stamp transitions.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.now = now
	}
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(initial State, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		state:  initial,
		subs:   make(map[*Subscription]struct{}),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the current state is Online.
func (m *Monitor) Online() bool {
	return m.State() == Online
}

// SetPlatformOnline applies the platform-reported signal.
func (m *Monitor) SetPlatformOnline(online bool) {
	to := Offline
	if online {
		to = Online
	}
	m.set(to, ReasonPlatform)
}

// ReportFailure downgrades to Offline if err is connectivity-class.
// Other errors are ignored. Returns true if err was connectivity-class.
func (m *Monitor) ReportFailure(err error) bool {
	if !model.IsConnectivity(err) {
		return false
	}
	m.logger.Debug("connectivity failure observed", "error", err)
	m.set(Offline, ReasonFailure)
	return true
}

// set changes state and notifies subscribers. No-op if unchanged.
func (m *Monitor) set(to State, reason string) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	t := Transition{From: from, To: to, Reason: reason, At: m.now()}
	for sub := range m.subs {
		sub.queue.Enqueue(t)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed",
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)
}

// Subscribe registers for transitions that happen after the call.
func (m *Monitor) Subscribe() *Subscription {
	sub := &Subscription{monitor: m, queue: newTransitionQueue()}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	return sub
}

func (m *Monitor) unsubscribe(sub *Subscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
}

// Subscription is one ordered stream of transitions.
type Subscription struct {
	monitor *Monitor
	queue   *transitionQueue
	once    sync.Once
}

// Next blocks until the next transition, ctx is done, or the
// subscription is closed. Transitions queued before Close are still
// delivered.
func (s *Subscription) Next(ctx context.Context) (Transition, error) {
	for {
		if t, ok := s.queue.TryDequeue(); ok {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return Transition{}, ctx.Err()
		case _, ok := <-s.queue.Wait():
			if !ok && s.queue.Len() == 0 {
				return Transition{}, ErrClosed
			}
		}
	}
}

// Pending returns the number of undelivered transitions.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

// Close detaches the subscription from the monitor. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.monitor.unsubscribe(s)
		s.queue.Close()
	})
}
