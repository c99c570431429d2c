package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/fieldsync/internal/realtime"
)

// ErrDialRefused is returned by FakeDialer for scripted failures.
var ErrDialRefused = errors.New("fake dial refused")

// ErrConnClosed is returned by FakeConn after Close.
var ErrConnClosed = errors.New("fake conn closed")

// FakeDialer is an in-memory realtime.Dialer.
//
// Dials succeed unless FailNext or FailAlways says otherwise. A gate set
// with SetGate holds every Dial until it is closed, so tests can overlap
// two Connect calls. Implements realtime.Dialer.
type FakeDialer struct {
	mu         sync.Mutex
	failNext   int
	failAlways bool
	gate       <-chan struct{}
	dials      int
	conns      []*FakeConn
	identities []string
	entered    chan struct{}
}

// NewFakeDialer creates a dialer whose dials succeed.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{entered: make(chan struct{}, 64)}
}

// FailNext makes the next n dials fail.
func (d *FakeDialer) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// FailAlways makes every dial fail until called with false.
func (d *FakeDialer) FailAlways(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAlways = fail
}

// SetGate holds every Dial until gate is closed.
func (d *FakeDialer) SetGate(gate <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = gate
}

// Entered fires once per Dial call, before the gate.
func (d *FakeDialer) Entered() <-chan struct{} {
	return d.entered
}

// Dial records the attempt and returns a new FakeConn or a scripted error.
func (d *FakeDialer) Dial(ctx context.Context, identity, credential string) (realtime.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.identities = append(d.identities, identity)
	gate := d.gate
	fail := d.failAlways || d.failNext > 0
	if d.failNext > 0 {
		d.failNext--
	}
	d.mu.Unlock()

	select {
	case d.entered <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, ErrDialRefused
	}

	conn := NewFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// Dials returns how many times Dial was called.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns every connection handed out, oldest first.
func (d *FakeDialer) Conns() []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Last returns the newest connection, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Identities returns the identity passed to each Dial.
func (d *FakeDialer) Identities() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.identities))
	copy(out, d.identities)
	return out
}

// FakeConn is an in-memory realtime.Conn.
type FakeConn struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
	dropErr error
	reason  string
}

// NewFakeConn creates an open connection.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// Deliver queues an inbound frame for Read.
func (c *FakeConn) Deliver(frame []byte) {
	c.inbound <- frame
}

// Drop simulates the server side failing: Read returns err.
func (c *FakeConn) Drop(err error) {
	c.mu.Lock()
	c.dropErr = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

// Read returns the next delivered frame.
func (c *FakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.dropErr != nil {
			return nil, c.dropErr
		}
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write records an outbound frame.
func (c *FakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

// Close closes the connection and records the reason.
func (c *FakeConn) Close(reason string) error {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

// Written returns every frame written, oldest first.
func (c *FakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// Closed reports whether Close or Drop was called.
func (c *FakeConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// CloseReason returns the reason passed to the first Close.
func (c *FakeConn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
