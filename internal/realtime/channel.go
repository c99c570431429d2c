package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotConnected is returned by Send when the channel is not Connected.
var ErrNotConnected = errors.New("realtime channel not connected")

// DisconnectReasonClient is the disconnect reason for an explicit Disconnect.
const DisconnectReasonClient = "client disconnected"

// Conn is one open push connection. Read blocks until a frame arrives or
// the connection fails. Write may be called concurrently with Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Dialer opens push connections. Implemented by WebSocketDialer
// (production) and testutil.FakeDialer (tests).
type Dialer interface {
	Dial(ctx context.Context, identity, credential string) (Conn, error)
}

// State is the channel's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Channel maintains one logical push connection.
//
// All state lives under mu. gen is bumped by Connect and Disconnect; a
// dial result, reconnect timer or reader that carries an older gen is
// stale and discarded.
type Channel struct {
	dialer      Dialer
	bus         *Bus
	logger      *slog.Logger
	now         func() time.Time
	backoff     Backoff
	dialTimeout time.Duration

	mu         sync.Mutex
	state      State
	gen        uint64
	attempts   int
	identity   string
	credential string
	conn       Conn
	timer      *time.Timer
	stopRead   context.CancelFunc

	writeMu sync.Mutex

	protocolErrors atomic.Int64
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) {
		c.logger = l
	}
}

// WithBackoff sets the reconnect schedule. Default: DefaultBackoff().
func WithBackoff(b Backoff) ChannelOption {
	return func(c *Channel) {
		c.backoff = b
	}
}

// WithDialTimeout bounds each dial. Default: 10s.
func WithDialTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		c.dialTimeout = d
	}
}

// WithClock sets the time source for outbound envelope timestamps.
func WithClock(now func() time.Time) ChannelOption {
	return func(c *Channel) {
		c.now = now
	}
}

// WithBus shares an existing bus instead of creating one.
func WithBus(b *Bus) ChannelOption {
	return func(c *Channel) {
		c.bus = b
	}
}

// NewChannel creates a Disconnected channel.
func NewChannel(d Dialer, opts ...ChannelOption) *Channel {
	c := &Channel{
		dialer:      d,
		logger:      slog.Default(),
		now:         time.Now,
		backoff:     DefaultBackoff(),
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = NewBus(c.logger)
	}
	return c
}

// Bus returns the channel's handler registry.
func (c *Channel) Bus() *Bus {
	return c.bus
}

// On registers h for typ on the channel's bus.
func (c *Channel) On(typ EventType, h Handler) Subscription {
	return c.bus.On(typ, h)
}

// Off removes a handler registered with On.
func (c *Channel) Off(sub Subscription) {
	c.bus.Off(sub)
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the state is Connected.
func (c *Channel) IsConnected() bool {
	return c.State() == Connected
}

// Attempts returns the number of reconnects since the last success or
// explicit Connect.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// ProtocolErrors returns how many malformed frames were discarded.
func (c *Channel) ProtocolErrors() int64 {
	return c.protocolErrors.Load()
}

// Connect opens the channel. It is a no-op returning nil while the
// channel is Connecting or Connected, so concurrent calls yield one
// connection.
//
// An explicit Connect resets the reconnect budget. If the dial fails a
// reconnect is scheduled and the dial error is returned.
func (c *Channel) Connect(ctx context.Context, identity, credential string) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.attempts = 0
	c.identity = identity
	c.credential = credential
	c.state = Connecting
	gen := c.gen
	c.mu.Unlock()

	c.logger.Info("realtime connecting", "identity", identity)
	return c.dial(ctx, gen)
}

// dial runs one connection attempt for gen. The caller has already moved
// the state to Connecting.
func (c *Channel) dial(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	identity, credential := c.identity, c.credential
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, err := c.dialer.Dial(dctx, identity, credential)
	cancel()

	c.mu.Lock()
	if c.gen != gen || c.state != Connecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close("superseded")
		}
		return nil
	}

	if err != nil {
		c.state = Disconnected
		scheduled, delay := c.scheduleReconnectLocked(gen)
		attempts := c.attempts
		c.mu.Unlock()

		if scheduled {
			c.logger.Warn("realtime dial failed, reconnect scheduled",
				"attempt", attempts,
				"delay", delay,
				"error", err,
			)
		} else {
			c.logger.Error("realtime dial failed, giving up",
				"attempts", attempts,
				"error", err,
			)
		}
		return fmt.Errorf("dial realtime: %w", err)
	}

	c.state = Connected
	c.conn = conn
	c.attempts = 0
	readCtx, stopRead := context.WithCancel(context.Background())
	c.stopRead = stopRead
	c.mu.Unlock()

	c.logger.Info("realtime connected", "identity", identity)
	c.emitLifecycle(EventConnect, ConnectInfo{UserID: identity})

	go c.readLoop(readCtx, gen, conn)
	return nil
}

// scheduleReconnectLocked arms the reconnect timer unless the budget is
// spent. Must hold c.mu.
func (c *Channel) scheduleReconnectLocked(gen uint64) (bool, time.Duration) {
	if c.backoff.Exhausted(c.attempts) {
		return false, 0
	}
	delay := c.backoff.Delay(c.attempts)
	c.timer = time.AfterFunc(delay, func() { c.retry(gen) })
	return true, delay
}

func (c *Channel) retry(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.attempts++
	c.state = Connecting
	c.mu.Unlock()

	// Errors are logged by dial; the next attempt is already scheduled.
	_ = c.dial(context.Background(), gen)
}

func (c *Channel) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.handleDrop(gen, err)
			return
		}
		c.dispatch(data)
	}
}

// handleDrop moves a Connected channel to Disconnected after a read
// failure and starts the reconnect cycle.
func (c *Channel) handleDrop(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.state != Connected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	if c.stopRead != nil {
		c.stopRead()
		c.stopRead = nil
	}
	c.state = Disconnected
	scheduled, delay := c.scheduleReconnectLocked(gen)
	c.mu.Unlock()

	conn.Close("read failed")
	c.logger.Warn("realtime connection dropped",
		"error", cause,
		"reconnect", scheduled,
		"delay", delay,
	)
	c.emitLifecycle(EventDisconnect, DisconnectInfo{Reason: cause.Error()})
}

// Disconnect closes the channel and cancels any scheduled reconnect.
// Listeners get EventDisconnect if the channel was Connected. Safe to
// call when already disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	wasConnected := c.state == Connected
	conn := c.conn
	c.conn = nil
	stopRead := c.stopRead
	c.stopRead = nil
	c.state = Disconnected
	c.mu.Unlock()

	if stopRead != nil {
		stopRead()
	}
	if conn != nil {
		conn.Close(DisconnectReasonClient)
	}
	if wasConnected {
		c.logger.Info("realtime disconnected")
		c.emitLifecycle(EventDisconnect, DisconnectInfo{Reason: DisconnectReasonClient})
	}
}

// Send writes an envelope of typ carrying payload. Returns
// ErrNotConnected unless the channel is Connected.
func (c *Channel) Send(ctx context.Context, typ EventType, payload any) error {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	sender := c.identity
	c.mu.Unlock()

	frame, err := EncodeEnvelope(typ, payload, sender, c.now())
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.Write(ctx, frame); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// dispatch decodes one inbound frame and emits it, first to handlers of
// its type and then to EventMessage handlers.
func (c *Channel) dispatch(raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		c.protocolErrors.Add(1)
		c.logger.Warn("discarding malformed realtime frame", "error", err, "bytes", len(raw))
		return
	}

	ev := Event{
		Type:      env.Type,
		Data:      env.Data,
		SenderID:  env.SenderID,
		Timestamp: env.Timestamp,
	}
	c.bus.Emit(ev)

	whole, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.bus.Emit(Event{
		Type:      EventMessage,
		Data:      whole,
		SenderID:  env.SenderID,
		Timestamp: env.Timestamp,
	})
}

func (c *Channel) emitLifecycle(typ EventType, info any) {
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	c.bus.Emit(Event{Type: typ, Data: data, Timestamp: c.now().UTC()})
}
