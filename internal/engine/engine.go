package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

// Transport sends a request to the backend.
//
// A non-nil *model.Response means the server answered, whatever the status.
// A connectivity-class failure must be returned as (or wrap) a
// *model.ConnectivityError. Implemented by transport.HTTPTransport
// (production) and testutil.FakeBackend (tests).
type Transport interface {
	Do(ctx context.Context, req model.Request) (*model.Response, error)
}

// KeyGenerator generates correlation keys for queued requests.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type KeyGenerator interface {
	Generate() string
}

// Engine is the offline-aware sync engine.
//
// Thread-safety model:
//   - every method is safe from any goroutine
//   - SyncPendingRequests is single-flight: concurrent calls skip
//   - Run should be called from at most one goroutine
type Engine struct {
	store     *store.Store
	transport Transport
	monitor   *connectivity.Monitor

	logger        *slog.Logger
	now           func() time.Time
	keys          KeyGenerator
	policy        RejectionPolicy
	onRejected    RejectionHook
	flushInterval time.Duration

	syncing atomic.Bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets the time source for enqueue and dead-letter timestamps.
// Default: time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithKeyGenerator sets the request key generator. Default: UUIDv7Generator.
func WithKeyGenerator(g KeyGenerator) EngineOption {
	return func(e *Engine) {
		e.keys = g
	}
}

// WithRejectionPolicy sets how rejected replays are handled.
// Default: PolicyRetain.
func WithRejectionPolicy(p RejectionPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithRejectionHook registers a callback for rejected replays.
func WithRejectionHook(h RejectionHook) EngineOption {
	return func(e *Engine) {
		e.onRejected = h
	}
}

// WithFlushInterval makes Run re-drain a non-empty queue on this interval
// while online. Zero (the default) drains only on online transitions.
func WithFlushInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.flushInterval = d
	}
}

// New creates an Engine over the given store, transport and monitor.
func New(s *store.Store, t Transport, m *connectivity.Monitor, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     s,
		transport: t,
		monitor:   m,
		logger:    slog.Default(),
		now:       time.Now,
		keys:      UUIDv7Generator{},
		policy:    DefaultRejectionPolicy,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Online reports the monitor's current state.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// SyncInProgress reports whether a drain pass is running.
func (e *Engine) SyncInProgress() bool {
	return e.syncing.Load()
}

// SaveTask caches a task snapshot, replacing any previous copy.
func (e *Engine) SaveTask(ctx context.Context, t model.Task) error {
	return e.store.PutTask(ctx, t)
}

// GetTask reads a cached task. The error wraps store.ErrNotFound if absent.
func (e *Engine) GetTask(ctx context.Context, id string) (model.Task, error) {
	return e.store.GetTask(ctx, id)
}

// GetAllTasks reads every cached task.
func (e *Engine) GetAllTasks(ctx context.Context) ([]model.Task, error) {
	return e.store.ListTasks(ctx)
}

// SaveQualityScore caches a quality score snapshot.
func (e *Engine) SaveQualityScore(ctx context.Context, q model.QualityScore) error {
	return e.store.PutQualityScore(ctx, q)
}

// GetAllQualityScores reads every cached quality score.
func (e *Engine) GetAllQualityScores(ctx context.Context) ([]model.QualityScore, error) {
	return e.store.ListQualityScores(ctx)
}

// AddPendingRequest queues req for later replay. It fails only if the
// store does.
func (e *Engine) AddPendingRequest(ctx context.Context, req model.Request) (model.PendingRequest, error) {
	req = req.Normalize()
	pr, err := e.store.EnqueueRequest(ctx, req, e.keys.Generate(), e.now())
	if err != nil {
		return model.PendingRequest{}, fmt.Errorf("add pending request: %w", err)
	}

	e.logger.Info("request queued",
		"request_id", pr.ID,
		"seq", pr.Seq,
		"key", pr.Key,
		"method", req.Method,
		"url", req.URL,
	)
	return pr, nil
}

// GetPendingRequests returns the queue in replay order.
func (e *Engine) GetPendingRequests(ctx context.Context) ([]model.PendingRequest, error) {
	return e.store.ListPendingRequests(ctx)
}

// RemovePendingRequest deletes one queued request.
func (e *Engine) RemovePendingRequest(ctx context.Context, id int64) error {
	return e.store.DeletePendingRequest(ctx, id)
}

// DeadLetters returns requests moved aside by PolicyDeadLetter.
func (e *Engine) DeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	return e.store.ListDeadLetters(ctx)
}

// ClearDatabase deletes every cached snapshot and queued request.
func (e *Engine) ClearDatabase(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		return err
	}
	e.logger.Info("local database cleared")
	return nil
}

// offlineAck is the body of the synthesised response for a queued request.
type offlineAck struct {
	Success   bool   `json:"success"`
	Offline   bool   `json:"offline"`
	Message   string `json:"message"`
	PendingID int64  `json:"pending_id"`
}

// FetchWithOfflineSupport sends req if online and queues it otherwise.
//
// Online, the server's response is returned as is, including non-2xx
// statuses: an HTTP error is never queued. If the send fails with a
// connectivity-class error the monitor is downgraded and the request is
// queued. Offline, the network is not touched.
//
// A queued request yields a synthesised 202 response with Queued set.
// Any other transport error is returned.
func (e *Engine) FetchWithOfflineSupport(ctx context.Context, req model.Request) (*model.Response, error) {
	req = req.Normalize()

	if !e.monitor.Online() {
		return e.queue(ctx, req)
	}

	resp, err := e.transport.Do(ctx, req)
	if err != nil {
		if e.monitor.ReportFailure(err) {
			e.logger.Info("send failed, falling back to queue",
				"method", req.Method,
				"url", req.URL,
				"error", err,
			)
			return e.queue(ctx, req)
		}
		return nil, fmt.Errorf("fetch %s %s: %w", req.Method, req.URL, err)
	}
	return resp, nil
}

func (e *Engine) queue(ctx context.Context, req model.Request) (*model.Response, error) {
	pr, err := e.AddPendingRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(offlineAck{
		Success:   true,
		Offline:   true,
		Message:   "request queued for sync",
		PendingID: pr.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal offline ack: %w", err)
	}

	return &model.Response{
		Status:    http.StatusAccepted,
		Headers:   map[string]string{"Content-Type": "application/json"},
		Body:      body,
		Queued:    true,
		PendingID: pr.ID,
	}, nil
}

// Skip reasons reported in SyncResult.
const (
	SkipOffline    = "offline"
	SkipInProgress = "in_progress"
)

// SyncResult summarises one call to SyncPendingRequests.
type SyncResult struct {
	// Skipped is set when no pass ran; SkipReason says why.
	Skipped    bool
	SkipReason string

	Replayed int // acknowledged with 2xx and removed
	Rejected int // answered non-2xx; handled by the rejection policy
	Failed   int // other transport errors; kept for the next pass

	// Aborted is set when a connectivity failure stopped the pass early.
	Aborted bool

	// Blocked is set when the head of the queue had to stay queued and
	// the pass stopped so later requests are not replayed ahead of it.
	Blocked bool

	// Remaining is the queue length when the pass ended.
	Remaining int
}

// SyncPendingRequests drains the queue once.
//
// It is a no-op when offline or when another pass is running. Otherwise
// every queued request is replayed in seq order, one at a time:
//   - 2xx: removed, continue
//   - non-2xx: rejection policy applied; continue if the request left
//     the queue, otherwise the pass is blocked
//   - connectivity failure: monitor downgraded, pass aborted, the
//     request and everything after it stay queued
//   - other transport error: logged and kept, pass blocked
//
// The pass ignores cancellation of ctx once started. A store failure
// aborts it and is returned as a *ReplayError.
func (e *Engine) SyncPendingRequests(ctx context.Context) (SyncResult, error) {
	if !e.monitor.Online() {
		return SyncResult{Skipped: true, SkipReason: SkipOffline}, nil
	}
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Debug("sync already in progress, skipping")
		return SyncResult{Skipped: true, SkipReason: SkipInProgress}, nil
	}
	defer e.syncing.Store(false)

	ctx = context.WithoutCancel(ctx)

	pending, err := e.store.ListPendingRequests(ctx)
	if err != nil {
		return SyncResult{}, &ReplayError{Code: ErrCodeLoadQueue, Err: err}
	}
	if len(pending) == 0 {
		return SyncResult{}, nil
	}

	e.logger.Info("sync starting", "pending", len(pending))

	var result SyncResult
	for _, pr := range pending {
		resp, err := e.transport.Do(ctx, pr.Request)
		if err != nil {
			if e.monitor.ReportFailure(err) {
				e.logger.Warn("sync aborted: connectivity lost",
					"request_id", pr.ID,
					"seq", pr.Seq,
					"error", err,
				)
				result.Aborted = true
				break
			}
			e.logger.Error("replay failed, keeping request",
				"request_id", pr.ID,
				"seq", pr.Seq,
				"error", err,
			)
			result.Failed++
			result.Blocked = true
			break
		}

		if resp.OK() {
			if err := e.store.DeletePendingRequest(ctx, pr.ID); err != nil {
				return result, &ReplayError{Code: ErrCodeRemove, RequestID: pr.ID, Err: err}
			}
			e.logger.Debug("replayed",
				"request_id", pr.ID,
				"seq", pr.Seq,
				"status", resp.Status,
			)
			result.Replayed++
			continue
		}

		rej := &model.ServerRejectionError{
			RequestID: pr.ID,
			Method:    pr.Request.Method,
			URL:       pr.Request.URL,
			Status:    resp.Status,
			Body:      rejectionReason(resp.Body),
		}
		result.Rejected++
		if err := e.reject(ctx, pr, rej); err != nil {
			return result, err
		}
		if e.policy == PolicyRetain {
			e.logger.Warn("sync blocked: rejected request retained at head of queue",
				"request_id", pr.ID,
				"seq", pr.Seq,
			)
			result.Blocked = true
			break
		}
	}

	remaining, err := e.store.CountPendingRequests(ctx)
	if err != nil {
		return result, &ReplayError{Code: ErrCodeLoadQueue, Err: err}
	}
	result.Remaining = remaining

	e.logger.Info("sync finished",
		"replayed", result.Replayed,
		"rejected", result.Rejected,
		"failed", result.Failed,
		"aborted", result.Aborted,
		"blocked", result.Blocked,
		"remaining", result.Remaining,
	)
	return result, nil
}

// Run drains the queue whenever the monitor goes online.
// Blocks until ctx is cancelled.
//
// A drain also runs at start if already online, and on every flush
// interval tick while online with a non-empty queue. Drain failures are
// logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync engine starting",
		"policy", string(e.policy),
		"flush_interval", e.flushInterval,
	)

	// Subscribe before the first check so no transition is missed.
	sub := e.monitor.Subscribe()
	defer sub.Close()

	transitions := make(chan connectivity.Transition)
	go func() {
		defer close(transitions)
		for {
			t, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case transitions <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	var tick <-chan time.Time
	if e.flushInterval > 0 {
		ticker := time.NewTicker(e.flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if e.monitor.Online() {
		e.drain(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopping: context cancelled")
			return ctx.Err()

		case t, ok := <-transitions:
			if !ok {
				return ctx.Err()
			}
			if t.To == connectivity.Online {
				e.drain(ctx, "online")
			}

		case <-tick:
			if !e.monitor.Online() {
				continue
			}
			n, err := e.store.CountPendingRequests(ctx)
			if err != nil {
				e.logger.Error("count pending requests", "error", err)
				continue
			}
			if n > 0 {
				e.drain(ctx, "flush")
			}
		}
	}
}

func (e *Engine) drain(ctx context.Context, trigger string) {
	result, err := e.SyncPendingRequests(ctx)
	if err != nil {
		e.logger.Error("sync failed", "trigger", trigger, "error", err)
		return
	}
	if result.Skipped {
		e.logger.Debug("sync skipped", "trigger", trigger, "reason", result.SkipReason)
	}
}
