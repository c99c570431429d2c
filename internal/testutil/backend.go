package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/fieldsync/internal/model"
)

// Reply is one scripted backend outcome. A non-nil Err is returned
// instead of a response.
type Reply struct {
	Status int
	Body   string
	Err    error
}

// OK is a 200 reply with a small JSON body.
var OK = Reply{Status: 200, Body: `{"ok":true}`}

// Unreachable is a connectivity-class failure.
var Unreachable = Reply{Err: errors.New("connection refused")}

// FakeBackend is an in-memory transport for tests.
//
// Replies pushed with Push are consumed in order; once exhausted every
// call gets the default reply (OK unless changed with SetDefault). Every
// call is recorded, including failed ones. Implements engine.Transport.
type FakeBackend struct {
	mu       sync.Mutex
	script   []Reply
	fallback Reply
	requests []model.Request
	hook     func(req model.Request)
}

// NewFakeBackend creates a backend that answers OK.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{fallback: OK}
}

// Push appends scripted replies.
func (b *FakeBackend) Push(replies ...Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, replies...)
}

// SetDefault sets the reply used once the script is exhausted.
func (b *FakeBackend) SetDefault(r Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = r
}

// SetHook installs a function called at the start of every Do, outside
// the lock. Tests use it to block a replay mid-flight.
func (b *FakeBackend) SetHook(hook func(req model.Request)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
}

// Do records req and returns the next scripted reply.
func (b *FakeBackend) Do(ctx context.Context, req model.Request) (*model.Response, error) {
	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()
	if hook != nil {
		hook(req)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, req)

	r := b.fallback
	if len(b.script) > 0 {
		r = b.script[0]
		b.script = b.script[1:]
	}

	if r.Err != nil {
		if r.Err == Unreachable.Err {
			return nil, &model.ConnectivityError{Op: req.Method + " " + req.URL, Err: r.Err}
		}
		return nil, r.Err
	}
	return &model.Response{Status: r.Status, Body: []byte(r.Body)}, nil
}

// Requests returns every request received, in arrival order.
func (b *FakeBackend) Requests() []model.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// URLs returns the URL of every request received, in arrival order.
func (b *FakeBackend) URLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.requests))
	for i, r := range b.requests {
		out[i] = r.URL
	}
	return out
}

// Calls returns how many requests were received.
func (b *FakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}
