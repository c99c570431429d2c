package engine

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/roach88/fieldsync/internal/model"
)

// RejectionPolicy decides what happens to a queued request the server
// answered with a non-2xx status during replay.
type RejectionPolicy string

const (
	// PolicyRetain leaves the request queued and stops the pass, so
	// nothing behind it is replayed first. It is retried at the head of
	// the next pass; a request is only ever removed once it was applied.
	PolicyRetain RejectionPolicy = "retain"

	// PolicyDeadLetter moves the request to the dead-letter partition.
	PolicyDeadLetter RejectionPolicy = "dead-letter"

	// PolicyDrop deletes the request.
	PolicyDrop RejectionPolicy = "drop"
)

// DefaultRejectionPolicy is PolicyRetain.
const DefaultRejectionPolicy = PolicyRetain

// ParseRejectionPolicy validates a policy name. Empty means the default.
func ParseRejectionPolicy(s string) (RejectionPolicy, error) {
	switch p := RejectionPolicy(s); p {
	case "":
		return DefaultRejectionPolicy, nil
	case PolicyRetain, PolicyDeadLetter, PolicyDrop:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// RejectionHook is called for every rejected replay, after the policy
// has been applied. It runs on the draining goroutine.
type RejectionHook func(ctx context.Context, pr model.PendingRequest, rej *model.ServerRejectionError)

// maxReasonBytes caps how much of a rejection body is kept as the reason.
const maxReasonBytes = 512

// rejectionReason truncates body to maxReasonBytes on a rune boundary.
func rejectionReason(body []byte) string {
	if len(body) <= maxReasonBytes {
		return string(body)
	}
	n := maxReasonBytes
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return string(body[:n])
}

// reject applies the policy to one rejected request.
func (e *Engine) reject(ctx context.Context, pr model.PendingRequest, rej *model.ServerRejectionError) error {
	e.logger.Warn("replay rejected by server",
		"request_id", pr.ID,
		"seq", pr.Seq,
		"key", pr.Key,
		"method", pr.Request.Method,
		"url", pr.Request.URL,
		"status", rej.Status,
		"policy", string(e.policy),
	)

	switch e.policy {
	case PolicyDeadLetter:
		if err := e.store.MoveToDeadLetter(ctx, pr, rej.Status, rej.Body, e.now()); err != nil {
			return &ReplayError{Code: ErrCodeReject, RequestID: pr.ID, Err: err}
		}
	case PolicyDrop:
		if err := e.store.DeletePendingRequest(ctx, pr.ID); err != nil {
			return &ReplayError{Code: ErrCodeReject, RequestID: pr.ID, Err: err}
		}
	}

	if e.onRejected != nil {
		e.onRejected(ctx, pr, rej)
	}
	return nil
}
