package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"golang.org/x/net/http2"

	"github.com/roach88/fieldsync/internal/model"
)

// DefaultTimeout bounds a single request including reading the body.
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps how much of a response body is buffered.
const maxBodyBytes = 4 << 20

// HTTPTransport executes requests with net/http. HTTP/2 is negotiated
// over TLS when the server offers it.
type HTTPTransport struct {
	client *http.Client
	logger *slog.Logger
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithTimeout sets the per-request timeout. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.client.Timeout = d
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = l
	}
}

// NewHTTP creates a transport backed by a clone of http.DefaultTransport
// configured for HTTP/2.
func NewHTTP(opts ...Option) (*HTTPTransport, error) {
	rt := http.DefaultTransport.(*http.Transport).Clone()
	if err := http2.ConfigureTransport(rt); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}

	t := &HTTPTransport{
		client: &http.Client{Transport: rt, Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Do sends req and returns the server's response.
func (t *HTTPTransport) Do(ctx context.Context, req model.Request) (*model.Response, error) {
	req = req.Normalize()
	op := req.Method + " " + req.URL

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classify(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		// The status line arrived but the body did not: the link dropped
		// mid-response, so the outcome is unknown.
		return nil, &model.ConnectivityError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	t.logger.Debug("http request",
		"method", req.Method,
		"url", req.URL,
		"status", resp.StatusCode,
		"proto", resp.Proto,
		"duration", time.Since(start),
	)

	return &model.Response{
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Body:    data,
	}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// classify wraps err as a ConnectivityError when it means the server
// could not be reached. Caller cancellation is not a connectivity failure.
func classify(op string, err error) error {
	if IsConnectivityFailure(err) {
		return &model.ConnectivityError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsConnectivityFailure reports whether err indicates an unreachable
// network rather than a request the caller abandoned or built wrong.
func IsConnectivityFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		err = urlErr.Err
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
