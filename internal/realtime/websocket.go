package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// IdentityHeader carries the connecting user's identity on the upgrade
// request.
const IdentityHeader = "X-Fieldsync-User"

// DefaultReadLimit caps inbound frame size.
const DefaultReadLimit = 1 << 20

// WebSocketDialer dials the push endpoint with github.com/coder/websocket.
// The credential is sent as a bearer token.
type WebSocketDialer struct {
	URL        string
	HTTPClient *http.Client
	ReadLimit  int64
}

// NewWebSocketDialer creates a dialer for url (ws:// or wss://).
func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{URL: url, ReadLimit: DefaultReadLimit}
}

// Dial opens a connection.
func (d *WebSocketDialer) Dial(ctx context.Context, identity, credential string) (Conn, error) {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	if identity != "" {
		header.Set(IdentityHeader, identity)
	}

	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	return &wsConn{conn: conn}, nil
}

// wsConn adapts *websocket.Conn to Conn using text frames.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
