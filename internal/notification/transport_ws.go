package notification

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
)

const (
	wsWriteWait      = 5 * time.Second
	wsMaxMessageSize = 1 << 20
)

// WebSocketTransport dials the notification server over a websocket.
type WebSocketTransport struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer // defaults to websocket.DefaultDialer settings
}

// NewWebSocketTransport returns a transport for url.
func NewWebSocketTransport(url string, handshakeTimeout time.Duration) *WebSocketTransport {
	return &WebSocketTransport{URL: url, HandshakeTimeout: handshakeTimeout}
}

// Name implements Transport.
func (t *WebSocketTransport) Name() string { return "websocket" }

// Dial implements Transport.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		if t.HandshakeTimeout > 0 {
			d.HandshakeTimeout = t.HandshakeTimeout
		}
		dialer = &d
	}

	ws, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		builder := errors.New(err).
			Component("notification").
			Category(errors.CategoryTransport).
			NetworkContext(t.URL, dialer.HandshakeTimeout).
			Context("url", logger.RedactURL(t.URL))
		if resp != nil {
			builder = builder.Context("status_code", resp.StatusCode)
		}
		return nil, builder.Build()
	}
	ws.SetReadLimit(wsMaxMessageSize)
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Read returns the next text or binary frame. Cancelling ctx closes the session.
func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
