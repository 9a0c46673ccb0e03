package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// DefaultBaseURL is the Gemini Live WebSocket root.
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// DefaultAPIVersion selects the BidiGenerateContent service version.
	DefaultAPIVersion = "v1alpha"

	// DefaultModel is the native-audio model used when none is configured.
	DefaultModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"

	defaultReadLimit  = 16 << 20
	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// Conn is one open bidirectional session stream.
type Conn interface {
	// Send encodes and writes one envelope. Safe for concurrent use.
	Send(ctx context.Context, msg ClientMessage) error

	// Receive blocks until the next inbound message arrives or the connection
	// fails. Only one goroutine may call Receive at a time.
	Receive(ctx context.Context) ([]byte, error)

	// Close performs a normal closure. Safe to call more than once.
	Close() error
}

// Transport opens connections to the remote service.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// IsNormalClosure reports whether err is the result of an orderly close by
// either side.
func IsNormalClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(d *Dialer) { d.baseURL = u }
}

// WithAPIVersion overrides the service version segment of the endpoint.
func WithAPIVersion(v string) Option {
	return func(d *Dialer) { d.apiVersion = v }
}

// WithReadLimit sets the maximum inbound message size in bytes.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) { d.readLimit = n }
}

// WithKeepalive sets the ping interval. Zero disables pings.
func WithKeepalive(interval time.Duration) Option {
	return func(d *Dialer) { d.keepalive = interval }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements [Transport] over a WebSocket.
type Dialer struct {
	apiKey     string
	baseURL    string
	apiVersion string
	readLimit  int64
	keepalive  time.Duration
}

// NewDialer creates a Dialer for the given API key.
func NewDialer(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		readLimit:  defaultReadLimit,
		keepalive:  keepaliveInterval,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// URL returns the endpoint the Dialer connects to.
func (d *Dialer) URL() string {
	return fmt.Sprintf(
		"%s/google.ai.generativelanguage.%s.GenerativeService.BidiGenerateContent?key=%s",
		d.baseURL, d.apiVersion, url.QueryEscape(d.apiKey),
	)
}

// Dial implements [Transport]. The returned connection pings the server
// every keepalive interval until closed.
func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, d.URL(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("live: dial: %w", err)
	}
	ws.SetReadLimit(d.readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &wsConn{ws: ws, ctx: connCtx, cancel: cancel}
	if d.keepalive > 0 {
		go c.keepaliveLoop(d.keepalive)
	}
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *wsConn) Send(ctx context.Context, msg ClientMessage) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("live: send %s: connection closed", msg.Kind())
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("live: send %s: %w", msg.Kind(), err)
	}
	return nil
}

// Receive accepts both text and binary frames; the service sends JSON in
// either.
func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.ws.Close(websocket.StatusNormalClosure, "")
		if errors.Is(err, net.ErrClosed) || IsNormalClosure(err) {
			err = nil
		}
	})
	return err
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (c *wsConn) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := c.ws.Ping(pingCtx); err != nil && c.ctx.Err() == nil {
				slog.Debug("live: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}
