// Package mock provides scripted implementations of [live.Transport] and
// [live.Conn] for use in unit tests.
//
// Each Dial hands out a fresh [Conn]. Tests push inbound frames with
// [Conn.Inject], inspect outbound envelopes with [Conn.Sent], and simulate a
// remote failure with [Conn.Fail].
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/parivox/pkg/live"
)

// ErrClosed is returned by Send and Receive after Close.
var ErrClosed = errors.New("mock: connection closed")

// ─── Transport ────────────────────────────────────────────────────────────────

// Transport is a mock [live.Transport].
type Transport struct {
	mu    sync.Mutex
	conns []*Conn

	// DialErr, when non-nil, is returned by Dial.
	DialErr error

	// SendErr is copied into every new Conn.
	SendErr error

	dialed chan *Conn
}

// NewTransport returns a Transport whose dials can be awaited with
// [Transport.NextConn].
func NewTransport() *Transport {
	return &Transport{dialed: make(chan *Conn, 16)}
}

// Dial implements [live.Transport].
func (t *Transport) Dial(ctx context.Context) (live.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &Conn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
		failed:  make(chan error, 1),
		SendErr: t.SendErr,
	}
	t.conns = append(t.conns, c)
	if t.dialed != nil {
		select {
		case t.dialed <- c:
		default:
		}
	}
	return c, nil
}

// SetDialErr changes DialErr while dials may be in flight.
func (t *Transport) SetDialErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DialErr = err
}

// Conns returns every connection dialed so far.
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Conn(nil), t.conns...)
}

// NextConn returns the next dialed connection, blocking until ctx is done.
func (t *Transport) NextConn(ctx context.Context) (*Conn, error) {
	select {
	case c := <-t.dialed:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock [live.Conn].
type Conn struct {
	mu   sync.Mutex
	sent []live.ClientMessage

	// SendErr, when non-nil, is returned by Send.
	SendErr error

	inbound   chan []byte
	failed    chan error
	closed    chan struct{}
	closeOnce sync.Once

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Send implements [live.Conn]. Messages are validated with [live.Encode].
func (c *Conn) Send(_ context.Context, msg live.ClientMessage) error {
	if _, err := live.Encode(msg); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

// Receive implements [live.Conn].
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.failed:
		return nil, err
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements [live.Conn].
func (c *Conn) Close() error {
	c.mu.Lock()
	c.CallCountClose++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Inject queues an inbound frame.
func (c *Conn) Inject(data []byte) {
	c.inbound <- data
}

// Fail makes the pending or next Receive return err.
func (c *Conn) Fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Sent returns a copy of every envelope sent so far.
func (c *Conn) Sent() []live.ClientMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]live.ClientMessage(nil), c.sent...)
}

// SentKinds returns the variant name of every envelope sent so far.
func (c *Conn) SentKinds() []string {
	msgs := c.Sent()
	kinds := make([]string, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Kind()
	}
	return kinds
}
