// Package bustest provides an in-memory Transport for exercising the
// Gateway and the service loop without a Redis server. It behaves like a
// pub/sub broker: every live connection with a matching subscription
// receives each published message.
package bustest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cimlabs/alchemist/internal/bus"
)

// MemTransport is an in-memory broker implementing bus.Transport.
type MemTransport struct {
	mu           sync.Mutex
	conns        []*MemConn
	failuresLeft int
	connectCount int
}

// NewMemTransport creates an empty broker.
func NewMemTransport() *MemTransport {
	return &MemTransport{}
}

// FailConnects makes the next n Connect calls fail, for backoff tests.
func (t *MemTransport) FailConnects(n int) {
	t.mu.Lock()
	t.failuresLeft = n
	t.mu.Unlock()
}

// ConnectCount reports how many Connect calls have been made.
func (t *MemTransport) ConnectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCount
}

// Connect returns a new broker connection.
func (t *MemTransport) Connect(ctx context.Context) (bus.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectCount++
	if t.failuresLeft > 0 {
		t.failuresLeft--
		return nil, errors.New("bustest: connect refused")
	}
	c := &MemConn{
		broker: t,
		done:   make(chan struct{}),
	}
	t.conns = append(t.conns, c)
	return c, nil
}

// DropAll severs every live connection, simulating a bus outage.
func (t *MemTransport) DropAll() {
	t.mu.Lock()
	conns := make([]*MemConn, len(t.conns))
	copy(conns, t.conns)
	t.conns = nil
	t.mu.Unlock()
	for _, c := range conns {
		c.drop()
	}
}

func (t *MemTransport) route(subject string, payload []byte) {
	t.mu.Lock()
	conns := make([]*MemConn, len(t.conns))
	copy(conns, t.conns)
	t.mu.Unlock()
	for _, c := range conns {
		c.deliver(subject, payload)
	}
}

func (t *MemTransport) remove(conn *MemConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.conns {
		if c == conn {
			t.conns = append(t.conns[:i], t.conns[i+1:]...)
			return
		}
	}
}

type memSub struct {
	pattern string
	ch      chan bus.TransportMessage
}

// MemConn is a live connection to the in-memory broker.
type MemConn struct {
	broker *MemTransport

	mu     sync.Mutex
	subs   []*memSub
	closed bool

	done chan struct{}
	once sync.Once
}

// Subscribe registers a pattern. "prefix.*" matches any single or
// multi-token remainder, mirroring the Redis transport's glob behavior.
func (c *MemConn) Subscribe(ctx context.Context, pattern string) (<-chan bus.TransportMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("bustest: connection closed")
	}
	sub := &memSub{pattern: pattern, ch: make(chan bus.TransportMessage, 128)}
	c.subs = append(c.subs, sub)
	return sub.ch, nil
}

// Publish routes a message through the broker to all matching
// subscriptions, the publisher's own included.
func (c *MemConn) Publish(ctx context.Context, subject string, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("bustest: connection closed")
	}
	c.broker.route(subject, payload)
	return nil
}

// Done is closed when the connection is lost or closed.
func (c *MemConn) Done() <-chan struct{} { return c.done }

// Close severs the connection.
func (c *MemConn) Close() error {
	c.broker.remove(c)
	c.drop()
	return nil
}

func (c *MemConn) drop() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()
		close(c.done)
		for _, s := range subs {
			close(s.ch)
		}
	})
}

func (c *MemConn) deliver(subject string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, s := range c.subs {
		if matches(s.pattern, subject) {
			select {
			case s.ch <- bus.TransportMessage{Subject: subject, Payload: payload}:
			default:
			}
		}
	}
}

func matches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(subject, prefix+".")
	}
	return false
}
