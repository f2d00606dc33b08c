package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrNotConnected is returned by Publish and Request while the bus
	// connection is down. Senders retry or rely on bus redelivery.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrDraining is returned once graceful shutdown has begun.
	ErrDraining = errors.New("bus: draining")

	// ErrRequestTimeout is returned when no reply arrives in time.
	ErrRequestTimeout = errors.New("bus: request timed out")
)

var (
	envelopesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alchemist_bus_envelopes_total",
		Help: "Inbound messages delivered to subscribers",
	})
	dedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alchemist_bus_dedup_hits_total",
		Help: "Inbound messages dropped as duplicates",
	})
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alchemist_bus_reconnects_total",
		Help: "Connection losses that triggered a reconnect",
	})
)

// Config holds the Gateway's retry and dedup policy.
type Config struct {
	MaxAttempts  int           // attempts before settling into max-delay retries
	InitialDelay time.Duration // first backoff delay
	MaxDelay     time.Duration // backoff cap, also the steady retry interval
	Multiplier   float64       // exponential backoff multiplier
	DedupWindow  time.Duration // envelope-id dedup window
	DrainGrace   time.Duration // how long Drain waits for in-flight requests
	Inbox        string        // reply subject for request-reply correlation
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = 2 * time.Minute
	}
	if c.DrainGrace == 0 {
		c.DrainGrace = 5 * time.Second
	}
	if c.Inbox == "" {
		c.Inbox = "replies." + uuid.NewString()
	}
	return c
}

// Message is an inbound bus message after dedup.
type Message struct {
	Subject string
	Data    []byte
}

type subscription struct {
	pattern string
	out     chan Message
}

// Gateway owns the single bus connection. It reconnects with capped
// exponential backoff, replays subscriptions after a reconnect, drops
// duplicate envelope ids, and correlates request replies by envelope id.
type Gateway struct {
	transport Transport
	cfg       Config
	dedup     *DedupWindow

	mu       sync.Mutex
	conn     Conn
	state    ConnState
	attempt  int
	subs     []*subscription
	pending  map[string]chan *Response
	draining bool

	inflight sync.WaitGroup
	states   chan StateChange
}

// NewGateway creates a Gateway over the given transport. Zero config
// fields get the standard defaults.
func NewGateway(t Transport, cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	return &Gateway{
		transport: t,
		cfg:       cfg,
		dedup:     NewDedupWindow(cfg.DedupWindow),
		pending:   make(map[string]chan *Response),
		states:    make(chan StateChange, 16),
	}
}

// StateChanges delivers connection state transitions. The channel is
// buffered and never blocks the Gateway; slow readers miss intermediate
// transitions, not the latest state (see State).
func (g *Gateway) StateChanges() <-chan StateChange { return g.states }

// State returns the current connection state.
func (g *Gateway) State() ConnState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Run manages the connection until ctx is cancelled. On cancellation it
// drains: no new subscriptions, in-flight requests get DrainGrace to
// finish, then the connection closes.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		conn, err := g.connect(ctx)
		if err != nil {
			g.setState(StateDisconnected, 0)
			return err
		}
		if err := g.attach(ctx, conn); err != nil {
			log.Printf("[Bus] subscription replay failed: %v", err)
			conn.Close()
			continue
		}

		select {
		case <-ctx.Done():
			g.drain(conn)
			return ctx.Err()
		case <-conn.Done():
			reconnectsTotal.Inc()
			log.Printf("[Bus] connection lost, reconnecting")
			g.detach(conn)
		}
	}
}

// Subscribe registers a durable subscription. The returned channel
// survives reconnects; it is fed again once the connection is back.
func (g *Gateway) Subscribe(pattern string) (<-chan Message, error) {
	g.mu.Lock()
	if g.draining {
		g.mu.Unlock()
		return nil, ErrDraining
	}
	sub := &subscription{pattern: pattern, out: make(chan Message, 128)}
	g.subs = append(g.subs, sub)
	conn := g.conn
	g.mu.Unlock()

	if conn != nil {
		ch, err := conn.Subscribe(context.Background(), pattern)
		if err != nil {
			return nil, err
		}
		go g.pump(ch, sub)
	}
	return sub.out, nil
}

// Publish marshals v as JSON and sends it on subject.
func (g *Gateway) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Publish(ctx, subject, data)
}

// Request publishes env on subject and waits for the response whose id
// matches env.ID. The correlation entry is removed on success, timeout,
// and cancellation alike.
func (g *Gateway) Request(ctx context.Context, subject string, env *Envelope, timeout time.Duration) (*Response, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	env.ReplyTo = g.cfg.Inbox

	respCh := make(chan *Response, 1)
	g.mu.Lock()
	if g.draining {
		g.mu.Unlock()
		return nil, ErrDraining
	}
	g.pending[env.ID] = respCh
	g.mu.Unlock()

	g.inflight.Add(1)
	defer func() {
		g.mu.Lock()
		delete(g.pending, env.ID)
		g.mu.Unlock()
		g.inflight.Done()
	}()

	if err := g.Publish(ctx, subject, env); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connect retries with exponential backoff. After MaxAttempts failures it
// reports Disconnected and keeps retrying at MaxDelay; the process never
// gives up while running.
func (g *Gateway) connect(ctx context.Context) (Conn, error) {
	attempt := 0
	for {
		attempt++
		g.setState(StateConnecting, attempt)

		conn, err := g.transport.Connect(ctx)
		if err == nil {
			g.setState(StateConnected, 0)
			return conn, nil
		}

		delay := g.backoffDelay(attempt)
		log.Printf("[Bus] connect attempt %d failed: %v (next in %s)", attempt, err, delay)
		if attempt >= g.cfg.MaxAttempts {
			g.setState(StateDisconnected, attempt)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoffDelay returns the delay after the given 1-based failed attempt.
func (g *Gateway) backoffDelay(attempt int) time.Duration {
	if attempt >= g.cfg.MaxAttempts {
		return g.cfg.MaxDelay
	}
	d := float64(g.cfg.InitialDelay) * math.Pow(g.cfg.Multiplier, float64(attempt-1))
	if d > float64(g.cfg.MaxDelay) {
		return g.cfg.MaxDelay
	}
	return time.Duration(d)
}

// attach wires the inbox and all registered subscriptions onto a fresh
// connection.
func (g *Gateway) attach(ctx context.Context, conn Conn) error {
	g.mu.Lock()
	g.conn = conn
	subs := make([]*subscription, len(g.subs))
	copy(subs, g.subs)
	g.mu.Unlock()

	inbox, err := conn.Subscribe(ctx, g.cfg.Inbox)
	if err != nil {
		return err
	}
	go g.pumpReplies(inbox)

	for _, sub := range subs {
		ch, err := conn.Subscribe(ctx, sub.pattern)
		if err != nil {
			return err
		}
		go g.pump(ch, sub)
	}
	return nil
}

func (g *Gateway) detach(conn Conn) {
	conn.Close()
	g.mu.Lock()
	if g.conn == conn {
		g.conn = nil
	}
	g.mu.Unlock()
	g.setState(StateDisconnected, 0)
}

// pump forwards transport messages to a subscription, dropping duplicate
// envelope ids. It exits when the underlying subscription closes.
func (g *Gateway) pump(ch <-chan TransportMessage, sub *subscription) {
	for msg := range ch {
		if g.isDuplicate(msg.Payload) {
			dedupHitsTotal.Inc()
			continue
		}
		envelopesTotal.Inc()
		sub.out <- Message{Subject: msg.Subject, Data: msg.Payload}
	}
}

func (g *Gateway) pumpReplies(ch <-chan TransportMessage) {
	for msg := range ch {
		var resp Response
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			log.Printf("[Bus] dropping malformed reply: %v", err)
			continue
		}
		g.mu.Lock()
		waiter, ok := g.pending[resp.ID]
		g.mu.Unlock()
		if !ok {
			// Late reply after timeout; the entry is already gone.
			continue
		}
		select {
		case waiter <- &resp:
		default:
		}
	}
}

func (g *Gateway) isDuplicate(payload []byte) bool {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.ID == "" {
		return false
	}
	return g.dedup.Observe(probe.ID, time.Now())
}

func (g *Gateway) drain(conn Conn) {
	g.setState(StateDraining, 0)
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(g.cfg.DrainGrace):
		log.Printf("[Bus] drain grace elapsed with requests in flight")
	}

	conn.Close()
	g.mu.Lock()
	g.conn = nil
	g.mu.Unlock()
	g.setState(StateDisconnected, 0)
}

func (g *Gateway) setState(s ConnState, attempt int) {
	g.mu.Lock()
	changed := g.state != s || g.attempt != attempt
	g.state = s
	g.attempt = attempt
	g.mu.Unlock()
	if !changed {
		return
	}
	select {
	case g.states <- StateChange{State: s, Attempt: attempt}:
	default:
	}
}
