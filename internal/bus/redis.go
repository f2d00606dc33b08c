package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries bus traffic over Redis pub/sub channels. Subjects
// map directly to channel names; pattern subscriptions use PSUBSCRIBE.
type RedisTransport struct {
	URL      string // address or redis:// URL
	Password string
	DB       int
}

// NewRedisTransport creates a transport for the given server.
func NewRedisTransport(url, password string, db int) *RedisTransport {
	return &RedisTransport{URL: url, Password: password, DB: db}
}

// Connect dials Redis and verifies the connection with a ping.
func (t *RedisTransport) Connect(ctx context.Context) (Conn, error) {
	var opts *redis.Options
	if strings.Contains(t.URL, "://") {
		parsed, err := redis.ParseURL(t.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: t.URL}
	}
	if t.Password != "" {
		opts.Password = t.Password
	}
	opts.DB = t.DB
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	c := &redisConn{
		client: client,
		done:   make(chan struct{}),
	}
	go c.watch()
	return c, nil
}

type redisConn struct {
	client *redis.Client

	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	pubsubs []*redis.PubSub
}

func (c *redisConn) Subscribe(ctx context.Context, pattern string) (<-chan TransportMessage, error) {
	ps := c.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	c.mu.Lock()
	c.pubsubs = append(c.pubsubs, ps)
	c.mu.Unlock()

	out := make(chan TransportMessage, 128)
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-c.done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- TransportMessage{Subject: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-c.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *redisConn) Publish(ctx context.Context, subject string, payload []byte) error {
	return c.client.Publish(ctx, subject, payload).Err()
}

func (c *redisConn) Done() <-chan struct{} { return c.done }

func (c *redisConn) Close() error {
	c.markDone()
	c.mu.Lock()
	for _, ps := range c.pubsubs {
		ps.Close()
	}
	c.pubsubs = nil
	c.mu.Unlock()
	return c.client.Close()
}

func (c *redisConn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// watch pings the server until the connection drops. go-redis retries
// transient failures internally, so a failed ping here means the server
// is genuinely unreachable and the Gateway should redial.
func (c *redisConn) watch() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := c.client.Ping(ctx).Err()
			cancel()
			if err != nil {
				c.markDone()
				return
			}
		}
	}
}
