package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a cross-process Bus backed by Redis Pub/Sub, selected by
// BUS_URL. Useful when the orchestrator's background task and the
// streaming endpoint serving a client live in different processes.
type RedisBus struct {
	client redis.UniversalClient
	closed bool
	mu     sync.Mutex
}

// RedisBusOptions mirrors the defaulting pattern used elsewhere in the
// pack for Redis-backed components: zero-value fields fall back to sane
// defaults rather than forcing every caller to specify a full config.
type RedisBusOptions struct {
	Addr         string        // default "localhost:6379"
	Password     string
	DB           int
	PoolSize     int           // default 10
	DialTimeout  time.Duration // default 5s
	ReadTimeout  time.Duration // default 3s
	WriteTimeout time.Duration // default 3s
}

// NewRedisBus connects to Redis at addr with default pooling/timeouts.
func NewRedisBus(addr, password string, db int) (*RedisBus, error) {
	return NewRedisBusWithOptions(&RedisBusOptions{Addr: addr, Password: password, DB: db})
}

// NewRedisBusWithOptions connects to Redis using opts, applying defaults
// for any zero-valued field.
func NewRedisBusWithOptions(opts *RedisBusOptions) (*RedisBus, error) {
	if opts == nil {
		return nil, fmt.Errorf("bus: redis options cannot be nil")
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: redis ping: %w", err)
	}
	return &RedisBus{client: client}, nil
}

// newRedisBusFromClient wraps an already-constructed client, used by
// tests against miniredis.
func newRedisBusFromClient(client redis.UniversalClient) *RedisBus {
	return &RedisBus{client: client}
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, channel string, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("bus: encode event: %w", err)
	}
	// Fire-and-forget: a publish error (no subscriber, transient network
	// blip) is swallowed rather than propagated, matching the bus's
	// best-effort contract.
	_ = b.client.Publish(ctx, channel, payload).Err()
	return nil
}

// Subscribe implements Bus.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errBusClosed
	}

	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("bus: subscribe %s: %w", channel, err)
	}

	out := make(chan Event, localSubscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				default:
					// slow subscriber: drop rather than block the fan-out goroutine
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return &Subscription{C: out, cancel: cancel}, nil
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
