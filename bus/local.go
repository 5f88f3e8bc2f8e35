package bus

import (
	"context"
	"sync"
	"time"
)

// localSubscriberBuffer bounds how many events a slow subscriber can fall
// behind before LocalBus starts dropping for it — publish must never
// block on a consumer.
const localSubscriberBuffer = 64

// LocalBus is the default, in-process Bus: channel name -> set of
// buffered Go channels. A publish that finds a subscriber's buffer full
// drops the event for that subscriber rather than blocking, matching the
// bus's "no durability required" contract.
type LocalBus struct {
	mu       sync.RWMutex
	channels map[string]map[int]chan Event
	nextID   int
	closed   bool
}

// NewLocalBus constructs an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{channels: make(map[string]map[int]chan Event)}
}

// Publish implements Bus.
func (b *LocalBus) Publish(ctx context.Context, channel string, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.channels[channel] {
		select {
		case ch <- e:
		default:
			// subscriber buffer full: drop for this subscriber, never block
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errBusClosed
	}
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Event, localSubscriberBuffer)
	b.channels[channel][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.channels[channel]; ok {
				if target, ok := subs[id]; ok {
					delete(subs, id)
					close(target)
				}
				if len(subs) == 0 {
					delete(b.channels, channel)
				}
			}
		})
	}
	return &Subscription{C: ch, cancel: cancel}, nil
}

// Close implements Bus, closing every live subscriber channel.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.channels {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.channels = nil
	return nil
}
