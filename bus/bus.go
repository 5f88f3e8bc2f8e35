// Package bus provides the pub/sub fan-out between the orchestrator and
// streaming clients: named channels, non-blocking publish, and an
// unsubscribe that is safe to call more than once.
package bus

import "context"

// Subscription is a live subscribe handle. C yields every Event published
// on the channel after Subscribe returned; it is closed by Unsubscribe.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Unsubscribe tears down the subscription. Idempotent: calling it more
// than once, or after the bus itself has been closed, is a no-op.
func (s *Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Bus is the abstract pub/sub contract the orchestrator and the
// streaming endpoint share. Implementations: LocalBus (in-process,
// default) and RedisBus (cross-process, selected by BUS_URL).
type Bus interface {
	// Publish stamps e.Timestamp (if zero) and fans it out to every
	// current subscriber of channel. Non-blocking and fire-and-forget: a
	// slow or absent subscriber causes the event to be dropped, never a
	// blocked publisher.
	Publish(ctx context.Context, channel string, e Event) error

	// Subscribe registers interest in channel and returns a handle
	// yielding every event published afterward.
	Subscribe(ctx context.Context, channel string) (*Subscription, error)

	// Close releases any resources held by the bus (connections,
	// goroutines). Subsequent Subscribe calls fail; Publish becomes a
	// no-op that returns nil.
	Close() error
}

// RunChannel returns the canonical channel name for a workflow run's
// events, per spec's `execution:<run_id>` convention.
func RunChannel(runID string) string {
	return "execution:" + runID
}
