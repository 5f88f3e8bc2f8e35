// Package transport bridges one workflow run's event-bus channel to a
// WebSocket client, per spec.md §4.9: a forwarder loop relays published
// events to the client and a listener loop relays client cancel messages
// into the cancellation registry. Grounded on the teacher pack's
// MrWong99-glyphoxa s2s/openai session, which pairs a single
// *websocket.Conn with exactly this shape of concurrent read/write loop
// (there, an outbound Realtime API client; here, an inbound server
// endpoint using the same coder/websocket primitives).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/agentforge/workflow-engine/bus"
)

// Canceller is the subset of orchestrator.CancellationRegistry the
// streaming endpoint needs; accepting an interface here avoids an import
// cycle between transport and orchestrator.
type Canceller interface {
	Request(runID string)
}

// clientMessage is the one message shape a client may send, per §4.9.
type clientMessage struct {
	Type string `json:"type"`
}

// Accept upgrades an HTTP request to a WebSocket connection. Subprotocol
// negotiation is left to the defaults; callers needing CORS restrictions
// should wrap r before calling Accept.
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, nil)
}

// ServeRun drives one client's subscription to a run's event channel
// until the run reaches a terminal state, the client disconnects, or ctx
// is cancelled. conn is closed before ServeRun returns.
func ServeRun(ctx context.Context, conn *websocket.Conn, runID string, b bus.Bus, cancellation Canceller) error {
	defer conn.Close(websocket.StatusNormalClosure, "run finished")

	sub, err := b.Subscribe(ctx, bus.RunChannel(runID))
	if err != nil {
		return fmt.Errorf("transport: subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return forward(gctx, conn, sub) })
	group.Go(func() error { return listen(gctx, conn, runID, cancellation) })

	err = group.Wait()
	if errors.Is(err, errRunFinished) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// errRunFinished signals a clean stop once workflow_completed is relayed.
var errRunFinished = errors.New("transport: run finished")

// forward relays every event published on the run's channel to the
// client, terminating cleanly right after the terminal event.
func forward(ctx context.Context, conn *websocket.Conn, sub *bus.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return fmt.Errorf("transport: write: %w", err)
			}
			if ev.Type == bus.EventWorkflowCompleted {
				return errRunFinished
			}
		}
	}
}

// listen reads client messages and forwards a cancel request to the
// registry. Any read error (including normal client-initiated close)
// ends the loop; the caller treats a context cancellation as clean.
func listen(ctx context.Context, conn *websocket.Conn, runID string, cancellation Canceller) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "cancel" && cancellation != nil {
			cancellation.Request(runID)
		}
	}
}
