package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/agentforge/workflow-engine/bus"
)

type fakeCanceller struct {
	requested chan string
}

func (f *fakeCanceller) Request(runID string) {
	f.requested <- runID
}

func newTestServer(t *testing.T, runID string, b bus.Bus, cancellation Canceller) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		_ = ServeRun(r.Context(), conn, runID, b, cancellation)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServeRun_ForwardsEventsUntilTerminal(t *testing.T) {
	b := bus.NewLocalBus()
	t.Cleanup(func() { _ = b.Close() })

	runID := "run-xyz"
	srv := newTestServer(t, runID, b, nil)
	conn := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Give the server a moment to subscribe before publishing, since
	// Publish is fire-and-forget and drops events with no subscriber yet.
	time.Sleep(50 * time.Millisecond)

	channel := bus.RunChannel(runID)
	if err := b.Publish(ctx, channel, bus.WorkflowStatus("running")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(ctx, channel, bus.WorkflowCompleted(runID, "completed", 42, true)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var gotStatus, gotTerminal bool
	for i := 0; i < 2; i++ {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		switch ev["type"] {
		case "workflow_status":
			gotStatus = true
		case "workflow_completed":
			gotTerminal = true
			if ev["total_tokens"].(float64) != 42 {
				t.Errorf("expected total_tokens 42, got %v", ev["total_tokens"])
			}
		}
	}
	if !gotStatus || !gotTerminal {
		t.Fatalf("expected both workflow_status and workflow_completed, got status=%v terminal=%v", gotStatus, gotTerminal)
	}

	// The server closes the connection right after the terminal event.
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("expected the connection to close after the terminal event")
	}
}

func TestServeRun_ClientCancelReachesRegistry(t *testing.T) {
	b := bus.NewLocalBus()
	t.Cleanup(func() { _ = b.Close() })

	runID := "run-cancel-me"
	canceller := &fakeCanceller{requested: make(chan string, 1)}
	srv := newTestServer(t, runID, b, canceller)
	conn := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"type": "cancel"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case got := <-canceller.requested:
		if got != runID {
			t.Errorf("expected cancel for %q, got %q", runID, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancel to reach the registry")
	}
}
