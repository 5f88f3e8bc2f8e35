package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return newRedisBusFromClient(client), mr
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	b, _ := newTestRedisBus(t)
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, RunChannel("run-1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, RunChannel("run-1"), AgentStatus("agent-a", "running")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case e := <-sub.C:
		if e.Type != EventAgentStatus {
			t.Errorf("expected agent_status, got %s", e.Type)
		}
		if e.Extra["agent_id"] != "agent-a" {
			t.Errorf("expected agent_id agent-a, got %v", e.Extra["agent_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisBus_UnsubscribeIdempotent(t *testing.T) {
	b, _ := newTestRedisBus(t)
	defer func() { _ = b.Close() }()

	sub, err := b.Subscribe(context.Background(), RunChannel("run-2"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()
}
