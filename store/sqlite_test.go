package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_CreateGetWorkflowRun(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	run := WorkflowRun{ID: "run-1", WorkflowID: "wf-1", Status: WorkflowPending, TriggerInput: `{"a":1}`}
	if err := s.CreateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}

	got, err := s.GetWorkflowRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetWorkflowRun: %v", err)
	}
	if got.Status != WorkflowPending || got.TriggerInput != `{"a":1}` {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be populated")
	}
}

func TestSQLiteStore_GetWorkflowRun_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.GetWorkflowRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_UpdateWorkflowRun(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	run := WorkflowRun{ID: "run-1", WorkflowID: "wf-1", Status: WorkflowPending, TriggerInput: "{}"}
	if err := s.CreateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	run.Status = WorkflowRunning
	run.StartedAt = &now
	if err := s.UpdateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("UpdateWorkflowRun: %v", err)
	}

	got, err := s.GetWorkflowRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetWorkflowRun: %v", err)
	}
	if got.Status != WorkflowRunning {
		t.Errorf("expected status %q, got %q", WorkflowRunning, got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(now) {
		t.Errorf("expected StartedAt %v, got %v", now, got.StartedAt)
	}
}

func TestSQLiteStore_UpdateWorkflowRun_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	err := s.UpdateWorkflowRun(context.Background(), WorkflowRun{ID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_AgentRunsLifecycleAndCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	if err := s.CreateWorkflowRun(ctx, WorkflowRun{ID: "run-1", WorkflowID: "wf-1", Status: WorkflowPending, TriggerInput: "{}"}); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}

	runs := []AgentRun{
		{ID: "a1", WorkflowRunID: "run-1", NodeID: "fetch", Status: AgentIdle, InputData: "{}", OutputData: "{}"},
		{ID: "a2", WorkflowRunID: "run-1", NodeID: "summarize", Status: AgentIdle, InputData: "{}", OutputData: "{}"},
	}
	if err := s.CreateAgentRuns(ctx, runs); err != nil {
		t.Fatalf("CreateAgentRuns: %v", err)
	}

	listed, err := s.ListAgentRuns(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListAgentRuns: %v", err)
	}
	if len(listed) != 2 || listed[0].NodeID != "fetch" || listed[1].NodeID != "summarize" {
		t.Fatalf("expected [fetch, summarize] in seed order, got %+v", listed)
	}

	listed[0].Status = AgentCompleted
	listed[0].TokensUsed = 42
	listed[0].OutputData = `{"ok":true}`
	if err := s.UpdateAgentRun(ctx, listed[0]); err != nil {
		t.Fatalf("UpdateAgentRun: %v", err)
	}

	listed, err = s.ListAgentRuns(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListAgentRuns: %v", err)
	}
	if listed[0].Status != AgentCompleted || listed[0].TokensUsed != 42 {
		t.Fatalf("update did not persist: %+v", listed[0])
	}

	if err := s.DeleteWorkflowRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteWorkflowRun: %v", err)
	}
	if _, err := s.GetWorkflowRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected workflow run gone, got %v", err)
	}
	remaining, err := s.ListAgentRuns(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListAgentRuns after delete: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected agent runs to cascade-delete, got %+v", remaining)
	}
}

func TestSQLiteStore_CloseRejectsFurtherUse(t *testing.T) {
	s := newTestSQLiteStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be idempotent, got %v", err)
	}
	if err := s.CreateWorkflowRun(context.Background(), WorkflowRun{ID: "x"}); !errors.Is(err, errStoreClosed) {
		t.Fatalf("expected errStoreClosed, got %v", err)
	}
}
