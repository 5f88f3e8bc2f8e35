package store

import (
	"context"
	"errors"
	"os"
	"testing"
)

// TestMySQLStore_Integration exercises MySQLStore against a real server.
//
// Prerequisites:
//   - A reachable MySQL/MariaDB instance.
//   - TEST_MYSQL_DSN set, e.g. "user:pass@tcp(localhost:3306)/engine_test?parseTime=true".
//
// Run with: TEST_MYSQL_DSN=... go test -run TestMySQLStore_Integration ./store
func TestMySQLStore_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skipping MySQL integration test: set TEST_MYSQL_DSN to run")
	}

	s, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	run := WorkflowRun{ID: "mysql-run-1", WorkflowID: "wf-1", Status: WorkflowPending, TriggerInput: "{}"}
	if err := s.CreateWorkflowRun(ctx, run); err != nil {
		t.Fatalf("CreateWorkflowRun: %v", err)
	}
	defer func() { _ = s.DeleteWorkflowRun(ctx, run.ID) }()

	if err := s.CreateAgentRuns(ctx, []AgentRun{
		{ID: "mysql-agent-1", WorkflowRunID: run.ID, NodeID: "fetch", Status: AgentIdle, InputData: "{}", OutputData: "{}"},
	}); err != nil {
		t.Fatalf("CreateAgentRuns: %v", err)
	}

	listed, err := s.ListAgentRuns(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListAgentRuns: %v", err)
	}
	if len(listed) != 1 || listed[0].NodeID != "fetch" {
		t.Fatalf("unexpected agent runs: %+v", listed)
	}

	if err := s.DeleteWorkflowRun(ctx, run.ID); err != nil {
		t.Fatalf("DeleteWorkflowRun: %v", err)
	}
	if _, err := s.GetWorkflowRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
