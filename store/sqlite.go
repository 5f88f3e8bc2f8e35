package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store: single-file, WAL mode for
// concurrent reads, foreign keys on so AgentRun rows cascade-delete with
// their WorkflowRun.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (and migrates) a SQLite database at path. Pass
// ":memory:" for an ephemeral in-process database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer at a time
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			trigger_input TEXT NOT NULL DEFAULT '{}',
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_runs (
			id TEXT PRIMARY KEY,
			workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			node_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			input_data TEXT NOT NULL DEFAULT '{}',
			output_data TEXT NOT NULL DEFAULT '{}',
			tokens_used INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_runs_workflow_run ON agent_runs(workflow_run_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return errStoreClosed
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scanTime(raw any) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected time column type %T", raw)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateWorkflowRun implements Store.
func (s *SQLiteStore) CreateWorkflowRun(ctx context.Context, run WorkflowRun) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, status, trigger_input, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.Status, run.TriggerInput, nullTime(run.StartedAt), nullTime(run.CompletedAt), run.Error, now, now)
	if err != nil {
		return fmt.Errorf("sqlite store: create workflow run: %w", err)
	}
	return nil
}

// GetWorkflowRun implements Store.
func (s *SQLiteStore) GetWorkflowRun(ctx context.Context, id string) (WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return WorkflowRun{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, trigger_input, started_at, completed_at, error, created_at, updated_at
		FROM workflow_runs WHERE id = ?`, id)
	return scanWorkflowRun(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflowRun(row rowScanner) (WorkflowRun, error) {
	var (
		run                    WorkflowRun
		startedAt, completedAt any
		createdAt, updatedAt   string
	)
	err := row.Scan(&run.ID, &run.WorkflowID, &run.Status, &run.TriggerInput, &startedAt, &completedAt, &run.Error, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return WorkflowRun{}, ErrNotFound
	}
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("sqlite store: scan workflow run: %w", err)
	}
	if run.StartedAt, err = scanTime(startedAt); err != nil {
		return WorkflowRun{}, err
	}
	if run.CompletedAt, err = scanTime(completedAt); err != nil {
		return WorkflowRun{}, err
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return run, nil
}

// UpdateWorkflowRun implements Store.
func (s *SQLiteStore) UpdateWorkflowRun(ctx context.Context, run WorkflowRun) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status=?, trigger_input=?, started_at=?, completed_at=?, error=?, updated_at=?
		WHERE id=?`,
		run.Status, run.TriggerInput, nullTime(run.StartedAt), nullTime(run.CompletedAt), run.Error,
		time.Now().UTC().Format(time.RFC3339Nano), run.ID)
	if err != nil {
		return fmt.Errorf("sqlite store: update workflow run: %w", err)
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAgentRuns implements Store.
func (s *SQLiteStore) CreateAgentRuns(ctx context.Context, runs []AgentRun) error {
	if len(runs) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO agent_runs (id, workflow_run_id, node_id, seq, status, input_data, output_data, tokens_used, latency_ms, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite store: prepare insert agent run: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for seq, run := range runs {
		if _, err := stmt.ExecContext(ctx, run.ID, run.WorkflowRunID, run.NodeID, seq, run.Status,
			run.InputData, run.OutputData, run.TokensUsed, run.LatencyMs, nullTime(run.StartedAt), nullTime(run.CompletedAt)); err != nil {
			return fmt.Errorf("sqlite store: insert agent run: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

// UpdateAgentRun implements Store.
func (s *SQLiteStore) UpdateAgentRun(ctx context.Context, run AgentRun) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_runs SET status=?, input_data=?, output_data=?, tokens_used=?, latency_ms=?, started_at=?, completed_at=?
		WHERE id=?`,
		run.Status, run.InputData, run.OutputData, run.TokensUsed, run.LatencyMs, nullTime(run.StartedAt), nullTime(run.CompletedAt), run.ID)
	if err != nil {
		return fmt.Errorf("sqlite store: update agent run: %w", err)
	}
	return checkRowsAffected(res)
}

// ListAgentRuns implements Store.
func (s *SQLiteStore) ListAgentRuns(ctx context.Context, workflowRunID string) ([]AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_run_id, node_id, status, input_data, output_data, tokens_used, latency_ms, started_at, completed_at
		FROM agent_runs WHERE workflow_run_id=? ORDER BY seq ASC`, workflowRunID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list agent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AgentRun
	for rows.Next() {
		var (
			run                    AgentRun
			startedAt, completedAt any
		)
		if err := rows.Scan(&run.ID, &run.WorkflowRunID, &run.NodeID, &run.Status, &run.InputData, &run.OutputData,
			&run.TokensUsed, &run.LatencyMs, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("sqlite store: scan agent run: %w", err)
		}
		if run.StartedAt, err = scanTime(startedAt); err != nil {
			return nil, err
		}
		if run.CompletedAt, err = scanTime(completedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// DeleteWorkflowRun implements Store. Foreign-key cascade (ON DELETE
// CASCADE, with PRAGMA foreign_keys=ON) removes the owned agent_runs.
func (s *SQLiteStore) DeleteWorkflowRun(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM workflow_runs WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("sqlite store: delete workflow run: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
