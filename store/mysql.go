package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store, for deployments that
// already run a MySQL fleet and want the engine's state alongside it.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a connection pool against dsn (a go-sql-driver/mysql
// DSN, e.g. "user:pass@tcp(host:3306)/dbname?parseTime=true") and migrates
// the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql store: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql store: ping: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql store: create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			trigger_input JSON NOT NULL,
			started_at DATETIME(6) NULL,
			completed_at DATETIME(6) NULL,
			error TEXT NOT NULL,
			created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS agent_runs (
			id VARCHAR(64) PRIMARY KEY,
			workflow_run_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(128) NOT NULL,
			seq INT NOT NULL,
			status VARCHAR(16) NOT NULL,
			input_data JSON NOT NULL,
			output_data JSON NOT NULL,
			tokens_used INT NOT NULL DEFAULT 0,
			latency_ms INT NOT NULL DEFAULT 0,
			started_at DATETIME(6) NULL,
			completed_at DATETIME(6) NULL,
			INDEX idx_agent_runs_workflow_run (workflow_run_id, seq),
			CONSTRAINT fk_agent_runs_workflow_run FOREIGN KEY (workflow_run_id)
				REFERENCES workflow_runs(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) checkOpen() error {
	if s.closed {
		return errStoreClosed
	}
	return nil
}

// CreateWorkflowRun implements Store.
func (s *MySQLStore) CreateWorkflowRun(ctx context.Context, run WorkflowRun) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, status, trigger_input, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.Status, run.TriggerInput, run.StartedAt, run.CompletedAt, run.Error)
	if err != nil {
		return fmt.Errorf("mysql store: create workflow run: %w", err)
	}
	return nil
}

// GetWorkflowRun implements Store.
func (s *MySQLStore) GetWorkflowRun(ctx context.Context, id string) (WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return WorkflowRun{}, err
	}
	var run WorkflowRun
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, trigger_input, started_at, completed_at, error, created_at, updated_at
		FROM workflow_runs WHERE id = ?`, id)
	err := row.Scan(&run.ID, &run.WorkflowID, &run.Status, &run.TriggerInput, &run.StartedAt, &run.CompletedAt,
		&run.Error, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return WorkflowRun{}, ErrNotFound
	}
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("mysql store: get workflow run: %w", err)
	}
	return run, nil
}

// UpdateWorkflowRun implements Store.
func (s *MySQLStore) UpdateWorkflowRun(ctx context.Context, run WorkflowRun) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status=?, trigger_input=?, started_at=?, completed_at=?, error=?
		WHERE id=?`,
		run.Status, run.TriggerInput, run.StartedAt, run.CompletedAt, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("mysql store: update workflow run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAgentRuns implements Store.
func (s *MySQLStore) CreateAgentRuns(ctx context.Context, runs []AgentRun) error {
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
		return fmt.Errorf("mysql store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO agent_runs (id, workflow_run_id, node_id, seq, status, input_data, output_data, tokens_used, latency_ms, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("mysql store: prepare insert agent run: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for seq, run := range runs {
		if _, err := stmt.ExecContext(ctx, run.ID, run.WorkflowRunID, run.NodeID, seq, run.Status,
			run.InputData, run.OutputData, run.TokensUsed, run.LatencyMs, run.StartedAt, run.CompletedAt); err != nil {
			return fmt.Errorf("mysql store: insert agent run: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql store: commit: %w", err)
	}
	return nil
}

// UpdateAgentRun implements Store.
func (s *MySQLStore) UpdateAgentRun(ctx context.Context, run AgentRun) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_runs SET status=?, input_data=?, output_data=?, tokens_used=?, latency_ms=?, started_at=?, completed_at=?
		WHERE id=?`,
		run.Status, run.InputData, run.OutputData, run.TokensUsed, run.LatencyMs, run.StartedAt, run.CompletedAt, run.ID)
	if err != nil {
		return fmt.Errorf("mysql store: update agent run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgentRuns implements Store.
func (s *MySQLStore) ListAgentRuns(ctx context.Context, workflowRunID string) ([]AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_run_id, node_id, status, input_data, output_data, tokens_used, latency_ms, started_at, completed_at
		FROM agent_runs WHERE workflow_run_id=? ORDER BY seq ASC`, workflowRunID)
	if err != nil {
		return nil, fmt.Errorf("mysql store: list agent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AgentRun
	for rows.Next() {
		var run AgentRun
		if err := rows.Scan(&run.ID, &run.WorkflowRunID, &run.NodeID, &run.Status, &run.InputData, &run.OutputData,
			&run.TokensUsed, &run.LatencyMs, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("mysql store: scan agent run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// DeleteWorkflowRun implements Store; the FK's ON DELETE CASCADE removes
// the owned agent_runs rows.
func (s *MySQLStore) DeleteWorkflowRun(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM workflow_runs WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("mysql store: delete workflow run: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
