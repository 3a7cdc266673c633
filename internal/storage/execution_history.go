// Package storage keeps a queryable history of task executions.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("execution record not found")

// Execution is one attempt of a task on an agent
type Execution struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	TaskID      string           `json:"task_id"`
	AgentID     string           `json:"agent_id"`
	AgentType   string           `json:"agent_type"`
	Provider    string           `json:"provider,omitempty"`
	Model       string           `json:"model,omitempty"`
	Status      model.TaskStatus `json:"status"`
	Attempt     int              `json:"attempt"`
	Cost        float64          `json:"cost"`
	Error       string           `json:"error,omitempty"`
	Result      json.RawMessage  `json:"result,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Duration    time.Duration    `json:"duration"`
}

// Filter narrows List and Count; empty fields match everything
type Filter struct {
	WorkflowID string
	TaskID     string
	AgentID    string
	Provider   string
	Status     model.TaskStatus
}

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	add("workflow_id", f.WorkflowID)
	add("task_id", f.TaskID)
	add("agent_id", f.AgentID)
	add("provider", f.Provider)
	add("status", string(f.Status))

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ExecutionHistory stores execution records
type ExecutionHistory interface {
	// Store stores an execution record
	Store(ctx context.Context, exec *Execution) error

	// Get retrieves an execution record by ID
	Get(ctx context.Context, id string) (*Execution, error)

	// List retrieves execution records, newest first
	List(ctx context.Context, filter Filter, offset, limit int) ([]*Execution, error)

	// Count returns the number of records matching the filter
	Count(ctx context.Context, filter Filter) (int, error)

	// DeleteBefore deletes records that completed before the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// SQLiteHistory implements ExecutionHistory using SQLite
type SQLiteHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteHistory opens (or creates) the history database at dsn
func NewSQLiteHistory(logger *zap.Logger, dsn string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers; one connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	s := &SQLiteHistory{
		logger: logger.Named("execution-history"),
		db:     db,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			provider TEXT,
			model TEXT,
			status TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			error TEXT,
			result TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			duration INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON executions(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_executions_agent_id ON executions(agent_id);
		CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
		CREATE INDEX IF NOT EXISTS idx_executions_completed_at ON executions(completed_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements ExecutionHistory.Store
func (s *SQLiteHistory) Store(ctx context.Context, e *Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (
			id, workflow_id, task_id, agent_id, agent_type, provider, model, status,
			attempt, cost, error, result, started_at, completed_at, duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.WorkflowID,
		e.TaskID,
		e.AgentID,
		e.AgentType,
		e.Provider,
		e.Model,
		string(e.Status),
		e.Attempt,
		e.Cost,
		sql.NullString{String: e.Error, Valid: e.Error != ""},
		sql.NullString{String: string(e.Result), Valid: len(e.Result) > 0},
		e.StartedAt.UTC(),
		e.CompletedAt.UTC(),
		int64(e.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to store execution: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, workflow_id, task_id, agent_id, agent_type, provider, model, status,
	attempt, cost, error, result, started_at, completed_at, duration FROM executions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		e                   Execution
		provider, modelName sql.NullString
		errorStr, result    sql.NullString
		status              string
		durationNanos       int64
	)
	if err := row.Scan(
		&e.ID,
		&e.WorkflowID,
		&e.TaskID,
		&e.AgentID,
		&e.AgentType,
		&provider,
		&modelName,
		&status,
		&e.Attempt,
		&e.Cost,
		&errorStr,
		&result,
		&e.StartedAt,
		&e.CompletedAt,
		&durationNanos,
	); err != nil {
		return nil, err
	}

	e.Provider = provider.String
	e.Model = modelName.String
	e.Status = model.TaskStatus(status)
	e.Error = errorStr.String
	if result.Valid && result.String != "" {
		e.Result = json.RawMessage(result.String)
	}
	e.Duration = time.Duration(durationNanos)
	return &e, nil
}

// Get implements ExecutionHistory.Get
func (s *SQLiteHistory) Get(ctx context.Context, id string) (*Execution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}
	return e, nil
}

// List implements ExecutionHistory.List
func (s *SQLiteHistory) List(ctx context.Context, filter Filter, offset, limit int) ([]*Execution, error) {
	where, args := filter.where()
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, selectColumns+where+" ORDER BY completed_at DESC, id LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Count implements ExecutionHistory.Count
func (s *SQLiteHistory) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.where()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// DeleteBefore implements ExecutionHistory.DeleteBefore
func (s *SQLiteHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE completed_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old execution records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}
