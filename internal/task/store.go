// Package task runs background jobs on a bounded worker pool, with every
// job persisted in the configuration database so its status survives a
// server restart.
package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/triage-io/triage/internal/apperr"
	"github.com/triage-io/triage/internal/storage"
)

// Status of a background task.
type Status string

// Task lifecycle states. Allocated, enqueued and running are live;
// everything else is terminal.
const (
	StatusAllocated Status = "allocated"
	StatusEnqueued  Status = "enqueued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusDropped   Status = "dropped"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusDropped:
		return true
	default:
		return false
	}
}

// API renders the status in the wire form used by the HTTP surface.
func (s Status) API() string {
	return strings.ToUpper(string(s))
}

// Sentinel errors for the task store.
var (
	// ErrTaskNotFound is returned when no record matches the token.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotOwner is returned when a non-admin actor queries a task it
	// does not own.
	ErrNotOwner = errors.New("task belongs to a different actor")
)

// Task is one persisted background job record.
type Task struct {
	Token         string
	Kind          string
	Status        Status
	ProductID     *int64
	Actor         string
	Summary       string
	EnqueuedAt    *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastHeartbeat *time.Time
	CancelFlag    bool
	ConsumedFlag  bool
}

// Filter narrows GetTasks results. Zero values match everything.
type Filter struct {
	Kinds     []string
	Statuses  []Status
	Actors    []string
	ProductID *int64
}

// Store persists task records in the configuration database.
type Store struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewStore creates a task store over the configuration database.
func NewStore(conn *storage.Connection, logger *slog.Logger) (*Store, error) {
	if conn == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	return &Store{conn: conn, logger: logger}, nil
}

const taskColumns = `
	token, kind, status, product_id, actor, summary,
	enqueued_at, started_at, completed_at, last_heartbeat,
	cancel_flag, consumed_flag
`

// Allocate persists a new record in the allocated state.
func (s *Store) Allocate(ctx context.Context, t *Task) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO tasks (token, kind, status, product_id, actor, summary)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.Token, t.Kind, StatusAllocated, t.ProductID, t.Actor, t.Summary)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "allocating task %s", t.Token)
	}

	return nil
}

// MarkEnqueued stamps the queue admission time.
func (s *Store) MarkEnqueued(ctx context.Context, token string) error {
	return s.transition(ctx, token, StatusEnqueued, `
		UPDATE tasks SET status = $2, enqueued_at = CURRENT_TIMESTAMP
		WHERE token = $1 AND status = 'allocated'
	`)
}

// MarkRunning stamps the execution start and primes the heartbeat.
func (s *Store) MarkRunning(ctx context.Context, token string) error {
	return s.transition(ctx, token, StatusRunning, `
		UPDATE tasks
		SET status = $2, started_at = CURRENT_TIMESTAMP,
			last_heartbeat = CURRENT_TIMESTAMP
		WHERE token = $1 AND status = 'enqueued'
	`)
}

// MarkTerminal finishes the task with the given terminal status.
func (s *Store) MarkTerminal(ctx context.Context, token string, status Status, summary string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	_, err := s.conn.ExecContext(ctx, `
		UPDATE tasks
		SET status = $2, summary = $3, completed_at = CURRENT_TIMESTAMP
		WHERE token = $1
	`, token, status, summary)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "finishing task %s", token)
	}

	return nil
}

func (s *Store) transition(ctx context.Context, token string, status Status, query string) error {
	result, err := s.conn.ExecContext(ctx, query, token, status)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "moving task %s to %s", token, status)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, token)
	}

	return nil
}

// Heartbeat refreshes the liveness stamp of a running task.
func (s *Store) Heartbeat(ctx context.Context, token string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE tasks SET last_heartbeat = CURRENT_TIMESTAMP
		WHERE token = $1 AND status = 'running'
	`, token)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "heartbeat for task %s", token)
	}

	return nil
}

// RequestCancel sets the cancel flag. Returns true only for the call that
// performed the transition; terminal tasks are never flagged.
func (s *Store) RequestCancel(ctx context.Context, token string) (bool, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE tasks SET cancel_flag = TRUE
		WHERE token = $1 AND cancel_flag = FALSE
			AND status IN ('allocated', 'enqueued', 'running')
	`, token)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatabase, err, "cancelling task %s", token)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatabase, err, "cancelling task %s", token)
	}

	return affected > 0, nil
}

// CancelRequested reads the cancel flag. Jobs poll this cooperatively.
func (s *Store) CancelRequested(ctx context.Context, token string) (bool, error) {
	var flag bool

	err := s.conn.QueryRowContext(ctx,
		`SELECT cancel_flag FROM tasks WHERE token = $1`, token).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, token)
	}

	if err != nil {
		return false, apperr.Wrap(apperr.KindDatabase, err, "reading cancel flag for %s", token)
	}

	return flag, nil
}

// Peek reads one record with the same ownership rules as Get, but without
// the consumption side effect. Callers that only need the task's actor or
// status, such as permission checks, use this.
func (s *Store) Peek(ctx context.Context, token, actor string, admin bool) (*Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE token = $1`, token)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, token)
	}

	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading task %s", token)
	}

	if !admin && t.Actor != actor {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, token)
	}

	return t, nil
}

// Get reads one record for its owning actor. Terminal records are marked
// consumed on read, which makes them eligible for later cleanup. Admin
// callers bypass both the ownership check and the consumption.
func (s *Store) Get(ctx context.Context, token, actor string, admin bool) (*Task, error) {
	t, err := s.Peek(ctx, token, actor, admin)
	if err != nil {
		return nil, err
	}

	if admin {
		return t, nil
	}

	if t.Status.Terminal() && !t.ConsumedFlag {
		if _, err := s.conn.ExecContext(ctx,
			`UPDATE tasks SET consumed_flag = TRUE WHERE token = $1`, token); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "consuming task %s", token)
		}

		t.ConsumedFlag = true
	}

	return t, nil
}

// List returns tasks matching the filter, newest first. Never consumes.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE TRUE`

	var args []any

	arg := func(v any) string {
		args = append(args, v)

		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Kinds) > 0 {
		query += ` AND kind = ANY(` + arg(pq.Array(filter.Kinds)) + `)`
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}

		query += ` AND status = ANY(` + arg(pq.Array(statuses)) + `)`
	}

	if len(filter.Actors) > 0 {
		query += ` AND actor = ANY(` + arg(pq.Array(filter.Actors)) + `)`
	}

	if filter.ProductID != nil {
		query += ` AND product_id = ` + arg(*filter.ProductID)
	}

	query += ` ORDER BY enqueued_at DESC NULLS LAST, token`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "listing tasks")
	}

	defer func() {
		_ = rows.Close()
	}()

	var tasks []*Task

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning task")
		}

		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating tasks")
	}

	return tasks, nil
}

// DropStale marks running tasks silent for longer than maxSilence as
// dropped. Returns how many records were reaped.
func (s *Store) DropStale(ctx context.Context, maxSilence time.Duration) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'dropped', completed_at = CURRENT_TIMESTAMP,
			summary = 'dropped: heartbeat lost'
		WHERE status = 'running'
			AND last_heartbeat < CURRENT_TIMESTAMP - $1::interval
	`, fmt.Sprintf("%d seconds", int(maxSilence.Seconds())))
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "reaping stale tasks")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}

	return affected, nil
}

// DropLive marks every non-terminal record dropped. Called once at startup:
// any task alive in a previous process cannot be resumed.
func (s *Store) DropLive(ctx context.Context) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'dropped', completed_at = CURRENT_TIMESTAMP,
			summary = 'dropped: server restarted'
		WHERE status IN ('allocated', 'enqueued', 'running')
	`)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "dropping live tasks at startup")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}

	return affected, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var (
		t          Task
		productID  sql.NullInt64
		enqueued   sql.NullTime
		started    sql.NullTime
		completed  sql.NullTime
		heartbeat  sql.NullTime
		statusText string
	)

	err := row.Scan(
		&t.Token, &t.Kind, &statusText, &productID, &t.Actor, &t.Summary,
		&enqueued, &started, &completed, &heartbeat,
		&t.CancelFlag, &t.ConsumedFlag,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(statusText)

	if productID.Valid {
		t.ProductID = &productID.Int64
	}

	for _, pair := range []struct {
		src sql.NullTime
		dst **time.Time
	}{
		{enqueued, &t.EnqueuedAt},
		{started, &t.StartedAt},
		{completed, &t.CompletedAt},
		{heartbeat, &t.LastHeartbeat},
	} {
		if pair.src.Valid {
			value := pair.src.Time
			*pair.dst = &value
		}
	}

	return &t, nil
}
