package triage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/triage-io/triage/internal/apperr"
)

// Sentinel errors for cleanup plans.
var (
	// ErrPlanNotFound is returned when no cleanup plan matches.
	ErrPlanNotFound = errors.New("cleanup plan not found")

	// ErrPlanExists is returned when the plan name is already taken.
	ErrPlanExists = errors.New("cleanup plan name already in use")
)

const pgUniqueViolation = "23505"

// CleanupPlan is a named bucket of report hashes with a due date and an
// open/closed state.
type CleanupPlan struct {
	ID          int64
	Name        string
	Description string
	DueDate     *time.Time
	ClosedAt    *time.Time
	Hashes      []string
}

// Closed reports whether the plan has been closed.
func (p *CleanupPlan) Closed() bool {
	return p.ClosedAt != nil
}

// CreateCleanupPlan registers a new open plan. The name must be unique.
func (m *Manager) CreateCleanupPlan(ctx context.Context, name, description string, due *time.Time) (int64, error) {
	var id int64

	err := m.conn.QueryRowContext(ctx, `
		INSERT INTO cleanup_plans (name, description, due_date)
		VALUES ($1, $2, $3) RETURNING id
	`, name, description, due).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return 0, fmt.Errorf("%w: %q", ErrPlanExists, name)
		}

		return 0, apperr.Wrap(apperr.KindDatabase, err, "creating cleanup plan %q", name)
	}

	return id, nil
}

// UpdateCleanupPlan rewrites a plan's name, description and due date.
func (m *Manager) UpdateCleanupPlan(ctx context.Context, id int64, name, description string, due *time.Time) error {
	result, err := m.conn.ExecContext(ctx, `
		UPDATE cleanup_plans SET name = $2, description = $3, due_date = $4
		WHERE id = $1
	`, id, name, description, due)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %q", ErrPlanExists, name)
		}

		return apperr.Wrap(apperr.KindDatabase, err, "updating cleanup plan %d", id)
	}

	return checkPlanAffected(result, id)
}

// RemoveCleanupPlan deletes a plan with its memberships.
func (m *Manager) RemoveCleanupPlan(ctx context.Context, id int64) error {
	result, err := m.conn.ExecContext(ctx,
		`DELETE FROM cleanup_plans WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "removing cleanup plan %d", id)
	}

	return checkPlanAffected(result, id)
}

// CloseCleanupPlan marks an open plan closed.
func (m *Manager) CloseCleanupPlan(ctx context.Context, id int64) error {
	result, err := m.conn.ExecContext(ctx, `
		UPDATE cleanup_plans SET closed_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND closed_at IS NULL
	`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "closing cleanup plan %d", id)
	}

	return checkPlanAffected(result, id)
}

// ReopenCleanupPlan clears the closed state of a plan.
func (m *Manager) ReopenCleanupPlan(ctx context.Context, id int64) error {
	result, err := m.conn.ExecContext(ctx, `
		UPDATE cleanup_plans SET closed_at = NULL
		WHERE id = $1 AND closed_at IS NOT NULL
	`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "reopening cleanup plan %d", id)
	}

	return checkPlanAffected(result, id)
}

// SetCleanupPlan adds report hashes to a plan. Already-present hashes are
// left alone.
func (m *Manager) SetCleanupPlan(ctx context.Context, id int64, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}

	if err := m.planExists(ctx, id); err != nil {
		return err
	}

	_, err := m.conn.ExecContext(ctx, `
		INSERT INTO cleanup_plan_hashes (plan_id, report_hash)
		SELECT $1, h FROM unnest($2::text[]) AS h
		ON CONFLICT DO NOTHING
	`, id, pq.Array(hashes))
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "adding hashes to cleanup plan %d", id)
	}

	return nil
}

// UnsetCleanupPlan removes report hashes from a plan.
func (m *Manager) UnsetCleanupPlan(ctx context.Context, id int64, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}

	if err := m.planExists(ctx, id); err != nil {
		return err
	}

	_, err := m.conn.ExecContext(ctx, `
		DELETE FROM cleanup_plan_hashes
		WHERE plan_id = $1 AND TRIM(report_hash) = ANY($2)
	`, id, pq.Array(hashes))
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "removing hashes from cleanup plan %d", id)
	}

	return nil
}

// ListCleanupPlans returns plans with their member hashes, open plans
// first, each group ordered by name.
func (m *Manager) ListCleanupPlans(ctx context.Context, includeClosed bool) ([]CleanupPlan, error) {
	query := `
		SELECT id, name, description, due_date, closed_at
		FROM cleanup_plans
	`
	if !includeClosed {
		query += ` WHERE closed_at IS NULL`
	}

	query += ` ORDER BY closed_at IS NOT NULL, name`

	rows, err := m.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "listing cleanup plans")
	}

	defer func() {
		_ = rows.Close()
	}()

	var plans []CleanupPlan

	for rows.Next() {
		var (
			p        CleanupPlan
			due      sql.NullTime
			closedAt sql.NullTime
		)

		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &due, &closedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning cleanup plan")
		}

		if due.Valid {
			p.DueDate = &due.Time
		}

		if closedAt.Valid {
			p.ClosedAt = &closedAt.Time
		}

		plans = append(plans, p)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating cleanup plans")
	}

	for i := range plans {
		hashes, err := m.planHashes(ctx, plans[i].ID)
		if err != nil {
			return nil, err
		}

		plans[i].Hashes = hashes
	}

	return plans, nil
}

// GetCleanupPlan loads one plan with its member hashes.
func (m *Manager) GetCleanupPlan(ctx context.Context, id int64) (*CleanupPlan, error) {
	var (
		p        CleanupPlan
		due      sql.NullTime
		closedAt sql.NullTime
	)

	err := m.conn.QueryRowContext(ctx, `
		SELECT id, name, description, due_date, closed_at
		FROM cleanup_plans WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &due, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrPlanNotFound, id)
	}

	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading cleanup plan %d", id)
	}

	if due.Valid {
		p.DueDate = &due.Time
	}

	if closedAt.Valid {
		p.ClosedAt = &closedAt.Time
	}

	hashes, err := m.planHashes(ctx, id)
	if err != nil {
		return nil, err
	}

	p.Hashes = hashes

	return &p, nil
}

func (m *Manager) planHashes(ctx context.Context, id int64) ([]string, error) {
	rows, err := m.conn.QueryContext(ctx, `
		SELECT TRIM(report_hash) FROM cleanup_plan_hashes
		WHERE plan_id = $1 ORDER BY report_hash
	`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading cleanup plan hashes")
	}

	defer func() {
		_ = rows.Close()
	}()

	var hashes []string

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning cleanup plan hash")
		}

		hashes = append(hashes, h)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating cleanup plan hashes")
	}

	return hashes, nil
}

func (m *Manager) planExists(ctx context.Context, id int64) error {
	var exists bool

	err := m.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM cleanup_plans WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "checking cleanup plan %d", id)
	}

	if !exists {
		return fmt.Errorf("%w: id %d", ErrPlanNotFound, id)
	}

	return nil
}

func checkPlanAffected(result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: id %d", ErrPlanNotFound, id)
	}

	return nil
}
