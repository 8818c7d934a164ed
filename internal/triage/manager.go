// Package triage manages the human side of report state: review-status
// rules keyed by report hash, free-text comments and cleanup plans.
package triage

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
	"github.com/triage-io/triage/internal/report"
	"github.com/triage-io/triage/internal/storage"
)

// Sentinel errors for triage operations.
var (
	// ErrChangeDisabled is returned when the product forbids review-status
	// changes and the actor is not a product administrator.
	ErrChangeDisabled = errors.New("review status changes are disabled for this product")

	// ErrInvalidReviewStatus is returned for an unknown review status value.
	ErrInvalidReviewStatus = errors.New("invalid review status")

	// ErrReportNotFound is returned when no report matches the id.
	ErrReportNotFound = errors.New("report not found")

	// ErrRuleNotFound is returned when no rule matches the report hash.
	ErrRuleNotFound = errors.New("review status rule not found")
)

// Actor identifies the caller of a triage mutation.
type Actor struct {
	Name  string
	Admin bool
}

// Rule is one review-status rule. It applies to every report in the
// product that carries its hash.
type Rule struct {
	ReportHash  string
	Status      report.ReviewStatus
	Message     string
	Author      string
	Date        time.Time
	ReportCount int64
}

// RuleFilter narrows a rule listing. Fields combine with AND.
type RuleFilter struct {
	ReportHashes   []string
	ReviewStatuses []report.ReviewStatus
	Authors        []string

	// NoAssociatedReports keeps only rules whose hash matches no stored
	// report anymore.
	NoAssociatedReports bool
}

// RuleSortField names a sortable rule attribute.
type RuleSortField string

// Sortable rule fields.
const (
	RuleSortHash   RuleSortField = "report_hash"
	RuleSortStatus RuleSortField = "status"
	RuleSortAuthor RuleSortField = "author"
	RuleSortDate   RuleSortField = "date"
)

// RuleSortMode is one rule sort key with its direction.
type RuleSortMode struct {
	Field RuleSortField
	Desc  bool
}

// Manager runs triage mutations over one product database.
type Manager struct {
	conn   *storage.Connection
	logger *slog.Logger

	// changeDisabled mirrors the product's review_status_change_disabled
	// flag; only administrators may change review statuses when set.
	changeDisabled bool
}

// NewManager creates a triage manager over a product connection.
func NewManager(conn *storage.Connection, logger *slog.Logger, changeDisabled bool) (*Manager, error) {
	if conn == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	return &Manager{conn: conn, logger: logger, changeDisabled: changeDisabled}, nil
}

// ChangeReviewStatus writes a review-status rule keyed by the report's
// hash, so the verdict propagates to every same-hash report. A SYSTEM
// comment recording the observed transition is attached to the report.
func (m *Manager) ChangeReviewStatus(
	ctx context.Context,
	reportID int64,
	status report.ReviewStatus,
	message string,
	actor Actor,
) error {
	if m.changeDisabled && !actor.Admin {
		return ErrChangeDisabled
	}

	if !report.ValidReviewStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidReviewStatus, status)
	}

	startTime := time.Now()

	err := m.conn.RunSerializable(ctx, m.logger, func(tx *sql.Tx) error {
		var hash string

		err := tx.QueryRowContext(ctx,
			`SELECT TRIM(report_hash) FROM reports WHERE id = $1`, reportID).Scan(&hash)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", ErrReportNotFound, reportID)
		}

		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "loading report %d", reportID)
		}

		oldStatus := report.ReviewUnreviewed

		var prev string

		err = tx.QueryRowContext(ctx,
			`SELECT status FROM review_statuses WHERE report_hash = $1 FOR UPDATE`,
			hash).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(apperr.KindDatabase, err, "loading rule for %s", hash)
		}

		if err == nil {
			oldStatus = report.ReviewStatus(prev)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO review_statuses (report_hash, status, message, author, date)
			VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
			ON CONFLICT (report_hash) DO UPDATE
				SET status = EXCLUDED.status, message = EXCLUDED.message,
					author = EXCLUDED.author, date = EXCLUDED.date
		`, hash, string(status), message, actor.Name)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "writing rule for %s", hash)
		}

		transition := fmt.Sprintf("%s → %s", oldStatus, status)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO comments (report_id, author, message, kind)
			VALUES ($1, $2, $3, 'system')
		`, reportID, actor.Name, transition)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "recording transition comment")
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("Review status changed",
		slog.Int64("report_id", reportID),
		slog.String("status", string(status)),
		slog.String("author", actor.Name),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return nil
}

// ruleBuilder accumulates WHERE clauses for rule queries.
type ruleBuilder struct {
	clauses []string
	args    []any
}

func (b *ruleBuilder) arg(v any) string {
	b.args = append(b.args, v)

	return fmt.Sprintf("$%d", len(b.args))
}

func (b *ruleBuilder) apply(f *RuleFilter) {
	b.clauses = append(b.clauses, "TRUE")

	if f == nil {
		return
	}

	if len(f.ReportHashes) > 0 {
		b.clauses = append(b.clauses,
			`TRIM(rs.report_hash) = ANY(`+b.arg(pq.Array(f.ReportHashes))+`)`)
	}

	if len(f.ReviewStatuses) > 0 {
		values := make([]string, len(f.ReviewStatuses))
		for i, s := range f.ReviewStatuses {
			values[i] = string(s)
		}

		b.clauses = append(b.clauses, `rs.status = ANY(`+b.arg(pq.Array(values))+`)`)
	}

	if len(f.Authors) > 0 {
		b.clauses = append(b.clauses, `rs.author = ANY(`+b.arg(pq.Array(f.Authors))+`)`)
	}

	if f.NoAssociatedReports {
		b.clauses = append(b.clauses,
			`NOT EXISTS (SELECT 1 FROM reports r WHERE r.report_hash = rs.report_hash)`)
	}
}

// ruleSortExpr maps rule sort fields to SQL expressions.
var ruleSortExpr = map[RuleSortField]string{ //nolint: gochecknoglobals
	RuleSortHash:   "rs.report_hash",
	RuleSortStatus: "rs.status",
	RuleSortAuthor: "rs.author",
	RuleSortDate:   "rs.date",
}

func ruleOrderBy(sorts []RuleSortMode) string {
	var parts []string

	for _, s := range sorts {
		expr, ok := ruleSortExpr[s.Field]
		if !ok {
			continue
		}

		direction := " ASC"
		if s.Desc {
			direction = " DESC"
		}

		parts = append(parts, expr+direction)
	}

	parts = append(parts, "rs.report_hash ASC")

	return "ORDER BY " + strings.Join(parts, ", ")
}

// GetReviewStatusRules returns one page of rules with their associated
// report counts.
func (m *Manager) GetReviewStatusRules(
	ctx context.Context,
	filter *RuleFilter,
	sorts []RuleSortMode,
	limit, offset int,
) ([]Rule, error) {
	b := &ruleBuilder{}
	b.apply(filter)

	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := `
		SELECT TRIM(rs.report_hash), rs.status, rs.message, rs.author, rs.date,
			(SELECT COUNT(*) FROM reports r WHERE r.report_hash = rs.report_hash)
		FROM review_statuses rs
		WHERE ` + strings.Join(b.clauses, " AND ") + `
		` + ruleOrderBy(sorts) + `
		LIMIT ` + b.arg(limit) + ` OFFSET ` + b.arg(max(offset, 0))

	rows, err := m.conn.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "listing review status rules")
	}

	defer func() {
		_ = rows.Close()
	}()

	var rules []Rule

	for rows.Next() {
		var (
			r      Rule
			status string
		)

		if err := rows.Scan(&r.ReportHash, &status, &r.Message, &r.Author,
			&r.Date, &r.ReportCount); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning rule")
		}

		r.Status = report.ReviewStatus(status)
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating rules")
	}

	return rules, nil
}

// GetReviewStatusRuleCount returns how many rules match the filter.
func (m *Manager) GetReviewStatusRuleCount(ctx context.Context, filter *RuleFilter) (int64, error) {
	b := &ruleBuilder{}
	b.apply(filter)

	var count int64

	err := m.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_statuses rs WHERE `+strings.Join(b.clauses, " AND "),
		b.args...).Scan(&count)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "counting review status rules")
	}

	return count, nil
}

// RemoveReviewStatusRules bulk-deletes the rules matching the filter and
// returns the removed count. Reports fall back to their in-source verdict
// or unreviewed.
func (m *Manager) RemoveReviewStatusRules(ctx context.Context, filter *RuleFilter) (int64, error) {
	b := &ruleBuilder{}
	b.apply(filter)

	result, err := m.conn.ExecContext(ctx,
		`DELETE FROM review_statuses rs WHERE `+strings.Join(b.clauses, " AND "),
		b.args...)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "removing review status rules")
	}

	removed, err := result.RowsAffected()
	if err != nil {
		removed = 0
	}

	m.logger.Info("Review status rules removed", slog.Int64("count", removed))

	return removed, nil
}
