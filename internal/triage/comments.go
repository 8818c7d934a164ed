package triage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/triage-io/triage/internal/apperr"
)

// Comment kinds. SYSTEM comments are written by the service on review
// status transitions and are immutable.
const (
	CommentUser   = "user"
	CommentSystem = "system"
)

// Sentinel errors for comment operations.
var (
	// ErrCommentNotFound is returned when no comment matches the id.
	ErrCommentNotFound = errors.New("comment not found")

	// ErrEmptyComment is returned for a blank comment message.
	ErrEmptyComment = errors.New("comment message is empty")

	// ErrNotCommentAuthor is returned when a non-admin actor edits someone
	// else's comment.
	ErrNotCommentAuthor = errors.New("comment belongs to another author")

	// ErrSystemComment is returned when an actor edits a SYSTEM comment.
	ErrSystemComment = errors.New("system comments cannot be modified")
)

// Comment is one note on a report.
type Comment struct {
	ID        int64
	ReportID  int64
	Author    string
	Message   string
	Kind      string
	CreatedAt time.Time
}

// AddComment attaches a USER comment to a report.
func (m *Manager) AddComment(ctx context.Context, reportID int64, actor Actor, message string) (int64, error) {
	if strings.TrimSpace(message) == "" {
		return 0, ErrEmptyComment
	}

	var id int64

	err := m.conn.QueryRowContext(ctx, `
		INSERT INTO comments (report_id, author, message, kind)
		SELECT $1, $2, $3, 'user' WHERE EXISTS (SELECT 1 FROM reports WHERE id = $1)
		RETURNING id
	`, reportID, actor.Name, message).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: id %d", ErrReportNotFound, reportID)
	}

	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "adding comment to report %d", reportID)
	}

	return id, nil
}

// UpdateComment rewrites a USER comment's message. Only the author or a
// product administrator may edit it.
func (m *Manager) UpdateComment(ctx context.Context, commentID int64, actor Actor, message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyComment
	}

	return m.mutateComment(ctx, commentID, actor, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE comments SET message = $2 WHERE id = $1`, commentID, message)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "updating comment %d", commentID)
		}

		return nil
	})
}

// RemoveComment deletes a USER comment. Only the author or a product
// administrator may remove it.
func (m *Manager) RemoveComment(ctx context.Context, commentID int64, actor Actor) error {
	return m.mutateComment(ctx, commentID, actor, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM comments WHERE id = $1`, commentID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "removing comment %d", commentID)
		}

		return nil
	})
}

// mutateComment enforces the author-or-admin rule before applying fn.
func (m *Manager) mutateComment(ctx context.Context, commentID int64, actor Actor, fn func(tx *sql.Tx) error) error {
	return m.conn.RunSerializable(ctx, m.logger, func(tx *sql.Tx) error {
		var (
			author string
			kind   string
		)

		err := tx.QueryRowContext(ctx,
			`SELECT author, kind FROM comments WHERE id = $1 FOR UPDATE`,
			commentID).Scan(&author, &kind)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", ErrCommentNotFound, commentID)
		}

		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "loading comment %d", commentID)
		}

		if kind == CommentSystem {
			return ErrSystemComment
		}

		if author != actor.Name && !actor.Admin {
			return ErrNotCommentAuthor
		}

		return fn(tx)
	})
}

// GetComments returns the comments of one report, newest first.
func (m *Manager) GetComments(ctx context.Context, reportID int64) ([]Comment, error) {
	rows, err := m.conn.QueryContext(ctx, `
		SELECT id, report_id, author, message, kind, created_at
		FROM comments WHERE report_id = $1 ORDER BY created_at DESC, id DESC
	`, reportID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading comments of report %d", reportID)
	}

	defer func() {
		_ = rows.Close()
	}()

	var comments []Comment

	for rows.Next() {
		var c Comment

		if err := rows.Scan(&c.ID, &c.ReportID, &c.Author, &c.Message,
			&c.Kind, &c.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning comment")
		}

		comments = append(comments, c)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating comments")
	}

	return comments, nil
}

// GetCommentCount returns how many comments a report carries.
func (m *Manager) GetCommentCount(ctx context.Context, reportID int64) (int64, error) {
	var count int64

	err := m.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE report_id = $1`, reportID).Scan(&count)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "counting comments of report %d", reportID)
	}

	return count, nil
}
