package query

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/lib/pq"

	"github.com/triage-io/triage/internal/apperr"
	"github.com/triage-io/triage/internal/report"
	"github.com/triage-io/triage/internal/storage"
)

// Sentinel errors for the query engine.
var (
	// ErrReportNotFound is returned when no report matches the id.
	ErrReportNotFound = errors.New("report not found")

	// ErrFileNotFound is returned when no file matches the id.
	ErrFileNotFound = errors.New("file not found")

	// ErrRunNotFound is returned when no run matches.
	ErrRunNotFound = errors.New("run not found")
)

// Dimension names an aggregation axis for report counts.
type Dimension string

// Aggregation dimensions.
const (
	DimSeverity        Dimension = "severity"
	DimChecker         Dimension = "checker"
	DimCheckerMsg      Dimension = "checker_msg"
	DimFile            Dimension = "file"
	DimReviewStatus    Dimension = "review_status"
	DimDetectionStatus Dimension = "detection_status"
	DimAnalyzerName    Dimension = "analyzer_name"
	DimRunHistoryTag   Dimension = "run_history_tag"
)

// dimensionExpr maps aggregation axes to SQL expressions.
var dimensionExpr = map[Dimension]string{ //nolint: gochecknoglobals
	DimSeverity:        "r.severity",
	DimChecker:         "r.checker_id",
	DimCheckerMsg:      "r.message",
	DimFile:            "f.filepath",
	DimReviewStatus:    effectiveReviewStatus,
	DimDetectionStatus: "r.detection_status",
	DimAnalyzerName:    "r.analyzer_name",
}

// Store answers report queries over one product database.
type Store struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewStore creates a query store over a product connection.
func NewStore(conn *storage.Connection, logger *slog.Logger) (*Store, error) {
	if conn == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	return &Store{conn: conn, logger: logger}, nil
}

// reportJoin is the FROM clause every report query shares.
const reportJoin = `
	FROM reports r
	JOIN files f ON f.id = r.file_id
	JOIN runs ru ON ru.id = r.run_id
	LEFT JOIN review_statuses rs ON rs.report_hash = r.report_hash
`

// buildWhere renders runs, filter and compare data into the builder. An
// empty run set means every run, so the rendered WHERE is never empty.
func (s *Store) buildWhere(ctx context.Context, b *builder, runIDs []int64, filter *ReportFilter, cmp *CompareData) error {
	b.where("TRUE")

	effectiveRuns := runIDs

	if cmp != nil {
		hashes, listSide, err := s.compareHashes(ctx, runIDs, cmp)
		if err != nil {
			return err
		}

		if len(hashes) == 0 {
			b.where("FALSE")

			return nil
		}

		b.inStrings("TRIM(r.report_hash)", hashes)

		effectiveRuns = listSide
	}

	if len(effectiveRuns) > 0 {
		b.where(`r.run_id = ANY(` + b.arg(pq.Array(effectiveRuns)) + `)`)
	}

	if filter == nil {
		return nil
	}

	var components []Component

	if len(filter.ComponentNames) > 0 {
		var err error

		components, err = s.ListComponents(ctx)
		if err != nil {
			return err
		}
	}

	if err := b.apply(filter, components); err != nil {
		return err
	}

	if filter.Unique {
		// Collapse by hash to the lowest-id representative within the
		// queried runs.
		scope := ""
		if len(effectiveRuns) > 0 {
			scope = ` WHERE r2.run_id = ANY(` + b.arg(pq.Array(effectiveRuns)) + `)`
		}

		b.where(`r.id IN (SELECT MIN(r2.id) FROM reports r2` + scope + ` GROUP BY r2.report_hash)`)
	}

	return nil
}

// openHashes returns the distinct open report hashes of the given runs,
// either "open now" (not resolved/off/unavailable) or open at a wall time.
func (s *Store) openHashes(ctx context.Context, runIDs []int64, at *time.Time, skip []report.DetectionStatus) (map[string]struct{}, error) {
	b := &builder{}

	if len(runIDs) > 0 {
		b.where(`run_id = ANY(` + b.arg(pq.Array(runIDs)) + `)`)
	}

	if at != nil {
		stamp := b.arg(*at)
		b.where(`detected_at <= ` + stamp)
		b.where(`(fixed_at IS NULL OR fixed_at > ` + stamp + `)`)
	} else {
		skipValues := []string{
			string(report.DetectionResolved),
			string(report.DetectionOff),
			string(report.DetectionUnavailable),
		}

		if len(skip) > 0 {
			skipValues = make([]string, len(skip))
			for i, st := range skip {
				skipValues[i] = string(st)
			}
		}

		b.where(`NOT (detection_status = ANY(` + b.arg(pq.Array(skipValues)) + `))`)
	}

	query := `SELECT DISTINCT TRIM(report_hash) FROM reports WHERE ` +
		strings.Join(b.clauses, " AND ")

	rows, err := s.conn.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading open report hashes")
	}

	defer func() {
		_ = rows.Close()
	}()

	hashes := make(map[string]struct{})

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning report hash")
		}

		hashes[h] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating report hashes")
	}

	return hashes, nil
}

// compareHashes evaluates the diff between the base runs and the compare
// runs, returning the surviving hash set and the run set the surviving
// reports are listed from.
func (s *Store) compareHashes(ctx context.Context, baseRuns []int64, cmp *CompareData) ([]string, []int64, error) {
	left, err := s.openHashes(ctx, baseRuns, cmp.OpenReportsDate, nil)
	if err != nil {
		return nil, nil, err
	}

	right, err := s.openHashes(ctx, cmp.RunIDs, cmp.OpenReportsDate, nil)
	if err != nil {
		return nil, nil, err
	}

	var (
		hashes   []string
		listSide []int64
	)

	switch cmp.DiffType {
	case DiffNew:
		for h := range right {
			if _, ok := left[h]; !ok {
				hashes = append(hashes, h)
			}
		}

		listSide = cmp.RunIDs
	case DiffResolved:
		for h := range left {
			if _, ok := right[h]; !ok {
				hashes = append(hashes, h)
			}
		}

		listSide = baseRuns
	case DiffUnresolved:
		for h := range right {
			if _, ok := left[h]; ok {
				hashes = append(hashes, h)
			}
		}

		listSide = cmp.RunIDs
	default:
		return nil, nil, fmt.Errorf("unknown diff type %q", cmp.DiffType)
	}

	return hashes, listSide, nil
}

// Result is one report row with its resolved file path.
type Result struct {
	report.Report

	FilePath string
}

// GetRunResults returns one page of reports.
func (s *Store) GetRunResults(
	ctx context.Context,
	runIDs []int64,
	limit, offset int,
	sorts []SortMode,
	filter *ReportFilter,
	cmp *CompareData,
) ([]Result, error) {
	b := &builder{}

	if err := s.buildWhere(ctx, b, runIDs, filter, cmp); err != nil {
		return nil, err
	}

	query := `
		SELECT r.id, r.run_id, r.file_id, f.filepath, TRIM(r.report_hash),
			r.checker_id, r.analyzer_name, r.message, r.severity,
			r.line, r.col, r.bug_path_length, r.detection_status,
			r.detected_at, r.fixed_at,
			` + effectiveReviewStatus + `,
			CASE WHEN r.review_in_source THEN r.review_message ELSE COALESCE(rs.message, '') END,
			CASE WHEN r.review_in_source THEN r.review_author ELSE COALESCE(rs.author, '') END,
			r.review_in_source
		` + reportJoin + `
		WHERE ` + strings.Join(b.clauses, " AND ") + `
		` + orderBy(sorts) + `
		LIMIT ` + b.arg(ClampLimit(limit)) + ` OFFSET ` + b.arg(max(offset, 0))

	rows, err := s.conn.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "querying run results")
	}

	defer func() {
		_ = rows.Close()
	}()

	var results []Result

	for rows.Next() {
		var (
			r             Result
			severity      string
			detection     string
			review        string
			reviewMessage sql.NullString
			reviewAuthor  sql.NullString
			fixedAt       sql.NullTime
		)

		err := rows.Scan(&r.ID, &r.RunID, &r.FileID, &r.FilePath, &r.ReportHash,
			&r.CheckerID, &r.AnalyzerName, &r.Message, &severity,
			&r.Line, &r.Column, &r.BugPathLength, &detection,
			&r.DetectedAt, &fixedAt,
			&review, &reviewMessage, &reviewAuthor, &r.ReviewInSource)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning report row")
		}

		r.Severity = report.Severity(severity)
		r.DetectionStatus = report.DetectionStatus(detection)
		r.ReviewStatus = report.ReviewStatus(review)
		r.ReviewComment = reviewMessage.String
		r.ReviewAuthor = reviewAuthor.String

		if fixedAt.Valid {
			r.FixedAt = &fixedAt.Time
		}

		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating run results")
	}

	return results, nil
}

// GetRunResultCount returns how many reports match.
func (s *Store) GetRunResultCount(ctx context.Context, runIDs []int64, filter *ReportFilter, cmp *CompareData) (int64, error) {
	b := &builder{}

	if err := s.buildWhere(ctx, b, runIDs, filter, cmp); err != nil {
		return 0, err
	}

	countExpr := "COUNT(*)"
	if filter != nil && filter.Unique {
		countExpr = "COUNT(DISTINCT r.report_hash)"
	}

	query := `SELECT ` + countExpr + reportJoin +
		` WHERE ` + strings.Join(b.clauses, " AND ")

	var count int64

	if err := s.conn.QueryRowContext(ctx, query, b.args...).Scan(&count); err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "counting run results")
	}

	return count, nil
}

// CountBy aggregates matching reports along one dimension.
func (s *Store) CountBy(ctx context.Context, dim Dimension, runIDs []int64, filter *ReportFilter, cmp *CompareData) (map[string]int64, error) {
	if dim == DimRunHistoryTag {
		return s.countByTag(ctx, runIDs, filter, cmp)
	}

	expr, ok := dimensionExpr[dim]
	if !ok {
		return nil, fmt.Errorf("unknown aggregation dimension %q", dim)
	}

	b := &builder{}

	if err := s.buildWhere(ctx, b, runIDs, filter, cmp); err != nil {
		return nil, err
	}

	countExpr := "COUNT(*)"
	if filter != nil && filter.Unique {
		countExpr = "COUNT(DISTINCT r.report_hash)"
	}

	query := `SELECT ` + expr + ` AS dim, ` + countExpr + reportJoin + `
		WHERE ` + strings.Join(b.clauses, " AND ") + `
		GROUP BY dim`

	return s.countQuery(ctx, query, b.args)
}

// countByTag counts open reports per run-history version tag.
func (s *Store) countByTag(ctx context.Context, runIDs []int64, filter *ReportFilter, cmp *CompareData) (map[string]int64, error) {
	b := &builder{}

	if err := s.buildWhere(ctx, b, runIDs, filter, cmp); err != nil {
		return nil, err
	}

	countExpr := "COUNT(*)"
	if filter != nil && filter.Unique {
		countExpr = "COUNT(DISTINCT r.report_hash)"
	}

	query := `SELECT rh.version_tag AS dim, ` + countExpr + reportJoin + `
		JOIN run_histories rh ON rh.run_id = r.run_id
			AND rh.version_tag IS NOT NULL
			AND r.detected_at <= rh.stored_at
			AND (r.fixed_at IS NULL OR r.fixed_at > rh.stored_at)
		WHERE ` + strings.Join(b.clauses, " AND ") + `
		GROUP BY dim`

	return s.countQuery(ctx, query, b.args)
}

func (s *Store) countQuery(ctx context.Context, query string, args []any) (map[string]int64, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "aggregating reports")
	}

	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int64)

	for rows.Next() {
		var (
			dim   string
			count int64
		)

		if err := rows.Scan(&dim, &count); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning aggregate row")
		}

		counts[strings.TrimSpace(dim)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating aggregate rows")
	}

	return counts, nil
}

// GetDiffResultsHash diffs the open hashes of the given runs against a
// client-provided hash list.
func (s *Store) GetDiffResultsHash(
	ctx context.Context,
	runIDs []int64,
	hashes []string,
	diffType DiffType,
	skipStatuses []report.DetectionStatus,
	openDate *time.Time,
) ([]string, error) {
	stored, err := s.openHashes(ctx, runIDs, openDate, skipStatuses)
	if err != nil {
		return nil, err
	}

	provided := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		provided[h] = struct{}{}
	}

	var result []string

	switch diffType {
	case DiffNew:
		for h := range provided {
			if _, ok := stored[h]; !ok {
				result = append(result, h)
			}
		}
	case DiffResolved:
		for h := range stored {
			if _, ok := provided[h]; !ok {
				result = append(result, h)
			}
		}
	case DiffUnresolved:
		for h := range provided {
			if _, ok := stored[h]; ok {
				result = append(result, h)
			}
		}
	default:
		return nil, fmt.Errorf("unknown diff type %q", diffType)
	}

	return result, nil
}

// ReportDetails is the full state of one report.
type ReportDetails struct {
	Report   report.Report
	FilePath string
	Details  report.Details
	Comments []Comment
}

// Comment is one note on a report.
type Comment struct {
	ID        int64
	ReportID  int64
	Author    string
	Message   string
	Kind      string
	CreatedAt time.Time
}

// GetReportDetails loads one report with its bug path and comments.
func (s *Store) GetReportDetails(ctx context.Context, reportID int64) (*ReportDetails, error) {
	details := &ReportDetails{}

	row := s.conn.QueryRowContext(ctx, `
		SELECT r.id, r.run_id, r.file_id, f.filepath, TRIM(r.report_hash),
			r.checker_id, r.analyzer_name, r.message, r.severity,
			r.line, r.col, r.bug_path_length, r.detection_status,
			r.detected_at, r.fixed_at,
			`+effectiveReviewStatus+`,
			r.review_in_source
		`+reportJoin+`
		WHERE r.id = $1
	`, reportID)

	var (
		severity  string
		detection string
		review    string
		fixedAt   sql.NullTime
	)

	r := &details.Report

	err := row.Scan(&r.ID, &r.RunID, &r.FileID, &details.FilePath, &r.ReportHash,
		&r.CheckerID, &r.AnalyzerName, &r.Message, &severity,
		&r.Line, &r.Column, &r.BugPathLength, &detection,
		&r.DetectedAt, &fixedAt, &review, &r.ReviewInSource)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrReportNotFound, reportID)
	}

	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading report %d", reportID)
	}

	r.Severity = report.Severity(severity)
	r.DetectionStatus = report.DetectionStatus(detection)
	r.ReviewStatus = report.ReviewStatus(review)

	if fixedAt.Valid {
		r.FixedAt = &fixedAt.Time
	}

	if err := s.loadPath(ctx, reportID, &details.Details); err != nil {
		return nil, err
	}

	comments, err := s.CommentsForReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	details.Comments = comments

	return details, nil
}

func (s *Store) loadPath(ctx context.Context, reportID int64, d *report.Details) error {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT order_index, file_id, start_line, start_col, end_line, end_col, message
		FROM bug_path_events WHERE report_id = $1 ORDER BY order_index
	`, reportID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "loading bug path events")
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var ev report.PathEvent

		if err := rows.Scan(&ev.Order, &ev.FileID, &ev.StartLine, &ev.StartCol,
			&ev.EndLine, &ev.EndCol, &ev.Message); err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "scanning bug path event")
		}

		d.Events = append(d.Events, ev)
	}

	if err := rows.Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "iterating bug path events")
	}

	posRows, err := s.conn.QueryContext(ctx, `
		SELECT order_index, file_id, start_line, start_col, end_line, end_col
		FROM bug_path_positions WHERE report_id = $1 ORDER BY order_index
	`, reportID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "loading bug path positions")
	}

	defer func() {
		_ = posRows.Close()
	}()

	for posRows.Next() {
		var pos report.PathPosition

		if err := posRows.Scan(&pos.Order, &pos.FileID, &pos.StartLine, &pos.StartCol,
			&pos.EndLine, &pos.EndCol); err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "scanning bug path position")
		}

		d.Positions = append(d.Positions, pos)
	}

	if err := posRows.Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "iterating bug path positions")
	}

	extRows, err := s.conn.QueryContext(ctx, `
		SELECT kind, file_id, start_line, start_col, end_line, end_col, message
		FROM extended_report_data WHERE report_id = $1 ORDER BY id
	`, reportID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "loading extended data")
	}

	defer func() {
		_ = extRows.Close()
	}()

	for extRows.Next() {
		var (
			ext  report.ExtendedData
			kind string
		)

		if err := extRows.Scan(&kind, &ext.FileID, &ext.StartLine, &ext.StartCol,
			&ext.EndLine, &ext.EndCol, &ext.Message); err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "scanning extended data")
		}

		ext.Kind = report.ExtendedDataKind(kind)
		d.Extended = append(d.Extended, ext)
	}

	if err := extRows.Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "iterating extended data")
	}

	return nil
}

// CommentsForReport returns the comments of one report, oldest first.
func (s *Store) CommentsForReport(ctx context.Context, reportID int64) ([]Comment, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, report_id, author, message, kind, created_at
		FROM comments WHERE report_id = $1 ORDER BY created_at, id
	`, reportID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading comments")
	}

	defer func() {
		_ = rows.Close()
	}()

	var comments []Comment

	for rows.Next() {
		var c Comment

		if err := rows.Scan(&c.ID, &c.ReportID, &c.Author, &c.Message, &c.Kind, &c.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning comment")
		}

		comments = append(comments, c)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating comments")
	}

	return comments, nil
}

// SourceFileData is the response of a source file lookup.
type SourceFileData struct {
	FileID      int64
	FilePath    string
	ContentHash string
	Content     []byte
	Encoding    string
}

// GetSourceFileData loads one file row, optionally with its content.
// Encoding "zlib" compresses the returned content.
func (s *Store) GetSourceFileData(ctx context.Context, fileID int64, includeContent bool, encoding string) (*SourceFileData, error) {
	data := &SourceFileData{FileID: fileID, Encoding: storage.EncodingPlain}

	err := s.conn.QueryRowContext(ctx, `
		SELECT filepath, TRIM(content_hash) FROM files WHERE id = $1
	`, fileID).Scan(&data.FilePath, &data.ContentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrFileNotFound, fileID)
	}

	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading file %d", fileID)
	}

	if !includeContent {
		return data, nil
	}

	contentStore, err := storage.NewContentStore(s.conn, s.logger)
	if err != nil {
		return nil, err
	}

	content, err := contentStore.GetContent(ctx, data.ContentHash)
	if err != nil {
		return nil, err
	}

	if encoding == storage.EncodingZlib {
		var buf bytes.Buffer

		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(content); err != nil {
			return nil, apperr.Wrap(apperr.KindIO, err, "compressing file content")
		}

		if err := zw.Close(); err != nil {
			return nil, apperr.Wrap(apperr.KindIO, err, "compressing file content")
		}

		data.Content = buf.Bytes()
		data.Encoding = storage.EncodingZlib

		return data, nil
	}

	data.Content = content

	return data, nil
}

// RunData is one run with its latest storage metadata.
type RunData struct {
	ID              int64
	Name            string
	CreatedAt       time.Time
	LatestDuration  time.Duration
	ResultCount     int64
	LatestStoredAt  *time.Time
	LatestUser      string
	LatestTag       string
	LatestClient    string
	Description     string
	HistoryCount    int64
	UnresolvedCount int64
}

// GetRunData lists runs matching the name pattern ("*" wildcards), newest
// storage first.
func (s *Store) GetRunData(ctx context.Context, namePattern string, limit, offset int) ([]RunData, error) {
	b := &builder{}
	b.where("TRUE")

	if namePattern != "" {
		b.where(`ru.name LIKE ` + b.arg(globToLike(namePattern)))
	}

	query := `
		SELECT ru.id, ru.name, ru.created_at, ru.latest_duration_ms,
			(SELECT COUNT(*) FROM reports r WHERE r.run_id = ru.id) AS result_count,
			(SELECT COUNT(*) FROM reports r WHERE r.run_id = ru.id
				AND r.detection_status IN ('new', 'unresolved', 'reopened')) AS open_count,
			(SELECT COUNT(*) FROM run_histories rh WHERE rh.run_id = ru.id) AS history_count,
			lh.stored_at, lh.username, COALESCE(lh.version_tag, ''), lh.client_version, lh.description
		FROM runs ru
		LEFT JOIN LATERAL (
			SELECT * FROM run_histories rh
			WHERE rh.run_id = ru.id ORDER BY rh.stored_at DESC LIMIT 1
		) lh ON TRUE
		WHERE ` + strings.Join(b.clauses, " AND ") + `
		ORDER BY lh.stored_at DESC NULLS LAST, ru.id
		LIMIT ` + b.arg(ClampLimit(limit)) + ` OFFSET ` + b.arg(max(offset, 0))

	rows, err := s.conn.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "listing runs")
	}

	defer func() {
		_ = rows.Close()
	}()

	var runs []RunData

	for rows.Next() {
		var (
			r          RunData
			durationMS int64
			storedAt   sql.NullTime
			username   sql.NullString
			tag        sql.NullString
			client     sql.NullString
			desc       sql.NullString
		)

		err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt, &durationMS,
			&r.ResultCount, &r.UnresolvedCount, &r.HistoryCount,
			&storedAt, &username, &tag, &client, &desc)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning run row")
		}

		r.LatestDuration = time.Duration(durationMS) * time.Millisecond
		r.LatestUser = username.String
		r.LatestTag = tag.String
		r.LatestClient = client.String
		r.Description = desc.String

		if storedAt.Valid {
			r.LatestStoredAt = &storedAt.Time
		}

		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating runs")
	}

	return runs, nil
}

// RemoveRun deletes a run with everything attached to it, then garbage
// collects file rows and blobs nothing references anymore.
func (s *Store) RemoveRun(ctx context.Context, runID int64) error {
	return s.conn.RunSerializable(ctx, s.logger, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = $1`, runID)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "deleting run %d", runID)
		}

		affected, err := result.RowsAffected()
		if err == nil && affected == 0 {
			return fmt.Errorf("%w: id %d", ErrRunNotFound, runID)
		}

		return collectGarbage(ctx, tx)
	})
}

// RemoveRunReports deletes the reports of the given runs that match the
// filter and garbage collects afterwards. Returns the removed count.
func (s *Store) RemoveRunReports(ctx context.Context, runIDs []int64, filter *ReportFilter) (int64, error) {
	b := &builder{}

	if err := s.buildWhere(ctx, b, runIDs, filter, nil); err != nil {
		return 0, err
	}

	var removed int64

	err := s.conn.RunSerializable(ctx, s.logger, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM reports WHERE id IN (
				SELECT r.id `+reportJoin+` WHERE `+strings.Join(b.clauses, " AND ")+`
			)
		`, b.args...)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "removing run reports")
		}

		removed, err = result.RowsAffected()
		if err != nil {
			removed = 0
		}

		return collectGarbage(ctx, tx)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Run reports removed", slog.Int64("count", removed))

	return removed, nil
}

// collectGarbage removes file rows no report references and blobs no file
// references.
func collectGarbage(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM files f
		WHERE NOT EXISTS (SELECT 1 FROM reports r WHERE r.file_id = f.id)
			AND NOT EXISTS (SELECT 1 FROM bug_path_events e WHERE e.file_id = f.id)
			AND NOT EXISTS (SELECT 1 FROM bug_path_positions p WHERE p.file_id = f.id)
			AND NOT EXISTS (SELECT 1 FROM extended_report_data x WHERE x.file_id = f.id)
	`)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "collecting orphan files")
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM file_contents fc
		WHERE NOT EXISTS (SELECT 1 FROM files f WHERE f.content_hash = fc.content_hash)
	`)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "collecting orphan blobs")
	}

	return nil
}
