// Package ingest implements the store pipeline: bundle decoding, file
// resolution, report canonicalization and the detection-status
// reconciliation, all committed in one serializable transaction per run.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/triage-io/triage/internal/apperr"
	"github.com/triage-io/triage/internal/bundle"
	"github.com/triage-io/triage/internal/events"
	"github.com/triage-io/triage/internal/product"
	"github.com/triage-io/triage/internal/report"
	"github.com/triage-io/triage/internal/storage"
	"github.com/triage-io/triage/internal/task"
)

// Sentinel errors for the ingestion engine.
var (
	// ErrEmptyRunName is returned when the run name is blank.
	ErrEmptyRunName = errors.New("run name cannot be empty")

	// ErrAlreadyRunning is returned when another store for the same run
	// holds the ingestion lock.
	ErrAlreadyRunning = errors.New("a store is already running for this run")

	// ErrMissingFile is returned when a referenced source file is neither
	// shipped in the bundle nor already stored.
	ErrMissingFile = errors.New("referenced source file is not available")

	// ErrRunLimit is returned when storing a new run would exceed the
	// product's run limit.
	ErrRunLimit = errors.New("run limit reached for product")
)

// TaskKindStore is the task kind of bundle ingestions.
const TaskKindStore = "report_store"

// cancelBatchSize is how many report hashes are applied between
// cooperative cancel polls.
const cancelBatchSize = 100

// Params are the inputs of one mass store call.
type Params struct {
	RunName       string
	Tag           string
	Description   string
	ClientVersion string
	// AnalysisDurationMS is the client-measured analysis wall time. When
	// zero, the ingestion time is recorded instead.
	AnalysisDurationMS int64
	Data               []byte
	Force              bool
	TrimPrefixes       []string
	Actor              string
}

// Config tunes the engine.
type Config struct {
	// MaxBundleSize rejects oversized uploads before a task is created.
	MaxBundleSize int64
	// DefaultRunLimit applies to products with no run limit of their own.
	// Zero means unlimited.
	DefaultRunLimit int
}

// Engine coordinates background bundle ingestions.
type Engine struct {
	registry *product.Registry
	manager  *task.Manager
	notifier *events.Notifier
	config   Config
	logger   *slog.Logger
}

// NewEngine creates an ingestion engine. The notifier may be nil.
func NewEngine(
	registry *product.Registry,
	manager *task.Manager,
	notifier *events.Notifier,
	config Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry: registry,
		manager:  manager,
		notifier: notifier,
		config:   config,
		logger:   logger,
	}
}

// MassStoreRun validates the upload, registers a background task and
// returns its token. The ingestion itself runs on the task worker pool.
func (e *Engine) MassStoreRun(ctx context.Context, endpoint string, p Params) (string, error) {
	if strings.TrimSpace(p.RunName) == "" {
		return "", apperr.Wrap(apperr.KindReportFormat, ErrEmptyRunName, "rejecting store")
	}

	if e.config.MaxBundleSize > 0 && int64(len(p.Data)) > e.config.MaxBundleSize {
		return "", apperr.Wrap(apperr.KindIO, bundle.ErrBundleTooLarge,
			"bundle is %d bytes, limit is %d", len(p.Data), e.config.MaxBundleSize)
	}

	handle, err := e.registry.Open(ctx, endpoint)
	if err != nil {
		return "", err
	}

	record := &task.Task{
		Kind:      TaskKindStore,
		ProductID: &handle.Product.ID,
		Actor:     p.Actor,
		Summary:   fmt.Sprintf("storing run %q into product %q", p.RunName, endpoint),
	}

	token, err := e.manager.Submit(ctx, record, func(jobCtx context.Context, beat *task.Beat) (string, error) {
		return e.store(jobCtx, handle, beat, p)
	})
	if err != nil {
		return "", err
	}

	e.logger.Info("Store accepted",
		slog.String("product", endpoint),
		slog.String("run_name", p.RunName),
		slog.String("token", token),
		slog.Int("bundle_bytes", len(p.Data)),
	)

	return token, nil
}

type storeResult struct {
	runID       int64
	reportCount int
}

// store is the task body: decode, persist contents, then run the
// transactional pipeline.
func (e *Engine) store(ctx context.Context, handle *product.Handle, beat *task.Beat, p Params) (string, error) {
	startTime := time.Now()

	b, err := bundle.Open(p.Data, e.config.MaxBundleSize)
	if err != nil {
		return "", err
	}

	// Shipped sources are written outside the run transaction: blobs are
	// deduplicated and harmless to keep if the store later fails.
	hashes, err := e.storeContents(ctx, handle, b)
	if err != nil {
		return "", err
	}

	var result storeResult

	err = handle.Conn.RunSerializable(ctx, e.logger, func(tx *sql.Tx) error {
		return e.storeTx(ctx, tx, beat, handle.Product, b, hashes, p, startTime, &result)
	})
	if err != nil {
		return "", err
	}

	e.notifier.PublishStored(ctx, events.StoreEvent{
		Product:     handle.Product.Endpoint,
		RunName:     p.RunName,
		RunID:       result.runID,
		VersionTag:  p.Tag,
		ReportCount: result.reportCount,
		StoredAt:    time.Now(),
	})

	e.logger.Info("Run stored",
		slog.String("product", handle.Product.Endpoint),
		slog.String("run_name", p.RunName),
		slog.Int64("run_id", result.runID),
		slog.Int("report_count", result.reportCount),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return fmt.Sprintf("stored run %q: %d reports", p.RunName, result.reportCount), nil
}

// storeContents persists every shipped source blob and returns the
// path -> content hash map.
func (e *Engine) storeContents(ctx context.Context, handle *product.Handle, b *bundle.Bundle) (map[string]string, error) {
	store, err := storage.NewContentStore(handle.Conn, e.logger)
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string, len(b.Sources))

	for path, content := range b.Sources {
		hash := storage.HashContent(content)

		if err := store.PutContent(ctx, hash, content, storage.EncodingPlain); err != nil {
			return nil, err
		}

		hashes[path] = hash
	}

	return hashes, nil
}

// incoming is one canonicalized report waiting to be written.
type incoming struct {
	finding   *report.Finding
	hash      string
	fileID    int64
	details   *report.Details
	srcReview *report.SourceComment
}

// storeTx is the serializable ingestion transaction: lock, resolve,
// canonicalize, reconcile, write, count.
func (e *Engine) storeTx(
	ctx context.Context,
	tx *sql.Tx,
	beat *task.Beat,
	prod *product.Product,
	b *bundle.Bundle,
	shipped map[string]string,
	p Params,
	started time.Time,
	result *storeResult,
) error {
	if err := acquireRunLock(ctx, tx, p.RunName); err != nil {
		return err
	}

	trimmer := report.NewPathTrimmer(p.TrimPrefixes)

	fileIDs, err := resolveFiles(ctx, tx, b, shipped, trimmer)
	if err != nil {
		return err
	}

	reports, err := canonicalize(b, fileIDs)
	if err != nil {
		return err
	}

	if beat.Cancelled(ctx) {
		return task.ErrCancelled
	}

	runID, err := e.upsertRun(ctx, tx, prod, p.RunName)
	if err != nil {
		return err
	}

	historyID, err := insertRunHistory(ctx, tx, runID, b, p)
	if err != nil {
		return err
	}

	prev, err := loadPrevReports(ctx, tx, runID)
	if err != nil {
		return err
	}

	incomingSet := make(map[string]struct{}, len(reports))
	for hash := range reports {
		incomingSet[hash] = struct{}{}
	}

	now := time.Now().UTC()
	transitions := Reconcile(prev, incomingSet, b.Metadata.CheckerConfig, now)

	if err := applyTransitions(ctx, tx, beat, runID, reports, prev, transitions, p.Force); err != nil {
		return err
	}

	if err := insertAnalysisInfo(ctx, tx, historyID, b.Statistics); err != nil {
		return err
	}

	if err := refreshHistoryCounters(ctx, tx, runID, historyID); err != nil {
		return err
	}

	durationMS := p.AnalysisDurationMS
	if durationMS <= 0 {
		durationMS = time.Since(started).Milliseconds()
	}

	if err := updateRunDuration(ctx, tx, runID, durationMS); err != nil {
		return err
	}

	result.runID = runID
	result.reportCount = len(reports)

	return nil
}

// acquireRunLock serializes concurrent stores of the same run. The lock is
// transaction-scoped: commit or rollback releases it.
func acquireRunLock(ctx context.Context, tx *sql.Tx, runName string) error {
	var locked bool

	err := tx.QueryRowContext(ctx,
		`SELECT pg_try_advisory_xact_lock(hashtext($1))`, runName).Scan(&locked)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "acquiring run lock")
	}

	if !locked {
		return fmt.Errorf("%w: %q", ErrAlreadyRunning, runName)
	}

	return nil
}

// resolveFiles maps every referenced source path to a stored file id.
// Paths are trimmed before storage; the returned map is keyed by the
// original (untrimmed) path the findings use.
func resolveFiles(
	ctx context.Context,
	tx *sql.Tx,
	b *bundle.Bundle,
	shipped map[string]string,
	trimmer *report.PathTrimmer,
) (map[string]int64, error) {
	paths := referencedPaths(b)
	fileIDs := make(map[string]int64, len(paths))

	for _, path := range paths {
		trimmed := trimmer.Trim(path)

		hash, ok := shipped[path]
		if !ok {
			// Not shipped: the client asserted a file with this path is
			// already stored from an earlier run.
			err := tx.QueryRowContext(ctx, `
				SELECT content_hash FROM files
				WHERE filepath = $1 ORDER BY id DESC LIMIT 1
			`, trimmed).Scan(&hash)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.Wrap(apperr.KindIO, ErrMissingFile, "%s", path)
			}

			if err != nil {
				return nil, apperr.Wrap(apperr.KindDatabase, err, "resolving file %s", path)
			}
		}

		var fileID int64

		err := tx.QueryRowContext(ctx, `
			INSERT INTO files (filepath, content_hash)
			VALUES ($1, $2)
			ON CONFLICT (filepath, content_hash) DO UPDATE SET filepath = EXCLUDED.filepath
			RETURNING id
		`, trimmed, hash).Scan(&fileID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "registering file %s", trimmed)
		}

		fileIDs[path] = fileID
	}

	return fileIDs, nil
}

// referencedPaths collects every source path the bundle's findings touch,
// deduplicated, in first-seen order.
func referencedPaths(b *bundle.Bundle) []string {
	seen := make(map[string]struct{})

	var paths []string

	add := func(path string) {
		if path == "" {
			return
		}

		if _, ok := seen[path]; ok {
			return
		}

		seen[path] = struct{}{}
		paths = append(paths, path)
	}

	for i := range b.Findings {
		f := &b.Findings[i]

		add(f.FilePath)

		for _, ev := range f.Events {
			add(ev.FilePath)
		}

		for _, pos := range f.Positions {
			add(pos.FilePath)
		}

		for _, ext := range f.Extended {
			add(ext.FilePath)
		}
	}

	return paths
}

// canonicalize validates and normalizes every finding, computes report
// hashes and parses in-source review comments. Findings with an already
// seen hash are dropped (dedup within one ingestion).
func canonicalize(b *bundle.Bundle, fileIDs map[string]int64) (map[string]*incoming, error) {
	resolve := func(path string) (int64, error) {
		id, ok := fileIDs[path]
		if !ok {
			return 0, apperr.Wrap(apperr.KindIO, ErrMissingFile, "%s", path)
		}

		return id, nil
	}

	reports := make(map[string]*incoming, len(b.Findings))

	for i := range b.Findings {
		f := &b.Findings[i]

		if err := report.Validate(f); err != nil {
			return nil, err
		}

		lastEvent := f.Events[len(f.Events)-1]
		sourceLine := lineAt(b.Sources[lastEvent.FilePath], lastEvent.StartLine)

		hash := report.Hash(f, sourceLine)
		if _, ok := reports[hash]; ok {
			continue
		}

		details, err := report.CanonicalPath(f, resolve)
		if err != nil {
			return nil, err
		}

		entry := &incoming{
			finding: f,
			hash:    hash,
			fileID:  fileIDs[f.FilePath],
			details: details,
		}

		if content, ok := b.Sources[f.FilePath]; ok {
			comments, err := report.ParseSourceComments(string(content), f.Line)
			if err != nil {
				return nil, err
			}

			if match, ok := report.MatchSourceComment(comments, f.CheckerID); ok {
				entry.srcReview = &match
			}
		}

		reports[hash] = entry
	}

	return reports, nil
}

// lineAt returns the 1-based line of the content, or "" when unavailable.
func lineAt(content []byte, line int) string {
	if len(content) == 0 || line < 1 {
		return ""
	}

	lines := strings.Split(string(content), "\n")
	if line > len(lines) {
		return ""
	}

	return lines[line-1]
}

// upsertRun finds or creates the run row, enforcing the run limit on
// creation.
func (e *Engine) upsertRun(ctx context.Context, tx *sql.Tx, prod *product.Product, runName string) (int64, error) {
	var runID int64

	err := tx.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE name = $1`, runName).Scan(&runID)
	if err == nil {
		return runID, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "looking up run %q", runName)
	}

	limit := prod.RunLimit
	if limit == 0 {
		limit = e.config.DefaultRunLimit
	}

	if limit > 0 {
		var count int

		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM runs`).Scan(&count); err != nil {
			return 0, apperr.Wrap(apperr.KindDatabase, err, "counting runs")
		}

		if count >= limit {
			return 0, fmt.Errorf("%w: %d", ErrRunLimit, limit)
		}
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO runs (name) VALUES ($1) RETURNING id`, runName).Scan(&runID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "creating run %q", runName)
	}

	return runID, nil
}

func insertRunHistory(ctx context.Context, tx *sql.Tx, runID int64, b *bundle.Bundle, p Params) (int64, error) {
	clientVersion := p.ClientVersion
	if clientVersion == "" {
		clientVersion = b.Metadata.ClientVersion
	}

	var tag sql.NullString
	if p.Tag != "" {
		tag = sql.NullString{String: p.Tag, Valid: true}
	}

	var historyID int64

	err := tx.QueryRowContext(ctx, `
		INSERT INTO run_histories (run_id, version_tag, username, client_version, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, runID, tag, p.Actor, clientVersion, p.Description).Scan(&historyID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "creating run history")
	}

	return historyID, nil
}

// updateRunDuration records the latest store's duration on the run row.
func updateRunDuration(ctx context.Context, tx *sql.Tx, runID, durationMS int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE runs SET latest_duration_ms = $2 WHERE id = $1`, runID, durationMS)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "recording run duration")
	}

	return nil
}

func loadPrevReports(ctx context.Context, tx *sql.Tx, runID int64) (map[string]PrevReport, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, report_hash, checker_id, analyzer_name, detection_status, detected_at, fixed_at
		FROM reports WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading previous reports")
	}

	defer func() {
		_ = rows.Close()
	}()

	prev := make(map[string]PrevReport)

	for rows.Next() {
		var (
			r       PrevReport
			hash    string
			status  string
			fixedAt sql.NullTime
		)

		if err := rows.Scan(&r.ID, &hash, &r.CheckerID, &r.AnalyzerName, &status, &r.DetectedAt, &fixedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning previous report")
		}

		r.Status = report.DetectionStatus(status)

		if fixedAt.Valid {
			r.FixedAt = &fixedAt.Time
		}
		prev[strings.TrimSpace(hash)] = r
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating previous reports")
	}

	return prev, nil
}

// applyTransitions writes the reconciled state: upserts for hashes in the
// new analysis, status flips (or removal under force) for disappeared ones.
func applyTransitions(
	ctx context.Context,
	tx *sql.Tx,
	beat *task.Beat,
	runID int64,
	reports map[string]*incoming,
	prev map[string]PrevReport,
	transitions map[string]Transition,
	force bool,
) error {
	applied := 0

	for hash, transition := range transitions {
		if applied%cancelBatchSize == 0 && beat.Cancelled(ctx) {
			return task.ErrCancelled
		}

		applied++

		entry, isNew := reports[hash]
		if isNew {
			old, existed := prev[hash]

			reportID, err := upsertReport(ctx, tx, runID, entry, transition, old.ID, existed)
			if err != nil {
				return err
			}

			if err := insertDetails(ctx, tx, reportID, entry); err != nil {
				return err
			}

			continue
		}

		old := prev[hash]

		if force && transition.Status == report.DetectionResolved {
			// Force replaces the run: disappeared reports go away instead
			// of resolving.
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM reports WHERE id = $1`, old.ID); err != nil {
				return apperr.Wrap(apperr.KindDatabase, err, "removing replaced report")
			}

			continue
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE reports SET detection_status = $2, fixed_at = $3 WHERE id = $1
		`, old.ID, transition.Status, transition.FixedAt)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "updating detection status")
		}
	}

	return nil
}

func upsertReport(
	ctx context.Context,
	tx *sql.Tx,
	runID int64,
	entry *incoming,
	transition Transition,
	prevID int64,
	existed bool,
) (int64, error) {
	f := entry.finding

	severity := f.Severity
	if severity == "" {
		severity = report.SeverityUnspecified
	}

	var reviewStatus, reviewMessage, reviewAuthor sql.NullString

	inSource := false
	if entry.srcReview != nil {
		inSource = true
		reviewStatus = sql.NullString{String: string(entry.srcReview.Status), Valid: true}
		reviewMessage = sql.NullString{String: entry.srcReview.Message, Valid: true}
		reviewAuthor = sql.NullString{String: "in-source", Valid: true}
	}

	if existed {
		_, err := tx.ExecContext(ctx, `
			UPDATE reports
			SET file_id = $2, checker_id = $3, analyzer_name = $4, message = $5,
				severity = $6, line = $7, col = $8, bug_path_length = $9,
				detection_status = $10, detected_at = $11, fixed_at = NULL,
				review_status = $12, review_message = $13, review_author = $14,
				review_in_source = $15
			WHERE id = $1
		`, prevID, entry.fileID, f.CheckerID, f.AnalyzerName, f.Message,
			severity, f.Line, f.Column, report.PathLength(entry.details),
			transition.Status, transition.DetectedAt,
			reviewStatus, reviewMessage, reviewAuthor, inSource)
		if err != nil {
			return 0, apperr.Wrap(apperr.KindDatabase, err, "updating report %s", entry.hash)
		}

		// The bug path is replaced wholesale; it may differ run to run.
		for _, table := range []string{"bug_path_events", "bug_path_positions", "extended_report_data", "report_annotations"} {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE report_id = $1`, prevID); err != nil {
				return 0, apperr.Wrap(apperr.KindDatabase, err, "clearing %s", table)
			}
		}

		return prevID, nil
	}

	var reportID int64

	err := tx.QueryRowContext(ctx, `
		INSERT INTO reports (run_id, file_id, report_hash, checker_id, analyzer_name,
			message, severity, line, col, bug_path_length, detection_status,
			detected_at, review_status, review_message, review_author, review_in_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`, runID, entry.fileID, entry.hash, f.CheckerID, f.AnalyzerName,
		f.Message, severity, f.Line, f.Column, report.PathLength(entry.details),
		transition.Status, transition.DetectedAt,
		reviewStatus, reviewMessage, reviewAuthor, inSource).Scan(&reportID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, err, "inserting report %s", entry.hash)
	}

	return reportID, nil
}

func insertDetails(ctx context.Context, tx *sql.Tx, reportID int64, entry *incoming) error {
	for _, ev := range entry.details.Events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bug_path_events (report_id, order_index, file_id,
				start_line, start_col, end_line, end_col, message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, reportID, ev.Order, ev.FileID, ev.StartLine, ev.StartCol, ev.EndLine, ev.EndCol, ev.Message)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "inserting bug path event")
		}
	}

	for _, pos := range entry.details.Positions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bug_path_positions (report_id, order_index, file_id,
				start_line, start_col, end_line, end_col)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, reportID, pos.Order, pos.FileID, pos.StartLine, pos.StartCol, pos.EndLine, pos.EndCol)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "inserting bug path position")
		}
	}

	for _, ext := range entry.details.Extended {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO extended_report_data (report_id, kind, file_id,
				start_line, start_col, end_line, end_col, message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, reportID, ext.Kind, ext.FileID, ext.StartLine, ext.StartCol, ext.EndLine, ext.EndCol, ext.Message)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "inserting extended data")
		}
	}

	for key, value := range entry.finding.Annotations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO report_annotations (report_id, key, value)
			VALUES ($1, $2, $3)
		`, reportID, key, value)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "inserting annotation %s", key)
		}
	}

	return nil
}

func insertAnalysisInfo(ctx context.Context, tx *sql.Tx, historyID int64, stats []bundle.AnalyzerStatistics) error {
	for _, st := range stats {
		var failedFiles any

		if len(st.FailedFilePaths) > 0 {
			encoded, err := json.Marshal(st.FailedFilePaths)
			if err != nil {
				return fmt.Errorf("failed to encode failed file list: %w", err)
			}

			failedFiles = encoded
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_info (run_history_id, analyzer_name, version, successful, failed, failed_files)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, historyID, st.AnalyzerName, st.Version, st.Successful, st.Failed, failedFiles)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, err, "inserting analyzer statistics")
		}
	}

	return nil
}

// refreshHistoryCounters fills the per-status aggregate counts of the new
// run history row from the reconciled reports table.
func refreshHistoryCounters(ctx context.Context, tx *sql.Tx, runID, historyID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE run_histories SET
			new_count         = counts.new_count,
			resolved_count    = counts.resolved_count,
			unresolved_count  = counts.unresolved_count,
			reopened_count    = counts.reopened_count,
			off_count         = counts.off_count,
			unavailable_count = counts.unavailable_count
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE detection_status = 'new')         AS new_count,
				COUNT(*) FILTER (WHERE detection_status = 'resolved')    AS resolved_count,
				COUNT(*) FILTER (WHERE detection_status = 'unresolved')  AS unresolved_count,
				COUNT(*) FILTER (WHERE detection_status = 'reopened')    AS reopened_count,
				COUNT(*) FILTER (WHERE detection_status = 'off')         AS off_count,
				COUNT(*) FILTER (WHERE detection_status = 'unavailable') AS unavailable_count
			FROM reports WHERE run_id = $1
		) AS counts
		WHERE run_histories.id = $2
	`, runID, historyID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "refreshing run history counters")
	}

	return nil
}
