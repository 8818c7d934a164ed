package query

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/triage-io/triage/internal/report"
	"github.com/triage-io/triage/internal/schema"
	"github.com/triage-io/triage/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type seeder struct {
	t    *testing.T
	db   *sql.DB
	ctx  context.Context
	next int
}

func (s *seeder) run(name string) int64 {
	var id int64

	require.NoError(s.t, s.db.QueryRowContext(s.ctx,
		`INSERT INTO runs (name) VALUES ($1) RETURNING id`, name).Scan(&id))

	return id
}

func (s *seeder) history(runID int64, tag string, storedAt time.Time) int64 {
	var id int64

	require.NoError(s.t, s.db.QueryRowContext(s.ctx, `
		INSERT INTO run_histories (run_id, version_tag, stored_at)
		VALUES ($1, NULLIF($2, ''), $3) RETURNING id
	`, runID, tag, storedAt).Scan(&id))

	return id
}

func (s *seeder) file(path string) int64 {
	s.next++
	hash := storage.HashContent([]byte(fmt.Sprintf("content %d", s.next)))

	_, err := s.db.ExecContext(s.ctx, `
		INSERT INTO file_contents (content_hash, content) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, hash, []byte(fmt.Sprintf("content %d", s.next)))
	require.NoError(s.t, err)

	var id int64

	require.NoError(s.t, s.db.QueryRowContext(s.ctx, `
		INSERT INTO files (filepath, content_hash) VALUES ($1, $2) RETURNING id
	`, path, hash).Scan(&id))

	return id
}

type seedReport struct {
	runID     int64
	fileID    int64
	hash      string
	checker   string
	analyzer  string
	message   string
	severity  report.Severity
	status    report.DetectionStatus
	detected  time.Time
	fixed     *time.Time
	pathLen   int
	inSource  report.ReviewStatus
}

func (s *seeder) report(r seedReport) int64 {
	if r.analyzer == "" {
		r.analyzer = "clangsa"
	}

	if r.severity == "" {
		r.severity = report.SeverityMedium
	}

	if r.detected.IsZero() {
		r.detected = time.Now().Add(-time.Hour)
	}

	var (
		id           int64
		reviewStatus any
	)

	if r.inSource != "" {
		reviewStatus = string(r.inSource)
	}

	require.NoError(s.t, s.db.QueryRowContext(s.ctx, `
		INSERT INTO reports (run_id, file_id, report_hash, checker_id, analyzer_name,
			message, severity, line, col, bug_path_length, detection_status,
			detected_at, fixed_at, review_status, review_in_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, 1, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, r.runID, r.fileID, r.hash, r.checker, r.analyzer, r.message,
		string(r.severity), r.pathLen, string(r.status), r.detected, r.fixed,
		reviewStatus, r.inSource != "").Scan(&id))

	return id
}

func TestQueryStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := storage.SetupTestDatabase(ctx, t, schema.ProductDB)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store, err := NewStore(storage.Wrap(testDB.Connection), discardLogger())
	require.NoError(t, err)

	seed := &seeder{t: t, db: testDB.Connection, ctx: ctx}

	run1 := seed.run("nightly")
	run2 := seed.run("release")

	mainFile := seed.file("/src/main.c")
	vendorFile := seed.file("/src/vendor/lib.c")

	now := time.Now().UTC().Truncate(time.Microsecond)
	fixedAt := now.Add(-30 * time.Minute)

	seed.history(run1, "build-7", now)

	// run1: one high divide-by-zero, one resolved leak, one suppressed.
	seed.report(seedReport{
		runID: run1, fileID: mainFile, hash: "hash-div",
		checker: "core.DivideZero", message: "division by zero",
		severity: report.SeverityHigh, status: report.DetectionNew,
		detected: now.Add(-2 * time.Hour), pathLen: 3,
	})
	seed.report(seedReport{
		runID: run1, fileID: mainFile, hash: "hash-leak",
		checker: "unix.Malloc", message: "memory leak",
		status: report.DetectionResolved,
		detected: now.Add(-3 * time.Hour), fixed: &fixedAt, pathLen: 5,
	})
	seed.report(seedReport{
		runID: run1, fileID: vendorFile, hash: "hash-vendor",
		checker: "core.NullDereference", message: "null deref",
		status: report.DetectionUnresolved, pathLen: 1,
		inSource: report.ReviewFalsePositive,
	})

	// run2 shares the divide-by-zero hash and adds its own report.
	seed.report(seedReport{
		runID: run2, fileID: mainFile, hash: "hash-div",
		checker: "core.DivideZero", message: "division by zero",
		severity: report.SeverityHigh, status: report.DetectionUnresolved, pathLen: 3,
	})
	seed.report(seedReport{
		runID: run2, fileID: mainFile, hash: "hash-rel",
		checker: "core.uninitialized.Assign", message: "garbage value",
		status: report.DetectionNew, pathLen: 2,
	})

	// A rule for the shared hash; the vendor report's in-source comment
	// must still win over any rule.
	_, err = testDB.Connection.ExecContext(ctx, `
		INSERT INTO review_statuses (report_hash, status, message, author)
		VALUES ('hash-div', 'confirmed', 'real bug', 'alice'),
			('hash-vendor', 'confirmed', 'rule loses', 'alice')
	`)
	require.NoError(t, err)

	t.Run("list everything with no runs and no filter", func(t *testing.T) {
		results, err := store.GetRunResults(ctx, nil, 50, 0, nil, &ReportFilter{}, nil)
		require.NoError(t, err)
		assert.Len(t, results, 5)

		count, err := store.GetRunResultCount(ctx, nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)

		counts, err := store.CountBy(ctx, DimChecker, nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts["core.DivideZero"])
	})

	t.Run("filter by checker glob", func(t *testing.T) {
		results, err := store.GetRunResults(ctx, []int64{run1}, 50, 0, nil,
			&ReportFilter{CheckerNames: []string{"core.*"}}, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)
	})

	t.Run("rule applies to all reports with the hash", func(t *testing.T) {
		results, err := store.GetRunResults(ctx, nil, 50, 0, nil,
			&ReportFilter{ReportHashes: []string{"hash-div"}}, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)

		for _, r := range results {
			assert.Equal(t, report.ReviewConfirmed, r.ReviewStatus)
			assert.Equal(t, "real bug", r.ReviewComment)
		}
	})

	t.Run("in-source comment beats the rule", func(t *testing.T) {
		results, err := store.GetRunResults(ctx, []int64{run1}, 50, 0, nil,
			&ReportFilter{ReportHashes: []string{"hash-vendor"}}, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, report.ReviewFalsePositive, results[0].ReviewStatus)
		assert.True(t, results[0].ReviewInSource)
	})

	t.Run("filter by effective review status", func(t *testing.T) {
		count, err := store.GetRunResultCount(ctx, nil,
			&ReportFilter{ReviewStatuses: []report.ReviewStatus{report.ReviewUnreviewed}}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count, "leak and release report carry no verdict")
	})

	t.Run("sort by severity then id", func(t *testing.T) {
		results, err := store.GetRunResults(ctx, []int64{run1}, 50, 0,
			[]SortMode{{Field: SortSeverity, Desc: true}}, nil, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "core.DivideZero", results[0].CheckerID)
	})

	t.Run("unique collapses shared hashes", func(t *testing.T) {
		count, err := store.GetRunResultCount(ctx, []int64{run1, run2},
			&ReportFilter{Unique: true}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(4), count, "hash-div counts once")
	})

	t.Run("bug path length range", func(t *testing.T) {
		min, max := 2, 4

		count, err := store.GetRunResultCount(ctx, []int64{run1},
			&ReportFilter{BugPathLengthMin: &min, BugPathLengthMax: &max}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("component filter excludes vendor code", func(t *testing.T) {
		require.NoError(t, store.SaveComponent(ctx, Component{
			Name:  "app",
			Value: "+/src/*\n-/src/vendor/*",
		}))

		count, err := store.GetRunResultCount(ctx, []int64{run1},
			&ReportFilter{ComponentNames: []string{"app"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("open reports as-of snapshot", func(t *testing.T) {
		at := now.Add(-1 * time.Hour)

		count, err := store.GetRunResultCount(ctx, []int64{run1},
			&ReportFilter{OpenReportsDate: &at}, nil)
		require.NoError(t, err)
		// div (detected -2h, open) + leak (detected -3h, fixed -30m: still
		// open at -1h). The vendor report was detected later.
		assert.Equal(t, int64(2), count)
	})

	t.Run("severity counts", func(t *testing.T) {
		counts, err := store.CountBy(ctx, DimSeverity, []int64{run1}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts["high"])
		assert.Equal(t, int64(2), counts["medium"])
	})

	t.Run("detection status counts", func(t *testing.T) {
		counts, err := store.CountBy(ctx, DimDetectionStatus, []int64{run1}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"new": 1, "resolved": 1, "unresolved": 1}, counts)
	})

	t.Run("compare runs new", func(t *testing.T) {
		results, err := store.GetRunResults(ctx, []int64{run1}, 50, 0, nil, nil,
			&CompareData{RunIDs: []int64{run2}, DiffType: DiffNew})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "hash-rel", results[0].ReportHash)
	})

	t.Run("compare runs unresolved", func(t *testing.T) {
		results, err := store.GetRunResults(ctx, []int64{run1}, 50, 0, nil, nil,
			&CompareData{RunIDs: []int64{run2}, DiffType: DiffUnresolved})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "hash-div", results[0].ReportHash)
	})

	t.Run("compare runs resolved", func(t *testing.T) {
		results, err := store.GetRunResults(ctx, []int64{run1}, 50, 0, nil, nil,
			&CompareData{RunIDs: []int64{run2}, DiffType: DiffResolved})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "hash-vendor", results[0].ReportHash)
	})

	t.Run("diff against client hashes", func(t *testing.T) {
		hashes, err := store.GetDiffResultsHash(ctx, []int64{run1},
			[]string{"hash-div", "hash-local-only"}, DiffNew, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"hash-local-only"}, hashes)

		hashes, err = store.GetDiffResultsHash(ctx, []int64{run1},
			[]string{"hash-div"}, DiffUnresolved, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"hash-div"}, hashes)
	})

	t.Run("run tag pins the snapshot", func(t *testing.T) {
		count, err := store.GetRunResultCount(ctx, []int64{run1},
			&ReportFilter{RunTags: []string{"build-7"}}, nil)
		require.NoError(t, err)
		// At build-7 time the leak was already fixed.
		assert.Equal(t, int64(2), count)
	})

	t.Run("get run data", func(t *testing.T) {
		runs, err := store.GetRunData(ctx, "night*", 50, 0)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "nightly", runs[0].Name)
		assert.Equal(t, int64(3), runs[0].ResultCount)
		assert.Equal(t, int64(2), runs[0].UnresolvedCount)
		assert.Equal(t, "build-7", runs[0].LatestTag)
	})

	t.Run("report details and source data", func(t *testing.T) {
		reportID := seed.report(seedReport{
			runID: run2, fileID: mainFile, hash: "hash-detail",
			checker: "core.DivideZero", message: "division by zero",
			status: report.DetectionNew, pathLen: 1,
		})

		_, err := testDB.Connection.ExecContext(ctx, `
			INSERT INTO bug_path_events (report_id, order_index, file_id,
				start_line, start_col, end_line, end_col, message)
			VALUES ($1, 0, $2, 1, 1, 1, 5, 'assuming zero'),
				($1, 1, $2, 2, 1, 2, 5, 'division by zero')
		`, reportID, mainFile)
		require.NoError(t, err)

		details, err := store.GetReportDetails(ctx, reportID)
		require.NoError(t, err)
		assert.Equal(t, "/src/main.c", details.FilePath)
		require.Len(t, details.Details.Events, 2)
		assert.Equal(t, "division by zero", details.Details.Events[1].Message)

		data, err := store.GetSourceFileData(ctx, mainFile, true, storage.EncodingPlain)
		require.NoError(t, err)
		assert.Equal(t, "/src/main.c", data.FilePath)
		assert.NotEmpty(t, data.Content)

		_, err = store.GetReportDetails(ctx, 99999)
		assert.ErrorIs(t, err, ErrReportNotFound)
	})

	t.Run("remove run garbage collects", func(t *testing.T) {
		victim := seed.run("doomed")
		doomedFile := seed.file("/src/doomed.c")

		seed.report(seedReport{
			runID: victim, fileID: doomedFile, hash: "hash-doomed",
			checker: "core.DivideZero", message: "division by zero",
			status: report.DetectionNew,
		})

		require.NoError(t, store.RemoveRun(ctx, victim))

		var fileCount int
		require.NoError(t, testDB.Connection.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM files WHERE id = $1`, doomedFile).Scan(&fileCount))
		assert.Zero(t, fileCount, "orphaned file row is collected")

		assert.ErrorIs(t, store.RemoveRun(ctx, victim), ErrRunNotFound)
	})
}
