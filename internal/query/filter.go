// Package query implements the report query surface: filtered and sorted
// report listings, aggregation counts, run diffs and report details.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/triage-io/triage/internal/report"
)

// MaxQuerySize caps the page size of every list operation.
const MaxQuerySize = 500

// ClampLimit forces a page size into [1, MaxQuerySize]. Zero and negative
// values pick the maximum.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxQuerySize {
		return MaxQuerySize
	}

	return limit
}

// AnnotationFilter selects reports carrying an annotation. Values listed
// under the same key are alternatives; distinct keys must all match.
type AnnotationFilter struct {
	Key   string
	Value string
}

// ReportFilter narrows a report query. Fields combine with AND; the values
// inside one list field combine with OR. Path-valued fields accept "*" and
// "?" wildcards.
type ReportFilter struct {
	FilePaths         []string
	CheckerMessages   []string
	CheckerNames      []string
	ReportHashes      []string
	Severities        []report.Severity
	ReviewStatuses    []report.ReviewStatus
	DetectionStatuses []report.DetectionStatus
	RunNames          []string
	RunTags           []string
	ComponentNames    []string
	AnalyzerNames     []string
	CleanupPlanNames  []string
	Annotations       []AnnotationFilter

	BugPathLengthMin *int
	BugPathLengthMax *int

	DetectedAfter  *time.Time
	DetectedBefore *time.Time
	FixedAfter     *time.Time
	FixedBefore    *time.Time

	// OpenReportsDate restricts to reports open at the given instant:
	// detected before it and not yet fixed at it.
	OpenReportsDate *time.Time

	// Unique collapses rows by report hash, keeping the lowest-id
	// representative.
	Unique bool
}

// DiffType selects which side of a run comparison survives.
type DiffType string

// Diff types.
const (
	DiffNew        DiffType = "new"
	DiffResolved   DiffType = "resolved"
	DiffUnresolved DiffType = "unresolved"
)

// CompareData adds a second run set to a query: the result is restricted
// to hashes NEW / RESOLVED / UNRESOLVED relative to it.
type CompareData struct {
	RunIDs          []int64
	DiffType        DiffType
	OpenReportsDate *time.Time
}

// SortField names a sortable report attribute.
type SortField string

// Sortable fields.
const (
	SortFilename        SortField = "filename"
	SortCheckerName     SortField = "checker_name"
	SortSeverity        SortField = "severity"
	SortReviewStatus    SortField = "review_status"
	SortDetectionStatus SortField = "detection_status"
	SortBugPathLength   SortField = "bug_path_length"
	SortTimestamp       SortField = "timestamp"
)

// SortMode is one sort key with its direction.
type SortMode struct {
	Field SortField
	Desc  bool
}

// effectiveReviewStatus is the SQL expression for the review status a
// report presents: an in-source comment wins, then the stored rule, then
// unreviewed.
const effectiveReviewStatus = `COALESCE(` +
	`CASE WHEN r.review_in_source THEN r.review_status END, ` +
	`rs.status, 'unreviewed')`

// severityRank orders severities semantically rather than alphabetically.
const severityRank = `CASE r.severity
	WHEN 'unspecified' THEN 0 WHEN 'style' THEN 1 WHEN 'low' THEN 2
	WHEN 'medium' THEN 3 WHEN 'high' THEN 4 WHEN 'critical' THEN 5 END`

// sortExpr maps sort fields to SQL expressions.
var sortExpr = map[SortField]string{ //nolint: gochecknoglobals
	SortFilename:        "f.filepath",
	SortCheckerName:     "r.checker_id",
	SortSeverity:        severityRank,
	SortReviewStatus:    effectiveReviewStatus,
	SortDetectionStatus: "r.detection_status",
	SortBugPathLength:   "r.bug_path_length",
	SortTimestamp:       "r.detected_at",
}

// builder accumulates WHERE clauses and their placeholder arguments.
type builder struct {
	clauses []string
	args    []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)

	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) where(clause string) {
	b.clauses = append(b.clauses, clause)
}

// globToLike converts "*"/"?" wildcards to SQL LIKE syntax.
func globToLike(pattern string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`, "*", "%", "?", "_")

	return replacer.Replace(pattern)
}

// likeAny emits an OR of LIKE predicates over the patterns.
func (b *builder) likeAny(column string, patterns []string) {
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = column + ` LIKE ` + b.arg(globToLike(p))
	}

	b.where("(" + strings.Join(parts, " OR ") + ")")
}

func (b *builder) inStrings(column string, values []string) {
	b.where(column + ` = ANY(` + b.arg(pq.Array(values)) + `)`)
}

// apply renders the filter into WHERE clauses. components carries the
// pre-loaded source component definitions the filter names.
func (b *builder) apply(f *ReportFilter, components []Component) error {
	if len(f.FilePaths) > 0 {
		b.likeAny("f.filepath", f.FilePaths)
	}

	if len(f.CheckerMessages) > 0 {
		b.likeAny("r.message", f.CheckerMessages)
	}

	if len(f.CheckerNames) > 0 {
		b.likeAny("r.checker_id", f.CheckerNames)
	}

	if len(f.ReportHashes) > 0 {
		b.inStrings("r.report_hash", f.ReportHashes)
	}

	if len(f.AnalyzerNames) > 0 {
		b.inStrings("r.analyzer_name", f.AnalyzerNames)
	}

	if len(f.Severities) > 0 {
		values := make([]string, len(f.Severities))
		for i, s := range f.Severities {
			values[i] = string(s)
		}

		b.inStrings("r.severity", values)
	}

	if len(f.DetectionStatuses) > 0 {
		values := make([]string, len(f.DetectionStatuses))
		for i, s := range f.DetectionStatuses {
			values[i] = string(s)
		}

		b.inStrings("r.detection_status", values)
	}

	if len(f.ReviewStatuses) > 0 {
		values := make([]string, len(f.ReviewStatuses))
		for i, s := range f.ReviewStatuses {
			values[i] = string(s)
		}

		b.inStrings(effectiveReviewStatus, values)
	}

	if len(f.RunNames) > 0 {
		b.likeAny("ru.name", f.RunNames)
	}

	if len(f.RunTags) > 0 {
		// A tag pins the run to the state at its storage event.
		b.where(`EXISTS (
			SELECT 1 FROM run_histories rh
			WHERE rh.run_id = r.run_id
				AND rh.version_tag = ANY(` + b.arg(pq.Array(f.RunTags)) + `)
				AND r.detected_at <= rh.stored_at
				AND (r.fixed_at IS NULL OR r.fixed_at > rh.stored_at)
		)`)
	}

	if len(f.CleanupPlanNames) > 0 {
		b.where(`EXISTS (
			SELECT 1 FROM cleanup_plan_hashes cph
			JOIN cleanup_plans cp ON cp.id = cph.plan_id
			WHERE cph.report_hash = r.report_hash
				AND cp.name = ANY(` + b.arg(pq.Array(f.CleanupPlanNames)) + `)
		)`)
	}

	if err := b.applyComponents(f.ComponentNames, components); err != nil {
		return err
	}

	b.applyAnnotations(f.Annotations)

	if f.BugPathLengthMin != nil {
		b.where(`r.bug_path_length >= ` + b.arg(*f.BugPathLengthMin))
	}

	if f.BugPathLengthMax != nil {
		b.where(`r.bug_path_length <= ` + b.arg(*f.BugPathLengthMax))
	}

	if f.DetectedAfter != nil {
		b.where(`r.detected_at >= ` + b.arg(*f.DetectedAfter))
	}

	if f.DetectedBefore != nil {
		b.where(`r.detected_at <= ` + b.arg(*f.DetectedBefore))
	}

	if f.FixedAfter != nil {
		b.where(`r.fixed_at >= ` + b.arg(*f.FixedAfter))
	}

	if f.FixedBefore != nil {
		b.where(`r.fixed_at <= ` + b.arg(*f.FixedBefore))
	}

	if f.OpenReportsDate != nil {
		at := b.arg(*f.OpenReportsDate)
		b.where(`r.detected_at <= ` + at)
		b.where(`(r.fixed_at IS NULL OR r.fixed_at > ` + at + `)`)
	}

	return nil
}

// applyComponents renders source-component membership: the path must match
// one include pattern and no exclude pattern of at least one component.
func (b *builder) applyComponents(names []string, components []Component) error {
	if len(names) == 0 {
		return nil
	}

	byName := make(map[string]Component, len(components))
	for _, c := range components {
		byName[c.Name] = c
	}

	var alternatives []string

	for _, name := range names {
		c, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownComponent, name)
		}

		includes, excludes := c.Patterns()

		var parts []string

		if len(includes) > 0 {
			likes := make([]string, len(includes))
			for i, p := range includes {
				likes[i] = `f.filepath LIKE ` + b.arg(globToLike(p))
			}

			parts = append(parts, "("+strings.Join(likes, " OR ")+")")
		}

		for _, p := range excludes {
			parts = append(parts, `f.filepath NOT LIKE `+b.arg(globToLike(p)))
		}

		if len(parts) == 0 {
			continue
		}

		alternatives = append(alternatives, "("+strings.Join(parts, " AND ")+")")
	}

	if len(alternatives) > 0 {
		b.where("(" + strings.Join(alternatives, " OR ") + ")")
	}

	return nil
}

// applyAnnotations renders annotation predicates: same-key values are OR,
// distinct keys AND.
func (b *builder) applyAnnotations(annotations []AnnotationFilter) {
	if len(annotations) == 0 {
		return
	}

	byKey := make(map[string][]string)

	var keys []string

	for _, a := range annotations {
		if _, ok := byKey[a.Key]; !ok {
			keys = append(keys, a.Key)
		}

		byKey[a.Key] = append(byKey[a.Key], a.Value)
	}

	for _, key := range keys {
		b.where(`EXISTS (
			SELECT 1 FROM report_annotations ra
			WHERE ra.report_id = r.id
				AND ra.key = ` + b.arg(key) + `
				AND ra.value = ANY(` + b.arg(pq.Array(byKey[key])) + `)
		)`)
	}
}

// orderBy renders the sort modes, always ending with the id tiebreak.
func orderBy(sorts []SortMode) string {
	var parts []string

	for _, s := range sorts {
		expr, ok := sortExpr[s.Field]
		if !ok {
			continue
		}

		direction := " ASC"
		if s.Desc {
			direction = " DESC"
		}

		parts = append(parts, expr+direction)
	}

	parts = append(parts, "r.id ASC")

	return "ORDER BY " + strings.Join(parts, ", ")
}
