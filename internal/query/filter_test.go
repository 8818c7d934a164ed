package query

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-io/triage/internal/report"
)

func TestBuildWhereNeverEmpty(t *testing.T) {
	s := &Store{}

	// No runs, an empty filter and no compare data still must render a
	// well-formed WHERE fragment.
	b := &builder{}
	err := s.buildWhere(context.Background(), b, nil, &ReportFilter{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, b.clauses)
	assert.Equal(t, "TRUE", strings.Join(b.clauses, " AND "))

	b = &builder{}
	err = s.buildWhere(context.Background(), b, nil, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, b.clauses)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, 500},
		{-1, 500},
		{1, 1},
		{250, 250},
		{500, 500},
		{501, 500},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampLimit(tt.limit), "limit %d", tt.limit)
	}
}

func TestGlobToLike(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"*.c", "%.c"},
		{"/src/*/main.?", `/src/%/main._`},
		{"plain", "plain"},
		{"50%", `50\%`},
		{"under_score", `under\_score`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, globToLike(tt.pattern), tt.pattern)
	}
}

func TestOrderBy(t *testing.T) {
	assert.Equal(t, "ORDER BY r.id ASC", orderBy(nil))

	got := orderBy([]SortMode{
		{Field: SortSeverity, Desc: true},
		{Field: SortFilename},
		{Field: SortField("bogus")},
	})
	assert.Contains(t, got, "DESC")
	assert.Contains(t, got, "f.filepath ASC")
	assert.True(t, strings.HasSuffix(got, "r.id ASC"), got)
	assert.NotContains(t, got, "bogus")
}

func TestBuilderApplyFieldsAreConjunctive(t *testing.T) {
	min := 2

	b := &builder{}
	err := b.apply(&ReportFilter{
		CheckerNames:      []string{"core.*", "unix.Malloc"},
		Severities:        []report.Severity{report.SeverityHigh},
		DetectionStatuses: []report.DetectionStatus{report.DetectionNew},
		BugPathLengthMin:  &min,
	}, nil)
	require.NoError(t, err)

	joined := strings.Join(b.clauses, " AND ")
	assert.Contains(t, joined, "r.checker_id LIKE")
	assert.Contains(t, joined, "r.severity = ANY")
	assert.Contains(t, joined, "r.detection_status = ANY")
	assert.Contains(t, joined, "r.bug_path_length >=")
	assert.Len(t, b.clauses, 4)
}

func TestBuilderAnnotationSemantics(t *testing.T) {
	b := &builder{}
	b.applyAnnotations([]AnnotationFilter{
		{Key: "testsuite", Value: "smoke"},
		{Key: "testsuite", Value: "nightly"},
		{Key: "team", Value: "storage"},
	})

	// Same key collapses into one OR clause, distinct keys stay ANDed.
	require.Len(t, b.clauses, 2)
	assert.Len(t, b.args, 4)
}

func TestBuilderReviewStatusUsesEffectiveExpression(t *testing.T) {
	b := &builder{}
	err := b.apply(&ReportFilter{
		ReviewStatuses: []report.ReviewStatus{report.ReviewFalsePositive},
	}, nil)
	require.NoError(t, err)

	require.Len(t, b.clauses, 1)
	assert.Contains(t, b.clauses[0], "review_in_source")
	assert.Contains(t, b.clauses[0], "'unreviewed'")
}

func TestComponentPatterns(t *testing.T) {
	c := Component{Value: "+/src/*\n-/src/third_party/*\n  +/include/*  \nignored\n"}

	includes, excludes := c.Patterns()
	assert.Equal(t, []string{"/src/*", "/include/*"}, includes)
	assert.Equal(t, []string{"/src/third_party/*"}, excludes)
}

func TestBuilderComponents(t *testing.T) {
	components := []Component{
		{Name: "app", Value: "+/src/*\n-/src/vendor/*"},
	}

	b := &builder{}
	err := b.applyComponents([]string{"app"}, components)
	require.NoError(t, err)

	require.Len(t, b.clauses, 1)
	assert.Contains(t, b.clauses[0], "f.filepath LIKE")
	assert.Contains(t, b.clauses[0], "f.filepath NOT LIKE")
}

func TestBuilderUnknownComponent(t *testing.T) {
	b := &builder{}
	err := b.applyComponents([]string{"nope"}, nil)
	assert.ErrorIs(t, err, ErrUnknownComponent)
}
