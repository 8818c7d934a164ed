package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-io/triage/internal/bundle"
	"github.com/triage-io/triage/internal/report"
)

func TestLineAt(t *testing.T) {
	content := []byte("first\nsecond\nthird")

	assert.Equal(t, "first", lineAt(content, 1))
	assert.Equal(t, "third", lineAt(content, 3))
	assert.Equal(t, "", lineAt(content, 4))
	assert.Equal(t, "", lineAt(content, 0))
	assert.Equal(t, "", lineAt(nil, 1))
}

func TestReferencedPaths(t *testing.T) {
	b := &bundle.Bundle{
		Findings: []report.Finding{
			{
				FilePath: "/src/a.c",
				Events: []report.RawEvent{
					{FilePath: "/src/a.c"},
					{FilePath: "/src/b.h"},
				},
				Positions: []report.RawPosition{{FilePath: "/src/a.c"}},
				Extended:  []report.RawExtended{{FilePath: "/src/c.h"}},
			},
			{
				FilePath: "/src/b.h",
				Events:   []report.RawEvent{{FilePath: "/src/b.h"}},
			},
		},
	}

	paths := referencedPaths(b)
	assert.Equal(t, []string{"/src/a.c", "/src/b.h", "/src/c.h"}, paths)
}

func finding(checker, path, msg string, line int) report.Finding {
	return report.Finding{
		CheckerID:    checker,
		AnalyzerName: "clangsa",
		FilePath:     path,
		Line:         line,
		Message:      msg,
		Events: []report.RawEvent{
			{
				Span:     report.Span{StartLine: line, StartCol: 1, EndLine: line, EndCol: 2},
				FilePath: path,
				Message:  msg,
			},
		},
	}
}

func TestCanonicalizeDeduplicatesByHash(t *testing.T) {
	b := &bundle.Bundle{
		Findings: []report.Finding{
			finding("core.DivideZero", "/src/a.c", "division by zero", 3),
			finding("core.DivideZero", "/src/a.c", "division by zero", 3),
			finding("core.NullDereference", "/src/a.c", "null deref", 5),
		},
		Sources: map[string][]byte{
			"/src/a.c": []byte("a\nb\nint x = 1 / 0;\nd\nchar *p = 0; *p;\n"),
		},
	}

	fileIDs := map[string]int64{"/src/a.c": 11}

	reports, err := canonicalize(b, fileIDs)
	require.NoError(t, err)
	assert.Len(t, reports, 2, "identical findings collapse to one hash")

	for _, entry := range reports {
		assert.Equal(t, int64(11), entry.fileID)
		assert.Len(t, entry.details.Events, 1)
	}
}

func TestCanonicalizeInSourceReview(t *testing.T) {
	source := "" +
		"int f();\n" +
		"// triage_false_positive [core.DivideZero] checked by hand\n" +
		"int x = 1 / 0;\n"

	b := &bundle.Bundle{
		Findings: []report.Finding{
			finding("core.DivideZero", "/src/a.c", "division by zero", 3),
		},
		Sources: map[string][]byte{"/src/a.c": []byte(source)},
	}

	reports, err := canonicalize(b, map[string]int64{"/src/a.c": 1})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	for _, entry := range reports {
		require.NotNil(t, entry.srcReview)
		assert.Equal(t, report.ReviewFalsePositive, entry.srcReview.Status)
		assert.Equal(t, "checked by hand", entry.srcReview.Message)
	}
}

func TestCanonicalizeCommentForOtherCheckerIgnored(t *testing.T) {
	source := "" +
		"// triage_intentional [some.OtherChecker] not this one\n" +
		"int x = 1 / 0;\n"

	b := &bundle.Bundle{
		Findings: []report.Finding{
			finding("core.DivideZero", "/src/a.c", "division by zero", 2),
		},
		Sources: map[string][]byte{"/src/a.c": []byte(source)},
	}

	reports, err := canonicalize(b, map[string]int64{"/src/a.c": 1})
	require.NoError(t, err)

	for _, entry := range reports {
		assert.Nil(t, entry.srcReview)
	}
}

func TestCanonicalizeUnresolvedFileFails(t *testing.T) {
	b := &bundle.Bundle{
		Findings: []report.Finding{
			finding("core.DivideZero", "/src/a.c", "division by zero", 3),
		},
	}

	_, err := canonicalize(b, map[string]int64{})
	assert.ErrorIs(t, err, ErrMissingFile)
}

func TestCanonicalizeInvalidFindingFails(t *testing.T) {
	b := &bundle.Bundle{
		Findings: []report.Finding{
			{CheckerID: "core.DivideZero", AnalyzerName: "clangsa", FilePath: "/a.c"},
		},
	}

	_, err := canonicalize(b, map[string]int64{"/a.c": 1})
	assert.ErrorIs(t, err, report.ErrNoPathEvents)
}
