package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-io/triage/internal/apperr"
)

func TestParseSourceComments(t *testing.T) {
	content := "int main() {\n" +
		"  // triage_suppress [all] known issue\n" +
		"  *p = 1;\n" +
		"}\n"

	comments, err := ParseSourceComments(content, 3)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	assert.Equal(t, ReviewFalsePositive, comments[0].Status)
	assert.Equal(t, []string{"all"}, comments[0].Checkers)
	assert.Equal(t, "known issue", comments[0].Message)
}

func TestParseSourceCommentsMultiChecker(t *testing.T) {
	content := "x\n" +
		"// triage_confirmed [core.A, core.B] real bug\n" +
		"y\n"

	comments, err := ParseSourceComments(content, 3)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	assert.Equal(t, ReviewConfirmed, comments[0].Status)
	assert.Equal(t, []string{"core.A", "core.B"}, comments[0].Checkers)
}

func TestParseSourceCommentsCStyle(t *testing.T) {
	content := "x\n" +
		"/* triage_intentional [core.A] on purpose */\n" +
		"y\n"

	comments, err := ParseSourceComments(content, 3)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	assert.Equal(t, ReviewIntentional, comments[0].Status)
	assert.Equal(t, "on purpose", comments[0].Message)
}

func TestParseSourceCommentsBlockEndsAtCode(t *testing.T) {
	content := "// triage_suppress [all] far away\n" +
		"int unrelated;\n" +
		"// plain comment\n" +
		"*p = 1;\n"

	comments, err := ParseSourceComments(content, 4)
	require.NoError(t, err)
	// The suppress comment on line 1 is separated by code; only the plain
	// comment belongs to the block and it carries no marker.
	assert.Empty(t, comments)
}

func TestParseSourceCommentsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		comment string
	}{
		{"missing list", "// triage_suppress no brackets"},
		{"unterminated list", "// triage_suppress [core.A no close"},
		{"empty list", "// triage_suppress [] text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "x\n" + tt.comment + "\n*p = 1;\n"

			_, err := ParseSourceComments(content, 3)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedSourceComment)
			assert.Equal(t, apperr.KindSourceFile, apperr.KindOf(err))
		})
	}
}

func TestParseSourceCommentsOutOfRange(t *testing.T) {
	comments, err := ParseSourceComments("one line", 99)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestMatchSourceComment(t *testing.T) {
	comments := []SourceComment{
		{Status: ReviewConfirmed, Checkers: []string{"core.A"}},
		{Status: ReviewFalsePositive, Checkers: []string{"all"}},
	}

	c, ok := MatchSourceComment(comments, "core.A")
	require.True(t, ok)
	assert.Equal(t, ReviewConfirmed, c.Status)

	c, ok = MatchSourceComment(comments, "core.Z")
	require.True(t, ok)
	assert.Equal(t, ReviewFalsePositive, c.Status)

	_, ok = MatchSourceComment(nil, "core.A")
	assert.False(t, ok)
}

func TestPathTrimmer(t *testing.T) {
	trimmer := NewPathTrimmer([]string{"/home/user/build", "/home/user", ""})

	tests := []struct {
		in   string
		want string
	}{
		{"/home/user/build/src/main.c", "/src/main.c"},
		{"/home/user/other.c", "/other.c"},
		{"/home/user/build", "/"},
		{"/untrimmed/path.c", "/untrimmed/path.c"},
		// Prefix must match on a path boundary.
		{"/home/userdata/x.c", "/home/userdata/x.c"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, trimmer.Trim(tt.in), tt.in)
	}
}

func TestPathTrimmerNil(t *testing.T) {
	var trimmer *PathTrimmer

	assert.Equal(t, "/a/b.c", trimmer.Trim("/a/b.c"))
}
