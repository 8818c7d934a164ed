package report

import (
	"errors"
	"regexp"
	"strings"

	"github.com/triage-io/triage/internal/apperr"
)

// Sentinel errors for in-source review comment parsing.
var (
	// ErrMalformedSourceComment is returned when a review marker is present
	// but the checker list or status cannot be parsed.
	ErrMalformedSourceComment = errors.New("malformed in-source review comment")
)

// SourceComment is one parsed in-source review comment. It takes precedence
// over stored review-status rules for the checkers it names.
type SourceComment struct {
	Status   ReviewStatus
	Checkers []string // "all" matches every checker
	Message  string
}

// markerStatus maps the in-source markers to review statuses.
// suppress is a legacy alias of false_positive.
var markerStatus = map[string]ReviewStatus{ //nolint: gochecknoglobals
	"triage_suppress":       ReviewFalsePositive,
	"triage_false_positive": ReviewFalsePositive,
	"triage_intentional":    ReviewIntentional,
	"triage_confirmed":      ReviewConfirmed,
}

// markerPattern matches "<marker> [checker, ...] free text".
var markerPattern = regexp.MustCompile(
	`(triage_suppress|triage_false_positive|triage_intentional|triage_confirmed)\s*(.*)$`)

// checkerListPattern extracts the bracketed checker list and trailing message.
var checkerListPattern = regexp.MustCompile(`^\[([^\]]*)\]\s*(.*)$`)

// ParseSourceComments scans the comment block directly above reportLine in
// the file content and returns every review comment found there.
//
// Both "//" and "/* ... */" comment styles are recognized. The block ends at
// the first non-comment line above the report line. A marker with a missing
// or unterminated checker list is a SOURCE_FILE error.
func ParseSourceComments(content string, reportLine int) ([]SourceComment, error) {
	lines := strings.Split(content, "\n")
	if reportLine < 1 || reportLine > len(lines) {
		return nil, nil
	}

	var comments []SourceComment

	// Walk upwards from the line above the report.
	for i := reportLine - 2; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !isCommentLine(line) {
			break
		}

		text := stripCommentTokens(line)

		m := markerPattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		status := markerStatus[m[1]]
		rest := strings.TrimSpace(m[2])

		cl := checkerListPattern.FindStringSubmatch(rest)
		if cl == nil {
			return nil, apperr.Wrap(apperr.KindSourceFile, ErrMalformedSourceComment,
				"line %d: %q", i+1, line)
		}

		checkers := parseCheckerList(cl[1])
		if len(checkers) == 0 {
			return nil, apperr.Wrap(apperr.KindSourceFile, ErrMalformedSourceComment,
				"line %d: empty checker list", i+1)
		}

		comments = append(comments, SourceComment{
			Status:   status,
			Checkers: checkers,
			Message:  strings.TrimSpace(strings.TrimSuffix(cl[2], "*/")),
		})
	}

	return comments, nil
}

// MatchSourceComment returns the first comment applying to the checker.
// A comment listing "all" applies to every checker.
func MatchSourceComment(comments []SourceComment, checkerID string) (SourceComment, bool) {
	for _, c := range comments {
		for _, name := range c.Checkers {
			if name == "all" || name == checkerID {
				return c, true
			}
		}
	}

	return SourceComment{}, false
}

// isCommentLine reports whether the trimmed line belongs to a comment block.
func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "//") ||
		strings.HasPrefix(line, "/*") ||
		strings.HasPrefix(line, "*") ||
		strings.HasSuffix(line, "*/")
}

// stripCommentTokens removes the leading comment syntax from a trimmed line.
func stripCommentTokens(line string) string {
	line = strings.TrimPrefix(line, "//")
	line = strings.TrimPrefix(line, "/*")
	line = strings.TrimPrefix(line, "*")

	return strings.TrimSpace(line)
}

// parseCheckerList splits the bracketed checker list on commas.
func parseCheckerList(list string) []string {
	parts := strings.Split(list, ",")
	checkers := make([]string, 0, len(parts))

	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			checkers = append(checkers, name)
		}
	}

	return checkers
}
