package report

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/triage-io/triage/internal/apperr"
)

// Sentinel errors for canonicalization.
var (
	// ErrMissingChecker is returned when a finding has no checker id.
	ErrMissingChecker = errors.New("finding has no checker id")

	// ErrMissingAnalyzer is returned when a finding has no analyzer name.
	ErrMissingAnalyzer = errors.New("finding has no analyzer name")

	// ErrMissingFilePath is returned when a finding has no file path.
	ErrMissingFilePath = errors.New("finding has no file path")

	// ErrNoPathEvents is returned when a finding has an empty bug path.
	ErrNoPathEvents = errors.New("finding has no bug path events")

	// ErrInvalidSpan is returned when a span is inverted or starts before line 1.
	ErrInvalidSpan = errors.New("invalid source span")
)

// fixitSuffix tags a bug-path event message as a fix-it hint.
const fixitSuffix = "(fixit)"

// Validate checks the structural invariants of a raw finding.
// Violations are classified as REPORT_FORMAT.
func Validate(f *Finding) error {
	switch {
	case strings.TrimSpace(f.CheckerID) == "":
		return apperr.Wrap(apperr.KindReportFormat, ErrMissingChecker, "file %q", f.FilePath)
	case strings.TrimSpace(f.AnalyzerName) == "":
		return apperr.Wrap(apperr.KindReportFormat, ErrMissingAnalyzer, "checker %q", f.CheckerID)
	case strings.TrimSpace(f.FilePath) == "":
		return apperr.Wrap(apperr.KindReportFormat, ErrMissingFilePath, "checker %q", f.CheckerID)
	case len(f.Events) == 0:
		return apperr.Wrap(apperr.KindReportFormat, ErrNoPathEvents, "checker %q in %q", f.CheckerID, f.FilePath)
	}

	for i, ev := range f.Events {
		if err := validateSpan(ev.Span); err != nil {
			return apperr.Wrap(apperr.KindReportFormat, err,
				"event %d of checker %q in %q", i, f.CheckerID, ev.FilePath)
		}
	}

	return nil
}

// validateSpan rejects inverted and non-positive spans.
func validateSpan(s Span) error {
	if s.StartLine < 1 || s.EndLine < s.StartLine {
		return fmt.Errorf("%w: %d:%d-%d:%d", ErrInvalidSpan, s.StartLine, s.StartCol, s.EndLine, s.EndCol)
	}

	if s.StartLine == s.EndLine && s.EndCol < s.StartCol {
		return fmt.Errorf("%w: %d:%d-%d:%d", ErrInvalidSpan, s.StartLine, s.StartCol, s.EndLine, s.EndCol)
	}

	return nil
}

// NormalizeMessage trims a checker message and collapses internal whitespace
// runs to single spaces. Hash input must be insensitive to reflow.
func NormalizeMessage(msg string) string {
	return strings.Join(strings.Fields(msg), " ")
}

// Hash computes the canonical report hash of a finding.
//
// The hash covers the checker id, the analyzer name, the basename of the
// file holding the last bug-path event, that event's normalized message and
// the trimmed text of the source line the event points at. Line numbers are
// deliberately excluded so that edits on unrelated lines keep the identity
// stable, while any change to the warning line itself produces a new hash.
func Hash(f *Finding, sourceLine string) string {
	last := f.Events[len(f.Events)-1]

	parts := []string{
		f.CheckerID,
		f.AnalyzerName,
		path.Base(last.FilePath),
		NormalizeMessage(last.Message),
		strings.TrimSpace(sourceLine),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))

	return hex.EncodeToString(sum[:])
}

// FileResolver maps a bundle file path to a stored file id.
type FileResolver func(filePath string) (int64, error)

// CanonicalPath builds the canonical bug path of a validated finding.
//
// Positions with empty spans are dropped. Events keep analyzer insertion
// order; extended data is ordered by (file id, start line, start column).
// Event messages carrying the "(fixit)" suffix are additionally emitted as
// FIXIT extended data with the suffix stripped.
func CanonicalPath(f *Finding, resolve FileResolver) (*Details, error) {
	details := &Details{
		Events:    make([]PathEvent, 0, len(f.Events)),
		Positions: make([]PathPosition, 0, len(f.Positions)),
		Extended:  make([]ExtendedData, 0, len(f.Extended)),
	}

	for i, ev := range f.Events {
		fileID, err := resolve(ev.FilePath)
		if err != nil {
			return nil, err
		}

		msg := strings.TrimSpace(ev.Message)
		if strings.HasSuffix(msg, fixitSuffix) {
			details.Extended = append(details.Extended, ExtendedData{
				Span:    ev.Span,
				FileID:  fileID,
				Message: strings.TrimSpace(strings.TrimSuffix(msg, fixitSuffix)),
				Kind:    ExtendedFixit,
			})
		}

		details.Events = append(details.Events, PathEvent{
			Span:    ev.Span,
			FileID:  fileID,
			Message: msg,
			Order:   i,
		})
	}

	order := 0

	for _, pos := range f.Positions {
		if emptySpan(pos.Span) {
			continue
		}

		fileID, err := resolve(pos.FilePath)
		if err != nil {
			return nil, err
		}

		details.Positions = append(details.Positions, PathPosition{
			Span:   pos.Span,
			FileID: fileID,
			Order:  order,
		})
		order++
	}

	for _, ext := range f.Extended {
		fileID, err := resolve(ext.FilePath)
		if err != nil {
			return nil, err
		}

		details.Extended = append(details.Extended, ExtendedData{
			Span:    ext.Span,
			FileID:  fileID,
			Message: strings.TrimSpace(ext.Message),
			Kind:    extendedKind(ext),
		})
	}

	sort.SliceStable(details.Extended, func(i, j int) bool {
		a, b := details.Extended[i], details.Extended[j]
		if a.FileID != b.FileID {
			return a.FileID < b.FileID
		}

		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}

		return a.StartCol < b.StartCol
	})

	return details, nil
}

// extendedKind resolves the kind tag of a raw extended record.
// Macro-expansion ranges are tagged MACRO, everything else defaults to NOTE.
func extendedKind(ext RawExtended) ExtendedDataKind {
	switch strings.ToLower(strings.TrimSpace(ext.Kind)) {
	case "macro":
		return ExtendedMacro
	case "fixit":
		return ExtendedFixit
	default:
		return ExtendedNote
	}
}

// emptySpan reports whether a span covers nothing.
func emptySpan(s Span) bool {
	return s.StartLine == 0 && s.EndLine == 0 && s.StartCol == 0 && s.EndCol == 0
}

// PathLength is the bug path length used for query sort and filter.
func PathLength(d *Details) int {
	return len(d.Events)
}
