// Package report defines the domain types for analyzer findings and the
// canonicalizer that turns raw bundle records into stable report identities.
package report

import (
	"time"
)

type (
	// DetectionStatus is the automated per-ingestion state of a report.
	DetectionStatus string

	// ReviewStatus is the human triage verdict attached to a report hash.
	ReviewStatus string

	// Severity classifies a checker's findings.
	Severity string

	// ExtendedDataKind tags a piece of extended report data.
	ExtendedDataKind string
)

// Detection statuses and their transition rules are applied by the ingestion
// engine; see ingest.Reconcile.
const (
	DetectionNew         DetectionStatus = "new"
	DetectionResolved    DetectionStatus = "resolved"
	DetectionUnresolved  DetectionStatus = "unresolved"
	DetectionReopened    DetectionStatus = "reopened"
	DetectionOff         DetectionStatus = "off"
	DetectionUnavailable DetectionStatus = "unavailable"
)

// Review statuses.
const (
	ReviewUnreviewed    ReviewStatus = "unreviewed"
	ReviewConfirmed     ReviewStatus = "confirmed"
	ReviewFalsePositive ReviewStatus = "false_positive"
	ReviewIntentional   ReviewStatus = "intentional"
)

// Severities, lowest to highest.
const (
	SeverityUnspecified Severity = "unspecified"
	SeverityStyle       Severity = "style"
	SeverityLow         Severity = "low"
	SeverityMedium      Severity = "medium"
	SeverityHigh        Severity = "high"
	SeverityCritical    Severity = "critical"
)

// Extended report data kinds.
const (
	ExtendedNote  ExtendedDataKind = "note"
	ExtendedMacro ExtendedDataKind = "macro"
	ExtendedFixit ExtendedDataKind = "fixit"
)

// severityRank orders severities for sorting; unknown values sort lowest.
var severityRank = map[Severity]int{ //nolint: gochecknoglobals
	SeverityUnspecified: 0,
	SeverityStyle:       1,
	SeverityLow:         2,
	SeverityMedium:      3,
	SeverityHigh:        4,
	SeverityCritical:    5,
}

// Rank returns the numeric order of the severity for sorting.
func (s Severity) Rank() int {
	return severityRank[s]
}

// ValidDetectionStatus reports whether the value is a known detection status.
func ValidDetectionStatus(s DetectionStatus) bool {
	switch s {
	case DetectionNew, DetectionResolved, DetectionUnresolved,
		DetectionReopened, DetectionOff, DetectionUnavailable:
		return true
	default:
		return false
	}
}

// ValidReviewStatus reports whether the value is a known review status.
func ValidReviewStatus(s ReviewStatus) bool {
	switch s {
	case ReviewUnreviewed, ReviewConfirmed, ReviewFalsePositive, ReviewIntentional:
		return true
	default:
		return false
	}
}

type (
	// Span is a half-open source range inside one file.
	Span struct {
		StartLine int `json:"start_line"`
		StartCol  int `json:"start_col"`
		EndLine   int `json:"end_line"`
		EndCol    int `json:"end_col"`
	}

	// RawEvent is one bug-path event as shipped in a store bundle.
	RawEvent struct {
		Span

		FilePath string `json:"file_path"`
		Message  string `json:"message"`
	}

	// RawPosition is one bug-path position (a range without a message).
	RawPosition struct {
		Span

		FilePath string `json:"file_path"`
	}

	// RawExtended is auxiliary report data (notes, macro expansions, fixits).
	RawExtended struct {
		Span

		FilePath string `json:"file_path"`
		Message  string `json:"message"`
		Kind     string `json:"kind,omitempty"`
	}

	// Finding is one analyzer finding as shipped in a bundle's reports/ tree.
	// The analyzer-native format has already been converted by the client.
	Finding struct {
		CheckerID    string            `json:"checker_id"`
		AnalyzerName string            `json:"analyzer_name"`
		FilePath     string            `json:"file_path"`
		Line         int               `json:"line"`
		Column       int               `json:"column"`
		Message      string            `json:"message"`
		Severity     Severity          `json:"severity,omitempty"`
		Events       []RawEvent        `json:"bug_path_events"`
		Positions    []RawPosition     `json:"bug_path_positions,omitempty"`
		Extended     []RawExtended     `json:"extended_data,omitempty"`
		Annotations  map[string]string `json:"annotations,omitempty"`
	}

	// PathEvent is a canonical bug-path event bound to a stored file id.
	PathEvent struct {
		Span

		FileID  int64
		Message string
		Order   int
	}

	// PathPosition is a canonical bug-path position bound to a stored file id.
	PathPosition struct {
		Span

		FileID int64
		Order  int
	}

	// ExtendedData is canonical auxiliary data with a resolved kind tag.
	ExtendedData struct {
		Span

		FileID  int64
		Message string
		Kind    ExtendedDataKind
	}

	// Report is one stored finding.
	Report struct {
		ID              int64
		RunID           int64
		FileID          int64
		Line            int
		Column          int
		CheckerID       string
		AnalyzerName    string
		Message         string
		Severity        Severity
		ReportHash      string
		BugPathLength   int
		DetectionStatus DetectionStatus
		ReviewStatus    ReviewStatus
		ReviewComment   string
		ReviewAuthor    string
		ReviewInSource  bool
		DetectedAt      time.Time
		FixedAt         *time.Time
		Annotations     map[string]string
	}

	// Details carries the full bug path of one report.
	Details struct {
		Events    []PathEvent
		Positions []PathPosition
		Extended  []ExtendedData
	}
)
