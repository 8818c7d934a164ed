package ingest

import (
	"time"

	"github.com/triage-io/triage/internal/report"
)

// CheckerPresence classifies a checker against the analysis' checker
// configuration from metadata.json.
type CheckerPresence int

const (
	// PresenceUnknown means the metadata carried no verdict for the
	// analyzer; absence of a report is read as fixed.
	PresenceUnknown CheckerPresence = iota

	// PresenceEnabled means the checker ran in this analysis.
	PresenceEnabled

	// PresenceDisabled means the checker was explicitly switched off.
	PresenceDisabled

	// PresenceMissing means the analyzer ran but does not know the
	// checker at all.
	PresenceMissing
)

// CheckerConfig maps analyzer name -> checker id -> enabled, as recorded
// in the bundle metadata.
type CheckerConfig map[string]map[string]bool

// Presence classifies one checker of one analyzer.
func (c CheckerConfig) Presence(analyzer, checker string) CheckerPresence {
	checkers, ok := c[analyzer]
	if !ok {
		return PresenceUnknown
	}

	enabled, ok := checkers[checker]
	if !ok {
		return PresenceMissing
	}

	if enabled {
		return PresenceEnabled
	}

	return PresenceDisabled
}

// PrevReport is the stored state of one report hash before the ingestion.
type PrevReport struct {
	ID           int64
	CheckerID    string
	AnalyzerName string
	Status       report.DetectionStatus
	DetectedAt   time.Time
	FixedAt      *time.Time
}

// Transition is one reconciliation decision.
type Transition struct {
	Hash       string
	Status     report.DetectionStatus
	DetectedAt time.Time
	FixedAt    *time.Time
}

// Reconcile computes the detection-status transition for every report hash
// involved in an ingestion. prev holds the current rows before this store,
// incoming the canonicalized hashes of the new analysis. The returned map
// covers the union of both key sets.
//
// Hashes present in the new analysis stay or become open; hashes that
// disappeared resolve, unless the checker configuration shows the checker
// was disabled (OFF) or is unknown to the analyzer (UNAVAILABLE).
func Reconcile(
	prev map[string]PrevReport,
	incoming map[string]struct{},
	checkers CheckerConfig,
	now time.Time,
) map[string]Transition {
	result := make(map[string]Transition, len(prev)+len(incoming))

	for hash := range incoming {
		transition := Transition{Hash: hash, DetectedAt: now}

		if old, ok := prev[hash]; ok {
			transition.DetectedAt = old.DetectedAt

			switch old.Status {
			case report.DetectionResolved:
				transition.Status = report.DetectionReopened
			case report.DetectionNew, report.DetectionUnresolved, report.DetectionReopened:
				transition.Status = report.DetectionUnresolved
			default:
				// Coming back from OFF or UNAVAILABLE counts as a
				// fresh detection.
				transition.Status = report.DetectionReopened
			}
		} else {
			transition.Status = report.DetectionNew
		}

		result[hash] = transition
	}

	for hash, old := range prev {
		if _, ok := incoming[hash]; ok {
			continue
		}

		transition := Transition{Hash: hash, DetectedAt: old.DetectedAt}

		switch checkers.Presence(old.AnalyzerName, old.CheckerID) {
		case PresenceDisabled:
			transition.Status = report.DetectionOff
		case PresenceMissing:
			transition.Status = report.DetectionUnavailable
		default:
			transition.Status = report.DetectionResolved

			// A report fixed in an earlier store keeps its original
			// resolution time.
			if old.Status == report.DetectionResolved && old.FixedAt != nil {
				transition.FixedAt = old.FixedAt
			} else {
				fixedAt := now
				transition.FixedAt = &fixedAt
			}
		}

		result[hash] = transition
	}

	return result
}
