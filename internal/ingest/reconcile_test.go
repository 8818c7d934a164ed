package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-io/triage/internal/report"
)

func TestCheckerConfigPresence(t *testing.T) {
	cfg := CheckerConfig{
		"clangsa": {
			"core.DivideZero": true,
			"alpha.Unused":    false,
		},
	}

	assert.Equal(t, PresenceEnabled, cfg.Presence("clangsa", "core.DivideZero"))
	assert.Equal(t, PresenceDisabled, cfg.Presence("clangsa", "alpha.Unused"))
	assert.Equal(t, PresenceMissing, cfg.Presence("clangsa", "core.NullDereference"))
	assert.Equal(t, PresenceUnknown, cfg.Presence("clang-tidy", "bugprone-foo"))
	assert.Equal(t, PresenceUnknown, CheckerConfig(nil).Presence("clangsa", "x"))
}

func TestReconcileTransitions(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	earlier := now.Add(-24 * time.Hour)

	prevState := func(status report.DetectionStatus) PrevReport {
		return PrevReport{
			ID:           1,
			CheckerID:    "core.DivideZero",
			AnalyzerName: "clangsa",
			Status:       status,
			DetectedAt:   earlier,
		}
	}

	tests := []struct {
		name       string
		prev       map[string]PrevReport
		incoming   map[string]struct{}
		checkers   CheckerConfig
		wantStatus report.DetectionStatus
		wantFixed  bool
		wantFirst  time.Time
	}{
		{
			name:       "unseen hash is new",
			prev:       nil,
			incoming:   map[string]struct{}{"h": {}},
			wantStatus: report.DetectionNew,
			wantFirst:  now,
		},
		{
			name:       "new stays open as unresolved",
			prev:       map[string]PrevReport{"h": prevState(report.DetectionNew)},
			incoming:   map[string]struct{}{"h": {}},
			wantStatus: report.DetectionUnresolved,
			wantFirst:  earlier,
		},
		{
			name:       "unresolved stays unresolved",
			prev:       map[string]PrevReport{"h": prevState(report.DetectionUnresolved)},
			incoming:   map[string]struct{}{"h": {}},
			wantStatus: report.DetectionUnresolved,
			wantFirst:  earlier,
		},
		{
			name:       "reopened stays unresolved",
			prev:       map[string]PrevReport{"h": prevState(report.DetectionReopened)},
			incoming:   map[string]struct{}{"h": {}},
			wantStatus: report.DetectionUnresolved,
			wantFirst:  earlier,
		},
		{
			name:       "resolved comes back reopened",
			prev:       map[string]PrevReport{"h": prevState(report.DetectionResolved)},
			incoming:   map[string]struct{}{"h": {}},
			wantStatus: report.DetectionReopened,
			wantFirst:  earlier,
		},
		{
			name:       "off comes back reopened",
			prev:       map[string]PrevReport{"h": prevState(report.DetectionOff)},
			incoming:   map[string]struct{}{"h": {}},
			wantStatus: report.DetectionReopened,
			wantFirst:  earlier,
		},
		{
			name:       "disappeared resolves with fixed timestamp",
			prev:       map[string]PrevReport{"h": prevState(report.DetectionNew)},
			incoming:   map[string]struct{}{},
			wantStatus: report.DetectionResolved,
			wantFixed:  true,
			wantFirst:  earlier,
		},
		{
			name:     "disappeared with disabled checker goes off",
			prev:     map[string]PrevReport{"h": prevState(report.DetectionUnresolved)},
			incoming: map[string]struct{}{},
			checkers: CheckerConfig{
				"clangsa": {"core.DivideZero": false},
			},
			wantStatus: report.DetectionOff,
			wantFirst:  earlier,
		},
		{
			name:     "disappeared with unknown checker goes unavailable",
			prev:     map[string]PrevReport{"h": prevState(report.DetectionUnresolved)},
			incoming: map[string]struct{}{},
			checkers: CheckerConfig{
				"clangsa": {"some.OtherChecker": true},
			},
			wantStatus: report.DetectionUnavailable,
			wantFirst:  earlier,
		},
		{
			name:     "disappeared with enabled checker resolves",
			prev:     map[string]PrevReport{"h": prevState(report.DetectionUnresolved)},
			incoming: map[string]struct{}{},
			checkers: CheckerConfig{
				"clangsa": {"core.DivideZero": true},
			},
			wantStatus: report.DetectionResolved,
			wantFixed:  true,
			wantFirst:  earlier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Reconcile(tt.prev, tt.incoming, tt.checkers, now)
			require.Contains(t, result, "h")

			transition := result["h"]
			assert.Equal(t, tt.wantStatus, transition.Status)
			assert.Equal(t, tt.wantFirst, transition.DetectedAt, "detected_at must survive re-detection")

			if tt.wantFixed {
				require.NotNil(t, transition.FixedAt)
				assert.Equal(t, now, *transition.FixedAt)
			} else {
				assert.Nil(t, transition.FixedAt)
			}
		})
	}
}

func TestReconcileKeepsOriginalFixTime(t *testing.T) {
	firstFix := time.Date(2026, 7, 20, 9, 0, 0, 0, time.UTC)
	secondStore := firstFix.Add(30 * 24 * time.Hour)

	prev := map[string]PrevReport{
		"h": {
			ID:           1,
			CheckerID:    "core.DivideZero",
			AnalyzerName: "clangsa",
			Status:       report.DetectionResolved,
			DetectedAt:   firstFix.Add(-24 * time.Hour),
			FixedAt:      &firstFix,
		},
	}

	// The hash stays absent from the next analysis; a later store must not
	// move the resolution time forward.
	result := Reconcile(prev, map[string]struct{}{}, nil, secondStore)
	require.Contains(t, result, "h")

	transition := result["h"]
	assert.Equal(t, report.DetectionResolved, transition.Status)
	require.NotNil(t, transition.FixedAt)
	assert.Equal(t, firstFix, *transition.FixedAt)
}

func TestReconcileCoversUnion(t *testing.T) {
	now := time.Now()

	prev := map[string]PrevReport{
		"stays":  {Status: report.DetectionNew, DetectedAt: now},
		"goes":   {Status: report.DetectionNew, DetectedAt: now},
		"is-off": {Status: report.DetectionNew, DetectedAt: now, AnalyzerName: "a", CheckerID: "c"},
	}

	incoming := map[string]struct{}{"stays": {}, "arrives": {}}

	result := Reconcile(prev, incoming, CheckerConfig{"a": {"c": false}}, now)
	assert.Len(t, result, 4)
	assert.Equal(t, report.DetectionUnresolved, result["stays"].Status)
	assert.Equal(t, report.DetectionResolved, result["goes"].Status)
	assert.Equal(t, report.DetectionOff, result["is-off"].Status)
	assert.Equal(t, report.DetectionNew, result["arrives"].Status)
}
