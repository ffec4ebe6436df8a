package cron_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentrt/runtime/agent/cron"
)

func TestDefaultConfig(t *testing.T) {
	cfg := cron.DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.AssessmentTimeout)
	assert.Equal(t, 120*time.Second, cfg.ActionTimeout)
	assert.Equal(t, cron.EphemeralWithSummary, cfg.ContextMode)
	assert.Equal(t, 5, cfg.ConsecutiveClearBackoffThreshold)
	assert.Equal(t, 4, cfg.MaxBackoffMultiplier)
}

func TestNewStateStartsAtBackoffOne(t *testing.T) {
	s := cron.NewState()
	assert.Equal(t, 1, s.CurrentBackoff)
	assert.Equal(t, 0, s.TotalBeats)
}

func TestRecordAssessmentAllClearDoublesBackoffAtThreshold(t *testing.T) {
	cfg := cron.DefaultConfig()
	s := cron.NewState()
	now := time.Now()

	for i := 0; i < cfg.ConsecutiveClearBackoffThreshold-1; i++ {
		s.RecordAssessment(cfg, cron.AllClear{Summary: "nothing"}, now)
		assert.Equal(t, 1, s.CurrentBackoff, "backoff should not double before threshold")
	}
	s.RecordAssessment(cfg, cron.AllClear{Summary: "nothing"}, now)
	assert.Equal(t, 2, s.CurrentBackoff)
	assert.Equal(t, cfg.ConsecutiveClearBackoffThreshold, s.ConsecutiveClearCount,
		"ConsecutiveClearCount is never reset by AllClear alone")
}

func TestRecordAssessmentAllClearCountNeverResets(t *testing.T) {
	cfg := cron.DefaultConfig()
	cfg.ConsecutiveClearBackoffThreshold = 3
	cfg.MaxBackoffMultiplier = 4
	s := cron.NewState()
	now := time.Now()

	for i := 0; i < 3; i++ {
		s.RecordAssessment(cfg, cron.AllClear{Summary: "nothing"}, now)
	}

	assert.Equal(t, 3, s.ConsecutiveClearCount)
	assert.Equal(t, 2, s.CurrentBackoff)
	assert.Equal(t, 3, s.TotalBeats)
	assert.Equal(t, 0, s.TotalActions)
}

func TestRecordAssessmentAllClearCapsAtMaxBackoff(t *testing.T) {
	cfg := cron.DefaultConfig()
	s := cron.NewState()
	s.CurrentBackoff = cfg.MaxBackoffMultiplier
	now := time.Now()

	for i := 0; i < cfg.ConsecutiveClearBackoffThreshold; i++ {
		s.RecordAssessment(cfg, cron.AllClear{}, now)
	}
	assert.Equal(t, cfg.MaxBackoffMultiplier, s.CurrentBackoff)
}

func TestRecordAssessmentNeedsActionResetsBackoff(t *testing.T) {
	cfg := cron.DefaultConfig()
	s := cron.NewState()
	s.CurrentBackoff = 4
	s.ConsecutiveClearCount = 3
	now := time.Now()

	s.RecordAssessment(cfg, cron.NeedsAction{Reason: "disk full", Severity: cron.SeverityCritical}, now)
	assert.Equal(t, 1, s.CurrentBackoff)
	assert.Equal(t, 0, s.ConsecutiveClearCount)
	assert.Equal(t, 1, s.TotalActions)
}

func TestRecordAssessmentErrorLeavesBackoffUnchanged(t *testing.T) {
	cfg := cron.DefaultConfig()
	s := cron.NewState()
	s.CurrentBackoff = 2
	s.ConsecutiveClearCount = 3
	now := time.Now()

	s.RecordAssessment(cfg, cron.AssessmentError{Message: "timeout"}, now)
	assert.Equal(t, 2, s.CurrentBackoff)
	assert.Equal(t, 0, s.ConsecutiveClearCount)
}

func TestRecordAssessmentTracksBeatCountAndTimestamp(t *testing.T) {
	cfg := cron.DefaultConfig()
	s := cron.NewState()
	now := time.Now()
	s.RecordAssessment(cfg, cron.AllClear{}, now)
	require.NotNil(t, s.LastBeatAt)
	assert.Equal(t, now, *s.LastBeatAt)
	assert.Equal(t, 1, s.TotalBeats)
}

func TestRecordAssessmentPanicsOnUnknownVariant(t *testing.T) {
	cfg := cron.DefaultConfig()
	s := cron.NewState()
	assert.Panics(t, func() {
		s.RecordAssessment(cfg, nil, time.Now())
	})
}

func TestNextIntervalScalesByBackoff(t *testing.T) {
	s := cron.NewState()
	s.CurrentBackoff = 3
	assert.Equal(t, 30*time.Second, s.NextInterval(10*time.Second))
}

func TestNextIntervalZeroBackoffUsesBase(t *testing.T) {
	s := cron.State{CurrentBackoff: 0}
	assert.Equal(t, 10*time.Second, s.NextInterval(10*time.Second))
}
