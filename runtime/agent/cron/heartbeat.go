package cron

import "time"

// ContextMode controls how much conversational context a fired heartbeat
// run carries, grounded in
// original_source/crates/runtime/src/scheduler/heartbeat.rs's
// HeartbeatContextMode.
type ContextMode string

const (
	// SharedPersistent reuses the agent's live conversation state.
	SharedPersistent ContextMode = "shared_persistent"
	// EphemeralWithSummary is the default: each firing starts a fresh
	// conversation seeded with a summary of the previous assessment.
	EphemeralWithSummary ContextMode = "ephemeral_with_summary"
	// FullyEphemeral starts each firing with no carried context at all.
	FullyEphemeral ContextMode = "fully_ephemeral"
)

// Config configures a heartbeat job's timeouts and backoff behavior.
// Defaults mirror original_source/heartbeat.rs's HeartbeatConfig::default:
// AssessmentTimeout=30s, ActionTimeout=120s, ContextMode=EphemeralWithSummary,
// ConsecutiveClearBackoffThreshold=5, MaxBackoffMultiplier=4.
type Config struct {
	AssessmentTimeout                 time.Duration
	ActionTimeout                     time.Duration
	ContextMode                       ContextMode
	ConsecutiveClearBackoffThreshold  int
	MaxBackoffMultiplier              int
}

// DefaultConfig returns the reference scheduler's documented defaults.
func DefaultConfig() Config {
	return Config{
		AssessmentTimeout:                30 * time.Second,
		ActionTimeout:                    120 * time.Second,
		ContextMode:                      EphemeralWithSummary,
		ConsecutiveClearBackoffThreshold: 5,
		MaxBackoffMultiplier:             4,
	}
}

// Severity classifies a NeedsAction assessment.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Assessment is the closed sum type a heartbeat firing produces.
type Assessment interface{ isAssessment() }

// NeedsAction indicates the heartbeat detected a condition requiring the
// agent to act.
type NeedsAction struct {
	Reason   string
	Severity Severity
	Data     map[string]any
}

// AllClear indicates nothing required action this firing.
type AllClear struct {
	Summary string
}

// AssessmentError indicates the heartbeat's own assessment step failed
// (distinct from the agent's action subsequently failing).
type AssessmentError struct {
	Message string
}

func (NeedsAction) isAssessment()     {}
func (AllClear) isAssessment()        {}
func (AssessmentError) isAssessment() {}

// State tracks a heartbeat job's adaptive backoff and summary carryover
// across firings. Field names and record_assessment semantics are grounded
// verbatim in original_source/heartbeat.rs's HeartbeatState.
type State struct {
	ConsecutiveClearCount  int
	CurrentBackoff         int
	LastAssessmentSummary  string
	LastBeatAt             *time.Time
	TotalBeats             int
	TotalActions           int
}

// NewState returns a fresh State with CurrentBackoff starting at 1 (no
// backoff applied).
func NewState() State {
	return State{CurrentBackoff: 1}
}

// RecordAssessment updates s in place for the outcome of one firing, per
// the reference scheduler:
//   - AllClear increments ConsecutiveClearCount and, once it reaches
//     cfg.ConsecutiveClearBackoffThreshold, doubles CurrentBackoff (capped at
//     cfg.MaxBackoffMultiplier). ConsecutiveClearCount is never reset on its
//     own by this branch; it keeps climbing for as long as AllClear keeps
//     firing, so every beat once past the threshold re-triggers the doubling
//     check (and stays pinned at the cap).
//   - NeedsAction resets ConsecutiveClearCount and CurrentBackoff to their
//     baseline (0 and 1) and increments TotalActions, since an action was
//     required and the system should return to full attentiveness.
//   - AssessmentError resets ConsecutiveClearCount to 0 but leaves
//     CurrentBackoff unchanged, treating assessment failures as transient
//     noise rather than a signal the agent can safely back off further.
func (s *State) RecordAssessment(cfg Config, a Assessment, now time.Time) {
	s.TotalBeats++
	s.LastBeatAt = &now

	switch v := a.(type) {
	case AllClear:
		s.LastAssessmentSummary = v.Summary
		s.ConsecutiveClearCount++
		if s.ConsecutiveClearCount >= cfg.ConsecutiveClearBackoffThreshold {
			next := s.CurrentBackoff * 2
			if next > cfg.MaxBackoffMultiplier {
				next = cfg.MaxBackoffMultiplier
			}
			s.CurrentBackoff = next
		}
	case NeedsAction:
		s.ConsecutiveClearCount = 0
		s.CurrentBackoff = 1
		s.TotalActions++
	case AssessmentError:
		s.ConsecutiveClearCount = 0
		// CurrentBackoff intentionally unchanged.
	default:
		panic("cron: unhandled Assessment variant")
	}
}

// NextInterval scales baseInterval by the current backoff multiplier.
func (s State) NextInterval(baseInterval time.Duration) time.Duration {
	if s.CurrentBackoff <= 0 {
		return baseInterval
	}
	return baseInterval * time.Duration(s.CurrentBackoff)
}
