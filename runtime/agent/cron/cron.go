// Package cron implements the scheduler that fires heartbeat agent runs on
// cron schedules and tracks their delivery and retry state.
//
// The job/delivery data model is grounded in
// original_source/crates/runtime/src/scheduler/cron_types.rs:
// CronJobDefinition's field list and defaults, the CronJobStatus lifecycle
// (Active -> Paused/Completed/Failed/DeadLetter), the DeliveryChannel
// tagged variant, and JobRunRecord/JobRunStatus. AgentPin-related fields
// named in that source (agentpin_jwt) are intentionally not reproduced:
// AgentPin is out of scope. Cron expression parsing and firing use
// github.com/robfig/cron, replacing the reference scheduler's hand-rolled
// loop with the ecosystem-standard one the donor codebase already depended
// on transitively.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	robfigcron "github.com/robfig/cron/v3"
)

// JobID uniquely identifies a CronJobDefinition.
type JobID string

// NewJobID generates a fresh, random JobID.
func NewJobID() JobID { return JobID(uuid.NewString()) }

// AuditLevel controls how much detail a job's executions log.
type AuditLevel string

const (
	AuditNone          AuditLevel = "none"
	AuditErrorsOnly    AuditLevel = "errors_only"
	AuditAllOperations AuditLevel = "all_operations"
)

// Status is the lifecycle state of a CronJobDefinition.
type Status string

const (
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// DeliveryChannel is a closed sum type describing where a heartbeat
// assessment's result is delivered.
type DeliveryChannel interface{ isDeliveryChannel() }

type Stdout struct{}
type LogFile struct{ Path string }
type Webhook struct {
	URL        string
	Method     string
	Headers    map[string]string
	RetryCount int
	TimeoutSecs int
}
type Slack struct {
	WebhookURL string
	Channel    string
}
type Email struct {
	SMTPHost        string
	SMTPPort        int
	To              []string
	From            string
	SubjectTemplate string
}
type Custom struct {
	HandlerName string
	Config      map[string]any
}
type ChannelAdapter struct {
	AdapterName string
	ChannelID   string
	ThreadID    string
}

func (Stdout) isDeliveryChannel()         {}
func (LogFile) isDeliveryChannel()        {}
func (Webhook) isDeliveryChannel()        {}
func (Slack) isDeliveryChannel()          {}
func (Email) isDeliveryChannel()          {}
func (Custom) isDeliveryChannel()         {}
func (ChannelAdapter) isDeliveryChannel() {}

// DeliveryConfig lists the channels a job's assessments are delivered to.
type DeliveryConfig struct {
	Channels []DeliveryChannel
	// FailFast stops delivering to subsequent channels on the first
	// failure; otherwise delivery is attempted to every channel regardless
	// of earlier failures.
	FailFast bool
}

// DeliveryReceipt records the outcome of delivering to one channel.
type DeliveryReceipt struct {
	ChannelDescription string
	DeliveredAt        time.Time
	Success            bool
	StatusCode         int
	Err                string
}

// Definition is a scheduled heartbeat job.
type Definition struct {
	ID       JobID
	AgentID  string
	Name     string
	Schedule string // standard 5-field cron expression
	Status   Status

	PolicyIDs  []string
	AuditLevel AuditLevel

	// JitterMaxSecs adds up to this many seconds of random delay to each
	// firing, spreading load when many jobs share a schedule.
	JitterMaxSecs int

	// SessionMode names a ContextMode (see heartbeat.go in this package) for
	// the Handler; the Scheduler passes it through and does not read it.
	SessionMode string

	MaxRetries     int
	MaxConcurrent  int
	Delivery       DeliveryConfig
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// LastRun records the completion time of the latest firing; NextRun is
	// stored as given and is not set by the Scheduler. RunCount counts
	// every completed firing, FailureCount counts only consecutive failures and is
	// reset to 0 on the next success. Once FailureCount reaches MaxRetries,
	// Status transitions to StatusDeadLetter and firing is suppressed until
	// a manual Resume.
	NextRun      *time.Time
	LastRun      *time.Time
	RunCount     int
	FailureCount int
}

// NewDefinition builds a Definition with the reference scheduler's
// documented defaults (max_retries=3, max_concurrent=1, status=Active,
// audit_level=None).
func NewDefinition(agentID, name, schedule string) Definition {
	now := time.Now().UTC()
	return Definition{
		ID:            NewJobID(),
		AgentID:       agentID,
		Name:          name,
		Schedule:      schedule,
		Status:        StatusActive,
		AuditLevel:    AuditNone,
		MaxRetries:    3,
		MaxConcurrent: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RunStatus is the outcome of one fired job execution.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunTimedOut  RunStatus = "timed_out"
	RunSkipped   RunStatus = "skipped"
)

// RunRecord is a single execution of a Definition.
type RunRecord struct {
	RunID           string
	JobID           JobID
	AgentID         string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Status          RunStatus
	Err             string
	ExecutionTimeMS int64
}

// Store persists Definitions, RunRecords, and per-job concurrency state.
// Implementations must serialize concurrent access; see
// runtime/agent/cron/mongo for the durable backend.
type Store interface {
	PutDefinition(ctx context.Context, def Definition) error
	GetDefinition(ctx context.Context, id JobID) (Definition, error)
	ListActive(ctx context.Context) ([]Definition, error)
	AppendRun(ctx context.Context, run RunRecord) error
	AppendDeliveryReceipts(ctx context.Context, runID string, receipts []DeliveryReceipt) error
}

// Handler fires one job's run, returning its final status and error (nil on
// success). In production this dispatches a heartbeat assessment through
// the reasoning loop (see runtime/agent/loop); tests may supply a stub.
type Handler func(ctx context.Context, def Definition) (RunStatus, error)

// Deliverer delivers a job's run outcome to a DeliveryChannel.
type Deliverer interface {
	Deliver(ctx context.Context, ch DeliveryChannel, def Definition, run RunRecord) DeliveryReceipt
}

// Scheduler fires Definitions on their cron schedules and records the
// outcome. Each job is further gated by a per-job semaphore sized by
// MaxConcurrent so a slow-running heartbeat cannot pile up overlapping
// executions.
type Scheduler struct {
	store     Store
	handler   Handler
	deliverer Deliverer
	clock     robfigcron.Schedule

	mu       sync.Mutex
	entries  map[JobID]robfigcron.EntryID
	sems     map[JobID]chan struct{}
	cr       *robfigcron.Cron
}

// New constructs a Scheduler. handler and deliverer must not be nil.
func New(store Store, handler Handler, deliverer Deliverer) *Scheduler {
	return &Scheduler{
		store:     store,
		handler:   handler,
		deliverer: deliverer,
		cr:        robfigcron.New(robfigcron.WithSeconds()),
		entries:   make(map[JobID]robfigcron.EntryID),
		sems:      make(map[JobID]chan struct{}),
	}
}

// Start loads active job definitions from the store and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	defs, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("cron: list active: %w", err)
	}
	for _, def := range defs {
		if err := s.Schedule(ctx, def); err != nil {
			return err
		}
	}
	s.cr.Start()
	return nil
}

// Stop halts firing; in-flight runs are allowed to complete.
func (s *Scheduler) Stop() context.Context {
	return s.cr.Stop()
}

// Schedule registers def with the underlying cron engine. Calling Schedule
// again for an already-scheduled JobID replaces its entry.
func (s *Scheduler) Schedule(ctx context.Context, def Definition) error {
	if def.Schedule == "" {
		return errors.New("cron: schedule expression is required")
	}
	s.mu.Lock()
	if existing, ok := s.entries[def.ID]; ok {
		s.cr.Remove(existing)
	}
	sem := make(chan struct{}, maxInt(def.MaxConcurrent, 1))
	s.sems[def.ID] = sem
	s.mu.Unlock()

	entryID, err := s.cr.AddFunc(toSixField(def.Schedule), func() {
		s.fire(context.Background(), def, sem)
	})
	if err != nil {
		return fmt.Errorf("cron: schedule %q: %w", def.Schedule, err)
	}
	s.mu.Lock()
	s.entries[def.ID] = entryID
	s.mu.Unlock()
	return s.store.PutDefinition(ctx, def)
}

// Unschedule removes def.ID from the cron engine without altering its
// stored status.
func (s *Scheduler) Unschedule(id JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cr.Remove(entryID)
		delete(s.entries, id)
	}
	delete(s.sems, id)
}

// fire runs one firing of def.ID. Because Schedule's cron closure captures
// def by value, fire reloads the job's current persisted state at the start
// of every firing so counters and status mutated by a prior firing are
// visible; it falls back to the captured def only when the store has
// nothing yet (e.g. a test driving fire directly without PutDefinition).
func (s *Scheduler) fire(ctx context.Context, def Definition, sem chan struct{}) {
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	default:
		// MaxConcurrent already reached; skip this firing rather than queue
		// unboundedly.
		_ = s.store.AppendRun(ctx, RunRecord{
			RunID:     uuid.NewString(),
			JobID:     def.ID,
			AgentID:   def.AgentID,
			StartedAt: time.Now().UTC(),
			Status:    RunSkipped,
		})
		return
	}

	current, err := s.store.GetDefinition(ctx, def.ID)
	if err != nil {
		current = def
	}
	if current.Status == StatusDeadLetter {
		_ = s.store.AppendRun(ctx, RunRecord{
			RunID:     uuid.NewString(),
			JobID:     current.ID,
			AgentID:   current.AgentID,
			StartedAt: time.Now().UTC(),
			Status:    RunSkipped,
			Err:       "job is dead-lettered",
		})
		return
	}

	if jitter := jitterDelay(current.JitterMaxSecs); jitter > 0 {
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return
		}
	}

	run := RunRecord{
		RunID:     uuid.NewString(),
		JobID:     current.ID,
		AgentID:   current.AgentID,
		StartedAt: time.Now().UTC(),
		Status:    RunRunning,
	}
	_ = s.store.AppendRun(ctx, run)

	status, herr := s.handler(ctx, current)
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Status = status
	run.ExecutionTimeMS = completed.Sub(run.StartedAt).Milliseconds()
	if herr != nil {
		run.Err = herr.Error()
	}
	_ = s.store.AppendRun(ctx, run)

	current.LastRun = &completed
	current.RunCount++
	failed := status == RunFailed || status == RunTimedOut || herr != nil
	if failed {
		current.FailureCount++
	} else {
		current.FailureCount = 0
	}
	deadLettered := failed && current.MaxRetries > 0 && current.FailureCount >= current.MaxRetries
	if deadLettered {
		current.Status = StatusDeadLetter
	}
	current.UpdatedAt = completed
	_ = s.store.PutDefinition(ctx, current)
	if deadLettered {
		s.Unschedule(current.ID)
	}

	if s.deliverer == nil {
		return
	}
	switch {
	case deadLettered:
		reason := fmt.Sprintf("job %q dead-lettered after %d consecutive failures: %s", current.Name, current.FailureCount, run.Err)
		deadRun := run
		deadRun.Err = reason
		s.deliver(ctx, current, deadRun)
	case !failed:
		s.deliver(ctx, current, run)
	}
}

// deliver dispatches run's outcome to every configured delivery channel,
// stopping early on the first failure when Delivery.FailFast is set.
func (s *Scheduler) deliver(ctx context.Context, def Definition, run RunRecord) {
	receipts := make([]DeliveryReceipt, 0, len(def.Delivery.Channels))
	for _, ch := range def.Delivery.Channels {
		receipt := s.deliverer.Deliver(ctx, ch, def, run)
		receipts = append(receipts, receipt)
		if !receipt.Success && def.Delivery.FailFast {
			break
		}
	}
	_ = s.store.AppendDeliveryReceipts(ctx, run.RunID, receipts)
}

// Resume clears a job's dead-letter state and failure count, and
// reschedules it. Manual resume is required; the scheduler never
// auto-resumes a dead-lettered job.
func (s *Scheduler) Resume(ctx context.Context, id JobID) error {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return fmt.Errorf("cron: resume: %w", err)
	}
	def.Status = StatusActive
	def.FailureCount = 0
	def.UpdatedAt = time.Now().UTC()
	if err := s.store.PutDefinition(ctx, def); err != nil {
		return fmt.Errorf("cron: resume: %w", err)
	}
	return s.Schedule(ctx, def)
}

// jitterDelay returns a uniformly random delay in [0, maxSecs]. It uses a
// time-seeded source rather than crypto/rand since jitter has no security
// relevance, and avoids math/rand's global lock under concurrent firings.
func jitterDelay(maxSecs int) time.Duration {
	if maxSecs <= 0 {
		return 0
	}
	n := time.Now().UnixNano() % int64(maxSecs+1)
	if n < 0 {
		n = -n
	}
	return time.Duration(n) * time.Second
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// toSixField adapts a standard 5-field cron expression to the 6-field
// (seconds-first) form robfig/cron uses when constructed WithSeconds, so
// callers can author schedules in the conventional minute-resolution
// syntax used elsewhere in this package.
func toSixField(expr string) string {
	return "0 " + expr
}
