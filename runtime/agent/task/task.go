// Package task implements the TaskManager: a TaskID-to-TaskHandle
// registry that owns live task lifetime (timeouts, health, reaping) over
// durable Session/Meta bookkeeping.
//
// The durable bookkeeping half — Session's create/load/end lifecycle and
// Meta's status-tracked metadata map — is adapted from the donor codebase's
// runtime/agent/session package, renamed to this runtime's vocabulary (a
// "run" there is a "task" here: one reasoning-loop execution). That half is
// deliberately unoriginal: a durable audit record for "when did this unit
// of work start/end and what state is it in" looks the same regardless of
// domain, so the Store contract mirrors the donor's CreateSession/
// UpsertRun/ListRunsBySession shape closely. What the donor's session
// package does not have, because runs there are not independently
// cancellable or health-checked, is TaskHandle: Manager now holds live
// handles with their own timeout deadline and cancellation, and can answer
// "is this task still healthy" and reap ones that overran their deadline.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type (
	// Session is the durable conversational container a Task belongs to.
	Session struct {
		ID        string
		Status    SessionStatus
		CreatedAt time.Time
		EndedAt   *time.Time
	}

	// Meta captures persistent metadata for one reasoning-loop execution.
	Meta struct {
		AgentID   string
		TaskID    string
		SessionID string
		Status    Status
		StartedAt time.Time
		UpdatedAt time.Time
		Labels    map[string]string
		Metadata  map[string]any
	}

	// Store persists session lifecycle state and task metadata. Durable
	// backends must surface failures rather than silently drop updates, so
	// a crashed task manager can reconcile state on restart.
	Store interface {
		// CreateSession creates (or, idempotently, returns) an active
		// session. Returns ErrSessionEnded if sessionID names a terminal
		// session.
		CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (Session, error)
		// LoadSession loads an existing session. Returns
		// ErrSessionNotFound if absent.
		LoadSession(ctx context.Context, sessionID string) (Session, error)
		// EndSession ends a session and returns its terminal state.
		// Idempotent.
		EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)

		// UpsertTask inserts or updates task metadata.
		UpsertTask(ctx context.Context, m Meta) error
		// LoadTask loads task metadata. Returns ErrTaskNotFound if absent.
		LoadTask(ctx context.Context, taskID string) (Meta, error)
		// ListTasksBySession lists tasks for sessionID, optionally filtered
		// to the given statuses.
		ListTasksBySession(ctx context.Context, sessionID string, statuses []Status) ([]Meta, error)
	}

	// SessionStatus is a Session's lifecycle state.
	SessionStatus string

	// Status is a Meta's lifecycle state.
	Status string
)

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"

	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusTimedOut  Status = "timed_out"
)

var (
	ErrSessionNotFound = errors.New("task: session not found")
	ErrSessionEnded    = errors.New("task: session ended")
	ErrTaskNotFound    = errors.New("task: not found")
)

// TaskHandle is the live, in-process counterpart to a Meta record: the
// cancellation function and deadline for one running task. Manager holds
// one per in-flight task, keyed by TaskID, independent of whatever a Store
// persists — a process restart loses handles (and so loses the ability to
// cancel or reap them individually) but not the durable Meta history.
type TaskHandle struct {
	TaskID    string
	AgentID   string
	SessionID string
	StartedAt time.Time
	Timeout   time.Duration
	cancel    context.CancelFunc
}

// Cancel requests the task stop. Safe to call more than once.
func (h *TaskHandle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Sampler reports live resource usage for a running task. A nil Sampler
// makes Health report zero usage, which is still useful for the
// status/uptime fields alone (e.g. in tests or deployments without a
// process-metrics backend wired in).
type Sampler interface {
	Sample(taskID string) (memoryMB int, cpuPercent float64)
}

// Health is the point-in-time answer to "how is this task doing".
type Health struct {
	Status     Status
	Uptime     time.Duration
	MemoryMB   int
	CPUPercent float64
	// Unhealthy is true once Uptime exceeds the handle's Timeout while the
	// task's status is not terminal; such a task is a Reap candidate.
	Unhealthy bool
}

// Manager is the TaskManager: it tracks task handles by TaskID and exposes
// health/status queries over a durable Store.
type Manager struct {
	store   Store
	sampler Sampler

	mu      sync.Mutex
	handles map[string]*TaskHandle
}

// NewManager builds a Manager over store. sampler may be nil.
func NewManager(store Store, sampler Sampler) *Manager {
	return &Manager{store: store, sampler: sampler, handles: make(map[string]*TaskHandle)}
}

// Start creates (or resumes) sessionID, records a new pending task under it,
// and registers a TaskHandle bounded by timeout. Callers that need to
// observe cancellation should derive their run's context from the one
// returned here rather than ctx directly.
func (m *Manager) Start(ctx context.Context, sessionID, agentID, taskID string, timeout time.Duration, now time.Time) (Meta, context.Context, error) {
	if taskID == "" {
		return Meta{}, nil, errors.New("task: task id is required")
	}
	if _, err := m.store.CreateSession(ctx, sessionID, now); err != nil {
		return Meta{}, nil, err
	}
	meta := Meta{
		AgentID:   agentID,
		TaskID:    taskID,
		SessionID: sessionID,
		Status:    StatusPending,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.UpsertTask(ctx, meta); err != nil {
		return Meta{}, nil, err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	handle := &TaskHandle{
		TaskID:    taskID,
		AgentID:   agentID,
		SessionID: sessionID,
		StartedAt: now,
		Timeout:   timeout,
		cancel:    cancel,
	}
	m.mu.Lock()
	m.handles[taskID] = handle
	m.mu.Unlock()

	return meta, runCtx, nil
}

// Health reports taskID's current status, uptime, and resource usage. It
// consults the live handle for uptime (falling back to the durable Meta's
// StartedAt if no handle is registered, e.g. after a restart) and the Store
// for status.
func (m *Manager) Health(ctx context.Context, taskID string, now time.Time) (Health, error) {
	meta, err := m.store.LoadTask(ctx, taskID)
	if err != nil {
		return Health{}, err
	}

	m.mu.Lock()
	handle := m.handles[taskID]
	m.mu.Unlock()

	startedAt := meta.StartedAt
	timeout := time.Duration(0)
	if handle != nil {
		startedAt = handle.StartedAt
		timeout = handle.Timeout
	}

	h := Health{Status: meta.Status, Uptime: now.Sub(startedAt)}
	if m.sampler != nil {
		h.MemoryMB, h.CPUPercent = m.sampler.Sample(taskID)
	}
	if timeout > 0 && h.Uptime > timeout && !isTerminal(meta.Status) {
		h.Unhealthy = true
	}
	return h, nil
}

// Reap cancels and unregisters every live handle whose uptime has exceeded
// its timeout, transitioning the underlying task to TimedOut. It returns
// the task IDs it reaped.
func (m *Manager) Reap(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	var stale []*TaskHandle
	for _, h := range m.handles {
		if h.Timeout > 0 && now.Sub(h.StartedAt) > h.Timeout {
			stale = append(stale, h)
		}
	}
	m.mu.Unlock()

	reaped := make([]string, 0, len(stale))
	for _, h := range stale {
		if err := m.Transition(ctx, h.TaskID, StatusTimedOut, now); err != nil {
			return reaped, fmt.Errorf("task: reap %s: %w", h.TaskID, err)
		}
		h.Cancel()
		m.mu.Lock()
		delete(m.handles, h.TaskID)
		m.mu.Unlock()
		reaped = append(reaped, h.TaskID)
	}
	return reaped, nil
}

// Release drops taskID's live handle without transitioning its status,
// for use once a task has already reached a terminal state on its own
// (Completed/Failed/Canceled) and no further reaping should consider it.
func (m *Manager) Release(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[taskID]; ok {
		h.Cancel()
		delete(m.handles, taskID)
	}
}

// Transition updates taskID's status. Once the task has reached a terminal
// state the stored status is kept (a later update only refreshes UpdatedAt
// for liveness tracking); any other transition is applied as given.
func (m *Manager) Transition(ctx context.Context, taskID string, status Status, now time.Time) error {
	meta, err := m.store.LoadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if isTerminal(meta.Status) {
		meta.UpdatedAt = now
		return m.store.UpsertTask(ctx, meta)
	}
	meta.Status = status
	meta.UpdatedAt = now
	return m.store.UpsertTask(ctx, meta)
}

func isTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Status returns taskID's current metadata.
func (m *Manager) Status(ctx context.Context, taskID string) (Meta, error) {
	return m.store.LoadTask(ctx, taskID)
}

// ListBySession lists tasks under sessionID, optionally filtered.
func (m *Manager) ListBySession(ctx context.Context, sessionID string, statuses []Status) ([]Meta, error) {
	return m.store.ListTasksBySession(ctx, sessionID, statuses)
}

// EndSession ends sessionID. Subsequent Start calls for the same
// sessionID fail with ErrSessionEnded.
func (m *Manager) EndSession(ctx context.Context, sessionID string, now time.Time) (Session, error) {
	return m.store.EndSession(ctx, sessionID, now)
}
