// Package inmem provides an in-memory implementation of task.Store: the
// durable bookkeeping half of the TaskManager (session and task-metadata
// records), sharing its locking and copy-on-read shape with the donor
// codebase's runtime/agent/session/inmem store because both are CRUD over a
// map guarded by a RWMutex. The live half — per-task cancellation, timeout
// tracking, and reaping — has no donor analog and lives in task.Manager's
// TaskHandle map instead, not in this Store. Intended for tests and local
// development; this module has no durable task.Store backend.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentmesh/agentrt/runtime/agent/task"
)

// Store is an in-memory implementation of task.Store. Safe for concurrent
// use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]task.Session
	tasks    map[string]task.Meta
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]task.Session),
		tasks:    make(map[string]task.Meta),
	}
}

func (s *Store) CreateSession(_ context.Context, sessionID string, createdAt time.Time) (task.Session, error) {
	if sessionID == "" {
		return task.Session{}, errors.New("task: session id is required")
	}
	if createdAt.IsZero() {
		return task.Session{}, errors.New("task: created_at is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if ok {
		if existing.Status == task.SessionEnded {
			return task.Session{}, task.ErrSessionEnded
		}
		return cloneSession(existing), nil
	}

	out := task.Session{ID: sessionID, Status: task.SessionActive, CreatedAt: createdAt.UTC()}
	s.sessions[sessionID] = out
	return cloneSession(out), nil
}

func (s *Store) LoadSession(_ context.Context, sessionID string) (task.Session, error) {
	if sessionID == "" {
		return task.Session{}, errors.New("task: session id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.sessions[sessionID]
	if !ok {
		return task.Session{}, task.ErrSessionNotFound
	}
	return cloneSession(existing), nil
}

func (s *Store) EndSession(_ context.Context, sessionID string, endedAt time.Time) (task.Session, error) {
	if sessionID == "" {
		return task.Session{}, errors.New("task: session id is required")
	}
	if endedAt.IsZero() {
		return task.Session{}, errors.New("task: ended_at is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if !ok {
		return task.Session{}, task.ErrSessionNotFound
	}
	if existing.Status == task.SessionEnded {
		return cloneSession(existing), nil
	}
	at := endedAt.UTC()
	existing.Status = task.SessionEnded
	existing.EndedAt = &at
	s.sessions[sessionID] = existing
	return cloneSession(existing), nil
}

func (s *Store) UpsertTask(_ context.Context, m task.Meta) error {
	if m.TaskID == "" {
		return errors.New("task: task id is required")
	}
	if m.AgentID == "" {
		return errors.New("task: agent id is required")
	}
	if m.SessionID == "" {
		return errors.New("task: session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.tasks[m.TaskID]
	if ok && !existing.StartedAt.IsZero() {
		if m.StartedAt.IsZero() {
			m.StartedAt = existing.StartedAt
		} else if !m.StartedAt.Equal(existing.StartedAt) {
			return errors.New("task: started_at is immutable")
		}
	} else if m.StartedAt.IsZero() {
		m.StartedAt = now
	}
	m.StartedAt = m.StartedAt.UTC()
	m.UpdatedAt = now

	s.tasks[m.TaskID] = cloneMeta(m)
	return nil
}

func (s *Store) LoadTask(_ context.Context, taskID string) (task.Meta, error) {
	if taskID == "" {
		return task.Meta{}, errors.New("task: task id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.tasks[taskID]
	if !ok {
		return task.Meta{}, task.ErrTaskNotFound
	}
	return cloneMeta(m), nil
}

func (s *Store) ListTasksBySession(_ context.Context, sessionID string, statuses []task.Status) ([]task.Meta, error) {
	if sessionID == "" {
		return nil, errors.New("task: session id is required")
	}
	var allowed map[task.Status]struct{}
	if len(statuses) > 0 {
		allowed = make(map[task.Status]struct{}, len(statuses))
		for _, st := range statuses {
			allowed[st] = struct{}{}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Meta, 0, len(s.tasks))
	for _, m := range s.tasks {
		if m.SessionID != sessionID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[m.Status]; !ok {
				continue
			}
		}
		out = append(out, cloneMeta(m))
	}
	return out, nil
}

func cloneSession(in task.Session) task.Session {
	out := in
	if in.EndedAt != nil {
		at := *in.EndedAt
		out.EndedAt = &at
	}
	return out
}

func cloneMeta(in task.Meta) task.Meta {
	out := in
	if len(in.Labels) > 0 {
		out.Labels = make(map[string]string, len(in.Labels))
		for k, v := range in.Labels {
			out.Labels[k] = v
		}
	}
	if len(in.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
