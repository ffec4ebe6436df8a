// Package balancer implements the resource-aware load balancer that decides
// which worker a new agent run is allocated to.
//
// Grounded in
// original_source/crates/runtime/src/scheduler/load_balancer.rs:
// LoadBalancer{strategy, resource_pool, allocation_history}, the four
// allocation strategies, and AllocationHistory's capped-at-1000 timing
// window. WeightedRoundRobin is implemented identically to ResourceBased,
// matching the original source, where the weighting is accepted as
// configuration but not yet used to bias selection differently from plain
// resource-based allocation.
package balancer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Requirements describes the resources a run needs to be allocated.
type Requirements struct {
	MinMemoryMB         int
	MaxMemoryMB         int
	MinCPUCores         float64
	MaxCPUCores         float64
	DiskSpaceMB         int
	NetworkBandwidthMbps int
}

// WorkerID identifies a candidate allocation target.
type WorkerID string

// Worker tracks one allocation target's current load and capacity.
type Worker struct {
	ID                WorkerID
	AvailableMemoryMB int
	AvailableCPUCores float64
	ActiveConnections int
	Weight            float64
}

// Pool is the set of workers a LoadBalancer allocates across. Pool owns its
// own synchronization; a Redis-backed implementation (see balancer/redis)
// coordinates this state across processes instead of holding it in memory.
type Pool interface {
	// Workers returns a snapshot of all known workers.
	Workers(ctx context.Context) ([]Worker, error)
	// Reserve deducts req's resources from worker's availability. Returns
	// an error if worker no longer has sufficient capacity (a race against
	// another allocator).
	Reserve(ctx context.Context, worker WorkerID, req Requirements) error
	// Release returns req's resources to worker's availability.
	Release(ctx context.Context, worker WorkerID, req Requirements) error
}

// Strategy selects a worker from candidates for req.
type Strategy string

const (
	RoundRobin          Strategy = "round_robin"
	LeastConnections    Strategy = "least_connections"
	ResourceBased       Strategy = "resource_based"
	WeightedRoundRobin  Strategy = "weighted_round_robin"
)

// ErrNoCapacity indicates no worker satisfied req.
var ErrNoCapacity = errors.New("balancer: no worker has sufficient capacity")

// allocationRecord is one entry in AllocationHistory's bounded window.
type allocationRecord struct {
	worker   WorkerID
	at       time.Time
	duration time.Duration
	ok       bool
}

// historyCap bounds AllocationHistory.recent, per the original
// implementation's "capped at last 1000" note.
const historyCap = 1000

// AllocationHistory tracks allocation outcomes for Stats.
type AllocationHistory struct {
	mu                sync.Mutex
	totalAllocations  int
	allocationFailures int
	recent            []allocationRecord
}

func newAllocationHistory() *AllocationHistory {
	return &AllocationHistory{}
}

func (h *AllocationHistory) record(worker WorkerID, duration time.Duration, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.totalAllocations++
	if !ok {
		h.allocationFailures++
	}
	h.recent = append(h.recent, allocationRecord{worker: worker, at: time.Now(), duration: duration, ok: ok})
	if len(h.recent) > historyCap {
		h.recent = h.recent[len(h.recent)-historyCap:]
	}
}

// AverageAllocationTime returns the mean duration across the retained
// window of successful allocations, or 0 if none are recorded.
func (h *AllocationHistory) AverageAllocationTime() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total time.Duration
	var n int
	for _, r := range h.recent {
		if r.ok {
			total += r.duration
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// Stats summarizes a LoadBalancer's allocation history.
type Stats struct {
	TotalAllocations   int
	AllocationFailures int
	AverageTime        time.Duration
}

func (h *AllocationHistory) stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		TotalAllocations:   h.totalAllocations,
		AllocationFailures: h.allocationFailures,
	}
}

// LoadBalancer selects a worker for each new allocation request according
// to its configured Strategy.
type LoadBalancer struct {
	strategy Strategy
	pool     Pool
	history  *AllocationHistory

	mu      sync.Mutex
	rrIndex int
}

// New constructs a LoadBalancer over pool using strategy.
func New(strategy Strategy, pool Pool) *LoadBalancer {
	return &LoadBalancer{strategy: strategy, pool: pool, history: newAllocationHistory()}
}

// Allocate selects a worker satisfying req and reserves its resources.
func (b *LoadBalancer) Allocate(ctx context.Context, req Requirements) (WorkerID, error) {
	start := time.Now()
	workers, err := b.pool.Workers(ctx)
	if err != nil {
		b.history.record("", time.Since(start), false)
		return "", err
	}

	var chosen *Worker
	switch b.strategy {
	case RoundRobin:
		chosen = b.pickRoundRobin(workers, req)
	case LeastConnections:
		chosen = pickLeastConnections(workers, req)
	case ResourceBased, WeightedRoundRobin:
		chosen = pickResourceBased(workers, req)
	default:
		chosen = pickResourceBased(workers, req)
	}
	if chosen == nil {
		b.history.record("", time.Since(start), false)
		return "", ErrNoCapacity
	}
	if err := b.pool.Reserve(ctx, chosen.ID, req); err != nil {
		b.history.record(chosen.ID, time.Since(start), false)
		return "", err
	}
	b.history.record(chosen.ID, time.Since(start), true)
	return chosen.ID, nil
}

// Release returns req's resources to worker.
func (b *LoadBalancer) Release(ctx context.Context, worker WorkerID, req Requirements) error {
	return b.pool.Release(ctx, worker, req)
}

// Stats returns the balancer's allocation history summary.
func (b *LoadBalancer) Stats() Stats {
	s := b.history.stats()
	s.AverageTime = b.history.AverageAllocationTime()
	return s
}

func (b *LoadBalancer) pickRoundRobin(workers []Worker, req Requirements) *Worker {
	if len(workers) == 0 {
		return nil
	}
	b.mu.Lock()
	start := b.rrIndex % len(workers)
	b.rrIndex++
	b.mu.Unlock()
	for i := 0; i < len(workers); i++ {
		w := workers[(start+i)%len(workers)]
		if w.AvailableMemoryMB >= req.MaxMemoryMB && w.AvailableCPUCores >= req.MaxCPUCores {
			return &w
		}
	}
	return nil
}

func pickLeastConnections(workers []Worker, req Requirements) *Worker {
	var best *Worker
	for i := range workers {
		w := &workers[i]
		if w.AvailableMemoryMB < req.MaxMemoryMB || w.AvailableCPUCores < req.MaxCPUCores {
			continue
		}
		if best == nil || w.ActiveConnections < best.ActiveConnections {
			best = w
		}
	}
	return best
}

// pickResourceBased selects the first worker whose availability satisfies
// req (AvailableMemoryMB >= req.MaxMemoryMB AND AvailableCPUCores >=
// req.MaxCPUCores), per the reference scheduler's resource-based
// strategy.
func pickResourceBased(workers []Worker, req Requirements) *Worker {
	for i := range workers {
		w := &workers[i]
		if w.AvailableMemoryMB >= req.MaxMemoryMB && w.AvailableCPUCores >= req.MaxCPUCores {
			return w
		}
	}
	return nil
}
