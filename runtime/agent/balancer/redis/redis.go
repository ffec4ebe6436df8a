// Package redis implements a cross-process balancer.Pool backed by Redis.
// Worker availability is stored as a Redis hash per worker; Reserve uses an
// optimistic WATCH/MULTI transaction so concurrent allocators racing for the
// same worker's capacity never both succeed, and Release applies its
// increments in a single MULTI transaction, mirroring the distributed-semaphore pattern the donor codebase's Pulse
// rate limiter (features/model/middleware.AdaptiveRateLimiter) applies to
// cluster-shared budgets, adapted here from a replicated map to a
// Redis-native transaction since the resource pool's fields need atomic
// multi-field updates rather than a single shared counter.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/agentmesh/agentrt/runtime/agent/balancer"
)

const keyPrefix = "agentrt:worker:"

// Pool implements balancer.Pool on a *redis.Client.
type Pool struct {
	rdb     *redis.Client
	workers []balancer.WorkerID
}

// New constructs a Pool. workers lists the fixed set of worker IDs tracked
// in Redis; call Seed once per worker to initialize its hash if absent.
func New(rdb *redis.Client, workers []balancer.WorkerID) *Pool {
	return &Pool{rdb: rdb, workers: workers}
}

// Seed initializes worker's hash with its starting capacity if it does not
// already exist. Safe to call repeatedly.
func (p *Pool) Seed(ctx context.Context, w balancer.Worker) error {
	key := keyPrefix + string(w.ID)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "memory_mb", w.AvailableMemoryMB)
		pipe.HSetNX(ctx, key, "cpu_cores", w.AvailableCPUCores)
		return nil
	})
	return err
}

func (p *Pool) Workers(ctx context.Context) ([]balancer.Worker, error) {
	out := make([]balancer.Worker, 0, len(p.workers))
	for _, id := range p.workers {
		key := keyPrefix + string(id)
		vals, err := p.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			continue
		}
		w := balancer.Worker{ID: id}
		if v, ok := vals["memory_mb"]; ok {
			w.AvailableMemoryMB, _ = strconv.Atoi(v)
		}
		if v, ok := vals["cpu_cores"]; ok {
			w.AvailableCPUCores, _ = strconv.ParseFloat(v, 64)
		}
		if v, ok := vals["active_connections"]; ok {
			w.ActiveConnections, _ = strconv.Atoi(v)
		}
		out = append(out, w)
	}
	return out, nil
}

func (p *Pool) Reserve(ctx context.Context, id balancer.WorkerID, req balancer.Requirements) error {
	key := keyPrefix + string(id)
	return p.rdb.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		availMem, _ := strconv.Atoi(vals["memory_mb"])
		availCPU, _ := strconv.ParseFloat(vals["cpu_cores"], 64)
		if availMem < req.MaxMemoryMB || availCPU < req.MaxCPUCores {
			return fmt.Errorf("balancer/redis: worker %s lacks capacity", id)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "memory_mb", int64(-req.MaxMemoryMB))
			pipe.HIncrByFloat(ctx, key, "cpu_cores", -req.MaxCPUCores)
			pipe.HIncrBy(ctx, key, "active_connections", 1)
			return nil
		})
		return err
	}, key)
}

func (p *Pool) Release(ctx context.Context, id balancer.WorkerID, req balancer.Requirements) error {
	key := keyPrefix + string(id)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "memory_mb", int64(req.MaxMemoryMB))
		pipe.HIncrByFloat(ctx, key, "cpu_cores", req.MaxCPUCores)
		pipe.HIncrBy(ctx, key, "active_connections", -1)
		return nil
	})
	return err
}
