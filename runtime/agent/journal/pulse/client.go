// Package pulse provides a thin wrapper around goa.design/pulse streams used
// to fan out journal entries for live subscribers, mirroring the layering
// used across existing deployments: callers build a Redis client, pass it to
// New, and receive a typed interface exposing only the operations the
// journal sink and subscribers need.
//
// Grounded in the donor codebase's features/stream/pulse/clients/pulse and
// features/stream/pulse/sink.go, adapted from the deleted stream.Event
// hierarchy to journal.Entry.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// Options configures the Pulse client.
type Options struct {
	// Redis is the Redis connection used to back Pulse streams. Required.
	Redis *redis.Client
	// StreamMaxLen bounds the number of entries kept per stream. Zero uses Pulse defaults.
	StreamMaxLen int
	// OperationTimeout bounds individual Add operations. Zero means no timeout.
	OperationTimeout time.Duration
}

// Client exposes the subset of Pulse APIs required by the journal sink.
type Client interface {
	// Stream returns a handle to the named Pulse stream, creating it if needed.
	Stream(name string) (Stream, error)
	// Close releases resources owned by the client.
	Close(ctx context.Context) error
}

// Stream exposes the operations needed to publish journal entries and create sinks.
type Stream interface {
	// Add publishes an event with the given name and payload, returning the
	// Redis-assigned event ID.
	Add(ctx context.Context, event string, payload []byte) (string, error)
	// NewSink creates a Pulse sink (consumer group) on this stream for reading entries.
	NewSink(ctx context.Context, name string) (Sink, error)
}

// Sink mirrors the subset of goa.design/pulse streaming sinks required by subscribers.
type Sink interface {
	Subscribe() <-chan *streaming.Event
	Ack(context.Context, *streaming.Event) error
	Close(context.Context)
}

type client struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// New constructs a Pulse client backed by the provided Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("journal/pulse: redis client is required")
	}
	return &client{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("journal/pulse: stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("journal/pulse: create stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

// Close is a no-op; callers own the Redis connection lifecycle.
func (c *client) Close(ctx context.Context) error { return nil }

type handle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("journal/pulse: add: %w", err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name)
	if err != nil {
		return nil, err
	}
	return &sinkAdapter{Sink: sink}, nil
}

type sinkAdapter struct {
	*streaming.Sink
}

func (s sinkAdapter) Close(ctx context.Context) { s.Sink.Close(ctx) }
