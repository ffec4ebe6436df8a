package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentmesh/agentrt/runtime/agent/journal"
)

// Envelope wraps a journal entry for transmission over a Pulse stream.
type Envelope struct {
	Tag       string          `json:"tag"`
	AgentID   string          `json:"agent_id"`
	Sequence  uint64          `json:"sequence"`
	Iteration int             `json:"iteration"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SinkOptions configures the publishing sink.
type SinkOptions struct {
	// Client is the Pulse client used to publish entries. Required.
	Client Client
	// StreamID derives the target Pulse stream name from an agent ID.
	// Defaults to "agent/<AgentID>".
	StreamID func(agentID string) (string, error)
}

// Sink publishes journal.Entry values into per-agent Pulse streams, for
// live subscribers (dashboards, SSE fan-out) that want to observe a running
// agent without replaying the durable journal.Storage backend.
type Sink struct {
	client   Client
	streamID func(string) (string, error)
}

// NewSink constructs a Pulse-backed journal sink.
func NewSink(opts SinkOptions) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("journal/pulse: client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Sink{client: opts.Client, streamID: streamID}, nil
}

// Publish writes entry to the agent's Pulse stream. Failures here never
// block the authoritative journal.Storage append; callers treat Publish as
// best-effort fan-out.
func (s *Sink) Publish(ctx context.Context, entry journal.Entry) error {
	streamID, err := s.streamID(entry.AgentID)
	if err != nil {
		return err
	}
	tag, payload, err := journal.EncodeEventJSON(entry.Event)
	if err != nil {
		return err
	}
	env := Envelope{
		Tag:       tag,
		AgentID:   entry.AgentID,
		Sequence:  entry.Sequence,
		Iteration: entry.Iteration,
		Timestamp: entry.Timestamp,
		Payload:   payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	_, err = handle.Add(ctx, tag, body)
	return err
}

// Close releases resources owned by the sink's client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(agentID string) (string, error) {
	if agentID == "" {
		return "", errors.New("journal/pulse: entry missing agent id")
	}
	return fmt.Sprintf("agent/%s", agentID), nil
}
