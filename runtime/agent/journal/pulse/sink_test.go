package pulse_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentrt/runtime/agent/journal"
	"github.com/agentmesh/agentrt/runtime/agent/journal/pulse"
)

type fakeStream struct {
	addEvent   string
	addPayload []byte
	addErr     error
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.addEvent = event
	s.addPayload = payload
	if s.addErr != nil {
		return "", s.addErr
	}
	return "1-0", nil
}

func (s *fakeStream) NewSink(context.Context, string) (pulse.Sink, error) {
	return nil, errors.New("not implemented")
}

type fakeClient struct {
	streams   map[string]*fakeStream
	streamErr error
	closed    bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{streams: map[string]*fakeStream{}}
}

func (c *fakeClient) Stream(name string) (pulse.Stream, error) {
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(context.Context) error {
	c.closed = true
	return nil
}

func TestNewSinkRequiresClient(t *testing.T) {
	_, err := pulse.NewSink(pulse.SinkOptions{})
	assert.Error(t, err)
}

func TestNewSinkDefaultsStreamIDFromAgentID(t *testing.T) {
	client := newFakeClient()
	sink, err := pulse.NewSink(pulse.SinkOptions{Client: client})
	require.NoError(t, err)

	entry := journal.Entry{
		AgentID:   "agent-7",
		Sequence:  3,
		Iteration: 1,
		Timestamp: time.Now(),
		Event:     journal.Started{},
	}
	require.NoError(t, sink.Publish(context.Background(), entry))

	stream, ok := client.streams["agent/agent-7"]
	require.True(t, ok, "expected publish to target the default agent/<id> stream")
	assert.NotEmpty(t, stream.addPayload)
}

func TestPublishRejectsEmptyAgentID(t *testing.T) {
	client := newFakeClient()
	sink, err := pulse.NewSink(pulse.SinkOptions{Client: client})
	require.NoError(t, err)

	err = sink.Publish(context.Background(), journal.Entry{Event: journal.Started{}})
	assert.Error(t, err)
}

func TestPublishUsesCustomStreamID(t *testing.T) {
	client := newFakeClient()
	sink, err := pulse.NewSink(pulse.SinkOptions{
		Client: client,
		StreamID: func(agentID string) (string, error) {
			return "custom/" + agentID, nil
		},
	})
	require.NoError(t, err)

	entry := journal.Entry{AgentID: "agent-9", Event: journal.ActionExecuted{CallID: "c1", OK: true}}

	require.NoError(t, sink.Publish(context.Background(), entry))
	_, ok := client.streams["custom/agent-9"]
	assert.True(t, ok)
}

func TestPublishPropagatesStreamError(t *testing.T) {
	client := newFakeClient()
	client.streamErr = errors.New("redis unavailable")
	sink, err := pulse.NewSink(pulse.SinkOptions{Client: client})
	require.NoError(t, err)

	err = sink.Publish(context.Background(), journal.Entry{AgentID: "agent-1", Event: journal.Started{}})
	assert.ErrorIs(t, err, client.streamErr)
}

func TestPublishPropagatesAddError(t *testing.T) {
	client := newFakeClient()
	stream := &fakeStream{addErr: errors.New("stream full")}
	client.streams["agent/agent-1"] = stream
	sink, err := pulse.NewSink(pulse.SinkOptions{Client: client})
	require.NoError(t, err)

	err = sink.Publish(context.Background(), journal.Entry{AgentID: "agent-1", Event: journal.Started{}})
	assert.ErrorIs(t, err, stream.addErr)
}

func TestCloseDelegatesToClient(t *testing.T) {
	client := newFakeClient()
	sink, err := pulse.NewSink(pulse.SinkOptions{Client: client})
	require.NoError(t, err)

	require.NoError(t, sink.Close(context.Background()))
	assert.True(t, client.closed)
}
