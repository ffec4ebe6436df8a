package mongo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/agentmesh/agentrt/runtime/agent/journal"
	mongostore "github.com/agentmesh/agentrt/runtime/agent/journal/mongo"
)

type fakeClient struct {
	docs            []mongostore.Document
	appendErr       error
	highestSeq      uint64
	highestSeqErr   error
	purgeCalledWith string
	purgeErr        error
}

func (c *fakeClient) Name() string                   { return "fake-mongo" }
func (c *fakeClient) Ping(context.Context) error     { return nil }
func (c *fakeClient) AppendRaw(_ context.Context, doc mongostore.Document) error {
	if c.appendErr != nil {
		return c.appendErr
	}
	c.docs = append(c.docs, doc)
	return nil
}

func (c *fakeClient) Replay(_ context.Context, agentID string) ([]mongostore.Document, error) {
	var out []mongostore.Document
	for _, d := range c.docs {
		if d.AgentID == agentID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *fakeClient) HighestSequence(context.Context, string) (uint64, error) {
	return c.highestSeq, c.highestSeqErr
}

func (c *fakeClient) Purge(_ context.Context, agentID string) error {
	c.purgeCalledWith = agentID
	return c.purgeErr
}

func TestStorageAppendRawEncodesEvent(t *testing.T) {
	fc := &fakeClient{}
	st := mongostore.NewStorage(fc)

	entry := journal.Entry{
		AgentID:   "agent-1",
		Sequence:  0,
		Timestamp: time.Now(),
		Iteration: 1,
		Event:     journal.Started{},
	}
	require.NoError(t, st.AppendRaw(context.Background(), entry))
	require.Len(t, fc.docs, 1)
	assert.Equal(t, "agent-1", fc.docs[0].AgentID)
	assert.NotEmpty(t, fc.docs[0].EventTag)
	assert.NotEmpty(t, fc.docs[0].Payload)
}

func TestStorageAppendRawPropagatesClientError(t *testing.T) {
	fc := &fakeClient{appendErr: errors.New("duplicate key")}
	st := mongostore.NewStorage(fc)

	err := st.AppendRaw(context.Background(), journal.Entry{AgentID: "agent-1", Event: journal.Started{}})
	assert.ErrorIs(t, err, fc.appendErr)
}

func TestStorageReplayDecodesEvents(t *testing.T) {
	fc := &fakeClient{}
	st := mongostore.NewStorage(fc)
	ctx := context.Background()

	require.NoError(t, st.AppendRaw(ctx, journal.Entry{AgentID: "agent-1", Sequence: 0, Event: journal.Started{}}))
	require.NoError(t, st.AppendRaw(ctx, journal.Entry{AgentID: "agent-1", Sequence: 1, Event: journal.ActionExecuted{CallID: "c1", OK: true}}))

	entries, err := st.Replay(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, journal.Started{}, entries[0].Event)
	assert.Equal(t, journal.ActionExecuted{CallID: "c1", OK: true}, entries[1].Event)
}

func TestStorageHighestSequenceDelegates(t *testing.T) {
	fc := &fakeClient{highestSeq: 42}
	st := mongostore.NewStorage(fc)

	got, err := st.HighestSequence(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got)
}

func TestStoragePurgeDelegates(t *testing.T) {
	fc := &fakeClient{}
	st := mongostore.NewStorage(fc)

	require.NoError(t, st.Purge(context.Background(), "agent-1"))
	assert.Equal(t, "agent-1", fc.purgeCalledWith)
}

func TestNewRequiresMongoClient(t *testing.T) {
	_, err := mongostore.New(context.Background(), mongostore.Options{Database: "agentrt"})
	assert.Error(t, err)
}

func TestNewRequiresDatabaseName(t *testing.T) {
	_, err := mongostore.New(context.Background(), mongostore.Options{Client: &mongodriver.Client{}})
	assert.Error(t, err)
}
