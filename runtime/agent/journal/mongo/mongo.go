// Package mongo implements a durable journal.Storage backend on MongoDB.
//
// Grounded in the donor codebase's two-layer Mongo client pattern (see
// features/memory/mongo/clients/mongo/client.go): a low-level Client that
// wraps *mongo.Client and exposes goa.design/clue/health.Pinger alongside
// the domain operations, constructed once per process and shared across
// stores. The (agent_id, sequence) uniqueness invariant is enforced with a unique compound index, making a concurrent
// double-append for the same sequence a duplicate-key error that
// AppendRaw surfaces as journal.ErrSequenceConflict.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/clue/health"

	"github.com/agentmesh/agentrt/runtime/agent/journal"
)

const (
	defaultCollection = "agent_journal"
	defaultTimeout    = 5 * time.Second
)

// Client exposes Mongo-backed journal persistence, satisfying
// goa.design/clue/health.Pinger so it can be registered on the runtime's
// health endpoint alongside other dependencies.
type Client interface {
	health.Pinger

	AppendRaw(ctx context.Context, doc Document) error
	Replay(ctx context.Context, agentID string) ([]Document, error)
	HighestSequence(ctx context.Context, agentID string) (uint64, error)
	Purge(ctx context.Context, agentID string) error
}

// Document is the wire shape stored per journal entry. Payload holds the
// JSON-encoded event body produced by journal.EncodeEventJSON, stored as
// opaque binary rather than re-modeled as native BSON so the encoding stays
// identical across storage backends.
type Document struct {
	AgentID   string    `bson:"agent_id"`
	Sequence  uint64    `bson:"sequence"`
	Timestamp time.Time `bson:"timestamp"`
	Iteration int       `bson:"iteration"`
	EventTag  string    `bson:"event_tag"`
	Payload   []byte    `bson:"event_payload"`
}

// Options configures the Mongo client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

// New returns a Client backed by the supplied MongoDB client, creating the
// unique (agent_id, sequence) index if absent.
func New(ctx context.Context, opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("journal/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("journal/mongo: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collName)
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "agent_id", Value: 1}, {Key: "sequence", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

func (c *client) AppendRaw(ctx context.Context, doc Document) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.coll.InsertOne(ctx, doc)
	if mongodriver.IsDuplicateKeyError(err) {
		return journal.ErrSequenceConflict
	}
	return err
}

func (c *client) Replay(ctx context.Context, agentID string) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cur, err := c.coll.Find(ctx, bson.D{{Key: "agent_id", Value: agentID}}, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Document
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) HighestSequence(ctx context.Context, agentID string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var doc Document
	err := c.coll.FindOne(ctx,
		bson.D{{Key: "agent_id", Value: agentID}},
		options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Sequence, nil
}

func (c *client) Purge(ctx context.Context, agentID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.coll.DeleteMany(ctx, bson.D{{Key: "agent_id", Value: agentID}})
	return err
}

func (c *client) Name() string { return "journal-mongo" }

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, nil)
}

// Storage adapts Client to journal.Storage.
type Storage struct {
	client Client
}

// NewStorage wraps client as a journal.Storage.
func NewStorage(client Client) *Storage {
	return &Storage{client: client}
}

func (s *Storage) AppendRaw(ctx context.Context, e journal.Entry) error {
	payload, tag, err := encode(e)
	if err != nil {
		return err
	}
	return s.client.AppendRaw(ctx, Document{
		AgentID:   e.AgentID,
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp,
		Iteration: e.Iteration,
		EventTag:  tag,
		Payload:   payload,
	})
}

func (s *Storage) Replay(ctx context.Context, agentID string) ([]journal.Entry, error) {
	docs, err := s.client.Replay(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]journal.Entry, 0, len(docs))
	for _, d := range docs {
		entry, err := decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Storage) HighestSequence(ctx context.Context, agentID string) (uint64, error) {
	return s.client.HighestSequence(ctx, agentID)
}

func (s *Storage) Purge(ctx context.Context, agentID string) error {
	return s.client.Purge(ctx, agentID)
}

func encode(e journal.Entry) (payload []byte, tag string, err error) {
	tag, payload, err = journal.EncodeEventJSON(e.Event)
	return payload, tag, err
}

func decode(d Document) (journal.Entry, error) {
	ev, err := journal.DecodeEventJSON(d.EventTag, d.Payload)
	if err != nil {
		return journal.Entry{}, err
	}
	return journal.Entry{
		Sequence:  d.Sequence,
		Timestamp: d.Timestamp,
		AgentID:   d.AgentID,
		Iteration: d.Iteration,
		Event:     ev,
	}, nil
}
