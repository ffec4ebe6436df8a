// Package mongo implements a durable cron.Store backend on MongoDB,
// following the same low-level Client + higher-level Store layering as
// runtime/agent/journal/mongo and the donor codebase's
// features/memory/mongo/clients/mongo pattern.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/clue/health"

	"github.com/agentmesh/agentrt/runtime/agent/cron"
)

const (
	defsCollection    = "cron_jobs"
	runsCollection    = "cron_runs"
	receiptCollection = "cron_delivery_receipts"
	defaultTimeout    = 5 * time.Second
)

// Client exposes Mongo-backed cron persistence.
type Client interface {
	health.Pinger

	PutDefinition(ctx context.Context, def cron.Definition) error
	GetDefinition(ctx context.Context, id cron.JobID) (cron.Definition, error)
	ListActive(ctx context.Context) ([]cron.Definition, error)
	AppendRun(ctx context.Context, run cron.RunRecord) error
	AppendDeliveryReceipts(ctx context.Context, runID string, receipts []cron.DeliveryReceipt) error
}

type client struct {
	mongo    *mongodriver.Client
	defs     *mongodriver.Collection
	runs     *mongodriver.Collection
	receipts *mongodriver.Collection
	timeout  time.Duration
}

// Options configures the Mongo client.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// New returns a Client backed by the supplied MongoDB client.
func New(ctx context.Context, opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("cron/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("cron/mongo: database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	defs := db.Collection(defsCollection)
	if _, err := defs.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	return &client{
		mongo:    opts.Client,
		defs:     defs,
		runs:     db.Collection(runsCollection),
		receipts: db.Collection(receiptCollection),
		timeout:  timeout,
	}, nil
}

func (c *client) Name() string { return "cron-mongo" }

func (c *client) Ping(ctx context.Context) error { return c.mongo.Ping(ctx, nil) }

func (c *client) PutDefinition(ctx context.Context, def cron.Definition) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	def.UpdatedAt = time.Now().UTC()
	_, err := c.defs.ReplaceOne(ctx, bson.D{{Key: "_id", Value: def.ID}}, defDoc(def), options.Replace().SetUpsert(true))
	return err
}

func (c *client) GetDefinition(ctx context.Context, id cron.JobID) (cron.Definition, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var doc definitionDoc
	if err := c.defs.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		return cron.Definition{}, err
	}
	return doc.toDefinition(), nil
}

func (c *client) ListActive(ctx context.Context) ([]cron.Definition, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cur, err := c.defs.Find(ctx, bson.D{{Key: "status", Value: string(cron.StatusActive)}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []definitionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]cron.Definition, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDefinition())
	}
	return out, nil
}

func (c *client) AppendRun(ctx context.Context, run cron.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.runs.ReplaceOne(ctx, bson.D{{Key: "_id", Value: run.RunID}}, runDoc(run), options.Replace().SetUpsert(true))
	return err
}

func (c *client) AppendDeliveryReceipts(ctx context.Context, runID string, receipts []cron.DeliveryReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	docs := make([]any, 0, len(receipts))
	for _, r := range receipts {
		docs = append(docs, receiptDoc{RunID: runID, ChannelDescription: r.ChannelDescription, DeliveredAt: r.DeliveredAt, Success: r.Success, StatusCode: r.StatusCode, Err: r.Err})
	}
	_, err := c.receipts.InsertMany(ctx, docs)
	return err
}

// Store adapts Client to cron.Store.
type Store struct{ client Client }

// NewStore wraps client as a cron.Store.
func NewStore(client Client) *Store { return &Store{client: client} }

func (s *Store) PutDefinition(ctx context.Context, def cron.Definition) error {
	return s.client.PutDefinition(ctx, def)
}
func (s *Store) GetDefinition(ctx context.Context, id cron.JobID) (cron.Definition, error) {
	return s.client.GetDefinition(ctx, id)
}
func (s *Store) ListActive(ctx context.Context) ([]cron.Definition, error) {
	return s.client.ListActive(ctx)
}
func (s *Store) AppendRun(ctx context.Context, run cron.RunRecord) error {
	return s.client.AppendRun(ctx, run)
}
func (s *Store) AppendDeliveryReceipts(ctx context.Context, runID string, receipts []cron.DeliveryReceipt) error {
	return s.client.AppendDeliveryReceipts(ctx, runID, receipts)
}

type definitionDoc struct {
	ID            cron.JobID `bson:"_id"`
	AgentID       string     `bson:"agent_id"`
	Name          string     `bson:"name"`
	Schedule      string     `bson:"schedule"`
	Status        string     `bson:"status"`
	PolicyIDs     []string   `bson:"policy_ids"`
	AuditLevel    string     `bson:"audit_level"`
	JitterMaxSecs int        `bson:"jitter_max_secs"`
	SessionMode   string     `bson:"session_mode"`
	MaxRetries    int        `bson:"max_retries"`
	MaxConcurrent int        `bson:"max_concurrent"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
	NextRun       *time.Time `bson:"next_run,omitempty"`
	LastRun       *time.Time `bson:"last_run,omitempty"`
	RunCount      int        `bson:"run_count"`
	FailureCount  int        `bson:"failure_count"`
}

func defDoc(d cron.Definition) definitionDoc {
	return definitionDoc{
		ID: d.ID, AgentID: d.AgentID, Name: d.Name, Schedule: d.Schedule, Status: string(d.Status),
		PolicyIDs: d.PolicyIDs, AuditLevel: string(d.AuditLevel), JitterMaxSecs: d.JitterMaxSecs,
		SessionMode: d.SessionMode, MaxRetries: d.MaxRetries, MaxConcurrent: d.MaxConcurrent,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
		NextRun: d.NextRun, LastRun: d.LastRun, RunCount: d.RunCount, FailureCount: d.FailureCount,
	}
}

func (d definitionDoc) toDefinition() cron.Definition {
	return cron.Definition{
		ID: d.ID, AgentID: d.AgentID, Name: d.Name, Schedule: d.Schedule, Status: cron.Status(d.Status),
		PolicyIDs: d.PolicyIDs, AuditLevel: cron.AuditLevel(d.AuditLevel), JitterMaxSecs: d.JitterMaxSecs,
		SessionMode: d.SessionMode, MaxRetries: d.MaxRetries, MaxConcurrent: d.MaxConcurrent,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
		NextRun: d.NextRun, LastRun: d.LastRun, RunCount: d.RunCount, FailureCount: d.FailureCount,
	}
}

type runDocT struct {
	RunID           string     `bson:"_id"`
	JobID           cron.JobID `bson:"job_id"`
	AgentID         string     `bson:"agent_id"`
	StartedAt       time.Time  `bson:"started_at"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty"`
	Status          string     `bson:"status"`
	Err             string     `bson:"error,omitempty"`
	ExecutionTimeMS int64      `bson:"execution_time_ms"`
}

func runDoc(r cron.RunRecord) runDocT {
	return runDocT{
		RunID: r.RunID, JobID: r.JobID, AgentID: r.AgentID, StartedAt: r.StartedAt,
		CompletedAt: r.CompletedAt, Status: string(r.Status), Err: r.Err, ExecutionTimeMS: r.ExecutionTimeMS,
	}
}

type receiptDoc struct {
	RunID              string    `bson:"run_id"`
	ChannelDescription string    `bson:"channel_description"`
	DeliveredAt        time.Time `bson:"delivered_at"`
	Success            bool      `bson:"success"`
	StatusCode         int       `bson:"status_code,omitempty"`
	Err                string    `bson:"error,omitempty"`
}
