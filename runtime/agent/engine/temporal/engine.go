// Package temporal adapts engine.Engine onto Temporal as the durable
// execution backend, for agent runs that must survive process restarts and
// host upgrades. It is grounded in a prior Temporal adapter
// (runtime/agent/engine/temporal), trimmed to the generic
// RegisterWorkflow/RegisterActivity/StartWorkflow/QueryRunStatus surface
// engine.go exposes rather than additional typed
// planner/tool-activity helpers, which targeted types this module does not
// carry forward.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/agentmesh/agentrt/runtime/agent/engine"
	"github.com/agentmesh/agentrt/runtime/agent/telemetry"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions builds one.
	Client client.Client
	// ClientOptions constructs the client when Client is nil. Required in that case.
	ClientOptions *client.Options
	// TaskQueue is the default queue used when a workflow/activity omits one. Required.
	TaskQueue string
	// WorkerOptions is passed directly to Temporal's worker.New.
	WorkerOptions worker.Options
	// DisableTracing skips installing the OTEL tracing interceptor.
	DisableTracing bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Engine implements engine.Engine on top of a single Temporal worker bound
// to one task queue. Unlike a prior adapter, which spins up one worker
// per distinct queue referenced by a registration, this adapter keeps a
// single worker: this host's agent workloads do not need queue-level
// isolation, and a single queue keeps the host's deployment topology simple.
type Engine struct {
	client      client.Client
	closeClient bool
	queue       string
	w           worker.Worker

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu        sync.Mutex
	started   bool
	workflows map[string]engine.WorkflowDefinition

	contexts sync.Map // runID -> *workflowContext
}

// New constructs a Temporal-backed Engine.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("temporal engine: task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, errors.New("temporal engine: ClientOptions required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		if !opts.DisableTracing {
			interceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
			if err != nil {
				return nil, fmt.Errorf("temporal engine: otel interceptor: %w", err)
			}
			clientOpts.Interceptors = append(clientOpts.Interceptors, interceptor)
		}
		c, err := client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		cli = c
		closeClient = true
	}

	w := worker.New(cli, opts.TaskQueue, opts.WorkerOptions)

	return &Engine{
		client:      cli,
		closeClient: closeClient,
		queue:       opts.TaskQueue,
		w:           w,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
		workflows:   make(map[string]engine.WorkflowDefinition),
	}, nil
}

// RegisterWorkflow registers def with the worker, wrapping def.Handler so it
// receives an engine.WorkflowContext instead of Temporal's workflow.Context.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("temporal engine: invalid workflow definition")
	}
	e.mu.Lock()
	if _, dup := e.workflows[def.Name]; dup {
		e.mu.Unlock()
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	e.mu.Unlock()

	e.w.RegisterWorkflowWithOptions(func(tctx workflow.Context, input any) (any, error) {
		wfCtx := newWorkflowContext(e, tctx)
		defer e.contexts.Delete(wfCtx.RunID())
		return def.Handler(wfCtx, input)
	}, workflow.RegisterOptions{Name: def.Name})
	return nil
}

// RegisterActivity registers def with the worker. Activities run outside
// workflow determinism constraints, so def.Handler receives a plain context.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("temporal engine: invalid activity definition")
	}
	e.w.RegisterActivityWithOptions(def.Handler, activity.RegisterOptions{Name: def.Name})
	return nil
}

// StartWorkflow launches a workflow execution on Temporal.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, errors.New("temporal engine: workflow name is required")
	}
	queue := req.TaskQueue
	if queue == "" {
		queue = e.queue
	}
	startOpts := client.StartWorkflowOptions{
		ID:                 req.ID,
		TaskQueue:          queue,
		WorkflowRunTimeout: req.RunTimeout,
		Memo:               req.Memo,
		SearchAttributes:   req.SearchAttributes,
	}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		startOpts.RetryPolicy = rp
	}
	run, err := e.client.ExecuteWorkflow(ctx, startOpts, req.Workflow, req.Input)
	if err != nil {
		return nil, fmt.Errorf("temporal engine: execute workflow: %w", err)
	}
	return &workflowHandle{client: e.client, run: run}, nil
}

// QueryRunStatus reports Temporal's execution status for runID, translated
// to engine.RunStatus.
func (e *Engine) QueryRunStatus(ctx context.Context, runID string) (engine.RunStatus, error) {
	resp, err := e.client.DescribeWorkflowExecution(ctx, runID, "")
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrWorkflowNotFound, err)
	}
	info := resp.GetWorkflowExecutionInfo()
	switch info.GetStatus().String() {
	case "Completed":
		return engine.RunStatusCompleted, nil
	case "Failed", "Terminated", "TimedOut":
		return engine.RunStatusFailed, nil
	case "Canceled":
		return engine.RunStatusCanceled, nil
	default:
		return engine.RunStatusRunning, nil
	}
}

// Start runs the Temporal worker until ctx is canceled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	interrupt := worker.InterruptCh()
	stop := make(chan interface{})
	go func() {
		select {
		case <-ctx.Done():
		case <-interrupt:
		}
		close(stop)
	}()
	return e.w.Run(stop)
}

// Stop gracefully shuts down the worker and, if the engine created it, the
// underlying Temporal client.
func (e *Engine) Stop() {
	e.w.Stop()
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}

func convertRetryPolicy(r engine.RetryPolicy) *sdktemporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}
	p := &sdktemporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		p.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		p.InitialInterval = r.InitialInterval
	}
	switch {
	case r.BackoffCoefficient == 0:
		p.BackoffCoefficient = 2.0
	case r.BackoffCoefficient < 1:
		p.BackoffCoefficient = 1
	default:
		p.BackoffCoefficient = r.BackoffCoefficient
	}
	return p
}

