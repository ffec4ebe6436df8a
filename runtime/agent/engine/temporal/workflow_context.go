package temporal

import (
	"context"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/agentmesh/agentrt/runtime/agent/engine"
	"github.com/agentmesh/agentrt/runtime/agent/telemetry"
)

type workflowContext struct {
	engine     *Engine
	ctx        workflow.Context
	workflowID string
	runID      string
}

type workflowFuture struct {
	ctx    workflow.Context
	future workflow.Future
}

type signalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

type childWorkflowHandle struct {
	ctx    workflow.Context
	future workflow.ChildWorkflowFuture
	cancel workflow.CancelFunc
}

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	wfCtx := &workflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
	}
	e.contexts.Store(wfCtx.runID, wfCtx)
	return wfCtx
}

// normalizeCancel translates Temporal's cancellation error into
// context.Canceled so callers can classify cancellation uniformly across
// engine backends without importing the Temporal SDK.
func normalizeCancel(err error) error {
	if err == nil {
		return nil
	}
	if sdktemporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}

func (w *workflowContext) Context() context.Context {
	return engine.WithWorkflowContext(context.Background(), w)
}

func (w *workflowContext) WorkflowID() string { return w.workflowID }
func (w *workflowContext) RunID() string      { return w.runID }

func (w *workflowContext) Logger() telemetry.Logger   { return w.engine.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.engine.metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.engine.tracer }

func (w *workflowContext) Now() time.Time { return workflow.Now(w.ctx) }

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(nil, req)
	if err != nil {
		return err
	}
	return fut.Get(nil, result)
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	aoCtx := workflow.WithActivityOptions(w.ctx, workflow.ActivityOptions{
		TaskQueue:           req.Queue,
		StartToCloseTimeout: req.Timeout,
		RetryPolicy:         convertRetryPolicy(req.RetryPolicy),
	})
	fut := workflow.ExecuteActivity(aoCtx, req.Name, req.Input)
	return &workflowFuture{ctx: w.ctx, future: fut}, nil
}

func (f *workflowFuture) Get(_ context.Context, result any) error {
	return normalizeCancel(f.future.Get(f.ctx, result))
}

func (f *workflowFuture) IsReady() bool { return f.future.IsReady() }

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return &signalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

func (s *signalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

func (w *workflowContext) StartChildWorkflow(_ context.Context, req engine.ChildWorkflowRequest) (engine.ChildWorkflowHandle, error) {
	cwo := workflow.ChildWorkflowOptions{
		WorkflowID:               req.ID,
		TaskQueue:                req.TaskQueue,
		WorkflowRunTimeout:       req.RunTimeout,
		WorkflowExecutionTimeout: req.RunTimeout,
		RetryPolicy:              convertRetryPolicy(req.RetryPolicy),
	}
	cctx, cancel := workflow.WithCancel(workflow.WithChildOptions(w.ctx, cwo))
	future := workflow.ExecuteChildWorkflow(cctx, req.Workflow, req.Input)
	return &childWorkflowHandle{ctx: cctx, future: future, cancel: cancel}, nil
}

func (c *childWorkflowHandle) Get(_ context.Context, result any) error {
	return normalizeCancel(c.future.Get(c.ctx, result))
}

func (c *childWorkflowHandle) Cancel(_ context.Context) error {
	c.cancel()
	return nil
}

func (c *childWorkflowHandle) RunID() string {
	var exec workflow.Execution
	if err := c.future.GetChildWorkflowExecution().Get(c.ctx, &exec); err != nil {
		return ""
	}
	return exec.RunID
}
