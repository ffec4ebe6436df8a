// Package interrupt provides workflow signal handling for pausing and
// resuming agent runs. It exposes a Controller that the reasoning loop
// runner uses to react to external pause/resume requests delivered as
// Engine signals (see runtime/agent/engine), regardless of which Engine
// backend is driving the run.
package interrupt

import (
	"context"
	"errors"

	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/engine"
)

const (
	// SignalPause is the signal name used to pause a run.
	SignalPause = "agentrt.runtime.pause"
	// SignalResume is the signal name used to resume a paused run.
	SignalResume = "agentrt.runtime.resume"

	// SignalProvideClarification delivers a ClarificationAnswer to a waiting run.
	SignalProvideClarification = "agentrt.runtime.provide.clarification"
	// SignalProvideToolResults delivers externally-obtained tool results to a
	// waiting run.
	SignalProvideToolResults = "agentrt.runtime.provide.toolresults"
)

type (
	// PauseRequest carries metadata attached to a pause signal.
	PauseRequest struct {
		AgentID     string
		Reason      string
		RequestedBy string
		Labels      map[string]string
	}

	// ResumeRequest carries metadata attached to a resume signal.
	ResumeRequest struct {
		AgentID     string
		Notes       string
		RequestedBy string
		Labels      map[string]string
		// Messages allows a human or policy actor to inject new
		// conversational messages before the loop resumes.
		Messages []conv.Message
	}

	// Controller drains runtime interrupt signals and exposes helpers the
	// reasoning loop can call to react to pause/resume requests.
	Controller struct {
		pauseCh   engine.SignalChannel
		resumeCh  engine.SignalChannel
		clarifyCh engine.SignalChannel
		resultsCh engine.SignalChannel
	}
)

// NewController builds a controller wired to the workflow context's signal
// channels.
func NewController(wfCtx engine.WorkflowContext) *Controller {
	return &Controller{
		pauseCh:   wfCtx.SignalChannel(SignalPause),
		resumeCh:  wfCtx.SignalChannel(SignalResume),
		clarifyCh: wfCtx.SignalChannel(SignalProvideClarification),
		resultsCh: wfCtx.SignalChannel(SignalProvideToolResults),
	}
}

// PollPause attempts to dequeue a pause request without blocking.
func (c *Controller) PollPause() (PauseRequest, bool) {
	if c == nil || c.pauseCh == nil {
		return PauseRequest{}, false
	}
	var req PauseRequest
	if !c.pauseCh.ReceiveAsync(&req) {
		return PauseRequest{}, false
	}
	return req, true
}

// WaitResume blocks until a resume request is delivered.
func (c *Controller) WaitResume(ctx context.Context) (ResumeRequest, error) {
	if c == nil || c.resumeCh == nil {
		return ResumeRequest{}, errors.New("interrupt: resume channel unavailable")
	}
	var req ResumeRequest
	if err := c.resumeCh.Receive(ctx, &req); err != nil {
		return ResumeRequest{}, err
	}
	return req, nil
}

// ClarificationAnswer carries a typed answer for a paused clarification
// interruption.
type ClarificationAnswer struct {
	AgentID string
	ID      string
	Answer  string
	Labels  map[string]string
}

// ToolResult is a single externally-obtained tool observation delivered in
// response to a ToolResultsSet signal.
type ToolResult struct {
	CallID  string
	Content string
	Err     string
}

// ToolResultsSet carries results for an external-tools-await interruption.
type ToolResultsSet struct {
	AgentID string
	ID      string
	Results []ToolResult
}

// WaitProvideClarification blocks until a clarification answer is delivered.
func (c *Controller) WaitProvideClarification(ctx context.Context) (ClarificationAnswer, error) {
	if c == nil || c.clarifyCh == nil {
		return ClarificationAnswer{}, errors.New("interrupt: clarification channel unavailable")
	}
	var ans ClarificationAnswer
	if err := c.clarifyCh.Receive(ctx, &ans); err != nil {
		return ClarificationAnswer{}, err
	}
	return ans, nil
}

// WaitProvideToolResults blocks until external tool results are delivered.
func (c *Controller) WaitProvideToolResults(ctx context.Context) (ToolResultsSet, error) {
	if c == nil || c.resultsCh == nil {
		return ToolResultsSet{}, errors.New("interrupt: results channel unavailable")
	}
	var rs ToolResultsSet
	if err := c.resultsCh.Receive(ctx, &rs); err != nil {
		return ToolResultsSet{}, err
	}
	return rs, nil
}
