// Command agentrtd wires a minimal agent runtime together and runs one
// agent to completion, mirroring the shape of the donor codebase's cmd/demo: an
// in-memory engine, a stub reasoning provider, and a single workflow/agent
// registration, enough to exercise the host end to end without external
// services.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/contextmgr"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/critic"
	"github.com/agentmesh/agentrt/runtime/agent/engine"
	"github.com/agentmesh/agentrt/runtime/agent/engine/inmem"
	"github.com/agentmesh/agentrt/runtime/agent/inference"
	"github.com/agentmesh/agentrt/runtime/agent/journal"
	"github.com/agentmesh/agentrt/runtime/agent/loop"
	"github.com/agentmesh/agentrt/runtime/agent/policy"
	"github.com/agentmesh/agentrt/runtime/agent/tools"
)

// echoProvider is a stub inference.Provider: it always proposes a Respond
// action echoing the last user message, so the demo runs without needing
// real model credentials.
type echoProvider struct{}

func (echoProvider) Complete(ctx context.Context, req inference.Request) (inference.Result, error) {
	last := "hello"
	for i := len(req.Conversation.Messages) - 1; i >= 0; i-- {
		if req.Conversation.Messages[i].Role == conv.RoleUser {
			last = req.Conversation.Messages[i].Content
			break
		}
	}
	return inference.Result{
		Actions: []action.ProposedAction{action.Respond{Content: "echo: " + last}},
		Usage:   inference.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func main() {
	ctx := context.Background()

	eng := inmem.New()

	runner := &loop.Runner{
		Provider: echoProvider{},
		Gate:     policy.AllowAll(),
		Tools:    mustRegistry(),
		Executor: tools.ExecutorFunc(func(ctx context.Context, name tools.Ident, args map[string]any) (string, error) {
			return "", fmt.Errorf("no tools registered in demo")
		}),
		Journal: journal.NewWriter(journal.NewMemoryStorage()),
		Critic:  critic.AlwaysAccept(),
	}

	cfg := loop.Config{
		MaxIterations:    10,
		Budget:           5 * time.Second,
		Hard:             30 * time.Second,
		FinalizerGrace:   2 * time.Second,
		ContextMaxTokens: 4000,
		ContextStrategy:  contextmgr.SlidingWindow{},
		MaxModifyRetries: 1,
	}

	const (
		workflowName = "agentrt.agent_run"
		taskQueue    = "agentrt.default"
	)

	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      workflowName,
		TaskQueue: taskQueue,
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			in := input.(runInput)
			out, err := runner.Run(wfCtx.Context(), in.AgentID, in.Conversation, cfg)
			return out, err
		},
	}); err != nil {
		log.Fatalf("register workflow: %v", err)
	}

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "demo-run-1",
		Workflow: workflowName,
		Input: runInput{
			AgentID: "demo.agent",
			Conversation: conv.Conversation{Messages: []conv.Message{
				{Role: conv.RoleSystem, Content: "You are a helpful assistant."},
				{Role: conv.RoleUser, Content: "Say hi"},
			}},
		},
	})
	if err != nil {
		log.Fatalf("start workflow: %v", err)
	}

	var out loop.Output
	if err := h.Wait(ctx, &out); err != nil {
		log.Fatalf("run failed: %v", err)
	}

	fmt.Printf("terminated after %d iteration(s), reason=%T\n", out.Iterations, out.Reason)
	for _, m := range out.Conversation.Messages {
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
}

type runInput struct {
	AgentID      string
	Conversation conv.Conversation
}

func mustRegistry() *tools.Registry {
	reg, err := tools.NewRegistry(nil)
	if err != nil {
		log.Fatalf("build tool registry: %v", err)
	}
	return reg
}
