// Package loop implements the ReasoningLoopRunner: the phase-structured
// interpreter that drives one agent run through repeated
// Reason -> Authorize -> Execute -> Observe -> Decide cycles until
// termination.
//
// The phase chain follows the shape of the donor codebase's workflow loop (a
// bounded repeat-until-terminal loop tracking a running budget and a hard
// deadline with a reserved finalizer grace period), generalized from a
// Temporal-workflow-bound loop over generated planner/tool types to an
// engine-agnostic loop over this package's own conv/action/inference/tools
// vocabulary. Typestate is enforced the Go way: each unexported phase
// method consumes its predecessor's state type and returns its own
// (ReasonedState, AuthorizedState, ExecutedState), so passing the wrong
// state to a phase is a compile error, backstopped by the
// iterationState.phase runtime assertion at the top of each phase.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/contextmgr"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/critic"
	"github.com/agentmesh/agentrt/runtime/agent/inference"
	"github.com/agentmesh/agentrt/runtime/agent/journal"
	"github.com/agentmesh/agentrt/runtime/agent/policy"
	"github.com/agentmesh/agentrt/runtime/agent/telemetry"
	"github.com/agentmesh/agentrt/runtime/agent/toolerrors"
	"github.com/agentmesh/agentrt/runtime/agent/tools"
)

// Config bounds a run. A zero value in any limit field means "unbounded"
// except where noted.
type Config struct {
	MaxIterations  int
	MaxTotalTokens int
	MaxToolCalls   int // -1 means unbounded; 0 means no tool calls are permitted

	// Budget is recorded with the run's deadlines but Run does not
	// terminate on it. Hard is checked before each iteration: once Hard
	// minus FinalizerGrace has elapsed the run ends with Timeout; a phase
	// already in progress is not interrupted. FinalizerGrace is reserved out
	// of Hard so a final Terminated journal entry can always be written.
	Budget         time.Duration
	Hard           time.Duration
	FinalizerGrace time.Duration

	ContextMaxTokens int
	ContextStrategy  contextmgr.Strategy

	MaxModifyRetries int // per-action Modify-then-reauthorize retries before treating as Deny; default 1
}

// Output is the result of a completed run.
type Output struct {
	Conversation conv.Conversation
	Reason       action.TerminationReason
	Iterations   int
	TotalTokens  int
}

// Runner drives one agent's reasoning loop.
type Runner struct {
	Provider  inference.Provider
	Gate      policy.Gate
	Tools     *tools.Registry
	Executor  tools.Executor
	Journal   *journal.Writer
	Critic    critic.Critic
	Log       telemetry.Logger
	Metrics   telemetry.Metrics
}

// deadlines tracks a run's wall-clock budget, grounded in the donor codebase's
// runDeadlines{Budget,Hard,FinalizerGrace}: Hard is the true kill switch,
// FinalizerGrace is carved out of it so a terminal journal write is never
// starved by the same deadline that triggered termination.
type deadlines struct {
	budgetAt    time.Time
	hardAt      time.Time
	finalizerAt time.Time
}

func newDeadlines(start time.Time, cfg Config) deadlines {
	d := deadlines{budgetAt: start.Add(cfg.Budget)}
	if cfg.Hard > 0 {
		d.hardAt = start.Add(cfg.Hard)
		d.finalizerAt = d.hardAt.Add(-cfg.FinalizerGrace)
		if d.finalizerAt.Before(start) {
			d.finalizerAt = start
		}
	}
	return d
}

func (d deadlines) shouldFinalize(now time.Time) bool {
	return !d.hardAt.IsZero() && !now.Before(d.finalizerAt)
}

func (d deadlines) budgetExceeded(now time.Time) bool {
	return !d.budgetAt.IsZero() && !now.Before(d.budgetAt)
}

// phase is a runtime-checked tag backstopping the compile-time typestate
// encoding below, asserted at the top of every phase function.
type phase int

const (
	phaseReasoned phase = iota + 1
	phaseAuthorized
	phaseExecuted
	phaseObserved
)

// iterationState carries cross-iteration state through the typed phase
// chain. Each *State type below embeds it and stamps its own phase, so a
// phase function called with the wrong predecessor's output fails the
// assertion immediately instead of silently operating on stale data.
type iterationState struct {
	phase           phase
	agentID         string
	iteration       int
	c               conv.Conversation
	totalTokens     int
	toolCalls       int
	modifyCount     map[string]int // action name -> Modify retries consumed this iteration
	toolRepairCount map[string]int // tool name -> malformed-argument repair attempts consumed across the run
}

// ReasonedState is returned by reason and consumed only by authorize.
type ReasonedState struct {
	iterationState
	proposed []action.ProposedAction
	usage    inference.Usage
}

// AuthorizedState is returned by authorize and consumed only by execute.
type AuthorizedState struct {
	iterationState
	decisions      []authorizedAction
	denied         []observation // synthesized "policy denied" observations for dropped actions
	retryExhausted bool          // a Modify replacement exhausted its retries and was dropped
}

type authorizedAction struct {
	action action.ProposedAction
	name   string
}

// ExecutedState is returned by execute and consumed only by observe.
type ExecutedState struct {
	iterationState
	observations []observation
	terminal     *action.TerminationReason
}

type observation struct {
	callID  string
	content string
	ok      bool
}

// Run drives agentID's conversation c through the reasoning loop until
// termination, journaling every phase transition. A panic anywhere in the
// phase chain (provider/tool/policy code this runner does not control) is
// recovered and surfaced as an action.Error termination rather than
// crashing the host process.
func (r *Runner) Run(ctx context.Context, agentID string, c conv.Conversation, cfg Config) (out Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = r.finish(ctx, iterationState{agentID: agentID, c: c}, action.Error{Message: fmt.Sprintf("panic: %v", rec)}, 0)
		}
	}()
	return r.run(ctx, agentID, c, cfg)
}

func (r *Runner) run(ctx context.Context, agentID string, c conv.Conversation, cfg Config) (Output, error) {
	if err := r.Journal.Initialize(ctx, agentID); err != nil {
		return Output{}, fmt.Errorf("loop: initialize journal: %w", err)
	}
	if _, err := r.Journal.Append(ctx, agentID, 0, journal.Started{}); err != nil {
		return Output{}, fmt.Errorf("loop: journal started: %w", err)
	}

	start := time.Now()
	dl := newDeadlines(start, cfg)
	st := iterationState{phase: 0, agentID: agentID, c: c, toolRepairCount: make(map[string]int)}

	for iteration := 1; ; iteration++ {
		if cerr := ctx.Err(); cerr != nil {
			reason := action.TerminationReason(action.Error{Message: "cancelled"})
			if errors.Is(cerr, context.DeadlineExceeded) {
				reason = action.Timeout{}
			}
			return r.finish(context.WithoutCancel(ctx), st, reason, iteration-1)
		}
		now := time.Now()
		if dl.shouldFinalize(now) {
			return r.finish(ctx, st, action.Timeout{}, iteration-1)
		}
		if cfg.MaxIterations > 0 && iteration > cfg.MaxIterations {
			return r.finish(ctx, st, action.MaxIterations{}, iteration-1)
		}

		st.iteration = iteration
		st.modifyCount = make(map[string]int)

		reasoned, err := r.reason(ctx, st, cfg)
		if err != nil {
			return r.finish(ctx, st, action.Error{Message: err.Error()}, iteration-1)
		}

		authorized, err := r.authorize(ctx, reasoned, cfg)
		if err != nil {
			return r.finish(ctx, st, action.Error{Message: err.Error()}, iteration-1)
		}

		executed, err := r.execute(ctx, authorized, cfg)
		if err != nil {
			return r.finish(ctx, st, action.Error{Message: err.Error()}, iteration-1)
		}
		if executed.terminal != nil {
			return r.finish(ctx, executed.iterationState, *executed.terminal, iteration)
		}

		st = r.observe(ctx, executed)

		// One overshoot iteration is permissible: the budget is only
		// enforced after the iteration that crosses it has fully run, so
		// the model always sees the observations that pushed it over.
		if cfg.MaxTotalTokens > 0 && st.totalTokens > cfg.MaxTotalTokens {
			return r.finish(ctx, st, action.TokenBudgetExhausted{}, iteration)
		}
	}
}

// reason issues one inference call and records it in the journal.
func (r *Runner) reason(ctx context.Context, st iterationState, cfg Config) (ReasonedState, error) {
	managed, tokensAfter := cfg.ContextStrategy.Manage(st.c, cfg.ContextMaxTokens)
	if _, err := r.Journal.Append(ctx, st.agentID, st.iteration, journal.ContextManaged{
		Strategy:      cfg.ContextStrategy.Name(),
		TokensBefore:  conv.EstimateTokens(st.c),
		TokensAfter:   tokensAfter,
	}); err != nil {
		return ReasonedState{}, err
	}
	st.c = managed

	result, err := r.Provider.Complete(ctx, inference.Request{
		Conversation: st.c,
		Tools:        r.Tools.Definitions(),
	})
	if err != nil {
		return ReasonedState{}, err
	}

	names := make([]string, 0, len(result.Actions))
	assistant := conv.Message{Role: conv.RoleAssistant}
	for _, a := range result.Actions {
		names = append(names, action.ActionName(a))
		switch v := a.(type) {
		case action.ToolCall:
			assistant.ToolCalls = append(assistant.ToolCalls, conv.ToolCallRequest{ID: v.CallID, Name: v.Name, Arguments: string(v.Arguments)})
		case action.Respond:
			assistant.Content = v.Content
		case action.Terminate:
			assistant.Content = v.Output
		}
	}
	st.c.Messages = append(st.c.Messages, assistant)
	if _, err := r.Journal.Append(ctx, st.agentID, st.iteration, journal.ReasoningComplete{
		Actions: names,
		Usage:   journal.Usage{PromptTokens: result.Usage.PromptTokens, CompletionTokens: result.Usage.CompletionTokens},
	}); err != nil {
		return ReasonedState{}, err
	}

	st.phase = phaseReasoned
	st.totalTokens += result.Usage.PromptTokens + result.Usage.CompletionTokens
	return ReasonedState{iterationState: st, proposed: result.Actions, usage: result.Usage}, nil
}

// authorize renders a Decision for every proposed action, re-authorizing
// Modify replacements up to cfg.MaxModifyRetries before treating repeated
// Modify as Deny.
func (r *Runner) authorize(ctx context.Context, in ReasonedState, cfg Config) (AuthorizedState, error) {
	if in.phase != phaseReasoned {
		panic("loop: authorize called on non-reasoned state")
	}
	maxRetries := cfg.MaxModifyRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	remaining := cfg.MaxToolCalls
	if remaining > 0 {
		remaining -= in.toolCalls
		if remaining < 0 {
			remaining = 0
		}
	}

	var decisions []authorizedAction
	var denied []observation
	retryExhausted := false
	pending := in.proposed
	for len(pending) > 0 {
		a := pending[0]
		pending = pending[1:]
		name := action.ActionName(a)

		decision, err := r.Gate.Decide(ctx, policy.Input{
			AgentID: in.agentID, Iteration: in.iteration, Action: a, ActionName: name, RemainingToolCalls: remaining,
		})
		if err != nil {
			decision = action.Deny{Reason: "policy: gate error: " + err.Error()}
		}

		switch v := decision.(type) {
		case action.Allow:
			decisions = append(decisions, authorizedAction{action: a, name: name})
		case action.Modify:
			if in.modifyCount[name] >= maxRetries {
				retryExhausted = true
				denied = append(denied, observation{
					callID:  actionCallID(a),
					content: fmt.Sprintf("policy denied: modify retries exhausted for %s", name),
				})
				continue
			}
			in.modifyCount[name]++
			pending = append([]action.ProposedAction{v.Replacement}, pending...)
		case action.Deny:
			denied = append(denied, observation{
				callID:  actionCallID(a),
				content: "policy denied: " + v.Reason,
			})
		default:
			panic("loop: unhandled Decision variant")
		}
	}

	if _, err := r.Journal.Append(ctx, in.agentID, in.iteration, journal.PolicyEvaluated{
		ActionCount: len(in.proposed),
		DeniedCount: len(in.proposed) - len(decisions),
	}); err != nil {
		return AuthorizedState{}, err
	}

	in.phase = phaseAuthorized
	return AuthorizedState{iterationState: in.iterationState, decisions: decisions, denied: denied, retryExhausted: retryExhausted}, nil
}

// actionCallID returns the tool call_id a denied action should be
// addressed to as a synthesized observation, or "" for actions without one.
func actionCallID(a action.ProposedAction) string {
	if tc, ok := a.(action.ToolCall); ok {
		return tc.CallID
	}
	return ""
}

// execute dispatches every authorized action, returning a terminal reason
// if a Respond/Terminate was allowed or a fatal tool error occurred.
func (r *Runner) execute(ctx context.Context, in AuthorizedState, cfg Config) (ExecutedState, error) {
	if in.phase != phaseAuthorized {
		panic("loop: execute called on non-authorized state")
	}

	if len(in.decisions) == 0 && in.retryExhausted {
		reason := action.TerminationReason(action.PolicyDenied{Reason: "modify retries exhausted for all proposed actions"})
		in.phase = phaseExecuted
		return ExecutedState{iterationState: in.iterationState, terminal: &reason}, nil
	}

	obs := append([]observation(nil), in.denied...)
	for _, d := range in.decisions {
		switch v := d.action.(type) {
		case action.Respond, action.Terminate:
			verdict, err := r.Critic.Review(ctx, in.c, v)
			if err != nil {
				return ExecutedState{}, err
			}
			if !verdict.Accept {
				next := in.iterationState
				next.c.Messages = append(next.c.Messages, conv.Message{
					Role:    conv.RoleUser,
					Content: "Revision requested: " + verdict.Feedback,
				})
				next.phase = phaseExecuted
				return ExecutedState{iterationState: next}, nil
			}
			if _, err := r.Journal.Append(ctx, in.agentID, in.iteration, journal.ObservationsCollected{}); err != nil {
				return ExecutedState{}, err
			}
			reason := action.TerminationReason(action.NaturalStop{})
			in.phase = phaseExecuted
			return ExecutedState{iterationState: in.iterationState, terminal: &reason}, nil
		case action.Delegate:
			// Delegation hands remaining work to another agent; from this
			// run's perspective it is a natural stop.
			if _, err := r.Journal.Append(ctx, in.agentID, in.iteration, journal.ObservationsCollected{}); err != nil {
				return ExecutedState{}, err
			}
			reason := action.TerminationReason(action.NaturalStop{})
			in.phase = phaseExecuted
			return ExecutedState{iterationState: in.iterationState, terminal: &reason}, nil
		case action.ToolCall:
			result, fatal, err := r.dispatchTool(ctx, v, in.toolRepairCount)
			ok := err == nil
			content := result
			if err != nil {
				content = err.Error()
				if !fatal {
					content = "tool error: transient: " + content
				}
			}
			if _, jerr := r.Journal.Append(ctx, in.agentID, in.iteration, journal.ActionExecuted{
				CallID: v.CallID, OK: ok, ObservationHash: journal.HashObservation(content),
			}); jerr != nil {
				return ExecutedState{}, jerr
			}
			obs = append(obs, observation{callID: v.CallID, content: content, ok: ok})
			if err != nil && fatal {
				reason := action.TerminationReason(action.ToolError{Fatal: true})
				in.phase = phaseExecuted
				in.toolCalls++
				return ExecutedState{iterationState: in.iterationState, observations: obs, terminal: &reason}, nil
			}
			in.toolCalls++
		default:
			panic("loop: unhandled ProposedAction variant")
		}
	}

	if _, err := r.Journal.Append(ctx, in.agentID, in.iteration, journal.ObservationsCollected{}); err != nil {
		return ExecutedState{}, err
	}
	in.phase = phaseExecuted
	return ExecutedState{iterationState: in.iterationState, observations: obs}, nil
}

// dispatchTool decodes and validates call's arguments and executes it.
// A malformed-arguments or schema-violation failure is granted one repair
// attempt per tool name (surfaced as a transient observation so the model
// can retry with corrected arguments) before becoming fatal on a second
// such failure for the same tool. An unknown tool name is fatal immediately
// since there is nothing to repair. Executor failures are classified fatal
// or transient via toolerrors.IsFatal.
func (r *Runner) dispatchTool(ctx context.Context, call action.ToolCall, repairCount map[string]int) (content string, fatal bool, err error) {
	def, ok := r.Tools.Lookup(tools.Ident(call.Name))
	if !ok {
		return "", true, fmt.Errorf("unknown tool %q", call.Name)
	}
	args, derr := decodeToolArgs(def, call.Arguments, r.Tools)
	if derr != nil {
		if repairCount[call.Name] < 1 {
			repairCount[call.Name]++
			return "", false, derr
		}
		return "", true, derr
	}
	out, terr := r.Executor.Execute(ctx, def.Name, args)
	if terr != nil {
		return "", toolerrors.IsFatal(terr), terr
	}
	return out, false, nil
}

// decodeToolArgs unmarshals and schema-validates a tool call's raw
// arguments, consolidating the two failure modes §4.1B treats identically
// as "malformed arguments".
func decodeToolArgs(def tools.Definition, raw json.RawMessage, reg *tools.Registry) (map[string]any, error) {
	var args map[string]any
	if len(raw) > 0 {
		if jerr := json.Unmarshal(raw, &args); jerr != nil {
			return nil, fmt.Errorf("malformed arguments for %q: %w", def.Name, jerr)
		}
	}
	if verr := reg.Validate(def.Name, args); verr != nil {
		return nil, verr
	}
	return args, nil
}

// observe folds tool observations back into the conversation as Tool
// messages, advancing to the next iteration's starting state.
func (r *Runner) observe(_ context.Context, in ExecutedState) iterationState {
	if in.phase != phaseExecuted {
		panic("loop: observe called on non-executed state")
	}
	next := in.iterationState
	for _, o := range in.observations {
		next.c.Messages = append(next.c.Messages, conv.Message{
			Role:       conv.RoleTool,
			Content:    o.content,
			ToolCallID: o.callID,
		})
	}
	next.phase = phaseObserved
	return next
}

func (r *Runner) finish(ctx context.Context, st iterationState, reason action.TerminationReason, iterations int) (Output, error) {
	if _, err := r.Journal.Append(ctx, st.agentID, st.iteration, journal.Terminated{Reason: reason}); err != nil {
		return Output{}, err
	}
	return Output{Conversation: st.c, Reason: reason, Iterations: iterations, TotalTokens: st.totalTokens}, nil
}
