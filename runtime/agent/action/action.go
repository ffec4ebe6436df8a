// Package action defines the tagged variants that flow through a reasoning
// iteration: the actions an assistant turn can propose, the decisions the
// policy gate renders over them, and the reasons a run terminates.
//
// Each sum type follows the donor codebase's tagged-variant idiom for closed unions
// (see runtime/agent/conv for the same convention applied to messages): an
// unexported marker method restricted to variants declared in this package,
// and an exhaustive switch with a panicking default at every call site that
// must handle every case. Adding a variant without updating those switches
// is a compile-time or immediate-panic break, not a silent miss.
package action

import "encoding/json"

// ProposedAction is a closed sum type: ToolCall, Respond, Delegate, or
// Terminate. Only types declared in this file implement it.
type ProposedAction interface {
	isProposedAction()
}

// ToolCall proposes invoking a named tool with JSON-encoded arguments.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// Respond proposes emitting content as the run's output without invoking
// any tool.
type Respond struct {
	Content string
}

// Delegate proposes handing the remainder of the conversation to another
// agent.
type Delegate struct {
	TargetAgent string
	Message     string
}

// Terminate proposes ending the run with an explicit natural-stop output.
type Terminate struct {
	Reason string
	Output string
}

func (ToolCall) isProposedAction()  {}
func (Respond) isProposedAction()   {}
func (Delegate) isProposedAction()  {}
func (Terminate) isProposedAction() {}

// ActionName derives the canonical, policy-rule-matchable name for a
// ProposedAction, per "tool_call::<name>", "respond",
// "delegate::<target>", or "terminate".
func ActionName(a ProposedAction) string {
	switch v := a.(type) {
	case ToolCall:
		return "tool_call::" + v.Name
	case Respond:
		return "respond"
	case Delegate:
		return "delegate::" + v.TargetAgent
	case Terminate:
		return "terminate"
	default:
		panic("action: unhandled ProposedAction variant")
	}
}

// Decision is a closed sum type representing the policy gate's disposition
// toward one ProposedAction: Allow, Deny, or Modify.
type Decision interface {
	isDecision()
}

// Allow keeps the action as proposed.
type Allow struct{}

// Deny drops the action; Reason is surfaced to the model as a synthesized
// tool observation so it can react.
type Deny struct {
	Reason string
}

// Modify substitutes Replacement for the original action. A Modify decision
// is re-authorized exactly once; a second Modify on the same action is
// treated as Deny (see runtime/agent/loop) to prevent infinite
// modify-then-reauthorize loops.
type Modify struct {
	Replacement ProposedAction
}

func (Allow) isDecision()  {}
func (Deny) isDecision()   {}
func (Modify) isDecision() {}

// TerminationReason is a closed sum type describing why a run ended.
type TerminationReason interface {
	isTerminationReason()
}

// NaturalStop indicates the model issued an allowed Terminate action.
type NaturalStop struct{}

// MaxIterations indicates the run exhausted LoopConfig.MaxIterations.
type MaxIterations struct{}

// TokenBudgetExhausted indicates the run's running token total reached
// LoopConfig.MaxTotalTokens.
type TokenBudgetExhausted struct{}

// Timeout indicates the run's wall-clock deadline passed.
type Timeout struct{}

// PolicyDenied indicates an iteration could not continue: every proposed
// action was either denied and dropped or, for Modify, exhausted its
// reauthorization retries, leaving nothing to execute. A plain Deny alone
// never produces this termination — it is folded back as a synthesized
// tool observation so the model can react and the run continues.
type PolicyDenied struct {
	Reason string
}

// ToolError indicates a tool dispatch failed. Fatal errors (unknown tool,
// malformed arguments after one repair attempt) terminate the run;
// transient errors are folded back into the conversation instead and never
// produce this termination reason.
type ToolError struct {
	Fatal bool
}

// Error indicates an unclassified fatal condition, including explicit
// cancellation ("cancelled").
type Error struct {
	Message string
}

func (NaturalStop) isTerminationReason()          {}
func (MaxIterations) isTerminationReason()        {}
func (TokenBudgetExhausted) isTerminationReason() {}
func (Timeout) isTerminationReason()              {}
func (PolicyDenied) isTerminationReason()         {}
func (ToolError) isTerminationReason()            {}
func (Error) isTerminationReason()                {}
