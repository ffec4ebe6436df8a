// Package policy implements the fail-closed authorization gate that sits
// between the Reason and Execute phases of a reasoning iteration.
//
// Gate and the rule-matching shape of RuleSetGate are grounded in the
// donor codebase's allow/block/tag filtering engine (formerly
// features/policy/basic/engine.go): candidate resolution, explicit
// allow/block lists taking precedence over tag-based filtering, and a
// request-scoped label set attached to the decision for observability. That
// engine decided which tools a turn could see in advance; this package
// generalizes the same matching idiom to render a fail-closed Allow/Deny/
// Modify decision over each individually proposed action.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentmesh/agentrt/runtime/agent/action"
)

// Input is the context a Gate evaluates one ProposedAction against.
type Input struct {
	AgentID   string
	Iteration int
	Action    action.ProposedAction
	// ActionName is action.ActionName(Action), precomputed by the caller so
	// gates never need to re-derive it.
	ActionName string
	// RemainingToolCalls is the number of tool calls still permitted this
	// run under loop.Config.MaxToolCalls, -1 if unbounded.
	RemainingToolCalls int
}

// Gate renders a Decision for a single proposed action. Implementations
// must be fail-closed: any internal error is surfaced as a Deny, never as
// an Allow. Decide must not mutate Input.Action.
type Gate interface {
	Decide(ctx context.Context, in Input) (action.Decision, error)
}

// GateFunc adapts a function to a Gate.
type GateFunc func(ctx context.Context, in Input) (action.Decision, error)

func (f GateFunc) Decide(ctx context.Context, in Input) (action.Decision, error) {
	return f(ctx, in)
}

// DenyAll is a Gate that denies every action. It is the safest possible
// default.
func DenyAll(reason string) Gate {
	if reason == "" {
		reason = "policy: default-deny"
	}
	return GateFunc(func(_ context.Context, _ Input) (action.Decision, error) {
		return action.Deny{Reason: reason}, nil
	})
}

// AllowAll is a Gate that allows every action. It exists for tests and for
// explicitly unrestricted agents; production configurations should prefer
// RuleSetGate with an explicit policy.
func AllowAll() Gate {
	return GateFunc(func(_ context.Context, _ Input) (action.Decision, error) {
		return action.Allow{}, nil
	})
}

// RuleKind is the disposition a Rule renders for a matching action. It is a
// closed two-way choice, not an arbitrary callback, so the gate can enforce
// "forbid strictly dominates permit" structurally rather than depending on
// declaration order.
type RuleKind string

const (
	RuleForbid RuleKind = "forbid"
	RulePermit RuleKind = "permit"
)

// Rule matches a set of actions by exact name or by name prefix (so
// "tool_call::" matches every tool call) and renders Kind's disposition for
// matches. Rules are named and carry provenance (Source) for audit and
// troubleshooting; Active gates whether a rule participates in evaluation
// at all without needing to remove it from the set.
type Rule struct {
	// Name identifies the rule for audit logs and journal entries.
	Name string
	// Active determines whether this rule is evaluated at all. An inactive
	// rule never matches, regardless of Names/Prefixes.
	Active bool
	// Source records where this rule came from (e.g. a file path or a
	// policy-service identifier) for audit trails.
	Source string
	// Kind is Forbid or Permit. Any other value is a misconfigured rule and
	// denies on match rather than silently falling through.
	Kind RuleKind
	// Names lists exact action names this rule matches (see
	// action.ActionName), e.g. "respond" or "tool_call::send_email".
	Names []string
	// Prefixes lists action-name prefixes this rule matches, e.g.
	// "tool_call::" to match every tool call, or "delegate::" for every
	// delegation target.
	Prefixes []string
	// Reason is surfaced on a Forbid match's Deny; defaults to a message
	// naming the rule if empty.
	Reason string
}

func (r Rule) matches(name string) bool {
	if !r.Active {
		return false
	}
	for _, n := range r.Names {
		if n == name {
			return true
		}
	}
	for _, p := range r.Prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// RuleSetGate evaluates a set of named, ordered Rules with {active, source}
// provenance. Disposition is structural, not order-dependent: any active
// Forbid rule matching the action wins outright; otherwise any active
// Permit rule matching it allows; otherwise Default applies. Forbid
// strictly dominates Permit regardless of which was declared first. The
// rule set is captured at construction and read without locking
// thereafter; callers that need to change policy at runtime should
// construct a new RuleSetGate and swap it under their own synchronization
// (loop.Runner holds its Gate in a plain field and does no swapping).
type RuleSetGate struct {
	rules []Rule
	deflt func(in Input) action.Decision
}

// RuleSetGateOptions configures a RuleSetGate.
type RuleSetGateOptions struct {
	// Rules are evaluated for matches; dominance is structural (Forbid over
	// Permit), not positional.
	Rules []Rule
	// Default renders the Decision when no Rule matches. Defaults to
	// Allow{} if nil, matching an opt-out rule set (deny specific things,
	// allow the rest) rather than opt-in.
	Default func(in Input) action.Decision
}

// NewRuleSetGate builds a RuleSetGate from the supplied options.
func NewRuleSetGate(opts RuleSetGateOptions) *RuleSetGate {
	deflt := opts.Default
	if deflt == nil {
		deflt = func(Input) action.Decision { return action.Allow{} }
	}
	return &RuleSetGate{rules: append([]Rule(nil), opts.Rules...), deflt: deflt}
}

func (g *RuleSetGate) Decide(_ context.Context, in Input) (action.Decision, error) {
	if in.RemainingToolCalls == 0 {
		if _, isCall := in.Action.(action.ToolCall); isCall {
			return action.Deny{Reason: "policy: tool call budget exhausted"}, nil
		}
	}

	var permitted *Rule
	for i := range g.rules {
		r := &g.rules[i]
		if !r.matches(in.ActionName) {
			continue
		}
		switch r.Kind {
		case RuleForbid:
			reason := r.Reason
			if reason == "" {
				reason = fmt.Sprintf("policy: forbidden by rule %q", r.Name)
			}
			return action.Deny{Reason: reason}, nil
		case RulePermit:
			if permitted == nil {
				permitted = r
			}
		default:
			return action.Deny{Reason: fmt.Sprintf("policy: misconfigured rule %q (unknown kind)", r.Name)}, nil
		}
	}
	if permitted != nil {
		return action.Allow{}, nil
	}
	return g.deflt(in), nil
}

// Bridge adapts an external authorization service reachable over the
// network ("an external policy bridge") into a Gate. Any
// transport or decoding error is translated into a Deny, never propagated
// as an Allow-by-default.
type Bridge struct {
	// Evaluate performs the remote call and returns its raw verdict.
	Evaluate func(ctx context.Context, in Input) (BridgeVerdict, error)
}

// BridgeVerdict is the wire-level response shape from an external policy
// service: a three-way allow/deny/modify outcome plus an optional
// replacement action for the modify case.
type BridgeVerdict struct {
	Outcome     string // "allow", "deny", or "modify"
	Reason      string
	Replacement action.ProposedAction // only meaningful when Outcome == "modify"
}

func (b Bridge) Decide(ctx context.Context, in Input) (action.Decision, error) {
	verdict, err := b.Evaluate(ctx, in)
	if err != nil {
		return action.Deny{Reason: fmt.Sprintf("policy: bridge unavailable: %v", err)}, nil
	}
	switch verdict.Outcome {
	case "allow":
		return action.Allow{}, nil
	case "deny":
		return action.Deny{Reason: verdict.Reason}, nil
	case "modify":
		if verdict.Replacement == nil {
			return action.Deny{Reason: "policy: bridge returned modify with no replacement"}, nil
		}
		return action.Modify{Replacement: verdict.Replacement}, nil
	default:
		return action.Deny{Reason: fmt.Sprintf("policy: bridge returned unknown outcome %q", verdict.Outcome)}, nil
	}
}
