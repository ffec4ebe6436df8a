package action_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentmesh/agentrt/runtime/agent/action"
)

func TestActionNameVariants(t *testing.T) {
	cases := []struct {
		in   action.ProposedAction
		want string
	}{
		{action.ToolCall{Name: "lookup_user"}, "tool_call::lookup_user"},
		{action.Respond{Content: "hi"}, "respond"},
		{action.Delegate{TargetAgent: "billing-agent"}, "delegate::billing-agent"},
		{action.Terminate{Reason: "done"}, "terminate"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, action.ActionName(c.in))
	}
}

func TestActionNamePanicsOnUnknownVariant(t *testing.T) {
	assert.Panics(t, func() {
		action.ActionName(nil)
	})
}

func TestDecisionVariantsImplementInterface(t *testing.T) {
	var decisions = []action.Decision{
		action.Allow{},
		action.Deny{Reason: "no"},
		action.Modify{Replacement: action.Respond{Content: "safer"}},
	}
	assert.Len(t, decisions, 3)
}

func TestTerminationReasonVariantsImplementInterface(t *testing.T) {
	var reasons = []action.TerminationReason{
		action.NaturalStop{},
		action.MaxIterations{},
		action.TokenBudgetExhausted{},
		action.Timeout{},
		action.PolicyDenied{Reason: "blocked"},
		action.ToolError{Fatal: true},
		action.Error{Message: "boom"},
	}
	assert.Len(t, reasons, 7)
}
