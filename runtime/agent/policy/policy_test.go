package policy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/policy"
)

func TestAllowAllAllowsEverything(t *testing.T) {
	g := policy.AllowAll()
	d, err := g.Decide(context.Background(), policy.Input{ActionName: "respond"})
	require.NoError(t, err)
	assert.Equal(t, action.Allow{}, d)
}

func TestDenyAllDeniesWithReason(t *testing.T) {
	g := policy.DenyAll("no actions today")
	d, err := g.Decide(context.Background(), policy.Input{ActionName: "respond"})
	require.NoError(t, err)
	deny, ok := d.(action.Deny)
	require.True(t, ok)
	assert.Equal(t, "no actions today", deny.Reason)
}

func TestDenyAllDefaultsReason(t *testing.T) {
	g := policy.DenyAll("")
	d, err := g.Decide(context.Background(), policy.Input{})
	require.NoError(t, err)
	deny := d.(action.Deny)
	assert.NotEmpty(t, deny.Reason)
}

func TestRuleSetGateMatchesByKind(t *testing.T) {
	g := policy.NewRuleSetGate(policy.RuleSetGateOptions{
		Rules: []policy.Rule{
			{
				Name:     "block-tools",
				Active:   true,
				Source:   "test",
				Kind:     policy.RuleForbid,
				Prefixes: []string{"tool_call::"},
				Reason:   "tools blocked",
			},
			{
				Name:   "allow-respond",
				Active: true,
				Source: "test",
				Kind:   policy.RulePermit,
				Names:  []string{"respond"},
			},
		},
	})

	d, err := g.Decide(context.Background(), policy.Input{ActionName: "tool_call::send_email"})
	require.NoError(t, err)
	assert.Equal(t, action.Deny{Reason: "tools blocked"}, d)

	d, err = g.Decide(context.Background(), policy.Input{ActionName: "respond"})
	require.NoError(t, err)
	assert.Equal(t, action.Allow{}, d)
}

func TestRuleSetGateForbidDominatesPermitRegardlessOfOrder(t *testing.T) {
	g := policy.NewRuleSetGate(policy.RuleSetGateOptions{
		Rules: []policy.Rule{
			{
				Name:   "allow-email",
				Active: true,
				Kind:   policy.RulePermit,
				Names:  []string{"tool_call::send_email"},
			},
			{
				Name:   "block-email",
				Active: true,
				Kind:   policy.RuleForbid,
				Names:  []string{"tool_call::send_email"},
				Reason: "email disabled",
			},
		},
	})

	d, err := g.Decide(context.Background(), policy.Input{ActionName: "tool_call::send_email"})
	require.NoError(t, err)
	assert.Equal(t, action.Deny{Reason: "email disabled"}, d, "forbid must win even though permit was declared first")
}

func TestRuleSetGateInactiveRuleNeverMatches(t *testing.T) {
	g := policy.NewRuleSetGate(policy.RuleSetGateOptions{
		Rules: []policy.Rule{
			{
				Name:   "disabled-block",
				Active: false,
				Kind:   policy.RuleForbid,
				Names:  []string{"respond"},
			},
		},
	})

	d, err := g.Decide(context.Background(), policy.Input{ActionName: "respond"})
	require.NoError(t, err)
	assert.Equal(t, action.Allow{}, d)
}

func TestRuleSetGateDefaultsToAllowWhenUnset(t *testing.T) {
	g := policy.NewRuleSetGate(policy.RuleSetGateOptions{})
	d, err := g.Decide(context.Background(), policy.Input{ActionName: "respond"})
	require.NoError(t, err)
	assert.Equal(t, action.Allow{}, d)
}

func TestRuleSetGateCustomDefault(t *testing.T) {
	g := policy.NewRuleSetGate(policy.RuleSetGateOptions{
		Default: func(policy.Input) action.Decision { return action.Deny{Reason: "default deny"} },
	})
	d, err := g.Decide(context.Background(), policy.Input{ActionName: "anything"})
	require.NoError(t, err)
	assert.Equal(t, action.Deny{Reason: "default deny"}, d)
}

func TestRuleSetGateDeniesWhenToolBudgetExhausted(t *testing.T) {
	g := policy.NewRuleSetGate(policy.RuleSetGateOptions{})
	d, err := g.Decide(context.Background(), policy.Input{
		ActionName:         "tool_call::send_email",
		Action:             action.ToolCall{Name: "send_email"},
		RemainingToolCalls: 0,
	})
	require.NoError(t, err)
	deny, ok := d.(action.Deny)
	require.True(t, ok)
	assert.Contains(t, deny.Reason, "budget exhausted")
}

func TestRuleSetGateMisconfiguredRuleDenies(t *testing.T) {
	g := policy.NewRuleSetGate(policy.RuleSetGateOptions{
		Rules: []policy.Rule{{Name: "no-kind", Active: true, Names: []string{"respond"}}},
	})
	d, err := g.Decide(context.Background(), policy.Input{ActionName: "respond"})
	require.NoError(t, err)
	_, ok := d.(action.Deny)
	assert.True(t, ok)
}

func TestBridgeTranslatesOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		verdict policy.BridgeVerdict
		err     error
		assert  func(t *testing.T, d action.Decision)
	}{
		{
			name:    "allow",
			verdict: policy.BridgeVerdict{Outcome: "allow"},
			assert: func(t *testing.T, d action.Decision) {
				assert.Equal(t, action.Allow{}, d)
			},
		},
		{
			name:    "deny",
			verdict: policy.BridgeVerdict{Outcome: "deny", Reason: "blocked"},
			assert: func(t *testing.T, d action.Decision) {
				assert.Equal(t, action.Deny{Reason: "blocked"}, d)
			},
		},
		{
			name: "modify",
			verdict: policy.BridgeVerdict{
				Outcome:     "modify",
				Replacement: action.Respond{Content: "sanitized"},
			},
			assert: func(t *testing.T, d action.Decision) {
				assert.Equal(t, action.Modify{Replacement: action.Respond{Content: "sanitized"}}, d)
			},
		},
		{
			name:    "modify without replacement denies",
			verdict: policy.BridgeVerdict{Outcome: "modify"},
			assert: func(t *testing.T, d action.Decision) {
				_, ok := d.(action.Deny)
				assert.True(t, ok)
			},
		},
		{
			name:    "unknown outcome denies",
			verdict: policy.BridgeVerdict{Outcome: "???"},
			assert: func(t *testing.T, d action.Decision) {
				_, ok := d.(action.Deny)
				assert.True(t, ok)
			},
		},
		{
			name: "transport error denies",
			err:  errors.New("connection refused"),
			assert: func(t *testing.T, d action.Decision) {
				_, ok := d.(action.Deny)
				assert.True(t, ok)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := policy.Bridge{
				Evaluate: func(context.Context, policy.Input) (policy.BridgeVerdict, error) {
					return tc.verdict, tc.err
				},
			}
			d, err := b.Decide(context.Background(), policy.Input{ActionName: "respond"})
			require.NoError(t, err)
			tc.assert(t, d)
		})
	}
}
