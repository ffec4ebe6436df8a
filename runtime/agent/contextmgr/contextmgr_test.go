package contextmgr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentrt/runtime/agent/contextmgr"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
)

func bigMessage(role conv.Role, n int) conv.Message {
	content := make([]byte, n)
	for i := range content {
		content[i] = 'x'
	}
	return conv.Message{Role: role, Content: string(content)}
}

func TestSlidingWindowNoopWhenWithinBudget(t *testing.T) {
	c := conv.Conversation{Messages: []conv.Message{{Role: conv.RoleUser, Content: "hi"}}}
	out, tokens := (contextmgr.SlidingWindow{}).Manage(c, 1000)
	assert.Equal(t, c.Messages, out.Messages)
	assert.Equal(t, conv.EstimateTokens(c), tokens)
}

func TestSlidingWindowDropsOldestFirst(t *testing.T) {
	c := conv.Conversation{Messages: []conv.Message{
		bigMessage(conv.RoleUser, 100),
		bigMessage(conv.RoleAssistant, 100),
		{Role: conv.RoleUser, Content: "recent"},
	}}
	out, tokens := (contextmgr.SlidingWindow{}).Manage(c, 30)
	require.LessOrEqual(t, tokens, 30)
	assert.Equal(t, "recent", out.Messages[len(out.Messages)-1].Content)
}

func TestSlidingWindowPreservesSystemMessage(t *testing.T) {
	c := conv.Conversation{Messages: []conv.Message{
		{Role: conv.RoleSystem, Content: "system prompt"},
		bigMessage(conv.RoleUser, 200),
		bigMessage(conv.RoleAssistant, 200),
		{Role: conv.RoleUser, Content: "recent"},
	}}
	out, _ := (contextmgr.SlidingWindow{}).Manage(c, 20)
	assert.Equal(t, conv.RoleSystem, out.Messages[0].Role)
	assert.Equal(t, "system prompt", out.Messages[0].Content)
}

func TestSlidingWindowDoesNotMutateOriginal(t *testing.T) {
	c := conv.Conversation{Messages: []conv.Message{
		bigMessage(conv.RoleUser, 100),
		{Role: conv.RoleUser, Content: "recent"},
	}}
	originalLen := len(c.Messages)
	(contextmgr.SlidingWindow{}).Manage(c, 5)
	assert.Len(t, c.Messages, originalLen)
}

func TestObservationMaskingNoopUnderThreeMessages(t *testing.T) {
	c := conv.Conversation{Messages: []conv.Message{
		{Role: conv.RoleTool, Content: "observation one"},
		{Role: conv.RoleTool, Content: "observation two"},
	}}
	out, _ := (contextmgr.ObservationMasking{}).Manage(c, 1)
	assert.Equal(t, "observation one", out.Messages[0].Content)
}

func TestObservationMaskingKeepsSixMostRecentTools(t *testing.T) {
	msgs := []conv.Message{{Role: conv.RoleSystem, Content: "sys"}, {Role: conv.RoleUser, Content: "go"}}
	for i := 0; i < 8; i++ {
		msgs = append(msgs, conv.Message{Role: conv.RoleTool, Content: "observation", ToolCallID: "x"})
	}
	c := conv.Conversation{Messages: msgs}
	out, _ := (contextmgr.ObservationMasking{}).Manage(c, 1)

	masked, kept := 0, 0
	for _, m := range out.Messages {
		if m.Role != conv.RoleTool {
			continue
		}
		if m.Content == "observation" {
			kept++
		} else {
			masked++
		}
	}
	assert.Equal(t, 6, kept)
	assert.Equal(t, 2, masked)
}

func TestAnchoredSummaryPinsSystemAndFirstUser(t *testing.T) {
	c := conv.Conversation{Messages: []conv.Message{
		{Role: conv.RoleSystem, Content: "sys"},
		{Role: conv.RoleUser, Content: "first question"},
		bigMessage(conv.RoleAssistant, 200),
		bigMessage(conv.RoleTool, 200),
		bigMessage(conv.RoleAssistant, 200),
		{Role: conv.RoleUser, Content: "recent 1"},
		{Role: conv.RoleAssistant, Content: "recent 2"},
		{Role: conv.RoleUser, Content: "recent 3"},
		{Role: conv.RoleAssistant, Content: "recent 4"},
	}}
	out, _ := (contextmgr.AnchoredSummary{}).Manage(c, 10)

	assert.Equal(t, conv.RoleSystem, out.Messages[0].Role)
	assert.Equal(t, "sys", out.Messages[0].Content)
	assert.Equal(t, "first question", out.Messages[1].Content)
	assert.Equal(t, conv.RoleUser, out.Messages[2].Role, "the synthesized summary is addressed as a User message")
	assert.Contains(t, out.Messages[2].Content, "messages_omitted=3")
	assert.Contains(t, out.Messages[2].Content, "tool_calls=0")
	assert.Contains(t, out.Messages[2].Content, "tool_results=1")
	assert.Equal(t, "recent 4", out.Messages[len(out.Messages)-1].Content)
}

func TestAnchoredSummaryFallsBackWithoutAnchor(t *testing.T) {
	msgs := make([]conv.Message, 0, 10)
	for i := 0; i < 10; i++ {
		msgs = append(msgs, bigMessage(conv.RoleAssistant, 100))
	}
	c := conv.Conversation{Messages: msgs}
	out, tokens := (contextmgr.AnchoredSummary{}).Manage(c, 50)
	sliding, slidingTokens := (contextmgr.SlidingWindow{}).Manage(c, 50)
	assert.Equal(t, len(sliding.Messages), len(out.Messages))
	assert.Equal(t, slidingTokens, tokens)
}

func TestAnchoredSummaryCustomSummarizer(t *testing.T) {
	a := contextmgr.AnchoredSummary{Summarize: func(dropped []conv.Message) string {
		return "custom summary"
	}}
	c := conv.Conversation{Messages: []conv.Message{
		{Role: conv.RoleSystem, Content: "sys"},
		{Role: conv.RoleUser, Content: "q"},
		bigMessage(conv.RoleAssistant, 300),
		{Role: conv.RoleUser, Content: "r1"},
		{Role: conv.RoleUser, Content: "r2"},
		{Role: conv.RoleUser, Content: "r3"},
		{Role: conv.RoleUser, Content: "r4"},
	}}
	out, _ := a.Manage(c, 5)
	assert.Equal(t, "custom summary", out.Messages[2].Content)
}

func TestStrategyNames(t *testing.T) {
	assert.Equal(t, "sliding_window", (contextmgr.SlidingWindow{}).Name())
	assert.Equal(t, "observation_masking", (contextmgr.ObservationMasking{}).Name())
	assert.Equal(t, "anchored_summary", (contextmgr.AnchoredSummary{}).Name())
}
