package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/inference"
	"github.com/agentmesh/agentrt/runtime/agent/tools"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func baseRequest(content string) inference.Request {
	return inference.Request{
		Conversation: conv.Conversation{Messages: []conv.Message{
			{Role: conv.RoleUser, Content: content},
		}},
	}
}

func TestNewRequiresMessagesClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-3.5-sonnet"})
	assert.Error(t, err)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(&stubMessagesClient{}, Options{})
	assert.Error(t, err)
}

func TestNewFromAPIKeyRequiresKey(t *testing.T) {
	_, err := NewFromAPIKey("", "claude-3.5-sonnet")
	assert.Error(t, err)
}

func TestCompleteTextOnlyReturnsRespond(t *testing.T) {
	stub := &stubMessagesClient{}
	p, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello back"},
		},
		Usage: sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}

	res, err := p.Complete(context.Background(), baseRequest("hi"))
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, action.Respond{Content: "hello back"}, res.Actions[0])
	assert.Equal(t, 10, res.Usage.PromptTokens)
	assert.Equal(t, 5, res.Usage.CompletionTokens)
}

func TestCompleteToolUseReturnsToolCall(t *testing.T) {
	stub := &stubMessagesClient{}
	p, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", Name: "lookup_user", ID: "tool-1", Input: json.RawMessage(`{"id":7}`)},
		},
	}

	res, err := p.Complete(context.Background(), baseRequest("look up user 7"))
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	call, ok := res.Actions[0].(action.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "lookup_user", call.Name)
	assert.Equal(t, "tool-1", call.CallID)
	assert.JSONEq(t, `{"id":7}`, string(call.Arguments))
}

func TestCompletePassesToolDefinitionsAndSystemMessage(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	p, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	req := inference.Request{
		Conversation: conv.Conversation{Messages: []conv.Message{
			{Role: conv.RoleSystem, Content: "be concise"},
			{Role: conv.RoleUser, Content: "hi"},
		}},
		Tools: []tools.Definition{
			{Name: "lookup_user", Description: "looks up a user", Parameters: map[string]any{"type": "object"}},
		},
	}

	_, err = p.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "be concise", stub.lastParams.System[0].Text)
	require.Len(t, stub.lastParams.Tools, 1)
}

func TestCompleteRejectsEmptyConversation(t *testing.T) {
	stub := &stubMessagesClient{}
	p, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), inference.Request{})
	require.Error(t, err)
	pe, ok := inference.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, inference.KindInvalidInput, pe.Kind)
}

func TestCompleteRejectsMissingMaxTokens(t *testing.T) {
	stub := &stubMessagesClient{}
	p, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), baseRequest("hi"))
	require.Error(t, err)
}

func TestCompleteClassifiesNonAPIErrorAsUnavailable(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("connection reset")}
	p, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), baseRequest("hi"))
	require.Error(t, err)
	pe, ok := inference.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, inference.KindUnavailable, pe.Kind)
}
