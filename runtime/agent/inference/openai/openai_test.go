package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/inference"
	"github.com/agentmesh/agentrt/runtime/agent/tools"
)

type stubChatClient struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
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

func TestNewRequiresChatClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "gpt-4o"})
	assert.Error(t, err)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(&stubChatClient{}, Options{})
	assert.Error(t, err)
}

func TestNewFromAPIKeyRequiresKey(t *testing.T) {
	_, err := NewFromAPIKey("", "gpt-4o")
	assert.Error(t, err)
}

func TestCompleteTextOnlyReturnsRespond(t *testing.T) {
	stub := &stubChatClient{}
	p, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	stub.resp = &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "hello back"}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5},
	}

	res, err := p.Complete(context.Background(), baseRequest("hi"))
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, action.Respond{Content: "hello back"}, res.Actions[0])
	assert.Equal(t, 10, res.Usage.PromptTokens)
	assert.Equal(t, 5, res.Usage.CompletionTokens)
}

func TestCompleteToolCallsReturnToolCallActions(t *testing.T) {
	stub := &stubChatClient{}
	p, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	stub.resp = &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ChatCompletionMessageToolCall{
					{ID: "call-1", Function: openai.ChatCompletionMessageToolCallFunction{Name: "lookup_user", Arguments: `{"id":7}`}},
				},
			}},
		},
	}

	res, err := p.Complete(context.Background(), baseRequest("look up user 7"))
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	call, ok := res.Actions[0].(action.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "call-1", call.CallID)
	assert.Equal(t, "lookup_user", call.Name)
	assert.JSONEq(t, `{"id":7}`, string(call.Arguments))
}

func TestCompleteRejectsEmptyConversation(t *testing.T) {
	stub := &stubChatClient{}
	p, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), inference.Request{})
	require.Error(t, err)
	pe, ok := inference.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, inference.KindInvalidInput, pe.Kind)
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	stub := &stubChatClient{resp: &openai.ChatCompletion{}}
	p, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), baseRequest("hi"))
	assert.Error(t, err)
}

func TestCompletePassesToolDefinitions(t *testing.T) {
	stub := &stubChatClient{resp: &openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{{}}}}
	p, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	req := inference.Request{
		Conversation: conv.Conversation{Messages: []conv.Message{{Role: conv.RoleUser, Content: "hi"}}},
		Tools: []tools.Definition{
			{Name: "lookup_user", Description: "looks up a user", Parameters: map[string]any{"type": "object"}},
		},
	}

	_, err = p.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, stub.lastParams.Tools, 1)
	assert.Equal(t, "lookup_user", stub.lastParams.Tools[0].Function.Name)
}

func TestCompleteClassifiesNonAPIErrorAsUnavailable(t *testing.T) {
	stub := &stubChatClient{err: errors.New("connection reset")}
	p, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), baseRequest("hi"))
	require.Error(t, err)
	pe, ok := inference.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, inference.KindUnavailable, pe.Kind)
}
