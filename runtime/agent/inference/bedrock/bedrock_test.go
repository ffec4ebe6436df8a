package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/inference"
	"github.com/agentmesh/agentrt/runtime/agent/tools"
)

type stubConverseClient struct {
	lastInput *bedrockruntime.ConverseInput
	resp      *bedrockruntime.ConverseOutput
	err       error
}

func (s *stubConverseClient) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastInput = params
	return s.resp, s.err
}

func baseRequest(content string) inference.Request {
	return inference.Request{
		Conversation: conv.Conversation{Messages: []conv.Message{
			{Role: conv.RoleUser, Content: content},
		}},
	}
}

func TestNewRequiresConverseClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModelID: "anthropic.claude-3"})
	assert.Error(t, err)
}

func TestNewRequiresDefaultModelID(t *testing.T) {
	_, err := New(&stubConverseClient{}, Options{})
	assert.Error(t, err)
}

func TestCompleteTextOnlyReturnsRespond(t *testing.T) {
	stub := &stubConverseClient{}
	p, err := New(stub, Options{DefaultModelID: "anthropic.claude-3", MaxTokens: 128})
	require.NoError(t, err)

	stub.resp = &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "hello back"}},
			},
		},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(5)},
	}

	res, err := p.Complete(context.Background(), baseRequest("hi"))
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, action.Respond{Content: "hello back"}, res.Actions[0])
	assert.Equal(t, 10, res.Usage.PromptTokens)
	assert.Equal(t, 5, res.Usage.CompletionTokens)
}

func TestCompleteToolUseReturnsToolCall(t *testing.T) {
	stub := &stubConverseClient{}
	p, err := New(stub, Options{DefaultModelID: "anthropic.claude-3", MaxTokens: 128})
	require.NoError(t, err)

	stub.resp = &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Content: []types.ContentBlock{&types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String("tool-1"),
						Name:      aws.String("lookup_user"),
						Input:     document.NewLazyDocument(map[string]any{"id": float64(7)}),
					},
				}},
			},
		},
	}

	res, err := p.Complete(context.Background(), baseRequest("look up user 7"))
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	call, ok := res.Actions[0].(action.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "tool-1", call.CallID)
	assert.Equal(t, "lookup_user", call.Name)
	assert.JSONEq(t, `{"id":7}`, string(call.Arguments))
}

func TestCompleteRejectsEmptyConversation(t *testing.T) {
	stub := &stubConverseClient{}
	p, err := New(stub, Options{DefaultModelID: "anthropic.claude-3", MaxTokens: 128})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), inference.Request{})
	require.Error(t, err)
	pe, ok := inference.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, inference.KindInvalidInput, pe.Kind)
}

func TestCompleteRejectsUnexpectedOutputVariant(t *testing.T) {
	stub := &stubConverseClient{resp: &bedrockruntime.ConverseOutput{}}
	p, err := New(stub, Options{DefaultModelID: "anthropic.claude-3", MaxTokens: 128})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), baseRequest("hi"))
	assert.Error(t, err)
}

func TestCompletePassesToolConfiguration(t *testing.T) {
	stub := &stubConverseClient{resp: &bedrockruntime.ConverseOutput{Output: &types.ConverseOutputMemberMessage{}}}
	p, err := New(stub, Options{DefaultModelID: "anthropic.claude-3", MaxTokens: 128})
	require.NoError(t, err)

	req := inference.Request{
		Conversation: conv.Conversation{Messages: []conv.Message{{Role: conv.RoleUser, Content: "hi"}}},
		Tools: []tools.Definition{
			{Name: "lookup_user", Description: "looks up a user", Parameters: map[string]any{"type": "object"}},
		},
	}

	_, err = p.Complete(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, stub.lastInput.ToolConfig)
	require.Len(t, stub.lastInput.ToolConfig.Tools, 1)
}

func TestClassifyErrorMapsThrottlingToRateLimited(t *testing.T) {
	err := classifyError(&types.ThrottlingException{Message: aws.String("slow down")})
	pe, ok := inference.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, inference.KindRateLimited, pe.Kind)
}

func TestClassifyErrorMapsValidationToInvalidInput(t *testing.T) {
	err := classifyError(&types.ValidationException{Message: aws.String("bad request")})
	pe, ok := inference.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, inference.KindInvalidInput, pe.Kind)
}

func TestClassifyErrorMapsAccessDeniedToAuth(t *testing.T) {
	err := classifyError(&types.AccessDeniedException{Message: aws.String("denied")})
	pe, ok := inference.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, inference.KindAuth, pe.Kind)
}

func TestClassifyErrorDefaultsToUnavailable(t *testing.T) {
	err := classifyError(errors.New("network blip"))
	pe, ok := inference.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, inference.KindUnavailable, pe.Kind)
}
