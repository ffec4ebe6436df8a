// Package openai adapts github.com/openai/openai-go to
// runtime/agent/inference.Provider, following the same narrowing applied in
// the sibling anthropic adapter: one non-streaming completion per call, no
// multi-modal content.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/inference"
	"github.com/agentmesh/agentrt/runtime/agent/tools"
)

// ChatClient captures the subset of the SDK used here.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures default model parameters.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Provider implements inference.Provider on the OpenAI Chat Completions API.
type Provider struct {
	chat         ChatClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Provider from an already-configured OpenAI client.
func New(chat ChatClient, opts Options) (*Provider, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Provider{chat: chat, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Provider using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Chat.Completions, Options{DefaultModel: defaultModel})
}

func (p *Provider) Complete(ctx context.Context, req inference.Request) (inference.Result, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return inference.Result{}, inference.NewProviderError("openai", "complete", inference.KindInvalidInput, err.Error())
	}
	resp, err := p.chat.New(ctx, params)
	if err != nil {
		return inference.Result{}, classifyError(err)
	}
	return translate(resp)
}

func (p *Provider) buildParams(req inference.Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Conversation.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("conversation has no messages")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Conversation.Messages))
	for _, m := range req.Conversation.Messages {
		switch m.Role {
		case conv.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case conv.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case conv.RoleAssistant:
			msgs = append(msgs, encodeAssistant(m))
		case conv.RoleTool:
			msgs = append(msgs, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: msgs,
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp == 0 {
		temp = p.temperature
	}
	if temp > 0 {
		params.Temperature = openai.Float(temp)
	}
	if len(req.Tools) > 0 {
		toolParams, err := encodeTools(req.Tools)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		params.Tools = toolParams
	}
	return params, nil
}

func encodeAssistant(m conv.Message) openai.ChatCompletionMessageParamUnion {
	asst := openai.ChatCompletionAssistantMessageParam{}
	if m.Content != "" {
		asst.Content.OfString = openai.String(m.Content)
	}
	for _, tc := range m.ToolCalls {
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func encodeTools(defs []tools.Definition) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        string(d.Name),
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(d.Parameters),
			},
		})
	}
	return out, nil
}

func translate(resp *openai.ChatCompletion) (inference.Result, error) {
	if len(resp.Choices) == 0 {
		return inference.Result{}, fmt.Errorf("openai: response has no choices")
	}
	msg := resp.Choices[0].Message
	var actions []action.ProposedAction
	for _, tc := range msg.ToolCalls {
		actions = append(actions, action.ToolCall{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(actions) == 0 {
		actions = append(actions, action.Respond{Content: msg.Content})
	}
	return inference.Result{
		Actions: actions,
		Usage: inference.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := inference.KindUnknown
		switch apiErr.StatusCode {
		case 429:
			kind = inference.KindRateLimited
		case 401, 403:
			kind = inference.KindAuth
		case 400, 422:
			kind = inference.KindInvalidInput
		case 503:
			kind = inference.KindOverloaded
		}
		return inference.NewProviderError("openai", "complete", kind, apiErr.Error()).WithCause(err)
	}
	return inference.NewProviderError("openai", "complete", inference.KindUnavailable, err.Error()).WithCause(err)
}
