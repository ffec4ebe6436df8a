// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to
// runtime/agent/inference.Provider.
//
// Grounded in the donor codebase's features/model/anthropic client (message
// construction, tool encoding, rate-limit error classification) but
// narrowed to the inference.Request/Result shape: no streaming, no
// multi-modal content parts, and ProposedAction extraction in place of the donor codebase's richer planner transcript types.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/inference"
	"github.com/agentmesh/agentrt/runtime/agent/tools"
)

// MessagesClient captures the subset of the SDK used here, so tests can
// substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures default model parameters used when a Request omits
// them.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Provider implements inference.Provider on Anthropic Messages.
type Provider struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Provider from an already-configured Anthropic client.
func New(msg MessagesClient, opts Options) (*Provider, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Provider{msg: msg, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Provider using the default Anthropic HTTP
// client authenticated with apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, Options{DefaultModel: defaultModel})
}

func (p *Provider) Complete(ctx context.Context, req inference.Request) (inference.Result, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return inference.Result{}, inference.NewProviderError("anthropic", "complete", inference.KindInvalidInput, err.Error())
	}
	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return inference.Result{}, classifyError(err)
	}
	return translate(msg)
}

func (p *Provider) buildParams(req inference.Request) (sdk.MessageNewParams, error) {
	if len(req.Conversation.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("conversation has no messages")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens <= 0 {
		return sdk.MessageNewParams{}, errors.New("max_tokens must be positive")
	}

	var system string
	msgs := make([]sdk.MessageParam, 0, len(req.Conversation.Messages))
	for _, m := range req.Conversation.Messages {
		switch m.Role {
		case conv.RoleSystem:
			if system == "" {
				system = m.Content
			} else {
				system += "\n\n" + m.Content
			}
		case conv.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case conv.RoleAssistant:
			msgs = append(msgs, encodeAssistant(m))
		case conv.RoleTool:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	temp := req.Temperature
	if temp == 0 {
		temp = p.temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if len(req.Tools) > 0 {
		toolParams, err := encodeTools(req.Tools)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Tools = toolParams
	}
	return params, nil
}

func encodeAssistant(m conv.Message) sdk.MessageParam {
	blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
	if m.Content != "" {
		blocks = append(blocks, sdk.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		var args any
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, args, tc.Name))
	}
	return sdk.NewAssistantMessage(blocks...)
}

func encodeTools(defs []tools.Definition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema, err := json.Marshal(d.Parameters)
		if err != nil {
			return nil, fmt.Errorf("encode schema for %q: %w", d.Name, err)
		}
		var inputSchema sdk.ToolInputSchemaParam
		if err := json.Unmarshal(schema, &inputSchema); err != nil {
			return nil, fmt.Errorf("decode schema for %q: %w", d.Name, err)
		}
		out = append(out, sdk.ToolUnionParamOfTool(inputSchema, string(d.Name)))
	}
	return out, nil
}

func translate(msg *sdk.Message) (inference.Result, error) {
	var actions []action.ProposedAction
	var textContent string
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			textContent += variant.Text
		case sdk.ToolUseBlock:
			args, err := json.Marshal(variant.Input)
			if err != nil {
				return inference.Result{}, fmt.Errorf("anthropic: marshal tool input: %w", err)
			}
			actions = append(actions, action.ToolCall{
				CallID:    variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action.Respond{Content: textContent})
	}
	return inference.Result{
		Actions: actions,
		Usage: inference.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := inference.KindUnknown
		switch apiErr.StatusCode {
		case 429:
			kind = inference.KindRateLimited
		case 401, 403:
			kind = inference.KindAuth
		case 400, 422:
			kind = inference.KindInvalidInput
		case 503, 529:
			kind = inference.KindOverloaded
		}
		return inference.NewProviderError("anthropic", "complete", kind, apiErr.Error()).WithCause(err)
	}
	return inference.NewProviderError("anthropic", "complete", inference.KindUnavailable, err.Error()).WithCause(err)
}
