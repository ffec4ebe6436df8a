// Package bedrock adapts the AWS Bedrock Runtime Converse API
// (github.com/aws/aws-sdk-go-v2/service/bedrockruntime) to
// runtime/agent/inference.Provider, following the same narrowing applied in
// the sibling anthropic and openai adapters.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/inference"
	"github.com/agentmesh/agentrt/runtime/agent/tools"
)

// ConverseClient captures the subset of the SDK used here.
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures default model parameters.
type Options struct {
	DefaultModelID string
	MaxTokens      int
	Temperature    float32
}

// Provider implements inference.Provider on Bedrock Converse.
type Provider struct {
	client       ConverseClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New builds a Provider from an already-configured Bedrock runtime client.
func New(client ConverseClient, opts Options) (*Provider, error) {
	if client == nil {
		return nil, errors.New("bedrock: converse client is required")
	}
	if opts.DefaultModelID == "" {
		return nil, errors.New("bedrock: default model id is required")
	}
	return &Provider{client: client, defaultModel: opts.DefaultModelID, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

func (p *Provider) Complete(ctx context.Context, req inference.Request) (inference.Result, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return inference.Result{}, inference.NewProviderError("bedrock", "converse", inference.KindInvalidInput, err.Error())
	}
	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return inference.Result{}, classifyError(err)
	}
	return translate(out)
}

func (p *Provider) buildInput(req inference.Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Conversation.Messages) == 0 {
		return nil, errors.New("conversation has no messages")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}

	var system []types.SystemContentBlock
	var msgs []types.Message
	for _, m := range req.Conversation.Messages {
		switch m.Role {
		case conv.RoleSystem:
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
		case conv.RoleUser:
			msgs = append(msgs, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case conv.RoleAssistant:
			msgs = append(msgs, encodeAssistant(m))
		case conv.RoleTool:
			msgs = append(msgs, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
					},
				}},
			})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	cfg := &types.InferenceConfiguration{}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	temp := float32(req.Temperature)
	if temp == 0 {
		temp = p.temperature
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		Messages:        msgs,
		System:          system,
		InferenceConfig: cfg,
	}
	if len(req.Tools) > 0 {
		toolCfg, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolCfg
	}
	return input, nil
}

func encodeAssistant(m conv.Message) types.Message {
	var content []types.ContentBlock
	if m.Content != "" {
		content = append(content, &types.ContentBlockMemberText{Value: m.Content})
	}
	for _, tc := range m.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		content = append(content, &types.ContentBlockMemberToolUse{
			Value: types.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     document.NewLazyDocument(args),
			},
		})
	}
	return types.Message{Role: types.ConversationRoleAssistant, Content: content}
}

func encodeTools(defs []tools.Definition) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(string(d.Name)),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(d.Parameters),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

func translate(out *bedrockruntime.ConverseOutput) (inference.Result, error) {
	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return inference.Result{}, fmt.Errorf("bedrock: unexpected output variant %T", out.Output)
	}
	var actions []action.ProposedAction
	var textContent string
	for _, block := range msgOutput.Value.Content {
		switch variant := block.(type) {
		case *types.ContentBlockMemberText:
			textContent += variant.Value
		case *types.ContentBlockMemberToolUse:
			args, err := variant.Value.Input.MarshalSmithyDocument()
			if err != nil {
				return inference.Result{}, fmt.Errorf("bedrock: marshal tool input: %w", err)
			}
			actions = append(actions, action.ToolCall{
				CallID:    aws.ToString(variant.Value.ToolUseId),
				Name:      aws.ToString(variant.Value.Name),
				Arguments: args,
			})
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action.Respond{Content: textContent})
	}

	usage := inference.Usage{}
	if out.Usage != nil {
		usage.PromptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.CompletionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return inference.Result{Actions: actions, Usage: usage}, nil
}

func classifyError(err error) error {
	var throttling *types.ThrottlingException
	var validation *types.ValidationException
	var accessDenied *types.AccessDeniedException
	var serviceUnavailable *types.ServiceUnavailableException
	switch {
	case errors.As(err, &throttling):
		return inference.NewProviderError("bedrock", "converse", inference.KindRateLimited, throttling.Error()).WithCause(err)
	case errors.As(err, &validation):
		return inference.NewProviderError("bedrock", "converse", inference.KindInvalidInput, validation.Error()).WithCause(err)
	case errors.As(err, &accessDenied):
		return inference.NewProviderError("bedrock", "converse", inference.KindAuth, accessDenied.Error()).WithCause(err)
	case errors.As(err, &serviceUnavailable):
		return inference.NewProviderError("bedrock", "converse", inference.KindOverloaded, serviceUnavailable.Error()).WithCause(err)
	default:
		return inference.NewProviderError("bedrock", "converse", inference.KindUnavailable, err.Error()).WithCause(err)
	}
}
