package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/rlm/pkg/toolexecutor"
)

// AnthropicProvider implements LLMProvider for Anthropic Claude and
// Anthropic-compatible endpoints
type AnthropicProvider struct {
	client         anthropic.Client
	thinkingBudget int
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(cfg ProviderConfig) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:         anthropic.NewClient(opts...),
		thinkingBudget: cfg.ThinkingBudget,
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Call makes an API call to Anthropic Claude
func (p *AnthropicProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	messages, err := anthropicMessages(request.Turns)
	if err != nil {
		return nil, err
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(request.MaxTokens),
		Tools:     anthropicTools(request.Tools),
	}

	if request.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}

	// Extended thinking rejects a custom temperature.
	if p.thinkingBudget > 0 {
		reqParams.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(p.thinkingBudget))
	} else if request.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(request.Temperature)
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	blocks := make([]ContentBlock, 0, len(response.Content))
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			blocks = append(blocks, ContentBlock{Type: BlockThinking, Thinking: b.Thinking, Signature: b.Signature})
		case anthropic.RedactedThinkingBlock:
			blocks = append(blocks, ContentBlock{Type: BlockRedactedThinking, Data: b.Data})
		case anthropic.TextBlock:
			blocks = append(blocks, TextBlock(b.Text))
		case anthropic.ToolUseBlock:
			input := json.RawMessage(b.JSON.Input.Raw())
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, ToolUseBlock(b.ID, b.Name, input))
		}
	}

	return &LLMResponse{
		Blocks:     blocks,
		StopReason: string(response.StopReason),
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

func anthropicMessages(turns []Turn) ([]anthropic.MessageParam, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns))

	for _, turn := range turns {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.Blocks))
		for _, block := range turn.Blocks {
			switch block.Type {
			case BlockThinking:
				blocks = append(blocks, anthropic.NewThinkingBlock(block.Signature, block.Thinking))
			case BlockRedactedThinking:
				blocks = append(blocks, anthropic.NewRedactedThinkingBlock(block.Data))
			case BlockText:
				if block.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(block.Text))
				}
			case BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(block.ID, block.Input, block.Name))
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
			default:
				return nil, fmt.Errorf("unsupported content block type: %s", block.Type)
			}
		}

		switch turn.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported role: %s", turn.Role)
		}
	}

	return messages, nil
}

func anthropicTools(schemas []toolexecutor.ToolSchema) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, schema := range schemas {
		toolParam := anthropic.ToolParam{
			Name:        schema.Name,
			Description: anthropic.String(schema.Description),
			InputSchema: anthropicInputSchema(schema.InputSchema),
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools
}

// anthropicInputSchema maps a JSON schema onto the SDK param; keywords the
// param has no field for, such as additionalProperties, travel as extras
func anthropicInputSchema(schema map[string]interface{}) anthropic.ToolInputSchemaParam {
	param := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
	if required, ok := schema["required"].([]string); ok {
		param.Required = required
	}
	for key, value := range schema {
		switch key {
		case "type", "properties", "required":
			continue
		}
		if param.ExtraFields == nil {
			param.ExtraFields = map[string]any{}
		}
		param.ExtraFields[key] = value
	}
	return param
}
