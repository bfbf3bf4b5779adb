package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harun/rlm/pkg/toolexecutor"
)

// OpenAIProvider implements LLMProvider for OpenAI chat completions
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return "openai"
}

// Call makes an API call to OpenAI
func (p *OpenAIProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, turn := range request.Turns {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, openAIUserMessages(turn)...)
		case RoleAssistant:
			messages = append(messages, openAIAssistantMessage(turn))
		default:
			return nil, fmt.Errorf("unsupported role: %s", turn.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
		Tools:    openAITools(request.Tools),
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]

	blocks := []ContentBlock{}
	if choice.Message.Content != "" {
		blocks = append(blocks, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, ToolUseBlock(tc.ID, tc.Function.Name, openAIArguments(tc.Function.Arguments)))
	}

	return &LLMResponse{
		Blocks:     blocks,
		StopReason: choice.FinishReason,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

// openAIArguments wraps malformed arguments in a JSON string.
func openAIArguments(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}

// Tool messages must directly follow the assistant message that requested them.
func openAIUserMessages(turn Turn) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{}
	var text []string

	for _, block := range turn.Blocks {
		switch block.Type {
		case BlockToolResult:
			messages = append(messages, openai.ToolMessage(block.Content, block.ToolUseID))
		case BlockText:
			text = append(text, block.Text)
		}
	}

	if len(text) > 0 {
		messages = append(messages, openai.UserMessage(strings.Join(text, "\n\n")))
	}
	return messages
}

func openAIAssistantMessage(turn Turn) openai.ChatCompletionMessageParamUnion {
	var text []string
	toolCalls := []openai.ChatCompletionMessageToolCallParam{}

	for _, block := range turn.Blocks {
		switch block.Type {
		case BlockText:
			text = append(text, block.Text)
		case BlockToolUse:
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: block.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}

	content := strings.Join(text, "\n\n")
	if len(toolCalls) == 0 {
		return openai.AssistantMessage(content)
	}

	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if content != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(content)}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func openAITools(schemas []toolexecutor.ToolSchema) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(schemas))
	for _, schema := range schemas {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        schema.Name,
				Description: openai.String(schema.Description),
				Parameters:  openai.FunctionParameters(schema.InputSchema),
			},
		})
	}
	return tools
}
