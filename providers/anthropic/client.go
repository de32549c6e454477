package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/types"
)

const (
	defaultModel     = anthropic.ModelClaude3_5Sonnet20241022
	defaultMaxTokens = 4096
	// structured answers are returned as the input of this forced tool call
	defaultToolName = "respond"
)

type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

type Option func(*settings)

type settings struct {
	model   string
	request []option.RequestOption
}

func WithModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(s *settings) {
		if baseURL != "" {
			s.request = append(s.request, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
		}
	}
}

func WithRequestOption(opt option.RequestOption) Option {
	return func(s *settings) { s.request = append(s.request, opt) }
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	s := settings{model: string(defaultModel)}
	for _, opt := range opts {
		opt(&s)
	}
	// Retries are left to the caller.
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, s.request...)
	return &Client{
		client: anthropic.NewClient(reqOpts...),
		model:  anthropic.Model(s.model),
	}, nil
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{StructuredOutput: true}
}

func (c *Client) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	resp, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return types.Response{}, fmt.Errorf("anthropic api error: %w", err)
	}
	return parseResponse(resp)
}

func (c *Client) buildParams(req types.Request) anthropic.MessageNewParams {
	model := c.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	maxTokens := int64(defaultMaxTokens)
	if req.MaxOutputTokens > 0 {
		maxTokens = int64(req.MaxOutputTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		Messages:  toMessages(req.Messages),
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.ResponseSchema) > 0 {
		name := toolName(req.SchemaName)
		params.Tools = []anthropic.ToolUnionParam{
			anthropic.ToolUnionParamOfTool(inputSchema(req.ResponseSchema), name),
		}
		params.ToolChoice = anthropic.ToolChoiceParamOfTool(name)
	}
	return params
}

func toMessages(messages []types.PromptMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case types.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func inputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	in := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
	if properties, ok := schema["properties"]; ok {
		in.Properties = properties
	}
	switch required := schema["required"].(type) {
	case []string:
		in.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				in.Required = append(in.Required, s)
			}
		}
	}
	return in
}

// toolName keeps the schema name when it is a valid tool name.
func toolName(schemaName string) string {
	name := strings.TrimSpace(schemaName)
	if name == "" {
		return defaultToolName
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return defaultToolName
		}
	}
	return name
}

// parseResponse returns the forced tool input as JSON when the model called
// a tool, otherwise the concatenated text blocks.
func parseResponse(resp *anthropic.Message) (types.Response, error) {
	if resp == nil || len(resp.Content) == 0 {
		return types.Response{}, fmt.Errorf("anthropic returned no content")
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			raw, err := json.Marshal(block.AsToolUse().Input)
			if err != nil {
				return types.Response{}, fmt.Errorf("failed to encode tool input: %w", err)
			}
			text.Reset()
			text.Write(raw)
			return response(text.String(), resp), nil
		case "text":
			text.WriteString(block.AsText().Text)
		}
	}
	return response(strings.TrimSpace(text.String()), resp), nil
}

func response(content string, resp *anthropic.Message) types.Response {
	usage := &types.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return types.Response{
		Message: types.PromptMessage{Role: types.RoleAssistant, Content: content},
		Usage:   usage,
	}
}
