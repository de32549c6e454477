package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/types"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 90 * time.Second
)

type Client struct {
	client openai.Client
	model  string
}

type Option func(*settings)

type settings struct {
	model   string
	baseURL string
	request []option.RequestOption
}

func WithModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI compatible endpoint. The /v1
// suffix is added when missing, so both http://host and http://host/v1 work.
func WithBaseURL(baseURL string) Option {
	return func(s *settings) { s.baseURL = baseURL }
}

func WithHTTPClient(h *http.Client) Option {
	return func(s *settings) {
		if h != nil {
			s.request = append(s.request, option.WithHTTPClient(h))
		}
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	s := settings{model: defaultModel}
	for _, opt := range opts {
		opt(&s)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(defaultTimeout),
	}
	if base := strings.TrimRight(strings.TrimSpace(s.baseURL), "/"); base != "" {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		reqOpts = append(reqOpts, option.WithBaseURL(base+"/"))
	}
	reqOpts = append(reqOpts, s.request...)
	return &Client{client: openai.NewClient(reqOpts...), model: s.model}, nil
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{StructuredOutput: true}
}

func (c *Client) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return types.Response{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.Response{}, fmt.Errorf("openai response had no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return types.Response{}, fmt.Errorf("openai refused: %s", msg.Refusal)
	}

	var usage *types.Usage
	if resp.Usage.TotalTokens > 0 {
		usage = &types.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		}
	}
	return types.Response{
		Message: types.PromptMessage{Role: types.RoleAssistant, Content: msg.Content},
		Usage:   usage,
	}, nil
}

func (c *Client) buildParams(req types.Request) openai.ChatCompletionNewParams {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case types.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if len(req.ResponseSchema) > 0 {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.ResponseSchema,
				},
			},
		}
	}
	return params
}
