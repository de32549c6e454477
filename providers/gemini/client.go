package gemini

import (
	"context"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/types"
)

const defaultModel = "gemini-2.5-flash"

type Client struct {
	client *genai.Client
	model  string
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	c := &Client{model: defaultModel}
	for _, opt := range opts {
		opt(c)
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	c.client = gc
	return c, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming:        true,
		StructuredOutput: true,
	}
}

func (c *Client) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, toGeminiContents(req.Messages), buildConfig(req))
	if err != nil {
		return types.Response{}, fmt.Errorf("gemini generation failed: %w", err)
	}
	return parseGeminiResponse(resp)
}

func buildConfig(req types.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = clampInt32(req.MaxOutputTokens)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if len(req.ResponseSchema) > 0 {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = req.ResponseSchema
	}
	return config
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (types.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp != nil && resp.PromptFeedback != nil && strings.TrimSpace(resp.PromptFeedback.BlockReasonMessage) != "" {
			return types.Response{}, fmt.Errorf("gemini returned no candidates: %s", strings.TrimSpace(resp.PromptFeedback.BlockReasonMessage))
		}
		return types.Response{}, fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		text.WriteString(part.Text)
	}

	var usage *types.Usage
	if resp.UsageMetadata != nil {
		usage = &types.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return types.Response{
		Message: types.PromptMessage{Role: types.RoleAssistant, Content: strings.TrimSpace(text.String())},
		Usage:   usage,
	}, nil
}

func clampInt32(v int) int32 {
	if v <= 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

func toGeminiContents(messages []types.PromptMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents
}
