package gemini

import (
	"testing"

	"google.golang.org/genai"

	"github.com/PipeOpsHQ/coachflow/types"
)

func TestBuildConfig_StructuredOutput(t *testing.T) {
	schema := map[string]any{"type": "object"}
	config := buildConfig(types.Request{
		SystemPrompt:   "summarize",
		Temperature:    types.Temperature(0.2),
		ResponseSchema: schema,
	})

	if config.ResponseMIMEType != "application/json" {
		t.Fatalf("expected json mime type, got %q", config.ResponseMIMEType)
	}
	if config.ResponseJsonSchema == nil {
		t.Fatalf("expected response schema to be forwarded")
	}
	if config.Temperature == nil || *config.Temperature != float32(0.2) {
		t.Fatalf("unexpected temperature: %v", config.Temperature)
	}
	if config.SystemInstruction == nil {
		t.Fatalf("expected system instruction")
	}
}

func TestParseGeminiResponse_SkipsThoughts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: " planning "},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 7},
	}

	out, err := parseGeminiResponse(resp)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if out.Message.Content != "planning" {
		t.Fatalf("unexpected content %q", out.Message.Content)
	}
	if out.Usage == nil || out.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected usage %#v", out.Usage)
	}
}

func TestParseGeminiResponse_NoCandidatesIsError(t *testing.T) {
	if _, err := parseGeminiResponse(&genai.GenerateContentResponse{}); err == nil {
		t.Fatalf("expected error without candidates")
	}
}
