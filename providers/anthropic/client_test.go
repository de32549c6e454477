package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/PipeOpsHQ/coachflow/types"
)

func TestClientGenerate_ForcesSchemaTool(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "key" {
			t.Errorf("expected api key header")
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req["temperature"] != 0.3 {
			t.Errorf("unexpected temperature: %#v", req["temperature"])
		}
		choice, _ := req["tool_choice"].(map[string]any)
		if choice["type"] != "tool" || choice["name"] != "coach" {
			t.Errorf("unexpected tool_choice: %#v", req["tool_choice"])
		}
		tools, _ := req["tools"].([]any)
		if len(tools) != 1 {
			t.Errorf("expected one tool, got %d", len(tools))
		}
		system, _ := req["system"].([]any)
		if len(system) != 1 {
			t.Errorf("expected system block, got %#v", req["system"])
		}
		messages, _ := req["messages"].([]any)
		if len(messages) != 1 {
			t.Errorf("expected one message, got %d", len(messages))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"content": [{"type": "tool_use", "id": "tu_1", "name": "coach", "input": {"response": "hi"}}],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 8, "output_tokens": 4}
		}`))
	}))
	defer ts.Close()

	client, err := New("key", WithBaseURL(ts.URL), WithRequestOption(option.WithHTTPClient(ts.Client())))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resp, err := client.Generate(context.Background(), types.Request{
		SystemPrompt: "be brief",
		Messages:     []types.PromptMessage{{Role: types.RoleUser, Content: "hello"}},
		Temperature:  types.Temperature(0.3),
		ResponseSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"response": map[string]any{"type": "string"}},
			"required":   []any{"response"},
		},
		SchemaName: "coach",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Message.Content != `{"response":"hi"}` {
		t.Fatalf("unexpected content: %q", resp.Message.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 12 {
		t.Fatalf("unexpected usage: %#v", resp.Usage)
	}
}

func TestClientGenerate_JoinsTextBlocks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_2",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"content": [{"type": "text", "text": "Summary "}, {"type": "text", "text": "so far."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 2}
		}`))
	}))
	defer ts.Close()

	client, err := New("key", WithBaseURL(ts.URL), WithRequestOption(option.WithHTTPClient(ts.Client())))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	resp, err := client.Generate(context.Background(), types.Request{
		Messages: []types.PromptMessage{{Role: types.RoleUser, Content: "summarize"}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Message.Content != "Summary so far." {
		t.Fatalf("unexpected content: %q", resp.Message.Content)
	}
}

func TestClientGenerate_SurfacesAPIErrors(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer ts.Close()

	client, err := New("key", WithBaseURL(ts.URL), WithRequestOption(option.WithHTTPClient(ts.Client())))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := client.Generate(context.Background(), types.Request{
		Messages: []types.PromptMessage{{Role: types.RoleUser, Content: "hi"}},
	}); err == nil {
		t.Fatalf("expected error for 429 response")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestToolName(t *testing.T) {
	cases := map[string]string{
		"":             defaultToolName,
		"planning":     "planning",
		"task_plan-v1": "task_plan-v1",
		"has space":    defaultToolName,
	}
	for in, want := range cases {
		if got := toolName(in); got != want {
			t.Fatalf("toolName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected missing api key error")
	}
}
