package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PipeOpsHQ/coachflow/types"
)

func TestClientGenerate_SendsSchemaAndTemperature(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("expected bearer token")
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req["temperature"] != 0.3 {
			t.Errorf("unexpected temperature: %#v", req["temperature"])
		}
		format, _ := req["response_format"].(map[string]any)
		if format["type"] != "json_schema" {
			t.Errorf("unexpected response_format: %#v", req["response_format"])
		}
		messages, _ := req["messages"].([]any)
		if len(messages) != 2 {
			t.Errorf("expected system + user message, got %d", len(messages))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"response\":\"hi\"}"}}],
			"usage": {"prompt_tokens": 8, "completion_tokens": 4, "total_tokens": 12}
		}`))
	}))
	defer ts.Close()

	client, err := New("key", WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resp, err := client.Generate(context.Background(), types.Request{
		SystemPrompt:   "be brief",
		Messages:       []types.PromptMessage{{Role: types.RoleUser, Content: "hello"}},
		Temperature:    types.Temperature(0.3),
		ResponseSchema: map[string]any{"type": "object"},
		SchemaName:     "coach",
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

func TestClientGenerate_SurfacesAPIErrors(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer ts.Close()

	client, err := New("key", WithBaseURL(ts.URL+"/v1"), WithHTTPClient(ts.Client()))
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

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected missing api key error")
	}
}
