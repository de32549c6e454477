// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/types"
)

type HandlerFunc func(ctx context.Context, req types.Request) (string, error)

// Provider answers every Generate call through Handler and records requests.
type Provider struct {
	Handler HandlerFunc

	mu    sync.Mutex
	calls []types.Request
}

func New(handler HandlerFunc) *Provider {
	return &Provider{Handler: handler}
}

// BySchema answers structured requests by schema name. Requests without a
// schema are answered with the "" entry.
func BySchema(answers map[string]string) *Provider {
	return New(func(_ context.Context, req types.Request) (string, error) {
		answer, ok := answers[req.SchemaName]
		if !ok {
			return "", fmt.Errorf("no scripted answer for schema %q", req.SchemaName)
		}
		return answer, nil
	})
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{StructuredOutput: true}
}

func (p *Provider) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.Response{}, err
	}
	if p.Handler == nil {
		return types.Response{}, fmt.Errorf("scripted provider has no handler")
	}
	text, err := p.Handler(ctx, req)
	if err != nil {
		return types.Response{}, err
	}
	return types.Response{Message: types.PromptMessage{Role: types.RoleAssistant, Content: text}}, nil
}

// Calls returns a copy of the recorded requests.
func (p *Provider) Calls() []types.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Request(nil), p.calls...)
}
