package factory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PipeOpsHQ/coachflow/llm"
	anthropicprov "github.com/PipeOpsHQ/coachflow/providers/anthropic"
	geminiprov "github.com/PipeOpsHQ/coachflow/providers/gemini"
	openaiprov "github.com/PipeOpsHQ/coachflow/providers/openai"
)

// Settings selects and configures a model provider.
type Settings struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

func New(ctx context.Context, s Settings) (llm.Provider, error) {
	provider := strings.ToLower(strings.TrimSpace(s.Provider))
	if provider == "" {
		provider = "openai"
	}
	switch provider {
	case "openai":
		if s.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when provider=openai")
		}
		opts := []openaiprov.Option{openaiprov.WithModel(s.Model)}
		if s.BaseURL != "" {
			opts = append(opts, openaiprov.WithBaseURL(s.BaseURL))
		}
		return openaiprov.New(s.APIKey, opts...)

	case "gemini":
		if s.APIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when provider=gemini")
		}
		return geminiprov.New(ctx, s.APIKey, geminiprov.WithModel(s.Model))

	case "anthropic", "claude":
		if s.APIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when provider=anthropic")
		}
		return anthropicprov.New(s.APIKey, anthropicprov.WithModel(s.Model), anthropicprov.WithBaseURL(s.BaseURL))
	}

	return nil, fmt.Errorf("unsupported provider %q (use openai, gemini or anthropic)", provider)
}

// FromEnv reads AGENT_PROVIDER and the provider specific key, model and base
// URL variables.
func FromEnv(ctx context.Context) (llm.Provider, error) {
	return New(ctx, SettingsFromEnv())
}

func SettingsFromEnv() Settings {
	provider := strings.ToLower(getenv("AGENT_PROVIDER", "openai"))
	switch provider {
	case "gemini":
		return Settings{
			Provider: provider,
			APIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			Model:    getenv("GEMINI_MODEL", "gemini-2.5-flash"),
		}
	case "anthropic", "claude":
		return Settings{
			Provider: provider,
			APIKey:   strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
			Model:    getenv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			BaseURL:  strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")),
		}
	default:
		return Settings{
			Provider: provider,
			APIKey:   strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Model:    getenv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:  strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		}
	}
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}
