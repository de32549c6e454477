package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/PipeOpsHQ/coachflow/types"
)

var errEmptyResponse = errors.New("empty response")

// GenerateText invokes the provider and returns the trimmed text answer.
func GenerateText(ctx context.Context, p Provider, req types.Request) (string, error) {
	if p == nil {
		return "", &ModelError{Op: "generate", Err: errors.New("provider is nil")}
	}
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return "", &ModelError{Provider: p.Name(), Op: "generate", Err: err}
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", &ModelError{Provider: p.Name(), Op: "generate", Err: errEmptyResponse}
	}
	return text, nil
}

// GenerateJSON asks for a structured answer, validates it against
// req.ResponseSchema when one is set and decodes it into out.
func GenerateJSON(ctx context.Context, p Provider, req types.Request, out any) error {
	text, err := GenerateText(ctx, p, req)
	if err != nil {
		return err
	}
	raw := ExtractJSON(text)
	if !json.Valid(raw) {
		return &ModelError{Provider: p.Name(), Op: "decode", Err: fmt.Errorf("response is not valid JSON")}
	}
	if len(req.ResponseSchema) > 0 {
		if err := validate(raw, req.ResponseSchema); err != nil {
			return &ModelError{Provider: p.Name(), Op: "validate", Err: err}
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ModelError{Provider: p.Name(), Op: "decode", Err: err}
	}
	return nil
}

// ExtractJSON strips markdown fences and surrounding prose from a model
// answer that is expected to contain a single JSON object.
func ExtractJSON(text string) []byte {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return []byte(text[start : end+1])
	}
	return []byte(text)
}

func validate(raw []byte, schema map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}
