package stages

import (
	"strings"

	"github.com/PipeOpsHQ/coachflow/types"
)

// result is the structured answer of every specialized stage. Fields a
// stage's schema does not ask for stay empty.
type result struct {
	Actions             []types.ActionItem `json:"actions"`
	Insights            []string           `json:"insights,omitempty"`
	Recommendations     []string           `json:"recommendations,omitempty"`
	MotivationalMessage string             `json:"motivationalMessage,omitempty"`
	AdaptationStrategy  string             `json:"adaptationStrategy,omitempty"`
	Reasoning           string             `json:"reasoning,omitempty"`
	Response            string             `json:"response,omitempty"`
}

var stringField = map[string]any{"type": "string"}

var listField = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

// responseSchema accepts every known action kind. Kinds outside a stage's
// profile are dropped by allowedActions rather than failing validation.
func responseSchema(fields map[string]any, required []string) map[string]any {
	enum := make([]string, 0, len(types.ActionKinds))
	for _, k := range types.ActionKinds {
		enum = append(enum, string(k))
	}
	props := map[string]any{
		"actions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":    map[string]any{"type": "string", "enum": enum},
					"payload": map[string]any{},
				},
				"required": []string{"type"},
			},
		},
	}
	for name, schema := range fields {
		props[name] = schema
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   append([]string{"actions"}, required...),
	}
}

// allowedActions keeps the actions whose kind the stage may request.
func allowedActions(items []types.ActionItem, kinds []types.ActionKind) []types.ActionItem {
	allowed := make(map[types.ActionKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	out := make([]types.ActionItem, 0, len(items))
	for _, item := range types.FilterActions(items) {
		if _, ok := allowed[item.Kind]; ok {
			out = append(out, item)
		}
	}
	return out
}

// narrate turns the narrative fields of r into agent messages tagged with
// stage, in a fixed order ending with the response.
func narrate(stage types.Stage, r result) []types.Message {
	var out []types.Message
	add := func(subRole, body string) {
		if strings.TrimSpace(body) != "" {
			out = append(out, types.NewAgentMessage(stage, subRole, body))
		}
	}
	add(types.SubRoleInsights, bulleted("Key Insights:", r.Insights))
	add(types.SubRoleRecommendations, bulleted("Recommendations:", r.Recommendations))
	add(types.SubRoleMotivation, r.MotivationalMessage)
	add(types.SubRoleStrategy, r.AdaptationStrategy)
	add(types.SubRoleReasoning, r.Reasoning)
	add(types.SubRoleResponse, r.Response)
	return out
}

func bulleted(title string, items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			lines = append(lines, "- "+item)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return title + "\n" + strings.Join(lines, "\n")
}
