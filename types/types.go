package types

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PromptMessage is one entry of a model conversation. It is distinct from
// Message, which is the persisted turn history.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
}

type Request struct {
	Model           string          `json:"model,omitempty"`
	SystemPrompt    string          `json:"systemPrompt,omitempty"`
	Messages        []PromptMessage `json:"messages"`
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	// ResponseSchema asks the provider for a JSON object matching the schema.
	ResponseSchema map[string]any `json:"responseSchema,omitempty"`
	SchemaName     string         `json:"schemaName,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`
}

type Response struct {
	Message PromptMessage `json:"message"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// Temperature returns a pointer suitable for Request.Temperature.
func Temperature(v float64) *float64 {
	return &v
}
