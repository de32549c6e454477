// Package toolproc talks to the external tool-execution process over
// newline-delimited JSON on the child's stdin and stdout.
package toolproc

import "encoding/json"

const (
	methodInitialize = "initialize"
	methodListTools  = "tools/list"
	toolExecuteCode  = "executeCode"
)

// Request is one line written to the child. IDs are unique per client and
// responses are matched by ID, never by arrival order.
type Request struct {
	ID              uint64         `json:"id"`
	Name            string         `json:"name"`
	Arguments       map[string]any `json:"arguments,omitempty"`
	IsCodeExecution bool           `json:"isCodeExecution,omitempty"`
}

type Response struct {
	ID        uint64          `json:"id"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ElapsedMs int64           `json:"elapsedMs,omitempty"`
}

// ToolInfo describes one tool advertised by the child.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type Language string

const (
	LanguageTypeScript Language = "typescript"
	LanguageJavaScript Language = "javascript"
)
