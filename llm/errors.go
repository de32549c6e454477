package llm

import "fmt"

// ModelError reports a failed model invocation: transport, timeout, an empty
// answer or output that does not match the requested schema.
type ModelError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ModelError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("model %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("model %s (%s) failed: %v", e.Op, e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }
