package toolproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout       = errors.New("toolproc: call timed out")
	ErrNotConnected  = errors.New("toolproc: not connected")
	ErrProcessExited = errors.New("toolproc: tool process exited")
)

// ToolError is a failure reported by the tool process itself.
type ToolError struct {
	Tool    string
	Message string
	Payload json.RawMessage
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s failed", e.Tool)
	}
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// TimeoutError matches ErrTimeout with errors.Is.
type TimeoutError struct {
	Tool  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ConnectionError covers spawn, handshake and transport failures.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tool process %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
