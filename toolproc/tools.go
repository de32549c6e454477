package toolproc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PipeOpsHQ/coachflow/types"
)

// Tools wraps the task and profile tools with typed arguments and results.
type Tools struct {
	caller Caller
}

func NewTools(caller Caller) *Tools {
	return &Tools{caller: caller}
}

type TaskFilter struct {
	Completed *bool  `json:"completed,omitempty"`
	Priority  string `json:"priority,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	ParentID  string `json:"parentId,omitempty"`
}

type CreateTaskInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	ParentID    string   `json:"parentId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type UpdateTaskInput struct {
	TaskID      string   `json:"taskId"`
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	DueDate     *string  `json:"dueDate,omitempty"`
	Completed   *bool    `json:"completed,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (t *Tools) GetTasks(ctx context.Context, token string, filter TaskFilter) ([]types.Task, error) {
	var out []types.Task
	if err := t.call(ctx, "getTasks", token, filter, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tools) GetTask(ctx context.Context, token, taskID string) (*types.Task, error) {
	var out types.Task
	if err := t.call(ctx, "getTask", token, map[string]any{"taskId": taskID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *Tools) CreateTask(ctx context.Context, token string, in CreateTaskInput) (*types.Task, error) {
	var out types.Task
	if err := t.call(ctx, "createTask", token, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *Tools) UpdateTask(ctx context.Context, token string, in UpdateTaskInput) (*types.Task, error) {
	var out types.Task
	if err := t.call(ctx, "updateTask", token, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *Tools) DeleteTask(ctx context.Context, token, taskID string) error {
	return t.call(ctx, "deleteTask", token, map[string]any{"taskId": taskID}, nil)
}

func (t *Tools) GetSubtasks(ctx context.Context, token, taskID string) ([]types.Task, error) {
	var out []types.Task
	if err := t.call(ctx, "getSubtasks", token, map[string]any{"taskId": taskID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tools) GetUserProfile(ctx context.Context, token string) (*types.UserProfile, error) {
	var out types.UserProfile
	if err := t.call(ctx, "getUserProfile", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPsychProfile returns nil when the user has not completed onboarding.
func (t *Tools) GetPsychProfile(ctx context.Context, token string) (*types.PsychProfile, error) {
	var out *types.PsychProfile
	if err := t.call(ctx, "getPsychProfile", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tools) GetUserSettings(ctx context.Context, token string) (*types.Settings, error) {
	var out *types.Settings
	if err := t.call(ctx, "getUserSettings", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Call invokes any tool with a struct or map argument and returns the raw
// "data" member of the result envelope.
func (t *Tools) Call(ctx context.Context, name, token string, args any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := t.call(ctx, name, token, args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tools) call(ctx context.Context, name, token string, args any, out any) error {
	argMap, err := toArgs(args)
	if err != nil {
		return fmt.Errorf("failed to encode %s arguments: %w", name, err)
	}
	raw, err := t.caller.CallTool(ctx, name, argMap, token)
	if err != nil {
		return err
	}
	data, err := unwrapEnvelope(name, raw)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", name, err)
	}
	return nil
}

func toArgs(args any) (map[string]any, error) {
	switch v := args.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// unwrapEnvelope accepts either {"success":…, "data":…, "error":…} or a bare
// value and returns the payload.
func unwrapEnvelope(name string, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var env struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || (env.Success == nil && env.Data == nil) {
		return raw, nil
	}
	if env.Success != nil && !*env.Success {
		return nil, &ToolError{Tool: name, Message: env.Error, Payload: raw}
	}
	return env.Data, nil
}
