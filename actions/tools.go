package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/toolproc"
	"github.com/PipeOpsHQ/coachflow/types"
)

// ErrInvalidPayload reports an action whose payload lacks the fields its
// kind requires.
var ErrInvalidPayload = errors.New("actions: invalid payload")

// ToolExecutor applies task mutations through the tool process. Kinds that
// carry advice or questions for the user have no side effect and are
// skipped.
type ToolExecutor struct {
	tools  *toolproc.Tools
	logger *zap.Logger
}

func NewToolExecutor(tools *toolproc.Tools, logger *zap.Logger) *ToolExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolExecutor{tools: tools, logger: logger}
}

// Execute applies every item in order. A failing item does not stop the
// rest; all failures are returned joined.
func (e *ToolExecutor) Execute(ctx context.Context, batch Batch) error {
	var errs []error
	for i, item := range batch.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.apply(ctx, batch.Token, item); err != nil {
			e.logger.Warn("action failed",
				zap.String("thread_id", batch.ThreadID),
				zap.Int("index", i),
				zap.String("kind", string(item.Kind)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s action %d: %w", item.Kind, i, err))
		}
	}
	return errors.Join(errs...)
}

func (e *ToolExecutor) apply(ctx context.Context, token string, item types.ActionItem) error {
	switch item.Kind {
	case types.ActionCreateTask:
		var in toolproc.CreateTaskInput
		if err := decode(item.Payload, &in); err != nil {
			return err
		}
		if strings.TrimSpace(in.Title) == "" {
			return fmt.Errorf("%w: title is required", ErrInvalidPayload)
		}
		_, err := e.tools.CreateTask(ctx, token, in)
		return err
	case types.ActionUpdateTask:
		in, err := updateInput(item.Payload)
		if err != nil {
			return err
		}
		_, err = e.tools.UpdateTask(ctx, token, in)
		return err
	case types.ActionUpdateManyTasks:
		var p struct {
			Updates []json.RawMessage `json:"updates"`
			Tasks   []json.RawMessage `json:"tasks"`
		}
		if err := decode(item.Payload, &p); err != nil {
			return err
		}
		updates := append(p.Updates, p.Tasks...)
		if len(updates) == 0 {
			return fmt.Errorf("%w: no updates", ErrInvalidPayload)
		}
		for _, raw := range updates {
			in, err := updateInput(raw)
			if err != nil {
				return err
			}
			if _, err := e.tools.UpdateTask(ctx, token, in); err != nil {
				return err
			}
		}
		return nil
	case types.ActionCreateSubtasks:
		return e.createSubtasks(ctx, token, item.Payload)
	default:
		e.logger.Debug("action has no side effect", zap.String("kind", string(item.Kind)))
		return nil
	}
}

func (e *ToolExecutor) createSubtasks(ctx context.Context, token string, payload json.RawMessage) error {
	var p struct {
		TaskID       string            `json:"taskId"`
		ParentTaskID string            `json:"parentTaskId"`
		ParentID     string            `json:"parentId"`
		Subtasks     []json.RawMessage `json:"subtasks"`
	}
	if err := decode(payload, &p); err != nil {
		return err
	}
	parent := firstNonEmpty(p.TaskID, p.ParentTaskID, p.ParentID)
	if parent == "" {
		return fmt.Errorf("%w: parent task id is required", ErrInvalidPayload)
	}
	for _, raw := range p.Subtasks {
		var in toolproc.CreateTaskInput
		// Subtasks are either plain titles or task objects.
		var title string
		if err := json.Unmarshal(raw, &title); err == nil {
			in.Title = title
		} else if err := json.Unmarshal(raw, &in); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if strings.TrimSpace(in.Title) == "" {
			continue
		}
		in.ParentID = parent
		if _, err := e.tools.CreateTask(ctx, token, in); err != nil {
			return err
		}
	}
	return nil
}

func updateInput(raw json.RawMessage) (toolproc.UpdateTaskInput, error) {
	var in toolproc.UpdateTaskInput
	if err := decode(raw, &in); err != nil {
		return in, err
	}
	if in.TaskID == "" {
		var alt struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &alt)
		in.TaskID = alt.ID
	}
	if in.TaskID == "" {
		return in, fmt.Errorf("%w: task id is required", ErrInvalidPayload)
	}
	return in, nil
}

func decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
