package stages

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/prompt"
	"github.com/PipeOpsHQ/coachflow/types"
)

// Supervisor picks the specialized stage for a request.
type Supervisor struct {
	provider llm.Provider
	opts     options
}

func NewSupervisor(provider llm.Provider, opts ...Option) *Supervisor {
	return &Supervisor{provider: provider, opts: buildOptions(opts)}
}

// Execute routes the request. A model failure routes to task creation and
// is recorded in lastError instead of failing the stage.
func (s *Supervisor) Execute(ctx context.Context, view types.TurnState) (types.Update, error) {
	if view.FinalResponse != "" {
		return types.Update{}, nil
	}
	stage, err := s.route(ctx, view)
	if err != nil {
		if ctx.Err() != nil {
			return types.Update{}, ctx.Err()
		}
		s.opts.logger.Warn("routing failed, defaulting to task creation",
			zap.String("thread_id", view.ThreadID),
			zap.Error(err),
		)
		return types.Update{
			RoutedStage: types.StagePtr(types.StageTaskCreation),
			LastError:   types.String(err.Error()),
		}, nil
	}
	s.opts.logger.Debug("request routed", zap.String("thread_id", view.ThreadID), zap.Stringer("stage", stage))
	return types.Update{RoutedStage: types.StagePtr(stage)}, nil
}

func (s *Supervisor) route(ctx context.Context, view types.TurnState) (types.Stage, error) {
	spec, err := prompt.Get(prompt.Supervisor)
	if err != nil {
		return types.StageNone, err
	}
	payload, err := json.MarshalIndent(struct {
		Task  *types.Task        `json:"task"`
		User  *types.UserProfile `json:"user"`
		Input string             `json:"input"`
	}{view.Context.Task, view.Context.User, view.RawInput}, "", "  ")
	if err != nil {
		return types.StageNone, err
	}
	user, err := prompt.Render(spec.User, map[string]string{
		"input":   view.RawInput,
		"context": string(payload),
	})
	if err != nil {
		return types.StageNone, err
	}
	label, err := llm.GenerateText(ctx, s.provider, types.Request{
		Model:        s.opts.model,
		SystemPrompt: spec.System,
		Messages:     []types.PromptMessage{{Role: types.RoleUser, Content: user}},
		Temperature:  spec.Temperature,
	})
	if err != nil {
		return types.StageNone, err
	}
	return RouteLabel(label), nil
}

// RouteLabel maps a free-form model label onto a specialized stage by
// case-insensitive substring. Anything unrecognized is task creation.
func RouteLabel(label string) types.Stage {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.Contains(l, "taskcreation"):
		return types.StageTaskCreation
	case strings.Contains(l, "planning"):
		return types.StagePlanning
	case strings.Contains(l, "execution"), strings.Contains(l, "coach"):
		return types.StageExecutionCoach
	case strings.Contains(l, "adaptation"):
		return types.StageAdaptation
	case strings.Contains(l, "analytics"):
		return types.StageAnalytics
	default:
		return types.StageTaskCreation
	}
}
