package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/prompt"
	"github.com/PipeOpsHQ/coachflow/types"
)

// profile describes one specialized stage: its prompt, the actions it may
// request and the narrative fields it answers with.
type profile struct {
	stage    types.Stage
	prompt   string
	kinds    []types.ActionKind
	fields   map[string]any
	required []string
}

var (
	taskCreationProfile = profile{
		stage:  types.StageTaskCreation,
		prompt: prompt.TaskCreation,
		kinds: []types.ActionKind{
			types.ActionCreateTask, types.ActionUpdateTask, types.ActionUpdateManyTasks,
			types.ActionCreateSubtasks, types.ActionSearchTasks, types.ActionAskQuestion, types.ActionNone,
		},
		fields:   map[string]any{"reasoning": stringField, "response": stringField},
		required: []string{"reasoning", "response"},
	}
	planningProfile = profile{
		stage:    types.StagePlanning,
		prompt:   prompt.Planning,
		kinds:    []types.ActionKind{types.ActionCreateSubtasks, types.ActionUpdateTask, types.ActionUpdateManyTasks, types.ActionNone},
		fields:   map[string]any{"reasoning": stringField, "response": stringField},
		required: []string{"reasoning", "response"},
	}
	executionCoachProfile = profile{
		stage:  types.StageExecutionCoach,
		prompt: prompt.ExecutionCoach,
		kinds: []types.ActionKind{
			types.ActionUpdateTask, types.ActionLogActivity, types.ActionScheduleReminder,
			types.ActionProvideMotivation, types.ActionGiveAdvice, types.ActionAskQuestion, types.ActionNone,
		},
		fields: map[string]any{
			"motivationalMessage": stringField,
			"reasoning":           stringField,
			"response":            stringField,
		},
		required: []string{"motivationalMessage", "reasoning", "response"},
	}
	adaptationProfile = profile{
		stage:  types.StageAdaptation,
		prompt: prompt.Adaptation,
		kinds:  []types.ActionKind{types.ActionUpdateTask, types.ActionUpdateManyTasks, types.ActionLogActivity, types.ActionNone},
		fields: map[string]any{
			"adaptationStrategy": stringField,
			"reasoning":          stringField,
			"response":           stringField,
		},
		required: []string{"reasoning", "response"},
	}
	analyticsProfile = profile{
		stage:  types.StageAnalytics,
		prompt: prompt.Analytics,
		kinds:  []types.ActionKind{types.ActionLogActivity, types.ActionNone},
		fields: map[string]any{
			"insights":        listField,
			"recommendations": listField,
			"reasoning":       stringField,
			"response":        stringField,
		},
		required: []string{"insights", "recommendations", "reasoning"},
	}
)

func (p profile) schema() map[string]any {
	return responseSchema(p.fields, p.required)
}

// Specialist is a structured-output stage handler.
type Specialist struct {
	profile  profile
	provider llm.Provider
	opts     options
}

func NewTaskCreation(provider llm.Provider, opts ...Option) *Specialist {
	return newSpecialist(taskCreationProfile, provider, opts)
}

func NewPlanning(provider llm.Provider, opts ...Option) *Specialist {
	return newSpecialist(planningProfile, provider, opts)
}

func NewExecutionCoach(provider llm.Provider, opts ...Option) *Specialist {
	return newSpecialist(executionCoachProfile, provider, opts)
}

func NewAdaptation(provider llm.Provider, opts ...Option) *Specialist {
	return newSpecialist(adaptationProfile, provider, opts)
}

func newSpecialist(p profile, provider llm.Provider, opts []Option) *Specialist {
	return &Specialist{profile: p, provider: provider, opts: buildOptions(opts)}
}

func (s *Specialist) Stage() types.Stage { return s.profile.stage }

func (s *Specialist) Execute(ctx context.Context, view types.TurnState) (types.Update, error) {
	vars := map[string]string{
		"input":        view.RawInput,
		"task_context": taskContext(view.Context),
		"user_context": userContext(view.Context.User),
	}
	r, err := s.generate(ctx, view, s.profile.prompt, vars)
	if err != nil {
		return types.Update{}, err
	}
	return s.update(r), nil
}

func (s *Specialist) generate(ctx context.Context, view types.TurnState, promptName string, vars map[string]string) (result, error) {
	spec, err := prompt.Get(promptName)
	if err != nil {
		return result{}, err
	}
	schema := s.profile.schema()
	vars["format"] = formatInstructions(schema)
	req, err := buildRequest(spec, s.opts, view, s.profile.stage, vars)
	if err != nil {
		return result{}, err
	}
	req.ResponseSchema = schema
	req.SchemaName = s.profile.stage.String()

	var r result
	if err := llm.GenerateJSON(ctx, s.provider, req, &r); err != nil {
		return result{}, fmt.Errorf("%s stage: %w", s.profile.stage, err)
	}
	s.opts.logger.Debug("stage answered",
		zap.Stringer("stage", s.profile.stage),
		zap.Int("actions", len(r.Actions)),
		zap.Bool("has_response", r.Response != ""),
	)
	return r, nil
}

func (s *Specialist) update(r result) types.Update {
	u := types.Update{
		Messages: narrate(s.profile.stage, r),
		Actions:  allowedActions(r.Actions, s.profile.kinds),
	}
	if r.Response != "" {
		u.FinalResponse = types.String(r.Response)
	}
	return u
}
