package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/observe"
	"github.com/PipeOpsHQ/coachflow/prompt"
	"github.com/PipeOpsHQ/coachflow/toolproc"
	"github.com/PipeOpsHQ/coachflow/types"
)

// CodeRunner runs a script inside the tool process sandbox.
type CodeRunner interface {
	ExecuteCode(ctx context.Context, code, token string, language toolproc.Language, timeout time.Duration) (json.RawMessage, error)
}

// Aggregation scripts run in the sandbox against the caller's tasks.
var analyticsScripts = []struct {
	name string
	code string
}{
	{"summary", `const tasks = await getTasks({})
const completed = tasks.filter((t) => t.completed)
const overdue = tasks.filter((t) => !t.completed && t.dueDate && new Date(t.dueDate) < new Date())
return {
  total: tasks.length,
  completed: completed.length,
  completionRate: tasks.length ? completed.length / tasks.length : 0,
  overdue: overdue.length,
}`},
	{"patterns", `const tasks = await getTasks({})
const byPriority = {}
for (const t of tasks) {
  const p = t.priority || 'none'
  byPriority[p] = byPriority[p] || { total: 0, completed: 0 }
  byPriority[p].total++
  if (t.completed) byPriority[p].completed++
}
const withSubtasks = tasks.filter((t) => (t.subtasks || []).length > 0).length
return { byPriority, withSubtasks }`},
	{"recommendations", `const open = await getTasks({ completed: false })
const stale = open
  .filter((t) => new Date(t.updatedAt) < new Date(Date.now() - 7 * 24 * 60 * 60 * 1000))
  .map((t) => t.title)
const highOpen = open.filter((t) => t.priority === 'high').map((t) => t.title)
return { stale, highPriorityOpen: highOpen }`},
}

// Analytics answers questions about progress. With an auth token it first
// computes aggregates in the tool sandbox; any failure there falls back to
// the context already loaded for the turn and is never surfaced to the user.
type Analytics struct {
	*Specialist
	code CodeRunner
}

func NewAnalytics(provider llm.Provider, code CodeRunner, opts ...Option) *Analytics {
	return &Analytics{
		Specialist: newSpecialist(analyticsProfile, provider, opts),
		code:       code,
	}
}

func (a *Analytics) Execute(ctx context.Context, view types.TurnState) (types.Update, error) {
	taskSpecific := view.Context.Task != nil
	narrative := a.loadedNarrative(view.Context)

	if view.AuthToken != "" && a.code != nil {
		aggregate, err := a.aggregate(ctx, view.AuthToken)
		switch {
		case err == nil:
			narrative += "\n\nAggregate analysis:\n" + aggregate
		case ctx.Err() != nil:
			return types.Update{}, ctx.Err()
		default:
			a.fallback(ctx, view, err)
		}
	}

	name := prompt.Analytics
	if taskSpecific {
		name = prompt.AnalyticsForTask
	}
	r, err := a.generate(ctx, view, name, map[string]string{
		"input":         view.RawInput,
		"tasks_context": narrative,
	})
	if err != nil {
		return types.Update{}, err
	}
	if r.Response == "" {
		r.Response = composeResponse(r)
	}
	return a.update(r), nil
}

// loadedNarrative describes the single loaded task when there is one and
// every loaded task otherwise.
func (a *Analytics) loadedNarrative(c types.LoadedContext) string {
	if c.Task != nil {
		return describeTask(*c.Task)
	}
	return tasksContext(c.Tasks)
}

func (a *Analytics) aggregate(ctx context.Context, token string) (string, error) {
	results := make([]json.RawMessage, len(analyticsScripts))
	g, gctx := errgroup.WithContext(ctx)
	for i, script := range analyticsScripts {
		g.Go(func() error {
			raw, err := a.code.ExecuteCode(gctx, script.code, token, toolproc.LanguageTypeScript, a.opts.codeTimeout)
			if err != nil {
				return fmt.Errorf("%s script: %w", script.name, err)
			}
			results[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(results))
	for i, raw := range results {
		parts = append(parts, fmt.Sprintf("%s: %s", analyticsScripts[i].name, compactJSON(raw)))
	}
	return strings.Join(parts, "\n"), nil
}

func (a *Analytics) fallback(ctx context.Context, view types.TurnState, err error) {
	a.opts.logger.Warn("analytics code execution failed, using loaded context",
		zap.String("thread_id", view.ThreadID),
		zap.Error(err),
	)
	event := observe.Event{
		ThreadID: view.ThreadID,
		UserID:   view.UserID,
		Kind:     observe.KindFallback,
		Status:   observe.StatusCompleted,
		Name:     "analytics.executeCode",
		Stage:    types.StageAnalytics.String(),
		ToolName: "executeCode",
		Error:    err.Error(),
	}
	event.Normalize()
	if emitErr := a.opts.observer.Emit(ctx, event); emitErr != nil {
		a.opts.logger.Debug("observer emit failed", zap.Error(emitErr))
	}
}

func composeResponse(r result) string {
	parts := make([]string, 0, 2)
	if s := bulleted("Key Insights:", r.Insights); s != "" {
		parts = append(parts, s)
	}
	if s := bulleted("Recommendations:", r.Recommendations); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
