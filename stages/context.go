package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PipeOpsHQ/coachflow/loader"
	"github.com/PipeOpsHQ/coachflow/types"
)

// ContextLoader fills the user profile and, when the request names one, the
// task. A load failure is recorded in lastError and the turn continues
// without the missing context.
type ContextLoader struct {
	loader loader.Loader
	opts   options
}

func NewContextLoader(l loader.Loader, opts ...Option) *ContextLoader {
	return &ContextLoader{loader: l, opts: buildOptions(opts)}
}

func (c *ContextLoader) Execute(ctx context.Context, view types.TurnState) (types.Update, error) {
	if c.loader == nil || view.UserID == "" {
		return types.Update{}, nil
	}
	var (
		user *types.UserProfile
		task *types.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	if view.Context.User == nil {
		g.Go(func() error {
			u, err := c.loader.LoadUser(gctx, view.UserID, view.AuthToken)
			user = u
			return err
		})
	}
	if taskID := view.Context.TaskID; taskID != "" && view.Context.Task == nil {
		g.Go(func() error {
			t, err := c.loader.LoadTask(gctx, view.UserID, view.AuthToken, taskID)
			task = t
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return types.Update{}, ctx.Err()
		}
		c.opts.logger.Warn("failed to load context", zap.String("thread_id", view.ThreadID), zap.Error(err))
		return types.Update{LastError: types.String(fmt.Sprintf("failed to load context: %v", err))}, nil
	}
	return types.Update{User: user, Task: task}, nil
}

// TaskLoader loads the user's task list for stages that reason over all
// tasks. It runs at most once per turn.
type TaskLoader struct {
	loader loader.Loader
	opts   options
}

func NewTaskLoader(l loader.Loader, opts ...Option) *TaskLoader {
	return &TaskLoader{loader: l, opts: buildOptions(opts)}
}

func (t *TaskLoader) Execute(ctx context.Context, view types.TurnState) (types.Update, error) {
	if t.loader == nil {
		return types.Update{TasksLoaded: true}, nil
	}
	tasks, err := t.loader.LoadTasks(ctx, view.UserID, view.AuthToken)
	if err != nil {
		if ctx.Err() != nil {
			return types.Update{}, ctx.Err()
		}
		t.opts.logger.Warn("failed to load tasks", zap.String("thread_id", view.ThreadID), zap.Error(err))
		return types.Update{
			TasksLoaded: true,
			LastError:   types.String(fmt.Sprintf("failed to load tasks: %v", err)),
		}, nil
	}
	return types.Update{Tasks: tasks, TasksLoaded: true}, nil
}

// NeedsTasks reports whether the routed stage reasons over the task list
// and the list has not been loaded yet.
func NeedsTasks(s *types.TurnState) bool {
	switch s.RoutedStage {
	case types.StageAnalytics, types.StagePlanning, types.StageExecutionCoach:
	default:
		return false
	}
	return s.Context.Task == nil && len(s.Context.Tasks) == 0 && !s.Context.TasksLoaded
}
