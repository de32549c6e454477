// Package loader fetches the user and task context a turn is routed on.
package loader

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/PipeOpsHQ/coachflow/toolproc"
	"github.com/PipeOpsHQ/coachflow/types"
)

// Loader reads context on behalf of a user. token authorizes the reads.
type Loader interface {
	LoadUser(ctx context.Context, userID, token string) (*types.UserProfile, error)
	LoadTask(ctx context.Context, userID, token, taskID string) (*types.Task, error)
	LoadTasks(ctx context.Context, userID, token string) ([]types.Task, error)
}

// ToolLoader reads through the tool process.
type ToolLoader struct {
	tools *toolproc.Tools
}

func NewToolLoader(tools *toolproc.Tools) *ToolLoader {
	return &ToolLoader{tools: tools}
}

// LoadUser fetches the profile, psych profile and settings concurrently.
// Sections the profile already embeds are kept as returned.
func (l *ToolLoader) LoadUser(ctx context.Context, userID, token string) (*types.UserProfile, error) {
	var (
		profile  *types.UserProfile
		psych    *types.PsychProfile
		settings *types.Settings
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := l.tools.GetUserProfile(gctx, token)
		if err != nil {
			return fmt.Errorf("failed to load user profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		p, err := l.tools.GetPsychProfile(gctx, token)
		if err != nil {
			return fmt.Errorf("failed to load psych profile: %w", err)
		}
		psych = p
		return nil
	})
	g.Go(func() error {
		s, err := l.tools.GetUserSettings(gctx, token)
		if err != nil {
			return fmt.Errorf("failed to load user settings: %w", err)
		}
		settings = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("user %q has no profile", userID)
	}
	if profile.ID == "" {
		profile.ID = userID
	}
	if profile.PsychProfile == nil {
		profile.PsychProfile = psych
	}
	if profile.Settings == nil {
		profile.Settings = settings
	}
	return profile, nil
}

func (l *ToolLoader) LoadTask(ctx context.Context, _ string, token, taskID string) (*types.Task, error) {
	task, err := l.tools.GetTask(ctx, token, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %q: %w", taskID, err)
	}
	return task, nil
}

// LoadTasks returns the user's top-level tasks.
func (l *ToolLoader) LoadTasks(ctx context.Context, _ string, token string) ([]types.Task, error) {
	tasks, err := l.tools.GetTasks(ctx, token, toolproc.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	return tasks, nil
}
