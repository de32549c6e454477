// Package actions carries out the mutations requested by a finished turn.
package actions

import (
	"context"

	"github.com/PipeOpsHQ/coachflow/types"
)

// Batch is the set of actions one turn produced. Token authorizes the
// mutations against the task store and is never persisted.
type Batch struct {
	ThreadID string             `json:"threadId"`
	UserID   string             `json:"userId"`
	Token    string             `json:"-"`
	Items    []types.ActionItem `json:"items"`
}

type Executor interface {
	Execute(ctx context.Context, batch Batch) error
}

type ExecutorFunc func(ctx context.Context, batch Batch) error

func (f ExecutorFunc) Execute(ctx context.Context, batch Batch) error {
	if f == nil {
		return nil
	}
	return f(ctx, batch)
}

// Discard drops every batch. The actions stay visible on the returned turn
// state for callers that apply them themselves.
type Discard struct{}

func (Discard) Execute(context.Context, Batch) error { return nil }
