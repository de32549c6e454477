package graph

import (
	"context"
	"fmt"

	"github.com/PipeOpsHQ/coachflow/types"
)

// Node is one stage of a turn. It receives a copy of the turn state and
// returns the partial update the executor merges.
type Node interface {
	Execute(ctx context.Context, view types.TurnState) (types.Update, error)
}

type NodeFunc func(ctx context.Context, view types.TurnState) (types.Update, error)

func (f NodeFunc) Execute(ctx context.Context, view types.TurnState) (types.Update, error) {
	if f == nil {
		return types.Update{}, fmt.Errorf("node func is required")
	}
	return f(ctx, view)
}
