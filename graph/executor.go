package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/actions"
	"github.com/PipeOpsHQ/coachflow/observe"
	"github.com/PipeOpsHQ/coachflow/state"
	"github.com/PipeOpsHQ/coachflow/types"
)

// Apology is the final response of every turn that failed. Internal error
// text never reaches the user.
const Apology = "I apologize, but I encountered an error processing your request."

// DefaultCompactionThreshold is the visible history length above which the
// terminal step compacts.
const DefaultCompactionThreshold = 6

var ErrRoutingLoopExceeded = errors.New("graph: routing loop exceeded")

type Executor struct {
	graph     *Graph
	store     state.CheckpointStore
	observer  observe.Sink
	logger    *zap.Logger
	actions   actions.Executor
	maxSteps  int
	threshold int
	threads   state.ThreadLocks
}

type ExecutorOption func(*Executor)

func WithStore(store state.CheckpointStore) ExecutorOption {
	return func(e *Executor) { e.store = store }
}

func WithObserver(observer observe.Sink) ExecutorOption {
	return func(e *Executor) { e.observer = observer }
}

func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithActions(ex actions.Executor) ExecutorOption {
	return func(e *Executor) { e.actions = ex }
}

// WithMaxSteps sets the number of node invocations a single run may make.
func WithMaxSteps(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

func WithCompactionThreshold(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.threshold = n
		}
	}
}

func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if err := graph.Compile(); err != nil {
		return nil, err
	}
	executor := &Executor{
		graph:     graph,
		logger:    zap.NewNop(),
		maxSteps:  2 * types.StageCount,
		threshold: DefaultCompactionThreshold,
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor, nil
}

// Run drives one turn of initial.ThreadID to completion. A non-terminal
// checkpoint for the same request is resumed instead of starting over. The
// returned state always carries a final response; on error it is Apology.
func (e *Executor) Run(ctx context.Context, initial types.TurnState) (types.TurnState, error) {
	if e == nil || e.graph == nil {
		return failed(initial), fmt.Errorf("executor is not initialized")
	}
	if initial.ThreadID == "" {
		return failed(initial), fmt.Errorf("thread id is required")
	}
	release := e.threads.Lock(initial.ThreadID)
	defer release()

	started := time.Now()
	s, resumed, err := e.restore(ctx, initial)
	if err != nil {
		return e.abort(ctx, initial, err, false)
	}
	e.emit(ctx, s, observe.Event{
		Kind:       observe.KindTurn,
		Status:     observe.StatusStarted,
		Name:       e.graph.Name(),
		Stage:      s.ActiveStage.String(),
		Attributes: map[string]any{"resumed": resumed},
	})
	// A fresh turn is saved before any node runs so the user message
	// survives a crash in the entry stage.
	if !resumed {
		if err := e.checkpoint(ctx, s, types.StageNone); err != nil {
			return e.abort(ctx, s, err, false)
		}
	}

	for steps := 0; s.ActiveStage != types.StageNone && s.ActiveStage != e.finishing(); steps++ {
		if err := ctx.Err(); err != nil {
			return e.abort(ctx, s, err, true)
		}
		if s.FinalResponse != "" {
			s.ActiveStage = e.finishing()
			break
		}
		if steps >= e.maxSteps {
			return e.abort(ctx, s, fmt.Errorf("%w after %d steps", ErrRoutingLoopExceeded, steps), true)
		}

		stage := s.ActiveStage
		node, ok := e.graph.nodes[stage]
		if !ok {
			return e.abort(ctx, s, fmt.Errorf("stage %q has no node", stage), true)
		}

		update, nodeErr := e.invoke(ctx, node, s)
		if nodeErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return e.abort(ctx, s, ctxErr, true)
			}
			s.LastError = nodeErr.Error()
			if stage == e.graph.fallback {
				e.logger.Warn("fallback stage failed", zap.String("thread_id", s.ThreadID), zap.Error(nodeErr))
				s.FinalResponse = Apology
				s.ActiveStage = e.finishing()
			} else {
				e.logger.Warn("stage failed, routing to fallback",
					zap.String("thread_id", s.ThreadID),
					zap.Stringer("stage", stage),
					zap.Error(nodeErr),
				)
				e.emit(ctx, s, observe.Event{
					Kind:   observe.KindFallback,
					Status: observe.StatusCompleted,
					Stage:  stage.String(),
					Error:  nodeErr.Error(),
					Attributes: map[string]any{
						"to": e.graph.fallback.String(),
					},
				})
				s.RoutedStage = e.graph.fallback
				s.ActiveStage = e.graph.fallback
			}
		} else {
			s.Apply(update)
			next, err := e.selectNext(ctx, stage, &s)
			if err != nil {
				return e.abort(ctx, s, err, true)
			}
			if next == types.StageNone {
				next = e.finishing()
			}
			s.ActiveStage = next
		}

		if err := e.checkpoint(ctx, s, stage); err != nil {
			return e.abort(ctx, s, err, false)
		}
	}

	if s.ActiveStage != types.StageNone {
		if err := e.finish(ctx, &s); err != nil {
			return e.abort(ctx, s, err, false)
		}
	}

	e.emit(ctx, s, observe.Event{
		Kind:       observe.KindTurn,
		Status:     observe.StatusCompleted,
		Name:       e.graph.Name(),
		DurationMs: time.Since(started).Milliseconds(),
		Attributes: map[string]any{
			"actions": len(s.DispatchedActions),
		},
	})
	return s, nil
}

// finishing is the marker stage recorded while the terminal step is pending.
// A crash at that point resumes straight into the terminal step.
func (e *Executor) finishing() types.Stage {
	if e.graph.compaction != types.StageNone {
		return e.graph.compaction
	}
	return types.StageCompaction
}

func (e *Executor) restore(ctx context.Context, initial types.TurnState) (types.TurnState, bool, error) {
	if e.store == nil {
		return nextTurn(types.TurnState{}, initial, e.graph.entry), false, nil
	}
	cp, err := e.store.LoadLatest(ctx, initial.ThreadID)
	if errors.Is(err, state.ErrNotFound) {
		return nextTurn(types.TurnState{}, initial, e.graph.entry), false, nil
	}
	if err != nil {
		return types.TurnState{}, false, err
	}
	saved, err := DecodeSnapshot(cp.State)
	if err != nil {
		return types.TurnState{}, false, &state.PersistenceError{Op: "decode checkpoint", Err: err}
	}
	if resumable(saved, initial) {
		e.logger.Info("resuming turn from checkpoint",
			zap.String("thread_id", initial.ThreadID),
			zap.Int64("seq", cp.Seq),
			zap.Stringer("stage", saved.ActiveStage),
		)
		return overlay(saved, initial), true, nil
	}
	return nextTurn(saved, initial, e.graph.entry), false, nil
}

func (e *Executor) invoke(ctx context.Context, node Node, s types.TurnState) (types.Update, error) {
	stage := s.ActiveStage
	started := time.Now()
	e.emit(ctx, s, observe.Event{
		Kind:   observe.KindStage,
		Status: observe.StatusStarted,
		Stage:  stage.String(),
	})
	update, err := node.Execute(ctx, s.View())
	event := observe.Event{
		Kind:       observe.KindStage,
		Status:     observe.StatusCompleted,
		Stage:      stage.String(),
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		event.Status = observe.StatusFailed
		event.Error = err.Error()
	}
	e.emit(ctx, s, event)
	return update, err
}

func (e *Executor) selectNext(ctx context.Context, from types.Stage, s *types.TurnState) (types.Stage, error) {
	for _, edge := range e.graph.edges[from] {
		if edge.Condition == nil {
			return edge.To, nil
		}
		ok, err := edge.Condition(ctx, s)
		if err != nil {
			return types.StageNone, fmt.Errorf("edge %q -> %q condition failed: %w", edge.From, edge.To, err)
		}
		if ok {
			return edge.To, nil
		}
	}
	return types.StageNone, nil
}

// finish is the terminal step: compact once if the history grew too long,
// hand pending actions over, then write the terminal checkpoint.
func (e *Executor) finish(ctx context.Context, s *types.TurnState) error {
	if e.graph.compaction != types.StageNone && len(s.VisibleMessages()) > e.threshold {
		stage := e.graph.compaction
		node := e.graph.nodes[stage]
		update, err := e.invoke(ctx, node, *s)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			e.logger.Warn("history compaction failed", zap.String("thread_id", s.ThreadID), zap.Error(err))
		} else {
			s.Apply(update)
			if err := e.checkpoint(ctx, *s, stage); err != nil {
				return err
			}
		}
	}

	if len(s.PendingActions) > 0 {
		items := s.PendingActions
		if e.actions != nil {
			err := e.actions.Execute(ctx, actions.Batch{
				ThreadID: s.ThreadID,
				UserID:   s.UserID,
				Token:    s.AuthToken,
				Items:    items,
			})
			if err != nil {
				e.logger.Warn("action dispatch failed",
					zap.String("thread_id", s.ThreadID),
					zap.Int("actions", len(items)),
					zap.Error(err),
				)
				e.emit(ctx, *s, observe.Event{
					Kind:   observe.KindCustom,
					Status: observe.StatusFailed,
					Name:   "actions.dispatch",
					Error:  err.Error(),
				})
				s.LastError = err.Error()
			}
		}
		s.DispatchedActions = append(s.DispatchedActions, items...)
		s.PendingActions = nil
	}

	if s.FinalResponse == "" {
		s.FinalResponse = Apology
	}
	s.ActiveStage = types.StageNone
	return e.checkpoint(ctx, *s, types.StageNone)
}

func (e *Executor) checkpoint(ctx context.Context, s types.TurnState, stage types.Stage) error {
	if e.store == nil {
		return nil
	}
	raw, err := snapshot(s)
	if err != nil {
		return &state.PersistenceError{Op: "encode checkpoint", Err: err}
	}
	seq, err := e.store.Save(ctx, s.ThreadID, stage.String(), raw)
	if err != nil {
		return err
	}
	e.emit(ctx, s, observe.Event{
		Kind:   observe.KindCheckpoint,
		Status: observe.StatusCompleted,
		Stage:  stage.String(),
		Attributes: map[string]any{
			"seq":  seq,
			"next": s.ActiveStage.String(),
		},
	})
	return nil
}

// abort ends the turn with the apology. With persist set the terminal state
// is written best effort so the next request starts a fresh turn.
func (e *Executor) abort(ctx context.Context, s types.TurnState, runErr error, persist bool) (types.TurnState, error) {
	s = failed(s)
	s.LastError = runErr.Error()
	e.logger.Error("turn failed", zap.String("thread_id", s.ThreadID), zap.Error(runErr))
	if persist && s.ThreadID != "" {
		if err := e.checkpoint(context.WithoutCancel(ctx), s, types.StageNone); err != nil {
			e.logger.Warn("failed to persist aborted turn", zap.String("thread_id", s.ThreadID), zap.Error(err))
		}
	}
	e.emit(ctx, s, observe.Event{
		Kind:   observe.KindTurn,
		Status: observe.StatusFailed,
		Name:   e.graph.Name(),
		Error:  runErr.Error(),
	})
	return s, runErr
}

func failed(s types.TurnState) types.TurnState {
	s.FinalResponse = Apology
	s.ActiveStage = types.StageNone
	s.PendingActions = nil
	return s
}

func (e *Executor) emit(ctx context.Context, s types.TurnState, event observe.Event) {
	if e.observer == nil {
		return
	}
	event.ThreadID = s.ThreadID
	event.UserID = s.UserID
	event.Normalize()
	if err := e.observer.Emit(ctx, event); err != nil {
		e.logger.Debug("observer emit failed", zap.Error(err))
	}
}
