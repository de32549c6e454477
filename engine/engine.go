// Package engine wires the coaching stages into a turn graph and exposes the
// single entry point for processing a user request.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/actions"
	"github.com/PipeOpsHQ/coachflow/graph"
	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/loader"
	"github.com/PipeOpsHQ/coachflow/observe"
	"github.com/PipeOpsHQ/coachflow/stages"
	"github.com/PipeOpsHQ/coachflow/state"
	"github.com/PipeOpsHQ/coachflow/state/memory"
	"github.com/PipeOpsHQ/coachflow/types"
)

const graphName = "coachflow"

// RequestContext carries the optional per-request fields of a turn.
type RequestContext struct {
	// ThreadID names the conversation. When empty, the thread is derived
	// from the user and task.
	ThreadID string
	TaskID   string
	// AuthToken authorizes tool calls for this request only. It is never
	// persisted.
	AuthToken string
}

type Engine struct {
	provider    llm.Provider
	loader      loader.Loader
	code        stages.CodeRunner
	kv          state.KV
	checkpoints state.CheckpointStore
	actions     actions.Executor
	observer    observe.Sink
	logger      *zap.Logger
	model       string
	codeTimeout time.Duration
	maxSteps    int
	threshold   int

	executor *graph.Executor
}

type Option func(*Engine)

func WithLoader(l loader.Loader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithCodeRunner enables the aggregate analysis path of the analytics stage.
func WithCodeRunner(code stages.CodeRunner) Option {
	return func(e *Engine) { e.code = code }
}

// WithBackend uses one backend for checkpoints and long-term memory.
func WithBackend(b state.Backend) Option {
	return func(e *Engine) {
		if b != nil {
			e.checkpoints = b
			e.kv = b
		}
	}
}

func WithCheckpoints(s state.CheckpointStore) Option {
	return func(e *Engine) { e.checkpoints = s }
}

func WithKV(kv state.KV) Option {
	return func(e *Engine) { e.kv = kv }
}

func WithActions(ex actions.Executor) Option {
	return func(e *Engine) { e.actions = ex }
}

func WithObserver(observer observe.Sink) Option {
	return func(e *Engine) { e.observer = observer }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

func WithCodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.codeTimeout = d }
}

func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

func WithCompactionThreshold(n int) Option {
	return func(e *Engine) { e.threshold = n }
}

// New builds the turn graph. Without a checkpoint store the engine keeps
// state in memory for the life of the process.
func New(provider llm.Provider, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("model provider is required")
	}
	e := &Engine{
		provider: provider,
		observer: observe.NoopSink{},
		logger:   zap.NewNop(),
		actions:  actions.Discard{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.checkpoints == nil {
		mem := memory.New()
		e.checkpoints = mem
		if e.kv == nil {
			e.kv = mem
		}
	}

	executor, err := graph.NewExecutor(e.buildGraph(),
		graph.WithStore(e.checkpoints),
		graph.WithObserver(e.observer),
		graph.WithLogger(e.logger),
		graph.WithActions(e.actions),
		graph.WithMaxSteps(e.maxSteps),
		graph.WithCompactionThreshold(e.threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build turn graph: %w", err)
	}
	e.executor = executor
	return e, nil
}

func (e *Engine) stageOptions() []stages.Option {
	return []stages.Option{
		stages.WithLogger(e.logger),
		stages.WithObserver(e.observer),
		stages.WithModel(e.model),
		stages.WithCodeTimeout(e.codeTimeout),
	}
}

// buildGraph wires load context → supervisor → (load tasks) → specialized
// stage. A specialized stage that leaves the turn unanswered hands control
// back to the supervisor.
func (e *Engine) buildGraph() *graph.Graph {
	opts := e.stageOptions()
	g := graph.New(graphName)

	g.AddNode(types.StageLoadContext, stages.NewContextLoader(e.loader, opts...))
	g.AddNode(types.StageSupervisor, stages.NewSupervisor(e.provider, opts...))
	g.AddNode(types.StageLoadTasks, stages.NewTaskLoader(e.loader, opts...))
	g.AddNode(types.StageTaskCreation, stages.NewTaskCreation(e.provider, opts...))
	g.AddNode(types.StagePlanning, stages.NewPlanning(e.provider, opts...))
	g.AddNode(types.StageExecutionCoach, stages.NewExecutionCoach(e.provider, opts...))
	g.AddNode(types.StageAdaptation, stages.NewAdaptation(e.provider, opts...))
	g.AddNode(types.StageAnalytics, stages.NewAnalytics(e.provider, e.code, opts...))
	g.AddNode(types.StageCompaction, stages.NewCompactor(e.provider, e.kv, opts...))

	g.SetEntry(types.StageLoadContext)
	g.SetFallback(types.StageTaskCreation)
	g.SetCompaction(types.StageCompaction)

	needsTasks := func(_ context.Context, s *types.TurnState) (bool, error) {
		return stages.NeedsTasks(s), nil
	}
	g.AddEdge(types.StageLoadContext, types.StageSupervisor, graph.Always)
	g.AddEdge(types.StageSupervisor, types.StageLoadTasks, graph.And(graph.Unanswered, needsTasks))
	for _, stage := range types.SpecializedStages {
		g.AddEdge(types.StageSupervisor, stage, graph.And(graph.Unanswered, graph.RoutedTo(stage)))
		g.AddEdge(types.StageLoadTasks, stage, graph.RoutedTo(stage))
		g.AddEdge(stage, types.StageSupervisor, graph.Unanswered)
	}
	return g
}

// ProcessRequest runs one turn for userID. The returned state always
// carries a final response; when err is non-nil it is the apology.
func (e *Engine) ProcessRequest(ctx context.Context, userID, input string, rc RequestContext) (types.TurnState, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return types.TurnState{FinalResponse: graph.Apology}, fmt.Errorf("user id is required")
	}
	threadID := rc.ThreadID
	if threadID == "" {
		threadID = ThreadID(userID, rc.TaskID)
	}
	initial := types.TurnState{
		ThreadID:  threadID,
		UserID:    userID,
		RawInput:  input,
		AuthToken: rc.AuthToken,
		Context:   types.LoadedContext{TaskID: rc.TaskID},
	}

	started := time.Now()
	final, err := e.executor.Run(ctx, initial)
	fields := []zap.Field{
		zap.String("thread_id", threadID),
		zap.Stringer("routed_stage", final.RoutedStage),
		zap.Int("actions", len(final.DispatchedActions)),
		zap.Duration("elapsed", time.Since(started)),
	}
	if err != nil {
		e.logger.Error("turn failed", append(fields, zap.Error(err))...)
		return final, err
	}
	if final.LastError != "" {
		fields = append(fields, zap.String("last_error", final.LastError))
	}
	e.logger.Info("turn completed", fields...)
	return final, nil
}

// ThreadID derives the conversation id of a user, scoped to a task when
// one is given.
func ThreadID(userID, taskID string) string {
	if taskID == "" {
		return "user:" + userID
	}
	return "user:" + userID + ":task:" + taskID
}

// Turn is one checkpoint of a thread decoded for inspection.
type Turn struct {
	Seq       int64
	Stage     string
	WrittenAt time.Time
	State     types.TurnState
}

// History returns up to limit checkpoints of threadID, newest first.
func (e *Engine) History(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	cps, err := e.checkpoints.List(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	out := make([]Turn, 0, len(cps))
	for _, cp := range cps {
		s, err := graph.DecodeSnapshot(cp.State)
		if err != nil {
			return nil, err
		}
		out = append(out, Turn{Seq: cp.Seq, Stage: cp.Stage, WrittenAt: cp.WrittenAt, State: s})
	}
	return out, nil
}

// Summary returns the stored conversation summary of threadID, or "" when
// the thread was never compacted.
func (e *Engine) Summary(ctx context.Context, userID, threadID string) (string, error) {
	if e.kv == nil {
		return "", nil
	}
	entry, err := e.kv.Get(ctx, stages.SummaryNamespace(userID), threadID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	var s stages.Summary
	if err := json.Unmarshal(entry.Value, &s); err != nil {
		return "", fmt.Errorf("failed to decode summary: %w", err)
	}
	return s.Summary, nil
}
