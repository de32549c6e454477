package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/PipeOpsHQ/coachflow/actions"
	"github.com/PipeOpsHQ/coachflow/observe"
	"github.com/PipeOpsHQ/coachflow/state"
	"github.com/PipeOpsHQ/coachflow/state/memory"
	"github.com/PipeOpsHQ/coachflow/types"
)

func noop() Node {
	return NodeFunc(func(context.Context, types.TurnState) (types.Update, error) {
		return types.Update{}, nil
	})
}

func answer(stage types.Stage, text string) Node {
	return NodeFunc(func(context.Context, types.TurnState) (types.Update, error) {
		return types.Update{
			Messages:      []types.Message{types.NewAgentMessage(stage, types.SubRoleResponse, text)},
			FinalResponse: types.String(text),
		}, nil
	})
}

func routeTo(stage types.Stage) Node {
	return NodeFunc(func(_ context.Context, view types.TurnState) (types.Update, error) {
		return types.Update{RoutedStage: types.StagePtr(stage)}, nil
	})
}

// turnGraph wires a supervisor and the specialized stages the way the
// engine does; nodes not given fall back to answering with their name.
func turnGraph(nodes map[types.Stage]Node) *Graph {
	node := func(stage types.Stage) Node {
		if n, ok := nodes[stage]; ok {
			return n
		}
		return answer(stage, stage.String())
	}
	g := New("turn")
	g.AddNode(types.StageLoadContext, nodeOr(nodes, types.StageLoadContext, noop()))
	g.AddNode(types.StageSupervisor, nodeOr(nodes, types.StageSupervisor, routeTo(types.StageTaskCreation)))
	g.AddNode(types.StageCompaction, nodeOr(nodes, types.StageCompaction, noop()))
	g.SetEntry(types.StageLoadContext)
	g.SetFallback(types.StageTaskCreation)
	g.SetCompaction(types.StageCompaction)
	g.AddEdge(types.StageLoadContext, types.StageSupervisor, Always)
	for _, stage := range types.SpecializedStages {
		g.AddNode(stage, node(stage))
		g.AddEdge(types.StageSupervisor, stage, And(Unanswered, RoutedTo(stage)))
		g.AddEdge(stage, types.StageSupervisor, Unanswered)
	}
	return g
}

func nodeOr(nodes map[types.Stage]Node, stage types.Stage, def Node) Node {
	if n, ok := nodes[stage]; ok {
		return n
	}
	return def
}

func newTurn(threadID, input string) types.TurnState {
	return types.TurnState{ThreadID: threadID, UserID: "user-1", RawInput: input, AuthToken: "secret-token"}
}

func TestGraphCompile_ValidatesStages(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Graph
	}{
		{"no entry", func() *Graph {
			return New("g").AddNode(types.StagePlanning, noop()).SetFallback(types.StagePlanning)
		}},
		{"no fallback", func() *Graph {
			return New("g").AddNode(types.StagePlanning, noop()).SetEntry(types.StagePlanning)
		}},
		{"fallback without node", func() *Graph {
			return New("g").AddNode(types.StagePlanning, noop()).SetEntry(types.StagePlanning).SetFallback(types.StageTaskCreation)
		}},
		{"edge to missing node", func() *Graph {
			return New("g").AddNode(types.StagePlanning, noop()).SetEntry(types.StagePlanning).SetFallback(types.StagePlanning).
				AddEdge(types.StagePlanning, types.StageAnalytics, nil)
		}},
		{"duplicate node", func() *Graph {
			return New("g").AddNode(types.StagePlanning, noop()).AddNode(types.StagePlanning, noop())
		}},
		{"invalid stage", func() *Graph {
			return New("g").AddNode(types.StageNone, noop())
		}},
		{"unreachable", func() *Graph {
			return New("g").AddNode(types.StagePlanning, noop()).AddNode(types.StageAnalytics, noop()).
				SetEntry(types.StagePlanning).SetFallback(types.StagePlanning)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.build().Compile(); err == nil {
				t.Fatalf("expected compile error")
			}
		})
	}

	if err := turnGraph(nil).Compile(); err != nil {
		t.Fatalf("turn graph should compile: %v", err)
	}
}

func TestExecutor_Run_RoutesAndCheckpoints(t *testing.T) {
	store := memory.New()
	rec := &observe.Recorder{}
	g := turnGraph(map[types.Stage]Node{
		types.StageSupervisor: routeTo(types.StagePlanning),
		types.StagePlanning:   answer(types.StagePlanning, "here is your plan"),
	})
	executor, err := NewExecutor(g, WithStore(store), WithObserver(rec))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	out, err := executor.Run(context.Background(), newTurn("t-1", "plan my week"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.FinalResponse != "here is your plan" {
		t.Fatalf("unexpected response: %q", out.FinalResponse)
	}
	if !out.Terminal() {
		t.Fatalf("expected terminal state, got %q", out.ActiveStage)
	}
	if got := len(out.MessageHistory); got != 2 {
		t.Fatalf("expected user and agent messages, got %d", got)
	}

	checkpoints, err := store.List(context.Background(), "t-1", 0)
	if err != nil {
		t.Fatalf("list checkpoints failed: %v", err)
	}
	var stages []string
	for i := len(checkpoints) - 1; i >= 0; i-- {
		stages = append(stages, checkpoints[i].Stage)
	}
	want := []string{"", "loadContext", "supervisor", "planning", ""}
	if diff := cmp.Diff(want, stages); diff != "" {
		t.Fatalf("checkpoint stages mismatch (-want +got):\n%s", diff)
	}
	if checkpoints[0].Seq != 5 {
		t.Fatalf("expected latest seq 5, got %d", checkpoints[0].Seq)
	}
	for _, cp := range checkpoints {
		if strings.Contains(string(cp.State), "secret-token") {
			t.Fatalf("auth token leaked into checkpoint %d", cp.Seq)
		}
	}

	if got := len(rec.Filter(observe.KindCheckpoint)); got != 5 {
		t.Fatalf("expected 5 checkpoint events, got %d", got)
	}
	turns := rec.Filter(observe.KindTurn)
	if len(turns) != 2 || turns[1].Status != observe.StatusCompleted {
		t.Fatalf("unexpected turn events: %#v", turns)
	}
}

func TestExecutor_Run_RoutingLoopCeiling(t *testing.T) {
	store := memory.New()
	g := turnGraph(map[types.Stage]Node{
		types.StageSupervisor: routeTo(types.StageAdaptation),
		types.StageAdaptation: noop(),
	})
	executor, err := NewExecutor(g, WithStore(store))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	out, err := executor.Run(context.Background(), newTurn("t-loop", "help"))
	if !errors.Is(err, ErrRoutingLoopExceeded) {
		t.Fatalf("expected ErrRoutingLoopExceeded, got %v", err)
	}
	if out.FinalResponse != Apology {
		t.Fatalf("expected apology, got %q", out.FinalResponse)
	}

	latest, err := store.LoadLatest(context.Background(), "t-loop")
	if err != nil {
		t.Fatalf("load latest failed: %v", err)
	}
	saved, err := DecodeSnapshot(latest.State)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !saved.Terminal() {
		t.Fatalf("expected aborted turn to be persisted as terminal")
	}
	// The start checkpoint, one per allowed step and the aborted terminal state.
	if latest.Seq != int64(2*types.StageCount)+2 {
		t.Fatalf("unexpected checkpoint count %d", latest.Seq)
	}
}

func TestExecutor_Run_TerminatesForEveryLabel(t *testing.T) {
	for _, stage := range append([]types.Stage{types.StageNone, types.StageSupervisor}, types.SpecializedStages...) {
		t.Run(stage.String(), func(t *testing.T) {
			g := turnGraph(map[types.Stage]Node{types.StageSupervisor: routeTo(stage)})
			executor, err := NewExecutor(g)
			if err != nil {
				t.Fatalf("failed to build executor: %v", err)
			}
			out, err := executor.Run(context.Background(), newTurn("t-label", "x"))
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if !out.Terminal() || out.FinalResponse == "" {
				t.Fatalf("turn did not terminate with a response: %+v", out)
			}
		})
	}
}

func TestExecutor_Run_NodeErrorFallsBackOnce(t *testing.T) {
	g := turnGraph(map[types.Stage]Node{
		types.StageSupervisor: routeTo(types.StageAnalytics),
		types.StageAnalytics: NodeFunc(func(context.Context, types.TurnState) (types.Update, error) {
			return types.Update{}, errors.New("model unavailable")
		}),
		types.StageTaskCreation: answer(types.StageTaskCreation, "created"),
	})
	rec := &observe.Recorder{}
	executor, err := NewExecutor(g, WithObserver(rec))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	out, err := executor.Run(context.Background(), newTurn("t-fb", "stats"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.FinalResponse != "created" {
		t.Fatalf("expected fallback response, got %q", out.FinalResponse)
	}
	if out.LastError != "model unavailable" {
		t.Fatalf("expected lastError to record the failure, got %q", out.LastError)
	}
	if got := len(rec.Filter(observe.KindFallback)); got != 1 {
		t.Fatalf("expected one fallback event, got %d", got)
	}
}

func TestExecutor_Run_FallbackFailureApologizes(t *testing.T) {
	failing := NodeFunc(func(context.Context, types.TurnState) (types.Update, error) {
		return types.Update{}, errors.New("boom")
	})
	g := turnGraph(map[types.Stage]Node{
		types.StageSupervisor:   routeTo(types.StagePlanning),
		types.StagePlanning:     failing,
		types.StageTaskCreation: failing,
	})
	executor, err := NewExecutor(g)
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	out, err := executor.Run(context.Background(), newTurn("t-fb2", "plan"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.FinalResponse != Apology {
		t.Fatalf("expected apology, got %q", out.FinalResponse)
	}
	if strings.Contains(out.FinalResponse, "boom") {
		t.Fatalf("internal error leaked into response")
	}
}

func TestExecutor_Run_ResumesUnfinishedTurn(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	interrupted := newTurn("t-resume", "plan my week")
	interrupted.AuthToken = ""
	interrupted.AppendMessages(types.NewUserMessage("plan my week"))
	interrupted.RoutedStage = types.StagePlanning
	interrupted.ActiveStage = types.StagePlanning
	raw, _ := json.Marshal(interrupted)
	if _, err := store.Save(ctx, "t-resume", "supervisor", raw); err != nil {
		t.Fatalf("seed checkpoint failed: %v", err)
	}

	var supervisorCalls, planningCalls atomic.Int32
	var seenToken string
	g := turnGraph(map[types.Stage]Node{
		types.StageSupervisor: NodeFunc(func(ctx context.Context, view types.TurnState) (types.Update, error) {
			supervisorCalls.Add(1)
			return types.Update{RoutedStage: types.StagePtr(types.StagePlanning)}, nil
		}),
		types.StagePlanning: NodeFunc(func(ctx context.Context, view types.TurnState) (types.Update, error) {
			planningCalls.Add(1)
			seenToken = view.AuthToken
			return types.Update{FinalResponse: types.String("plan ready")}, nil
		}),
	})
	executor, err := NewExecutor(g, WithStore(store))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	out, err := executor.Run(ctx, newTurn("t-resume", "plan my week"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if supervisorCalls.Load() != 0 || planningCalls.Load() != 1 {
		t.Fatalf("expected resume at planning only, got supervisor=%d planning=%d", supervisorCalls.Load(), planningCalls.Load())
	}
	if seenToken != "secret-token" {
		t.Fatalf("expected token from the new request, got %q", seenToken)
	}
	if got := len(out.MessageHistory); got != 1 {
		t.Fatalf("resume must not duplicate the user message, got %d messages", got)
	}

	// Replaying the same request after completion starts a new turn.
	next, err := executor.Run(ctx, newTurn("t-resume", "plan my week"))
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if supervisorCalls.Load() != 1 {
		t.Fatalf("expected a fresh turn through the supervisor")
	}
	if got := len(next.MessageHistory); got != 2 {
		t.Fatalf("expected history to carry over, got %d messages", got)
	}
	if next.MessageHistory[1].CreatedOrder != 2 {
		t.Fatalf("expected monotonic order, got %d", next.MessageHistory[1].CreatedOrder)
	}
}

func TestExecutor_Run_CompactsOnceWhenHistoryIsLong(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	prev := newTurn("t-compact", "earlier")
	prev.AuthToken = ""
	for i := 0; i < 3; i++ {
		prev.AppendMessages(types.NewUserMessage("q"), types.NewAgentMessage(types.StagePlanning, types.SubRoleResponse, "a"))
	}
	prev.FinalResponse = "a"
	raw, _ := json.Marshal(prev)
	if _, err := store.Save(ctx, "t-compact", "", raw); err != nil {
		t.Fatalf("seed checkpoint failed: %v", err)
	}

	var compactions atomic.Int32
	compactor := NodeFunc(func(_ context.Context, view types.TurnState) (types.Update, error) {
		compactions.Add(1)
		visible := view.VisibleMessages()
		var ids []string
		for _, m := range visible[:len(visible)-2] {
			ids = append(ids, m.ID)
		}
		return types.Update{HistorySummary: types.String("summary"), Tombstones: ids}, nil
	})
	executor, err := NewExecutor(turnGraph(map[types.Stage]Node{types.StageCompaction: compactor}), WithStore(store))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	out, err := executor.Run(ctx, newTurn("t-compact", "new task please"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if compactions.Load() != 1 {
		t.Fatalf("expected exactly one compaction, got %d", compactions.Load())
	}
	if out.HistorySummary != "summary" {
		t.Fatalf("expected summary, got %q", out.HistorySummary)
	}
	if got := len(out.VisibleMessages()); got != 2 {
		t.Fatalf("expected 2 visible messages, got %d", got)
	}
	if got := len(out.MessageHistory); got != 8 {
		t.Fatalf("tombstoned messages must stay in the log, got %d", got)
	}

	checkpoints, err := store.List(ctx, "t-compact", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if checkpoints[1].Stage != "compactHistory" || checkpoints[0].Stage != "" {
		t.Fatalf("expected compaction then terminal checkpoint, got %q, %q", checkpoints[1].Stage, checkpoints[0].Stage)
	}
}

func TestExecutor_Run_DispatchesFilteredActions(t *testing.T) {
	var got actions.Batch
	dispatcher := actions.ExecutorFunc(func(_ context.Context, batch actions.Batch) error {
		got = batch
		return nil
	})
	g := turnGraph(map[types.Stage]Node{
		types.StageTaskCreation: NodeFunc(func(context.Context, types.TurnState) (types.Update, error) {
			return types.Update{
				Actions: []types.ActionItem{
					{Kind: types.ActionCreateTask, Payload: json.RawMessage(`{"title":"Run"}`)},
					{Kind: types.ActionNone},
					{Kind: "teleport"},
				},
				FinalResponse: types.String("done"),
			}, nil
		}),
	})
	executor, err := NewExecutor(g, WithActions(dispatcher))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	out, err := executor.Run(context.Background(), newTurn("t-act", "add run"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Kind != types.ActionCreateTask {
		t.Fatalf("unexpected dispatched batch: %#v", got.Items)
	}
	if got.Token != "secret-token" || got.ThreadID != "t-act" {
		t.Fatalf("batch missing request context: %#v", got)
	}
	if len(out.PendingActions) != 0 || len(out.DispatchedActions) != 1 {
		t.Fatalf("expected pending actions consumed, got pending=%d dispatched=%d", len(out.PendingActions), len(out.DispatchedActions))
	}
}

func TestExecutor_Run_ActionFailureKeepsResponse(t *testing.T) {
	dispatcher := actions.ExecutorFunc(func(context.Context, actions.Batch) error {
		return errors.New("tool process down")
	})
	g := turnGraph(map[types.Stage]Node{
		types.StageTaskCreation: NodeFunc(func(context.Context, types.TurnState) (types.Update, error) {
			return types.Update{
				Actions:       []types.ActionItem{{Kind: types.ActionLogActivity}},
				FinalResponse: types.String("logged"),
			}, nil
		}),
	})
	executor, err := NewExecutor(g, WithActions(dispatcher))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}
	out, err := executor.Run(context.Background(), newTurn("t-act2", "log it"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.FinalResponse != "logged" || out.LastError == "" {
		t.Fatalf("unexpected state: response=%q lastError=%q", out.FinalResponse, out.LastError)
	}
}

func TestExecutor_Run_RequiresThreadID(t *testing.T) {
	executor, err := NewExecutor(turnGraph(nil))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}
	out, err := executor.Run(context.Background(), types.TurnState{RawInput: "hi"})
	if err == nil {
		t.Fatalf("expected error without thread id")
	}
	if out.FinalResponse != Apology {
		t.Fatalf("expected apology, got %q", out.FinalResponse)
	}
}

func TestExecutor_Run_SavesTurnBeforeEntryStage(t *testing.T) {
	store := memory.New()
	var (
		seen    types.TurnState
		loadErr error
	)
	g := turnGraph(map[types.Stage]Node{
		types.StageLoadContext: NodeFunc(func(ctx context.Context, _ types.TurnState) (types.Update, error) {
			cp, err := store.LoadLatest(ctx, "t-start")
			if err != nil {
				loadErr = err
				return types.Update{}, nil
			}
			seen, loadErr = DecodeSnapshot(cp.State)
			return types.Update{}, nil
		}),
	})
	executor, err := NewExecutor(g, WithStore(store))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	if _, err := executor.Run(context.Background(), newTurn("t-start", "add a task")); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if loadErr != nil {
		t.Fatalf("expected a checkpoint while the entry stage runs: %v", loadErr)
	}
	if seen.ActiveStage != types.StageLoadContext {
		t.Fatalf("expected start checkpoint at the entry stage, got %q", seen.ActiveStage)
	}
	visible := seen.VisibleMessages()
	if len(visible) != 1 || visible[0].Body != "add a task" {
		t.Fatalf("expected the user message in the start checkpoint, got %#v", visible)
	}
	if seen.AuthToken != "" {
		t.Fatalf("auth token leaked into the start checkpoint")
	}
}

func TestExecutor_Run_StartCheckpointFailureAborts(t *testing.T) {
	var calls atomic.Int32
	g := turnGraph(map[types.Stage]Node{
		types.StageLoadContext: NodeFunc(func(context.Context, types.TurnState) (types.Update, error) {
			calls.Add(1)
			return types.Update{}, nil
		}),
	})
	executor, err := NewExecutor(g, WithStore(failingStore{memory.New()}))
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}

	out, err := executor.Run(context.Background(), newTurn("t-fail", "hi"))
	var perr *state.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if out.FinalResponse != Apology {
		t.Fatalf("expected apology, got %q", out.FinalResponse)
	}
	if calls.Load() != 0 {
		t.Fatalf("entry stage must not run without a start checkpoint")
	}
}

type failingStore struct {
	state.CheckpointStore
}

func (failingStore) Save(context.Context, string, string, json.RawMessage) (int64, error) {
	return 0, &state.PersistenceError{Op: "save checkpoint", Err: errors.New("disk full")}
}
