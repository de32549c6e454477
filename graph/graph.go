package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/PipeOpsHQ/coachflow/types"
)

// Condition decides whether an edge is taken after its source stage ran.
type Condition func(ctx context.Context, state *types.TurnState) (bool, error)

type Edge struct {
	From      types.Stage
	To        types.Stage
	Condition Condition
}

// Graph is the dispatch table of a turn: one node per stage plus the
// conditional edges between them. Edges are evaluated in insertion order
// and the first match wins; no match ends routing.
type Graph struct {
	name       string
	nodes      map[types.Stage]Node
	edges      map[types.Stage][]Edge
	entry      types.Stage
	fallback   types.Stage
	compaction types.Stage
	buildErr   error
}

func New(name string) *Graph {
	return &Graph{
		name:  name,
		nodes: map[types.Stage]Node{},
		edges: map[types.Stage][]Edge{},
	}
}

func (g *Graph) Name() string {
	if g == nil {
		return ""
	}
	return g.name
}

func (g *Graph) AddNode(stage types.Stage, node Node) *Graph {
	if g == nil || g.buildErr != nil {
		return g
	}
	if !stage.Valid() {
		g.buildErr = fmt.Errorf("invalid stage %d", uint8(stage))
		return g
	}
	if node == nil {
		g.buildErr = fmt.Errorf("node %q is nil", stage)
		return g
	}
	if _, exists := g.nodes[stage]; exists {
		g.buildErr = fmt.Errorf("node %q already exists", stage)
		return g
	}
	g.nodes[stage] = node
	return g
}

func (g *Graph) AddEdge(from, to types.Stage, condition Condition) *Graph {
	if g == nil || g.buildErr != nil {
		return g
	}
	if !from.Valid() || !to.Valid() {
		g.buildErr = fmt.Errorf("edge endpoints are required")
		return g
	}
	g.edges[from] = append(g.edges[from], Edge{
		From:      from,
		To:        to,
		Condition: condition,
	})
	return g
}

// SetEntry names the stage a fresh turn starts at.
func (g *Graph) SetEntry(stage types.Stage) *Graph {
	if g == nil || g.buildErr != nil {
		return g
	}
	if !stage.Valid() {
		g.buildErr = fmt.Errorf("entry stage is required")
		return g
	}
	g.entry = stage
	return g
}

// SetFallback names the stage a failed node is redirected to.
func (g *Graph) SetFallback(stage types.Stage) *Graph {
	if g == nil || g.buildErr != nil {
		return g
	}
	if !stage.Valid() {
		g.buildErr = fmt.Errorf("fallback stage is required")
		return g
	}
	g.fallback = stage
	return g
}

// SetCompaction names the stage run once during the terminal step when the
// visible history grows past the threshold. It needs no inbound edges.
func (g *Graph) SetCompaction(stage types.Stage) *Graph {
	if g == nil || g.buildErr != nil {
		return g
	}
	if !stage.Valid() {
		g.buildErr = fmt.Errorf("compaction stage is required")
		return g
	}
	g.compaction = stage
	return g
}

func (g *Graph) Entry() types.Stage    { return g.entry }
func (g *Graph) Fallback() types.Stage { return g.fallback }

// Compile validates the table. Cycles are allowed; the executor bounds them
// with its iteration ceiling.
func (g *Graph) Compile() error {
	if g == nil {
		return fmt.Errorf("graph is nil")
	}
	if g.buildErr != nil {
		return g.buildErr
	}
	if g.name == "" {
		return fmt.Errorf("graph name is required")
	}
	if len(g.nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	if g.entry == types.StageNone {
		return fmt.Errorf("entry stage is not set")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("entry stage %q has no node", g.entry)
	}
	if g.fallback == types.StageNone {
		return fmt.Errorf("fallback stage is not set")
	}
	if _, ok := g.nodes[g.fallback]; !ok {
		return fmt.Errorf("fallback stage %q has no node", g.fallback)
	}
	if g.compaction != types.StageNone {
		if _, ok := g.nodes[g.compaction]; !ok {
			return fmt.Errorf("compaction stage %q has no node", g.compaction)
		}
	}

	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("edge source stage %q has no node", from)
		}
		for _, edge := range edges {
			if _, ok := g.nodes[edge.To]; !ok {
				return fmt.Errorf("edge target stage %q has no node", edge.To)
			}
		}
	}

	unreachable := g.unreachableStages()
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		return fmt.Errorf("graph contains unreachable stage(s): %v", unreachable)
	}
	return nil
}

func (g *Graph) unreachableStages() []string {
	visited := map[types.Stage]bool{}
	var dfs func(stage types.Stage)
	dfs = func(stage types.Stage) {
		if visited[stage] {
			return
		}
		visited[stage] = true
		for _, edge := range g.edges[stage] {
			dfs(edge.To)
		}
	}
	dfs(g.entry)
	dfs(g.fallback)
	if g.compaction != types.StageNone {
		dfs(g.compaction)
	}

	out := make([]string, 0)
	for stage := range g.nodes {
		if !visited[stage] {
			out = append(out, stage.String())
		}
	}
	return out
}

// Always is an unconditional edge.
func Always(context.Context, *types.TurnState) (bool, error) { return true, nil }

// RoutedTo matches when the supervisor picked stage.
func RoutedTo(stage types.Stage) Condition {
	return func(_ context.Context, s *types.TurnState) (bool, error) {
		return s.RoutedStage == stage, nil
	}
}

// Unanswered matches while no stage has produced a final response.
func Unanswered(_ context.Context, s *types.TurnState) (bool, error) {
	return s.FinalResponse == "", nil
}

func Not(c Condition) Condition {
	return func(ctx context.Context, s *types.TurnState) (bool, error) {
		ok, err := c(ctx, s)
		return !ok, err
	}
}

// And short-circuits on the first false or failing condition.
func And(conds ...Condition) Condition {
	return func(ctx context.Context, s *types.TurnState) (bool, error) {
		for _, c := range conds {
			ok, err := c(ctx, s)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}
