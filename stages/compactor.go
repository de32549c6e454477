package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/prompt"
	"github.com/PipeOpsHQ/coachflow/state"
	"github.com/PipeOpsHQ/coachflow/types"
)

// DefaultKeepMessages is how many of the newest visible messages survive a
// compaction.
const DefaultKeepMessages = 2

// SummaryNamespace returns the store namespace holding userID's summaries,
// keyed by thread id.
func SummaryNamespace(userID string) []string {
	return []string{"summaries", userID}
}

// Summary is the stored form of a thread summary.
type Summary struct {
	ThreadID  string    `json:"threadId"`
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Compactor folds the visible history into the running summary and
// tombstones everything but the newest messages.
type Compactor struct {
	provider llm.Provider
	kv       state.KV
	keep     int
	opts     options
}

// NewCompactor builds the compaction stage. kv may be nil, in which case
// summaries only live in the turn state.
func NewCompactor(provider llm.Provider, kv state.KV, opts ...Option) *Compactor {
	return &Compactor{provider: provider, kv: kv, keep: DefaultKeepMessages, opts: buildOptions(opts)}
}

func (c *Compactor) Execute(ctx context.Context, view types.TurnState) (types.Update, error) {
	visible := view.VisibleMessages()
	if len(visible) <= c.keep {
		return types.Update{}, nil
	}

	name := prompt.Compaction
	vars := map[string]string{"history": renderHistory(visible)}
	if view.HistorySummary != "" {
		name = prompt.CompactionExtend
		vars["summary"] = view.HistorySummary
	}
	spec, err := prompt.Get(name)
	if err != nil {
		return types.Update{}, err
	}
	text, err := prompt.Render(spec.User, vars)
	if err != nil {
		return types.Update{}, fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	summary, err := llm.GenerateText(ctx, c.provider, types.Request{
		Model:        c.opts.model,
		SystemPrompt: spec.System,
		Messages:     []types.PromptMessage{{Role: types.RoleUser, Content: text}},
		Temperature:  spec.Temperature,
	})
	if err != nil {
		return types.Update{}, fmt.Errorf("compaction: %w", err)
	}

	tombstones := make([]string, 0, len(visible)-c.keep)
	for _, m := range visible[:len(visible)-c.keep] {
		tombstones = append(tombstones, m.ID)
	}
	c.store(ctx, view, summary)
	c.opts.logger.Debug("history compacted",
		zap.String("thread_id", view.ThreadID),
		zap.Int("removed", len(tombstones)),
	)
	return types.Update{HistorySummary: types.String(summary), Tombstones: tombstones}, nil
}

// store keeps the summary in long-term memory. The checkpoint already holds
// it, so a failed write is only logged.
func (c *Compactor) store(ctx context.Context, view types.TurnState, summary string) {
	if c.kv == nil || view.UserID == "" {
		return
	}
	raw, err := json.Marshal(Summary{ThreadID: view.ThreadID, Summary: summary, UpdatedAt: time.Now().UTC()})
	if err == nil {
		err = c.kv.Put(ctx, SummaryNamespace(view.UserID), view.ThreadID, raw)
	}
	if err != nil {
		c.opts.logger.Warn("failed to store conversation summary", zap.String("thread_id", view.ThreadID), zap.Error(err))
	}
}

func renderHistory(msgs []types.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Body))
	}
	return strings.Join(lines, "\n")
}
