// Package stages implements the nodes of a coaching turn: context loading,
// routing, the specialized handlers and history compaction.
package stages

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/observe"
	"github.com/PipeOpsHQ/coachflow/prompt"
	"github.com/PipeOpsHQ/coachflow/toolproc"
	"github.com/PipeOpsHQ/coachflow/types"
)

type options struct {
	logger      *zap.Logger
	observer    observe.Sink
	model       string
	codeTimeout time.Duration
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithObserver(observer observe.Sink) Option {
	return func(o *options) { o.observer = observer }
}

// WithModel overrides the provider's default model for every request.
func WithModel(model string) Option {
	return func(o *options) { o.model = strings.TrimSpace(model) }
}

// WithCodeTimeout bounds each code execution of the analytics stage. The
// tool client caps it at toolproc.MaxExecTimeout.
func WithCodeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.codeTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:      zap.NewNop(),
		observer:    observe.NoopSink{},
		codeTimeout: toolproc.DefaultExecTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// StageHistory returns the conversation a stage sees: every user message
// plus the agent messages the stage wrote itself. Tombstoned messages are
// skipped.
func StageHistory(msgs []types.Message, stage types.Stage) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Removed {
			continue
		}
		if m.Role == types.MessageRoleUser || m.OriginStage == stage {
			out = append(out, m)
		}
	}
	return out
}

// promptHistory converts history into model messages, dropping the trailing
// user message of the current turn since the prompt template carries it.
func promptHistory(history []types.Message, input string) []types.PromptMessage {
	if n := len(history); n > 0 && history[n-1].Role == types.MessageRoleUser && history[n-1].Body == input {
		history = history[:n-1]
	}
	out := make([]types.PromptMessage, 0, len(history))
	for _, m := range history {
		role := types.RoleUser
		if m.Role == types.MessageRoleAgent {
			role = types.RoleAssistant
		}
		out = append(out, types.PromptMessage{Role: role, Content: m.Body})
	}
	return out
}

// buildRequest renders spec into a model request for stage.
func buildRequest(spec prompt.Spec, o options, view types.TurnState, stage types.Stage, vars map[string]string) (types.Request, error) {
	user, err := prompt.Render(spec.User, vars)
	if err != nil {
		return types.Request{}, fmt.Errorf("failed to render %s prompt: %w", spec.Name, err)
	}
	system := spec.System
	if view.HistorySummary != "" {
		system += "\n\nSummary of the earlier conversation:\n" + view.HistorySummary
	}
	messages := promptHistory(StageHistory(view.MessageHistory, stage), view.RawInput)
	messages = append(messages, types.PromptMessage{Role: types.RoleUser, Content: user})
	return types.Request{
		Model:        o.model,
		SystemPrompt: system,
		Messages:     messages,
		Temperature:  spec.Temperature,
	}, nil
}

func taskContext(c types.LoadedContext) string {
	if c.Task != nil {
		return describeTask(*c.Task)
	}
	if len(c.Tasks) > 0 {
		return tasksContext(c.Tasks)
	}
	return "No task provided"
}

func describeTask(t types.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	fmt.Fprintf(&b, "Description: %s\n", orNone(t.Description))
	fmt.Fprintf(&b, "Priority: %s\n", orNone(t.Priority))
	fmt.Fprintf(&b, "Status: %s\n", completion(t.Completed))
	if t.Stage != "" {
		fmt.Fprintf(&b, "Stage: %s\n", t.Stage)
	}
	deadline := t.Deadline
	if deadline == "" {
		deadline = t.DueDate
	}
	fmt.Fprintf(&b, "Deadline: %s", orNone(deadline))
	if len(t.Children) > 0 {
		fmt.Fprintf(&b, "\nSubtasks: %d", len(t.Children))
		for _, c := range t.Children {
			fmt.Fprintf(&b, "\n- %s (%s)", c.Title, completion(c.Completed))
		}
	}
	return b.String()
}

func tasksContext(tasks []types.Task) string {
	if len(tasks) == 0 {
		return "No tasks available"
	}
	parts := make([]string, 0, len(tasks))
	for i, t := range tasks {
		parts = append(parts, fmt.Sprintf("Task %d: %s\nStatus: %s\nPriority: %s\nStage: %s",
			i+1, t.Title, completion(t.Completed), orNone(t.Priority), orNone(t.Stage)))
	}
	return fmt.Sprintf("User has %d tasks.\n", len(tasks)) + strings.Join(parts, "\n\n")
}

func userContext(u *types.UserProfile) string {
	if u == nil || u.PsychProfile == nil {
		return "No user profile available"
	}
	p := u.PsychProfile
	out := fmt.Sprintf("Productivity Time: %s\nTask Approach: %s\nDifficulty Preference: %s",
		orNone(p.ProductivityTime), orNone(p.TaskApproach), orNone(p.DifficultyPreference))
	if p.Coach != nil {
		out += fmt.Sprintf("\nCoach: %s", p.Coach.Name)
		if p.Coach.CoachingStyle != "" {
			out += fmt.Sprintf(" (%s)", p.Coach.CoachingStyle)
		}
	}
	return out
}

func completion(done bool) string {
	if done {
		return "Completed"
	}
	return "Not Completed"
}

func orNone(v string) string {
	if strings.TrimSpace(v) == "" {
		return "None"
	}
	return v
}

// formatInstructions tells the model which JSON shape to answer with.
func formatInstructions(schema map[string]any) string {
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "Respond with a JSON object."
	}
	return "Respond with a JSON object that matches this JSON schema:\n```json\n" + string(raw) + "\n```"
}
