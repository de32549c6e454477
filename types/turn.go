package types

import (
	"time"

	"github.com/google/uuid"
)

type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleAgent MessageRole = "agent"
)

// Sub-roles attached to agent messages.
const (
	SubRoleResponse        = "response"
	SubRoleReasoning       = "reasoning"
	SubRoleInsights        = "insights"
	SubRoleRecommendations = "recommendations"
	SubRoleMotivation      = "motivation"
	SubRoleStrategy        = "strategy"
)

// Message is an entry of the append-only conversation log. Compaction marks
// messages as removed instead of deleting them.
type Message struct {
	ID           string      `json:"id"`
	Role         MessageRole `json:"role"`
	Body         string      `json:"body"`
	OriginStage  Stage       `json:"originStage,omitempty"`
	SubRole      string      `json:"subRole,omitempty"`
	CreatedOrder int64       `json:"createdOrder"`
	Removed      bool        `json:"removed,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

func NewUserMessage(body string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      MessageRoleUser,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}

func NewAgentMessage(stage Stage, subRole, body string) Message {
	return Message{
		ID:          uuid.NewString(),
		Role:        MessageRoleAgent,
		Body:        body,
		OriginStage: stage,
		SubRole:     subRole,
		CreatedAt:   time.Now().UTC(),
	}
}

// TurnState is threaded through every stage of one user turn.
type TurnState struct {
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId"`
	RawInput string `json:"rawInput"`
	// AuthToken is never persisted; a resumed turn takes it from the new request.
	AuthToken      string        `json:"-"`
	Context        LoadedContext `json:"loadedContext"`
	MessageHistory []Message     `json:"messageHistory"`
	HistorySummary string        `json:"historySummary,omitempty"`
	// ActiveStage is the next stage to run; StageNone once the turn is terminal.
	ActiveStage Stage `json:"activeStage"`
	// RoutedStage is the specialized stage chosen by the supervisor.
	RoutedStage       Stage        `json:"routedStage,omitempty"`
	PendingActions    []ActionItem `json:"pendingActions,omitempty"`
	DispatchedActions []ActionItem `json:"dispatchedActions,omitempty"`
	FinalResponse     string       `json:"finalResponse,omitempty"`
	LastError         string       `json:"lastError,omitempty"`
}

// Terminal reports whether the turn has finished.
func (s *TurnState) Terminal() bool {
	return s.ActiveStage == StageNone
}

// VisibleMessages returns the messages that have not been tombstoned.
func (s *TurnState) VisibleMessages() []Message {
	out := make([]Message, 0, len(s.MessageHistory))
	for _, m := range s.MessageHistory {
		if !m.Removed {
			out = append(out, m)
		}
	}
	return out
}

// View returns a copy that a stage may read without affecting the owner.
func (s *TurnState) View() TurnState {
	c := *s
	c.MessageHistory = append([]Message(nil), s.MessageHistory...)
	c.PendingActions = append([]ActionItem(nil), s.PendingActions...)
	c.DispatchedActions = append([]ActionItem(nil), s.DispatchedActions...)
	c.Context.Tasks = append([]Task(nil), s.Context.Tasks...)
	return c
}

// Update is the partial result of one stage. Nil pointers leave the
// corresponding field untouched.
type Update struct {
	RoutedStage    *Stage
	User           *UserProfile
	Task           *Task
	Tasks          []Task
	TasksLoaded    bool
	Messages       []Message
	Tombstones     []string
	HistorySummary *string
	Actions        []ActionItem
	FinalResponse  *string
	LastError      *string
}

// Apply merges u into s. History is only ever appended to; tombstones mark
// existing messages removed.
func (s *TurnState) Apply(u Update) {
	if u.RoutedStage != nil {
		s.RoutedStage = *u.RoutedStage
	}
	if u.User != nil {
		s.Context.User = u.User
	}
	if u.Task != nil {
		s.Context.Task = u.Task
	}
	if u.TasksLoaded {
		s.Context.Tasks = append([]Task(nil), u.Tasks...)
		s.Context.TasksLoaded = true
	}
	s.AppendMessages(u.Messages...)
	if len(u.Tombstones) > 0 {
		removed := make(map[string]struct{}, len(u.Tombstones))
		for _, id := range u.Tombstones {
			removed[id] = struct{}{}
		}
		for i := range s.MessageHistory {
			if _, ok := removed[s.MessageHistory[i].ID]; ok {
				s.MessageHistory[i].Removed = true
			}
		}
	}
	if u.HistorySummary != nil {
		s.HistorySummary = *u.HistorySummary
	}
	s.PendingActions = append(s.PendingActions, FilterActions(u.Actions)...)
	if u.FinalResponse != nil {
		s.FinalResponse = *u.FinalResponse
	}
	if u.LastError != nil {
		s.LastError = *u.LastError
	}
}

// AppendMessages assigns ids and monotonic order numbers and appends.
func (s *TurnState) AppendMessages(msgs ...Message) {
	next := int64(1)
	if n := len(s.MessageHistory); n > 0 {
		next = s.MessageHistory[n-1].CreatedOrder + 1
	}
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		m.CreatedOrder = next
		m.Removed = false
		next++
		s.MessageHistory = append(s.MessageHistory, m)
	}
}

// String helper for Update pointer fields.
func String(v string) *string {
	return &v
}

// StagePtr helper for Update.RoutedStage.
func StagePtr(v Stage) *Stage {
	return &v
}
