package types

import "encoding/json"

type ActionKind string

const (
	ActionCreateTask        ActionKind = "createTask"
	ActionUpdateTask        ActionKind = "updateTask"
	ActionUpdateManyTasks   ActionKind = "updateManyTasks"
	ActionCreateSubtasks    ActionKind = "createSubtasks"
	ActionSearchTasks       ActionKind = "searchTasks"
	ActionLogActivity       ActionKind = "logActivity"
	ActionScheduleReminder  ActionKind = "scheduleReminder"
	ActionProvideMotivation ActionKind = "provideMotivation"
	ActionGiveAdvice        ActionKind = "giveAdvice"
	ActionAskQuestion       ActionKind = "askQuestion"
	ActionNone              ActionKind = "none"
)

// ActionKinds lists every kind the engine understands.
var ActionKinds = []ActionKind{
	ActionCreateTask,
	ActionUpdateTask,
	ActionUpdateManyTasks,
	ActionCreateSubtasks,
	ActionSearchTasks,
	ActionLogActivity,
	ActionScheduleReminder,
	ActionProvideMotivation,
	ActionGiveAdvice,
	ActionAskQuestion,
	ActionNone,
}

var knownActionKinds = func() map[ActionKind]struct{} {
	m := make(map[ActionKind]struct{}, len(ActionKinds))
	for _, k := range ActionKinds {
		m[k] = struct{}{}
	}
	return m
}()

func (k ActionKind) Known() bool {
	_, ok := knownActionKinds[k]
	return ok
}

// ActionItem is a mutation requested by a stage. The payload is opaque to
// the engine and is only ever a JSON object or null.
type ActionItem struct {
	Kind    ActionKind      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// FilterActions drops no-op and unknown kinds and normalizes payloads that
// are not JSON objects to null.
func FilterActions(items []ActionItem) []ActionItem {
	out := make([]ActionItem, 0, len(items))
	for _, item := range items {
		if item.Kind == ActionNone || !item.Kind.Known() {
			continue
		}
		if !isJSONObject(item.Payload) {
			item.Payload = nil
		}
		out = append(out, item)
	}
	return out
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return json.Valid(raw)
		default:
			return false
		}
	}
	return false
}
