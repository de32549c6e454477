package graph

import (
	"encoding/json"
	"fmt"

	"github.com/PipeOpsHQ/coachflow/types"
)

func snapshot(s types.TurnState) (json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint snapshot: %w", err)
	}
	return raw, nil
}

// DecodeSnapshot restores a turn state from a checkpoint payload. The auth
// token is never part of a snapshot.
func DecodeSnapshot(raw json.RawMessage) (types.TurnState, error) {
	if len(raw) == 0 {
		return types.TurnState{}, fmt.Errorf("checkpoint state is empty")
	}
	var s types.TurnState
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.TurnState{}, fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	return s, nil
}

// resumable reports whether saved is an unfinished run of the same request.
func resumable(saved, initial types.TurnState) bool {
	if saved.Terminal() {
		return false
	}
	return saved.RawInput == initial.RawInput && saved.UserID == initial.UserID
}

// overlay copies the request-scoped fields of initial onto a resumed state.
func overlay(saved, initial types.TurnState) types.TurnState {
	saved.AuthToken = initial.AuthToken
	if initial.UserID != "" {
		saved.UserID = initial.UserID
	}
	if initial.Context.TaskID != "" {
		saved.Context.TaskID = initial.Context.TaskID
	}
	if initial.Context.User != nil {
		saved.Context.User = initial.Context.User
	}
	if initial.Context.Task != nil {
		saved.Context.Task = initial.Context.Task
	}
	if initial.Context.TasksLoaded {
		saved.Context.Tasks = initial.Context.Tasks
		saved.Context.TasksLoaded = true
	}
	return saved
}

// nextTurn starts a new turn on top of a previous one, keeping only the
// conversation log and its summary.
func nextTurn(prev, initial types.TurnState, entry types.Stage) types.TurnState {
	s := initial
	s.ActiveStage = entry
	s.RoutedStage = types.StageNone
	s.PendingActions = nil
	s.DispatchedActions = nil
	s.FinalResponse = ""
	s.LastError = ""
	s.MessageHistory = append([]types.Message(nil), prev.MessageHistory...)
	s.AppendMessages(initial.MessageHistory...)
	if s.HistorySummary == "" {
		s.HistorySummary = prev.HistorySummary
	}
	s.AppendMessages(types.NewUserMessage(initial.RawInput))
	return s
}
