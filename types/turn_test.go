package types

import (
	"encoding/json"
	"testing"
)

func TestFilterActions_DropsNoneAndNormalizesPayload(t *testing.T) {
	in := []ActionItem{
		{Kind: ActionNone},
		{Kind: ActionCreateTask, Payload: json.RawMessage(`{"title":"write report"}`)},
		{Kind: ActionLogActivity, Payload: json.RawMessage(`"not an object"`)},
		{Kind: ActionKind("dance")},
		{Kind: ActionNone, Payload: json.RawMessage(`{}`)},
	}

	out := FilterActions(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 actions, got %d: %#v", len(out), out)
	}
	if out[0].Kind != ActionCreateTask || string(out[0].Payload) != `{"title":"write report"}` {
		t.Fatalf("unexpected first action: %#v", out[0])
	}
	if out[1].Kind != ActionLogActivity || out[1].Payload != nil {
		t.Fatalf("expected non-object payload to become nil, got %#v", out[1])
	}
}

func TestApply_AppendsHistoryAndTombstones(t *testing.T) {
	s := TurnState{ThreadID: "t1"}
	s.AppendMessages(NewUserMessage("hi"), NewAgentMessage(StagePlanning, SubRoleResponse, "hello"))

	first := s.MessageHistory[0].ID
	s.Apply(Update{
		Messages:   []Message{NewAgentMessage(StagePlanning, SubRoleReasoning, "because")},
		Tombstones: []string{first},
		Actions:    []ActionItem{{Kind: ActionNone}, {Kind: ActionGiveAdvice}},
	})

	if len(s.MessageHistory) != 3 {
		t.Fatalf("expected history to be appended, got %d", len(s.MessageHistory))
	}
	for i, m := range s.MessageHistory {
		if m.CreatedOrder != int64(i+1) {
			t.Fatalf("message %d has order %d", i, m.CreatedOrder)
		}
	}
	if !s.MessageHistory[0].Removed {
		t.Fatalf("expected first message to be tombstoned")
	}
	if got := len(s.VisibleMessages()); got != 2 {
		t.Fatalf("expected 2 visible messages, got %d", got)
	}
	if len(s.PendingActions) != 1 || s.PendingActions[0].Kind != ActionGiveAdvice {
		t.Fatalf("unexpected pending actions: %#v", s.PendingActions)
	}
}

func TestTurnState_JSONOmitsAuthToken(t *testing.T) {
	s := TurnState{ThreadID: "t1", AuthToken: "secret", ActiveStage: StageAnalytics}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded TurnState
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.AuthToken != "" {
		t.Fatalf("auth token leaked into snapshot")
	}
	if decoded.ActiveStage != StageAnalytics {
		t.Fatalf("expected analytics stage, got %v", decoded.ActiveStage)
	}
}

func TestParseStage_RejectsUnknown(t *testing.T) {
	if _, err := ParseStage("sleeping"); err == nil {
		t.Fatalf("expected error for unknown stage")
	}
	s, err := ParseStage("")
	if err != nil || s != StageNone {
		t.Fatalf("expected empty name to parse as StageNone, got %v %v", s, err)
	}
	if StageCount != 9 {
		t.Fatalf("unexpected stage count %d", StageCount)
	}
}
