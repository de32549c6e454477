package types

import "fmt"

// Stage identifies a processing node. The set is closed: routing only ever
// produces one of the constants below.
type Stage uint8

const (
	// StageNone marks a terminal turn.
	StageNone Stage = iota
	StageLoadContext
	StageSupervisor
	StageLoadTasks
	StageTaskCreation
	StagePlanning
	StageExecutionCoach
	StageAdaptation
	StageAnalytics
	StageCompaction

	stageCount
)

var stageNames = [...]string{
	StageNone:           "",
	StageLoadContext:    "loadContext",
	StageSupervisor:     "supervisor",
	StageLoadTasks:      "loadTasks",
	StageTaskCreation:   "taskCreation",
	StagePlanning:       "planning",
	StageExecutionCoach: "executionCoach",
	StageAdaptation:     "adaptation",
	StageAnalytics:      "analytics",
	StageCompaction:     "compactHistory",
}

// SpecializedStages are the handlers the supervisor may route to, in
// default-first order.
var SpecializedStages = []Stage{
	StageTaskCreation,
	StagePlanning,
	StageExecutionCoach,
	StageAdaptation,
	StageAnalytics,
}

// StageCount is the number of non-terminal stages.
const StageCount = int(stageCount) - 1

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

func (s Stage) Valid() bool {
	return s > StageNone && s < stageCount
}

func (s Stage) IsSpecialized() bool {
	return s >= StageTaskCreation && s <= StageAnalytics
}

// ParseStage resolves a stage name. The empty string is StageNone.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StageNone, fmt.Errorf("unknown stage %q", name)
}

func (s Stage) MarshalText() ([]byte, error) {
	if s != StageNone && !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
