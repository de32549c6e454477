package types

type Coach struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	CoachingStyle      string `json:"coachingStyle,omitempty"`
	Directness         *int   `json:"directness,omitempty"`
	EncouragementLevel *int   `json:"encouragementLevel,omitempty"`
}

type PsychProfile struct {
	ID                   string `json:"id"`
	UserID               string `json:"userId"`
	ProductivityTime     string `json:"productivityTime,omitempty"`
	TaskApproach         string `json:"taskApproach,omitempty"`
	DifficultyPreference string `json:"difficultyPreference,omitempty"`
	Coach                *Coach `json:"coach,omitempty"`
}

type Settings struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	Theme         string `json:"theme,omitempty"`
	Notifications *bool  `json:"notifications,omitempty"`
}

type UserProfile struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	Name         string        `json:"name,omitempty"`
	PsychProfile *PsychProfile `json:"psychProfile,omitempty"`
	Settings     *Settings     `json:"settings,omitempty"`
}

type Task struct {
	ID               string `json:"id"`
	UserID           string `json:"userId"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	Priority         string `json:"priority"`
	Stage            string `json:"stage,omitempty"`
	StageStatus      string `json:"stageStatus,omitempty"`
	Completed        bool   `json:"completed"`
	Deadline         string `json:"deadline,omitempty"`
	Date             string `json:"date,omitempty"`
	DueDate          string `json:"dueDate,omitempty"`
	EstimatedMinutes *int   `json:"estimatedMinutes,omitempty"`
	ParentID         string `json:"parentId,omitempty"`
	Children         []Task `json:"children,omitempty"`
}

// LoadedContext is the read-only snapshot fetched by the context loader
// before routing.
type LoadedContext struct {
	TaskID      string       `json:"taskId,omitempty"`
	User        *UserProfile `json:"user,omitempty"`
	Task        *Task        `json:"task,omitempty"`
	Tasks       []Task       `json:"tasks,omitempty"`
	TasksLoaded bool         `json:"tasksLoaded,omitempty"`
}
