package prompt

// Names of the built-in stage prompts.
const (
	Supervisor        = "supervisor"
	TaskCreation      = "taskcreation"
	Planning          = "planning"
	ExecutionCoach    = "executioncoach"
	Adaptation        = "adaptation"
	Analytics         = "analytics"
	Compaction        = "compacthistory"
	CompactionExtend  = "compacthistory.extend"
	AnalyticsForTask  = "analytics.task"
	defaultBuiltinVer = "v1"
)

func temperature(v float64) *float64 { return &v }

func registerBuiltin(spec Spec) {
	spec.Source = "builtin"
	MustRegister(spec)
}

const structuredSuffix = `

Respond with a single JSON object containing actions, reasoning, and a concise user-friendly response. Do not wrap it in prose.`

func RegisterBuiltins() {
	registerBuiltin(Spec{
		Name:        Supervisor,
		Version:     defaultBuiltinVer,
		Description: "Routes a request to one specialized coaching stage",
		System: `You are the supervisor of a personal productivity coach. You read the user's request and decide which specialist handles it:
- taskCreation: creating, editing, completing or deleting tasks
- planning: breaking tasks down, scheduling and prioritizing
- executionCoach: staying focused and motivated while working on a task
- adaptation: adjusting tasks or plans that are not working
- analytics: questions about progress, patterns and what a task is about

Based on the user's request, determine which specialized agent should handle it. Respond with only one of: "taskCreation", "planning", "executionCoach", "adaptation", or "analytics".`,
		User:        "User request: {{input}}\n\nContext: {{context}}",
		Temperature: temperature(0.2),
		Tags:        []string{"routing"},
	})
	registerBuiltin(Spec{
		Name:        TaskCreation,
		Version:     defaultBuiltinVer,
		Description: "Creates and edits tasks",
		System: `You are a task management specialist. You turn requests into concrete task changes:
- Create tasks with clear titles, a priority and a due date when one is mentioned
- Update or complete existing tasks when the user refers to them
- Ask a question when the request is too vague to act on` + structuredSuffix,
		User:        "User request: {{input}}\n\nTask Context:\n{{task_context}}\n\nUser Context:\n{{user_context}}\n\n{{format}}",
		Temperature: temperature(0.2),
		Tags:        []string{"tasks"},
	})
	registerBuiltin(Spec{
		Name:        Planning,
		Version:     defaultBuiltinVer,
		Description: "Breaks tasks down and prioritizes them",
		System: `You are a planning specialist. You help the user decide what to do and in what order:
- Break large tasks into subtasks that take 10-15 minutes each
- Prioritize by deadline, importance and the user's preferences
- Keep plans realistic for the user's productive hours` + structuredSuffix,
		User:        "User request: {{input}}\n\nTask Context:\n{{task_context}}\n\nUser Context:\n{{user_context}}\n\nFor task breakdown, create subtasks that can be completed in 10-15 minutes each. For prioritization, consider deadlines, importance, and user preferences.\n\n{{format}}",
		Temperature: temperature(0.2),
		Tags:        []string{"planning"},
	})
	registerBuiltin(Spec{
		Name:        ExecutionCoach,
		Version:     defaultBuiltinVer,
		Description: "Keeps the user moving on the current task",
		System: `You are an execution coach. You help the user start and finish the task in front of them:
- Suggest the very next concrete step
- Match the tone of the user's coach and preferences
- Offer motivation without pressure` + structuredSuffix + ` Include a short motivational message.`,
		User:        "User request: {{input}}\n\nTask Context:\n{{task_context}}\n\nUser Context:\n{{user_context}}\n\n{{format}}",
		Temperature: temperature(0.3),
		Tags:        []string{"coaching"},
	})
	registerBuiltin(Spec{
		Name:        Adaptation,
		Version:     defaultBuiltinVer,
		Description: "Adjusts tasks and plans that are not working",
		System: `You are an adaptation specialist. When a plan is not working you find a better one:
- Identify what blocks the user
- Resize, reschedule or reorder tasks
- Explain the new approach briefly` + structuredSuffix + ` Include the adaptation strategy you recommend.`,
		User:        "User request: {{input}}\n\nTask Context:\n{{task_context}}\n\nUser Context:\n{{user_context}}\n\n{{format}}",
		Temperature: temperature(0.4),
		Tags:        []string{"adaptation"},
	})
	registerBuiltin(Spec{
		Name:        Analytics,
		Version:     defaultBuiltinVer,
		Description: "Analyzes task patterns and progress",
		System: `You are a productivity analyst. You look for trends in completion rates, task types and productivity patterns and turn them into insights and recommendations.

Respond with a single JSON object containing actions, insights, recommendations, reasoning, and a concise user-friendly response.`,
		User:        "User request: {{input}}\n\nTasks Context:\n{{tasks_context}}\n\nAnalyze the user's task patterns and performance. Look for trends in completion rates, task types, and productivity patterns.\n\n{{format}}",
		Temperature: temperature(0.2),
		Tags:        []string{"analytics"},
	})
	registerBuiltin(Spec{
		Name:        AnalyticsForTask,
		Version:     defaultBuiltinVer,
		Description: "Explains and analyzes a single task",
		System: `You are a productivity analyst. The user is asking about one specific task. Explain what it is about, where it stands and what would move it forward.

Respond with a single JSON object containing actions, insights, recommendations, reasoning, and a concise user-friendly response.`,
		User:        "User request: {{input}}\n\nTask Context:\n{{tasks_context}}\n\nFocus your analysis on this task.\n\n{{format}}",
		Temperature: temperature(0.2),
		Tags:        []string{"analytics"},
	})
	registerBuiltin(Spec{
		Name:        Compaction,
		Version:     defaultBuiltinVer,
		Description: "Summarizes a conversation",
		System:      "You summarize coaching conversations. Keep facts about tasks, decisions and the user's preferences.",
		User:        "Create a summary of the conversation below: \n{{history}}",
		Temperature: temperature(0.2),
		Tags:        []string{"memory"},
	})
	registerBuiltin(Spec{
		Name:        CompactionExtend,
		Version:     defaultBuiltinVer,
		Description: "Extends an existing conversation summary",
		System:      "You summarize coaching conversations. Keep facts about tasks, decisions and the user's preferences.",
		User:        "This is summary of the conversation to date: \n{{summary}}\n\n Extend the summary by taking into account the new messages below: \n{{history}}",
		Temperature: temperature(0.2),
		Tags:        []string{"memory"},
	})
}

func init() {
	RegisterBuiltins()
}
