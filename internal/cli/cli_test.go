package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/coachflow/graph"
	"github.com/PipeOpsHQ/coachflow/llm"
	"github.com/PipeOpsHQ/coachflow/llm/llmtest"
	"github.com/PipeOpsHQ/coachflow/prompt"
	providerfactory "github.com/PipeOpsHQ/coachflow/providers/factory"
	"github.com/PipeOpsHQ/coachflow/types"
)

const planningAnswer = `{"actions":[{"type":"createSubtasks","payload":{"taskId":"t1","subtasks":["outline"]}}],"reasoning":"start small","response":"Here is your plan."}`

// setupEnv points the config at an empty working directory with a SQLite
// store and no tool process.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("TOOL_PROCESS_COMMAND", "")
	t.Setenv("COACHFLOW_STATE_BACKEND", "sqlite")
	t.Setenv("COACHFLOW_STATE_SQLITE_PATH", filepath.Join(dir, "state.db"))
	t.Setenv("COACHFLOW_ACTIONS_MODE", "discard")
	t.Setenv("COACHFLOW_PROMPTS_DIR", filepath.Join(dir, "prompts"))
	t.Setenv("COACHFLOW_EVENTS_PATH", filepath.Join(dir, "events.db"))
	t.Setenv("COACHFLOW_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, provider llm.Provider, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newApp()
	a.out = &out
	a.newProvider = func(context.Context, providerfactory.Settings) (llm.Provider, error) {
		return provider, nil
	}
	root := a.command()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTurnAndHistory(t *testing.T) {
	setupEnv(t)
	provider := llmtest.BySchema(map[string]string{"": "planning", "planning": planningAnswer})

	out, err := run(t, provider, "turn", "--user", "u1", "--token", "secret", "plan", "my", "week")
	require.NoError(t, err)
	assert.Equal(t, "Here is your plan.\n", out)

	calls := provider.Calls()
	require.NotEmpty(t, calls)
	assert.Contains(t, calls[0].Messages[len(calls[0].Messages)-1].Content, "plan my week")

	out, err = run(t, provider, "history", "--user", "u1", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, "(done)")
	assert.Contains(t, out, "Here is your plan.")

	out, err = run(t, provider, "events", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "planning")
	assert.Contains(t, out, "checkpoint")

	out, err = run(t, provider, "events", "--metrics")
	require.NoError(t, err)
	assert.Regexp(t, `turns completed\s+1`, out)
}

func TestTurn_PrintsStateWithoutToken(t *testing.T) {
	setupEnv(t)
	provider := llmtest.BySchema(map[string]string{"": "planning", "planning": planningAnswer})

	out, err := run(t, provider, "turn", "-u", "u1", "--thread", "t-1", "--token", "secret", "--state", "hello")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret")

	var final types.TurnState
	require.NoError(t, json.Unmarshal([]byte(out), &final))
	assert.Equal(t, "t-1", final.ThreadID)
	assert.Equal(t, types.StagePlanning, final.RoutedStage)
	assert.Equal(t, "Here is your plan.", final.FinalResponse)
	assert.Empty(t, final.PendingActions)
	require.Len(t, final.DispatchedActions, 1)
	assert.Equal(t, types.ActionCreateSubtasks, final.DispatchedActions[0].Kind)
}

func TestTurn_ModelFailureAnswersWithApology(t *testing.T) {
	setupEnv(t)
	provider := llmtest.BySchema(map[string]string{"": "planning"})

	// Planning and the task creation fallback both fail.
	out, err := run(t, provider, "turn", "-u", "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, graph.Apology+"\n", out)
}

func TestTurn_RequiresUser(t *testing.T) {
	setupEnv(t)
	_, err := run(t, llmtest.BySchema(nil), "turn", "hello")
	require.ErrorContains(t, err, "user")
}

func TestTools_RequiresToolProcess(t *testing.T) {
	setupEnv(t)
	_, err := run(t, llmtest.BySchema(nil), "tools")
	require.ErrorIs(t, err, errToolsDisabled)
}

func TestOutbox_RequiresOutboxMode(t *testing.T) {
	setupEnv(t)
	_, err := run(t, llmtest.BySchema(nil), "outbox")
	require.ErrorContains(t, err, "does not publish")
}

func TestPrompts_ListsBuiltinsAndOverrides(t *testing.T) {
	dir := setupEnv(t)
	override := `{"name":"planning","version":"v9","description":"shorter plans","system":"You are a planning coach who keeps plans short."}`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prompts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts", "planning.json"), []byte(override), 0o600))
	t.Cleanup(func() { prompt.Delete("planning@v9") })

	out, err := run(t, llmtest.BySchema(nil), "prompts")
	require.NoError(t, err)
	assert.Contains(t, out, "supervisor")
	assert.Contains(t, out, "shorter plans")

	out, err = run(t, llmtest.BySchema(nil), "prompts", "show", "planning@v9")
	require.NoError(t, err)
	assert.Contains(t, out, "# planning@v9")
	assert.Contains(t, out, "keeps plans short")
}

func TestValidatePrompt(t *testing.T) {
	assert.Len(t, validatePrompt(promptSpec("hi", "static")), 2)
	assert.Empty(t, validatePrompt(promptSpec("You are a careful coach.", "User request: {{input}}")))
}

func promptSpec(system, user string) prompt.Spec {
	return prompt.Spec{Name: "custom", Version: "v1", System: system, User: user}
}
