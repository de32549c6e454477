package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/coachflow/state"
	"github.com/PipeOpsHQ/coachflow/state/memory"
	"github.com/PipeOpsHQ/coachflow/toolproc"
)

// scriptedCaller answers tool calls from a fixed table of JSON results.
type scriptedCaller struct {
	mu      sync.Mutex
	results map[string]string
	calls   map[string]int
}

func (s *scriptedCaller) CallTool(_ context.Context, name string, args map[string]any, token string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[name]++
	result, ok := s.results[name]
	if !ok {
		return nil, &toolproc.ToolError{Tool: name, Message: "unknown tool"}
	}
	return json.RawMessage(result), nil
}

func (s *scriptedCaller) ExecuteCode(context.Context, string, string, toolproc.Language, time.Duration) (json.RawMessage, error) {
	return nil, fmt.Errorf("not scripted")
}

func (s *scriptedCaller) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func profileCaller() *scriptedCaller {
	return &scriptedCaller{results: map[string]string{
		"getUserProfile":  `{"success":true,"data":{"id":"u1","email":"ada@example.com","name":"Ada"}}`,
		"getPsychProfile": `{"success":true,"data":{"id":"p1","userId":"u1","productivityTime":"morning"}}`,
		"getUserSettings": `{"success":true,"data":{"id":"s1","userId":"u1","theme":"dark"}}`,
		"getTask":         `{"success":true,"data":{"id":"t1","title":"Write report","priority":"high"}}`,
		"getTasks":        `{"success":true,"data":[{"id":"t1","title":"Write report"},{"id":"t2","title":"Run"}]}`,
	}}
}

func TestToolLoader_LoadUserMergesSections(t *testing.T) {
	l := NewToolLoader(toolproc.NewTools(profileCaller()))

	user, err := l.LoadUser(context.Background(), "u1", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)
	require.NotNil(t, user.PsychProfile)
	assert.Equal(t, "morning", user.PsychProfile.ProductivityTime)
	require.NotNil(t, user.Settings)
	assert.Equal(t, "dark", user.Settings.Theme)
}

func TestToolLoader_LoadUserFailsWhenAnySectionFails(t *testing.T) {
	caller := profileCaller()
	delete(caller.results, "getUserSettings")
	l := NewToolLoader(toolproc.NewTools(caller))

	_, err := l.LoadUser(context.Background(), "u1", "tok")
	var toolErr *toolproc.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "getUserSettings", toolErr.Tool)
}

func TestToolLoader_Tasks(t *testing.T) {
	l := NewToolLoader(toolproc.NewTools(profileCaller()))
	ctx := context.Background()

	task, err := l.LoadTask(ctx, "u1", "tok", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Write report", task.Title)

	tasks, err := l.LoadTasks(ctx, "u1", "tok")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestCachedLoader_ServesProfileFromStore(t *testing.T) {
	caller := profileCaller()
	kv := memory.New()
	l := NewCachedLoader(NewToolLoader(toolproc.NewTools(caller)), kv)
	ctx := context.Background()

	first, err := l.LoadUser(ctx, "u1", "tok")
	require.NoError(t, err)
	second, err := l.LoadUser(ctx, "u1", "tok")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, caller.count("getUserProfile"))

	_, err = kv.Get(ctx, []string{"profiles"}, "u1")
	require.NoError(t, err)

	// Tasks always go to the tool process.
	_, err = l.LoadTasks(ctx, "u1", "tok")
	require.NoError(t, err)
	_, err = l.LoadTasks(ctx, "u1", "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, caller.count("getTasks"))
}

func TestCachedLoader_ExpiredEntryIsRefreshed(t *testing.T) {
	caller := profileCaller()
	l := NewCachedLoader(NewToolLoader(toolproc.NewTools(caller)), memory.New(), WithTTL(time.Minute))
	ctx := context.Background()

	_, err := l.LoadUser(ctx, "u1", "tok")
	require.NoError(t, err)
	l.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = l.LoadUser(ctx, "u1", "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, caller.count("getUserProfile"))

	require.NoError(t, l.Invalidate(ctx, "u1"))
}

// brokenKV fails every operation.
type brokenKV struct{ state.KV }

func (brokenKV) Get(context.Context, []string, string) (state.Entry, error) {
	return state.Entry{}, errors.New("disk full")
}

func (brokenKV) Put(context.Context, []string, string, json.RawMessage) error {
	return errors.New("disk full")
}

func TestCachedLoader_CacheFailuresAreIgnored(t *testing.T) {
	l := NewCachedLoader(NewToolLoader(toolproc.NewTools(profileCaller())), brokenKV{})

	user, err := l.LoadUser(context.Background(), "u1", "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

var _ Loader = (*CachedLoader)(nil)
var _ Loader = (*ToolLoader)(nil)
