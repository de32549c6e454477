package toolproc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	name  string
	args  map[string]any
	token string
}

type stubCaller struct {
	calls  []recordedCall
	result string
	err    error
}

func (s *stubCaller) CallTool(_ context.Context, name string, args map[string]any, token string) (json.RawMessage, error) {
	s.calls = append(s.calls, recordedCall{name: name, args: args, token: token})
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.result), nil
}

func (s *stubCaller) ExecuteCode(context.Context, string, string, Language, time.Duration) (json.RawMessage, error) {
	return nil, nil
}

func TestTools_GetTasksDecodesEnvelope(t *testing.T) {
	stub := &stubCaller{result: `{"success":true,"data":[{"id":"t1","title":"Write report","priority":"high","completed":false}]}`}
	tools := NewTools(stub)
	done := false

	tasks, err := tools.GetTasks(context.Background(), "tok", TaskFilter{Completed: &done, Priority: "high"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Write report", tasks[0].Title)

	require.Len(t, stub.calls, 1)
	assert.Equal(t, "getTasks", stub.calls[0].name)
	assert.Equal(t, "tok", stub.calls[0].token)
	assert.Equal(t, false, stub.calls[0].args["completed"])
	assert.Equal(t, "high", stub.calls[0].args["priority"])
	assert.NotContains(t, stub.calls[0].args, "startDate")
}

func TestTools_EnvelopeFailure(t *testing.T) {
	stub := &stubCaller{result: `{"success":false,"error":"unauthorized"}`}
	_, err := NewTools(stub).GetTask(context.Background(), "bad", "t1")

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "unauthorized", toolErr.Message)
}

func TestTools_BareResult(t *testing.T) {
	stub := &stubCaller{result: `{"id":"u1","email":"a@example.com"}`}
	user, err := NewTools(stub).GetUserProfile(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", user.Email)
}

func TestTools_NullPsychProfile(t *testing.T) {
	stub := &stubCaller{result: `{"success":true,"data":null}`}
	profile, err := NewTools(stub).GetPsychProfile(context.Background(), "tok")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestTools_UpdateTaskOmitsUnsetFields(t *testing.T) {
	stub := &stubCaller{result: `{"success":true,"data":{"id":"t1","title":"New"}}`}
	title := "New"
	_, err := NewTools(stub).UpdateTask(context.Background(), "tok", UpdateTaskInput{TaskID: "t1", Title: &title})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"taskId": "t1", "title": "New"}, stub.calls[0].args)
}
