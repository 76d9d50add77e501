package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/durch/agneto/internal/execfsm"
	"github.com/durch/agneto/internal/session"
	"github.com/durch/agneto/internal/taskfsm"
	"github.com/durch/agneto/internal/verdict"
)

func TestBuildCapturesTaskStateAndSessions(t *testing.T) {
	snap := taskfsm.Snapshot{Context: taskfsm.Context{
		TaskID:    "task-1",
		HumanTask: "add retries",
		TaskToUse: "add retries",
		Options:   taskfsm.Options{AutoMerge: true},
	}}
	sessions := []session.Ref{
		{TaskID: "task-1", Role: session.RoleCoder, SessionID: "sess-coder", IsInitialized: true},
	}
	fs := FileSystemSnapshot{Branch: "feature/x", BaselineCommit: "abc123"}

	cp := Build(1, TriggerPlanCreated, snap, taskfsm.Planning, nil, sessions, fs, true)

	require.Equal(t, SchemaVersion, cp.Version)
	require.Equal(t, TriggerPlanCreated, cp.Trigger)
	require.Equal(t, "task-1", cp.TaskState.TaskID)
	require.True(t, cp.TaskState.AutoMerge)
	require.Equal(t, State(taskfsm.Planning), cp.TaskState.State)
	require.Nil(t, cp.ExecutionState)
	require.Len(t, cp.Sessions, 1)
	require.Equal(t, "sess-coder", cp.Sessions[0].SessionID)
	require.Equal(t, "feature/x", cp.FileSystem.Branch)
}

func TestBuildIncludesExecutionStateWhenPresent(t *testing.T) {
	exec := execfsm.New(3, 3)
	exec.StartChunking()
	exec.ChunkReceived(verdict.Chunk{Kind: verdict.ChunkWork, Description: "implement caching"})

	cp := Build(2, TriggerCodeApproved, taskfsm.Snapshot{}, taskfsm.Executing, exec, nil, FileSystemSnapshot{}, true)

	require.NotNil(t, cp.ExecutionState)
	require.Equal(t, State(execfsm.Planning), cp.ExecutionState.State)
	require.Equal(t, "implement caching", cp.ExecutionState.ChunkDescription)
	require.Empty(t, cp.Sessions)
}

func TestBuildCapturesLastErrorAsErrorInfo(t *testing.T) {
	snap := taskfsm.Snapshot{Context: taskfsm.Context{LastError: errBoom}}
	cp := Build(1, TriggerError, snap, taskfsm.Abandoned, nil, nil, FileSystemSnapshot{}, false)

	require.NotNil(t, cp.TaskState.LastError)
	require.Equal(t, errBoom.Error(), cp.TaskState.LastError.Message)
	require.False(t, cp.Recoverable)
}

var errBoom = &stubError{"provider unavailable"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
