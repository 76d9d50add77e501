package injection

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsumeEmptyQueue(t *testing.T) {
	q := NewQueue()
	text, ok := q.Consume("task-1")
	require.False(t, ok)
	require.Empty(t, text)
}

func TestSetThenConsumeClearsPending(t *testing.T) {
	q := NewQueue()
	q.Set("task-1", "add a test for the edge case")

	text, ok := q.Consume("task-1")
	require.True(t, ok)
	require.Equal(t, "add a test for the edge case", text)

	_, ok = q.Consume("task-1")
	require.False(t, ok, "a second consume must find nothing pending")
}

func TestSetClearsPauseRequest(t *testing.T) {
	q := NewQueue()
	q.RequestPause("task-1")
	require.True(t, q.PauseRequested("task-1"))

	q.Set("task-1", "steer here")
	require.False(t, q.PauseRequested("task-1"))
}

func TestQueueIsolatedPerTask(t *testing.T) {
	q := NewQueue()
	q.Set("task-1", "for task 1")

	_, ok := q.Consume("task-2")
	require.False(t, ok)

	text, ok := q.Consume("task-1")
	require.True(t, ok)
	require.Equal(t, "for task 1", text)
}
