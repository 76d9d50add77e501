package filestore

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/durch/agneto/internal/checkpoint"
)

func TestWriteAssignsSequentialNumbers(t *testing.T) {
	s := New(afero.NewMemMapFs(), ".agneto")
	ctx := context.Background()

	first, err := s.Write(ctx, "task-1", checkpoint.Checkpoint{Trigger: checkpoint.TriggerPlanCreated})
	require.NoError(t, err)
	require.Equal(t, 1, first.Number)

	second, err := s.Write(ctx, "task-1", checkpoint.Checkpoint{Trigger: checkpoint.TriggerCodeApproved})
	require.NoError(t, err)
	require.Equal(t, 2, second.Number)
}

func TestLatestReturnsMostRecentCheckpoint(t *testing.T) {
	s := New(afero.NewMemMapFs(), ".agneto")
	ctx := context.Background()

	_, err := s.Write(ctx, "task-1", checkpoint.Checkpoint{Trigger: checkpoint.TriggerPlanCreated})
	require.NoError(t, err)
	_, err = s.Write(ctx, "task-1", checkpoint.Checkpoint{Trigger: checkpoint.TriggerCodeApproved})
	require.NoError(t, err)

	latest, err := s.Latest(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, checkpoint.TriggerCodeApproved, latest.Trigger)
	require.Equal(t, 2, latest.Number)
}

func TestLatestErrorsWhenNoneWritten(t *testing.T) {
	s := New(afero.NewMemMapFs(), ".agneto")
	_, err := s.Latest(context.Background(), "unknown-task")
	require.Error(t, err)
}

func TestListReturnsCheckpointsInOrder(t *testing.T) {
	s := New(afero.NewMemMapFs(), ".agneto")
	ctx := context.Background()

	for _, trig := range []checkpoint.Trigger{checkpoint.TriggerPlanCreated, checkpoint.TriggerCodeApproved, checkpoint.TriggerSuperReview} {
		_, err := s.Write(ctx, "task-1", checkpoint.Checkpoint{Trigger: trig})
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, checkpoint.TriggerPlanCreated, all[0].Trigger)
	require.Equal(t, checkpoint.TriggerCodeApproved, all[1].Trigger)
	require.Equal(t, checkpoint.TriggerSuperReview, all[2].Trigger)
}

func TestListEmptyForUnknownTask(t *testing.T) {
	s := New(afero.NewMemMapFs(), ".agneto")
	all, err := s.List(context.Background(), "never-written")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestTasksAreIsolated(t *testing.T) {
	s := New(afero.NewMemMapFs(), ".agneto")
	ctx := context.Background()

	_, err := s.Write(ctx, "task-1", checkpoint.Checkpoint{Trigger: checkpoint.TriggerPlanCreated})
	require.NoError(t, err)

	all, err := s.List(ctx, "task-2")
	require.NoError(t, err)
	require.Empty(t, all)
}
