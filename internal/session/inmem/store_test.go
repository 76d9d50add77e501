package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/durch/agneto/internal/session"
)

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	s := New()
	_, err := s.Load(context.Background(), "task-1", session.RoleCoder)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := New()
	ref := session.Ref{TaskID: "task-1", Role: session.RoleCoder, SessionID: "sess-abc", IsInitialized: true}
	require.NoError(t, s.Save(context.Background(), ref))

	got, err := s.Load(context.Background(), "task-1", session.RoleCoder)
	require.NoError(t, err)
	require.Equal(t, ref, got)
}

func TestRefsAreIsolatedByRoleAndTask(t *testing.T) {
	s := New()
	require.NoError(t, s.Save(context.Background(), session.Ref{TaskID: "task-1", Role: session.RoleCoder, SessionID: "coder-sess"}))
	require.NoError(t, s.Save(context.Background(), session.Ref{TaskID: "task-1", Role: session.RoleReviewer, SessionID: "reviewer-sess"}))
	require.NoError(t, s.Save(context.Background(), session.Ref{TaskID: "task-2", Role: session.RoleCoder, SessionID: "other-task-sess"}))

	coder, err := s.Load(context.Background(), "task-1", session.RoleCoder)
	require.NoError(t, err)
	require.Equal(t, "coder-sess", coder.SessionID)

	reviewer, err := s.Load(context.Background(), "task-1", session.RoleReviewer)
	require.NoError(t, err)
	require.Equal(t, "reviewer-sess", reviewer.SessionID)

	otherTask, err := s.Load(context.Background(), "task-2", session.RoleCoder)
	require.NoError(t, err)
	require.Equal(t, "other-task-sess", otherTask.SessionID)
}
