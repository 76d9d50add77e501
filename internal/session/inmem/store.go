// Package inmem provides an in-memory implementation of session.Store. It is
// the default store for a single CLI invocation; a durable implementation
// (internal/session/mongo) exists for long-running managed deployments.
package inmem

import (
	"context"
	"sync"

	"github.com/durch/agneto/internal/session"
)

// Store is an in-memory implementation of session.Store, safe for
// concurrent use.
type Store struct {
	mu   sync.RWMutex
	refs map[string]session.Ref
}

// New returns an empty Store.
func New() *Store {
	return &Store{refs: make(map[string]session.Ref)}
}

func key(taskID string, role session.Role) string {
	return taskID + "/" + string(role)
}

// Load implements session.Store.
func (s *Store) Load(_ context.Context, taskID string, role session.Role) (session.Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.refs[key(taskID, role)]
	if !ok {
		return session.Ref{}, session.ErrNotFound
	}
	return ref, nil
}

// Save implements session.Store.
func (s *Store) Save(_ context.Context, ref session.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[key(ref.TaskID, ref.Role)] = ref
	return nil
}
