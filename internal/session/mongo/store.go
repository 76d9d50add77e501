// Package mongo provides a durable, MongoDB-backed implementation of
// session.Store for managed deployments that outlive a single CLI process.
package mongo

import (
	"context"

	mongoclient "github.com/durch/agneto/internal/session/mongo/clients/mongo"

	"github.com/durch/agneto/internal/session"
)

// Store delegates session ref persistence to a Mongo client.
type Store struct {
	client mongoclient.Client
}

// New returns a Store backed by the given Mongo client.
func New(client mongoclient.Client) *Store {
	return &Store{client: client}
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, taskID string, role session.Role) (session.Ref, error) {
	return s.client.LoadRef(ctx, taskID, role)
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, ref session.Ref) error {
	return s.client.SaveRef(ctx, ref)
}
