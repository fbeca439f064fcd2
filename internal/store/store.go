// Package store defines the persistence interface the copy engine runs
// against. The engine needs exactly four capabilities: select by predicate,
// bulk create, delete by predicate, and an atomic scope. Anything richer
// stays behind an implementation.
package store

import (
	"context"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
)

// Store is the collaborator interface consumed by the engine.
//
// Select must return entities in a stable order (ascending id) so that two
// identical walks over unchanged data observe identical sequences.
type Store interface {
	// Select fetches entities of one type matching the predicate.
	// A nil predicate matches every entity of the type.
	Select(ctx context.Context, typeName string, p query.Pred) ([]*schema.Entity, error)

	// BulkCreate inserts one entity per row of field values and returns the
	// created entities, ids assigned, in input order.
	BulkCreate(ctx context.Context, typeName string, rows []map[string]any) ([]*schema.Entity, error)

	// Delete removes entities of one type matching the predicate.
	Delete(ctx context.Context, typeName string, p query.Pred) error

	// Atomic runs fn against a transactional view of the store. If fn
	// returns an error every write made inside it is rolled back; otherwise
	// all writes commit together.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
