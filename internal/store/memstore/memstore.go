// Package memstore is an in-memory implementation of the store interface.
// It interprets the full predicate algebra, including relation paths, against
// schema metadata. Atomic takes a snapshot of all data and restores it when
// the scoped function fails.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
	"github.com/mkoval/entcopy/internal/store"
)

// Mem holds entities per type, keyed by id.
type Mem struct {
	schema *schema.Schema

	mu   sync.RWMutex
	data map[string]map[string]*schema.Entity

	// newID is swappable in tests for stable ids.
	newID func() string
}

// New creates an empty store for the given schema.
func New(s *schema.Schema) *Mem {
	return &Mem{
		schema: s,
		data:   make(map[string]map[string]*schema.Entity),
		newID:  uuid.NewString,
	}
}

// SetIDFunc replaces the id generator. For tests.
func (m *Mem) SetIDFunc(fn func() string) {
	m.newID = fn
}

// Seed inserts an entity with a caller-chosen id and returns it.
func (m *Mem) Seed(typeName, id string, fields map[string]any) *schema.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &schema.Entity{Type: typeName, ID: id, Fields: copyFields(fields)}
	m.table(typeName)[id] = e
	return e
}

// Get returns the entity with the given id, or nil.
func (m *Mem) Get(typeName, id string) *schema.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.data[typeName][id]
	if e == nil {
		return nil
	}
	return cloneEntity(e)
}

// Count returns the number of entities of one type.
func (m *Mem) Count(typeName string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[typeName])
}

func (m *Mem) table(typeName string) map[string]*schema.Entity {
	t, ok := m.data[typeName]
	if !ok {
		t = make(map[string]*schema.Entity)
		m.data[typeName] = t
	}
	return t
}

// Select implements store.Store. Results are sorted by id.
func (m *Mem) Select(ctx context.Context, typeName string, p query.Pred) ([]*schema.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := m.schema.Type(typeName); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.Entity
	for _, e := range m.data[typeName] {
		ok, err := m.eval(e, p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BulkCreate implements store.Store. Ids are generated; rows are not
// interpreted beyond copying.
func (m *Mem) BulkCreate(ctx context.Context, typeName string, rows []map[string]any) ([]*schema.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := m.schema.Type(typeName); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(typeName)
	created := make([]*schema.Entity, 0, len(rows))
	for _, row := range rows {
		e := &schema.Entity{Type: typeName, ID: m.newID(), Fields: copyFields(row)}
		t[e.ID] = e
		created = append(created, cloneEntity(e))
	}
	return created, nil
}

// Delete implements store.Store.
func (m *Mem) Delete(ctx context.Context, typeName string, p query.Pred) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.schema.Type(typeName); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.data[typeName]
	for id, e := range t {
		ok, err := m.eval(e, p)
		if err != nil {
			return err
		}
		if ok {
			delete(t, id)
		}
	}
	return nil
}

// Atomic implements store.Store by snapshotting all tables and restoring
// them if fn fails. Nested Atomic calls join the outer scope.
func (m *Mem) Atomic(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	saved := make(map[string]map[string]*schema.Entity, len(m.data))
	for typeName, t := range m.data {
		ct := make(map[string]*schema.Entity, len(t))
		for id, e := range t {
			ct[id] = cloneEntity(e)
		}
		saved[typeName] = ct
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.data = saved
		m.mu.Unlock()
		return err
	}
	return nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneEntity(e *schema.Entity) *schema.Entity {
	return &schema.Entity{Type: e.Type, ID: e.ID, Fields: copyFields(e.Fields)}
}
