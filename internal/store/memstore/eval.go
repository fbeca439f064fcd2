package memstore

import (
	"fmt"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
)

// eval interprets a predicate against one entity. Callers hold m.mu.
func (m *Mem) eval(e *schema.Entity, p query.Pred) (bool, error) {
	if p == nil {
		return true, nil
	}
	switch p := p.(type) {
	case query.Eq:
		return valueEq(m.fieldValue(e, p.Field), p.Value), nil
	case query.In:
		v := m.fieldValue(e, p.Field)
		s, ok := v.(string)
		if !ok || s == "" {
			return false, nil
		}
		return contains(p.IDs, s), nil
	case query.IsNull:
		return m.fieldValue(e, p.Field) == nil, nil
	case query.HasRel:
		return m.evalPath(e, p.Path, p.IDs)
	case query.NoRel:
		related, err := m.related(e, p.Rel)
		if err != nil {
			return false, err
		}
		return len(related) == 0, nil
	case query.And:
		for _, member := range p {
			if member == nil {
				continue
			}
			ok, err := m.eval(e, member)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case query.Or:
		for _, member := range p {
			if member == nil {
				continue
			}
			ok, err := m.eval(e, member)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case query.Not:
		ok, err := m.eval(e, p.P)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("memstore: unsupported predicate %T", p)
	}
}

// fieldValue resolves "id" to the primary key and everything else to a field.
func (m *Mem) fieldValue(e *schema.Entity, field string) any {
	if field == "id" {
		return e.ID
	}
	return e.Fields[field]
}

// evalPath walks a relation path; the entity matches when some entity
// reachable through the whole path has an id in ids.
func (m *Mem) evalPath(e *schema.Entity, path []string, ids []string) (bool, error) {
	if len(path) == 0 {
		return contains(ids, e.ID), nil
	}
	related, err := m.related(e, path[0])
	if err != nil {
		return false, err
	}
	for _, r := range related {
		ok, err := m.evalPath(r, path[1:], ids)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// related returns the entities reachable from e through one named relation.
func (m *Mem) related(e *schema.Entity, relName string) ([]*schema.Entity, error) {
	et := m.schema.MustType(e.Type)
	rel := et.Relation(relName)
	if rel == nil {
		return nil, fmt.Errorf("memstore: no relation %q on %s", relName, e.Type)
	}
	switch rel.Kind {
	case schema.ToOne:
		id, ok := e.Ref(rel.FKField)
		if !ok {
			return nil, nil
		}
		if target := m.data[rel.Target][id]; target != nil {
			return []*schema.Entity{target}, nil
		}
		return nil, nil
	case schema.ToManyOwned:
		var out []*schema.Entity
		for _, child := range m.data[rel.Target] {
			if id, ok := child.Ref(rel.FKField); ok && id == e.ID {
				out = append(out, child)
			}
		}
		return out, nil
	case schema.ToManyShared:
		var out []*schema.Entity
		for _, link := range m.data[rel.Junction.Type] {
			from, ok := link.Ref(rel.Junction.FromField)
			if !ok || from != e.ID {
				continue
			}
			to, ok := link.Ref(rel.Junction.ToField)
			if !ok {
				continue
			}
			if target := m.data[rel.Target][to]; target != nil {
				out = append(out, target)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("memstore: unknown relation kind %q", rel.Kind)
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// valueEq compares field values loosely enough that ints and floats of the
// same magnitude compare equal. Input data often arrives as a different
// numeric type than what was stored.
func valueEq(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
