package engine

import (
	"context"
	"sort"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
)

// resolveField computes the reference map entry for one SetToFilter field:
// for every origin entity the field points at, the id of the matching
// destination-context entity, or nil. Every referenced origin id gets an
// entry; the map is never sparse.
func (c *Copier) resolveField(ctx context.Context, node *NodeConfig, fieldName string, fc FieldCopy, scope []*schema.Entity) error {
	et := c.schema.MustType(node.Type)
	rel := et.Relation(fieldName)

	referenced, err := c.referencedEntities(ctx, rel, scope)
	if err != nil {
		return err
	}

	var frm FieldRefMap
	switch {
	case len(fc.Match.Fields) > 0:
		frm, err = c.matchDeclarative(ctx, fc, referenced)
	case fc.Match.Func != nil:
		frm, err = fc.Match.Func(ctx, &MatchContext{
			Store:      c.store,
			Node:       node,
			FieldName:  fieldName,
			Input:      c.input,
			Entities:   scope,
			Referenced: referenced,
			RefMap:     c.refMap,
		})
	default:
		return configErrf("set_to_filter on %s.%s has no usable match config", node.Type, fieldName)
	}
	if err != nil {
		return err
	}

	target := c.refMap.ensure(node.Type, fieldName)
	for id, v := range frm {
		target[id] = v
	}
	return nil
}

// referencedEntities fetches the origin entities the field currently points
// at across the whole scope: the distinct to-one targets, or everything
// linked through the junction for a shared relation.
func (c *Copier) referencedEntities(ctx context.Context, rel *schema.Relation, scope []*schema.Entity) ([]*schema.Entity, error) {
	switch rel.Kind {
	case schema.ToOne:
		seen := make(map[string]bool)
		var ids []string
		for _, e := range scope {
			if id, ok := e.Ref(rel.FKField); ok && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, nil
		}
		sort.Strings(ids)
		return c.store.Select(ctx, rel.Target, query.In{Field: "id", IDs: ids})
	case schema.ToManyShared:
		links, err := c.store.Select(ctx, rel.Junction.Type,
			query.In{Field: rel.Junction.FromField, IDs: entityIDs(scope)})
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		var ids []string
		for _, link := range links {
			if id, ok := link.Ref(rel.Junction.ToField); ok && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, nil
		}
		sort.Strings(ids)
		return c.store.Select(ctx, rel.Target, query.In{Field: "id", IDs: ids})
	}
	return nil, configErrf("set_to_filter needs a to-one or shared relation, got %s", rel.Kind)
}

// matchDeclarative resolves references by field equality. Input-sourced
// filters narrow the candidate set once for all entities; origin-sourced
// filters then pick, per referenced entity, the first candidate whose
// values all agree with it.
func (c *Copier) matchDeclarative(ctx context.Context, fc FieldCopy, referenced []*schema.Entity) (FieldRefMap, error) {
	matchFields := make([]string, 0, len(fc.Match.Fields))
	for name := range fc.Match.Fields {
		matchFields = append(matchFields, name)
	}
	sort.Strings(matchFields)

	var fixed []query.Pred
	var perEntity []string
	for _, name := range matchFields {
		fm := fc.Match.Fields[name]
		switch fm.Source {
		case FromInput:
			value, ok := c.input[fm.InputKey]
			if !ok || value == nil {
				return nil, configErrf("match filter %q declared, but no value for %q in input", name, fm.InputKey)
			}
			fixed = append(fixed, query.Eq{Field: name, Value: value})
		case FromOrigin:
			perEntity = append(perEntity, name)
		default:
			return nil, configErrf("match filter %q has unknown source %q", name, fm.Source)
		}
	}

	candidates, err := c.store.Select(ctx, fc.ReferenceTo, query.AndOf(fixed...))
	if err != nil {
		return nil, err
	}

	frm := make(FieldRefMap, len(referenced))
	for _, origin := range referenced {
		match := firstMatch(candidates, origin, perEntity)
		if match != nil {
			id := match.ID
			frm[origin.ID] = &id
		} else {
			frm[origin.ID] = nil
		}
	}
	return frm, nil
}

// firstMatch returns the first candidate agreeing with origin on every
// per-entity match field. Ties are not expected; candidate order is the
// store's stable order.
func firstMatch(candidates []*schema.Entity, origin *schema.Entity, fields []string) *schema.Entity {
	for _, candidate := range candidates {
		ok := true
		for _, f := range fields {
			if !matchValueEq(fieldOrID(candidate, f), fieldOrID(origin, f)) {
				ok = false
				break
			}
		}
		if ok {
			return candidate
		}
	}
	return nil
}

func fieldOrID(e *schema.Entity, field string) any {
	if field == "id" {
		return e.ID
	}
	return e.Get(field)
}

// matchValueEq mirrors the loose numeric equality stores use for Eq.
func matchValueEq(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
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
