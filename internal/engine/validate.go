package engine

import (
	"context"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
)

// validate walks the whole tree read-only, building the reference map, then
// evaluates deferred ignore conditions against the finished map.
func (c *Copier) validate(ctx context.Context) error {
	c.refMap = make(RefMap)
	c.ignored = make(IgnoredMap)
	c.seen = make(map[string][]string)
	c.seenOrder = nil
	c.deferred = nil

	for _, root := range c.req.Config.Roots {
		if err := c.validateNode(ctx, root, nil); err != nil {
			return err
		}
	}
	return c.resolveIgnoreConditions(ctx)
}

func (c *Copier) validateNode(ctx context.Context, node *NodeConfig, extra query.Pred) error {
	scope, err := c.selectForNode(ctx, node, extra)
	if err != nil {
		return err
	}
	if _, dup := c.seen[node.Type]; dup {
		return configErrf("type %s has been configured for copy several times", node.Type)
	}
	c.seen[node.Type] = entityIDs(scope)
	c.seenOrder = append(c.seenOrder, node.Type)

	et := c.schema.MustType(node.Type)
	for _, name := range node.sortedFieldNames() {
		fc := node.Fields[name]
		switch fc.Action {
		case SetToFilter:
			if err := c.resolveField(ctx, node, name, fc, scope); err != nil {
				return err
			}
		case MakeCopy:
			rel := et.Relation(name)
			childExtra := query.In{Field: rel.FKField, IDs: entityIDs(scope)}
			if err := c.validateNode(ctx, fc.CopyWith, childExtra); err != nil {
				return err
			}
		}
	}

	for _, compound := range node.Compound {
		compoundExtra, err := c.compoundFilter(compound, c.seen)
		if err != nil {
			return err
		}
		if compoundExtra == nil {
			if compound.ErrorOnEmptyCompound {
				return configErrf("compound config for %s matched nothing in this walk", compound.Type)
			}
			continue
		}
		if err := c.validateNode(ctx, compound, compoundExtra); err != nil {
			return err
		}
	}

	if node.Ignore != nil {
		c.deferred = append(c.deferred, deferredIgnore{node: node, extra: extra})
	}
	return nil
}

// compoundFilter derives the predicate scoping a compound sibling to
// entities that reference something already processed in this walk. The
// affected sets are scope ids during validation and created-copy origin ids
// during execution.
//
// When at least one mandatory reference field (non-nullable to-one) has a
// non-empty affected set, the filter is a conjunction over every qualifying
// field of "references an affected id, or references nothing". With only
// nullable fields, a plain conjunction would also match entities whose
// reference fields are all null, so instead each qualifying field anchors a
// disjunct requiring that field to hit its affected set while the others
// are affected-or-null.
//
// A nil return means nothing in this walk can scope the compound node.
func (c *Copier) compoundFilter(node *NodeConfig, affected map[string][]string) (query.Pred, error) {
	et := c.schema.MustType(node.Type)

	var mandatory, nullable []string
	for _, name := range node.sortedFieldNames() {
		fc := node.Fields[name]
		if fc.Action != UpdateToCopied {
			continue
		}
		// Self references cannot scope the selection: the copies they point
		// at are the ones this very node is about to create.
		if fc.ReferenceTo == node.Type {
			continue
		}
		rel := et.Relation(name)
		switch rel.Kind {
		case schema.ToOne:
			if rel.Nullable {
				nullable = append(nullable, name)
			} else {
				mandatory = append(mandatory, name)
			}
		case schema.ToManyShared:
			nullable = append(nullable, name)
		default:
			return nil, configErrf("expected a to-one or shared relation on %s.%s", node.Type, name)
		}
	}

	var conj []query.Pred
	for _, name := range mandatory {
		ids := affected[node.Fields[name].ReferenceTo]
		if len(ids) == 0 {
			continue
		}
		conj = append(conj, c.affectedOrNull(et, name, ids))
	}

	if len(conj) > 0 {
		for _, name := range nullable {
			ids := affected[node.Fields[name].ReferenceTo]
			if len(ids) == 0 {
				continue
			}
			conj = append(conj, c.affectedOrNull(et, name, ids))
		}
		return query.AndOf(conj...), nil
	}

	var disj []query.Pred
	for _, name := range nullable {
		ids := affected[node.Fields[name].ReferenceTo]
		if len(ids) == 0 {
			continue
		}
		combination := []query.Pred{c.affectedPred(et, name, ids)}
		for _, other := range nullable {
			if other == name {
				continue
			}
			otherIDs := affected[node.Fields[other].ReferenceTo]
			if len(otherIDs) == 0 {
				continue
			}
			combination = append(combination, c.affectedOrNull(et, other, otherIDs))
		}
		disj = append(disj, query.AndOf(combination...))
	}
	return query.OrOf(disj...), nil
}

// affectedPred matches entities whose named reference field points into ids.
func (c *Copier) affectedPred(et *schema.EntityType, relName string, ids []string) query.Pred {
	rel := et.Relation(relName)
	if rel.Kind == schema.ToOne {
		return query.In{Field: rel.FKField, IDs: ids}
	}
	return query.HasRel{Path: []string{relName}, IDs: ids}
}

// affectedOrNull additionally admits entities with no reference at all.
func (c *Copier) affectedOrNull(et *schema.EntityType, relName string, ids []string) query.Pred {
	rel := et.Relation(relName)
	if rel.Kind == schema.ToOne {
		return query.OrOf(
			query.In{Field: rel.FKField, IDs: ids},
			query.IsNull{Field: rel.FKField},
		)
	}
	return query.OrOf(
		query.HasRel{Path: []string{relName}, IDs: ids},
		query.NoRel{Rel: relName},
	)
}
