package engine

import (
	"context"
	"sort"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
)

// resolveIgnoreConditions evaluates every ignore condition deferred during
// the walk, in registration order, against the completed reference map.
func (c *Copier) resolveIgnoreConditions(ctx context.Context) error {
	for _, d := range c.deferred {
		if err := c.evaluateIgnore(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Copier) evaluateIgnore(ctx context.Context, d deferredIgnore) error {
	cond := d.node.Ignore

	var ids []string
	switch {
	case len(cond.Filters) > 0:
		entities, err := c.ignoredByFilters(ctx, d)
		if err != nil {
			return err
		}
		ids = entityIDs(entities)
	case cond.Func != nil:
		var err error
		ids, err = cond.Func(ctx, &IgnoreContext{
			Store:   c.store,
			Node:    d.node,
			Input:   c.input,
			RefMap:  c.refMap,
			Ignored: c.ignored,
			Scope:   d.extra,
		})
		if err != nil {
			return err
		}
	default:
		return configErrf("ignore condition on %s has neither filters nor function", d.node.Type)
	}

	if len(ids) == 0 {
		return nil
	}
	c.ignored[d.node.Type] = sortedUnique(ids)
	return nil
}

// ignoredByFilters selects the entities that relate, through each filter's
// relation path, to an origin id whose reference-map entry is unresolved.
// Filters union; the node's walk scope still applies.
func (c *Copier) ignoredByFilters(ctx context.Context, d deferredIgnore) ([]*schema.Entity, error) {
	var disj []query.Pred
	for _, f := range d.node.Ignore.Filters {
		frm := c.refMap[f.OriginType][f.OriginField]
		if len(frm) == 0 {
			continue
		}
		var unmatched []string
		for id, v := range frm {
			if v == nil {
				unmatched = append(unmatched, id)
			}
		}
		if len(unmatched) == 0 {
			continue
		}
		sort.Strings(unmatched)
		if len(f.Path) == 0 {
			disj = append(disj, query.In{Field: "id", IDs: unmatched})
		} else {
			disj = append(disj, query.HasRel{Path: f.Path, IDs: unmatched})
		}
	}

	pred := query.OrOf(disj...)
	if pred == nil {
		return nil, nil
	}
	return c.selectForNode(ctx, d.node, query.AndOf(pred, d.extra))
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
