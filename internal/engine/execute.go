package engine

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
	"github.com/mkoval/entcopy/internal/store"
)

// CopyIntent pairs one origin entity with the field values computed for its
// copy and the pending link instructions. Intents live only for the duration
// of one node's execution; post-copy hooks see them with Copied set.
type CopyIntent struct {
	Origin *schema.Entity
	Values map[string]any
	Copied *schema.Entity

	m2m     []m2mIntent
	dropped bool
}

// m2mIntent is a pending junction-row instruction. Exactly one of useCreated
// and useRefMap may be set; with neither, the related ids are used as-is.
type m2mIntent struct {
	fieldName  string
	relatedIDs []string
	junction   *schema.Junction
	targetType string
	useCreated bool
	useRefMap  bool
}

// parentLink tells a child node how to rewire its parent reference.
type parentLink struct {
	fkField    string
	parentType string
}

// executeNode performs the write walk for one node: hooks, intent building,
// bulk creation, junction rows, then children and compound siblings. It runs
// inside the transaction owned by Run.
func (c *Copier) executeNode(ctx context.Context, tx store.Store, node *NodeConfig, extra query.Pred, parent *parentLink) error {
	if err := c.runSteps(ctx, tx, node, node.PreSteps, nil); err != nil {
		return err
	}

	pred := extra
	if ignoredIDs := c.ignored[node.Type]; len(ignoredIDs) > 0 {
		pred = query.AndOf(query.Not{P: query.In{Field: "id", IDs: ignoredIDs}}, extra)
	}
	scope, err := c.selectOn(ctx, tx, node, pred)
	if err != nil {
		return err
	}
	if len(scope) == 0 {
		return nil
	}

	intents := make([]*CopyIntent, 0, len(scope))
	for _, origin := range scope {
		intents = append(intents, &CopyIntent{Origin: origin, Values: make(map[string]any)})
	}

	et := c.schema.MustType(node.Type)
	for _, name := range node.sortedFieldNames() {
		if err := c.evaluateField(ctx, tx, node, et, name, node.Fields[name], intents); err != nil {
			return err
		}
	}

	live := liveIntents(intents)
	if len(live) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(live))
	for _, intent := range live {
		values := intent.Values
		if parent != nil {
			originParentID, ok := intent.Origin.Ref(parent.fkField)
			if !ok {
				return fmt.Errorf("engine: %s %s has no %s parent reference", node.Type, intent.Origin.ID, parent.fkField)
			}
			copiedParentID, ok := c.created[parent.parentType][originParentID]
			if !ok {
				return fmt.Errorf("engine: copy of %s with id %s was not found in created map", parent.parentType, originParentID)
			}
			values[parent.fkField] = copiedParentID
		}
		rows = append(rows, values)
	}

	copies, err := tx.BulkCreate(ctx, node.Type, rows)
	if err != nil {
		log.Printf("engine: error creating %s copies: %v", node.Type, err)
		return fmt.Errorf("creating %s copies: %w", node.Type, err)
	}

	byType, ok := c.created[node.Type]
	if !ok {
		byType = make(map[string]string)
		c.created[node.Type] = byType
	}
	for i, intent := range live {
		intent.Copied = copies[i]
		byType[intent.Origin.ID] = copies[i].ID
	}

	if err := c.createJunctionRows(ctx, tx, node, live); err != nil {
		return err
	}

	liveIDs := originIDs(live)
	for _, name := range node.sortedFieldNames() {
		fc := node.Fields[name]
		if fc.Action != MakeCopy {
			continue
		}
		rel := et.Relation(name)
		childExtra := query.In{Field: rel.FKField, IDs: liveIDs}
		link := &parentLink{fkField: rel.FKField, parentType: node.Type}
		if err := c.executeNode(ctx, tx, fc.CopyWith, childExtra, link); err != nil {
			return err
		}
	}

	for _, compound := range node.Compound {
		affected := make(map[string][]string, len(c.created))
		for typeName, byOrigin := range c.created {
			ids := make([]string, 0, len(byOrigin))
			for originID := range byOrigin {
				ids = append(ids, originID)
			}
			sort.Strings(ids)
			affected[typeName] = ids
		}
		compoundExtra, err := c.compoundFilter(compound, affected)
		if err != nil {
			return err
		}
		if compoundExtra == nil {
			if compound.ErrorOnEmptyCompound {
				return configErrf("compound config for %s matched nothing in this walk", compound.Type)
			}
			continue
		}
		if err := c.executeNode(ctx, tx, compound, compoundExtra, nil); err != nil {
			return err
		}
	}

	return c.runSteps(ctx, tx, node, node.PostSteps, live)
}

// evaluateField fills intent values (or queues link instructions) for one
// configured field across all intents.
func (c *Copier) evaluateField(ctx context.Context, tx store.Store, node *NodeConfig, et *schema.EntityType, name string, fc FieldCopy, intents []*CopyIntent) error {
	rel := et.Relation(name)

	switch fc.Action {
	case MakeCopy:
		// Children are copied after their parents exist.
		return nil

	case TakeFromOrigin:
		if rel == nil {
			for _, intent := range liveIntents(intents) {
				intent.Values[name] = intent.Origin.Get(name)
			}
			return nil
		}
		switch rel.Kind {
		case schema.ToOne:
			for _, intent := range liveIntents(intents) {
				intent.Values[rel.FKField] = intent.Origin.Get(rel.FKField)
			}
			return nil
		case schema.ToManyShared:
			return c.queueM2M(ctx, tx, name, rel, intents, m2mIntent{
				fieldName:  name,
				junction:   rel.Junction,
				targetType: rel.Target,
			})
		}
		return configErrf("take_from_origin cannot copy relation %s.%s", node.Type, name)

	case TakeFromInput:
		value, ok := c.input[fc.InputKey]
		if !ok || value == nil {
			return configErrf("no %q in input data (field %s.%s)", fc.InputKey, node.Type, name)
		}
		for _, intent := range liveIntents(intents) {
			intent.Values[name] = value
		}
		return nil

	case UpdateToCopied:
		if rel.Kind == schema.ToManyShared {
			return c.queueM2M(ctx, tx, name, rel, intents, m2mIntent{
				fieldName:  name,
				junction:   rel.Junction,
				targetType: rel.Target,
				useCreated: true,
			})
		}
		// resolved later per intent against the created map
		return c.rewireToCopied(node, rel, intents)

	case SetToFilter:
		if rel.Kind == schema.ToManyShared {
			return c.queueM2M(ctx, tx, name, rel, intents, m2mIntent{
				fieldName:  name,
				junction:   rel.Junction,
				targetType: rel.Target,
				useRefMap:  true,
			})
		}
		return c.rewireToMatched(node, name, rel, intents)
	}
	return configErrf("unknown action %q on %s.%s", fc.Action, node.Type, name)
}

// rewireToCopied rewrites an UpdateToCopied to-one field to the copy made
// earlier in this walk. A null origin reference stays null; a non-null
// reference with no counterpart in the created map is a fatal error.
func (c *Copier) rewireToCopied(node *NodeConfig, rel *schema.Relation, intents []*CopyIntent) error {
	for _, intent := range liveIntents(intents) {
		id, ok := intent.Origin.Ref(rel.FKField)
		if !ok {
			intent.Values[rel.FKField] = nil
			continue
		}
		copyID, ok := c.lookupCreated(rel.Target, id)
		if !ok {
			return fmt.Errorf("engine: copy of %s with id %s was not found in created map", rel.Target, id)
		}
		intent.Values[rel.FKField] = copyID
	}
	return nil
}

// rewireToMatched applies the reference map to a to-one SetToFilter field.
// An origin whose referenced id resolved to nothing is dropped: validation
// already classified the request, so execution silently narrows to what can
// be copied consistently.
func (c *Copier) rewireToMatched(node *NodeConfig, name string, rel *schema.Relation, intents []*CopyIntent) error {
	frm := c.refMap[node.Type][name]
	for _, intent := range liveIntents(intents) {
		id, ok := intent.Origin.Ref(rel.FKField)
		if !ok {
			intent.Values[rel.FKField] = nil
			continue
		}
		if frm == nil {
			return fmt.Errorf("engine: no match map ready for %s.%s", node.Type, name)
		}
		sub, ok := frm[id]
		if !ok {
			return fmt.Errorf("engine: no reference entry for %s id %s on %s.%s", rel.Target, id, node.Type, name)
		}
		if sub == nil {
			intent.dropped = true
			continue
		}
		intent.Values[rel.FKField] = *sub
	}
	return nil
}

// queueM2M reads the junction rows linked to the live origins and queues one
// link instruction per origin, tagged with the template's remap mode.
func (c *Copier) queueM2M(ctx context.Context, tx store.Store, name string, rel *schema.Relation, intents []*CopyIntent, template m2mIntent) error {
	live := liveIntents(intents)
	if len(live) == 0 {
		return nil
	}
	links, err := tx.Select(ctx, rel.Junction.Type,
		query.In{Field: rel.Junction.FromField, IDs: originIDs(live)})
	if err != nil {
		return err
	}

	byOrigin := make(map[string][]string)
	for _, link := range links {
		from, ok := link.Ref(rel.Junction.FromField)
		if !ok {
			continue
		}
		to, ok := link.Ref(rel.Junction.ToField)
		if !ok {
			continue
		}
		byOrigin[from] = append(byOrigin[from], to)
	}

	for _, intent := range live {
		relatedIDs := byOrigin[intent.Origin.ID]
		if len(relatedIDs) == 0 {
			continue
		}
		sort.Strings(relatedIDs)
		queued := template
		queued.relatedIDs = relatedIDs
		intent.m2m = append(intent.m2m, queued)
	}
	return nil
}

// createJunctionRows resolves every queued link instruction and bulk-creates
// the junction rows, grouped per junction type.
func (c *Copier) createJunctionRows(ctx context.Context, tx store.Store, node *NodeConfig, live []*CopyIntent) error {
	rowsByType := make(map[string][]map[string]any)
	var typeOrder []string

	for _, intent := range live {
		for _, m2m := range intent.m2m {
			relatedIDs, err := c.resolveM2MIDs(node, &m2m)
			if err != nil {
				return err
			}
			if _, ok := rowsByType[m2m.junction.Type]; !ok {
				typeOrder = append(typeOrder, m2m.junction.Type)
			}
			for _, relatedID := range relatedIDs {
				rowsByType[m2m.junction.Type] = append(rowsByType[m2m.junction.Type], map[string]any{
					m2m.junction.FromField: intent.Copied.ID,
					m2m.junction.ToField:   relatedID,
				})
			}
		}
	}

	for _, junctionType := range typeOrder {
		rows := rowsByType[junctionType]
		if len(rows) == 0 {
			continue
		}
		if _, err := tx.BulkCreate(ctx, junctionType, rows); err != nil {
			log.Printf("engine: error creating %s links: %v", junctionType, err)
			return fmt.Errorf("creating %s links: %w", junctionType, err)
		}
	}
	return nil
}

func (c *Copier) resolveM2MIDs(node *NodeConfig, m2m *m2mIntent) ([]string, error) {
	switch {
	case m2m.useCreated:
		out := make([]string, 0, len(m2m.relatedIDs))
		for _, id := range m2m.relatedIDs {
			copyID, ok := c.created[m2m.targetType][id]
			if !ok {
				return nil, fmt.Errorf("engine: copy of %s with id %s was not found in created map", m2m.targetType, id)
			}
			out = append(out, copyID)
		}
		return out, nil
	case m2m.useRefMap:
		frm := c.refMap[node.Type][m2m.fieldName]
		var out []string
		for _, id := range m2m.relatedIDs {
			if sub, ok := frm[id]; ok && sub != nil {
				out = append(out, *sub)
			}
		}
		return out, nil
	}
	return m2m.relatedIDs, nil
}

func (c *Copier) lookupCreated(typeName, originID string) (string, bool) {
	copyID, ok := c.created[typeName][originID]
	return copyID, ok
}

// runSteps executes hook steps in order: declarative delete-by-filter
// against the node's type, or a custom function.
func (c *Copier) runSteps(ctx context.Context, tx store.Store, node *NodeConfig, steps []Step, intents []*CopyIntent) error {
	for _, step := range steps {
		switch {
		case len(step.DeleteFilter) > 0:
			preds := make([]query.Pred, 0, len(step.DeleteFilter))
			for _, field := range sortedKeys(step.DeleteFilter) {
				inputKey := step.DeleteFilter[field]
				value, ok := c.input[inputKey]
				if !ok {
					return configErrf("delete step on %s needs input %q", node.Type, inputKey)
				}
				preds = append(preds, query.Eq{Field: field, Value: value})
			}
			if err := tx.Delete(ctx, node.Type, query.AndOf(preds...)); err != nil {
				return err
			}
		case step.Func != nil:
			if err := step.Func(ctx, &StepContext{
				Store:   tx,
				Node:    node,
				Input:   c.input,
				RefMap:  c.refMap,
				Created: c.created,
				Intents: intents,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func liveIntents(intents []*CopyIntent) []*CopyIntent {
	out := make([]*CopyIntent, 0, len(intents))
	for _, intent := range intents {
		if !intent.dropped {
			out = append(out, intent)
		}
	}
	return out
}

func originIDs(intents []*CopyIntent) []string {
	ids := make([]string, 0, len(intents))
	for _, intent := range intents {
		ids = append(ids, intent.Origin.ID)
	}
	return ids
}
