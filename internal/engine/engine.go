// Package engine implements the copy-planning and copy-execution core: the
// recursive configuration-tree walker, the validate-then-confirm-then-execute
// protocol, cross-context reference matching, ignore propagation, and the
// transactional materialization that rewires references between freshly
// created entities.
//
// A request runs in two passes over the same tree. Validation is read-only
// and produces a resolution snapshot (reference map + ignored map) that is a
// pure function of store state and input. The confirmation gate compares
// that snapshot against one the caller reviewed earlier. Execution repeats
// the traversal with writes, inside a single atomic scope.
package engine

import (
	"context"
	"sort"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
	"github.com/mkoval/entcopy/internal/store"
)

// Copier runs one copy request. It is single-use: create one per request.
type Copier struct {
	schema *schema.Schema
	store  store.Store
	req    *Request
	input  map[string]any

	refMap  RefMap
	ignored IgnoredMap
	created OutputMap

	// seen records every type reached during validation and the scope ids
	// selected for it. Doubles as the duplicate-type guard and as the
	// "affected" sets for compound filters during validation.
	seen map[string][]string

	// walk order of types, for deterministic iteration over seen.
	seenOrder []string

	deferred []deferredIgnore
}

// deferredIgnore is an ignore condition queued during the walk. Conditions
// are evaluated only after the whole tree has run, because descendants may
// still add the reference-map entries they depend on.
type deferredIgnore struct {
	node  *NodeConfig
	extra query.Pred
}

// New creates a Copier for one request.
func New(s *schema.Schema, st store.Store, req *Request) *Copier {
	return &Copier{
		schema: s,
		store:  st,
		req:    req,
		input:  req.Input,
	}
}

// Run executes the full protocol: validate, gate, and (if admitted) the
// atomic execution pass. Data-state outcomes come back inside the Result;
// returned errors are configuration defects or store failures.
func (c *Copier) Run(ctx context.Context) (*Result, error) {
	if err := c.validate(ctx); err != nil {
		return nil, err
	}

	if abort := c.checkAbort(); abort != nil {
		return abort, nil
	}

	c.created = make(OutputMap)
	err := c.store.Atomic(ctx, func(tx store.Store) error {
		for _, root := range c.req.Config.Roots {
			if err := c.executeNode(ctx, tx, root, nil, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Success: true,
		RefMap:  c.refMap,
		Ignored: c.ignored,
		Created: c.created,
	}, nil
}

// Validate runs only the read-only pass and returns the resolution snapshot
// as an unsuccessful-but-clean Result (no abort reason). Useful for the
// review step of the review-then-confirm workflow.
func (c *Copier) Validate(ctx context.Context) (*Result, error) {
	if err := c.validate(ctx); err != nil {
		return nil, err
	}
	return &Result{RefMap: c.refMap, Ignored: c.ignored}, nil
}

// selectForNode fetches the node's scope: root filter resolved from input,
// conjoined with the node's static predicate and the walk-supplied extra
// predicate.
func (c *Copier) selectForNode(ctx context.Context, node *NodeConfig, extra query.Pred) ([]*schema.Entity, error) {
	return c.selectOn(ctx, c.store, node, extra)
}

// selectOn is selectForNode against an explicit store; execution passes the
// transaction here.
func (c *Copier) selectOn(ctx context.Context, st store.Store, node *NodeConfig, extra query.Pred) ([]*schema.Entity, error) {
	root, err := c.rootPred(node)
	if err != nil {
		return nil, err
	}
	return st.Select(ctx, node.Type, query.AndOf(root, node.Static, extra))
}

func (c *Copier) rootPred(node *NodeConfig) (query.Pred, error) {
	if len(node.RootFilter) == 0 {
		return nil, nil
	}
	preds := make([]query.Pred, 0, len(node.RootFilter))
	for _, field := range sortedKeys(node.RootFilter) {
		inputKey := node.RootFilter[field]
		value, ok := c.input[inputKey]
		if !ok {
			return nil, configErrf("root filter on %s needs input %q", node.Type, inputKey)
		}
		preds = append(preds, query.Eq{Field: field, Value: value})
	}
	return query.AndOf(preds...), nil
}

func entityIDs(entities []*schema.Entity) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	return ids
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
