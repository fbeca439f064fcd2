package engine

import (
	"context"
	"sort"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
	"github.com/mkoval/entcopy/internal/store"
)

// Action says how one field of a copy gets its value.
type Action string

const (
	// TakeFromOrigin copies the field (or link set) verbatim.
	TakeFromOrigin Action = "take_from_origin"
	// TakeFromInput sets the field from a named input parameter.
	TakeFromInput Action = "take_from_input"
	// MakeCopy recursively copies the entities behind an owned to-many
	// relation, rewiring their parent reference to the new parent.
	MakeCopy Action = "make_copy"
	// UpdateToCopied rewrites the reference to point at the copy created
	// earlier in the same walk.
	UpdateToCopied Action = "update_to_copied"
	// SetToFilter rewrites the reference to an existing destination-context
	// entity found by the field's match configuration.
	SetToFilter Action = "set_to_filter"
)

// MatchSource says where a declarative match filter takes its value from.
type MatchSource string

const (
	// FromInput uses a fixed value from the request input; it narrows the
	// candidate set for all entities at once.
	FromInput MatchSource = "from_input"
	// FromOrigin uses the referenced origin entity's own field value; it
	// picks the candidate per entity.
	FromOrigin MatchSource = "from_origin"
)

// FieldMatch is one declarative match filter on a candidate field.
type FieldMatch struct {
	Source   MatchSource
	InputKey string // required for FromInput
}

// MatchContext carries everything a custom match function may need.
type MatchContext struct {
	Store      store.Store
	Node       *NodeConfig
	FieldName  string
	Input      map[string]any
	Entities   []*schema.Entity // current scope entities
	Referenced []*schema.Entity // origin entities the field points at
	RefMap     RefMap           // accumulated so far
}

// MatchFunc resolves referenced origin ids to destination ids directly.
// Escape hatch for matches not expressible as field equality.
type MatchFunc func(ctx context.Context, mc *MatchContext) (FieldRefMap, error)

// MatchConfig configures SetToFilter resolution: either declarative field
// filters or a custom function, never both.
type MatchConfig struct {
	Fields map[string]FieldMatch
	Func   MatchFunc
}

// FieldCopy configures the copy action for one field or relation.
type FieldCopy struct {
	Action Action

	InputKey    string      // TakeFromInput
	CopyWith    *NodeConfig // MakeCopy
	ReferenceTo string      // UpdateToCopied / SetToFilter target type
	Match       *MatchConfig
}

// IgnoreFilter selects entities to ignore because a reference-map entry they
// (transitively) depend on is unresolved. Path is a relation path from this
// node's type; an empty path matches the entity's own id.
type IgnoreFilter struct {
	Path        []string
	OriginType  string // type whose reference-map entries drive the filter
	OriginField string // field within those entries
}

// IgnoreContext carries the inputs of a custom ignore function.
type IgnoreContext struct {
	Store   store.Store
	Node    *NodeConfig
	Input   map[string]any
	RefMap  RefMap
	Ignored IgnoredMap
	Scope   query.Pred // the node's scope predicate during the walk
}

// IgnoreFunc returns the origin ids of entities to exclude.
type IgnoreFunc func(ctx context.Context, ic *IgnoreContext) ([]string, error)

// IgnoreCondition configures exclusion: declarative filters or a function.
type IgnoreCondition struct {
	Filters []IgnoreFilter
	Func    IgnoreFunc
}

// StepContext carries the inputs of a pre- or post-copy hook.
type StepContext struct {
	Store   store.Store
	Node    *NodeConfig
	Input   map[string]any
	RefMap  RefMap
	Created OutputMap
	Intents []*CopyIntent // post-copy hooks only
}

// StepFunc is a custom hook body.
type StepFunc func(ctx context.Context, sc *StepContext) error

// Step is one pre- or post-copy hook: a declarative delete-by-filter
// (field name -> input key) or a custom function.
type Step struct {
	DeleteFilter map[string]string
	Func         StepFunc
}

// NodeConfig configures the copy of one entity type in the walk.
type NodeConfig struct {
	Type string

	// RootFilter selects root entities from input parameters
	// (field name -> input key). Required on tree roots.
	RootFilter map[string]string

	// Static is conjoined into every selection for this node.
	Static query.Pred

	// Fields maps field/relation names to copy actions.
	Fields map[string]FieldCopy

	// Compound lists sibling types copied via reference-based filtering
	// rather than containment.
	Compound []*NodeConfig

	Ignore *IgnoreCondition

	PreSteps  []Step
	PostSteps []Step

	// ErrorOnEmptyCompound turns a computed-empty compound filter for this
	// node from a silent skip into a configuration error.
	ErrorOnEmptyCompound bool
}

// sortedFieldNames returns the node's field names in stable order.
func (n *NodeConfig) sortedFieldNames() []string {
	names := make([]string, 0, len(n.Fields))
	for name := range n.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config is a validated configuration tree.
type Config struct {
	Roots []*NodeConfig

	schema *schema.Schema
}

// NewConfig validates the whole tree against the schema once, so the walk
// never has to re-derive what a field is. Root nodes must carry a root
// filter. Field actions must agree with the relation kind they are attached
// to, reference targets must match the schema, and match configurations must
// supply exactly one of filters or function.
func NewConfig(s *schema.Schema, roots []*NodeConfig) (*Config, error) {
	if len(roots) == 0 {
		return nil, configErrf("no root nodes configured")
	}
	for _, root := range roots {
		if len(root.RootFilter) == 0 {
			return nil, configErrf("root config for %s must declare a root filter to narrow the query", root.Type)
		}
		if err := validateNodeConfig(s, root); err != nil {
			return nil, err
		}
	}
	return &Config{Roots: roots, schema: s}, nil
}

func validateNodeConfig(s *schema.Schema, node *NodeConfig) error {
	et, err := s.Type(node.Type)
	if err != nil {
		return configErrf("%v", err)
	}
	for field, rootField := range node.RootFilter {
		if !et.HasField(field) && field != "id" {
			return configErrf("root filter field %q not present on %s (input key %q)", field, node.Type, rootField)
		}
	}

	for _, name := range node.sortedFieldNames() {
		fc := node.Fields[name]
		if err := validateFieldCopy(s, et, name, fc); err != nil {
			return err
		}
		if fc.Action == MakeCopy {
			if err := validateNodeConfig(s, fc.CopyWith); err != nil {
				return err
			}
		}
	}

	for _, compound := range node.Compound {
		if err := validateNodeConfig(s, compound); err != nil {
			return err
		}
	}

	if cond := node.Ignore; cond != nil {
		if len(cond.Filters) == 0 && cond.Func == nil {
			return configErrf("ignore condition on %s has neither filters nor function", node.Type)
		}
		for _, f := range cond.Filters {
			if _, err := s.Type(f.OriginType); err != nil {
				return configErrf("ignore filter on %s references unknown origin type %q", node.Type, f.OriginType)
			}
			if err := validateRelPath(s, et, f.Path); err != nil {
				return configErrf("ignore filter on %s: %v", node.Type, err)
			}
		}
	}

	for _, steps := range [][]Step{node.PreSteps, node.PostSteps} {
		for _, step := range steps {
			if len(step.DeleteFilter) == 0 && step.Func == nil {
				return configErrf("hook step on %s has neither delete filter nor function", node.Type)
			}
		}
	}
	return nil
}

func validateFieldCopy(s *schema.Schema, et *schema.EntityType, name string, fc FieldCopy) error {
	rel := et.Relation(name)
	switch fc.Action {
	case TakeFromOrigin:
		if !et.HasField(name) && rel == nil {
			return configErrf("field %q declared on %s config but not present on type", name, et.Name)
		}
		if rel != nil && rel.Kind == schema.ToManyOwned {
			return configErrf("field %q on %s is an owned to-many relation; copy it with make_copy", name, et.Name)
		}
	case TakeFromInput:
		if fc.InputKey == "" {
			return configErrf("field %q on %s takes from input but names no input key", name, et.Name)
		}
		if !et.HasField(name) {
			return configErrf("field %q declared on %s config but not present on type", name, et.Name)
		}
	case MakeCopy:
		if rel == nil || rel.Kind != schema.ToManyOwned {
			return configErrf("expected an owned to-many relation on %s.%s for make_copy", et.Name, name)
		}
		if fc.CopyWith == nil {
			return configErrf("make_copy on %s.%s has no nested config", et.Name, name)
		}
		if fc.CopyWith.Type != rel.Target {
			return configErrf("make_copy on %s.%s copies %q but the relation targets %q",
				et.Name, name, fc.CopyWith.Type, rel.Target)
		}
	case UpdateToCopied:
		if rel == nil || rel.Kind == schema.ToManyOwned {
			return configErrf("expected a to-one or shared relation on %s.%s for update_to_copied", et.Name, name)
		}
		if fc.ReferenceTo != rel.Target {
			return configErrf("%q referenced from %s by field %q, but the relation targets %q",
				fc.ReferenceTo, et.Name, name, rel.Target)
		}
	case SetToFilter:
		if rel == nil || rel.Kind == schema.ToManyOwned {
			return configErrf("expected a to-one or shared relation on %s.%s for set_to_filter", et.Name, name)
		}
		if fc.ReferenceTo != rel.Target {
			return configErrf("%q referenced from %s by field %q, but the relation targets %q",
				fc.ReferenceTo, et.Name, name, rel.Target)
		}
		if fc.Match == nil || (len(fc.Match.Fields) == 0 && fc.Match.Func == nil) {
			return configErrf("set_to_filter on %s.%s has neither match filters nor match function", et.Name, name)
		}
		if len(fc.Match.Fields) > 0 && fc.Match.Func != nil {
			return configErrf("set_to_filter on %s.%s declares both match filters and a match function", et.Name, name)
		}
		target := s.MustType(rel.Target)
		for matchField, fm := range fc.Match.Fields {
			if !target.HasField(matchField) && matchField != "id" {
				return configErrf("match field %q not present on %s (set_to_filter %s.%s)",
					matchField, rel.Target, et.Name, name)
			}
			if fm.Source == FromInput && fm.InputKey == "" {
				return configErrf("match field %q on %s.%s takes from input but names no key", matchField, et.Name, name)
			}
		}
	default:
		return configErrf("unknown action %q on %s.%s", fc.Action, et.Name, name)
	}
	return nil
}

// validateRelPath checks that every element of a relation path exists,
// hopping types as it goes.
func validateRelPath(s *schema.Schema, from *schema.EntityType, path []string) error {
	current := from
	for _, hop := range path {
		rel := current.Relation(hop)
		if rel == nil {
			return configErrf("no relation %q on %s", hop, current.Name)
		}
		current = s.MustType(rel.Target)
	}
	return nil
}
