// Package plan loads copy plans from YAML. A plan file declares the entity
// schema and the copy configuration tree in one document, covering the
// declarative subset of the engine configuration; custom match, ignore, and
// hook functions are only available to Go callers.
package plan

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mkoval/entcopy/internal/engine"
	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
)

// Plan is a parsed and validated plan file.
type Plan struct {
	Schema *schema.Schema
	Config *engine.Config
}

// File is the YAML document shape.
type File struct {
	Schema []TypeDef `yaml:"schema"`
	Copy   []*Node   `yaml:"copy"`
}

// TypeDef declares one entity type.
type TypeDef struct {
	Name      string        `yaml:"name"`
	Table     string        `yaml:"table"`
	Fields    []string      `yaml:"fields"`
	Relations []RelationDef `yaml:"relations"`
}

// RelationDef declares one relation on a type.
type RelationDef struct {
	Name     string       `yaml:"name"`
	Kind     string       `yaml:"kind"`
	Target   string       `yaml:"target"`
	FKField  string       `yaml:"fk_field"`
	Nullable bool         `yaml:"nullable"`
	Junction *JunctionDef `yaml:"junction"`
}

// JunctionDef names the link type of a shared relation.
type JunctionDef struct {
	Type      string `yaml:"type"`
	FromField string `yaml:"from_field"`
	ToField   string `yaml:"to_field"`
}

// Node declares the copy configuration of one entity type.
type Node struct {
	Type                 string              `yaml:"type"`
	RootFilter           map[string]string   `yaml:"root_filter"`
	Static               map[string]any      `yaml:"static"`
	Fields               map[string]*Field   `yaml:"fields"`
	Compound             []*Node             `yaml:"compound"`
	Ignore               []IgnoreDef         `yaml:"ignore"`
	DeleteBefore         []map[string]string `yaml:"delete_before"`
	ErrorOnEmptyCompound bool                `yaml:"error_on_empty_compound"`
}

// Field declares the copy action for one field. A bare string is shorthand
// for an action with no parameters:
//
//	fields:
//	  name: take_from_origin
//	  region_id:
//	    action: set_to_filter
//	    reference_to: region
//	    match:
//	      code: from_origin
type Field struct {
	Action      string              `yaml:"action"`
	InputKey    string              `yaml:"input_key"`
	ReferenceTo string              `yaml:"reference_to"`
	Match       map[string]MatchDef `yaml:"match"`
	CopyWith    *Node               `yaml:"copy_with"`
}

// UnmarshalYAML accepts the scalar shorthand alongside the full mapping.
func (f *Field) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&f.Action)
	}
	type plain Field
	return value.Decode((*plain)(f))
}

// MatchDef is one declarative match filter. The scalar shorthand
// "from_origin" stands for a source with no input key.
type MatchDef struct {
	Source   string `yaml:"source"`
	InputKey string `yaml:"input_key"`
}

// UnmarshalYAML accepts the scalar shorthand alongside the full mapping.
func (m *MatchDef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&m.Source)
	}
	type plain MatchDef
	return value.Decode((*plain)(m))
}

// IgnoreDef is one declarative ignore filter.
type IgnoreDef struct {
	Path        []string `yaml:"path"`
	OriginType  string   `yaml:"origin_type"`
	OriginField string   `yaml:"origin_field"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return Parse(data)
}

// Parse validates a plan document. Unknown YAML keys are rejected.
func Parse(data []byte) (*Plan, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	if len(file.Schema) == 0 {
		return nil, fmt.Errorf("plan declares no schema")
	}
	if len(file.Copy) == 0 {
		return nil, fmt.Errorf("plan declares no copy roots")
	}

	s, err := buildSchema(file.Schema)
	if err != nil {
		return nil, err
	}

	roots := make([]*engine.NodeConfig, 0, len(file.Copy))
	for _, node := range file.Copy {
		built, err := buildNode(node)
		if err != nil {
			return nil, err
		}
		roots = append(roots, built)
	}

	cfg, err := engine.NewConfig(s, roots)
	if err != nil {
		return nil, err
	}
	return &Plan{Schema: s, Config: cfg}, nil
}

func buildSchema(defs []TypeDef) (*schema.Schema, error) {
	out := make([]schema.TypeDef, 0, len(defs))
	for _, def := range defs {
		td := schema.TypeDef{
			Name:   def.Name,
			Table:  def.Table,
			Fields: def.Fields,
		}
		for _, rd := range def.Relations {
			rel := schema.Relation{
				Name:     rd.Name,
				Kind:     schema.RelKind(rd.Kind),
				Target:   rd.Target,
				FKField:  rd.FKField,
				Nullable: rd.Nullable,
			}
			if rd.Junction != nil {
				rel.Junction = &schema.Junction{
					Type:      rd.Junction.Type,
					FromField: rd.Junction.FromField,
					ToField:   rd.Junction.ToField,
				}
			}
			td.Relations = append(td.Relations, rel)
		}
		out = append(out, td)
	}
	return schema.New(out)
}

func buildNode(node *Node) (*engine.NodeConfig, error) {
	if node == nil {
		return nil, fmt.Errorf("plan: empty copy node")
	}
	out := &engine.NodeConfig{
		Type:                 node.Type,
		RootFilter:           node.RootFilter,
		Static:               staticPred(node.Static),
		ErrorOnEmptyCompound: node.ErrorOnEmptyCompound,
	}

	if len(node.Fields) > 0 {
		out.Fields = make(map[string]engine.FieldCopy, len(node.Fields))
		for name, field := range node.Fields {
			fc, err := buildField(node.Type, name, field)
			if err != nil {
				return nil, err
			}
			out.Fields[name] = fc
		}
	}

	for _, compound := range node.Compound {
		built, err := buildNode(compound)
		if err != nil {
			return nil, err
		}
		out.Compound = append(out.Compound, built)
	}

	if len(node.Ignore) > 0 {
		cond := &engine.IgnoreCondition{}
		for _, def := range node.Ignore {
			cond.Filters = append(cond.Filters, engine.IgnoreFilter{
				Path:        def.Path,
				OriginType:  def.OriginType,
				OriginField: def.OriginField,
			})
		}
		out.Ignore = cond
	}

	for _, filter := range node.DeleteBefore {
		if len(filter) == 0 {
			return nil, fmt.Errorf("plan: empty delete_before filter on %s", node.Type)
		}
		out.PreSteps = append(out.PreSteps, engine.Step{DeleteFilter: filter})
	}

	return out, nil
}

func buildField(typeName, name string, field *Field) (engine.FieldCopy, error) {
	if field == nil || field.Action == "" {
		return engine.FieldCopy{}, fmt.Errorf("plan: field %s.%s has no action", typeName, name)
	}
	fc := engine.FieldCopy{
		Action:      engine.Action(field.Action),
		InputKey:    field.InputKey,
		ReferenceTo: field.ReferenceTo,
	}

	if field.CopyWith != nil {
		built, err := buildNode(field.CopyWith)
		if err != nil {
			return engine.FieldCopy{}, err
		}
		fc.CopyWith = built
	}

	if len(field.Match) > 0 {
		mc := &engine.MatchConfig{Fields: make(map[string]engine.FieldMatch, len(field.Match))}
		for matchField, def := range field.Match {
			switch engine.MatchSource(def.Source) {
			case engine.FromInput, engine.FromOrigin:
			default:
				return engine.FieldCopy{}, fmt.Errorf("plan: match field %s on %s.%s has unknown source %q",
					matchField, typeName, name, def.Source)
			}
			mc.Fields[matchField] = engine.FieldMatch{
				Source:   engine.MatchSource(def.Source),
				InputKey: def.InputKey,
			}
		}
		fc.Match = mc
	}

	return fc, nil
}

// staticPred turns the static equality map into a predicate, keys sorted for
// a stable query shape.
func staticPred(static map[string]any) query.Pred {
	if len(static) == 0 {
		return nil
	}
	fields := make([]string, 0, len(static))
	for field := range static {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	preds := make([]query.Pred, 0, len(fields))
	for _, field := range fields {
		preds = append(preds, query.Eq{Field: field, Value: static[field]})
	}
	return query.AndOf(preds...)
}
