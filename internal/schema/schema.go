// Package schema describes the entity types the copy engine operates on:
// plain fields, relations between types, and nullability. A Schema is built
// once, validated once, and treated as immutable afterwards. The engine never
// introspects storage at runtime; everything it needs to know about a field
// or relation lives here.
package schema

import (
	"fmt"
	"sort"
)

// RelKind classifies a relation between two entity types.
type RelKind string

const (
	// ToOne is a forward reference: the entity holds the id of one related
	// entity in a foreign-key field. May be nullable.
	ToOne RelKind = "to_one"
	// ToManyOwned is a reverse reference: related entities of another type
	// hold a foreign-key field pointing back at this entity. Children are
	// structurally owned by the parent.
	ToManyOwned RelKind = "to_many_owned"
	// ToManyShared is a many-to-many reference through a junction type.
	ToManyShared RelKind = "to_many_shared"
)

// Relation describes one named relation on an entity type.
type Relation struct {
	Name   string
	Kind   RelKind
	Target string // related entity type name

	// FKField is the field holding the related id. For ToOne it lives on
	// this type; for ToManyOwned it lives on the target (child) type.
	FKField string

	// Nullable applies to ToOne relations only.
	Nullable bool

	// Junction describes the link type for ToManyShared relations.
	Junction *Junction
}

// Junction names the entity type whose rows link two types, and the two
// foreign-key fields on it. FromField points back at the owning side,
// ToField at the related side.
type Junction struct {
	Type      string
	FromField string
	ToField   string
}

// EntityType describes one entity type: its value fields and relations.
// The id field is implicit and is not listed in Fields.
type EntityType struct {
	Name   string
	Table  string // storage table name; defaults to Name if empty
	Fields []string

	relations map[string]*Relation
	fieldSet  map[string]bool
}

// Relation returns the named relation, or nil.
func (et *EntityType) Relation(name string) *Relation {
	return et.relations[name]
}

// Relations returns all relations sorted by name.
func (et *EntityType) Relations() []*Relation {
	names := make([]string, 0, len(et.relations))
	for name := range et.relations {
		names = append(names, name)
	}
	sort.Strings(names)
	rels := make([]*Relation, 0, len(names))
	for _, name := range names {
		rels = append(rels, et.relations[name])
	}
	return rels
}

// HasField reports whether name is a declared value field (relations and the
// id field do not count).
func (et *EntityType) HasField(name string) bool {
	return et.fieldSet[name]
}

// TableName returns the storage table for the type.
func (et *EntityType) TableName() string {
	if et.Table != "" {
		return et.Table
	}
	return et.Name
}

// Schema is a validated set of entity types.
type Schema struct {
	types map[string]*EntityType
}

// TypeDef is the construction-time description of an entity type.
type TypeDef struct {
	Name      string
	Table     string
	Fields    []string
	Relations []Relation
}

// New builds and validates a Schema from type definitions. Validation is
// strict: every relation must name a known target type, foreign-key fields
// must exist on the type that carries them, and junction types must declare
// both key fields. A schema that passes New never needs re-checking during
// a walk.
func New(defs []TypeDef) (*Schema, error) {
	s := &Schema{types: make(map[string]*EntityType, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("schema: entity type with empty name")
		}
		if _, ok := s.types[def.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate entity type %q", def.Name)
		}
		et := &EntityType{
			Name:      def.Name,
			Table:     def.Table,
			Fields:    append([]string(nil), def.Fields...),
			relations: make(map[string]*Relation),
			fieldSet:  make(map[string]bool, len(def.Fields)),
		}
		for _, f := range def.Fields {
			if et.fieldSet[f] {
				return nil, fmt.Errorf("schema: duplicate field %q on %s", f, def.Name)
			}
			et.fieldSet[f] = true
		}
		s.types[def.Name] = et
	}

	// Second pass: relations can reference any type.
	for _, def := range defs {
		et := s.types[def.Name]
		for i := range def.Relations {
			rel := def.Relations[i]
			if err := s.validateRelation(et, &rel); err != nil {
				return nil, err
			}
			et.relations[rel.Name] = &rel
		}
	}
	return s, nil
}

func (s *Schema) validateRelation(et *EntityType, rel *Relation) error {
	if rel.Name == "" {
		return fmt.Errorf("schema: relation with empty name on %s", et.Name)
	}
	if _, ok := et.relations[rel.Name]; ok {
		return fmt.Errorf("schema: duplicate relation %q on %s", rel.Name, et.Name)
	}
	if et.fieldSet[rel.Name] {
		return fmt.Errorf("schema: relation %q on %s collides with a field", rel.Name, et.Name)
	}
	target, ok := s.types[rel.Target]
	if !ok {
		return fmt.Errorf("schema: relation %s.%s targets unknown type %q", et.Name, rel.Name, rel.Target)
	}

	switch rel.Kind {
	case ToOne:
		if rel.FKField == "" {
			return fmt.Errorf("schema: to-one relation %s.%s has no foreign-key field", et.Name, rel.Name)
		}
		if !et.fieldSet[rel.FKField] {
			return fmt.Errorf("schema: to-one relation %s.%s names missing field %q", et.Name, rel.Name, rel.FKField)
		}
	case ToManyOwned:
		if rel.FKField == "" {
			return fmt.Errorf("schema: to-many relation %s.%s has no foreign-key field", et.Name, rel.Name)
		}
		if !target.fieldSet[rel.FKField] {
			return fmt.Errorf("schema: to-many relation %s.%s names field %q missing on %s",
				et.Name, rel.Name, rel.FKField, rel.Target)
		}
	case ToManyShared:
		if rel.Junction == nil {
			return fmt.Errorf("schema: shared relation %s.%s has no junction", et.Name, rel.Name)
		}
		jt, ok := s.types[rel.Junction.Type]
		if !ok {
			return fmt.Errorf("schema: junction type %q for %s.%s not declared", rel.Junction.Type, et.Name, rel.Name)
		}
		for _, key := range []string{rel.Junction.FromField, rel.Junction.ToField} {
			if key == "" || !jt.fieldSet[key] {
				return fmt.Errorf("schema: key %q not found on junction type %s", key, jt.Name)
			}
		}
	default:
		return fmt.Errorf("schema: relation %s.%s has unknown kind %q", et.Name, rel.Name, rel.Kind)
	}
	return nil
}

// Type returns the named entity type, or an error naming what is missing.
func (s *Schema) Type(name string) (*EntityType, error) {
	et, ok := s.types[name]
	if !ok {
		return nil, fmt.Errorf("schema: unknown entity type %q", name)
	}
	return et, nil
}

// MustType is Type for callers that already validated the name.
func (s *Schema) MustType(name string) *EntityType {
	et, ok := s.types[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown entity type %q", name))
	}
	return et
}

// TypeNames returns all type names sorted.
func (s *Schema) TypeNames() []string {
	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
