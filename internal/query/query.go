// Package query defines the predicate algebra the copy engine hands to a
// store. Predicates are plain data; each store implementation interprets
// them against its own backend. A nil Pred means "match everything".
package query

import (
	"fmt"
	"strings"
)

// Pred is a predicate over entities of one type.
type Pred interface {
	isPred()
	String() string
}

// Eq matches entities whose field equals a value.
type Eq struct {
	Field string
	Value any
}

// In matches entities whose field holds one of the given ids. The field is
// usually a foreign-key field; the id field itself may also be named.
type In struct {
	Field string
	IDs   []string
}

// IsNull matches entities whose field is null or absent.
type IsNull struct {
	Field string
}

// HasRel matches entities from which the given relation path reaches at
// least one entity whose id is in IDs. Path elements are relation names on
// successive types; the ids constrain the entity the final relation lands on.
type HasRel struct {
	Path []string
	IDs  []string
}

// NoRel matches entities with no related entity at all through the named
// relation. For a shared relation this means no junction rows.
type NoRel struct {
	Rel string
}

// And matches when every member matches. Nil members are ignored.
type And []Pred

// Or matches when any member matches. Nil members are ignored.
type Or []Pred

// Not inverts a predicate.
type Not struct {
	P Pred
}

func (Eq) isPred()     {}
func (In) isPred()     {}
func (IsNull) isPred() {}
func (HasRel) isPred() {}
func (NoRel) isPred()  {}
func (And) isPred()    {}
func (Or) isPred()     {}
func (Not) isPred()    {}

func (p Eq) String() string     { return fmt.Sprintf("%s = %v", p.Field, p.Value) }
func (p In) String() string     { return fmt.Sprintf("%s in (%s)", p.Field, strings.Join(p.IDs, ",")) }
func (p IsNull) String() string { return p.Field + " is null" }
func (p HasRel) String() string {
	return fmt.Sprintf("%s reaches (%s)", strings.Join(p.Path, "."), strings.Join(p.IDs, ","))
}
func (p NoRel) String() string { return "no " + p.Rel }
func (p And) String() string   { return join(p, " and ") }
func (p Or) String() string    { return join(p, " or ") }
func (p Not) String() string {
	if p.P == nil {
		return "not ()"
	}
	return "not (" + p.P.String() + ")"
}

func join(ps []Pred, sep string) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			parts = append(parts, "("+p.String()+")")
		}
	}
	return strings.Join(parts, sep)
}

// AndOf conjoins predicates, dropping nils. Returns nil when nothing is left.
func AndOf(ps ...Pred) Pred {
	return combine(ps, func(kept []Pred) Pred { return And(kept) })
}

// OrOf disjoins predicates, dropping nils. Returns nil when nothing is left.
func OrOf(ps ...Pred) Pred {
	return combine(ps, func(kept []Pred) Pred { return Or(kept) })
}

func combine(ps []Pred, wrap func([]Pred) Pred) Pred {
	kept := make([]Pred, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return wrap(kept)
}
