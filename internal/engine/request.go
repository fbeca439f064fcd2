package engine

import (
	"fmt"
	"sort"
)

// FieldRefMap maps each referenced origin id to the id of the matching
// destination-context entity, or nil when nothing matched.
type FieldRefMap map[string]*string

// RefMap is the full reference map: entity type -> field name -> FieldRefMap.
type RefMap map[string]map[string]FieldRefMap

// IgnoredMap lists, per entity type, the origin ids excluded from the copy.
// Id lists are kept sorted.
type IgnoredMap map[string][]string

// OutputMap records, per entity type, origin id -> newly created copy id.
// It exists only as the by-product of one execution.
type OutputMap map[string]map[string]string

// Request is the input for one copy request.
type Request struct {
	// Input holds named parameters referenced by root filters, input-sourced
	// fields, and match filters.
	Input map[string]any

	// Config is the validated configuration tree.
	Config *Config

	// ConfirmWrite lets the request proceed despite unresolved references or
	// ignored entities, provided prior maps (if supplied) still match.
	ConfirmWrite bool

	// PriorRefMap and PriorIgnored come from an earlier result. When set,
	// the fresh maps must be identical for a confirmed write to proceed.
	PriorRefMap  RefMap
	PriorIgnored IgnoredMap
}

// AbortReason says why a request did not reach execution.
type AbortReason string

const (
	AbortNotMatched         AbortReason = "NOT_MATCHED"
	AbortIgnored            AbortReason = "IGNORED"
	AbortDataChangedRefMap  AbortReason = "DATA_CHANGED_REFERENCE_MAP"
	AbortDataChangedIgnored AbortReason = "DATA_CHANGED_IGNORED_MAP"
)

// Result is the outcome of one copy request. RefMap and Ignored are always
// present; Created only on success.
type Result struct {
	Success bool
	Reason  AbortReason
	RefMap  RefMap
	Ignored IgnoredMap
	Created OutputMap
}

// ConfigError marks a defect in the configuration tree or its use of the
// schema. It is a programming error: fatal, never retried, never part of a
// Result.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

func configErrf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

func (m RefMap) ensure(typeName, field string) FieldRefMap {
	byField, ok := m[typeName]
	if !ok {
		byField = make(map[string]FieldRefMap)
		m[typeName] = byField
	}
	frm, ok := byField[field]
	if !ok {
		frm = make(FieldRefMap)
		byField[field] = frm
	}
	return frm
}

// HasUnresolved reports whether any entry anywhere in the map is nil.
func (m RefMap) HasUnresolved() bool {
	for _, byField := range m {
		for _, frm := range byField {
			for _, v := range frm {
				if v == nil {
					return true
				}
			}
		}
	}
	return false
}

// Equal compares two reference maps structurally. Empty and nil field maps
// compare equal.
func (m RefMap) Equal(other RefMap) bool {
	if len(m) != len(other) {
		return false
	}
	for typeName, byField := range m {
		otherByField, ok := other[typeName]
		if !ok || len(byField) != len(otherByField) {
			return false
		}
		for field, frm := range byField {
			otherFRM, ok := otherByField[field]
			if !ok || len(frm) != len(otherFRM) {
				return false
			}
			for id, v := range frm {
				ov, ok := otherFRM[id]
				if !ok {
					return false
				}
				if (v == nil) != (ov == nil) {
					return false
				}
				if v != nil && *v != *ov {
					return false
				}
			}
		}
	}
	return true
}

// Equal compares two ignored maps. Id lists are compared as sorted sets.
func (m IgnoredMap) Equal(other IgnoredMap) bool {
	if len(m) != len(other) {
		return false
	}
	for typeName, ids := range m {
		otherIDs, ok := other[typeName]
		if !ok || len(ids) != len(otherIDs) {
			return false
		}
		a := sortedCopy(ids)
		b := sortedCopy(otherIDs)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
