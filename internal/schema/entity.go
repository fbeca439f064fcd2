package schema

// Entity is an opaque record of some entity type. The engine only ever reads
// field values and the id; it never mutates an entity it selected.
type Entity struct {
	Type   string
	ID     string
	Fields map[string]any
}

// Get returns the value of a field, or nil when absent.
func (e *Entity) Get(name string) any {
	return e.Fields[name]
}

// Ref returns the id stored in a foreign-key field as a string, with ok=false
// when the field is nil or absent (a null reference).
func (e *Entity) Ref(field string) (string, bool) {
	v, ok := e.Fields[field]
	if !ok || v == nil {
		return "", false
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
