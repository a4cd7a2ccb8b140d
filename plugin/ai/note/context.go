package note

import (
	"encoding/json"
	"maps"
)

// Context keys folded in by the retry controller.
const (
	ContextKeyValidationFeedback = "validation_feedback"
	ContextKeySuggestions        = "suggestions"
	ContextKeyEntities           = "entities"
)

// Context is an immutable key/value snapshot serialized into the generation prompt.
// Every With call returns a new snapshot; the receiver is never modified.
type Context struct {
	values map[string]any
}

// NewContext copies values into a new snapshot.
func NewContext(values map[string]any) Context {
	return Context{values: maps.Clone(values)}
}

// With returns a snapshot with key set to value.
func (c Context) With(key string, value any) Context {
	next := make(map[string]any, len(c.values)+1)
	maps.Copy(next, c.values)
	next[key] = value
	return Context{values: next}
}

// WithFeedback folds a judge verdict into a new snapshot.
func (c Context) WithFeedback(v Verdict) Context {
	suggestions := append([]string(nil), v.Suggestions...)
	return c.With(ContextKeyValidationFeedback, v.Reason).With(ContextKeySuggestions, suggestions)
}

// Get returns the value stored under key.
func (c Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Len returns the number of keys.
func (c Context) Len() int {
	return len(c.values)
}

// Map returns a copy of the underlying values.
func (c Context) Map() map[string]any {
	return maps.Clone(c.values)
}

// JSON renders the snapshot with sorted keys.
func (c Context) JSON() string {
	if len(c.values) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(c.values, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
