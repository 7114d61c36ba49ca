// Package medallion holds the types shared by every pipeline stage: the
// source record, the layer layout and the stage error taxonomy.
package medallion

import (
	"encoding/json"
	"strconv"
)

// Record is one flat entity from the source collection. Field order is the
// order in which keys first appeared in the source document.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns an empty record.
func NewRecord() Record {
	return Record{values: make(map[string]any)}
}

// RecordOf builds a record from alternating key/value pairs.
// It panics on an odd number of arguments or a non-string key.
func RecordOf(kv ...any) Record {
	if len(kv)%2 != 0 {
		panic("medallion: RecordOf needs key/value pairs")
	}
	r := NewRecord()
	for i := 0; i < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

// Set assigns a field, appending the key if it is new.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value of a field and whether it is present.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the field names in first-appearance order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Text renders a field value the way it is written to the raw snapshot.
// Null and absent values render as the empty string.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.RawMessage:
		return string(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// UnionKeys returns the union of all record keys, ordered by first
// appearance across the sequence.
func UnionKeys(records []Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		for _, k := range r.keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}
