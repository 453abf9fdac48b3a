// Package answers models the schema-less answer bag carried by every
// submission: question-id keys mapping to either a single string or a list
// of strings. Keys are opaque — they referenced live questions at submission
// time and may be orphaned by later schema edits.
package answers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Value is a single answer: a scalar string (text and radio questions) or a
// list of strings (checkbox questions). The two shapes are kept distinct so
// callers can match on them instead of probing with runtime type checks.
type Value struct {
	scalar string
	list   []string
	isList bool
}

// Scalar wraps a single-string answer.
func Scalar(s string) Value {
	return Value{scalar: s}
}

// List wraps a multi-select answer.
func List(items []string) Value {
	return Value{list: items, isList: true}
}

// IsList reports whether the value carries the list shape.
func (v Value) IsList() bool {
	return v.isList
}

// ScalarValue returns the scalar string; empty for list values.
func (v Value) ScalarValue() string {
	return v.scalar
}

// ListValue returns the list items; nil for scalar values.
func (v Value) ListValue() []string {
	return v.list
}

// IsEmpty reports whether the value has no content: an all-whitespace scalar
// or a zero-length list.
func (v Value) IsEmpty() bool {
	if v.isList {
		return len(v.list) == 0
	}
	return strings.TrimSpace(v.scalar) == ""
}

// Display renders the value for humans: list items joined with ", ",
// scalars as-is.
func (v Value) Display() string {
	if v.isList {
		return strings.Join(v.list, ", ")
	}
	return v.scalar
}

// MarshalJSON preserves the wire shape: scalars as JSON strings, lists as
// JSON arrays of strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isList {
		items := v.list
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	}
	return json.Marshal(v.scalar)
}

// UnmarshalJSON accepts a string, an array, or a bare scalar. Non-string
// scalars (numbers, booleans) are coerced to their textual form so a bag
// written by a loosely-typed client still loads.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("answers: empty value")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("answers: decode string: %w", err)
		}
		*v = Scalar(s)
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("answers: decode array: %w", err)
		}
		items := make([]string, 0, len(raw))
		for _, item := range raw {
			items = append(items, coerceScalar(item))
		}
		*v = List(items)
		return nil
	case '{':
		return fmt.Errorf("answers: object values are not supported")
	default:
		*v = Scalar(coerceScalar(trimmed))
		return nil
	}
}

func coerceScalar(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	return string(trimmed)
}

// Bag is the submission's answer map with stable iteration order. Decoding
// preserves the JSON object's key order, so a bag renders in the order the
// client built it.
type Bag struct {
	keys   []string
	values map[string]Value
}

// NewBag returns an empty bag.
func NewBag() Bag {
	return Bag{values: make(map[string]Value)}
}

// Set adds or replaces the value for a key. First insertion fixes the key's
// position in iteration order.
func (b *Bag) Set(key string, value Value) {
	if b.values == nil {
		b.values = make(map[string]Value)
	}
	if _, exists := b.values[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
}

// Get looks up the value for a key.
func (b Bag) Get(key string) (Value, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Len returns the number of entries.
func (b Bag) Len() int {
	return len(b.keys)
}

// Keys returns the keys in insertion order.
func (b Bag) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// MarshalJSON writes the bag as a JSON object in insertion order.
func (b Bag) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range b.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valueJSON, err := json.Marshal(b.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(valueJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, recording keys in the order they appear.
func (b *Bag) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("answers: decode bag: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("answers: bag must be a JSON object")
	}

	*b = NewBag()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("answers: decode bag key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("answers: bag key is not a string")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("answers: decode bag value %q: %w", key, err)
		}
		var value Value
		if err := json.Unmarshal(raw, &value); err != nil {
			return err
		}
		b.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("answers: decode bag close: %w", err)
	}
	return nil
}

// CanonicalJSON serializes the bag with keys sorted, independent of insertion
// order. Exports use it as the lossless catch-all cell, so two projections of
// the same bag are byte-identical.
func (b Bag) CanonicalJSON() string {
	keys := b.Keys()
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(key)
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valueJSON, _ := json.Marshal(b.values[key])
		buf.Write(valueJSON)
	}
	buf.WriteByte('}')
	return buf.String()
}
