package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MetadataField is one key/value pair of document metadata.
// Values are scalars: string, bool, int64, float64 or nil.
type MetadataField struct {
	Key   string
	Value any
}

// Metadata is an ordered mapping from string keys to scalars.
// It encodes as a JSON object whose key order is preserved.
type Metadata []MetadataField

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) (any, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Clone returns a copy that shares no backing array with m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	copy(out, m)
	return out
}

// MarshalJSON encodes m as an object in field order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", f.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping key order. Nested objects and
// arrays are rejected; integral numbers decode as int64, others as float64.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata must be a JSON object")
	}

	out := Metadata{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("metadata key must be a string")
		}

		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		var value any
		switch v := valTok.(type) {
		case json.Delim:
			return fmt.Errorf("metadata value for %q must be a scalar", key)
		case json.Number:
			if i, err := v.Int64(); err == nil {
				value = i
			} else {
				f, err := v.Float64()
				if err != nil {
					return fmt.Errorf("metadata %q: %w", key, err)
				}
				value = f
			}
		default:
			value = v
		}
		out = append(out, MetadataField{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
