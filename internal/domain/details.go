package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Details is a JSON object that remembers the order its keys were inserted in.
// The order is part of an activity record's hashed content, so it survives
// marshalling, storage and unmarshalling unchanged.
//
// Nested objects should be Details values as well; plain Go maps are encoded by
// encoding/json with sorted keys.
type Details struct {
	fields []Field
}

// Field is a single key/value pair of a Details object.
type Field struct {
	Key   string
	Value any
}

// NewDetails builds a Details object from the given fields, in order.
func NewDetails(fields ...Field) Details {
	var d Details
	for _, f := range fields {
		d.Set(f.Key, f.Value)
	}
	return d
}

// Set stores value under key. An existing key keeps its position.
func (d *Details) Set(key string, value any) {
	for i := range d.fields {
		if d.fields[i].Key == key {
			d.fields[i].Value = value
			return
		}
	}
	d.fields = append(d.fields, Field{Key: key, Value: value})
}

func (d Details) Get(key string) (any, bool) {
	for _, f := range d.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (d Details) Keys() []string {
	keys := make([]string, len(d.fields))
	for i, f := range d.fields {
		keys[i] = f.Key
	}
	return keys
}

func (d Details) Len() int {
	return len(d.fields)
}

// Fields returns a copy of the key/value pairs in insertion order.
func (d Details) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Clone returns a copy that shares no field slice with d. Nested Details are
// cloned too; other values are copied by assignment.
func (d Details) Clone() Details {
	out := Details{fields: make([]Field, len(d.fields))}
	for i, f := range d.fields {
		if nested, ok := f.Value.(Details); ok {
			f.Value = nested.Clone()
		}
		out.fields[i] = f
	}
	return out
}

// Normalize returns the value a store hands back after persisting d: nested
// maps become Details, numbers json.Number and invalid UTF-8 becomes U+FFFD.
// Hashing the normalized value keeps a record's hash stable across a round
// trip. It fails when d holds a value encoding/json cannot encode.
func (d Details) Normalize() (Details, error) {
	data, err := d.MarshalJSON()
	if err != nil {
		return Details{}, err
	}
	var out Details
	if err := out.UnmarshalJSON(data); err != nil {
		return Details{}, err
	}
	return out, nil
}

func (d Details) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal details key %q: %w", f.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal details value %q: %w", f.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keeping its key order. Nested objects become
// Details, arrays []any and numbers json.Number so their text is preserved.
func (d *Details) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode details: %w", err)
	}
	if tok == nil {
		*d = Details{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode details: expected object, got %v", tok)
	}

	out, err := decodeObject(dec)
	if err != nil {
		return fmt.Errorf("decode details: %w", err)
	}
	*d = out
	return nil
}

func decodeObject(dec *json.Decoder) (Details, error) {
	var d Details
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Details{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Details{}, fmt.Errorf("expected object key, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return Details{}, err
		}
		d.fields = append(d.fields, Field{Key: key, Value: val})
	}
	// closing brace
	if _, err := dec.Token(); err != nil {
		return Details{}, err
	}
	return d, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		return decodeObject(dec)
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}
