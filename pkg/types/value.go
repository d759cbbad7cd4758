package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ValueKind tags the dynamic type of a row value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindInt
	KindReal
	KindText
	KindBlob
)

// Value is a dynamically typed row primitive: null, 64-bit integer, double,
// text, or blob. The JSON-compatible subset excludes Blob.
type Value struct {
	Kind ValueKind
	Int  int64
	Real float64
	Text string
	Blob []byte
}

func Null() Value          { return Value{Kind: KindNull} }
func Int(v int64) Value    { return Value{Kind: KindInt, Int: v} }
func Real(v float64) Value { return Value{Kind: KindReal, Real: v} }
func Text(v string) Value  { return Value{Kind: KindText, Text: v} }
func Blob(v []byte) Value  { return Value{Kind: KindBlob, Blob: v} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal compares two values for logical equality.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInt:
		return v.Int == o.Int
	case KindReal:
		return v.Real == o.Real
	case KindText:
		return v.Text == o.Text
	case KindBlob:
		return string(v.Blob) == string(o.Blob)
	}
	return false
}

// MarshalJSON renders the JSON-compatible subset. Blobs are not
// representable and return an error.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		return json.Marshal(v.Int)
	case KindReal:
		if math.IsNaN(v.Real) || math.IsInf(v.Real, 0) {
			return nil, fmt.Errorf("cannot encode non-finite float %v", v.Real)
		}
		return json.Marshal(v.Real)
	case KindText:
		return json.Marshal(v.Text)
	case KindBlob:
		return nil, fmt.Errorf("cannot encode blob value as JSON")
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind)
}

// UnmarshalJSON decodes a JSON primitive into a Value. Numbers without a
// fractional part decode as integers.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Null()
	case json.Number:
		if i, err := t.Int64(); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return err
		}
		*v = Real(f)
	case string:
		*v = Text(t)
	case bool:
		// Booleans are not part of the storage model; ingest normalizes
		// them to 0/1.
		if t {
			*v = Int(1)
		} else {
			*v = Int(0)
		}
	default:
		return fmt.Errorf("unsupported JSON value %T for row primitive", raw)
	}
	return nil
}

// Row is a named collection of values: one evaluated output row.
type Row map[string]Value

// Equal compares two rows field by field.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// CanonicalJSON serializes the row with sorted keys, producing the same
// bytes for equal rows on every platform and run. These bytes feed op
// checksums, so the format is part of the persisted schema.
func (r Row) CanonicalJSON() (string, error) {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		vb, err := r[k].MarshalJSON()
		if err != nil {
			return "", fmt.Errorf("field %q: %w", k, err)
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return string(buf), nil
}
