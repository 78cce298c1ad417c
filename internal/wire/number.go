package wire

import (
	"bytes"
	"encoding/json"
	"maps"
	"math"
)

// decodeObject parses a JSON object with numbers in canonical form.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	for k, v := range obj {
		obj[k] = canonicalValue(v)
	}
	return obj, nil
}

// canonicalPayload rewrites payload into the form DecodeBody produces, so an
// envelope compares equal to its own decoded frame. Values that cannot be
// encoded are left as a plain copy; Encode reports them.
func canonicalPayload(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err == nil {
		if obj, err := decodeObject(raw); err == nil {
			return obj
		}
	}
	p := make(map[string]any, len(payload))
	maps.Copy(p, payload)
	return p
}

// canonicalValue maps json.Number to int64 when the value is integral and
// fits, float64 otherwise, recursing into arrays and objects.
func canonicalValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f)
		}
		return f
	case []any:
		for i := range t {
			t[i] = canonicalValue(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = canonicalValue(t[k])
		}
		return t
	default:
		return v
	}
}
