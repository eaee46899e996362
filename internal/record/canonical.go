package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// refKey is the single key of the JSON object that encodes a Ref.
const refKey = "$ref"

// MarshalCanonical produces RFC 8785 canonical JSON for a field map.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings and keys are NFC normalized
//  4. Floats always carry a fraction or exponent so they decode as Float
//  5. Refs encode as {"$ref":"<oid>"}
//
// Snapshots are stored in this form, so equal field maps always produce
// identical bytes.
func MarshalCanonical(f Fields) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(f[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue encodes a single Value in canonical form.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case String:
		return marshalCanonicalString(string(val))
	case Int, Float, Bool:
		_, text, err := Encode(val)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	case Ref:
		oid, err := marshalCanonicalString(string(val))
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(oid)+10)
		out = append(out, `{"$ref":`...)
		out = append(out, oid...)
		out = append(out, '}')
		return out, nil
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// UnmarshalFields decodes a JSON object into Fields.
// Numbers without a fraction or exponent become Int, others Float.
// Null, arrays, and objects other than {"$ref": "..."} are rejected.
func UnmarshalFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("unmarshal fields: expected object, got null")
	}
	return FieldsFromAny(raw)
}

// FieldsFromAny converts a decoded JSON/YAML map into Fields.
func FieldsFromAny(raw map[string]any) (Fields, error) {
	out := make(Fields, len(raw))
	for k, v := range raw {
		val, err := ValueFromAny(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// ValueFromAny converts a Go value produced by a JSON or YAML decoder into a Value.
func ValueFromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a field value")
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return Int(int64(val)), nil
	case float64:
		return Float(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			f, err := val.Float64()
			if err != nil {
				return nil, fmt.Errorf("invalid float %s: %w", s, err)
			}
			return Float(f), nil
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case map[string]any:
		ref, ok := val[refKey].(string)
		if len(val) != 1 || !ok {
			return nil, fmt.Errorf("nested objects are not field values (only {%q: oid})", refKey)
		}
		return Ref(ref), nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// marshalCanonicalString produces a canonical JSON string with NFC normalization.
// Only control characters, backslash, and quote are escaped.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds trailing newline
	result := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return unescapeLineSeparators(result), nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes Go's encoder
// emits back into literal characters, leaving escaped backslashes alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' || i+1 >= len(data) {
			out = append(out, data[i])
			continue
		}
		if i+6 <= len(data) && string(data[i+1:i+5]) == "u202" && (data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		// any other escape is copied as a pair so \\u2028 stays escaped
		out = append(out, data[i], data[i+1])
		i++
	}
	return out
}
