package record

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the field value types a Record can hold.
// Only String, Int, Float, Bool, and Ref implement it.
type Value interface {
	recordValue() // Sealed - only these types implement it
}

// String is a text field value.
type String string

func (String) recordValue() {}

// Int is an integer field value. Int(1) and Float(1) are different values.
type Int int64

func (Int) recordValue() {}

// Float is a finite floating point field value.
type Float float64

func (Float) recordValue() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) recordValue() {}

// Ref points at another object by OID.
type Ref string

func (Ref) recordValue() {}

// Type tags used by the (type, text) storage form of a Value.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeRef    = "ref"
)

// Encode returns the type tag and canonical text of v.
// The pair is what SQL storage and field queries compare against.
func Encode(v Value) (string, string, error) {
	switch val := v.(type) {
	case String:
		return TypeString, string(val), nil
	case Int:
		return TypeInt, strconv.FormatInt(int64(val), 10), nil
	case Float:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return "", "", fmt.Errorf("non-finite float %v", float64(val))
		}
		return TypeFloat, formatFloat(float64(val)), nil
	case Bool:
		return TypeBool, strconv.FormatBool(bool(val)), nil
	case Ref:
		return TypeRef, string(val), nil
	default:
		return "", "", fmt.Errorf("unknown value type: %T", v)
	}
}

// Decode is the inverse of Encode.
func Decode(typ, text string) (Value, error) {
	switch typ {
	case TypeString:
		return String(text), nil
	case TypeInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode int %q: %w", text, err)
		}
		return Int(n), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("decode float %q: %w", text, err)
		}
		return Float(f), nil
	case TypeBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("decode bool %q: %w", text, err)
		}
		return Bool(b), nil
	case TypeRef:
		return Ref(text), nil
	default:
		return nil, fmt.Errorf("unknown value type tag %q", typ)
	}
}

// formatFloat renders f so that it never parses back as an integer.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Equal reports whether a and b hold the same type and value.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// Text returns the canonical text of v, or "" for an unknown type.
func Text(v Value) string {
	_, text, err := Encode(v)
	if err != nil {
		return ""
	}
	return text
}

// Fields maps payload field names to values.
// Use SortedKeys() for deterministic iteration.
type Fields map[string]Value

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a shallow copy. Values are immutable so this is a full copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering.
// Go's default string comparison uses UTF-8 which produces a different order
// for characters outside the BMP.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
