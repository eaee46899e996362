package changeset

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// decodeCUE evaluates a CUE changeset and converts the concrete result to
// generic values. Definitions and hidden fields are ignored, so a file may
// declare a schema next to the data.
func decodeCUE(data []byte, name string) (map[string]any, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, cueError("compile changeset", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError("changeset is not concrete", err)
	}

	raw, err := cueToAny(v)
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &Error{Message: fmt.Sprintf("changeset must be a struct, got %v", v.Kind())}
	}
	return m, nil
}

// cueToAny converts a concrete value by walking its kind.
func cueToAny(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, cueError("iterate struct", err)
		}
		out := map[string]any{}
		for iter.Next() {
			val, err := cueToAny(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Label()] = val
		}
		return out, nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, cueError("iterate list", err)
		}
		out := []any{}
		for iter.Next() {
			val, err := cueToAny(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, cueError("read string", err)
		}
		return s, nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, cueError("read int", err)
		}
		return n, nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, cueError("read float", err)
		}
		return f, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, cueError("read bool", err)
		}
		return b, nil
	default:
		return nil, &Error{Pos: position(v.Pos()), Message: fmt.Sprintf("unsupported value of kind %v", v.Kind())}
	}
}

// cueError keeps the first valid position of the first CUE error.
// Unification conflicts carry no primary Position, only the positions of
// the conflicting values, so Positions is consulted.
func cueError(msg string, err error) *Error {
	e := &Error{Message: msg, Err: err}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return e
	}
	for _, p := range cueerrors.Positions(errs[0]) {
		if p.IsValid() {
			e.Pos = position(p)
			break
		}
	}
	return e
}
