package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/edb/internal/record"
)

// parseValue reads a command-line value: an int, a float, true or false,
// @oid for a reference, and a string otherwise.
func parseValue(s string) record.Value {
	if ref, ok := strings.CutPrefix(s, "@"); ok && ref != "" {
		return record.Ref(ref)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return record.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return record.Float(f)
	}
	switch s {
	case "true":
		return record.Bool(true)
	case "false":
		return record.Bool(false)
	}
	return record.String(s)
}

// parseAssignments reads key=value arguments.
func parseAssignments(args []string) (map[string]record.Value, error) {
	out := make(map[string]record.Value, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q: want key=value", arg)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("argument %q: key %s given twice", arg, key)
		}
		out[key] = parseValue(value)
	}
	return out, nil
}

// parseTimestamp reads a positive commit timestamp argument.
func parseTimestamp(s string) (int64, error) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return 0, fmt.Errorf("timestamp %q: want a positive integer", s)
	}
	return ts, nil
}
