package queryir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edb/internal/record"
)

func TestValidate_Valid(t *testing.T) {
	queries := []Query{
		Head{AsOf: Latest},
		&Head{AsOf: 10, Filter: Equals{Field: "a", Value: record.Int(1)}},
		Commits{},
		Commits{From: 5, To: 5, Committer: "alice"},
		&Commits{Fields: And{Predicates: []Predicate{
			Like{Field: "name", Pattern: "x%"},
			KeyPrefix{Prefix: "ref", Value: record.Ref("o")},
		}}},
	}
	for _, q := range queries {
		assert.NoError(t, Validate(q), "%#v", q)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		q    Query
	}{
		{"nil", nil},
		{"zero as-of", Head{}},
		{"empty field", Head{AsOf: 1, Filter: Equals{Value: record.Int(1)}}},
		{"reserved field", Head{AsOf: 1, Filter: Equals{Field: "version", Value: record.Int(1)}}},
		{"nil value", Head{AsOf: 1, Filter: Equals{Field: "a"}}},
		{"nan", Head{AsOf: 1, Filter: Equals{Field: "a", Value: record.Float(math.NaN())}}},
		{"inverted range", Commits{From: 9, To: 3}},
		{"nested", Commits{Fields: And{Predicates: []Predicate{Like{}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.q)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}
