package queryir

import (
	"errors"
	"fmt"

	"github.com/roach88/edb/internal/record"
)

// ErrInvalidQuery is wrapped by every error Validate returns.
var ErrInvalidQuery = errors.New("invalid query")

// Validate checks that a query can be compiled by every backend.
//
// Rules:
//  1. Field names are non-empty and not reserved
//  2. Every compared value is a valid record.Value
//  3. Head queries carry a positive AsOf
//  4. Commit ranges are not inverted
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	switch query := q.(type) {
	case Head:
		return validateHead(query)
	case *Head:
		return validateHead(*query)
	case Commits:
		return validateCommits(query)
	case *Commits:
		return validateCommits(*query)
	case nil:
		return fmt.Errorf("%w: nil query", ErrInvalidQuery)
	default:
		return fmt.Errorf("%w: unknown query type %T", ErrInvalidQuery, q)
	}
}

func validateHead(q Head) error {
	if q.AsOf <= 0 {
		return fmt.Errorf("%w: head as-of %d must be positive", ErrInvalidQuery, q.AsOf)
	}
	return ValidatePredicate(q.Filter)
}

func validateCommits(q Commits) error {
	if q.From < 0 || q.To < 0 {
		return fmt.Errorf("%w: negative timestamp bound", ErrInvalidQuery)
	}
	if q.To != 0 && q.From > q.To {
		return fmt.Errorf("%w: range [%d, %d] is inverted", ErrInvalidQuery, q.From, q.To)
	}
	return ValidatePredicate(q.Fields)
}

// ValidatePredicate checks a predicate tree. A nil predicate is valid.
func ValidatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Equals:
		return validateComparison(pred.Field, pred.Value)
	case *Equals:
		return validateComparison(pred.Field, pred.Value)
	case Like:
		return validateField(pred.Field)
	case *Like:
		return validateField(pred.Field)
	case KeyPrefix:
		return validateValue(pred.Prefix+"*", pred.Value)
	case *KeyPrefix:
		return validateValue(pred.Prefix+"*", pred.Value)
	case And:
		return validateAll(pred.Predicates)
	case *And:
		return validateAll(pred.Predicates)
	default:
		return fmt.Errorf("%w: unknown predicate type %T", ErrInvalidQuery, p)
	}
}

func validateAll(preds []Predicate) error {
	for i, p := range preds {
		if err := ValidatePredicate(p); err != nil {
			return fmt.Errorf("and[%d]: %w", i, err)
		}
	}
	return nil
}

func validateComparison(field string, v record.Value) error {
	if err := validateField(field); err != nil {
		return err
	}
	return validateValue(field, v)
}

func validateField(field string) error {
	if field == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalidQuery)
	}
	if record.IsReserved(field) {
		return fmt.Errorf("%w: %q is not a payload field", ErrInvalidQuery, field)
	}
	return nil
}

func validateValue(field string, v record.Value) error {
	if v == nil {
		return fmt.Errorf("%w: %s: missing value", ErrInvalidQuery, field)
	}
	if _, _, err := record.Encode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidQuery, field, err)
	}
	return nil
}
