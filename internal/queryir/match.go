package queryir

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/edb/internal/record"
)

// Match evaluates p against a payload. A nil predicate matches everything.
func Match(p Predicate, fields record.Fields) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case Equals:
		return valueMatches(fields[pred.Field], pred.Value, pred.Fold)
	case *Equals:
		return valueMatches(fields[pred.Field], pred.Value, pred.Fold)
	case Like:
		return likeMatches(fields[pred.Field], pred.Pattern, pred.Fold)
	case *Like:
		return likeMatches(fields[pred.Field], pred.Pattern, pred.Fold)
	case KeyPrefix:
		return prefixMatches(fields, pred)
	case *KeyPrefix:
		return prefixMatches(fields, *pred)
	case And:
		return matchAll(pred.Predicates, fields)
	case *And:
		return matchAll(pred.Predicates, fields)
	default:
		return false
	}
}

func matchAll(preds []Predicate, fields record.Fields) bool {
	for _, p := range preds {
		if !Match(p, fields) {
			return false
		}
	}
	return true
}

func valueMatches(got, want record.Value, fold bool) bool {
	if got == nil || want == nil {
		return false
	}
	if fold {
		gs, ok1 := got.(record.String)
		ws, ok2 := want.(record.String)
		if ok1 && ok2 {
			return Fold(string(gs)) == Fold(string(ws))
		}
	}
	return record.Equal(got, want)
}

func likeMatches(got record.Value, pattern string, fold bool) bool {
	s, ok := got.(record.String)
	if !ok {
		return false
	}
	return MatchLike(pattern, string(s), fold)
}

func prefixMatches(fields record.Fields, pred KeyPrefix) bool {
	for _, k := range fields.SortedKeys() {
		if strings.HasPrefix(k, pred.Prefix) && valueMatches(fields[k], pred.Value, pred.Fold) {
			return true
		}
	}
	return false
}

// Fold applies Unicode full case folding. The SQLite backend registers the
// same function as edb_fold so both backends compare identically.
func Fold(s string) string {
	// A Caser holds state and must not be shared between goroutines.
	return cases.Fold().String(s)
}

// likeToken is one element of a parsed LIKE pattern.
type likeToken struct {
	any    bool // '%'
	single bool // '_'
	lit    rune
}

func parseLike(pattern string) []likeToken {
	runes := []rune(pattern)
	tokens := make([]likeToken, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; {
		case r == '\\' && i+1 < len(runes):
			i++
			tokens = append(tokens, likeToken{lit: runes[i]})
		case r == '%':
			tokens = append(tokens, likeToken{any: true})
		case r == '_':
			tokens = append(tokens, likeToken{single: true})
		default:
			tokens = append(tokens, likeToken{lit: r})
		}
	}
	return tokens
}

// MatchLike reports whether text matches a LIKE pattern ('%', '_', '\' escape).
// The SQLite backend registers it as edb_like.
func MatchLike(pattern, text string, fold bool) bool {
	if fold {
		pattern = Fold(pattern)
		text = Fold(text)
	}
	tokens := parseLike(pattern)
	runes := []rune(text)

	// Greedy wildcard matching with a single backtrack point.
	ti, ri := 0, 0
	star, mark := -1, 0
	for ri < len(runes) {
		switch {
		case ti < len(tokens) && !tokens[ti].any && (tokens[ti].single || tokens[ti].lit == runes[ri]):
			ti++
			ri++
		case ti < len(tokens) && tokens[ti].any:
			star = ti
			mark = ri
			ti++
		case star >= 0:
			ti = star + 1
			mark++
			ri = mark
		default:
			return false
		}
	}
	for ti < len(tokens) && tokens[ti].any {
		ti++
	}
	return ti == len(tokens)
}

// HasWildcard reports whether s contains an unescaped LIKE wildcard.
func HasWildcard(s string) bool {
	for _, t := range parseLike(s) {
		if t.any || t.single {
			return true
		}
	}
	return false
}

// EscapeLike quotes every LIKE metacharacter in s.
func EscapeLike(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
