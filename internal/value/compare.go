package value

import (
	"cmp"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/taskq/internal/taskerr"
)

// Number is the normalized form of a numeric value.
//
// A number is exact when it has an int64 representation: every short,
// integer and long, and every double that is integral and inside the int64
// range. Exact numbers compare through int64, everything else through
// float64. A double outside the int64 range is never forced through an
// int64 conversion, so it cannot alias a wrapped long.
type Number struct {
	exact bool
	l     int64
	f     float64
}

// 2^63 as a float64. The range check must be strict on the upper bound.
const twoTo63 = 9223372036854775808.0

// NumberOf returns the normalized number for v, or false if v is not numeric.
func NumberOf(v Value) (Number, bool) {
	switch x := v.(type) {
	case Short:
		return Number{exact: true, l: int64(x), f: float64(x)}, true
	case Integer:
		return Number{exact: true, l: int64(x), f: float64(x)}, true
	case Long:
		return Number{exact: true, l: int64(x), f: float64(x)}, true
	case Double:
		return numberOfFloat(float64(x)), true
	}
	return Number{}, false
}

func numberOfFloat(d float64) Number {
	if d == math.Trunc(d) && d >= -twoTo63 && d < twoTo63 {
		return Number{exact: true, l: int64(d), f: d}
	}
	return Number{f: d}
}

// Exact returns the int64 form of n if it has one.
func (n Number) Exact() (int64, bool) {
	return n.l, n.exact
}

// Float returns the float64 form of n.
func (n Number) Float() float64 {
	return n.f
}

// Equal reports numeric equality. An exact number never equals an inexact
// one: the inexact side is either fractional or outside the int64 range.
func (n Number) Equal(o Number) bool {
	switch {
	case n.exact && o.exact:
		return n.l == o.l
	case !n.exact && !o.exact:
		return n.f == o.f
	}
	return false
}

// Compare orders two numbers.
func (n Number) Compare(o Number) int {
	if n.exact && o.exact {
		return cmp.Compare(n.l, o.l)
	}
	return cmp.Compare(n.f, o.f)
}

// Equal reports whether a and b are equal. Values of different families
// are never equal. With fold set, strings are compared after case folding.
func Equal(a, b Value, fold bool) (bool, error) {
	if err := requireComparable(a); err != nil {
		return false, err
	}
	if err := requireComparable(b); err != nil {
		return false, err
	}
	if a.Kind().Family() != b.Kind().Family() {
		return false, nil
	}

	switch x := a.(type) {
	case Null:
		return true, nil
	case String:
		y := b.(String)
		if fold {
			return Fold(string(x)) == Fold(string(y)), nil
		}
		return x == y, nil
	case Boolean:
		return x == b.(Boolean), nil
	case Date:
		return x.Millis() == b.(Date).Millis(), nil
	}

	na, _ := NumberOf(a)
	nb, _ := NumberOf(b)
	return na.Equal(nb), nil
}

// Compare orders a against b. Both values must be orderable and of the same
// family.
func Compare(a, b Value) (int, error) {
	if err := RequireOrderable(a.Kind()); err != nil {
		return 0, err
	}
	if err := RequireOrderable(b.Kind()); err != nil {
		return 0, err
	}
	if a.Kind().Family() != b.Kind().Family() {
		return 0, taskerr.UnsupportedType("cannot compare %s with %s", a.Kind(), b.Kind())
	}

	switch x := a.(type) {
	case String:
		return strings.Compare(string(x), string(b.(String))), nil
	case Date:
		return cmp.Compare(x.Millis(), b.(Date).Millis()), nil
	}

	na, _ := NumberOf(a)
	nb, _ := NumberOf(b)
	return na.Compare(nb), nil
}

// RequireOrderable fails for kinds that cannot be ordered.
func RequireOrderable(k Kind) error {
	if !k.Orderable() {
		return taskerr.UnsupportedType("values of type %s do not support ordering", k)
	}
	return nil
}

// RequireMatchable fails for kinds that cannot be used with LIKE.
func RequireMatchable(k Kind) error {
	if !k.Matchable() {
		return taskerr.UnsupportedType("values of type %s do not support pattern matching", k)
	}
	return nil
}

func requireComparable(v Value) error {
	if v == nil {
		return taskerr.UnsupportedType("missing value")
	}
	if !v.Kind().Comparable() {
		return taskerr.UnsupportedType("values of type %s do not support comparison", v.Kind())
	}
	return nil
}

// Fold lowercases s for case-insensitive comparison.
func Fold(s string) string {
	// A Caser is stateful and must not be shared between goroutines.
	return cases.Lower(language.Und).String(s)
}

type likeToken struct {
	kind byte // 'l' literal, '_' one rune, '%' any run
	r    rune
}

func compileLike(pattern string) []likeToken {
	var toks []likeToken
	rs := []rune(pattern)
	for i := 0; i < len(rs); i++ {
		switch r := rs[i]; r {
		case '\\':
			if i+1 < len(rs) {
				i++
				toks = append(toks, likeToken{kind: 'l', r: rs[i]})
			} else {
				toks = append(toks, likeToken{kind: 'l', r: r})
			}
		case '%':
			toks = append(toks, likeToken{kind: '%'})
		case '_':
			toks = append(toks, likeToken{kind: '_'})
		default:
			toks = append(toks, likeToken{kind: 'l', r: r})
		}
	}
	return toks
}

// Like reports whether s matches pattern. '%' matches any run of
// characters, '_' exactly one, and '\' escapes the next character.
// Matching is case-sensitive.
func Like(s, pattern string) bool {
	toks := compileLike(pattern)
	rs := []rune(s)

	si, ti := 0, 0
	star, mark := -1, 0
	for si < len(rs) {
		if ti < len(toks) {
			t := toks[ti]
			if t.kind == '_' || (t.kind == 'l' && t.r == rs[si]) {
				si++
				ti++
				continue
			}
			if t.kind == '%' {
				star, mark = ti, si
				ti++
				continue
			}
		}
		if star < 0 {
			return false
		}
		mark++
		si, ti = mark, star+1
	}
	for ti < len(toks) && toks[ti].kind == '%' {
		ti++
	}
	return ti == len(toks)
}

// EscapeLike escapes the wildcard characters of s so it matches literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
