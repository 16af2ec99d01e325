package query

import (
	"regexp"
	"strings"
	"sync"
)

// Comparison is an operator applied to a string field, both as a SQL
// predicate and as an in-memory match over already-decoded values. The two
// evaluations must agree: Similar mirrors SQL LIKE, including its "%" and
// "_" wildcards.
type Comparison int

const (
	Equal Comparison = iota
	NotEqual
	Similar
	NotSimilar
)

// Symbol returns the operator's textual form, as used by callers which
// parse user-specified predicates.
func (c Comparison) Symbol() string {
	switch c {
	case Equal:
		return "=="
	case NotEqual:
		return "!="
	case Similar:
		return "~~"
	case NotSimilar:
		return "!~~"
	}
	return "unknown"
}

// ParseComparison maps a symbol to its Comparison.
func ParseComparison(symbol string) (Comparison, bool) {
	switch symbol {
	case "==":
		return Equal, true
	case "!=":
		return NotEqual, true
	case "~~":
		return Similar, true
	case "!~~":
		return NotSimilar, true
	}
	return 0, false
}

// AppendSQL writes the operator's SQL form, with surrounding spaces.
func (c Comparison) AppendSQL(b *Builder) {
	switch c {
	case Equal:
		b.Append(" = ")
	case NotEqual:
		b.Append(" != ")
	case Similar:
		b.Append(" LIKE ")
	case NotSimilar:
		b.Append(" NOT LIKE ")
	}
}

// Matches evaluates the operator over in-memory values. |pattern| is the
// comparison's right-hand side; for Similar operators it is a SQL LIKE
// pattern.
func (c Comparison) Matches(value, pattern string) bool {
	switch c {
	case Equal:
		return strings.EqualFold(value, pattern)
	case NotEqual:
		return !strings.EqualFold(value, pattern)
	case Similar:
		return likeMatch(pattern, value)
	case NotSimilar:
		return !likeMatch(pattern, value)
	}
	return false
}

var likeCache sync.Map // pattern -> *regexp.Regexp

// likeMatch evaluates a SQL LIKE |pattern| against |value|. "%" matches any
// run of characters and "_" matches exactly one.
func likeMatch(pattern, value string) bool {
	if re, ok := likeCache.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(value)
	}
	var expr = regexp.QuoteMeta(pattern)
	expr = strings.ReplaceAll(expr, "%", ".*")
	expr = strings.ReplaceAll(expr, "_", ".")

	var re = regexp.MustCompile("(?i)^" + expr + "$")
	likeCache.Store(pattern, re)
	return re.MatchString(value)
}

// Constraint pairs a Comparison with its right-hand value. It renders into
// a Builder as "<field> <op> ?" with the value bound, and evaluates
// in-memory via Match.
type Constraint struct {
	Comparison Comparison
	Value      string
}

// AppendSQL renders the constraint against |field|.
func (c Constraint) AppendSQL(b *Builder, field string) {
	b.Append(field)
	c.Comparison.AppendSQL(b)
	b.Variable(c.Value)
}

// Match evaluates the constraint against an in-memory value.
func (c Constraint) Match(value string) bool {
	return c.Comparison.Matches(value, c.Value)
}
