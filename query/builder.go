// Package query assembles parameterized SQL statements incrementally, so
// that search and bulk-rewrite predicates compose without interpolating
// caller-controlled values into statement text. Values are always carried
// as positional bind parameters, in the exact order they were appended.
package query

import "strings"

// Builder accumulates literal SQL fragments and the bind parameters which
// accompany them. The zero value is ready to use.
type Builder struct {
	sql  strings.Builder
	args []interface{}
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return new(Builder) }

// Append adds a literal SQL fragment. The fragment must never contain
// caller-controlled values; use Variable for those.
func (b *Builder) Append(fragment string) *Builder {
	b.sql.WriteString(fragment)
	return b
}

// Variable appends a positional placeholder to the statement text and binds
// |value| to it. Placeholders are written in the engine's canonical "?"
// style; dialect rewriters renumber them as needed.
func (b *Builder) Variable(value interface{}) *Builder {
	b.sql.WriteByte('?')
	b.args = append(b.args, value)
	return b
}

// SQL returns the accumulated statement text.
func (b *Builder) SQL() string { return b.sql.String() }

// Args returns bound parameters in the order their placeholders appear.
func (b *Builder) Args() []interface{} { return b.args }
