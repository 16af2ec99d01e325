package node

import "github.com/NotAlexNoyle/LuckPerms-OG/query"

// Matcher selects nodes during reverse-lookup searches. Its Constraint is
// pushed into the SQL WHERE clause over the permission column; Match is
// then re-applied to each decoded row, allowing matchers to refine beyond
// what the column predicate can express (eg full-node equality).
type Matcher interface {
	// Constraint is the permission-string predicate pushed into SQL.
	Constraint() query.Constraint
	// Match reports whether a decoded node is selected.
	Match(n Node) bool
}

type constraintMatcher struct{ c query.Constraint }

func (m constraintMatcher) Constraint() query.Constraint { return m.c }
func (m constraintMatcher) Match(n Node) bool            { return m.c.Match(n.Permission) }

// MatchPermission selects nodes whose permission equals |permission|.
func MatchPermission(permission string) Matcher {
	return constraintMatcher{query.Constraint{Comparison: query.Equal, Value: permission}}
}

// MatchPermissionStartsWith selects nodes whose permission begins with
// |prefix|. The prefix is used verbatim as a LIKE pattern, so "%" or "_"
// occurring within it retain their wildcard meaning.
func MatchPermissionStartsWith(prefix string) Matcher {
	return constraintMatcher{query.Constraint{Comparison: query.Similar, Value: prefix + "%"}}
}

// MatchConstraint selects nodes whose permission satisfies an arbitrary
// constraint.
func MatchConstraint(c query.Constraint) Matcher { return constraintMatcher{c} }

type equalityMatcher struct {
	constraintMatcher
	node Node
}

func (m equalityMatcher) Match(n Node) bool { return m.node.Equal(n) }

// MatchEqual selects nodes equal to |node| in every identity field. The SQL
// constraint narrows to the permission string; exact comparison happens
// against the decoded row.
func MatchEqual(n Node) Matcher {
	n = n.Normalize()
	return equalityMatcher{
		constraintMatcher{query.Constraint{Comparison: query.Equal, Value: n.Permission}},
		n,
	}
}
