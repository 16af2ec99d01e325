// Package bulkupdate describes predicate-scoped rewrites applied across the
// whole permission store in one pass: deleting every node matching a
// predicate, or rewriting one field of every matching node. The description
// renders to parameterized SQL via the query package; the storage engine
// substitutes the concrete table and executes it once per targeted table.
package bulkupdate

import "github.com/NotAlexNoyle/LuckPerms-OG/query"

// TablePlaceholder marks where the engine substitutes the targeted
// permissions table into a rendered statement.
const TablePlaceholder = "{table}"

// DataType scopes which holder kinds a bulk update targets.
type DataType int

const (
	All DataType = iota
	UsersOnly
	GroupsOnly
)

// IncludesUsers returns whether the user permissions table is targeted.
func (d DataType) IncludesUsers() bool { return d == All || d == UsersOnly }

// IncludesGroups returns whether the group permissions table is targeted.
func (d DataType) IncludesGroups() bool { return d == All || d == GroupsOnly }

// Field is a rewritable / constrainable node column.
type Field string

const (
	FieldPermission Field = "permission"
	FieldServer     Field = "server"
	FieldWorld      Field = "world"
)

// Action is the mutation a bulk update applies. It renders the statement's
// leading clause (before any WHERE).
type Action interface {
	Name() string
	AppendSQL(b *query.Builder)
}

// DeleteAction removes every matching node row.
type DeleteAction struct{}

func (DeleteAction) Name() string { return "delete" }

func (DeleteAction) AppendSQL(b *query.Builder) {
	b.Append("DELETE FROM " + TablePlaceholder)
}

// UpdateAction rewrites one field of every matching node row.
type UpdateAction struct {
	Field Field
	Value string
}

func (a UpdateAction) Name() string { return "update" }

func (a UpdateAction) AppendSQL(b *query.Builder) {
	b.Append("UPDATE " + TablePlaceholder + " SET " + string(a.Field) + " = ")
	b.Variable(a.Value)
}

// Query is one WHERE constraint over a node field.
type Query struct {
	Field      Field
	Constraint query.Constraint
}

// AppendSQL renders the constraint.
func (q Query) AppendSQL(b *query.Builder) {
	q.Constraint.AppendSQL(b, string(q.Field))
}

// BulkUpdate is one administrative rewrite invocation.
type BulkUpdate struct {
	// DataType gates which permissions tables the rewrite executes against.
	DataType DataType
	// Action is the mutation applied to matching rows.
	Action Action
	// Queries are ANDed WHERE constraints; empty means "every row".
	Queries []Query

	statistics *Statistics
}

// New returns a BulkUpdate. When |trackStatistics| is set, the engine
// additionally records how many distinct holders and node rows the rewrite
// affected, readable from Statistics after it completes.
func New(dataType DataType, action Action, queries []Query, trackStatistics bool) *BulkUpdate {
	var u = &BulkUpdate{DataType: dataType, Action: action, Queries: queries}
	if trackStatistics {
		u.statistics = new(Statistics)
	}
	return u
}

// TrackingStatistics returns whether affected-entity statistics are being
// collected for this invocation.
func (u *BulkUpdate) TrackingStatistics() bool { return u.statistics != nil }

// Statistics returns the accumulator, or nil when not tracking.
func (u *BulkUpdate) Statistics() *Statistics { return u.statistics }

// RenderSQL renders the full mutating statement, with TablePlaceholder left
// for the engine to substitute.
func (u *BulkUpdate) RenderSQL() *query.Builder {
	var b = query.NewBuilder()
	u.Action.AppendSQL(b)
	u.AppendWhereSQL(b)
	return b
}

// AppendWhereSQL renders the update's WHERE clause (if any) into |b|. The
// engine reuses this when building statistics pre-scan queries.
func (u *BulkUpdate) AppendWhereSQL(b *query.Builder) {
	for i, q := range u.Queries {
		if i == 0 {
			b.Append(" WHERE ")
		} else {
			b.Append(" AND ")
		}
		q.AppendSQL(b)
	}
}

// Statistics accumulates affected-entity counts for one bulk rewrite.
// Fields are written by the engine while the operation runs and read by the
// caller after it completes; the engine applies a bulk update from a single
// goroutine, so no synchronization is required.
type Statistics struct {
	affectedUsers  int
	affectedGroups int
	affectedNodes  int
}

// IncrementAffectedUsersBy records |n| additional affected users.
func (s *Statistics) IncrementAffectedUsersBy(n int) { s.affectedUsers += n }

// IncrementAffectedGroupsBy records |n| additional affected groups.
func (s *Statistics) IncrementAffectedGroupsBy(n int) { s.affectedGroups += n }

// IncrementAffectedNodesBy records |n| additional affected node rows.
func (s *Statistics) IncrementAffectedNodesBy(n int) { s.affectedNodes += n }

// AffectedUsers returns the number of distinct users affected.
func (s *Statistics) AffectedUsers() int { return s.affectedUsers }

// AffectedGroups returns the number of distinct groups affected.
func (s *Statistics) AffectedGroups() int { return s.affectedGroups }

// AffectedNodes returns the number of node rows affected.
func (s *Statistics) AffectedNodes() int { return s.affectedNodes }
