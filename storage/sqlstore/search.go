package sqlstore

import (
	"context"
	"database/sql"

	"github.com/NotAlexNoyle/LuckPerms-OG/node"
	"github.com/NotAlexNoyle/LuckPerms-OG/query"
	"github.com/NotAlexNoyle/LuckPerms-OG/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Searches constrain the permission column in SQL, then re-check each row
// against the matcher in memory. The SQL constraint prunes the scan; the
// in-memory check is authoritative, so backend-specific pattern semantics
// never leak into results.

// SearchUserNodes finds user nodes matched by |matcher|.
func (s *Store) SearchUserNodes(ctx context.Context, matcher node.Matcher) ([]storage.UserNodeEntry, error) {
	var b = query.NewBuilder()
	b.Append(stmtUserPermissionsSelectAll)
	matcher.Constraint().AppendSQL(b, "permission")

	var out []storage.UserNodeEntry
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var rows, err = c.QueryContext(ctx, s.process(b.SQL()), b.Args()...)
		if err != nil {
			return errors.Wrap(err, "searching user nodes")
		}
		defer rows.Close()

		for rows.Next() {
			var raw string
			r, err := s.scanNodeColumns(func(dest ...interface{}) error {
				return rows.Scan(append([]interface{}{&raw}, dest...)...)
			})
			if err != nil {
				return err
			}
			if !matcher.Match(r.n) {
				continue
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				return errors.Wrapf(err, "malformed unique id %q", raw)
			}
			out = append(out, storage.UserNodeEntry{UniqueID: id, Node: r.n})
		}
		return errors.Wrap(rows.Err(), "searching user nodes")
	})
	return out, err
}

// SearchGroupNodes finds group nodes matched by |matcher|.
func (s *Store) SearchGroupNodes(ctx context.Context, matcher node.Matcher) ([]storage.GroupNodeEntry, error) {
	var b = query.NewBuilder()
	b.Append(stmtGroupPermissionsSelectMatch)
	matcher.Constraint().AppendSQL(b, "permission")

	var out []storage.GroupNodeEntry
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var rows, err = c.QueryContext(ctx, s.process(b.SQL()), b.Args()...)
		if err != nil {
			return errors.Wrap(err, "searching group nodes")
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			r, err := s.scanNodeColumns(func(dest ...interface{}) error {
				return rows.Scan(append([]interface{}{&name}, dest...)...)
			})
			if err != nil {
				return err
			}
			if !matcher.Match(r.n) {
				continue
			}
			out = append(out, storage.GroupNodeEntry{Name: name, Node: r.n})
		}
		return errors.Wrap(rows.Err(), "searching group nodes")
	})
	return out, err
}
