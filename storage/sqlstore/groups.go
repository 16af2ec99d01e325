package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/NotAlexNoyle/LuckPerms-OG/storage"
	"github.com/pkg/errors"
)

// CreateAndLoadGroup ensures the named group row exists, then loads it.
// The insert uses the backend's native insert-if-absent form, so concurrent
// creates of the same group converge on one row.
func (s *Store) CreateAndLoadGroup(ctx context.Context, name string) (*storage.Group, error) {
	name = strings.ToLower(name)

	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var _, err = c.ExecContext(ctx, s.process(s.groupInsertStmt()), name)
		return errors.Wrap(err, "inserting group row")
	})
	if err != nil {
		return nil, err
	}

	var group = s.groups.GetOrMake(name)
	defer s.locks.lock(groupLockKey(name))()

	if err = s.loadHolderNodes(ctx, groupPermissions, group); err != nil {
		return nil, err
	}
	return group, nil
}

// LoadGroup loads the named group if it exists in storage.
func (s *Store) LoadGroup(ctx context.Context, name string) (*storage.Group, bool, error) {
	name = strings.ToLower(name)

	names, err := s.selectGroupNames(ctx)
	if err != nil {
		return nil, false, err
	}
	var found bool
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return nil, false, nil
	}

	var group = s.groups.GetOrMake(name)
	defer s.locks.lock(groupLockKey(name))()

	if err = s.loadHolderNodes(ctx, groupPermissions, group); err != nil {
		return nil, false, err
	}
	return group, true, nil
}

// LoadAllGroups loads every stored group and evicts managed groups no
// longer present in storage.
func (s *Store) LoadAllGroups(ctx context.Context) error {
	var names, err = s.selectGroupNames(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		var group = s.groups.GetOrMake(name)

		var unlock = s.locks.lock(groupLockKey(name))
		err = s.loadHolderNodes(ctx, groupPermissions, group)
		unlock()

		if err != nil {
			return errors.WithMessagef(err, "loading group %q", name)
		}
	}
	s.groups.RetainAll(names)
	return nil
}

// SaveGroup reconciles the group's node set against the store. A group with
// no nodes keeps its registry row but sheds all permission rows.
func (s *Store) SaveGroup(ctx context.Context, group *storage.Group) error {
	defer s.locks.lock(groupLockKey(group.Name))()

	if len(group.Nodes()) == 0 {
		return s.withConnection(ctx, func(c *sql.Conn) error {
			var _, err = c.ExecContext(ctx, s.process(stmtGroupPermissionsDelete), group.Name)
			return errors.Wrap(err, "deleting group permissions")
		})
	}
	return s.syncHolderNodes(ctx, groupPermissions, group)
}

// DeleteGroup removes the group and its nodes, and unloads it from the
// manager.
func (s *Store) DeleteGroup(ctx context.Context, group *storage.Group) error {
	defer s.locks.lock(groupLockKey(group.Name))()

	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		if _, err := c.ExecContext(ctx, s.process(stmtGroupPermissionsDelete), group.Name); err != nil {
			return errors.Wrap(err, "deleting group permissions")
		}
		if _, err := c.ExecContext(ctx, s.process(stmtGroupDelete), group.Name); err != nil {
			return errors.Wrap(err, "deleting group row")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.groups.Unload(group.Name)
	return nil
}

// groupInsertStmt selects the backend's insert-if-absent variant.
func (s *Store) groupInsertStmt() string {
	if stmt, ok := stmtGroupInsert[s.factory.Name()]; ok {
		return stmt
	}
	return stmtGroupInsertDefault
}

// selectGroupNames reads the group registry.
func (s *Store) selectGroupNames(ctx context.Context) ([]string, error) {
	var names []string
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var rows, err = c.QueryContext(ctx, s.process(stmtGroupSelectAll))
		if err != nil {
			return errors.Wrap(err, "selecting groups")
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err = rows.Scan(&name); err != nil {
				return errors.Wrap(err, "scanning group name")
			}
			names = append(names, strings.ToLower(name))
		}
		return errors.Wrap(rows.Err(), "selecting groups")
	})
	return names, err
}
