package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/NotAlexNoyle/LuckPerms-OG/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LoadUser materializes |uniqueID|'s stored state into the managed User.
// A load may write back: expired nodes pruned during evaluation, or defaults
// granted by manager policy, are re-saved under the same holder lock so the
// store reflects evaluated state.
func (s *Store) LoadUser(ctx context.Context, uniqueID uuid.UUID, username string) (*storage.User, error) {
	var user = s.users.GetOrMake(uniqueID, username)

	defer s.locks.lock(userLockKey(uniqueID.String()))()

	rows, err := s.selectHolderPermissions(ctx, userPermissions, uniqueID.String())
	if err != nil {
		return nil, err
	}
	storedUsername, primaryGroup, _, err := s.selectPlayerData(ctx, uniqueID)
	if err != nil {
		return nil, err
	}

	if len(rows) != 0 {
		if primaryGroup == "" {
			primaryGroup = storage.DefaultGroupName
		}
		user.PrimaryGroup = primaryGroup
		if user.Username == "" && storedUsername != "" && storedUsername != "null" {
			user.Username = storedUsername
		}

		user.SetNodes(rowNodes(rows))

		var gaveDefault = s.users.GiveDefaultIfNeeded(user)
		if user.AuditTemporaryNodes(time.Now()) || gaveDefault {
			if err = s.saveUser(ctx, user); err != nil {
				return nil, err
			}
		}
	} else if s.users.ShouldSave(user) {
		// The store holds nothing for a user the manager considers
		// non-default. Reset to default state rather than persist stale
		// in-memory data the store never had.
		user.ClearNodes()
		user.PrimaryGroup = ""
		s.users.GiveDefaultIfNeeded(user)
	}
	return user, nil
}

// SaveUser reconciles |user|'s node set against the store by set difference.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	defer s.locks.lock(userLockKey(user.UniqueID.String()))()
	return s.saveUser(ctx, user)
}

// saveUser is SaveUser's body, called with the holder lock already held.
func (s *Store) saveUser(ctx context.Context, user *storage.User) error {
	if !s.users.ShouldSave(user) {
		return s.deleteUser(ctx, user)
	}

	if err := s.syncHolderNodes(ctx, userPermissions, user); err != nil {
		return err
	}
	return s.upsertPlayerData(ctx, user.UniqueID, user.Username, user.PrimaryGroup)
}

// deleteUser removes the user's nodes and resets their primary group. The
// player row itself is kept: username mappings outlive permission data.
func (s *Store) deleteUser(ctx context.Context, user *storage.User) error {
	return s.withConnection(ctx, func(c *sql.Conn) error {
		var uid = user.UniqueID.String()

		if _, err := c.ExecContext(ctx, s.process(stmtUserPermissionsDelete), uid); err != nil {
			return errors.Wrap(err, "deleting user permissions")
		}
		if _, err := c.ExecContext(ctx, s.process(stmtPlayerUpdatePrimaryGroup),
			storage.DefaultGroupName, uid); err != nil {
			return errors.Wrap(err, "resetting primary group")
		}
		return nil
	})
}

// UniqueUsers enumerates every unique id holding at least one node.
func (s *Store) UniqueUsers(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var rows, err = c.QueryContext(ctx, s.process(stmtUserPermissionsSelectDistinct))
		if err != nil {
			return errors.Wrap(err, "selecting unique users")
		}
		defer rows.Close()

		for rows.Next() {
			var raw string
			if err = rows.Scan(&raw); err != nil {
				return errors.Wrap(err, "scanning unique user")
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				return errors.Wrapf(err, "malformed unique id %q", raw)
			}
			ids = append(ids, id)
		}
		return errors.Wrap(rows.Err(), "selecting unique users")
	})
	return ids, err
}

// upsertPlayerData writes the user's primary group, inserting a fresh player
// row when none exists yet.
func (s *Store) upsertPlayerData(ctx context.Context, uniqueID uuid.UUID, username, primaryGroup string) error {
	if primaryGroup == "" {
		primaryGroup = storage.DefaultGroupName
	}
	if username = strings.ToLower(username); username == "" {
		username = "null"
	}
	return s.withConnection(ctx, func(c *sql.Conn) error {
		var res, err = c.ExecContext(ctx, s.process(stmtPlayerUpdatePrimaryGroup),
			primaryGroup, uniqueID.String())
		if err != nil {
			return errors.Wrap(err, "updating primary group")
		}
		if n, err := res.RowsAffected(); err != nil {
			return errors.Wrap(err, "updating primary group")
		} else if n != 0 {
			return nil
		}

		_, err = c.ExecContext(ctx, s.process(stmtPlayerInsert),
			uniqueID.String(), username, primaryGroup)
		return errors.Wrap(err, "inserting player row")
	})
}

// selectPlayerData reads the player row for |uniqueID|, if present.
func (s *Store) selectPlayerData(ctx context.Context, uniqueID uuid.UUID) (username, primaryGroup string, found bool, err error) {
	err = s.withConnection(ctx, func(c *sql.Conn) error {
		var scanErr = c.QueryRowContext(ctx, s.process(stmtPlayerSelectByUUID), uniqueID.String()).
			Scan(&username, &primaryGroup)
		if scanErr == sql.ErrNoRows {
			return nil
		} else if scanErr != nil {
			return errors.Wrap(scanErr, "selecting player data")
		}
		found = true
		return nil
	})
	return
}
