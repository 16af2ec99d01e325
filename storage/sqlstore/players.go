package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/NotAlexNoyle/LuckPerms-OG/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SavePlayerData records the identity→username mapping. Usernames are
// unique: after a save the username belongs to |uniqueID| alone, and any
// other identities which held it are stripped of their rows.
func (s *Store) SavePlayerData(ctx context.Context, uniqueID uuid.UUID, username string) (storage.PlayerSaveResult, error) {
	username = strings.ToLower(username)

	var result storage.PlayerSaveResult
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var uid = uniqueID.String()

		var oldUsername string
		var scanErr = c.QueryRowContext(ctx, s.process(stmtPlayerSelectUsernameByUUID), uid).
			Scan(&oldUsername)
		if scanErr != nil && scanErr != sql.ErrNoRows {
			return errors.Wrap(scanErr, "selecting stored username")
		}
		if oldUsername == "null" {
			oldUsername = ""
		}

		result = storage.DeterminePlayerSaveResult(username, oldUsername)

		if result.Includes(storage.OutcomeUsernameUpdated) {
			if _, err := c.ExecContext(ctx, s.process(stmtPlayerUpdateUsernameForUUID), username, uid); err != nil {
				return errors.Wrap(err, "updating username")
			}
		} else if result.Includes(storage.OutcomeCleanInsert) {
			if scanErr == sql.ErrNoRows {
				if _, err := c.ExecContext(ctx, s.process(stmtPlayerInsert),
					uid, username, storage.DefaultGroupName); err != nil {
					return errors.Wrap(err, "inserting player row")
				}
			} else {
				// A row exists but carries the unknown-username sentinel.
				if _, err := c.ExecContext(ctx, s.process(stmtPlayerUpdateUsernameForUUID), username, uid); err != nil {
					return errors.Wrap(err, "updating username")
				}
			}
		}

		// Strip the username from any other identities holding it.
		rows, err := c.QueryContext(ctx, s.process(stmtPlayerSelectOthersByUsername), username, uid)
		if err != nil {
			return errors.Wrap(err, "selecting conflicting players")
		}
		defer rows.Close()

		var others []uuid.UUID
		for rows.Next() {
			var raw string
			if err = rows.Scan(&raw); err != nil {
				return errors.Wrap(err, "scanning conflicting player")
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				return errors.Wrapf(err, "malformed unique id %q", raw)
			}
			others = append(others, id)
		}
		if err = rows.Err(); err != nil {
			return errors.Wrap(err, "selecting conflicting players")
		}

		if len(others) != 0 {
			if _, err = c.ExecContext(ctx, s.process(stmtPlayerDeleteOthersByUsername), username, uid); err != nil {
				return errors.Wrap(err, "deleting conflicting players")
			}
			result = result.WithOtherUniqueIDs(others)
		}
		return nil
	})
	return result, err
}

// DeletePlayerData removes the identity's player row.
func (s *Store) DeletePlayerData(ctx context.Context, uniqueID uuid.UUID) error {
	return s.withConnection(ctx, func(c *sql.Conn) error {
		var _, err = c.ExecContext(ctx, s.process(stmtPlayerDelete), uniqueID.String())
		return errors.Wrap(err, "deleting player row")
	})
}

// PlayerUniqueID resolves a username to its owning identity.
func (s *Store) PlayerUniqueID(ctx context.Context, username string) (uuid.UUID, bool, error) {
	username = strings.ToLower(username)

	var id uuid.UUID
	var found bool
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var raw string
		var scanErr = c.QueryRowContext(ctx, s.process(stmtPlayerSelectUUIDByUsername), username).
			Scan(&raw)
		if scanErr == sql.ErrNoRows {
			return nil
		} else if scanErr != nil {
			return errors.Wrap(scanErr, "selecting player unique id")
		}

		if id, scanErr = uuid.Parse(raw); scanErr != nil {
			return errors.Wrapf(scanErr, "malformed unique id %q", raw)
		}
		found = true
		return nil
	})
	return id, found, err
}

// PlayerName resolves an identity to its stored username. The
// unknown-username sentinel reads as absent.
func (s *Store) PlayerName(ctx context.Context, uniqueID uuid.UUID) (string, bool, error) {
	var username string
	var found bool
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var scanErr = c.QueryRowContext(ctx, s.process(stmtPlayerSelectUsernameByUUID), uniqueID.String()).
			Scan(&username)
		if scanErr == sql.ErrNoRows {
			return nil
		} else if scanErr != nil {
			return errors.Wrap(scanErr, "selecting player name")
		}
		if username == "null" {
			username = ""
		}
		found = username != ""
		return nil
	})
	return username, found, err
}
