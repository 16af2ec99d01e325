package sqlstore

import (
	"context"
	"database/sql"

	"github.com/NotAlexNoyle/LuckPerms-OG/actionlog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LogAction appends one audit entry. A nil target id is stored as the
// literal sentinel "null" rather than SQL NULL, keeping the column
// NOT NULL across backends.
func (s *Store) LogAction(ctx context.Context, entry actionlog.Entry) error {
	var target = "null"
	if entry.TargetID != nil {
		target = entry.TargetID.String()
	}
	return s.withConnection(ctx, func(c *sql.Conn) error {
		var _, err = c.ExecContext(ctx, s.process(stmtActionInsert),
			entry.Timestamp,
			entry.ActorID.String(),
			entry.ActorName,
			string(entry.Type),
			target,
			entry.TargetName,
			entry.Action,
		)
		return errors.Wrap(err, "inserting action entry")
	})
}

// Log reads the full audit log.
func (s *Store) Log(ctx context.Context) (*actionlog.Log, error) {
	var entries []actionlog.Entry
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var rows, err = c.QueryContext(ctx, s.process(stmtActionSelectAll))
		if err != nil {
			return errors.Wrap(err, "selecting action log")
		}
		defer rows.Close()

		for rows.Next() {
			var e actionlog.Entry
			var actor, kind, target string

			if err = rows.Scan(&e.Timestamp, &actor, &e.ActorName, &kind, &target, &e.TargetName, &e.Action); err != nil {
				return errors.Wrap(err, "scanning action entry")
			}
			if e.ActorID, err = uuid.Parse(actor); err != nil {
				return errors.Wrapf(err, "malformed actor id %q", actor)
			}
			if len(kind) != 1 {
				return errors.Errorf("malformed action target type %q", kind)
			}
			if e.Type, err = actionlog.ParseTargetType(kind[0]); err != nil {
				return err
			}
			if target != "null" {
				id, err := uuid.Parse(target)
				if err != nil {
					return errors.Wrapf(err, "malformed target id %q", target)
				}
				e.TargetID = &id
			}
			entries = append(entries, e)
		}
		return errors.Wrap(rows.Err(), "selecting action log")
	})
	if err != nil {
		return nil, err
	}
	return actionlog.NewLog(entries), nil
}
