package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/NotAlexNoyle/LuckPerms-OG/node"
	"github.com/NotAlexNoyle/LuckPerms-OG/storage"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// holderTable binds the statement set of one permissions table. Users and
// groups share one reconciliation path over storage.Holder; only the table's
// statements and the log field naming its holder kind differ.
type holderTable struct {
	kind        string
	selectByKey string
	deleteIn    string
	insert      string
}

var (
	userPermissions = holderTable{
		kind:        "user",
		selectByKey: stmtUserPermissionsSelect,
		deleteIn:    stmtUserPermissionsDeleteIn,
		insert:      stmtUserPermissionsInsert,
	}
	groupPermissions = holderTable{
		kind:        "group",
		selectByKey: stmtGroupPermissionsSelect,
		deleteIn:    stmtGroupPermissionsDeleteIn,
		insert:      stmtGroupPermissionsInsert,
	}
)

// selectHolderPermissions reads the node rows stored under |key| in |tbl|.
func (s *Store) selectHolderPermissions(ctx context.Context, tbl holderTable, key string) ([]nodeRow, error) {
	var out []nodeRow
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var rows, err = c.QueryContext(ctx, s.process(tbl.selectByKey), key)
		if err != nil {
			return errors.Wrapf(err, "selecting %s permissions", tbl.kind)
		}
		defer rows.Close()

		for rows.Next() {
			r, err := s.scanNodeColumns(rows.Scan)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return errors.Wrapf(rows.Err(), "selecting %s permissions", tbl.kind)
	})
	return out, err
}

// loadHolderNodes replaces |h|'s node set with its stored rows. Callers hold
// the holder's lock.
func (s *Store) loadHolderNodes(ctx context.Context, tbl holderTable, h storage.Holder) error {
	var rows, err = s.selectHolderPermissions(ctx, tbl, h.StorageKey())
	if err != nil {
		return err
	}
	h.SetNodes(rowNodes(rows))
	return nil
}

// syncHolderNodes reconciles |h|'s in-memory node set against its stored
// rows by set difference. Callers hold the holder's lock.
func (s *Store) syncHolderNodes(ctx context.Context, tbl holderTable, h storage.Holder) error {
	var remote, err = s.selectHolderPermissions(ctx, tbl, h.StorageKey())
	if err != nil {
		return err
	}
	var local = h.Nodes()
	return s.applyNodeDiff(ctx, tbl, h.StorageKey(),
		missingFromRemote(local, remote), missingFromLocal(local, remote))
}

// applyNodeDiff applies a computed diff for |key|: one batched delete of
// superseded row ids, then one multi-row insert of new assignments.
func (s *Store) applyNodeDiff(ctx context.Context, tbl holderTable, key string, inserts []node.Node, deletes []nodeRow) error {
	if len(inserts) == 0 && len(deletes) == 0 {
		return nil
	}
	return s.withConnection(ctx, func(c *sql.Conn) error {
		if len(deletes) != 0 {
			var stmt = s.process(fmt.Sprintf(tbl.deleteIn, placeholders(len(deletes))))
			var args = make([]interface{}, len(deletes))
			for i, r := range deletes {
				args[i] = r.id
			}
			if _, err := c.ExecContext(ctx, stmt, args...); err != nil {
				return errors.Wrapf(err, "deleting superseded %s nodes", tbl.kind)
			}
			syncDeletesTotal.Add(float64(len(deletes)))
		}

		if len(inserts) != 0 {
			var stmt, args, err = s.renderNodeInsert(tbl.insert, key, inserts)
			if err != nil {
				return err
			}
			if _, err = c.ExecContext(ctx, stmt, args...); err != nil {
				if len(deletes) != 0 {
					log.WithFields(log.Fields{tbl.kind: key, "err": err}).
						Warn("node insert failed after deletes were applied; holder left partially synced")
				}
				return errors.Wrapf(err, "inserting %s nodes", tbl.kind)
			}
			syncInsertsTotal.Add(float64(len(inserts)))
		}
		return nil
	})
}
