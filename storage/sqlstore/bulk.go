package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/NotAlexNoyle/LuckPerms-OG/bulkupdate"
	"github.com/NotAlexNoyle/LuckPerms-OG/query"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ApplyBulkUpdate executes one predicate-scoped rewrite against each
// targeted permissions table. Tables are independent: a failure against one
// does not prevent the attempt against the other, and the first error is
// returned after both attempts. No per-holder locks are taken; bulk rewrites
// may race concurrent saves, which reconcile on their next load.
func (s *Store) ApplyBulkUpdate(ctx context.Context, update *bulkupdate.BulkUpdate) error {
	return s.withConnection(ctx, func(c *sql.Conn) error {
		var firstErr error

		if update.DataType.IncludesUsers() {
			if err := s.applyBulkUpdateTo(ctx, c, update, "user_permissions"); err != nil {
				log.WithFields(log.Fields{"action": update.Action.Name(), "err": err}).
					Warn("bulk update failed against user permissions")
				firstErr = err
			}
		}
		if update.DataType.IncludesGroups() {
			if err := s.applyBulkUpdateTo(ctx, c, update, "group_permissions"); err != nil {
				log.WithFields(log.Fields{"action": update.Action.Name(), "err": err}).
					Warn("bulk update failed against group permissions")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	})
}

// applyBulkUpdateTo runs |update| against one permissions table: an optional
// statistics pre-scan under the update's own predicate, then the rewrite.
func (s *Store) applyBulkUpdateTo(ctx context.Context, c *sql.Conn, update *bulkupdate.BulkUpdate, table string) error {
	var tableRef = "'{prefix}" + table + "'"

	if update.TrackingStatistics() {
		if err := s.scanBulkUpdateStatistics(ctx, c, update, table, tableRef); err != nil {
			return err
		}
	}

	var b = update.RenderSQL()
	var stmt = s.process(strings.ReplaceAll(b.SQL(), bulkupdate.TablePlaceholder, tableRef))

	var res, err = c.ExecContext(ctx, stmt, b.Args()...)
	if err != nil {
		return errors.Wrapf(err, "executing bulk %s", update.Action.Name())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "executing bulk %s", update.Action.Name())
	}
	bulkRewriteRowsTotal.Add(float64(n))

	if update.TrackingStatistics() {
		update.Statistics().IncrementAffectedNodesBy(int(n))
	}
	return nil
}

// scanBulkUpdateStatistics counts the distinct holders the rewrite is about
// to touch, under the same predicate it will mutate with. The scan runs
// before the rewrite on the same connection; rows changing between scan and
// rewrite shift the counts, which is accepted for an advisory statistic.
func (s *Store) scanBulkUpdateStatistics(ctx context.Context, c *sql.Conn, update *bulkupdate.BulkUpdate, table, tableRef string) error {
	var b = query.NewBuilder()
	if table == "user_permissions" {
		b.Append("SELECT DISTINCT uuid FROM " + bulkupdate.TablePlaceholder)
	} else {
		b.Append("SELECT name FROM " + bulkupdate.TablePlaceholder)
	}
	update.AppendWhereSQL(b)

	var stmt = s.process(strings.ReplaceAll(b.SQL(), bulkupdate.TablePlaceholder, tableRef))

	var rows, err = c.QueryContext(ctx, stmt, b.Args()...)
	if err != nil {
		return errors.Wrap(err, "scanning bulk update statistics")
	}
	defer rows.Close()

	var holders = make(map[string]struct{})
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return errors.Wrap(err, "scanning bulk update statistics")
		}
		holders[key] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return errors.Wrap(err, "scanning bulk update statistics")
	}

	if table == "user_permissions" {
		update.Statistics().IncrementAffectedUsersBy(len(holders))
	} else {
		update.Statistics().IncrementAffectedGroupsBy(len(holders))
	}
	return nil
}
