// Package sqlstore implements the storage.Implementation façade over SQL
// backends. One engine body serves every supported dialect: backend
// differences are isolated to a dialect.Factory (connection acquisition,
// statement rewriting) and a small per-dialect statement variant table.
//
// Saves reconcile a holder's in-memory node set against its stored rows by
// set difference, issuing only the inserts and deletes needed. Overlapping
// storage operations for the same holder are serialized by a keyed mutex;
// store-wide operations (search, bulk update) take no per-holder locks.
package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/NotAlexNoyle/LuckPerms-OG/node"
	"github.com/NotAlexNoyle/LuckPerms-OG/storage"
	"github.com/NotAlexNoyle/LuckPerms-OG/storage/sqlstore/dialect"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Statements are written in canonical form — "{prefix}" table markers,
// single-quoted identifiers, "?" placeholders — and mapped to each backend
// by process().
const (
	stmtUserPermissionsSelect         = "SELECT id, permission, value, server, world, expiry, contexts FROM '{prefix}user_permissions' WHERE uuid=?"
	stmtUserPermissionsSelectAll      = "SELECT uuid, id, permission, value, server, world, expiry, contexts FROM '{prefix}user_permissions' WHERE "
	stmtUserPermissionsSelectDistinct = "SELECT DISTINCT uuid FROM '{prefix}user_permissions'"
	stmtUserPermissionsDelete         = "DELETE FROM '{prefix}user_permissions' WHERE uuid=?"
	stmtUserPermissionsDeleteIn       = "DELETE FROM '{prefix}user_permissions' WHERE id IN (%s)"
	stmtUserPermissionsInsert         = "INSERT INTO '{prefix}user_permissions' (uuid, permission, value, server, world, expiry, contexts) VALUES %s"

	stmtPlayerSelectUUIDByUsername    = "SELECT uuid FROM '{prefix}players' WHERE username=? LIMIT 1"
	stmtPlayerSelectUsernameByUUID    = "SELECT username FROM '{prefix}players' WHERE uuid=? LIMIT 1"
	stmtPlayerUpdateUsernameForUUID   = "UPDATE '{prefix}players' SET username=? WHERE uuid=?"
	stmtPlayerInsert                  = "INSERT INTO '{prefix}players' (uuid, username, primary_group) VALUES (?, ?, ?)"
	stmtPlayerDelete                  = "DELETE FROM '{prefix}players' WHERE uuid=?"
	stmtPlayerSelectOthersByUsername  = "SELECT uuid FROM '{prefix}players' WHERE username=? AND NOT uuid=?"
	stmtPlayerDeleteOthersByUsername  = "DELETE FROM '{prefix}players' WHERE username=? AND NOT uuid=?"
	stmtPlayerSelectByUUID            = "SELECT username, primary_group FROM '{prefix}players' WHERE uuid=?"
	stmtPlayerUpdatePrimaryGroup      = "UPDATE '{prefix}players' SET primary_group=? WHERE uuid=?"

	stmtGroupPermissionsSelect      = "SELECT id, permission, value, server, world, expiry, contexts FROM '{prefix}group_permissions' WHERE name=?"
	stmtGroupPermissionsSelectMatch = "SELECT name, id, permission, value, server, world, expiry, contexts FROM '{prefix}group_permissions' WHERE "
	stmtGroupPermissionsDelete      = "DELETE FROM '{prefix}group_permissions' WHERE name=?"
	stmtGroupPermissionsDeleteIn    = "DELETE FROM '{prefix}group_permissions' WHERE id IN (%s)"
	stmtGroupPermissionsInsert      = "INSERT INTO '{prefix}group_permissions' (name, permission, value, server, world, expiry, contexts) VALUES %s"

	stmtGroupSelectAll = "SELECT name FROM '{prefix}groups'"
	stmtGroupDelete    = "DELETE FROM '{prefix}groups' WHERE name=?"

	stmtTrackInsert    = "INSERT INTO '{prefix}tracks' (name, 'groups') VALUES (?, ?)"
	stmtTrackSelect    = "SELECT 'groups' FROM '{prefix}tracks' WHERE name=?"
	stmtTrackSelectAll = "SELECT name FROM '{prefix}tracks'"
	stmtTrackUpdate    = "UPDATE '{prefix}tracks' SET 'groups'=? WHERE name=?"
	stmtTrackDelete    = "DELETE FROM '{prefix}tracks' WHERE name=?"

	stmtActionInsert    = "INSERT INTO '{prefix}actions' (time, actor_uuid, actor_name, type, acted_uuid, acted_name, action) VALUES (?, ?, ?, ?, ?, ?, ?)"
	stmtActionSelectAll = "SELECT time, actor_uuid, actor_name, type, acted_uuid, acted_name, action FROM '{prefix}actions'"
)

// stmtGroupInsert holds per-dialect "insert group name if absent" variants,
// keyed by dialect name, with stmtGroupInsertDefault as the fallback.
var stmtGroupInsert = map[string]string{
	"SQLite":     "INSERT OR IGNORE INTO '{prefix}groups' (name) VALUES (?)",
	"PostgreSQL": "INSERT INTO '{prefix}groups' (name) VALUES (?) ON CONFLICT (name) DO NOTHING",
}

const stmtGroupInsertDefault = "INSERT INTO '{prefix}groups' (name) VALUES (?) ON DUPLICATE KEY UPDATE name=name"

// Config carries the engine's collaborators and settings.
type Config struct {
	// TablePrefix is prepended to every table name.
	TablePrefix string
	// Users, Groups and Tracks own holder instances; the engine borrows
	// them per call and never caches.
	Users  storage.UserManager
	Groups storage.GroupManager
	Tracks storage.TrackManager
	// Contexts serializes context sets. Defaults to node.JSONContextCodec.
	Contexts storage.ContextCodec
	// Schemas provides per-backend DDL. Defaults to the embedded resources.
	Schemas storage.SchemaProvider
}

// Store is the SQL storage engine.
type Store struct {
	factory  dialect.Factory
	prefix   string
	users    storage.UserManager
	groups   storage.GroupManager
	tracks   storage.TrackManager
	contexts storage.ContextCodec
	schemas  storage.SchemaProvider
	locks    holderMutex
}

var _ storage.Implementation = (*Store)(nil)

// New returns a Store over |factory|. Init must be called before use.
func New(factory dialect.Factory, cfg Config) *Store {
	if cfg.Contexts == nil {
		cfg.Contexts = node.JSONContextCodec{}
	}
	if cfg.Schemas == nil {
		cfg.Schemas = EmbeddedSchemas{}
	}
	return &Store{
		factory:  factory,
		prefix:   cfg.TablePrefix,
		users:    cfg.Users,
		groups:   cfg.Groups,
		tracks:   cfg.Tracks,
		contexts: cfg.Contexts,
		schemas:  cfg.Schemas,
	}
}

// Name identifies the active backend dialect.
func (s *Store) Name() string { return s.factory.Name() }

// Init connects to the backend and provisions schema if the probe table is
// absent. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	if err := s.factory.Init(ctx); err != nil {
		return errors.WithMessage(err, "initializing connection factory")
	}

	var exists bool
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		exists = s.tableExists(ctx, c, s.prefix+"user_permissions")
		return nil
	})
	if err != nil {
		return err
	}

	if !exists {
		if err = s.applySchema(ctx); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{
		"backend": s.factory.Name(),
		"prefix":  s.prefix,
	}).Info("permission storage initialized")
	return nil
}

// Shutdown releases the backend pool. Idempotent.
func (s *Store) Shutdown() error {
	return s.factory.Shutdown()
}

// Meta surfaces backend diagnostics.
func (s *Store) Meta(ctx context.Context) map[string]string {
	return s.factory.Meta(ctx)
}

// process maps a canonical-form statement to the active backend: the
// "{prefix}" marker is substituted, then the dialect rewriter applies its
// quoting and placeholder conventions.
func (s *Store) process(stmt string) string {
	return s.factory.Rewrite(strings.ReplaceAll(stmt, "{prefix}", s.prefix))
}

// withConnection checks out one connection, runs |fn|, and releases it.
// Each logical sub-operation borrows its own connection; none is held
// across an entire load or save.
func (s *Store) withConnection(ctx context.Context, fn func(c *sql.Conn) error) error {
	var c, err = s.factory.Connection(ctx)
	if err != nil {
		storageFailuresTotal.Inc()
		return err
	}
	defer c.Close()

	if err = fn(c); err != nil {
		storageFailuresTotal.Inc()
		return err
	}
	return nil
}

// tableExists probes for |table| by issuing a trivial read against it.
func (s *Store) tableExists(ctx context.Context, c *sql.Conn, table string) bool {
	var stmt = s.factory.Rewrite("SELECT COUNT(*) FROM '" + table + "'")
	var n int
	return c.QueryRowContext(ctx, stmt).Scan(&n) == nil
}

// placeholders renders |n| comma-joined canonical placeholders.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// lock keys for the per-holder mutex registry. Users, groups and tracks
// occupy distinct namespaces.
func userLockKey(id string) string    { return "user/" + id }
func groupLockKey(name string) string { return "group/" + name }
func trackLockKey(name string) string { return "track/" + name }
