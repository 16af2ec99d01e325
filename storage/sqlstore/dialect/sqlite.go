package dialect

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver.
	"github.com/pkg/errors"
)

// SQLiteConfig configures the file-backed SQLite backend.
type SQLiteConfig struct {
	Path string `long:"path" env:"PATH" default:"permissions.db" description:"Path of the SQLite database file"`
}

// SQLite is the SQLite connection Factory, backed by mattn/go-sqlite3.
//
// The pool is restricted to a single open connection: SQLite serializes
// writers at the file level, and a second connection would only contend on
// the database lock.
type SQLite struct {
	cfg SQLiteConfig
	db  *sql.DB
}

// NewSQLite returns an uninitialized SQLite Factory.
func NewSQLite(cfg SQLiteConfig) *SQLite { return &SQLite{cfg: cfg} }

func (s *SQLite) Name() string { return "SQLite" }

func (s *SQLite) Init(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	var db, err = sql.Open("sqlite3", "file:"+s.cfg.Path+"?_foreign_keys=on")
	if err != nil {
		return errors.Wrap(err, "opening sqlite database")
	}
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "opening sqlite file")
	}
	s.db = db
	return nil
}

func (s *SQLite) Connection(ctx context.Context) (*sql.Conn, error) {
	if s.db == nil {
		return nil, errors.New("sqlite factory not initialized")
	}
	var c, err = s.db.Conn(ctx)
	return c, errors.Wrap(err, "acquiring sqlite connection")
}

func (s *SQLite) Shutdown() error {
	if s.db == nil {
		return nil
	}
	var err = s.db.Close()
	s.db = nil
	return errors.Wrap(err, "closing sqlite database")
}

// Rewrite quotes identifiers with double-quotes. SQLite binds with "?".
func (s *SQLite) Rewrite(stmt string) string {
	return replaceQuotes(stmt, '"')
}

func (s *SQLite) Meta(ctx context.Context) map[string]string {
	return poolMeta(ctx, s.db)
}
