package dialect

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// MySQLConfig configures the MySQL / MariaDB backend.
type MySQLConfig struct {
	DSN             string        `long:"dsn" env:"DSN" default:"root@tcp(localhost:3306)/permissions?charset=utf8mb4" description:"MySQL connection string"`
	MaxOpenConns    int           `long:"max-open-conns" env:"MAX_OPEN_CONNS" default:"10" description:"Maximum open connections held by the pool"`
	MaxIdleConns    int           `long:"max-idle-conns" env:"MAX_IDLE_CONNS" default:"5" description:"Maximum idle connections held by the pool"`
	ConnMaxLifetime time.Duration `long:"conn-max-lifetime" env:"CONN_MAX_LIFETIME" default:"30m" description:"Maximum lifetime of a pooled connection"`
}

// MySQL is the MySQL connection Factory, backed by go-sql-driver/mysql.
type MySQL struct {
	cfg MySQLConfig
	db  *sql.DB
}

// NewMySQL returns an uninitialized MySQL Factory.
func NewMySQL(cfg MySQLConfig) *MySQL { return &MySQL{cfg: cfg} }

func (m *MySQL) Name() string { return "MySQL" }

func (m *MySQL) Init(ctx context.Context) error {
	if m.db != nil {
		return nil
	}
	var dsn, err = normalizeMySQLDSN(m.cfg.DSN)
	if err != nil {
		return err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return errors.Wrap(err, "opening mysql pool")
	}
	db.SetMaxOpenConns(m.cfg.MaxOpenConns)
	db.SetMaxIdleConns(m.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "pinging mysql")
	}
	m.db = db
	return nil
}

func (m *MySQL) Connection(ctx context.Context) (*sql.Conn, error) {
	if m.db == nil {
		return nil, errors.New("mysql factory not initialized")
	}
	var c, err = m.db.Conn(ctx)
	return c, errors.Wrap(err, "acquiring mysql connection")
}

func (m *MySQL) Shutdown() error {
	if m.db == nil {
		return nil
	}
	var err = m.db.Close()
	m.db = nil
	return errors.Wrap(err, "closing mysql pool")
}

// normalizeMySQLDSN forces clientFoundRows=true on |dsn|. The engine's
// update-or-insert paths test RowsAffected for row existence, which requires
// matched-rows rather than MySQL's default changed-rows semantics.
func normalizeMySQLDSN(dsn string) (string, error) {
	var cfg, err = mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parsing mysql dsn")
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

// Rewrite quotes identifiers with backticks. MySQL binds with "?" already.
func (m *MySQL) Rewrite(stmt string) string {
	return replaceQuotes(stmt, '`')
}

func (m *MySQL) Meta(ctx context.Context) map[string]string {
	return poolMeta(ctx, m.db)
}
