package dialect

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq" // "postgres" driver.
	"github.com/pkg/errors"
)

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN             string        `long:"dsn" env:"DSN" default:"postgres://localhost:5432/permissions?sslmode=disable" description:"PostgreSQL connection string"`
	MaxOpenConns    int           `long:"max-open-conns" env:"MAX_OPEN_CONNS" default:"10" description:"Maximum open connections held by the pool"`
	MaxIdleConns    int           `long:"max-idle-conns" env:"MAX_IDLE_CONNS" default:"5" description:"Maximum idle connections held by the pool"`
	ConnMaxLifetime time.Duration `long:"conn-max-lifetime" env:"CONN_MAX_LIFETIME" default:"30m" description:"Maximum lifetime of a pooled connection"`
}

// Postgres is the PostgreSQL connection Factory, backed by lib/pq.
type Postgres struct {
	cfg PostgresConfig
	db  *sql.DB
}

// NewPostgres returns an uninitialized Postgres Factory.
func NewPostgres(cfg PostgresConfig) *Postgres { return &Postgres{cfg: cfg} }

func (p *Postgres) Name() string { return "PostgreSQL" }

func (p *Postgres) Init(ctx context.Context) error {
	if p.db != nil {
		return nil
	}
	var db, err = sql.Open("postgres", p.cfg.DSN)
	if err != nil {
		return errors.Wrap(err, "opening postgres pool")
	}
	db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	db.SetMaxIdleConns(p.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(p.cfg.ConnMaxLifetime)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "pinging postgres")
	}
	p.db = db
	return nil
}

func (p *Postgres) Connection(ctx context.Context) (*sql.Conn, error) {
	if p.db == nil {
		return nil, errors.New("postgres factory not initialized")
	}
	var c, err = p.db.Conn(ctx)
	return c, errors.Wrap(err, "acquiring postgres connection")
}

func (p *Postgres) Shutdown() error {
	if p.db == nil {
		return nil
	}
	var err = p.db.Close()
	p.db = nil
	return errors.Wrap(err, "closing postgres pool")
}

// Rewrite quotes identifiers with double-quotes and numbers placeholders.
func (p *Postgres) Rewrite(stmt string) string {
	return numberPlaceholders(replaceQuotes(stmt, '"'))
}

func (p *Postgres) Meta(ctx context.Context) map[string]string {
	return poolMeta(ctx, p.db)
}
