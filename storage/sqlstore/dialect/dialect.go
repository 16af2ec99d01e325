// Package dialect abstracts the differences between supported SQL backends:
// how connections are acquired, how engine statements are rewritten into
// the backend's identifier-quoting and placeholder conventions, and what
// metadata the backend exposes.
//
// Engine statements are written in a single canonical form: table names
// carry a "{prefix}" marker and are wrapped in single quotes, and bind
// placeholders use "?". Each Factory's Rewrite maps that form onto its
// backend. Because engine statements never embed literal string values
// (values always travel as bind parameters), quote substitution is a plain
// character replacement.
package dialect

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// A Factory acquires short-lived connections to one SQL backend and owns
// its dialect quirks. Factories are safe for concurrent use after Init.
type Factory interface {
	// Name is the backend's dialect name, eg "PostgreSQL". It keys
	// per-dialect statement variants and schema resources.
	Name() string
	// Init opens the underlying pool and verifies connectivity.
	Init(ctx context.Context) error
	// Connection checks out a single connection. The caller must Close it;
	// connections are never shared across goroutines.
	Connection(ctx context.Context) (*sql.Conn, error)
	// Shutdown closes the pool. Idempotent.
	Shutdown() error
	// Rewrite maps a canonical-form statement into backend syntax. The
	// "{prefix}" marker must already have been substituted.
	Rewrite(stmt string) string
	// Meta surfaces backend diagnostics for reporting.
	Meta(ctx context.Context) map[string]string
}

// replaceQuotes swaps the canonical single-quote identifier wrapping for
// the backend's quote character.
func replaceQuotes(stmt string, quote byte) string {
	return strings.ReplaceAll(stmt, "'", string(quote))
}

// numberPlaceholders rewrites "?" placeholders as "$1".."$n" for backends
// with numbered parameters.
func numberPlaceholders(stmt string) string {
	var b strings.Builder
	var n int
	for i := 0; i < len(stmt); i++ {
		if stmt[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteByte(stmt[i])
		}
	}
	return b.String()
}

// poolMeta reports common pool diagnostics.
func poolMeta(ctx context.Context, db *sql.DB) map[string]string {
	if db == nil {
		return map[string]string{"connected": "false"}
	}
	var meta = map[string]string{"connected": "true"}
	if err := db.PingContext(ctx); err != nil {
		meta["connected"] = "false"
	}
	var stats = db.Stats()
	meta["poolOpen"] = strconv.Itoa(stats.OpenConnections)
	meta["poolInUse"] = strconv.Itoa(stats.InUse)
	meta["poolIdle"] = strconv.Itoa(stats.Idle)
	return meta
}
