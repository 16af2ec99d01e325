package sqlstore

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"embed"
	"io"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// EmbeddedSchemas provides the DDL resources shipped with the engine,
// keyed by lower-cased dialect name.
type EmbeddedSchemas struct{}

// Open returns the DDL byte stream for |backend|.
func (EmbeddedSchemas) Open(backend string) ([]byte, error) {
	var b, err = schemaFS.ReadFile("schema/" + backend + ".sql")
	if err != nil {
		return nil, errors.Wrapf(err, "no schema resource for backend %q", backend)
	}
	return b, nil
}

// ReadStatements parses a DDL stream into an ordered sequence of
// executable statements. "--" comment lines and blank lines are dropped;
// statements terminate at a line ending in ";" (the terminator is not part
// of the statement).
func ReadStatements(r io.Reader) ([]string, error) {
	var scanner = bufio.NewScanner(r)
	var statements []string
	var current strings.Builder

	for scanner.Scan() {
		var line = strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if current.Len() != 0 {
			current.WriteByte(' ')
		}
		current.WriteString(line)

		if strings.HasSuffix(line, ";") {
			statements = append(statements, strings.TrimSuffix(current.String(), ";"))
			current.Reset()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading schema")
	}
	if current.Len() != 0 {
		return nil, errors.Errorf("schema has unterminated trailing statement %q", current.String())
	}
	return statements, nil
}

// applySchema provisions the backend's tables from its embedded DDL. If the
// backend rejects the extended utf8mb4 character set, the statement run is
// retried once with a utf8 downgrade.
func (s *Store) applySchema(ctx context.Context) error {
	var raw, err = s.schemas.Open(strings.ToLower(s.factory.Name()))
	if err != nil {
		return errors.WithMessage(err, "locating schema resource")
	}

	statements, err := ReadStatements(bytes.NewReader(raw))
	if err != nil {
		return errors.WithMessage(err, "parsing schema resource")
	}
	for i, stmt := range statements {
		statements[i] = s.process(stmt)
	}

	err = s.execAll(ctx, statements)
	if err != nil && strings.Contains(err.Error(), "Unknown character set") {
		log.WithField("backend", s.factory.Name()).
			Warn("backend rejected utf8mb4; retrying schema with utf8")

		for i, stmt := range statements {
			statements[i] = strings.ReplaceAll(stmt, "utf8mb4", "utf8")
		}
		err = s.execAll(ctx, statements)
	}
	return errors.WithMessage(err, "applying schema")
}

func (s *Store) execAll(ctx context.Context, statements []string) error {
	return s.withConnection(ctx, func(c *sql.Conn) error {
		for _, stmt := range statements {
			if _, err := c.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "executing %q", stmt)
			}
		}
		return nil
	})
}
