package sqlstore

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStatements(t *testing.T) {
	const ddl = `
-- A leading comment.

CREATE TABLE 'foo' (
  'id' INT NOT NULL
);

-- Another comment between statements.
CREATE INDEX 'foo_id' ON 'foo' ('id');
`
	var statements, err = ReadStatements(strings.NewReader(ddl))
	require.NoError(t, err)
	require.Len(t, statements, 2)

	assert.Equal(t, "CREATE TABLE 'foo' ( 'id' INT NOT NULL )", statements[0])
	assert.Equal(t, "CREATE INDEX 'foo_id' ON 'foo' ('id')", statements[1])
}

func TestReadStatementsRejectsUnterminated(t *testing.T) {
	var _, err = ReadStatements(strings.NewReader("CREATE TABLE 'foo' ('id' INT)"))
	assert.EqualError(t, err,
		`schema has unterminated trailing statement "CREATE TABLE 'foo' ('id' INT)"`)
}

func TestEmbeddedSchemasCoverSupportedBackends(t *testing.T) {
	for _, backend := range []string{"mysql", "postgresql", "sqlite"} {
		var raw, err = EmbeddedSchemas{}.Open(backend)
		require.NoError(t, err, backend)

		statements, err := ReadStatements(bytes.NewReader(raw))
		require.NoError(t, err, backend)
		assert.NotEmpty(t, statements, backend)

		for _, stmt := range statements {
			assert.Contains(t, stmt, "{prefix}", backend)
		}
	}
}

func TestEmbeddedSchemasUnknownBackend(t *testing.T) {
	var _, err = EmbeddedSchemas{}.Open("oracle")
	assert.Error(t, err)
}
