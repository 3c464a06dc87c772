package plugins

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.db")

	seed, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = seed.Exec(`CREATE TABLE cities (id INTEGER PRIMARY KEY, name TEXT NOT NULL, population INTEGER)`)
	require.NoError(t, err)
	_, err = seed.Exec(`INSERT INTO cities (name, population) VALUES ('Oslo', 700000), ('Bergen', 285000), ('Tromso', 77000)`)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	d := NewDatabase(path, testr.New(t))
	require.NoError(t, d.Init(t.Context()))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDatabaseQuery(t *testing.T) {
	d := newTestDatabase(t)

	out, err := d.query(t.Context(), map[string]any{"query": "SELECT name, population FROM cities ORDER BY id;", "limit": 2})
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, []string{"name", "population"}, res["columns"])
	rows := res["rows"].([]map[string]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "Oslo", rows[0]["name"])
	assert.Equal(t, int64(700000), rows[0]["population"])
	assert.Equal(t, true, res["truncated"])
}

func TestDatabaseRejectsWrites(t *testing.T) {
	d := newTestDatabase(t)

	for _, q := range []string{
		"DELETE FROM cities",
		"SELECT 1; DROP TABLE cities",
		"WITH x AS (SELECT 1) INSERT INTO cities (name) VALUES ('x')",
		"PRAGMA table_info(cities)",
	} {
		_, err := d.query(t.Context(), map[string]any{"query": q})
		assert.Error(t, err, q)
	}

	out, err := d.query(t.Context(), map[string]any{"query": "SELECT COUNT(*) AS n FROM cities"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.(map[string]any)["rows"].([]map[string]any)[0]["n"])
}

func TestDatabaseSchema(t *testing.T) {
	d := newTestDatabase(t)

	out, err := d.schema(t.Context(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tables": []string{"cities"}}, out)

	out, err = d.schema(t.Context(), map[string]any{"table_name": "cities"})
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, "cities", res["table"])

	_, err = d.schema(t.Context(), map[string]any{"table_name": "nope"})
	assert.ErrorContains(t, err, "table not found")
}

func TestDatabaseInitRequiresDSN(t *testing.T) {
	d := NewDatabase("", testr.New(t))
	assert.Error(t, d.Init(t.Context()))
}

func TestDatabaseEveryConnectionReadOnly(t *testing.T) {
	d := newTestDatabase(t)
	ctx := t.Context()

	// Hold one connection so the pool has to open a second.
	first, err := d.db.Conn(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := d.db.Conn(ctx)
	require.NoError(t, err)
	defer second.Close()

	for _, conn := range []*sql.Conn{first, second} {
		_, err := conn.ExecContext(ctx, "INSERT INTO cities (name) VALUES ('Bodo')")
		assert.Error(t, err)
	}
}

func TestReadOnlyDSN(t *testing.T) {
	assert.Equal(t, "file:/data/app.db?mode=ro&_query_only=1", readOnlyDSN("/data/app.db"))
	assert.Equal(t, "file:app.db?cache=shared&mode=ro&_query_only=1", readOnlyDSN("file:app.db?cache=shared"))
}

func TestDatabaseInitMissingFile(t *testing.T) {
	d := NewDatabase(filepath.Join(t.TempDir(), "absent.db"), testr.New(t))
	assert.Error(t, d.Init(t.Context()))
}
