package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/melkeydev/mcp-tablerest/databases/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	conn, err := sqlite.NewSQLiteConnector(path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.DB().Exec(`
		CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, price REAL, owner INTEGER);
		CREATE TABLE tags (label TEXT);
	`)
	require.NoError(t, err)
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestCompileCommand(t *testing.T) {
	db := newTestDB(t)

	out, err := run(t, "compile", "products", "price=gt.1&order=id.desc&pageNo=2&pageSize=10", "--db-file", db, "--caller-id", "5")
	require.NoError(t, err)

	var got struct {
		List  string `json:"list"`
		Count string `json:"count"`
		Args  []any  `json:"args"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, `SELECT * FROM "products" WHERE "owner" = ? AND "price" > ? ORDER BY "id" DESC LIMIT 10 OFFSET 10`, got.List)
	assert.Equal(t, `SELECT COUNT(*) FROM "products" WHERE "owner" = ? AND "price" > ?`, got.Count)
	assert.Equal(t, []any{5.0, 1.0}, got.Args)
}

func TestCompileCommand_UnknownTable(t *testing.T) {
	db := newTestDB(t)

	_, err := run(t, "compile", "orders", "--db-file", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table orders not found")
}

func TestSchemaCommand(t *testing.T) {
	db := newTestDB(t)

	out, err := run(t, "schema", "--db-file", db)
	require.NoError(t, err)
	assert.Contains(t, out, "products")
	assert.Contains(t, out, "tags")
	assert.Contains(t, out, "PK")
	assert.Contains(t, out, "yes")
}

func TestConfigCommand(t *testing.T) {
	out, err := run(t, "config", "--owner", "account_id", "--db-type", "mysql", "--dsn", "u@tcp(db)/app")
	require.NoError(t, err)
	assert.Contains(t, out, "owner_column: account_id")
	assert.Contains(t, out, "type: mysql")
}

func TestConfigValidationFails(t *testing.T) {
	_, err := run(t, "config", "--db-type", "postgres")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection string is required")
}
