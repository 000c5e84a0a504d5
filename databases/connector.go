package databases

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/mcp-tablerest/databases/mysql"
	"github.com/melkeydev/mcp-tablerest/databases/postgres"
	"github.com/melkeydev/mcp-tablerest/databases/sqlite"
	"github.com/melkeydev/mcp-tablerest/types"
)

// Dialect is what the compiler and executor need to know about a backend.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	// Placeholder returns the bind marker for the n-th (1-based) parameter.
	Placeholder(n int) string
	// SupportsReturning reports whether UPDATE/DELETE/INSERT accept RETURNING.
	SupportsReturning() bool
	// IsolationLevel is the strictest level usable for a read-then-write pair.
	IsolationLevel() sql.IsolationLevel
	IsUniqueViolation(err error) bool
}

// Introspector reads schema information. It never issues DDL.
type Introspector interface {
	ListTables(ctx context.Context) ([]string, error)
	LoadColumns(ctx context.Context, table string) ([]types.Column, error)
	// UniqueColumns lists columns covered on their own by a unique index or key.
	UniqueColumns(ctx context.Context, table string) ([]string, error)
}

type Connector interface {
	Dialect
	Introspector
	DB() *sqlx.DB
	Ping(ctx context.Context) error
	Close() error
}

func NewConnector(dbType, connectionString string) (Connector, error) {
	switch dbType {
	case "sqlite":
		return sqlite.NewSQLiteConnector(connectionString)
	case "postgres":
		return postgres.NewPostgresConnector(connectionString)
	case "mysql":
		return mysql.NewMySQLConnector(connectionString)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
