package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/melkeydev/mcp-tablerest/types"
)

type SQLiteConnector struct {
	db *sqlx.DB
}

// NewSQLiteConnector opens the database with BEGIN IMMEDIATE transactions so
// a read-then-write transaction holds the write lock from its first statement.
func NewSQLiteConnector(connectionString string) (*SQLiteConnector, error) {
	db, err := sqlx.Open("sqlite3", withTxLock(connectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	connector := &SQLiteConnector{
		db: db,
	}

	// Test the connection
	if err := connector.Ping(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return connector, nil
}

// NewFromDB wraps an already opened handle.
func NewFromDB(db *sqlx.DB) *SQLiteConnector {
	return &SQLiteConnector{db: db}
}

func withTxLock(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_txlock=immediate"
	}
	return dsn + "?_txlock=immediate"
}

func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLiteConnector) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *SQLiteConnector) Name() string {
	return "sqlite"
}

func (c *SQLiteConnector) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *SQLiteConnector) Placeholder(int) string {
	return "?"
}

func (c *SQLiteConnector) SupportsReturning() bool {
	return true
}

// IsolationLevel is the default level. Writers are already serialized by
// _txlock=immediate, which is as strict as SQLite gets.
func (c *SQLiteConnector) IsolationLevel() sql.IsolationLevel {
	return sql.LevelDefault
}

func (c *SQLiteConnector) IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (c *SQLiteConnector) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := c.db.SelectContext(ctx, &tables, `
		SELECT name
		FROM sqlite_master
		WHERE type='table'
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return tables, nil
}

func (c *SQLiteConnector) LoadColumns(ctx context.Context, table string) ([]types.Column, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, type, "notnull", pk
		FROM pragma_table_info(?)
		ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []types.Column
	for rows.Next() {
		var name, dataType string
		var notNull, pk int

		if err := rows.Scan(&name, &dataType, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		columns = append(columns, types.Column{
			Name:       name,
			Type:       dataType,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		})
	}

	return columns, rows.Err()
}

func (c *SQLiteConnector) UniqueColumns(ctx context.Context, table string) ([]string, error) {
	var columns []string

	// A rowid alias primary key has no index entry.
	var pkColumns []string
	err := c.db.SelectContext(ctx, &pkColumns, `
		SELECT name
		FROM pragma_table_info(?)
		WHERE pk > 0`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary keys: %w", err)
	}
	if len(pkColumns) == 1 {
		columns = append(columns, pkColumns[0])
	}

	var indexes []string
	err = c.db.SelectContext(ctx, &indexes, `
		SELECT name
		FROM pragma_index_list(?)
		WHERE "unique" = 1`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}

	for _, index := range indexes {
		var indexColumns []string
		err := c.db.SelectContext(ctx, &indexColumns, `
			SELECT name
			FROM pragma_index_info(?)
			ORDER BY seqno`, index)
		if err != nil {
			return nil, fmt.Errorf("failed to get columns of index %s: %w", index, err)
		}
		if len(indexColumns) == 1 {
			columns = append(columns, indexColumns[0])
		}
	}

	return columns, nil
}
