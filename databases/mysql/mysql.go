package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/mcp-tablerest/types"
)

const duplicateEntry = 1062

type MySQLConnector struct {
	db *sqlx.DB
}

func NewMySQLConnector(connectionString string) (*MySQLConnector, error) {
	_, err := mysql.ParseDSN(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Open the database connection
	db, err := sqlx.Open("mysql", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	connector := &MySQLConnector{
		db: db,
	}

	if err := connector.Ping(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return connector, nil
}

// NewFromDB wraps an already opened handle.
func NewFromDB(db *sqlx.DB) *MySQLConnector {
	return &MySQLConnector{db: db}
}

func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *MySQLConnector) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *MySQLConnector) Name() string {
	return "mysql"
}

func (c *MySQLConnector) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (c *MySQLConnector) Placeholder(int) string {
	return "?"
}

// SupportsReturning is false: MySQL has no RETURNING on UPDATE/DELETE.
func (c *MySQLConnector) SupportsReturning() bool {
	return false
}

func (c *MySQLConnector) IsolationLevel() sql.IsolationLevel {
	return sql.LevelSerializable
}

func (c *MySQLConnector) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == duplicateEntry
}

// ListTables lists base tables of the connected database.
func (c *MySQLConnector) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := c.db.SelectContext(ctx, &tables, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		AND table_schema = DATABASE()
		ORDER BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return tables, nil
}

func (c *MySQLConnector) LoadColumns(ctx context.Context, table string) ([]types.Column, error) {
	query := `
		SELECT column_name, data_type, is_nullable, column_key
		FROM information_schema.columns
		WHERE table_name = ? AND table_schema = DATABASE()
		ORDER BY ordinal_position
	`

	rows, err := c.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []types.Column
	for rows.Next() {
		var name, dataType, isNullable, columnKey string
		if err := rows.Scan(&name, &dataType, &isNullable, &columnKey); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		columns = append(columns, types.Column{
			Name:       name,
			Type:       dataType,
			Nullable:   isNullable == "YES",
			PrimaryKey: columnKey == "PRI",
		})
	}

	return columns, rows.Err()
}

func (c *MySQLConnector) UniqueColumns(ctx context.Context, table string) ([]string, error) {
	var columns []string
	err := c.db.SelectContext(ctx, &columns, `
		SELECT MIN(column_name)
		FROM information_schema.statistics
		WHERE table_schema = DATABASE()
		AND table_name = ?
		AND non_unique = 0
		GROUP BY index_name
		HAVING COUNT(*) = 1
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique indexes: %w", err)
	}
	return columns, nil
}
