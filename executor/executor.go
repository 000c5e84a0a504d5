// Package executor runs compiled statements against the database: the
// tenant scoped read path and the mutation executor with exact
// affected-key reporting.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/mcp-tablerest/compiler"
	"github.com/melkeydev/mcp-tablerest/schema"
	"github.com/melkeydev/mcp-tablerest/tenant"
	"github.com/melkeydev/mcp-tablerest/types"
)

// Dialect is satisfied by every databases connector.
type Dialect interface {
	compiler.Dialect
	Name() string
	SupportsReturning() bool
	IsolationLevel() sql.IsolationLevel
	IsUniqueViolation(err error) bool
}

type Catalog interface {
	Lookup(name string) (*schema.Table, bool)
}

type Executor struct {
	db        *sqlx.DB
	dialect   Dialect
	catalog   Catalog
	compiler  *compiler.Compiler
	tenant    tenant.Filter
	logger    *slog.Logger
	returning bool
	authTable string
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithSelectThenMutate disables the RETURNING fast path for conditional
// mutations even when the backend supports it.
func WithSelectThenMutate() Option {
	return func(e *Executor) {
		e.returning = false
	}
}

// WithAuthTable names the table LookupCaller reads.
func WithAuthTable(name string) Option {
	return func(e *Executor) {
		e.authTable = name
	}
}

func New(db *sqlx.DB, dialect Dialect, catalog Catalog, filter tenant.Filter, opts ...Option) *Executor {
	e := &Executor{
		db:        db,
		dialect:   dialect,
		catalog:   catalog,
		compiler:  compiler.New(dialect, filter),
		tenant:    filter,
		logger:    slog.Default(),
		returning: dialect.SupportsReturning(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compiler exposes the statement compiler used by the executor.
func (e *Executor) Compiler() *compiler.Compiler {
	return e.compiler
}

func (e *Executor) table(name string) (*schema.Table, error) {
	t, ok := e.catalog.Lookup(name)
	if !ok {
		return nil, types.NotFound("table %s not found", name)
	}
	return t, nil
}

// inTx runs fn in one transaction at the dialect's strictest isolation level.
func (e *Executor) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := e.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: e.dialect.IsolationLevel(),
	})
	if err != nil {
		return e.storage(err, "failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			e.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return e.storage(err, "failed to commit transaction")
	}
	return nil
}

// storage classifies a backend error. Already classified errors pass
// through and duplicate keys become conflicts.
func (e *Executor) storage(err error, message string) error {
	var classified *types.Error
	if errors.As(err, &classified) {
		return err
	}
	if e.dialect.IsUniqueViolation(err) {
		return &types.Error{Code: types.CodeConflict, Message: "duplicate key", Err: err}
	}
	e.logger.Error(message, "dialect", e.dialect.Name(), "error", err)
	return types.Storage(err, message)
}

func (e *Executor) exec(ctx context.Context, ex sqlx.ExecerContext, stmt compiler.Statement) (sql.Result, error) {
	e.logger.Debug("exec", "sql", stmt.SQL, "args", len(stmt.Args))
	res, err := ex.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, e.storage(err, "failed to execute statement")
	}
	return res, nil
}

func (e *Executor) queryRows(ctx context.Context, q sqlx.QueryerContext, stmt compiler.Statement) ([]map[string]any, error) {
	e.logger.Debug("query", "sql", stmt.SQL, "args", len(stmt.Args))
	rows, err := q.QueryxContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, e.storage(err, "unable to query db")
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, e.storage(err, "unable to scan row")
		}
		for k, v := range row {
			row[k] = normalize(v)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.storage(err, "unable to read rows")
	}
	return results, nil
}

// selectKeys runs stmt and collects its single primary key column.
func (e *Executor) selectKeys(ctx context.Context, q sqlx.QueryerContext, t *schema.Table, stmt compiler.Statement) ([]any, error) {
	e.logger.Debug("query", "sql", stmt.SQL, "args", len(stmt.Args))
	rows, err := q.QueryxContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, e.storage(err, "unable to query keys")
	}
	defer rows.Close()

	keys := []any{}
	for rows.Next() {
		var key any
		if err := rows.Scan(&key); err != nil {
			return nil, e.storage(err, "unable to scan key")
		}
		keys = append(keys, normalizeKey(t, key))
	}
	if err := rows.Err(); err != nil {
		return nil, e.storage(err, "unable to read keys")
	}
	return keys, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// normalizeKey returns numeric keys as numbers even when the driver
// reports them as text.
func normalizeKey(t *schema.Table, v any) any {
	v = normalize(v)
	col, _ := t.Column(t.PrimaryKey)
	if n, err := compiler.Coerce(col, v); err == nil {
		return n
	}
	return v
}
