package executor

import (
	"context"
	"database/sql"

	"github.com/melkeydev/mcp-tablerest/compiler"
	"github.com/melkeydev/mcp-tablerest/query"
	"github.com/melkeydev/mcp-tablerest/types"
	"github.com/spf13/cast"
)

// List returns the rows of table visible to caller. The total is only
// computed when a page is requested.
func (e *Executor) List(ctx context.Context, table string, caller int64, spec *query.Spec) (*types.ListResult, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		spec = &query.Spec{}
	}

	lq, err := e.compiler.CompileList(t, spec, caller)
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTxx(ctx, &sql.TxOptions{
		ReadOnly: true,
	})
	if err != nil {
		return nil, e.storage(err, "failed to begin transaction")
	}
	defer tx.Commit()

	rows, err := e.queryRows(ctx, tx, compiler.Statement{SQL: lq.List, Args: lq.Args})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		e.tenant.StripRow(t, spec.Select, row)
	}

	result := &types.ListResult{Rows: rows}
	if lq.Page != nil {
		var total int64
		e.logger.Debug("query", "sql", lq.Count, "args", len(lq.Args))
		if err := tx.GetContext(ctx, &total, lq.Count, lq.Args...); err != nil {
			return nil, e.storage(err, "failed to count rows")
		}
		result.PageNo = &lq.Page.No
		result.PageSize = &lq.Page.Size
		result.Total = &total
	}
	return result, nil
}

// Get returns one row by its raw primary key string.
func (e *Executor) Get(ctx context.Context, table string, caller int64, rawKey string) (map[string]any, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	key, err := compiler.CoerceKey(t, rawKey)
	if err != nil {
		return nil, err
	}

	result, err := e.List(ctx, t.Name, caller, &query.Spec{Where: compiler.KeyCondition(t, key)})
	if err != nil {
		return nil, err
	}
	if len(result.Rows) == 0 {
		return nil, types.NotFound("%s %s not found", t.Name, rawKey)
	}
	return result.Rows[0], nil
}

// LookupCaller resolves a username to the id stored in the auth table.
// Credentials are not checked here.
func (e *Executor) LookupCaller(ctx context.Context, username string) (int64, error) {
	if e.authTable == "" {
		return 0, types.Table("no auth table configured")
	}
	t, err := e.table(e.authTable)
	if err != nil {
		return 0, err
	}

	lq, err := e.compiler.Unscoped().CompileList(t, &query.Spec{
		Select: []query.SelectItem{query.Field("id")},
		Where:  query.Comparison{Field: "username", Op: query.OpEq, Value: username},
	}, 0)
	if err != nil {
		return 0, err
	}

	rows, err := e.queryRows(ctx, e.db, compiler.Statement{SQL: lq.List, Args: lq.Args})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, types.NotFound("user %s not found", username)
	}

	id, err := cast.ToInt64E(rows[0]["id"])
	if err != nil {
		return 0, types.Storage(err, "auth table id is not an integer")
	}
	return id, nil
}
