package executor

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/mcp-tablerest/compiler"
	"github.com/melkeydev/mcp-tablerest/schema"
	"github.com/melkeydev/mcp-tablerest/types"
)

// Insert creates every row in one transaction and reports their keys.
func (e *Executor) Insert(ctx context.Context, table string, caller int64, rows []map[string]any) (*types.WriteResult, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.Validation("no rows to insert")
	}

	var created []any
	err = e.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			key, err := e.insertRow(ctx, tx, t, row, caller)
			if err != nil {
				return err
			}
			if t.PrimaryKey != "" {
				created = append(created, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.Created(created), nil
}

// Upsert updates rows whose supplied key exists for caller and inserts
// the rest. Rows without a key are always inserted.
func (e *Executor) Upsert(ctx context.Context, table string, caller int64, rows []map[string]any) (*types.WriteResult, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.Validation("no rows to upsert")
	}

	var created, updated []any
	err = e.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			key, supplied, err := suppliedKey(t, row)
			if err != nil {
				return err
			}
			if supplied {
				owned, err := e.exists(ctx, tx, e.compiler, t, key, caller)
				if err != nil {
					return err
				}
				if owned {
					if err := e.updateRow(ctx, tx, t, key, row, caller, false); err != nil {
						return err
					}
					updated = append(updated, key)
					continue
				}
			}

			key, err = e.insertRow(ctx, tx, t, row, caller)
			if err != nil {
				return err
			}
			if t.PrimaryKey != "" {
				created = append(created, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.Upserted(created, updated), nil
}

// Update applies a sparse update to each row identified by its key. Every
// row must carry a key that exists for caller.
func (e *Executor) Update(ctx context.Context, table string, caller int64, rows []map[string]any) (*types.WriteResult, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	if t.PrimaryKey == "" {
		return nil, types.Table("table %s has no primary key", t.Name)
	}
	if len(rows) == 0 {
		return nil, types.Validation("no rows to update")
	}

	var updated []any
	err = e.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			key, supplied, err := suppliedKey(t, row)
			if err != nil {
				return err
			}
			if !supplied {
				return types.Validation("primary key %s is required", t.PrimaryKey)
			}
			owned, err := e.exists(ctx, tx, e.compiler, t, key, caller)
			if err != nil {
				return err
			}
			if !owned {
				return types.NotFound("%s %v not found", t.Name, key)
			}
			if err := e.updateRow(ctx, tx, t, key, row, caller, true); err != nil {
				return err
			}
			updated = append(updated, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.Updated(updated), nil
}

// UpdateByKey is Update for a single row addressed by a raw key string.
func (e *Executor) UpdateByKey(ctx context.Context, table string, caller int64, rawKey string, set map[string]any) (*types.WriteResult, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	key, err := compiler.CoerceKey(t, rawKey)
	if err != nil {
		return nil, err
	}
	row := make(map[string]any, len(set)+1)
	for k, v := range set {
		row[k] = v
	}
	row[t.PrimaryKey] = key
	return e.Update(ctx, t.Name, caller, []map[string]any{row})
}

// insertRow inserts one row with ownership forced to caller and returns
// its primary key, supplied or generated.
func (e *Executor) insertRow(ctx context.Context, tx *sqlx.Tx, t *schema.Table, row map[string]any, caller int64) (any, error) {
	row = e.tenant.ScrubInsert(t, row, caller)

	key, supplied, err := suppliedKey(t, row)
	if err != nil {
		return nil, err
	}
	if supplied {
		taken, err := e.exists(ctx, tx, e.compiler.Unscoped(), t, key, 0)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, types.Conflict("%s %v already exists", t.Name, key)
		}
		row[t.PrimaryKey] = key
	} else if t.PrimaryKey != "" {
		// An explicit null key leaves generation to the database.
		delete(row, t.PrimaryKey)
	}

	stmt, err := e.compiler.CompileInsert(t, row)
	if err != nil {
		return nil, err
	}

	switch {
	case t.PrimaryKey == "" || supplied:
		if _, err := e.exec(ctx, tx, stmt); err != nil {
			return nil, err
		}
		return key, nil
	case e.dialect.SupportsReturning():
		keys, err := e.selectKeys(ctx, tx, t, e.compiler.Returning(t, stmt))
		if err != nil {
			return nil, err
		}
		if len(keys) != 1 {
			return nil, types.Storage(nil, "insert returned no key")
		}
		return keys[0], nil
	default:
		res, err := e.exec(ctx, tx, stmt)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, e.storage(err, "failed to read generated key")
		}
		return id, nil
	}
}

// updateRow writes the supplied non-key, non-ownership columns of row.
// With strict unset a row carrying nothing to write is left untouched.
func (e *Executor) updateRow(ctx context.Context, tx *sqlx.Tx, t *schema.Table, key any, row map[string]any, caller int64, strict bool) error {
	set := e.tenant.ScrubUpdate(t, row)
	delete(set, t.PrimaryKey)
	if len(set) == 0 && !strict {
		return nil
	}

	stmt, err := e.compiler.CompileUpdate(t, set, compiler.KeyCondition(t, key), caller)
	if err != nil {
		return err
	}
	_, err = e.exec(ctx, tx, stmt)
	return err
}

func (e *Executor) exists(ctx context.Context, tx *sqlx.Tx, c *compiler.Compiler, t *schema.Table, key any, caller int64) (bool, error) {
	stmt, err := c.CompileSelectKeys(t, compiler.KeyCondition(t, key), caller)
	if err != nil {
		return false, err
	}
	keys, err := e.selectKeys(ctx, tx, t, stmt)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// suppliedKey returns the coerced primary key value carried by row.
func suppliedKey(t *schema.Table, row map[string]any) (any, bool, error) {
	if t.PrimaryKey == "" {
		return nil, false, nil
	}
	v, ok := row[t.PrimaryKey]
	if !ok || v == nil {
		return nil, false, nil
	}
	col, _ := t.Column(t.PrimaryKey)
	key, err := compiler.Coerce(col, v)
	if err != nil {
		return nil, false, types.Validation("invalid primary key %v", v)
	}
	return key, true, nil
}
