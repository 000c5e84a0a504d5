package executor

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/mcp-tablerest/compiler"
	"github.com/melkeydev/mcp-tablerest/query"
	"github.com/melkeydev/mcp-tablerest/schema"
	"github.com/melkeydev/mcp-tablerest/types"
)

// DeleteWhere deletes the caller's rows matching cond and reports exactly
// the keys removed. A missing condition is rejected.
func (e *Executor) DeleteWhere(ctx context.Context, table string, caller int64, cond query.Condition) (*types.WriteResult, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	if cond == nil {
		return nil, types.Validation("conditional delete requires a condition")
	}

	keys, err := e.deleteMatching(ctx, t, cond, caller)
	if err != nil {
		return nil, err
	}
	return types.Deleted(keys), nil
}

// DeleteByKey deletes one row addressed by a raw key string.
func (e *Executor) DeleteByKey(ctx context.Context, table string, caller int64, rawKey string) (*types.WriteResult, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	key, err := compiler.CoerceKey(t, rawKey)
	if err != nil {
		return nil, err
	}

	keys, err := e.deleteMatching(ctx, t, compiler.KeyCondition(t, key), caller)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, types.NotFound("%s %s not found", t.Name, rawKey)
	}
	return types.Deleted(keys), nil
}

// UpdateWhere applies set to the caller's rows matching cond and reports
// exactly the keys updated. The primary key itself cannot be reassigned.
func (e *Executor) UpdateWhere(ctx context.Context, table string, caller int64, cond query.Condition, set map[string]any) (*types.WriteResult, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	if cond == nil {
		return nil, types.Validation("conditional update requires a condition")
	}
	set = e.tenant.ScrubUpdate(t, set)
	if _, ok := set[t.PrimaryKey]; ok && t.PrimaryKey != "" {
		return nil, types.Validation("primary key %s cannot be changed by a conditional update", t.PrimaryKey)
	}

	stmt, err := e.compiler.CompileUpdate(t, set, cond, caller)
	if err != nil {
		return nil, err
	}

	keys, err := e.mutateMatching(ctx, t, cond, caller, stmt)
	if err != nil {
		return nil, err
	}
	return types.Updated(keys), nil
}

func (e *Executor) deleteMatching(ctx context.Context, t *schema.Table, cond query.Condition, caller int64) ([]any, error) {
	stmt, err := e.compiler.CompileDelete(t, cond, caller)
	if err != nil {
		return nil, err
	}
	return e.mutateMatching(ctx, t, cond, caller, stmt)
}

// mutateMatching runs stmt and returns the primary keys of the rows it
// touched. With RETURNING support the statement reports them itself;
// otherwise the keys are read first with the same WHERE, in the same
// transaction. Keyless tables report nothing.
func (e *Executor) mutateMatching(ctx context.Context, t *schema.Table, cond query.Condition, caller int64, stmt compiler.Statement) ([]any, error) {
	var keys []any
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		if t.PrimaryKey == "" {
			_, err := e.exec(ctx, tx, stmt)
			return err
		}

		if e.returning {
			var err error
			keys, err = e.selectKeys(ctx, tx, t, e.compiler.Returning(t, stmt))
			return err
		}

		sel, err := e.compiler.CompileSelectKeys(t, cond, caller)
		if err != nil {
			return err
		}
		if keys, err = e.selectKeys(ctx, tx, t, sel); err != nil {
			return err
		}
		_, err = e.exec(ctx, tx, stmt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
