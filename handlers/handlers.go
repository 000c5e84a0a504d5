package handlers

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/melkeydev/mcp-tablerest/schema"
)

type handlerFunc = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// ListTablesHandler creates a handler for the list_tables tool
func ListTablesHandler(s *Session) handlerFunc {
	return s.wrap("list_tables", func(ctx context.Context, args map[string]any) (any, error) {
		names := []string{}
		for _, t := range s.Catalog.Tables() {
			names = append(names, t.Name)
		}
		return names, nil
	})
}

// DescribeTableHandler creates a handler for the describe_table tool
func DescribeTableHandler(s *Session) handlerFunc {
	return s.wrap("describe_table", func(ctx context.Context, args map[string]any) (any, error) {
		return s.lookup(args)
	})
}

// SyncSchemaHandler creates a handler for the sync_schema tool
func SyncSchemaHandler(s *Session) handlerFunc {
	return s.wrap("sync_schema", func(ctx context.Context, args map[string]any) (any, error) {
		if err := s.Catalog.Sync(ctx); err != nil {
			return nil, err
		}
		return map[string]int{"tables": len(s.Catalog.Tables())}, nil
	})
}

// ListRowsHandler creates a handler for the list_rows tool
func ListRowsHandler(s *Session) handlerFunc {
	return s.wrap("list_rows", func(ctx context.Context, args map[string]any) (any, error) {
		t, err := s.lookup(args)
		if err != nil {
			return nil, err
		}
		sp, err := spec(t, args)
		if err != nil {
			return nil, err
		}
		return s.Executor.List(ctx, t.Name, s.Caller, sp)
	})
}

// GetRowHandler creates a handler for the get_row tool
func GetRowHandler(s *Session) handlerFunc {
	return s.wrap("get_row", func(ctx context.Context, args map[string]any) (any, error) {
		t, id, err := s.keyed(args)
		if err != nil {
			return nil, err
		}
		return s.Executor.Get(ctx, t.Name, s.Caller, id)
	})
}

// InsertRowsHandler creates a handler for the insert_rows tool
func InsertRowsHandler(s *Session) handlerFunc {
	return s.wrap("insert_rows", func(ctx context.Context, args map[string]any) (any, error) {
		t, err := s.lookup(args)
		if err != nil {
			return nil, err
		}
		rows, err := rowsArg(args)
		if err != nil {
			return nil, err
		}
		return s.Executor.Insert(ctx, t.Name, s.Caller, rows)
	})
}

// UpsertRowsHandler creates a handler for the upsert_rows tool
func UpsertRowsHandler(s *Session) handlerFunc {
	return s.wrap("upsert_rows", func(ctx context.Context, args map[string]any) (any, error) {
		t, err := s.lookup(args)
		if err != nil {
			return nil, err
		}
		rows, err := rowsArg(args)
		if err != nil {
			return nil, err
		}
		return s.Executor.Upsert(ctx, t.Name, s.Caller, rows)
	})
}

// UpdateRowsHandler creates a handler for the update_rows tool
func UpdateRowsHandler(s *Session) handlerFunc {
	return s.wrap("update_rows", func(ctx context.Context, args map[string]any) (any, error) {
		t, err := s.lookup(args)
		if err != nil {
			return nil, err
		}
		if id, _ := stringArg(args, "id", false); id != "" {
			set, err := objectArg(args, "set")
			if err != nil {
				return nil, err
			}
			return s.Executor.UpdateByKey(ctx, t.Name, s.Caller, id, set)
		}
		rows, err := rowsArg(args)
		if err != nil {
			return nil, err
		}
		return s.Executor.Update(ctx, t.Name, s.Caller, rows)
	})
}

// DeleteRowHandler creates a handler for the delete_row tool
func DeleteRowHandler(s *Session) handlerFunc {
	return s.wrap("delete_row", func(ctx context.Context, args map[string]any) (any, error) {
		t, id, err := s.keyed(args)
		if err != nil {
			return nil, err
		}
		return s.Executor.DeleteByKey(ctx, t.Name, s.Caller, id)
	})
}

// DeleteWhereHandler creates a handler for the delete_where tool
func DeleteWhereHandler(s *Session) handlerFunc {
	return s.wrap("delete_where", func(ctx context.Context, args map[string]any) (any, error) {
		t, err := s.lookup(args)
		if err != nil {
			return nil, err
		}
		cond, err := condition(t, args)
		if err != nil {
			return nil, err
		}
		return s.Executor.DeleteWhere(ctx, t.Name, s.Caller, cond)
	})
}

// UpdateWhereHandler creates a handler for the update_where tool
func UpdateWhereHandler(s *Session) handlerFunc {
	return s.wrap("update_where", func(ctx context.Context, args map[string]any) (any, error) {
		t, err := s.lookup(args)
		if err != nil {
			return nil, err
		}
		cond, err := condition(t, args)
		if err != nil {
			return nil, err
		}
		set, err := objectArg(args, "set")
		if err != nil {
			return nil, err
		}
		return s.Executor.UpdateWhere(ctx, t.Name, s.Caller, cond, set)
	})
}

func (s *Session) keyed(args map[string]any) (*schema.Table, string, error) {
	t, err := s.lookup(args)
	if err != nil {
		return nil, "", err
	}
	id, err := stringArg(args, "id", true)
	if err != nil {
		return nil, "", err
	}
	return t, id, nil
}
