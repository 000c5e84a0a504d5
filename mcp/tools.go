package mcp

import (
	goMCP "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/melkeydev/mcp-tablerest/handlers"
)

const (
	queryHelp  = "Textual query string, e.g. price=gt.10&or=(name.like.a*,stock.eq.0)&order=id.desc&pageNo=1&pageSize=20"
	filterHelp = "Structured query object {where, select, order, group, pageNo, pageSize}; takes precedence over query"
	whereHelp  = "Structured condition as an array, an object or their JSON text, e.g. [\"price\",\"gt\",0] or {\"op\":\"or\",\"cond\":[...]}; takes precedence over query"
)

// withCondition declares a property that takes a structured condition.
// Conditions are arrays or objects, so the property has no single type.
func withCondition(name string, opts ...goMCP.PropertyOption) goMCP.ToolOption {
	return func(t *goMCP.Tool) {
		schema := map[string]any{
			"type": []string{"array", "object", "string"},
		}
		for _, opt := range opts {
			opt(schema)
		}
		t.InputSchema.Properties[name] = schema
	}
}

func RegisterTools(s *server.MCPServer, session *handlers.Session) {
	tableParam := goMCP.WithString("table",
		goMCP.Required(),
		goMCP.Description("Name of the table"),
	)
	idParam := goMCP.WithString("id",
		goMCP.Required(),
		goMCP.Description("Primary key value"),
	)
	rowsParam := goMCP.WithArray("rows",
		goMCP.Required(),
		goMCP.Description("Rows to write, as column/value objects"),
		goMCP.Items(map[string]any{"type": "object"}),
	)

	listTablesTool := goMCP.NewTool("list_tables",
		goMCP.WithDescription("List the tables exposed by the catalog"),
	)

	describeTool := goMCP.NewTool("describe_table",
		goMCP.WithDescription("Describe the columns, primary key and ownership of a table"),
		tableParam,
	)

	syncTool := goMCP.NewTool("sync_schema",
		goMCP.WithDescription("Re-read the database schema after out-of-band changes"),
	)

	listRowsTool := goMCP.NewTool("list_rows",
		goMCP.WithDescription("List rows visible to the caller"),
		tableParam,
		goMCP.WithString("query", goMCP.Description(queryHelp)),
		goMCP.WithObject("filter", goMCP.Description(filterHelp)),
	)

	getRowTool := goMCP.NewTool("get_row",
		goMCP.WithDescription("Get one row by primary key"),
		tableParam,
		idParam,
	)

	insertTool := goMCP.NewTool("insert_rows",
		goMCP.WithDescription("Insert rows owned by the caller"),
		tableParam,
		rowsParam,
	)

	upsertTool := goMCP.NewTool("upsert_rows",
		goMCP.WithDescription("Update rows whose primary key exists, insert the others"),
		tableParam,
		rowsParam,
	)

	updateTool := goMCP.NewTool("update_rows",
		goMCP.WithDescription("Update existing rows by primary key; either rows, or id with set"),
		tableParam,
		goMCP.WithArray("rows",
			goMCP.Description("Rows carrying their primary key"),
			goMCP.Items(map[string]any{"type": "object"}),
		),
		goMCP.WithString("id", goMCP.Description("Primary key of a single row to update")),
		goMCP.WithObject("set", goMCP.Description("Columns to write when id is given")),
	)

	deleteRowTool := goMCP.NewTool("delete_row",
		goMCP.WithDescription("Delete one row by primary key"),
		tableParam,
		idParam,
	)

	deleteWhereTool := goMCP.NewTool("delete_where",
		goMCP.WithDescription("Delete the caller's rows matching a condition and report their keys"),
		tableParam,
		goMCP.WithString("query", goMCP.Description(queryHelp)),
		withCondition("where", goMCP.Description(whereHelp)),
	)

	updateWhereTool := goMCP.NewTool("update_where",
		goMCP.WithDescription("Update the caller's rows matching a condition and report their keys"),
		tableParam,
		goMCP.WithString("query", goMCP.Description(queryHelp)),
		withCondition("where", goMCP.Description(whereHelp)),
		goMCP.WithObject("set",
			goMCP.Required(),
			goMCP.Description("Columns to write"),
		),
	)

	s.AddTool(listTablesTool, handlers.ListTablesHandler(session))
	s.AddTool(describeTool, handlers.DescribeTableHandler(session))
	s.AddTool(syncTool, handlers.SyncSchemaHandler(session))
	s.AddTool(listRowsTool, handlers.ListRowsHandler(session))
	s.AddTool(getRowTool, handlers.GetRowHandler(session))
	s.AddTool(insertTool, handlers.InsertRowsHandler(session))
	s.AddTool(upsertTool, handlers.UpsertRowsHandler(session))
	s.AddTool(updateTool, handlers.UpdateRowsHandler(session))
	s.AddTool(deleteRowTool, handlers.DeleteRowHandler(session))
	s.AddTool(deleteWhereTool, handlers.DeleteWhereHandler(session))
	s.AddTool(updateWhereTool, handlers.UpdateWhereHandler(session))
}
