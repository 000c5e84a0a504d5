package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/melkeydev/mcp-tablerest/executor"
	"github.com/melkeydev/mcp-tablerest/query"
	"github.com/melkeydev/mcp-tablerest/schema"
	"github.com/melkeydev/mcp-tablerest/types"
)

// Session binds the core to one already authenticated caller.
type Session struct {
	Executor *executor.Executor
	Catalog  *schema.Catalog
	Caller   int64
	Logger   *slog.Logger
}

type toolFunc func(ctx context.Context, args map[string]any) (any, error)

// wrap turns a core call into an MCP tool handler: arguments in, JSON text
// out, taxonomy coded errors as tool errors.
func (s *Session) wrap(tool string, fn toolFunc) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := s.logger().With("tool", tool, "request_id", uuid.NewString(), "caller", s.Caller)

		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			args = map[string]any{}
		}

		result, err := fn(ctx, args)
		if err != nil {
			logger.Warn("tool call failed", "code", types.CodeOf(err), "error", err)
			return errorResult(err), nil
		}

		jsonData, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal results: %v", err)), nil
		}

		logger.Debug("tool call done")
		return mcp.NewToolResultText(string(jsonData)), nil
	}
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

type errorBody struct {
	Code    types.Code `json:"code"`
	Message string     `json:"message"`
}

func errorResult(err error) *mcp.CallToolResult {
	body := errorBody{Code: types.CodeOf(err), Message: err.Error()}
	var e *types.Error
	if errors.As(err, &e) {
		body.Message = e.Message
	}
	jsonData, _ := json.Marshal(body)
	return mcp.NewToolResultError(string(jsonData))
}

func (s *Session) lookup(args map[string]any) (*schema.Table, error) {
	name, err := stringArg(args, "table", true)
	if err != nil {
		return nil, err
	}
	t, ok := s.Catalog.Lookup(name)
	if !ok {
		return nil, types.NotFound("table %s not found", name)
	}
	return t, nil
}

// spec parses either the structured "filter" object or the textual
// "query" string.
func spec(t *schema.Table, args map[string]any) (*query.Spec, error) {
	if raw, ok := args["filter"]; ok && raw != nil {
		body, ok := raw.(map[string]any)
		if !ok {
			return nil, types.Query("filter must be an object")
		}
		return query.ParseStructured(body, t)
	}
	raw, err := stringArg(args, "query", false)
	if err != nil {
		return nil, err
	}
	return query.ParseQueryString(raw, t)
}

// condition reads the WHERE of a conditional mutation from "where"
// (structured, or its JSON text) or "query" (textual).
func condition(t *schema.Table, args map[string]any) (query.Condition, error) {
	if raw, ok := args["where"]; ok && raw != nil {
		if text, ok := raw.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(text), &decoded); err != nil {
				return nil, types.Query("where must be valid JSON: %v", err)
			}
			raw = decoded
		}
		return query.ParseWhere(raw, t)
	}
	sp, err := spec(t, args)
	if err != nil {
		return nil, err
	}
	return sp.Where, nil
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		if required {
			return "", types.Validation("missing %s parameter", key)
		}
		return "", nil
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64, int, int64, json.Number:
		return fmt.Sprint(v), nil
	default:
		return "", types.Validation("%s must be a string", key)
	}
}

func rowsArg(args map[string]any) ([]map[string]any, error) {
	raw, ok := args["rows"]
	if !ok || raw == nil {
		return nil, types.Validation("missing rows parameter")
	}
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, it := range v {
			row, ok := it.(map[string]any)
			if !ok {
				return nil, types.Validation("rows must be objects")
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, types.Validation("rows must be an array of objects")
	}
}

func objectArg(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key].(map[string]any)
	if !ok {
		return nil, types.Validation("%s must be an object", key)
	}
	return v, nil
}
