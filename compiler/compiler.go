// Package compiler turns condition trees and list specs into parameterized
// SQL. Identifiers always come from catalog metadata and are quoted by the
// dialect; values are always bound as parameters.
package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/melkeydev/mcp-tablerest/query"
	"github.com/melkeydev/mcp-tablerest/schema"
	"github.com/melkeydev/mcp-tablerest/tenant"
	"github.com/melkeydev/mcp-tablerest/types"
)

const (
	MinPageSize = 1
	MaxPageSize = 1000
)

var compareSQL = map[query.CompareOp]string{
	query.OpEq: "=",
	query.OpNe: "<>",
	query.OpGt: ">",
	query.OpGe: ">=",
	query.OpLt: "<",
	query.OpLe: "<=",
}

// Dialect is the part of a backend the compiler depends on.
type Dialect interface {
	QuoteIdent(name string) string
	Placeholder(n int) string
}

type Compiler struct {
	dialect Dialect
	tenant  tenant.Filter
}

func New(dialect Dialect, filter tenant.Filter) *Compiler {
	return &Compiler{dialect: dialect, tenant: filter}
}

// Unscoped returns a compiler that does not add ownership predicates.
func (c *Compiler) Unscoped() *Compiler {
	return &Compiler{dialect: c.dialect}
}

type Statement struct {
	SQL  string
	Args []any
}

// Page is a normalized LIMIT/OFFSET request.
type Page struct {
	No   int
	Size int
}

func (p Page) Offset() int {
	return (p.No - 1) * p.Size
}

// ListQuery holds a list statement and its count statement. Both use Args.
type ListQuery struct {
	List  string
	Count string
	Args  []any
	// Page is nil unless both page number and size were requested.
	Page *Page
}

// CompileList builds the SELECT for spec and the matching count query.
func (c *Compiler) CompileList(t *schema.Table, spec *query.Spec, caller int64) (*ListQuery, error) {
	if err := query.CheckSpec(spec, t); err != nil {
		return nil, err
	}
	page, err := normalizePage(spec)
	if err != nil {
		return nil, err
	}

	b := c.newBuilder()
	where, err := b.where(t, spec.Where, caller)
	if err != nil {
		return nil, err
	}
	from := "FROM " + c.quote(t.Name) + where + c.groupBy(spec.GroupBy)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(c.selectList(spec.Select))
	sb.WriteString(" ")
	sb.WriteString(from)
	if len(spec.Order) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, o := range spec.Order {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(c.quote(o.Field))
			if o.Desc {
				sb.WriteString(" DESC")
			} else {
				sb.WriteString(" ASC")
			}
		}
	}
	if page != nil {
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", page.Size, page.Offset())
	}

	count := "SELECT COUNT(*) " + from
	if len(spec.GroupBy) > 0 {
		// Grouped queries count groups, not rows.
		count = "SELECT COUNT(*) FROM (SELECT 1 " + from + ") AS sub"
	}

	return &ListQuery{List: sb.String(), Count: count, Args: b.args, Page: page}, nil
}

// CompileCount builds only the count statement of spec.
func (c *Compiler) CompileCount(t *schema.Table, spec *query.Spec, caller int64) (Statement, error) {
	lq, err := c.CompileList(t, &query.Spec{Where: spec.Where, GroupBy: spec.GroupBy}, caller)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: lq.Count, Args: lq.Args}, nil
}

func (c *Compiler) CompileDelete(t *schema.Table, cond query.Condition, caller int64) (Statement, error) {
	if err := query.Check(cond, t); err != nil {
		return Statement{}, err
	}
	b := c.newBuilder()
	where, err := b.where(t, cond, caller)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "DELETE FROM " + c.quote(t.Name) + where, Args: b.args}, nil
}

// CompileUpdate builds UPDATE ... SET for the columns present in set, in
// table column order. set must already be scrubbed of ownership values.
func (c *Compiler) CompileUpdate(t *schema.Table, set map[string]any, cond query.Condition, caller int64) (Statement, error) {
	if err := checkPayload(t, set); err != nil {
		return Statement{}, err
	}
	if len(set) == 0 {
		return Statement{}, types.Validation("no columns to update")
	}
	if err := query.Check(cond, t); err != nil {
		return Statement{}, err
	}

	b := c.newBuilder()
	var assignments []string
	for _, col := range t.Columns {
		v, ok := set[col.Name]
		if !ok {
			continue
		}
		arg, err := Coerce(col, v)
		if err != nil {
			return Statement{}, asValidation(err)
		}
		assignments = append(assignments, c.quote(col.Name)+" = "+b.bind(arg))
	}

	where, err := b.where(t, cond, caller)
	if err != nil {
		return Statement{}, err
	}
	sql := "UPDATE " + c.quote(t.Name) + " SET " + strings.Join(assignments, ", ") + where
	return Statement{SQL: sql, Args: b.args}, nil
}

// CompileSelectKeys selects the primary key of every row matching cond.
func (c *Compiler) CompileSelectKeys(t *schema.Table, cond query.Condition, caller int64) (Statement, error) {
	if t.PrimaryKey == "" {
		return Statement{}, types.Table("table %s has no primary key", t.Name)
	}
	if err := query.Check(cond, t); err != nil {
		return Statement{}, err
	}
	b := c.newBuilder()
	where, err := b.where(t, cond, caller)
	if err != nil {
		return Statement{}, err
	}
	sql := "SELECT " + c.quote(t.PrimaryKey) + " FROM " + c.quote(t.Name) + where
	return Statement{SQL: sql, Args: b.args}, nil
}

// CompileInsert builds a single-row INSERT. row must already carry the
// forced ownership value.
func (c *Compiler) CompileInsert(t *schema.Table, row map[string]any) (Statement, error) {
	if err := checkPayload(t, row); err != nil {
		return Statement{}, err
	}
	if len(row) == 0 {
		return Statement{}, types.Validation("empty row")
	}

	b := c.newBuilder()
	var cols, marks []string
	for _, col := range t.Columns {
		v, ok := row[col.Name]
		if !ok {
			continue
		}
		arg, err := Coerce(col, v)
		if err != nil {
			return Statement{}, asValidation(err)
		}
		cols = append(cols, c.quote(col.Name))
		marks = append(marks, b.bind(arg))
	}

	sql := "INSERT INTO " + c.quote(t.Name) + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	return Statement{SQL: sql, Args: b.args}, nil
}

// Returning appends a RETURNING clause for the primary key of t.
func (c *Compiler) Returning(t *schema.Table, stmt Statement) Statement {
	stmt.SQL += " RETURNING " + c.quote(t.PrimaryKey)
	return stmt
}

// KeyCondition matches the row whose primary key is key.
func KeyCondition(t *schema.Table, key any) query.Condition {
	return query.Comparison{Field: t.PrimaryKey, Op: query.OpEq, Value: key}
}

func (c *Compiler) quote(name string) string {
	return c.dialect.QuoteIdent(name)
}

func (c *Compiler) selectList(items []query.SelectItem) string {
	if len(items) == 0 {
		return "*"
	}
	parts := make([]string, len(items))
	for i, item := range items {
		switch {
		case item.IsAggregate():
			parts[i] = strings.ToUpper(item.Fn) + "(" + c.quote(item.Field) + ") AS " + c.quote(item.OutputKey())
		case item.Alias != "":
			parts[i] = c.quote(item.Field) + " AS " + c.quote(item.Alias)
		default:
			parts[i] = c.quote(item.Field)
		}
	}
	return strings.Join(parts, ", ")
}

func (c *Compiler) groupBy(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = c.quote(f)
	}
	return " GROUP BY " + strings.Join(quoted, ", ")
}

func normalizePage(spec *query.Spec) (*Page, error) {
	if spec.PageNo != nil && *spec.PageNo < 1 {
		return nil, types.Query("pageNo must be at least 1")
	}
	if spec.PageNo == nil || spec.PageSize == nil {
		return nil, nil
	}
	size := min(max(*spec.PageSize, MinPageSize), MaxPageSize)
	return &Page{No: *spec.PageNo, Size: size}, nil
}

// asValidation reclassifies a value error found in a write payload.
func asValidation(err error) error {
	var e *types.Error
	if errors.As(err, &e) {
		return types.Validation("%s", e.Message)
	}
	return err
}

func checkPayload(t *schema.Table, row map[string]any) error {
	for name := range row {
		if !t.HasColumn(name) {
			return types.Validation("unknown column %q", name)
		}
	}
	return nil
}
