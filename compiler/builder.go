package compiler

import (
	"strings"

	"github.com/melkeydev/mcp-tablerest/query"
	"github.com/melkeydev/mcp-tablerest/schema"
	"github.com/melkeydev/mcp-tablerest/types"
)

// builder accumulates bound arguments while a statement is rendered.
type builder struct {
	c    *Compiler
	args []any
}

func (c *Compiler) newBuilder() *builder {
	return &builder{c: c}
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.c.dialect.Placeholder(len(b.args))
}

// where renders " WHERE ..." with the ownership predicate as the first
// conjunct, or "" when there is nothing to filter on. A top-level AND
// group is flattened into the conjunct list.
func (b *builder) where(t *schema.Table, cond query.Condition, caller int64) (string, error) {
	var conjuncts []query.Condition
	if owned := b.c.tenant.Condition(t, caller); owned != nil {
		conjuncts = append(conjuncts, owned)
	}
	if g, ok := cond.(query.Group); ok && g.Logic == query.And {
		conjuncts = append(conjuncts, g.Children...)
	} else if cond != nil {
		conjuncts = append(conjuncts, cond)
	}
	if len(conjuncts) == 0 {
		return "", nil
	}

	parts := make([]string, len(conjuncts))
	for i, c := range conjuncts {
		s, err := b.render(t, c)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func (b *builder) render(t *schema.Table, cond query.Condition) (string, error) {
	switch c := cond.(type) {
	case query.Comparison:
		op, ok := compareSQL[c.Op]
		if !ok {
			return "", types.Query("unknown operator %q for %s", c.Op, c.Field)
		}
		v, err := b.coerce(t, c.Field, c.Value)
		if err != nil {
			return "", err
		}
		return b.c.quote(c.Field) + " " + op + " " + b.bind(v), nil
	case query.NullCheck:
		if c.Negate {
			return b.c.quote(c.Field) + " IS NOT NULL", nil
		}
		return b.c.quote(c.Field) + " IS NULL", nil
	case query.Pattern:
		op := " LIKE "
		if c.Negate {
			op = " NOT LIKE "
		}
		return b.c.quote(c.Field) + op + b.bind(c.Text), nil
	case query.Membership:
		marks := make([]string, len(c.Values))
		for i, raw := range c.Values {
			v, err := b.coerce(t, c.Field, raw)
			if err != nil {
				return "", err
			}
			marks[i] = b.bind(v)
		}
		op := " IN ("
		if c.Negate {
			op = " NOT IN ("
		}
		return b.c.quote(c.Field) + op + strings.Join(marks, ", ") + ")", nil
	case query.Range:
		lo, err := b.coerce(t, c.Field, c.Lo)
		if err != nil {
			return "", err
		}
		hi, err := b.coerce(t, c.Field, c.Hi)
		if err != nil {
			return "", err
		}
		return b.c.quote(c.Field) + " BETWEEN " + b.bind(lo) + " AND " + b.bind(hi), nil
	case query.Group:
		sep := " AND "
		if c.Logic == query.Or {
			sep = " OR "
		}
		parts := make([]string, len(c.Children))
		for i, child := range c.Children {
			s, err := b.render(t, child)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	default:
		return "", types.Query("unsupported condition %T", cond)
	}
}

func (b *builder) coerce(t *schema.Table, field string, v any) (any, error) {
	col, ok := t.Column(field)
	if !ok {
		return nil, types.Query("unknown column %q", field)
	}
	return Coerce(col, v)
}
