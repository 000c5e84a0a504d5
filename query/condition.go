// Package query defines the canonical condition tree and the two request
// grammars that produce it: the compact textual form carried in query
// strings and the structured form carried in decoded JSON bodies.
package query

import (
	"github.com/melkeydev/mcp-tablerest/types"
)

type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpNe CompareOp = "ne"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
)

type Logic string

const (
	And Logic = "and"
	Or  Logic = "or"
)

// Condition is one node of a WHERE tree. The concrete types are
// Comparison, NullCheck, Pattern, Membership, Range and Group.
type Condition interface {
	condition()
}

type Comparison struct {
	Field string
	Op    CompareOp
	Value any
}

// NullCheck is IS NULL, or IS NOT NULL when Negate is set.
type NullCheck struct {
	Field  string
	Negate bool
}

// Pattern is LIKE / NOT LIKE. Text already uses SQL wildcards.
type Pattern struct {
	Field  string
	Negate bool
	Text   string
}

// Membership is IN / NOT IN.
type Membership struct {
	Field  string
	Negate bool
	Values []any
}

// Range is BETWEEN Lo AND Hi.
type Range struct {
	Field string
	Lo    any
	Hi    any
}

type Group struct {
	Logic    Logic
	Children []Condition
}

func (Comparison) condition() {}
func (NullCheck) condition()  {}
func (Pattern) condition()    {}
func (Membership) condition() {}
func (Range) condition()      {}
func (Group) condition()      {}

// Columns answers whether a column exists in the target table.
type Columns interface {
	HasColumn(name string) bool
}

// AllOf joins conditions with AND, dropping nils. A single condition is
// returned as is.
func AllOf(conds ...Condition) Condition {
	var children []Condition
	for _, c := range conds {
		if c != nil {
			children = append(children, c)
		}
	}
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	default:
		return Group{Logic: And, Children: children}
	}
}

// Check verifies that every field referenced by cond exists.
func Check(cond Condition, cols Columns) error {
	switch c := cond.(type) {
	case nil:
		return nil
	case Comparison:
		return checkField(c.Field, cols)
	case NullCheck:
		return checkField(c.Field, cols)
	case Pattern:
		return checkField(c.Field, cols)
	case Membership:
		if len(c.Values) == 0 {
			return types.Query("%s: in requires at least one value", c.Field)
		}
		return checkField(c.Field, cols)
	case Range:
		return checkField(c.Field, cols)
	case Group:
		if len(c.Children) == 0 {
			return types.Query("empty %s group", c.Logic)
		}
		for _, child := range c.Children {
			if err := Check(child, cols); err != nil {
				return err
			}
		}
		return nil
	default:
		return types.Query("unsupported condition %T", cond)
	}
}

func checkField(name string, cols Columns) error {
	if name == "" {
		return types.Query("missing field name")
	}
	if !cols.HasColumn(name) {
		return types.Query("unknown column %q", name)
	}
	return nil
}
