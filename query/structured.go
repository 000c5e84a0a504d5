package query

import (
	"strings"

	"github.com/melkeydev/mcp-tablerest/types"
	"github.com/spf13/cast"
)

// Keys of a structured request body.
const (
	KeyWhere    = "where"
	KeySelect   = "select"
	KeyOrder    = "order"
	KeyGroup    = "group"
	KeyPageNo   = "pageNo"
	KeyPageSize = "pageSize"
)

// ParseStructured parses a decoded JSON body of the form
// {where, select, order, group, pageNo, pageSize}.
func ParseStructured(body map[string]any, cols Columns) (*Spec, error) {
	spec := &Spec{}

	where, err := ParseWhere(body[KeyWhere], cols)
	if err != nil {
		return nil, err
	}
	spec.Where = where

	if raw, ok := body[KeySelect]; ok && raw != nil {
		items, err := asList(KeySelect, raw)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			item, err := parseStructuredSelect(it, cols)
			if err != nil {
				return nil, err
			}
			spec.Select = append(spec.Select, item)
		}
	}

	if raw, ok := body[KeyOrder]; ok && raw != nil {
		items, err := asList(KeyOrder, raw)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			o, err := parseStructuredOrder(it, cols)
			if err != nil {
				return nil, err
			}
			spec.Order = append(spec.Order, o)
		}
	}

	if raw, ok := body[KeyGroup]; ok && raw != nil {
		items, err := asList(KeyGroup, raw)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			name, ok := it.(string)
			if !ok {
				return nil, types.Query("group entries must be column names")
			}
			if err := checkField(name, cols); err != nil {
				return nil, err
			}
			spec.GroupBy = append(spec.GroupBy, name)
		}
	}

	if spec.PageNo, err = pageValue(body, KeyPageNo); err != nil {
		return nil, err
	}
	if spec.PageSize, err = pageValue(body, KeyPageSize); err != nil {
		return nil, err
	}

	return spec, nil
}

// ParseWhere parses a structured condition. The top level is either one
// item or an array of items joined with AND. An array whose first element
// is a string is a single tuple: ["age", "gt", 30] is one condition.
func ParseWhere(v any, cols Columns) (Condition, error) {
	conds, err := parseItems(v, cols)
	if err != nil {
		return nil, err
	}
	return AllOf(conds...), nil
}

func parseItems(v any, cols Columns) ([]Condition, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		if len(x) == 0 {
			return nil, nil
		}
		if _, ok := x[0].(string); ok {
			c, err := parseItem(x, cols)
			if err != nil {
				return nil, err
			}
			return []Condition{c}, nil
		}
		conds := make([]Condition, 0, len(x))
		for _, it := range x {
			c, err := parseItem(it, cols)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		return conds, nil
	case map[string]any:
		c, err := parseItem(x, cols)
		if err != nil {
			return nil, err
		}
		return []Condition{c}, nil
	default:
		return nil, types.Query("condition must be an array or an object, got %T", v)
	}
}

func parseItem(v any, cols Columns) (Condition, error) {
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return nil, types.Query("empty condition tuple")
		}
		field, ok := x[0].(string)
		if !ok {
			return nil, types.Query("condition tuple must start with a field name")
		}
		switch len(x) {
		case 2:
			return parseStructuredOp(field, string(OpEq), x[1], cols)
		case 3:
			op, ok := x[1].(string)
			if !ok {
				return nil, types.Query("operator of %s must be a string", field)
			}
			return parseStructuredOp(field, op, x[2], cols)
		default:
			return nil, types.Query("condition tuple for %s must have 2 or 3 elements", field)
		}
	case map[string]any:
		op, _ := x["op"].(string)
		if logic := Logic(strings.ToLower(op)); logic == And || logic == Or {
			if _, ok := x["field"]; !ok {
				children, err := parseItems(x["cond"], cols)
				if err != nil {
					return nil, err
				}
				if len(children) == 0 {
					return nil, types.Query("empty %s group", logic)
				}
				return Group{Logic: logic, Children: children}, nil
			}
		}
		field, ok := x["field"].(string)
		if !ok {
			return nil, types.Query("condition object requires a field")
		}
		if op == "" {
			op = string(OpEq)
		}
		return parseStructuredOp(field, op, x["value"], cols)
	default:
		return nil, types.Query("malformed condition item %v", v)
	}
}

func parseStructuredOp(field, op string, value any, cols Columns) (Condition, error) {
	if err := checkField(field, cols); err != nil {
		return nil, err
	}

	switch op {
	case "eq", "ne":
		if value == nil {
			return NullCheck{Field: field, Negate: op == "ne"}, nil
		}
		return Comparison{Field: field, Op: CompareOp(op), Value: value}, nil
	case "gt", "ge", "lt", "le":
		if value == nil {
			return nil, types.Query("%s.%s requires a value", field, op)
		}
		return Comparison{Field: field, Op: CompareOp(op), Value: value}, nil
	case "is", "nis":
		if s, ok := value.(string); value != nil && (!ok || !strings.EqualFold(s, "null")) {
			return nil, types.Query("%s.%s only accepts null", field, op)
		}
		return NullCheck{Field: field, Negate: op == "nis"}, nil
	case "like", "nlike":
		s, ok := value.(string)
		if !ok {
			return nil, types.Query("%s.%s requires a string pattern", field, op)
		}
		return Pattern{Field: field, Negate: op == "nlike", Text: likeText(s)}, nil
	case "in", "nin":
		values, ok := value.([]any)
		if !ok || len(values) == 0 {
			return nil, types.Query("%s.%s requires a non-empty array", field, op)
		}
		return Membership{Field: field, Negate: op == "nin", Values: values}, nil
	case "between":
		switch bounds := value.(type) {
		case []any:
			if len(bounds) != 2 || bounds[0] == nil || bounds[1] == nil {
				return nil, types.Query("range on %s requires two values", field)
			}
			return Range{Field: field, Lo: bounds[0], Hi: bounds[1]}, nil
		case string:
			return parseTextRange(field, bounds)
		default:
			return nil, types.Query("range on %s requires two values", field)
		}
	default:
		return nil, types.Query("unknown operator %q for %s", op, field)
	}
}

func parseStructuredSelect(v any, cols Columns) (SelectItem, error) {
	switch x := v.(type) {
	case string:
		return ParseSelectToken(x, cols)
	case map[string]any:
		field, _ := x["field"].(string)
		alias, _ := x["alias"].(string)
		fn, _ := x["fn"].(string)
		item := Aliased(field, alias)
		if fn != "" {
			item = Agg(fn, field, alias)
		}
		if err := checkSelect(item, cols); err != nil {
			return SelectItem{}, err
		}
		return item, nil
	default:
		return SelectItem{}, types.Query("malformed select item %v", v)
	}
}

func parseStructuredOrder(v any, cols Columns) (Order, error) {
	switch x := v.(type) {
	case string:
		return parseOrderToken(x, cols)
	case []any:
		if len(x) == 0 || len(x) > 2 {
			return Order{}, types.Query("malformed order item %v", v)
		}
		field, _ := x[0].(string)
		dir := ""
		if len(x) == 2 {
			dir, _ = x[1].(string)
		}
		return orderOf(field, dir, cols)
	case map[string]any:
		field, _ := x["field"].(string)
		dir, _ := x["dir"].(string)
		return orderOf(field, dir, cols)
	default:
		return Order{}, types.Query("malformed order item %v", v)
	}
}

func orderOf(field, dir string, cols Columns) (Order, error) {
	if dir == "" {
		return parseOrderToken(field, cols)
	}
	return parseOrderToken(field+"."+dir, cols)
}

func asList(key string, v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case string:
		parts := splitList(x)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	default:
		return nil, types.Query("%s must be an array", key)
	}
}

func pageValue(body map[string]any, key string) (*int, error) {
	raw, ok := body[key]
	if !ok || raw == nil {
		return nil, nil
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return nil, types.Query("%s must be an integer", key)
	}
	return &n, nil
}
