package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/melkeydev/mcp-tablerest/types"
)

// Reserved textual parameters. Every other parameter names a field.
const (
	ParamSelect   = "select"
	ParamOrder    = "order"
	ParamGroup    = "group"
	ParamPageNo   = "pageNo"
	ParamPageSize = "pageSize"
	ParamOr       = "or"
	ParamAnd      = "and"
)

var textOps = map[string]bool{
	"eq": true, "ne": true, "gt": true, "ge": true, "lt": true, "le": true,
	"is": true, "nis": true, "like": true, "nlike": true, "in": true, "nin": true,
}

const rangeSep = "..."

// ParseQueryString parses a raw query string in the textual grammar.
func ParseQueryString(raw string, cols Columns) (*Spec, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, types.Query("malformed query string: %v", err)
	}
	return ParseText(values, cols)
}

// ParseText parses already split query parameters. Field conditions and
// logic groups are ANDed in parameter name order.
func ParseText(values url.Values, cols Columns) (*Spec, error) {
	spec := &Spec{}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []Condition
	for _, key := range keys {
		for _, v := range values[key] {
			switch key {
			case ParamSelect:
				for _, tok := range splitList(v) {
					item, err := ParseSelectToken(tok, cols)
					if err != nil {
						return nil, err
					}
					spec.Select = append(spec.Select, item)
				}
			case ParamOrder:
				for _, tok := range splitList(v) {
					o, err := parseOrderToken(tok, cols)
					if err != nil {
						return nil, err
					}
					spec.Order = append(spec.Order, o)
				}
			case ParamGroup:
				for _, tok := range splitList(v) {
					tok = strings.TrimSpace(tok)
					if err := checkField(tok, cols); err != nil {
						return nil, err
					}
					spec.GroupBy = append(spec.GroupBy, tok)
				}
			case ParamPageNo:
				n, err := parsePageParam(key, v)
				if err != nil {
					return nil, err
				}
				spec.PageNo = &n
			case ParamPageSize:
				n, err := parsePageParam(key, v)
				if err != nil {
					return nil, err
				}
				spec.PageSize = &n
			case ParamOr, ParamAnd:
				g, err := parseTextGroup(Logic(key), v, cols)
				if err != nil {
					return nil, err
				}
				conds = append(conds, g)
			default:
				c, err := parseTextOperand(key, v, false, cols)
				if err != nil {
					return nil, err
				}
				conds = append(conds, c)
			}
		}
	}

	spec.Where = AllOf(conds...)
	return spec, nil
}

func parsePageParam(key, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, types.Query("%s must be an integer", key)
	}
	return n, nil
}

// parseTextGroup parses "(item,item,...)" where each item is
// "field.op.value" or a nested "and.(...)" / "or.(...)".
func parseTextGroup(logic Logic, body string, cols Columns) (Condition, error) {
	body = strings.TrimSpace(body)
	if inner, ok := unwrapParens(body); ok {
		body = inner
	}

	items, err := splitTopLevel(body)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, types.Query("empty %s group", logic)
	}

	g := Group{Logic: logic}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if nested, rest, ok := nestedGroup(item); ok {
			child, err := parseTextGroup(nested, rest, cols)
			if err != nil {
				return nil, err
			}
			g.Children = append(g.Children, child)
			continue
		}

		i := strings.IndexByte(item, '.')
		if i <= 0 {
			return nil, types.Query("malformed condition %q", item)
		}
		child, err := parseTextOperand(item[:i], item[i+1:], true, cols)
		if err != nil {
			return nil, err
		}
		g.Children = append(g.Children, child)
	}
	return g, nil
}

// nestedGroup recognizes "and.(...)", "and(...)", "or.(...)" and "or(...)".
func nestedGroup(item string) (Logic, string, bool) {
	for _, logic := range []Logic{And, Or} {
		for _, prefix := range []string{string(logic) + ".(", string(logic) + "("} {
			if strings.HasPrefix(item, prefix) {
				return logic, item[len(prefix)-1:], true
			}
		}
	}
	return "", "", false
}

// parseTextOperand parses the right hand side of a field condition. In
// strict mode an operator is mandatory; otherwise a value without a known
// operator prefix is an equality literal.
func parseTextOperand(field, expr string, strict bool, cols Columns) (Condition, error) {
	if err := checkField(field, cols); err != nil {
		return nil, err
	}

	if strings.HasPrefix(expr, "in(") && strings.HasSuffix(expr, ")") {
		return parseTextRange(field, expr[len("in("):len(expr)-1])
	}

	i := strings.IndexByte(expr, '.')
	if i < 0 || !textOps[expr[:i]] {
		if strict {
			op := expr
			if i >= 0 {
				op = expr[:i]
			}
			return nil, types.Query("unknown operator %q for %s", op, field)
		}
		return Comparison{Field: field, Op: OpEq, Value: expr}, nil
	}

	op, value := expr[:i], expr[i+1:]
	switch op {
	case "is", "nis":
		if !strings.EqualFold(value, "null") {
			return nil, types.Query("%s.%s only accepts null", field, op)
		}
		return NullCheck{Field: field, Negate: op == "nis"}, nil
	case "like", "nlike":
		return Pattern{Field: field, Negate: op == "nlike", Text: likeText(value)}, nil
	case "in", "nin":
		inner, ok := unwrapParens(value)
		if !ok {
			return nil, types.Query("%s.%s requires a parenthesized list", field, op)
		}
		if inner == "" {
			return nil, types.Query("%s.%s requires at least one value", field, op)
		}
		parts := strings.Split(inner, ",")
		values := make([]any, len(parts))
		for j, p := range parts {
			values[j] = strings.TrimSpace(p)
		}
		return Membership{Field: field, Negate: op == "nin", Values: values}, nil
	default:
		return Comparison{Field: field, Op: CompareOp(op), Value: value}, nil
	}
}

func parseTextRange(field, inner string) (Condition, error) {
	parts := strings.Split(inner, rangeSep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, types.Query("range on %s requires two values", field)
	}
	return Range{Field: field, Lo: parts[0], Hi: parts[1]}, nil
}

func unwrapParens(s string) (string, bool) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return s, false
	}
	// "(a),(b)" is two items, not one wrapped list.
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return s, false
			}
		}
	}
	return s[1 : len(s)-1], true
}

// splitTopLevel splits on commas that are not inside parentheses.
func splitTopLevel(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, types.Query("unbalanced parentheses in %q", s)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, types.Query("unbalanced parentheses in %q", s)
	}
	return append(parts, s[start:]), nil
}

// splitList splits a plain comma separated list, skipping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
