package query

import (
	"strings"

	"github.com/melkeydev/mcp-tablerest/types"
)

// aggregates is the closed set of functions a select token may call.
var aggregates = map[string]bool{
	"avg":   true,
	"max":   true,
	"min":   true,
	"count": true,
	"sum":   true,
}

func IsAggregate(fn string) bool {
	return aggregates[strings.ToLower(fn)]
}

// SelectItem is a plain field, a renamed field, or an aggregate call.
// Fn is empty for the first two.
type SelectItem struct {
	Field string
	Alias string
	Fn    string
}

func Field(name string) SelectItem {
	return SelectItem{Field: name}
}

func Aliased(name, alias string) SelectItem {
	return SelectItem{Field: name, Alias: alias}
}

func Agg(fn, field, alias string) SelectItem {
	return SelectItem{Fn: strings.ToLower(fn), Field: field, Alias: alias}
}

func (s SelectItem) IsAggregate() bool {
	return s.Fn != ""
}

// OutputKey is the key the item produces in result rows.
func (s SelectItem) OutputKey() string {
	switch {
	case s.Alias != "":
		return s.Alias
	case s.Fn != "":
		return s.Fn + ":" + s.Field
	default:
		return s.Field
	}
}

type Order struct {
	Field string
	Desc  bool
}

// Spec is a parsed list request.
type Spec struct {
	Where    Condition
	Select   []SelectItem
	Order    []Order
	GroupBy  []string
	PageNo   *int
	PageSize *int
}

// ParseSelectToken parses "field", "field:alias", "fn:field" or
// "fn:field:alias". A two-part token is an aggregate only when its first
// part is a known aggregate function.
func ParseSelectToken(tok string, cols Columns) (SelectItem, error) {
	parts := strings.Split(strings.TrimSpace(tok), ":")

	var item SelectItem
	switch len(parts) {
	case 1:
		item = Field(parts[0])
	case 2:
		if IsAggregate(parts[0]) {
			item = Agg(parts[0], parts[1], "")
		} else {
			item = Aliased(parts[0], parts[1])
			if item.Alias == "" {
				return SelectItem{}, types.Query("empty alias in select %q", tok)
			}
		}
	case 3:
		if !IsAggregate(parts[0]) {
			return SelectItem{}, types.Query("unknown aggregate function %q", parts[0])
		}
		item = Agg(parts[0], parts[1], parts[2])
	default:
		return SelectItem{}, types.Query("malformed select item %q", tok)
	}

	if err := checkSelect(item, cols); err != nil {
		return SelectItem{}, err
	}
	return item, nil
}

func checkSelect(item SelectItem, cols Columns) error {
	if item.Fn != "" && !IsAggregate(item.Fn) {
		return types.Query("unknown aggregate function %q", item.Fn)
	}
	return checkField(item.Field, cols)
}

// CheckSpec validates every identifier in spec against cols.
func CheckSpec(spec *Spec, cols Columns) error {
	if err := Check(spec.Where, cols); err != nil {
		return err
	}
	for _, item := range spec.Select {
		if err := checkSelect(item, cols); err != nil {
			return err
		}
	}
	for _, o := range spec.Order {
		if err := checkField(o.Field, cols); err != nil {
			return err
		}
	}
	for _, g := range spec.GroupBy {
		if err := checkField(g, cols); err != nil {
			return err
		}
	}
	return nil
}

func parseOrderToken(tok string, cols Columns) (Order, error) {
	tok = strings.TrimSpace(tok)
	field, dir := tok, ""
	if i := strings.LastIndexByte(tok, '.'); i >= 0 {
		field, dir = tok[:i], tok[i+1:]
	}
	o := Order{Field: field}
	switch strings.ToLower(dir) {
	case "", "asc":
	case "desc":
		o.Desc = true
	default:
		return Order{}, types.Query("invalid order direction %q", dir)
	}
	if err := checkField(o.Field, cols); err != nil {
		return Order{}, err
	}
	return o, nil
}

// likeText maps the client wildcard to SQL.
func likeText(s string) string {
	return strings.ReplaceAll(s, "*", "%")
}
