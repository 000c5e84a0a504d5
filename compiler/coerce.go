package compiler

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/melkeydev/mcp-tablerest/schema"
	"github.com/melkeydev/mcp-tablerest/types"
	"github.com/spf13/cast"
)

// maxExactFloat is the largest integer a float64 holds exactly.
const maxExactFloat = 1 << 53

// Coerce converts v for binding against col. Only numeric columns are
// converted; every other value is bound as given.
func Coerce(col schema.Column, v any) (any, error) {
	if !col.IsNumeric {
		return v, nil
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return nil, types.Query("invalid numeric value %q for %s", x, col.Name)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return v, nil
	case float64:
		return integral(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, types.Query("invalid numeric value %q for %s", x.String(), col.Name)
		}
		return f, nil
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, types.Query("invalid numeric value %v for %s", v, col.Name)
		}
		return integral(f), nil
	}
}

func integral(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < maxExactFloat {
		return int64(f)
	}
	return f
}

// CoerceKey converts a raw primary key string using the key column type.
func CoerceKey(t *schema.Table, raw string) (any, error) {
	if t.PrimaryKey == "" {
		return nil, types.Table("table %s has no primary key", t.Name)
	}
	col, _ := t.Column(t.PrimaryKey)
	v, err := Coerce(col, raw)
	if err != nil {
		return nil, types.Validation("invalid primary key %q", raw)
	}
	return v, nil
}
