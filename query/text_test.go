package query

import (
	"testing"

	"github.com/melkeydev/mcp-tablerest/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type columnSet map[string]bool

func (c columnSet) HasColumn(name string) bool { return c[name] }

var products = columnSet{"id": true, "name": true, "price": true, "stock": true, "owner": true}

func TestParseQueryString_Conditions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Condition
	}{
		{
			name: "implicit eq",
			raw:  "name=widget",
			want: Comparison{Field: "name", Op: OpEq, Value: "widget"},
		},
		{
			name: "explicit operator",
			raw:  "price=gt.10",
			want: Comparison{Field: "price", Op: OpGt, Value: "10"},
		},
		{
			name: "value with dot but no operator is a literal",
			raw:  "name=john.doe",
			want: Comparison{Field: "name", Op: OpEq, Value: "john.doe"},
		},
		{
			name: "is null",
			raw:  "stock=is.null",
			want: NullCheck{Field: "stock"},
		},
		{
			name: "nis null",
			raw:  "stock=nis.null",
			want: NullCheck{Field: "stock", Negate: true},
		},
		{
			name: "like maps wildcard",
			raw:  "name=like.wid*",
			want: Pattern{Field: "name", Text: "wid%"},
		},
		{
			name: "nlike",
			raw:  "name=nlike.*x*",
			want: Pattern{Field: "name", Negate: true, Text: "%x%"},
		},
		{
			name: "membership",
			raw:  "id=in.(1,2,3)",
			want: Membership{Field: "id", Values: []any{"1", "2", "3"}},
		},
		{
			name: "membership with spaces",
			raw:  "name=in.(a, b , c)",
			want: Membership{Field: "name", Values: []any{"a", "b", "c"}},
		},
		{
			name: "negated membership",
			raw:  "id=nin.(4)",
			want: Membership{Field: "id", Negate: true, Values: []any{"4"}},
		},
		{
			name: "range",
			raw:  "price=in(100...200)",
			want: Range{Field: "price", Lo: "100", Hi: "200"},
		},
		{
			name: "several params are anded in name order",
			raw:  "price=gt.1&name=a",
			want: Group{Logic: And, Children: []Condition{
				Comparison{Field: "name", Op: OpEq, Value: "a"},
				Comparison{Field: "price", Op: OpGt, Value: "1"},
			}},
		},
		{
			name: "or group",
			raw:  "or=(price.lt.5,stock.eq.0)",
			want: Group{Logic: Or, Children: []Condition{
				Comparison{Field: "price", Op: OpLt, Value: "5"},
				Comparison{Field: "stock", Op: OpEq, Value: "0"},
			}},
		},
		{
			name: "group without outer parentheses",
			raw:  "and=price.ge.1,price.le.9",
			want: Group{Logic: And, Children: []Condition{
				Comparison{Field: "price", Op: OpGe, Value: "1"},
				Comparison{Field: "price", Op: OpLe, Value: "9"},
			}},
		},
		{
			name: "nested groups and commas inside parentheses",
			raw:  "or=(id.in.(1,2),and.(price.gt.5,name.like.a*),and(stock.is.null))",
			want: Group{Logic: Or, Children: []Condition{
				Membership{Field: "id", Values: []any{"1", "2"}},
				Group{Logic: And, Children: []Condition{
					Comparison{Field: "price", Op: OpGt, Value: "5"},
					Pattern{Field: "name", Text: "a%"},
				}},
				Group{Logic: And, Children: []Condition{
					NullCheck{Field: "stock"},
				}},
			}},
		},
		{
			name: "range inside a group",
			raw:  "or=(price.in(1...5),stock.gt.3)",
			want: Group{Logic: Or, Children: []Condition{
				Range{Field: "price", Lo: "1", Hi: "5"},
				Comparison{Field: "stock", Op: OpGt, Value: "3"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseQueryString(tt.raw, products)
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec.Where)
		})
	}
}

func TestParseQueryString_Errors(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		errSubstr string
	}{
		{name: "range with one bound", raw: "price=in(100...)", errSubstr: "requires two values"},
		{name: "range with three bounds", raw: "price=in(1...2...3)", errSubstr: "requires two values"},
		{name: "range without separator", raw: "price=in(100)", errSubstr: "requires two values"},
		{name: "unknown column", raw: "color=red", errSubstr: "unknown column"},
		{name: "unknown operator in group", raw: "or=(price.about.5)", errSubstr: "unknown operator"},
		{name: "group item without operator", raw: "or=(price)", errSubstr: "malformed condition"},
		{name: "unknown column in group", raw: "or=(color.eq.red)", errSubstr: "unknown column"},
		{name: "empty group", raw: "or=()", errSubstr: "empty or group"},
		{name: "unbalanced group", raw: "or=(id.in.(1,2)", errSubstr: "unbalanced"},
		{name: "is with a value", raw: "stock=is.zero", errSubstr: "only accepts null"},
		{name: "in without list", raw: "id=in.1", errSubstr: "parenthesized list"},
		{name: "empty in list", raw: "id=in.()", errSubstr: "at least one value"},
		{name: "bad page number", raw: "pageNo=x", errSubstr: "must be an integer"},
		{name: "bad order direction", raw: "order=price.up", errSubstr: "invalid order direction"},
		{name: "unknown select column", raw: "select=color", errSubstr: "unknown column"},
		{name: "unknown group column", raw: "group=color", errSubstr: "unknown column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQueryString(tt.raw, products)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrQuery)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestParseQueryString_SelectOrderGroupPage(t *testing.T) {
	spec, err := ParseQueryString("select=id,name:label,count:id,sum:price:total&order=price.desc,id&group=name&pageNo=2&pageSize=10", products)
	require.NoError(t, err)

	assert.Equal(t, []SelectItem{
		Field("id"),
		Aliased("name", "label"),
		Agg("count", "id", ""),
		Agg("sum", "price", "total"),
	}, spec.Select)
	assert.Equal(t, []Order{{Field: "price", Desc: true}, {Field: "id"}}, spec.Order)
	assert.Equal(t, []string{"name"}, spec.GroupBy)
	require.NotNil(t, spec.PageNo)
	require.NotNil(t, spec.PageSize)
	assert.Equal(t, 2, *spec.PageNo)
	assert.Equal(t, 10, *spec.PageSize)
	assert.Nil(t, spec.Where)
}

func TestParseQueryString_Empty(t *testing.T) {
	spec, err := ParseQueryString("", products)
	require.NoError(t, err)
	assert.Nil(t, spec.Where)
	assert.Empty(t, spec.Select)
	assert.Nil(t, spec.PageNo)
}
