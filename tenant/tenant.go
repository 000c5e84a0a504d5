// Package tenant scopes reads and writes to the rows a caller owns.
package tenant

import (
	"github.com/melkeydev/mcp-tablerest/query"
	"github.com/melkeydev/mcp-tablerest/schema"
)

// Filter enforces row ownership on tables that carry Column.
type Filter struct {
	Column string
	// NullOpen also exposes rows whose owner is NULL to every caller.
	NullOpen bool
}

// Applies reports whether t is owner scoped. Tables without the ownership
// column are visible to every caller.
func (f Filter) Applies(t *schema.Table) bool {
	return f.Column != "" && t.HasOwner
}

// Condition is the ownership predicate for caller on t, or nil.
func (f Filter) Condition(t *schema.Table, caller int64) query.Condition {
	if !f.Applies(t) {
		return nil
	}
	owned := query.Comparison{Field: f.Column, Op: query.OpEq, Value: caller}
	if !f.NullOpen {
		return owned
	}
	return query.Group{
		Logic:    query.Or,
		Children: []query.Condition{owned, query.NullCheck{Field: f.Column}},
	}
}

// ScrubInsert returns a copy of row with the ownership value forced to caller.
func (f Filter) ScrubInsert(t *schema.Table, row map[string]any, caller int64) map[string]any {
	out := f.ScrubUpdate(t, row)
	if f.Applies(t) {
		out[f.Column] = caller
	}
	return out
}

// ScrubUpdate returns a copy of row without any ownership value.
func (f Filter) ScrubUpdate(t *schema.Table, row map[string]any) map[string]any {
	out := make(map[string]any, len(row)+1)
	for k, v := range row {
		if f.Applies(t) && k == f.Column {
			continue
		}
		out[k] = v
	}
	return out
}

// StripRow removes the ownership column from a result row in place,
// along with every selected output derived from it, renamed or aggregated.
func (f Filter) StripRow(t *schema.Table, sel []query.SelectItem, row map[string]any) {
	if !f.Applies(t) {
		return
	}
	delete(row, f.Column)
	for _, item := range sel {
		if item.Field == f.Column {
			delete(row, item.OutputKey())
		}
	}
}
