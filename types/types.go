package types

import "encoding/json"

// Column is a column as reported by a connector's introspection query.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// ListResult is the read result handed back to the transport layer.
type ListResult struct {
	Rows     []map[string]any `json:"rows"`
	PageNo   *int             `json:"pageNo,omitempty"`
	PageSize *int             `json:"pageSize,omitempty"`
	Total    *int64           `json:"total,omitempty"`
}

// WriteResult reports the primary keys touched by a mutation. Only the
// fields relevant to the operation are set; a set field is encoded even
// when it holds no keys.
type WriteResult struct {
	Created []any `json:"created"`
	Updated []any `json:"updated"`
	Deleted []any `json:"deleted"`
}

func (r WriteResult) MarshalJSON() ([]byte, error) {
	out := make(map[string][]any, 2)
	if r.Created != nil {
		out["created"] = r.Created
	}
	if r.Updated != nil {
		out["updated"] = r.Updated
	}
	if r.Deleted != nil {
		out["deleted"] = r.Deleted
	}
	return json.Marshal(out)
}

// Created returns a result shaped as {created:[...]}.
func Created(keys []any) *WriteResult {
	return &WriteResult{Created: nonNil(keys)}
}

// Updated returns a result shaped as {updated:[...]}.
func Updated(keys []any) *WriteResult {
	return &WriteResult{Updated: nonNil(keys)}
}

// Upserted returns a result shaped as {created:[...], updated:[...]}.
func Upserted(created, updated []any) *WriteResult {
	return &WriteResult{Created: nonNil(created), Updated: nonNil(updated)}
}

// Deleted returns a result shaped as {deleted:[...]}.
func Deleted(keys []any) *WriteResult {
	return &WriteResult{Deleted: nonNil(keys)}
}

func nonNil(keys []any) []any {
	if keys == nil {
		return []any{}
	}
	return keys
}
