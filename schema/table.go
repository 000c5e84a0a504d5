package schema

// Column is the catalog view of a table column.
type Column struct {
	Name string `json:"name"`
	// RawType is the lowercased database type.
	RawType   string `json:"type"`
	IsNumeric bool   `json:"numeric"`
}

// Table is read-only once published in a snapshot.
type Table struct {
	Name string `json:"name"`
	// PrimaryKey is the single key column, or empty for keyless tables.
	PrimaryKey string   `json:"primary_key,omitempty"`
	HasOwner   bool     `json:"has_owner"`
	Columns    []Column `json:"columns"`

	index map[string]int
}

func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.Columns[i], true
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// NewTable builds table metadata directly, mainly for tests and tools that
// compile statements without a live catalog.
func NewTable(name, primaryKey string, hasOwner bool, columns ...Column) *Table {
	t := &Table{
		Name:       name,
		PrimaryKey: primaryKey,
		HasOwner:   hasOwner,
		Columns:    columns,
		index:      make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		t.index[c.Name] = i
	}
	return t
}
