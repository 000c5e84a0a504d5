// Package schema holds the process-wide catalog of introspected tables.
//
// A Catalog publishes an immutable snapshot through an atomic pointer.
// Load and Sync build a complete new snapshot and swap it in, so readers
// never observe a partially rebuilt catalog.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/melkeydev/mcp-tablerest/types"
	"golang.org/x/sync/errgroup"
)

// numericKeywords mark a raw column type as numeric when any is a substring.
var numericKeywords = []string{"int", "real", "float", "double", "decimal", "numeric"}

// Required columns of the authentication table.
var authColumns = []string{"id", "username", "password"}

// Source is the introspection side of a connector.
type Source interface {
	ListTables(ctx context.Context) ([]string, error)
	LoadColumns(ctx context.Context, table string) ([]types.Column, error)
	UniqueColumns(ctx context.Context, table string) ([]string, error)
}

type Options struct {
	// OwnerColumn is the ownership column name. Empty disables tenancy.
	OwnerColumn string
	// AuthTable, when set, must exist with id, a unique username and password.
	AuthTable string
	// Concurrency bounds parallel column loads. Values below 1 mean 1.
	Concurrency int
	Logger      *slog.Logger
}

type Catalog struct {
	source  Source
	opts    Options
	logger  *slog.Logger
	current atomic.Pointer[snapshot]
}

type snapshot struct {
	tables map[string]*Table
	names  []string
}

var emptySnapshot = &snapshot{tables: map[string]*Table{}}

func NewCatalog(source Source, opts Options) *Catalog {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{source: source, opts: opts, logger: logger}
	c.current.Store(emptySnapshot)
	return c
}

// Load builds the catalog. A failure here is meant to stop startup.
func (c *Catalog) Load(ctx context.Context) error {
	snap, err := c.build(ctx)
	if err != nil {
		return err
	}
	c.current.Store(snap)
	c.logger.Info("schema catalog loaded", "tables", len(snap.names))
	return nil
}

// Sync rebuilds the catalog after out-of-band schema changes. On failure
// the previous snapshot stays in place.
func (c *Catalog) Sync(ctx context.Context) error {
	if err := c.Load(ctx); err != nil {
		c.logger.Error("schema sync failed, keeping previous catalog", "error", err)
		return err
	}
	return nil
}

// Lookup returns the metadata of the named table.
func (c *Catalog) Lookup(name string) (*Table, bool) {
	t, ok := c.current.Load().tables[name]
	return t, ok
}

// Tables returns every table ordered by name.
func (c *Catalog) Tables() []*Table {
	snap := c.current.Load()
	tables := make([]*Table, 0, len(snap.names))
	for _, name := range snap.names {
		tables = append(tables, snap.tables[name])
	}
	return tables
}

func (c *Catalog) build(ctx context.Context) (*snapshot, error) {
	names, err := c.source.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]*Table, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.opts.Concurrency, 1))
	for i, name := range names {
		g.Go(func() error {
			columns, err := c.source.LoadColumns(gctx, name)
			if err != nil {
				return fmt.Errorf("failed to load columns for table %s: %w", name, err)
			}
			tables[i] = newTable(name, columns, c.opts.OwnerColumn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &snapshot{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		snap.tables[t.Name] = t
		snap.names = append(snap.names, t.Name)
	}
	sort.Strings(snap.names)

	if c.opts.AuthTable != "" {
		if err := c.checkAuthTable(ctx, snap); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

func (c *Catalog) checkAuthTable(ctx context.Context, snap *snapshot) error {
	t, ok := snap.tables[c.opts.AuthTable]
	if !ok {
		return fmt.Errorf("auth table %s does not exist", c.opts.AuthTable)
	}
	for _, name := range authColumns {
		if !t.HasColumn(name) {
			return fmt.Errorf("auth table %s is missing column %s", t.Name, name)
		}
	}

	unique, err := c.source.UniqueColumns(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read unique columns of auth table %s: %w", t.Name, err)
	}
	for _, name := range unique {
		if name == "username" {
			return nil
		}
	}
	return fmt.Errorf("auth table %s: column username must be unique", t.Name)
}

func newTable(name string, columns []types.Column, ownerColumn string) *Table {
	t := &Table{
		Name:    name,
		Columns: make([]Column, 0, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for _, col := range columns {
		rawType := strings.ToLower(col.Type)
		t.index[col.Name] = len(t.Columns)
		t.Columns = append(t.Columns, Column{
			Name:      col.Name,
			RawType:   rawType,
			IsNumeric: isNumeric(rawType),
		})
		// Composite keys are unsupported: the last key column seen wins.
		if col.PrimaryKey {
			t.PrimaryKey = col.Name
		}
		if ownerColumn != "" && col.Name == ownerColumn {
			t.HasOwner = true
		}
	}
	return t
}

func isNumeric(rawType string) bool {
	for _, kw := range numericKeywords {
		if strings.Contains(rawType, kw) {
			return true
		}
	}
	return false
}
