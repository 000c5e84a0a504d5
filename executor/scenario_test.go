package executor

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/melkeydev/mcp-tablerest/databases/sqlite"
	"github.com/melkeydev/mcp-tablerest/query"
	"github.com/melkeydev/mcp-tablerest/schema"
	"github.com/melkeydev/mcp-tablerest/tenant"
	"github.com/melkeydev/mcp-tablerest/testutil"
	"github.com/melkeydev/mcp-tablerest/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice int64 = 1
	bob   int64 = 2
)

const fixtureSchema = `
CREATE TABLE products (
	id INTEGER PRIMARY KEY,
	name TEXT,
	price REAL,
	stock INTEGER,
	owner INTEGER
);
CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	username TEXT UNIQUE,
	password TEXT
);
CREATE TABLE logs (
	msg TEXT,
	level INTEGER
);
`

type fixture struct {
	conn    *sqlite.SQLiteConnector
	catalog *schema.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := sqlite.NewSQLiteConnector(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.DB().Exec(fixtureSchema)
	require.NoError(t, err)

	catalog := schema.NewCatalog(conn, schema.Options{
		OwnerColumn: "owner",
		AuthTable:   "users",
		Logger:      testutil.NewTestLogger(t),
	})
	require.NoError(t, catalog.Load(context.Background()))
	return &fixture{conn: conn, catalog: catalog}
}

func (f *fixture) executor(t *testing.T, filter tenant.Filter, opts ...Option) *Executor {
	opts = append([]Option{WithLogger(testutil.NewTestLogger(t)), WithAuthTable("users")}, opts...)
	return New(f.conn.DB(), f.conn, f.catalog, filter, opts...)
}

func (f *fixture) scoped(t *testing.T, opts ...Option) *Executor {
	return f.executor(t, tenant.Filter{Column: "owner"}, opts...)
}

func mustInsert(t *testing.T, e *Executor, caller int64, rows ...map[string]any) []any {
	t.Helper()
	res, err := e.Insert(context.Background(), "products", caller, rows)
	require.NoError(t, err)
	require.Len(t, res.Created, len(rows))
	return res.Created
}

func ids(t *testing.T, res *types.ListResult) []any {
	t.Helper()
	out := make([]any, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, row["id"])
	}
	return out
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()

	aliceIDs := mustInsert(t, e, alice,
		map[string]any{"name": "a1", "price": 10},
		map[string]any{"name": "a2", "price": 20},
	)
	bobIDs := mustInsert(t, e, bob, map[string]any{"name": "b1", "price": 5})

	res, err := e.List(ctx, "products", alice, &query.Spec{Order: []query.Order{{Field: "id"}}})
	require.NoError(t, err)
	assert.Equal(t, aliceIDs, ids(t, res))
	for _, row := range res.Rows {
		assert.NotContains(t, row, "owner")
	}

	_, err = e.Get(ctx, "products", alice, "3")
	assert.ErrorIs(t, err, types.ErrNotFound)

	row, err := e.Get(ctx, "products", bob, "3")
	require.NoError(t, err)
	assert.Equal(t, "b1", row["name"])

	_, err = e.DeleteByKey(ctx, "products", alice, "3")
	assert.ErrorIs(t, err, types.ErrNotFound)

	res, err = e.List(ctx, "products", bob, nil)
	require.NoError(t, err)
	assert.Equal(t, bobIDs, ids(t, res))
}

func TestDeleteWhere_ReportsExactKeys(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts []Option
	}{
		{name: "returning"},
		{name: "select then mutate", opts: []Option{WithSelectThenMutate()}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.scoped(t, tt.opts...)
			ctx := context.Background()

			aliceIDs := mustInsert(t, e, alice,
				map[string]any{"name": "a1", "price": 10},
				map[string]any{"name": "a2", "price": 0},
			)
			mustInsert(t, e, bob, map[string]any{"name": "b1", "price": 5})

			res, err := e.DeleteWhere(ctx, "products", alice,
				query.Comparison{Field: "price", Op: query.OpGt, Value: "0"})
			require.NoError(t, err)
			assert.Equal(t, []any{aliceIDs[0]}, res.Deleted)

			left, err := e.List(ctx, "products", alice, nil)
			require.NoError(t, err)
			assert.Equal(t, []any{aliceIDs[1]}, ids(t, left))

			left, err = e.List(ctx, "products", bob, nil)
			require.NoError(t, err)
			assert.Len(t, left.Rows, 1)

			res, err = e.DeleteWhere(ctx, "products", alice,
				query.Comparison{Field: "price", Op: query.OpGt, Value: "100"})
			require.NoError(t, err)
			assert.Equal(t, []any{}, res.Deleted)
		})
	}
}

func TestUpdateWhere_ReportsExactKeys(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts []Option
	}{
		{name: "returning"},
		{name: "select then mutate", opts: []Option{WithSelectThenMutate()}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.scoped(t, tt.opts...)
			ctx := context.Background()

			aliceIDs := mustInsert(t, e, alice,
				map[string]any{"name": "a1", "stock": 0},
				map[string]any{"name": "a2", "stock": 4},
			)
			mustInsert(t, e, bob, map[string]any{"name": "b1", "stock": 0})

			res, err := e.UpdateWhere(ctx, "products", alice,
				query.Comparison{Field: "stock", Op: query.OpEq, Value: "0"},
				map[string]any{"name": "sold out", "owner": bob})
			require.NoError(t, err)
			assert.Equal(t, []any{aliceIDs[0]}, res.Updated)

			row, err := e.Get(ctx, "products", alice, "1")
			require.NoError(t, err)
			assert.Equal(t, "sold out", row["name"])

			row, err = e.Get(ctx, "products", bob, "3")
			require.NoError(t, err)
			assert.Equal(t, "b1", row["name"])
		})
	}
}

func TestAggregateSelect(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()

	mustInsert(t, e, alice,
		map[string]any{"name": "a1", "price": 10},
		map[string]any{"name": "a2", "price": 20},
	)
	mustInsert(t, e, bob, map[string]any{"name": "b1", "price": 5})

	spec, err := query.ParseQueryString("select=count:id", mustTable(t, f, "products"))
	require.NoError(t, err)

	res, err := e.List(ctx, "products", alice, spec)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"count:id": int64(2)}}, res.Rows)

	spec, err = query.ParseQueryString("select=name,sum:price:total&group=name&order=name", mustTable(t, f, "products"))
	require.NoError(t, err)

	res, err = e.List(ctx, "products", alice, spec)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"name": "a1", "total": 10.0},
		{"name": "a2", "total": 20.0},
	}, res.Rows)
}

func TestUpsert(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()

	id := mustInsert(t, e, alice, map[string]any{"name": "a1", "price": 10})[0]

	// Repeating the same payload leaves the row as it was after the first.
	for range 2 {
		res, err := e.Upsert(ctx, "products", alice, []map[string]any{{"id": id, "name": "renamed"}})
		require.NoError(t, err)
		assert.Equal(t, []any{id}, res.Updated)
		assert.Equal(t, []any{}, res.Created)
	}

	list, err := e.List(ctx, "products", alice, &query.Spec{Where: query.Comparison{Field: "name", Op: query.OpEq, Value: "renamed"}})
	require.NoError(t, err)
	require.Len(t, list.Rows, 1)
	// Only the supplied column was written.
	assert.Equal(t, 10.0, list.Rows[0]["price"])

	// A later payload for the same key wins.
	res, err := e.Upsert(ctx, "products", alice, []map[string]any{{"id": id, "name": "second", "price": 12}})
	require.NoError(t, err)
	assert.Equal(t, []any{id}, res.Updated)
	assert.Equal(t, []any{}, res.Created)

	list, err = e.List(ctx, "products", alice, &query.Spec{})
	require.NoError(t, err)
	require.Len(t, list.Rows, 1)
	assert.Equal(t, id, list.Rows[0]["id"])
	assert.Equal(t, "second", list.Rows[0]["name"])
	assert.Equal(t, 12.0, list.Rows[0]["price"])

	// Without a key a row is inserted even when its columns match an existing row.
	res, err = e.Upsert(ctx, "products", alice, []map[string]any{{"name": "second", "price": 12}})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.NotEqual(t, id, res.Created[0])
	assert.Equal(t, []any{}, res.Updated)

	list, err = e.List(ctx, "products", alice, &query.Spec{Where: query.Comparison{Field: "name", Op: query.OpEq, Value: "second"}})
	require.NoError(t, err)
	assert.Len(t, list.Rows, 2)

	res, err = e.Upsert(ctx, "products", alice, []map[string]any{{"name": "fresh"}, {"name": "fresher"}})
	require.NoError(t, err)
	assert.Len(t, res.Created, 2)
	assert.Equal(t, []any{}, res.Updated)

	// Bob cannot take over alice's key through an upsert.
	_, err = e.Upsert(ctx, "products", bob, []map[string]any{{"id": id, "name": "mine"}})
	assert.ErrorIs(t, err, types.ErrConflict)

	// A key that is free is inserted with that key.
	res, err = e.Upsert(ctx, "products", alice, []map[string]any{{"id": "50", "name": "fifty"}})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(50)}, res.Created)
}

func TestListHidesRenamedOwner(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()

	mustInsert(t, e, alice, map[string]any{"name": "a1", "price": 10})

	res, err := e.List(ctx, "products", alice, &query.Spec{
		Select: []query.SelectItem{query.Field("name"), query.Aliased("owner", "o")},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "a1"}}, res.Rows)
}

func TestPagination(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()

	var rows []map[string]any
	for i := range 7 {
		rows = append(rows, map[string]any{"name": "p", "stock": i})
	}
	want := mustInsert(t, e, alice, rows...)
	mustInsert(t, e, bob, map[string]any{"name": "noise"})

	var seen []any
	size := 3
	for no := 1; no <= 3; no++ {
		page := no
		res, err := e.List(ctx, "products", alice, &query.Spec{
			Order:    []query.Order{{Field: "id"}},
			PageNo:   &page,
			PageSize: &size,
		})
		require.NoError(t, err)
		require.NotNil(t, res.Total)
		assert.Equal(t, int64(7), *res.Total)
		assert.Equal(t, page, *res.PageNo)
		assert.Equal(t, size, *res.PageSize)
		seen = append(seen, ids(t, res)...)
	}
	assert.Equal(t, want, seen)

	res, err := e.List(ctx, "products", alice, &query.Spec{})
	require.NoError(t, err)
	assert.Nil(t, res.Total)
	assert.Len(t, res.Rows, 7)
}

func TestTextAndStructuredAgree(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()
	products := mustTable(t, f, "products")

	mustInsert(t, e, alice,
		map[string]any{"name": "apple", "price": 3, "stock": 0},
		map[string]any{"name": "avocado", "price": 9, "stock": 2},
		map[string]any{"name": "banana", "price": 1},
		map[string]any{"name": "cherry", "price": 12, "stock": 5},
	)

	text, err := query.ParseQueryString("or=(price.gt.5,name.like.a*)&stock=nis.null&order=id", products)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"where": [
			{"op": "or", "cond": [["price", "gt", 5], ["name", "like", "a*"]]},
			["stock", "nis", null]
		],
		"order": "id"
	}`), &body))
	structured, err := query.ParseStructured(body, products)
	require.NoError(t, err)

	fromText, err := e.List(ctx, "products", alice, text)
	require.NoError(t, err)
	fromStructured, err := e.List(ctx, "products", alice, structured)
	require.NoError(t, err)

	assert.Equal(t, fromText.Rows, fromStructured.Rows)
	var names []string
	for _, row := range fromText.Rows {
		names = append(names, row["name"].(string))
	}
	assert.Equal(t, []string{"apple", "avocado", "cherry"}, names)
}

func TestNullOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.conn.DB().Exec(`INSERT INTO products (name, owner) VALUES ('shared', NULL)`)
	require.NoError(t, err)
	mustInsert(t, f.scoped(t), alice, map[string]any{"name": "mine"})

	closed, err := f.scoped(t).List(ctx, "products", bob, nil)
	require.NoError(t, err)
	assert.Empty(t, closed.Rows)

	open := f.executor(t, tenant.Filter{Column: "owner", NullOpen: true})
	res, err := open.List(ctx, "products", bob, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "shared", res.Rows[0]["name"])
}

func TestInsert_ForcesOwner(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)

	id := mustInsert(t, e, alice, map[string]any{"name": "a1", "owner": bob})[0]

	var owner int64
	require.NoError(t, f.conn.DB().Get(&owner, `SELECT owner FROM products WHERE id = ?`, id))
	assert.Equal(t, alice, owner)

	_, err := e.Insert(context.Background(), "products", alice, []map[string]any{{"id": id, "name": "again"}})
	assert.ErrorIs(t, err, types.ErrConflict)

	_, err = e.Insert(context.Background(), "products", alice, []map[string]any{{"color": "red"}})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestInsert_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()

	_, err := e.Insert(ctx, "products", alice, []map[string]any{
		{"name": "ok"},
		{"name": "bad", "price": "cheap"},
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	res, err := e.List(ctx, "products", alice, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestStrictUpdate(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()

	aliceID := mustInsert(t, e, alice, map[string]any{"name": "a1", "price": 1})[0]
	bobID := mustInsert(t, e, bob, map[string]any{"name": "b1"})[0]

	_, err := e.Update(ctx, "products", alice, []map[string]any{{"name": "nokey"}})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = e.Update(ctx, "products", alice, []map[string]any{{"id": bobID, "name": "stolen"}})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = e.Update(ctx, "products", alice, []map[string]any{{"id": aliceID, "owner": bob}})
	assert.ErrorIs(t, err, types.ErrValidation)

	res, err := e.UpdateByKey(ctx, "products", alice, "1", map[string]any{"price": "2.5"})
	require.NoError(t, err)
	assert.Equal(t, []any{aliceID}, res.Updated)

	row, err := e.Get(ctx, "products", alice, "1")
	require.NoError(t, err)
	assert.Equal(t, 2.5, row["price"])
	assert.Equal(t, "a1", row["name"])

	row, err = e.Get(ctx, "products", bob, "2")
	require.NoError(t, err)
	assert.Equal(t, "b1", row["name"])
}

func TestKeylessTable(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()

	res, err := e.Insert(ctx, "logs", alice, []map[string]any{
		{"msg": "boot", "level": 1},
		{"msg": "warn", "level": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{}, res.Created)

	// Tables without the ownership column are visible to everyone.
	list, err := e.List(ctx, "logs", bob, nil)
	require.NoError(t, err)
	assert.Len(t, list.Rows, 2)

	res, err = e.DeleteWhere(ctx, "logs", bob, query.Comparison{Field: "level", Op: query.OpGt, Value: "2"})
	require.NoError(t, err)
	assert.Equal(t, []any{}, res.Deleted)

	list, err = e.List(ctx, "logs", alice, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"msg": "boot", "level": int64(1)}}, list.Rows)

	_, err = e.Update(ctx, "logs", alice, []map[string]any{{"msg": "x"}})
	assert.ErrorIs(t, err, types.ErrTable)

	_, err = e.DeleteByKey(ctx, "logs", alice, "1")
	assert.ErrorIs(t, err, types.ErrTable)
}

func TestLookupCaller(t *testing.T) {
	f := newFixture(t)
	e := f.scoped(t)
	ctx := context.Background()

	_, err := f.conn.DB().Exec(`INSERT INTO users (id, username, password) VALUES (42, 'carol', 'x')`)
	require.NoError(t, err)

	id, err := e.LookupCaller(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = e.LookupCaller(ctx, "dave")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCatalogTablesSorted(t *testing.T) {
	f := newFixture(t)

	var names []string
	for _, tbl := range f.catalog.Tables() {
		names = append(names, tbl.Name)
	}
	assert.True(t, sort.StringsAreSorted(names))
	assert.Equal(t, []string{"logs", "products", "users"}, names)
}

func mustTable(t *testing.T, f *fixture, name string) *schema.Table {
	t.Helper()
	tbl, ok := f.catalog.Lookup(name)
	require.True(t, ok)
	return tbl
}
