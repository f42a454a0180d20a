package client

import (
	"context"
	"dbviewer/internal/core"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usersSchema = core.TableSchema{
	Table: "users",
	Columns: []core.Column{
		{Name: "id", HeaderName: "Id", DataType: core.TypeInteger, WireType: core.WireNumber, IsPrimary: true, HasDefault: true},
		{Name: "active", HeaderName: "Active", DataType: core.TypeBoolean, WireType: core.WireBoolean},
		{Name: "created_at", HeaderName: "Created At", DataType: core.TypeTimestamp, WireType: core.WireDateTime, IsNullable: true},
	},
	PrimaryKey: []string{"id"},
}

func usersPage() core.Page {
	return core.Page{
		Rows:       []core.Row{{"id": 1, "active": true, "created_at": "2024-03-01T10:00:00Z"}},
		TotalCount: 1,
		PageSize:   25,
	}
}

func connectedClient(t *testing.T, f *fakeAPI) (*Client, *memoryState) {
	t.Helper()
	f.handle("POST /api/connect", http.StatusOK, connected("d"))
	state := newMemoryState()
	c := newTestClient(t, f, state)
	_, err := c.Validate(context.Background(), hostConfig("d"))
	require.NoError(t, err)
	return c, state
}

func TestTableViewLoadDecodesAgainstSchema(t *testing.T) {
	f := newFakeAPI(t)
	f.handle("GET /api/tables/users/schema", http.StatusOK, usersSchema)
	var query string
	f.mux.HandleFunc("GET /api/tables/users", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		reply(w, http.StatusOK, usersPage())
	})
	c, _ := connectedClient(t, f)

	v := c.NewTableView()
	v.Select("users")
	schema, page, err := v.Load(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "page=0&pageSize=25", query)
	assert.Equal(t, []string{"id"}, schema.PrimaryKey)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, core.Row{
		"id":         int64(1),
		"active":     true,
		"created_at": time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}, page.Rows[0])
	assert.EqualValues(t, 1, page.TotalCount)

	_, _, current := v.Current()
	assert.Equal(t, page, current)
}

func TestTableViewDiscardsLoadForPreviousTable(t *testing.T) {
	f := newFakeAPI(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.handle("GET /api/tables/users/schema", http.StatusOK, usersSchema)
	f.mux.HandleFunc("GET /api/tables/users", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		reply(w, http.StatusOK, usersPage())
	})
	c, _ := connectedClient(t, f)

	v := c.NewTableView()
	v.Select("users")
	done := make(chan error, 1)
	go func() {
		_, _, err := v.Load(context.Background(), 0)
		done <- err
	}()

	<-entered
	v.Select("orders")
	close(release)

	assert.ErrorIs(t, <-done, ErrStale)
	table, schema, page := v.Current()
	assert.Equal(t, "orders", table)
	assert.Nil(t, schema)
	assert.Nil(t, page)
}

func TestTableViewDiscardsLoadAfterSessionChange(t *testing.T) {
	f := newFakeAPI(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.handle("GET /api/tables/users/schema", http.StatusOK, usersSchema)
	f.handle("DELETE /api/session", http.StatusOK, core.SessionInfo{Status: core.StatusDisconnected})
	f.mux.HandleFunc("GET /api/tables/users", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		reply(w, http.StatusOK, usersPage())
	})
	c, _ := connectedClient(t, f)

	v := c.NewTableView()
	v.Select("users")
	done := make(chan error, 1)
	go func() {
		_, _, err := v.Load(context.Background(), 0)
		done <- err
	}()

	<-entered
	require.NoError(t, c.Disconnect(context.Background()))
	close(release)

	assert.ErrorIs(t, <-done, ErrStale)
}

func TestMutationsInvalidateCachedPages(t *testing.T) {
	f := newFakeAPI(t)
	var listed atomic.Int32
	f.mux.HandleFunc("GET /api/tables/users", func(w http.ResponseWriter, r *http.Request) {
		listed.Add(1)
		reply(w, http.StatusOK, usersPage())
	})
	f.handle("PUT /api/tables/users/rows/{id}/cells/{column}", http.StatusOK, core.Row{"id": 1, "active": false})
	f.handle("DELETE /api/tables/users/rows/{id}", http.StatusNoContent, nil)
	f.handle("POST /api/tables/users/rows", http.StatusBadRequest, map[string]any{
		"error": map[string]any{"code": core.CodeValidation, "message": "invalid row", "fields": map[string]string{"active": "is required"}},
	})
	c, _ := connectedClient(t, f)
	ctx := context.Background()

	_, err := c.Rows(ctx, "users", 0, 25)
	require.NoError(t, err)
	_, err = c.Rows(ctx, "users", 0, 25)
	require.NoError(t, err)
	assert.EqualValues(t, 1, listed.Load())

	_, err = c.UpdateCell(ctx, "users", "1", "active", false)
	require.NoError(t, err)
	_, err = c.Rows(ctx, "users", 0, 25)
	require.NoError(t, err)
	assert.EqualValues(t, 2, listed.Load())

	require.NoError(t, c.DeleteRow(ctx, "users", "1"))
	_, err = c.Rows(ctx, "users", 0, 25)
	require.NoError(t, err)
	assert.EqualValues(t, 3, listed.Load())

	_, err = c.CreateRow(ctx, "users", map[string]any{})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, map[string]string{"active": "is required"}, core.AsError(err).Fields)
	assert.Equal(t, core.StatusConnected, c.Session().Status, "validation errors leave the session alone")
}

func TestPageFetchedAcrossWriteIsNotCached(t *testing.T) {
	f := newFakeAPI(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var listed atomic.Int32
	f.mux.HandleFunc("GET /api/tables/users", func(w http.ResponseWriter, r *http.Request) {
		if listed.Add(1) == 1 {
			close(entered)
			<-release
			reply(w, http.StatusOK, usersPage())
			return
		}
		page := usersPage()
		page.Rows[0]["active"] = false
		reply(w, http.StatusOK, page)
	})
	f.handle("PUT /api/tables/users/rows/{id}/cells/{column}", http.StatusOK, core.Row{"id": 1, "active": false})
	c, _ := connectedClient(t, f)
	ctx := context.Background()

	done := make(chan *core.Page, 1)
	go func() {
		p, err := c.Rows(ctx, "users", 0, 25)
		assert.NoError(t, err)
		done <- p
	}()

	<-entered
	_, err := c.UpdateCell(ctx, "users", "1", "active", false)
	require.NoError(t, err)
	close(release)

	old := <-done
	require.NotNil(t, old)
	assert.Equal(t, true, old.Rows[0]["active"])

	p, err := c.Rows(ctx, "users", 0, 25)
	require.NoError(t, err)
	assert.EqualValues(t, 2, listed.Load())
	assert.Equal(t, false, p.Rows[0]["active"])
}

func TestRowIDsAreEscapedInPaths(t *testing.T) {
	f := newFakeAPI(t)
	var gotID string
	f.mux.HandleFunc("GET /api/tables/{table}/rows/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotID = r.PathValue("id")
		reply(w, http.StatusOK, core.Row{})
	})
	c, _ := connectedClient(t, f)

	schema := core.TableSchema{
		Columns:    []core.Column{{Name: "a", DataType: core.TypeText}, {Name: "b", DataType: core.TypeInteger}},
		PrimaryKey: []string{"a", "b"},
	}
	id := schema.RowID(core.Row{"a": "x,y/z", "b": int64(3)})
	_, err := c.GetRow(context.Background(), "order items", id)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
}

func TestPreferencesPersistPerTable(t *testing.T) {
	f := newFakeAPI(t)
	c, state := connectedClient(t, f)

	v := c.NewTableView()
	prefs := v.Select("users")
	assert.Equal(t, core.DefaultPageSize, prefs.PageSize)

	assert.Equal(t, 50, v.SetPageSize(45))
	v.SetColumnVisible("created_at", false)
	v.SetColumnWidth("id", 120)
	v.SetTextWrapping("active", core.WrapTruncate)

	raw := state.data[viewStatePrefix+"users"]
	restored, err := core.ParseViewPreferences(raw)
	require.NoError(t, err)
	assert.Equal(t, v.Preferences(), restored)

	other := c.NewTableView()
	assert.Equal(t, core.DefaultPageSize, other.Select("orders").PageSize)
	again := other.Select("users")
	assert.Equal(t, 50, again.PageSize)
	assert.Equal(t, map[string]bool{"created_at": false}, again.ColumnVisibility)
	assert.Equal(t, map[string]int{"id": 120}, again.ColumnWidths)
}

func TestLegacyPreferencesAreMigrated(t *testing.T) {
	f := newFakeAPI(t)
	c, state := connectedClient(t, f)
	state.data[viewStatePrefix+"users"] = []byte(`{"columnWidths":{"id":99.6},"pageSize":"10","columnTextWrapping":{"id":"sideways"}}`)

	prefs := c.NewTableView().Select("users")
	assert.Equal(t, core.PreferencesVersion, prefs.Version)
	assert.Equal(t, 10, prefs.PageSize)
	assert.Equal(t, map[string]int{"id": 100}, prefs.ColumnWidths)
	assert.Empty(t, prefs.ColumnTextWrapping)
}

func TestVisibleColumns(t *testing.T) {
	f := newFakeAPI(t)
	f.handle("GET /api/tables/users/schema", http.StatusOK, usersSchema)
	f.handle("GET /api/tables/users", http.StatusOK, usersPage())
	c, _ := connectedClient(t, f)

	v := c.NewTableView()
	v.Select("users")
	v.SetColumnVisible("active", false)
	_, _, err := v.Load(context.Background(), 0)
	require.NoError(t, err)

	var names []string
	for _, col := range v.VisibleColumns() {
		names = append(names, col.Name)
	}
	assert.Equal(t, []string{"id", "created_at"}, names)
}

func TestCellEditor(t *testing.T) {
	f := newFakeAPI(t)
	f.handle("GET /api/tables/users/schema", http.StatusOK, usersSchema)
	f.mux.HandleFunc("PUT /api/tables/users/rows/{id}/cells/{column}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["value"].(bool); !ok {
			reply(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"code": core.CodeValidation, "message": "invalid value", "fields": map[string]string{"active": "expected true or false"}},
			})
			return
		}
		reply(w, http.StatusOK, core.Row{"id": 1, "active": body["value"], "created_at": nil})
	})
	f.handle("GET /api/tables/users/rows/1", http.StatusOK, core.Row{"id": 1, "active": false, "created_at": nil})
	f.handle("GET /api/tables/users/rows/2", http.StatusNotFound, apiError(core.CodeNotFound, "row not found"))
	c, _ := connectedClient(t, f)
	ctx := context.Background()

	e := c.NewCellEditor("users")
	assert.Equal(t, Viewing, e.State())
	_, err := e.Confirm(ctx)
	assert.Error(t, err)

	e.Begin("1", "active", true)
	assert.Equal(t, Editing, e.State())
	e.SetValue("maybe")
	_, err = e.Confirm(ctx)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, Editing, e.State())
	assert.Equal(t, "maybe", e.Value())
	assert.ErrorIs(t, e.Err(), core.ErrValidation)

	e.SetValue(false)
	row, err := e.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, Viewing, e.State())
	assert.Equal(t, core.Row{"id": int64(1), "active": false, "created_at": nil}, row)
	assert.NoError(t, e.Err())

	e.Begin("1", "active", false)
	e.SetValue(true)
	e.Cancel()
	assert.Equal(t, Viewing, e.State())
	assert.Nil(t, e.Value())
}

func TestCellEditorEndsOnNotFound(t *testing.T) {
	f := newFakeAPI(t)
	f.handle("PUT /api/tables/users/rows/{id}/cells/{column}", http.StatusNotFound, apiError(core.CodeNotFound, "row not found"))
	c, _ := connectedClient(t, f)

	e := c.NewCellEditor("users")
	e.Begin("2", "active", true)
	_, err := e.Confirm(context.Background())
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, Viewing, e.State())
}

func TestCellEditorRereadsByTimestampKey(t *testing.T) {
	f := newFakeAPI(t)
	f.handle("GET /api/tables/events/schema", http.StatusOK, core.TableSchema{
		Table: "events",
		Columns: []core.Column{
			{Name: "at", HeaderName: "At", DataType: core.TypeTimestamp, WireType: core.WireDateTime, IsPrimary: true},
			{Name: "name", HeaderName: "Name", DataType: core.TypeText, WireType: core.WireString},
		},
		PrimaryKey: []string{"at"},
	})
	f.handle("PUT /api/tables/events/rows/{id}/cells/{column}", http.StatusOK, core.Row{"at": "2024-03-01T10:00:00Z", "name": "launch"})
	var gotID string
	f.mux.HandleFunc("GET /api/tables/events/rows/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotID = r.PathValue("id")
		reply(w, http.StatusOK, core.Row{"at": "2024-03-01T10:00:00Z", "name": "launch"})
	})
	c, _ := connectedClient(t, f)

	e := c.NewCellEditor("events")
	e.Begin("2024-03-01T10:00:00Z", "name", "draft")
	e.SetValue("launch")
	row, err := e.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:00:00Z", gotID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), row["at"])
	assert.Equal(t, "launch", row["name"])
}

func TestCellEditorKeepsEditBegunDuringConfirm(t *testing.T) {
	f := newFakeAPI(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.handle("GET /api/tables/users/schema", http.StatusOK, usersSchema)
	f.mux.HandleFunc("PUT /api/tables/users/rows/{id}/cells/{column}", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		reply(w, http.StatusOK, core.Row{"id": 1, "active": false, "created_at": nil})
	})
	f.handle("GET /api/tables/users/rows/1", http.StatusOK, core.Row{"id": 1, "active": false, "created_at": nil})
	c, _ := connectedClient(t, f)

	e := c.NewCellEditor("users")
	e.Begin("1", "active", true)
	e.SetValue(false)
	done := make(chan error, 1)
	go func() {
		_, err := e.Confirm(context.Background())
		done <- err
	}()

	<-entered
	e.Begin("1", "created_at", nil)
	e.SetValue("2024-03-02T09:00:00Z")
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, Editing, e.State())
	assert.Equal(t, "2024-03-02T09:00:00Z", e.Value())
	assert.NoError(t, e.Err())
}

func TestTableViewFilterAndSortApplyToLoadedPage(t *testing.T) {
	f := newFakeAPI(t)
	f.handle("GET /api/tables/users/schema", http.StatusOK, usersSchema)
	f.handle("GET /api/tables/users", http.StatusOK, core.Page{
		Rows: []core.Row{
			{"id": 1, "active": true, "created_at": "2024-03-02T10:00:00Z"},
			{"id": 2, "active": false, "created_at": nil},
			{"id": 3, "active": true, "created_at": "2024-03-01T10:00:00Z"},
		},
		TotalCount: 3,
		PageSize:   25,
	})
	c, _ := connectedClient(t, f)

	v := c.NewTableView()
	v.Select("users")
	assert.Nil(t, v.Rows())
	_, _, err := v.Load(context.Background(), 0)
	require.NoError(t, err)

	ids := func() []int64 {
		var out []int64
		for _, row := range v.Rows() {
			out = append(out, row["id"].(int64))
		}
		return out
	}
	assert.Equal(t, []int64{1, 2, 3}, ids())

	assert.False(t, v.SortBy("created_at"))
	assert.Equal(t, []int64{3, 1, 2}, ids())
	assert.True(t, v.SortBy("created_at"))
	assert.Equal(t, []int64{1, 3, 2}, ids(), "nulls stay last when descending")

	assert.False(t, v.SortBy("id"))
	v.SetFilter("TRUE")
	assert.Equal(t, []int64{1, 3}, ids())
	v.SetFilter("2024-03-01")
	assert.Equal(t, []int64{3}, ids())

	v.SetFilter("")
	v.ClearSort()
	assert.Equal(t, []int64{1, 2, 3}, ids())

	v.SetFilter("true")
	v.SortBy("id")
	v.Select("users")
	assert.Nil(t, v.Rows(), "select drops the applied page")
}
