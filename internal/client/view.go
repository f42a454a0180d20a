package client

import (
	"cmp"
	"context"
	"dbviewer/internal/core"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// TableView is the state of one table screen: the active table, its
// persisted preferences and the last page applied.
type TableView struct {
	c *Client

	mu     sync.Mutex
	table  string
	token  uint64
	prefs  core.ViewPreferences
	schema *core.TableSchema
	page   *core.Page

	// In-page filter and sort; they never reach the server.
	filter     string
	sortColumn string
	sortDesc   bool
}

func (c *Client) NewTableView() *TableView {
	return &TableView{c: c, prefs: core.DefaultViewPreferences()}
}

// Select makes table the active one and loads its stored preferences. Loads
// still running for the previous table will come back ErrStale.
func (v *TableView) Select(table string) core.ViewPreferences {
	prefs := v.c.loadPrefs(table)
	prefs.SelectedTable = table

	v.mu.Lock()
	defer v.mu.Unlock()
	v.table = table
	v.token++
	v.prefs = prefs
	v.schema = nil
	v.page = nil
	v.filter = ""
	v.sortColumn, v.sortDesc = "", false
	return clonePrefs(prefs)
}

// Load fetches schema and page concurrently. The page is only applied once
// the schema is in hand, and neither is applied if the table or the session
// changed while they were in flight.
func (v *TableView) Load(ctx context.Context, page int) (*core.TableSchema, *core.Page, error) {
	v.mu.Lock()
	table, token, pageSize := v.table, v.token, v.prefs.PageSize
	v.mu.Unlock()
	if table == "" {
		return nil, nil, core.ValidationError("no table selected", map[string]string{"table": "is required"})
	}
	gen := v.c.Generation()

	var schema *core.TableSchema
	var raw *core.Page
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		schema, err = v.c.Schema(gctx, table)
		return err
	})
	g.Go(func() (err error) {
		raw, err = v.c.Rows(gctx, table, page, pageSize)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	decoded := &core.Page{Rows: make([]core.Row, len(raw.Rows)), TotalCount: raw.TotalCount, Page: raw.Page, PageSize: raw.PageSize}
	for i, row := range raw.Rows {
		decoded.Rows[i] = Decode(schema, row)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.token != token || v.c.Generation() != gen {
		return nil, nil, ErrStale
	}
	v.schema = schema
	v.page = decoded
	return schema, decoded, nil
}

// Current returns what the last successful Load applied.
func (v *TableView) Current() (string, *core.TableSchema, *core.Page) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.table, v.schema, v.page
}

// SetFilter keeps only rows of the applied page where some cell contains
// text, ignoring case. An empty text shows every row.
func (v *TableView) SetFilter(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filter = strings.ToLower(strings.TrimSpace(text))
}

// SortBy orders the applied page by column, ascending first and toggling
// direction when the same column is picked again. It returns true when the
// order is now descending.
func (v *TableView) SortBy(column string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sortColumn == column {
		v.sortDesc = !v.sortDesc
	} else {
		v.sortColumn, v.sortDesc = column, false
	}
	return v.sortDesc
}

// ClearSort restores the server's row order.
func (v *TableView) ClearSort() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sortColumn, v.sortDesc = "", false
}

// Rows returns the applied page's rows after the in-page filter and sort.
// Nulls sort last in either direction.
func (v *TableView) Rows() []core.Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.page == nil {
		return nil
	}
	rows := make([]core.Row, 0, len(v.page.Rows))
	for _, row := range v.page.Rows {
		if v.filter == "" || rowContains(row, v.filter) {
			rows = append(rows, row)
		}
	}
	if v.sortColumn == "" {
		return rows
	}
	col, desc := v.sortColumn, v.sortDesc
	slices.SortStableFunc(rows, func(a, b core.Row) int {
		x, y := a[col], b[col]
		switch {
		case x == nil && y == nil:
			return 0
		case x == nil:
			return 1
		case y == nil:
			return -1
		}
		if desc {
			return compareCells(y, x)
		}
		return compareCells(x, y)
	})
	return rows
}

func rowContains(row core.Row, needle string) bool {
	for _, cell := range row {
		if cell != nil && strings.Contains(strings.ToLower(cellText(cell)), needle) {
			return true
		}
	}
	return false
}

func cellText(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

func compareCells(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case x:
				return 1
			}
			return -1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(cellText(a), cellText(b))
}

// VisibleColumns lists the schema columns not hidden by preference.
func (v *TableView) VisibleColumns() []core.Column {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.schema == nil {
		return nil
	}
	var cols []core.Column
	for _, col := range v.schema.Columns {
		if visible, ok := v.prefs.ColumnVisibility[col.Name]; ok && !visible {
			continue
		}
		cols = append(cols, col)
	}
	return cols
}

func (v *TableView) Preferences() core.ViewPreferences {
	v.mu.Lock()
	defer v.mu.Unlock()
	return clonePrefs(v.prefs)
}

// SetPageSize snaps n to an offered size, stores it and returns it.
func (v *TableView) SetPageSize(n int) int {
	size := core.ClampPageSize(n)
	v.update(func(p *core.ViewPreferences) { p.PageSize = size })
	return size
}

func (v *TableView) SetColumnVisible(column string, visible bool) {
	v.update(func(p *core.ViewPreferences) { p.ColumnVisibility[column] = visible })
}

func (v *TableView) SetColumnWidth(column string, width int) {
	v.update(func(p *core.ViewPreferences) {
		if width <= 0 {
			delete(p.ColumnWidths, column)
			return
		}
		p.ColumnWidths[column] = width
	})
}

func (v *TableView) SetTextWrapping(column string, mode core.TextWrapping) {
	v.update(func(p *core.ViewPreferences) { p.ColumnTextWrapping[column] = mode })
}

func (v *TableView) update(fn func(p *core.ViewPreferences)) {
	v.mu.Lock()
	fn(&v.prefs)
	v.prefs = v.prefs.Normalize()
	table, prefs := v.table, clonePrefs(v.prefs)
	v.mu.Unlock()

	if table == "" {
		return
	}
	if err := v.c.state.Put(viewStatePrefix+table, prefs); err != nil {
		v.c.log.WithError(err).WithField("table", table).Warn("failed to store view preferences")
	}
}

func (c *Client) loadPrefs(table string) core.ViewPreferences {
	var raw json.RawMessage
	found, err := c.state.Get(viewStatePrefix+table, &raw)
	if err != nil || !found {
		if err != nil {
			c.log.WithError(err).WithField("table", table).Warn("failed to read view preferences")
		}
		return core.DefaultViewPreferences()
	}
	prefs, err := core.ParseViewPreferences(raw)
	if err != nil {
		c.log.WithError(err).WithField("table", table).Warn("discarding unreadable view preferences")
	}
	return prefs
}

func clonePrefs(p core.ViewPreferences) core.ViewPreferences {
	out := p
	out.ColumnVisibility = make(map[string]bool, len(p.ColumnVisibility))
	for k, v := range p.ColumnVisibility {
		out.ColumnVisibility[k] = v
	}
	out.ColumnWidths = make(map[string]int, len(p.ColumnWidths))
	for k, v := range p.ColumnWidths {
		out.ColumnWidths[k] = v
	}
	out.ColumnTextWrapping = make(map[string]core.TextWrapping, len(p.ColumnTextWrapping))
	for k, v := range p.ColumnTextWrapping {
		out.ColumnTextWrapping[k] = v
	}
	return out
}
