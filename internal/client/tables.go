package client

import (
	"context"
	"dbviewer/internal/core"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// ListTables returns the table names of the current database.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	gen, err := c.begin()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.tables != nil {
		tables := append([]string(nil), c.tables...)
		c.mu.Unlock()
		return tables, nil
	}
	c.mu.Unlock()

	var out struct {
		Tables []string `json:"tables"`
	}
	err = core.RetryRead(ctx, c.opts.ReadRetries, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/api/tables", nil, &out)
	})
	if err != nil {
		c.observe(gen, err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return nil, ErrStale
	}
	c.tables = out.Tables
	return append([]string(nil), out.Tables...), nil
}

// Schema returns the schema of table, cached for the lifetime of the session.
func (c *Client) Schema(ctx context.Context, table string) (*core.TableSchema, error) {
	gen, err := c.begin()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if s, ok := c.schemas[table]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	var schema core.TableSchema
	err = core.RetryRead(ctx, c.opts.ReadRetries, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, tablePath(table)+"/schema", nil, &schema)
	})
	if err != nil {
		c.observe(gen, err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return nil, ErrStale
	}
	c.schemas[table] = &schema
	return &schema, nil
}

// Rows returns one page of table. Cells arrive as wire values; see Decode.
func (c *Client) Rows(ctx context.Context, table string, page, pageSize int) (*core.Page, error) {
	gen, err := c.begin()
	if err != nil {
		return nil, err
	}
	key := pageKey{table, page, pageSize}
	c.mu.Lock()
	if p, ok := c.pages[key]; ok {
		c.mu.Unlock()
		return p, nil
	}
	version := c.versions[table]
	c.mu.Unlock()

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))

	var p core.Page
	err = core.RetryRead(ctx, c.opts.ReadRetries, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, tablePath(table)+"?"+q.Encode(), nil, &p)
	})
	if err != nil {
		c.observe(gen, err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return nil, ErrStale
	}
	if c.versions[table] == version {
		c.pages[key] = &p
	}
	return &p, nil
}

// GetRow reads one row, never from cache.
func (c *Client) GetRow(ctx context.Context, table, rowID string) (core.Row, error) {
	gen, err := c.begin()
	if err != nil {
		return nil, err
	}
	var row core.Row
	if err := c.do(ctx, http.MethodGet, rowPath(table, rowID), nil, &row); err != nil {
		c.observe(gen, err)
		return nil, err
	}
	if c.Generation() != gen {
		return nil, ErrStale
	}
	return row, nil
}

func (c *Client) CreateRow(ctx context.Context, table string, data map[string]any) (core.Row, error) {
	var row core.Row
	err := c.mutate(ctx, table, http.MethodPost, tablePath(table)+"/rows", data, &row)
	return row, err
}

// UpdateRow changes only the columns present in data.
func (c *Client) UpdateRow(ctx context.Context, table, rowID string, data map[string]any) (core.Row, error) {
	var row core.Row
	err := c.mutate(ctx, table, http.MethodPut, rowPath(table, rowID), data, &row)
	return row, err
}

func (c *Client) UpdateCell(ctx context.Context, table, rowID, column string, value any) (core.Row, error) {
	var row core.Row
	path := rowPath(table, rowID) + "/cells/" + url.PathEscape(column)
	err := c.mutate(ctx, table, http.MethodPut, path, map[string]any{"value": value}, &row)
	return row, err
}

func (c *Client) DeleteRow(ctx context.Context, table, rowID string) error {
	return c.mutate(ctx, table, http.MethodDelete, rowPath(table, rowID), nil, nil)
}

// mutate sends a write and, whatever its outcome, drops the cached pages of
// table before returning: a failed write may still have landed.
func (c *Client) mutate(ctx context.Context, table, method, path string, body, out any) error {
	gen, err := c.begin()
	if err != nil {
		return err
	}
	err = c.do(ctx, method, path, body, out)
	c.invalidateTable(table)
	if err != nil {
		c.observe(gen, err)
	}
	return err
}

func (c *Client) invalidateTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[table]++
	for k := range c.pages {
		if k.table == table {
			delete(c.pages, k)
		}
	}
}

// Decode turns a row's wire cells into typed values per schema: integers
// become int64, timestamps time.Time, other numbers float64. Columns the
// schema does not know are left as received.
func Decode(schema *core.TableSchema, row core.Row) core.Row {
	out := make(core.Row, len(row))
	for name, v := range row {
		col, ok := schema.Column(name)
		if !ok {
			out[name] = plain(v)
			continue
		}
		out[name] = decodeCell(col, v)
	}
	return out
}

func decodeCell(col core.Column, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case json.Number:
		switch col.DataType {
		case core.TypeInteger, core.TypeBigint, core.TypeSmallint:
			if n, err := x.Int64(); err == nil {
				return n
			}
		}
		f, _ := x.Float64()
		return f
	case string:
		if col.DataType == core.TypeTimestamp {
			if t, err := core.ParseTimestamp(x); err == nil {
				return t
			}
		}
	}
	return plain(v)
}

func plain(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	}
	return v
}

func tablePath(table string) string {
	return "/api/tables/" + url.PathEscape(table)
}

func rowPath(table, rowID string) string {
	return tablePath(table) + "/rows/" + url.PathEscape(rowID)
}
