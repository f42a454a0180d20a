package client

import (
	"context"
	"dbviewer/internal/core"
	"errors"
	"sync"
)

type EditState int

const (
	Viewing EditState = iota
	Editing
)

func (s EditState) String() string {
	if s == Editing {
		return "editing"
	}
	return "viewing"
}

var errNotEditing = errors.New("client: no cell is being edited")

// CellEditor drives the edit of one cell at a time:
//
//	Viewing -> Editing -> Viewing (confirmed and re-read, or cancelled)
//	                   -> Editing (validation error, value kept)
type CellEditor struct {
	c     *Client
	table string

	mu     sync.Mutex
	state  EditState
	edit   uint64
	rowID  string
	column string
	value  any
	err    error
}

func (c *Client) NewCellEditor(table string) *CellEditor {
	return &CellEditor{c: c, table: table}
}

// Begin starts editing a cell, discarding any edit in progress.
func (e *CellEditor) Begin(rowID, column string, current any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edit++
	e.state = Editing
	e.rowID, e.column = rowID, column
	e.value = current
	e.err = nil
}

func (e *CellEditor) SetValue(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = v
}

func (e *CellEditor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edit++
	e.state = Viewing
	e.value = nil
	e.err = nil
}

func (e *CellEditor) State() EditState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Value is the pending value; Err the last rejection of it.
func (e *CellEditor) Value() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

func (e *CellEditor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Confirm writes the pending value and re-reads the row. A validation error
// keeps the editor in Editing with the value intact for correction; any
// other failure ends the edit. An edit begun or cancelled while Confirm is
// in flight is left alone.
func (e *CellEditor) Confirm(ctx context.Context) (core.Row, error) {
	e.mu.Lock()
	if e.state != Editing {
		e.mu.Unlock()
		return nil, errNotEditing
	}
	edit, rowID, column, value := e.edit, e.rowID, e.column, e.value
	e.mu.Unlock()

	updated, err := e.c.UpdateCell(ctx, e.table, rowID, column, value)
	if err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.edit != edit {
			return nil, err
		}
		if errors.Is(err, core.ErrValidation) {
			e.err = err
			return nil, err
		}
		e.state = Viewing
		e.value = nil
		e.err = nil
		return nil, err
	}

	schema, err := e.c.Schema(ctx, e.table)
	if err != nil {
		e.finish(edit)
		return updated, nil
	}

	// Editing a key column moves the row. The id is built from wire values
	// so keys keep the text form the server parses.
	fresh, err := e.c.GetRow(ctx, e.table, schema.RowID(updated))
	e.finish(edit)
	if err != nil {
		e.c.log.WithError(err).WithField("table", e.table).Warn("re-read after cell update failed")
		return Decode(schema, updated), nil
	}
	return Decode(schema, fresh), nil
}

func (e *CellEditor) finish(edit uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.edit != edit {
		return
	}
	e.state = Viewing
	e.value = nil
	e.err = nil
}
