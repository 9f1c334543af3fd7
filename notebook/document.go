package notebook

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DocCell is a mutable in-memory cell.
type DocCell struct {
	mu     sync.RWMutex
	id     string
	typ    CellType
	source string

	// raw keeps the nbformat fields this package does not interpret
	// (metadata, outputs, execution_count) so a write-back preserves them.
	raw map[string]json.RawMessage
}

// NewCell creates a cell.
func NewCell(id string, typ CellType, source string) *DocCell {
	return &DocCell{id: id, typ: typ, source: source}
}

func (c *DocCell) ID() string     { return c.id }
func (c *DocCell) Type() CellType { return c.typ }

func (c *DocCell) Source() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// SetSource replaces the full cell text.
func (c *DocCell) SetSource(text string) {
	c.mu.Lock()
	c.source = text
	c.mu.Unlock()
}

// Document is an in-memory notebook panel. It is safe for concurrent use.
type Document struct {
	mu       sync.RWMutex
	path     string
	language string
	cells    []*DocCell
	active   int // -1 when no cell holds focus
	cursor   Position
	headless bool

	// meta keeps top-level nbformat fields for write-back.
	meta map[string]json.RawMessage
}

// NewDocument creates a document with no active cell. A nil cells slice
// models a notebook whose cell collection is not loaded.
func NewDocument(path, language string, cells []*DocCell) *Document {
	return &Document{
		path:     path,
		language: language,
		cells:    cells,
		active:   -1,
	}
}

func (d *Document) Path() string     { return d.path }
func (d *Document) Language() string { return d.language }

// Len returns the number of cells.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cells)
}

// Cell returns the cell at index i.
func (d *Document) Cell(i int) *DocCell {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cells[i]
}

// Cells returns a snapshot of the cell list, nil when it is not loaded.
func (d *Document) Cells() []Cell {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cells == nil {
		return nil
	}
	out := make([]Cell, len(d.cells))
	for i, c := range d.cells {
		out[i] = c
	}
	return out
}

// SetActive focuses cell i with the cursor at pos. i = -1 clears focus.
func (d *Document) SetActive(i int, pos Position) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < -1 || i >= len(d.cells) {
		return fmt.Errorf("cell index %d out of range [0,%d)", i, len(d.cells))
	}
	d.active = i
	d.cursor = pos
	return nil
}

// Active returns the focused cell index and cursor.
func (d *Document) Active() (int, Position) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active, d.cursor
}

// SetHeadless detaches editors from every cell, as a host does before the
// active cell has been rendered.
func (d *Document) SetHeadless(headless bool) {
	d.mu.Lock()
	d.headless = headless
	d.mu.Unlock()
}

// ActiveCell returns the focused cell, nil when none.
func (d *Document) ActiveCell() ActiveCell {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.active < 0 || d.active >= len(d.cells) {
		return nil
	}
	return &activeCell{DocCell: d.cells[d.active], cursor: d.cursor, headless: d.headless}
}

type activeCell struct {
	*DocCell
	cursor   Position
	headless bool
}

func (a *activeCell) Editor() Editor {
	if a.headless {
		return nil
	}
	return &cellEditor{cell: a.DocCell, cursor: a.cursor}
}

type cellEditor struct {
	cell   *DocCell
	cursor Position
}

func (e *cellEditor) CursorPosition() Position { return e.cursor }
func (e *cellEditor) Source() string           { return e.cell.Source() }
func (e *cellEditor) SetSource(text string)    { e.cell.SetSource(text) }
