package generate

import (
	"github.com/pb1729/llm-complete/notebook"
)

type cellText struct {
	typ    notebook.CellType
	source string
}

// snapshot is the notebook state captured once per invocation, before the
// model call. The splice always uses draft and offset from here.
type snapshot struct {
	path     string
	language string
	cellID   string
	cells    []cellText
	editor   notebook.Editor
	draft    string
	offset   int
}

// key identifies the active cell for the in-flight guard.
func (s *snapshot) key() string {
	return s.path + "#" + s.cellID
}

// resolve captures the invocation context. It reports false when there is
// no notebook, no active cell, no cell collection, or no editor.
func resolve(panel notebook.Panel) (*snapshot, bool) {
	if panel == nil {
		return nil, false
	}
	active := panel.ActiveCell()
	if active == nil {
		return nil, false
	}
	cells := panel.Cells()
	if cells == nil {
		return nil, false
	}
	editor := active.Editor()
	if editor == nil {
		return nil, false
	}

	snap := &snapshot{
		path:     panel.Path(),
		language: panel.Language(),
		cellID:   active.ID(),
		cells:    make([]cellText, 0, len(cells)),
		editor:   editor,
		draft:    editor.Source(),
	}
	snap.offset = notebook.Offset(snap.draft, editor.CursorPosition())
	for _, c := range cells {
		if c == nil {
			continue
		}
		snap.cells = append(snap.cells, cellText{typ: c.Type(), source: c.Source()})
	}
	return snap, true
}
