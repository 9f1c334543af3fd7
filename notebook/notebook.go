// Package notebook models the pieces of a notebook host the completion
// command reads and writes: the current panel, its cells, and the editor
// attached to the active cell.
package notebook

import (
	"strings"
	"unicode/utf16"
)

// CellType is the content-type tag of a cell.
type CellType string

const (
	CodeCell     CellType = "code"
	MarkdownCell CellType = "markdown"
	RawCell      CellType = "raw"
)

// Cell is a read-only view of one notebook cell.
type Cell interface {
	ID() string
	Type() CellType
	Source() string
}

// Position is a zero-based cursor location. Column counts UTF-16 code units,
// as reported by browser editors.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Editor is the text editor attached to a rendered cell.
type Editor interface {
	CursorPosition() Position
	Source() string
	SetSource(text string)
}

// ActiveCell is the cell holding focus in a panel.
type ActiveCell interface {
	Cell
	// Editor returns nil when the cell has not been rendered.
	Editor() Editor
}

// Panel is a notebook open in the host.
type Panel interface {
	Path() string
	// Language is the kernel language, empty when unknown.
	Language() string
	// Cells returns nil when the notebook model is not loaded.
	Cells() []Cell
	// ActiveCell returns nil when no cell holds focus.
	ActiveCell() ActiveCell
}

// Offset resolves pos against text and returns a character (rune) offset.
// Positions past the end of a line or of the text are clamped; a column
// inside a surrogate pair resolves to the start of that character.
func Offset(text string, pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	lines := strings.Split(text, "\n")
	if pos.Line >= len(lines) {
		return len([]rune(text))
	}

	offset := 0
	for _, line := range lines[:pos.Line] {
		offset += len([]rune(line)) + 1
	}
	units := 0
	for _, r := range lines[pos.Line] {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > pos.Column {
			break
		}
		units += n
		offset++
	}
	return offset
}

// Splice inserts insert into text at the character offset.
func Splice(text string, offset int, insert string) string {
	runes := []rune(text)
	if offset < 0 {
		offset = 0
	}
	if offset > len(runes) {
		offset = len(runes)
	}
	return string(runes[:offset]) + insert + string(runes[offset:])
}
