package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type entry struct {
	Request  requestEntry  `toml:"request"`
	Prompt   *promptEntry  `toml:"prompt,omitempty"`
	Response responseEntry `toml:"response"`
}

type requestEntry struct {
	Timestamp time.Time `toml:"timestamp"`
	Run       int       `toml:"run"`
	Notebook  string    `toml:"notebook"`
	Cell      int       `toml:"cell"`
	CellID    string    `toml:"cell_id,omitempty"`
	Line      int       `toml:"line"`
	Column    int       `toml:"column"`
}

type promptEntry struct {
	User      string `toml:"user"`
	Assistant string `toml:"assistant"`
	Offset    int    `toml:"offset"`
}

type responseEntry struct {
	Invocation string `toml:"invocation,omitempty"`
	Skipped    bool   `toml:"skipped,omitempty"`
	Completion string `toml:"completion,omitempty"`
	Source     string `toml:"source,omitempty"`
	DurationMS int64  `toml:"duration_ms,omitempty"`
	Error      string `toml:"error,omitempty"`
}

// writeEntry writes a single TOML-formatted entry to w, preceded by a
// separator comment so consecutive runs stay readable in one file.
func writeEntry(w io.Writer, e *entry) error {
	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))
	if err := toml.NewEncoder(w).Encode(e); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
