package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/pb1729/llm-complete/generate"
	"github.com/pb1729/llm-complete/notebook"
)

type assister interface {
	Assist(ctx context.Context) (*generate.Result, error)
}

// session holds the REPL state between commands.
type session struct {
	path   string
	doc    *notebook.Document
	assist assister
	out    io.Writer // TOML entries
	msg    io.Writer // human-readable feedback
	runs   int
}

// handle executes one command line and reports whether to quit.
func (s *session) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case ":quit", ":q":
		return true
	case ":cells":
		s.listCells()
	case ":cell":
		s.focus(fields[1:])
	case ":cursor":
		s.moveCursor(fields[1:])
	case ":show":
		s.show()
	case ":run":
		s.run(ctx)
	case ":write":
		if err := notebook.SaveFile(s.path, s.doc); err != nil {
			fmt.Fprintf(s.msg, "error: %v\n", err)
		} else {
			fmt.Fprintf(s.msg, "wrote %s\n", s.path)
		}
	default:
		fmt.Fprintf(s.msg, "unknown command: %s\n", fields[0])
	}
	return false
}

func (s *session) listCells() {
	active, _ := s.doc.Active()
	for i := 0; i < s.doc.Len(); i++ {
		c := s.doc.Cell(i)
		first, _, _ := strings.Cut(c.Source(), "\n")
		marker := " "
		if i == active {
			marker = "*"
		}
		fmt.Fprintf(s.msg, "%s %3d  %-8s %-12s %s\n", marker, i, c.Type(), c.ID(), first)
	}
}

func (s *session) focus(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.msg, "usage: :cell N")
		return
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(s.msg, "error: %v\n", err)
		return
	}
	if i < 0 || i >= s.doc.Len() {
		fmt.Fprintf(s.msg, "error: cell %d out of range [0, %d)\n", i, s.doc.Len())
		return
	}
	pos := endOf(s.doc.Cell(i).Source())
	if err := s.doc.SetActive(i, pos); err != nil {
		fmt.Fprintf(s.msg, "error: %v\n", err)
		return
	}
	fmt.Fprintf(s.msg, "cell %d, cursor %d:%d\n", i, pos.Line, pos.Column)
}

func (s *session) moveCursor(args []string) {
	active, _ := s.doc.Active()
	if active < 0 {
		fmt.Fprintln(s.msg, "error: no cell focused")
		return
	}
	if len(args) != 2 {
		fmt.Fprintln(s.msg, "usage: :cursor LINE COL")
		return
	}
	l, err1 := strconv.Atoi(args[0])
	c, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || l < 0 || c < 0 {
		fmt.Fprintln(s.msg, "error: line and column must be non-negative integers")
		return
	}
	s.doc.SetActive(active, notebook.Position{Line: l, Column: c})
}

func (s *session) show() {
	active, pos := s.doc.Active()
	if active < 0 {
		fmt.Fprintln(s.msg, "error: no cell focused")
		return
	}
	src := s.doc.Cell(active).Source()
	off := notebook.Offset(src, pos)
	fmt.Fprintln(s.msg, notebook.Splice(src, off, "|"))
}

func (s *session) run(ctx context.Context) {
	s.runs++
	active, pos := s.doc.Active()
	start := time.Now()
	res, err := s.assist.Assist(ctx)

	e := entry{Request: requestEntry{
		Timestamp: start,
		Run:       s.runs,
		Notebook:  s.path,
		Cell:      active,
		Line:      pos.Line,
		Column:    pos.Column,
	}}
	switch {
	case err != nil:
		fmt.Fprintf(s.msg, "error: %v\n", err)
		e.Response.Error = err.Error()
	case res.Skipped:
		fmt.Fprintln(s.msg, "(skipped: no focused cell)")
		e.Response.Skipped = true
	default:
		fmt.Fprintf(s.msg, "%s\n(%s)\n", res.Source, res.Duration.Round(time.Millisecond))
		e.Request.CellID = res.CellID
		e.Prompt = &promptEntry{User: res.Prompt, Assistant: res.Draft, Offset: res.Offset}
		e.Response.Invocation = res.Invocation
		e.Response.Completion = res.Completion
		e.Response.Source = res.Source
		e.Response.DurationMS = res.Duration.Milliseconds()
	}
	if err := writeEntry(s.out, &e); err != nil {
		fmt.Fprintf(s.msg, "error: %v\n", err)
	}
}

// endOf returns the position after the last character of text.
func endOf(text string) notebook.Position {
	lines := strings.Split(text, "\n")
	last := lines[len(lines)-1]
	return notebook.Position{Line: len(lines) - 1, Column: len(utf16.Encode([]rune(last)))}
}
