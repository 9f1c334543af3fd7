// Command llm-complete-repl runs completions against an .ipynb file from the
// command line. Pick a cell and cursor, run the completion, and inspect the
// prompt and reply as TOML on stdout.
//
// Usage:
//
//	./llm-complete-repl -notebook nb.ipynb             # interactive
//	./llm-complete-repl -notebook nb.ipynb > log.toml  # prompt on stderr, TOML to file
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/pb1729/llm-complete/extension"
	"github.com/pb1729/llm-complete/notebook"
)

const prompt = "> "

type staticTracker struct{ doc *notebook.Document }

func (s staticTracker) CurrentNotebook(context.Context) notebook.Panel { return s.doc }

func main() {
	path := flag.String("notebook", "", "path to the .ipynb file")
	verbose := flag.Bool("verbose", false, "debug logging to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: llm-complete-repl -notebook FILE.ipynb")
		os.Exit(2)
	}

	doc, err := notebook.LoadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	x, err := extension.Activate(ctx, extension.NewRegistry(), extension.NewFileRegistry(""),
		&extension.MemoryPalette{}, staticTracker{doc: doc})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer x.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	s := &session{
		path:   *path,
		doc:    doc,
		assist: x,
		out:    os.Stdout,
		msg:    os.Stderr,
	}

	fmt.Fprintf(s.msg, "llm-complete repl: %s (%d cells)\n", *path, doc.Len())
	if interactive {
		printHelp(s.msg)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Fprint(s.msg, prompt)
		}
		if !scanner.Scan() {
			break
		}
		if s.handle(ctx, scanner.Text()) {
			break
		}
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "\ncommands:")
	fmt.Fprintln(w, "  :cells          list cells")
	fmt.Fprintln(w, "  :cell N         focus cell N, cursor at its end")
	fmt.Fprintln(w, "  :cursor L C     move the cursor (zero-based line and column)")
	fmt.Fprintln(w, "  :run            complete the focused cell")
	fmt.Fprintln(w, "  :show           print the focused cell")
	fmt.Fprintln(w, "  :write          save the notebook")
	fmt.Fprintln(w, "  :quit           exit")
	fmt.Fprintln(w)
}
