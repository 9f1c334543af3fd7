package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	llmcomplete "github.com/pb1729/llm-complete"
	"github.com/pb1729/llm-complete/notebook"
)

// stubModel records calls and returns a fixed reply.
type stubModel struct {
	reply string
	err   error

	// onCall runs inside Generate, before the reply is returned.
	onCall func()
	// block holds calls whose draft is "slow" until closed.
	block   chan struct{}
	started chan struct{}

	mu          sync.Mutex
	calls       int
	userTurns   []string
	draftTurns  []string
	hadDeadline bool
}

func (s *stubModel) Generate(ctx context.Context, userTurn, assistantTurn string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.userTurns = append(s.userTurns, userTurn)
	s.draftTurns = append(s.draftTurns, assistantTurn)
	_, s.hadDeadline = ctx.Deadline()
	s.mu.Unlock()

	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil && assistantTurn == "slow" {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.onCall != nil {
		s.onCall()
	}
	return s.reply, s.err
}

func (s *stubModel) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// testEngine creates a minimal engine for testing
func testEngine(t *testing.T, model Model) *Engine {
	t.Helper()
	e := &Engine{
		model:        model,
		config:       llmcomplete.DefaultConfig(),
		customPrompt: "", // use default prompt
		inflight:     NewInflight(time.Minute),
		ownsInflight: true,
	}
	t.Cleanup(e.Close)
	return e
}

func exampleDocument(t *testing.T) *notebook.Document {
	t.Helper()
	doc := notebook.NewDocument("example.ipynb", "python", []*notebook.DocCell{
		notebook.NewCell("x", notebook.CodeCell, "x = 1"),
		notebook.NewCell("y", notebook.CodeCell, "y = "),
	})
	if err := doc.SetActive(1, notebook.Position{Line: 0, Column: 4}); err != nil {
		t.Fatal(err)
	}
	return doc
}

// fakePanel lets tests model host states a Document cannot express.
type fakePanel struct {
	cells  []notebook.Cell
	active notebook.ActiveCell
}

func (p *fakePanel) Path() string                    { return "fake.ipynb" }
func (p *fakePanel) Language() string                { return "" }
func (p *fakePanel) Cells() []notebook.Cell          { return p.cells }
func (p *fakePanel) ActiveCell() notebook.ActiveCell { return p.active }

// --- serialization ---

func TestSerializeCells(t *testing.T) {
	cells := []cellText{
		{notebook.MarkdownCell, "# Load data"},
		{notebook.CodeCell, "import pandas as pd\ndf = pd.read_csv('a.csv')"},
		{notebook.RawCell, "raw text"},
		{notebook.CodeCell, ""},
	}
	want := "# Load data" +
		"\n\n```python\nimport pandas as pd\ndf = pd.read_csv('a.csv')\n```" +
		"\n\nraw text" +
		"\n\n```python\n\n```"
	if got := serializeCells(cells, "python", false); got != want {
		t.Errorf("serializeCells mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestSerializeCellsSingleCodeCell(t *testing.T) {
	got := serializeCells([]cellText{{notebook.CodeCell, "x = 1"}}, "python", false)
	if got != "```python\nx = 1\n```" {
		t.Errorf("unexpected context %q", got)
	}
}

func TestSerializeCellsEmptyNotebook(t *testing.T) {
	if got := serializeCells(nil, "python", false); got != "" {
		t.Errorf("expected empty context, got %q", got)
	}
}

func TestSerializeCellsRedactsOnlyWhenEnabled(t *testing.T) {
	cells := []cellText{
		{notebook.CodeCell, "!curl -H $TOKEN https://x"},
		{notebook.MarkdownCell, "!not a shell line $TOKEN"},
	}
	plain := serializeCells(cells, "python", false)
	if !strings.Contains(plain, "$TOKEN https") {
		t.Errorf("expected no redaction when disabled, got %q", plain)
	}
	redacted := serializeCells(cells, "python", true)
	if !strings.Contains(redacted, "!curl -H $REDACTED https://x") {
		t.Errorf("expected code cell shell escape to be redacted, got %q", redacted)
	}
	if !strings.Contains(redacted, "!not a shell line $TOKEN") {
		t.Errorf("expected markdown to be left alone, got %q", redacted)
	}
}

// --- prompt ---

func TestBuildPromptDefault(t *testing.T) {
	e := testEngine(t, &stubModel{})
	got := e.buildPrompt("python", "```python\nx = 1\n```")
	want := "#!python&jupyter\n" +
		"This is a Jupyter notebook. All cells are printed below.\n" +
		"```python\nx = 1\n```" +
		"\n\nAssistant task: Rewrite current cell from cursor position. Follow the instructions in the comments and markdown."
	if got != want {
		t.Errorf("buildPrompt mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestBuildPromptCustomTemplate(t *testing.T) {
	e := testEngine(t, &stubModel{})
	e.customPrompt = "lang={{.Language}}\n{{.Cells}}\n"
	if got := e.buildPrompt("julia", "body"); got != "lang=julia\nbody" {
		t.Errorf("unexpected custom prompt %q", got)
	}
}

func TestBuildPromptInvalidTemplateFallsBack(t *testing.T) {
	e := testEngine(t, &stubModel{})
	e.customPrompt = "{{.Nope"
	got := e.buildPrompt("python", "body")
	if !strings.HasPrefix(got, "#!python&jupyter\n") {
		t.Errorf("expected default prompt fallback, got %q", got)
	}
}

func TestBuildPromptExecuteErrorFallsBack(t *testing.T) {
	e := testEngine(t, &stubModel{})
	e.customPrompt = "{{.Missing}}"
	got := e.buildPrompt("python", "body")
	if !strings.HasPrefix(got, "#!python&jupyter\n") {
		t.Errorf("expected default prompt fallback, got %q", got)
	}
}

// --- orchestration ---

func TestAssistEndToEnd(t *testing.T) {
	stub := &stubModel{reply: "2"}
	e := testEngine(t, stub)
	doc := exampleDocument(t)

	res, err := e.Assist(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Cell(1).Source(); got != "y = 2" {
		t.Errorf("expected %q, got %q", "y = 2", got)
	}
	if res.Offset != 4 || res.Completion != "2" || res.Source != "y = 2" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Invocation == "" {
		t.Error("expected an invocation id")
	}
	if stub.draftTurns[0] != "y = " {
		t.Errorf("expected the untouched draft as assistant turn, got %q", stub.draftTurns[0])
	}
	if !strings.Contains(stub.userTurns[0], "```python\nx = 1\n```\n\n```python\ny = \n```") {
		t.Errorf("expected all cells in the user turn, got %q", stub.userTurns[0])
	}
}

func TestAssistSplicesAtCursorInsideText(t *testing.T) {
	stub := &stubModel{reply: "'hello'"}
	e := testEngine(t, stub)
	doc := notebook.NewDocument("p.ipynb", "python", []*notebook.DocCell{
		notebook.NewCell("a", notebook.CodeCell, "# greet\nprint()"),
	})
	if err := doc.SetActive(0, notebook.Position{Line: 1, Column: 6}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Assist(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if got := doc.Cell(0).Source(); got != "# greet\nprint('hello')" {
		t.Errorf("unexpected splice %q", got)
	}
}

func TestAssistOffsetCapturedBeforeCall(t *testing.T) {
	doc := exampleDocument(t)
	stub := &stubModel{reply: "2"}
	stub.onCall = func() {
		// The user keeps typing while the request is in flight.
		doc.Cell(1).SetSource("y = 10 + ")
	}
	e := testEngine(t, stub)

	if _, err := e.Assist(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if got := doc.Cell(1).Source(); got != "y = 2" {
		t.Errorf("expected splice against the pre-call text, got %q", got)
	}
}

func TestAssistSentinelSpliced(t *testing.T) {
	e := testEngine(t, &stubModel{reply: NonTextBlock})
	doc := exampleDocument(t)

	before := testutil.ToFloat64(invocationsTotal.WithLabelValues(outcomeSentinel))
	if _, err := e.Assist(context.Background(), doc); err != nil {
		t.Fatalf("sentinel must not be an error: %v", err)
	}
	if got := doc.Cell(1).Source(); got != "y = ERR: got a block type other than text!" {
		t.Errorf("unexpected cell text %q", got)
	}
	if after := testutil.ToFloat64(invocationsTotal.WithLabelValues(outcomeSentinel)); after != before+1 {
		t.Errorf("expected sentinel counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestAssistNoCrossCellMutation(t *testing.T) {
	doc := notebook.NewDocument("n.ipynb", "python", []*notebook.DocCell{
		notebook.NewCell("a", notebook.MarkdownCell, "# Title"),
		notebook.NewCell("b", notebook.CodeCell, "a = 1"),
		notebook.NewCell("c", notebook.CodeCell, "b = "),
		notebook.NewCell("d", notebook.RawCell, "trailing"),
	})
	if err := doc.SetActive(2, notebook.Position{Line: 0, Column: 4}); err != nil {
		t.Fatal(err)
	}
	e := testEngine(t, &stubModel{reply: "a + 1"})

	if _, err := e.Assist(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	want := []string{"# Title", "a = 1", "b = a + 1", "trailing"}
	for i, w := range want {
		if got := doc.Cell(i).Source(); got != w {
			t.Errorf("cell %d: expected %q, got %q", i, w, got)
		}
	}
}

func TestAssistPreconditions(t *testing.T) {
	withActive := exampleDocument(t)
	headless := exampleDocument(t)
	headless.SetHeadless(true)
	noFocus := exampleDocument(t)
	if err := noFocus.SetActive(-1, notebook.Position{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		panel notebook.Panel
	}{
		{"no notebook", nil},
		{"no active cell", noFocus},
		{"no cell collection", &fakePanel{cells: nil, active: withActive.ActiveCell()}},
		{"no editor", headless},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubModel{reply: "never"}
			e := testEngine(t, stub)
			res, err := e.Assist(context.Background(), tt.panel)
			if err != nil {
				t.Fatalf("expected silent no-op, got %v", err)
			}
			if !res.Skipped {
				t.Error("expected Skipped result")
			}
			if stub.callCount() != 0 {
				t.Errorf("expected zero model calls, got %d", stub.callCount())
			}
		})
	}

	for _, doc := range []*notebook.Document{headless, noFocus} {
		if got := doc.Cell(1).Source(); got != "y = " {
			t.Errorf("expected no mutation, got %q", got)
		}
	}
}

func TestAssistModelErrorLeavesCellUnchanged(t *testing.T) {
	boom := errors.New("connection refused")
	e := testEngine(t, &stubModel{err: boom})
	doc := exampleDocument(t)

	res, err := e.Assist(context.Background(), doc)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped model error, got %v", err)
	}
	if res != nil {
		t.Errorf("expected nil result on error, got %+v", res)
	}
	if got := doc.Cell(1).Source(); got != "y = " {
		t.Errorf("expected cell untouched, got %q", got)
	}
}

func TestAssistBusyCellRejected(t *testing.T) {
	stub := &stubModel{
		reply:   "1",
		block:   make(chan struct{}),
		started: make(chan struct{}, 4),
	}
	e := testEngine(t, stub)
	doc := notebook.NewDocument("busy.ipynb", "python", []*notebook.DocCell{
		notebook.NewCell("slow", notebook.CodeCell, "slow"),
		notebook.NewCell("fast", notebook.CodeCell, "fast"),
	})
	if err := doc.SetActive(0, notebook.Position{Line: 0, Column: 4}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Assist(context.Background(), doc)
		done <- err
	}()
	<-stub.started

	before := testutil.ToFloat64(invocationsTotal.WithLabelValues(outcomeBusy))
	_, err := e.Assist(context.Background(), doc)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if !strings.Contains(err.Error(), "running for") {
		t.Errorf("expected busy error to say how long the cell has been running, got %q", err)
	}
	if after := testutil.ToFloat64(invocationsTotal.WithLabelValues(outcomeBusy)); after != before+1 {
		t.Errorf("expected busy counter to increase by 1")
	}
	if stub.callCount() != 1 {
		t.Errorf("expected no model call for the rejected invocation, got %d calls", stub.callCount())
	}

	// Another cell of the same notebook is not blocked.
	other := notebook.NewDocument("busy.ipynb", "python", []*notebook.DocCell{
		doc.Cell(0), doc.Cell(1),
	})
	if err := other.SetActive(1, notebook.Position{Line: 0, Column: 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Assist(context.Background(), other); err != nil {
		t.Fatalf("expected a different cell to proceed, got %v", err)
	}

	close(stub.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := doc.Cell(0).Source(); got != "slow1" {
		t.Errorf("expected first invocation to finish, got %q", got)
	}

	// Released: the same cell can run again.
	if _, err := e.Assist(context.Background(), doc); err != nil {
		t.Fatalf("expected cell to be released, got %v", err)
	}
}

func TestAssistLanguageFallback(t *testing.T) {
	stub := &stubModel{reply: ""}
	e := testEngine(t, stub)
	e.config.Notebook.Language = "scala"

	doc := notebook.NewDocument("nolang.ipynb", "", []*notebook.DocCell{
		notebook.NewCell("a", notebook.CodeCell, "val x = 1"),
	})
	if err := doc.SetActive(0, notebook.Position{}); err != nil {
		t.Fatal(err)
	}
	res, err := e.Assist(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Language != "scala" || !strings.HasPrefix(stub.userTurns[0], "#!scala&jupyter\n") {
		t.Errorf("expected config language fallback, got %q", stub.userTurns[0])
	}
	if !strings.Contains(stub.userTurns[0], "```scala\nval x = 1\n```") {
		t.Errorf("expected scala fence, got %q", stub.userTurns[0])
	}
}

func TestAssistAppliesRequestTimeout(t *testing.T) {
	stub := &stubModel{reply: "1"}
	e := testEngine(t, stub)
	if _, err := e.Assist(context.Background(), exampleDocument(t)); err != nil {
		t.Fatal(err)
	}
	if !stub.hadDeadline {
		t.Error("expected the model call to carry a deadline")
	}
}

// driftingEditor returns a longer buffer on every Source call, as if the user
// typed between reads.
type driftingEditor struct {
	reads []string
	n     int
	set   string
}

func (d *driftingEditor) CursorPosition() notebook.Position { return notebook.Position{Line: 0, Column: 4} }
func (d *driftingEditor) SetSource(text string)             { d.set = text }

func (d *driftingEditor) Source() string {
	s := d.reads[min(d.n, len(d.reads)-1)]
	d.n++
	return s
}

type driftingCell struct{ editor *driftingEditor }

func (c driftingCell) ID() string              { return "d" }
func (c driftingCell) Type() notebook.CellType { return notebook.CodeCell }
func (c driftingCell) Source() string          { return "y = " }
func (c driftingCell) Editor() notebook.Editor { return c.editor }

func TestResolveReadsDraftOnce(t *testing.T) {
	ed := &driftingEditor{reads: []string{"y = ", "#\n#\ny = "}}
	active := driftingCell{editor: ed}
	snap, ok := resolve(&fakePanel{cells: []notebook.Cell{active}, active: active})
	if !ok {
		t.Fatal("expected context to resolve")
	}
	if snap.draft != "y = " || snap.offset != 4 {
		t.Errorf("expected offset against the captured draft, got draft %q offset %d", snap.draft, snap.offset)
	}
	if ed.n != 1 {
		t.Errorf("expected a single buffer read, got %d", ed.n)
	}
}

func TestSharedInflightSpansEngines(t *testing.T) {
	shared := NewInflight(time.Minute)
	t.Cleanup(shared.Close)

	stub := &stubModel{reply: "1", block: make(chan struct{}), started: make(chan struct{}, 4)}
	first := NewEngine(stub, llmcomplete.DefaultConfig(), WithInflight(shared))
	doc := notebook.NewDocument("shared.ipynb", "python", []*notebook.DocCell{
		notebook.NewCell("slow", notebook.CodeCell, "slow"),
	})
	if err := doc.SetActive(0, notebook.Position{Line: 0, Column: 4}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := first.Assist(context.Background(), doc)
		done <- err
	}()
	<-stub.started

	// Rebuilding the engine must not forget the running invocation.
	first.Close()
	second := NewEngine(stub, llmcomplete.DefaultConfig(), WithInflight(shared))
	defer second.Close()
	if _, err := second.Assist(context.Background(), doc); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from the rebuilt engine, got %v", err)
	}
	if stub.callCount() != 1 {
		t.Errorf("expected one model call, got %d", stub.callCount())
	}

	close(stub.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if !shared.Acquire("shared.ipynb#other") {
		t.Error("shared guard should keep working after an engine closes")
	}
}
