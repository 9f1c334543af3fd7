// Package generate orchestrates model inference to complete notebook cells.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	llmcomplete "github.com/pb1729/llm-complete"
	defaults "github.com/pb1729/llm-complete/default"
	"github.com/pb1729/llm-complete/notebook"
	"github.com/pb1729/llm-complete/redact"
)

// ErrBusy is returned when a completion is already running for the cell.
var ErrBusy = errors.New("a completion is already running for this cell")

// inflightSlack is added to the request timeout to size in-flight entries.
const inflightSlack = 30 * time.Second

// Engine orchestrates prompt assembly, model inference and the cell splice.
type Engine struct {
	model        Model
	config       *llmcomplete.Config
	customPrompt string // loaded custom prompt template (empty = use default)
	inflight     *Inflight
	ownsInflight bool
}

// EngineOption configures NewEngine.
type EngineOption func(*Engine)

// WithInflight shares f between engines, so a busy cell stays busy across
// engine rebuilds. The caller closes f.
func WithInflight(f *Inflight) EngineOption {
	return func(e *Engine) {
		e.inflight = f
		e.ownsInflight = false
	}
}

// InflightTTL sizes in-flight entries for cfg: the request timeout (or ten
// minutes when unbounded) plus slack.
func InflightTTL(cfg *llmcomplete.Config) time.Duration {
	ttl := llmcomplete.RequestTimeout(cfg)
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return ttl + inflightSlack
}

// NewEngine creates a completion engine around model.
func NewEngine(model Model, cfg *llmcomplete.Config, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = llmcomplete.DefaultConfig()
	}

	customPrompt := loadCustomPrompt()
	if customPrompt == "" {
		slog.Debug("no custom prompt, using built-in default")
	}

	e := &Engine{
		model:        model,
		config:       cfg,
		customPrompt: customPrompt,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.inflight == nil {
		e.inflight = NewInflight(InflightTTL(cfg))
		e.ownsInflight = true
	}
	return e
}

// loadCustomPrompt loads a custom prompt template.
// Returns empty string if no custom prompt exists.
func loadCustomPrompt() string {
	promptPath := llmcomplete.PromptPath()
	data, err := os.ReadFile(promptPath)
	if err != nil {
		return ""
	}
	slog.Info("loaded custom prompt", "path", promptPath)
	return string(data)
}

// Close releases resources held by the engine. A shared in-flight guard is
// left running.
func (e *Engine) Close() {
	if e.inflight != nil && e.ownsInflight {
		e.inflight.Close()
	}
}

// Result describes one completion invocation.
type Result struct {
	Invocation string
	// Skipped is set when the notebook state did not allow a completion.
	Skipped    bool
	CellID     string
	Language   string
	Prompt     string
	Draft      string
	Offset     int
	Completion string
	// Source is the text written back into the active cell.
	Source   string
	Duration time.Duration
}

// Assist runs one completion against panel: it captures the active cell
// and cursor, sends the notebook to the model and splices the reply into the
// active cell at the captured offset. A panel that cannot be completed is a
// silent no-op (Result.Skipped). Model failures leave the cell unchanged.
func (e *Engine) Assist(ctx context.Context, panel notebook.Panel) (*Result, error) {
	snap, ok := resolve(panel)
	if !ok {
		slog.Debug("completion skipped: no active notebook cell")
		recordOutcome(outcomeSkipped)
		return &Result{Skipped: true}, nil
	}

	key := snap.key()
	if !e.inflight.Acquire(key) {
		recordOutcome(outcomeBusy)
		if since, ok := e.inflight.Since(key); ok {
			return nil, fmt.Errorf("cell %s (running for %s): %w", key, time.Since(since).Round(time.Millisecond), ErrBusy)
		}
		return nil, fmt.Errorf("cell %s: %w", key, ErrBusy)
	}
	defer e.inflight.Release(key)

	res := &Result{
		Invocation: uuid.NewString(),
		CellID:     snap.cellID,
		Language:   e.language(snap),
		Draft:      snap.draft,
		Offset:     snap.offset,
	}
	log := slog.With("invocation", res.Invocation, "notebook", snap.path, "cell", snap.cellID)

	cells := serializeCells(snap.cells, res.Language, e.config.Notebook.RedactShell)
	res.Prompt = e.buildPrompt(res.Language, cells)
	log.Debug("prompt", "user", res.Prompt, "assistant", res.Draft, "offset", res.Offset)

	if timeout := llmcomplete.RequestTimeout(e.config); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := e.model.Generate(ctx, res.Prompt, res.Draft)
	res.Duration = time.Since(start)
	observeModel(res.Duration, len(res.Prompt))
	if err != nil {
		recordOutcome(outcomeError)
		log.Error("generation error", "error", err, "duration", res.Duration)
		return nil, fmt.Errorf("query model: %w", err)
	}

	if completion == NonTextBlock {
		recordOutcome(outcomeSentinel)
		log.Warn("model returned a non-text block")
	} else {
		recordOutcome(outcomeOK)
	}

	res.Completion = completion
	res.Source = notebook.Splice(snap.draft, snap.offset, completion)
	snap.editor.SetSource(res.Source)

	log.Debug("completion", "text", completion, "duration", res.Duration)
	return res, nil
}

// language returns the fence annotation for code cells.
func (e *Engine) language(snap *snapshot) string {
	if snap.language != "" {
		return snap.language
	}
	return e.config.Notebook.Language
}

// serializeCells renders cells in document order, fencing code cells, with
// one blank line between cells.
func serializeCells(cells []cellText, language string, redactShell bool) string {
	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		src := c.source
		if c.typ == notebook.CodeCell {
			if redactShell {
				src = redact.Cell(src)
			}
			src = "```" + language + "\n" + src + "\n```"
		}
		parts = append(parts, src)
	}
	return strings.Join(parts, "\n\n")
}

// PromptData holds the data passed to the prompt template.
type PromptData struct {
	Language string
	Cells    string
}

// buildPrompt renders the user turn from the template.
func (e *Engine) buildPrompt(language, cells string) string {
	tmplSrc := e.customPrompt
	if tmplSrc == "" {
		tmplSrc = defaults.DefaultPrompt
	}

	data := PromptData{Language: language, Cells: cells}

	t, err := template.New("prompt").Parse(tmplSrc)
	if err != nil {
		slog.Warn("failed to parse prompt template, falling back to default", "error", err)
		t = template.Must(template.New("prompt").Parse(defaults.DefaultPrompt))
	}

	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		slog.Warn("failed to execute prompt template, falling back to default", "error", err)
		t = template.Must(template.New("prompt").Parse(defaults.DefaultPrompt))
		buf.Reset()
		t.Execute(&buf, data)
	}

	return strings.TrimSpace(buf.String())
}
