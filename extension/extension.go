// Package extension wires the completion engine into a notebook host: it
// loads the credential from the host's settings, builds the model client
// once, and registers the completion command, its key binding and a palette
// entry.
package extension

import (
	"context"
	"fmt"
	"log/slog"

	llmcomplete "github.com/pb1729/llm-complete"
	"github.com/pb1729/llm-complete/generate"
	"github.com/pb1729/llm-complete/notebook"
)

// Identifiers registered with the host.
const (
	PluginID         = "llm_complete:plugin"
	CommandID        = "llm_complete:assist"
	CommandLabel     = "Query LLM"
	CommandKeys      = "Ctrl Shift Enter"
	NotebookSelector = ".jp-Notebook"
	PaletteCategory  = "LLM Complete"

	// APIKeyField is the settings field holding the credential.
	APIKeyField = "api_key"
)

// Command is a host command.
type Command struct {
	Label   string
	Execute func(ctx context.Context) error
}

// KeyBinding binds keys to a command within a UI selector.
type KeyBinding struct {
	Command  string
	Keys     []string
	Selector string
}

// PaletteItem exposes a command in the command palette.
type PaletteItem struct {
	Command  string
	Category string
}

// CommandRegistry registers commands and key bindings with the host.
type CommandRegistry interface {
	AddCommand(id string, cmd Command) error
	AddKeyBinding(kb KeyBinding) error
}

// SettingRegistry loads plugin settings from the host.
type SettingRegistry interface {
	Load(ctx context.Context, pluginID string) (*Settings, error)
}

// Palette is the host command palette.
type Palette interface {
	AddItem(item PaletteItem)
}

// Tracker reports the notebook panel that currently has focus.
type Tracker interface {
	// CurrentNotebook returns nil when no notebook is open.
	CurrentNotebook(ctx context.Context) notebook.Panel
}

// Notifier surfaces failures to the user.
type Notifier interface {
	Notify(ctx context.Context, level slog.Level, msg string)
}

// Settings is the composite (defaults merged with user values) settings
// object of one plugin.
type Settings struct {
	Composite map[string]any
}

// String returns a string field, or "" when absent or not a string.
func (s *Settings) String(key string) string {
	if s == nil {
		return ""
	}
	v, _ := s.Composite[key].(string)
	return v
}

type options struct {
	config   *llmcomplete.Config
	model    generate.Model
	notifier Notifier
	inflight *generate.Inflight
}

// Option configures Activate.
type Option func(*options)

// WithConfig uses cfg instead of loading the config file.
func WithConfig(cfg *llmcomplete.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithModel replaces the Messages API client.
func WithModel(m generate.Model) Option {
	return func(o *options) { o.model = m }
}

// WithInflight shares a busy-cell guard that outlives this extension.
func WithInflight(f *generate.Inflight) Option {
	return func(o *options) { o.inflight = f }
}

// WithNotifier sets where failures are reported. Defaults to the log.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// Extension is an activated completion extension.
type Extension struct {
	engine   *generate.Engine
	tracker  Tracker
	notifier Notifier
	apiKey   string
}

// Activate registers the completion command with the host.
func Activate(ctx context.Context, commands CommandRegistry, settings SettingRegistry, palette Palette, tracker Tracker, opts ...Option) (*Extension, error) {
	slog.Info("activating extension", "plugin", PluginID)

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.config
	if cfg == nil {
		var err error
		cfg, err = llmcomplete.LoadConfig()
		if err != nil {
			slog.Warn("failed to load config, using defaults", "error", err)
			cfg = llmcomplete.DefaultConfig()
		}
	}
	if o.notifier == nil {
		o.notifier = LogNotifier{}
	}

	var fromSettings string
	s, err := settings.Load(ctx, PluginID)
	if err != nil {
		slog.Error("failed to load settings", "plugin", PluginID, "error", err)
	} else {
		fromSettings = s.String(APIKeyField)
	}
	apiKey := llmcomplete.ResolveAPIKey(fromSettings)
	if apiKey == "" {
		slog.Warn("api key not configured; model calls will be unauthenticated")
	}

	model := o.model
	if model == nil {
		model = generate.NewGenerator(generate.GeneratorOptions{
			BaseURL:    llmcomplete.ResolveBaseURL(cfg),
			APIKey:     apiKey,
			Model:      llmcomplete.ResolveModel(cfg),
			MaxTokens:  cfg.Generation.MaxTokens,
			MaxRetries: llmcomplete.MaxRetries(cfg),
			Timeout:    llmcomplete.RequestTimeout(cfg),
		})
	}

	var engineOpts []generate.EngineOption
	if o.inflight != nil {
		engineOpts = append(engineOpts, generate.WithInflight(o.inflight))
	}

	x := &Extension{
		engine:   generate.NewEngine(model, cfg, engineOpts...),
		tracker:  tracker,
		notifier: o.notifier,
		apiKey:   apiKey,
	}

	if err := commands.AddCommand(CommandID, Command{Label: CommandLabel, Execute: x.execute}); err != nil {
		x.Close()
		return nil, fmt.Errorf("register command: %w", err)
	}
	if err := commands.AddKeyBinding(KeyBinding{
		Command:  CommandID,
		Keys:     []string{CommandKeys},
		Selector: NotebookSelector,
	}); err != nil {
		x.Close()
		return nil, fmt.Errorf("register key binding: %w", err)
	}
	palette.AddItem(PaletteItem{Command: CommandID, Category: PaletteCategory})

	slog.Info("extension activated", "plugin", PluginID, "command", CommandID)
	return x, nil
}

// Authenticated reports whether a credential was found at activation.
func (x *Extension) Authenticated() bool {
	return x.apiKey != ""
}

// Assist runs the completion against the tracked notebook and returns the
// invocation details.
func (x *Extension) Assist(ctx context.Context) (*generate.Result, error) {
	return x.engine.Assist(ctx, x.tracker.CurrentNotebook(ctx))
}

func (x *Extension) execute(ctx context.Context) error {
	if _, err := x.Assist(ctx); err != nil {
		slog.Error("completion failed", "command", CommandID, "error", err)
		x.notifier.Notify(ctx, slog.LevelError, "LLM completion failed: "+err.Error())
		return err
	}
	return nil
}

// Close releases the engine.
func (x *Extension) Close() {
	x.engine.Close()
}

// LogNotifier reports through the default logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, level slog.Level, msg string) {
	slog.Log(ctx, level, msg, "source", PluginID)
}
