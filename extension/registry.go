package extension

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownCommand is returned when executing a command that was never added.
var ErrUnknownCommand = errors.New("unknown command")

// Registry is an in-process command registry for hosts without one of their own.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	bindings []KeyBinding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// AddCommand registers cmd under id.
func (r *Registry) AddCommand(id string, cmd Command) error {
	if cmd.Execute == nil {
		return fmt.Errorf("command %q has no execute function", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[id]; ok {
		return fmt.Errorf("command %q already registered", id)
	}
	r.commands[id] = cmd
	return nil
}

// AddKeyBinding registers kb. The command must already exist.
func (r *Registry) AddKeyBinding(kb KeyBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[kb.Command]; !ok {
		return fmt.Errorf("key binding for %q: %w", kb.Command, ErrUnknownCommand)
	}
	r.bindings = append(r.bindings, kb)
	return nil
}

// Execute runs the command registered under id.
func (r *Registry) Execute(ctx context.Context, id string) error {
	r.mu.RLock()
	cmd, ok := r.commands[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownCommand)
	}
	return cmd.Execute(ctx)
}

// Label returns the label of a registered command.
func (r *Registry) Label(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd.Label, ok
}

// KeyBindings returns the registered key bindings.
func (r *Registry) KeyBindings() []KeyBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]KeyBinding(nil), r.bindings...)
}

// MemoryPalette collects palette items.
type MemoryPalette struct {
	mu    sync.Mutex
	items []PaletteItem
}

func (p *MemoryPalette) AddItem(item PaletteItem) {
	p.mu.Lock()
	p.items = append(p.items, item)
	p.mu.Unlock()
}

// Items returns the collected palette items.
func (p *MemoryPalette) Items() []PaletteItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaletteItem(nil), p.items...)
}
