package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"turnstile/internal/session"
	"turnstile/internal/tools"
)

// ErrUnknownCommand is returned by Execute for names nothing is registered under.
var ErrUnknownCommand = errors.New("unknown command")

// Result is the single structured outcome of a command.
type Result struct {
	// Output is the user-facing text.
	Output string
	// Data carries the same information for API clients.
	Data map[string]any
}

// Command represents a slash command.
type Command interface {
	Name() string
	Description() string
	Usage() string
	Execute(ctx context.Context, args []string, env Env) (Result, error)
}

// Info describes the running configuration for status output.
type Info struct {
	Version        string
	Provider       string
	Model          string
	ClassifierMode string
	Schema         string
	MaxToolDepth   int
}

// Env is what commands may see and change about the current session.
type Env interface {
	SessionID() string
	Info() Info
	History(ctx context.Context) ([]session.Turn, error)
	ClearHistory(ctx context.Context) error
	Tools() []tools.Spec
	// SetModel switches the backend model for subsequent turns.
	SetModel(ctx context.Context, model string) error
}

// Handler manages slash commands.
type Handler struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewHandler creates a new command handler with built-in commands.
func NewHandler() *Handler {
	h := &Handler{
		commands: make(map[string]Command),
	}

	h.Register(&HelpCommand{handler: h})
	h.Register(&ClearCommand{})
	h.Register(&StatusCommand{})
	h.Register(&ToolsCommand{})
	h.Register(&SchemasCommand{})
	h.Register(&ModelCommand{})

	return h
}

// Register adds a command to the handler, replacing any command of the
// same name.
func (h *Handler) Register(cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[cmd.Name()] = cmd
}

// Parse splits input into a command name and its arguments. The prefix is
// removed from the name; input without the prefix yields an empty name.
func Parse(input, prefix string) (string, []string) {
	input = strings.TrimSpace(input)
	if prefix == "" || !strings.HasPrefix(input, prefix) {
		return "", nil
	}

	parts := strings.Fields(strings.TrimPrefix(input, prefix))
	if len(parts) == 0 {
		return "", nil
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return strings.ToLower(parts[0]), args
}

// Execute runs a command by name.
func (h *Handler) Execute(ctx context.Context, name string, args []string, env Env) (Result, error) {
	cmd, exists := h.GetCommand(name)
	if !exists {
		return Result{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
	return cmd.Execute(ctx, args, env)
}

// ListCommands returns all registered commands sorted by name.
func (h *Handler) ListCommands() []Command {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cmds := make([]Command, 0, len(h.commands))
	for _, cmd := range h.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })
	return cmds
}

// GetCommand returns a command by name.
func (h *Handler) GetCommand(name string) (Command, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cmd, exists := h.commands[name]
	return cmd, exists
}
