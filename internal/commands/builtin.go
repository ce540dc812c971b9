package commands

import (
	"context"
	"fmt"
	"strings"
)

// HelpCommand shows help for commands.
type HelpCommand struct {
	handler *Handler
}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Show help for commands" }
func (c *HelpCommand) Usage() string       { return "/help [command]" }

func (c *HelpCommand) Execute(ctx context.Context, args []string, env Env) (Result, error) {
	if len(args) > 0 {
		name := strings.TrimPrefix(args[0], "/")
		cmd, exists := c.handler.GetCommand(name)
		if !exists {
			return Result{Output: fmt.Sprintf("Unknown command: /%s\nUse /help to see all commands.", name)}, nil
		}
		return Result{
			Output: fmt.Sprintf("/%s - %s\n\nUsage:\n%s", cmd.Name(), cmd.Description(), cmd.Usage()),
			Data:   map[string]any{"name": cmd.Name(), "description": cmd.Description(), "usage": cmd.Usage()},
		}, nil
	}

	cmds := c.handler.ListCommands()
	width := 0
	for _, cmd := range cmds {
		width = max(width, len(cmd.Name())+1)
	}

	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	names := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		fmt.Fprintf(&sb, "  %-*s  %s\n", width, "/"+cmd.Name(), cmd.Description())
		names = append(names, cmd.Name())
	}
	sb.WriteString("\nUse /help <command> for details. Anything else is sent to the model.")

	return Result{Output: sb.String(), Data: map[string]any{"commands": names}}, nil
}

// ClearCommand clears the conversation history.
type ClearCommand struct{}

func (c *ClearCommand) Name() string        { return "clear" }
func (c *ClearCommand) Description() string { return "Clear conversation history" }
func (c *ClearCommand) Usage() string       { return "/clear" }

func (c *ClearCommand) Execute(ctx context.Context, args []string, env Env) (Result, error) {
	if err := env.ClearHistory(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to clear history: %w", err)
	}
	return Result{Output: "Conversation cleared.", Data: map[string]any{"cleared": true}}, nil
}

// StatusCommand shows the session and backend status.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Show session, backend and classifier status" }
func (c *StatusCommand) Usage() string       { return "/status" }

func (c *StatusCommand) Execute(ctx context.Context, args []string, env Env) (Result, error) {
	history, err := env.History(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load history: %w", err)
	}
	info := env.Info()

	mode := info.ClassifierMode
	if mode == "" {
		mode = "rules"
	}
	if info.Schema != "" && mode == "model" {
		mode = fmt.Sprintf("%s (schema %s)", mode, info.Schema)
	}

	var sb strings.Builder
	if info.Version != "" {
		fmt.Fprintf(&sb, "Version:    %s\n", info.Version)
	}
	fmt.Fprintf(&sb, "Session:    %s\n", env.SessionID())
	fmt.Fprintf(&sb, "Backend:    %s\n", info.Provider)
	fmt.Fprintf(&sb, "Model:      %s\n", info.Model)
	fmt.Fprintf(&sb, "Classifier: %s\n", mode)
	fmt.Fprintf(&sb, "Tools:      %d (max depth %d)\n", len(env.Tools()), info.MaxToolDepth)
	fmt.Fprintf(&sb, "History:    %d turns", len(history))

	return Result{
		Output: sb.String(),
		Data: map[string]any{
			"session_id":      env.SessionID(),
			"provider":        info.Provider,
			"model":           info.Model,
			"classifier_mode": mode,
			"tools":           len(env.Tools()),
			"history_turns":   len(history),
		},
	}, nil
}

// ToolsCommand lists the registered tools.
type ToolsCommand struct{}

func (c *ToolsCommand) Name() string        { return "tools" }
func (c *ToolsCommand) Description() string { return "List available tools" }
func (c *ToolsCommand) Usage() string       { return "/tools" }

func (c *ToolsCommand) Execute(ctx context.Context, args []string, env Env) (Result, error) {
	specs := env.Tools()
	if len(specs) == 0 {
		return Result{Output: "No tools registered.", Data: map[string]any{"tools": []string{}}}, nil
	}

	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		fmt.Fprintf(&sb, "  %s\n      %s\n", spec.Name, spec.Description)
		if len(spec.Keywords) > 0 {
			fmt.Fprintf(&sb, "      triggers: %s\n", strings.Join(spec.Keywords, ", "))
		}
		names = append(names, spec.Name)
	}
	return Result{Output: strings.TrimRight(sb.String(), "\n"), Data: map[string]any{"tools": names}}, nil
}
