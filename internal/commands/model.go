package commands

import (
	"context"
	"fmt"
	"strings"

	"turnstile/internal/classify"
	"turnstile/internal/client"
)

// ModelCommand shows or switches the current model.
type ModelCommand struct{}

func (c *ModelCommand) Name() string        { return "model" }
func (c *ModelCommand) Description() string { return "Show or switch the model" }
func (c *ModelCommand) Usage() string {
	return `/model          - Show the current model
/model <name>   - Switch to another model, e.g. /model qwen2.5-coder:7b`
}

func (c *ModelCommand) Execute(ctx context.Context, args []string, env Env) (Result, error) {
	info := env.Info()

	if len(args) == 0 {
		profile := client.GetModelProfile(info.Model)
		tools := "native"
		if !profile.SupportsTools {
			tools = "text fallback"
		}
		return Result{
			Output: fmt.Sprintf("Provider: %s\nModel:    %s\nFamily:   %s\nTools:    %s", info.Provider, info.Model, profile.Family, tools),
			Data: map[string]any{
				"provider":       info.Provider,
				"model":          info.Model,
				"family":         profile.Family,
				"supports_tools": profile.SupportsTools,
			},
		}, nil
	}

	newModel := strings.TrimSpace(args[0])
	if newModel == info.Model {
		return Result{Output: fmt.Sprintf("Already using %s.", newModel), Data: map[string]any{"model": newModel}}, nil
	}
	if err := env.SetModel(ctx, newModel); err != nil {
		return Result{}, fmt.Errorf("failed to switch model: %w", err)
	}
	return Result{
		Output: fmt.Sprintf("Switched model: %s -> %s", info.Model, newModel),
		Data:   map[string]any{"model": newModel, "previous": info.Model},
	}, nil
}

// SchemasCommand lists the output schemas of the model classifier.
type SchemasCommand struct{}

func (c *SchemasCommand) Name() string        { return "schemas" }
func (c *SchemasCommand) Description() string { return "List classifier output schemas" }
func (c *SchemasCommand) Usage() string       { return "/schemas" }

func (c *SchemasCommand) Execute(ctx context.Context, args []string, env Env) (Result, error) {
	current := env.Info().Schema
	if current == "" {
		current = classify.DefaultSchema
	}

	var sb strings.Builder
	sb.WriteString("Classifier schemas:\n")
	names := classify.Schemas()
	for _, name := range names {
		s, err := classify.LookupSchema(name)
		if err != nil {
			return Result{}, err
		}
		marker := "  "
		if name == current {
			marker = "> "
		}
		fmt.Fprintf(&sb, "%s%-14s %s\n", marker, name, s.Description)
	}

	return Result{
		Output: strings.TrimRight(sb.String(), "\n"),
		Data:   map[string]any{"available_schemas": names, "default_schema": classify.DefaultSchema, "current": current},
	}, nil
}
