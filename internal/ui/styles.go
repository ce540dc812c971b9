// Package ui renders router events for a terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Colors for the terminal theme.
var (
	ColorPrimary   = lipgloss.Color("#A78BFA") // Lavender 400
	ColorSecondary = lipgloss.Color("#22D3EE") // Cyan 400
	ColorSuccess   = lipgloss.Color("#059669") // Emerald 600
	ColorWarning   = lipgloss.Color("#D97706") // Amber 600
	ColorError     = lipgloss.Color("#DC2626") // Red 600
	ColorMuted     = lipgloss.Color("#9CA3AF") // Gray 400
	ColorDim       = lipgloss.Color("#6B7280") // Gray 500
	ColorInfo      = lipgloss.Color("#2DD4BF") // Teal 400
)

// ToolIcons maps tool names to icons.
var ToolIcons = map[string]string{
	"read_file":     "📖",
	"write_file":    "📝",
	"generate_file": "✨",
	"default":       "⚙️",
}

// GetToolIcon returns the icon for a given tool name.
func GetToolIcon(toolName string) string {
	normalized := strings.ToLower(strings.ReplaceAll(toolName, "-", "_"))
	if icon, ok := ToolIcons[normalized]; ok {
		return icon
	}
	return ToolIcons["default"]
}

// Styles holds the lipgloss styles used by the renderer.
type Styles struct {
	Prompt     lipgloss.Style
	ToolCall   lipgloss.Style
	ToolOK     lipgloss.Style
	ToolFailed lipgloss.Style
	Summary    lipgloss.Style
	Dim        lipgloss.Style
	Warning    lipgloss.Style
	Error      lipgloss.Style
	ErrorText  lipgloss.Style
	Badge      lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() *Styles {
	return &Styles{
		Prompt:     lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true),
		ToolCall:   lipgloss.NewStyle().Foreground(ColorInfo),
		ToolOK:     lipgloss.NewStyle().Foreground(ColorSuccess),
		ToolFailed: lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		Summary:    lipgloss.NewStyle().Foreground(ColorMuted),
		Dim:        lipgloss.NewStyle().Foreground(ColorDim),
		Warning:    lipgloss.NewStyle().Foreground(ColorWarning).Bold(true),
		Error:      lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		ErrorText:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FECACA")),
		Badge:      lipgloss.NewStyle().Foreground(ColorPrimary),
	}
}

// PromptString is the REPL prompt.
func (s *Styles) PromptString() string {
	return s.Prompt.Render("❯ ")
}

// FormatToolStarted formats a tool that has started running.
// Format: ◦ icon name(args)
func (s *Styles) FormatToolStarted(name string, args map[string]any) string {
	line := s.Dim.Render("◦ ") + s.ToolCall.Render(GetToolIcon(name)+" "+name)
	if summary := formatArgsSummary(args); summary != "" {
		line += s.Dim.Render("(" + summary + ")")
	}
	return line
}

// FormatToolSuccess formats a finished tool.
// Format: ✓ icon name • summary • duration
func (s *Styles) FormatToolSuccess(name, summary string, duration time.Duration) string {
	var b strings.Builder
	b.WriteString(s.ToolOK.Render("✓ " + GetToolIcon(name) + " " + name))
	if summary != "" {
		b.WriteString(s.Dim.Render(" • "))
		b.WriteString(s.Summary.Render(summary))
	}
	b.WriteString(s.Dim.Render(" • "))
	b.WriteString(s.durationStyle(duration).Render(formatDuration(duration)))
	return b.String()
}

// FormatToolError formats a failed tool.
func (s *Styles) FormatToolError(name, msg string) string {
	return s.ToolFailed.Render("✗ " + GetToolIcon(name) + " " + name + ": " + msg)
}

// FormatError formats a turn error with its code.
func (s *Styles) FormatError(msg, code string) string {
	out := s.Error.Render("✗ Error: ") + s.ErrorText.Render(msg)
	if code != "" {
		out += "\n" + s.Dim.Render("     ("+code+")")
	}
	return out
}

// FormatWarning formats a one-line warning.
func (s *Styles) FormatWarning(msg string) string {
	return s.Warning.Render("⚠ " + msg)
}

// FormatClassification formats the classification badge shown after a turn.
func (s *Styles) FormatClassification(kind, method string, confidence float64, path string) string {
	return s.Badge.Render(fmt.Sprintf("[%s %.2f via %s → %s]", kind, confidence, method, path))
}

func (s *Styles) durationStyle(d time.Duration) lipgloss.Style {
	if d > 5*time.Second {
		return lipgloss.NewStyle().Foreground(ColorWarning)
	}
	return s.Dim
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

const maxArgLen = 40

// formatArgsSummary creates a brief summary of tool arguments. Paths come
// first, long values are truncated.
func formatArgsSummary(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	if p, ok := args["file_path"].(string); ok && p != "" {
		return truncate(p, maxArgLen)
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	if len(keys) == 1 {
		return keys[0] + "=" + truncate(fmt.Sprint(args[keys[0]]), maxArgLen)
	}
	return fmt.Sprintf("%d args", len(keys))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
