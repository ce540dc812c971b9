package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"turnstile/internal/router"
)

// Renderer writes the events of one turn at a time to a terminal.
type Renderer struct {
	out     io.Writer
	styles  *Styles
	md      *glamour.TermRenderer
	verbose bool
}

// RendererOption configures a Renderer.
type RendererOption func(*rendererOptions)

type rendererOptions struct {
	style   string
	width   int
	verbose bool
}

// WithMarkdownStyle selects the glamour style ("dark", "light", "notty").
func WithMarkdownStyle(style string) RendererOption {
	return func(o *rendererOptions) { o.style = style }
}

// WithWordWrap wraps rendered markdown at width columns, 0 disables wrapping.
func WithWordWrap(width int) RendererOption {
	return func(o *rendererOptions) { o.width = width }
}

// WithClassification prints the classification after every turn.
func WithClassification(enabled bool) RendererOption {
	return func(o *rendererOptions) { o.verbose = enabled }
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer, opts ...RendererOption) (*Renderer, error) {
	o := rendererOptions{style: "dark", width: 100}
	for _, opt := range opts {
		opt(&o)
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(o.style),
		glamour.WithWordWrap(o.width),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{out: out, styles: DefaultStyles(), md: md, verbose: o.verbose}, nil
}

// Styles returns the renderer's styles.
func (r *Renderer) Styles() *Styles {
	return r.styles
}

// Render drains events and returns the terminal event. Streamed text is
// written as it arrives; answers that were not streamed, such as command
// output, are rendered as markdown.
func (r *Renderer) Render(events <-chan router.Event) router.Event {
	var (
		last     router.Event
		streamed bool
		midLine  bool
	)
	endLine := func() {
		if midLine {
			fmt.Fprintln(r.out)
			midLine = false
		}
	}

	for ev := range events {
		last = ev
		switch ev.Kind {
		case router.PartialText:
			fmt.Fprint(r.out, ev.Text)
			streamed = true
			midLine = !strings.HasSuffix(ev.Text, "\n")
		case router.ToolActivityEvent:
			endLine()
			r.renderTool(ev.Tool)
		case router.Completed:
			endLine()
			if !streamed {
				r.renderMarkdown(ev.Text)
			}
			if ev.Stalled {
				fmt.Fprintln(r.out, r.styles.FormatWarning("response stalled: "+ev.Diagnostic))
			}
			r.renderClassification(ev)
		case router.Errored:
			endLine()
			code := ""
			msg := ev.Text
			if ev.Err != nil {
				code = string(ev.Err.Code)
				msg = ev.Err.Message
			}
			fmt.Fprintln(r.out, r.styles.FormatError(msg, code))
			r.renderClassification(ev)
		}
	}
	return last
}

func (r *Renderer) renderTool(a *router.ToolActivity) {
	if a == nil {
		return
	}
	switch {
	case a.Phase == router.PhaseStarted:
		fmt.Fprintln(r.out, r.styles.FormatToolStarted(a.Name, a.Args))
	case a.Success:
		fmt.Fprintln(r.out, r.styles.FormatToolSuccess(a.Name, a.Summary, time.Duration(a.DurationMs)*time.Millisecond))
	default:
		msg := a.Summary
		if a.Err != nil {
			msg = a.Err.Message
		}
		fmt.Fprintln(r.out, r.styles.FormatToolError(a.Name, msg))
	}
}

func (r *Renderer) renderMarkdown(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	rendered, err := r.md.Render(text)
	if err != nil {
		fmt.Fprintln(r.out, text)
		return
	}
	fmt.Fprint(r.out, rendered)
}

func (r *Renderer) renderClassification(ev router.Event) {
	if !r.verbose || ev.Classification == nil {
		return
	}
	c := ev.Classification
	fmt.Fprintln(r.out, r.styles.FormatClassification(string(c.Type), c.Method, c.Confidence, string(ev.Path)))
}
