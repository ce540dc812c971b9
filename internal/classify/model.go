package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"turnstile/internal/client"
	"turnstile/internal/logging"
	"turnstile/internal/session"
	"turnstile/internal/stream"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"
)

// Generator starts a streaming generation. *stream.Pipeline satisfies it.
type Generator interface {
	Generate(ctx context.Context, req client.Request) *stream.Generation
}

var errNoClassification = errors.New("model did not call " + FunctionName)

// Model asks a language model to classify the input through a function
// call. Commands are still recognised by prefix, and any failure falls back
// to the rule classifier.
type Model struct {
	gen         Generator
	fallback    *Rules
	schema      Schema
	temperature *float32
	history     int
}

// ModelOption configures a Model.
type ModelOption func(*Model) error

// WithSchema selects the output schema. An empty name keeps the default.
func WithSchema(name string) ModelOption {
	return func(m *Model) error {
		if name == "" {
			return nil
		}
		s, err := LookupSchema(name)
		if err != nil {
			return err
		}
		m.schema = s
		return nil
	}
}

// WithTemperature overrides the backend temperature for classification.
func WithTemperature(t float32) ModelOption {
	return func(m *Model) error {
		m.temperature = &t
		return nil
	}
}

// NewModel creates a model classifier. fallback may be nil, in which case
// the default rules are used.
func NewModel(gen Generator, fallback *Rules, opts ...ModelOption) (*Model, error) {
	if fallback == nil {
		fallback = NewRules(DefaultConfig())
	}
	m := &Model{
		gen:      gen,
		fallback: fallback,
		schema:   schemas[DefaultSchema],
		history:  3,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Schema returns the configured schema name.
func (m *Model) Schema() string {
	return m.schema.Name
}

// Classify implements Classifier.
func (m *Model) Classify(ctx context.Context, input string, history []session.Turn) Result {
	if prefix := m.fallback.CommandPrefix(); strings.HasPrefix(strings.TrimSpace(input), prefix) {
		return m.fallback.Classify(ctx, input, history)
	}

	res, err := m.Analyze(ctx, input, history)
	if err != nil {
		logging.Warn("model classification failed, using rules",
			"schema", m.schema.Name,
			"error", err)
		res = m.fallback.Classify(ctx, input, history)
		res.Method = MethodFallback
	}
	return res
}

// Analyze runs model classification only and reports failures instead of
// falling back.
func (m *Model) Analyze(ctx context.Context, input string, history []session.Turn) (Result, error) {
	req := client.Request{
		Messages:    []*genai.Content{genai.NewContentFromText(m.prompt(input, history), genai.RoleUser)},
		Tools:       []*genai.FunctionDeclaration{m.schema.Declaration()},
		Temperature: m.temperature,
	}

	out := m.gen.Generate(ctx, req).Wait()
	if out.Status != stream.Completed {
		if out.Err != nil {
			return Result{}, out.Err
		}
		return Result{}, fmt.Errorf("classification generation %s", out.Status)
	}

	for _, call := range out.Calls {
		if call.Name == FunctionName {
			return m.parse(call.Args)
		}
	}
	return Result{}, errNoClassification
}

func (m *Model) parse(args map[string]any) (Result, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s arguments: %w", FunctionName, err)
	}
	doc := gjson.ParseBytes(raw)

	var typ Type
	switch strings.ToLower(strings.TrimSpace(doc.Get("type").String())) {
	case "prompt":
		typ = Prompt
	case "workflow":
		typ = Workflow
	default:
		return Result{}, fmt.Errorf("%s returned type %q", FunctionName, doc.Get("type").String())
	}

	res := Result{
		Type:                 typ,
		Confidence:           coerceConfidence(doc.Get("confidence")),
		Method:               "model:" + m.schema.Name,
		Reasoning:            doc.Get("reasoning").String(),
		ComplexityScore:      int(doc.Get("complexity_score").Int()),
		TaskSteps:            int(doc.Get("task_steps").Int()),
		ConversationContext:  doc.Get("conversation_context").String(),
		StepCount:            int(doc.Get("step_count").Int()),
		RequiresCoordination: doc.Get("requires_coordination").Bool(),
	}
	for _, ind := range doc.Get("indicators").Array() {
		res.Indicators = append(res.Indicators, ind.String())
	}

	res.MatchedSignal = res.Reasoning
	if res.MatchedSignal == "" {
		res.MatchedSignal = fmt.Sprintf("model classified as %s", typ)
	}
	return res, nil
}

// coerceConfidence accepts numbers and numeric strings; anything else is 0.5.
func coerceConfidence(v gjson.Result) float64 {
	c := 0.5
	switch v.Type {
	case gjson.Number:
		c = v.Float()
	case gjson.String:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
			c = f
		}
	}
	if math.IsNaN(c) {
		return 0.5
	}
	return math.Min(1, math.Max(0, c))
}

func (m *Model) prompt(input string, history []session.Turn) string {
	var b strings.Builder
	b.WriteString(`You are a text classifier. Classify the input below as either "prompt" or "workflow".

Input to classify: "`)
	b.WriteString(input)
	b.WriteString(`"

Rules:
- prompt: single-step requests, questions, greetings and simple tasks that can be answered directly.
  Examples: "hi", "what is recursion?", "write a function", "explain this concept"
- workflow: multi-step tasks that need coordination, orchestration or sequential operations.
  Examples: "create a new project with tests and documentation", "fix bugs and deploy", "analyze the codebase and suggest improvements"

Indicators:
- several actions joined by "and", "then", "also", "with", "plus"
- file operations such as create, update or fix combined with a file reference
- testing requirements such as "with tests", "run tests", "verify"
- coordination across several systems, tools or steps
`)

	if recent := lastUserTurns(history, m.history); len(recent) > 0 {
		b.WriteString("\nRecent user messages, oldest first:\n")
		for _, t := range recent {
			fmt.Fprintf(&b, "- %q\n", t)
		}
	}

	if m.schema.Extra != "" {
		b.WriteString("\nAlso provide:\n")
		b.WriteString(m.schema.Extra)
		b.WriteString("\n")
	}

	b.WriteString(`
Call the ` + FunctionName + ` function with your analysis and a confidence between 0.0 and 1.0.
When in doubt prefer "prompt"; use "workflow" only for clearly multi-step tasks.`)
	return b.String()
}

func lastUserTurns(history []session.Turn, n int) []string {
	var out []string
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].Role == session.RoleUser && history[i].Text != "" {
			out = append(out, history[i].Text)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
