package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"turnstile/internal/client/clienttest"
	"turnstile/internal/config"
	"turnstile/internal/session"
	"turnstile/internal/stream"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestRules_CommandPrefix(t *testing.T) {
	r := NewRules(DefaultConfig())

	res := r.Classify(context.Background(), "/help", nil)
	assert.Equal(t, Command, res.Type)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, MethodRules, res.Method)
	assert.Contains(t, res.MatchedSignal, `"/"`)

	res = r.Classify(context.Background(), "   /status  ", nil)
	assert.Equal(t, Command, res.Type)

	cfg := DefaultConfig()
	cfg.CommandPrefix = "!"
	res = NewRules(cfg).Classify(context.Background(), "/help", nil)
	assert.NotEqual(t, Command, res.Type)
	res = NewRules(cfg).Classify(context.Background(), "!help", nil)
	assert.Equal(t, Command, res.Type)
}

func TestRules_Scenarios(t *testing.T) {
	r := NewRules(DefaultConfig())

	tests := []struct {
		name       string
		input      string
		want       Type
		confidence float64
		signal     string
	}{
		{name: "question", input: "what is recursion?", want: Prompt, confidence: 0.8, signal: "prompt indicators: what, ?"},
		{name: "file write", input: "write to file foo.py a quicksort function", want: Workflow, confidence: 0.95, signal: "write to"},
		{name: "empty", input: "", want: Prompt, confidence: 0.5, signal: "no indicators matched"},
		{name: "no indicators", input: "hello there", want: Prompt, confidence: 0.5, signal: "no indicators matched"},
		{name: "tie", input: "how do I fix this", want: Prompt, confidence: 0.5, signal: "tie between prompt and workflow indicators"},
		{name: "single workflow word", input: "deploy the staging stack", want: Workflow, confidence: 0.65, signal: "deploy"},
		{name: "repeated indicator counts once", input: "run run run", want: Workflow, confidence: 0.65},
		{name: "case insensitive", input: "EXPLAIN closures", want: Prompt, confidence: 0.65},
		{name: "word boundary", input: "the runway was wet", want: Prompt, confidence: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Classify(context.Background(), tt.input, nil)
			assert.Equal(t, tt.want, res.Type)
			assert.InDelta(t, tt.confidence, res.Confidence, 1e-9)
			assert.Contains(t, res.MatchedSignal, tt.signal)
		})
	}
}

func TestRules_GenerationIntentIsNeverWorkflow(t *testing.T) {
	r := NewRules(DefaultConfig())

	inputs := []string{
		"write a function to reverse a string",
		"Write a program that prints the first 100 primes",
		"generate a function that sorts a list",
		"write a script and then test it",
		"please write code to deploy and build my service",
		"create a function for parsing dates",
	}
	for _, input := range inputs {
		res := r.Classify(context.Background(), input, nil)
		assert.NotEqual(t, Workflow, res.Type, input)
		assert.Contains(t, res.MatchedSignal, "generation intent", input)
	}
}

func TestRules_FileTargetOverridesGenerationIntent(t *testing.T) {
	r := NewRules(DefaultConfig())

	res := r.Classify(context.Background(), "write a function into file utils.py", nil)
	assert.Equal(t, Workflow, res.Type)
	assert.Contains(t, res.MatchedSignal, "into file")
	// The matched "write" inside the excluded phrase is still not counted.
	assert.Contains(t, res.MatchedSignal, "suppressed write")
}

func TestRules_ConfidenceBounds(t *testing.T) {
	r := NewRules(DefaultConfig())

	res := r.Classify(context.Background(), "create file, update, modify, delete, rename, deploy, build and commit", nil)
	assert.Equal(t, Workflow, res.Type)
	assert.Equal(t, MaxConfidence, res.Confidence)
}

func TestRules_Deterministic(t *testing.T) {
	r := NewRules(DefaultConfig())
	inputs := []string{"what is recursion?", "write to file foo.py a quicksort function", "/help", "write a poem"}

	for _, input := range inputs {
		first := r.Classify(context.Background(), input, nil)
		second := r.Classify(context.Background(), input, []session.Turn{session.NewTurn(session.RoleUser, "unrelated")})
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("Classify(%q) not deterministic (-first +second):\n%s", input, diff)
		}
	}
}

func TestRules_ConfigIsCopied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkflowIndicators = []string{"deploy"}
	r := NewRules(cfg)

	cfg.WorkflowIndicators[0] = "banana"
	cfg.CommandPrefix = "!"

	res := r.Classify(context.Background(), "deploy it", nil)
	assert.Equal(t, Workflow, res.Type)
	assert.Equal(t, "/", r.CommandPrefix())
}

func TestRules_OutOfRangeConfig(t *testing.T) {
	r := NewRules(Config{BaselineConfidence: 3, ConfidenceStep: -1})
	res := r.Classify(context.Background(), "anything", nil)
	assert.Equal(t, Prompt, res.Type)
	assert.Equal(t, config.DefaultBaselineConfidence, res.Confidence)
	assert.Equal(t, config.DefaultCommandPrefix, r.CommandPrefix())
}

func FuzzRules(f *testing.F) {
	for _, seed := range []string{"", "/", "what?", "write a function into file x", "\x00\xff", strings.Repeat("run ", 50)} {
		f.Add(seed)
	}
	r := NewRules(DefaultConfig())
	f.Fuzz(func(t *testing.T, input string) {
		res := r.Classify(context.Background(), input, nil)
		if res.Confidence < 0 || res.Confidence > 1 {
			t.Fatalf("confidence %v out of range for %q", res.Confidence, input)
		}
		if res.MatchedSignal == "" {
			t.Fatalf("empty matched signal for %q", input)
		}
	})
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.ClassifierConfig{
		CommandPrefix:      "!",
		WorkflowIndicators: []string{"ship"},
		ConfidenceStep:     0.2,
	})
	assert.Equal(t, "!", cfg.CommandPrefix)
	assert.Equal(t, []string{"ship"}, cfg.WorkflowIndicators)
	assert.Equal(t, DefaultConfig().PromptIndicators, cfg.PromptIndicators)
	assert.Equal(t, 0.2, cfg.ConfidenceStep)
	assert.Equal(t, config.DefaultBaselineConfidence, cfg.BaselineConfidence)
}

func TestNew(t *testing.T) {
	c, err := New(config.ClassifierConfig{Mode: "rules"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Rules{}, c)

	_, err = New(config.ClassifierConfig{Mode: "model"}, nil)
	assert.Error(t, err)

	_, err = New(config.ClassifierConfig{Mode: "oracle"}, nil)
	assert.Error(t, err)

	p := stream.New(clienttest.New(), stream.Config{StallThreshold: time.Second}, nil)
	c, err = New(config.ClassifierConfig{Mode: "model", Schema: "detailed"}, p)
	require.NoError(t, err)
	require.IsType(t, &Model{}, c)
	assert.Equal(t, "detailed", c.(*Model).Schema())
}

func TestSchemas(t *testing.T) {
	assert.Equal(t, []string{"minimal", "standard", "detailed", "optimized", "context_aware"}, Schemas())

	for _, name := range Schemas() {
		s, err := LookupSchema(name)
		require.NoError(t, err)
		decl := s.Declaration()
		assert.Equal(t, FunctionName, decl.Name)
		for _, req := range decl.Parameters.Required {
			assert.Contains(t, decl.Parameters.Properties, req, "%s: required %s", name, req)
		}
	}

	_, err := LookupSchema("nope")
	assert.ErrorContains(t, err, "available schemas")
}

func classifyCall(args map[string]any) clienttest.Script {
	return clienttest.Calls(&genai.FunctionCall{Name: FunctionName, Args: args})
}

func newModel(t *testing.T, backend *clienttest.Backend, opts ...ModelOption) *Model {
	t.Helper()
	p := stream.New(backend, stream.Config{StallThreshold: time.Second}, nil)
	m, err := NewModel(p, nil, opts...)
	require.NoError(t, err)
	return m
}

func TestModel_Classify(t *testing.T) {
	backend := clienttest.New(classifyCall(map[string]any{
		"type":       "workflow",
		"confidence": "0.9",
		"reasoning":  "several coordinated steps",
	}))
	m := newModel(t, backend)

	res := m.Classify(context.Background(), "create a project with tests and deploy it", nil)
	assert.Equal(t, Workflow, res.Type)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.Equal(t, "model:standard", res.Method)
	assert.Equal(t, "several coordinated steps", res.MatchedSignal)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, FunctionName, reqs[0].Tools[0].Name)
}

func TestModel_DetailedFields(t *testing.T) {
	backend := clienttest.New(classifyCall(map[string]any{
		"type":                  "PROMPT",
		"confidence":            0.7,
		"indicators":            []any{"what", "?"},
		"complexity_score":      1,
		"conversation_context":  "question",
		"step_count":            1,
		"requires_coordination": false,
	}))
	m := newModel(t, backend, WithSchema("detailed"), WithTemperature(0.3))

	res, err := m.Analyze(context.Background(), "what is a monad?", nil)
	require.NoError(t, err)

	want := Result{
		Type:                Prompt,
		Confidence:          0.7,
		MatchedSignal:       "model classified as prompt",
		Method:              "model:detailed",
		Indicators:          []string{"what", "?"},
		ComplexityScore:     1,
		ConversationContext: "question",
		StepCount:           1,
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Analyze() mismatch (-want +got):\n%s", diff)
	}

	reqs := backend.Requests()
	require.NotNil(t, reqs[0].Temperature)
	assert.Equal(t, float32(0.3), *reqs[0].Temperature)
}

func TestModel_ConfidenceCoercion(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  float64
	}{
		{"number", 0.25, 0.25},
		{"numeric string", " 0.8 ", 0.8},
		{"garbage string", "very sure", 0.5},
		{"missing", nil, 0.5},
		{"too high", 7, 1},
		{"negative", -2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{"type": "prompt"}
			if tt.value != nil {
				args["confidence"] = tt.value
			}
			m := newModel(t, clienttest.New(classifyCall(args)))
			res, err := m.Analyze(context.Background(), "hi", nil)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.Confidence, 1e-9)
		})
	}
}

func TestModel_FallsBackToRules(t *testing.T) {
	tests := []struct {
		name    string
		backend *clienttest.Backend
	}{
		{"backend error", clienttest.New(clienttest.Fail(errors.New("connection refused")))},
		{"no function call", clienttest.New(clienttest.Text("It is a prompt."))},
		{"bad type", clienttest.New(classifyCall(map[string]any{"type": "banana", "confidence": 1}))},
		{"open error", &clienttest.Backend{OpenErr: errors.New("model not found")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel(t, tt.backend)
			res := m.Classify(context.Background(), "what is recursion?", nil)
			assert.Equal(t, MethodFallback, res.Method)
			assert.Equal(t, Prompt, res.Type)
			assert.InDelta(t, 0.8, res.Confidence, 1e-9)
		})
	}
}

func TestModel_CommandSkipsBackend(t *testing.T) {
	backend := clienttest.New()
	m := newModel(t, backend)

	res := m.Classify(context.Background(), "/help", nil)
	assert.Equal(t, Command, res.Type)
	assert.Empty(t, backend.Requests())
}

func TestModel_PromptIncludesHistory(t *testing.T) {
	backend := clienttest.New(classifyCall(map[string]any{"type": "prompt", "confidence": 0.6}))
	m := newModel(t, backend, WithSchema("context_aware"))

	history := []session.Turn{
		session.NewTurn(session.RoleUser, "tell me about go channels"),
		session.NewTurn(session.RoleAssistant, "Channels are typed conduits."),
	}
	_, err := m.Analyze(context.Background(), "and buffered ones?", history)
	require.NoError(t, err)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	prompt := reqs[0].Messages[0].Parts[0].Text
	assert.Contains(t, prompt, `"tell me about go channels"`)
	assert.NotContains(t, prompt, "typed conduits")
	assert.Contains(t, prompt, "conversation_context")
}

func TestNewModel_UnknownSchema(t *testing.T) {
	p := stream.New(clienttest.New(), stream.Config{StallThreshold: time.Second}, nil)
	_, err := NewModel(p, nil, WithSchema("nope"))
	assert.Error(t, err)
}
