// Package classify decides whether an utterance is a command, a prompt or a
// workflow, and how sure it is about that.
package classify

import (
	"context"
	"fmt"

	"turnstile/internal/config"
	"turnstile/internal/session"
)

// Type is the kind of request an utterance represents.
type Type string

const (
	Command  Type = "command"
	Prompt   Type = "prompt"
	Workflow Type = "workflow"
)

const (
	MethodRules    = "rules"
	MethodFallback = "rules(fallback)"
)

// Result is a single classification. It is a value and is never mutated
// after it is returned.
type Result struct {
	Type          Type    `json:"type"`
	Confidence    float64 `json:"confidence"`
	MatchedSignal string  `json:"matched_signal"`
	Method        string  `json:"method"`

	// Populated by the model classifier only, depending on the schema.
	Reasoning            string   `json:"reasoning,omitempty"`
	Indicators           []string `json:"indicators,omitempty"`
	ComplexityScore      int      `json:"complexity_score,omitempty"`
	TaskSteps            int      `json:"task_steps,omitempty"`
	ConversationContext  string   `json:"conversation_context,omitempty"`
	StepCount            int      `json:"step_count,omitempty"`
	RequiresCoordination bool     `json:"requires_coordination,omitempty"`
}

// Classifier maps raw input and prior turns to a Result. Implementations
// never fail; uncertainty is expressed through Confidence.
type Classifier interface {
	Classify(ctx context.Context, input string, history []session.Turn) Result
}

// Config holds the rule set. NewRules copies it, so later changes to the
// caller's value have no effect.
type Config struct {
	CommandPrefix        string
	PromptIndicators     []string
	WorkflowIndicators   []string
	GenerationExclusions []string
	// FileTargets are the one exception to generation exclusions: when the
	// input also names a file destination, workflow indicators outside the
	// excluded phrase count again, so "write a function into file utils.py"
	// is a Workflow. Without a file target, excluded input is never one.
	FileTargets        []string
	BaselineConfidence float64
	ConfidenceStep     float64
}

// MaxConfidence caps scored (non-command) results.
const MaxConfidence = 0.95

var defaultPromptIndicators = []string{
	"what", "why", "how", "explain", "describe", "define", "tell me",
	"who", "when", "difference between", "compare", "example of", "?",
}

var defaultWorkflowIndicators = []string{
	"create file", "write to", "to file", "into file", "save", "save as",
	"export to", "output to", "update", "modify", "edit", "delete", "remove",
	"rename", "move", "refactor", "fix", "run", "deploy", "install", "build",
	"test", "commit", "and then", "write", "create", "generate",
}

var defaultGenerationExclusions = []string{
	"write a function", "write a program", "write a script", "write a class",
	"write a poem", "write an essay", "write a story", "write code",
	"generate a function", "create a function",
}

var defaultFileTargets = []string{
	"to file", "to a file", "into file", "into a file", "in file",
	"save as", "save to", "export to", "output to", "write to",
}

// DefaultConfig returns the built-in rule set.
func DefaultConfig() Config {
	return Config{
		CommandPrefix:        config.DefaultCommandPrefix,
		PromptIndicators:     append([]string(nil), defaultPromptIndicators...),
		WorkflowIndicators:   append([]string(nil), defaultWorkflowIndicators...),
		GenerationExclusions: append([]string(nil), defaultGenerationExclusions...),
		FileTargets:          append([]string(nil), defaultFileTargets...),
		BaselineConfidence:   config.DefaultBaselineConfidence,
		ConfidenceStep:       config.DefaultConfidenceStep,
	}
}

// FromConfig overlays the classifier section of the application config on
// the defaults. Empty lists keep the built-in ones.
func FromConfig(cc config.ClassifierConfig) Config {
	cfg := DefaultConfig()
	if cc.CommandPrefix != "" {
		cfg.CommandPrefix = cc.CommandPrefix
	}
	if len(cc.PromptIndicators) > 0 {
		cfg.PromptIndicators = cc.PromptIndicators
	}
	if len(cc.WorkflowIndicators) > 0 {
		cfg.WorkflowIndicators = cc.WorkflowIndicators
	}
	if len(cc.GenerationExclusions) > 0 {
		cfg.GenerationExclusions = cc.GenerationExclusions
	}
	if len(cc.FileTargets) > 0 {
		cfg.FileTargets = cc.FileTargets
	}
	if cc.BaselineConfidence > 0 {
		cfg.BaselineConfidence = cc.BaselineConfidence
	}
	if cc.ConfidenceStep > 0 {
		cfg.ConfidenceStep = cc.ConfidenceStep
	}
	return cfg
}

// New builds the classifier selected by cc.Mode. gen is only required in
// model mode.
func New(cc config.ClassifierConfig, gen Generator) (Classifier, error) {
	rules := NewRules(FromConfig(cc))
	switch cc.Mode {
	case "", "rules":
		return rules, nil
	case "model":
		if gen == nil {
			return nil, fmt.Errorf("classifier mode %q requires a backend", cc.Mode)
		}
		return NewModel(gen, rules, WithSchema(cc.Schema))
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cc.Mode)
	}
}
