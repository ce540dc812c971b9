// Package tools holds the tool capability registry and the invocation
// boundary through which every tool call passes. It must not depend on the
// router or the classifier.
package tools

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"google.golang.org/genai"
)

// OutputShape describes what a tool's Payload contains.
type OutputShape string

const (
	OutputText OutputShape = "text"
	OutputJSON OutputShape = "json"
)

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// Spec is the validated contract of one tool.
type Spec struct {
	Name        string
	Description string
	Input       *genai.Schema
	Output      OutputShape
	// Keywords are extra words that, when present in user input, make the
	// tool a candidate for the turn. The tool name always counts.
	Keywords []string
}

// Validate checks the contract: snake_case name, object input schema whose
// required fields are all declared, and a known output shape.
func (s Spec) Validate() error {
	if !toolNamePattern.MatchString(s.Name) {
		return NewValidationError("name", fmt.Sprintf("%q is not a snake_case tool name", s.Name))
	}
	if s.Input == nil || s.Input.Type != genai.TypeObject {
		return NewValidationError("input", fmt.Sprintf("%s: input schema must be an object", s.Name))
	}
	for _, req := range s.Input.Required {
		if _, ok := s.Input.Properties[req]; !ok {
			return NewValidationError("input", fmt.Sprintf("%s: required field %q is not declared", s.Name, req))
		}
	}
	switch s.Output {
	case OutputText, OutputJSON:
	default:
		return NewValidationError("output", fmt.Sprintf("%s: unknown output shape %q", s.Name, s.Output))
	}
	return nil
}

// Declaration returns the function declaration offered to the model.
func (s Spec) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.Input,
	}
}

// Call is one requested tool invocation. Depth 0 is the user turn itself;
// the first tool-loop iteration issues calls at depth 1.
type Call struct {
	ID     string
	Name   string
	Args   map[string]any
	TurnID string
	Depth  int
}

// Result is the outcome of a tool invocation. A failed Result is an
// ordinary value fed back to the model, not an error.
type Result struct {
	Success    bool
	Payload    string
	Data       map[string]any
	Error      string
	DurationMs int64
}

// NewSuccessResult creates a successful tool result.
func NewSuccessResult(payload string) Result {
	return Result{Success: true, Payload: payload}
}

// NewErrorResult creates a failed tool result.
func NewErrorResult(errMsg string) Result {
	return Result{Error: errMsg}
}

// ToMap converts the result to a map for the model's function response.
func (r Result) ToMap() map[string]any {
	result := make(map[string]any)
	if r.Success {
		result["success"] = true
		if r.Payload != "" {
			result["content"] = r.Payload
		}
		if r.Data != nil {
			result["data"] = r.Data
		}
	} else {
		result["success"] = false
		result["error"] = r.Error
	}
	return result
}

// Provider executes the tools it lists.
type Provider interface {
	ListTools() []Spec
	Execute(ctx context.Context, name string, args map[string]any) (Result, error)
}

// Completer produces text from a prompt. Providers that need model output
// receive one at construction and call it directly, never through the
// router.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ValidationError represents a tool contract or argument validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// ValidateArgs checks args against an object schema: required fields must
// be present and declared primitives must have a compatible type.
func ValidateArgs(schema *genai.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	for _, req := range schema.Required {
		if v, ok := args[req]; !ok || v == nil {
			return NewValidationError(req, "is required")
		}
	}
	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok || prop == nil || value == nil {
			continue
		}
		if !typeMatches(prop.Type, value) {
			return NewValidationError(name, fmt.Sprintf("expected %s, got %T", prop.Type, value))
		}
		if len(prop.Enum) > 0 {
			if s, ok := value.(string); ok && !slices.Contains(prop.Enum, s) {
				return NewValidationError(name, fmt.Sprintf("must be one of %v", prop.Enum))
			}
		}
	}
	return nil
}

func typeMatches(t genai.Type, v any) bool {
	switch t {
	case genai.TypeString:
		_, ok := v.(string)
		return ok
	case genai.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case genai.TypeInteger:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			// JSON decoding yields float64 for every number.
			return n == float64(int64(n))
		}
		return false
	case genai.TypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case genai.TypeArray:
		_, ok := v.([]any)
		if !ok {
			_, ok = v.([]string)
		}
		return ok
	case genai.TypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
