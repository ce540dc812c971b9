package classify

import (
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultSchema is the output schema used when none is named.
const DefaultSchema = "standard"

// FunctionName is the function the model is asked to call.
const FunctionName = "classify_text"

// Schema is a named output shape for model classification.
type Schema struct {
	Name        string
	Description string
	// Extra is appended to the classification prompt.
	Extra      string
	properties map[string]*genai.Schema
	required   []string
}

var schemaOrder = []string{"minimal", "standard", "detailed", "optimized", "context_aware"}

var schemas = map[string]Schema{
	"minimal": {
		Name:        "minimal",
		Description: "Type and confidence only",
		properties: map[string]*genai.Schema{
			"type":       typeProperty("prompt (single-step) or workflow (multi-step)"),
			"confidence": confidenceProperty(),
		},
		required: []string{"type", "confidence"},
	},
	"standard": {
		Name:        "standard",
		Description: "Type, confidence and a short reasoning",
		properties: map[string]*genai.Schema{
			"type":       typeProperty("prompt (single-step task) or workflow (multi-step orchestrated task)"),
			"confidence": confidenceProperty(),
			"reasoning":  {Type: genai.TypeString, Description: "Brief explanation of the classification, at most 150 characters"},
		},
		required: []string{"type", "confidence", "reasoning"},
	},
	"detailed": {
		Name:        "detailed",
		Description: "Adds the deciding indicators and a complexity score",
		Extra: `- indicators: the words or phrases that decided the classification
- complexity_score: 1 (very simple) to 5 (very complex)`,
		properties: map[string]*genai.Schema{
			"type":       typeProperty("prompt (conversational or single-step) or workflow (complex or multi-step)"),
			"confidence": confidenceProperty(),
			"reasoning":  {Type: genai.TypeString, Description: "Explanation of the classification, at most 200 characters"},
			"indicators": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Key indicators that led to this classification",
			},
			"complexity_score": {Type: genai.TypeInteger, Description: "Task complexity from 1 to 5"},
		},
		required: []string{"type", "confidence", "reasoning", "indicators", "complexity_score"},
	},
	"optimized": {
		Name:        "optimized",
		Description: "Short reasoning plus an estimated step count",
		Extra:       `- task_steps: the number of distinct steps the request needs`,
		properties: map[string]*genai.Schema{
			"type":       typeProperty("prompt (single-step request) or workflow (multi-step task requiring orchestration)"),
			"confidence": confidenceProperty(),
			"reasoning":  {Type: genai.TypeString, Description: "Concise reasoning, 10 to 100 characters"},
			"task_steps": {Type: genai.TypeInteger, Description: "Estimated number of steps, at least 1"},
		},
		required: []string{"type", "confidence", "reasoning", "task_steps"},
	},
	"context_aware": {
		Name:        "context_aware",
		Description: "Conversation context, step count and coordination needs",
		Extra: `- conversation_context: "greeting" for hi/hello, "question" for queries, "follow_up" for continuations, "task_request" or "multi_step" for work
- step_count: estimated steps (1 means prompt, 2 or more means workflow)
- requires_coordination: true if several tools or services are involved`,
		properties: map[string]*genai.Schema{
			"type":       typeProperty("prompt: direct question or request; workflow: needs several coordinated steps"),
			"confidence": confidenceProperty(),
			"reasoning":  {Type: genai.TypeString, Description: "Brief explanation, at most 150 characters"},
			"conversation_context": {
				Type:        genai.TypeString,
				Enum:        []string{"greeting", "question", "follow_up", "task_request", "multi_step"},
				Description: "greeting, question and follow_up are always prompt",
			},
			"step_count":            {Type: genai.TypeInteger, Description: "Estimated number of steps, at least 1"},
			"requires_coordination": {Type: genai.TypeBoolean, Description: "Whether multiple tools or services must be coordinated"},
		},
		required: []string{"type", "confidence", "reasoning", "conversation_context", "step_count", "requires_coordination"},
	},
}

func typeProperty(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Enum: []string{"prompt", "workflow"}, Description: desc}
}

func confidenceProperty() *genai.Schema {
	return &genai.Schema{Type: genai.TypeNumber, Description: "Confidence from 0.0 to 1.0"}
}

// Schemas lists the available schema names in a stable order.
func Schemas() []string {
	return append([]string(nil), schemaOrder...)
}

// LookupSchema returns the schema registered under name.
func LookupSchema(name string) (Schema, error) {
	s, ok := schemas[name]
	if !ok {
		return Schema{}, fmt.Errorf("unknown schema %q, available schemas: %s", name, strings.Join(schemaOrder, ", "))
	}
	return s, nil
}

// Declaration returns the classify_text function declaration for the schema.
func (s Schema) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name: FunctionName,
		Description: "Classify the input text as prompt or workflow. " +
			"prompt: single-step requests, questions, greetings, simple tasks. " +
			"workflow: multi-step tasks requiring coordination, orchestration or sequential operations.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: s.properties,
			Required:   s.required,
		},
	}
}
