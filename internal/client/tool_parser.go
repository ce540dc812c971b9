package client

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"turnstile/internal/logging"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"
)

// ParseTextToolCalls extracts tool calls a model wrote as JSON in its text
// output. It is the fallback for models without native function calling.
// Accepted shapes:
//   - {"tool": "name", "args": {...}}
//   - {"name": "tool_name", "arguments": {...}}
//   - either of the above inside a ```json fenced block
func ParseTextToolCalls(text string) []*genai.FunctionCall {
	if !strings.Contains(text, "{") {
		return nil
	}

	var calls []*genai.FunctionCall
	for _, match := range codeBlockPattern.FindAllStringSubmatch(text, -1) {
		if fc := parseToolCallJSON(match[1], len(calls)); fc != nil {
			calls = append(calls, fc)
		}
	}
	if len(calls) > 0 {
		return calls
	}

	for _, obj := range findJSONObjects(text) {
		if fc := parseToolCallJSON(obj, len(calls)); fc != nil {
			calls = append(calls, fc)
		}
	}
	return calls
}

var codeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*\\n?```")

// findJSONObjects extracts top-level brace-balanced objects from text.
func findJSONObjects(text string) []string {
	var objects []string
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for j := i; j < len(text); j++ {
			ch := text[j]
			switch {
			case escaped:
				escaped = false
			case ch == '\\' && inString:
				escaped = true
			case ch == '"':
				inString = !inString
			case !inString && ch == '{':
				depth++
			case !inString && ch == '}':
				depth--
			}
			if depth == 0 {
				objects = append(objects, text[i:j+1])
				i = j
				break
			}
		}
	}
	return objects
}

func parseToolCallJSON(raw string, index int) *genai.FunctionCall {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return nil
	}

	name := gjson.Get(raw, "tool").String()
	if name == "" {
		name = gjson.Get(raw, "name").String()
	}
	if name == "" {
		return nil
	}

	args := map[string]any{}
	argsResult := gjson.Get(raw, "args")
	if !argsResult.Exists() {
		argsResult = gjson.Get(raw, "arguments")
	}
	if argsResult.IsObject() {
		if m, ok := argsResult.Value().(map[string]any); ok {
			args = m
		}
	}

	logging.Debug("parsed tool call from text", "tool", name, "args_count", len(args))

	return &genai.FunctionCall{
		ID:   fmt.Sprintf("text_call_%d", index),
		Name: name,
		Args: args,
	}
}

// ToolCallFallbackPrompt returns system prompt text instructing a model
// without native tool support to emit calls as parseable JSON.
func ToolCallFallbackPrompt(decls []*genai.FunctionDeclaration) string {
	if len(decls) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\n## Tool Calling Instructions\n\n")
	sb.WriteString("To call a tool, output a JSON object in a code block:\n\n")
	sb.WriteString("```json\n{\"tool\": \"tool_name\", \"args\": {\"param1\": \"value1\"}}\n```\n\n")
	sb.WriteString("Output only the JSON block when calling a tool. When no tool is needed, answer normally.\n\n")
	sb.WriteString("Available tools:\n\n")

	for _, decl := range decls {
		fmt.Fprintf(&sb, "### %s\n%s\n", decl.Name, decl.Description)
		if decl.Parameters == nil || len(decl.Parameters.Properties) == 0 {
			sb.WriteString("\n")
			continue
		}

		required := make(map[string]bool)
		for _, r := range decl.Parameters.Required {
			required[r] = true
		}
		names := make([]string, 0, len(decl.Parameters.Properties))
		for name := range decl.Parameters.Properties {
			names = append(names, name)
		}
		sort.Strings(names)

		sb.WriteString("Parameters:\n")
		for _, name := range names {
			reqMark := ""
			if required[name] {
				reqMark = " (required)"
			}
			fmt.Fprintf(&sb, "- `%s`%s: %s\n", name, reqMark, decl.Parameters.Properties[name].Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
