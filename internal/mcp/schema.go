package mcp

import (
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"google.golang.org/genai"
)

// inputSchema converts an MCP tool input schema to the object schema the
// registry validates arguments against.
func inputSchema(in mcpgo.ToolInputSchema) *genai.Schema {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(in.Properties)),
	}
	for name, prop := range in.Properties {
		m, _ := prop.(map[string]any)
		schema.Properties[name] = convertSchema(m)
	}
	for _, req := range in.Required {
		// Required names must be declared; servers occasionally omit them.
		if _, ok := schema.Properties[req]; !ok {
			schema.Properties[req] = &genai.Schema{Type: genai.TypeString}
		}
		schema.Required = append(schema.Required, req)
	}
	return schema
}

// convertSchema converts a decoded JSON Schema fragment. Unknown or missing
// types become strings.
func convertSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return &genai.Schema{Type: genai.TypeString}
	}

	schema := &genai.Schema{}
	schema.Description, _ = m["description"].(string)

	typ, _ := m["type"].(string)
	switch typ {
	case "string":
		schema.Type = genai.TypeString
		schema.Enum = stringList(m["enum"])
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		items, _ := m["items"].(map[string]any)
		schema.Items = convertSchema(items)
	case "object":
		schema.Type = genai.TypeObject
		if props, ok := m["properties"].(map[string]any); ok && len(props) > 0 {
			schema.Properties = make(map[string]*genai.Schema, len(props))
			for name, prop := range props {
				pm, _ := prop.(map[string]any)
				schema.Properties[name] = convertSchema(pm)
			}
		}
		schema.Required = stringList(m["required"])
	default:
		schema.Type = genai.TypeString
	}
	return schema
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// toolName builds a registry name (lower snake_case) from a prefix and the
// server's tool name.
func toolName(prefix, name string) string {
	if prefix != "" {
		name = prefix + "_" + name
	}

	var b strings.Builder
	underscore := false
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			if b.Len() == 0 && c >= '0' && c <= '9' {
				b.WriteString("t_")
			}
			if underscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			underscore = false
			b.WriteRune(c)
		default:
			// Separators collapse into a single underscore.
			underscore = true
		}
	}

	if b.Len() == 0 {
		return "unnamed_tool"
	}
	return b.String()
}
