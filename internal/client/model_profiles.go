package client

import "strings"

// ModelProfile contains metadata about an Ollama model family.
type ModelProfile struct {
	Family        string
	SupportsTools bool // native tool calling support
}

// knownModelProfiles maps model name prefixes to their profiles.
var knownModelProfiles = map[string]ModelProfile{
	"llama3.3":       {Family: "llama", SupportsTools: true},
	"llama3.2":       {Family: "llama", SupportsTools: true},
	"llama3.1":       {Family: "llama", SupportsTools: true},
	"llama3":         {Family: "llama", SupportsTools: true},
	"llama2":         {Family: "llama", SupportsTools: false},
	"qwen3":          {Family: "qwen", SupportsTools: true},
	"qwen2.5-coder":  {Family: "qwen", SupportsTools: true},
	"qwen2.5":        {Family: "qwen", SupportsTools: true},
	"qwen":           {Family: "qwen", SupportsTools: false},
	"mistral-nemo":   {Family: "mistral", SupportsTools: true},
	"mistral":        {Family: "mistral", SupportsTools: true},
	"phi4":           {Family: "phi", SupportsTools: true},
	"phi3":           {Family: "phi", SupportsTools: false},
	"codellama":      {Family: "codellama", SupportsTools: false},
	"deepseek-coder": {Family: "deepseek", SupportsTools: false},
	"gemma":          {Family: "gemma", SupportsTools: false},
	"command-r":      {Family: "command-r", SupportsTools: true},
}

// GetModelProfile returns the profile for a model using longest-prefix
// matching on the name without its tag. Unknown models are assumed to
// support tools.
func GetModelProfile(modelName string) ModelProfile {
	baseName := strings.ToLower(modelName)
	if idx := strings.Index(baseName, ":"); idx > 0 {
		baseName = baseName[:idx]
	}
	if idx := strings.LastIndex(baseName, "/"); idx >= 0 {
		baseName = baseName[idx+1:]
	}

	best := ""
	for prefix := range knownModelProfiles {
		if strings.HasPrefix(baseName, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return ModelProfile{Family: "unknown", SupportsTools: true}
	}
	return knownModelProfiles[best]
}
