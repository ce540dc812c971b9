package tools

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"google.golang.org/genai"
)

type registered struct {
	spec     Spec
	provider Provider
	patterns []*regexp.Regexp
}

// Registry manages the collection of available tools.
type Registry struct {
	tools map[string]*registered
	mu    sync.RWMutex
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registered),
	}
}

// Register validates and adds every tool the provider lists. Nothing is
// added if any spec is invalid or already registered.
func (r *Registry) Register(p Provider) error {
	specs := p.ListTools()
	if len(specs) == 0 {
		return fmt.Errorf("provider lists no tools")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("invalid tool spec: %w", err)
		}
		if _, exists := r.tools[spec.Name]; exists || seen[spec.Name] {
			return fmt.Errorf("tool already registered: %s", spec.Name)
		}
		seen[spec.Name] = true
	}

	for _, spec := range specs {
		r.tools[spec.Name] = &registered{
			spec:     spec,
			provider: p,
			patterns: matchPatterns(spec),
		}
	}
	return nil
}

// Get retrieves a tool's spec and provider by name.
func (r *Registry) Get(name string) (Spec, Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return Spec{}, nil, false
	}
	return t.spec, t.provider, true
}

// List returns all registered specs sorted by name.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Names returns the names of all registered tools, sorted.
func (r *Registry) Names() []string {
	specs := r.List()
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Declarations returns the function declarations of all tools, sorted by name.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	specs := r.List()
	decls := make([]*genai.FunctionDeclaration, len(specs))
	for i, s := range specs {
		decls[i] = s.Declaration()
	}
	return decls
}

// Match returns the tools whose name or keywords occur in input, sorted by
// name. A name such as write_file also matches "write file".
func (r *Registry) Match(input string) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Spec
	for _, t := range r.tools {
		for _, re := range t.patterns {
			if re.MatchString(input) {
				matched = append(matched, t.spec)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched
}

func matchPatterns(spec Spec) []*regexp.Regexp {
	terms := append([]string{spec.Name}, spec.Keywords...)
	var out []*regexp.Regexp
	for _, term := range terms {
		words := strings.FieldsFunc(strings.ToLower(term), func(r rune) bool {
			return r == '_' || r == ' ' || r == '\t'
		})
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		out = append(out, regexp.MustCompile(`(?i)\b`+strings.Join(words, `[\s_]+`)+`\b`))
	}
	return out
}
