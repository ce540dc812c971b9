package classify

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"turnstile/internal/session"
)

type indicator struct {
	phrase string
	re     *regexp.Regexp
}

// Rules is the deterministic keyword classifier.
type Rules struct {
	prefix     string
	baseline   float64
	step       float64
	prompt     []indicator
	workflow   []indicator
	exclusions []indicator
	targets    []indicator
}

// NewRules compiles cfg. Out-of-range numbers are clamped and an empty
// command prefix falls back to the default.
func NewRules(cfg Config) *Rules {
	def := DefaultConfig()
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = def.CommandPrefix
	}
	if cfg.BaselineConfidence <= 0 || cfg.BaselineConfidence > 1 {
		cfg.BaselineConfidence = def.BaselineConfidence
	}
	if cfg.ConfidenceStep <= 0 {
		cfg.ConfidenceStep = def.ConfidenceStep
	}

	return &Rules{
		prefix:     cfg.CommandPrefix,
		baseline:   cfg.BaselineConfidence,
		step:       cfg.ConfidenceStep,
		prompt:     compileIndicators(cfg.PromptIndicators),
		workflow:   compileIndicators(cfg.WorkflowIndicators),
		exclusions: compileIndicators(cfg.GenerationExclusions),
		targets:    compileIndicators(cfg.FileTargets),
	}
}

// CommandPrefix returns the prefix that marks a command.
func (r *Rules) CommandPrefix() string {
	return r.prefix
}

// Classify implements Classifier. History is not consulted.
func (r *Rules) Classify(_ context.Context, input string, _ []session.Turn) Result {
	text := strings.TrimSpace(input)

	if strings.HasPrefix(text, r.prefix) {
		return Result{
			Type:          Command,
			Confidence:    1.0,
			MatchedSignal: fmt.Sprintf("command prefix %q", r.prefix),
			Method:        MethodRules,
		}
	}

	promptHits := matching(r.prompt, text)

	var spans [][]int
	var excluded []string
	for _, ex := range r.exclusions {
		if locs := ex.re.FindAllStringIndex(text, -1); len(locs) > 0 {
			spans = append(spans, locs...)
			excluded = append(excluded, ex.phrase)
		}
	}
	fileTarget := len(matching(r.targets, text)) > 0

	var workflowHits, suppressed []string
	for _, ind := range r.workflow {
		locs := ind.re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		// Generation intent wins unless the input also names a file
		// destination; even then, matches inside the excluded phrase stay out.
		if len(spans) > 0 && (!fileTarget || allInside(locs, spans)) {
			suppressed = append(suppressed, ind.phrase)
			continue
		}
		workflowHits = append(workflowHits, ind.phrase)
	}

	p, w := len(promptHits), len(workflowHits)
	res := Result{Method: MethodRules}
	switch {
	case p == 0 && w == 0:
		res.Type = Prompt
		res.Confidence = r.baseline
		res.MatchedSignal = "no indicators matched"
	case p == w:
		res.Type = Prompt
		res.Confidence = r.baseline
		res.MatchedSignal = "tie between prompt and workflow indicators"
	case w > p:
		res.Type = Workflow
		res.Confidence = r.confidence(w - p)
		res.MatchedSignal = "workflow indicators: " + strings.Join(workflowHits, ", ")
	default:
		res.Type = Prompt
		res.Confidence = r.confidence(p - w)
		res.MatchedSignal = "prompt indicators: " + strings.Join(promptHits, ", ")
	}

	if len(suppressed) > 0 {
		res.MatchedSignal += fmt.Sprintf("; suppressed %s (generation intent: %s)",
			strings.Join(suppressed, ", "), strings.Join(excluded, ", "))
	}
	return res
}

func (r *Rules) confidence(margin int) float64 {
	c := r.baseline + r.step*float64(margin)
	return math.Min(MaxConfidence, math.Max(0, c))
}

func matching(indicators []indicator, text string) []string {
	var hits []string
	for _, ind := range indicators {
		if ind.re.MatchString(text) {
			hits = append(hits, ind.phrase)
		}
	}
	return hits
}

func allInside(locs, spans [][]int) bool {
	for _, loc := range locs {
		inside := false
		for _, s := range spans {
			if loc[0] >= s[0] && loc[1] <= s[1] {
				inside = true
				break
			}
		}
		if !inside {
			return false
		}
	}
	return true
}

// compileIndicators turns phrases into case-insensitive patterns. Word
// characters at either end get a word boundary, inner whitespace matches
// any run of whitespace. Duplicates and blanks are dropped.
func compileIndicators(phrases []string) []indicator {
	seen := make(map[string]bool, len(phrases))
	out := make([]indicator, 0, len(phrases))
	for _, phrase := range phrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" || seen[phrase] {
			continue
		}
		seen[phrase] = true

		words := strings.Fields(phrase)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		pattern := strings.Join(words, `\s+`)
		if isWordRune(firstRune(phrase)) {
			pattern = `\b` + pattern
		}
		if isWordRune(lastRune(phrase)) {
			pattern += `\b`
		}
		out = append(out, indicator{phrase: phrase, re: regexp.MustCompile("(?i)" + pattern)})
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}
