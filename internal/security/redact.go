package security

import (
	"regexp"
)

const redacted = "[REDACTED]"

// SecretRedactor masks common credential formats in tool output before it
// is logged or audited.
type SecretRedactor struct {
	labelled []*regexp.Regexp // group 1 is the label, kept in the output
	bare     []*regexp.Regexp
}

// NewSecretRedactor creates a redactor with the default patterns.
func NewSecretRedactor() *SecretRedactor {
	return &SecretRedactor{
		labelled: []*regexp.Regexp{
			regexp.MustCompile(`(?i)((?:api[_-]?key|access[_-]?token|auth[_-]?token|secret|password|passwd|pwd)\s*[:=]\s*["']?)[a-zA-Z0-9_\-\.+/]{8,}`),
			regexp.MustCompile(`(?i)(Bearer\s+)[a-zA-Z0-9_\-\.]{10,256}`),
		},
		bare: []*regexp.Regexp{
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36}`),
			regexp.MustCompile(`sk_(?:live|test)_[0-9a-zA-Z]{24}`),
			regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`),
			regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.(?:eyJ[a-zA-Z0-9_-]+)?\.[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]+?-----END [A-Z ]*PRIVATE KEY-----`),
		},
	}
}

// Redact returns text with secrets replaced by [REDACTED]. A nil redactor
// returns text unchanged.
func (r *SecretRedactor) Redact(text string) string {
	if r == nil || text == "" {
		return text
	}
	for _, p := range r.labelled {
		text = p.ReplaceAllString(text, "${1}"+redacted)
	}
	for _, p := range r.bare {
		text = p.ReplaceAllString(text, redacted)
	}
	return text
}
