package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry represents one tool invocation in the audit trail.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	TurnID     string         `json:"turn_id"`
	Depth      int            `json:"depth"`
	ToolName   string         `json:"tool_name"`
	Args       map[string]any `json:"args"`
	Result     string         `json:"result"` // Truncated result
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// NewEntry creates a new audit entry with a generated ID and timestamp.
func NewEntry(turnID, toolName string, depth int, args map[string]any) *Entry {
	return &Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		TurnID:    turnID,
		Depth:     depth,
		ToolName:  toolName,
		Args:      args,
	}
}

// Complete fills in the result fields after tool execution.
func (e *Entry) Complete(result string, success bool, err string, duration time.Duration) {
	e.Result = result
	e.Success = success
	e.Error = err
	e.DurationMs = duration.Milliseconds()
}

// QueryFilter defines criteria for querying audit entries.
type QueryFilter struct {
	ToolName string
	TurnID   string
	Success  *bool
	Since    time.Time
	Limit    int
}

// Matches checks if the entry matches the filter criteria.
func (e *Entry) Matches(filter QueryFilter) bool {
	if filter.ToolName != "" && e.ToolName != filter.ToolName {
		return false
	}
	if filter.TurnID != "" && e.TurnID != filter.TurnID {
		return false
	}
	if filter.Success != nil && e.Success != *filter.Success {
		return false
	}
	if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
		return false
	}
	return true
}

var sensitiveKeys = map[string]bool{
	"password":    true,
	"secret":      true,
	"token":       true,
	"api_key":     true,
	"apikey":      true,
	"credentials": true,
	"auth":        true,
}

// SanitizeArgs creates a copy of args with sensitive values redacted.
func SanitizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	sanitized := make(map[string]any, len(args))
	for k, v := range args {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	return sanitized
}

// TruncateResult truncates a result string to the specified maximum length.
func TruncateResult(result string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 1000
	}
	if len(result) <= maxLen {
		return result
	}
	return result[:maxLen] + "...[truncated]"
}
