package router

import (
	"fmt"

	"turnstile/internal/classify"
	"turnstile/internal/session"
)

// Request is one user turn as seen by Route.
type Request struct {
	TurnID         string
	SessionID      string
	RawInput       string
	History        []session.Turn
	Classification classify.Result
	CorrelationID  string
}

// EventKind identifies the type of a turn event.
type EventKind int

const (
	PartialText EventKind = iota
	ToolActivityEvent
	Completed
	Errored
)

func (k EventKind) String() string {
	switch k {
	case PartialText:
		return "partial_text"
	case ToolActivityEvent:
		return "tool_activity"
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Terminal reports whether the event ends the turn.
func (k EventKind) Terminal() bool {
	return k == Completed || k == Errored
}

// Path names the execution path a turn took.
type Path string

const (
	PathCommand  Path = "command"
	PathDirect   Path = "direct"
	PathToolLoop Path = "tool_loop"
)

// Event is one item of a turn's output stream. Each turn produces zero or
// more PartialText and ToolActivity events followed by exactly one
// Completed or Errored event.
type Event struct {
	Kind   EventKind `json:"kind"`
	TurnID string    `json:"turn_id"`

	// Text is a delta for PartialText and the full answer for Completed.
	Text string        `json:"text,omitempty"`
	Tool *ToolActivity `json:"tool,omitempty"`
	// Err is set on Errored, and on a Completed turn whose stream stalled.
	Err *TurnError `json:"error,omitempty"`

	Path           Path             `json:"path,omitempty"`
	Classification *classify.Result `json:"classification,omitempty"`
	// Data is the structured command result on a command Completed.
	Data map[string]any `json:"data,omitempty"`

	Stalled    bool   `json:"stalled,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Phase is the lifecycle point a ToolActivity reports.
type Phase string

const (
	PhaseStarted  Phase = "started"
	PhaseFinished Phase = "finished"
)

// ToolActivity reports a tool call starting or finishing.
type ToolActivity struct {
	CallID string         `json:"call_id,omitempty"`
	Name   string         `json:"name"`
	Depth  int            `json:"depth"`
	Phase  Phase          `json:"phase"`
	Args   map[string]any `json:"args,omitempty"`

	// Set when Phase is PhaseFinished.
	Success    bool       `json:"success"`
	Summary    string     `json:"summary,omitempty"`
	Err        *TurnError `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
}
