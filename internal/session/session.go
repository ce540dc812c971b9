package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrEmptySessionID is returned when a store is called without a session id.
var ErrEmptySessionID = errors.New("session id is required")

// Turn is one entry in a session's conversation history. Entries are never
// edited after they are appended.
type Turn struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Classification string    `json:"classification,omitempty"`
	At             time.Time `json:"at"`
}

// NewTurn creates a turn stamped with a fresh id and the current time.
func NewTurn(role Role, text string) Turn {
	return Turn{
		ID:   uuid.NewString(),
		Role: role,
		Text: text,
		At:   time.Now(),
	}
}

// Content converts the turn into the model message format.
func (t Turn) Content() *genai.Content {
	if t.Role == RoleAssistant {
		return genai.NewContentFromText(t.Text, genai.RoleModel)
	}
	return genai.NewContentFromText(t.Text, genai.RoleUser)
}

// Contents converts an ordered history into model messages.
func Contents(turns []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		out = append(out, t.Content())
	}
	return out
}

// Store is an append-only, per-session conversation history. Turns are never
// edited or removed individually; Clear is the only way to drop them.
type Store interface {
	// Append adds turns to the end of the session history.
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	// History returns up to limit most recent turns in order. limit <= 0 means all.
	History(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	// Clear resets the session to an empty history. It backs the /clear
	// command and nothing else.
	Clear(ctx context.Context, sessionID string) error
}
