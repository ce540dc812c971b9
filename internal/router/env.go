package router

import (
	"context"

	"turnstile/internal/commands"
	"turnstile/internal/session"
	"turnstile/internal/tools"
)

// commandEnv exposes the router to command handlers for one session.
type commandEnv struct {
	r         *Router
	sessionID string
}

var _ commands.Env = (*commandEnv)(nil)

func (e *commandEnv) SessionID() string   { return e.sessionID }
func (e *commandEnv) Info() commands.Info { return e.r.Info() }
func (e *commandEnv) Tools() []tools.Spec { return e.r.Registry().List() }

func (e *commandEnv) History(ctx context.Context) ([]session.Turn, error) {
	return e.r.sessions.History(ctx, e.sessionID, 0)
}

func (e *commandEnv) ClearHistory(ctx context.Context) error {
	return e.r.sessions.Clear(ctx, e.sessionID)
}

func (e *commandEnv) SetModel(ctx context.Context, model string) error {
	return e.r.SwitchModel(ctx, model)
}
