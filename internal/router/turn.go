package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"turnstile/internal/classify"
	"turnstile/internal/client"
	"turnstile/internal/commands"
	"turnstile/internal/session"
	"turnstile/internal/stream"
	"turnstile/internal/tools"

	"google.golang.org/genai"
)

const toolLoopPrompt = "Use the provided tools to carry out the request. " +
	"Call a tool only when it is needed. When the work is done, reply with a short summary."

// turn is the execution of one Request.
type turn struct {
	r     *Router
	ctx   context.Context
	req   *Request
	out   chan<- Event
	log   *slog.Logger
	state *turnState
	start time.Time
	path  Path
}

func (t *turn) dispatch() Event {
	if err := t.state.advance(StageDispatching); err != nil {
		t.log.Error("turn state rejected", "error", err)
	}
	if t.ctx.Err() != nil {
		return t.errored(t.contextError())
	}

	switch t.req.Classification.Type {
	case classify.Command:
		t.path = PathCommand
		return t.runCommand()
	case classify.Workflow:
		if candidates := t.r.Registry().Match(t.req.RawInput); len(candidates) > 0 {
			t.path = PathToolLoop
			return t.runToolLoop(candidates)
		}
		t.log.Debug("no tool matches workflow input, generating directly")
	}
	t.path = PathDirect
	return t.runDirect()
}

// emit forwards a non-terminal event. Events are dropped once the turn's
// context is done.
func (t *turn) emit(ev Event) {
	ev.TurnID = t.req.TurnID
	ev.Path = t.path
	select {
	case t.out <- ev:
	case <-t.ctx.Done():
	}
}

// finish delivers the single terminal event.
func (t *turn) finish(ev Event) {
	stage := StageCompleted
	outcome := "completed"
	if ev.Kind == Errored {
		stage = StageErrored
		outcome = string(ev.Err.Code)
	}
	if err := t.state.advance(stage); err != nil {
		t.log.Error("turn state rejected", "error", err)
	}

	classification := t.req.Classification
	ev.TurnID = t.req.TurnID
	ev.Path = t.path
	ev.Classification = &classification
	t.out <- ev

	duration := time.Since(t.start)
	t.r.metrics.ObserveTurn(string(t.path), outcome, duration)

	switch {
	case ev.Kind == Completed:
		t.log.Info("turn completed",
			"path", string(t.path),
			"stalled", ev.Stalled,
			"duration", duration)
	case ev.Err.Code == CodeBoundaryViolation:
		t.log.Error("turn failed",
			"path", string(t.path),
			"code", string(ev.Err.Code),
			"session_id", t.req.SessionID,
			"input", t.req.RawInput,
			"error", ev.Err.Error())
	default:
		t.log.Warn("turn failed",
			"path", string(t.path),
			"code", string(ev.Err.Code),
			"error", ev.Err.Error())
	}
}

func (t *turn) errored(te *TurnError) Event {
	return Event{Kind: Errored, Text: te.Message, Err: te}
}

func (t *turn) contextError() *TurnError {
	cid := t.req.CorrelationID
	if errors.Is(context.Cause(t.ctx), errTurnTimeout) {
		return newTurnError(CodeTurnTimeout, cid,
			fmt.Sprintf("turn did not finish within %s", t.r.config.TurnTimeout), context.DeadlineExceeded)
	}
	return newTurnError(CodeCancelled, cid, "turn cancelled", context.Canceled)
}

func (t *turn) runCommand() Event {
	if err := t.state.advance(StageCommandRunning); err != nil {
		t.log.Error("turn state rejected", "error", err)
	}

	prefix := t.r.config.CommandPrefix
	name, args := commands.Parse(t.req.RawInput, prefix)
	if name == "" {
		return t.errored(newTurnError(CodeCommandNotFound, t.req.CorrelationID,
			fmt.Sprintf("Empty command. Type %shelp to see available commands.", prefix), nil))
	}

	env := &commandEnv{r: t.r, sessionID: t.req.SessionID}
	res, err := t.r.commands.Execute(t.ctx, name, args, env)
	switch {
	case err == nil:
		return Event{Kind: Completed, Text: res.Output, Data: res.Data}
	case errors.Is(err, commands.ErrUnknownCommand):
		return t.errored(newTurnError(CodeCommandNotFound, t.req.CorrelationID,
			fmt.Sprintf("Unknown command: %s%s. Type %shelp to see available commands.", prefix, name, prefix), err))
	case t.ctx.Err() != nil:
		return t.errored(t.contextError())
	default:
		return t.errored(newTurnError(CodeCommandFailed, t.req.CorrelationID,
			fmt.Sprintf("%s%s failed: %v", prefix, name, err), err))
	}
}

func (t *turn) runDirect() Event {
	if err := t.state.advance(StageGeneratingDirect); err != nil {
		t.log.Error("turn state rejected", "error", err)
	}

	out := t.generate(client.Request{
		System:   t.r.config.SystemPrompt,
		Messages: t.messages(),
	})
	switch out.Status {
	case stream.Completed:
		return Event{Kind: Completed, Text: out.Text}
	case stream.TimedOut:
		return t.stalled(out.Text, out)
	default:
		return t.errored(t.generationError(out))
	}
}

func (t *turn) runToolLoop(candidates []tools.Spec) Event {
	if err := t.state.advance(StageToolLoopRunning); err != nil {
		t.log.Error("turn state rejected", "error", err)
	}

	decls := make([]*genai.FunctionDeclaration, len(candidates))
	names := make([]string, len(candidates))
	for i, spec := range candidates {
		decls[i] = spec.Declaration()
		names[i] = spec.Name
	}
	t.log.Debug("tool loop started", "tools", names)

	system := toolLoopPrompt
	if t.r.config.SystemPrompt != "" {
		system = t.r.config.SystemPrompt + "\n\n" + toolLoopPrompt
	}

	messages := t.messages()
	var summaries []string
	for depth := 1; ; depth++ {
		out := t.generate(client.Request{System: system, Messages: messages, Tools: decls})
		switch out.Status {
		case stream.TimedOut:
			return t.stalled(compose(out.Text, summaries), out)
		case stream.Failed:
			return t.errored(t.generationError(out))
		}

		if len(out.Calls) == 0 {
			return Event{Kind: Completed, Text: compose(out.Text, summaries)}
		}
		if depth > t.r.config.MaxToolDepth {
			return t.errored(newTurnError(CodeToolDepthExceeded, t.req.CorrelationID,
				fmt.Sprintf("the model kept requesting tools after %d rounds", t.r.config.MaxToolDepth),
				tools.ErrDepthExceeded))
		}

		messages = append(messages, modelContent(out))

		calls := make([]tools.Call, len(out.Calls))
		for i, fc := range out.Calls {
			calls[i] = tools.Call{
				ID:     fc.ID,
				Name:   fc.Name,
				Args:   fc.Args,
				TurnID: t.req.TurnID,
				Depth:  depth,
			}
			t.emit(Event{Kind: ToolActivityEvent, Tool: &ToolActivity{
				CallID: fc.ID,
				Name:   fc.Name,
				Depth:  depth,
				Phase:  PhaseStarted,
				Args:   fc.Args,
			}})
		}

		results, err := t.r.boundary.InvokeAll(t.ctx, calls)
		if err != nil {
			return t.errored(t.toolError(err))
		}
		if t.ctx.Err() != nil {
			return t.errored(t.contextError())
		}

		parts := make([]*genai.Part, len(results))
		for i, res := range results {
			call := calls[i]
			summary := summarize(call, res)
			summaries = append(summaries, summary)

			activity := &ToolActivity{
				CallID:     call.ID,
				Name:       call.Name,
				Depth:      depth,
				Phase:      PhaseFinished,
				Success:    res.Success,
				Summary:    summary,
				DurationMs: res.DurationMs,
			}
			if !res.Success {
				activity.Err = newTurnError(CodeToolExecutionError, t.req.CorrelationID, res.Error, nil)
			}
			t.emit(Event{Kind: ToolActivityEvent, Tool: activity})

			parts[i] = genai.NewPartFromFunctionResponse(call.Name, res.ToMap())
			parts[i].FunctionResponse.ID = call.ID
		}
		messages = append(messages, &genai.Content{Role: genai.RoleUser, Parts: parts})
	}
}

// generate streams one generation, forwarding text as PartialText.
func (t *turn) generate(req client.Request) stream.Outcome {
	gen := t.r.Pipeline().Generate(t.ctx, req)
	for chunk := range gen.Chunks() {
		if chunk.Text != "" {
			t.emit(Event{Kind: PartialText, Text: chunk.Text})
		}
	}
	return gen.Wait()
}

func (t *turn) messages() []*genai.Content {
	msgs := session.Contents(t.req.History)
	return append(msgs, genai.NewContentFromText(t.req.RawInput, genai.RoleUser))
}

func (t *turn) stalled(text string, out stream.Outcome) Event {
	t.log.Warn("turn completed with stalled stream", "diagnostic", out.Diagnostic)
	return Event{
		Kind:       Completed,
		Text:       text,
		Stalled:    true,
		Diagnostic: out.Diagnostic,
		Err:        newTurnError(CodeBackendStall, t.req.CorrelationID, out.Diagnostic, out.Err),
	}
}

func (t *turn) generationError(out stream.Outcome) *TurnError {
	if t.ctx.Err() != nil {
		return t.contextError()
	}
	return newTurnError(CodeBackendStreamError, t.req.CorrelationID, "the model backend failed while streaming", out.Err)
}

func (t *turn) toolError(err error) *TurnError {
	var violation *tools.BoundaryViolation
	switch {
	case errors.As(err, &violation):
		return newTurnError(CodeBoundaryViolation, t.req.CorrelationID, violation.Error(), err)
	case errors.Is(err, tools.ErrDepthExceeded):
		return newTurnError(CodeToolDepthExceeded, t.req.CorrelationID, err.Error(), err)
	case t.ctx.Err() != nil:
		return t.contextError()
	default:
		return newTurnError(CodeToolExecutionError, t.req.CorrelationID, err.Error(), err)
	}
}

func modelContent(out stream.Outcome) *genai.Content {
	var parts []*genai.Part
	if out.Text != "" {
		parts = append(parts, genai.NewPartFromText(out.Text))
	}
	for _, fc := range out.Calls {
		parts = append(parts, &genai.Part{FunctionCall: fc})
	}
	return &genai.Content{Role: genai.RoleModel, Parts: parts}
}

const maxSummaryLen = 200

// summarize describes a tool result in one line.
func summarize(call tools.Call, res tools.Result) string {
	if !res.Success {
		return fmt.Sprintf("%s failed: %s", call.Name, res.Error)
	}
	payload := strings.TrimSpace(res.Payload)
	if payload != "" && !strings.Contains(payload, "\n") && len(payload) <= maxSummaryLen {
		return payload
	}
	return fmt.Sprintf("%s completed (%d bytes of output)", call.Name, len(res.Payload))
}

// compose appends the tool summaries to the model's final text.
func compose(text string, summaries []string) string {
	text = strings.TrimSpace(text)
	if len(summaries) == 0 {
		return text
	}
	joined := strings.Join(summaries, "\n")
	if text == "" {
		return joined
	}
	return text + "\n\n" + joined
}
