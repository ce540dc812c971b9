package router

import (
	"fmt"
	"log/slog"
)

// Stage is the router's position within one turn.
type Stage int

const (
	StageClassified Stage = iota
	StageDispatching
	StageCommandRunning
	StageGeneratingDirect
	StageToolLoopRunning
	StageCompleted
	StageErrored
)

func (s Stage) String() string {
	switch s {
	case StageClassified:
		return "classified"
	case StageDispatching:
		return "dispatching"
	case StageCommandRunning:
		return "command_running"
	case StageGeneratingDirect:
		return "generating_direct"
	case StageToolLoopRunning:
		return "tool_loop_running"
	case StageCompleted:
		return "completed"
	case StageErrored:
		return "errored"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) terminal() bool {
	return s == StageCompleted || s == StageErrored
}

// turnState tracks one turn through
// Classified -> Dispatching -> {CommandRunning|GeneratingDirect|ToolLoopRunning} -> {Completed|Errored}.
// Dispatching may also end the turn directly, e.g. on cancellation.
type turnState struct {
	stage Stage
	log   *slog.Logger
}

func newTurnState(log *slog.Logger) *turnState {
	return &turnState{stage: StageClassified, log: log}
}

func (t *turnState) advance(to Stage) error {
	if !allowed(t.stage, to) {
		return fmt.Errorf("invalid turn transition %s -> %s", t.stage, to)
	}
	t.log.Debug("turn stage changed", "from", t.stage.String(), "to", to.String())
	t.stage = to
	return nil
}

func allowed(from, to Stage) bool {
	if from.terminal() {
		return false
	}
	switch from {
	case StageClassified:
		return to == StageDispatching || to.terminal()
	case StageDispatching:
		return to == StageCommandRunning || to == StageGeneratingDirect || to == StageToolLoopRunning || to.terminal()
	default:
		return to.terminal()
	}
}
