package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle status of one generation.
type Status int

const (
	Pending Status = iota
	Streaming
	Completed
	TimedOut
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == Completed || s == TimedOut || s == Failed
}

var (
	// ErrTerminalTwice is returned when a generation that already reached a
	// terminal status is asked to change status again.
	ErrTerminalTwice = errors.New("stream: terminal status already reached")
	// ErrInvalidTransition is returned for a backward, non-terminal move.
	ErrInvalidTransition = errors.New("stream: invalid status transition")
)

// State is the mutable record of one in-flight generation. Status only
// moves forward: Pending -> Streaming -> one terminal status.
type State struct {
	mu           sync.Mutex
	text         strings.Builder
	lastActivity time.Time
	status       Status
}

// NewState returns a Pending state.
func NewState(now time.Time) *State {
	return &State{lastActivity: now}
}

func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *State) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records backend activity, moving Pending to Streaming.
func (s *State) Touch(delta string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transition(Streaming); err != nil {
		return err
	}
	s.text.WriteString(delta)
	s.lastActivity = now
	return nil
}

// Finish moves the state to a terminal status. A second call fails with
// ErrTerminalTwice.
func (s *State) Finish(status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(status)
}

func (s *State) transition(to Status) error {
	switch {
	case s.status.Terminal():
		return fmt.Errorf("%w: %s -> %s", ErrTerminalTwice, s.status, to)
	case to < s.status:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, to)
	}
	s.status = to
	return nil
}
