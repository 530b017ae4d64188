// Package slot implements the fixed-size batch slot table and the
// scheduler that assigns incoming requests to slots by longest-prefix
// match, per spec.md §3-4.2.
package slot

import (
	"time"

	"github.com/rwkvcore/scheduler/internal/tokens"
)

// Kind discriminates a slot's variant.
type Kind int

const (
	// Idle holds the prefix tokens whose recurrent state currently
	// lives in the slot's GPU state region, and since records when it
	// became idle.
	Idle Kind = iota
	// Busy holds a running generation task.
	Busy
	// Locked is the brief transitional state held during admission's
	// decision + state load, before the slot becomes Busy.
	Locked
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Handle is what admission hands a slot when it transitions to Busy: a
// one-shot completion signal the maintenance loop awaits to reap the
// slot back to Idle.
type Handle struct {
	// Done is closed-over-send exactly once by the generation task: it
	// carries the final prefix to restore the slot to Idle with, or an
	// error if the task failed.
	Done chan Result
}

// Result is what a generation task reports on completion.
type Result struct {
	Prefix tokens.Sequence
	Err    error
}

// NewHandle returns a handle with a buffered one-slot completion channel
// so the task never blocks reporting its result.
func NewHandle() *Handle {
	return &Handle{Done: make(chan Result, 1)}
}

// State is one slot's current variant.
type State struct {
	Kind   Kind
	Prefix tokens.Sequence // valid when Kind == Idle
	Since  time.Time       // valid when Kind == Idle
	Task   *Handle         // valid when Kind == Busy
}

func idleState(prefix tokens.Sequence, since time.Time) State {
	return State{Kind: Idle, Prefix: prefix, Since: since}
}
