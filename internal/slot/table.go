package slot

import (
	"sync"
	"time"

	"github.com/rwkvcore/scheduler/internal/tokens"
)

// ChoiceKind discriminates the scheduler's admission decision.
type ChoiceKind int

const (
	// Success means the slot was Empty or Continue: admission may load
	// a real checked-out prefix and proceed.
	Success ChoiceKind = iota
	// Fault means the slot was Back: a previously-held prefix is being
	// discarded to seat this request.
	Fault
	// Failure means every slot is Busy or Locked; the caller must retry.
	Failure
	// Error means a precondition failed before any slot was touched
	// (e.g. an unconstructable formatter); reported out-of-band.
	Error
)

// Choice is the scheduler's classification of one admission decision.
type Choice struct {
	Kind     ChoiceKind
	Slot     int
	MatchLen int
	Err      error
}

// class is the per-slot classification used only to rank candidates
// during Classify; it never escapes this package.
type class int

const (
	classContinue class = iota
	classEmpty
	classBack
)

// Classify picks the best Idle slot for seq from a snapshot of slot
// states, per spec.md §4.2's strict priority: Continue > Empty > Back;
// within Continue, longer matched length wins; within a class, older
// since wins. It is a pure function so the priority rule itself is
// directly testable without the table's locking.
func Classify(states []State, seq tokens.Sequence) Choice {
	best := -1
	var bestClass class
	bestMatch := -1
	var bestSince time.Time

	for i, s := range states {
		if s.Kind != Idle {
			continue
		}
		var cls class
		match := 0
		switch {
		case len(s.Prefix) == 0:
			cls = classEmpty
		case seq.HasPrefix(s.Prefix) && len(s.Prefix) < len(seq):
			cls = classContinue
			match = len(s.Prefix)
		default:
			cls = classBack
		}

		if best == -1 || better(cls, match, s.Since, bestClass, bestMatch, bestSince) {
			best = i
			bestClass = cls
			bestMatch = match
			bestSince = s.Since
		}
	}

	if best == -1 {
		return Choice{Kind: Failure}
	}
	kind := Success
	if bestClass == classBack {
		kind = Fault
	}
	return Choice{Kind: kind, Slot: best, MatchLen: bestMatch}
}

// better reports whether a candidate (cls, match, since) outranks the
// current best (bestCls, bestMatch, bestSince).
func better(cls class, match int, since time.Time, bestCls class, bestMatch int, bestSince time.Time) bool {
	if cls != bestCls {
		return cls < bestCls // classContinue(0) < classEmpty(1) < classBack(2)
	}
	if cls == classContinue && match != bestMatch {
		return match > bestMatch
	}
	return since.Before(bestSince)
}

// Table is the fixed-size vector of max_batch batch slots.
type Table struct {
	mu    sync.Mutex
	slots []State
}

// NewTable builds a table of n slots, every one Idle(empty, now).
func NewTable(n int) *Table {
	now := time.Now()
	slots := make([]State, n)
	for i := range slots {
		slots[i] = idleState(nil, now)
	}
	return &Table{slots: slots}
}

// Len returns the number of slots in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Snapshot returns a copy of every slot's current state.
func (t *Table) Snapshot() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, len(t.slots))
	copy(out, t.slots)
	return out
}

// Admit runs Classify against the table's current state and, on
// Success or Fault, atomically transitions the chosen slot to Locked in
// the same critical section so no other admission can observe it Idle
// in between.
func (t *Table) Admit(seq tokens.Sequence) Choice {
	t.mu.Lock()
	defer t.mu.Unlock()
	choice := Classify(t.slots, seq)
	if choice.Kind == Success || choice.Kind == Fault {
		t.slots[choice.Slot] = State{Kind: Locked}
	}
	return choice
}

// Activate transitions a Locked slot to Busy with the given task
// handle. Invariant: a slot is never Busy without first being Locked.
func (t *Table) Activate(i int, task *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[i].Kind != Locked {
		panic("slot: Activate called on a non-Locked slot")
	}
	t.slots[i] = State{Kind: Busy, Task: task}
}

// Release transitions a Busy slot back to Idle with the given prefix,
// as the maintenance loop does when it reaps a completed task.
func (t *Table) Release(i int, prefix tokens.Sequence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[i] = idleState(prefix, time.Now())
}

// BusyHandle returns the Handle of slot i if it is currently Busy.
func (t *Table) BusyHandle(i int) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slots[i]
	if s.Kind != Busy {
		return nil, false
	}
	return s.Task, true
}

// BusySlots returns the indices currently Busy, for the maintenance
// loop to poll.
func (t *Table) BusySlots() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []int
	for i, s := range t.slots {
		if s.Kind == Busy {
			out = append(out, i)
		}
	}
	return out
}
