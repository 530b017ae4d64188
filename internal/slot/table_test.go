package slot

import (
	"testing"
	"time"

	"github.com/rwkvcore/scheduler/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPrefersContinueOverEmptyOverBack(t *testing.T) {
	now := time.Now()
	states := []State{
		idleState(tokens.Sequence{9, 9, 9}, now),              // Back
		idleState(nil, now),                                   // Empty
		idleState(tokens.Sequence{1, 2}, now.Add(time.Second)), // Continue
	}
	choice := Classify(states, tokens.Sequence{1, 2, 3})
	assert.Equal(t, Success, choice.Kind)
	assert.Equal(t, 2, choice.Slot)
	assert.Equal(t, 2, choice.MatchLen)
}

func TestClassifyLongerContinueWins(t *testing.T) {
	now := time.Now()
	states := []State{
		idleState(tokens.Sequence{1}, now),
		idleState(tokens.Sequence{1, 2}, now),
	}
	choice := Classify(states, tokens.Sequence{1, 2, 3})
	assert.Equal(t, Success, choice.Kind)
	assert.Equal(t, 1, choice.Slot)
	assert.Equal(t, 2, choice.MatchLen)
}

func TestClassifyOlderSinceWinsWithinClass(t *testing.T) {
	older := time.Now()
	newer := older.Add(time.Minute)
	states := []State{
		idleState(nil, newer),
		idleState(nil, older),
	}
	choice := Classify(states, tokens.Sequence{1})
	assert.Equal(t, 1, choice.Slot)
}

func TestClassifyBackWhenNotAPrefix(t *testing.T) {
	now := time.Now()
	states := []State{idleState(tokens.Sequence{5, 6, 7}, now)}
	choice := Classify(states, tokens.Sequence{1, 2})
	assert.Equal(t, Fault, choice.Kind)
	assert.Equal(t, 0, choice.Slot)
}

func TestClassifyExactMatchIsBackNotContinue(t *testing.T) {
	now := time.Now()
	states := []State{idleState(tokens.Sequence{1, 2}, now)}
	choice := Classify(states, tokens.Sequence{1, 2})
	assert.Equal(t, Fault, choice.Kind)
}

func TestClassifyFailureWhenNoIdleSlot(t *testing.T) {
	states := []State{{Kind: Busy}, {Kind: Locked}}
	choice := Classify(states, tokens.Sequence{1})
	assert.Equal(t, Failure, choice.Kind)
}

func TestTableAdmitLocksChosenSlot(t *testing.T) {
	tb := NewTable(2)
	choice := tb.Admit(tokens.Sequence{1, 2, 3})
	require.Equal(t, Success, choice.Kind)
	snap := tb.Snapshot()
	assert.Equal(t, Locked, snap[choice.Slot].Kind)
}

func TestTableActivateRequiresLocked(t *testing.T) {
	tb := NewTable(1)
	assert.Panics(t, func() { tb.Activate(0, NewHandle()) })
}

func TestTableLifecycle(t *testing.T) {
	tb := NewTable(1)
	choice := tb.Admit(tokens.Sequence{1, 2})
	require.Equal(t, Success, choice.Kind)

	h := NewHandle()
	tb.Activate(choice.Slot, h)
	handle, ok := tb.BusyHandle(choice.Slot)
	require.True(t, ok)
	assert.Same(t, h, handle)

	tb.Release(choice.Slot, tokens.Sequence{1, 2, 3})
	snap := tb.Snapshot()
	assert.Equal(t, Idle, snap[choice.Slot].Kind)
	assert.Equal(t, tokens.Sequence{1, 2, 3}, snap[choice.Slot].Prefix)
}
