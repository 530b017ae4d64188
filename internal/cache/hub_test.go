package cache

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rwkvcore/scheduler/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFetchFallsBackToDefault(t *testing.T) {
	h := NewHub(256)
	unknown := uuid.New()
	assert.Same(t, h.def, h.Fetch(unknown))
}

func TestHubRegisterBindsOwnTrie(t *testing.T) {
	h := NewHub(256)
	id := uuid.New()
	h.Register(&InitState{ID: id, Name: "rwkv-7b"})
	assert.NotSame(t, h.def, h.Fetch(id))
}

func TestHubCheckoutEmptyOnMiss(t *testing.T) {
	h := NewHub(256)
	co := h.Checkout(uuid.New(), tokens.Sequence{1, 2, 3})
	assert.Empty(t, co.Prefix)
	assert.False(t, co.HasLogits)
}

func TestHubCommitThenCheckout(t *testing.T) {
	h := NewHub(256)
	id := uuid.New()
	seq := tokens.Sequence{1, 2, 3, 4}
	h.Commit(id, seq, []byte("state"), []float32{1, 2, 3})

	co := h.Checkout(id, tokens.Sequence{1, 2, 3, 4, 5})
	require.Equal(t, tokens.Sequence{1, 2, 3, 4}, co.Prefix)
	assert.True(t, co.HasLogits)
}

func TestHubCommitNoopOnExistingKey(t *testing.T) {
	h := NewHub(256)
	id := uuid.New()
	seq := tokens.Sequence{7, 8}
	h.Commit(id, seq, []byte("first"), nil)
	h.Commit(id, seq, []byte("second"), nil)

	trie := h.Fetch(id)
	cell, ok := trie.Get(seq)
	require.True(t, ok)
	state, _, _ := cell.Snapshot()
	assert.Equal(t, []byte("first"), []byte(state))
}

func TestHubReservePendingThenCommitIsNoop(t *testing.T) {
	h := NewHub(256)
	id := uuid.New()
	seq := tokens.Sequence{1}
	cell, ok := h.ReservePending(id, seq)
	require.True(t, ok)

	h.Commit(id, seq, []byte("should-not-apply"), nil)
	assert.False(t, cell.Resolved())
}

func TestHubMaintainAcrossAllTries(t *testing.T) {
	h := NewHub(2)
	id := uuid.New()
	h.Register(&InitState{ID: id})
	for i := 0; i < 5; i++ {
		h.Commit(id, tokens.Sequence{uint32(i)}, nil, nil)
		h.Commit(uuid.Nil, tokens.Sequence{uint32(i) + 100}, nil, nil)
	}
	h.Maintain()
	for _, trie := range h.Tries() {
		assert.LessOrEqual(t, trie.Count(), 2)
	}
}
