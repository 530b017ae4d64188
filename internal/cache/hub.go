package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/tokens"
	"golang.org/x/sync/errgroup"
)

// InitState binds an opaque 128-bit identity to a name, a default flag,
// and the initial recurrent-state snapshot every trie bound to it
// starts from.
type InitState struct {
	ID      uuid.UUID
	Name    string
	Default bool
	State   capability.Snapshot
}

// Hub is the cache hub: a default trie plus a map from initial-state
// identity to (InitState, Trie). Fetch never fails; an unregistered id
// falls back to the default trie.
type Hub struct {
	mu       sync.RWMutex
	def      *Trie
	byID     map[uuid.UUID]*registration
	maxItems int
}

type registration struct {
	init *InitState
	trie *Trie
}

// NewHub builds an empty hub with a fresh default trie. maxItems bounds
// every trie's resolved-cell count (spec.md's MAX_CACHE_ITEMS).
func NewHub(maxItems int) *Hub {
	return &Hub{
		def:      NewTrie(nil),
		byID:     make(map[uuid.UUID]*registration),
		maxItems: maxItems,
	}
}

// Fetch returns the trie bound to id, or the default trie if id is not
// registered. Never fails.
func (h *Hub) Fetch(id uuid.UUID) *Trie {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if reg, ok := h.byID[id]; ok {
		return reg.trie
	}
	return h.def
}

// Register binds id to a trie initialized with init's snapshot. A
// second call for the same id overwrites the binding with a fresh trie.
func (h *Hub) Register(init *InitState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[init.ID] = &registration{init: init, trie: NewTrie(init.State)}
}

// Checkout is the result of a prefix lookup: the longest resolved
// prefix of the query, its state snapshot, and the last logits if any
// were recorded for that prefix.
type Checkout struct {
	Prefix     tokens.Sequence
	State      capability.Snapshot
	LastLogits []float32
	HasLogits  bool
}

// Checkout returns the longest stored prefix of tokens that has a
// resolved cell, along with that cell's state and last logits. If no
// resolved prefix exists it returns an empty prefix and the trie's
// configured initial state, or an empty (zero-length) snapshot if none
// was registered; the hub does not build a zero-filled snapshot of the
// model's state shape itself.
func (h *Hub) Checkout(id uuid.UUID, seq tokens.Sequence) Checkout {
	trie := h.Fetch(id)
	n, cell := trie.LongestResolvedPrefix(seq)
	if n <= 0 || cell == nil {
		init := trie.InitState()
		if init == nil {
			init = capability.Snapshot{}
		}
		return Checkout{State: init}
	}
	state, logits, _ := cell.Snapshot()
	cell.Touch(trie.Tick())
	return Checkout{Prefix: seq[:n], State: state, LastLogits: logits, HasLogits: logits != nil}
}

// Commit inserts a resolved cell at exactly tokens. It is a silent
// no-op if a cell (pending or resolved) already exists at that exact
// key; pending cells are resolved through their own handle, not
// through Commit.
func (h *Hub) Commit(id uuid.UUID, seq tokens.Sequence, state capability.Snapshot, logits []float32) {
	trie := h.Fetch(id)
	if trie.Contains(seq) {
		return
	}
	cell := NewResolvedCell(state, logits, trie.Tick())
	trie.Insert(seq, cell)
}

// ReservePending reserves a pending cell at exactly seq on the trie
// bound to id, returning the publishing handle. Returns (nil, false) if
// a cell already exists there.
func (h *Hub) ReservePending(id uuid.UUID, seq tokens.Sequence) (*Cell, bool) {
	return h.Fetch(id).ReservePending(seq)
}

// Tries returns every trie currently registered, including the
// default, for the maintenance loop to fan out over.
func (h *Hub) Tries() []*Trie {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Trie, 0, len(h.byID)+1)
	out = append(out, h.def)
	for _, reg := range h.byID {
		out = append(out, reg.trie)
	}
	return out
}

// Maintain runs maintain() on every trie sequentially. The scheduler's
// maintenance loop prefers MaintainConcurrent for the errgroup fan-out,
// but this remains for single-trie callers and tests.
func (h *Hub) Maintain() {
	for _, t := range h.Tries() {
		t.Maintain(h.maxItems)
	}
}

// MaintainConcurrent runs maintain() on every trie in parallel via an
// errgroup, per spec.md §4.10's "call maintain() on every trie in the
// cache hub". Each trie's maintain() holds only its own lock, so the
// fan-out never contends across tries.
func (h *Hub) MaintainConcurrent(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, t := range h.Tries() {
		t := t
		g.Go(func() error {
			t.Maintain(h.maxItems)
			return nil
		})
	}
	return g.Wait()
}

// MaxItems returns the configured per-trie capacity bound.
func (h *Hub) MaxItems() int { return h.maxItems }
