package cache

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/tokens"
)

// exactIndexSize bounds the secondary exact-key LRU index. It is sized
// generously relative to MaxCacheItems since the index only accelerates
// lookups the trie would otherwise have to walk for.
const exactIndexSize = 4096

type node struct {
	token    uint32
	children map[uint64]*node
	cell     *Cell
}

func newNode() *node { return &node{children: make(map[uint64]*node)} }

func childKey(tok uint32) uint64 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], tok)
	return xxhash.Sum64(b[:])
}

func exactKey(seq tokens.Sequence) uint64 { return xxhash.Sum64(seq.Bytes()) }

// Entry is one (key, cell) pair returned by Iterate.
type Entry struct {
	Seq  tokens.Sequence
	Cell *Cell
}

// Trie is a prefix tree over token sequences, one per registered
// initial state (or the hub's default). It answers longest-common-
// prefix over resolved cells by walking the tree, and keeps a secondary
// exact-key index so exact-key lookups (Get, Contains, the commit
// duplicate-check, ReservePending) need not walk it.
type Trie struct {
	mu        sync.RWMutex
	root      *node
	index     *lru.Cache
	initState capability.Snapshot
	clock     uint64
}

// NewTrie builds an empty trie whose configured per-id initial state is
// initState (nil means "use a zeroed snapshot on miss").
func NewTrie(initState capability.Snapshot) *Trie {
	idx, err := lru.New(exactIndexSize)
	if err != nil {
		// lru.New only fails for size <= 0, which exactIndexSize never is.
		panic(err)
	}
	return &Trie{root: newNode(), index: idx, initState: initState}
}

// InitState returns the trie's configured initial snapshot, or nil if
// none was registered.
func (t *Trie) InitState() capability.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.initState
}

// nextTick returns a fresh monotonically increasing logical timestamp.
// Callers must hold t.mu for writing.
func (t *Trie) nextTick() *uint256.Int {
	t.clock++
	return uint256.NewInt(t.clock)
}

// Tick is the exported form of nextTick, used by the hub to stamp cells
// it resolves or touches on this trie.
func (t *Trie) Tick() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextTick()
}

// LongestResolvedPrefix walks seq and returns the length of the longest
// stored prefix that has a resolved cell, plus that cell. A pending
// cell along the path does not count as a hit and does not stop the
// walk. Returns (0, nil) if no resolved prefix exists.
func (t *Trie) LongestResolvedPrefix(seq tokens.Sequence) (int, *Cell) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.root
	best := 0
	var bestCell *Cell
	for i, tok := range seq {
		child, ok := n.children[childKey(tok)]
		if !ok || child.token != tok {
			break
		}
		n = child
		if n.cell != nil && n.cell.Resolved() {
			best = i + 1
			bestCell = n.cell
		}
	}
	return best, bestCell
}

// Get returns the cell stored at exactly seq, if any (pending or resolved).
func (t *Trie) Get(seq tokens.Sequence) (*Cell, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getLocked(seq)
}

func (t *Trie) getLocked(seq tokens.Sequence) (*Cell, bool) {
	if v, ok := t.index.Get(exactKey(seq)); ok {
		n := v.(*node)
		if n.cell != nil {
			return n.cell, true
		}
	}
	return nil, false
}

// Contains reports whether seq has a cell (pending or resolved) stored
// at exactly that key.
func (t *Trie) Contains(seq tokens.Sequence) bool {
	_, ok := t.Get(seq)
	return ok
}

// Insert stores cell at exactly seq. No key is ever the empty sequence.
func (t *Trie) Insert(seq tokens.Sequence, cell *Cell) {
	if len(seq) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.root
	for _, tok := range seq {
		key := childKey(tok)
		child, ok := n.children[key]
		if !ok || child.token != tok {
			child = newNode()
			child.token = tok
			n.children[key] = child
		}
		n = child
	}
	n.cell = cell
	t.index.Add(exactKey(seq), n)
}

// Remove deletes whatever cell is stored at exactly seq, if any.
func (t *Trie) Remove(seq tokens.Sequence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.root
	for _, tok := range seq {
		child, ok := n.children[childKey(tok)]
		if !ok {
			return
		}
		n = child
	}
	n.cell = nil
	t.index.Remove(exactKey(seq))
}

// Count returns the number of resolved cells in the trie. Pending cells
// do not count.
func (t *Trie) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	t.walkLocked(t.root, nil, func(Entry) { n++ }, true)
	return n
}

// Iterate returns every resolved (key, cell) pair in the trie.
func (t *Trie) Iterate() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	t.walkLocked(t.root, nil, func(e Entry) { out = append(out, e) }, true)
	return out
}

func (t *Trie) walkLocked(n *node, path tokens.Sequence, visit func(Entry), resolvedOnly bool) {
	if n.cell != nil && (!resolvedOnly || n.cell.Resolved()) {
		visit(Entry{Seq: path, Cell: n.cell})
	}
	for _, c := range n.children {
		t.walkLocked(c, path.Append(c.token), visit, resolvedOnly)
	}
}

// Maintain evicts resolved cells in ascending timestamp order until at
// most maxItems remain. Pending cells are never evicted.
func (t *Trie) Maintain(maxItems int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var entries []Entry
	t.walkLocked(t.root, nil, func(e Entry) { entries = append(entries, e) }, true)
	if len(entries) <= maxItems {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Cell.Timestamp().Lt(entries[j].Cell.Timestamp())
	})
	evict := entries[:len(entries)-maxItems]
	for _, e := range evict {
		t.removeLocked(e.Seq)
	}
}

func (t *Trie) removeLocked(seq tokens.Sequence) {
	n := t.root
	for _, tok := range seq {
		child, ok := n.children[childKey(tok)]
		if !ok {
			return
		}
		n = child
	}
	n.cell = nil
	t.index.Remove(exactKey(seq))
}

// ReservePending inserts a pending cell at exactly seq, unless a cell
// (pending or resolved) already exists there, in which case it returns
// (nil, false) and does not touch the trie.
func (t *Trie) ReservePending(seq tokens.Sequence) (*Cell, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.getLocked(seq); ok {
		return nil, false
	}
	cell := NewPendingCell()
	n := t.root
	for _, tok := range seq {
		key := childKey(tok)
		child, ok := n.children[key]
		if !ok || child.token != tok {
			child = newNode()
			child.token = tok
			n.children[key] = child
		}
		n = child
	}
	n.cell = cell
	t.index.Add(exactKey(seq), n)
	return cell, true
}
