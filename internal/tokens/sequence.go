// Package tokens defines the token sequence type shared by the cache,
// slot, and generation packages.
package tokens

import "encoding/binary"

// Sequence is an ordered, immutable sequence of 32-bit token ids. It is
// used both as a cache key and as a worker message payload.
type Sequence []uint32

// Bytes returns a byte-wise view of the sequence suitable for trie
// indexing and hashing. The view is big-endian so that byte-prefix
// equality matches token-prefix equality.
func (s Sequence) Bytes() []byte {
	b := make([]byte, 4*len(s))
	for i, t := range s {
		binary.BigEndian.PutUint32(b[i*4:], t)
	}
	return b
}

// Clone returns an independent copy of the sequence.
func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	copy(out, s)
	return out
}

// Append returns a new sequence with tok appended, leaving s untouched.
func (s Sequence) Append(tok ...uint32) Sequence {
	out := make(Sequence, len(s)+len(tok))
	copy(out, s)
	copy(out[len(s):], tok)
	return out
}

// HasPrefix reports whether p is a prefix of s.
func (s Sequence) HasPrefix(p Sequence) bool {
	if len(p) > len(s) {
		return false
	}
	for i := range p {
		if s[i] != p[i] {
			return false
		}
	}
	return true
}

// Equal reports whether s and o hold the same tokens in the same order.
func (s Sequence) Equal(o Sequence) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// CommonPrefixLen returns the length of the longest common prefix of s and o.
func CommonPrefixLen(s, o Sequence) int {
	n := len(s)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if s[i] != o[i] {
			return i
		}
	}
	return n
}
