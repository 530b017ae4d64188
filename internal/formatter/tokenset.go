package formatter

import (
	"math"

	mapset "github.com/deckarep/golang-set/v2"
)

// TokenSet is a worked example of the Formatter interface: it masks
// every token outside the allow list (when Allow is non-nil) and every
// token inside the deny list (when Deny is non-nil), and halts
// generation the first time a token in Halt is accepted. It exists for tests and as a minimal concrete
// Formatter alongside Noop.
type TokenSet struct {
	Allow mapset.Set[uint32]
	Deny  mapset.Set[uint32]
	Halt  mapset.Set[uint32]
}

var _ Formatter = (*TokenSet)(nil)

// NewTokenSet builds a TokenSet formatter. Passing a nil allow set means
// "allow everything not in deny"; passing a nil deny set means "deny
// nothing explicitly."
func NewTokenSet(allow, deny, halt mapset.Set[uint32]) *TokenSet {
	return &TokenSet{Allow: allow, Deny: deny, Halt: halt}
}

func (t *TokenSet) Transform(logits []float32) {
	for tok := range logits {
		id := uint32(tok)
		blocked := false
		if t.Allow != nil && !t.Allow.Contains(id) {
			blocked = true
		}
		if t.Deny != nil && t.Deny.Contains(id) {
			blocked = true
		}
		if blocked {
			logits[tok] = float32(math.Inf(-1))
		}
	}
}

func (t *TokenSet) Update(token uint32) bool {
	return t.Halt != nil && t.Halt.Contains(token)
}
