package capability

import "github.com/rwkvcore/scheduler/internal/tokens"

// Tokenizer converts between raw bytes and token sequences. Decoding may
// fail on an isolated, mid-sequence token; the core treats that failure
// as a soft stop rather than propagating it.
type Tokenizer interface {
	Encode(data []byte) (tokens.Sequence, error)
	Decode(seq tokens.Sequence) ([]byte, error)
	TokenIndexToBytes() [][]byte
}
