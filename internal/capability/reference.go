package capability

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/rwkvcore/scheduler/internal/tokens"
)

// Reference is a minimal, deterministic stand-in for a real model
// runtime: enough to drive the scheduler and generation task
// end-to-end for wiring smoke tests, the same role consensus/satoshi.go's
// development shortcuts play for go-ethereum's consensus engine when no
// real backend is configured. Model-weight loading and GPU kernel
// selection remain out of scope (spec.md's Non-goals); this is not,
// and is not meant to be, a real RWKV implementation.
//
// Its "recurrent state" is just the running sum of consumed token ids
// per slot, encoded as a 4-byte little-endian snapshot, and its logits
// are a one-hot vector favoring (sum mod vocab) -- enough to give a
// fixed prompt a deterministic, reproducible generation path.
type Reference struct {
	vocab int

	mu   sync.Mutex
	sums map[int]uint32
}

// NewReference builds a reference backend whose logit vectors are
// vocab-wide.
func NewReference(vocab int) *Reference {
	if vocab <= 0 {
		vocab = 256
	}
	return &Reference{vocab: vocab, sums: make(map[int]uint32)}
}

// Run implements Inference: it advances each contributing slot's
// running sum by its tokens and returns the logits that running sum
// selects.
func (r *Reference) Run(ctx context.Context, batch []SlotInput, chunkSize int) ([]SlotOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SlotOutput, len(batch))
	for i, in := range batch {
		sum := r.sums[in.Slot]
		var rows [][]float32
		if in.Option == Full {
			rows = make([][]float32, 0, len(in.Tokens))
		}
		for _, tok := range in.Tokens {
			sum += tok
			if in.Option == Full {
				rows = append(rows, r.row(sum))
			}
		}
		if in.Option != Full {
			rows = [][]float32{r.row(sum)}
		}
		r.sums[in.Slot] = sum
		out[i] = SlotOutput{Slot: in.Slot, Logits: rows}
	}
	return out, nil
}

func (r *Reference) row(sum uint32) []float32 {
	row := make([]float32, r.vocab)
	row[int(sum)%r.vocab] = 4
	return row
}

// Init implements State: an all-zero running sum.
func (r *Reference) Init() Snapshot { return encodeSum(0) }

// Load implements State: overwrites slot's running sum.
func (r *Reference) Load(ctx context.Context, slot int, snapshot Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sums[slot] = decodeSum(snapshot)
	return nil
}

// Back implements State: reads back slot's running sum.
func (r *Reference) Back(ctx context.Context, slot int) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return encodeSum(r.sums[slot]), nil
}

// Write implements State. The reference backend has no device-side
// shuffle, so this always fails as the capability contract allows.
func (r *Reference) Write(ctx context.Context, slot int, ref DeviceRef) error {
	return ErrUnsupported
}

// Read implements State, for the same reason as Write.
func (r *Reference) Read(ctx context.Context, slot int) (DeviceRef, error) {
	return DeviceRef{}, ErrUnsupported
}

// ReferenceTokenizer is a byte-identity tokenizer: token id N is byte
// value N, so encode/decode round-trip without a real vocabulary.
// Tokenizer construction is out of scope (spec.md's Non-goals), and
// this exists for the same reason Reference does: it lets cmd/rwkv-infer
// run end to end against a real Tokenizer capability instead of a test
// fake.
type ReferenceTokenizer struct {
	table [][]byte
}

// NewReferenceTokenizer builds a 256-entry byte-identity tokenizer.
func NewReferenceTokenizer() *ReferenceTokenizer {
	table := make([][]byte, 256)
	for i := range table {
		table[i] = []byte{byte(i)}
	}
	return &ReferenceTokenizer{table: table}
}

// Encode implements Tokenizer.
func (t *ReferenceTokenizer) Encode(data []byte) (tokens.Sequence, error) {
	out := make(tokens.Sequence, len(data))
	for i, b := range data {
		out[i] = uint32(b)
	}
	return out, nil
}

// Decode implements Tokenizer.
func (t *ReferenceTokenizer) Decode(seq tokens.Sequence) ([]byte, error) {
	out := make([]byte, len(seq))
	for i, tok := range seq {
		if tok > 255 {
			return nil, ErrUnsupported
		}
		out[i] = byte(tok)
	}
	return out, nil
}

// TokenIndexToBytes implements Tokenizer.
func (t *ReferenceTokenizer) TokenIndexToBytes() [][]byte { return t.table }

func encodeSum(v uint32) Snapshot {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return Snapshot(b)
}

func decodeSum(s Snapshot) uint32 {
	if len(s) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(s)
}
