package capability

import (
	"context"

	"github.com/rwkvcore/scheduler/internal/tokens"
)

// Option selects which logits a Run contribution wants back.
type Option int

const (
	// Last returns only the logit vector for the final consumed position.
	Last Option = iota
	// Full returns a logit matrix, one row per consumed position.
	Full
)

// SlotInput is one slot's contribution to a batched Run call. A slot
// with a zero-length Tokens contributes nothing to the batch.
type SlotInput struct {
	Slot   int
	Tokens tokens.Sequence
	Option Option
}

// SlotOutput carries the logits a contributing slot asked for: a single
// row when Option was Last, or one row per consumed token when Full.
type SlotOutput struct {
	Slot   int
	Logits [][]float32
}

// Inference is the model-runtime capability the scheduler drives. It
// owns the GPU-resident recurrent state and the matrix kernels; the
// scheduler only ever calls Run in chunk-sized batches.
//
// Implementations must chunk the aggregated input by chunkSize tokens
// and drive the model forward until every contributing slot has
// consumed all of its tokens. A backend error aborts the whole batch;
// the core treats that as "drop the in-flight replies and continue."
type Inference interface {
	Run(ctx context.Context, batch []SlotInput, chunkSize int) ([]SlotOutput, error)
}
