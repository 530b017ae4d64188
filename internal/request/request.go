// Package request defines the parameters a caller hands the admission
// loop for one generation.
package request

import (
	"github.com/google/uuid"
	"github.com/rwkvcore/scheduler/internal/event"
	"github.com/rwkvcore/scheduler/internal/formatter"
	"github.com/rwkvcore/scheduler/internal/sampler"
	"github.com/rwkvcore/scheduler/internal/tokens"
)

// Kind discriminates the terminal behavior of a generation task.
type Kind int

const (
	// Generate runs ordinary sample/decode/stop-detect until Stop.
	Generate Kind = iota
	// Choose evaluates Choices and emits a Choose event instead of content.
	Choose
	// State reads back the slot state and emits an Embed event.
	State
)

// ThinkingTag marks a byte span of the staging buffer that should be
// emitted as Thinking events instead of Content.
type ThinkingTag struct {
	Start []byte
	End   []byte
}

// Params are the per-request generation parameters named in the
// generation context: stop strings, bias map, and terminal mode.
type Params struct {
	MaxTokens   int
	StopStrings []string
	Bias        map[uint32]float32

	Kind    Kind
	Choices []tokens.Sequence // Kind == Choose
	Calibrate bool            // Kind == Choose

	Thinking *ThinkingTag
}

// Request is one admission-loop input: an initial-state id, the prompt
// tokens, generation parameters, the per-request capability instances,
// and the channel the task will publish events to.
type Request struct {
	ID          uuid.UUID
	InitStateID uuid.UUID
	Prompt      tokens.Sequence
	Params      Params

	Formatters []formatter.Formatter
	Sampler    sampler.Sampler

	Downstream     chan<- event.Event
	DownstreamDone <-chan struct{}
}
