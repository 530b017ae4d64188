// Package generate implements the per-request generation task: the
// state machine of spec.md §4.3 that drives prefill, sampling, decode,
// stop detection, and cache commit for one admitted request.
package generate

import (
	"time"

	"github.com/google/uuid"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rwkvcore/scheduler/internal/cache"
	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/event"
	"github.com/rwkvcore/scheduler/internal/formatter"
	"github.com/rwkvcore/scheduler/internal/request"
	"github.com/rwkvcore/scheduler/internal/sampler"
	"github.com/rwkvcore/scheduler/internal/slot"
	"github.com/rwkvcore/scheduler/internal/tokens"
	"github.com/rwkvcore/scheduler/internal/worker"
	"golang.org/x/sync/semaphore"
)

// MinPromptCacheTokens and MaxCacheItems are the process-global
// constants named in spec.md §6/§9. They are deliberately not
// configuration: promoting them to config would reintroduce the global
// mutable state the spec's design notes explicitly avoid.
const (
	MinPromptCacheTokens = 32
	MaxCacheItems         = 256
)

// WorkerSenders is the subset of the inference and softmax workers' API
// a generation task needs: plain channel senders, never the workers
// themselves, so a task cannot observe or disturb another slot's queue.
type WorkerSenders struct {
	Run     chan<- worker.RunMsg
	Load    chan<- worker.LoadStateMsg
	Back    chan<- worker.BackStateMsg
	Write   chan<- worker.WriteStateMsg
	Read    chan<- worker.ReadStateMsg
	Softmax chan<- worker.ComputeMsg
}

// Deps are the task's external collaborators beyond the slot table.
type Deps struct {
	Hub       *cache.Hub
	Tokenizer capability.Tokenizer
	Workers   WorkerSenders

	// StateSem bounds how many BackState/ReadState round-trips every
	// task sharing it may have in flight against the inference worker
	// at once, so a burst of completions can't starve new Run
	// submissions. Nil means unbounded (the default in tests).
	StateSem *semaphore.Weighted
}

// Task is one active generation: the per-request working set of
// spec.md §3's "generation context" plus the machinery to drive it
// through §4.3.
type Task struct {
	ID          uuid.UUID
	InitStateID uuid.UUID
	Slot        int
	Handle      *slot.Handle

	promptTokens tokens.Sequence
	prefix       tokens.Sequence
	suffix       tokens.Sequence
	lastLogits   []float32
	hasLogits    bool

	generatedTokens []uint32
	staging         []byte

	formatters []formatter.Formatter
	sampler    sampler.Sampler
	params     request.Params
	stopSet    mapset.Set[string]

	pending         *cache.Cell
	pendingReserved bool
	pendingDone     bool
	cachedTokens    int

	downstream     chan<- event.Event
	downstreamDone <-chan struct{}

	deps Deps

	prefillStart time.Time
	decodeStart  time.Time
}

// New builds a Task from an admitted request, the checked-out
// prefix/state already loaded into slotIdx by the scheduler, and the
// capability collaborators it will drive.
func New(
	id uuid.UUID,
	initStateID uuid.UUID,
	slotIdx int,
	handle *slot.Handle,
	prompt tokens.Sequence,
	checkedOutPrefix tokens.Sequence,
	checkedOutLogits []float32,
	hasLogits bool,
	params request.Params,
	formatters []formatter.Formatter,
	samp sampler.Sampler,
	downstream chan<- event.Event,
	downstreamDone <-chan struct{},
	deps Deps,
) *Task {
	stops := mapset.NewThreadUnsafeSet[string]()
	for _, s := range params.StopStrings {
		stops.Add(s)
	}

	// Prime the sampler with every token already in context (the
	// checked-out prefix plus the rest of the prompt), mirroring
	// ai00-core's run.rs calling sampler.init(&model_tokens) once at
	// generation setup. Skipping this leaves stateful samplers
	// (repetition penalties, etc.) initialized as if the prompt were
	// empty.
	samp.Init(prompt)

	return &Task{
		ID:              id,
		InitStateID:     initStateID,
		Slot:            slotIdx,
		Handle:          handle,
		promptTokens:    prompt,
		prefix:          checkedOutPrefix,
		suffix:          prompt[len(checkedOutPrefix):],
		lastLogits:      checkedOutLogits,
		hasLogits:       hasLogits,
		cachedTokens:    len(checkedOutPrefix),
		formatters:      formatters,
		sampler:         samp,
		params:          params,
		stopSet:         stops,
		downstream:      downstream,
		downstreamDone:  downstreamDone,
		deps:            deps,
	}
}

func (t *Task) emit(ev event.Event) {
	select {
	case t.downstream <- ev:
	case <-t.downstreamDone:
	}
}

func (t *Task) disconnected() bool {
	if t.downstreamDone == nil {
		return false
	}
	select {
	case <-t.downstreamDone:
		return true
	default:
		return false
	}
}
