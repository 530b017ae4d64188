// Package scheduler wires the slot table, the cache hub, the inference
// and softmax workers, and the generation task together into the
// admission and maintenance loops of spec.md §4.9/§4.10. A Scheduler
// is the "one long-lived scheduler value" described in spec.md §9's
// design notes: it owns the slot table, the cache hub, a cloneable
// sender to each worker, and a tokenizer.
package scheduler

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rwkvcore/scheduler/internal/cache"
	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/generate"
	"github.com/rwkvcore/scheduler/internal/request"
	"github.com/rwkvcore/scheduler/internal/slot"
	"github.com/rwkvcore/scheduler/internal/worker"
	"golang.org/x/sync/semaphore"
)

// Config bundles the construction-time knobs a Scheduler needs.
// MaxBatch is the per-run max_batch; token_chunk_size is handed to the
// inference worker instead. MIN_PROMPT_CACHE_TOKENS and MAX_CACHE_ITEMS
// stay build-time constants in internal/generate.
type Config struct {
	MaxBatch   int
	QueueDepth int
	// StateConcurrency bounds concurrent BackState/ReadState round-trips
	// all generation tasks together may have in flight against the
	// inference worker. Zero means unbounded.
	StateConcurrency int64
	RetrySleep       time.Duration
}

// Scheduler owns the slot table, the cache hub, and the channels into
// the inference and softmax workers. It is safe for concurrent use by
// the admission loop and any caller of Submit.
type Scheduler struct {
	table     *slot.Table
	hub       *cache.Hub
	tokenizer capability.Tokenizer

	workers  generate.WorkerSenders
	stateSem *semaphore.Weighted

	requests chan *request.Request

	retryMu sync.Mutex
	retry   []*request.Request

	// faulted is a small LRU of recently Fault-ed slot indices, used
	// only for logging/metrics -- it never gates admission decisions.
	faulted *lru.Cache

	retrySleep time.Duration
}

// New builds a Scheduler around an already-constructed cache hub,
// tokenizer, and a running inference/softmax worker pair.
func New(cfg Config, hub *cache.Hub, tokenizer capability.Tokenizer, inf *worker.Inference, sm *worker.Softmax) *Scheduler {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.RetrySleep <= 0 {
		cfg.RetrySleep = time.Second
	}

	var sem *semaphore.Weighted
	if cfg.StateConcurrency > 0 {
		sem = semaphore.NewWeighted(cfg.StateConcurrency)
	}

	faulted, _ := lru.New(64) // size is a positive constant; New only fails for size <= 0.

	return &Scheduler{
		table:     slot.NewTable(cfg.MaxBatch),
		hub:       hub,
		tokenizer: tokenizer,
		workers: generate.WorkerSenders{
			Run:     inf.RunCh(),
			Load:    inf.LoadCh(),
			Back:    inf.BackCh(),
			Write:   inf.WriteCh(),
			Read:    inf.ReadCh(),
			Softmax: sm.SubmitCh(),
		},
		stateSem:   sem,
		requests:   make(chan *request.Request, cfg.QueueDepth),
		faulted:    faulted,
		retrySleep: cfg.RetrySleep,
	}
}

// Table exposes the slot table, mostly for tests and the admin surface.
func (s *Scheduler) Table() *slot.Table { return s.table }

// BusySlotCount implements internal/httpadmin.HealthReporter.
func (s *Scheduler) BusySlotCount() int { return len(s.table.BusySlots()) }

// SlotCount implements internal/httpadmin.HealthReporter.
func (s *Scheduler) SlotCount() int { return s.table.Len() }

// Hub exposes the cache hub, mostly for tests and the admin surface.
func (s *Scheduler) Hub() *cache.Hub { return s.hub }

// Submit enqueues r onto the admission loop's input channel, blocking
// until there is room or ctx is canceled.
func (s *Scheduler) Submit(ctx context.Context, r *request.Request) bool {
	select {
	case s.requests <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close signals the admission loop to exit once its input channel
// drains, per spec.md §4.9 ("exits when the input channel closes").
func (s *Scheduler) Close() { close(s.requests) }
