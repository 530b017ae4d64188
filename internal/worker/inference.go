package worker

import (
	"context"

	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/log"
)

// Inference is the inference worker: it owns the model runtime and the
// GPU-resident recurrent state, and serves Run/LoadState/BackState/
// WriteState/ReadState exclusively through its channels.
type Inference struct {
	inf       capability.Inference
	state     capability.State
	chunkSize int

	runCh   chan RunMsg
	loadCh  chan LoadStateMsg
	backCh  chan BackStateMsg
	writeCh chan WriteStateMsg
	readCh  chan ReadStateMsg
}

// NewInference builds an inference worker around inf/state with the
// given queue depth and token_chunk_size.
func NewInference(inf capability.Inference, state capability.State, chunkSize, queueDepth int) *Inference {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Inference{
		inf:       inf,
		state:     state,
		chunkSize: chunkSize,
		runCh:     make(chan RunMsg, queueDepth),
		loadCh:    make(chan LoadStateMsg, queueDepth),
		backCh:    make(chan BackStateMsg, queueDepth),
		writeCh:   make(chan WriteStateMsg, queueDepth),
		readCh:    make(chan ReadStateMsg, queueDepth),
	}
}

// RunCh returns the channel callers submit Run messages on.
func (w *Inference) RunCh() chan<- RunMsg { return w.runCh }

// LoadCh returns the channel callers submit LoadState messages on.
func (w *Inference) LoadCh() chan<- LoadStateMsg { return w.loadCh }

// BackCh returns the channel callers submit BackState messages on.
func (w *Inference) BackCh() chan<- BackStateMsg { return w.backCh }

// WriteCh returns the channel callers submit WriteState messages on.
func (w *Inference) WriteCh() chan<- WriteStateMsg { return w.writeCh }

// ReadCh returns the channel callers submit ReadState messages on.
func (w *Inference) ReadCh() chan<- ReadStateMsg { return w.readCh }

// Run drives the worker loop until ctx is canceled. State-capability
// requests are serviced synchronously between batch iterations, never
// concurrently with a forward pass on their slot.
func (w *Inference) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-w.loadCh:
			w.serviceLoad(ctx, m)
		case m := <-w.backCh:
			w.serviceBack(ctx, m)
		case m := <-w.writeCh:
			w.serviceWrite(ctx, m)
		case m := <-w.readCh:
			w.serviceRead(ctx, m)
		case m := <-w.runCh:
			queues := map[int][]RunMsg{m.Slot: {m}}
			w.drainRun(queues)
			w.driveBatches(ctx, queues)
		}
	}
}

// drainRun empties whatever is already queued on runCh into per-slot
// FIFOs without blocking.
func (w *Inference) drainRun(queues map[int][]RunMsg) {
	for {
		select {
		case m := <-w.runCh:
			queues[m.Slot] = append(queues[m.Slot], m)
		default:
			return
		}
	}
}

// driveBatches repeatedly takes at most one Run from the front of each
// slot's queue, chunks the aggregated input by chunkSize, and drives
// the model until every contributing slot's front request is served,
// until all queues are empty.
func (w *Inference) driveBatches(ctx context.Context, queues map[int][]RunMsg) {
	for {
		batch := make([]capability.SlotInput, 0, len(queues))
		front := make(map[int]RunMsg, len(queues))
		for slot, q := range queues {
			if len(q) == 0 {
				continue
			}
			m := q[0]
			front[slot] = m
			batch = append(batch, capability.SlotInput{Slot: slot, Tokens: m.Tokens, Option: m.Option})
		}
		if len(batch) == 0 {
			return
		}

		outs, err := w.inf.Run(ctx, batch, w.chunkSize)
		if err != nil {
			log.Error("inference worker: batch failed, dropping in-flight replies", "err", err)
			for slot, m := range front {
				queues[slot] = queues[slot][1:]
				select {
				case m.Reply <- RunReply{Err: err}:
				default:
				}
			}
			continue
		}

		bySlot := make(map[int]capability.SlotOutput, len(outs))
		for _, o := range outs {
			bySlot[o.Slot] = o
		}
		for slot, m := range front {
			queues[slot] = queues[slot][1:]
			out, ok := bySlot[slot]
			if !ok {
				continue
			}
			select {
			case m.Reply <- RunReply{Logits: out.Logits}:
			default:
			}
		}
	}
}

func (w *Inference) serviceLoad(ctx context.Context, m LoadStateMsg) {
	err := w.state.Load(ctx, m.Slot, m.Snapshot)
	if m.Reply != nil {
		select {
		case m.Reply <- err:
		default:
		}
	}
}

func (w *Inference) serviceBack(ctx context.Context, m BackStateMsg) {
	snap, err := w.state.Back(ctx, m.Slot)
	select {
	case m.Reply <- BackStateReply{Snapshot: snap, Err: err}:
	default:
	}
}

func (w *Inference) serviceWrite(ctx context.Context, m WriteStateMsg) {
	err := w.state.Write(ctx, m.Slot, m.Ref)
	if m.Reply != nil {
		select {
		case m.Reply <- err:
		default:
		}
	}
}

func (w *Inference) serviceRead(ctx context.Context, m ReadStateMsg) {
	ref, err := w.state.Read(ctx, m.Slot)
	select {
	case m.Reply <- ReadStateReply{Ref: ref, Err: err}:
	default:
	}
}
