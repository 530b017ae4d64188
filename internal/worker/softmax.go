package worker

import (
	"context"

	"github.com/rwkvcore/scheduler/internal/capability"
)

// ComputeMsg asks the softmax worker to turn Logits into a probability
// vector.
type ComputeMsg struct {
	Logits []float32
	Reply  chan ComputeReply
}

type ComputeReply struct {
	Probs []float32
	Err   error
}

// Softmax is the softmax worker: it drains its input channel, coalesces
// everything pending into a single capability call, and returns each
// probability vector on its own reply channel.
type Softmax struct {
	sm capability.Softmax
	ch chan ComputeMsg
}

// NewSoftmax builds a softmax worker around sm with the given queue depth.
func NewSoftmax(sm capability.Softmax, queueDepth int) *Softmax {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Softmax{sm: sm, ch: make(chan ComputeMsg, queueDepth)}
}

// SubmitCh returns the channel callers submit ComputeMsg on.
func (w *Softmax) SubmitCh() chan<- ComputeMsg { return w.ch }

// Run drives the worker loop until ctx is canceled.
func (w *Softmax) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-w.ch:
			batch := w.drain([]ComputeMsg{m})
			w.compute(ctx, batch)
		}
	}
}

func (w *Softmax) drain(batch []ComputeMsg) []ComputeMsg {
	for {
		select {
		case m := <-w.ch:
			batch = append(batch, m)
		default:
			return batch
		}
	}
}

func (w *Softmax) compute(ctx context.Context, batch []ComputeMsg) {
	rows := make([][]float32, len(batch))
	for i, m := range batch {
		rows[i] = m.Logits
	}
	probs, err := w.sm.Compute(ctx, rows)
	for i, m := range batch {
		reply := ComputeReply{Err: err}
		if err == nil {
			reply.Probs = probs[i]
		}
		select {
		case m.Reply <- reply:
		default:
		}
	}
}
