package generate

import (
	"context"
	"math"

	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/event"
	"github.com/rwkvcore/scheduler/internal/tokens"
	"github.com/rwkvcore/scheduler/internal/worker"
)

// epsilon avoids log(0) when a choice puts essentially no mass on the
// observed token.
const epsilon = 1e-12

// runChoose implements spec.md §4.6: per-choice perplexity under the
// current context and, if Calibrate is set, under the trie's per-id
// initial state, restoring the slot's pre-Choose state afterward. This
// branch never commits a cache cell.
func (t *Task) runChoose(ctx context.Context) {
	choices := t.params.Choices
	ppl := make([]float64, len(choices))

	// The pre-choice state is read unconditionally: every choice's
	// fullLogits call drives Run{option: Full} against the slot's live
	// state, so without a restore after each choice, choice i+1 would
	// be scored against choice i's post-run state instead of the
	// shared context every choice must be evaluated from. Calibrate
	// only adds the extra calibration sub-pass below; it does not gate
	// the base read/restore.
	var saved capability.DeviceRef
	haveSaved := false
	if ref, ok := t.readState(ctx); ok {
		saved = ref
		haveSaved = true
	}

	for i, choice := range choices {
		if len(choice) == 0 {
			ppl[i] = math.Inf(1)
			continue
		}

		fullRows := t.fullLogits(ctx, choice)
		ppl[i] = perplexityFromRows(t.lastLogits, fullRows, choice)

		if t.params.Calibrate {
			trie := t.deps.Hub.Fetch(t.InitStateID)
			init := trie.InitState()
			if init == nil {
				init = capability.Snapshot{}
			}
			t.loadState(ctx, init)

			calibRows := t.fullLogits(ctx, choice)
			calibHead := make([]float32, len(t.lastLogits))
			ppl[i] += perplexityFromRows(calibHead, calibRows, choice)
		}

		if haveSaved {
			t.writeState(ctx, saved)
		}
	}

	t.emit(event.Choose(ppl))
}

func (t *Task) fullLogits(ctx context.Context, choice tokens.Sequence) [][]float32 {
	reply, ok := t.runOnce(ctx, choice, capability.Full)
	if !ok || reply.Err != nil {
		return nil
	}
	return reply.Logits
}

// perplexityFromRows computes -(sum of log probabilities)/len for one
// choice: headLogits predicts choice[0], and fullRows[k] (the model's
// response after consuming choice[k]) predicts choice[k+1].
func perplexityFromRows(headLogits []float32, fullRows [][]float32, choice tokens.Sequence) float64 {
	headProbs := softmaxLocal(headLogits)
	var logSum float64
	if int(choice[0]) < len(headProbs) {
		logSum += math.Log(float64(headProbs[choice[0]]) + epsilon)
	}
	for k := 0; k < len(choice)-1 && k < len(fullRows); k++ {
		probs := softmaxLocal(fullRows[k])
		next := choice[k+1]
		if int(next) < len(probs) {
			logSum += math.Log(float64(probs[next]) + epsilon)
		}
	}
	return -logSum / float64(len(choice))
}

// softmaxLocal is the "local exponentiation-and-normalize" spec.md
// §4.6 calls for, computed directly rather than via the softmax worker
// since Choose mode's per-position renormalization is not part of the
// ordinary decode batching path.
func softmaxLocal(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - max))
		out[i] = float32(e)
		sum += e
	}
	if sum > 0 {
		for i := range out {
			out[i] = float32(float64(out[i]) / sum)
		}
	}
	return out
}

func (t *Task) readState(ctx context.Context) (capability.DeviceRef, bool) {
	if t.deps.StateSem != nil {
		if err := t.deps.StateSem.Acquire(ctx, 1); err != nil {
			return capability.DeviceRef{}, false
		}
		defer t.deps.StateSem.Release(1)
	}

	reply := make(chan worker.ReadStateReply, 1)
	select {
	case t.deps.Workers.Read <- worker.ReadStateMsg{Slot: t.Slot, Reply: reply}:
	case <-ctx.Done():
		return capability.DeviceRef{}, false
	}
	select {
	case r := <-reply:
		return r.Ref, r.Err == nil
	case <-ctx.Done():
		return capability.DeviceRef{}, false
	}
}

func (t *Task) writeState(ctx context.Context, ref capability.DeviceRef) bool {
	reply := make(chan error, 1)
	select {
	case t.deps.Workers.Write <- worker.WriteStateMsg{Slot: t.Slot, Ref: ref, Reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case err := <-reply:
		return err == nil
	case <-ctx.Done():
		return false
	}
}

func (t *Task) loadState(ctx context.Context, snap capability.Snapshot) bool {
	reply := make(chan error, 1)
	select {
	case t.deps.Workers.Load <- worker.LoadStateMsg{Slot: t.Slot, Snapshot: snap, Reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case err := <-reply:
		return err == nil
	case <-ctx.Done():
		return false
	}
}
