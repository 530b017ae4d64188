package generate

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/event"
	"github.com/rwkvcore/scheduler/internal/log"
	"github.com/rwkvcore/scheduler/internal/request"
	"github.com/rwkvcore/scheduler/internal/slot"
	"github.com/rwkvcore/scheduler/internal/tokens"
	"github.com/rwkvcore/scheduler/internal/worker"
)

// Run drives the task through spec.md §4.3's state machine to
// completion, reporting the final result on t.Handle.Done so the
// maintenance loop can reap the slot.
func (t *Task) Run(ctx context.Context) {
	r := t.run(ctx)
	select {
	case t.Handle.Done <- slot.Result{Prefix: r.prefix, Err: r.err}:
	default:
	}
}

func (t *Task) run(ctx context.Context) resultOf {
	// 8. Cleanup: every path out of this function emits exactly one
	// Done, last, per spec.md §4.3 step 8 — including when the
	// downstream subscriber has already disappeared (Open Question
	// decision in SPEC_FULL.md §5.2: the send is a non-blocking no-op
	// in that case).
	defer t.emit(event.Done())

	// 1. Admitted.
	t.emit(event.Start())

	// 2. Reserve cache (optional).
	if len(t.promptTokens) > MinPromptCacheTokens {
		trie := t.deps.Hub.Fetch(t.InitStateID)
		if !trie.Contains(t.promptTokens) {
			if cell, ok := trie.ReservePending(t.promptTokens); ok {
				t.pending = cell
				t.pendingReserved = true
			}
		}
	}

	// 3. Prefill.
	t.prefillStart = time.Now()
	if len(t.suffix) > 0 {
		if !t.prefill(ctx) {
			return resultOf{prefix: t.prefix, err: ctx.Err()}
		}
	}

	// 4. Publish prompt cache.
	if t.pendingReserved && !t.pendingDone {
		if !t.publishPromptCache(ctx) {
			return resultOf{prefix: t.prefix, err: ctx.Err()}
		}
	}

	t.decodeStart = time.Now()
	for {
		if !t.hasLogits {
			// Nothing to sample from; treat as a backend failure and
			// terminate without a Stop event, per §7's "drop the
			// affected reply... upstream generation task ... terminates."
			return resultOf{prefix: t.prefix}
		}

		// 5. Sample one token.
		tokenID, ok := t.sampleOnce(ctx)
		if !ok {
			return resultOf{prefix: t.prefix, err: ctx.Err()}
		}

		// 6. Decode side-effects.
		halted, decodeFailed := t.decode(tokenID)

		// 7. Stop detection.
		if t.disconnected() {
			return resultOf{prefix: t.prefix}
		}

		switch t.params.Kind {
		case request.Choose:
			t.runChoose(ctx)
			return resultOf{prefix: t.prefix}
		case request.State:
			t.emitEmbed(ctx)
			return resultOf{prefix: t.prefix}
		}

		split, stopMatched := SafeSplit(t.staging, t.stopSet.ToSlice())

		if halted || stopMatched || tokenID == 0 || decodeFailed {
			if split > 0 {
				t.emitContent(t.staging[:split])
			}
			t.staging = nil
			counters := t.counters()
			t.emit(event.Stop(event.EndTurn, counters))
			t.commit(ctx)
			return resultOf{prefix: t.prefix}
		}

		if len(t.generatedTokens) >= t.params.MaxTokens {
			counters := t.counters()
			t.emit(event.Stop(event.MaxTokens, counters))
			return resultOf{prefix: t.prefix}
		}

		// Normal emit.
		if split > 0 {
			t.emitContent(t.staging[:split])
			t.staging = t.staging[split:]
		}

		// Feed the token just accepted through the model so the next
		// iteration's sample draws from a fresh last-logit, per the
		// "submit Run -> receive logits -> ... -> sample -> append
		// token -> stop-check" loop described in §2's overview.
		reply, ok := t.runOnce(ctx, tokens.Sequence{tokenID}, capability.Last)
		if !ok {
			return resultOf{prefix: t.prefix, err: ctx.Err()}
		}
		if reply.Err != nil {
			// Backend failure mid-decode: drop out without a Stop
			// event, matching the §7 treatment of a failed Run.
			return resultOf{prefix: t.prefix}
		}
		if len(reply.Logits) > 0 {
			t.lastLogits = reply.Logits[0]
		}
	}
}

type resultOf struct {
	prefix tokens.Sequence
	err    error
}

func (t *Task) emitContent(b []byte) {
	if t.params.Thinking != nil && inThinkingSpan(t.staging, t.params.Thinking) {
		cp := make([]byte, len(b))
		copy(cp, b)
		t.emit(event.Thinking(cp))
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	t.emit(event.Content(cp))
}

// inThinkingSpan reports whether the bytes about to be emitted fall
// inside a configured thinking-tag span. It is a best-effort, purely
// additive classification: it never changes the Stop grammar, only
// which Kind the emitted bytes carry.
func inThinkingSpan(staging []byte, tag *request.ThinkingTag) bool {
	if len(tag.Start) == 0 {
		return false
	}
	startIdx := indexOf(staging, tag.Start)
	if startIdx < 0 {
		return false
	}
	if len(tag.End) == 0 {
		return true
	}
	endIdx := indexOf(staging, tag.End)
	return endIdx < 0 || endIdx > startIdx
}

func indexOf(b []byte, sub []byte) int {
	for i := 0; i+len(sub) <= len(b); i++ {
		match := true
		for j := range sub {
			if b[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func (t *Task) counters() event.Counters {
	return event.Counters{
		Prompt:        len(t.promptTokens),
		Completion:    len(t.generatedTokens),
		Cached:        t.cachedTokens,
		PrefillMillis: t.decodeStart.Sub(t.prefillStart).Milliseconds(),
		DecodeMillis:  time.Since(t.decodeStart).Milliseconds(),
	}
}

func (t *Task) prefill(ctx context.Context) bool {
	for len(t.suffix) > 0 {
		reply, ok := t.runOnce(ctx, t.suffix, capability.Last)
		if !ok {
			return false
		}
		t.prefix = t.prefix.Append(t.suffix...)
		t.suffix = nil
		if reply.Err == nil && len(reply.Logits) > 0 {
			t.lastLogits = reply.Logits[0]
			t.hasLogits = true
		}
	}
	return true
}

func (t *Task) publishPromptCache(ctx context.Context) bool {
	snap, ok := t.backState(ctx)
	if !ok {
		return false
	}
	trie := t.deps.Hub.Fetch(t.InitStateID)
	t.pending.Publish(snap, t.lastLogits, trie.Tick())
	t.pendingDone = true
	return true
}

func (t *Task) commit(ctx context.Context) {
	snap, ok := t.backState(ctx)
	if !ok {
		return
	}
	t.deps.Hub.Commit(t.InitStateID, t.prefix, snap, t.lastLogits)
}

func (t *Task) backState(ctx context.Context) (capability.Snapshot, bool) {
	if t.deps.StateSem != nil {
		if err := t.deps.StateSem.Acquire(ctx, 1); err != nil {
			return nil, false
		}
		defer t.deps.StateSem.Release(1)
	}

	reply := make(chan worker.BackStateReply, 1)
	select {
	case t.deps.Workers.Back <- worker.BackStateMsg{Slot: t.Slot, Reply: reply}:
	case <-ctx.Done():
		return nil, false
	}
	select {
	case r := <-reply:
		if r.Err != nil {
			log.Warn("generate: back-state failed", "slot", t.Slot, "err", r.Err)
			return nil, false
		}
		return r.Snapshot, true
	case <-ctx.Done():
		return nil, false
	}
}

func (t *Task) runOnce(ctx context.Context, seq tokens.Sequence, opt capability.Option) (worker.RunReply, bool) {
	reply := make(chan worker.RunReply, 1)
	select {
	case t.deps.Workers.Run <- worker.RunMsg{Slot: t.Slot, Tokens: seq, Option: opt, Reply: reply}:
	case <-ctx.Done():
		return worker.RunReply{}, false
	}
	select {
	case r := <-reply:
		return r, true
	case <-ctx.Done():
		return worker.RunReply{}, false
	}
}

// sampleOnce implements step 5 of spec.md §4.3: sampler pre-transform,
// formatter masks in order, logit bias, softmax, then draw a token.
func (t *Task) sampleOnce(ctx context.Context) (uint32, bool) {
	logits := make([]float32, len(t.lastLogits))
	copy(logits, t.lastLogits)

	t.sampler.Transform(logits)
	for _, f := range t.formatters {
		f.Transform(logits)
	}
	for tok, bias := range t.params.Bias {
		if int(tok) < len(logits) {
			logits[tok] += bias
		}
	}

	reply := make(chan worker.ComputeReply, 1)
	select {
	case t.deps.Workers.Softmax <- worker.ComputeMsg{Logits: logits, Reply: reply}:
	case <-ctx.Done():
		return 0, false
	}
	var probs []float32
	select {
	case r := <-reply:
		probs = r.Probs
	case <-ctx.Done():
		return 0, false
	}
	return t.sampler.Sample(probs), true
}

// decode implements step 6: decode the sampled token, append it to the
// running state, and advance formatter state. halted reports a
// formatter-requested stop; decodeFailed reports an undecodable token,
// which the core treats as a soft EOS.
func (t *Task) decode(tokenID uint32) (halted bool, decodeFailed bool) {
	b, err := t.deps.Tokenizer.Decode(tokens.Sequence{tokenID})
	t.prefix = t.prefix.Append(tokenID)
	t.generatedTokens = append(t.generatedTokens, tokenID)
	if err != nil {
		return false, true
	}
	t.staging = append(t.staging, b...)
	for _, f := range t.formatters {
		if f.Update(tokenID) {
			halted = true
		}
	}
	return halted, false
}

func (t *Task) emitEmbed(ctx context.Context) {
	snap, ok := t.backState(ctx)
	if !ok {
		return
	}
	data := make([]float32, len(snap)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(snap[i*4:]))
	}
	t.emit(event.Embed(data, []int{len(data)}))
}
