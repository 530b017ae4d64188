package scheduler

import (
	"context"
	"time"

	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/generate"
	"github.com/rwkvcore/scheduler/internal/log"
	"github.com/rwkvcore/scheduler/internal/request"
	"github.com/rwkvcore/scheduler/internal/slot"
	"github.com/rwkvcore/scheduler/internal/worker"
)

// RunAdmission drives the admission loop of spec.md §4.9 until ctx is
// canceled or the input channel is closed and drained. Each iteration:
// runs maintenance, admits every currently pending request (retry
// bucket first, then whatever is waiting on the input channel),
// sleeps briefly if anything went back to the retry bucket, and
// otherwise blocks for the next request.
func (s *Scheduler) RunAdmission(ctx context.Context) {
	closed := false
	for {
		s.Maintain(ctx)

		pending := s.takeRetryBucket()
		if !closed {
			drained, nowClosed := s.drainAvailable()
			pending = append(pending, drained...)
			closed = nowClosed
		}

		if len(pending) == 0 {
			if closed {
				return
			}
			select {
			case r, ok := <-s.requests:
				if !ok {
					closed = true
					continue
				}
				pending = append(pending, r)
			case <-ctx.Done():
				return
			}
		}

		var failed []*request.Request
		for _, r := range pending {
			if !s.admitOne(ctx, r) {
				failed = append(failed, r)
			}
		}

		if len(failed) > 0 {
			s.putRetryBucket(failed)
			select {
			case <-time.After(s.retrySleep):
			case <-ctx.Done():
				return
			}
			continue
		}

		if closed {
			return
		}
	}
}

// drainAvailable empties whatever is already queued on the input
// channel without blocking. closed reports whether the channel was
// observed closed during the drain.
func (s *Scheduler) drainAvailable() (out []*request.Request, closed bool) {
	for {
		select {
		case r, ok := <-s.requests:
			if !ok {
				return out, true
			}
			out = append(out, r)
		default:
			return out, false
		}
	}
}

func (s *Scheduler) takeRetryBucket() []*request.Request {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	pending := s.retry
	s.retry = nil
	return pending
}

func (s *Scheduler) putRetryBucket(failed []*request.Request) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	s.retry = append(s.retry, failed...)
}

// admitOne implements spec.md §4.2's admission decision for a single
// request: classify against the slot table, checkout the cache,
// LoadState the checked-out snapshot, construct the generation
// context, and spawn the task. Returns false only for Failure (no
// idle slot), which the caller must retry.
func (s *Scheduler) admitOne(ctx context.Context, r *request.Request) bool {
	choice := s.table.Admit(r.Prompt)
	switch choice.Kind {
	case slot.Failure:
		return false
	case slot.Error:
		// Precondition failures (e.g. an unconstructable formatter) are expected to
		// be caught before a request reaches the scheduler; this
		// branch exists for the Result variant's completeness and
		// reports out-of-band via logging only.
		log.Error("admission: precondition failure", "request", r.ID, "err", choice.Err)
		return true
	}

	checkout := s.hub.Checkout(r.InitStateID, r.Prompt)

	if !s.loadState(ctx, choice.Slot, checkout.State) {
		s.table.Release(choice.Slot, nil)
		return true
	}

	handle := slot.NewHandle()
	task := generate.New(
		r.ID, r.InitStateID, choice.Slot, handle,
		r.Prompt, checkout.Prefix, checkout.LastLogits, checkout.HasLogits,
		r.Params, r.Formatters, r.Sampler,
		r.Downstream, r.DownstreamDone,
		generate.Deps{Hub: s.hub, Tokenizer: s.tokenizer, Workers: s.workers, StateSem: s.stateSem},
	)
	s.table.Activate(choice.Slot, handle)

	if choice.Kind == slot.Fault {
		s.faulted.Add(choice.Slot, time.Now())
		log.Debug("admission: discarding previously-held prefix", "slot", choice.Slot, "request", r.ID)
	}

	go task.Run(ctx)
	return true
}

// loadState issues a LoadState to the inference worker for slot and
// waits for it to complete, since §5's ordering guarantee requires a
// Run submitted after LoadState to observe the loaded state.
func (s *Scheduler) loadState(ctx context.Context, slotIdx int, snap capability.Snapshot) bool {
	reply := make(chan error, 1)
	select {
	case s.workers.Load <- worker.LoadStateMsg{Slot: slotIdx, Snapshot: snap, Reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case err := <-reply:
		if err != nil {
			log.Error("admission: load state failed", "slot", slotIdx, "err", err)
			return false
		}
		return true
	case <-ctx.Done():
		return false
	}
}
