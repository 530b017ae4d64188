package scheduler

import (
	"context"

	"github.com/rwkvcore/scheduler/internal/log"
)

// Maintain implements spec.md §4.10: run maintain() across every trie
// in the cache hub, then reap any Busy slot whose generation task has
// finished, returning it to Idle with the task's final prefix. On
// task failure the slot resets to the default Idle(empty, now).
func (s *Scheduler) Maintain(ctx context.Context) {
	if err := s.hub.MaintainConcurrent(ctx); err != nil {
		log.Warn("maintenance: cache eviction fan-out failed", "err", err)
	}

	for _, i := range s.table.BusySlots() {
		handle, ok := s.table.BusyHandle(i)
		if !ok {
			continue
		}
		select {
		case res := <-handle.Done:
			if res.Err != nil {
				log.Warn("maintenance: generation task failed", "slot", i, "err", res.Err)
				s.table.Release(i, nil)
				continue
			}
			s.table.Release(i, res.Prefix)
		default:
			// Task still running; leave the slot Busy.
		}
	}
}
