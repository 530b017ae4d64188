package generate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/event"
	"github.com/rwkvcore/scheduler/internal/request"
	"github.com/rwkvcore/scheduler/internal/tokens"
	"github.com/rwkvcore/scheduler/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRunChooseRestoresStateAfterEveryChoiceWithoutCalibrate covers the
// ai00-core/src/run.rs read/write symmetry cited for spec.md §4.6: the
// pre-choice state must be restored after every choice, not only when
// Calibrate is set, or choice i+1 would be scored against choice i's
// post-run state instead of the shared context.
func TestRunChooseRestoresStateAfterEveryChoiceWithoutCalibrate(t *testing.T) {
	runCh := make(chan worker.RunMsg, 8)
	readCh := make(chan worker.ReadStateMsg, 8)
	writeCh := make(chan worker.WriteStateMsg, 8)

	var reads, writes int32
	go func() {
		for {
			select {
			case m := <-runCh:
				m.Reply <- worker.RunReply{Logits: [][]float32{{1, 1, 1, 1}}}
			case m := <-readCh:
				atomic.AddInt32(&reads, 1)
				m.Reply <- worker.ReadStateReply{Ref: capability.DeviceRef{Slot: 0, Ref: 1}}
			case m := <-writeCh:
				atomic.AddInt32(&writes, 1)
				if m.Reply != nil {
					m.Reply <- nil
				}
			}
		}
	}()

	downstream := make(chan event.Event, 4)
	task := &Task{
		ID:         uuid.New(),
		lastLogits: []float32{1, 1, 1, 1},
		params: request.Params{
			Kind:    request.Choose,
			Choices: []tokens.Sequence{{0, 1}, {1, 2}, {2, 3}},
			// Calibrate intentionally left false: the restore must not
			// depend on it.
		},
		downstream: downstream,
		deps: Deps{
			Workers: WorkerSenders{Run: runCh, Read: readCh, Write: writeCh},
		},
	}

	task.runChoose(context.Background())

	select {
	case ev := <-downstream:
		require.Equal(t, event.KindChoose, ev.Kind)
		require.Len(t, ev.PerplexityByChoice, 3)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Choose event")
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&reads), "pre-choice state must be read exactly once")
	assert.EqualValues(t, 3, atomic.LoadInt32(&writes), "state must be restored after every choice, Calibrate or not")
}
