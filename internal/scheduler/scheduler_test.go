package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rwkvcore/scheduler/internal/cache"
	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/event"
	"github.com/rwkvcore/scheduler/internal/request"
	"github.com/rwkvcore/scheduler/internal/sampler"
	"github.com/rwkvcore/scheduler/internal/slot"
	"github.com/rwkvcore/scheduler/internal/tokens"
	"github.com/rwkvcore/scheduler/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenizer struct{}

func (fakeTokenizer) Encode(b []byte) (tokens.Sequence, error) { return nil, nil }

func (fakeTokenizer) Decode(seq tokens.Sequence) ([]byte, error) {
	out := make([]byte, len(seq))
	for i, tok := range seq {
		out[i] = byte('a' + int(tok)%26)
	}
	return out, nil
}

func (fakeTokenizer) TokenIndexToBytes() [][]byte { return nil }

// fakeInference always replies with a single logit row favoring index
// pick, regardless of the batch's contents.
type fakeInference struct{ pick int }

func (f fakeInference) Run(ctx context.Context, batch []capability.SlotInput, chunkSize int) ([]capability.SlotOutput, error) {
	out := make([]capability.SlotOutput, len(batch))
	for i, in := range batch {
		row := make([]float32, 4)
		row[f.pick] = 5
		out[i] = capability.SlotOutput{Slot: in.Slot, Logits: [][]float32{row}}
	}
	return out, nil
}

type fakeState struct{}

func (fakeState) Init() capability.Snapshot { return capability.Snapshot{} }
func (fakeState) Load(ctx context.Context, slotIdx int, snap capability.Snapshot) error {
	return nil
}
func (fakeState) Back(ctx context.Context, slotIdx int) (capability.Snapshot, error) {
	return capability.Snapshot("state"), nil
}
func (fakeState) Write(ctx context.Context, slotIdx int, ref capability.DeviceRef) error {
	return capability.ErrUnsupported
}
func (fakeState) Read(ctx context.Context, slotIdx int) (capability.DeviceRef, error) {
	return capability.DeviceRef{}, capability.ErrUnsupported
}

// fakeSoftmax favors whichever index the test wants.
type fakeSoftmax struct{ pick int }

func (f fakeSoftmax) Compute(ctx context.Context, rows [][]float32) ([][]float32, error) {
	out := make([][]float32, len(rows))
	for i, row := range rows {
		probs := make([]float32, len(row))
		for j := range probs {
			probs[j] = 0.1
		}
		if f.pick < len(probs) {
			probs[f.pick] = 0.9
		}
		out[i] = probs
	}
	return out, nil
}

func newTestScheduler(t *testing.T, maxBatch, pick int) (*Scheduler, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	inf := worker.NewInference(fakeInference{pick: pick}, fakeState{}, 0, 16)
	sm := worker.NewSoftmax(fakeSoftmax{pick: pick}, 16)
	go inf.Run(ctx)
	go sm.Run(ctx)

	hub := cache.NewHub(256)
	sched := New(Config{MaxBatch: maxBatch, QueueDepth: 8, RetrySleep: 20 * time.Millisecond}, hub, fakeTokenizer{}, inf, sm)
	go sched.RunAdmission(ctx)
	return sched, cancel
}

func collect(ch <-chan event.Event, n int, timeout time.Duration) []event.Event {
	out := make([]event.Event, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func waitForSlotKind(t *testing.T, sched *Scheduler, i int, kind slot.Kind, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		snap := sched.Table().Snapshot()
		if snap[i].Kind == kind {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("slot %d never reached kind %v, last seen %v", i, kind, snap[i].Kind)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAdmissionSpawnsTaskAndReapsSlot(t *testing.T) {
	sched, cancel := newTestScheduler(t, 1, 0) // pick=0 -> EOS on first sample
	defer cancel()

	downstream := make(chan event.Event, 16)
	req := &request.Request{
		ID:          uuid.New(),
		InitStateID: uuid.Nil,
		Prompt:      tokens.Sequence{1, 2, 3},
		Params:      request.Params{MaxTokens: 10, Kind: request.Generate},
		Sampler:     sampler.Greedy{},
		Downstream:  downstream,
	}

	require.True(t, sched.Submit(context.Background(), req))

	evs := collect(downstream, 4, 2*time.Second)
	require.GreaterOrEqual(t, len(evs), 2)
	assert.Equal(t, event.KindStart, evs[0].Kind)
	assert.Equal(t, event.KindDone, evs[len(evs)-1].Kind)

	waitForSlotKind(t, sched, 0, slot.Idle, 2*time.Second)
	snap := sched.Table().Snapshot()
	assert.NotEmpty(t, snap[0].Prefix)
}

func TestAdmissionRetriesWhenSlotsSaturated(t *testing.T) {
	sched, cancel := newTestScheduler(t, 1, 3) // pick=3, never EOS
	defer cancel()

	downstream1 := make(chan event.Event, 16)
	req1 := &request.Request{
		ID:          uuid.New(),
		InitStateID: uuid.Nil,
		Prompt:      tokens.Sequence{1, 2, 3},
		Params:      request.Params{MaxTokens: 2, Kind: request.Generate},
		Sampler:     sampler.Greedy{},
		Downstream:  downstream1,
	}
	require.True(t, sched.Submit(context.Background(), req1))

	downstream2 := make(chan event.Event, 16)
	req2 := &request.Request{
		ID:          uuid.New(),
		InitStateID: uuid.Nil,
		Prompt:      tokens.Sequence{9, 9, 9},
		Params:      request.Params{MaxTokens: 1, Kind: request.Generate},
		Sampler:     sampler.Greedy{},
		Downstream:  downstream2,
	}
	require.True(t, sched.Submit(context.Background(), req2))

	// req1 occupies the only slot; req2 must wait for req1 to finish
	// and the slot to be reaped before it is ever admitted.
	evs2 := collect(downstream2, 2, 3*time.Second)
	require.GreaterOrEqual(t, len(evs2), 1)
	assert.Equal(t, event.KindStart, evs2[0].Kind)
}
