package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInference struct {
	calls int
}

func (f *fakeInference) Run(ctx context.Context, batch []capability.SlotInput, chunkSize int) ([]capability.SlotOutput, error) {
	f.calls++
	out := make([]capability.SlotOutput, 0, len(batch))
	for _, b := range batch {
		out = append(out, capability.SlotOutput{Slot: b.Slot, Logits: [][]float32{{float32(len(b.Tokens))}}})
	}
	return out, nil
}

type fakeState struct {
	loaded map[int]capability.Snapshot
}

func newFakeState() *fakeState { return &fakeState{loaded: map[int]capability.Snapshot{}} }

func (f *fakeState) Init() capability.Snapshot { return capability.Snapshot{} }
func (f *fakeState) Load(ctx context.Context, slot int, s capability.Snapshot) error {
	f.loaded[slot] = s
	return nil
}
func (f *fakeState) Back(ctx context.Context, slot int) (capability.Snapshot, error) {
	return f.loaded[slot], nil
}
func (f *fakeState) Write(ctx context.Context, slot int, ref capability.DeviceRef) error {
	return capability.ErrUnsupported
}
func (f *fakeState) Read(ctx context.Context, slot int) (capability.DeviceRef, error) {
	return capability.DeviceRef{}, capability.ErrUnsupported
}

func TestInferenceWorkerServicesRun(t *testing.T) {
	w := NewInference(&fakeInference{}, newFakeState(), 16, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	reply := make(chan RunReply, 1)
	w.RunCh() <- RunMsg{Slot: 0, Tokens: tokens.Sequence{1, 2, 3}, Option: capability.Last, Reply: reply}

	select {
	case r := <-reply:
		require.NoError(t, r.Err)
		require.Len(t, r.Logits, 1)
		assert.Equal(t, float32(3), r.Logits[0][0])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for run reply")
	}
}

func TestInferenceWorkerServicesLoadThenBack(t *testing.T) {
	st := newFakeState()
	w := NewInference(&fakeInference{}, st, 16, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	loadReply := make(chan error, 1)
	w.LoadCh() <- LoadStateMsg{Slot: 2, Snapshot: capability.Snapshot("hello"), Reply: loadReply}
	require.NoError(t, <-loadReply)

	backReply := make(chan BackStateReply, 1)
	w.BackCh() <- BackStateMsg{Slot: 2, Reply: backReply}
	r := <-backReply
	require.NoError(t, r.Err)
	assert.Equal(t, capability.Snapshot("hello"), r.Snapshot)
}
