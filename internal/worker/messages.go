// Package worker implements the inference worker and softmax worker
// loops, per spec.md §4.7-4.8: the two goroutines that own the model
// runtime and the softmax capability respectively, driven entirely by
// message passing.
package worker

import (
	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/tokens"
)

// RunMsg asks the inference worker to feed tokens through slot's
// recurrent state and reply with the logits Option asks for.
type RunMsg struct {
	Slot   int
	Tokens tokens.Sequence
	Option capability.Option
	Reply  chan RunReply
}

// RunReply carries a Run's result. A non-nil Err (with nil Logits)
// means the batch containing this contribution failed and was dropped.
type RunReply struct {
	Logits [][]float32
	Err    error
}

// LoadStateMsg replaces slot's state with Snapshot.
type LoadStateMsg struct {
	Slot     int
	Snapshot capability.Snapshot
	Reply    chan error
}

// BackStateMsg asks for a host copy of slot's current state.
type BackStateMsg struct {
	Slot  int
	Reply chan BackStateReply
}

type BackStateReply struct {
	Snapshot capability.Snapshot
	Err      error
}

// WriteStateMsg restores a device-side reference into slot. Used only
// by Choose mode; fails with capability.ErrUnsupported on backends
// without device-side shuffles.
type WriteStateMsg struct {
	Slot  int
	Ref   capability.DeviceRef
	Reply chan error
}

// ReadStateMsg captures a device-side reference to slot's current
// state. Used only by Choose mode.
type ReadStateMsg struct {
	Slot  int
	Reply chan ReadStateReply
}

type ReadStateReply struct {
	Ref capability.DeviceRef
	Err error
}
