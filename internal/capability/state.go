package capability

import "context"

// Snapshot is a model-dependent opaque tensor-on-host buffer. It is
// copyable by value; callers that need isolation must copy it
// explicitly before mutating the original.
type Snapshot []byte

// DeviceRef names a device-side state region used only by Choose mode's
// save/restore round trips. Backends that don't support per-layer
// device shuffles return ErrUnsupported from Write/Read.
type DeviceRef struct {
	Slot int
	Ref  uint64
}

// State is the recurrent-state capability. Load/Back operate on host
// snapshots; Write/Read operate device-side and are optional per
// backend.
type State interface {
	// Init returns an all-zero prior of the model's state shape.
	Init() Snapshot
	// Load replaces a slot's state with snapshot.
	Load(ctx context.Context, slot int, snapshot Snapshot) error
	// Back asynchronously copies a slot's device-side state to a host
	// snapshot.
	Back(ctx context.Context, slot int) (Snapshot, error)
	// Write restores a previously read device-side reference into slot.
	// Returns ErrUnsupported if the backend has no device-side shuffle.
	Write(ctx context.Context, slot int, ref DeviceRef) error
	// Read captures a device-side reference to slot's current state.
	// Returns ErrUnsupported if the backend has no device-side shuffle.
	Read(ctx context.Context, slot int) (DeviceRef, error)
}
