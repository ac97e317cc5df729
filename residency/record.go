package residency

import "io"

// Handle is an opaque, owned, file-descriptor-like source for an asset.
// The manager never reads from or closes it; it is forwarded to the
// Instantiator verbatim, and closing it is left to the Instantiator.
type Handle interface {
	io.ReadCloser
}

// FS opens Handles by path. RegisterFromPath uses it exactly once per
// distinct path, the first time that path is registered.
type FS interface {
	Open(path string) (Handle, error)
}

// record is the unit of bookkeeping the policy sorts, activates, and
// releases. All field access is synchronized by the Manager's record
// lock, which is held for the duration of every operation that touches
// a record: registration, iterate, iterateBlocking, and the setters.
type record struct {
	id          AssetId
	handle      Handle
	class       ImageClass
	prio        Priority
	pathHash    uint64
	hasPathHash bool

	// consumed and pendingConsumed are mutually exclusive in the steady
	// state: see State. They are both touched only while holding the
	// record lock (cost updates are drained into them under that lock;
	// see costQueue).
	consumed        uint64
	pendingConsumed uint64

	// lastUsed is the logical timestamp of the most recent use signal
	// drained for this record. Monotonically non-decreasing.
	lastUsed uint64
}

// state reports the record's current residency state.
func (r *record) state() State {
	switch {
	case r.pendingConsumed > 0:
		return Loading
	case r.consumed > 0:
		return Resident
	default:
		return Absent
	}
}
