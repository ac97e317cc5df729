// Package residency implements the asset residency manager: the subsystem
// that decides which image assets are resident in a constrained
// GPU-visible memory budget, activates assets the application has
// signalled interest in, and evicts others to stay within budget.
//
// The package never touches a GPU or a filesystem directly. It consumes
// two small interfaces - Instantiator and TaskGroup - that the host
// application supplies, and otherwise owns only bookkeeping: a dense
// record table, a cost-update inbox, a lock-free use-signal queue, and
// the priority/LRU replacement policy that ties them together.
package residency

import (
	"errors"
	"math"
)

// AssetId is a dense, sequentially assigned identifier for a registered
// asset. Ids are never reused and are stable for the lifetime of the
// Manager that allocated them.
type AssetId uint32

// NoAsset is the sentinel AssetId returned in place of a real id when
// registration fails. It compares equal to itself and to no real id,
// since real ids are allocated densely starting at zero and will never
// reach this value in practice.
const NoAsset = AssetId(math.MaxUint32)

// ImageClass tags the kind of image content an asset holds, e.g. colour,
// normal, or metallic-roughness. The manager stores and forwards this
// value opaquely to the Instantiator; it never inspects it.
type ImageClass int32

// Priority controls how eagerly the residency policy keeps an asset
// resident. Higher values are more wanted. Persistent is a sentinel that
// both hard-pins an asset above the normal budget and makes it immune to
// eviction.
type Priority int32

// Persistent marks a record as a hard pin: it may be activated even
// above the image budget, and the policy will never choose it as an
// eviction victim.
const Persistent Priority = math.MaxInt32

// Error sentinels naming the small error taxonomy in the design:
// InvalidSource on a failed path open, UnknownId and NoInstantiator for
// calls made out of order. Only ErrInvalidSource is actually returned
// by the Coordinator API; the other two conditions are reported as a
// false result (SetResidencyPriority, State, IterateBlocking), and
// fire-and-forget calls (MarkUsed, ReportCost) silently ignore them.
var (
	// ErrInvalidSource is returned by RegisterFromPath when the
	// filesystem fails to open the given path. No record is created.
	ErrInvalidSource = errors.New("residency: invalid source")
	// ErrUnknownAsset names the condition of an id outside the dense
	// record table. No method returns it; setters and queries report
	// it as a false result.
	ErrUnknownAsset = errors.New("residency: unknown asset id")
	// ErrNoInstantiator names the condition of no Instantiator being
	// bound yet. No method returns it; IterateBlocking reports it as
	// false.
	ErrNoInstantiator = errors.New("residency: no instantiator bound")
)

// State is the residency state of a single record, per the three-state
// invariant: exactly one of Absent, Loading, or Resident holds at any
// quiescent point.
type State int

const (
	// Absent records have no bytes attributed to them: consumed == 0 and
	// pendingConsumed == 0.
	Absent State = iota
	// Loading records have an in-flight instantiation: pendingConsumed >
	// 0 and consumed == 0.
	Loading
	// Resident records hold real GPU-visible bytes: consumed > 0 and
	// pendingConsumed == 0.
	Resident
)

// String renders State for logging and test failure messages.
func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Loading:
		return "loading"
	case Resident:
		return "resident"
	default:
		return "unknown"
	}
}
