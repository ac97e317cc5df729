package residency

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// Manager is the Coordinator described by the design: the public API
// through which callers register assets, mark them used, and drive the
// residency policy forward one iteration at a time. The zero value is
// ready to use, matching the "useful zero value" idiom used throughout
// this codebase's async tooling - allocation is deferred to first use via
// initOnce.
type Manager struct {
	initOnce sync.Once

	// recordLock serializes the record table: registration, iterate,
	// iterateBlocking, and every setter take it for their full
	// duration. It is the single serialization point for policy.
	recordLock sync.Mutex
	records    []*record
	pathIndex  map[uint64]AssetId

	instantiator Instantiator

	costQueue costQueue
	useQueue  useQueue

	fence     *fenceSignal
	timestamp uint64
	// deferredTicks accumulates the number of blocking single-asset
	// activations issued by IterateBlocking since the last iterate,
	// per the design's step 1: the next iterate folds these into its
	// own timestamp advance.
	deferredTicks uint64

	imageBudget             uint64
	imageBudgetPerIteration uint64

	// totalConsumed mirrors the sum of consumed+pendingConsumed across
	// all records. Maintained incrementally under recordLock rather
	// than recomputed, so every mutation site updates it alongside the
	// record it touches.
	totalConsumed uint64
}

func (m *Manager) init() {
	m.initOnce.Do(func() {
		m.pathIndex = make(map[uint64]AssetId)
		m.fence = newFenceSignal()
	})
}

// RegisterFromHandle allocates a new record for handle unconditionally,
// returning its freshly assigned AssetId. The record keeps handle for its
// lifetime and passes it to the Instantiator; the manager itself never
// reads or closes it, Release included.
func (m *Manager) RegisterFromHandle(handle Handle, class ImageClass, prio Priority) AssetId {
	m.init()
	m.recordLock.Lock()
	defer m.recordLock.Unlock()
	return m.register(handle, class, prio, 0, false)
}

// RegisterFromPath hashes path and, if a record with that hash already
// exists, returns its id without touching fs. Otherwise it opens path
// via fs and allocates a new record. On open failure it returns
// (NoAsset, ErrInvalidSource) and allocates no id.
func (m *Manager) RegisterFromPath(fsys FS, path string, class ImageClass, prio Priority) (AssetId, error) {
	m.init()
	hash := hashPath(path)

	m.recordLock.Lock()
	defer m.recordLock.Unlock()

	if id, ok := m.pathIndex[hash]; ok {
		return id, nil
	}
	handle, err := fsys.Open(path)
	if err != nil {
		return NoAsset, fmt.Errorf("%w: opening %q: %v", ErrInvalidSource, path, err)
	}
	return m.register(handle, class, prio, hash, true), nil
}

// register must be called with recordLock held. It appends a new record,
// widens the dense table, and announces the new id (and its class) to a
// bound Instantiator.
func (m *Manager) register(handle Handle, class ImageClass, prio Priority, hash uint64, hasHash bool) AssetId {
	id := AssetId(len(m.records))
	r := &record{
		id:          id,
		handle:      handle,
		class:       class,
		prio:        prio,
		pathHash:    hash,
		hasPathHash: hasHash,
	}
	m.records = append(m.records, r)
	if hasHash {
		m.pathIndex[hash] = id
	}
	if m.instantiator != nil {
		m.instantiator.SetIDBounds(len(m.records))
		m.instantiator.SetImageClass(id, class)
	}
	return id
}

func hashPath(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return h.Sum64()
}

// MarkUsed records id as recently of interest. It appends to a lock-free
// queue and returns immediately; it never blocks, never takes the record
// lock, and is safe to call from any goroutine, including from inside an
// Instantiator completion callback. Out-of-range ids are tolerated and
// silently dropped when the queue is drained.
func (m *Manager) MarkUsed(id AssetId) {
	m.init()
	m.useQueue.push(id)
}

// ReportCost is called by the bound Instantiator when it learns the real
// cost of a resource. It appends to a small dedicated queue, guarded by
// its own lock distinct from the record lock to avoid deadlocking
// against an Instantiator calling back into the manager while the
// manager's record lock is held elsewhere (e.g. during teardown).
func (m *Manager) ReportCost(id AssetId, costBytes uint64) {
	m.init()
	m.costQueue.push(id, costBytes)
}

// SetResidencyPriority updates id's priority. Returns false if id is
// unknown.
func (m *Manager) SetResidencyPriority(id AssetId, prio Priority) bool {
	m.init()
	m.recordLock.Lock()
	defer m.recordLock.Unlock()
	r := m.recordAt(id)
	if r == nil {
		return false
	}
	r.prio = prio
	return true
}

// SetImageBudget sets the hard total-bytes budget.
func (m *Manager) SetImageBudget(bytes uint64) {
	m.init()
	m.recordLock.Lock()
	m.imageBudget = bytes
	m.recordLock.Unlock()
}

// SetImageBudgetPerIteration sets the soft per-iteration new-work budget.
func (m *Manager) SetImageBudgetPerIteration(bytes uint64) {
	m.init()
	m.recordLock.Lock()
	m.imageBudgetPerIteration = bytes
	m.recordLock.Unlock()
}

// BindInstantiator swaps in a new Instantiator. If one is already bound,
// this first waits for all pending work to drain (the fence catching up
// to the logical timestamp), releases every resident id on the old
// Instantiator, and clears residency fields, before rebinding and
// re-announcing id bounds and classes to the new one.
func (m *Manager) BindInstantiator(inst Instantiator) {
	m.init()
	m.recordLock.Lock()
	defer m.recordLock.Unlock()

	if m.instantiator != nil {
		m.drainLocked()
		for _, r := range m.records {
			if r.state() != Absent {
				m.instantiator.Release(r.id)
				m.totalConsumed -= r.consumed + r.pendingConsumed
				r.consumed = 0
				r.pendingConsumed = 0
			}
		}
	}

	m.instantiator = inst
	if inst == nil {
		return
	}
	inst.SetIDBounds(len(m.records))
	for _, r := range m.records {
		inst.SetImageClass(r.id, r.class)
	}
}

// drainLocked waits for the fence to catch up to the logical timestamp.
// Must be called with recordLock held; it is only ever called from
// BindInstantiator and Close, both of which accept blocking briefly as
// the cost of a clean handoff.
func (m *Manager) drainLocked() {
	target := m.timestamp
	m.recordLock.Unlock()
	m.fence.waitUntilAtLeast(target)
	m.recordLock.Lock()
}

// Close waits for all pending instantiations to drain, then releases
// every resident record via the bound Instantiator. It is safe to call
// at most once; the Manager is not usable afterward.
func (m *Manager) Close() {
	m.init()
	m.recordLock.Lock()
	defer m.recordLock.Unlock()
	if m.instantiator == nil {
		return
	}
	m.drainLocked()
	for _, r := range m.records {
		if r.state() == Resident {
			m.instantiator.Release(r.id)
			m.totalConsumed -= r.consumed
			r.consumed = 0
		}
	}
}

// TotalConsumed returns the sum of consumed and pendingConsumed bytes
// across every record.
func (m *Manager) TotalConsumed() uint64 {
	m.init()
	m.recordLock.Lock()
	defer m.recordLock.Unlock()
	return m.totalConsumed
}

// State reports id's current residency state. ok is false if id is
// unknown. Like Stats, this is a read-only addition beyond the minimal
// Coordinator API, used by callers (such as a debug overlay) that need
// to render per-asset state rather than just aggregate counts.
func (m *Manager) State(id AssetId) (state State, ok bool) {
	m.init()
	m.recordLock.Lock()
	defer m.recordLock.Unlock()
	r := m.recordAt(id)
	if r == nil {
		return Absent, false
	}
	return r.state(), true
}

// recordAt returns the record for id, or nil if id is out of range. Must
// be called with recordLock held.
func (m *Manager) recordAt(id AssetId) *record {
	if int(id) < 0 || int(id) >= len(m.records) {
		return nil
	}
	return m.records[id]
}

// Stats summarizes the manager's current residency counts. Not part of
// the minimal Coordinator API in the design, but a natural read-only
// addition used by the CLI inspect and stress commands.
type Stats struct {
	Absent, Loading, Resident int
	TotalConsumed             uint64
	Timestamp, FenceCount     uint64
}

// Stats returns a snapshot of the manager's current state.
func (m *Manager) Stats() Stats {
	m.init()
	m.recordLock.Lock()
	defer m.recordLock.Unlock()
	s := Stats{
		TotalConsumed: m.totalConsumed,
		Timestamp:     m.timestamp,
		FenceCount:    m.fence.Count(),
	}
	for _, r := range m.records {
		switch r.state() {
		case Absent:
			s.Absent++
		case Loading:
			s.Loading++
		case Resident:
			s.Resident++
		}
	}
	return s
}
