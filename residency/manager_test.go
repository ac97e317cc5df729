package residency

import (
	"errors"
	"sync"
	"testing"
)

var errOpenFailed = errors.New("open failed")

func TestRegisterFromHandleAssignsDenseIds(t *testing.T) {
	var m Manager
	a := m.RegisterFromHandle(fakeHandle{cost: 10}, 0, 1)
	b := m.RegisterFromHandle(fakeHandle{cost: 10}, 0, 1)
	if a != 0 || b != 1 {
		t.Fatalf("expected dense ids 0, 1; got %d, %d", a, b)
	}
}

type stubFS struct {
	opened int
	err    error
}

func (s *stubFS) Open(path string) (Handle, error) {
	s.opened++
	if s.err != nil {
		return nil, s.err
	}
	return fakeHandle{cost: uint64(len(path))}, nil
}

func TestRegisterFromPathIsIdempotentByPath(t *testing.T) {
	var m Manager
	fs := &stubFS{}

	id1, err := m.RegisterFromPath(fs, "a/b.png", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := m.RegisterFromPath(fs, "a/b.png", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id for repeated path, got %d and %d", id1, id2)
	}
	if fs.opened != 1 {
		t.Fatalf("expected fs.Open to be called once, got %d", fs.opened)
	}

	if _, err := m.RegisterFromPath(fs, "c/d.png", 0, 1); err != nil {
		t.Fatalf("unexpected error registering a new path: %v", err)
	}
	if fs.opened != 2 {
		t.Fatalf("expected fs.Open to be called again for a new path, got %d", fs.opened)
	}
}

func TestRegisterFromPathOpenFailure(t *testing.T) {
	var m Manager
	fs := &stubFS{err: errOpenFailed}

	gotID, gotErr := m.RegisterFromPath(fs, "x.png", 0, 1)
	if gotID != NoAsset {
		t.Fatalf("expected NoAsset on open failure, got %d", gotID)
	}
	if !errors.Is(gotErr, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", gotErr)
	}
}

func TestSetResidencyPriorityUnknownId(t *testing.T) {
	var m Manager
	if ok := m.SetResidencyPriority(99, 5); ok {
		t.Fatalf("expected false for an unregistered id")
	}
	m.RegisterFromHandle(fakeHandle{}, 0, 1)
	if ok := m.SetResidencyPriority(0, 5); !ok {
		t.Fatalf("expected true for a registered id")
	}
}

// TestIterateActivatesAndSettles exercises the common path end to end: a
// handful of used, positive-priority records should all reach Resident
// within two synchronous Iterate calls, given enough budget. The first
// call activates every record (Loading: cost reported but not yet
// drained); the second call drains those reported costs into consumed
// bytes, settling the records into Resident - the same two-pass
// settling the inspect command relies on.
func TestIterateActivatesAndSettles(t *testing.T) {
	var m Manager
	inst := newFakeInstantiator()
	m.SetImageBudget(1000)
	m.SetImageBudgetPerIteration(1000)
	m.BindInstantiator(inst)

	var ids []AssetId
	for i := 0; i < 4; i++ {
		id := m.RegisterFromHandle(fakeHandle{cost: 50}, 0, 1)
		ids = append(ids, id)
		m.MarkUsed(id)
	}

	m.Iterate(nil)
	m.Iterate(nil)

	stats := m.Stats()
	if stats.Resident != 4 {
		t.Fatalf("expected all 4 records resident, got stats=%+v", stats)
	}
	if stats.TotalConsumed != 200 {
		t.Fatalf("expected total_consumed=200, got %d", stats.TotalConsumed)
	}
}

// TestIterateSkipsZeroPriorityRecords checks that a record registered at
// priority 0 is never activated, even when marked used and given ample
// budget.
func TestIterateSkipsZeroPriorityRecords(t *testing.T) {
	var m Manager
	inst := newFakeInstantiator()
	m.SetImageBudget(1000)
	m.SetImageBudgetPerIteration(1000)
	m.BindInstantiator(inst)

	id := m.RegisterFromHandle(fakeHandle{cost: 50}, 0, 0)
	m.MarkUsed(id)
	m.Iterate(nil)

	if state := m.Stats(); state.Resident != 0 || state.Absent != 1 {
		t.Fatalf("expected the zero-priority record to stay absent, got %+v", state)
	}
}

// TestHardBudgetAdmitsOnlyHighestPriorityThatFits is the scenario worked
// through by hand: budget 100, per-iteration budget 100, three
// equally-recent candidates A and B at priority 1 (est. 60 each) and C
// at priority 2 (est. 60), all marked used. Only C should activate; A
// and B must be skipped outright rather than causing spurious releases
// of anything, since nothing is resident yet to release.
func TestHardBudgetAdmitsOnlyHighestPriorityThatFits(t *testing.T) {
	var m Manager
	inst := newFakeInstantiator()
	m.SetImageBudget(100)
	m.SetImageBudgetPerIteration(100)
	m.BindInstantiator(inst)

	a := m.RegisterFromHandle(fakeHandle{cost: 60}, 0, 1)
	b := m.RegisterFromHandle(fakeHandle{cost: 60}, 0, 1)
	c := m.RegisterFromHandle(fakeHandle{cost: 60}, 0, 2)
	for _, id := range []AssetId{a, b, c} {
		m.MarkUsed(id)
	}

	m.Iterate(nil)

	stats := m.Stats()
	if stats.TotalConsumed != 60 {
		t.Fatalf("expected total_consumed=60, got %d", stats.TotalConsumed)
	}
	if stats.Loading != 1 {
		t.Fatalf("expected exactly one record activated (still Loading after a single pass), got %+v", stats)
	}
	if len(inst.instantiated) != 1 || inst.instantiated[0] != c {
		t.Fatalf("expected only the higher-priority candidate C to instantiate, got %v", inst.instantiated)
	}
	if len(inst.released) != 0 {
		t.Fatalf("expected no releases when nothing was ever resident, got %v", inst.released)
	}
}

// TestPersistentBypassesHardBudget checks that a Persistent-priority
// record activates even when its estimate alone exceeds the hard budget,
// and is never chosen as an eviction victim afterward.
func TestPersistentBypassesHardBudget(t *testing.T) {
	var m Manager
	inst := newFakeInstantiator()
	m.SetImageBudget(10)
	m.SetImageBudgetPerIteration(1000)
	m.BindInstantiator(inst)

	pinned := m.RegisterFromHandle(fakeHandle{cost: 500}, 0, Persistent)
	m.MarkUsed(pinned)
	m.Iterate(nil)
	m.Iterate(nil)

	if state := m.Stats(); state.Resident != 1 || state.TotalConsumed != 500 {
		t.Fatalf("expected the persistent record resident despite exceeding budget, got %+v", state)
	}

	// A second, ordinary high-priority candidate should not be able to
	// evict the pinned record to make room for itself.
	other := m.RegisterFromHandle(fakeHandle{cost: 500}, 0, Persistent-1)
	m.MarkUsed(other)
	m.Iterate(nil)

	if len(inst.released) != 0 {
		t.Fatalf("expected the persistent record to never be released, got %v", inst.released)
	}
}

// TestPerIterationBudgetForwardProgress checks the boundary case where
// the soft per-iteration budget is smaller than any single candidate's
// estimate: the very first activation in an iteration must still go
// through, or the policy could starve forever.
func TestPerIterationBudgetForwardProgress(t *testing.T) {
	var m Manager
	inst := newFakeInstantiator()
	m.SetImageBudget(1000)
	m.SetImageBudgetPerIteration(1)
	m.BindInstantiator(inst)

	id := m.RegisterFromHandle(fakeHandle{cost: 500}, 0, 1)
	m.MarkUsed(id)
	m.Iterate(nil)

	if len(inst.instantiated) != 1 || inst.instantiated[0] != id {
		t.Fatalf("expected forward progress to admit the first candidate despite the tiny per-iteration budget, got instantiated=%v", inst.instantiated)
	}
	if got := m.TotalConsumed(); got != 500 {
		t.Fatalf("expected the admitted candidate's estimate to be reserved, got total_consumed=%d", got)
	}
}

// TestEvictionMakesRoomForHigherPriority checks that, once something is
// already resident, a higher-priority newcomer can force an eviction of
// a lower-priority resident to fit within the hard budget.
func TestEvictionMakesRoomForHigherPriority(t *testing.T) {
	var m Manager
	inst := newFakeInstantiator()
	m.SetImageBudget(60)
	m.SetImageBudgetPerIteration(1000)
	m.BindInstantiator(inst)

	low := m.RegisterFromHandle(fakeHandle{cost: 60}, 0, 1)
	m.MarkUsed(low)
	m.Iterate(nil)
	m.Iterate(nil)
	if state := m.Stats(); state.Resident != 1 {
		t.Fatalf("setup: expected the low-priority record resident first, got %+v", state)
	}

	high := m.RegisterFromHandle(fakeHandle{cost: 60}, 0, 2)
	m.MarkUsed(high)
	m.Iterate(nil)

	if len(inst.released) != 1 || inst.released[0] != low {
		t.Fatalf("expected the low-priority record to be released to make room, got released=%v", inst.released)
	}
	m.Iterate(nil)
	if state := m.Stats(); state.Resident != 1 || state.TotalConsumed != 60 {
		t.Fatalf("expected exactly the high-priority record resident, got %+v", state)
	}
}

// TestIterateBlockingActivatesRegardlessOfBudget mirrors the design's
// explicit-request path: IterateBlocking must admit the requested id
// even when it would never be chosen by the ordinary priority/LRU pass.
func TestIterateBlockingActivatesRegardlessOfBudget(t *testing.T) {
	var m Manager
	inst := newFakeInstantiator()
	m.SetImageBudget(10)
	m.BindInstantiator(inst)

	id := m.RegisterFromHandle(fakeHandle{cost: 500}, 0, 0)

	ok := m.IterateBlocking(nil, id)
	if !ok {
		t.Fatalf("expected IterateBlocking to report true for a known id")
	}
	// IterateBlocking only queues the reported cost; it lands as Loading
	// immediately, well above what the hard budget would ever admit
	// through the ordinary policy pass.
	if state := m.Stats(); state.Loading != 1 {
		t.Fatalf("expected the requested id to be activated (Loading) despite the tiny budget, got %+v", state)
	}
}

func TestIterateBlockingUnknownId(t *testing.T) {
	var m Manager
	m.BindInstantiator(newFakeInstantiator())
	if ok := m.IterateBlocking(nil, 42); ok {
		t.Fatalf("expected false for an unregistered id")
	}
}

func TestIterateBlockingNoInstantiator(t *testing.T) {
	var m Manager
	id := m.RegisterFromHandle(fakeHandle{}, 0, 0)
	if ok := m.IterateBlocking(nil, id); ok {
		t.Fatalf("expected false when no instantiator is bound")
	}
}

// TestIterateBackpressureSkipsWhenFenceLagsTooFar checks that Iterate
// declines to advance once the fence has fallen fenceSlack iterations
// behind the logical timestamp, instead of piling up unbounded
// in-flight work. Every task handed to the blocking group stalls
// indefinitely, so the fence never ticks and the timestamp should
// plateau exactly fenceSlack+1 calls in.
func TestIterateBackpressureSkipsWhenFenceLagsTooFar(t *testing.T) {
	var m Manager
	group := newBlockingTaskGroup()
	m.SetImageBudget(1000)
	m.SetImageBudgetPerIteration(1000)
	m.BindInstantiator(stallInstantiator{})

	id := m.RegisterFromHandle(fakeHandle{cost: 1}, 0, 1)
	m.MarkUsed(id)

	for i := 0; i < fenceSlack+5; i++ {
		m.Iterate(group)
	}

	if stats := m.Stats(); stats.Timestamp != fenceSlack+1 {
		t.Fatalf("expected the timestamp to plateau at fenceSlack+1=%d once the fence stalls, got %+v", fenceSlack+1, stats)
	}

	group.unblock()
}

// TestMarkUsedConcurrentIsRaceFree drives MarkUsed from many goroutines
// at once against a single record, matching the design's requirement
// that it never take the record lock.
func TestMarkUsedConcurrentIsRaceFree(t *testing.T) {
	var m Manager
	id := m.RegisterFromHandle(fakeHandle{cost: 1}, 0, 1)

	const goroutines = 8
	const callsEach = 10000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < callsEach; i++ {
				m.MarkUsed(id)
			}
		}()
	}
	wg.Wait()

	drained := m.useQueue.drain()
	if len(drained) != goroutines*callsEach {
		t.Fatalf("expected %d queued signals, got %d", goroutines*callsEach, len(drained))
	}
}

// TestStateTracksSettlingThenUnknownId checks State against the same
// two-pass settling timeline TestIterateActivatesAndSettles exercises,
// plus its false-ok branch for an id outside the record table.
func TestStateTracksSettlingThenUnknownId(t *testing.T) {
	var m Manager
	inst := newFakeInstantiator()
	m.SetImageBudget(1000)
	m.SetImageBudgetPerIteration(1000)
	m.BindInstantiator(inst)

	id := m.RegisterFromHandle(fakeHandle{cost: 50}, 0, 1)
	m.MarkUsed(id)

	if state, ok := m.State(id); !ok || state != Absent {
		t.Fatalf("expected Absent before any Iterate, got state=%s ok=%v", state, ok)
	}

	m.Iterate(nil)
	if state, ok := m.State(id); !ok || state != Loading {
		t.Fatalf("expected Loading after the activating Iterate, got state=%s ok=%v", state, ok)
	}

	m.Iterate(nil)
	if state, ok := m.State(id); !ok || state != Resident {
		t.Fatalf("expected Resident after the settling Iterate, got state=%s ok=%v", state, ok)
	}

	if _, ok := m.State(999); ok {
		t.Fatalf("expected ok=false for an id outside the record table")
	}
}

func TestCloseReleasesResidentRecords(t *testing.T) {
	var m Manager
	inst := newFakeInstantiator()
	m.SetImageBudget(1000)
	m.SetImageBudgetPerIteration(1000)
	m.BindInstantiator(inst)

	id := m.RegisterFromHandle(fakeHandle{cost: 50}, 0, 1)
	m.MarkUsed(id)
	m.Iterate(nil)
	m.Iterate(nil)

	m.Close()

	if len(inst.released) != 1 || inst.released[0] != id {
		t.Fatalf("expected Close to release the resident record, got %v", inst.released)
	}
}
