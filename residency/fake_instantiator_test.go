package residency

import "io"

// fakeHandle is a minimal Handle whose declared cost is read by
// fakeInstantiator.EstimateCost, so tests can script exact byte budgets
// without decoding anything real.
type fakeHandle struct {
	cost uint64
}

func (fakeHandle) Read([]byte) (int, error) { return 0, io.EOF }
func (fakeHandle) Close() error              { return nil }

// fakeInstantiator is a synchronous, in-memory Instantiator: Instantiate
// reports the handle's declared cost back to the manager immediately,
// rather than simulating any real asynchronous decode. Combined with a
// nil TaskGroup (which runs every task synchronously), this lets tests
// observe a fully-settled state after a single Iterate call.
type fakeInstantiator struct {
	NoopImageClass

	bounds       int
	classes      map[AssetId]ImageClass
	instantiated []AssetId
	released     []AssetId
}

func newFakeInstantiator() *fakeInstantiator {
	return &fakeInstantiator{classes: make(map[AssetId]ImageClass)}
}

func (f *fakeInstantiator) SetIDBounds(n int) { f.bounds = n }

func (f *fakeInstantiator) SetImageClass(id AssetId, class ImageClass) {
	f.classes[id] = class
}

func (f *fakeInstantiator) EstimateCost(id AssetId, handle Handle) uint64 {
	return handle.(fakeHandle).cost
}

func (f *fakeInstantiator) Instantiate(mgr *Manager, task TaskHandle, id AssetId, handle Handle) {
	f.instantiated = append(f.instantiated, id)
	mgr.ReportCost(id, handle.(fakeHandle).cost)
}

func (f *fakeInstantiator) Release(id AssetId) {
	f.released = append(f.released, id)
}

func (f *fakeInstantiator) LatchHandles() {}

// stallInstantiator never reports a cost, leaving every activated record
// stuck in Loading - used to exercise the fence-slack backpressure path
// in Iterate.
type stallInstantiator struct {
	NoopImageClass
}

func (stallInstantiator) SetIDBounds(int)                                   {}
func (stallInstantiator) EstimateCost(AssetId, Handle) uint64               { return 1 }
func (stallInstantiator) Instantiate(*Manager, TaskHandle, AssetId, Handle) {}
func (stallInstantiator) Release(AssetId)                                   {}
func (stallInstantiator) LatchHandles()                                     {}

// blockingTaskGroup hands out TaskHandles whose Run defers fn (and the
// fence signal) until release() is called, letting tests hold a task
// "in flight" across several Iterate calls.
type blockingTaskGroup struct {
	release chan struct{}
}

func newBlockingTaskGroup() *blockingTaskGroup {
	return &blockingTaskGroup{release: make(chan struct{})}
}

func (g *blockingTaskGroup) CreateTask() TaskHandle { return &blockingTask{group: g} }

func (g *blockingTaskGroup) unblock() { close(g.release) }

type blockingTask struct {
	group *blockingTaskGroup
	fence Signal
}

func (t *blockingTask) SetDescription(string)   {}
func (t *blockingTask) SetClass(TaskClass)      {}
func (t *blockingTask) SetFenceSignal(s Signal) { t.fence = s }
func (t *blockingTask) Run(fn func()) {
	go func() {
		<-t.group.release
		fn()
		if t.fence != nil {
			t.fence.SignalIncrement()
		}
	}()
}
