// Package taskgroup provides a concrete, worker-pool backed
// residency.TaskGroup, adapted from the fixed and dynamic worker pool
// schedulers used elsewhere in this codebase for async loading.
package taskgroup

import (
	"runtime"
	"sync"
	"sync/atomic"

	"git.sr.ht/~gioverse/residency/residency"
)

// Scheduler schedules work according to some strategy. Implementations
// may block the caller of Schedule until a worker is free.
type Scheduler interface {
	Schedule(func())
}

// FixedPool is a simple fixed-size worker pool that lets the go runtime
// schedule work atop some number of goroutines, minimizing per-task
// latency at the cost of keeping Workers goroutines alive for the life
// of the pool.
type FixedPool struct {
	// Workers specifies the number of concurrent workers in this pool.
	// Defaults to runtime.NumCPU() if <= 0.
	Workers int
	queue   chan func()
	once    sync.Once
}

// Schedule queues work for execution by one of the pool's workers. This
// blocks if every worker is currently busy.
func (p *FixedPool) Schedule(work func()) {
	p.once.Do(func() {
		if p.Workers <= 0 {
			p.Workers = runtime.NumCPU()
		}
		p.queue = make(chan func())
		for i := 0; i < p.Workers; i++ {
			go func() {
				for w := range p.queue {
					if w != nil {
						w()
					}
				}
			}()
		}
	})
	p.queue <- work
}

// DynamicPool spins up a new goroutine per unit of work, up to Workers
// concurrently, letting goroutines die off once idle rather than
// lingering for the pool's whole lifetime. This trades idle memory for
// per-task startup latency, and gives no ordering guarantee across
// concurrently scheduled work.
type DynamicPool struct {
	// Workers limits the number of concurrently running goroutines.
	// Defaults to runtime.NumCPU() if <= 0.
	Workers int64
	count   chan struct{}
	queue   chan func()
	once    sync.Once
}

// Schedule queues work, spinning up a fresh goroutine for it as soon as
// a semaphore slot is available. This blocks if every slot is held.
func (p *DynamicPool) Schedule(work func()) {
	p.once.Do(func() {
		if p.Workers <= 0 {
			p.Workers = int64(runtime.NumCPU())
		}
		p.queue = make(chan func())
		p.count = make(chan struct{}, p.Workers)
		for i := int64(0); i < p.Workers; i++ {
			p.count <- struct{}{}
		}
		go func() {
			for w := range p.queue {
				w := w
				if w != nil {
					sem := <-p.count
					go func() {
						defer func() { p.count <- sem }()
						w()
					}()
				}
			}
		}()
	})
	p.queue <- work
}

// Group is a residency.TaskGroup backed by a Scheduler. It tracks every
// task currently in flight so callers can inspect pending work for
// profiling or a debug overlay.
type Group struct {
	scheduler Scheduler

	mu       sync.Mutex
	inflight map[*task]struct{}

	// queued counts units of work that Run has handed to the scheduler
	// but that have not yet started running. Read via Stats.
	queued int64
}

// New constructs a Group backed by scheduler. A nil scheduler defaults
// to a FixedPool sized to runtime.NumCPU().
func New(scheduler Scheduler) *Group {
	if scheduler == nil {
		scheduler = &FixedPool{}
	}
	return &Group{
		scheduler: scheduler,
		inflight:  make(map[*task]struct{}),
	}
}

// CreateTask allocates a new task bound to this group.
func (g *Group) CreateTask() residency.TaskHandle {
	t := &task{group: g}
	g.mu.Lock()
	g.inflight[t] = struct{}{}
	g.mu.Unlock()
	return t
}

func (g *Group) untrack(t *task) {
	g.mu.Lock()
	delete(g.inflight, t)
	g.mu.Unlock()
}

// Stats summarizes the group's outstanding work.
type Stats struct {
	Queued   int
	Inflight []string
}

// Stats returns a snapshot of descriptions for every task created but
// not yet finished running.
func (g *Group) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Stats{Queued: int(atomic.LoadInt64(&g.queued))}
	for t := range g.inflight {
		s.Inflight = append(s.Inflight, t.description)
	}
	return s
}

// task is the Group's residency.TaskHandle implementation. Run may be
// called more than once; each call schedules one more unit of work on
// the group's Scheduler and ticks the attached Signal once that unit
// completes.
type task struct {
	group       *Group
	description string
	class       residency.TaskClass
	fence       residency.Signal
}

func (t *task) SetDescription(d string)           { t.description = d }
func (t *task) SetClass(c residency.TaskClass)    { t.class = c }
func (t *task) SetFenceSignal(s residency.Signal) { t.fence = s }

func (t *task) Run(fn func()) {
	atomic.AddInt64(&t.group.queued, 1)
	t.group.scheduler.Schedule(func() {
		atomic.AddInt64(&t.group.queued, -1)
		defer t.group.untrack(t)
		fn()
		if t.fence != nil {
			t.fence.SignalIncrement()
		}
	})
}
