package residency

import "sync"

// useQueue is a multi-producer, single-consumer append buffer for
// mark-used signals. It is implemented as a lock-free Treiber stack: push
// is a single atomic compare-and-swap loop, and drain swaps the head out
// wholesale. Unlike costQueue (guarded by a plain mutex, matching the
// design's "separate small lock" requirement), mark-used must never take
// any lock at all - it is called from inside Instantiator completion
// callbacks, where taking the record lock or even the cost lock would
// risk deadlocking against a caller that is itself holding one of those
// locks. Ordering is irrelevant here: the design only requires that the
// maximum last-used timestamp eventually wins, which a stack-order drain
// preserves just as well as a FIFO one would.
type useQueue struct {
	head atomicNode
}

type useNode struct {
	id   AssetId
	next *useNode
}

// push appends id to the queue. Safe for concurrent use from any
// goroutine, including from within an Instantiator callback. Never
// blocks.
func (q *useQueue) push(id AssetId) {
	n := &useNode{id: id}
	for {
		old := q.head.load()
		n.next = old
		if q.head.compareAndSwap(old, n) {
			return
		}
	}
}

// drain removes and returns every id queued since the last drain. The
// returned slice may contain duplicates; callers are expected to apply
// each one idempotently (refreshing last-used is idempotent by nature).
func (q *useQueue) drain() []AssetId {
	n := q.head.swap(nil)
	if n == nil {
		return nil
	}
	var out []AssetId
	for n != nil {
		out = append(out, n.id)
		n = n.next
	}
	return out
}

// costUpdate is a single reported cost, queued by report_cost until the
// next iterate drains it.
type costUpdate struct {
	id   AssetId
	cost uint64
}

// costQueue buffers cost updates reported by the Instantiator. It is
// guarded by its own mutex, deliberately distinct from the record lock:
// report_cost is typically called by the Instantiator from its own
// background goroutine, possibly while that goroutine is itself being
// waited on by something holding the record lock (e.g. teardown), so
// sharing a lock between the two would be a lock-ordering hazard.
type costQueue struct {
	mu    sync.Mutex
	items []costUpdate
}

// push appends a cost update. Safe for concurrent use.
func (q *costQueue) push(id AssetId, cost uint64) {
	q.mu.Lock()
	q.items = append(q.items, costUpdate{id: id, cost: cost})
	q.mu.Unlock()
}

// drain removes and returns all queued cost updates in FIFO order.
func (q *costQueue) drain() []costUpdate {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}
