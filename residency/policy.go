package residency

import "sort"

// Iterate runs one step of the residency policy: it advances the logical
// timestamp, drains the cost and use-signal queues, then (if an
// Instantiator is bound) sorts every record by priority and recency and
// walks the result to activate newly-wanted records and release cold
// ones, all while holding the record lock for the step's entire
// duration - the lock is policy's serialization point.
//
// group may be nil, in which case all scheduled work runs synchronously
// on the calling goroutine.
func (m *Manager) Iterate(group TaskGroup) {
	m.init()
	m.recordLock.Lock()
	defer m.recordLock.Unlock()

	if m.fence.Count()+fenceSlack < m.timestamp {
		// Backpressure: still latch so completed uploads become
		// visible, but do not advance the policy.
		if m.instantiator != nil {
			m.instantiator.LatchHandles()
		}
		return
	}

	// Step 1: fold in any deferred ticks from IterateBlocking, then
	// create this iteration's task and count the iteration itself as
	// the unit of background work.
	m.timestamp += m.deferredTicks
	m.deferredTicks = 0

	task := newTask(group)
	task.SetDescription("residency.Iterate")
	task.SetClass(Background)
	task.SetFenceSignal(m.fence)
	task.Run(func() {})

	// Step 2: drain reported costs.
	m.applyCostUpdates(m.costQueue.drain())
	// Step 3: drain use signals.
	m.applyUseSignals(m.useQueue.drain())

	if m.instantiator != nil {
		// Steps 4-8: sort, activate, release.
		m.runPolicy(task)
		// Step 9: publish completed uploads.
		m.instantiator.LatchHandles()
	}

	// Step 10.
	m.timestamp++
}

// IterateBlocking pages in a single specific asset synchronously with
// respect to the caller's intent: if id is absent, it starts an
// instantiation immediately, bound to a fresh task on group. It returns
// false only if no Instantiator is bound or id is unknown; an id that is
// already loading or resident is treated as success with no new work.
func (m *Manager) IterateBlocking(group TaskGroup, id AssetId) bool {
	m.init()
	m.recordLock.Lock()
	defer m.recordLock.Unlock()

	if m.instantiator == nil {
		return false
	}

	m.applyCostUpdates(m.costQueue.drain())
	m.applyUseSignals(m.useQueue.drain())

	r := m.recordAt(id)
	if r == nil {
		return false
	}
	if r.state() != Absent {
		return true
	}

	estimate := m.instantiator.EstimateCost(r.id, r.handle)
	task := newTask(group)
	task.SetDescription("residency.IterateBlocking")
	task.SetClass(Background)
	task.SetFenceSignal(m.fence)

	r.pendingConsumed = estimate
	m.totalConsumed += estimate
	// The next Iterate call folds this into its own timestamp advance,
	// keeping count <= timestamp <= count+3 consistent.
	m.deferredTicks++

	task.Run(func() {
		m.instantiator.Instantiate(m, task, r.id, r.handle)
	})

	return true
}

// applyCostUpdates replays drained cost updates against the record
// table. Must be called with recordLock held.
func (m *Manager) applyCostUpdates(updates []costUpdate) {
	for _, u := range updates {
		r := m.recordAt(u.id)
		if r == nil {
			continue
		}
		old := r.consumed + r.pendingConsumed
		m.totalConsumed -= old
		m.totalConsumed += u.cost
		r.consumed = u.cost
		r.pendingConsumed = 0
		r.lastUsed = m.timestamp
	}
}

// applyUseSignals refreshes lastUsed for every drained id. Must be
// called with recordLock held.
func (m *Manager) applyUseSignals(ids []AssetId) {
	for _, id := range ids {
		r := m.recordAt(id)
		if r == nil {
			continue
		}
		r.lastUsed = m.timestamp
	}
}

// sortKey orders records for the policy: priority descending, recency
// descending, consumed ascending (cheap residents survive ties), pending
// descending (don't evict what's already paid for), id ascending as the
// final deterministic tiebreak.
func sortKey(order []*record) func(i, j int) bool {
	return func(i, j int) bool {
		a, b := order[i], order[j]
		switch {
		case a.prio != b.prio:
			return a.prio > b.prio
		case a.lastUsed != b.lastUsed:
			return a.lastUsed > b.lastUsed
		case a.consumed != b.consumed:
			return a.consumed < b.consumed
		case a.pendingConsumed != b.pendingConsumed:
			return a.pendingConsumed > b.pendingConsumed
		default:
			return a.id < b.id
		}
	}
}

// runPolicy implements steps 4-8 of the iteration: sort, activate, and
// release. Must be called with recordLock held and m.instantiator
// non-nil.
func (m *Manager) runPolicy(task TaskHandle) {
	order := make([]*record, len(m.records))
	copy(order, m.records)
	sort.Slice(order, sortKey(order))

	activateIndex := 0
	releaseIndex := len(order) - 1
	var perIterationSpent uint64

	// releaseTailVictim frees the nearest resident, non-persistent
	// record from the tail that has not already been claimed by the
	// activation cursor, to make room for the record currently being
	// considered for activation.
	releaseTailVictim := func() bool {
		for releaseIndex > activateIndex {
			victim := order[releaseIndex]
			releaseIndex--
			if victim.prio == Persistent || victim.state() != Resident {
				continue
			}
			m.releaseRecord(victim)
			return true
		}
		return false
	}

	for activateIndex <= releaseIndex && activateIndex < len(order) {
		cand := order[activateIndex]
		if cand.prio <= 0 || cand.state() != Absent {
			activateIndex++
			continue
		}

		// Forward-progress clause: once something has been activated
		// this iteration, further activations respect the soft
		// per-iteration cap; the very first activation is always
		// allowed through regardless of its size.
		if perIterationSpent > 0 && m.imageBudgetPerIteration > 0 && perIterationSpent >= m.imageBudgetPerIteration {
			break
		}

		estimate := m.instantiator.EstimateCost(cand.id, cand.handle)

		if cand.prio != Persistent {
			if estimate > m.imageBudget {
				// Can never fit regardless of eviction: the hard
				// budget alone is smaller than this one estimate.
				// Skip without touching any other record.
				activateIndex++
				continue
			}
			for m.totalConsumed+estimate > m.imageBudget {
				if !releaseTailVictim() {
					break
				}
			}
			if m.totalConsumed+estimate > m.imageBudget {
				// Ran out of evictable residents this iteration;
				// leave the candidate for a future one.
				activateIndex++
				continue
			}
		}

		cand.pendingConsumed = estimate
		m.totalConsumed += estimate
		perIterationSpent += estimate
		activated := cand
		task.Run(func() {
			m.instantiator.Instantiate(m, task, activated.id, activated.handle)
		})
		activateIndex++
	}

	// Step 8: eager release of cold residents to leave headroom for
	// future iterations. A single backward pass over every record is
	// used rather than reusing releaseIndex, since over-budget release
	// is not restricted to records below the priority band the
	// activation loop stopped at.
	budgetThreeQuarters := m.imageBudget / 4 * 3
	for i := len(order) - 1; i >= 0; i-- {
		r := order[i]
		if r.prio == Persistent || r.state() != Resident {
			continue
		}
		overBudget := m.totalConsumed > m.imageBudget
		coldAndIdle := r.prio == 0 && m.totalConsumed > budgetThreeQuarters
		if overBudget || coldAndIdle {
			m.releaseRecord(r)
		}
	}
}

// releaseRecord synchronously drops a resident record via the bound
// Instantiator. Must be called with recordLock held, m.instantiator
// non-nil, and r.state() == Resident.
func (m *Manager) releaseRecord(r *record) {
	m.instantiator.Release(r.id)
	m.totalConsumed -= r.consumed
	r.consumed = 0
}
