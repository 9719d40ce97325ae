// Package broadcast provides in-process publish/subscribe of sync state for
// UI collaborators: connectivity/sync status transitions, data-changed
// notifications after pulls, and permanently failed queue items.
package broadcast

import (
	"sync"
)

// Status is the externally visible sync state
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusSyncing Status = "syncing"
)

// StatusListener is invoked on every status transition
type StatusListener func(Status)

// DataChangedListener is invoked once per sync pass that applied at least
// one remote change
type DataChangedListener func()

// StuckReport describes a queue item that exceeded the retry ceiling
type StuckReport struct {
	Collection string
	ItemID     string
	Err        error
}

// StuckListener is invoked when a queue item is declared permanently failed
type StuckListener func(StuckReport)

// Broadcaster fans out sync state to registered listeners. Listeners are
// invoked synchronously on the calling goroutine with no ordering guarantee
// between subscribers.
type Broadcaster struct {
	mu      sync.Mutex
	online  bool
	syncing bool
	nextID  int

	statusSubs map[int]StatusListener
	dataSubs   map[int]DataChangedListener
	stuckSubs  map[int]StuckListener
}

// New creates a Broadcaster seeded from the platform's connectivity signal
func New(initiallyOnline bool) *Broadcaster {
	return &Broadcaster{
		online:     initiallyOnline,
		statusSubs: make(map[int]StatusListener),
		dataSubs:   make(map[int]DataChangedListener),
		stuckSubs:  make(map[int]StuckListener),
	}
}

// Status returns the current status. Syncing dominates connectivity while a
// pass is in flight.
func (b *Broadcaster) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked()
}

func (b *Broadcaster) statusLocked() Status {
	if b.syncing {
		return StatusSyncing
	}
	if b.online {
		return StatusOnline
	}
	return StatusOffline
}

// Online reports current connectivity independent of a running pass
func (b *Broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

// SetOnline records a connectivity transition. An in-flight HTTP call is not
// aborted; the next attempt simply fails fast.
func (b *Broadcaster) SetOnline(online bool) {
	b.transition(func() { b.online = online })
}

// BeginSync marks a sync pass as started
func (b *Broadcaster) BeginSync() {
	b.transition(func() { b.syncing = true })
}

// EndSync marks the pass as finished; status falls back to online or offline
// depending on current connectivity, regardless of pass outcome.
func (b *Broadcaster) EndSync() {
	b.transition(func() { b.syncing = false })
}

func (b *Broadcaster) transition(apply func()) {
	b.mu.Lock()
	before := b.statusLocked()
	apply()
	after := b.statusLocked()
	listeners := make([]StatusListener, 0, len(b.statusSubs))
	for _, l := range b.statusSubs {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	if before == after {
		return
	}
	for _, l := range listeners {
		l(after)
	}
}

// Subscribe registers a status listener and returns its unsubscribe function
func (b *Broadcaster) Subscribe(listener StatusListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.statusSubs[id] = listener
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.statusSubs, id)
	}
}

// OnDataChanged registers a data-changed listener and returns its
// unsubscribe function
func (b *Broadcaster) OnDataChanged(listener DataChangedListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.dataSubs[id] = listener
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.dataSubs, id)
	}
}

// NotifyDataChanged tells collaborators to invalidate their cached views.
// The engine calls this only when a pull applied at least one change.
func (b *Broadcaster) NotifyDataChanged() {
	b.mu.Lock()
	listeners := make([]DataChangedListener, 0, len(b.dataSubs))
	for _, l := range b.dataSubs {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}

// OnStuck registers a listener for permanently failed queue items
func (b *Broadcaster) OnStuck(listener StuckListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.stuckSubs[id] = listener
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.stuckSubs, id)
	}
}

// ReportStuck surfaces a queue item that exceeded the retry ceiling. Stuck
// items are never retried automatically and must not be silently dropped.
func (b *Broadcaster) ReportStuck(report StuckReport) {
	b.mu.Lock()
	listeners := make([]StuckListener, 0, len(b.stuckSubs))
	for _, l := range b.stuckSubs {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(report)
	}
}
