// Package registry implements the per-connection subscription table:
// the reservation-then-install dance that makes duplicate-id detection
// atomic with respect to a producer factory still being constructed
// (spec.md §4.E, §9 "Reservation before factory"), plus the
// suppress-and-wait bookkeeping that lets a client "complete" or an
// abrupt socket close race safely against an in-flight producer.
package registry

import (
	"errors"
	"sync"

	"github.com/nasnet-community/subwire/internal/producer"
)

// ErrDuplicate is returned by Reserve when id is already present,
// whether as a bare reservation or a running producer.
var ErrDuplicate = errors.New("registry: operation id already reserved")

// ErrNotReserved is returned by Install when id has no reservation to
// replace — typically because the connection is already tearing down
// and something else has already removed the entry.
var ErrNotReserved = errors.New("registry: no reservation for operation id")

// entry is either a bare reservation (producer == nil) or a running
// producer. done is created at Install time and closed by the
// operation's owning goroutine once Start has returned and any
// required wire emission and onComplete hook have run — callers that
// need to wait for an operation to fully wind down block on it.
type entry struct {
	producer   producer.Producer
	suppressed bool
	done       chan struct{}
}

// Registry is a per-connection map from operation id to its
// reservation or running producer. It is not safe to share across
// connections.
type Registry struct {
	mu  sync.Mutex
	ops map[string]*entry
}

func New() *Registry {
	return &Registry{ops: make(map[string]*entry)}
}

// Reserve atomically inserts a sentinel for id. It fails with
// ErrDuplicate if id is already present — including when the existing
// entry is itself still a bare reservation, which is what lets the
// orchestrator reject a second "subscribe" for the same id even while
// the first's factory is still constructing.
func (r *Registry) Reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[id]; exists {
		return ErrDuplicate
	}
	r.ops[id] = &entry{}
	return nil
}

// Install replaces id's reservation with a running producer and
// allocates its completion channel. It reports whether the entry had
// already been flagged for suppression (e.g. a client "complete" or
// socket close raced the still-building factory) — the caller should
// skip calling Start in that case. Install fails with ErrNotReserved
// if the entry is gone entirely (the connection is already tearing
// down).
func (r *Registry) Install(id string, p producer.Producer) (done chan struct{}, suppressed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.ops[id]
	if !exists {
		return nil, false, ErrNotReserved
	}
	e.producer = p
	e.done = make(chan struct{})
	return e.done, e.suppressed, nil
}

// RequestStop flags id's entry so the owning goroutine suppresses any
// wire emission for it, and returns the currently-installed producer,
// if any (nil if the factory is still building it). Used by both an
// explicit client "complete" and an abrupt socket close — the two
// cases that must stop a producer without ever emitting "complete" or
// "error" for its id.
func (r *Registry) RequestStop(id string) (producer.Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.ops[id]
	if !exists {
		return nil, false
	}
	e.suppressed = true
	return e.producer, true
}

// Suppressed reports whether id has been flagged via RequestStop.
// Returns false for an unknown id.
func (r *Registry) Suppressed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.ops[id]
	if !exists {
		return false
	}
	return e.suppressed
}

// DoneChan returns id's completion channel, or nil if the entry has no
// running producer yet (still a bare reservation) or doesn't exist.
func (r *Registry) DoneChan(id string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.ops[id]
	if !exists {
		return nil
	}
	return e.done
}

// Drop removes id's entry if present and returns its producer (nil if
// the entry was still a bare reservation) and whether anything was
// removed.
func (r *Registry) Drop(id string) (producer.Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.ops[id]
	if !exists {
		return nil, false
	}
	delete(r.ops, id)
	return e.producer, true
}

// Has reports whether id currently has any entry (reserved or running).
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.ops[id]
	return exists
}

// SnapshotIDs returns every currently-held operation id, for shutdown
// iteration. The snapshot is not live: entries may be added or removed
// concurrently after this call returns.
func (r *Registry) SnapshotIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.ops))
	for id := range r.ops {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of currently-held entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}
