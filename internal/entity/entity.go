// Package entity implements Longtable's entity store: a generational-index
// allocator with liveness checks. An ID is only ever valid for the
// generation it was minted under; reuse of a freed slot bumps the
// generation so stale references fail fast instead of aliasing a new
// entity.
package entity

import (
	"fmt"

	"github.com/kamstrup/intmap"
)

// ID is an opaque (index, generation) pair. The zero value is index 0 at
// generation 0, which is also the ID the first Spawn on a fresh Store
// returns.
type ID struct {
	Index      uint32
	Generation uint32
}

// String renders an ID in "index@generation" form, used in error messages
// and effect logs.
func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Index, id.Generation)
}

// IsNil reports whether id is the zero ID (index 0, generation 0).
func (id ID) IsNil() bool {
	return id.Index == 0 && id.Generation == 0
}

type slot struct {
	generation uint32
	alive      bool
}

// Store owns slot allocation: a dense slice of {generation, alive} plus a
// LIFO free list, so recently-freed indices are reused first and traces
// stay readable (a just-destroyed entity's index comes right back instead
// of an unrelated one jumping in).
//
// Store is immutable-by-convention at the World layer: World.Spawn/Destroy
// clone the Store (copying the slot slice and free list and rebuilding the
// live index) rather than mutating in place, so a
// previously-returned *Store continues to answer queries against its own
// point in time.
type Store struct {
	slots    []slot
	freeList []uint32
	// live is a fast membership index (index -> generation) mirroring the
	// alive slots, used by iteration to avoid scanning dead entries when
	// the store is sparse.
	live *intmap.Map[uint32, uint32]
}

// New returns an empty entity store.
func New() *Store {
	return &Store{live: intmap.New[uint32, uint32](64)}
}

// clone produces a structurally-shared copy suitable for a new World
// revision: the slot slice and free list are copied (they are small
// relative to component data and mutate every tick anyway), but this is
// the only container in the store that is not a persistent trie, matching
// spec §4.3's simple vector-plus-freelist design.
func (s *Store) clone() *Store {
	ns := &Store{
		slots:    append([]slot(nil), s.slots...),
		freeList: append([]uint32(nil), s.freeList...),
		live:     intmap.New[uint32, uint32](s.live.Len() + 8),
	}
	s.live.ForEach(func(k, v uint32) bool {
		ns.live.Put(k, v)
		return true
	})
	return ns
}

// Spawn allocates a new live ID, reusing a freed slot (LIFO) if available,
// returning the new Store and the minted ID.
func (s *Store) Spawn() (*Store, ID) {
	ns := s.clone()

	if n := len(ns.freeList); n > 0 {
		idx := ns.freeList[n-1]
		ns.freeList = ns.freeList[:n-1]
		ns.slots[idx].alive = true
		ns.live.Put(idx, ns.slots[idx].generation)
		return ns, ID{Index: idx, Generation: ns.slots[idx].generation}
	}

	idx := uint32(len(ns.slots))
	ns.slots = append(ns.slots, slot{generation: 0, alive: true})
	ns.live.Put(idx, 0)
	return ns, ID{Index: idx, Generation: 0}
}

// Destroy marks id dead and bumps its slot's generation, returning the new
// Store. Destroying an already-dead or unknown ID is a no-op (idempotent),
// matching spec §3's "destroy is idempotent".
func (s *Store) Destroy(id ID) *Store {
	if !s.Exists(id) {
		return s
	}
	ns := s.clone()
	ns.slots[id.Index].alive = false
	ns.slots[id.Index].generation++
	ns.freeList = append(ns.freeList, id.Index)
	ns.live.Del(id.Index)
	return ns
}

// Exists reports liveness without error (non-fatal query).
func (s *Store) Exists(id ID) bool {
	if int(id.Index) >= len(s.slots) {
		return false
	}
	sl := s.slots[id.Index]
	return sl.alive && sl.generation == id.Generation
}

// Validate fails with lterr.StaleEntity semantics via the returned bool;
// callers that need the spec's StaleEntity error construct it themselves
// (keeps this package free of the lterr import cycle risk with higher
// layers that wrap entity errors with tick/rule context).
func (s *Store) Validate(id ID) bool {
	return s.Exists(id)
}

// Live calls fn for every currently-live ID, in ascending index order —
// archetype/row iteration elsewhere layers its own determinism on top, but
// this base order is itself deterministic.
func (s *Store) Live(fn func(ID)) {
	for idx := uint32(0); idx < uint32(len(s.slots)); idx++ {
		sl := s.slots[idx]
		if sl.alive {
			fn(ID{Index: idx, Generation: sl.generation})
		}
	}
}

// Len returns the number of live entities.
func (s *Store) Len() int {
	return s.live.Len()
}

// SlotSnapshot is one slot's persisted state: its current generation and
// whether it is currently live. Index order in the slice returned by
// Snapshot is the slot index itself.
type SlotSnapshot struct {
	Generation uint32
	Alive      bool
}

// Snapshot returns every slot's state in index order plus the free list in
// its current LIFO order, sufficient for Restore to reconstruct a Store
// that behaves identically to s from this point forward (same live IDs,
// same next-allocated index, same generation on reuse). Used by
// persistence (spec §6) to round-trip the entity allocator without
// depending on the exact sequence of Spawn/Destroy calls that produced it.
func (s *Store) Snapshot() ([]SlotSnapshot, []uint32) {
	out := make([]SlotSnapshot, len(s.slots))
	for i, sl := range s.slots {
		out[i] = SlotSnapshot{Generation: sl.generation, Alive: sl.alive}
	}
	return out, append([]uint32(nil), s.freeList...)
}

// Restore reconstructs a Store from a prior Snapshot.
func Restore(slots []SlotSnapshot, freeList []uint32) *Store {
	s := &Store{
		slots:    make([]slot, len(slots)),
		freeList: append([]uint32(nil), freeList...),
		live:     intmap.New[uint32, uint32](len(slots) + 8),
	}
	for i, sl := range slots {
		s.slots[i] = slot{generation: sl.Generation, alive: sl.Alive}
		if sl.Alive {
			s.live.Put(uint32(i), sl.Generation)
		}
	}
	return s
}
