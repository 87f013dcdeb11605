// Package world implements Longtable's World (C6): the immutable snapshot
// that composes the entity, component, and relationship stores behind a
// single content-addressed, structurally-shared value. Every mutating
// operation — spawn, destroy, set, set_field, link, unlink — takes a
// *World and returns a new *World plus the EffectRecord(s) it produced;
// the previous World is left untouched and cheap to keep around (e.g. for
// rollback), since stores an operation does not change are shared with
// the new World rather than copied (spec §4.6); the entity store is
// copied whenever spawn or destroy changes it.
package world

import (
	"github.com/longtable/longtable/internal/component"
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/relationship"
	"github.com/longtable/longtable/internal/value"
	"github.com/zeebo/blake3"
)

// EffectRecord is the immutable audit trail of one world mutation (spec
// §4.9): what changed, what it changed from and to, and what produced it.
// Source distinguishes injected tick input from rule-fired effects; a VM
// stamps Source with the firing activation's rule name when the record is
// created, in both direct and buffered mode (buffered mode only delays
// when the record joins the effect log).
type EffectRecord struct {
	Tick   uint64
	Entity entity.ID
	Kind   EffectKind
	Old    value.Value
	New    value.Value
	Source string
}

// EffectKind discriminates the shape of an EffectRecord.
type EffectKind uint8

const (
	EffectSpawn EffectKind = iota
	EffectDestroy
	EffectSet
	EffectSetField
	EffectLink
	EffectUnlink
)

// World is one immutable revision of the simulation state: the tick it was
// produced at, the seed it derives its deterministic randomness from, a
// link to the World it was derived from (nil for tick 0), and the three
// composed stores. ContentHash is computed lazily by Hash and cached.
type World struct {
	Tick     uint64
	Seed     uint64
	Previous *World

	Registry      *component.Registry
	entities      *entity.Store
	components    *component.Store
	relationships *relationship.Store

	contentHash    uint64
	contentHashSet bool
}

// New returns the tick-0 World for a freshly loaded program.
func New(registry *component.Registry, seed uint64) *World {
	return &World{
		Tick:          0,
		Seed:          seed,
		Registry:      registry,
		entities:      entity.New(),
		components:    component.New(registry),
		relationships: relationship.New(),
	}
}

// Restore reconstructs a World directly from previously-persisted store
// state (spec §6): the entity allocator, component data, and relationship
// indices, at the given tick and seed, with no Previous link — a restored
// World is treated as the root of a fresh lineage, not a continuation of
// the one that produced the frame. Used by internal/store when loading a
// persisted frame back against the program it was captured from.
func Restore(registry *component.Registry, tick, seed uint64, entities *entity.Store, components *component.Store, relationships *relationship.Store) *World {
	return &World{
		Tick:          tick,
		Seed:          seed,
		Registry:      registry,
		entities:      entities,
		components:    components,
		relationships: relationships,
	}
}

func (w *World) clone() *World {
	return &World{
		Tick:          w.Tick,
		Seed:          w.Seed,
		Previous:      w.Previous,
		Registry:      w.Registry,
		entities:      w.entities,
		components:    w.components,
		relationships: w.relationships,
	}
}

// Advance returns a new World at tick+1 with the same Seed, linked back to
// w. The per-tick seed (spec §4.7 "world seed -> tick seed" chain) is not
// stored on the World; vm.SeedChain.TickSeed derives it from Seed and the
// tick number.
func (w *World) Advance() *World {
	nw := w.clone()
	nw.Tick = w.Tick + 1
	nw.Previous = w
	nw.contentHashSet = false
	return nw
}

func (w *World) manager() relationship.Manager {
	return relationship.Manager{
		Registry:   w.Registry,
		Entities:   w.entities,
		Components: w.components,
		Index:      w.relationships,
	}
}

func (w *World) withManager(m relationship.Manager) *World {
	nw := w.clone()
	nw.entities = m.Entities
	nw.components = m.Components
	nw.relationships = m.Index
	nw.contentHashSet = false
	return nw
}

// Exists reports whether id is a currently-live entity.
func (w *World) Exists(id entity.ID) bool { return w.entities.Exists(id) }

// Spawn allocates a new entity with no components, returning the new
// World, the minted ID, and its EffectRecord.
func (w *World) Spawn(source string) (*World, entity.ID, EffectRecord) {
	nw := w.clone()
	entities, id := w.entities.Spawn()
	nw.entities = entities
	nw.contentHashSet = false
	return nw, id, EffectRecord{Tick: w.Tick, Entity: id, Kind: EffectSpawn, Source: source}
}

// Destroy removes id and cascades relationship fallout (on-target-delete
// policies) to a fixpoint, cycle-safe via a visited set. Returns the new
// World and every EffectRecord produced (the primary destroy plus any
// cascaded destroys).
func (w *World) Destroy(id entity.ID, source string) (*World, []EffectRecord, error) {
	if !w.entities.Exists(id) {
		return w, nil, nil
	}

	m := w.manager()
	visited := map[entity.ID]bool{}
	queue := []entity.ID{id}
	var effects []EffectRecord

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] || !m.Entities.Exists(cur) {
			continue
		}
		visited[cur] = true

		m.Entities = m.Entities.Destroy(cur)
		m.Components = m.Components.RemoveEntity(cur)
		nm, cascaded, err := m.OnEntityDestroyed(cur)
		if err != nil {
			return w, nil, err
		}
		m = nm
		effects = append(effects, EffectRecord{Tick: w.Tick, Entity: cur, Kind: EffectDestroy, Source: source})
		for _, next := range cascaded {
			if !visited[next] {
				queue = append(queue, next)
			}
		}
	}

	return w.withManager(m), effects, nil
}

// Get returns the whole value of component on id.
func (w *World) Get(id entity.ID, component uint32) (value.Value, bool) {
	if !w.entities.Exists(id) {
		return nil, false
	}
	return w.components.Get(id, component)
}

// GetField reads one field of a structured component on id.
func (w *World) GetField(id entity.ID, component, field uint32) (value.Value, bool) {
	if !w.entities.Exists(id) {
		return nil, false
	}
	return w.components.GetField(id, component, field)
}

// HasComponent reports whether id carries component.
func (w *World) HasComponent(id entity.ID, component uint32) bool {
	return w.entities.Exists(id) && w.components.HasComponent(id, component)
}

// Set stores v for (id, component), returning the new World and the
// EffectRecord describing the change (Old is the prior whole value, or
// nil if component was absent).
func (w *World) Set(id entity.ID, component uint32, v value.Value, source string) (*World, EffectRecord, error) {
	if !w.entities.Exists(id) {
		return w, EffectRecord{}, lterr.StaleEntity(id.String())
	}
	old, _ := w.components.Get(id, component)
	nc, err := w.components.Set(id, component, v)
	if err != nil {
		return w, EffectRecord{}, err
	}
	nw := w.clone()
	nw.components = nc
	nw.contentHashSet = false
	return nw, EffectRecord{Tick: w.Tick, Entity: id, Kind: EffectSet, Old: old, New: v, Source: source}, nil
}

// SetField writes one field of a structured component on id.
func (w *World) SetField(id entity.ID, component, field uint32, v value.Value, source string) (*World, EffectRecord, error) {
	if !w.entities.Exists(id) {
		return w, EffectRecord{}, lterr.StaleEntity(id.String())
	}
	old, _ := w.components.GetField(id, component, field)
	nc, err := w.components.SetField(id, component, field, v)
	if err != nil {
		return w, EffectRecord{}, err
	}
	nw := w.clone()
	nw.components = nc
	nw.contentHashSet = false
	return nw, EffectRecord{Tick: w.Tick, Entity: id, Kind: EffectSetField, Old: old, New: v, Source: source}, nil
}

// Link creates a relType edge from source to target, enforcing cardinality
// and on-violation policy (spec §4.5), returning the new World, the
// relationship entity's ID, and its EffectRecord.
func (w *World) Link(relType uint32, source, target entity.ID, effectSource string) (*World, entity.ID, EffectRecord, error) {
	m := w.manager()
	nm, relID, err := m.Create(relType, source, target)
	if err != nil {
		return w, entity.ID{}, EffectRecord{}, err
	}
	nw := w.withManager(nm)
	return nw, relID, EffectRecord{Tick: w.Tick, Entity: relID, Kind: EffectLink, New: value.Entity{ID: target}, Source: effectSource}, nil
}

// Unlink destroys a relationship entity outright.
func (w *World) Unlink(relEntity entity.ID, source string) (*World, EffectRecord, error) {
	m := w.manager()
	nm, err := m.DestroyEdge(relEntity)
	if err != nil {
		return w, EffectRecord{}, err
	}
	nw := w.withManager(nm)
	return nw, EffectRecord{Tick: w.Tick, Entity: relEntity, Kind: EffectUnlink, Source: source}, nil
}

// Relationships exposes the underlying relationship index for read-only
// queries (pattern matching over rel/* joins).
func (w *World) Relationships() *relationship.Store { return w.relationships }

// Components exposes the underlying component store for read-only
// archetype iteration (pattern matching).
func (w *World) Components() *component.Store { return w.components }

// Entities exposes the underlying entity store for read-only liveness
// checks.
func (w *World) Entities() *entity.Store { return w.entities }

// Hash returns this World's content-addressed identity: a domain-separated
// blake3 digest over tick, seed, and every live entity's component data,
// in ascending-entity-index then ascending-component-handle order so that
// two Worlds with identical content hash identically regardless of how
// their archetype tables happen to be laid out (spec §4.6 "content hash").
// The result is cached on first call.
func (w *World) Hash() uint64 {
	if w.contentHashSet {
		return w.contentHash
	}
	h := blake3.New()
	writeU64(h, w.Tick)
	writeU64(h, w.Seed)

	// entity.Store.Live yields ascending index order; each entity's own
	// ComponentsOf is already sorted ascending by Archetype, so the walk
	// below is fully independent of archetype table layout.
	w.entities.Live(func(id entity.ID) {
		writeU64(h, uint64(id.Index))
		writeU64(h, uint64(id.Generation))
		for _, comp := range w.components.ComponentsOf(id) {
			writeU64(h, uint64(comp))
			v, _ := w.components.Get(id, comp)
			writeU64(h, value.Hash(v))
		}
	})

	sum := h.Sum(nil)
	var out uint64
	for i := 0; i < 8; i++ {
		out = out<<8 | uint64(sum[i])
	}
	w.contentHash = out
	w.contentHashSet = true
	return out
}

func writeU64(h *blake3.Hasher, v uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	_, _ = h.Write(b[:])
}
