package component

import (
	"hash/fnv"
	"sort"

	"github.com/longtable/longtable/internal/container"
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/value"
)

func stringHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func stringEq(a, b string) bool { return a == b }

func u32Hash(u uint32) uint64 { return uint64(u) }

func u32Eq(a, b uint32) bool { return a == b }

// Location is an entity's position within the archetype table: which
// archetype it lives in, and its row within that archetype's columns.
type Location struct {
	ArchetypeID uint32
	Row         int
}

// Store is the archetype-indexed component table (C4). Entity→(archetype,
// row) is a side table; archetypes not containing a queried component are
// skipped entirely by WithComponent/WithArchetype. Every mutating method
// returns a new Store sharing unchanged archetypes via the persistent
// Vector/Map containers in internal/container.
type Store struct {
	Registry       *Registry
	archetypes     container.Vector[*Archetype]
	archetypeIndex container.Map[string, uint32]
	location       container.Map[uint32, Location] // keyed by entity.ID.Index
}

// New returns an empty component store backed by registry.
func New(registry *Registry) *Store {
	empty := container.NewMap[string, uint32](stringHash, stringEq)
	loc := container.NewMap[uint32, Location](u32Hash, u32Eq)
	s := &Store{Registry: registry, archetypeIndex: empty, location: loc}
	// Archetype 0 is always the empty-component archetype so every entity
	// has a well-defined home before its first Set.
	s.archetypes = s.archetypes.Push(newArchetype(0, nil, registry))
	s.archetypeIndex = s.archetypeIndex.Put(archetypeKey(nil), 0)
	return s
}

func (s *Store) clone() *Store {
	return &Store{
		Registry:       s.Registry,
		archetypes:     s.archetypes,
		archetypeIndex: s.archetypeIndex,
		location:       s.location,
	}
}

func (s *Store) locationOf(id entity.ID) Location {
	loc, ok := s.location.Get(id.Index)
	if !ok {
		return Location{ArchetypeID: 0, Row: -1}
	}
	return loc
}

func (s *Store) archetypeByID(id uint32) *Archetype {
	return s.archetypes.Get(int(id))
}

// findOrCreateArchetype returns the (possibly newly created) archetype
// for the given sorted-by-content component set, and the Store reflecting
// that creation (unchanged if the archetype already existed).
func (s *Store) findOrCreateArchetype(components []uint32) (*Store, *Archetype) {
	key := archetypeKey(components)
	if id, ok := s.archetypeIndex.Get(key); ok {
		return s, s.archetypeByID(id)
	}
	ns := s.clone()
	newID := uint32(ns.archetypes.Len())
	a := newArchetype(newID, components, ns.Registry)
	ns.archetypes = ns.archetypes.Push(a)
	ns.archetypeIndex = ns.archetypeIndex.Put(key, newID)
	return ns, a
}

// HasComponent reports whether id currently carries component.
func (s *Store) HasComponent(id entity.ID, component uint32) bool {
	loc := s.locationOf(id)
	if loc.Row < 0 {
		return false
	}
	return s.archetypeByID(loc.ArchetypeID).has(component)
}

// Get returns the whole value stored for (id, component).
func (s *Store) Get(id entity.ID, component uint32) (value.Value, bool) {
	loc := s.locationOf(id)
	if loc.Row < 0 {
		return nil, false
	}
	return s.archetypeByID(loc.ArchetypeID).cell(loc.Row, component)
}

// GetField reads one field out of a structured component's value, which
// must be a value.Map keyed by field-name symbols.
func (s *Store) GetField(id entity.ID, component, field uint32) (value.Value, bool) {
	whole, ok := s.Get(id, component)
	if !ok {
		return nil, false
	}
	m, ok := whole.(value.Map)
	if !ok {
		return nil, false
	}
	return m.V.Get(fieldKey(field))
}

func fieldKey(field uint32) value.Value {
	return value.Symbol{Kind: value.SymbolKeyword, Name: field}
}

// Set stores v for (id, component), type-checking it against the schema
// when one is registered, migrating id into the archetype that includes
// component if it does not already have it.
func (s *Store) Set(id entity.ID, component uint32, v value.Value) (*Store, error) {
	if schema, ok := s.Registry.Component(component); ok && len(schema.Fields) > 0 {
		m, isMap := v.(value.Map)
		if !isMap {
			return s, lterr.SchemaViolation(id.String(), schema.NSName, "", "structured component value must be a map of field to value")
		}
		for _, f := range schema.Fields {
			if fv, ok := m.V.Get(fieldKey(f.Name)); ok && value.TagOf(fv) != f.Type {
				return s, lterr.SchemaViolation(id.String(), schema.NSName, "", "field type mismatch")
			}
		}
	}

	loc := s.locationOf(id)
	if loc.Row >= 0 && s.archetypeByID(loc.ArchetypeID).has(component) {
		ns := s.clone()
		na := s.archetypeByID(loc.ArchetypeID).withCellSet(loc.Row, component, v)
		ns.archetypes = ns.archetypes.Set(int(loc.ArchetypeID), na)
		return ns, nil
	}

	return s.migrateAdd(id, component, v)
}

// SetField validates val against the component's FieldSpec for field
// (when a schema is registered) and writes it into the component's
// underlying map, creating the component with an empty map first if id
// does not yet carry it.
func (s *Store) SetField(id entity.ID, component, field uint32, val value.Value) (*Store, error) {
	if schema, ok := s.Registry.Component(component); ok {
		for _, f := range schema.Fields {
			if f.Name == field && value.TagOf(val) != f.Type {
				return s, lterr.SchemaViolation(id.String(), schema.NSName, "", "field type mismatch")
			}
		}
	}

	whole, ok := s.Get(id, component)
	var m value.Map
	if ok {
		existing, isMap := whole.(value.Map)
		if !isMap {
			return s, lterr.SchemaViolation(id.String(), "", "", "component is not field-structured")
		}
		m = existing
	} else {
		m = value.NewMap()
	}
	m = value.Map{V: m.V.Put(fieldKey(field), val)}
	return s.Set(id, component, m)
}

func (s *Store) migrateAdd(id entity.ID, component uint32, v value.Value) (*Store, error) {
	loc := s.locationOf(id)
	var oldComponents []uint32
	var oldValues map[uint32]value.Value
	if loc.Row >= 0 {
		old := s.archetypeByID(loc.ArchetypeID)
		oldComponents = old.Components
		oldValues = make(map[uint32]value.Value, len(old.Components))
		for _, c := range old.Components {
			cv, _ := old.cell(loc.Row, c)
			oldValues[c] = cv
		}
	} else {
		oldValues = map[uint32]value.Value{}
	}

	newComponents := append(append([]uint32(nil), oldComponents...), component)
	ns, target := s.findOrCreateArchetype(newComponents)
	ns = ns.clone()

	values := make(map[uint32]value.Value, len(oldValues)+1)
	for k, v2 := range oldValues {
		values[k] = v2
	}
	values[component] = v

	appended := target.withRowAppended(id, values)
	ns.archetypes = ns.archetypes.Set(int(target.ID), appended)
	newRow := appended.Rows() - 1
	ns.location = ns.location.Put(id.Index, Location{ArchetypeID: target.ID, Row: newRow})

	if loc.Row >= 0 {
		old := s.archetypeByID(loc.ArchetypeID)
		shrunk, moved, hadMove := old.withRowSwapRemoved(loc.Row)
		ns.archetypes = ns.archetypes.Set(int(loc.ArchetypeID), shrunk)
		if hadMove {
			ns.location = ns.location.Put(moved.Index, Location{ArchetypeID: loc.ArchetypeID, Row: loc.Row})
		}
	}

	return ns, nil
}

// Remove strips component from id, migrating it to the archetype that
// excludes it, and returns the old value (if any).
func (s *Store) Remove(id entity.ID, component uint32) (*Store, value.Value, bool) {
	loc := s.locationOf(id)
	if loc.Row < 0 {
		return s, nil, false
	}
	old := s.archetypeByID(loc.ArchetypeID)
	if !old.has(component) {
		return s, nil, false
	}
	oldVal, _ := old.cell(loc.Row, component)

	remaining := make([]uint32, 0, len(old.Components)-1)
	values := make(map[uint32]value.Value, len(old.Components)-1)
	for _, c := range old.Components {
		if c == component {
			continue
		}
		remaining = append(remaining, c)
		v, _ := old.cell(loc.Row, c)
		values[c] = v
	}

	ns, target := s.findOrCreateArchetype(remaining)
	ns = ns.clone()

	appended := target.withRowAppended(id, values)
	ns.archetypes = ns.archetypes.Set(int(target.ID), appended)
	newRow := appended.Rows() - 1

	shrunk, moved, hadMove := old.withRowSwapRemoved(loc.Row)
	ns.archetypes = ns.archetypes.Set(int(loc.ArchetypeID), shrunk)
	if hadMove {
		ns.location = ns.location.Put(moved.Index, Location{ArchetypeID: loc.ArchetypeID, Row: loc.Row})
	}
	ns.location = ns.location.Put(id.Index, Location{ArchetypeID: target.ID, Row: newRow})

	return ns, oldVal, true
}

// RemoveEntity strips every component from id (used by World.Destroy) and
// clears its location entry entirely.
func (s *Store) RemoveEntity(id entity.ID) *Store {
	loc := s.locationOf(id)
	if loc.Row < 0 {
		return s
	}
	old := s.archetypeByID(loc.ArchetypeID)
	ns := s.clone()
	shrunk, moved, hadMove := old.withRowSwapRemoved(loc.Row)
	ns.archetypes = ns.archetypes.Set(int(loc.ArchetypeID), shrunk)
	if hadMove {
		ns.location = ns.location.Put(moved.Index, Location{ArchetypeID: loc.ArchetypeID, Row: loc.Row})
	}
	ns.location = ns.location.Delete(id.Index)
	return ns
}

// ComponentsOf returns the sorted component handles id currently carries,
// or nil if id has never been given a location (not yet spawned into the
// store). Used by World.Hash to walk each entity's data in a stable order
// independent of archetype table layout.
func (s *Store) ComponentsOf(id entity.ID) []uint32 {
	loc := s.locationOf(id)
	if loc.Row < 0 {
		return nil
	}
	return s.archetypeByID(loc.ArchetypeID).Components
}

// WithComponent calls fn for every live-positioned entity (by stored
// index; callers must additionally consult the entity store for
// liveness/generation) carrying component, iterating archetypes in
// ascending id order and rows in storage order, per spec §4.8's
// determinism requirement. fn returning false stops iteration early.
func (s *Store) WithComponent(component uint32, fn func(entity.ID) bool) {
	n := s.archetypes.Len()
	for i := 0; i < n; i++ {
		a := s.archetypes.Get(i)
		if !a.has(component) {
			continue
		}
		rows := a.entities
		for r := 0; r < rows.Len(); r++ {
			if !fn(rows.Get(r)) {
				return
			}
		}
	}
}

// WithArchetype calls fn for every entity whose archetype is a superset
// of components, in ascending archetype-id then row order. fn returning
// false stops iteration early.
func (s *Store) WithArchetype(components []uint32, fn func(entity.ID) bool) {
	want := append([]uint32(nil), components...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	n := s.archetypes.Len()
	for i := 0; i < n; i++ {
		a := s.archetypes.Get(i)
		ok := true
		for _, c := range want {
			if !a.has(c) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		rows := a.entities
		for r := 0; r < rows.Len(); r++ {
			if !fn(rows.Get(r)) {
				return
			}
		}
	}
}
