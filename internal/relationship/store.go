// Package relationship implements Longtable's relationship store (C5):
// the bidirectional secondary indices over relationship entities, plus the
// cardinality/on-violation/on-target-delete policy enforcement spec §4.5
// assigns to relationship mutation (create, destroy_edge,
// on_entity_destroyed). Relationship instances are themselves ordinary
// entities carrying the well-known rel/type, rel/source, rel/target
// components (spec §3 "Relationships as entities"); this package only
// maintains the indices needed to find them quickly and to keep those
// indices consistent as edges are created, destroyed, or orphaned by an
// endpoint's destruction. Grounded on the teacher's join-table secondary
// index pattern in internal/store/write.go, generalized from a single
// SQL join table to the three persistent-map indices spec §4.5 names.
package relationship

import (
	"github.com/longtable/longtable/internal/component"
	"github.com/longtable/longtable/internal/container"
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/value"
)

// Well-known component handles for the three fields every relationship
// entity carries. Interned once, process-wide, via value.Global so every
// Manager in the process agrees on their meaning without threading an
// explicit Interner through every constructor (mirrors how component
// schemas' own Name handles are assigned once at program load).
var (
	CompRelType   = value.Global.NewSymbol(value.SymbolKeyword, "rel", "type")
	CompRelSource = value.Global.NewSymbol(value.SymbolKeyword, "rel", "source")
	CompRelTarget = value.Global.NewSymbol(value.SymbolKeyword, "rel", "target")
)

func u64Hash(u uint64) uint64 { return u }
func u64Eq(a, b uint64) bool  { return a == b }

func idHash(id entity.ID) uint64 { return uint64(id.Index)<<32 | uint64(id.Generation) }
func idEq(a, b entity.ID) bool   { return a == b }

func compositeKey(entityIdx, relType uint32) uint64 {
	return uint64(entityIdx)<<32 | uint64(relType)
}

// Store holds the three secondary indices spec §4.5 names:
//
//	bySource: (source, rel/type) -> set<relationship entity>
//	byTarget: (target, rel/type) -> set<relationship entity>
//	byType:   rel/type           -> set<relationship entity>
//
// All three are persistent maps of persistent sets, so every mutation
// returns a new Store sharing unchanged branches with its predecessor.
type Store struct {
	bySource container.Map[uint64, container.Set[entity.ID]]
	byTarget container.Map[uint64, container.Set[entity.ID]]
	byType   container.Map[uint32, container.Set[entity.ID]]
}

// New returns an empty relationship index.
func New() *Store {
	return &Store{
		bySource: container.NewMap[uint64, container.Set[entity.ID]](u64Hash, u64Eq),
		byTarget: container.NewMap[uint64, container.Set[entity.ID]](u64Hash, u64Eq),
		byType:   container.NewMap[uint32, container.Set[entity.ID]](u32Hash32, u32Eq32),
	}
}

func u32Hash32(u uint32) uint64 { return uint64(u) }
func u32Eq32(a, b uint32) bool  { return a == b }

func (s *Store) clone() *Store {
	return &Store{bySource: s.bySource, byTarget: s.byTarget, byType: s.byType}
}

func addToSet(m container.Map[uint64, container.Set[entity.ID]], key uint64, id entity.ID) container.Map[uint64, container.Set[entity.ID]] {
	set, ok := m.Get(key)
	if !ok {
		set = container.NewSet[entity.ID](idHash, idEq)
	}
	return m.Put(key, set.Insert(id))
}

func removeFromSet(m container.Map[uint64, container.Set[entity.ID]], key uint64, id entity.ID) container.Map[uint64, container.Set[entity.ID]] {
	set, ok := m.Get(key)
	if !ok {
		return m
	}
	return m.Put(key, set.Remove(id))
}

// indexLink records relEntity under all three indices for the given
// relType/source/target triple.
func (s *Store) indexLink(relEntity entity.ID, relType uint32, source, target entity.ID) *Store {
	ns := s.clone()
	ns.bySource = addToSet(ns.bySource, compositeKey(source.Index, relType), relEntity)
	ns.byTarget = addToSet(ns.byTarget, compositeKey(target.Index, relType), relEntity)
	byType, ok := ns.byType.Get(relType)
	if !ok {
		byType = container.NewSet[entity.ID](idHash, idEq)
	}
	ns.byType = ns.byType.Put(relType, byType.Insert(relEntity))
	return ns
}

// indexUnlink removes relEntity from all three indices.
func (s *Store) indexUnlink(relEntity entity.ID, relType uint32, source, target entity.ID) *Store {
	ns := s.clone()
	ns.bySource = removeFromSet(ns.bySource, compositeKey(source.Index, relType), relEntity)
	ns.byTarget = removeFromSet(ns.byTarget, compositeKey(target.Index, relType), relEntity)
	if byType, ok := ns.byType.Get(relType); ok {
		ns.byType = ns.byType.Put(relType, byType.Remove(relEntity))
	}
	return ns
}

// SourceEdges returns every relationship entity of relType whose source is
// source, in unspecified set order; callers that need deterministic
// emission order (e.g. the pattern matcher) sort by entity index themselves.
func (s *Store) SourceEdges(source entity.ID, relType uint32) []entity.ID {
	set, ok := s.bySource.Get(compositeKey(source.Index, relType))
	if !ok {
		return nil
	}
	return set.ToSlice()
}

// TargetEdges returns every relationship entity of relType whose target is
// target.
func (s *Store) TargetEdges(target entity.ID, relType uint32) []entity.ID {
	set, ok := s.byTarget.Get(compositeKey(target.Index, relType))
	if !ok {
		return nil
	}
	return set.ToSlice()
}

// ByType returns every relationship entity of relType, regardless of
// endpoint.
func (s *Store) ByType(relType uint32) []entity.ID {
	set, ok := s.byType.Get(relType)
	if !ok {
		return nil
	}
	return set.ToSlice()
}

// Rebuild reconstructs a fully-indexed Store by scanning every live entity
// in ents for the three rel/* components, re-linking any that carry all
// three. The secondary indices are pure derived state — never persisted
// themselves — so persistence restore (spec §6) round-trips entity and
// component data by plain replay and then calls Rebuild once to recover
// these indices from it, rather than serializing bySource/byTarget/byType
// directly.
func Rebuild(comps *component.Store, ents *entity.Store) *Store {
	s := New()
	ents.Live(func(id entity.ID) {
		typVal, ok := comps.Get(id, CompRelType.Name)
		if !ok {
			return
		}
		srcVal, ok := comps.Get(id, CompRelSource.Name)
		if !ok {
			return
		}
		tgtVal, ok := comps.Get(id, CompRelTarget.Name)
		if !ok {
			return
		}
		typ, ok := typVal.(value.Symbol)
		if !ok {
			return
		}
		src, ok := srcVal.(value.Entity)
		if !ok {
			return
		}
		tgt, ok := tgtVal.(value.Entity)
		if !ok {
			return
		}
		s = s.indexLink(id, typ.Name, src.ID, tgt.ID)
	})
	return s
}
