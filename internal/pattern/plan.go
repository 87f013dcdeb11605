// Package pattern implements Longtable's pattern matcher (C8): compiled
// clause plans executed as left-deep nested-loop joins over the
// component store and relationship index, with negation groups enforced
// by a compile-time safety rule (a negated clause may only reference
// variables already bound by an earlier positive clause) and a
// deterministic emission order (archetype-id then row order, spec §4.8).
// Grounded on the teacher's sealed Query/Predicate interfaces in
// internal/queryir/types.go (Select/Join/Equals/BoundEquals, "the
// portable fragment excludes OR/subqueries") generalized from one SQL
// SELECT/JOIN pair to an arbitrary left-deep chain of ECS archetype scans,
// and on querysql's "every query includes ORDER BY for deterministic
// results" discipline, carried here as "every scan walks archetypes in
// ascending id then row order" instead.
package pattern

import (
	"sort"

	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/relationship"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/world"
)

var (
	relSourceField = relationship.CompRelSource.Name
	relTargetField = relationship.CompRelTarget.Name
)

// JoinKind discriminates how a clause's candidate entity is constrained
// against variables bound by earlier clauses.
type JoinKind uint8

const (
	// JoinFieldEqConst requires Component/Field on the candidate entity to
	// equal Const.
	JoinFieldEqConst JoinKind = iota
	// JoinFieldEqVar requires Component/Field on the candidate to equal
	// OtherComponent/OtherField on the entity already bound to OtherVar.
	JoinFieldEqVar
	// JoinRelSource requires a RelType edge from the candidate (as
	// source) to the entity bound to OtherVar.
	JoinRelSource
	// JoinRelTarget requires a RelType edge from the candidate (as
	// target) to the entity bound to OtherVar.
	JoinRelTarget
)

// Join is one constraint tying a clause's candidate entity to either a
// literal value or a previously bound variable.
type Join struct {
	Kind JoinKind

	Component uint32
	Field     uint32
	Const     value.Value

	OtherVar      string
	OtherComponent uint32
	OtherField     uint32

	RelType uint32
}

// Clause is one positive (or negated) pattern term: bind Var to any
// entity carrying every component in Components and satisfying every
// Join against variables bound by earlier clauses in the same Plan.
type Clause struct {
	Var        string
	Components []uint32
	Joins      []Join
}

// Negation is a group of clauses that must produce zero matches (jointly,
// as a single negated sub-pattern) for the enclosing binding to survive,
// per spec §4.8's negation-as-failure semantics. Clauses here may only
// reference variables bound by clauses preceding the Negation in the
// owning Plan's Clauses list — enforced by Compile, not by this type.
type Negation struct {
	Clauses []Clause
}

// Plan is a compiled rule pattern: a left-deep chain of positive clauses
// followed by negation groups, in the exact order they must be evaluated
// (earlier clauses bind variables later clauses and negations may
// reference).
type Plan struct {
	Clauses   []Clause
	Negations []Negation // applied after all positive Clauses are bound
}

// Binding is one complete solution: every Clause.Var mapped to the entity
// it matched.
type Binding map[string]entity.ID

func (b Binding) clone() Binding {
	nb := make(Binding, len(b)+1)
	for k, v := range b {
		nb[k] = v
	}
	return nb
}

// Match runs the plan against w, calling emit for every binding that
// satisfies all positive clauses and survives every negation, in
// deterministic order: binding tuples are emitted in the nested order the
// left-deep join visits them, which is itself archetype-id-then-row order
// at every level (spec §4.8). emit may return false to stop early (e.g.
// once a kill switch's max-query-result limit is hit).
func (p *Plan) Match(w *world.World, emit func(Binding) bool) {
	p.matchFrom(w, 0, Binding{}, emit)
}

// MatchSeeded runs the plan starting from a partial binding already
// supplied by the caller (e.g. a derived definition's `:for ?self`
// scoping one variable to a specific entity before any of Plan's own
// clauses run) instead of an empty one. Clauses are still evaluated in
// order and may join against seed's variables exactly as they would
// against a variable an earlier Clause bound.
func (p *Plan) MatchSeeded(w *world.World, seed Binding, emit func(Binding) bool) {
	p.matchFrom(w, 0, seed.clone(), emit)
}

func (p *Plan) matchFrom(w *world.World, idx int, bound Binding, emit func(Binding) bool) bool {
	if idx == len(p.Clauses) {
		if !p.satisfiesNegations(w, bound) {
			return true
		}
		return emit(bound)
	}

	clause := p.Clauses[idx]
	if id, ok := bound[clause.Var]; ok {
		if !w.Exists(id) || !hasAll(w, id, clause.Components) || !clause.satisfies(w, id, bound) {
			return true
		}
		return p.matchFrom(w, idx+1, bound, emit)
	}
	cont := true
	eachCandidate(w, clause, bound, func(id entity.ID) bool {
		if !clause.satisfies(w, id, bound) {
			return true
		}
		nb := bound.clone()
		nb[clause.Var] = id
		cont = p.matchFrom(w, idx+1, nb, emit)
		return cont
	})
	return cont
}

// eachCandidate walks every entity with clause's required archetype
// superset, in ascending archetype-id then row order, calling fn for
// each. A clause tied to an already-bound variable via a relationship
// join instead walks that relationship's edge set directly (far cheaper
// than a full archetype scan) when such a join is present.
func eachCandidate(w *world.World, clause Clause, bound Binding, fn func(entity.ID) bool) {
	for _, j := range clause.Joins {
		if (j.Kind == JoinRelSource || j.Kind == JoinRelTarget) {
			other, ok := bound[j.OtherVar]
			if !ok {
				continue
			}
			var edges []entity.ID
			if j.Kind == JoinRelSource {
				// Candidate is the rel's source; the bound entity is its
				// target, so look up edges keyed by (target, type) and
				// read each edge's source.
				edges = w.Relationships().TargetEdges(other, j.RelType)
			} else {
				edges = w.Relationships().SourceEdges(other, j.RelType)
			}
			ids := make([]entity.ID, 0, len(edges))
			for _, rel := range edges {
				var epField uint32
				if j.Kind == JoinRelSource {
					epField = relSourceField
				} else {
					epField = relTargetField
				}
				v, ok := w.Get(rel, epField)
				if !ok {
					continue
				}
				if e, ok := v.(value.Entity); ok {
					ids = append(ids, e.ID)
				}
			}
			sort.Slice(ids, func(i, k int) bool { return ids[i].Index < ids[k].Index })
			cont := true
			for _, id := range ids {
				if !w.Exists(id) || !hasAll(w, id, clause.Components) {
					continue
				}
				cont = fn(id)
				if !cont {
					return
				}
			}
			return
		}
	}

	w.Components().WithArchetype(clause.Components, fn)
}

func hasAll(w *world.World, id entity.ID, components []uint32) bool {
	for _, c := range components {
		if !w.HasComponent(id, c) {
			return false
		}
	}
	return true
}

// satisfies checks every non-relationship Join for clause's candidate id
// against already-bound variables.
func (c Clause) satisfies(w *world.World, id entity.ID, bound Binding) bool {
	for _, j := range c.Joins {
		switch j.Kind {
		case JoinFieldEqConst:
			v, ok := w.GetField(id, j.Component, j.Field)
			if !ok || !value.Equal(v, j.Const) {
				return false
			}
		case JoinFieldEqVar:
			other, ok := bound[j.OtherVar]
			if !ok {
				return false
			}
			v, ok1 := w.GetField(id, j.Component, j.Field)
			ov, ok2 := w.GetField(other, j.OtherComponent, j.OtherField)
			if !ok1 || !ok2 || !value.Equal(v, ov) {
				return false
			}
		case JoinRelSource, JoinRelTarget:
			other, ok := bound[j.OtherVar]
			if !ok {
				return false
			}
			if !relJoined(w, j, id, other) {
				return false
			}
		}
	}
	return true
}

func relJoined(w *world.World, j Join, candidate, other entity.ID) bool {
	var edges []entity.ID
	if j.Kind == JoinRelSource {
		edges = w.Relationships().SourceEdges(candidate, j.RelType)
	} else {
		edges = w.Relationships().TargetEdges(candidate, j.RelType)
	}
	for _, rel := range edges {
		field := relTargetField
		if j.Kind == JoinRelTarget {
			field = relSourceField
		}
		v, ok := w.Get(rel, field)
		if !ok {
			continue
		}
		if e, ok := v.(value.Entity); ok && e.ID == other {
			return true
		}
	}
	return false
}

// satisfiesNegations evaluates every Negation group against a fully
// positive-bound tuple: the enclosing binding survives only if every
// group produces zero matches when its own clauses are resolved starting
// from bound (spec §4.8 negation-as-failure).
func (p *Plan) satisfiesNegations(w *world.World, bound Binding) bool {
	for _, neg := range p.Negations {
		sub := &Plan{Clauses: neg.Clauses}
		anyMatch := false
		sub.matchFrom(w, 0, bound.clone(), func(Binding) bool {
			anyMatch = true
			return false // one match is enough to falsify the negation
		})
		if anyMatch {
			return false
		}
	}
	return true
}
