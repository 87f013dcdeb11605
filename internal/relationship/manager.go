package relationship

import (
	"github.com/longtable/longtable/internal/component"
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/value"
)

// Manager bundles the collaborators relationship mutation needs — entity
// liveness, component storage, and the relationship index itself — without
// owning them: internal/world remains the sole composition point (spec
// §4.6), constructing a Manager from its own Entities/Components/Index
// fields and writing the three back after each call. Every method is a
// pure function from one Manager to the next, matching the rest of the
// runtime's immutable-snapshot style.
type Manager struct {
	Registry   *component.Registry
	Entities   *entity.Store
	Components *component.Store
	Index      *Store
}

// Create links source to target by relType, enforcing relType's registered
// cardinality and dispatching to its on-violation policy when a
// conflicting edge already exists. Re-creating an edge that already
// exists between exactly this (relType, source, target) triple is a no-op
// that returns the existing relationship entity (spec §4.5 "create is
// idempotent for an identical edge").
func (m Manager) Create(relType uint32, source, target entity.ID) (Manager, entity.ID, error) {
	schema, ok := m.Registry.Relationship(relType)
	if !ok {
		return m, entity.ID{}, lterr.New(lterr.CodeComponentNotFound, "unknown relationship type handle %d", relType)
	}
	if !m.Entities.Exists(source) {
		return m, entity.ID{}, lterr.StaleEntity(source.String())
	}
	if !m.Entities.Exists(target) {
		return m, entity.ID{}, lterr.StaleEntity(target.String())
	}

	fromSource := m.Index.SourceEdges(source, relType)
	toTarget := m.Index.TargetEdges(target, relType)

	// Idempotency: an edge already linking exactly this pair is a no-op.
	for _, rel := range fromSource {
		if existingTarget, ok := m.endpointOf(rel, CompRelTarget.Name); ok && existingTarget == target {
			return m, rel, nil
		}
	}

	conflicts := cardinalityConflicts(schema.Cardinality, fromSource, toTarget)
	if len(conflicts) > 0 {
		switch schema.OnViolation {
		case component.OnViolationError:
			return m, entity.ID{}, lterr.ConstraintViolation(schema.NSName, source.String(), "relationship cardinality violated")
		case component.OnViolationReplace:
			cur := m
			for _, rel := range conflicts {
				var err error
				cur, err = cur.DestroyEdge(rel)
				if err != nil {
					return m, entity.ID{}, err
				}
			}
			return cur.createEdge(schema, relType, source, target)
		}
	}

	return m.createEdge(schema, relType, source, target)
}

// cardinalityConflicts returns the existing edges that must be removed (or
// that make the new edge illegal under OnViolationError) for relType's
// cardinality to still hold once the new edge is added.
func cardinalityConflicts(card component.Cardinality, fromSource, toTarget []entity.ID) []entity.ID {
	switch card {
	case component.OneToOne:
		return append(append([]entity.ID(nil), fromSource...), toTarget...)
	case component.ManyToOne:
		// Many sources may point at one target, but each source points at
		// only one target: the conflict is any existing edge from source.
		return fromSource
	case component.OneToMany:
		// One source may point at many targets, but each target has only
		// one incoming edge: the conflict is any existing edge into target.
		return toTarget
	default: // ManyToMany
		return nil
	}
}

func (m Manager) createEdge(schema component.RelationshipSchema, relType uint32, source, target entity.ID) (Manager, entity.ID, error) {
	entities, relID := m.Entities.Spawn()

	components := m.Components
	var err error
	components, err = components.Set(relID, CompRelType.Name, value.Symbol{Kind: value.SymbolKeyword, Name: relType})
	if err != nil {
		return m, entity.ID{}, err
	}
	components, err = components.Set(relID, CompRelSource.Name, value.Entity{ID: source})
	if err != nil {
		return m, entity.ID{}, err
	}
	components, err = components.Set(relID, CompRelTarget.Name, value.Entity{ID: target})
	if err != nil {
		return m, entity.ID{}, err
	}

	nm := Manager{
		Registry:   m.Registry,
		Entities:   entities,
		Components: components,
		Index:      m.Index.indexLink(relID, relType, source, target),
	}
	return nm, relID, nil
}

// endpointOf reads the entity reference stored under component on rel.
func (m Manager) endpointOf(rel entity.ID, component uint32) (entity.ID, bool) {
	v, ok := m.Components.Get(rel, component)
	if !ok {
		return entity.ID{}, false
	}
	e, ok := v.(value.Entity)
	if !ok {
		return entity.ID{}, false
	}
	return e.ID, true
}

// DestroyEdge destroys a relationship entity outright: it is removed from
// the entity store, stripped of its components, and dropped from every
// index. Destroying an already-destroyed or unknown relationship entity is
// a no-op, matching entity.Store.Destroy's own idempotence.
func (m Manager) DestroyEdge(rel entity.ID) (Manager, error) {
	if !m.Entities.Exists(rel) {
		return m, nil
	}
	relType, source, target, ok := m.edgeTriple(rel)
	if !ok {
		// Not a well-formed relationship entity (missing one of the three
		// fields); still destroy it, just skip unindexing.
		return Manager{
			Registry:   m.Registry,
			Entities:   m.Entities.Destroy(rel),
			Components: m.Components.RemoveEntity(rel),
			Index:      m.Index,
		}, nil
	}

	return Manager{
		Registry:   m.Registry,
		Entities:   m.Entities.Destroy(rel),
		Components: m.Components.RemoveEntity(rel),
		Index:      m.Index.indexUnlink(rel, relType, source, target),
	}, nil
}

func (m Manager) edgeTriple(rel entity.ID) (relType uint32, source, target entity.ID, ok bool) {
	tv, ok1 := m.Components.Get(rel, CompRelType.Name)
	sv, ok2 := m.endpointOf(rel, CompRelSource.Name)
	tgv, ok3 := m.endpointOf(rel, CompRelTarget.Name)
	if !ok1 || !ok2 || !ok3 {
		return 0, entity.ID{}, entity.ID{}, false
	}
	sym, ok := tv.(value.Symbol)
	if !ok {
		return 0, entity.ID{}, entity.ID{}, false
	}
	return sym.Name, sv, tgv, true
}

// OnEntityDestroyed applies destroyed's incident relationship edges'
// on-target-delete policies: remove destroys the edge, cascade destroys
// the edge and schedules the other endpoint for destruction in turn
// (returned in cascaded, for the caller to drive to a fixpoint with a
// visited set — see spec §4.5's cycle-safety note), and nullify replaces
// the destroyed endpoint's field with nil on an edge that survives,
// dropping it from whichever index was keyed by that endpoint.
func (m Manager) OnEntityDestroyed(destroyed entity.ID) (nm Manager, cascaded []entity.ID, err error) {
	nm = m
	for _, schema := range m.Registry.AllRelationships() {
		for _, rel := range nm.Index.SourceEdges(destroyed, schema.Name) {
			nm, cascaded, err = nm.resolveIncidentEdge(schema, rel, destroyed, true, cascaded)
			if err != nil {
				return m, nil, err
			}
		}
		for _, rel := range nm.Index.TargetEdges(destroyed, schema.Name) {
			nm, cascaded, err = nm.resolveIncidentEdge(schema, rel, destroyed, false, cascaded)
			if err != nil {
				return m, nil, err
			}
		}
	}
	return nm, cascaded, nil
}

// resolveIncidentEdge applies schema's OnTargetDelete policy to one edge
// incident to destroyed. destroyedIsSource tells it which endpoint
// matched, needed by the nullify branch to know which field to clear.
func (m Manager) resolveIncidentEdge(schema component.RelationshipSchema, rel, destroyed entity.ID, destroyedIsSource bool, cascaded []entity.ID) (Manager, []entity.ID, error) {
	if !m.Entities.Exists(rel) {
		return m, cascaded, nil
	}

	switch schema.OnTargetDelete {
	case component.OnDeleteRemove:
		nm, err := m.DestroyEdge(rel)
		return nm, cascaded, err

	case component.OnDeleteCascade:
		_, source, target, ok := m.edgeTriple(rel)
		other := target
		if !destroyedIsSource {
			other = source
		}
		nm, err := m.DestroyEdge(rel)
		if err != nil {
			return m, cascaded, err
		}
		if !ok {
			return nm, cascaded, nil
		}
		return nm, append(cascaded, other), nil

	case component.OnDeleteNullify:
		relType, source, target, ok := m.edgeTriple(rel)
		if !ok {
			return m, cascaded, nil
		}
		field := CompRelSource.Name
		if !destroyedIsSource {
			field = CompRelTarget.Name
		}
		comps, err := m.Components.Set(rel, field, value.Nil{})
		if err != nil {
			return m, cascaded, err
		}
		return Manager{
			Registry:   m.Registry,
			Entities:   m.Entities,
			Components: comps,
			Index:      m.Index.indexUnlink(rel, relType, source, target),
		}, cascaded, nil
	}
	return m, cascaded, nil
}
