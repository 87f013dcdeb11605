package component

import (
	"sort"
	"strconv"
	"strings"

	"github.com/longtable/longtable/internal/container"
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/value"
)

// column holds one component's dense, row-ordered data for an archetype.
// Tag components (schema.Tag == true) carry no values, only presence —
// values stays empty and every read returns value.Bool(true).
type column struct {
	tag    bool
	values container.Vector[value.Value]
}

// Archetype is the sorted set of component keyword handles present on an
// entity, plus the per-component columns it owns. Archetype identity is
// by content (the sorted handle set), not by declaration order, and
// archetypes are deduplicated and assigned a stable id at first sight.
type Archetype struct {
	ID         uint32
	Components []uint32 // sorted ascending
	entities   container.Vector[entity.ID]
	columns    map[uint32]*column
}

func archetypeKey(components []uint32) string {
	sorted := append([]uint32(nil), components...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var b strings.Builder
	for i, c := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(c), 10))
	}
	return b.String()
}

func newArchetype(id uint32, components []uint32, registry *Registry) *Archetype {
	sorted := append([]uint32(nil), components...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	a := &Archetype{ID: id, Components: sorted, columns: make(map[uint32]*column, len(sorted))}
	for _, c := range sorted {
		isTag := false
		if schema, ok := registry.Component(c); ok {
			isTag = schema.Tag
		}
		a.columns[c] = &column{tag: isTag}
	}
	return a
}

// has reports whether the archetype includes component handle c.
func (a *Archetype) has(c uint32) bool {
	_, ok := a.columns[c]
	return ok
}

// Rows returns the number of entities currently stored in this archetype.
func (a *Archetype) Rows() int { return a.entities.Len() }

// withRowAppended returns a new Archetype with one additional row holding
// the given per-component values (a component missing from values gets
// value.Nil{}; schema defaults are not consulted).
func (a *Archetype) withRowAppended(id entity.ID, values map[uint32]value.Value) *Archetype {
	na := &Archetype{ID: a.ID, Components: a.Components, entities: a.entities.Push(id), columns: make(map[uint32]*column, len(a.columns))}
	for c, col := range a.columns {
		v, ok := values[c]
		if !ok {
			v = value.Nil{}
		}
		if col.tag {
			na.columns[c] = col
			continue
		}
		na.columns[c] = &column{tag: false, values: col.values.Push(v)}
	}
	return na
}

// withRowSwapRemoved returns a new Archetype with row removed via
// swap-remove (last row moves into the removed slot), plus the entity ID
// that ended up relocated into that slot (zero ID if row was already
// last). Matches spec §4.4's migration tie-break.
func (a *Archetype) withRowSwapRemoved(row int) (na *Archetype, movedEntity entity.ID, hadMove bool) {
	last := a.entities.Len() - 1
	na = &Archetype{ID: a.ID, Components: a.Components, entities: a.entities, columns: make(map[uint32]*column, len(a.columns))}

	if row != last {
		movedEntity = a.entities.Get(last)
		hadMove = true
		na.entities = na.entities.Set(row, movedEntity)
	}
	na.entities = na.entities.Pop()

	for c, col := range a.columns {
		if col.tag {
			na.columns[c] = col
			continue
		}
		nc := col.values
		if row != last {
			nc = nc.Set(row, col.values.Get(last))
		}
		nc = nc.Pop()
		na.columns[c] = &column{tag: false, values: nc}
	}
	return na, movedEntity, hadMove
}

// withCellSet returns a new Archetype with column c's row-th value set.
func (a *Archetype) withCellSet(row int, c uint32, v value.Value) *Archetype {
	na := &Archetype{ID: a.ID, Components: a.Components, entities: a.entities, columns: make(map[uint32]*column, len(a.columns))}
	for comp, col := range a.columns {
		if comp == c && !col.tag {
			na.columns[comp] = &column{tag: false, values: col.values.Set(row, v)}
		} else {
			na.columns[comp] = col
		}
	}
	return na
}

// cell reads component c at row, returning (value.Bool(true), true) for a
// tag component's presence, (value, true) for a data component, or
// (nil, false) if c is not part of this archetype.
func (a *Archetype) cell(row int, c uint32) (value.Value, bool) {
	col, ok := a.columns[c]
	if !ok {
		return nil, false
	}
	if col.tag {
		return value.Bool(true), true
	}
	return col.values.Get(row), true
}
