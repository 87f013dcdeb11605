package vm

import (
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/world"
)

// Every World-mutating opcode below applies its mutation to w immediately
// regardless of Mode — World's structural sharing makes that cheap, and
// it is what lets a later instruction in the same activation observe an
// earlier one's writes. What Mode actually controls is where the
// resulting EffectRecord goes: Direct appends straight to the activation's
// running effect log, Buffered instead appends to pendingEffects and
// waits for an explicit Flush. Atomicity for a failed Buffered activation
// is the caller's responsibility, not the Machine's: because World is an
// immutable snapshot, a rule engine that keeps the pre-activation World
// around can simply discard the Machine's (partially mutated) returned
// World and resume from the one it still holds — there is no in-place
// state to roll back (spec §4.7 "buffered effects commit atomically").

func (m *Machine) opSpawn(w *world.World, effects []world.EffectRecord, source string) (*world.World, []world.EffectRecord, error) {
	nw, id, eff := w.Spawn(source)
	m.push(value.Entity{ID: id})
	return nw, m.record(effects, eff), nil
}

func (m *Machine) opDestroy(w *world.World, effects []world.EffectRecord, source string) (*world.World, []world.EffectRecord, error) {
	id, err := m.popEntity()
	if err != nil {
		return w, effects, err
	}
	nw, destroyed, err := w.Destroy(id, source)
	if err != nil {
		return w, effects, err
	}
	return nw, m.recordAll(effects, destroyed), nil
}

func (m *Machine) opSet(w *world.World, effects []world.EffectRecord, component uint32, source string) (*world.World, []world.EffectRecord, error) {
	v, err := m.pop()
	if err != nil {
		return w, effects, err
	}
	id, err := m.popEntity()
	if err != nil {
		return w, effects, err
	}
	nw, eff, err := w.Set(id, component, v, source)
	if err != nil {
		return w, effects, err
	}
	return nw, m.record(effects, eff), nil
}

func (m *Machine) opSetField(w *world.World, effects []world.EffectRecord, component, field uint32, source string) (*world.World, []world.EffectRecord, error) {
	v, err := m.pop()
	if err != nil {
		return w, effects, err
	}
	id, err := m.popEntity()
	if err != nil {
		return w, effects, err
	}
	nw, eff, err := w.SetField(id, component, field, v, source)
	if err != nil {
		return w, effects, err
	}
	return nw, m.record(effects, eff), nil
}

func (m *Machine) opLink(w *world.World, effects []world.EffectRecord, relType uint32, source string) (*world.World, []world.EffectRecord, error) {
	target, err := m.popEntity()
	if err != nil {
		return w, effects, err
	}
	src, err := m.popEntity()
	if err != nil {
		return w, effects, err
	}
	nw, relID, eff, err := w.Link(relType, src, target, source)
	if err != nil {
		return w, effects, err
	}
	m.push(value.Entity{ID: relID})
	return nw, m.record(effects, eff), nil
}

func (m *Machine) opUnlink(w *world.World, effects []world.EffectRecord, source string) (*world.World, []world.EffectRecord, error) {
	rel, err := m.popEntity()
	if err != nil {
		return w, effects, err
	}
	nw, eff, err := w.Unlink(rel, source)
	if err != nil {
		return w, effects, err
	}
	return nw, m.record(effects, eff), nil
}

// record appends eff to the running log in Direct mode, or to the pending
// buffer in Buffered mode.
func (m *Machine) record(effects []world.EffectRecord, eff world.EffectRecord) []world.EffectRecord {
	if m.Mode == Direct {
		return append(effects, eff)
	}
	m.pendingEffects = append(m.pendingEffects, eff)
	return effects
}

func (m *Machine) recordAll(effects []world.EffectRecord, batch []world.EffectRecord) []world.EffectRecord {
	if m.Mode == Direct {
		return append(effects, batch...)
	}
	m.pendingEffects = append(m.pendingEffects, batch...)
	return effects
}

// Flush appends every effect buffered so far (Buffered mode only) to log
// and clears the buffer, for the caller to invoke once an activation's
// bytecode has returned without error.
func (m *Machine) Flush(log []world.EffectRecord) []world.EffectRecord {
	log = append(log, m.pendingEffects...)
	m.pendingEffects = nil
	return log
}

// DiscardPending drops every effect buffered so far without committing
// them to any log, for a caller that is abandoning a failed Buffered
// activation's World entirely (see package doc).
func (m *Machine) DiscardPending() {
	m.pendingEffects = nil
}
