package entity

import "testing"

func TestSpawn_AllocatesLiveDistinctIDs(t *testing.T) {
	s := New()
	s, a := s.Spawn()
	s, b := s.Spawn()

	if a == b {
		t.Fatalf("Spawn returned the same ID twice: %v", a)
	}
	if !s.Exists(a) || !s.Exists(b) {
		t.Error("freshly spawned IDs do not exist")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestDestroy_MarksDeadAndIsIdempotent(t *testing.T) {
	s := New()
	s, a := s.Spawn()
	s = s.Destroy(a)

	if s.Exists(a) {
		t.Error("destroyed ID still exists")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}

	// Destroying again (or destroying an unknown ID) must be a no-op, not a
	// panic or error.
	s2 := s.Destroy(a)
	if s2.Exists(a) {
		t.Error("second Destroy resurrected the entity")
	}
	s3 := s.Destroy(ID{Index: 999, Generation: 0})
	if s3.Len() != 0 {
		t.Error("destroying an unknown ID changed store length")
	}
}

func TestDestroy_BumpsGenerationSoStaleIDFailsExists(t *testing.T) {
	s := New()
	s, a := s.Spawn()
	s = s.Destroy(a)
	s, b := s.Spawn() // reuses a's freed slot

	if a.Index != b.Index {
		t.Fatalf("expected slot reuse: a.Index=%d b.Index=%d", a.Index, b.Index)
	}
	if a.Generation == b.Generation {
		t.Error("reused slot did not bump generation")
	}
	if s.Exists(a) {
		t.Error("stale ID from before slot reuse reports as existing")
	}
	if !s.Exists(b) {
		t.Error("newly spawned ID (post slot-reuse) does not exist")
	}
}

func TestSpawn_ReusesFreedSlotLIFO(t *testing.T) {
	s := New()
	s, a := s.Spawn()
	s, b := s.Spawn()
	s = s.Destroy(b)
	s = s.Destroy(a)

	s, c := s.Spawn()
	if c.Index != a.Index {
		t.Errorf("LIFO reuse: expected slot %d reused first, got %d", a.Index, c.Index)
	}
	s, d := s.Spawn()
	if d.Index != b.Index {
		t.Errorf("LIFO reuse: expected slot %d reused second, got %d", b.Index, d.Index)
	}
}

func TestStore_CloneIsIsolatedFromMutation(t *testing.T) {
	s0 := New()
	s1, a := s0.Spawn()

	if s0.Exists(a) {
		t.Error("Spawn on s0 leaked into s0 itself (mutated in place)")
	}
	if !s1.Exists(a) {
		t.Error("s1 (the returned store) does not have the spawned entity")
	}

	s2 := s1.Destroy(a)
	if !s1.Exists(a) {
		t.Error("Destroy on s2's lineage mutated s1 in place")
	}
	if s2.Exists(a) {
		t.Error("s2 should no longer have the destroyed entity")
	}
}

func TestLive_VisitsOnlyLiveEntitiesInIndexOrder(t *testing.T) {
	s := New()
	s, a := s.Spawn()
	s, b := s.Spawn()
	s, c := s.Spawn()
	s = s.Destroy(b)

	var seen []ID
	s.Live(func(id ID) { seen = append(seen, id) })

	if len(seen) != 2 {
		t.Fatalf("Live visited %d entities, want 2", len(seen))
	}
	if seen[0] != a || seen[1] != c {
		t.Errorf("Live order = %v, want [%v %v]", seen, a, c)
	}
}

func TestSnapshotRestore_RoundTripsBehavior(t *testing.T) {
	s := New()
	s, a := s.Spawn()
	s, b := s.Spawn()
	s = s.Destroy(a)

	slots, freeList := s.Snapshot()
	restored := Restore(slots, freeList)

	if restored.Exists(a) {
		t.Error("restored store resurrected a destroyed entity")
	}
	if !restored.Exists(b) {
		t.Error("restored store lost a live entity")
	}
	if restored.Len() != s.Len() {
		t.Errorf("restored Len() = %d, want %d", restored.Len(), s.Len())
	}

	restored, c := restored.Spawn()
	if c.Index != a.Index {
		t.Errorf("restored store did not continue the free list: got index %d, want %d", c.Index, a.Index)
	}
	if c.Generation != a.Generation+1 {
		t.Errorf("restored store did not continue generation counting: got %d, want %d", c.Generation, a.Generation+1)
	}
}

func TestID_IsNil(t *testing.T) {
	if !(ID{}).IsNil() {
		t.Error("zero ID reports non-nil")
	}
	if (ID{Index: 1}).IsNil() {
		t.Error("non-zero ID reports nil")
	}
}
