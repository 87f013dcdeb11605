package world

import (
	"testing"

	"github.com/longtable/longtable/internal/component"
	"github.com/longtable/longtable/internal/value"
)

func freshRegistry(t *testing.T, fieldPrefix string) (*component.Registry, uint32) {
	t.Helper()
	registry := component.NewRegistry()
	hp := value.Global.Intern(fieldPrefix + "/hp")
	if err := registry.RegisterComponent(component.ComponentSchema{Name: hp, NSName: fieldPrefix + "/hp"}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}
	return registry, hp
}

func TestSpawn_ProducesDistinctEntityAndSpawnEffect(t *testing.T) {
	registry, _ := freshRegistry(t, "world-1")
	w := New(registry, 42)

	w1, id, eff := w.Spawn("test")
	if !w1.Exists(id) {
		t.Error("spawned entity does not exist in the returned World")
	}
	if w.Exists(id) {
		t.Error("Spawn mutated the original World")
	}
	if eff.Kind != EffectSpawn || eff.Entity != id {
		t.Errorf("effect = %+v, want Kind=EffectSpawn Entity=%v", eff, id)
	}
}

func TestSetGet_RoundTripsAndRecordsOldNew(t *testing.T) {
	registry, hp := freshRegistry(t, "world-2")
	w := New(registry, 0)
	w, id, _ := w.Spawn("test")

	w, eff, err := w.Set(id, hp, value.Int(5), "test")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if eff.Old != nil {
		t.Errorf("Old = %v, want nil for a fresh component", eff.Old)
	}
	if eff.New != value.Int(5) {
		t.Errorf("New = %v, want 5", eff.New)
	}
	got, ok := w.Get(id, hp)
	if !ok || got != value.Int(5) {
		t.Errorf("Get = %v, %v, want 5, true", got, ok)
	}

	w, eff2, err := w.Set(id, hp, value.Int(9), "test")
	if err != nil {
		t.Fatalf("second Set failed: %v", err)
	}
	if eff2.Old != value.Int(5) {
		t.Errorf("Old on overwrite = %v, want 5", eff2.Old)
	}
}

func TestSet_OnStaleEntityFails(t *testing.T) {
	registry, hp := freshRegistry(t, "world-3")
	w := New(registry, 0)
	w, id, _ := w.Spawn("test")
	w, _, err := w.Destroy(id, "test")
	if err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	if _, _, err := w.Set(id, hp, value.Int(1), "test"); err == nil {
		t.Error("expected an error setting a component on a destroyed entity")
	}
}

func TestDestroy_IsIdempotentAndProducesNoEffectWhenAlreadyGone(t *testing.T) {
	registry, _ := freshRegistry(t, "world-4")
	w := New(registry, 0)
	w, id, _ := w.Spawn("test")
	w, effects, err := w.Destroy(id, "test")
	if err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if len(effects) != 1 || effects[0].Kind != EffectDestroy {
		t.Fatalf("effects = %+v, want one EffectDestroy", effects)
	}

	w2, effects2, err := w.Destroy(id, "test")
	if err != nil {
		t.Fatalf("second Destroy failed: %v", err)
	}
	if len(effects2) != 0 {
		t.Errorf("destroying an already-dead entity produced effects: %+v", effects2)
	}
	if w2.Exists(id) {
		t.Error("destroyed entity reports as existing")
	}
}

func TestAdvance_LinksToPreviousAndBumpsTick(t *testing.T) {
	registry, _ := freshRegistry(t, "world-5")
	w0 := New(registry, 7)
	w1 := w0.Advance()

	if w1.Tick != w0.Tick+1 {
		t.Errorf("Tick = %d, want %d", w1.Tick, w0.Tick+1)
	}
	if w1.Previous != w0 {
		t.Error("Advance did not link back to the originating World")
	}
	if w1.Seed != w0.Seed {
		t.Errorf("Seed changed across Advance: %d != %d", w1.Seed, w0.Seed)
	}
}

func TestHash_DeterministicForEquivalentContent(t *testing.T) {
	registry, hp := freshRegistry(t, "world-6")
	build := func() *World {
		w := New(registry, 99)
		w, id, _ := w.Spawn("test")
		w, _, err := w.Set(id, hp, value.Int(3), "test")
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		return w
	}
	a := build()
	b := build()
	if a.Hash() != b.Hash() {
		t.Error("two Worlds built identically from the same seed hashed differently")
	}
}

func TestHash_DiffersOnContentChange(t *testing.T) {
	registry, hp := freshRegistry(t, "world-7")
	w := New(registry, 1)
	w, id, _ := w.Spawn("test")
	before := w.Hash()

	w, _, err := w.Set(id, hp, value.Int(1), "test")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	after := w.Hash()
	if before == after {
		t.Error("Hash did not change after mutating component data")
	}
}

func TestHash_CachedAcrossCalls(t *testing.T) {
	registry, _ := freshRegistry(t, "world-8")
	w := New(registry, 5)
	h1 := w.Hash()
	h2 := w.Hash()
	if h1 != h2 {
		t.Errorf("Hash not stable across repeated calls: %d != %d", h1, h2)
	}
}

func TestLink_EnforcesCardinalityAndDestroyCascades(t *testing.T) {
	registry := component.NewRegistry()
	relType := value.Global.Intern("world-owns")
	if err := registry.RegisterRelationship(component.RelationshipSchema{
		Name:           relType,
		NSName:         "test/world-owns",
		Cardinality:    component.OneToOne,
		OnTargetDelete: component.OnDeleteCascade,
	}); err != nil {
		t.Fatalf("RegisterRelationship failed: %v", err)
	}
	w := New(registry, 0)
	w, owner, _ := w.Spawn("test")
	w, owned, _ := w.Spawn("test")

	w, relID, eff, err := w.Link(relType, owner, owned, "test")
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if eff.Kind != EffectLink {
		t.Errorf("effect kind = %v, want EffectLink", eff.Kind)
	}
	if !w.Exists(relID) {
		t.Error("relationship entity does not exist after Link")
	}

	w, effects, err := w.Destroy(owner, "test")
	if err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	foundCascade := false
	for _, e := range effects {
		if e.Entity == owned {
			foundCascade = true
		}
	}
	if !foundCascade {
		t.Error("destroying the relationship's source did not cascade to its target")
	}
	if w.Exists(relID) {
		t.Error("relationship edge survived the cascade")
	}
}
