package rule

import (
	"testing"

	"github.com/longtable/longtable/internal/component"
	"github.com/longtable/longtable/internal/pattern"
	"github.com/longtable/longtable/internal/tickconfig"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/vm"
	"github.com/longtable/longtable/internal/world"
)

// incrementRule builds `:where [[?e :counter ?n]] :then [(set! ?e :counter
// (+ ?n 1))]` exactly as scenario 3 states it: a scalar (non-map) :counter
// component read through a let-binding (?n), not a pattern-clause
// variable, then written back incremented by one.
func incrementRule(counter uint32) *Rule {
	return &Rule{
		Name:       "increment",
		NameHandle: value.Global.Intern("increment-test"),
		Salience:   0,
		Enabled:    true,
		Plan: &pattern.Plan{
			Clauses: []pattern.Clause{{Var: "e", Components: []uint32{counter}}},
		},
		Vars: []string{"e"},
		Lets: []LetBinding{{Name: "n", SourceVar: "e", Component: counter, Field: 0}},
		Then: []vm.Instr{
			{Op: vm.OpLoadLocal, Arg: 0}, // e
			{Op: vm.OpLoadLocal, Arg: 1}, // n
			{Op: vm.OpConst, Arg: 0},     // 1
			{Op: vm.OpAdd},               // n + 1
			{Op: vm.OpSetField, Arg: 0, Arg2: 0},
		},
	}
}

func buildIncrementWorld(t *testing.T, initial int64) (*world.World, uint32) {
	t.Helper()
	registry := component.NewRegistry()
	counter := value.Global.Intern("rule-test/counter")
	if err := registry.RegisterComponent(component.ComponentSchema{Name: counter, NSName: "rule-test/counter"}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}
	w := world.New(registry, 1)
	w, id, _ := w.Spawn("test")
	var err error
	w, _, err = w.Set(id, counter, value.Int(initial), "test")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	_ = id
	return w, counter
}

// incrementRuleScalar rewrites the Then bytecode to use
// OpSet instead of OpSetField, since :counter here is a bare scalar, not a
// field of a structured component — SetField would try to write into a
// sub-key of a non-map value and fail the schema check. This mirrors how
// demo.go's cascading-damage rules choose OpSetField only for genuinely
// map-valued components.
func incrementRuleScalar(counter uint32) *Rule {
	r := incrementRule(counter)
	r.Then = []vm.Instr{
		{Op: vm.OpLoadLocal, Arg: 0}, // e
		{Op: vm.OpLoadLocal, Arg: 1}, // n
		{Op: vm.OpConst, Arg: 0},     // 1
		{Op: vm.OpAdd},               // n + 1
		{Op: vm.OpSet, Arg: int(counter)},
	}
	return r
}

func TestRunToQuiescence_IncrementRuleUsesLetBindingForScalarField(t *testing.T) {
	w, counter := buildIncrementWorld(t, 41)
	r := incrementRuleScalar(counter)
	r.NameHandle = value.Global.Intern("increment-test-scalar")

	engine := New([]*Rule{r}, tickconfig.Config{
		MaxActivations: 10, MaxEffects: 10, MaxRefiresPerRule: 10,
		MaxDerivedDepth: 10, MaxQueryResult: 10,
	})
	machine := vm.New([]value.Value{value.Int(1)}, vm.NewNativeTable(), vm.Direct)

	nw, effects, activations, err := engine.RunToQuiescence(w, machine, 0)
	if err != nil {
		t.Fatalf("RunToQuiescence failed: %v", err)
	}
	if activations != 1 {
		t.Fatalf("activations = %d, want exactly 1 (refraction must prevent a second fire)", activations)
	}
	if len(effects) != 1 {
		t.Fatalf("effects = %v, want exactly one Set effect", effects)
	}

	var id = effects[0].Entity
	got, ok := nw.Get(id, counter)
	if !ok || got != value.Int(42) {
		t.Errorf("counter after one quiescence pass = %v, %v, want 42, true", got, ok)
	}
}

func TestRunToQuiescence_RefractionPreventsSameBindingFiringTwice(t *testing.T) {
	w, counter := buildIncrementWorld(t, 0)
	r := incrementRuleScalar(counter)

	engine := New([]*Rule{r}, tickconfig.Default())
	machine := vm.New([]value.Value{value.Int(1)}, vm.NewNativeTable(), vm.Direct)

	_, _, activations, err := engine.RunToQuiescence(w, machine, 0)
	if err != nil {
		t.Fatalf("RunToQuiescence failed: %v", err)
	}
	// The rule's own Then writes a *new* value for the same entity/component
	// pair it matched on, so without refraction this would loop until a kill
	// switch tripped. Refraction keys on (rule, binding-tuple) — the
	// binding tuple (just ?e here) is unchanged by the Then body, so one
	// activation must be the end of it.
	if activations != 1 {
		t.Errorf("activations = %d, want exactly 1", activations)
	}
}

func TestRunToQuiescence_HighestSalienceFiresFirst(t *testing.T) {
	registry := component.NewRegistry()
	tag := value.Global.Intern("rule-test/tag")
	order := value.Global.Intern("rule-test/order")
	for _, c := range []uint32{tag, order} {
		if err := registry.RegisterComponent(component.ComponentSchema{Name: c, NSName: "rule-test/x"}); err != nil {
			t.Fatalf("RegisterComponent failed: %v", err)
		}
	}
	w := world.New(registry, 0)
	w, id, _ := w.Spawn("test")
	var err error
	w, _, err = w.Set(id, tag, value.Bool(true), "test")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	plan := &pattern.Plan{Clauses: []pattern.Clause{{Var: "e", Components: []uint32{tag}}}}
	low := &Rule{
		Name: "low", NameHandle: value.Global.Intern("low-test"), Salience: 1, Enabled: true, Once: true,
		Plan: plan, Vars: []string{"e"},
		Then: []vm.Instr{
			{Op: vm.OpLoadLocal, Arg: 0}, {Op: vm.OpConst, Arg: 0}, {Op: vm.OpSetField, Arg: int(order), Arg2: 0},
		},
	}
	high := &Rule{
		Name: "high", NameHandle: value.Global.Intern("high-test"), Salience: 10, Enabled: true, Once: true,
		Plan: plan, Vars: []string{"e"},
		Then: []vm.Instr{
			{Op: vm.OpLoadLocal, Arg: 0}, {Op: vm.OpConst, Arg: 1}, {Op: vm.OpSetField, Arg: int(order), Arg2: 0},
		},
	}

	engine := New([]*Rule{low, high}, tickconfig.Default())
	machine := vm.New([]value.Value{value.Int(0), value.Int(1)}, vm.NewNativeTable(), vm.Direct)

	_, effects, activations, err := engine.RunToQuiescence(w, machine, 0)
	if err != nil {
		t.Fatalf("RunToQuiescence failed: %v", err)
	}
	if activations != 2 {
		t.Fatalf("activations = %d, want 2 (both rules are Once and fire exactly once)", activations)
	}
	if effects[0].Source != "high" {
		t.Errorf("first effect fired by %q, want \"high\" (higher salience)", effects[0].Source)
	}
}

func TestRunToQuiescence_MaxActivationsKillSwitchTrips(t *testing.T) {
	registry := component.NewRegistry()
	counter := value.Global.Intern("rule-test/runaway")
	if err := registry.RegisterComponent(component.ComponentSchema{Name: counter, NSName: "rule-test/runaway"}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}
	w := world.New(registry, 0)
	w, id, _ := w.Spawn("test")
	var err error
	w, _, err = w.Set(id, counter, value.Int(1), "test")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// A rule that spawns a fresh entity carrying counter every activation
	// never refracts away (each new entity is a brand-new, never-before-seen
	// binding of the rule's own pattern), so it is a deliberately runaway
	// rule for exercising the kill switch.
	runaway := &Rule{
		Name: "runaway", NameHandle: value.Global.Intern("runaway-test"), Salience: 0, Enabled: true,
		Plan: &pattern.Plan{Clauses: []pattern.Clause{{Var: "e", Components: []uint32{counter}}}},
		Vars: []string{"e"},
		Then: []vm.Instr{
			{Op: vm.OpSpawn},
			{Op: vm.OpConst, Arg: 0},
			{Op: vm.OpSet, Arg: int(counter)},
		},
	}

	cfg := tickconfig.Default()
	cfg.MaxActivations = 5
	engine := New([]*Rule{runaway}, cfg)
	machine := vm.New([]value.Value{value.Int(1)}, vm.NewNativeTable(), vm.Direct)

	_, _, _, err = engine.RunToQuiescence(w, machine, 0)
	if err == nil {
		t.Fatal("expected the max-activations kill switch to trip")
	}
}

func TestRunToQuiescence_DisabledRuleNeverFires(t *testing.T) {
	w, counter := buildIncrementWorld(t, 5)
	r := incrementRuleScalar(counter)
	r.Enabled = false

	engine := New([]*Rule{r}, tickconfig.Default())
	machine := vm.New([]value.Value{value.Int(1)}, vm.NewNativeTable(), vm.Direct)

	_, effects, activations, err := engine.RunToQuiescence(w, machine, 0)
	if err != nil {
		t.Fatalf("RunToQuiescence failed: %v", err)
	}
	if activations != 0 || len(effects) != 0 {
		t.Errorf("disabled rule fired: activations=%d effects=%v", activations, effects)
	}
}
