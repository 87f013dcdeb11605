package pattern

import (
	"testing"

	"github.com/longtable/longtable/internal/component"
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/world"
)

func buildCounterWorld(t *testing.T, counts ...int) (*world.World, uint32, []entity.ID) {
	t.Helper()
	registry := component.NewRegistry()
	counter := value.Global.Intern("pattern-test/counter")
	if err := registry.RegisterComponent(component.ComponentSchema{Name: counter, NSName: "pattern-test/counter"}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}
	w := world.New(registry, 0)
	var ids []entity.ID
	for _, c := range counts {
		var id entity.ID
		w, id, _ = w.Spawn("test")
		var err error
		w, _, err = w.Set(id, counter, value.Int(int64(c)), "test")
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		ids = append(ids, id)
	}
	return w, counter, ids
}

func TestMatch_SingleClauseVisitsEveryCarrier(t *testing.T) {
	w, counter, ids := buildCounterWorld(t, 1, 2, 3)
	plan := &Plan{Clauses: []Clause{{Var: "e", Components: []uint32{counter}}}}

	var got []entity.ID
	plan.Match(w, func(b Binding) bool {
		got = append(got, b["e"])
		return true
	})
	if len(got) != len(ids) {
		t.Fatalf("Match produced %d bindings, want %d", len(got), len(ids))
	}
}

func TestMatch_JoinFieldEqConstFiltersCandidates(t *testing.T) {
	w, counter, ids := buildCounterWorld(t, 1, 2, 1)
	plan := &Plan{Clauses: []Clause{{
		Var:        "e",
		Components: []uint32{counter},
		Joins: []Join{{
			Kind:      JoinFieldEqConst,
			Component: counter,
			Field:     0,
			Const:     value.Int(1),
		}},
	}}}

	// Field 0 is looked up as a key inside the component's value, which
	// only resolves when that value is a map; counter here holds a bare
	// scalar, so the field lookup is exercised against a non-structured
	// component.
	_ = ids
	var got []entity.ID
	plan.Match(w, func(b Binding) bool {
		got = append(got, b["e"])
		return true
	})
	// Since "counter" here is a scalar int (not a value.Map), GetField never
	// succeeds, so this clause matches nothing — confirms the join silently
	// filters out candidates it cannot resolve a field for, rather than
	// panicking or matching spuriously.
	if len(got) != 0 {
		t.Errorf("JoinFieldEqConst against a non-structured component matched %v, want none", got)
	}
}

func TestMatch_JoinFieldEqVarJoinsTwoClauses(t *testing.T) {
	registry := component.NewRegistry()
	nameField := value.Global.Intern("pattern-join/name")
	tagA := value.Global.Intern("pattern-join/a")
	tagB := value.Global.Intern("pattern-join/b")
	for _, c := range []uint32{tagA, tagB} {
		if err := registry.RegisterComponent(component.ComponentSchema{Name: c, NSName: "pattern-join/x"}); err != nil {
			t.Fatalf("RegisterComponent failed: %v", err)
		}
	}
	w := world.New(registry, 0)

	mk := func(tag uint32, name string) entity.ID {
		var id entity.ID
		w, id, _ = w.Spawn("test")
		m := value.NewMap()
		m.V = m.V.Put(value.Symbol{Kind: value.SymbolKeyword, Name: nameField}, value.String(name))
		var err error
		w, _, err = w.Set(id, tag, m, "test")
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		return id
	}
	a1 := mk(tagA, "x")
	_ = mk(tagA, "y")
	b1 := mk(tagB, "x")
	_ = mk(tagB, "z")

	plan := &Plan{Clauses: []Clause{
		{Var: "a", Components: []uint32{tagA}},
		{Var: "b", Components: []uint32{tagB}, Joins: []Join{{
			Kind:           JoinFieldEqVar,
			Component:      tagB,
			Field:          nameField,
			OtherVar:       "a",
			OtherComponent: tagA,
			OtherField:     nameField,
		}}},
	}}

	var matches int
	plan.Match(w, func(b Binding) bool {
		if b["a"] != a1 || b["b"] != b1 {
			t.Errorf("unexpected binding pair: a=%v b=%v", b["a"], b["b"])
		}
		matches++
		return true
	})
	if matches != 1 {
		t.Errorf("Match produced %d bindings, want exactly 1", matches)
	}
}

func TestMatch_NegationExcludesBindingsWithAMatch(t *testing.T) {
	registry := component.NewRegistry()
	alive := value.Global.Intern("pattern-neg/alive")
	dead := value.Global.Intern("pattern-neg/dead")
	for _, c := range []uint32{alive, dead} {
		if err := registry.RegisterComponent(component.ComponentSchema{Name: c, NSName: "pattern-neg/x"}); err != nil {
			t.Fatalf("RegisterComponent failed: %v", err)
		}
	}
	w := world.New(registry, 0)
	w, e1, _ := w.Spawn("test")
	var err error
	w, _, err = w.Set(e1, alive, value.Bool(true), "test")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	w, e2, _ := w.Spawn("test")
	w, _, err = w.Set(e2, alive, value.Bool(true), "test")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	w, _, err = w.Set(e2, dead, value.Bool(true), "test")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	plan := &Plan{
		Clauses:   []Clause{{Var: "e", Components: []uint32{alive}}},
		Negations: []Negation{{Clauses: []Clause{{Var: "e", Components: []uint32{dead}}}}},
	}

	var got []entity.ID
	plan.Match(w, func(b Binding) bool {
		got = append(got, b["e"])
		return true
	})
	if len(got) != 1 || got[0] != e1 {
		t.Errorf("Match with negation = %v, want [%v]", got, e1)
	}
}

func TestMatchSeeded_StartsFromCallerSuppliedBinding(t *testing.T) {
	w, counter, ids := buildCounterWorld(t, 1, 2)
	plan := &Plan{Clauses: []Clause{{Var: "e", Components: []uint32{counter}}}}

	seed := Binding{"self": ids[0]}
	var got []entity.ID
	plan.MatchSeeded(w, seed, func(b Binding) bool {
		if b["self"] != ids[0] {
			t.Errorf("seeded variable lost: %v, want %v", b["self"], ids[0])
		}
		got = append(got, b["e"])
		return true
	})
	if len(got) != 2 {
		t.Errorf("MatchSeeded visited %d entities, want 2", len(got))
	}
}

func TestCompile_AcceptsPlanWhereJoinsReferenceEarlierClauses(t *testing.T) {
	plan := &Plan{Clauses: []Clause{
		{Var: "a"},
		{Var: "b", Joins: []Join{{Kind: JoinFieldEqVar, OtherVar: "a"}}},
	}}
	if _, errs := Compile(plan); len(errs) != 0 {
		t.Errorf("Compile rejected a safe plan: %v", errs)
	}
}

func TestCompile_RejectsJoinToUnboundVariable(t *testing.T) {
	plan := &Plan{Clauses: []Clause{
		{Var: "a", Joins: []Join{{Kind: JoinFieldEqVar, OtherVar: "never-bound"}}},
	}}
	if _, errs := Compile(plan); len(errs) == 0 {
		t.Error("Compile accepted a clause joining to a variable no earlier clause binds")
	}
}

func TestCompile_RejectsNegationReferencingVariableBoundOnlyInsideItself(t *testing.T) {
	plan := &Plan{
		Clauses: []Clause{{Var: "a"}},
		Negations: []Negation{{Clauses: []Clause{
			{Var: "b", Joins: []Join{{Kind: JoinFieldEqVar, OtherVar: "c"}}},
			{Var: "c"},
		}}},
	}
	if _, errs := Compile(plan); len(errs) == 0 {
		t.Error("Compile accepted a negation clause joining to a variable not yet bound at that point")
	}
}

func TestCompile_AcceptsNegationReferencingOuterBoundVariable(t *testing.T) {
	plan := &Plan{
		Clauses: []Clause{{Var: "a"}},
		Negations: []Negation{{Clauses: []Clause{
			{Var: "b", Joins: []Join{{Kind: JoinFieldEqVar, OtherVar: "a"}}},
		}}},
	}
	if _, errs := Compile(plan); len(errs) != 0 {
		t.Errorf("Compile rejected a negation clause joining to an outer-bound variable: %v", errs)
	}
}

func TestMatch_EmitFalseStopsEarly(t *testing.T) {
	w, counter, _ := buildCounterWorld(t, 1, 2, 3)
	plan := &Plan{Clauses: []Clause{{Var: "e", Components: []uint32{counter}}}}

	count := 0
	plan.Match(w, func(Binding) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("Match visited %d bindings after emit returned false, want 1", count)
	}
}
