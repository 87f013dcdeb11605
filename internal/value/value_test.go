package value

import (
	"math"
	"testing"

	"github.com/longtable/longtable/internal/entity"
)

func TestEqual_ScalarsByContentNotIdentity(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"int-equal", Int(42), Int(42), true},
		{"int-unequal", Int(1), Int(2), false},
		{"string-equal", String("hp"), String("hp"), true},
		{"string-unequal", String("hp"), String("mp"), false},
		{"bool-equal", Bool(true), Bool(true), true},
		{"cross-tag", Int(0), String("0"), false},
		{"nil-both", nil, nil, true},
		{"nil-one-side", nil, Int(0), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Equal(c.a, c.b); got != c.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestEqual_NaNNeverEqualToItself(t *testing.T) {
	nan := Float(math.NaN())
	if Equal(nan, nan) {
		t.Error("NaN compared equal to itself")
	}
}

func TestEqual_FloatZeroSignsEqual(t *testing.T) {
	if !Equal(Float(0.0), Float(math.Copysign(0, -1))) {
		t.Error("+0.0 and -0.0 did not compare equal")
	}
}

func TestHash_NaNStableDespiteUnequal(t *testing.T) {
	a := Float(math.NaN())
	b := Float(math.NaN())
	if Equal(a, b) {
		t.Fatal("test assumption broken: NaN compared equal")
	}
	if Hash(a) != Hash(b) {
		t.Error("two NaN values hashed differently")
	}
}

func TestHash_FloatZeroSignsHashEqual(t *testing.T) {
	if Hash(Float(0.0)) != Hash(Float(math.Copysign(0, -1))) {
		t.Error("+0.0 and -0.0 hashed differently")
	}
}

func TestHash_ConsistentWithEqual(t *testing.T) {
	a := Symbol{Kind: SymbolKeyword, Namespace: 3, Name: 7}
	b := Symbol{Kind: SymbolKeyword, Namespace: 3, Name: 7}
	if !Equal(a, b) {
		t.Fatal("test assumption broken: identical symbols not equal")
	}
	if Hash(a) != Hash(b) {
		t.Error("structurally-equal symbols hashed differently")
	}
}

func TestEqual_EntityComparesByIDNotPointer(t *testing.T) {
	a := Entity{ID: entity.ID{Index: 1, Generation: 2}}
	b := Entity{ID: entity.ID{Index: 1, Generation: 2}}
	c := Entity{ID: entity.ID{Index: 1, Generation: 3}}
	if !Equal(a, b) {
		t.Error("entities with identical IDs not equal")
	}
	if Equal(a, c) {
		t.Error("entities with different generations compared equal")
	}
}

func TestEqual_CollectionsCompareStructurally(t *testing.T) {
	v1 := NewVector()
	v1.V = v1.V.Push(Int(1)).Push(Int(2))
	v2 := NewVector()
	v2.V = v2.V.Push(Int(1)).Push(Int(2))
	if !Equal(v1, v2) {
		t.Error("structurally identical vectors not equal")
	}

	m1 := NewMap()
	m1.V = m1.V.Put(String("k"), Int(1))
	m2 := NewMap()
	m2.V = m2.V.Put(String("k"), Int(1))
	if !Equal(m1, m2) {
		t.Error("structurally identical maps not equal")
	}
}

func TestIsTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"nil-falsy", Nil{}, false},
		{"false-falsy", Bool(false), false},
		{"true-truthy", Bool(true), true},
		{"zero-int-truthy", Int(0), true},
		{"zero-float-truthy", Float(0), true},
		{"empty-string-truthy", String(""), true},
		{"empty-vector-truthy", NewVector(), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsTruthy(c.v); got != c.want {
				t.Errorf("IsTruthy(%v) = %v, want %v", c.v, got, c.want)
			}
		})
	}
}

func TestAsFloat64_WidensIntAndFloat(t *testing.T) {
	f, ok := AsFloat64(Int(3))
	if !ok || f != 3.0 {
		t.Errorf("AsFloat64(Int(3)) = %v, %v, want 3.0, true", f, ok)
	}
	f, ok = AsFloat64(Float(2.5))
	if !ok || f != 2.5 {
		t.Errorf("AsFloat64(Float(2.5)) = %v, %v, want 2.5, true", f, ok)
	}
	if _, ok = AsFloat64(String("3")); ok {
		t.Error("AsFloat64(String) reported ok")
	}
}

func TestInterner_InternIsIdempotentAndDense(t *testing.T) {
	in := NewInterner()
	h1 := in.Intern("alpha")
	h2 := in.Intern("alpha")
	if h1 != h2 {
		t.Errorf("Intern(\"alpha\") returned different handles: %d, %d", h1, h2)
	}
	if h1 == 0 {
		t.Error("Intern returned the reserved handle 0 for a real string")
	}
	if in.Resolve(h1) != "alpha" {
		t.Errorf("Resolve(%d) = %q, want \"alpha\"", h1, in.Resolve(h1))
	}
}

func TestInterner_HandleZeroReservedAndUnresolvable(t *testing.T) {
	in := NewInterner()
	if in.Resolve(0) != "" {
		t.Error("Resolve(0) returned a non-empty string; handle 0 must stay reserved")
	}
	h := in.Intern("first")
	if h == 0 {
		t.Error("first Intern call returned the reserved handle 0")
	}
}

func TestInterner_NewSymbolNamespaceZeroMeansNone(t *testing.T) {
	in := NewInterner()
	s := in.NewSymbol(SymbolKeyword, "", "bare")
	if s.Namespace != 0 {
		t.Errorf("NewSymbol with empty ns got Namespace = %d, want 0", s.Namespace)
	}
	if s.Text(in) != "bare" {
		t.Errorf("Text() = %q, want \"bare\"", s.Text(in))
	}

	ns := in.NewSymbol(SymbolKeyword, "game", "hp")
	if ns.Namespace == 0 {
		t.Error("NewSymbol with non-empty ns left Namespace at the reserved handle")
	}
	if ns.Text(in) != "game/hp" {
		t.Errorf("Text() = %q, want \"game/hp\"", ns.Text(in))
	}
}
