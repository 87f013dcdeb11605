package value

import "github.com/longtable/longtable/internal/container"

// Equal implements Longtable's value equality exactly as specified in
// §3/§8: reflexive except for NaN (NaN != NaN), symmetric, transitive;
// +0.0 == -0.0; collections compare structurally; interned atoms compare
// by handle; cross-tag comparisons are always false.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.valueTag() != b.valueTag() {
		return false
	}
	switch av := a.(type) {
	case Nil:
		return true
	case Bool:
		return av == b.(Bool)
	case Int:
		return av == b.(Int)
	case Float:
		bv := b.(Float)
		return float64(av) == float64(bv) // IEEE: NaN != NaN, -0.0 == 0.0 both fall out naturally
	case String:
		return av == b.(String)
	case Symbol:
		bv := b.(Symbol)
		return av.Kind == bv.Kind && av.Namespace == bv.Namespace && av.Name == bv.Name
	case Entity:
		return av.ID == b.(Entity).ID
	case Vector:
		bv := b.(Vector)
		return container.VectorsEqual(av.V, bv.V, Equal)
	case Set:
		bv := b.(Set)
		return container.SetsEqual(av.V, bv.V)
	case Map:
		bv := b.(Map)
		return container.MapsEqual(av.V, bv.V, Equal)
	case Closure:
		bv := b.(Closure)
		return av.Address == bv.Address && av.Captures == bv.Captures
	default:
		return false
	}
}
