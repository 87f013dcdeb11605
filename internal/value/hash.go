package value

import (
	"math"

	"github.com/longtable/longtable/internal/container"
	"github.com/zeebo/blake3"
)

// nanHash is the single canonical hash every NaN bit pattern collapses to,
// so that hash tables never split NaN-keyed entries by accident even
// though NaN != NaN under Equal (the entries themselves stay unreachable
// by lookup, but the hash is stable for diagnostics and content hashing).
const nanHash uint64 = 0x7ff8000000000001

// Hash computes a hash consistent with Equal: structurally-equal values
// always hash identically, and the canonical NaN/-0.0 rules from §3/§4.1
// are applied before hashing, not after.
func Hash(v Value) uint64 {
	if v == nil {
		return hashTagged(TagNil, 0)
	}
	switch val := v.(type) {
	case Nil:
		return hashTagged(TagNil, 0)
	case Bool:
		b := uint64(0)
		if val {
			b = 1
		}
		return hashTagged(TagBool, b)
	case Int:
		return hashTagged(TagInt, uint64(val))
	case Float:
		f := float64(val)
		if math.IsNaN(f) {
			return hashTagged(TagFloat, nanHash)
		}
		return hashTagged(TagFloat, math.Float64bits(normalizeFloat(f)))
	case String:
		return hashTagged(TagString, hashBytes([]byte(val)))
	case Symbol:
		h := mix(uint64(val.Kind), uint64(val.Namespace))
		h = mix(h, uint64(val.Name))
		return hashTagged(TagSymbol, h)
	case Entity:
		h := mix(uint64(val.ID.Index), uint64(val.ID.Generation))
		return hashTagged(TagEntity, h)
	case Vector:
		return hashTagged(TagVector, container.VectorHash(val.V, Hash))
	case Set:
		return hashTagged(TagSet, container.SetHash(val.V, Hash))
	case Map:
		return hashTagged(TagMap, container.MapHash(val.V, Hash, Hash))
	case Closure:
		h := mix(uint64(val.Address), uint64(uintptr(0)))
		return hashTagged(TagClosure, h)
	default:
		return 0
	}
}

func hashTagged(t Tag, v uint64) uint64 {
	return mix(uint64(t), v)
}

func mix(a, b uint64) uint64 {
	h := uint64(14695981039346656037)
	h = (h ^ a) * 1099511628211
	h = (h ^ b) * 1099511628211
	return h
}

// hashBytes uses BLAKE3 (already wired into the module for World content
// hashing) folded into 64 bits, rather than reimplementing a second
// string-hashing scheme for plain strings.
func hashBytes(b []byte) uint64 {
	sum := blake3.Sum256(b)
	var h uint64
	for i := 0; i < 8; i++ {
		h = (h << 8) | uint64(sum[i])
	}
	return h
}
