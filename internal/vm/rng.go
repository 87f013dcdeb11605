package vm

import (
	"github.com/longtable/longtable/internal/value"
	"github.com/zeebo/blake3"
)

// SeedChain derives the three-level deterministic RNG seed chain spec
// §4.7 specifies: a world-wide seed narrows to a tick seed, then to a
// rule seed, then to a per-activation seed — so two runs of the same
// program from the same world seed draw bit-for-bit identical random
// sequences regardless of wall-clock time, goroutine scheduling, or
// activation evaluation order within a tick.
type SeedChain struct {
	WorldSeed uint64
}

// TickSeed derives tick's seed from the world seed.
func (c SeedChain) TickSeed(tick uint64) uint64 {
	return mixSeed(c.WorldSeed, tick)
}

// RuleSeed derives rule's seed from a tick seed and the rule's interned
// name handle.
func RuleSeed(tickSeed uint64, ruleName uint32) uint64 {
	return mixSeed(tickSeed, uint64(ruleName))
}

// ActivationSeed derives one activation's seed from its rule seed and its
// position in the rule's sorted activation set this tick.
func ActivationSeed(ruleSeed uint64, activationIndex int) uint64 {
	return mixSeed(ruleSeed, uint64(activationIndex))
}

func mixSeed(a, b uint64) uint64 {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(a >> (8 * uint(i)))
		buf[8+i] = byte(b >> (8 * uint(i)))
	}
	sum := blake3.Sum256(buf[:])
	var out uint64
	for i := 0; i < 8; i++ {
		out = out<<8 | uint64(sum[i])
	}
	return out
}

// opRandom draws the next deterministic float64 in [0,1) from the
// Machine's RNG cursor (splitmix64 over the activation seed, re-mixed on
// every draw so a rule calling random() more than once still advances
// deterministically) and pushes it.
func (m *Machine) opRandom() error {
	m.rng += 0x9E3779B97F4A7C15
	z := m.rng
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	// Top 53 bits give a uniform float64 in [0,1), matching the standard
	// splitmix64-to-float64 conversion.
	f := float64(z>>11) / float64(uint64(1)<<53)
	m.push(value.Float(f))
	return nil
}
