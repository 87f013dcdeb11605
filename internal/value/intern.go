package value

import (
	"sync"

	"github.com/kamstrup/intmap"
)

// Interner is a process-wide bidirectional string↔handle table. Handles
// are dense u32s assigned monotonically on first sight; interning is O(1)
// amortized. The interner is the sole process-wide mutable structure in
// Longtable (spec §5 "Shared-resource policy") — it is append-only and a
// handle's meaning never changes once assigned, so it is safe to share
// across worlds and across speculative forks without any of them
// observing a mutation.
type Interner struct {
	mu      sync.RWMutex
	forward map[string]uint32
	// backward maps handle -> string. Handles are small dense integers, so
	// an int-keyed map benefits from intmap's open-addressed layout over
	// Go's built-in map, matching the pack's own ECS index usage.
	backward *intmap.Map[uint32, string]
	next     uint32
}

// NewInterner returns an empty Interner. Handle 0 is reserved and never
// assigned to a real string, so Symbol.Namespace == 0 can mean "no
// namespace" unambiguously.
func NewInterner() *Interner {
	in := &Interner{
		forward:  make(map[string]uint32),
		backward: intmap.New[uint32, string](256),
		next:     1,
	}
	return in
}

// Intern returns the handle for s, assigning a new one if s has not been
// seen before.
func (in *Interner) Intern(s string) uint32 {
	in.mu.RLock()
	if h, ok := in.forward[s]; ok {
		in.mu.RUnlock()
		return h
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	// Re-check under the write lock: another goroutine may have interned
	// s while we waited.
	if h, ok := in.forward[s]; ok {
		return h
	}
	h := in.next
	in.next++
	in.forward[s] = h
	in.backward.Put(h, s)
	return h
}

// Resolve returns the string for a previously-interned handle, or "" if
// the handle is unknown (handle 0, or a handle from a different process).
func (in *Interner) Resolve(h uint32) string {
	if h == 0 {
		return ""
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	s, _ := in.backward.Get(h)
	return s
}

// Len returns the number of distinct interned strings.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.forward)
}

// NewSymbol interns name (and ns, if non-empty) and returns the resulting
// Symbol. kind distinguishes a plain symbol from a keyword.
func (in *Interner) NewSymbol(kind SymbolKind, ns, name string) Symbol {
	var nsHandle uint32
	if ns != "" {
		nsHandle = in.Intern(ns)
	}
	return Symbol{Kind: kind, Namespace: nsHandle, Name: in.Intern(name)}
}

// Global is the process-wide interner singleton (spec §5 "the interner is
// the sole process-wide mutable structure"). Every World produced by a
// single process shares it; tests that need isolation construct their own
// Interner with NewInterner instead.
var Global = NewInterner()
