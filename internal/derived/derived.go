// Package derived implements Longtable's derived components (C10's lazy
// half): cached, computed projections over the world, evaluated on first
// read and invalidated conservatively on any world mutation. Grounded on
// the teacher's CycleDetector (internal/engine/cycle.go) — "maintain a
// per-scope seen-set, check before firing, record after" — generalized
// from per-flow (sync, binding) pairs to per-evaluation (entity, name)
// pairs, since a derived definition that (directly or transitively)
// reads its own value for the same entity while computing it is exactly
// the runtime cycle spec §4.10 requires to surface as InfiniteLoop.
package derived

import (
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/pattern"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/vm"
	"github.com/longtable/longtable/internal/world"
)

// AggregateKind names how Definition reduces the set of bindings its
// pattern plan matches (scoped to :self) into the single value Expr's
// bytecode runs against.
type AggregateKind uint8

const (
	// AggregateNone means the pattern plan is expected to match at most
	// one binding (or none); Expr receives value.Nil{} as its aggregate
	// input when there is no match.
	AggregateNone AggregateKind = iota
	// AggregateCount reduces to the number of matches, as a value.Int.
	AggregateCount
	// AggregateCollect reduces to a value.Vector of AggregateVar's bound
	// entity from every match, in match order.
	AggregateCollect
	// AggregateSum, AggregateMin, AggregateMax reduce
	// AggregateComponent/AggregateField's value across every match's
	// AggregateVar entity.
	AggregateSum
	AggregateMin
	AggregateMax
)

// Definition is one compiled derived-component declaration: a pattern
// plan scoped to a self variable, an aggregate step collapsing its
// matches, and a bytecode expression computing the final cached value
// from the self entity and the aggregate result.
type Definition struct {
	Name       string
	NameHandle uint32
	SelfVar    string
	Plan       *pattern.Plan

	Aggregate          AggregateKind
	AggregateVar       string
	AggregateComponent uint32
	AggregateField     uint32

	// Expr is run with two locals: slot 0 is the self entity
	// (value.Entity), slot 1 is the aggregate result.
	Expr []vm.Instr

	// DependsOn names every other derived definition this one's Expr
	// reads via get-derived while evaluating. The parser that compiles
	// Expr is the one source of truth for that call graph, so it is
	// expected to populate this statically at compile time rather than
	// have this package infer it from bytecode; program.Load walks it to
	// reject static derived cycles at load time (spec §4.10 "static
	// cycles through by-name references between derived definitions are
	// a compile-time error"), distinct from Evaluator's guard stack,
	// which only catches a cycle actually exercised at runtime.
	DependsOn []string
}

type cacheKey struct {
	entity entity.ID
	name   string
}

// Evaluator is the runtime side of C10's derived half: a lazy
// (entity, name)-keyed cache valid for exactly one World value, a guard
// stack detecting runtime recursion, and the Machine used to run Expr
// bytecode. A tick executor constructs one Evaluator per tick (or calls
// Reset between ticks) since the cache is conservatively invalidated on
// every mutation — cheapest way to get that is to never let stale
// entries survive past the World they were computed against.
type Evaluator struct {
	Defs       map[string]*Definition
	Machine    *vm.Machine
	MaxDepth   int

	world      *world.World
	cache      map[cacheKey]value.Value
	guardStack []cacheKey
}

// NewEvaluator returns an Evaluator over defs (indexed by Name) using
// machine to run Expr bytecode, enforcing maxDepth as the guard stack's
// ceiling (spec's max_derived_depth kill switch).
func NewEvaluator(defs []*Definition, machine *vm.Machine, maxDepth int) *Evaluator {
	byName := make(map[string]*Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	return &Evaluator{Defs: byName, Machine: machine, MaxDepth: maxDepth}
}

// Reset discards every cached value, called whenever the world the
// Evaluator reads from changes — spec §4.10's "invalidate all derived
// caches on any mutation" — and whenever a new tick begins even if no
// mutation occurred, to free the previous tick's entries.
func (e *Evaluator) Reset() {
	e.world = nil
	e.cache = nil
	e.guardStack = nil
}

// Get returns entity's cached value for the derived component name,
// computing and caching it on a first read against w. Subsequent calls
// against the same w (by pointer identity — World.Advance/mutation always
// produces a new *World, so a stale pointer can never alias a mutated
// one) reuse the cached value; a call against a different w implicitly
// invalidates the whole cache per the conservative scheme.
func (e *Evaluator) Get(w *world.World, id entity.ID, name string) (value.Value, error) {
	if e.world != w {
		e.world = w
		e.cache = make(map[cacheKey]value.Value)
		e.guardStack = nil
	}

	key := cacheKey{entity: id, name: name}
	if v, ok := e.cache[key]; ok {
		return v, nil
	}
	for _, k := range e.guardStack {
		if k == key {
			return nil, lterr.InfiniteLoop(name, len(e.guardStack))
		}
	}
	if len(e.guardStack) >= e.MaxDepth {
		return nil, lterr.KillSwitch(lterr.CodeMaxDerivedDepth, "max_derived_depth", len(e.guardStack), e.MaxDepth)
	}

	def, ok := e.Defs[name]
	if !ok {
		return nil, lterr.New(lterr.CodeInternal, "derived component %q is not defined", name)
	}

	e.guardStack = append(e.guardStack, key)
	v, err := e.evaluate(w, def, id)
	e.guardStack = e.guardStack[:len(e.guardStack)-1]
	if err != nil {
		return nil, err
	}

	e.cache[key] = v
	return v, nil
}

func (e *Evaluator) evaluate(w *world.World, def *Definition, id entity.ID) (value.Value, error) {
	var matches []pattern.Binding
	def.Plan.MatchSeeded(w, pattern.Binding{def.SelfVar: id}, func(b pattern.Binding) bool {
		matches = append(matches, b)
		return true
	})

	agg, err := e.aggregate(w, def, matches)
	if err != nil {
		return nil, err
	}

	locals := []value.Value{value.Entity{ID: id}, agg}
	_, _, ret, err := e.Machine.Run(def.Expr, w, locals, 0, "derived:"+def.Name)
	if err != nil {
		return nil, lterr.Wrap(lterr.CodeInternal, err, "derived %q evaluation failed", def.Name)
	}
	return ret, nil
}

func (e *Evaluator) aggregate(w *world.World, def *Definition, matches []pattern.Binding) (value.Value, error) {
	switch def.Aggregate {
	case AggregateNone:
		if len(matches) == 0 {
			return value.Nil{}, nil
		}
		return value.Entity{ID: matches[0][def.SelfVar]}, nil

	case AggregateCount:
		return value.Int(len(matches)), nil

	case AggregateCollect:
		vec := value.NewVector()
		for _, b := range matches {
			vec.V = vec.V.Push(value.Entity{ID: b[def.AggregateVar]})
		}
		return vec, nil

	case AggregateSum, AggregateMin, AggregateMax:
		return e.reduceNumeric(w, def, matches)

	default:
		return value.Nil{}, nil
	}
}

func (e *Evaluator) reduceNumeric(w *world.World, def *Definition, matches []pattern.Binding) (value.Value, error) {
	var acc float64
	haveAcc := false
	for _, b := range matches {
		id := b[def.AggregateVar]
		v, ok := w.GetField(id, def.AggregateComponent, def.AggregateField)
		if !ok {
			continue
		}
		f, ok := value.AsFloat64(v)
		if !ok {
			return nil, lterr.New(lterr.CodeTypeError, "derived %q: aggregate field is not numeric", def.Name)
		}
		switch {
		case !haveAcc:
			acc = f
			haveAcc = true
		case def.Aggregate == AggregateSum:
			acc += f
		case def.Aggregate == AggregateMin:
			if f < acc {
				acc = f
			}
		case def.Aggregate == AggregateMax:
			if f > acc {
				acc = f
			}
		}
	}
	if !haveAcc {
		return value.Nil{}, nil
	}
	return value.Float(acc), nil
}
