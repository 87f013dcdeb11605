// Package tick implements Longtable's tick executor (C11): the five-step
// per-tick pipeline — snapshot, input injection, rule loop, constraint
// check, commit-or-rollback — that drives one World revision to the
// next. Grounded on the teacher's Clock (internal/engine/clock.go,
// "strictly increasing seq number... deterministic ordering... replay
// produces identical order") for tick numbering via World.Advance, and
// on Engine.Run's "log and continue is wrong here, rollback is right"
// contrast: where the teacher's single-writer loop logs a failed event
// and keeps going (events are independent), a tick's rule loop and
// constraint phase are one atomic unit of work — any uncaught failure
// restores the pre-tick world rather than leaving partial mutations
// committed.
package tick

import (
	"sort"
	"time"

	"github.com/longtable/longtable/internal/constraint"
	"github.com/longtable/longtable/internal/derived"
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/rule"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/vm"
	"github.com/longtable/longtable/internal/world"
)

// Input is one externally-injected event: a freshly spawned entity
// carrying the given component values, recorded in the effect log with
// Source "external" (spec §4.11 step 2). Component handles and values
// are whatever the compiled program's input schema expects; the executor
// does not interpret them.
type Input struct {
	Components map[uint32]value.Value
}

// Executor drives one tick at a time against the rule engine, constraint
// checker, and derived-component evaluator a compiled program loaded.
// None of its fields are mutated by Tick; the same Executor can drive any
// number of ticks in sequence, one at a time (spec §5's single-threaded,
// cooperative core — there is no concurrent-tick support to guard
// against here, only a reminder that Tick must not be called
// re-entrantly against the same Executor).
type Executor struct {
	Rules       *rule.Engine
	Constraints *constraint.Checker
	Derived     *derived.Evaluator
	Machine     *vm.Machine
}

// Result is the outward-facing report of one tick, spec §4.11's
// TickResult: the committed tick number, how many rule activations
// fired, how many distinct entities an effect touched, the full effect
// log (inputs plus rule effects, in the order they were produced), any
// constraint warnings, and wall-clock duration.
type Result struct {
	Tick            uint64
	RulesFired      int
	EntitiesChanged int
	Effects         []world.EffectRecord
	Warnings        []constraint.Violation
	Elapsed         time.Duration
}

// Run executes one tick against pre, injecting inputs, running the rule
// engine to quiescence, then checking constraints. On success it returns
// the newly committed World and its Result. On any rollback — a
// rollback-policy constraint violation, a kill switch, or any other
// uncaught error from steps 2-4 — it returns pre unchanged alongside the
// error describing why, per spec §4.11's closing paragraph ("any
// uncaught runtime error anywhere in steps 2-4 aborts by restoring
// pre_tick").
func (e *Executor) Run(pre *world.World, inputs []Input) (*world.World, Result, error) {
	start := time.Now()

	working := pre.Advance()
	var effects []world.EffectRecord

	for _, in := range inputs {
		nw, id, spawnEff := working.Spawn("external")
		working = nw
		effects = append(effects, spawnEff)

		// Go map iteration order is randomized; components are applied in
		// ascending handle order so the resulting effect log (and thus the
		// committed world) never depends on map iteration, only on the
		// input's own content.
		comps := make([]uint32, 0, len(in.Components))
		for comp := range in.Components {
			comps = append(comps, comp)
		}
		sort.Slice(comps, func(i, j int) bool { return comps[i] < comps[j] })

		for _, comp := range comps {
			nw2, setEff, err := working.Set(id, comp, in.Components[comp], "external")
			if err != nil {
				return pre, Result{}, lterr.Wrap(lterr.CodeInternal, err, "tick: input injection failed")
			}
			working = nw2
			effects = append(effects, setEff)
		}
	}

	tickSeed := (vm.SeedChain{WorldSeed: pre.Seed}).TickSeed(working.Tick)
	ruledWorld, ruleEffects, fired, err := e.Rules.RunToQuiescence(working, e.Machine, tickSeed)
	if err != nil {
		return pre, Result{}, err
	}
	working = ruledWorld
	effects = append(effects, ruleEffects...)

	if e.Derived != nil {
		e.Derived.Reset()
	}

	var warnings []constraint.Violation
	if e.Constraints != nil {
		violations, rollback, cerr := e.Constraints.Check(working)
		if cerr != nil {
			return pre, Result{}, cerr
		}
		if rollback {
			return pre, Result{}, lterr.New(lterr.CodeConstraintViolation, "tick rolled back: %d constraint violation(s)", len(violations))
		}
		warnings = violations
	}

	changed := countDistinctEntities(effects)
	return working, Result{
		Tick:            working.Tick,
		RulesFired:      fired,
		EntitiesChanged: changed,
		Effects:         effects,
		Warnings:        warnings,
		Elapsed:         time.Since(start),
	}, nil
}

func countDistinctEntities(effects []world.EffectRecord) int {
	seen := make(map[entity.ID]bool, len(effects))
	for _, e := range effects {
		seen[e.Entity] = true
	}
	return len(seen)
}
