package rule

import (
	"log/slog"
	"sort"

	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/pattern"
	"github.com/longtable/longtable/internal/tickconfig"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/vm"
	"github.com/longtable/longtable/internal/world"
)

// Engine holds one tick's worth of compiled rules in their declaration
// order — that order is an input to conflict resolution (the final
// tie-break after salience and specificity) and must never change once
// constructed, matching the teacher's "syncs slice order NEVER changes
// after construction" invariant (internal/engine/engine.go).
type Engine struct {
	Rules  []*Rule
	Config tickconfig.Config
}

// New returns an Engine over a copy of rules (defensive, per the
// teacher's own New(), to stop a caller's later mutation of its slice
// from breaking the declaration-order invariant) and the kill-switch
// configuration governing RunToQuiescence.
func New(rules []*Rule, cfg tickconfig.Config) *Engine {
	rs := make([]*Rule, len(rules))
	copy(rs, rules)
	return &Engine{Rules: rs, Config: cfg}
}

// RunToQuiescence drives w to a fixpoint (spec §4.9): repeatedly collect
// every eligible activation (enabled rule, not once-fired, pattern
// matches, not already refracted), pick the one with the highest
// (salience, specificity, earliest declaration), run its Then bytecode
// through machine in Direct mode against the current working world, and
// record its refraction key — until no eligible activation remains or a
// kill switch trips. tickSeed feeds vm.RuleSeed/ActivationSeed so the
// exact same rule set and world always draws the exact same random
// sequence, regardless of which goroutine or wall-clock time ran it.
func (e *Engine) RunToQuiescence(w *world.World, machine *vm.Machine, tickSeed uint64) (*world.World, []world.EffectRecord, int, error) {
	working := w
	var effects []world.EffectRecord

	refracted := make(map[string]bool)
	onceFired := make(map[int]bool)
	refireCount := make(map[int]int)
	activations := 0

	for {
		candidates, err := e.collectActivations(working, refracted, onceFired)
		if err != nil {
			return working, effects, activations, err
		}
		if len(candidates) == 0 {
			return working, effects, activations, nil
		}

		e.order(candidates)
		act := candidates[0]
		r := e.Rules[act.RuleIndex]

		activations++
		if activations > e.Config.MaxActivations {
			return working, effects, activations, lterr.KillSwitch(lterr.CodeMaxActivations, "max_activations", activations, e.Config.MaxActivations)
		}
		refireCount[act.RuleIndex]++
		if refireCount[act.RuleIndex] > e.Config.MaxRefiresPerRule {
			return working, effects, activations, lterr.KillSwitch(lterr.CodeMaxRefires, r.Name, refireCount[act.RuleIndex], e.Config.MaxRefiresPerRule)
		}

		locals := make([]value.Value, len(r.Vars)+len(r.Lets))
		for i, v := range r.Vars {
			locals[i] = value.Entity{ID: act.Binding[v]}
		}
		for i, lb := range r.Lets {
			srcID, ok := act.Binding[lb.SourceVar]
			if !ok {
				return working, effects, activations, lterr.New(lterr.CodeInternal,
					"rule %q let-binding %q: source variable %q is not bound", r.Name, lb.Name, lb.SourceVar)
			}
			var fv value.Value
			var fok bool
			if lb.Field == 0 {
				fv, fok = working.Get(srcID, lb.Component)
			} else {
				fv, fok = working.GetField(srcID, lb.Component, lb.Field)
			}
			if !fok {
				return working, effects, activations, lterr.New(lterr.CodeInternal,
					"rule %q let-binding %q: entity has no component/field %d/%d", r.Name, lb.Name, lb.Component, lb.Field)
			}
			locals[len(r.Vars)+i] = fv
		}
		ruleSeed := vm.RuleSeed(tickSeed, r.NameHandle)
		actSeed := vm.ActivationSeed(ruleSeed, refireCount[act.RuleIndex]-1)

		nw, fired, _, err := machine.Run(r.Then, working, locals, actSeed, r.Name)
		if err != nil {
			return working, effects, activations, lterr.Wrap(lterr.CodeInternal, err, "rule %q activation failed", r.Name)
		}
		working = nw
		effects = append(effects, fired...)
		if len(effects) > e.Config.MaxEffects {
			return working, effects, activations, lterr.KillSwitch(lterr.CodeMaxEffects, "max_effects", len(effects), e.Config.MaxEffects)
		}

		refracted[act.key] = true
		if r.Once {
			onceFired[act.RuleIndex] = true
		}

		slog.Debug("rule fired", "rule", r.Name, "tick", working.Tick, "activations", activations)
	}
}

// collectActivations matches every enabled, not-once-fired rule against
// w, in declaration order, discarding bindings whose refraction key has
// already fired this tick. Each rule's own match count is capped at
// MaxQueryResult, aborting the whole tick if a single rule's pattern
// matches an unreasonable number of entities — almost always a sign the
// pattern is unconstrained rather than that the world is legitimately
// that large.
func (e *Engine) collectActivations(w *world.World, refracted map[string]bool, onceFired map[int]bool) ([]Activation, error) {
	var out []Activation
	for i, r := range e.Rules {
		if !r.Enabled || onceFired[i] {
			continue
		}
		matched := 0
		var matchErr error
		r.Plan.Match(w, func(b pattern.Binding) bool {
			matched++
			if matched > e.Config.MaxQueryResult {
				matchErr = lterr.KillSwitch(lterr.CodeMaxQueryResult, r.Name, matched, e.Config.MaxQueryResult)
				return false
			}
			key := activationKey(r, b)
			if refracted[key] {
				return true
			}
			out = append(out, Activation{RuleIndex: i, Binding: b, key: key})
			return true
		})
		if matchErr != nil {
			return nil, matchErr
		}
	}
	return out, nil
}

// order sorts candidates by (salience DESC, specificity DESC, declaration
// order ASC), stably — the declaration-order comparison is itself the
// final tie-break, so sort.SliceStable's own stability never matters, but
// using it costs nothing and mirrors the teacher's declaration-order
// iteration being a plain ranged for loop rather than a parallel one.
func (e *Engine) order(candidates []Activation) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := e.Rules[candidates[i].RuleIndex], e.Rules[candidates[j].RuleIndex]
		if ri.Salience != rj.Salience {
			return ri.Salience > rj.Salience
		}
		si, sj := ri.specificity(), rj.specificity()
		if si != sj {
			return si > sj
		}
		return candidates[i].RuleIndex < candidates[j].RuleIndex
	})
}
