// Package rule implements Longtable's rule engine (C9): activation
// collection over a compiled rule set, refraction, salience/specificity/
// declaration-order conflict resolution, and the quiescence loop that
// drives a tick's working world to a fixpoint. Grounded on the teacher's
// Engine.Run single-writer event loop (internal/engine/engine.go) and its
// quota/cycle machinery (quota.go, cycle.go), generalized from an
// event-driven sync-rule evaluator to a pattern-driven production-rule
// evaluator: the teacher fires every matching sync once per completion
// event, this package instead runs a single rule set to a fixpoint every
// tick, using refraction instead of event consumption to guarantee
// termination per binding.
package rule

import (
	"fmt"

	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/pattern"
	"github.com/longtable/longtable/internal/vm"
)

// LetBinding computes one non-entity local from an already-matched
// pattern variable's own field, the piece of the spec's "let/aggregate/
// group-by/guard/order-by/limit pipeline" that a pattern Clause/Join
// cannot express on its own: Binding only ever holds entity IDs (spec
// §9's relationship/archetype machinery has no use for anything else),
// so a rule that needs a clause-bound entity's field value as a scalar
// — e.g. `[[?e :counter ?n]] :then [(set! ?e :counter (+ ?n 1))]` —
// resolves ?n here, once per activation, after the pattern match that
// bound ?e has already run.
type LetBinding struct {
	// Name is the let-bound variable's own name, used only for error
	// messages; Then addresses it positionally via OpLoadLocal, same as
	// pattern variables.
	Name string
	// SourceVar is the pattern variable whose bound entity owns the
	// field being read.
	SourceVar string
	Component uint32
	// Field selects one field of a structured (map-valued) component.
	// Zero reads the component's whole value instead — handle 0 is
	// reserved and never assigned to a real field name (value/intern.go),
	// so it doubles safely as the "no field, whole component" sentinel;
	// scenario 3's bare `:counter` component is read this way.
	Field uint32
}

// Rule is one compiled rule: a pattern plan to match, a salience and
// once-flag governing conflict resolution, and the bytecode body a
// matching activation runs. Vars gives the order in which bound pattern
// variables are loaded into the VM's local slots for Then, followed by
// Lets in their own order — together they must agree with whatever
// order Then's compiled OpLoadLocal instructions expect.
type Rule struct {
	Name       string
	NameHandle uint32 // interned keyword handle, feeds vm.RuleSeed
	Salience   int32
	Enabled    bool
	Once       bool

	Plan *pattern.Plan
	Vars []string
	Lets []LetBinding

	// GuardCount is the number of compiled guard expressions in Then's
	// let/guard/order-by/limit pipeline. Guards are ordinary bytecode
	// that runs before the rule's effects and aborts the activation
	// (without firing) if it evaluates falsy; they are not represented
	// in Plan because they have no bearing on which entities match, only
	// on whether a match is accepted. Counted toward specificity per
	// spec's "specificity = positive clauses + guards + negations".
	GuardCount int

	Then []vm.Instr
}

// specificity is the tie-breaker used after salience: more specific rules
// (more clauses, guards, and negations) fire before more general ones.
// Let-bindings do not count — they rename or compute values, they do not
// constrain the match.
func (r *Rule) specificity() int {
	return len(r.Plan.Clauses) + len(r.Plan.Negations) + r.GuardCount
}

// Activation is one {rule, binding-tuple} candidate produced by matching
// a rule's pattern against the current working world. key is its
// refraction identity: the same rule firing on the same binding tuple
// twice within one tick is suppressed.
type Activation struct {
	RuleIndex int
	Binding   pattern.Binding
	key       string
}

// activationKey canonicalizes an activation's refraction identity: the
// rule name followed by its bound variables' entity IDs in Rule.Vars
// order, so two Bindings that assign the same entities to the same
// variables always produce identical keys regardless of map iteration
// order (Binding is a plain Go map and thus unordered on its own).
func activationKey(r *Rule, b pattern.Binding) string {
	s := r.Name
	for _, v := range r.Vars {
		id := b[v]
		s += "|" + idKey(id)
	}
	return s
}

func idKey(id entity.ID) string {
	return fmt.Sprintf("%d@%d", id.Index, id.Generation)
}
