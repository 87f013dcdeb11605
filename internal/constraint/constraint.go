// Package constraint implements Longtable's constraint checker (C10's
// invariant half): a pattern-scoped set of boolean check expressions
// evaluated after the rule engine reaches quiescence, in
// (salience DESC, declaration order ASC) order, producing a Violation
// record for the first failing check per matched activation. Grounded on
// the teacher's compiler.Validate two-tier error reporting
// (internal/compiler/validate.go distinguishes hard errors from
// warnings the same way a rollback violation differs from a warn
// violation here), generalized from static spec validation to a runtime,
// per-tick invariant sweep over a matched World.
package constraint

import (
	"sort"

	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/pattern"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/vm"
	"github.com/longtable/longtable/internal/world"
)

// Policy is a constraint's response to a failing check.
type Policy uint8

const (
	// Rollback discards the entire tick's mutations, restoring the
	// pre-tick world.
	Rollback Policy = iota
	// Warn logs the violation but lets the tick commit.
	Warn
)

// Constraint is one compiled invariant: a pattern plan whose bindings are
// the activations to check, a list of boolean check expressions run in
// declaration order per activation (the first falsy one produces the
// Violation; later checks for that activation are skipped), and the
// policy taken on any violation.
type Constraint struct {
	Name        string
	Salience    int32
	Plan        *pattern.Plan
	Vars        []string
	Checks      [][]vm.Instr
	OnViolation Policy
}

// Violation is one failed check, naming the constraint, the binding that
// failed (by its self/primary entity when one is identifiable), and
// which check (by index) failed.
type Violation struct {
	Constraint string
	Entity     entity.ID
	CheckIndex int
	Policy     Policy
}

// Checker holds a constraint set sorted once, at construction, by
// (salience DESC, declaration order ASC) — spec §4.10's evaluation order
// — so Check never has to re-sort per tick.
type Checker struct {
	constraints []*Constraint
	Machine     *vm.Machine
}

// New returns a Checker over constraints, which is copied and sorted by
// (salience DESC, declaration order ASC). sort.SliceStable's stability
// is what supplies the declaration-order tie-break: the input slice's
// own order is taken as declaration order and is never mutated.
func New(constraints []*Constraint, machine *vm.Machine) *Checker {
	cs := make([]*Constraint, len(constraints))
	copy(cs, constraints)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Salience > cs[j].Salience })
	return &Checker{constraints: cs, Machine: machine}
}

// Check evaluates every constraint against w, in order, returning every
// violation produced. rollback reports whether any violation carries
// Rollback policy — the tick executor discards the whole tick's
// mutations whenever rollback is true, regardless of how many Warn
// violations also occurred.
func (c *Checker) Check(w *world.World) (violations []Violation, rollback bool, err error) {
	for _, con := range c.constraints {
		var matchErr error
		con.Plan.Match(w, func(b pattern.Binding) bool {
			v, stop, cerr := c.checkOne(w, con, b)
			if cerr != nil {
				matchErr = cerr
				return false
			}
			if v != nil {
				violations = append(violations, *v)
				if con.OnViolation == Rollback {
					rollback = true
				}
			}
			return !stop
		})
		if matchErr != nil {
			return violations, rollback, matchErr
		}
	}
	return violations, rollback, nil
}

// checkOne runs con's checks in declaration order against one matched
// binding, stopping at the first falsy check. stop is always false here
// (constraint evaluation never short-circuits across activations the way
// a kill switch does) but is threaded through for symmetry with other
// Match callbacks in this codebase.
func (c *Checker) checkOne(w *world.World, con *Constraint, b pattern.Binding) (*Violation, bool, error) {
	locals := make([]value.Value, len(con.Vars))
	for i, v := range con.Vars {
		locals[i] = value.Entity{ID: b[v]}
	}

	for i, check := range con.Checks {
		_, _, ret, err := c.Machine.Run(check, w, locals, 0, "constraint:"+con.Name)
		if err != nil {
			return nil, false, lterr.Wrap(lterr.CodeInternal, err, "constraint %q check %d failed to evaluate", con.Name, i)
		}
		if !value.IsTruthy(ret) {
			primary := entity.ID{}
			if len(con.Vars) > 0 {
				primary = b[con.Vars[0]]
			}
			return &Violation{Constraint: con.Name, Entity: primary, CheckIndex: i, Policy: con.OnViolation}, false, nil
		}
	}
	return nil, false, nil
}
