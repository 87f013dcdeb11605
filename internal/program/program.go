// Package program implements Longtable's compiled-program load interface
// (spec §6): the bundle a parser hands the runtime — component and
// relationship schemas, rules, constraints, derived definitions, a
// native function table, and a constant pool — plus the load-time
// validation spec §6 requires before any of it is allowed to drive a
// tick. Grounded on the teacher's compiler.Validate
// (internal/compiler/validate.go), whose "collect every error, never
// fail fast" discipline this package keeps, generalized from validating
// one ConceptSpec/SyncRule at a time to validating an entire program's
// worth of rules, constraints, and derived definitions together.
package program

import (
	"fmt"

	"github.com/longtable/longtable/internal/component"
	"github.com/longtable/longtable/internal/constraint"
	"github.com/longtable/longtable/internal/derived"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/pattern"
	"github.com/longtable/longtable/internal/rule"
	"github.com/longtable/longtable/internal/tickconfig"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/vm"
)

// Program is everything a tick executor needs to run a world: the schema
// registry, the compiled rule/constraint/derived sets (in the parser's
// declaration order — Load never reorders them), the native function
// table rule and constraint bytecode may call, the constant pool their
// OpConst instructions index into, and the kill-switch configuration.
type Program struct {
	Registry    *component.Registry
	Rules       []*rule.Rule
	Constraints []*constraint.Constraint
	Derived     []*derived.Definition
	Natives     *vm.NativeTable
	Constants   []value.Value
	Config      tickconfig.Config
}

// Load validates a fully-assembled Program and returns it unchanged if
// every check passes, or nil plus every validation error found (spec §6:
// "any invalid entry... causes load failure with span-tagged errors" —
// this package has no source spans to attach since it consumes an
// already-compiled program, but it preserves the "report all, not just
// the first" behavior that makes those spans useful upstream).
func Load(p *Program) (*Program, []error) {
	var errs []error

	errs = append(errs, checkUniqueNames("rule", ruleNames(p.Rules))...)
	errs = append(errs, checkUniqueNames("constraint", constraintNames(p.Constraints))...)
	errs = append(errs, checkUniqueNames("derived", derivedNames(p.Derived))...)

	for _, r := range p.Rules {
		if _, cerrs := pattern.Compile(r.Plan); len(cerrs) > 0 {
			errs = append(errs, wrapAll("rule "+r.Name, cerrs)...)
		}
	}
	for _, c := range p.Constraints {
		if _, cerrs := pattern.Compile(c.Plan); len(cerrs) > 0 {
			errs = append(errs, wrapAll("constraint "+c.Name, cerrs)...)
		}
	}
	for _, d := range p.Derived {
		if _, cerrs := pattern.Compile(d.Plan); len(cerrs) > 0 {
			errs = append(errs, wrapAll("derived "+d.Name, cerrs)...)
		}
	}

	errs = append(errs, checkDerivedCycles(p.Derived)...)

	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}

func ruleNames(rs []*rule.Rule) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Name
	}
	return out
}

func constraintNames(cs []*constraint.Constraint) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func derivedNames(ds []*derived.Definition) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

func checkUniqueNames(kind string, names []string) []error {
	seen := make(map[string]bool, len(names))
	var errs []error
	for _, n := range names {
		if seen[n] {
			errs = append(errs, lterr.New(lterr.CodeDuplicateSchema, "duplicate %s name %q", kind, n))
			continue
		}
		seen[n] = true
	}
	return errs
}

func wrapAll(context string, errs []error) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = fmt.Errorf("%s: %w", context, e)
	}
	return out
}

// checkDerivedCycles walks each derived definition's DependsOn graph for
// a cycle via DFS with an explicit recursion stack, reporting one error
// per back edge the walk finds (named after the definition that closes
// the cycle) rather than stopping at the first; the other definitions on
// that cycle are not reported separately (spec's static derived cycle
// check, distinct from Evaluator's
// runtime guard stack).
func checkDerivedCycles(defs []*derived.Definition) []error {
	byName := make(map[string]*derived.Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(defs))
	var errs []error

	var visit func(name string, stack []string) bool
	visit = func(name string, stack []string) bool {
		switch state[name] {
		case done:
			return false
		case visiting:
			errs = append(errs, lterr.New(lterr.CodeStaticDerivedCycle,
				"derived component %q participates in a static dependency cycle: %v", name, append(stack, name)))
			return true
		}
		d, ok := byName[name]
		if !ok {
			return false
		}
		state[name] = visiting
		cyclic := false
		for _, dep := range d.DependsOn {
			if visit(dep, append(stack, name)) {
				cyclic = true
			}
		}
		state[name] = done
		return cyclic
	}

	for _, d := range defs {
		if state[d.Name] == unvisited {
			visit(d.Name, nil)
		}
	}
	return errs
}
