package pattern

import (
	"fmt"

	"github.com/longtable/longtable/internal/lterr"
)

// Compile validates a hand-assembled Plan against spec §4.8's
// negation-safety rule — every variable a negation's clauses and joins
// reference, other than the variables its own clauses introduce, must
// already be bound by a Clause appearing earlier in Plan.Clauses — and
// returns the same Plan unchanged if it passes. Grounded on the teacher's
// compiler.Validate, which collects every violation rather than failing
// on the first (internal/compiler/validate.go), generalized here from
// schema validation to pattern safety checking.
func Compile(p *Plan) (*Plan, []error) {
	var errs []error

	bound := make(map[string]bool, len(p.Clauses))
	for _, c := range p.Clauses {
		for _, j := range c.Joins {
			if j.OtherVar != "" && !bound[j.OtherVar] {
				errs = append(errs, lterr.New(lterr.CodeNegationUnsafe, "clause %q joins to unbound variable %q", c.Var, j.OtherVar))
			}
		}
		bound[c.Var] = true
	}

	for gi, neg := range p.Negations {
		local := make(map[string]bool, len(neg.Clauses))
		for _, c := range neg.Clauses {
			for _, j := range c.Joins {
				if j.OtherVar == "" {
					continue
				}
				if !bound[j.OtherVar] && !local[j.OtherVar] {
					errs = append(errs, lterr.New(lterr.CodeNegationUnsafe,
						"negation group %d: clause %q joins to variable %q not bound by any preceding positive clause", gi, c.Var, j.OtherVar))
				}
			}
			local[c.Var] = true
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}

// Explain renders a human-readable description of how Match will execute
// p: the left-deep join order, each clause's required components and
// joins, and every negation group — spec's "query plan explanation"
// feature, grounded on the teacher's querysql.SQLCompiler producing a
// readable SQL string for the same purpose (internal/querysql/compile.go).
func Explain(p *Plan) string {
	s := ""
	for i, c := range p.Clauses {
		s += fmt.Sprintf("%d: scan %s requiring components %v", i, c.Var, c.Components)
		for _, j := range c.Joins {
			s += "; " + explainJoin(j)
		}
		s += "\n"
	}
	for gi, neg := range p.Negations {
		s += fmt.Sprintf("negation %d: must match zero of:\n", gi)
		for _, c := range neg.Clauses {
			s += fmt.Sprintf("  scan %s requiring components %v\n", c.Var, c.Components)
		}
	}
	return s
}

func explainJoin(j Join) string {
	switch j.Kind {
	case JoinFieldEqConst:
		return fmt.Sprintf("field %d.%d = constant", j.Component, j.Field)
	case JoinFieldEqVar:
		return fmt.Sprintf("field %d.%d = %s.%d.%d", j.Component, j.Field, j.OtherVar, j.OtherComponent, j.OtherField)
	case JoinRelSource:
		return fmt.Sprintf("rel %d source -> %s", j.RelType, j.OtherVar)
	case JoinRelTarget:
		return fmt.Sprintf("rel %d target -> %s", j.RelType, j.OtherVar)
	default:
		return "unknown join"
	}
}
