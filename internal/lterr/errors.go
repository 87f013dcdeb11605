// Package lterr defines the coded error taxonomy shared across the
// Longtable runtime: stale entities, schema violations, engine limits,
// constraint failures, and internal bugs. Every error carries enough
// structured context (tick, rule, bindings, span) to reconstruct what the
// engine was doing when it failed.
package lterr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error by kind. Stable across releases; do not renumber.
type Code string

const (
	// Runtime data errors.
	CodeStaleEntity        Code = "L001" // entity reference no longer live
	CodeComponentNotFound  Code = "L002" // component absent on entity
	CodeDivisionByZero     Code = "L003"
	CodeIndexOutOfBounds   Code = "L004"
	CodeTypeError          Code = "L005" // VM/value type mismatch at runtime

	// Schema/load errors.
	CodeDuplicateSchema     Code = "L010"
	CodeReservedNamespace   Code = "L011"
	CodeInvalidDefault      Code = "L012"
	CodeSchemaViolation     Code = "L013" // set/set_field type mismatch
	CodeNegationUnsafe      Code = "L014" // negation references unbound variable
	CodeStaticDerivedCycle  Code = "L015"

	// Engine errors.
	CodeConstraintViolation Code = "L020"
	CodeInfiniteLoop        Code = "L021" // derived cycle or runaway recursion
	CodeMaxActivations      Code = "L022"
	CodeMaxEffects          Code = "L023"
	CodeMaxRefires          Code = "L024"
	CodeMaxDerivedDepth     Code = "L025"
	CodeMaxQueryResult      Code = "L026"

	// I/O.
	CodeIO Code = "L030"

	// Internal: always a bug.
	CodeInternal Code = "L099"
)

// Error is the single error type produced by the Longtable runtime. It
// wraps a Code plus the context envelope described in the spec: tick, rule,
// bindings, and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string

	Tick     uint64
	Rule     string
	Bindings map[string]string // stringified bindings, for diagnostics only
	Span     string            // expression/opcode location, source file, etc.

	Entity    string
	Component string
	Field     string

	Cause error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Rule != "" {
		s += fmt.Sprintf(" (rule=%s)", e.Rule)
	}
	if e.Tick != 0 {
		s += fmt.Sprintf(" (tick=%d)", e.Tick)
	}
	if e.Entity != "" {
		s += fmt.Sprintf(" (entity=%s)", e.Entity)
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// WithTick returns a copy of e annotated with the given tick.
func (e *Error) WithTick(tick uint64) *Error {
	c := *e
	c.Tick = tick
	return &c
}

// WithRule returns a copy of e annotated with the given rule name.
func (e *Error) WithRule(rule string) *Error {
	c := *e
	c.Rule = rule
	return &c
}

// New builds a bare Error of the given code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given code wrapping cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// StaleEntity builds the canonical stale-entity error.
func StaleEntity(entity string) *Error {
	return &Error{Code: CodeStaleEntity, Message: "entity reference is stale", Entity: entity}
}

// ComponentNotFound builds the canonical missing-component error.
func ComponentNotFound(entity, component string) *Error {
	return &Error{Code: CodeComponentNotFound, Message: "component not present on entity", Entity: entity, Component: component}
}

// SchemaViolation builds a type-mismatch error for set/set_field.
func SchemaViolation(entity, component, field, message string) *Error {
	return &Error{Code: CodeSchemaViolation, Message: message, Entity: entity, Component: component, Field: field}
}

// ConstraintViolation builds the canonical constraint failure.
func ConstraintViolation(constraint, entity, message string) *Error {
	return &Error{Code: CodeConstraintViolation, Message: message, Rule: constraint, Entity: entity}
}

// InfiniteLoop builds the canonical derived/recursion cycle error.
func InfiniteLoop(ruleOrDerived string, iterations int) *Error {
	return &Error{
		Code:    CodeInfiniteLoop,
		Message: fmt.Sprintf("cycle detected after %d iterations", iterations),
		Rule:    ruleOrDerived,
	}
}

// KillSwitch builds the canonical kill-switch-exceeded error.
func KillSwitch(code Code, name string, value, limit int) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("%s exceeded: %d >= %d", name, value, limit),
	}
}

// Is reports whether err is an *Error with the given code. Works through
// wrapped errors via errors.As.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
