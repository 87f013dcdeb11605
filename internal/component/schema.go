// Package component implements Longtable's component store (C4): the
// schema registry and archetype-indexed storage that holds every typed
// datum attached to an entity.
package component

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/value"
)

// reservedNamespaces lists the keyword namespaces spec §3 reserves from
// user declarations: rel/, meta/, runtime/, system/, internal/.
var reservedNamespaces = []string{"rel", "meta", "runtime", "system", "internal"}

func isReservedNamespace(ns string) bool {
	for _, r := range reservedNamespaces {
		if ns == r {
			return true
		}
	}
	return false
}

// FieldSpec describes one field of a component: its interned name handle,
// expected value tag, optional default, and whether it is required.
type FieldSpec struct {
	Name       uint32
	Type       value.Tag
	Default    value.Value
	HasDefault bool
	Required   bool
}

// ComponentSchema names a component and lists its field specs. Tag is a
// single-boolean shorthand: a tag component carries no fields, only
// presence.
type ComponentSchema struct {
	Name   uint32 // interned keyword handle
	NSName string // "ns/name" form, used only for namespace-reservation checks and diagnostics
	Fields []FieldSpec
	Tag    bool
}

// Registry holds every ComponentSchema and RelationshipSchema, built once
// at program load and never mutated during ticks (spec §3 "Schemas ...
// registered once at program load and never mutated during ticks"). It is
// shared by pointer across every World revision descended from the same
// loaded program.
type Registry struct {
	components    map[uint32]ComponentSchema
	relationships  map[uint32]RelationshipSchema
	cue           *cue.Context
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		components:    make(map[uint32]ComponentSchema),
		relationships: make(map[uint32]RelationshipSchema),
		cue:           cuecontext.New(),
	}
}

// RegisterComponent validates and installs schema. Fails on duplicate
// name, reserved namespace, or a default value whose type does not match
// the field's declared type.
func (r *Registry) RegisterComponent(schema ComponentSchema) error {
	if _, dup := r.components[schema.Name]; dup {
		return lterr.New(lterr.CodeDuplicateSchema, "component %q already registered", schema.NSName)
	}
	if ns, _, ok := strings.Cut(schema.NSName, "/"); ok && isReservedNamespace(ns) {
		return lterr.New(lterr.CodeReservedNamespace, "component namespace %q is reserved", ns)
	}
	for _, f := range schema.Fields {
		if f.HasDefault {
			if err := r.validateDefaultType(f.Type, f.Default); err != nil {
				return lterr.Wrap(lterr.CodeInvalidDefault, err, "component %q field default invalid", schema.NSName)
			}
		}
	}
	r.components[schema.Name] = schema
	return nil
}

// Component looks up a registered component schema by handle.
func (r *Registry) Component(handle uint32) (ComponentSchema, bool) {
	s, ok := r.components[handle]
	return s, ok
}

// Cardinality enumerates the four one/many × one/many relationship
// cardinalities.
type Cardinality uint8

const (
	OneToOne Cardinality = iota
	OneToMany
	ManyToOne
	ManyToMany
)

// OnTargetDelete enumerates the policy applied to a relationship edge
// when one of its endpoints is destroyed.
type OnTargetDelete uint8

const (
	OnDeleteRemove OnTargetDelete = iota
	OnDeleteCascade
	OnDeleteNullify
)

// OnViolation enumerates the policy applied when a cardinality constraint
// would be violated by a new edge.
type OnViolation uint8

const (
	OnViolationError OnViolation = iota
	OnViolationReplace
)

// RelationshipSchema names a relationship and declares its cardinality,
// on-target-delete policy, on-violation policy, and attribute fields
// (spec §3 "Schemas"). Relationship instances are themselves entities
// (spec §3 "Relationships as entities"); the schema governs how the
// relationship store enforces and reacts to edge mutations.
type RelationshipSchema struct {
	Name           uint32
	NSName         string
	Cardinality    Cardinality
	OnTargetDelete OnTargetDelete
	OnViolation    OnViolation
	Optional       bool // required for OnDeleteNullify, per spec §4.5
	Attributes     []FieldSpec
}

// RegisterRelationship validates and installs schema.
func (r *Registry) RegisterRelationship(schema RelationshipSchema) error {
	if _, dup := r.relationships[schema.Name]; dup {
		return lterr.New(lterr.CodeDuplicateSchema, "relationship %q already registered", schema.NSName)
	}
	if ns, _, ok := strings.Cut(schema.NSName, "/"); ok && isReservedNamespace(ns) {
		return lterr.New(lterr.CodeReservedNamespace, "relationship namespace %q is reserved", ns)
	}
	if schema.OnTargetDelete == OnDeleteNullify && !schema.Optional {
		return lterr.New(lterr.CodeInvalidDefault, "relationship %q: on-target-delete nullify requires the relationship to be declared optional", schema.NSName)
	}
	for _, f := range schema.Attributes {
		if f.HasDefault {
			if err := r.validateDefaultType(f.Type, f.Default); err != nil {
				return lterr.Wrap(lterr.CodeInvalidDefault, err, "relationship %q attribute default invalid", schema.NSName)
			}
		}
	}
	r.relationships[schema.Name] = schema
	return nil
}

// Relationship looks up a registered relationship schema by handle.
func (r *Registry) Relationship(handle uint32) (RelationshipSchema, bool) {
	s, ok := r.relationships[handle]
	return s, ok
}

// AllRelationships returns every registered relationship schema. Order is
// unspecified; callers that need determinism sort by Name themselves.
func (r *Registry) AllRelationships() []RelationshipSchema {
	out := make([]RelationshipSchema, 0, len(r.relationships))
	for _, s := range r.relationships {
		out = append(out, s)
	}
	return out
}

// validateDefaultType uses CUE to check that a default value's dynamic
// shape satisfies the field's declared Tag. CUE has no native notion of
// Longtable's richer tags (entity/vector/set/map/symbol/closure), so only
// the four scalar tags it can model (int, float, bool, string) are
// actually unified against a constraint; everything else is accepted
// structurally (the VM's runtime type checks are the backstop for those).
func (r *Registry) validateDefaultType(t value.Tag, def value.Value) error {
	var constraint string
	switch t {
	case value.TagInt:
		constraint = "int"
	case value.TagFloat:
		constraint = "number"
	case value.TagBool:
		constraint = "bool"
	case value.TagString:
		constraint = "string"
	default:
		return nil
	}

	goVal, ok := toCUEGoValue(def)
	if !ok {
		return fmt.Errorf("default value tag %s does not match declared type %s", value.TypeName(def), t)
	}

	schemaVal := r.cue.CompileString(constraint)
	if err := schemaVal.Err(); err != nil {
		return err
	}
	encoded := r.cue.Encode(goVal)
	unified := schemaVal.Unify(encoded)
	if err := unified.Err(); err != nil {
		return fmt.Errorf("default value does not satisfy declared type %s: %w", t, err)
	}
	return unified.Validate(cue.Concrete(true))
}

func toCUEGoValue(v value.Value) (any, bool) {
	switch val := v.(type) {
	case value.Int:
		return int64(val), true
	case value.Float:
		return float64(val), true
	case value.Bool:
		return bool(val), true
	case value.String:
		return string(val), true
	default:
		return nil, false
	}
}
