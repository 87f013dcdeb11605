// Package vm implements Longtable's bytecode expression/effect VM (C7): a
// stack machine executing compiled rule-condition and rule-action bytecode
// against a World, through a single effect choke point so every World
// mutation — whatever opcode triggered it — produces exactly one
// EffectRecord. Grounded on the teacher's single-writer Engine loop
// (internal/engine/engine.go: "All mutations happen in the single-writer
// Run loop goroutine") generalized from one event-processing goroutine to
// one VM invocation's sequential opcode stream.
package vm

import (
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/world"
)

// Op is a single bytecode opcode.
type Op uint8

const (
	OpNop Op = iota
	OpConst
	OpLoadLocal
	OpStoreLocal
	OpPop
	OpDup

	// Arithmetic / comparison, operate on the top of stack.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpNot

	// Collections.
	OpVectorNew
	OpVectorPush
	OpSetNew
	OpSetInsert
	OpMapNew
	OpMapPut
	OpMapGet

	// World reads.
	OpGetComponent
	OpGetField
	OpHasComponent

	// World writes (effect choke point).
	OpSpawn
	OpDestroy
	OpSet
	OpSetField
	OpLink
	OpUnlink

	// Control flow.
	OpJump
	OpJumpIfFalse
	OpCall
	OpReturn

	// Native function call and RNG draw.
	OpCallNative
	OpRandom
)

// Instr is one decoded bytecode instruction: an opcode plus up to two
// immediate operands whose meaning depends on Op (constant-pool index,
// jump target, local slot, component/field handle, native function
// handle, argument count). Opcodes needing only one operand (most of
// them) leave Arg2 zero.
type Instr struct {
	Op   Op
	Arg  int
	Arg2 int
}

// EffectMode controls where World-mutating opcodes put their
// EffectRecords: in both modes the mutation itself is applied to the World
// immediately; Direct appends each record to the returned effect log,
// while Buffered holds records in the Machine's buffer until Flush
// (spec §4.7's two effect-application strategies).
type EffectMode uint8

const (
	Direct EffectMode = iota
	Buffered
)

// State is the VM's own run state, distinct from whether its host
// activation succeeded (spec §4.7 "VM state machine: idle, running,
// returned, failed").
type State uint8

const (
	Idle State = iota
	Running
	Returned
	Failed
)

// Machine is one bytecode execution context: a constant pool, a call
// stack of locals frames, an operand stack, an RNG cursor derived per Run
// call, and — depending on Mode — a pending effect-record buffer (World
// mutations themselves always apply immediately; see effects.go).
type Machine struct {
	Constants []value.Value
	Natives   *NativeTable
	Mode      EffectMode

	stack  []value.Value
	locals [][]value.Value // one slice per call frame
	state  State
	rng    uint64

	pendingEffects []world.EffectRecord
}

// New returns a fresh Machine ready to Run a bytecode program.
func New(constants []value.Value, natives *NativeTable, mode EffectMode) *Machine {
	return &Machine{Constants: constants, Natives: natives, Mode: mode, state: Idle}
}

func (m *Machine) push(v value.Value) { m.stack = append(m.stack, v) }

func (m *Machine) pop() (value.Value, error) {
	n := len(m.stack)
	if n == 0 {
		return nil, lterr.New(lterr.CodeInternal, "vm: stack underflow")
	}
	v := m.stack[n-1]
	m.stack = m.stack[:n-1]
	return v, nil
}

func (m *Machine) topFrame() []value.Value {
	if len(m.locals) == 0 {
		return nil
	}
	return m.locals[len(m.locals)-1]
}

// Run executes code against w (the World in effect when the activation
// fired), seeded with locals (the rule's bound variables, in compiled
// slot order) and rngSeed (this activation's draw of the spec §4.7 seed
// chain), returning the resulting World, the effect records produced
// (Direct mode only — Buffered mode's are held back for Flush), and the
// VM's top-of-stack return value.
func (m *Machine) Run(code []Instr, w *world.World, locals []value.Value, rngSeed uint64, source string) (*world.World, []world.EffectRecord, value.Value, error) {
	m.state = Running
	m.rng = rngSeed
	m.locals = append(m.locals, append([]value.Value(nil), locals...))
	defer func() { m.locals = m.locals[:len(m.locals)-1] }()

	var effects []world.EffectRecord
	pc := 0
	for pc < len(code) {
		instr := code[pc]
		pc++

		var err error
		w, effects, pc, err = m.step(instr, w, effects, pc, source)
		if err != nil {
			m.state = Failed
			return w, effects, nil, err
		}
		if m.state == Returned {
			break
		}
	}

	var ret value.Value = value.Nil{}
	if len(m.stack) > 0 {
		ret, _ = m.pop()
	}
	if m.state != Failed {
		m.state = Returned
	}
	return w, effects, ret, nil
}

func mustFloat(v value.Value) (float64, error) {
	f, ok := value.AsFloat64(v)
	if !ok {
		return 0, lterr.New(lterr.CodeTypeError, "expected numeric value, got %s", value.TypeName(v))
	}
	return f, nil
}
