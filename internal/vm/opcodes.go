package vm

import (
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/world"
)

// step decodes and executes one instruction, returning the (possibly
// unchanged) World, the effect log with any new record appended, the next
// program counter, and an error. World-mutating opcodes are the only
// choke point through which a mutation reaches World: every one of them
// applies its mutation to w here, in both modes, and either appends the
// resulting EffectRecord to the log (Direct mode) or holds it in the
// Machine's buffer until Flush (Buffered mode); nothing touches w outside
// this function, satisfying spec §4.7's single-choke-point requirement.
func (m *Machine) step(instr Instr, w *world.World, effects []world.EffectRecord, pc int, source string) (*world.World, []world.EffectRecord, int, error) {
	switch instr.Op {
	case OpNop:
		return w, effects, pc, nil

	case OpConst:
		if instr.Arg < 0 || instr.Arg >= len(m.Constants) {
			return w, effects, pc, lterr.New(lterr.CodeInternal, "vm: constant index %d out of range", instr.Arg)
		}
		m.push(m.Constants[instr.Arg])
		return w, effects, pc, nil

	case OpLoadLocal:
		frame := m.topFrame()
		if instr.Arg < 0 || instr.Arg >= len(frame) {
			return w, effects, pc, lterr.New(lterr.CodeInternal, "vm: local slot %d out of range", instr.Arg)
		}
		m.push(frame[instr.Arg])
		return w, effects, pc, nil

	case OpStoreLocal:
		v, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		frame := m.topFrame()
		if instr.Arg < 0 || instr.Arg >= len(frame) {
			return w, effects, pc, lterr.New(lterr.CodeInternal, "vm: local slot %d out of range", instr.Arg)
		}
		frame[instr.Arg] = v
		return w, effects, pc, nil

	case OpPop:
		_, err := m.pop()
		return w, effects, pc, err

	case OpDup:
		v, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		m.push(v)
		m.push(v)
		return w, effects, pc, nil

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return w, effects, pc, m.arith(instr.Op)

	case OpNeg:
		v, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		switch n := v.(type) {
		case value.Int:
			m.push(value.Int(-n))
		case value.Float:
			m.push(value.Float(-n))
		default:
			return w, effects, pc, lterr.New(lterr.CodeTypeError, "negate: expected numeric value, got %s", value.TypeName(v))
		}
		return w, effects, pc, nil

	case OpEq, OpNeq:
		b, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		a, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		eq := value.Equal(a, b)
		if instr.Op == OpNeq {
			eq = !eq
		}
		m.push(value.Bool(eq))
		return w, effects, pc, nil

	case OpLt, OpLte, OpGt, OpGte:
		return w, effects, pc, m.compare(instr.Op)

	case OpAnd:
		b, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		a, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		m.push(value.Bool(value.IsTruthy(a) && value.IsTruthy(b)))
		return w, effects, pc, nil

	case OpOr:
		b, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		a, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		m.push(value.Bool(value.IsTruthy(a) || value.IsTruthy(b)))
		return w, effects, pc, nil

	case OpNot:
		v, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		m.push(value.Bool(!value.IsTruthy(v)))
		return w, effects, pc, nil

	case OpVectorNew:
		m.push(value.NewVector())
		return w, effects, pc, nil

	case OpVectorPush:
		v, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		vecVal, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		vec, ok := vecVal.(value.Vector)
		if !ok {
			return w, effects, pc, lterr.New(lterr.CodeTypeError, "vector-push: expected vector, got %s", value.TypeName(vecVal))
		}
		m.push(value.Vector{V: vec.V.Push(v)})
		return w, effects, pc, nil

	case OpSetNew:
		m.push(value.NewSet())
		return w, effects, pc, nil

	case OpSetInsert:
		v, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		setVal, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		s, ok := setVal.(value.Set)
		if !ok {
			return w, effects, pc, lterr.New(lterr.CodeTypeError, "set-insert: expected set, got %s", value.TypeName(setVal))
		}
		m.push(value.Set{V: s.V.Insert(v)})
		return w, effects, pc, nil

	case OpMapNew:
		m.push(value.NewMap())
		return w, effects, pc, nil

	case OpMapPut:
		v, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		k, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		mapVal, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		mp, ok := mapVal.(value.Map)
		if !ok {
			return w, effects, pc, lterr.New(lterr.CodeTypeError, "map-put: expected map, got %s", value.TypeName(mapVal))
		}
		m.push(value.Map{V: mp.V.Put(k, v)})
		return w, effects, pc, nil

	case OpMapGet:
		k, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		mapVal, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		mp, ok := mapVal.(value.Map)
		if !ok {
			return w, effects, pc, lterr.New(lterr.CodeTypeError, "map-get: expected map, got %s", value.TypeName(mapVal))
		}
		got, ok := mp.V.Get(k)
		if !ok {
			got = value.Nil{}
		}
		m.push(got)
		return w, effects, pc, nil

	case OpGetComponent:
		id, err := m.popEntity()
		if err != nil {
			return w, effects, pc, err
		}
		v, ok := w.Get(id, uint32(instr.Arg))
		if !ok {
			v = value.Nil{}
		}
		m.push(v)
		return w, effects, pc, nil

	case OpGetField:
		id, err := m.popEntity()
		if err != nil {
			return w, effects, pc, err
		}
		v, ok := w.GetField(id, uint32(instr.Arg), uint32(instr.Arg2))
		if !ok {
			v = value.Nil{}
		}
		m.push(v)
		return w, effects, pc, nil

	case OpHasComponent:
		id, err := m.popEntity()
		if err != nil {
			return w, effects, pc, err
		}
		m.push(value.Bool(w.HasComponent(id, uint32(instr.Arg))))
		return w, effects, pc, nil

	case OpSpawn:
		nw, neffects, err := m.opSpawn(w, effects, source)
		return nw, neffects, pc, err

	case OpDestroy:
		nw, neffects, err := m.opDestroy(w, effects, source)
		return nw, neffects, pc, err

	case OpSet:
		nw, neffects, err := m.opSet(w, effects, uint32(instr.Arg), source)
		return nw, neffects, pc, err

	case OpSetField:
		nw, neffects, err := m.opSetField(w, effects, uint32(instr.Arg), uint32(instr.Arg2), source)
		return nw, neffects, pc, err

	case OpLink:
		nw, neffects, err := m.opLink(w, effects, uint32(instr.Arg), source)
		return nw, neffects, pc, err

	case OpUnlink:
		nw, neffects, err := m.opUnlink(w, effects, source)
		return nw, neffects, pc, err

	case OpJump:
		return w, effects, instr.Arg, nil

	case OpJumpIfFalse:
		v, err := m.pop()
		if err != nil {
			return w, effects, pc, err
		}
		if !value.IsTruthy(v) {
			return w, effects, instr.Arg, nil
		}
		return w, effects, pc, nil

	case OpReturn:
		m.state = Returned
		return w, effects, pc, nil

	case OpCallNative:
		err := m.opCallNative(instr.Arg, instr.Arg2)
		return w, effects, pc, err

	case OpRandom:
		err := m.opRandom()
		return w, effects, pc, err

	default:
		return w, effects, pc, lterr.New(lterr.CodeInternal, "vm: unknown opcode %d", instr.Op)
	}
}

func (m *Machine) popEntity() (entity.ID, error) {
	v, err := m.pop()
	if err != nil {
		return entity.ID{}, err
	}
	e, ok := v.(value.Entity)
	if !ok {
		return entity.ID{}, lterr.New(lterr.CodeTypeError, "expected entity value, got %s", value.TypeName(v))
	}
	return e.ID, nil
}

func (m *Machine) arith(op Op) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	ai, aIsInt := a.(value.Int)
	bi, bIsInt := b.(value.Int)
	if aIsInt && bIsInt && op != OpDiv {
		switch op {
		case OpAdd:
			m.push(value.Int(ai + bi))
		case OpSub:
			m.push(value.Int(ai - bi))
		case OpMul:
			m.push(value.Int(ai * bi))
		case OpMod:
			if bi == 0 {
				return lterr.New(lterr.CodeDivisionByZero, "modulo by zero")
			}
			m.push(value.Int(ai % bi))
		}
		return nil
	}

	af, err := mustFloat(a)
	if err != nil {
		return err
	}
	bf, err := mustFloat(b)
	if err != nil {
		return err
	}
	switch op {
	case OpAdd:
		m.push(value.Float(af + bf))
	case OpSub:
		m.push(value.Float(af - bf))
	case OpMul:
		m.push(value.Float(af * bf))
	case OpDiv:
		if bf == 0 {
			return lterr.New(lterr.CodeDivisionByZero, "division by zero")
		}
		m.push(value.Float(af / bf))
	case OpMod:
		if bf == 0 {
			return lterr.New(lterr.CodeDivisionByZero, "modulo by zero")
		}
		m.push(value.Float(float64(int64(af) % int64(bf))))
	}
	return nil
}

func (m *Machine) compare(op Op) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	af, err := mustFloat(a)
	if err != nil {
		return err
	}
	bf, err := mustFloat(b)
	if err != nil {
		return err
	}
	var result bool
	switch op {
	case OpLt:
		result = af < bf
	case OpLte:
		result = af <= bf
	case OpGt:
		result = af > bf
	case OpGte:
		result = af >= bf
	}
	m.push(value.Bool(result))
	return nil
}
