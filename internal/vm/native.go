package vm

import (
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/value"
)

// NativeFunc is a host function callable from bytecode via OpCallNative.
// It receives its arguments already popped off the operand stack (in
// call order) and returns a single Value or an error.
type NativeFunc func(args []value.Value) (value.Value, error)

// NativeSpec pairs a NativeFunc with the purity/determinism flags spec
// §4.7's native-function ABI requires: Pure functions may be called from
// a condition (read-only) context, Deterministic functions may be called
// at all inside a rule engine whose whole point is bit-reproducible
// replay. A native that is neither is only reachable from outside the
// tick loop (e.g. a program's load-time setup), never from rule bytecode.
type NativeSpec struct {
	Name          string
	Fn            NativeFunc
	Pure          bool
	Deterministic bool
}

// NativeTable is the registered set of native functions a compiled
// program may call, indexed by the handle its bytecode was compiled
// against (stable per-program, assigned at compile time — not the global
// interner handle, since natives are a closed, load-time-fixed set).
type NativeTable struct {
	specs []NativeSpec
}

// NewNativeTable returns a table with specs registered in order; Arg to
// OpCallNative is the resulting index.
func NewNativeTable(specs ...NativeSpec) *NativeTable {
	return &NativeTable{specs: specs}
}

// Index returns the handle for a registered native by name, or -1.
func (t *NativeTable) Index(name string) int {
	for i, s := range t.specs {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func (m *Machine) opCallNative(handle, argc int) error {
	if m.Natives == nil || handle < 0 || handle >= len(m.Natives.specs) {
		return lterr.New(lterr.CodeInternal, "vm: unknown native function handle %d", handle)
	}
	spec := m.Natives.specs[handle]
	if !spec.Deterministic {
		return lterr.New(lterr.CodeInternal, "vm: native %q is not deterministic and cannot be called from rule bytecode", spec.Name)
	}

	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := m.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	result, err := spec.Fn(args)
	if err != nil {
		return lterr.Wrap(lterr.CodeInternal, err, "native %q failed", spec.Name)
	}
	m.push(result)
	return nil
}
