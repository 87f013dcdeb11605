package cli

import (
	"context"

	"github.com/longtable/longtable/internal/component"
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/pattern"
	"github.com/longtable/longtable/internal/program"
	"github.com/longtable/longtable/internal/rule"
	"github.com/longtable/longtable/internal/store"
	"github.com/longtable/longtable/internal/tick"
	"github.com/longtable/longtable/internal/tickconfig"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/vm"
	"github.com/longtable/longtable/internal/world"
)

// demoHandles names the interned component/field handles demoProgram
// registers, so seedCascadingDamage can build component values without
// re-deriving them from string literals a second time.
type demoHandles struct {
	health, damage, eventDeath                   uint32
	current, maxHP, amount, target, entityField uint32
}

var demoHandleSet demoHandles

// demoProgram assembles the cascading-damage scenario (spec §8.4) as a
// runnable program: apply-damage (salience 100) subtracts a damage
// entity's amount from its target's health and destroys the damage
// entity, check-death (salience 50) spawns a death-event entity once
// health drops to zero or below. It is what every subcommand below runs
// a world against — nothing in this tree parses rules or schemas out of
// a source file, so the CLI operates a host-embedded program the way the
// library itself is meant to be driven.
func demoProgram() *program.Program {
	registry := component.NewRegistry()

	health := value.Global.NewSymbol(value.SymbolKeyword, "game", "health")
	damage := value.Global.NewSymbol(value.SymbolKeyword, "game", "damage")
	eventDeath := value.Global.NewSymbol(value.SymbolKeyword, "event", "death")

	current := value.Global.Intern("current")
	maxHP := value.Global.Intern("max")
	amount := value.Global.Intern("amount")
	target := value.Global.Intern("target")
	entityField := value.Global.Intern("entity")

	demoHandleSet = demoHandles{
		health: health.Name, damage: damage.Name, eventDeath: eventDeath.Name,
		current: current, maxHP: maxHP, amount: amount, target: target, entityField: entityField,
	}

	mustRegister(registry, component.ComponentSchema{
		Name: health.Name, NSName: "game/health",
		Fields: []component.FieldSpec{
			{Name: current, Type: value.TagInt, Required: true},
			{Name: maxHP, Type: value.TagInt, Required: true},
		},
	})
	mustRegister(registry, component.ComponentSchema{
		Name: damage.Name, NSName: "game/damage",
		Fields: []component.FieldSpec{
			{Name: amount, Type: value.TagInt, Required: true},
			{Name: target, Type: value.TagEntity, Required: true},
		},
	})
	mustRegister(registry, component.ComponentSchema{
		Name: eventDeath.Name, NSName: "event/death",
		Fields: []component.FieldSpec{
			{Name: entityField, Type: value.TagEntity, Required: true},
		},
	})

	applyDamage := &rule.Rule{
		Name:       "apply-damage",
		NameHandle: value.Global.Intern("apply-damage"),
		Salience:   100,
		Enabled:    true,
		Plan: &pattern.Plan{
			Clauses: []pattern.Clause{{Var: "d", Components: []uint32{damage.Name}}},
		},
		Vars: []string{"d"},
		Lets: []rule.LetBinding{
			{Name: "amt", SourceVar: "d", Component: damage.Name, Field: amount},
		},
		Then: []vm.Instr{
			{Op: vm.OpLoadLocal, Arg: 0},                                        // d
			{Op: vm.OpGetField, Arg: int(damage.Name), Arg2: int(target)},       // -> target entity
			{Op: vm.OpDup},                                                      // target, target
			{Op: vm.OpGetField, Arg: int(health.Name), Arg2: int(current)},      // target, current
			{Op: vm.OpLoadLocal, Arg: 1},                                        // target, current, amt
			{Op: vm.OpSub},                                                      // target, current-amt
			{Op: vm.OpSetField, Arg: int(health.Name), Arg2: int(current)},      // (applied)
			{Op: vm.OpLoadLocal, Arg: 0},                                        // d
			{Op: vm.OpDestroy},
		},
	}

	checkDeath := &rule.Rule{
		Name:       "check-death",
		NameHandle: value.Global.Intern("check-death"),
		Salience:   50,
		Enabled:    true,
		Plan: &pattern.Plan{
			Clauses: []pattern.Clause{{Var: "e", Components: []uint32{health.Name}}},
		},
		Vars: []string{"e"},
		Lets: []rule.LetBinding{
			{Name: "cur", SourceVar: "e", Component: health.Name, Field: current},
		},
		GuardCount: 1,
		Then: []vm.Instr{
			{Op: vm.OpLoadLocal, Arg: 1},    // cur
			{Op: vm.OpConst, Arg: 0},        // cur, 0
			{Op: vm.OpLte},                  // cur <= 0
			{Op: vm.OpJumpIfFalse, Arg: 7},  // abort if alive
			{Op: vm.OpSpawn},                // death-event entity
			{Op: vm.OpLoadLocal, Arg: 0},    // death-event, e
			{Op: vm.OpSetField, Arg: int(eventDeath.Name), Arg2: int(entityField)},
		},
	}

	p := &program.Program{
		Registry:  registry,
		Rules:     []*rule.Rule{applyDamage, checkDeath},
		Constants: []value.Value{value.Int(0)},
		Natives:   vm.NewNativeTable(),
		Config:    tickconfig.Default(),
	}
	loaded, errs := program.Load(p)
	if len(errs) > 0 {
		// demoProgram is fixed at compile time; any failure here is a bug
		// in this file, never a reachable runtime condition.
		panic(errs[0])
	}
	return loaded
}

func mustRegister(r *component.Registry, schema component.ComponentSchema) {
	if err := r.RegisterComponent(schema); err != nil {
		panic(err)
	}
}

// seedCascadingDamage runs two ticks against a fresh world: the first
// spawns a health(100/100) entity as external input, the second spawns a
// damage(15) entity targeting it, saving both commits to st. It exists
// only so `longtable tick --seed-demo` has something to demonstrate the
// apply-damage/check-death pair against — a damage entity's target field
// has to be a real, already-assigned entity ID, so seeding it takes two
// tick boundaries rather than one.
func seedCascadingDamage(ctx context.Context, st *store.Store, executor *tick.Executor, w *world.World) (*world.World, error) {
	h := demoHandleSet

	healthMap := value.NewMap()
	healthMap.V = healthMap.V.Put(fieldKeyOf(h.current), value.Int(100))
	healthMap.V = healthMap.V.Put(fieldKeyOf(h.maxHP), value.Int(100))

	w1, result1, err := executor.Run(w, []tick.Input{{Components: map[uint32]value.Value{h.health: healthMap}}})
	if err != nil {
		return w, err
	}
	if err := st.Save(ctx, w1); err != nil {
		return w, err
	}

	healthID, ok := firstSpawnedEntity(result1.Effects)
	if !ok {
		return w1, lterr.New(lterr.CodeInternal, "seed-demo: health input produced no spawn effect")
	}

	damageMap := value.NewMap()
	damageMap.V = damageMap.V.Put(fieldKeyOf(h.amount), value.Int(15))
	damageMap.V = damageMap.V.Put(fieldKeyOf(h.target), value.Entity{ID: healthID})

	w2, _, err := executor.Run(w1, []tick.Input{{Components: map[uint32]value.Value{h.damage: damageMap}}})
	if err != nil {
		return w1, err
	}
	if err := st.Save(ctx, w2); err != nil {
		return w1, err
	}
	return w2, nil
}

func fieldKeyOf(field uint32) value.Value {
	return value.Symbol{Kind: value.SymbolKeyword, Name: field}
}

func firstSpawnedEntity(effects []world.EffectRecord) (entity.ID, bool) {
	for _, eff := range effects {
		if eff.Kind == world.EffectSpawn {
			return eff.Entity, true
		}
	}
	return entity.ID{}, false
}
