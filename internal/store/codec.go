package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/longtable/longtable/internal/component"
	"github.com/longtable/longtable/internal/entity"
	"github.com/longtable/longtable/internal/lterr"
	"github.com/longtable/longtable/internal/relationship"
	"github.com/longtable/longtable/internal/value"
	"github.com/longtable/longtable/internal/world"
)

// frameVersion is the persisted frame format's own version, independent of
// the SQLite schema version: spec §6 "the format is versioned; cross-version
// restore is not guaranteed."
const frameVersion = 1

// wireValue is value.Value's CBOR-transportable shape. value.Value is a
// sealed interface over several concrete struct types, none of which CBOR
// can marshal directly without a registered concrete type per field, so
// every Value round-trips through this single tagged-union struct instead;
// fields irrelevant to Tag are simply omitted by cbor's omitempty.
type wireValue struct {
	Tag     uint8       `cbor:"1,keyasint"`
	Bool    bool        `cbor:"2,keyasint,omitempty"`
	Int     int64       `cbor:"3,keyasint,omitempty"`
	Float   float64     `cbor:"4,keyasint,omitempty"`
	Str     string      `cbor:"5,keyasint,omitempty"`
	SymKind uint8       `cbor:"6,keyasint,omitempty"`
	SymNS   uint32      `cbor:"7,keyasint,omitempty"`
	SymName uint32      `cbor:"8,keyasint,omitempty"`
	EntIdx  uint32      `cbor:"9,keyasint,omitempty"`
	EntGen  uint32      `cbor:"10,keyasint,omitempty"`
	Items   []wireValue `cbor:"11,keyasint,omitempty"`
	Pairs   []wirePair  `cbor:"12,keyasint,omitempty"`
}

type wirePair struct {
	Key wireValue `cbor:"1,keyasint"`
	Val wireValue `cbor:"2,keyasint"`
}

// encodeValue converts a runtime Value into its wire form. Closures are
// rejected: bytecode addresses are only meaningful against the compiled
// program that produced them, and spec §6 already excludes bytecode from
// the persisted frame, so a Closure reaching component data is treated as
// a store-time error rather than silently dropped.
func encodeValue(v value.Value) (wireValue, error) {
	switch val := v.(type) {
	case nil, value.Nil:
		return wireValue{Tag: uint8(value.TagNil)}, nil
	case value.Bool:
		return wireValue{Tag: uint8(value.TagBool), Bool: bool(val)}, nil
	case value.Int:
		return wireValue{Tag: uint8(value.TagInt), Int: int64(val)}, nil
	case value.Float:
		return wireValue{Tag: uint8(value.TagFloat), Float: float64(val)}, nil
	case value.String:
		return wireValue{Tag: uint8(value.TagString), Str: string(val)}, nil
	case value.Symbol:
		return wireValue{Tag: uint8(value.TagSymbol), SymKind: uint8(val.Kind), SymNS: val.Namespace, SymName: val.Name}, nil
	case value.Entity:
		return wireValue{Tag: uint8(value.TagEntity), EntIdx: val.ID.Index, EntGen: val.ID.Generation}, nil
	case value.Vector:
		items := make([]wireValue, 0, val.V.Len())
		var encErr error
		val.V.ForEach(func(_ int, item value.Value) {
			if encErr != nil {
				return
			}
			w, err := encodeValue(item)
			if err != nil {
				encErr = err
				return
			}
			items = append(items, w)
		})
		if encErr != nil {
			return wireValue{}, encErr
		}
		return wireValue{Tag: uint8(value.TagVector), Items: items}, nil
	case value.Set:
		items := make([]wireValue, 0, val.V.Len())
		for _, item := range val.V.ToSlice() {
			w, err := encodeValue(item)
			if err != nil {
				return wireValue{}, err
			}
			items = append(items, w)
		}
		return wireValue{Tag: uint8(value.TagSet), Items: items}, nil
	case value.Map:
		var pairs []wirePair
		var encErr error
		val.V.ForEach(func(k, v value.Value) {
			if encErr != nil {
				return
			}
			wk, err := encodeValue(k)
			if err != nil {
				encErr = err
				return
			}
			wv, err := encodeValue(v)
			if err != nil {
				encErr = err
				return
			}
			pairs = append(pairs, wirePair{Key: wk, Val: wv})
		})
		if encErr != nil {
			return wireValue{}, encErr
		}
		return wireValue{Tag: uint8(value.TagMap), Pairs: pairs}, nil
	default:
		return wireValue{}, lterr.New(lterr.CodeInternal, "value of type %s is not serializable", value.TypeName(v))
	}
}

func decodeValue(w wireValue) (value.Value, error) {
	switch value.Tag(w.Tag) {
	case value.TagNil:
		return value.Nil{}, nil
	case value.TagBool:
		return value.Bool(w.Bool), nil
	case value.TagInt:
		return value.Int(w.Int), nil
	case value.TagFloat:
		return value.Float(w.Float), nil
	case value.TagString:
		return value.String(w.Str), nil
	case value.TagSymbol:
		return value.Symbol{Kind: value.SymbolKind(w.SymKind), Namespace: w.SymNS, Name: w.SymName}, nil
	case value.TagEntity:
		return value.Entity{ID: entity.ID{Index: w.EntIdx, Generation: w.EntGen}}, nil
	case value.TagVector:
		vec := value.NewVector()
		for _, item := range w.Items {
			dv, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			vec.V = vec.V.Push(dv)
		}
		return vec, nil
	case value.TagSet:
		set := value.NewSet()
		for _, item := range w.Items {
			dv, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			set.V = set.V.Insert(dv)
		}
		return set, nil
	case value.TagMap:
		m := value.NewMap()
		for _, p := range w.Pairs {
			k, err := decodeValue(p.Key)
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(p.Val)
			if err != nil {
				return nil, err
			}
			m.V = m.V.Put(k, v)
		}
		return m, nil
	default:
		return nil, lterr.New(lterr.CodeInternal, "unknown wire value tag %d", w.Tag)
	}
}

// entitySlot is one persisted entity.Store slot (spec §4.3): a
// generational index's state, live or not, so a restored allocator
// resumes minting and reusing indices exactly as the original would.
type entitySlot struct {
	Generation uint32 `cbor:"1,keyasint"`
	Alive      bool   `cbor:"2,keyasint"`
}

// componentCell is one (entity, component) datum.
type componentCell struct {
	EntityIndex uint32    `cbor:"1,keyasint"`
	Component   uint32    `cbor:"2,keyasint"`
	Value       wireValue `cbor:"3,keyasint"`
}

// relationshipEdge is a human/tooling-facing summary of one relationship
// entity, included alongside ComponentData for CLI inspection even though
// restore rebuilds the live indices from ComponentData via
// relationship.Rebuild rather than from this redundant section.
type relationshipEdge struct {
	Entity entitySlotID `cbor:"1,keyasint"`
	Type   uint32       `cbor:"2,keyasint"`
	Source entitySlotID `cbor:"3,keyasint"`
	Target entitySlotID `cbor:"4,keyasint"`
}

type entitySlotID struct {
	Index      uint32 `cbor:"1,keyasint"`
	Generation uint32 `cbor:"2,keyasint"`
}

// Frame is Longtable's self-describing persisted world (spec §6):
// {version, tick, seed, entities, relationships, component-data,
// meta-entities}. Bytecode and compiled plans are never part of it;
// restoring a Frame requires the original compiled program to supply the
// component registry and re-derive everything else.
type Frame struct {
	Version       uint32             `cbor:"1,keyasint"`
	Tick          uint64             `cbor:"2,keyasint"`
	Seed          uint64             `cbor:"3,keyasint"`
	Entities      []entitySlot       `cbor:"4,keyasint"`
	FreeList      []uint32           `cbor:"5,keyasint"`
	Relationships []relationshipEdge `cbor:"6,keyasint"`
	ComponentData []componentCell    `cbor:"7,keyasint"`
	MetaEntities  []uint32           `cbor:"8,keyasint"`
}

// EncodeFrame captures w's full observable state into a Frame. Archetype
// table layout and any particular Store's internal bookkeeping are not
// captured — only what World.Hash itself treats as significant (spec
// §4.6), plus the entity allocator's slot/free-list state needed to
// reproduce identical future Spawn behavior after restore.
func EncodeFrame(w *world.World) (*Frame, error) {
	slots, freeList := w.Entities().Snapshot()
	entitySlots := make([]entitySlot, len(slots))
	for i, sl := range slots {
		entitySlots[i] = entitySlot{Generation: sl.Generation, Alive: sl.Alive}
	}

	frame := &Frame{
		Version:  frameVersion,
		Tick:     w.Tick,
		Seed:     w.Seed,
		Entities: entitySlots,
		FreeList: freeList,
	}

	registry := w.Registry
	var encErr error
	w.Entities().Live(func(id entity.ID) {
		if encErr != nil {
			return
		}
		isMeta := false
		for _, comp := range w.Components().ComponentsOf(id) {
			v, _ := w.Get(id, comp)
			wv, err := encodeValue(v)
			if err != nil {
				encErr = fmt.Errorf("encode entity %s component %d: %w", id, comp, err)
				return
			}
			frame.ComponentData = append(frame.ComponentData, componentCell{
				EntityIndex: id.Index,
				Component:   comp,
				Value:       wv,
			})
			if schema, ok := registry.Component(comp); ok && isMetaNamespace(schema.NSName) {
				isMeta = true
			}
		}
		if isMeta {
			frame.MetaEntities = append(frame.MetaEntities, id.Index)
		}

		if hasRelationshipTriple(w, id) {
			typVal, _ := w.Get(id, relationship.CompRelType.Name)
			srcVal, _ := w.Get(id, relationship.CompRelSource.Name)
			tgtVal, _ := w.Get(id, relationship.CompRelTarget.Name)
			typ, ok1 := typVal.(value.Symbol)
			src, ok2 := srcVal.(value.Entity)
			tgt, ok3 := tgtVal.(value.Entity)
			if ok1 && ok2 && ok3 {
				frame.Relationships = append(frame.Relationships, relationshipEdge{
					Entity: entitySlotID{Index: id.Index, Generation: id.Generation},
					Type:   typ.Name,
					Source: entitySlotID{Index: src.ID.Index, Generation: src.ID.Generation},
					Target: entitySlotID{Index: tgt.ID.Index, Generation: tgt.ID.Generation},
				})
			}
		}
	})
	if encErr != nil {
		return nil, encErr
	}

	return frame, nil
}

func hasRelationshipTriple(w *world.World, id entity.ID) bool {
	return w.HasComponent(id, relationship.CompRelType.Name) &&
		w.HasComponent(id, relationship.CompRelSource.Name) &&
		w.HasComponent(id, relationship.CompRelTarget.Name)
}

func isMetaNamespace(nsName string) bool {
	for i := 0; i < len(nsName); i++ {
		if nsName[i] == '/' {
			return nsName[:i] == "meta"
		}
	}
	return false
}

// Restore reconstructs a *world.World from a Frame against registry: the
// entity allocator is rebuilt directly from the persisted slot table, then
// every component cell is replayed through component.Store.Set in
// ascending (entity, component) order (component.Store bootstraps a fresh
// entity's archetype row on its first Set, so no separate "create entity"
// step is needed beyond the allocator restore), and finally the
// relationship secondary indices are rebuilt from that replayed data via
// relationship.Rebuild rather than from the Frame's own Relationships
// section, which exists for inspection only.
func (f *Frame) Restore(registry *component.Registry) (*world.World, error) {
	if f.Version != frameVersion {
		return nil, lterr.New(lterr.CodeInternal, "frame version %d is not restorable by this build (expects %d)", f.Version, frameVersion)
	}

	slots := make([]entity.SlotSnapshot, len(f.Entities))
	for i, sl := range f.Entities {
		slots[i] = entity.SlotSnapshot{Generation: sl.Generation, Alive: sl.Alive}
	}
	entities := entity.Restore(slots, f.FreeList)

	byEntity := make(map[uint32][]componentCell)
	for _, cell := range f.ComponentData {
		byEntity[cell.EntityIndex] = append(byEntity[cell.EntityIndex], cell)
	}

	components := component.New(registry)
	var restoreErr error
	entities.Live(func(id entity.ID) {
		if restoreErr != nil {
			return
		}
		cells := byEntity[id.Index]
		sortComponentCells(cells)
		for _, cell := range cells {
			v, err := decodeValue(cell.Value)
			if err != nil {
				restoreErr = fmt.Errorf("restore entity %s component %d: %w", id, cell.Component, err)
				return
			}
			components, err = components.Set(id, cell.Component, v)
			if err != nil {
				restoreErr = fmt.Errorf("restore entity %s component %d: %w", id, cell.Component, err)
				return
			}
		}
	})
	if restoreErr != nil {
		return nil, restoreErr
	}

	relationships := relationship.Rebuild(components, entities)

	return world.Restore(registry, f.Tick, f.Seed, entities, components, relationships), nil
}

func sortComponentCells(cells []componentCell) {
	for i := 1; i < len(cells); i++ {
		for j := i; j > 0 && cells[j-1].Component > cells[j].Component; j-- {
			cells[j-1], cells[j] = cells[j], cells[j-1]
		}
	}
}

func marshalFrame(f *Frame) ([]byte, error) {
	return cbor.Marshal(f)
}

func unmarshalFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	return &f, nil
}
