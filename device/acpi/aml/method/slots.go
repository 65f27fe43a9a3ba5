package method

import (
	"context"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/object"
)

// NumSlots is the number of argument and local slots per invocation.
const NumSlots = 8

// SlotKind selects between argument and local slots.
type SlotKind uint8

// The supported slot kinds.
const (
	SlotArg SlotKind = iota
	SlotLocal
)

// String implements fmt.Stringer for SlotKind.
func (k SlotKind) String() string {
	if k == SlotArg {
		return "Arg"
	}
	return "Local"
}

// NodeStorer writes a value into a namespace node. Stores that are
// redirected through an argument holding a node reference end up here.
type NodeStorer interface {
	StoreNode(ctx context.Context, node entity.Entity, obj *object.Object) error
}

// SlotStore holds the argument and local slots of a single invocation. Each
// non-empty slot owns one reference to its object.
type SlotStore struct {
	args   [NumSlots]*object.Object
	locals [NumSlots]*object.Object

	nodes NodeStorer
}

func (s *SlotStore) slot(kind SlotKind, index int) (**object.Object, error) {
	if index < 0 || index >= NumSlots {
		return nil, ErrInvalidIndex
	}

	if kind == SlotArg {
		return &s.args[index], nil
	}
	return &s.locals[index], nil
}

// Get returns the object held by a slot. The slot keeps its reference; callers
// that retain the object must AddRef it.
func (s *SlotStore) Get(kind SlotKind, index int) (*object.Object, error) {
	slot, err := s.slot(kind, index)
	if err != nil {
		return nil, err
	}

	if *slot == nil {
		if kind == SlotArg {
			return nil, ErrUninitializedArg
		}
		return nil, ErrUninitializedLocal
	}
	return *slot, nil
}

// Store writes obj into a slot. The slot takes its own reference to obj.
//
// Locals are always overwritten. If an argument slot already holds a
// reference, the value is written to the referenced object or node and the
// slot keeps the original reference.
func (s *SlotStore) Store(ctx context.Context, kind SlotKind, index int, obj *object.Object) error {
	if obj == nil {
		return ErrNullObject
	}

	slot, err := s.slot(kind, index)
	if err != nil {
		return err
	}

	if existing := *slot; kind == SlotArg && existing != nil && existing.IsReference() {
		if target := existing.Target(); target != nil {
			target.Set(obj)
			return nil
		}
		return s.storeNode(ctx, existing.Node(), obj)
	}

	prev := *slot
	*slot = obj.AddRef()
	prev.Release()
	return nil
}

func (s *SlotStore) storeNode(ctx context.Context, node entity.Entity, obj *object.Object) error {
	if s.nodes != nil {
		return s.nodes.StoreNode(ctx, node, obj)
	}

	named, ok := node.(*entity.Const)
	if !ok || obj.IsReference() {
		return ErrBadOperandType
	}
	named.Value = obj.Value()
	return nil
}

// Delete releases the object held by a slot and marks it as empty. Deleting
// an empty slot is a no-op.
func (s *SlotStore) Delete(kind SlotKind, index int) error {
	slot, err := s.slot(kind, index)
	if err != nil {
		return err
	}

	(*slot).Release()
	*slot = nil
	return nil
}

// InitArgs copies up to count params into argument slots 0..count-1. The
// copy stops at the first nil or missing parameter.
func (s *SlotStore) InitArgs(params []*object.Object, count int) {
	if count > NumSlots {
		count = NumSlots
	}

	for index := 0; index < count && index < len(params); index++ {
		if params[index] == nil {
			return
		}

		s.args[index].Release()
		s.args[index] = params[index].AddRef()
	}
}

// ReleaseAll empties every slot.
func (s *SlotStore) ReleaseAll() {
	for index := 0; index < NumSlots; index++ {
		s.args[index].Release()
		s.args[index] = nil
		s.locals[index].Release()
		s.locals[index] = nil
	}
}
