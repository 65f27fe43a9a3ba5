package interp

import (
	"context"
	"encoding/binary"
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/method"
	"gopheros/device/acpi/aml/object"

	"go.uber.org/zap"
)

// load evaluates arg and returns the resulting object. The caller owns the
// returned reference.
func (ec *execContext) load(arg interface{}) (*object.Object, error) {
	switch typ := arg.(type) {
	case nil:
		return nil, method.ErrBadOperandType
	case *object.Object:
		return typ.AddRef(), nil
	case *entity.Const:
		if obj, ok := object.FromValue(typ.Value); ok {
			return obj, nil
		}
		return nil, method.ErrBadOperandType
	case *entity.Reference:
		node, err := ec.resolve(typ.TargetName)
		if err != nil {
			return nil, err
		}
		if m, isMethod := node.(*entity.Method); isMethod {
			// A bare method name invokes the method without args.
			if err = ec.invoke(m, nil); err != nil {
				return nil, err
			}
			return ec.takeRetVal(), nil
		}
		return ec.interp.LoadNode(ec.ctx, node)
	case entity.Entity:
		op := typ.Opcode()
		switch {
		case entity.OpIsLocalArg(op):
			return ec.loadSlot(method.SlotLocal, int(op-entity.OpLocal0))
		case entity.OpIsMethodArg(op):
			return ec.loadSlot(method.SlotArg, int(op-entity.OpArg0))
		case op == entity.OpZero:
			return object.NewInteger(0), nil
		case op == entity.OpOne:
			return object.NewInteger(1), nil
		case op == entity.OpOnes:
			return object.NewInteger(^uint64(0)), nil
		}

		// Val may be a nested opcode (e.g Add(Add(1,1), 2)). Evaluate
		// it and use the value it produced.
		if err := ec.interp.exec(ec, typ); err != nil {
			return nil, err
		}
		if obj := ec.takeRetVal(); obj != nil {
			return obj, nil
		}
		return nil, method.ErrBadOperandType
	}

	if obj, ok := object.FromValue(arg); ok {
		return obj, nil
	}
	return nil, method.ErrBadOperandType
}

// loadSlot returns the object held by a slot. Reading an argument that
// holds a reference yields the referenced value.
func (ec *execContext) loadSlot(kind method.SlotKind, index int) (*object.Object, error) {
	obj, err := ec.frame.Slots.Get(kind, index)
	if err != nil {
		return nil, err
	}

	switch {
	case kind != method.SlotArg || !obj.IsReference():
		return obj.AddRef(), nil
	case obj.Target() != nil:
		return obj.Target().AddRef(), nil
	}
	return ec.interp.LoadNode(ec.ctx, obj.Node())
}

// loadInt evaluates arg and converts the result to an integer.
func (ec *execContext) loadInt(arg interface{}) (uint64, error) {
	obj, err := ec.load(arg)
	if err != nil {
		return 0, err
	}
	defer obj.Release()
	return toInteger(obj)
}

// toInteger implements the implicit Integer conversion for integer and
// buffer operands.
func toInteger(obj *object.Object) (uint64, error) {
	if v, ok := obj.Integer(); ok {
		return v, nil
	}

	if buf, ok := obj.Bytes(); ok {
		var tmp [8]byte
		copy(tmp[:], buf)
		return binary.LittleEndian.Uint64(tmp[:]), nil
	}

	return 0, method.ErrBadOperandType
}

// resolve looks up a name relative to the executing method.
func (ec *execContext) resolve(name string) (entity.Entity, error) {
	if node := ec.interp.ns.Lookup(ec.frame.Node(), name); node != nil {
		return node, nil
	}
	return nil, fmt.Errorf("%w: %s", errUndefinedName, name)
}

// condStore stores val to the target at argIndex if the target is present.
func (ec *execContext) condStore(val *object.Object, ent entity.Entity, argIndex int) error {
	args := ent.Args()
	if len(args) <= argIndex || isNilTarget(args[argIndex]) {
		return nil
	}
	return ec.store(val, args[argIndex])
}

// isNilTarget returns true if target is missing or a zero constant.
func isNilTarget(target interface{}) bool {
	switch typ := target.(type) {
	case nil:
		return true
	case *entity.Const:
		return typ.Value == nil || typ.Value == uint64(0)
	case entity.Entity:
		return typ.Opcode() == entity.OpZero
	}
	return false
}

// store writes a copy of src to dst. Locals are always overwritten; stores
// to an argument holding a reference are redirected to the referenced
// object or node.
func (ec *execContext) store(src *object.Object, dst interface{}) error {
	dstEnt, ok := dst.(entity.Entity)
	if !ok || src == nil {
		return method.ErrBadOperandType
	}

	op := dstEnt.Opcode()
	switch {
	case op == entity.OpDebug:
		ec.interp.log.Debug("debug store", zap.String("method", entity.PathOf(ec.frame.Node())), zap.Stringer("value", src))
		return nil
	case entity.OpIsLocalArg(op), entity.OpIsMethodArg(op):
		kind, index := method.SlotLocal, int(op-entity.OpLocal0)
		if entity.OpIsMethodArg(op) {
			kind, index = method.SlotArg, int(op-entity.OpArg0)
		}

		cp := src.Copy()
		defer cp.Release()
		return ec.frame.Slots.Store(ec.ctx, kind, index, cp)
	}

	switch typ := dstEnt.(type) {
	case *entity.Const:
		// Stores to constants are a no-op.
		return nil
	case *entity.Reference:
		node, err := ec.resolve(typ.TargetName)
		if err != nil {
			return err
		}
		return ec.interp.StoreNode(ec.ctx, node, src)
	}

	return fmt.Errorf("%w: cannot store to %s", method.ErrBadOperandType, op)
}

// LoadNode returns the current value of a named object or field unit.
func (in *Interpreter) LoadNode(ctx context.Context, node entity.Entity) (*object.Object, error) {
	switch typ := node.(type) {
	case *entity.Const:
		if obj, ok := object.FromValue(typ.Value); ok {
			return obj, nil
		}
	case *entity.FieldUnit:
		v, err := in.readField(ctx, typ)
		if err != nil {
			return nil, err
		}
		return object.NewInteger(v), nil
	}

	return nil, fmt.Errorf("%w: cannot load %s", method.ErrBadOperandType, entity.PathOf(node))
}

// StoreNode writes obj to a named object or field unit.
func (in *Interpreter) StoreNode(ctx context.Context, node entity.Entity, obj *object.Object) error {
	if obj.IsReference() {
		return method.ErrBadOperandType
	}

	switch typ := node.(type) {
	case *entity.Const:
		if typ.Opcode() != entity.OpName {
			return nil
		}
		v := obj.Value()
		if buf, isBuf := v.([]byte); isBuf {
			v = append([]byte(nil), buf...)
		}

		in.ns.Lock()
		typ.Value = v
		in.ns.Unlock()
		return nil
	case *entity.FieldUnit:
		v, err := toInteger(obj)
		if err != nil {
			return err
		}
		return in.writeField(ctx, typ, v)
	}

	return fmt.Errorf("%w: cannot store to %s", method.ErrBadOperandType, entity.PathOf(node))
}
