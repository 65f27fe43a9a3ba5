package interp

import (
	"bytes"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/method"
	"gopheros/device/acpi/aml/object"
	"strings"
)

// intArgs2 loads the args at index a and b as integers.
func (ec *execContext) intArgs2(ent entity.Entity, a, b int) (uint64, uint64, error) {
	args := ent.Args()
	if len(args) <= a || len(args) <= b {
		return 0, 0, errArgIndexOutOfBounds
	}

	left, err := ec.loadInt(args[a])
	if err != nil {
		return 0, 0, err
	}
	right, err := ec.loadInt(args[b])
	if err != nil {
		return 0, 0, err
	}
	return left, right, nil
}

// binaryOp implements opcodes with the argument list: left, right, store?
func binaryOp(fn func(left, right uint64) uint64) opHandler {
	return func(ec *execContext, ent entity.Entity) error {
		left, right, err := ec.intArgs2(ent, 0, 1)
		if err != nil {
			return err
		}

		ec.setRetVal(object.NewInteger(fn(left, right)))
		return ec.condStore(ec.retVal, ent, 2)
	}
}

var (
	opAdd        = binaryOp(func(l, r uint64) uint64 { return l + r })
	opSubtract   = binaryOp(func(l, r uint64) uint64 { return l - r })
	opBitwiseAnd = binaryOp(func(l, r uint64) uint64 { return l & r })
	opBitwiseOr  = binaryOp(func(l, r uint64) uint64 { return l | r })
	opBitwiseXor = binaryOp(func(l, r uint64) uint64 { return l ^ r })
	opShiftLeft  = binaryOp(func(l, r uint64) uint64 { return l << r })
	opShiftRight = binaryOp(func(l, r uint64) uint64 { return l >> r })
)

// stepOp implements Increment and Decrement.
// Args: target
// Stores: target <= target + delta
func stepOp(delta uint64) opHandler {
	return func(ec *execContext, ent entity.Entity) error {
		args := ent.Args()
		if len(args) != 1 {
			return errArgIndexOutOfBounds
		}

		val, err := ec.loadInt(args[0])
		if err != nil {
			return err
		}

		ec.setRetVal(object.NewInteger(val + delta))
		return ec.store(ec.retVal, args[0])
	}
}

var (
	opIncrement = stepOp(1)
	opDecrement = stepOp(^uint64(0))
)

// Args: operand, store?
// Returns: ^operand
func opBitwiseNot(ec *execContext, ent entity.Entity) error {
	args := ent.Args()
	if len(args) == 0 {
		return errArgIndexOutOfBounds
	}

	val, err := ec.loadInt(args[0])
	if err != nil {
		return err
	}

	ec.setRetVal(object.NewInteger(^val))
	return ec.condStore(ec.retVal, ent, 1)
}

func boolObject(v bool) *object.Object {
	if v {
		return object.NewInteger(^uint64(0))
	}
	return object.NewInteger(0)
}

// Args: operand
// Returns: !operand
func opLogicalNot(ec *execContext, ent entity.Entity) error {
	args := ent.Args()
	if len(args) != 1 {
		return errArgIndexOutOfBounds
	}

	val, err := ec.loadInt(args[0])
	if err != nil {
		return err
	}

	ec.setRetVal(boolObject(val == 0))
	return nil
}

// Args: left, right
// Returns: left && right
func opLogicalAnd(ec *execContext, ent entity.Entity) error {
	left, right, err := ec.intArgs2(ent, 0, 1)
	if err != nil {
		return err
	}

	ec.setRetVal(boolObject(left != 0 && right != 0))
	return nil
}

// Args: left, right
// Returns: left || right
func opLogicalOr(ec *execContext, ent entity.Entity) error {
	left, right, err := ec.intArgs2(ent, 0, 1)
	if err != nil {
		return err
	}

	ec.setRetVal(boolObject(left != 0 || right != 0))
	return nil
}

// compareOp implements the logical comparison opcodes. Integers, strings
// and buffers can be compared with operands of the same type.
func compareOp(pred func(cmp int) bool) opHandler {
	return func(ec *execContext, ent entity.Entity) error {
		args := ent.Args()
		if len(args) != 2 {
			return errArgIndexOutOfBounds
		}

		left, err := ec.load(args[0])
		if err != nil {
			return err
		}
		defer left.Release()

		right, err := ec.load(args[1])
		if err != nil {
			return err
		}
		defer right.Release()

		cmp, err := compare(left, right)
		if err != nil {
			return err
		}

		ec.setRetVal(boolObject(pred(cmp)))
		return nil
	}
}

var (
	opLogicalEqual   = compareOp(func(cmp int) bool { return cmp == 0 })
	opLogicalLess    = compareOp(func(cmp int) bool { return cmp < 0 })
	opLogicalGreater = compareOp(func(cmp int) bool { return cmp > 0 })
)

func compare(left, right *object.Object) (int, error) {
	if left.Type() != right.Type() {
		return 0, method.ErrBadOperandType
	}

	switch left.Type() {
	case object.TypeInteger:
		l, _ := left.Integer()
		r, _ := right.Integer()
		switch {
		case l < r:
			return -1, nil
		case l > r:
			return 1, nil
		}
		return 0, nil
	case object.TypeString:
		l, _ := left.Str()
		r, _ := right.Str()
		return strings.Compare(l, r), nil
	case object.TypeBuffer:
		l, _ := left.Bytes()
		r, _ := right.Bytes()
		return bytes.Compare(l, r), nil
	}

	return 0, method.ErrBadOperandType
}

// Args: src, dst
// Stores a copy of src to dst and returns src.
func opStore(ec *execContext, ent entity.Entity) error {
	args := ent.Args()
	if len(args) != 2 {
		return errArgIndexOutOfBounds
	}

	val, err := ec.load(args[0])
	if err != nil {
		return err
	}
	ec.setRetVal(val)
	return ec.store(val, args[1])
}

// Args: target
// Returns a reference to a named object or to the object held by a local
// or argument slot.
func opRefOf(ec *execContext, ent entity.Entity) error {
	args := ent.Args()
	if len(args) != 1 {
		return errArgIndexOutOfBounds
	}

	switch target := args[0].(type) {
	case *entity.Reference:
		node, err := ec.resolve(target.TargetName)
		if err != nil {
			return err
		}
		ec.setRetVal(object.NewNodeRef(node))
		return nil
	case entity.Entity:
		op := target.Opcode()
		if !entity.OpIsArg(op) {
			break
		}

		obj, err := ec.load(target)
		if err != nil {
			return err
		}
		ec.setRetVal(object.NewObjectRef(obj))
		obj.Release()
		return nil
	}

	return method.ErrBadOperandType
}

// Args: ref
// Returns the value of the object or node referenced by ref.
func opDerefOf(ec *execContext, ent entity.Entity) error {
	args := ent.Args()
	if len(args) != 1 {
		return errArgIndexOutOfBounds
	}

	ref, err := ec.load(args[0])
	if err != nil {
		return err
	}
	defer ref.Release()

	switch {
	case !ref.IsReference():
		// Args holding a reference are dereferenced when loaded.
		ec.setRetVal(ref.AddRef())
		return nil
	case ref.Target() != nil:
		ec.setRetVal(ref.Target().Copy())
		return nil
	}

	val, err := ec.interp.LoadNode(ec.ctx, ref.Node())
	if err != nil {
		return err
	}
	ec.setRetVal(val)
	return nil
}
