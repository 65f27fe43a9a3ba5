package interp

import "gopheros/device/acpi/aml/entity"

// populateJumpTable assigns the functions that implement the various AML
// opcodes to the interpreter's jump table.
func (in *Interpreter) populateJumpTable() {
	// Declarations are created by ParseAML
	for _, op := range []entity.AMLOpcode{entity.OpName, entity.OpOpRegion, entity.OpField, entity.OpFieldUnit, entity.OpDevice, entity.OpScope, entity.OpNoop} {
		in.jumpTable[op] = opNoop
	}

	// Control-flow opcodes
	in.jumpTable[entity.OpReturn] = opReturn
	in.jumpTable[entity.OpBreak] = opBreak
	in.jumpTable[entity.OpContinue] = opContinue
	in.jumpTable[entity.OpWhile] = opWhile
	in.jumpTable[entity.OpIf] = opIf
	in.jumpTable[entity.OpMethodInvocation] = opMethodInvocation
	in.jumpTable[entity.OpNotify] = opNotify

	// ALU opcodes
	in.jumpTable[entity.OpAdd] = opAdd
	in.jumpTable[entity.OpSubtract] = opSubtract
	in.jumpTable[entity.OpIncrement] = opIncrement
	in.jumpTable[entity.OpDecrement] = opDecrement
	in.jumpTable[entity.OpShiftLeft] = opShiftLeft
	in.jumpTable[entity.OpShiftRight] = opShiftRight
	in.jumpTable[entity.OpAnd] = opBitwiseAnd
	in.jumpTable[entity.OpOr] = opBitwiseOr
	in.jumpTable[entity.OpXor] = opBitwiseXor
	in.jumpTable[entity.OpNot] = opBitwiseNot

	in.jumpTable[entity.OpLnot] = opLogicalNot
	in.jumpTable[entity.OpLand] = opLogicalAnd
	in.jumpTable[entity.OpLor] = opLogicalOr
	in.jumpTable[entity.OpLEqual] = opLogicalEqual
	in.jumpTable[entity.OpLLess] = opLogicalLess
	in.jumpTable[entity.OpLGreater] = opLogicalGreater

	// Store-related opcodes
	in.jumpTable[entity.OpStore] = opStore
	in.jumpTable[entity.OpRefOf] = opRefOf
	in.jumpTable[entity.OpDerefOf] = opDerefOf
}

func opNoop(*execContext, entity.Entity) error { return nil }
