package entity

// AMLOpcode describes an AML opcode. While AML supports 256 opcodes, some of
// them are specified using a combination of an extension prefix and a code. To
// map each opcode into a single unique value the engine uses an uint16
// representation of the opcode values.
type AMLOpcode uint16

const (
	// Regular opcode list
	OpZero         = AMLOpcode(0x00)
	OpOne          = AMLOpcode(0x01)
	OpName         = AMLOpcode(0x08)
	OpBytePrefix   = AMLOpcode(0x0a)
	OpWordPrefix   = AMLOpcode(0x0b)
	OpDwordPrefix  = AMLOpcode(0x0c)
	OpStringPrefix = AMLOpcode(0x0d)
	OpQwordPrefix  = AMLOpcode(0x0e)
	OpScope        = AMLOpcode(0x10)
	OpBuffer       = AMLOpcode(0x11)
	OpPackage      = AMLOpcode(0x12)
	OpMethod       = AMLOpcode(0x14)
	OpLocal0       = AMLOpcode(0x60)
	OpLocal1       = AMLOpcode(0x61)
	OpLocal2       = AMLOpcode(0x62)
	OpLocal3       = AMLOpcode(0x63)
	OpLocal4       = AMLOpcode(0x64)
	OpLocal5       = AMLOpcode(0x65)
	OpLocal6       = AMLOpcode(0x66)
	OpLocal7       = AMLOpcode(0x67)
	OpArg0         = AMLOpcode(0x68)
	OpArg1         = AMLOpcode(0x69)
	OpArg2         = AMLOpcode(0x6a)
	OpArg3         = AMLOpcode(0x6b)
	OpArg4         = AMLOpcode(0x6c)
	OpArg5         = AMLOpcode(0x6d)
	OpArg6         = AMLOpcode(0x6e)
	OpStore        = AMLOpcode(0x70)
	OpRefOf        = AMLOpcode(0x71)
	OpAdd          = AMLOpcode(0x72)
	OpSubtract     = AMLOpcode(0x74)
	OpIncrement    = AMLOpcode(0x75)
	OpDecrement    = AMLOpcode(0x76)
	OpShiftLeft    = AMLOpcode(0x79)
	OpShiftRight   = AMLOpcode(0x7a)
	OpAnd          = AMLOpcode(0x7b)
	OpOr           = AMLOpcode(0x7d)
	OpXor          = AMLOpcode(0x7f)
	OpNot          = AMLOpcode(0x80)
	OpDerefOf      = AMLOpcode(0x83)
	OpNotify       = AMLOpcode(0x86)
	OpLand         = AMLOpcode(0x90)
	OpLor          = AMLOpcode(0x91)
	OpLnot         = AMLOpcode(0x92)
	OpLEqual       = AMLOpcode(0x93)
	OpLGreater     = AMLOpcode(0x94)
	OpLLess        = AMLOpcode(0x95)
	OpContinue     = AMLOpcode(0x9f)
	OpIf           = AMLOpcode(0xa0)
	OpElse         = AMLOpcode(0xa1)
	OpWhile        = AMLOpcode(0xa2)
	OpNoop         = AMLOpcode(0xa3)
	OpReturn       = AMLOpcode(0xa4)
	OpBreak        = AMLOpcode(0xa5)
	OpOnes         = AMLOpcode(0xff)
	// Extended opcodes
	OpMutex    = AMLOpcode(0xff + 0x01)
	OpDebug    = AMLOpcode(0xff + 0x31)
	OpOpRegion = AMLOpcode(0xff + 0x80)
	OpField    = AMLOpcode(0xff + 0x81)
	OpDevice   = AMLOpcode(0xff + 0x82)

	// Internal opcodes which are not part of the AML spec. They are
	// assigned to entities that are synthesized from other declarations.
	OpFieldUnit        = AMLOpcode(0xff + 0xfd)
	OpMethodInvocation = AMLOpcode(0xff + 0xfe)
)

var opcodeNames = map[AMLOpcode]string{
	OpZero:             "Zero",
	OpOne:              "One",
	OpName:             "Name",
	OpBytePrefix:       "Byte",
	OpWordPrefix:       "Word",
	OpDwordPrefix:      "Dword",
	OpStringPrefix:     "String",
	OpQwordPrefix:      "Qword",
	OpScope:            "Scope",
	OpBuffer:           "Buffer",
	OpPackage:          "Package",
	OpMethod:           "Method",
	OpLocal0:           "Local0",
	OpLocal1:           "Local1",
	OpLocal2:           "Local2",
	OpLocal3:           "Local3",
	OpLocal4:           "Local4",
	OpLocal5:           "Local5",
	OpLocal6:           "Local6",
	OpLocal7:           "Local7",
	OpArg0:             "Arg0",
	OpArg1:             "Arg1",
	OpArg2:             "Arg2",
	OpArg3:             "Arg3",
	OpArg4:             "Arg4",
	OpArg5:             "Arg5",
	OpArg6:             "Arg6",
	OpStore:            "Store",
	OpRefOf:            "RefOf",
	OpAdd:              "Add",
	OpSubtract:         "Subtract",
	OpIncrement:        "Increment",
	OpDecrement:        "Decrement",
	OpShiftLeft:        "ShiftLeft",
	OpShiftRight:       "ShiftRight",
	OpAnd:              "And",
	OpOr:               "Or",
	OpXor:              "Xor",
	OpNot:              "Not",
	OpDerefOf:          "DerefOf",
	OpNotify:           "Notify",
	OpLand:             "LAnd",
	OpLor:              "LOr",
	OpLnot:             "LNot",
	OpLEqual:           "LEqual",
	OpLGreater:         "LGreater",
	OpLLess:            "LLess",
	OpContinue:         "Continue",
	OpIf:               "If",
	OpElse:             "Else",
	OpWhile:            "While",
	OpNoop:             "Noop",
	OpReturn:           "Return",
	OpBreak:            "Break",
	OpOnes:             "Ones",
	OpMutex:            "Mutex",
	OpDebug:            "Debug",
	OpOpRegion:         "OperationRegion",
	OpField:            "Field",
	OpDevice:           "Device",
	OpFieldUnit:        "FieldUnit",
	OpMethodInvocation: "MethodInvocation",
}

// String implements fmt.Stringer for AMLOpcode.
func (op AMLOpcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "unknown"
}

// OpIsLocalArg returns true if this opcode represents any of the supported local
// function args 0 to 7.
func OpIsLocalArg(op AMLOpcode) bool {
	return op >= OpLocal0 && op <= OpLocal7
}

// OpIsMethodArg returns true if this opcode represents any of the supported
// input function args 0 to 6.
func OpIsMethodArg(op AMLOpcode) bool {
	return op >= OpArg0 && op <= OpArg6
}

// OpIsArg returns true if this opcode is either a local or a method arg.
func OpIsArg(op AMLOpcode) bool {
	return OpIsLocalArg(op) || OpIsMethodArg(op)
}

// OpIsDeclaration returns true if the opcode creates a named object when a
// method body is loaded.
func OpIsDeclaration(op AMLOpcode) bool {
	switch op {
	case OpName, OpOpRegion, OpField, OpFieldUnit, OpDevice, OpScope:
		return true
	default:
		return false
	}
}
