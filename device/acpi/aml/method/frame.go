package method

import (
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/object"
)

// Pass identifies the parse pass a frame executes.
type Pass uint8

// The supported passes. PassLoad only creates the named objects declared by
// the method body; PassExecute runs the body.
const (
	PassLoad Pass = iota
	PassExecute
)

// FrameState describes the lifecycle of an invocation frame.
type FrameState uint8

// The list of frame states.
const (
	FrameLoaded FrameState = iota
	FrameRunning
	FrameNested
	FrameTerminated
)

// String implements fmt.Stringer for FrameState.
func (s FrameState) String() string {
	switch s {
	case FrameLoaded:
		return "loaded"
	case FrameRunning:
		return "running"
	case FrameNested:
		return "nested"
	case FrameTerminated:
		return "terminated"
	}
	return "unknown"
}

// Frame holds the state of a single invocation of a method.
type Frame struct {
	// Method is the descriptor of the executing method.
	Method *Object

	// Slots holds the invocation args and locals.
	Slots SlotStore

	Pass Pass

	// IP is the index of the body term being executed.
	IP int

	// ResultRequired is set by the interpreter before a nested call when
	// the value returned by the callee will be consumed.
	ResultRequired bool

	// Caller is the frame that invoked this one or nil for invocations
	// started outside AML.
	Caller *Frame

	// Depth is the nesting depth of this frame; top-level invocations
	// have depth 0.
	Depth int

	state      FrameState
	counted    bool
	operands   []*object.Object
	result     *object.Object
	callResult *object.Object
	ctrl       *Controller
}

// Node returns the namespace node of the executing method.
func (f *Frame) Node() *entity.Method { return f.Method.Node }

// State returns the current frame state.
func (f *Frame) State() FrameState { return f.state }

// Controller returns the controller that created this frame.
func (f *Frame) Controller() *Controller { return f.ctrl }

// Push places obj on the operand stack. The stack takes over the caller's
// reference.
func (f *Frame) Push(obj *object.Object) {
	f.operands = append(f.operands, obj)
}

// Pop removes the top operand and hands its reference to the caller. It
// returns nil if the stack is empty.
func (f *Frame) Pop() *object.Object {
	if len(f.operands) == 0 {
		return nil
	}

	top := f.operands[len(f.operands)-1]
	f.operands = f.operands[:len(f.operands)-1]
	return top
}

// OperandDepth returns the number of operands on the stack.
func (f *Frame) OperandDepth() int { return len(f.operands) }

// Operands returns the top n operands in push order without removing them.
func (f *Frame) Operands(n int) []*object.Object {
	if n > len(f.operands) {
		n = len(f.operands)
	}
	return f.operands[len(f.operands)-n:]
}

// DropOperands removes and releases the top n operands.
func (f *Frame) DropOperands(n int) {
	for ; n > 0 && len(f.operands) > 0; n-- {
		f.Pop().Release()
	}
}

// SetResult stores the value returned by this invocation. The frame takes
// over the caller's reference.
func (f *Frame) SetResult(obj *object.Object) {
	f.result.Release()
	f.result = obj
}

// Result returns the value returned by this invocation without transferring
// ownership.
func (f *Frame) Result() *object.Object { return f.result }

// TakeResult removes the returned value from the frame and hands its
// reference to the caller.
func (f *Frame) TakeResult() *object.Object {
	res := f.result
	f.result = nil
	return res
}

// TakeCallResult removes the value returned by the last nested call and
// hands its reference to the caller.
func (f *Frame) TakeCallResult() *object.Object {
	res := f.callResult
	f.callResult = nil
	return res
}

// release drops every reference held by the frame.
func (f *Frame) release() {
	f.Slots.ReleaseAll()
	f.DropOperands(len(f.operands))
	f.result.Release()
	f.result = nil
	f.callResult.Release()
	f.callResult = nil
}
