// Package interp implements the AML interpreter used by the method
// controller. Method bodies are entity trees; the first pass creates the
// named objects a body declares and the second pass executes its terms.
package interp

import (
	"context"
	"errors"
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/method"
	"gopheros/device/acpi/aml/object"
	"gopheros/device/acpi/hw"
	"gopheros/device/acpi/region"
	"strings"

	"go.uber.org/zap"
)

var (
	errArgIndexOutOfBounds = errors.New("interp: arg index out of bounds")
	errWhileBodyNotScoped  = errors.New("interp: While body must be a scoped entity")
	errIfBodyNotScoped     = errors.New("interp: If body must be a scoped entity")
	errElseBodyNotScoped   = errors.New("interp: Else body must be a scoped entity")
	errUndefinedName       = errors.New("interp: reference to undefined name")
	errNotImplemented      = errors.New("interp: opcode not implemented")
	errFieldTooWide        = errors.New("interp: field units wider than 64 bits are not supported")
)

// ctrlFlowType describes the different ways that the control flow can be
// altered while executing a term list.
type ctrlFlowType uint8

// The list of supported control flows.
const (
	ctrlFlowTypeNextOpcode ctrlFlowType = iota
	ctrlFlowTypeBreak
	ctrlFlowTypeContinue
	ctrlFlowTypeFnReturn
)

// execContext holds the interpreter state while a method body executes.
type execContext struct {
	ctx    context.Context
	frame  *method.Frame
	interp *Interpreter

	ctrlFlow ctrlFlowType

	// retVal holds the value produced by the last evaluated opcode. The
	// context owns the reference.
	retVal *object.Object
}

// setRetVal replaces the current intermediate value.
func (ec *execContext) setRetVal(obj *object.Object) {
	ec.retVal.Release()
	ec.retVal = obj
}

// takeRetVal hands the intermediate value to the caller.
func (ec *execContext) takeRetVal() *object.Object {
	obj := ec.retVal
	ec.retVal = nil
	return obj
}

// TraceEntry identifies the term that was executing in one method of the
// call chain when an error occurred.
type TraceEntry struct {
	Method string
	IP     int
	Instr  string
}

// Error describes errors that occur while executing AML code. Err is the
// underlying status.
type Error struct {
	Err error

	// Trace holds one entry per method invocation up to the point where
	// the error occurred, innermost first.
	Trace []TraceEntry
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Err.Error() }

// Unwrap returns the underlying status.
func (e *Error) Unwrap() error { return e.Err }

// StackTrace returns a formatted stack trace for this error.
func (e *Error) StackTrace() string {
	if len(e.Trace) == 0 {
		return "No stack trace available"
	}

	var buf strings.Builder
	buf.WriteString("Stack trace:\n")

	// The outermost invocation is printed first.
	for index, offset := 0, len(e.Trace)-1; index < len(e.Trace); index, offset = index+1, offset-1 {
		entry := e.Trace[offset]
		fmt.Fprintf(&buf, "[%3x] [%s():0x%x] opcode: %s\n", index, entry.Method, entry.IP, entry.Instr)
	}

	return buf.String()
}

// opHandler is a function that implements an AML opcode.
type opHandler func(*execContext, entity.Entity) error

// Interpreter executes method bodies on behalf of a method.Controller.
type Interpreter struct {
	ns      *entity.Namespace
	ctrl    *method.Controller
	regions *region.Dispatcher
	glock   hw.GlobalLock
	log     *zap.Logger

	notifyFn func(node entity.Entity, value uint64)

	jumpTable [entity.OpMethodInvocation + 1]opHandler
}

// New creates an interpreter and installs it on ctrl. Field units are
// accessed through regions; fields declared with the Lock rule acquire glock
// around each access.
func New(ns *entity.Namespace, ctrl *method.Controller, regions *region.Dispatcher, glock hw.GlobalLock, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}

	in := &Interpreter{
		ns:      ns,
		ctrl:    ctrl,
		regions: regions,
		glock:   glock,
		log:     logger.Named("interp"),
	}
	in.populateJumpTable()
	ctrl.SetInterpreter(in)
	return in
}

// SetNotifyHandler installs a function that receives Notify operations. The
// handler runs with the execution lock released.
func (in *Interpreter) SetNotifyHandler(fn func(node entity.Entity, value uint64)) {
	in.notifyFn = fn
}

// ParseAML creates the named objects declared by the body of the method
// executed by f. The objects are placed below the method node and tagged
// with the method owner id. Objects that already exist for the current
// owner are reused.
func (in *Interpreter) ParseAML(ctx context.Context, f *method.Frame) error {
	node, owner := f.Node(), f.Method.Owner()

	in.ns.Lock()
	if hasOwnedChild(node, owner) {
		in.ns.Unlock()
		return nil
	}

	var (
		regions []*entity.Region
		fields  = make(map[*entity.Field]*entity.Field)
		err     error
	)
	for _, term := range node.Body {
		if err = in.declare(node, term, owner, fields, &regions); err != nil {
			break
		}
	}
	in.ns.Unlock()

	if err != nil {
		return &Error{Err: err, Trace: []TraceEntry{{Method: entity.PathOf(node), Instr: "load"}}}
	}

	for _, reg := range regions {
		if _, err = in.regions.InitializeRegion(ctx, reg, false); err != nil {
			in.log.Warn("region initialization failed", zap.String("region", entity.PathOf(reg)), zap.Error(err))
		}
	}
	return nil
}

func hasOwnedChild(node entity.Container, owner entity.OwnerID) bool {
	for _, child := range node.Children() {
		if child.Owner() == owner {
			return true
		}
	}
	return false
}

// declare clones a declaration term below parent. It expects the namespace
// lock to be held.
func (in *Interpreter) declare(parent entity.Container, term entity.Entity, owner entity.OwnerID, fields map[*entity.Field]*entity.Field, regions *[]*entity.Region) error {
	var clone entity.Entity

	switch decl := term.(type) {
	case *entity.Const:
		if decl.Opcode() != entity.OpName {
			return nil
		}
		clone = entity.NewName(owner, decl.Name(), decl.Value)
	case *entity.Region:
		reg := entity.NewRegion(owner)
		reg.SetArg(0, decl.Name())
		reg.Space, reg.Offset, reg.Len = decl.Space, decl.Offset, decl.Len
		*regions = append(*regions, reg)
		clone = reg
	case *entity.Field:
		field := entity.NewField(owner)
		field.RegionName = decl.RegionName
		field.AccessType, field.LockRule, field.UpdateRule = decl.AccessType, decl.LockRule, decl.UpdateRule
		fields[decl] = field
		clone = field
	case *entity.FieldUnit:
		unit := entity.NewFieldUnit(owner, decl.Name())
		unit.Field = fields[decl.Field]
		unit.AccessType, unit.BitOffset, unit.BitWidth = decl.AccessType, decl.BitOffset, decl.BitWidth
		clone = unit
	case *entity.Device:
		dev := entity.NewDevice(owner, decl.Name())
		if err := in.ns.Insert(parent, dev); err != nil {
			return fmt.Errorf("%s: %w", decl.Name(), err)
		}
		return in.declareAll(dev, decl.Children(), owner, fields, regions)
	case *entity.Scope:
		if decl.Opcode() != entity.OpScope || decl.Name() == "" {
			return nil
		}
		scope := entity.NewScope(entity.OpScope, owner, decl.Name())
		if err := in.ns.Insert(parent, scope); err != nil {
			return fmt.Errorf("%s: %w", decl.Name(), err)
		}
		return in.declareAll(scope, decl.Children(), owner, fields, regions)
	default:
		return nil
	}

	if err := in.ns.Insert(parent, clone); err != nil {
		return fmt.Errorf("%s: %w", clone.Name(), err)
	}
	return nil
}

func (in *Interpreter) declareAll(parent entity.Container, terms []entity.Entity, owner entity.OwnerID, fields map[*entity.Field]*entity.Field, regions *[]*entity.Region) error {
	for _, term := range terms {
		if err := in.declare(parent, term, owner, fields, regions); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteAML runs the body of the method executed by f. A value returned by
// the method is stored in the frame result.
func (in *Interpreter) ExecuteAML(ctx context.Context, f *method.Frame) error {
	ec := &execContext{ctx: ctx, frame: f, interp: in}
	defer ec.setRetVal(nil)

	err := in.execBlock(ec, f.Node().Body)
	if err == nil {
		return nil
	}

	// Populate the method name for the trace entries captured in this
	// invocation.
	path := entity.PathOf(f.Node())
	amlErr := err.(*Error)
	for index := len(amlErr.Trace) - 1; index >= 0 && amlErr.Trace[index].Method == ""; index-- {
		amlErr.Trace[index].Method = path
	}
	return amlErr
}

// execBlock executes a term list until all terms have run or a term changes
// the control flow. Errors are returned as *Error with a trace entry for the
// failing term.
func (in *Interpreter) execBlock(ec *execContext, terms []entity.Entity) error {
	f := ec.frame

	for index := 0; index < len(terms) && ec.ctrlFlow == ctrlFlowTypeNextOpcode; index++ {
		// Nested blocks advance f.IP; keep the IP of this term for the
		// trace.
		f.IP++
		lastIP := f.IP

		term := terms[index]
		err := in.exec(ec, term)
		ec.setRetVal(nil)
		if err != nil {
			var amlErr *Error
			if !errors.As(err, &amlErr) {
				amlErr = &Error{Err: err}
			}
			amlErr.Trace = append(amlErr.Trace, TraceEntry{IP: lastIP, Instr: term.Opcode().String()})
			return amlErr
		}
	}

	return nil
}

// exec dispatches a single term to its opcode handler.
func (in *Interpreter) exec(ec *execContext, ent entity.Entity) error {
	op := ent.Opcode()
	if int(op) >= len(in.jumpTable) || in.jumpTable[op] == nil {
		return fmt.Errorf("%w: %s", errNotImplemented, op)
	}
	return in.jumpTable[op](ec, ent)
}
