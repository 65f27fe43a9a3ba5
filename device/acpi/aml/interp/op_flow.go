package interp

import (
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/method"
)

// Args: val?
// Set val as the method return value and change the ctrlFlow type to
// ctrlFlowTypeFnReturn.
func opReturn(ec *execContext, ent entity.Entity) error {
	args := ent.Args()
	if len(args) > 1 {
		return errArgIndexOutOfBounds
	}

	if len(args) == 1 {
		val, err := ec.load(args[0])
		if err != nil {
			return err
		}
		ec.frame.SetResult(val)
	}

	ec.ctrlFlow = ctrlFlowTypeFnReturn
	return nil
}

func opBreak(ec *execContext, _ entity.Entity) error {
	ec.ctrlFlow = ctrlFlowTypeBreak
	return nil
}

func opContinue(ec *execContext, _ entity.Entity) error {
	ec.ctrlFlow = ctrlFlowTypeContinue
	return nil
}

// blockOf returns the term list of a scoped If/While body.
func blockOf(arg interface{}) ([]entity.Entity, bool) {
	scope, ok := arg.(entity.Container)
	if !ok {
		return nil, false
	}
	return scope.Children(), true
}

// Args: Predicate {TermList}
// Execute the scoped termlist block until predicate evaluates to false or any
// of the instructions in the TermList changes the control flow to break or
// return.
func opWhile(ec *execContext, ent entity.Entity) error {
	args := ent.Args()
	if len(args) != 2 {
		return errArgIndexOutOfBounds
	}

	body, ok := blockOf(args[1])
	if !ok {
		return errWhileBodyNotScoped
	}

	for {
		pred, err := ec.loadInt(args[0])
		if err != nil {
			return err
		}
		if pred == 0 {
			return nil
		}

		if err = ec.interp.execBlock(ec, body); err != nil {
			return err
		}

		switch ec.ctrlFlow {
		case ctrlFlowTypeFnReturn:
			// Preserve return flow type so we exit the innermost function
			return nil
		case ctrlFlowTypeBreak:
			ec.ctrlFlow = ctrlFlowTypeNextOpcode
			return nil
		}

		// Restart while block but reset to sequential execution so the
		// predicate and while body can be properly evaluated
		ec.ctrlFlow = ctrlFlowTypeNextOpcode
	}
}

// Args: Predicate {Pred == true TermList} {Pred == false TermList}?
//
// Execute the scoped term list if predicate evaluates to true; If predicate
// evaluates to false and the optional else block is defined then it will be
// executed instead.
func opIf(ec *execContext, ent entity.Entity) error {
	args := ent.Args()
	if len(args) < 2 || len(args) > 3 {
		return errArgIndexOutOfBounds
	}

	ifBlock, ok := blockOf(args[1])
	if !ok {
		return errIfBodyNotScoped
	}

	var elseBlock []entity.Entity
	if len(args) == 3 {
		if elseBlock, ok = blockOf(args[2]); !ok {
			return errElseBodyNotScoped
		}
	}

	pred, err := ec.loadInt(args[0])
	if err != nil {
		return err
	}

	if pred != 0 {
		return ec.interp.execBlock(ec, ifBlock)
	}
	return ec.interp.execBlock(ec, elseBlock)
}

// opMethodInvocation evaluates the invocation args, pushes them on the
// operand stack and hands the call to the method controller. The value
// returned by the method becomes the intermediate value.
func opMethodInvocation(ec *execContext, ent entity.Entity) error {
	inv := ent.(*entity.Invocation)

	node, err := ec.resolve(inv.MethodName)
	if err != nil {
		return err
	}

	m, isMethod := node.(*entity.Method)
	if !isMethod {
		obj, err := ec.interp.LoadNode(ec.ctx, node)
		if err != nil {
			return err
		}
		ec.setRetVal(obj)
		return nil
	}

	return ec.invoke(m, ent.Args())
}

// invoke calls m with args. Extra operands that the callee did not consume
// are dropped once the call returns.
func (ec *execContext) invoke(m *entity.Method, args []interface{}) error {
	f := ec.frame
	depth := f.OperandDepth()
	defer func() { f.DropOperands(f.OperandDepth() - depth) }()

	for _, arg := range args {
		obj, err := ec.load(arg)
		if err != nil {
			return err
		}
		f.Push(obj)
	}

	f.ResultRequired = true
	err := f.Controller().Call(ec.ctx, f, m, f.OperandDepth()-depth)
	f.ResultRequired = false
	if err != nil {
		return err
	}

	ec.setRetVal(f.TakeCallResult())
	return nil
}

// Args: target, value
// Deliver a notification to the installed notify handler.
func opNotify(ec *execContext, ent entity.Entity) error {
	args := ent.Args()
	if len(args) != 2 {
		return errArgIndexOutOfBounds
	}

	ref, ok := args[0].(*entity.Reference)
	if !ok {
		return method.ErrBadOperandType
	}
	node, err := ec.resolve(ref.TargetName)
	if err != nil {
		return err
	}

	value, err := ec.loadInt(args[1])
	if err != nil {
		return err
	}

	if ec.interp.notifyFn == nil {
		return nil
	}
	return method.SuspendWhile(ec.ctx, func() error {
		ec.interp.notifyFn(node, value)
		return nil
	})
}
