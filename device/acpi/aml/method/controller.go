package method

import (
	"context"
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/object"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxCallDepth is the nesting limit used when Config.MaxCallDepth is
// not set.
const DefaultMaxCallDepth = 256

// Interpreter runs the term list of a method on behalf of the controller.
type Interpreter interface {
	NodeStorer

	// ParseAML creates the named objects declared by the method body of a
	// PassLoad frame.
	ParseAML(ctx context.Context, f *Frame) error

	// ExecuteAML runs the method body of a PassExecute frame. The value
	// returned by the method is stored with f.SetResult.
	ExecuteAML(ctx context.Context, f *Frame) error

	// LoadNode returns the current value of a non-method node.
	LoadNode(ctx context.Context, node entity.Entity) (*object.Object, error)
}

// Config controls the waits and limits applied by the controller.
type Config struct {
	// MethodWait bounds the wait on a method concurrency semaphore. Zero
	// waits until the context is done.
	MethodWait time.Duration

	// ExecWait bounds the wait on the execution lock. Zero waits until the
	// context is done.
	ExecWait time.Duration

	// MaxCallDepth limits the nesting of method invocations.
	MaxCallDepth int
}

// Controller drives method invocations: it loads method bodies, begins and
// terminates invocations and runs nested calls.
type Controller struct {
	ns     *entity.Namespace
	interp Interpreter
	lock   *ExecLock
	cfg    Config
	log    *zap.Logger
}

// NewController creates a controller for methods in ns. The interpreter is
// installed separately with SetInterpreter.
func NewController(ns *entity.Namespace, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}

	return &Controller{
		ns:   ns,
		lock: NewExecLock(cfg.ExecWait),
		cfg:  cfg,
		log:  logger.Named("method"),
	}
}

// SetInterpreter installs the interpreter used to run method bodies.
func (c *Controller) SetInterpreter(interp Interpreter) { c.interp = interp }

// ExecLock returns the engine-wide execution lock.
func (c *Controller) ExecLock() *ExecLock { return c.lock }

// Namespace returns the namespace the controller operates on.
func (c *Controller) Namespace() *entity.Namespace { return c.ns }

// Attach creates the runtime descriptor for a method node unless one is
// already attached.
func (c *Controller) Attach(node *entity.Method) *Object {
	if obj, ok := node.Attachment().(*Object); ok {
		return obj
	}

	obj := newObject(node)
	node.Attach(obj)
	return obj
}

// Populate attaches descriptors to every method in the namespace and
// returns the number of newly attached descriptors.
func (c *Controller) Populate() int {
	c.ns.Lock()
	defer c.ns.Unlock()

	var count int
	c.ns.Walk(nil, entity.TypeMethod, func(_ int, ent entity.Entity) bool {
		if m, ok := ent.(*entity.Method); ok && m.Attachment() == nil {
			c.Attach(m)
			count++
		}
		return true
	})
	return count
}

// Unload detaches the descriptor of a method that has no live invocations
// and deletes the objects created by it.
func (c *Controller) Unload(ctx context.Context, node entity.Entity) error {
	obj, err := descriptorOf(node)
	if err != nil {
		return err
	}

	obj.mu.Lock()
	if obj.threadCount != 0 {
		obj.mu.Unlock()
		return ErrMethodBusy
	}
	owner := obj.owner
	obj.owner = entity.OwnerTable
	obj.mu.Unlock()

	c.sweep(ctx, obj, owner)
	node.Attach(nil)
	return nil
}

// Load resolves the descriptor of a method node and runs the first pass
// over its body so the named objects it declares exist before the method is
// executed.
func (c *Controller) Load(ctx context.Context, node entity.Entity) (*Object, error) {
	obj, err := descriptorOf(node)
	if err != nil {
		return nil, err
	}

	_ = obj.semaphore()
	if err = c.ensureOwner(obj); err != nil {
		return nil, err
	}

	if err = c.parse(ctx, obj, nil); err != nil {
		return nil, err
	}
	return obj, nil
}

// Begin registers a new invocation of a method. If the method has a
// concurrency limit, Begin waits for a free unit unless the invocation is a
// recursive call from a method that has already reached its limit, in which
// case ErrMethodLimitExceeded is returned. While waiting, the execution lock
// carried by ctx is released.
func (c *Controller) Begin(ctx context.Context, node entity.Entity, caller *Frame) (*Object, error) {
	obj, err := descriptorOf(node)
	if err != nil {
		return nil, err
	}

	sem := obj.semaphore()
	if sem != nil {
		if recursing(obj, caller) && uint32(obj.ThreadCount()) >= obj.limit {
			return nil, ErrMethodLimitExceeded
		}

		if !sem.TryAcquire(1) {
			var acquired bool
			err = SuspendWhile(ctx, func() error {
				if err := acquireWithin(ctx, sem, c.cfg.MethodWait); err != nil {
					return err
				}
				acquired = true
				return nil
			})
			if err != nil {
				// The unit may have been acquired before the execution
				// lock could be resumed.
				if acquired {
					sem.Release(1)
				}
				return nil, fmt.Errorf("%s: %w", entity.PathOf(node), err)
			}
		}
	}

	if err = c.ensureOwner(obj); err != nil {
		if sem != nil {
			sem.Release(1)
		}
		return nil, err
	}

	obj.mu.Lock()
	obj.threadCount++
	count := obj.threadCount
	obj.mu.Unlock()

	c.log.Debug("begin method", zap.String("method", entity.PathOf(node)), zap.Int("thread_count", count))
	return obj, nil
}

// recursing returns true if obj is already executing in the caller chain.
func recursing(obj *Object, caller *Frame) bool {
	for f := caller; f != nil; f = f.Caller {
		if f.Method == obj {
			return true
		}
	}
	return false
}

func (c *Controller) ensureOwner(obj *Object) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if obj.owner != entity.OwnerTable {
		return nil
	}

	id, err := c.ns.Owners().Allocate()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoMemory, err)
	}
	obj.owner = id
	return nil
}

// newFrame allocates a frame for an invocation of obj.
func (c *Controller) newFrame(obj *Object, pass Pass, caller *Frame) *Frame {
	f := &Frame{
		Method: obj,
		Pass:   pass,
		Caller: caller,
		state:  FrameLoaded,
		ctrl:   c,
	}
	f.Slots.nodes = c.interp
	if caller != nil {
		f.Depth = caller.Depth + 1
	}
	return f
}

// parse runs the first pass over the body of obj on a private frame.
func (c *Controller) parse(ctx context.Context, obj *Object, caller *Frame) error {
	f := c.newFrame(obj, PassLoad, caller)
	defer c.Terminate(ctx, f)

	if err := c.interp.ParseAML(ctx, f); err != nil {
		return err
	}
	return nil
}

// Call invokes target on behalf of the frame cur. The arguments are the top
// nargs operands on the operand stack of cur in push order. The first
// ArgCount of them are copied into the callee frame and all nargs are
// removed from cur once the callee frame is built. Operands below them are
// never touched. The value returned by the callee is handed to cur via
// Restart.
func (c *Controller) Call(ctx context.Context, cur *Frame, target entity.Entity, nargs int) error {
	if cur == nil {
		return ErrNullObject
	}
	if cur.state == FrameTerminated {
		return ErrFrameTerminated
	}
	if nargs < 0 || nargs > cur.OperandDepth() {
		return fmt.Errorf("%s: %d arguments with %d operands: %w", entity.PathOf(target), nargs, cur.OperandDepth(), ErrInvalidIndex)
	}
	if cur.Depth+1 >= c.cfg.MaxCallDepth {
		return fmt.Errorf("%s: call depth %d: %w", entity.PathOf(target), cur.Depth+1, ErrMethodLimitExceeded)
	}

	obj, err := c.Begin(ctx, target, cur)
	if err != nil {
		return err
	}

	callee := c.newFrame(obj, PassExecute, cur)
	callee.counted = true

	if err = c.parse(ctx, obj, cur); err != nil {
		c.Terminate(ctx, callee)
		return err
	}

	args := cur.Operands(nargs)
	if len(args) > int(obj.ArgCount) {
		args = args[:obj.ArgCount]
	}
	callee.Slots.InitArgs(args, len(args))
	cur.DropOperands(nargs)

	cur.state, callee.state = FrameNested, FrameRunning
	err = c.interp.ExecuteAML(ctx, callee)
	cur.state = FrameRunning

	if err == nil {
		if restartErr := c.Restart(cur, callee.TakeResult()); restartErr != nil {
			c.log.Warn("discarding method result", zap.String("method", entity.PathOf(target)), zap.Error(restartErr))
		}
	}

	if termErr := c.Terminate(ctx, callee); err == nil {
		err = termErr
	}
	return err
}

// Restart hands the value returned by a nested call to the caller frame. The
// value is discarded unless the caller requires a result.
func (c *Controller) Restart(caller *Frame, returned *object.Object) error {
	if caller == nil {
		returned.Release()
		return ErrNullObject
	}
	if returned == nil {
		return nil
	}
	if returned.RefCount() <= 0 {
		return ErrNullObject
	}

	if !caller.ResultRequired {
		returned.Release()
		return nil
	}

	caller.callResult.Release()
	caller.callResult = returned
	return nil
}

// Terminate ends an invocation. It releases all references held by the
// frame, signals the concurrency semaphore and decrements the live
// invocation count. When the count reaches zero, the objects created by the
// method are deleted. Terminating a frame twice is a no-op.
func (c *Controller) Terminate(ctx context.Context, f *Frame) error {
	if f == nil {
		return ErrNullObject
	}
	if f.state == FrameTerminated {
		return nil
	}

	f.release()
	f.state = FrameTerminated
	if !f.counted {
		return nil
	}

	obj := f.Method
	if sem := obj.semaphore(); sem != nil {
		sem.Release(1)
	}

	obj.mu.Lock()
	obj.threadCount--
	count, owner := obj.threadCount, obj.owner
	if count == 0 {
		obj.owner = entity.OwnerTable
	}
	obj.mu.Unlock()

	c.log.Debug("terminate method", zap.String("method", entity.PathOf(obj.Node)), zap.Int("thread_count", count))

	if count == 0 {
		c.sweep(ctx, obj, owner)
	}
	return nil
}

// sweep deletes the objects created by a method and releases its owner id.
func (c *Controller) sweep(ctx context.Context, obj *Object, owner entity.OwnerID) {
	c.ns.Lock()
	deleted := c.ns.DeleteSubtree(ctx, obj.Node)
	deleted += c.ns.DeleteByOwner(ctx, owner)
	c.ns.Unlock()

	c.ns.Owners().Release(owner)
	if deleted != 0 {
		c.log.Debug("deleted method objects", zap.String("method", entity.PathOf(obj.Node)), zap.Int("count", deleted))
	}
}

// Evaluate evaluates a namespace node. Methods are invoked with args and the
// returned value (or nil) is handed to the caller; other nodes return their
// current value. The execution lock is acquired unless ctx already carries
// an active guard.
func (c *Controller) Evaluate(ctx context.Context, node entity.Entity, args ...*object.Object) (*object.Object, error) {
	if node == nil {
		return nil, ErrNullEntry
	}

	if !GuardFrom(ctx).Active() {
		var (
			g   *Guard
			err error
		)
		if ctx, g, err = c.lock.Enter(ctx); err != nil {
			return nil, err
		}
		defer g.Exit()
	}

	if _, isMethod := node.(*entity.Method); !isMethod {
		return c.interp.LoadNode(ctx, node)
	}

	obj, err := c.Begin(ctx, node, nil)
	if err != nil {
		return nil, err
	}

	f := c.newFrame(obj, PassExecute, nil)
	f.counted = true

	if err = c.parse(ctx, obj, nil); err == nil {
		f.Slots.InitArgs(args, len(args))
		f.state = FrameRunning
		err = c.interp.ExecuteAML(ctx, f)
	}

	result := f.TakeResult()
	if termErr := c.Terminate(ctx, f); err == nil {
		err = termErr
	}

	if err != nil {
		result.Release()
		return nil, err
	}
	return result, nil
}
