package region

import (
	"context"
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/method"
	"gopheros/device/acpi/aml/object"
	"sync"

	"go.uber.org/zap"
)

// regMethodName is the name of the method notified when the handler for a
// region becomes available or unavailable.
const regMethodName = "_REG"

// Evaluator evaluates namespace methods. It is satisfied by
// *method.Controller.
type Evaluator interface {
	Evaluate(ctx context.Context, node entity.Entity, args ...*object.Object) (*object.Object, error)
}

type bindingKey struct {
	node  entity.Entity
	space SpaceID
}

// Dispatcher routes region accesses to address space handlers.
type Dispatcher struct {
	ns   *entity.Namespace
	eval Evaluator
	log  *zap.Logger

	// mu protects the binding table, the binding region lists and the
	// handler state of every region object.
	mu       sync.Mutex
	bindings map[bindingKey]*Binding
}

// NewDispatcher creates a dispatcher for the regions in ns. Regions deleted
// from ns are detached from their handler automatically.
func NewDispatcher(ns *entity.Namespace, eval Evaluator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		ns:       ns,
		eval:     eval,
		log:      logger.Named("region"),
		bindings: make(map[bindingKey]*Binding),
	}
	ns.OnDelete(d.handleDelete)
	return d
}

// handleDelete is invoked with the namespace lock held for each entity
// removed from the namespace.
func (d *Dispatcher) handleDelete(ctx context.Context, ent entity.Entity) {
	if obj := ObjectOf(ent); obj != nil {
		d.Detach(ctx, obj, true)
	}
}

// Status returns the flags of a region object and the binding it is
// attached to.
func (d *Dispatcher) Status(obj *Object) (Flags, *Binding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return obj.flags &^ flagLinked, obj.handler
}

// Regions returns the regions attached to a binding, most recently attached
// first.
func (d *Dispatcher) Regions(b *Binding) []*Object {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Object
	for obj := b.regions; obj != nil; obj = obj.next {
		out = append(out, obj)
	}
	return out
}

// Attach links a region to the front of the binding's region list, marks
// it accessible and runs the _REG method of the region's scope with the
// connect argument set. If nsLocked is set, the caller holds the namespace
// lock; it is released while _REG runs and re-acquired afterwards.
//
// A failing _REG is reported to the caller but the region stays attached.
func (d *Dispatcher) Attach(ctx context.Context, b *Binding, obj *Object, nsLocked bool) error {
	if b == nil || obj == nil {
		return ErrNoHandler
	}
	if b.Space != obj.Space {
		return ErrBadSpace
	}

	d.mu.Lock()
	switch {
	case obj.handler == b:
		d.mu.Unlock()
		return nil
	case obj.handler != nil:
		d.mu.Unlock()
		return ErrHandlerExists
	}
	obj.next = b.regions
	b.regions = obj
	obj.handler = b
	obj.flags |= flagLinked | FlagAccessible
	d.mu.Unlock()

	if err := d.runReg(ctx, obj, true, nsLocked); err != nil {
		return fmt.Errorf("%s: %s: %w", entity.PathOf(obj.Node), regMethodName, err)
	}
	return nil
}

// Detach unlinks a region from its binding, runs _REG with the connect
// argument cleared and deactivates the region. Errors while running _REG
// or deactivating are logged and ignored. The region stays valid but is no
// longer accessible. Detaching an unbound region is a no-op.
func (d *Dispatcher) Detach(ctx context.Context, obj *Object, nsLocked bool) {
	if obj == nil {
		return
	}

	d.mu.Lock()
	b := obj.handler
	if b == nil || obj.flags&flagLinked == 0 {
		d.mu.Unlock()
		return
	}

	for link := &b.regions; *link != nil; link = &(*link).next {
		if *link == obj {
			*link = obj.next
			break
		}
	}
	obj.next = nil
	obj.flags &^= flagLinked
	activated := obj.flags&FlagSetupComplete != 0
	regionCtx := obj.context
	d.mu.Unlock()

	path := entity.PathOf(obj.Node)
	if err := d.runReg(ctx, obj, false, nsLocked); err != nil {
		d.log.Warn("region disconnect notification failed", zap.String("region", path), zap.Stringer("space", obj.Space), zap.Error(err))
	}

	if activated && b.Setup != nil {
		if _, err := b.Setup(obj, SetupDeactivate, regionCtxOr(b.Context, regionCtx)); err != nil {
			d.log.Warn("region deactivation failed", zap.String("region", path), zap.Stringer("space", obj.Space), zap.Error(err))
		}
	}

	d.mu.Lock()
	obj.flags &^= FlagAccessible | FlagSetupComplete
	obj.context = nil
	obj.handler = nil
	d.mu.Unlock()
}

func regionCtxOr(handlerCtx, regionCtx interface{}) interface{} {
	if regionCtx != nil {
		return regionCtx
	}
	return handlerCtx
}

// runReg evaluates the _REG method declared next to the region, if any.
func (d *Dispatcher) runReg(ctx context.Context, obj *Object, connect bool, nsLocked bool) error {
	if d.eval == nil {
		return nil
	}

	if !nsLocked {
		d.ns.Lock()
	}
	var reg entity.Entity
	if parent := obj.Node.Parent(); parent != nil {
		if m, ok := d.ns.Child(parent, regMethodName).(*entity.Method); ok {
			reg = m
		}
	}
	d.ns.Unlock()
	if nsLocked {
		defer d.ns.Lock()
	}

	if reg == nil {
		return nil
	}

	var connectArg uint64
	if connect {
		connectArg = 1
	}
	space, conn := object.NewInteger(uint64(obj.Space)), object.NewInteger(connectArg)
	defer space.Release()
	defer conn.Release()

	res, err := d.eval.Evaluate(ctx, reg, space, conn)
	res.Release()
	return err
}

// Dispatch performs a read or write of bitWidth bits at offset within the
// region. The region is activated on first use. The execution lock carried
// by ctx is released while the handler activates the region and, unless
// the handler is a built-in default handler, while the handler runs.
func (d *Dispatcher) Dispatch(ctx context.Context, obj *Object, fn Function, offset uint64, bitWidth uint8, value *uint64) error {
	if obj == nil {
		return ErrNoHandler
	}

	d.mu.Lock()
	b, flags, regionCtx := obj.handler, obj.flags, obj.context
	d.mu.Unlock()

	switch {
	case b == nil:
		return fmt.Errorf("%s: %w", entity.PathOf(obj.Node), ErrNoHandler)
	case flags&FlagAccessible == 0:
		return fmt.Errorf("%s: %w", entity.PathOf(obj.Node), ErrRegionInaccessible)
	case offset+uint64(bitWidth+7)/8 > obj.Length:
		return fmt.Errorf("%s: offset %#x: %w", entity.PathOf(obj.Node), offset, ErrOutOfRange)
	}

	if flags&FlagSetupComplete == 0 {
		err := method.SuspendWhile(ctx, func() error {
			if b.Setup == nil {
				return nil
			}

			var err error
			regionCtx, err = b.Setup(obj, SetupActivate, b.Context)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w: %v", entity.PathOf(obj.Node), ErrSetupFailed, err)
		}

		d.mu.Lock()
		if obj.handler == b {
			obj.context = regionCtx
			obj.flags |= FlagSetupComplete
		}
		d.mu.Unlock()
	}

	call := func() error {
		return b.Handler(fn, obj.Address+offset, bitWidth, value, b.Context, regionCtx)
	}
	if b.isDefault {
		return call()
	}
	return method.SuspendWhile(ctx, call)
}

// InstallAddressSpaceHandler installs a handler for space on node and
// attaches every region of that space below node for which the new handler
// is the nearest one.
func (d *Dispatcher) InstallAddressSpaceHandler(ctx context.Context, node entity.Entity, space SpaceID, handler Handler, setup SetupFunc, handlerCtx interface{}) (*Binding, error) {
	b := &Binding{Space: space, Handler: handler, Setup: setup, Context: handlerCtx, Node: node}
	if err := d.install(b); err != nil {
		return nil, err
	}

	d.rebind(ctx, node, space)
	d.log.Debug("installed address space handler", zap.String("node", entity.PathOf(node)), zap.Stringer("space", space))
	return b, nil
}

func (d *Dispatcher) install(b *Binding) error {
	if b.Node == nil || b.Handler == nil {
		return ErrNoHandler
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := bindingKey{b.Node, b.Space}
	if _, exists := d.bindings[key]; exists {
		return ErrHandlerExists
	}
	d.bindings[key] = b
	return nil
}

// RemoveAddressSpaceHandler removes the handler for space installed on node.
// The regions it served are detached and bound to the next nearest handler,
// if any.
func (d *Dispatcher) RemoveAddressSpaceHandler(ctx context.Context, node entity.Entity, space SpaceID) error {
	d.mu.Lock()
	key := bindingKey{node, space}
	b, exists := d.bindings[key]
	if !exists {
		d.mu.Unlock()
		return ErrNoHandler
	}
	delete(d.bindings, key)
	d.mu.Unlock()

	for _, obj := range d.Regions(b) {
		d.Detach(ctx, obj, false)
	}

	d.rebind(ctx, node, space)
	return nil
}

// rebind attaches each region of space below node to its nearest handler.
func (d *Dispatcher) rebind(ctx context.Context, node entity.Entity, space SpaceID) {
	type move struct {
		obj    *Object
		target *Binding
	}
	var moves []move

	d.ns.Lock()
	d.ns.Walk(node, entity.TypeRegion, func(_ int, ent entity.Entity) bool {
		regNode, ok := ent.(*entity.Region)
		if !ok || SpaceID(regNode.Space) != space {
			return true
		}

		obj := ObjectOf(regNode)
		if obj == nil {
			var err error
			if obj, err = NewObject(regNode); err != nil {
				return true
			}
			regNode.Attach(obj)
		}

		d.mu.Lock()
		target := d.nearestLocked(regNode, space)
		current := obj.handler
		d.mu.Unlock()

		if target != nil && target != current {
			moves = append(moves, move{obj, target})
		}
		return true
	})
	d.ns.Unlock()

	for _, m := range moves {
		d.Detach(ctx, m.obj, false)
		if err := d.Attach(ctx, m.target, m.obj, false); err != nil {
			d.log.Warn("region attach failed", zap.String("region", entity.PathOf(m.obj.Node)), zap.Error(err))
		}
	}
}

// nearestLocked returns the binding for space installed on the closest
// ancestor of node. It expects d.mu and the namespace lock to be held.
func (d *Dispatcher) nearestLocked(node entity.Entity, space SpaceID) *Binding {
	for cur := node.Parent(); cur != nil; cur = cur.Parent() {
		if b, ok := d.bindings[bindingKey{cur, space}]; ok {
			return b
		}
	}
	return nil
}

// InitializeRegion creates the runtime state of a region node and attaches
// it to the nearest handler for its space. A region without a handler is
// left unbound; accesses to it fail with ErrNoHandler. If nsLocked is set
// the caller holds the namespace lock.
func (d *Dispatcher) InitializeRegion(ctx context.Context, node *entity.Region, nsLocked bool) (*Object, error) {
	obj := ObjectOf(node)
	if obj == nil {
		var err error
		if obj, err = NewObject(node); err != nil {
			return nil, fmt.Errorf("%s: %w", entity.PathOf(node), err)
		}
		node.Attach(obj)
	}

	if !nsLocked {
		d.ns.Lock()
	}
	d.mu.Lock()
	b := d.nearestLocked(node, obj.Space)
	d.mu.Unlock()
	if !nsLocked {
		d.ns.Unlock()
	}

	if b == nil {
		return obj, nil
	}
	return obj, d.Attach(ctx, b, obj, nsLocked)
}
