// Package acpi ties the namespace, the method controller, the interpreter,
// the region dispatcher and the GPE subsystem together into an engine that
// a kernel drives through a small API.
package acpi

import (
	"context"
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/interp"
	"gopheros/device/acpi/aml/method"
	"gopheros/device/acpi/aml/object"
	"gopheros/device/acpi/gpe"
	"gopheros/device/acpi/hw"
	"gopheros/device/acpi/region"
	"gopheros/device/acpi/table"
	"gopheros/kernel"
	"gopheros/kernel/irq"
	"sync"

	"go.uber.org/zap"
)

var (
	errNoRegisters         = &kernel.Error{Module: "acpi", Message: "no register access method supplied"}
	errAlreadyInitialized  = &kernel.Error{Module: "acpi", Message: "engine already initialized"}
	errNotInitialized      = &kernel.Error{Module: "acpi", Message: "engine not initialized"}
	errNoSuchNode          = &kernel.Error{Module: "acpi", Message: "no such namespace node"}
	errNotContainer        = &kernel.Error{Module: "acpi", Message: "namespace node cannot hold children"}
	errNotifyHandlerExists = &kernel.Error{Module: "acpi", Message: "notify handler already installed"}
	errNoNotifyHandler     = &kernel.Error{Module: "acpi", Message: "no notify handler installed"}
)

// Hardware describes how the engine reaches the platform.
type Hardware struct {
	// Registers performs register accesses for the default region
	// handlers and the GPE registers.
	Registers hw.Registers

	// GlobalLock is acquired for fields that request it. If nil, a lock
	// that is never contended by firmware is used.
	GlobalLock hw.GlobalLock

	// Interrupts routes the SCI line to the GPE subsystem. If nil, the
	// engine creates its own controller.
	Interrupts *irq.Controller

	// Tables is used by DriverInit to locate the ACPI tables.
	Tables table.Resolver
}

// NotifyHandler receives Notify operations issued by AML code.
type NotifyHandler func(node entity.Entity, value uint64)

// Engine owns the state of the ACPI subsystem.
type Engine struct {
	cfg Config
	hw  Hardware
	log *zap.Logger

	ns      *entity.Namespace
	ctrl    *method.Controller
	regions *region.Dispatcher
	interp  *interp.Interpreter
	queue   *gpe.WorkQueue
	gpe     *gpe.Subsystem

	tableMap map[string]*table.SDTHeader
	sci      irq.Line

	notifyMu sync.RWMutex
	notify   map[entity.Entity]NotifyHandler

	mu          sync.Mutex
	initialized bool
	running     bool
	cancel      context.CancelFunc
}

// New creates an engine. The namespace starts out with the predefined
// scopes; nodes may be added before Init is called.
func New(cfg Config, hwDesc Hardware, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hwDesc.Registers == nil {
		return nil, errNoRegisters
	}
	if hwDesc.GlobalLock == nil {
		hwDesc.GlobalLock = hw.NewSoftGlobalLock()
	}
	if hwDesc.Interrupts == nil {
		hwDesc.Interrupts = irq.NewController()
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	level, _ := cfg.Level()
	logger = logger.WithOptions(zap.IncreaseLevel(level)).Named("acpi")

	e := &Engine{
		cfg:    cfg,
		hw:     hwDesc,
		log:    logger,
		ns:     entity.NewNamespace(cfg.LookupCacheSize, cfg.MaxOwners),
		notify: make(map[entity.Entity]NotifyHandler),
	}
	e.ctrl = method.NewController(e.ns, cfg.methodConfig(), logger)
	e.regions = region.NewDispatcher(e.ns, e.ctrl, logger)
	e.interp = interp.New(e.ns, e.ctrl, e.regions, hwDesc.GlobalLock, logger)
	e.interp.SetNotifyHandler(e.dispatchNotify)
	e.queue = gpe.NewWorkQueue(cfg.Workers, cfg.QueueDepth, logger)
	e.gpe = gpe.New(e.ns, hwDesc.Registers, e.ctrl, e.queue, hwDesc.Interrupts, logger)

	return e, nil
}

// Namespace returns the engine namespace.
func (e *Engine) Namespace() *entity.Namespace { return e.ns }

// GPE returns the GPE subsystem.
func (e *Engine) GPE() *gpe.Subsystem { return e.gpe }

// Controller returns the method controller.
func (e *Engine) Controller() *method.Controller { return e.ctrl }

// Interrupts returns the interrupt controller used for the SCI.
func (e *Engine) Interrupts() *irq.Controller { return e.hw.Interrupts }

// Init loads the ACPI tables through resolver and brings the engine up:
// method descriptors are attached, the default region handlers are
// installed, regions are initialized, the GPE worker pool is started, the
// fixed GPE blocks are installed on the SCI line and wake events are
// matched against the _PRW objects of the namespace.
func (e *Engine) Init(ctx context.Context, resolver table.Resolver) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return errAlreadyInitialized
	}
	if resolver == nil {
		return errMissingFADT
	}

	if err := e.enumerateTables(resolver); err != nil {
		return err
	}
	e.initialized = true

	methods := e.ctrl.Populate()
	e.log.Debug("attached method descriptors", zap.Int("count", methods))

	if err := e.regions.InstallDefaultHandlers(ctx, e.ns.Root(), e.hw.Registers); err != nil {
		return fmt.Errorf("installing default region handlers: %w", err)
	}
	e.initRegions(ctx)
	e.loadMethods(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.queue.Start(runCtx)

	fadt := e.fadt()
	e.sci = irq.Line(fadt.SCIInterrupt)
	if err := e.gpe.InitFromFADT(ctx, fadt); err != nil {
		cancel()
		if stopErr := e.queue.Stop(); stopErr != nil {
			e.log.Warn("stopping GPE work queue", zap.Error(stopErr))
		}
		return err
	}

	if matched := e.gpe.MatchWakeDevices(ctx); matched != 0 {
		e.log.Debug("matched wake devices", zap.Int("count", matched))
	}

	e.running = true
	e.log.Info("engine initialized", zap.Uint32("sci", uint32(e.sci)))
	return nil
}

// initRegions creates the runtime state of every region in the namespace
// and binds it to the nearest handler.
func (e *Engine) initRegions(ctx context.Context) {
	var regions []*entity.Region

	e.ns.Lock()
	e.ns.Walk(e.ns.Root(), entity.TypeRegion, func(_ int, ent entity.Entity) bool {
		if r, ok := ent.(*entity.Region); ok {
			regions = append(regions, r)
		}
		return true
	})
	e.ns.Unlock()

	for _, r := range regions {
		if _, err := e.regions.InitializeRegion(ctx, r, false); err != nil {
			e.log.Warn("region initialization failed", zap.String("region", entity.PathOf(r)), zap.Error(err))
		}
	}
}

// loadMethods runs the load pass of every method so the objects declared by
// method bodies exist before any method executes. A method that fails to
// load is reported and left for its first invocation to retry.
func (e *Engine) loadMethods(ctx context.Context) {
	var methods []*entity.Method

	e.ns.Lock()
	e.ns.Walk(e.ns.Root(), entity.TypeMethod, func(_ int, ent entity.Entity) bool {
		if m, ok := ent.(*entity.Method); ok {
			methods = append(methods, m)
		}
		return true
	})
	e.ns.Unlock()

	var loaded int
	for _, m := range methods {
		if _, err := e.ctrl.Load(ctx, m); err != nil {
			e.log.Error("method load failed", zap.String("method", entity.PathOf(m)), zap.Error(err))
			continue
		}
		loaded++
	}
	e.log.Debug("loaded methods", zap.Int("count", loaded))
}

// Shutdown disables all GPEs and waits for queued GPE methods to finish.
// An engine that has been shut down cannot be initialized again.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return errNotInitialized
	}

	err := e.gpe.DisableAllGPEs()

	done := make(chan error, 1)
	go func() { done <- e.queue.Stop() }()

	select {
	case stopErr := <-done:
		if err == nil {
			err = stopErr
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.cancel()
	e.hw.Interrupts.RemoveHandlers(e.sci)
	e.running = false
	e.log.Info("engine shut down")
	return err
}

// HandleSCI services the system control interrupt. It reports whether any
// event was pending.
func (e *Engine) HandleSCI() bool {
	return e.hw.Interrupts.Raise(e.sci)
}

// Lookup resolves an absolute namespace path.
func (e *Engine) Lookup(path string) (entity.Entity, error) {
	node := e.ns.Lookup(nil, path)
	if node == nil {
		return nil, fmt.Errorf("%w: %s", errNoSuchNode, path)
	}
	return node, nil
}

// EvaluateMethod evaluates node with the supplied arguments. The returned
// object, if any, is owned by the caller.
func (e *Engine) EvaluateMethod(ctx context.Context, node entity.Entity, args ...*object.Object) (*object.Object, error) {
	return e.ctrl.Evaluate(ctx, node, args...)
}

// EvaluatePath resolves path and evaluates the node it names.
func (e *Engine) EvaluatePath(ctx context.Context, path string, args ...*object.Object) (*object.Object, error) {
	node, err := e.Lookup(path)
	if err != nil {
		return nil, err
	}
	return e.ctrl.Evaluate(ctx, node, args...)
}

// EnableGPE arms event n of the block owned by node for runtime dispatch.
// A nil node selects the fixed blocks.
func (e *Engine) EnableGPE(node entity.Entity, n uint32) error {
	return e.gpe.EnableGPE(node, n)
}

// DisableGPE disarms event n of the block owned by node.
func (e *Engine) DisableGPE(node entity.Entity, n uint32) error {
	return e.gpe.DisableGPE(node, n)
}

// InstallGPEHandler installs a native handler for event n.
func (e *Engine) InstallGPEHandler(node entity.Entity, n uint32, trigger gpe.Trigger, fn gpe.HandlerFunc, handlerCtx interface{}) error {
	return e.gpe.InstallGPEHandler(node, n, trigger, fn, handlerCtx)
}

// RemoveGPEHandler removes the native handler of event n.
func (e *Engine) RemoveGPEHandler(node entity.Entity, n uint32) error {
	return e.gpe.RemoveGPEHandler(node, n)
}

// InstallGPEBlock installs a GPE block device below node. The block raises
// its events on line.
func (e *Engine) InstallGPEBlock(ctx context.Context, node entity.Entity, addr table.GenericAddress, registerCount, base uint32, line irq.Line) error {
	scope, ok := node.(entity.Container)
	if !ok {
		return errNotContainer
	}
	_, err := e.gpe.InstallBlockDevice(ctx, scope, addr, registerCount, base, line)
	return err
}

// RemoveGPEBlock removes the GPE block device installed below node.
func (e *Engine) RemoveGPEBlock(ctx context.Context, node entity.Entity) error {
	return e.gpe.RemoveBlock(ctx, node)
}

// InstallAddressSpaceHandler installs a handler for an address space on
// node. Regions below node that use the space are attached to it.
func (e *Engine) InstallAddressSpaceHandler(ctx context.Context, node entity.Entity, space region.SpaceID, handler region.Handler, setup region.SetupFunc, handlerCtx interface{}) error {
	_, err := e.regions.InstallAddressSpaceHandler(ctx, node, space, handler, setup, handlerCtx)
	return err
}

// RemoveAddressSpaceHandler removes the handler for space from node.
func (e *Engine) RemoveAddressSpaceHandler(ctx context.Context, node entity.Entity, space region.SpaceID) error {
	return e.regions.RemoveAddressSpaceHandler(ctx, node, space)
}

// InstallNotifyHandler installs a handler for notifications targeting node.
// A handler installed on the namespace root receives notifications for
// nodes without a handler of their own.
func (e *Engine) InstallNotifyHandler(node entity.Entity, fn NotifyHandler) error {
	if node == nil || fn == nil {
		return errNoNotifyHandler
	}

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if _, exists := e.notify[node]; exists {
		return errNotifyHandlerExists
	}
	e.notify[node] = fn
	return nil
}

// RemoveNotifyHandler removes the notification handler of node.
func (e *Engine) RemoveNotifyHandler(node entity.Entity) error {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if _, exists := e.notify[node]; !exists {
		return errNoNotifyHandler
	}
	delete(e.notify, node)
	return nil
}

func (e *Engine) dispatchNotify(node entity.Entity, value uint64) {
	e.notifyMu.RLock()
	fn, ok := e.notify[node]
	if !ok {
		fn, ok = e.notify[e.ns.Root()]
	}
	e.notifyMu.RUnlock()

	if !ok {
		e.log.Debug("dropped notification", zap.String("node", entity.PathOf(node)), zap.Uint64("value", value))
		return
	}
	fn(node, value)
}
