// Package gpe implements the General Purpose Event subsystem: discovery of
// the GPE register blocks, detection of pending events from interrupt
// context and their dispatch either to native handlers or, through a work
// queue, to the AML methods bound to them.
package gpe

import (
	"context"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/object"
	"gopheros/device/acpi/hw"
	"gopheros/device/acpi/table"
	"gopheros/kernel"
	"gopheros/kernel/irq"
	ksync "gopheros/kernel/sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrGPEOverlap       = &kernel.Error{Module: "acpi_gpe", Message: "GPE block overlaps an installed block"}
	ErrNoSuchGPE        = &kernel.Error{Module: "acpi_gpe", Message: "no such GPE"}
	ErrNoDispatchTarget = &kernel.Error{Module: "acpi_gpe", Message: "GPE has no handler or method"}
	ErrHandlerExists    = &kernel.Error{Module: "acpi_gpe", Message: "GPE handler already installed"}
	ErrQueueFull        = &kernel.Error{Module: "acpi_gpe", Message: "GPE work queue is full"}
	ErrBadGPEType       = &kernel.Error{Module: "acpi_gpe", Message: "invalid GPE type"}
	ErrNotRegistered    = &kernel.Error{Module: "acpi_gpe", Message: "no GPE handler installed"}
	ErrBadBlock         = &kernel.Error{Module: "acpi_gpe", Message: "invalid GPE block description"}
	ErrQueueStopped     = &kernel.Error{Module: "acpi_gpe", Message: "GPE work queue has been stopped"}
)

// Trigger selects when the status bit of an event is cleared.
type Trigger uint8

const (
	// TriggerLevel events are acknowledged after their handler completes.
	TriggerLevel Trigger = iota

	// TriggerEdge events are acknowledged before their handler runs.
	TriggerEdge
)

func (t Trigger) String() string {
	if t == TriggerEdge {
		return "edge"
	}
	return "level"
}

// Type describes in which system states an event may be armed.
type Type uint8

const (
	TypeWake    Type = 1 << iota
	TypeRuntime
	TypeWakeRun = TypeWake | TypeRuntime
)

func (t Type) valid() bool {
	return t != 0 && t&^TypeWakeRun == 0
}

func (t Type) String() string {
	switch t {
	case TypeWake:
		return "wake"
	case TypeRuntime:
		return "runtime"
	case TypeWakeRun:
		return "wake+runtime"
	}
	return "invalid"
}

// HandlerFunc is a native GPE handler. It runs in interrupt context and must
// not block.
type HandlerFunc func(gpe uint32, context interface{})

// Target is the dispatch target of an event. It is either a HandlerTarget,
// a MethodTarget or nil.
type Target interface {
	isTarget()
}

// HandlerTarget dispatches an event to a native handler.
type HandlerTarget struct {
	Fn      HandlerFunc
	Context interface{}
}

// MethodTarget dispatches an event to an AML method.
type MethodTarget struct {
	Node *entity.Method
}

func (HandlerTarget) isTarget() {}
func (MethodTarget) isTarget()  {}

// EventInfo describes a single GPE.
type EventInfo struct {
	Number  uint32
	Trigger Trigger
	Type    Type
	Target  Target

	RunEnabled  bool
	WakeEnabled bool

	reg *RegisterInfo
	bit uint8

	// running is set while the event is being serviced.
	running bool

	// displaced holds the method target replaced by a native handler so it
	// can be restored when the handler is removed.
	displaced *entity.Method
}

// Mask returns the bit mask of the event within its register.
func (ev *EventInfo) Mask() uint8 { return ev.bit }

// RegisterInfo groups the eight events sharing a status and an enable
// register.
type RegisterInfo struct {
	Status table.GenericAddress
	Enable table.GenericAddress

	BaseNumber uint32

	EnableForWake uint8
	EnableForRun  uint8

	// masked holds the events whose hardware enable bit is held low while
	// their method is queued or running.
	masked uint8

	block *BlockInfo
}

// BlockInfo describes a GPE register block.
type BlockInfo struct {
	// Node is the GPE block device that owns the block or the \_GPE scope
	// for the fixed blocks.
	Node entity.Container

	Registers []RegisterInfo
	Events    []EventInfo

	BaseNumber uint32
	IRQ        irq.Line

	fixed     bool
	installed bool
	xrupt     *XruptInfo
}

// Count returns the number of events in the block.
func (b *BlockInfo) Count() uint32 { return uint32(len(b.Events)) }

func (b *BlockInfo) contains(n uint32) bool {
	return n >= b.BaseNumber && n < b.BaseNumber+b.Count()
}

// XruptInfo lists the GPE blocks attached to one interrupt line.
type XruptInfo struct {
	IRQ    irq.Line
	Blocks []*BlockInfo
}

// Evaluator runs AML methods bound to events.
type Evaluator interface {
	Evaluate(ctx context.Context, node entity.Entity, args ...*object.Object) (*object.Object, error)
}

// mode selects which enable masks are reflected in the hardware.
type mode uint8

const (
	modeRuntime mode = iota
	modeWake
	modeDisabled
)

// Subsystem is the GPE subsystem. Its event tables are protected by a
// spinlock so that Detect can run in interrupt context.
type Subsystem struct {
	lock ksync.Spinlock

	ns     *entity.Namespace
	regs   hw.Registers
	eval   Evaluator
	queue  *WorkQueue
	irqs   *irq.Controller
	log    *zap.Logger
	errLim *rate.Limiter

	xrupts []*XruptInfo
	mode   mode
}

// New creates a GPE subsystem. If irqs is not nil, Detect is attached to
// every interrupt line that a GPE block is installed on.
func New(ns *entity.Namespace, regs hw.Registers, eval Evaluator, queue *WorkQueue, irqs *irq.Controller, logger *zap.Logger) *Subsystem {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Subsystem{
		ns:     ns,
		regs:   regs,
		eval:   eval,
		queue:  queue,
		irqs:   irqs,
		log:    logger.Named("gpe"),
		errLim: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// logThrottled reports errors raised from interrupt context.
func (s *Subsystem) logThrottled(msg string, fields ...zap.Field) {
	if s.errLim.Allow() {
		s.log.Error(msg, fields...)
	}
}

// Blocks returns the installed GPE blocks.
func (s *Subsystem) Blocks() []*BlockInfo {
	s.lock.Acquire()
	defer s.lock.Release()

	var out []*BlockInfo
	for _, x := range s.xrupts {
		out = append(out, x.Blocks...)
	}
	return out
}

// eventLocked returns the event with number n that belongs to a block owned
// by node. A nil node selects the fixed blocks.
func (s *Subsystem) eventLocked(node entity.Entity, n uint32) (*EventInfo, error) {
	for _, x := range s.xrupts {
		for _, b := range x.Blocks {
			if node == nil && !b.fixed {
				continue
			}
			if node != nil && entity.Entity(b.Node) != node {
				continue
			}
			if b.contains(n) {
				return &b.Events[n-b.BaseNumber], nil
			}
		}
	}
	return nil, ErrNoSuchGPE
}

// hwEnable computes the value of a register's hardware enable byte.
func (s *Subsystem) hwEnable(reg *RegisterInfo) uint8 {
	var v uint8
	switch s.mode {
	case modeRuntime:
		v = reg.EnableForWake | reg.EnableForRun
	case modeWake:
		v = reg.EnableForWake
	}
	return v &^ reg.masked
}

// setMasksLocked recomputes the cached enable masks of ev's register.
func (s *Subsystem) setMasksLocked(ev *EventInfo) {
	reg := ev.reg

	reg.EnableForWake &^= ev.bit
	if ev.WakeEnabled && ev.Type&TypeWake != 0 {
		reg.EnableForWake |= ev.bit
	}

	reg.EnableForRun &^= ev.bit
	if ev.RunEnabled && ev.Type&TypeRuntime != 0 {
		reg.EnableForRun |= ev.bit
	}
}

// updateLocked recomputes the cached enable masks for ev and writes the
// resulting hardware enable byte.
func (s *Subsystem) updateLocked(ev *EventInfo) error {
	s.setMasksLocked(ev)
	return s.writeEnableLocked(ev.reg)
}

func (s *Subsystem) writeEnableLocked(reg *RegisterInfo) error {
	if !reg.block.installed {
		return nil
	}
	return hw.WriteGeneric(s.regs, reg.Enable, 0, uint64(s.hwEnable(reg)))
}

func (s *Subsystem) clearStatusLocked(ev *EventInfo) error {
	if !ev.reg.block.installed {
		return nil
	}
	return hw.WriteGeneric(s.regs, ev.reg.Status, 0, uint64(ev.bit))
}
