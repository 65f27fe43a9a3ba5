// Package irq routes interrupt lines to the handlers registered for them.
// Handlers run in interrupt context: they must not block and must not invoke
// code that may sleep.
package irq

import (
	"gopheros/kernel"
	"sync"
	"sync/atomic"
)

var errNilHandler = &kernel.Error{Module: "irq", Message: "attempted to register a nil interrupt handler"}

// Line identifies an interrupt line by its global system interrupt number.
type Line uint32

// Handler services an interrupt raised on a particular line and reports
// whether the interrupt originated from a source it owns. Lines may be shared
// so every registered handler is offered the interrupt.
type Handler func(Line) (handled bool)

// Controller keeps track of the handlers attached to each interrupt line.
type Controller struct {
	mu       sync.RWMutex
	handlers map[Line][]Handler

	// spurious counts interrupts that no handler claimed.
	spurious uint64
}

// NewController returns an empty interrupt controller.
func NewController() *Controller {
	return &Controller{handlers: make(map[Line][]Handler)}
}

// HandleInterrupt appends handler to the handler chain for line.
func (c *Controller) HandleInterrupt(line Line, handler Handler) error {
	if handler == nil {
		return errNilHandler
	}

	c.mu.Lock()
	c.handlers[line] = append(c.handlers[line], handler)
	c.mu.Unlock()
	return nil
}

// RemoveHandlers detaches all handlers from line.
func (c *Controller) RemoveHandlers(line Line) {
	c.mu.Lock()
	delete(c.handlers, line)
	c.mu.Unlock()
}

// Raise delivers an interrupt on line to every attached handler and returns
// true if at least one of them serviced it.
func (c *Controller) Raise(line Line) bool {
	c.mu.RLock()
	chain := c.handlers[line]
	c.mu.RUnlock()

	var handled bool
	for _, h := range chain {
		if h(line) {
			handled = true
		}
	}

	if !handled {
		atomic.AddUint64(&c.spurious, 1)
	}
	return handled
}

// Spurious returns the number of interrupts that were not claimed by any
// handler.
func (c *Controller) Spurious() uint64 {
	return atomic.LoadUint64(&c.spurious)
}
