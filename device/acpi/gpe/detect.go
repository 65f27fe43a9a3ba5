package gpe

import (
	"context"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/object"
	"gopheros/device/acpi/hw"
	"gopheros/kernel/irq"

	"go.uber.org/zap"
)

// Detect services an interrupt raised on line. It reads the status and
// enable registers of every block attached to line and dispatches each event
// that is both pending and enabled. Detect runs in interrupt context: it
// never blocks and never runs AML. It returns true if at least one event
// was dispatched.
func (s *Subsystem) Detect(line irq.Line) bool {
	var pending []*EventInfo

	s.lock.Acquire()
	x := s.xruptLocked(line)
	if x == nil {
		s.lock.Release()
		return false
	}

	for _, b := range x.Blocks {
		for i := range b.Registers {
			reg := &b.Registers[i]

			status, err := hw.ReadGeneric(s.regs, reg.Status, 0)
			if err != nil {
				s.logThrottled("unable to read GPE status register", zap.Uint32("base", reg.BaseNumber), zap.Error(err))
				continue
			}
			enable, err := hw.ReadGeneric(s.regs, reg.Enable, 0)
			if err != nil {
				s.logThrottled("unable to read GPE enable register", zap.Uint32("base", reg.BaseNumber), zap.Error(err))
				continue
			}

			active := uint8(status & enable)
			for bit := 0; active != 0; bit, active = bit+1, active>>1 {
				if active&1 == 0 {
					continue
				}

				ev := &b.Events[i*8+bit]
				if ev.running {
					continue
				}
				pending = append(pending, ev)
			}
		}
	}
	s.lock.Release()

	for _, ev := range pending {
		s.dispatch(ev)
	}
	return len(pending) != 0
}

// workItem carries a copy of the dispatch data of an event from interrupt
// context to the worker that runs its method.
type workItem struct {
	ev      *EventInfo
	block   *BlockInfo
	number  uint32
	trigger Trigger
	node    *entity.Method
}

// dispatch services a single event. Edge-triggered events are acknowledged
// before their target runs and level-triggered events after it completes.
// Native handlers are invoked synchronously. Methods are handed off to the
// work queue with the event masked until the method has run.
func (s *Subsystem) dispatch(ev *EventInfo) {
	s.lock.Acquire()
	if !ev.reg.block.installed || ev.running {
		s.lock.Release()
		return
	}

	number := ev.Number
	if ev.Trigger == TriggerEdge {
		if err := s.clearStatusLocked(ev); err != nil {
			s.lock.Release()
			s.logThrottled("unable to clear GPE status", zap.Uint32("gpe", number), zap.Error(err))
			return
		}
	}

	switch target := ev.Target.(type) {
	case HandlerTarget:
		ev.running = true
		s.lock.Release()

		target.Fn(number, target.Context)

		s.lock.Acquire()
		ev.running = false
		var err error
		if ev.Trigger == TriggerLevel {
			err = s.clearStatusLocked(ev)
		}
		s.lock.Release()

		if err != nil {
			s.logThrottled("unable to clear GPE status", zap.Uint32("gpe", number), zap.Error(err))
		}
	case MethodTarget:
		ev.running = true
		ev.reg.masked |= ev.bit
		err := s.writeEnableLocked(ev.reg)
		item := workItem{
			ev:      ev,
			block:   ev.reg.block,
			number:  number,
			trigger: ev.Trigger,
			node:    target.Node,
		}
		s.lock.Release()

		if err != nil {
			s.logThrottled("unable to disable GPE", zap.Uint32("gpe", number), zap.Error(err))
		}

		if err = s.queue.Submit(func(ctx context.Context) { s.asyncExecute(ctx, item) }); err != nil {
			s.logThrottled("unable to queue GPE method", zap.Uint32("gpe", number), zap.String("method", entity.PathOf(target.Node)), zap.Error(err))
			s.rearm(item)
		}
	default:
		ev.RunEnabled = false
		ev.WakeEnabled = false
		err := s.updateLocked(ev)
		s.lock.Release()

		s.log.Error("disabled GPE without handler or method", zap.Uint32("gpe", number), zap.Error(ErrNoDispatchTarget))
		if err != nil {
			s.logThrottled("unable to disable GPE", zap.Uint32("gpe", number), zap.Error(err))
		}
	}
}

// asyncExecute runs the method bound to a dispatched event. The event is
// re-validated first since its block or target may have been removed while
// the work item was queued. Level-triggered events are acknowledged after
// the method returns and the event is always unmasked on the way out.
func (s *Subsystem) asyncExecute(ctx context.Context, item workItem) {
	s.lock.Acquire()
	target, isMethod := item.ev.Target.(MethodTarget)
	valid := item.block.installed && isMethod && target.Node == item.node
	s.lock.Release()

	if valid {
		arg := object.NewInteger(uint64(item.number))
		res, err := s.eval.Evaluate(ctx, item.node, arg)
		arg.Release()
		res.Release()

		if err != nil {
			s.log.Error("GPE method failed",
				zap.Uint32("gpe", item.number),
				zap.String("method", entity.PathOf(item.node)),
				zap.Error(err),
			)
		} else {
			s.log.Debug("ran GPE method", zap.Uint32("gpe", item.number), zap.String("method", entity.PathOf(item.node)))
		}

		if item.trigger == TriggerLevel {
			s.lock.Acquire()
			err = s.clearStatusLocked(item.ev)
			s.lock.Release()
			if err != nil {
				s.log.Error("unable to clear GPE status", zap.Uint32("gpe", item.number), zap.Error(err))
			}
		}
	} else {
		s.log.Debug("skipping GPE method for unregistered event", zap.Uint32("gpe", item.number))
	}

	s.rearm(item)
}

// rearm unmasks an event masked by dispatch.
func (s *Subsystem) rearm(item workItem) {
	s.lock.Acquire()
	item.ev.running = false
	item.ev.reg.masked &^= item.ev.bit
	err := s.writeEnableLocked(item.ev.reg)
	s.lock.Release()

	if err != nil {
		s.log.Error("unable to re-enable GPE", zap.Uint32("gpe", item.number), zap.Error(err))
	}
}
