package gpe

import (
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/hw"

	"go.uber.org/zap"
)

// EventStatus reports the state of a single event.
type EventStatus uint8

const (
	StatusEnabled EventStatus = 1 << iota
	StatusWakeEnabled
	StatusSet
	StatusHasTarget
)

// update runs fn on the event identified by (node, n) with the GPE lock held
// and then rewrites the hardware enable register of the event.
func (s *Subsystem) update(node entity.Entity, n uint32, fn func(ev *EventInfo) error) error {
	s.lock.Acquire()
	defer s.lock.Release()

	ev, err := s.eventLocked(node, n)
	if err != nil {
		return err
	}
	if err = fn(ev); err != nil {
		return err
	}
	return s.updateLocked(ev)
}

// EnableGPE arms an event for runtime dispatch. node selects the GPE block
// device owning the event; nil selects the fixed FADT blocks.
func (s *Subsystem) EnableGPE(node entity.Entity, n uint32) error {
	return s.update(node, n, func(ev *EventInfo) error {
		if ev.Type&TypeRuntime == 0 {
			ev.WakeEnabled = true
			return nil
		}
		ev.RunEnabled = true
		return nil
	})
}

// DisableGPE disarms an event for runtime dispatch.
func (s *Subsystem) DisableGPE(node entity.Entity, n uint32) error {
	return s.update(node, n, func(ev *EventInfo) error {
		ev.RunEnabled = false
		if ev.Type&TypeRuntime == 0 {
			ev.WakeEnabled = false
		}
		return nil
	})
}

// EnableGPEForWake arms an event so it can wake the system from a sleep
// state.
func (s *Subsystem) EnableGPEForWake(node entity.Entity, n uint32) error {
	return s.update(node, n, func(ev *EventInfo) error {
		if ev.Type&TypeWake == 0 {
			return ErrBadGPEType
		}
		ev.WakeEnabled = true
		return nil
	})
}

// DisableGPEForWake disarms the wake capability of an event.
func (s *Subsystem) DisableGPEForWake(node entity.Entity, n uint32) error {
	return s.update(node, n, func(ev *EventInfo) error {
		ev.WakeEnabled = false
		return nil
	})
}

// SetGPEType changes the states in which an event may be armed.
func (s *Subsystem) SetGPEType(node entity.Entity, n uint32, typ Type) error {
	if !typ.valid() {
		return ErrBadGPEType
	}

	return s.update(node, n, func(ev *EventInfo) error {
		ev.Type = typ
		return nil
	})
}

// ClearGPE acknowledges a pending event.
func (s *Subsystem) ClearGPE(node entity.Entity, n uint32) error {
	s.lock.Acquire()
	defer s.lock.Release()

	ev, err := s.eventLocked(node, n)
	if err != nil {
		return err
	}
	return s.clearStatusLocked(ev)
}

// GPEStatus returns the current state of an event.
func (s *Subsystem) GPEStatus(node entity.Entity, n uint32) (EventStatus, error) {
	s.lock.Acquire()
	defer s.lock.Release()

	ev, err := s.eventLocked(node, n)
	if err != nil {
		return 0, err
	}

	var st EventStatus
	if ev.reg.EnableForRun&ev.bit != 0 {
		st |= StatusEnabled
	}
	if ev.reg.EnableForWake&ev.bit != 0 {
		st |= StatusWakeEnabled
	}
	if ev.Target != nil {
		st |= StatusHasTarget
	}

	status, err := hw.ReadGeneric(s.regs, ev.reg.Status, 0)
	if err != nil {
		return st, err
	}
	if uint8(status)&ev.bit != 0 {
		st |= StatusSet
	}
	return st, nil
}

// InstallGPEHandler installs a native handler for an event. A method bound
// to the event is displaced while the handler is installed. The event keeps
// its enabled state.
func (s *Subsystem) InstallGPEHandler(node entity.Entity, n uint32, trigger Trigger, fn HandlerFunc, context interface{}) error {
	if fn == nil {
		return ErrNotRegistered
	}

	err := s.update(node, n, func(ev *EventInfo) error {
		switch target := ev.Target.(type) {
		case HandlerTarget:
			return ErrHandlerExists
		case MethodTarget:
			ev.displaced = target.Node
		}

		ev.Target = HandlerTarget{Fn: fn, Context: context}
		ev.Trigger = trigger
		return nil
	})
	if err == nil {
		s.log.Debug("installed GPE handler", zap.Uint32("gpe", n), zap.Stringer("trigger", trigger))
	}
	return err
}

// RemoveGPEHandler removes the native handler of an event, restoring the
// method it displaced if any. Events left without a target are disabled.
func (s *Subsystem) RemoveGPEHandler(node entity.Entity, n uint32) error {
	err := s.update(node, n, func(ev *EventInfo) error {
		if _, ok := ev.Target.(HandlerTarget); !ok {
			return ErrNotRegistered
		}

		if ev.displaced == nil {
			ev.Target = nil
			ev.RunEnabled = false
			ev.WakeEnabled = false
			return nil
		}

		if trigger, ok := triggerOf(ev.displaced); ok {
			ev.Trigger = trigger
		}
		ev.Target = MethodTarget{Node: ev.displaced}
		ev.displaced = nil
		return nil
	})
	if err == nil {
		s.log.Debug("removed GPE handler", zap.Uint32("gpe", n))
	}
	return err
}

func triggerOf(m *entity.Method) (Trigger, bool) {
	_, trigger, ok := parseMethodName(m.Name())
	return trigger, ok
}

// setMode changes the set of enable masks reflected in the hardware and
// rewrites every enable register.
func (s *Subsystem) setMode(m mode) error {
	s.lock.Acquire()
	defer s.lock.Release()

	s.mode = m

	var err error
	for _, x := range s.xrupts {
		for _, b := range x.Blocks {
			for i := range b.Registers {
				if wErr := s.writeEnableLocked(&b.Registers[i]); wErr != nil && err == nil {
					err = wErr
				}
			}
		}
	}
	return err
}

// DisableAllGPEs masks every event at the hardware level without changing
// the per-event enable state.
func (s *Subsystem) DisableAllGPEs() error { return s.setMode(modeDisabled) }

// EnableAllRuntimeGPEs restores the hardware enables for the running
// system.
func (s *Subsystem) EnableAllRuntimeGPEs() error { return s.setMode(modeRuntime) }

// EnableAllWakeupGPEs leaves only the wake-enabled events armed in
// preparation for a sleep transition.
func (s *Subsystem) EnableAllWakeupGPEs() error { return s.setMode(modeWake) }
