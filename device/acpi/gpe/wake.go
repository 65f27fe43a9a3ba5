package gpe

import (
	"context"
	"gopheros/device/acpi/aml/entity"

	"go.uber.org/zap"
)

// wakeRef identifies an event referenced by a _PRW object.
type wakeRef struct {
	device entity.Entity
	number uint32
	owner  entity.Entity
}

// MatchWakeDevices walks the namespace for _PRW objects and marks the events
// they reference as wake-only. Matched events are disarmed until they are
// explicitly enabled for wake. It returns the number of matched events.
func (s *Subsystem) MatchWakeDevices(ctx context.Context) int {
	var refs []wakeRef

	s.ns.Lock()
	s.ns.Walk(nil, entity.TypeName, func(_ int, ent entity.Entity) bool {
		if ent.Name() != "_PRW" {
			return true
		}

		ref, ok := s.parsePRW(ent)
		if !ok {
			s.log.Warn("ignoring malformed _PRW object", zap.String("path", entity.PathOf(ent)))
			return true
		}
		refs = append(refs, ref)
		return true
	})
	s.ns.Unlock()

	s.lock.Acquire()
	defer s.lock.Release()

	var matched int
	for _, ref := range refs {
		ev, err := s.eventLocked(ref.device, ref.number)
		if err != nil {
			s.log.Warn("_PRW references unknown GPE", zap.String("device", entity.PathOf(ref.owner)), zap.Uint32("gpe", ref.number))
			continue
		}

		ev.Type = TypeWake
		ev.RunEnabled = false
		ev.WakeEnabled = false
		if err = s.updateLocked(ev); err != nil {
			s.log.Error("unable to update GPE enables", zap.Uint32("gpe", ref.number), zap.Error(err))
		}
		matched++
	}
	return matched
}

// parsePRW decodes the event reference held in the first element of a _PRW
// package. The element is either a GPE number within the fixed blocks or a
// package holding a reference to a GPE block device and a GPE number.
func (s *Subsystem) parsePRW(ent entity.Entity) (wakeRef, bool) {
	name, ok := ent.(*entity.Const)
	if !ok {
		return wakeRef{}, false
	}
	pkg, ok := name.Value.(*entity.Package)
	if !ok || len(pkg.Args()) < 2 {
		return wakeRef{}, false
	}

	ref := wakeRef{owner: ent.Parent()}
	switch elem := pkg.Args()[0].(type) {
	case *entity.Package:
		args := elem.Args()
		if len(args) != 2 {
			return wakeRef{}, false
		}

		var path string
		switch dev := args[0].(type) {
		case string:
			path = dev
		case *entity.Reference:
			path = dev.TargetName
		default:
			return wakeRef{}, false
		}

		if ref.device = s.ns.LookupLocked(ent.Parent(), path); ref.device == nil {
			return wakeRef{}, false
		}
		if ref.number, ok = integerOf(args[1]); !ok {
			return wakeRef{}, false
		}
	default:
		if ref.number, ok = integerOf(elem); !ok {
			return wakeRef{}, false
		}
	}
	return ref, true
}

func integerOf(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case uint64:
		return uint32(n), true
	case *entity.Const:
		return integerOf(n.Value)
	}
	return 0, false
}
