package interp

import (
	"context"
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/method"
	"gopheros/device/acpi/region"

	"go.uber.org/zap"
)

// fieldRegion returns the initialized region object backing a field unit.
func (in *Interpreter) fieldRegion(ctx context.Context, unit *entity.FieldUnit) (*region.Object, error) {
	if unit.Field == nil {
		return nil, fmt.Errorf("%w: field unit %s has no field", method.ErrBadOperandType, entity.PathOf(unit))
	}
	if unit.BitWidth > 64 {
		return nil, errFieldTooWide
	}

	in.ns.Lock()
	kerr := unit.Field.ResolveSymbolRefs(in.ns.Root())
	in.ns.Unlock()
	if kerr != nil {
		return nil, kerr
	}

	if obj := region.ObjectOf(unit.Field.Region); obj != nil {
		return obj, nil
	}
	return in.regions.InitializeRegion(ctx, unit.Field.Region, false)
}

// withFieldLock runs fn while holding the global lock if the field requests
// it. The execution lock is released while waiting for the global lock.
func (in *Interpreter) withFieldLock(ctx context.Context, field *entity.Field, fn func() error) error {
	if field.LockRule != entity.FieldLockRuleLock || in.glock == nil {
		return fn()
	}

	if err := method.SuspendWhile(ctx, func() error { return in.glock.AcquireGlobalLock(ctx) }); err != nil {
		return err
	}
	defer func() {
		if err := in.glock.ReleaseGlobalLock(); err != nil {
			in.log.Warn("releasing global lock", zap.String("region", field.RegionName), zap.Error(err))
		}
	}()
	return fn()
}

// fieldChunk describes the part of a field unit that is accessed by a single
// register access.
type fieldChunk struct {
	// offset is the byte offset of the access within the region.
	offset uint64

	// shift is the position of the first field bit within the access and
	// width the number of field bits it holds.
	shift, width uint32

	// bit is the position of the chunk within the field value.
	bit uint32
}

// chunks splits a field unit into accesses aligned to the access width.
func chunks(unit *entity.FieldUnit, accessWidth uint32) []fieldChunk {
	var out []fieldChunk
	for bit := uint32(0); bit < unit.BitWidth; {
		abs := unit.BitOffset + bit
		start := abs / accessWidth * accessWidth
		shift := abs - start

		width := accessWidth - shift
		if rem := unit.BitWidth - bit; rem < width {
			width = rem
		}

		out = append(out, fieldChunk{offset: uint64(start / 8), shift: shift, width: width, bit: bit})
		bit += width
	}
	return out
}

func mask(width uint32) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// readField reads the value of a field unit through its region.
func (in *Interpreter) readField(ctx context.Context, unit *entity.FieldUnit) (uint64, error) {
	obj, err := in.fieldRegion(ctx, unit)
	if err != nil {
		return 0, err
	}

	accessWidth := unit.AccessType.BitWidth()
	var result uint64
	err = in.withFieldLock(ctx, unit.Field, func() error {
		for _, c := range chunks(unit, uint32(accessWidth)) {
			var v uint64
			if err := in.regions.Dispatch(ctx, obj, region.FunctionRead, c.offset, accessWidth, &v); err != nil {
				return err
			}
			result |= ((v >> c.shift) & mask(c.width)) << c.bit
		}
		return nil
	})
	return result, err
}

// writeField writes value to a field unit through its region. Bits of a
// partially covered access are filled according to the field update rule.
func (in *Interpreter) writeField(ctx context.Context, unit *entity.FieldUnit, value uint64) error {
	obj, err := in.fieldRegion(ctx, unit)
	if err != nil {
		return err
	}

	accessWidth := unit.AccessType.BitWidth()
	return in.withFieldLock(ctx, unit.Field, func() error {
		for _, c := range chunks(unit, uint32(accessWidth)) {
			chunkMask := mask(c.width) << c.shift

			var v uint64
			if c.width != uint32(accessWidth) {
				switch unit.Field.UpdateRule {
				case entity.FieldUpdateRuleWriteAsOnes:
					v = mask(uint32(accessWidth)) &^ chunkMask
				case entity.FieldUpdateRulePreserve:
					if err := in.regions.Dispatch(ctx, obj, region.FunctionRead, c.offset, accessWidth, &v); err != nil {
						return err
					}
					v &^= chunkMask
				}
			}

			v |= ((value >> c.bit) & mask(c.width)) << c.shift
			if err := in.regions.Dispatch(ctx, obj, region.FunctionWrite, c.offset, accessWidth, &v); err != nil {
				return err
			}
		}
		return nil
	})
}
