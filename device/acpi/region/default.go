package region

import (
	"context"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/hw"
	"gopheros/device/acpi/table"
)

var defaultSpaces = []struct {
	space SpaceID
	hwID  table.AddressSpace
}{
	{SpaceSystemMemory, table.AddressSpaceSysMemory},
	{SpaceSystemIO, table.AddressSpaceSysIO},
	{SpacePCIConfig, table.AddressSpacePCI},
}

// InstallDefaultHandlers installs the built-in SystemMemory, SystemIO and
// PCI_Config handlers on node. The handlers access registers directly
// through regs and run with the execution lock held.
func (d *Dispatcher) InstallDefaultHandlers(ctx context.Context, node entity.Entity, regs hw.Registers) error {
	for _, spec := range defaultSpaces {
		b := &Binding{
			Space:     spec.space,
			Handler:   registerHandler(regs, spec.hwID),
			Node:      node,
			isDefault: true,
		}
		if err := d.install(b); err != nil {
			return err
		}
		d.rebind(ctx, node, spec.space)
	}
	return nil
}

func registerHandler(regs hw.Registers, space table.AddressSpace) Handler {
	return func(fn Function, address uint64, bitWidth uint8, value *uint64, _, _ interface{}) error {
		if fn == FunctionWrite {
			return regs.WriteRegister(space, address, bitWidth, *value)
		}

		v, err := regs.ReadRegister(space, address, bitWidth)
		if err != nil {
			return err
		}
		*value = v
		return nil
	}
}
