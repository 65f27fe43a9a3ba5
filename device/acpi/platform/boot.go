package platform

import (
	"context"
	"fmt"
	"gopheros/device/acpi"
	"gopheros/device/acpi/hw"
	"gopheros/device/acpi/table"
	"gopheros/kernel/irq"
	"unsafe"

	"go.uber.org/zap"
)

var busSpaces = map[string]table.AddressSpace{
	"SystemMemory": table.AddressSpaceSysMemory,
	"SystemIO":     table.AddressSpaceSysIO,
	"PCI_Config":   table.AddressSpacePCI,
}

// Bus returns a simulated register bus for the description. The status
// halves of every GPE block are write-one-to-clear and the [[memory]]
// entries are preloaded.
func (d *Description) Bus() (*hw.Bus, error) {
	bus := hw.NewBus()

	if d.FADT.GPE0Block != 0 {
		bus.MarkWriteOneToClear(table.AddressSpaceSysIO, uint64(d.FADT.GPE0Block), uint64(d.FADT.GPE0Length/2))
	}
	if d.FADT.GPE1Block != 0 {
		bus.MarkWriteOneToClear(table.AddressSpaceSysIO, uint64(d.FADT.GPE1Block), uint64(d.FADT.GPE1Length/2))
	}
	for _, blk := range d.GPEBlocks {
		bus.MarkWriteOneToClear(table.AddressSpaceSysIO, blk.Address, uint64(blk.Registers))
	}

	for _, p := range d.Memory {
		space, ok := busSpaces[p.Space]
		if !ok {
			return nil, fmt.Errorf("%w: unknown bus space %q", errBadDescription, p.Space)
		}
		bus.Poke(space, p.Address, p.Value)
	}
	return bus, nil
}

// Tables returns a resolver holding a FADT and an empty DSDT built from the
// description.
func (d *Description) Tables() table.MapResolver {
	fadt := &table.FADT{
		SCIInterrupt: d.FADT.SCI,
		GPE0Block:    d.FADT.GPE0Block,
		GPE0Length:   d.FADT.GPE0Length,
		GPE1Block:    d.FADT.GPE1Block,
		GPE1Length:   d.FADT.GPE1Length,
		GPE1Base:     d.FADT.GPE1Base,
	}
	copy(fadt.OEMID[:], d.FADT.OEMID)
	fadt.Seal()

	dsdt := &table.SDTHeader{
		Signature: [4]byte{'D', 'S', 'D', 'T'},
		Length:    uint32(unsafe.Sizeof(table.SDTHeader{})),
		Revision:  2,
		OEMID:     fadt.OEMID,
	}
	table.UpdateChecksum(dsdt)

	return table.MapResolver{
		"FACP": &fadt.SDTHeader,
		"DSDT": dsdt,
	}
}

// Machine is a booted simulated platform.
type Machine struct {
	Engine *acpi.Engine
	Bus    *hw.Bus
}

// Boot creates an engine for the description, populates its namespace,
// initializes it and installs the GPE block devices.
func (d *Description) Boot(ctx context.Context, logger *zap.Logger) (*Machine, error) {
	bus, err := d.Bus()
	if err != nil {
		return nil, err
	}

	engine, err := acpi.New(d.Engine, acpi.Hardware{Registers: bus}, logger)
	if err != nil {
		return nil, err
	}
	if err = d.Build(engine.Namespace()); err != nil {
		return nil, err
	}
	if err = engine.Init(ctx, d.Tables()); err != nil {
		return nil, err
	}

	for _, blk := range d.GPEBlocks {
		node, lookupErr := engine.Lookup(blk.Device)
		if lookupErr != nil {
			err = lookupErr
			break
		}

		addr := table.GenericAddress{Space: table.AddressSpaceSysIO, BitWidth: 8, Address: blk.Address}
		if err = engine.InstallGPEBlock(ctx, node, addr, blk.Registers, blk.Base, irq.Line(blk.IRQ)); err != nil {
			err = fmt.Errorf("GPE block %s: %w", blk.Device, err)
			break
		}
	}
	if err != nil {
		_ = engine.Shutdown(ctx)
		return nil, err
	}

	return &Machine{Engine: engine, Bus: bus}, nil
}

// Raise latches the status bit of a GPE and raises the interrupt line of the
// block holding it. It reports whether the interrupt was claimed.
func (m *Machine) Raise(n uint32) (bool, error) {
	for _, blk := range m.Engine.GPE().Blocks() {
		if n < blk.BaseNumber || n >= blk.BaseNumber+blk.Count() {
			continue
		}

		reg := blk.Registers[(n-blk.BaseNumber)/8]
		m.Bus.SetBits(reg.Status.Space, reg.Status.Address, 1<<((n-blk.BaseNumber)%8))
		return m.Engine.Interrupts().Raise(blk.IRQ), nil
	}
	return false, fmt.Errorf("%w: GPE %d is not backed by any block", errBadDescription, n)
}
