package gpe

import (
	"context"
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/hw"
	"gopheros/device/acpi/table"
	"gopheros/kernel/irq"
	"strconv"

	"go.uber.org/zap"
)

// BlockDesc describes a GPE register block. The block occupies
// 2*RegisterCount consecutive registers starting at Address: the status
// registers followed by the enable registers.
type BlockDesc struct {
	// Node is the scope that holds the _Lxx and _Exx methods of the block.
	Node entity.Container

	Address       table.GenericAddress
	RegisterCount uint32
	BaseNumber    uint32
	IRQ           irq.Line

	fixed bool
}

// boundMethod is a _Lxx or _Exx method discovered under a block's scope.
type boundMethod struct {
	number  uint32
	trigger Trigger
	node    *entity.Method
}

// CreateBlock installs a GPE block. The status and enable registers of the
// block are cleared and every _Lxx/_Exx method found directly under the
// block's scope is bound to its event and enabled for runtime. Blocks whose
// event numbers overlap an installed block are rejected with ErrGPEOverlap.
func (s *Subsystem) CreateBlock(ctx context.Context, desc BlockDesc) (*BlockInfo, error) {
	if desc.RegisterCount == 0 || desc.Address.Address == 0 {
		return nil, ErrBadBlock
	}

	count := desc.RegisterCount * 8
	s.lock.Acquire()
	other := s.overlapLocked(desc.BaseNumber, count)
	s.lock.Release()
	if other != nil {
		s.log.Error("GPE block overlaps installed block",
			zap.Uint32("base", desc.BaseNumber),
			zap.Uint32("count", count),
			zap.Uint32("installed_base", other.BaseNumber),
			zap.Uint32("installed_count", other.Count()),
		)
		return nil, ErrGPEOverlap
	}

	block := newBlock(desc)
	if err := s.initRegisters(block); err != nil {
		return nil, err
	}

	var methods []boundMethod
	if desc.Node != nil {
		methods = s.findMethods(block)
	}

	s.lock.Acquire()
	if s.overlapLocked(desc.BaseNumber, count) != nil {
		s.lock.Release()
		return nil, ErrGPEOverlap
	}

	for _, m := range methods {
		ev := &block.Events[m.number-block.BaseNumber]
		ev.Trigger = m.trigger
		ev.Target = MethodTarget{Node: m.node}
		ev.RunEnabled = true
		s.setMasksLocked(ev)
	}
	block.installed = true

	x := s.xruptLocked(desc.IRQ)
	attach := x == nil
	if attach {
		x = &XruptInfo{IRQ: desc.IRQ}
		s.xrupts = append(s.xrupts, x)
	}
	x.Blocks = append(x.Blocks, block)
	block.xrupt = x

	var err error
	for i := range block.Registers {
		if wErr := s.writeEnableLocked(&block.Registers[i]); wErr != nil && err == nil {
			err = wErr
		}
	}
	s.lock.Release()

	if attach && s.irqs != nil {
		if hErr := s.irqs.HandleInterrupt(desc.IRQ, s.Detect); hErr != nil && err == nil {
			err = hErr
		}
	}

	s.log.Debug("installed GPE block",
		zap.Uint32("base", block.BaseNumber),
		zap.Uint32("count", block.Count()),
		zap.Uint32("irq", uint32(block.IRQ)),
		zap.Int("methods", len(methods)),
	)
	return block, err
}

func newBlock(desc BlockDesc) *BlockInfo {
	block := &BlockInfo{
		Node:       desc.Node,
		Registers:  make([]RegisterInfo, desc.RegisterCount),
		Events:     make([]EventInfo, desc.RegisterCount*8),
		BaseNumber: desc.BaseNumber,
		IRQ:        desc.IRQ,
		fixed:      desc.fixed,
	}

	for i := range block.Registers {
		reg := &block.Registers[i]
		reg.block = block
		reg.BaseNumber = desc.BaseNumber + uint32(i)*8
		reg.Status = desc.Address
		reg.Status.BitWidth = 8
		reg.Status.Address += uint64(i)
		reg.Enable = reg.Status
		reg.Enable.Address += uint64(desc.RegisterCount)

		for bit := uint32(0); bit < 8; bit++ {
			ev := &block.Events[uint32(i)*8+bit]
			ev.Number = reg.BaseNumber + bit
			ev.Type = TypeRuntime
			ev.reg = reg
			ev.bit = 1 << bit
		}
	}
	return block
}

// initRegisters disables every event of the block and acknowledges any
// status bit latched before the block was installed.
func (s *Subsystem) initRegisters(block *BlockInfo) error {
	for i := range block.Registers {
		reg := &block.Registers[i]
		if err := hw.WriteGeneric(s.regs, reg.Enable, 0, 0x00); err != nil {
			return fmt.Errorf("clearing GPE enable register %d: %w", i, err)
		}
		if err := hw.WriteGeneric(s.regs, reg.Status, 0, 0xff); err != nil {
			return fmt.Errorf("clearing GPE status register %d: %w", i, err)
		}
	}
	return nil
}

// findMethods collects the _Lxx and _Exx methods under the block's scope
// that refer to events within the block.
func (s *Subsystem) findMethods(block *BlockInfo) []boundMethod {
	s.ns.Lock()
	children := s.ns.Children(block.Node, entity.TypeMethod)
	s.ns.Unlock()

	var out []boundMethod
	for _, child := range children {
		m, ok := child.(*entity.Method)
		if !ok {
			continue
		}

		number, trigger, ok := parseMethodName(m.Name())
		switch {
		case !ok:
			if name := m.Name(); len(name) == 4 && name[0] == '_' && (name[1] == 'L' || name[1] == 'E') {
				s.log.Warn("ignoring GPE method with malformed name", zap.String("method", entity.PathOf(m)))
			}
			continue
		case !block.contains(number):
			continue
		}

		out = append(out, boundMethod{number: number, trigger: trigger, node: m})
	}
	return out
}

// parseMethodName extracts the event number and trigger type from a GPE
// method name such as _L08 or _E1F.
func parseMethodName(name string) (uint32, Trigger, bool) {
	if len(name) != 4 || name[0] != '_' {
		return 0, 0, false
	}

	var trigger Trigger
	switch name[1] {
	case 'L':
		trigger = TriggerLevel
	case 'E':
		trigger = TriggerEdge
	default:
		return 0, 0, false
	}

	number, err := strconv.ParseUint(name[2:], 16, 8)
	if err != nil {
		return 0, 0, false
	}
	return uint32(number), trigger, true
}

// overlapLocked returns the installed block whose event numbers intersect
// [base, base+count).
func (s *Subsystem) overlapLocked(base, count uint32) *BlockInfo {
	for _, x := range s.xrupts {
		for _, b := range x.Blocks {
			if base < b.BaseNumber+b.Count() && b.BaseNumber < base+count {
				return b
			}
		}
	}
	return nil
}

func (s *Subsystem) xruptLocked(line irq.Line) *XruptInfo {
	for _, x := range s.xrupts {
		if x.IRQ == line {
			return x
		}
	}
	return nil
}

// InitFromFADT installs the fixed GPE blocks described by the FADT. Both
// blocks are attached to the SCI and use the \_GPE scope for their methods.
func (s *Subsystem) InitFromFADT(ctx context.Context, fadt *table.FADT) error {
	s.ns.Lock()
	scope, _ := s.ns.Child(s.ns.Root(), "_GPE").(entity.Container)
	s.ns.Unlock()

	for _, info := range fadt.GPEBlocks() {
		if _, err := s.CreateBlock(ctx, BlockDesc{
			Node:          scope,
			Address:       info.Address,
			RegisterCount: info.RegisterCount,
			BaseNumber:    info.BaseNumber,
			IRQ:           irq.Line(fadt.SCIInterrupt),
			fixed:         true,
		}); err != nil {
			return fmt.Errorf("installing GPE block at base %d: %w", info.BaseNumber, err)
		}
	}
	return nil
}

// InstallBlockDevice installs a GPE block owned by a GPE block device.
func (s *Subsystem) InstallBlockDevice(ctx context.Context, node entity.Container, addr table.GenericAddress, registerCount, base uint32, line irq.Line) (*BlockInfo, error) {
	if node == nil {
		return nil, ErrBadBlock
	}

	return s.CreateBlock(ctx, BlockDesc{
		Node:          node,
		Address:       addr,
		RegisterCount: registerCount,
		BaseNumber:    base,
		IRQ:           line,
	})
}

// RemoveBlock disables and removes the GPE block owned by node. Methods
// already queued for events of the block are skipped when their turn comes.
func (s *Subsystem) RemoveBlock(ctx context.Context, node entity.Entity) error {
	s.lock.Acquire()
	defer s.lock.Release()

	for _, x := range s.xrupts {
		for i, b := range x.Blocks {
			if b.fixed || entity.Entity(b.Node) != node {
				continue
			}

			for j := range b.Registers {
				if err := hw.WriteGeneric(s.regs, b.Registers[j].Enable, 0, 0x00); err != nil {
					s.log.Warn("disabling removed GPE register", zap.Uint32("gpe", b.Registers[j].BaseNumber), zap.Error(err))
				}
			}

			b.installed = false
			b.xrupt = nil
			x.Blocks = append(x.Blocks[:i], x.Blocks[i+1:]...)

			s.log.Debug("removed GPE block", zap.Uint32("base", b.BaseNumber))
			return nil
		}
	}
	return ErrNoSuchGPE
}
