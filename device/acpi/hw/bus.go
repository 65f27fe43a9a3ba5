package hw

import (
	"gopheros/device/acpi/table"
	"sync"
)

// Access describes a single register access performed on a Bus.
type Access struct {
	Write    bool
	Space    table.AddressSpace
	Address  uint64
	BitWidth uint8
	Value    uint64
}

// Bus is a Registers implementation backed by sparse byte-addressable memory.
// It is used by the hosted build of the engine and by tests to model
// platform hardware. Multi-byte accesses are little-endian.
//
// Ranges registered with MarkWriteOneToClear emulate status registers: each
// bit written as 1 clears the stored bit and bits written as 0 are left
// untouched.
type Bus struct {
	mu     sync.Mutex
	spaces map[table.AddressSpace]map[uint64]byte
	w1c    map[table.AddressSpace]map[uint64]bool
	tracer func(Access)
}

// NewBus returns an empty bus. Unwritten locations read as zero.
func NewBus() *Bus {
	return &Bus{
		spaces: make(map[table.AddressSpace]map[uint64]byte),
		w1c:    make(map[table.AddressSpace]map[uint64]bool),
	}
}

// SetTracer installs a function that observes every access after it has been
// applied. Passing nil removes the tracer.
func (b *Bus) SetTracer(fn func(Access)) {
	b.mu.Lock()
	b.tracer = fn
	b.mu.Unlock()
}

// MarkWriteOneToClear flags count bytes starting at address as
// write-one-to-clear.
func (b *Bus) MarkWriteOneToClear(space table.AddressSpace, address uint64, count uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.w1c[space] == nil {
		b.w1c[space] = make(map[uint64]bool)
	}
	for i := uint64(0); i < count; i++ {
		b.w1c[space][address+i] = true
	}
}

// Poke sets the raw contents of a byte bypassing write-one-to-clear
// semantics. It models hardware latching a status bit.
func (b *Bus) Poke(space table.AddressSpace, address uint64, value byte) {
	b.mu.Lock()
	b.mem(space)[address] = value
	b.mu.Unlock()
}

// SetBits ORs mask into the byte at address bypassing write-one-to-clear
// semantics.
func (b *Bus) SetBits(space table.AddressSpace, address uint64, mask byte) {
	b.mu.Lock()
	b.mem(space)[address] |= mask
	b.mu.Unlock()
}

// Peek returns the raw contents of a byte.
func (b *Bus) Peek(space table.AddressSpace, address uint64) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spaces[space][address]
}

// ReadRegister implements Registers.
func (b *Bus) ReadRegister(space table.AddressSpace, address uint64, bitWidth uint8) (uint64, error) {
	if !validWidth(bitWidth) {
		return 0, errBadWidth
	}

	b.mu.Lock()
	var (
		value uint64
		mem   = b.mem(space)
	)
	for i := uint64(0); i < uint64(bitWidth/8); i++ {
		value |= uint64(mem[address+i]) << (8 * i)
	}
	tracer := b.tracer
	b.mu.Unlock()

	if tracer != nil {
		tracer(Access{Space: space, Address: address, BitWidth: bitWidth, Value: value})
	}
	return value, nil
}

// WriteRegister implements Registers.
func (b *Bus) WriteRegister(space table.AddressSpace, address uint64, bitWidth uint8, value uint64) error {
	if !validWidth(bitWidth) {
		return errBadWidth
	}

	b.mu.Lock()
	mem := b.mem(space)
	for i := uint64(0); i < uint64(bitWidth/8); i++ {
		v := byte(value >> (8 * i))
		if b.w1c[space][address+i] {
			mem[address+i] &^= v
			continue
		}
		mem[address+i] = v
	}
	tracer := b.tracer
	b.mu.Unlock()

	if tracer != nil {
		tracer(Access{Write: true, Space: space, Address: address, BitWidth: bitWidth, Value: value})
	}
	return nil
}

func (b *Bus) mem(space table.AddressSpace) map[uint64]byte {
	m := b.spaces[space]
	if m == nil {
		m = make(map[uint64]byte)
		b.spaces[space] = m
	}
	return m
}

// SpaceFilter wraps a Registers implementation and rejects accesses to
// address spaces outside the supplied set.
type SpaceFilter struct {
	Registers
	Allowed []table.AddressSpace
}

func (f SpaceFilter) allowed(space table.AddressSpace) bool {
	for _, s := range f.Allowed {
		if s == space {
			return true
		}
	}
	return false
}

// ReadRegister implements Registers.
func (f SpaceFilter) ReadRegister(space table.AddressSpace, address uint64, bitWidth uint8) (uint64, error) {
	if !f.allowed(space) {
		return 0, errUnsupportedSpace
	}
	return f.Registers.ReadRegister(space, address, bitWidth)
}

// WriteRegister implements Registers.
func (f SpaceFilter) WriteRegister(space table.AddressSpace, address uint64, bitWidth uint8, value uint64) error {
	if !f.allowed(space) {
		return errUnsupportedSpace
	}
	return f.Registers.WriteRegister(space, address, bitWidth, value)
}
