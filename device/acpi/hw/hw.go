// Package hw provides the primitive hardware accessors used by the ACPI
// engine: register reads and writes in a particular address space and the
// platform global lock shared with the firmware.
package hw

import (
	"context"
	"gopheros/device/acpi/table"
	"gopheros/kernel"

	"golang.org/x/sync/semaphore"
)

var (
	errBadWidth          = &kernel.Error{Module: "acpi_hw", Message: "unsupported register access width"}
	errUnsupportedSpace  = &kernel.Error{Module: "acpi_hw", Message: "unsupported register address space"}
	errGlobalLockNotHeld = &kernel.Error{Module: "acpi_hw", Message: "global lock released while not held"}
)

// Registers is implemented by objects that can access hardware registers.
// Widths are expressed in bits and must be one of 8, 16, 32 or 64.
type Registers interface {
	ReadRegister(space table.AddressSpace, address uint64, bitWidth uint8) (uint64, error)
	WriteRegister(space table.AddressSpace, address uint64, bitWidth uint8, value uint64) error
}

// GlobalLock is the platform-described lock that the OS shares with the
// firmware for fields declared with the Lock rule.
type GlobalLock interface {
	AcquireGlobalLock(ctx context.Context) error
	ReleaseGlobalLock() error
}

// ReadGeneric reads the register described by a generic address using its
// advertised bit width (defaulting to 8 bits).
func ReadGeneric(regs Registers, addr table.GenericAddress, offset uint64) (uint64, error) {
	return regs.ReadRegister(addr.Space, addr.Address+offset, genericWidth(addr))
}

// WriteGeneric writes value to the register described by a generic address.
func WriteGeneric(regs Registers, addr table.GenericAddress, offset uint64, value uint64) error {
	return regs.WriteRegister(addr.Space, addr.Address+offset, genericWidth(addr), value)
}

func genericWidth(addr table.GenericAddress) uint8 {
	if addr.BitWidth == 0 {
		return 8
	}
	return addr.BitWidth
}

func validWidth(bitWidth uint8) bool {
	switch bitWidth {
	case 8, 16, 32, 64:
		return true
	}
	return false
}

// SoftGlobalLock is a GlobalLock implementation for platforms where the
// firmware never contends for the lock.
type SoftGlobalLock struct {
	sem  *semaphore.Weighted
	held int32
}

// NewSoftGlobalLock returns a released SoftGlobalLock.
func NewSoftGlobalLock() *SoftGlobalLock {
	return &SoftGlobalLock{sem: semaphore.NewWeighted(1)}
}

// AcquireGlobalLock blocks until the lock is acquired or ctx expires.
func (l *SoftGlobalLock) AcquireGlobalLock(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.held = 1
	return nil
}

// ReleaseGlobalLock releases a held lock.
func (l *SoftGlobalLock) ReleaseGlobalLock() error {
	if l.held == 0 {
		return errGlobalLockNotHeld
	}
	l.held = 0
	l.sem.Release(1)
	return nil
}
