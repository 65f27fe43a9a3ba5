// Package method implements the control method invocation machinery: the
// per-invocation argument and local slots, invocation frames, method
// descriptors and the controller that loads, begins, nests, restarts and
// terminates method invocations.
package method

import (
	"errors"
	"gopheros/kernel"
)

// Status values reported by the invocation machinery. The uninitialized
// slot, bad operand and invalid index errors are caused by the AML program
// itself; see IsProgramError.
var (
	ErrNoMemory            = &kernel.Error{Module: "acpi_method", Message: "out of resources"}
	ErrNullEntry           = &kernel.Error{Module: "acpi_method", Message: "nil namespace node"}
	ErrNullObject          = &kernel.Error{Module: "acpi_method", Message: "no object attached to namespace node"}
	ErrMethodLimitExceeded = &kernel.Error{Module: "acpi_method", Message: "method invocation limit exceeded"}
	ErrUninitializedArg    = &kernel.Error{Module: "acpi_method", Message: "read from uninitialized argument slot"}
	ErrUninitializedLocal  = &kernel.Error{Module: "acpi_method", Message: "read from uninitialized local slot"}
	ErrBadOperandType      = &kernel.Error{Module: "acpi_method", Message: "bad operand type"}
	ErrInvalidIndex        = &kernel.Error{Module: "acpi_method", Message: "slot index out of range"}
	ErrTimeout             = &kernel.Error{Module: "acpi_method", Message: "timed out waiting for lock"}
	ErrFrameTerminated     = &kernel.Error{Module: "acpi_method", Message: "invocation frame already terminated"}
	ErrMethodBusy          = &kernel.Error{Module: "acpi_method", Message: "method has live invocations"}
)

// IsProgramError returns true if err was caused by the AML program rather
// than by the engine or the platform. Kernels may log such errors and
// continue.
func IsProgramError(err error) bool {
	for _, progErr := range []error{ErrUninitializedArg, ErrUninitializedLocal, ErrBadOperandType, ErrInvalidIndex} {
		if errors.Is(err, progErr) {
			return true
		}
	}
	return false
}
