// Package region implements the operation region dispatcher. It keeps track
// of the address space handlers installed on namespace nodes, binds regions
// to the nearest handler for their space and routes field accesses to the
// bound handler.
package region

import (
	"gopheros/device/acpi/aml/entity"
	"gopheros/kernel"
)

var (
	ErrNoHandler          = &kernel.Error{Module: "acpi_region", Message: "no handler bound to region"}
	ErrSetupFailed        = &kernel.Error{Module: "acpi_region", Message: "region setup failed"}
	ErrHandlerExists      = &kernel.Error{Module: "acpi_region", Message: "address space handler already installed"}
	ErrRegionInaccessible = &kernel.Error{Module: "acpi_region", Message: "region is not accessible"}
	ErrBadSpace           = &kernel.Error{Module: "acpi_region", Message: "address space not supported by handler"}
	ErrBadRegion          = &kernel.Error{Module: "acpi_region", Message: "region address or length is not constant"}
	ErrOutOfRange         = &kernel.Error{Module: "acpi_region", Message: "access outside region bounds"}
)

// SpaceID identifies the address space of a region.
type SpaceID uint8

// The address spaces with a built-in handler.
const (
	SpaceSystemMemory = SpaceID(entity.RegionSpaceSystemMemory)
	SpaceSystemIO     = SpaceID(entity.RegionSpaceSystemIO)
	SpacePCIConfig    = SpaceID(entity.RegionSpacePCIConfig)
)

// String implements fmt.Stringer for SpaceID.
func (s SpaceID) String() string { return entity.RegionSpace(s).String() }

// Function is the access performed by a handler.
type Function uint8

// The list of handler functions.
const (
	FunctionRead Function = iota
	FunctionWrite
)

// SetupFunction selects the operation performed by a SetupFunc.
type SetupFunction uint8

// The list of setup operations.
const (
	SetupActivate SetupFunction = iota
	SetupDeactivate
)

// Handler performs a read or write of bitWidth bits at address. For reads
// the result is stored in value. handlerCtx is the context supplied when
// the handler was installed and regionCtx the context returned by the setup
// callback when the region was activated.
type Handler func(fn Function, address uint64, bitWidth uint8, value *uint64, handlerCtx, regionCtx interface{}) error

// SetupFunc is invoked when a region is first accessed (SetupActivate) and
// when it is detached from its handler (SetupDeactivate). On activation it
// returns the per-region context passed to every handler call.
type SetupFunc func(region *Object, fn SetupFunction, handlerCtx interface{}) (regionCtx interface{}, err error)

// Flags describes the state of a region object.
type Flags uint8

// The list of region flags.
const (
	// FlagAccessible is set while the region is bound to a handler.
	FlagAccessible Flags = 1 << iota

	// FlagSetupComplete is set once the handler has activated the region.
	FlagSetupComplete

	flagLinked
)

// Binding associates an address space handler with the namespace node it
// was installed on. Each binding keeps a list of the regions it serves.
type Binding struct {
	Space   SpaceID
	Handler Handler
	Setup   SetupFunc
	Context interface{}

	// Node is the namespace node the handler was installed on.
	Node entity.Entity

	isDefault bool
	regions   *Object
}

// Default returns true for the built-in handlers installed by
// InstallDefaultHandlers.
func (b *Binding) Default() bool { return b.isDefault }

// Object is the runtime state attached to an operation region node.
type Object struct {
	Node *entity.Region

	Space   SpaceID
	Address uint64
	Length  uint64

	flags   Flags
	handler *Binding
	context interface{}
	next    *Object
}

// NewObject builds the runtime state for a region node. The node address
// and length must have been reduced to integer constants.
func NewObject(node *entity.Region) (*Object, error) {
	offset, length, ok := node.Bounds()
	if !ok {
		return nil, ErrBadRegion
	}

	return &Object{
		Node:    node,
		Space:   SpaceID(node.Space),
		Address: offset,
		Length:  length,
	}, nil
}

// ObjectOf returns the runtime state attached to a region node or nil.
func ObjectOf(node entity.Entity) *Object {
	if node == nil {
		return nil
	}
	obj, _ := node.Attachment().(*Object)
	return obj
}
