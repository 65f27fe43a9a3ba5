package entity

import "gopheros/kernel"

// OwnerID tags every entity with the identity of the code that created it.
// Entities defined by the firmware tables use OwnerTable; entities created
// while a method executes carry the owner id allocated to that method so they
// can be deleted together once its last invocation terminates.
type OwnerID uint16

// OwnerTable is the owner of entities that are defined by a firmware table.
const OwnerTable OwnerID = 0

// Entity is an interface implemented by all AML entities.
type Entity interface {
	// Opcode returns the AML op associated with this entity.
	Opcode() AMLOpcode

	// Name returns the entity's name or an empty string if no name is
	// associated with the entity.
	Name() string

	// Parent returns the Container of this entity.
	Parent() Container

	// SetParent updates the parent container reference.
	SetParent(Container)

	// Owner returns the id of the table or method that created this
	// entity.
	Owner() OwnerID

	// SetOwner updates the owner id of this entity.
	SetOwner(OwnerID)

	// Args returns the argument list for this entity.
	Args() []interface{}

	// SetArg adds an argument value at the specified argument index.
	SetArg(uint8, interface{}) bool

	// Attachment returns the runtime object attached to this entity or nil
	// if no object is attached.
	Attachment() interface{}

	// Attach replaces the runtime object attached to this entity.
	Attach(interface{})
}

// Container is an interface that is implemented by entities contain a
// collection of other Entities and define an AML scope.
type Container interface {
	Entity

	// Children returns the list of entities that are children of this
	// container.
	Children() []Entity

	// Append adds an entity to a container.
	Append(Entity) bool

	// Remove searches the child list for an entity and removes it if found.
	Remove(Entity)

	// Last returns the last entity that was added to this container.
	Last() Entity
}

// LazyRefResolver is an interface implemented by entities that contain symbol
// references that are lazily resolved after the full AML entity tree has been
// built.
type LazyRefResolver interface {
	// ResolveSymbolRefs receives as input the root of the AML entity tree and
	// attempts to resolve any symbol references using the scope searching rules
	// defined by the ACPI spec.
	ResolveSymbolRefs(Container) *kernel.Error
}

// Generic describes an entity without a name.
type Generic struct {
	owner      OwnerID
	op         AMLOpcode
	args       []interface{}
	parent     Container
	attachment interface{}
}

// NewGeneric returns a new generic AML entity.
func NewGeneric(op AMLOpcode, owner OwnerID, args ...interface{}) *Generic {
	return &Generic{
		op:    op,
		owner: owner,
		args:  args,
	}
}

// Opcode returns the AML op associated with this entity.
func (ent *Generic) Opcode() AMLOpcode { return ent.op }

// Name returns the entity's name. For this type of entity it always returns
// an empty string.
func (ent *Generic) Name() string { return "" }

// Parent returns the Container of this entity.
func (ent *Generic) Parent() Container { return ent.parent }

// SetParent updates the parent container reference.
func (ent *Generic) SetParent(parent Container) { ent.parent = parent }

// Owner returns the id of the table or method that created this entity.
func (ent *Generic) Owner() OwnerID { return ent.owner }

// SetOwner updates the owner id of this entity.
func (ent *Generic) SetOwner(owner OwnerID) { ent.owner = owner }

// Args returns the argument list for this entity.
func (ent *Generic) Args() []interface{} { return ent.args }

// SetArg adds an argument value at the specified argument index.
func (ent *Generic) SetArg(_ uint8, arg interface{}) bool {
	ent.args = append(ent.args, arg)
	return true
}

// Attachment returns the runtime object attached to this entity.
func (ent *Generic) Attachment() interface{} { return ent.attachment }

// Attach replaces the runtime object attached to this entity.
func (ent *Generic) Attach(obj interface{}) { ent.attachment = obj }

// GenericNamed describes an entity whose name is specified as the argument at
// index zero.
type GenericNamed struct {
	Generic
	name string
}

// NewGenericNamed returns a new generic named AML entity.
func NewGenericNamed(op AMLOpcode, owner OwnerID) *GenericNamed {
	return &GenericNamed{
		Generic: Generic{
			op:    op,
			owner: owner,
		},
	}
}

// Name returns the entity's name.
func (ent *GenericNamed) Name() string { return ent.name }

// SetArg adds an argument value at the specified argument index.
func (ent *GenericNamed) SetArg(argIndex uint8, arg interface{}) bool {
	// arg 0 is the entity name
	if argIndex == 0 {
		var ok bool
		ent.name, ok = arg.(string)
		return ok
	}

	ent.args = append(ent.args, arg)
	return true
}

// Const is an optionally named entity that contains a constant uint64,
// string, []byte or *Package value. Named constants are created by the Name
// declaration and may be overwritten by a Store.
type Const struct {
	GenericNamed
	Value interface{}
}

// NewConst creates a new AML constant entity.
func NewConst(op AMLOpcode, owner OwnerID, initialValue interface{}) *Const {
	return &Const{
		GenericNamed: GenericNamed{
			Generic: Generic{
				op:    op,
				owner: owner,
			},
		},
		Value: initialValue,
	}
}

// NewName creates a named data object holding initialValue.
func NewName(owner OwnerID, name string, initialValue interface{}) *Const {
	ent := NewConst(OpName, owner, initialValue)
	ent.name = name
	return ent
}

// SetName allows the caller to override the name for a Const entity.
func (ent *Const) SetName(name string) { ent.name = name }

// SetArg adds an argument value at the specified argument index.
func (ent *Const) SetArg(argIndex uint8, arg interface{}) bool {
	// Const entities accept at most one arg
	ent.Value = arg
	return argIndex == 0
}

// Scope is an optionally named entity that groups together multiple entities.
type Scope struct {
	GenericNamed
	children []Entity
}

// NewScope creates a new AML named scope entity.
func NewScope(op AMLOpcode, owner OwnerID, name string) *Scope {
	return &Scope{
		GenericNamed: GenericNamed{
			Generic: Generic{
				op:    op,
				owner: owner,
			},
			name: name,
		},
	}
}

// Children returns the list of entities that are children of this container.
func (ent *Scope) Children() []Entity { return ent.children }

// Append adds an entity to a container.
func (ent *Scope) Append(child Entity) bool {
	child.SetParent(ent)
	ent.children = append(ent.children, child)
	return true
}

// Remove searches the child list for an entity and removes it if found.
func (ent *Scope) Remove(child Entity) {
	for index := 0; index < len(ent.children); index++ {
		if ent.children[index] == child {
			ent.children = append(ent.children[:index], ent.children[index+1:]...)
			child.SetParent(nil)
			return
		}
	}
}

// Last returns the last entity that was added to this container or nil if
// the container is empty.
func (ent *Scope) Last() Entity {
	if len(ent.children) == 0 {
		return nil
	}
	return ent.children[len(ent.children)-1]
}

// RegionSpace describes the address space where a region is located.
type RegionSpace uint8

// The list of supported RegionSpace values.
const (
	RegionSpaceSystemMemory RegionSpace = iota
	RegionSpaceSystemIO
	RegionSpacePCIConfig
	RegionSpaceEmbeddedControl
	RegionSpaceSMBus
	RegionSpaceSystemCMOS
	RegionSpacePCIBarTarget
	RegionSpaceIPMI
)

var regionSpaceNames = []string{
	"SystemMemory",
	"SystemIO",
	"PCI_Config",
	"EmbeddedControl",
	"SMBus",
	"SystemCMOS",
	"PCIBARTarget",
	"IPMI",
}

// String implements fmt.Stringer for RegionSpace.
func (s RegionSpace) String() string {
	if int(s) < len(regionSpaceNames) {
		return regionSpaceNames[s]
	}
	return "UserDefined"
}

// Region defines a region located at a particular space (e.g in memory, an
// embedded controller, the SMBus e.t.c).
type Region struct {
	GenericNamed

	Space  RegionSpace
	Offset interface{}
	Len    interface{}
}

// NewRegion creates a new AML region entity.
func NewRegion(owner OwnerID) *Region {
	return &Region{
		GenericNamed: GenericNamed{
			Generic: Generic{
				op:    OpOpRegion,
				owner: owner,
			},
		},
	}
}

// SetArg adds an argument value at the specified argument index.
func (ent *Region) SetArg(argIndex uint8, arg interface{}) bool {
	var ok bool
	switch argIndex {
	case 0:
		ok = ent.GenericNamed.SetArg(argIndex, arg)
	case 1:
		var space uint64
		space, ok = arg.(uint64)
		ent.Space = RegionSpace(space)
	case 2:
		ent.Offset = arg
		ok = true
	case 3:
		ent.Len = arg
		ok = true
	}

	return ok
}

// Bounds returns the region offset and length if both have been reduced to
// integer constants.
func (ent *Region) Bounds() (offset, length uint64, ok bool) {
	if offset, ok = constUint(ent.Offset); !ok {
		return 0, 0, false
	}
	length, ok = constUint(ent.Len)
	return offset, length, ok
}

func constUint(arg interface{}) (uint64, bool) {
	switch v := arg.(type) {
	case uint64:
		return v, true
	case *Const:
		return constUint(v.Value)
	}
	return 0, false
}

// FieldAccessType specifies the type of access (byte, word, e.t.c) used to
// read/write to a field.
type FieldAccessType uint8

// The list of supported FieldAccessType values.
const (
	FieldAccessTypeAny FieldAccessType = iota
	FieldAccessTypeByte
	FieldAccessTypeWord
	FieldAccessTypeDword
	FieldAccessTypeQword
	FieldAccessTypeBuffer
)

// BitWidth returns the register width used by this access type. Any access
// is treated as a byte access.
func (t FieldAccessType) BitWidth() uint8 {
	switch t {
	case FieldAccessTypeWord:
		return 16
	case FieldAccessTypeDword:
		return 32
	case FieldAccessTypeQword:
		return 64
	default:
		return 8
	}
}

// FieldLockRule specifies what type of locking is required when accesing field.
type FieldLockRule uint8

// The list of supported FieldLockRule values.
const (
	FieldLockRuleNoLock FieldLockRule = iota
	FieldLockRuleLock
)

// FieldUpdateRule specifies how a field value is updated when a write uses
// a value with a smaller width than the field.
type FieldUpdateRule uint8

// The list of supported FieldUpdateRule values.
const (
	FieldUpdateRulePreserve FieldUpdateRule = iota
	FieldUpdateRuleWriteAsOnes
	FieldUpdateRuleWriteAsZeros
)

// Field is an object that controls access to a host operating region. It is
// referenced by a list of FieldUnit objects that appear as siblings of a Field
// in the same scope.
type Field struct {
	Generic

	// The region which this field references.
	RegionName string
	Region     *Region

	AccessType FieldAccessType
	LockRule   FieldLockRule
	UpdateRule FieldUpdateRule
}

// NewField creates a new AML field entity.
func NewField(owner OwnerID) *Field {
	return &Field{
		Generic: Generic{
			op:    OpField,
			owner: owner,
		},
	}
}

// SetArg adds an argument value at the specified argument index.
func (ent *Field) SetArg(argIndex uint8, arg interface{}) bool {
	var (
		ok      bool
		uintVal uint64
	)

	switch argIndex {
	case 0:
		ent.RegionName, ok = arg.(string)
	case 1:
		uintVal, ok = arg.(uint64)

		ent.AccessType = FieldAccessType(uintVal & 0xf)        // access type; bits[0:3]
		ent.LockRule = FieldLockRule((uintVal >> 4) & 0x1)     // lock; bit 4
		ent.UpdateRule = FieldUpdateRule((uintVal >> 5) & 0x3) // update rule; bits[5:6]
	}

	return ok
}

// ResolveSymbolRefs resolves the region referenced by this field.
func (ent *Field) ResolveSymbolRefs(rootNs Container) *kernel.Error {
	if ent.Region != nil {
		return nil
	}

	if ent.Region, _ = FindInScope(ent.Parent(), rootNs, ent.RegionName).(*Region); ent.Region == nil {
		return &kernel.Error{
			Module:  "acpi_aml_vm",
			Message: "could not resolve referenced field region: " + ent.RegionName,
		}
	}

	return nil
}

// FieldUnit describes a sub-region inside a parent field.
type FieldUnit struct {
	GenericNamed

	// The field which defines this unit.
	Field *Field

	// The access type to use. Inherited by parent field unless explicitly
	// changed via a directive in the field unit definition list.
	AccessType FieldAccessType

	// Field offset in parent region and its width.
	BitOffset uint32
	BitWidth  uint32
}

// NewFieldUnit creates a new field unit entity.
func NewFieldUnit(owner OwnerID, name string) *FieldUnit {
	return &FieldUnit{
		GenericNamed: GenericNamed{
			Generic: Generic{
				op:    OpFieldUnit,
				owner: owner,
			},
			name: name,
		},
	}
}

// Reference holds a named reference to an AML symbol. References are
// resolved each time they are evaluated since the target may be an object
// created by the running method.
type Reference struct {
	Generic

	TargetName string
}

// NewReference creates a new reference to a named entity.
func NewReference(owner OwnerID, target string) *Reference {
	return &Reference{
		Generic: Generic{
			op:    OpName,
			owner: owner,
		},
		TargetName: target,
	}
}

// Method describes an invocable AML method. The method term list is stored
// in Body; the method's own scope only contains the named objects that are
// created while the method is loaded or executed.
type Method struct {
	Scope

	ArgCount   uint8
	Serialized bool
	SyncLevel  uint8

	// MaxConcurrency limits the number of concurrent invocations of a
	// method that is not serialized. A zero value means no limit.
	MaxConcurrency uint8

	Body []Entity
}

// NewMethod creates a new AML method entity.
func NewMethod(owner OwnerID, name string) *Method {
	return &Method{
		Scope: Scope{
			GenericNamed: GenericNamed{
				Generic: Generic{
					op:    OpMethod,
					owner: owner,
				},
				name: name,
			},
		},
	}
}

// SetArg adds an argument value at the specified argument index.
func (ent *Method) SetArg(argIndex uint8, arg interface{}) bool {
	var (
		ok      bool
		uintVal uint64
	)

	switch argIndex {
	case 0:
		// Arg0 is the name but it is actually defined when creating the entity
		ok = true
	case 1:
		// arg1 is the method flags
		uintVal, ok = arg.(uint64)

		ent.ArgCount = (uint8(uintVal) & 0x7)           // bits[0:2]
		ent.Serialized = (uint8(uintVal)>>3)&0x1 == 0x1 // bit 3
		ent.SyncLevel = (uint8(uintVal) >> 4) & 0xf     // bits[4:7]
	}
	return ok
}

// ConcurrencyLimit returns the maximum number of concurrent invocations for
// this method. A zero value means no limit.
func (ent *Method) ConcurrencyLimit() uint32 {
	if ent.Serialized {
		return 1
	}
	return uint32(ent.MaxConcurrency)
}

// Invocation describes an AML method invocation.
type Invocation struct {
	Generic

	MethodName string
}

// NewInvocation creates a new method invocation object.
func NewInvocation(owner OwnerID, name string, args ...interface{}) *Invocation {
	return &Invocation{
		Generic: Generic{
			op:    OpMethodInvocation,
			owner: owner,
			args:  args,
		},
		MethodName: name,
	}
}

// Device defines an AML device entity.
type Device struct {
	Scope
}

// NewDevice creates a new device object.
func NewDevice(owner OwnerID, name string) *Device {
	return &Device{
		Scope: Scope{
			GenericNamed: GenericNamed{
				Generic: Generic{
					op:    OpDevice,
					owner: owner,
				},
				name: name,
			},
		},
	}
}

// Package is an entity that contains a list of constant data objects or
// named references.
type Package struct {
	Generic
}

// NewPackage creates a new package entity holding the supplied elements.
func NewPackage(owner OwnerID, elements ...interface{}) *Package {
	return &Package{
		Generic: Generic{
			op:    OpPackage,
			owner: owner,
			args:  elements,
		},
	}
}
