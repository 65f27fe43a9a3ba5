// Package object implements the reference-counted operand objects that AML
// code passes between slots, operand stacks and namespace nodes.
package object

import (
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"sync/atomic"
)

// Type identifies the kind of value held by an Object.
type Type uint8

// The list of supported object types.
const (
	TypeInteger Type = iota
	TypeString
	TypeBuffer
	TypeReference
)

// String implements fmt.Stringer for Type.
func (t Type) String() string {
	switch t {
	case TypeInteger:
		return "Integer"
	case TypeString:
		return "String"
	case TypeBuffer:
		return "Buffer"
	case TypeReference:
		return "Reference"
	}
	return "Unknown"
}

// Object is a shared, reference-counted operand. A new object starts with a
// single reference owned by its creator; every additional holder calls AddRef
// and every holder calls Release exactly once when done.
//
// A reference object points either to a namespace node or to another object.
// Object references keep their target alive.
type Object struct {
	refs int32
	typ  Type

	intVal uint64
	strVal string
	bufVal []byte

	node   entity.Entity
	target *Object
}

// NewInteger returns an Integer object.
func NewInteger(v uint64) *Object {
	return &Object{refs: 1, typ: TypeInteger, intVal: v}
}

// NewString returns a String object.
func NewString(v string) *Object {
	return &Object{refs: 1, typ: TypeString, strVal: v}
}

// NewBuffer returns a Buffer object holding a copy of v.
func NewBuffer(v []byte) *Object {
	return &Object{refs: 1, typ: TypeBuffer, bufVal: append([]byte(nil), v...)}
}

// NewNodeRef returns a reference to a namespace node.
func NewNodeRef(node entity.Entity) *Object {
	return &Object{refs: 1, typ: TypeReference, node: node}
}

// NewObjectRef returns a reference to target. The reference holds its own
// reference to target.
func NewObjectRef(target *Object) *Object {
	return &Object{refs: 1, typ: TypeReference, target: target.AddRef()}
}

// FromValue converts an integer, string or byte slice into an object.
func FromValue(v interface{}) (*Object, bool) {
	switch val := v.(type) {
	case uint64:
		return NewInteger(val), true
	case int:
		return NewInteger(uint64(val)), true
	case string:
		return NewString(val), true
	case []byte:
		return NewBuffer(val), true
	case bool:
		if val {
			return NewInteger(1), true
		}
		return NewInteger(0), true
	}
	return nil, false
}

// Type returns the object type.
func (o *Object) Type() Type { return o.typ }

// AddRef registers an additional holder and returns o.
func (o *Object) AddRef() *Object {
	atomic.AddInt32(&o.refs, 1)
	return o
}

// Release drops a reference. When the last reference is dropped, any object
// referenced by o is released too.
func (o *Object) Release() {
	if o == nil {
		return
	}

	switch refs := atomic.AddInt32(&o.refs, -1); {
	case refs == 0:
		if o.target != nil {
			o.target.Release()
			o.target = nil
		}
		o.node = nil
	case refs < 0:
		panic(fmt.Sprintf("object: reference count underflow on %s object", o.typ))
	}
}

// RefCount returns the current number of references.
func (o *Object) RefCount() int32 { return atomic.LoadInt32(&o.refs) }

// Integer returns the integer value of o.
func (o *Object) Integer() (uint64, bool) {
	return o.intVal, o.typ == TypeInteger
}

// Str returns the string value of o.
func (o *Object) Str() (string, bool) {
	return o.strVal, o.typ == TypeString
}

// Bytes returns the buffer contents of o.
func (o *Object) Bytes() ([]byte, bool) {
	return o.bufVal, o.typ == TypeBuffer
}

// Node returns the namespace node referenced by o or nil.
func (o *Object) Node() entity.Entity { return o.node }

// Target returns the object referenced by o or nil.
func (o *Object) Target() *Object { return o.target }

// IsReference returns true if o is a reference to a node or an object.
func (o *Object) IsReference() bool { return o.typ == TypeReference }

// Value returns the plain Go value held by a non-reference object.
func (o *Object) Value() interface{} {
	switch o.typ {
	case TypeInteger:
		return o.intVal
	case TypeString:
		return o.strVal
	case TypeBuffer:
		return o.bufVal
	}
	return nil
}

// Copy returns a new object with the same contents as o. Copying a
// reference yields a new reference to the same target.
func (o *Object) Copy() *Object {
	switch {
	case o.typ == TypeReference && o.target != nil:
		return NewObjectRef(o.target)
	case o.typ == TypeReference:
		return NewNodeRef(o.node)
	case o.typ == TypeBuffer:
		return NewBuffer(o.bufVal)
	}
	return &Object{refs: 1, typ: o.typ, intVal: o.intVal, strVal: o.strVal}
}

// Set replaces the contents of o with a copy of the contents of src while
// keeping the identity of o. It is used when a store is redirected through a
// reference.
func (o *Object) Set(src *Object) {
	prev := o.target

	o.typ = src.typ
	o.intVal, o.strVal, o.bufVal = src.intVal, src.strVal, nil
	o.node, o.target = src.node, nil

	if src.bufVal != nil {
		o.bufVal = append([]byte(nil), src.bufVal...)
	}
	if src.target != nil {
		o.target = src.target.AddRef()
	}
	if prev != nil {
		prev.Release()
	}
}

// String implements fmt.Stringer.
func (o *Object) String() string {
	if o == nil {
		return "<none>"
	}

	switch o.typ {
	case TypeInteger:
		return fmt.Sprintf("0x%x", o.intVal)
	case TypeString:
		return fmt.Sprintf("%q", o.strVal)
	case TypeBuffer:
		return fmt.Sprintf("Buffer(% x)", o.bufVal)
	case TypeReference:
		if o.target != nil {
			return "RefOf(" + o.target.String() + ")"
		}
		return "RefOf(" + entity.PathOf(o.node) + ")"
	}
	return "Unknown"
}
