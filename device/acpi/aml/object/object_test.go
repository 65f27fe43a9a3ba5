package object

import (
	"gopheros/device/acpi/aml/entity"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromValue(t *testing.T) {
	specs := []struct {
		in      interface{}
		expType Type
		expVal  interface{}
	}{
		{uint64(42), TypeInteger, uint64(42)},
		{7, TypeInteger, uint64(7)},
		{true, TypeInteger, uint64(1)},
		{false, TypeInteger, uint64(0)},
		{"foo", TypeString, "foo"},
		{[]byte{1, 2}, TypeBuffer, []byte{1, 2}},
	}

	for specIndex, spec := range specs {
		obj, ok := FromValue(spec.in)
		require.True(t, ok, "[spec %d]", specIndex)
		assert.Equal(t, spec.expType, obj.Type(), "[spec %d]", specIndex)
		assert.Equal(t, spec.expVal, obj.Value(), "[spec %d]", specIndex)
		assert.EqualValues(t, 1, obj.RefCount())
	}

	_, ok := FromValue(3.14)
	assert.False(t, ok)
}

func TestReferenceCounting(t *testing.T) {
	target := NewInteger(1)
	ref := NewObjectRef(target)
	assert.EqualValues(t, 2, target.RefCount())

	target.Release()
	assert.EqualValues(t, 1, target.RefCount(), "reference must keep its target alive")

	ref.AddRef()
	ref.Release()
	assert.EqualValues(t, 1, target.RefCount())

	ref.Release()
	assert.Zero(t, target.RefCount())
	assert.Nil(t, ref.Target())

	assert.Panics(t, func() { ref.Release() })

	// Releasing a nil object is a no-op
	var nilObj *Object
	nilObj.Release()
}

func TestSetAndCopy(t *testing.T) {
	inner := NewString("inner")
	dst := NewObjectRef(inner)
	inner.Release()

	dst.Set(NewBuffer([]byte{0xaa}))
	buf, ok := dst.Bytes()
	require.True(t, ok)
	assert.Equal(t, []byte{0xaa}, buf)
	assert.Zero(t, inner.RefCount(), "previous reference target must be released")

	cp := dst.Copy()
	buf[0] = 0xbb
	cpBuf, _ := cp.Bytes()
	assert.Equal(t, []byte{0xaa}, cpBuf)

	node := entity.NewName(0, "VAL0", uint64(1))
	nodeRef := NewNodeRef(node)
	cpRef := nodeRef.Copy()
	assert.True(t, cpRef.IsReference())
	assert.Equal(t, entity.Entity(node), cpRef.Node())
}

func TestObjectString(t *testing.T) {
	root := entity.NewScope(entity.OpScope, 0, `\`)
	node := entity.NewName(0, "VAL0", uint64(1))
	root.Append(node)

	specs := []struct {
		obj *Object
		exp string
	}{
		{NewInteger(255), "0xff"},
		{NewString("abc"), `"abc"`},
		{NewBuffer([]byte{1, 2}), "Buffer(01 02)"},
		{NewNodeRef(node), `RefOf(\VAL0)`},
		{NewObjectRef(NewInteger(1)), "RefOf(0x1)"},
		{nil, "<none>"},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.exp, spec.obj.String(), "[spec %d]", specIndex)
	}
	assert.Equal(t, "Reference", TypeReference.String())
}
