package entity

import (
	"reflect"
	"testing"
)

func TestEntityMethods(t *testing.T) {
	namedConst := NewConst(OpDwordPrefix, 42, "foo")
	namedConst.SetName("TAG0")

	specs := []struct {
		ent     Entity
		expOp   AMLOpcode
		expName string
	}{
		{NewGeneric(OpNoop, 42), OpNoop, ""},
		{NewGenericNamed(OpMutex, 42), OpMutex, ""},
		{namedConst, OpDwordPrefix, "TAG0"},
		{NewName(42, "VAL0", uint64(1)), OpName, "VAL0"},
		{NewScope(OpScope, 42, "_SB_"), OpScope, "_SB_"},
		{NewField(42), OpField, ""},
		{NewReference(42, "TRG0"), OpName, ""},
		{NewMethod(42, "FOO0"), OpMethod, "FOO0"},
		{NewInvocation(42, "MTH0"), OpMethodInvocation, ""},
		{NewDevice(42, "DEV0"), OpDevice, "DEV0"},
		{NewRegion(42), OpOpRegion, ""},
		{NewFieldUnit(42, "FOO0"), OpFieldUnit, "FOO0"},
		{NewPackage(42), OpPackage, ""},
	}

	t.Run("opcode and name getter", func(t *testing.T) {
		for specIndex, spec := range specs {
			if got := spec.ent.Opcode(); got != spec.expOp {
				t.Errorf("[spec %d] expected to get back opcode %d; got %d", specIndex, spec.expOp, got)
			}

			if got := spec.ent.Name(); got != spec.expName {
				t.Errorf("[spec %d] expected to get name: %q; got %q", specIndex, spec.expName, got)
			}
		}
	})

	t.Run("owner getter and setter", func(t *testing.T) {
		for specIndex, spec := range specs {
			if got := spec.ent.Owner(); got != 42 {
				t.Errorf("[spec %d] expected to get back owner 42; got %d", specIndex, got)
			}

			spec.ent.SetOwner(7)
			if got := spec.ent.Owner(); got != 7 {
				t.Errorf("[spec %d] expected to get back owner 7; got %d", specIndex, got)
			}
		}
	})

	t.Run("attachment", func(t *testing.T) {
		for specIndex, spec := range specs {
			if got := spec.ent.Attachment(); got != nil {
				t.Errorf("[spec %d] expected no attachment; got %v", specIndex, got)
			}

			spec.ent.Attach(specIndex)
			if got := spec.ent.Attachment(); got != specIndex {
				t.Errorf("[spec %d] expected attachment %d; got %v", specIndex, specIndex, got)
			}
		}
	})

	t.Run("append/remove/get parent methods", func(t *testing.T) {
		parent := NewScope(OpScope, 2, `\`)

		if parent.Last() != nil {
			t.Fatal("expected Last() to return nil for an empty scope")
		}

		for specIndex, spec := range specs {
			parent.Append(spec.ent)
			if got := spec.ent.Parent(); got != parent {
				t.Errorf("[spec %d] expected to get back parent %v; got %v", specIndex, parent, got)
			}

			if got := parent.Last(); got != spec.ent {
				t.Errorf("[spec %d] expected parent's last entity to be the one just appended", specIndex)
			}

			parent.Remove(spec.ent)
			if spec.ent.Parent() != nil {
				t.Errorf("[spec %d] expected parent to be cleared after removal", specIndex)
			}
		}

		if got := len(parent.Children()); got != 0 {
			t.Fatalf("expected parent not to have any child nodes; got %d", got)
		}
	})
}

func TestEntityArgAssignment(t *testing.T) {
	specs := []struct {
		ent         Entity
		argList     []interface{}
		expArgList  []interface{}
		limitedArgs bool
	}{
		{
			NewGeneric(1, 2),
			[]interface{}{"foo", 1, "bar"},
			[]interface{}{"foo", 1, "bar"},
			false,
		},
		{
			NewGenericNamed(1, 2),
			[]interface{}{"foo", 1, "bar"},
			[]interface{}{1, "bar"}, // GenericNamed uses arg0 as the name
			false,
		},
		{
			NewConst(1, 2, 3),
			[]interface{}{"foo"},
			nil, // Const populates its internal state using the arg 0
			true,
		},
		{
			NewRegion(2),
			[]interface{}{"REG0", uint64(0x4), uint64(0), uint64(10)},
			nil, // Region populates its internal state using the first 4 args
			true,
		},
		{
			NewMethod(2, "MTH0"),
			[]interface{}{"arg0 ignored", uint64(0x42)},
			nil, // Method populates its internal state using the first 2 args
			true,
		},
		{
			NewField(2),
			[]interface{}{"REG0", uint64(128)},
			nil, // Field populates its internal state using the first 2 args
			true,
		},
	}

nextSpec:
	for specIndex, spec := range specs {
		for i, arg := range spec.argList {
			if !spec.ent.SetArg(uint8(i), arg) {
				t.Errorf("[spec %d] error setting arg %d", specIndex, i)
				continue nextSpec
			}
		}

		if spec.limitedArgs {
			if spec.ent.SetArg(uint8(len(spec.argList)), nil) {
				t.Errorf("[spec %d] expected additional calls to setArg to return false", specIndex)
				continue nextSpec
			}
		}

		if got := spec.ent.Args(); !reflect.DeepEqual(got, spec.expArgList) {
			t.Errorf("[spec %d] expected to get back arg list %v; got %v", specIndex, spec.expArgList, got)
		}
	}
}

func TestMethodFlags(t *testing.T) {
	specs := []struct {
		flags          uint64
		maxConcurrency uint8
		expArgCount    uint8
		expSyncLevel   uint8
		expLimit       uint32
	}{
		{0x00, 0, 0, 0, 0},
		{0x02, 3, 2, 0, 3},
		{0x0b, 3, 3, 0, 1}, // serialized methods ignore MaxConcurrency
		{0x79, 0, 1, 7, 1},
	}

	for specIndex, spec := range specs {
		m := NewMethod(0, "MTH0")
		m.MaxConcurrency = spec.maxConcurrency
		m.SetArg(1, spec.flags)

		if m.ArgCount != spec.expArgCount {
			t.Errorf("[spec %d] expected arg count %d; got %d", specIndex, spec.expArgCount, m.ArgCount)
		}
		if m.SyncLevel != spec.expSyncLevel {
			t.Errorf("[spec %d] expected sync level %d; got %d", specIndex, spec.expSyncLevel, m.SyncLevel)
		}
		if got := m.ConcurrencyLimit(); got != spec.expLimit {
			t.Errorf("[spec %d] expected concurrency limit %d; got %d", specIndex, spec.expLimit, got)
		}
	}
}

func TestRegionBounds(t *testing.T) {
	specs := []struct {
		offset, length interface{}
		expOffset      uint64
		expLen         uint64
		expOK          bool
	}{
		{uint64(0x400), uint64(8), 0x400, 8, true},
		{NewConst(OpWordPrefix, 0, uint64(0x80)), NewConst(OpBytePrefix, 0, uint64(2)), 0x80, 2, true},
		{"bogus", uint64(2), 0, 0, false},
		{uint64(2), nil, 0, 0, false},
	}

	for specIndex, spec := range specs {
		reg := NewRegion(0)
		reg.Offset, reg.Len = spec.offset, spec.length

		offset, length, ok := reg.Bounds()
		if ok != spec.expOK || offset != spec.expOffset || length != spec.expLen {
			t.Errorf("[spec %d] expected (%d, %d, %t); got (%d, %d, %t)", specIndex, spec.expOffset, spec.expLen, spec.expOK, offset, length, ok)
		}
	}
}

func TestFieldResolveSymbolRefs(t *testing.T) {
	root := NewScope(OpScope, 0, `\`)
	reg0 := NewRegion(0)
	reg0.SetArg(0, "REG0")
	root.Append(reg0)

	specs := []struct {
		field  *Field
		expErr string
	}{
		{&Field{RegionName: "MISSING"}, "could not resolve referenced field region: MISSING"},
		{&Field{RegionName: "REG0"}, ""},
	}

	for specIndex, spec := range specs {
		root.Append(spec.field)
		err := spec.field.ResolveSymbolRefs(root)
		switch {
		case spec.expErr != "" && (err == nil || err.Message != spec.expErr):
			t.Errorf("[spec %d] expected ResolveSymbolRefs to return error %q; got: %v", specIndex, spec.expErr, err)
		case spec.expErr == "" && (err != nil || spec.field.Region != reg0):
			t.Errorf("[spec %d] expected region to be resolved; got error: %v", specIndex, err)
		}
	}
}

func TestRegionSpaceAndAccessType(t *testing.T) {
	if got := RegionSpaceSystemIO.String(); got != "SystemIO" {
		t.Errorf("expected SystemIO; got %q", got)
	}
	if got := RegionSpace(0x80).String(); got != "UserDefined" {
		t.Errorf("expected UserDefined; got %q", got)
	}

	for access, exp := range map[FieldAccessType]uint8{
		FieldAccessTypeAny:   8,
		FieldAccessTypeByte:  8,
		FieldAccessTypeWord:  16,
		FieldAccessTypeDword: 32,
		FieldAccessTypeQword: 64,
	} {
		if got := access.BitWidth(); got != exp {
			t.Errorf("access type %d: expected width %d; got %d", access, exp, got)
		}
	}
}
