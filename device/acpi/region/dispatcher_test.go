package region

import (
	"context"
	"errors"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/method"
	"gopheros/device/acpi/aml/object"
	"gopheros/device/acpi/hw"
	"gopheros/device/acpi/table"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const spaceUser = SpaceID(0x80)

type regCall struct {
	path    string
	space   uint64
	connect uint64
}

type fakeEvaluator struct {
	ns *entity.Namespace

	mu    sync.Mutex
	calls []regCall
	errFn func(regCall) error
}

func (fe *fakeEvaluator) Evaluate(_ context.Context, node entity.Entity, args ...*object.Object) (*object.Object, error) {
	// Method evaluation needs the namespace lock to be available.
	_ = fe.ns.Lookup(nil, `\_SB_`)

	space, _ := args[0].Integer()
	connect, _ := args[1].Integer()
	call := regCall{entity.PathOf(node), space, connect}

	fe.mu.Lock()
	fe.calls = append(fe.calls, call)
	fe.mu.Unlock()

	if fe.errFn != nil {
		return nil, fe.errFn(call)
	}
	return nil, nil
}

func (fe *fakeEvaluator) recorded() []regCall {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return append([]regCall(nil), fe.calls...)
}

func newRegionNode(name string, space SpaceID, offset, length uint64) *entity.Region {
	r := entity.NewRegion(entity.OwnerTable)
	r.SetArg(0, name)
	r.SetArg(1, uint64(space))
	r.SetArg(2, offset)
	r.SetArg(3, length)
	return r
}

// newTestTree builds \_SB_.DEV0 holding region REG0 and a _REG method.
func newTestTree(t *testing.T, space SpaceID) (*entity.Namespace, *entity.Device, *entity.Region) {
	ns := entity.NewNamespace(0, 0)
	dev := entity.NewDevice(entity.OwnerTable, "DEV0")
	reg := newRegionNode("REG0", space, 0x400, 8)

	ns.Lock()
	defer ns.Unlock()
	require.NoError(t, ns.Insert(ns.LookupLocked(nil, `\_SB_`).(entity.Container), dev))
	require.NoError(t, ns.Insert(dev, reg))
	require.NoError(t, ns.Insert(dev, entity.NewMethod(entity.OwnerTable, "_REG")))
	return ns, dev, reg
}

func nopHandler(Function, uint64, uint8, *uint64, interface{}, interface{}) error { return nil }

func TestAttachDetach(t *testing.T) {
	ns, dev, reg := newTestTree(t, spaceUser)
	eval := &fakeEvaluator{ns: ns}
	d := NewDispatcher(ns, eval, zaptest.NewLogger(t))

	b, err := d.InstallAddressSpaceHandler(context.Background(), dev, spaceUser, nopHandler, nil, nil)
	require.NoError(t, err)

	obj := ObjectOf(reg)
	require.NotNil(t, obj)
	flags, bound := d.Status(obj)
	assert.Equal(t, FlagAccessible, flags)
	assert.Same(t, b, bound)
	assert.Equal(t, []*Object{obj}, d.Regions(b))

	d.Detach(context.Background(), obj, false)
	flags, bound = d.Status(obj)
	assert.Zero(t, flags)
	assert.Nil(t, bound)
	assert.Empty(t, d.Regions(b))

	// Detaching an unbound region is a no-op
	d.Detach(context.Background(), obj, false)

	assert.Equal(t, []regCall{
		{`\_SB_.DEV0._REG`, uint64(spaceUser), 1},
		{`\_SB_.DEV0._REG`, uint64(spaceUser), 0},
	}, eval.recorded())

	t.Run("with namespace lock held", func(t *testing.T) {
		ns.Lock()
		require.NoError(t, d.Attach(context.Background(), b, obj, true))
		d.Detach(context.Background(), obj, true)
		ns.Unlock()

		assert.Len(t, eval.recorded(), 4)
	})

	t.Run("errors", func(t *testing.T) {
		assert.Equal(t, ErrNoHandler, d.Attach(context.Background(), nil, obj, false))

		other := &Binding{Space: SpaceSystemIO, Handler: nopHandler}
		assert.Equal(t, ErrBadSpace, d.Attach(context.Background(), other, obj, false))

		require.NoError(t, d.Attach(context.Background(), b, obj, false))
		require.NoError(t, d.Attach(context.Background(), b, obj, false))
		assert.Equal(t, []*Object{obj}, d.Regions(b))

		dup := &Binding{Space: spaceUser, Handler: nopHandler}
		assert.Equal(t, ErrHandlerExists, d.Attach(context.Background(), dup, obj, false))

		_, err := d.InstallAddressSpaceHandler(context.Background(), dev, spaceUser, nopHandler, nil, nil)
		assert.Equal(t, ErrHandlerExists, err)
	})
}

func TestAttachReportsRegFailure(t *testing.T) {
	ns, dev, reg := newTestTree(t, spaceUser)
	regErr := errors.New("_REG failed")
	eval := &fakeEvaluator{ns: ns, errFn: func(regCall) error { return regErr }}
	d := NewDispatcher(ns, eval, zaptest.NewLogger(t))

	b := &Binding{Space: spaceUser, Handler: nopHandler, Node: dev}
	obj, err := NewObject(reg)
	require.NoError(t, err)

	err = d.Attach(context.Background(), b, obj, false)
	assert.True(t, errors.Is(err, regErr))

	_, bound := d.Status(obj)
	assert.Same(t, b, bound, "region must stay attached when _REG fails")
}

func TestDetachLogsFailures(t *testing.T) {
	ns, dev, reg := newTestTree(t, spaceUser)
	regErr := errors.New("_REG failed")
	eval := &fakeEvaluator{ns: ns, errFn: func(call regCall) error {
		if call.connect == 0 {
			return regErr
		}
		return nil
	}}

	core, logs := observer.New(zapcore.WarnLevel)
	d := NewDispatcher(ns, eval, zap.New(core))

	var deactivated int
	setup := func(_ *Object, fn SetupFunction, _ interface{}) (interface{}, error) {
		if fn == SetupDeactivate {
			deactivated++
			return nil, errors.New("deactivate failed")
		}
		return "region-ctx", nil
	}

	_, err := d.InstallAddressSpaceHandler(context.Background(), dev, spaceUser, nopHandler, setup, nil)
	require.NoError(t, err)

	obj := ObjectOf(reg)
	var v uint64
	require.NoError(t, d.Dispatch(context.Background(), obj, FunctionRead, 0, 8, &v))

	d.Detach(context.Background(), obj, false)
	assert.Equal(t, 1, deactivated)

	flags, bound := d.Status(obj)
	assert.Zero(t, flags)
	assert.Nil(t, bound)

	entries := logs.FilterField(zap.String("region", `\_SB_.DEV0.REG0`)).All()
	require.Len(t, entries, 2)
	assert.Equal(t, "region disconnect notification failed", entries[0].Message)
	assert.Equal(t, "region deactivation failed", entries[1].Message)
}

func TestDispatch(t *testing.T) {
	ns, dev, reg := newTestTree(t, spaceUser)
	d := NewDispatcher(ns, nil, zaptest.NewLogger(t))
	lock := method.NewExecLock(0)

	var (
		activations int
		lockHeld    []bool
		guard       *method.Guard
	)
	setup := func(obj *Object, fn SetupFunction, handlerCtx interface{}) (interface{}, error) {
		if fn == SetupActivate {
			activations++
			lockHeld = append(lockHeld, guard.Active())
		}
		return handlerCtx.(string) + "/" + obj.Node.Name(), nil
	}

	var gotRegionCtx interface{}
	handler := func(fn Function, address uint64, bitWidth uint8, value *uint64, _, regionCtx interface{}) error {
		lockHeld = append(lockHeld, guard.Active())
		gotRegionCtx = regionCtx
		if fn == FunctionRead {
			*value = address
		}
		return nil
	}

	_, err := d.InstallAddressSpaceHandler(context.Background(), dev, spaceUser, handler, setup, "dev0")
	require.NoError(t, err)
	obj := ObjectOf(reg)

	ctx, g, err := lock.Enter(context.Background())
	require.NoError(t, err)
	guard = g
	defer g.Exit()

	var v uint64
	require.NoError(t, d.Dispatch(ctx, obj, FunctionRead, 2, 16, &v))
	require.NoError(t, d.Dispatch(ctx, obj, FunctionWrite, 4, 32, &v))

	assert.EqualValues(t, 0x402, v)
	assert.Equal(t, 1, activations)
	assert.Equal(t, "dev0/REG0", gotRegionCtx)
	assert.Equal(t, []bool{false, false, false}, lockHeld, "activation and external handlers run with the execution lock released")
	assert.True(t, g.Active())

	flags, _ := d.Status(obj)
	assert.Equal(t, FlagAccessible|FlagSetupComplete, flags)
}

func TestDispatchErrors(t *testing.T) {
	ns, dev, reg := newTestTree(t, spaceUser)
	d := NewDispatcher(ns, nil, zaptest.NewLogger(t))

	obj, err := NewObject(reg)
	require.NoError(t, err)

	var v uint64
	assert.True(t, errors.Is(d.Dispatch(context.Background(), obj, FunctionRead, 0, 8, &v), ErrNoHandler))
	assert.Equal(t, ErrNoHandler, d.Dispatch(context.Background(), nil, FunctionRead, 0, 8, &v))

	setupErr := errors.New("no power")
	setup := func(*Object, SetupFunction, interface{}) (interface{}, error) { return nil, setupErr }
	_, err = d.InstallAddressSpaceHandler(context.Background(), dev, spaceUser, nopHandler, setup, nil)
	require.NoError(t, err)
	obj = ObjectOf(reg)

	assert.True(t, errors.Is(d.Dispatch(context.Background(), obj, FunctionRead, 7, 16, &v), ErrOutOfRange))

	err = d.Dispatch(context.Background(), obj, FunctionRead, 0, 8, &v)
	assert.True(t, errors.Is(err, ErrSetupFailed))
	flags, _ := d.Status(obj)
	assert.Zero(t, flags&FlagSetupComplete)

	bad := entity.NewRegion(entity.OwnerTable)
	bad.Offset = "not-a-constant"
	_, err = NewObject(bad)
	assert.Equal(t, ErrBadRegion, err)
}

func TestNearestHandlerWins(t *testing.T) {
	ns, dev, devReg := newTestTree(t, spaceUser)
	sbReg := newRegionNode("REG1", spaceUser, 0x800, 4)
	ns.Lock()
	require.NoError(t, ns.Insert(ns.LookupLocked(nil, `\_SB_`).(entity.Container), sbReg))
	ns.Unlock()

	d := NewDispatcher(ns, &fakeEvaluator{ns: ns}, zaptest.NewLogger(t))
	ctx := context.Background()

	devBinding, err := d.InstallAddressSpaceHandler(ctx, dev, spaceUser, nopHandler, nil, nil)
	require.NoError(t, err)
	rootBinding, err := d.InstallAddressSpaceHandler(ctx, ns.Root(), spaceUser, nopHandler, nil, nil)
	require.NoError(t, err)

	_, bound := d.Status(ObjectOf(devReg))
	assert.Same(t, devBinding, bound)
	_, bound = d.Status(ObjectOf(sbReg))
	assert.Same(t, rootBinding, bound)

	require.NoError(t, d.RemoveAddressSpaceHandler(ctx, dev, spaceUser))
	_, bound = d.Status(ObjectOf(devReg))
	assert.Same(t, rootBinding, bound, "regions are rebound to the next nearest handler")
	assert.Len(t, d.Regions(rootBinding), 2)

	assert.Equal(t, ErrNoHandler, d.RemoveAddressSpaceHandler(ctx, dev, spaceUser))
}

func TestInitializeRegion(t *testing.T) {
	ns, dev, _ := newTestTree(t, spaceUser)
	d := NewDispatcher(ns, &fakeEvaluator{ns: ns}, zaptest.NewLogger(t))
	ctx := context.Background()

	b, err := d.InstallAddressSpaceHandler(ctx, dev, spaceUser, nopHandler, nil, nil)
	require.NoError(t, err)

	late := newRegionNode("LATE", spaceUser, 0, 1)
	orphan := newRegionNode("ORPH", SpaceSystemIO, 0, 1)
	ns.Lock()
	require.NoError(t, ns.Insert(dev, late))
	require.NoError(t, ns.Insert(dev, orphan))

	obj, err := d.InitializeRegion(ctx, late, true)
	ns.Unlock()
	require.NoError(t, err)
	_, bound := d.Status(obj)
	assert.Same(t, b, bound)

	obj, err = d.InitializeRegion(ctx, orphan, false)
	require.NoError(t, err)
	_, bound = d.Status(obj)
	assert.Nil(t, bound)

	bad := entity.NewRegion(entity.OwnerTable)
	_, err = d.InitializeRegion(ctx, bad, false)
	assert.True(t, errors.Is(err, ErrBadRegion))
}

func TestDeletedRegionsAreDetached(t *testing.T) {
	ns, dev, reg := newTestTree(t, spaceUser)
	eval := &fakeEvaluator{ns: ns}
	d := NewDispatcher(ns, eval, zaptest.NewLogger(t))

	b, err := d.InstallAddressSpaceHandler(context.Background(), dev, spaceUser, nopHandler, nil, nil)
	require.NoError(t, err)

	ns.Lock()
	ns.DeleteSubtree(context.Background(), dev)
	ns.Unlock()

	assert.Empty(t, d.Regions(b))
	_, bound := d.Status(ObjectOf(reg))
	assert.Nil(t, bound)
}

func TestDefaultHandlers(t *testing.T) {
	ns, _, reg := newTestTree(t, SpaceSystemIO)
	bus := hw.NewBus()
	d := NewDispatcher(ns, &fakeEvaluator{ns: ns}, zaptest.NewLogger(t))

	require.NoError(t, d.InstallDefaultHandlers(context.Background(), ns.Root(), bus))
	assert.Equal(t, ErrHandlerExists, d.InstallDefaultHandlers(context.Background(), ns.Root(), bus))

	obj := ObjectOf(reg)
	_, b := d.Status(obj)
	require.NotNil(t, b)
	assert.True(t, b.Default())

	v := uint64(0xbeef)
	require.NoError(t, d.Dispatch(context.Background(), obj, FunctionWrite, 2, 16, &v))
	assert.EqualValues(t, 0xef, bus.Peek(table.AddressSpaceSysIO, 0x402))
	assert.EqualValues(t, 0xbe, bus.Peek(table.AddressSpaceSysIO, 0x403))

	v = 0
	require.NoError(t, d.Dispatch(context.Background(), obj, FunctionRead, 2, 16, &v))
	assert.EqualValues(t, 0xbeef, v)

	// Default handlers run with the execution lock held
	lock := method.NewExecLock(0)
	ctx, g, err := lock.Enter(context.Background())
	require.NoError(t, err)
	defer g.Exit()
	require.NoError(t, d.Dispatch(ctx, obj, FunctionRead, 0, 8, &v))
	assert.True(t, g.Active())

	assert.Equal(t, "SystemIO", SpaceSystemIO.String())
}
