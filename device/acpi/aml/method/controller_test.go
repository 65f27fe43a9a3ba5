package method

import (
	"context"
	"errors"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/object"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeInterp struct {
	mu     sync.Mutex
	parses []Pass
	stored map[entity.Entity]*object.Object

	parseFn func(context.Context, *Frame) error
	execFn  func(context.Context, *Frame) error
}

func (fi *fakeInterp) ParseAML(ctx context.Context, f *Frame) error {
	fi.mu.Lock()
	fi.parses = append(fi.parses, f.Pass)
	fi.mu.Unlock()

	if fi.parseFn != nil {
		return fi.parseFn(ctx, f)
	}
	return nil
}

func (fi *fakeInterp) ExecuteAML(ctx context.Context, f *Frame) error {
	if fi.execFn != nil {
		return fi.execFn(ctx, f)
	}
	return nil
}

func (fi *fakeInterp) LoadNode(_ context.Context, node entity.Entity) (*object.Object, error) {
	if c, ok := node.(*entity.Const); ok {
		if obj, ok := object.FromValue(c.Value); ok {
			return obj, nil
		}
	}
	return nil, ErrBadOperandType
}

func (fi *fakeInterp) StoreNode(_ context.Context, node entity.Entity, obj *object.Object) error {
	if fi.stored == nil {
		fi.stored = make(map[entity.Entity]*object.Object)
	}
	fi.stored[node] = obj
	return nil
}

func newTestController(t *testing.T, fi *fakeInterp, cfg Config) (*Controller, *entity.Namespace) {
	ns := entity.NewNamespace(0, 0)
	c := NewController(ns, cfg, zaptest.NewLogger(t))
	c.SetInterpreter(fi)
	return c, ns
}

func addMethod(t *testing.T, c *Controller, ns *entity.Namespace, name string, argCount uint8, serialized bool, maxConcurrency uint8) *entity.Method {
	m := entity.NewMethod(entity.OwnerTable, name)
	m.ArgCount = argCount
	m.Serialized = serialized
	m.MaxConcurrency = maxConcurrency

	ns.Lock()
	require.NoError(t, ns.Insert(ns.Root(), m))
	ns.Unlock()

	c.Attach(m)
	return m
}

// declareTemp is a ParseAML implementation that creates a named object owned
// by the invoked method below the method node.
func declareTemp(_ context.Context, f *Frame) error {
	ns := f.Controller().Namespace()
	ns.Lock()
	defer ns.Unlock()

	if ns.Child(f.Node(), "TMP0") != nil {
		return nil
	}
	return ns.Insert(f.Node(), entity.NewName(f.Method.Owner(), "TMP0", uint64(0)))
}

func TestLoad(t *testing.T) {
	fi := &fakeInterp{parseFn: declareTemp}
	c, ns := newTestController(t, fi, Config{})
	m := addMethod(t, c, ns, "MTH0", 0, true, 0)

	_, err := c.Load(context.Background(), nil)
	assert.Equal(t, ErrNullEntry, err)

	_, err = c.Load(context.Background(), entity.NewMethod(0, "NODE"))
	assert.Equal(t, ErrNullObject, err)

	obj, err := c.Load(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, []Pass{PassLoad}, fi.parses)
	assert.NotEqual(t, entity.OwnerTable, obj.Owner())
	assert.NotNil(t, obj.sem, "semaphore must be created for methods with a concurrency limit")
	assert.NotNil(t, ns.Lookup(nil, `\MTH0.TMP0`))
	assert.Zero(t, obj.ThreadCount())
}

func TestLoadFailure(t *testing.T) {
	parseErr := errors.New("parse failed")
	fi := &fakeInterp{parseFn: func(context.Context, *Frame) error { return parseErr }}
	c, ns := newTestController(t, fi, Config{})
	m := addMethod(t, c, ns, "MTH0", 0, false, 0)

	_, err := c.Load(context.Background(), m)
	assert.Equal(t, parseErr, err)
}

func TestEvaluate(t *testing.T) {
	fi := &fakeInterp{
		parseFn: declareTemp,
		execFn: func(ctx context.Context, f *Frame) error {
			arg0, err := f.Slots.Get(SlotArg, 0)
			if err != nil {
				return err
			}
			arg1, err := f.Slots.Get(SlotArg, 1)
			if err != nil {
				return err
			}

			a, _ := arg0.Integer()
			b, _ := arg1.Integer()
			f.SetResult(object.NewInteger(a + b))
			return nil
		},
	}
	c, ns := newTestController(t, fi, Config{})
	m := addMethod(t, c, ns, "ADD0", 2, false, 0)

	res, err := c.Evaluate(context.Background(), m, object.NewInteger(40), object.NewInteger(2))
	require.NoError(t, err)
	val, _ := res.Integer()
	assert.EqualValues(t, 42, val)

	assert.Zero(t, m.Attachment().(*Object).ThreadCount())
	assert.Nil(t, ns.Lookup(nil, `\ADD0.TMP0`), "method objects must be deleted after the last invocation")
	assert.Zero(t, ns.Owners().InUse())

	// Missing args are reported as program errors
	_, err = c.Evaluate(context.Background(), m, object.NewInteger(1))
	assert.True(t, IsProgramError(err))
	assert.Zero(t, m.Attachment().(*Object).ThreadCount())

	// Non-method nodes evaluate to their value
	name := entity.NewName(entity.OwnerTable, "VAL0", "hello")
	res, err = c.Evaluate(context.Background(), name)
	require.NoError(t, err)
	str, _ := res.Str()
	assert.Equal(t, "hello", str)

	_, err = c.Evaluate(context.Background(), nil)
	assert.Equal(t, ErrNullEntry, err)
}

func TestEvaluateReentrantWithGuard(t *testing.T) {
	var inner *entity.Method

	fi := &fakeInterp{}
	c, ns := newTestController(t, fi, Config{ExecWait: 50 * time.Millisecond})
	inner = addMethod(t, c, ns, "INNR", 0, false, 0)
	outer := addMethod(t, c, ns, "OUTR", 0, false, 0)

	fi.execFn = func(ctx context.Context, f *Frame) error {
		if f.Node() != outer {
			f.SetResult(object.NewInteger(1))
			return nil
		}

		// Evaluating with the active guard must not try to re-acquire
		// the execution lock.
		res, err := c.Evaluate(ctx, inner)
		if err != nil {
			return err
		}
		f.SetResult(res)
		return nil
	}

	res, err := c.Evaluate(context.Background(), outer)
	require.NoError(t, err)
	val, _ := res.Integer()
	assert.EqualValues(t, 1, val)
}

func TestCallPassesArgsAndResult(t *testing.T) {
	fi := &fakeInterp{parseFn: declareTemp}
	c, ns := newTestController(t, fi, Config{})
	callee := addMethod(t, c, ns, "CALE", 2, false, 0)
	caller := addMethod(t, c, ns, "CALR", 0, false, 0)

	var (
		callerDepthDuringCall int
		callerState           FrameState
	)

	fi.execFn = func(ctx context.Context, f *Frame) error {
		switch f.Node() {
		case caller:
			f.Push(object.NewInteger(5))
			f.Push(object.NewInteger(7))
			f.ResultRequired = true
			if err := f.Controller().Call(ctx, f, callee, 2); err != nil {
				return err
			}

			if f.OperandDepth() != 0 {
				return errors.New("caller operands were not consumed")
			}
			f.SetResult(f.TakeCallResult())
			return nil
		default:
			callerDepthDuringCall = f.Caller.OperandDepth()
			callerState = f.Caller.State()

			arg0, err := f.Slots.Get(SlotArg, 0)
			if err != nil {
				return err
			}
			arg1, err := f.Slots.Get(SlotArg, 1)
			if err != nil {
				return err
			}
			a, _ := arg0.Integer()
			b, _ := arg1.Integer()
			f.SetResult(object.NewInteger(a*10 + b))
			return nil
		}
	}

	res, err := c.Evaluate(context.Background(), caller)
	require.NoError(t, err)
	val, _ := res.Integer()
	assert.EqualValues(t, 57, val)
	assert.Zero(t, callerDepthDuringCall)
	assert.Equal(t, FrameNested, callerState)
	assert.Zero(t, callee.Attachment().(*Object).ThreadCount())
	assert.Zero(t, caller.Attachment().(*Object).ThreadCount())
}

func TestCallArgumentBounds(t *testing.T) {
	specs := []struct {
		pushed   []uint64
		nargs    int
		argCount uint8
		expArgs  []uint64
	}{
		// Short call: the pending operand below the invocation is left alone
		{[]uint64{9}, 0, 1, nil},
		// Extra arguments are dropped from the end
		{[]uint64{9, 3, 4}, 2, 1, []uint64{3}},
		{[]uint64{9, 3, 4}, 2, 2, []uint64{3, 4}},
	}

	for specIndex, spec := range specs {
		fi := &fakeInterp{}
		c, ns := newTestController(t, fi, Config{})
		callee := addMethod(t, c, ns, "CALE", spec.argCount, false, 0)
		caller := addMethod(t, c, ns, "CALR", 0, false, 0)

		var (
			gotArgs []uint64
			pending uint64
			callErr error
		)
		fi.execFn = func(ctx context.Context, f *Frame) error {
			if f.Node() == callee {
				for index := 0; index < NumSlots; index++ {
					obj, err := f.Slots.Get(SlotArg, index)
					if err != nil {
						break
					}
					v, _ := obj.Integer()
					gotArgs = append(gotArgs, v)
				}
				return nil
			}

			for _, v := range spec.pushed {
				f.Push(object.NewInteger(v))
			}
			callErr = c.Call(ctx, f, callee, spec.nargs)

			if f.OperandDepth() == 1 {
				pending, _ = f.Operands(1)[0].Integer()
			}
			return nil
		}

		_, err := c.Evaluate(context.Background(), caller)
		require.NoError(t, err, "[spec %d]", specIndex)
		require.NoError(t, callErr, "[spec %d]", specIndex)
		assert.Equal(t, spec.expArgs, gotArgs, "[spec %d]", specIndex)
		assert.EqualValues(t, 9, pending, "[spec %d]", specIndex)
	}
}

func TestCallRejectsMissingOperands(t *testing.T) {
	fi := &fakeInterp{}
	c, ns := newTestController(t, fi, Config{})
	callee := addMethod(t, c, ns, "CALE", 1, false, 0)
	caller := addMethod(t, c, ns, "CALR", 0, false, 0)

	var callErr error
	fi.execFn = func(ctx context.Context, f *Frame) error {
		if f.Node() == caller {
			f.Push(object.NewInteger(1))
			callErr = c.Call(ctx, f, callee, 2)
		}
		return nil
	}

	_, err := c.Evaluate(context.Background(), caller)
	require.NoError(t, err)
	assert.True(t, errors.Is(callErr, ErrInvalidIndex))
	assert.Zero(t, callee.Attachment().(*Object).ThreadCount())
}

func TestCallIgnoresRestartFailure(t *testing.T) {
	fi := &fakeInterp{}
	c, ns := newTestController(t, fi, Config{})
	callee := addMethod(t, c, ns, "CALE", 0, false, 0)
	caller := addMethod(t, c, ns, "CALR", 0, false, 0)

	var (
		callErr    error
		callResult *object.Object
	)
	fi.execFn = func(ctx context.Context, f *Frame) error {
		if f.Node() == callee {
			// A result whose last reference was already dropped
			res := object.NewInteger(1)
			f.SetResult(res)
			res.Release()
			return nil
		}

		f.ResultRequired = true
		callErr = c.Call(ctx, f, callee, 0)
		callResult = f.TakeCallResult()
		return nil
	}

	_, err := c.Evaluate(context.Background(), caller)
	require.NoError(t, err)
	assert.NoError(t, callErr)
	assert.Nil(t, callResult)
	assert.Zero(t, callee.Attachment().(*Object).ThreadCount())
}

func TestCallFailureTerminatesCallee(t *testing.T) {
	execErr := errors.New("callee failed")
	parseErr := errors.New("callee parse failed")

	specs := []struct {
		parseErr, execErr error
		expErr            error
		expOperands       int
	}{
		{nil, execErr, execErr, 0},
		{parseErr, nil, parseErr, 1},
	}

	for specIndex, spec := range specs {
		fi := &fakeInterp{}
		c, ns := newTestController(t, fi, Config{})
		callee := addMethod(t, c, ns, "CALE", 1, true, 0)
		caller := addMethod(t, c, ns, "CALR", 0, false, 0)

		var (
			callErr      error
			operandsLeft int
		)
		fi.parseFn = func(ctx context.Context, f *Frame) error {
			if f.Node() == callee && f.Caller != nil {
				return spec.parseErr
			}
			return nil
		}
		fi.execFn = func(ctx context.Context, f *Frame) error {
			if f.Node() == callee {
				return spec.execErr
			}

			f.Push(object.NewInteger(1))
			callErr = c.Call(ctx, f, callee, 1)
			operandsLeft = f.OperandDepth()
			return nil
		}

		_, err := c.Evaluate(context.Background(), caller)
		require.NoError(t, err, "[spec %d]", specIndex)
		assert.Equal(t, spec.expErr, callErr, "[spec %d]", specIndex)
		assert.Equal(t, spec.expOperands, operandsLeft, "[spec %d]", specIndex)

		obj := callee.Attachment().(*Object)
		assert.Zero(t, obj.ThreadCount(), "[spec %d]", specIndex)

		// The semaphore unit must have been returned
		assert.True(t, obj.sem.TryAcquire(1), "[spec %d]", specIndex)
		obj.sem.Release(1)
	}
}

func TestRecursionLimit(t *testing.T) {
	for _, limit := range []uint8{1, 2, 3} {
		fi := &fakeInterp{}
		c, ns := newTestController(t, fi, Config{})
		m := addMethod(t, c, ns, "RECU", 0, limit == 1, limit)

		var (
			depth     int
			maxLive   int
			recursErr error
		)
		fi.execFn = func(ctx context.Context, f *Frame) error {
			depth++
			if live := f.Method.ThreadCount(); live > maxLive {
				maxLive = live
			}

			if err := c.Call(ctx, f, m, 0); err != nil {
				recursErr = err
			}
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := c.Evaluate(ctx, m)
		cancel()

		require.NoError(t, err, "limit %d", limit)
		assert.Equal(t, ErrMethodLimitExceeded, recursErr, "limit %d", limit)
		assert.Equal(t, int(limit), depth, "limit %d", limit)
		assert.Equal(t, int(limit), maxLive, "limit %d", limit)
		assert.Zero(t, m.Attachment().(*Object).ThreadCount())
	}
}

func TestMaxCallDepth(t *testing.T) {
	fi := &fakeInterp{}
	c, ns := newTestController(t, fi, Config{MaxCallDepth: 4})
	m := addMethod(t, c, ns, "DEEP", 0, false, 0)

	var maxDepth int
	fi.execFn = func(ctx context.Context, f *Frame) error {
		if f.Depth > maxDepth {
			maxDepth = f.Depth
		}
		return c.Call(ctx, f, m, 0)
	}

	_, err := c.Evaluate(context.Background(), m)
	assert.True(t, errors.Is(err, ErrMethodLimitExceeded))
	assert.Equal(t, 3, maxDepth)
	assert.Zero(t, m.Attachment().(*Object).ThreadCount())
}

func TestConcurrencyLimit(t *testing.T) {
	const (
		limit   = 2
		callers = 5
	)

	fi := &fakeInterp{}
	c, ns := newTestController(t, fi, Config{})
	m := addMethod(t, c, ns, "CONC", 0, false, limit)

	var (
		live, maxLive int32
		release       = make(chan struct{})
		entered       = make(chan struct{}, callers)
	)
	fi.execFn = func(ctx context.Context, f *Frame) error {
		// Block outside the execution lock, like a region handler would.
		return SuspendWhile(ctx, func() error {
			n := atomic.AddInt32(&live, 1)
			for {
				cur := atomic.LoadInt32(&maxLive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxLive, cur, n) {
					break
				}
			}
			entered <- struct{}{}
			<-release
			atomic.AddInt32(&live, -1)
			return nil
		})
	}

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Evaluate(context.Background(), m)
			errs <- err
		}()
	}

	<-entered
	<-entered
	select {
	case <-entered:
		t.Fatal("more than limit invocations entered the method body")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, limit, m.Attachment().(*Object).ThreadCount())

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.EqualValues(t, limit, atomic.LoadInt32(&maxLive))
	assert.Zero(t, m.Attachment().(*Object).ThreadCount())
}

func TestMethodWaitTimeout(t *testing.T) {
	fi := &fakeInterp{}
	c, ns := newTestController(t, fi, Config{MethodWait: 20 * time.Millisecond})
	m := addMethod(t, c, ns, "SERL", 0, true, 0)

	release := make(chan struct{})
	entered := make(chan struct{})
	fi.execFn = func(ctx context.Context, f *Frame) error {
		return SuspendWhile(ctx, func() error {
			close(entered)
			<-release
			return nil
		})
	}

	done := make(chan error)
	go func() {
		_, err := c.Evaluate(context.Background(), m)
		done <- err
	}()
	<-entered

	_, err := c.Evaluate(context.Background(), m)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)

	close(release)
	require.NoError(t, <-done)
	assert.Zero(t, m.Attachment().(*Object).ThreadCount())
}

func TestTerminate(t *testing.T) {
	fi := &fakeInterp{}
	c, ns := newTestController(t, fi, Config{})
	m := addMethod(t, c, ns, "TERM", 0, false, 0)
	ctx := context.Background()

	var deleted int
	ns.OnDelete(func(context.Context, entity.Entity) { deleted++ })

	begin := func() *Frame {
		obj, err := c.Begin(ctx, m, nil)
		require.NoError(t, err)
		f := c.newFrame(obj, PassExecute, nil)
		f.counted = true
		return f
	}

	f1, f2 := begin(), begin()
	obj := f1.Method
	require.Equal(t, 2, obj.ThreadCount())
	owner := obj.Owner()

	// Objects created by the method: one below the method node and one
	// elsewhere in the tree.
	ns.Lock()
	require.NoError(t, ns.Insert(m, entity.NewName(owner, "TMP0", uint64(0))))
	require.NoError(t, ns.Insert(ns.Root(), entity.NewName(owner, "GLB0", uint64(0))))
	ns.Unlock()

	x := object.NewInteger(1)
	require.NoError(t, f1.Slots.Store(ctx, SlotLocal, 0, x))
	f1.Push(object.NewInteger(2))

	require.NoError(t, c.Terminate(ctx, f1))
	assert.Equal(t, 1, obj.ThreadCount())
	assert.Zero(t, deleted, "no sweep while invocations are live")
	assert.EqualValues(t, 1, x.RefCount())
	assert.Equal(t, FrameTerminated, f1.State())

	// A second Terminate on the same frame is a no-op
	require.NoError(t, c.Terminate(ctx, f1))
	assert.Equal(t, 1, obj.ThreadCount())

	require.NoError(t, c.Terminate(ctx, f2))
	assert.Zero(t, obj.ThreadCount())
	assert.Equal(t, 2, deleted)
	assert.Nil(t, ns.Lookup(nil, `\GLB0`))
	assert.Empty(t, m.Children())
	assert.Equal(t, entity.OwnerTable, obj.Owner())
	assert.Zero(t, ns.Owners().InUse())

	assert.Equal(t, ErrNullObject, c.Terminate(ctx, nil))
}

func TestRestart(t *testing.T) {
	c, _ := newTestController(t, &fakeInterp{}, Config{})
	caller := &Frame{}

	discarded := object.NewInteger(1)
	require.NoError(t, c.Restart(caller, discarded))
	assert.Zero(t, discarded.RefCount())
	assert.Nil(t, caller.TakeCallResult())

	caller.ResultRequired = true
	kept := object.NewInteger(2)
	require.NoError(t, c.Restart(caller, kept))
	assert.Same(t, kept, caller.TakeCallResult())

	require.NoError(t, c.Restart(caller, nil))
	assert.Equal(t, ErrNullObject, c.Restart(nil, object.NewInteger(3)))
	assert.Equal(t, ErrNullObject, c.Restart(caller, discarded))
}

func TestUnloadAndPopulate(t *testing.T) {
	fi := &fakeInterp{}
	c, ns := newTestController(t, fi, Config{})

	ns.Lock()
	sb := ns.LookupLocked(nil, `\_SB_`).(entity.Container)
	m0 := entity.NewMethod(entity.OwnerTable, "MTH0")
	m1 := entity.NewMethod(entity.OwnerTable, "MTH1")
	require.NoError(t, ns.Insert(sb, m0))
	require.NoError(t, ns.Insert(sb, m1))
	ns.Unlock()

	assert.Equal(t, 2, c.Populate())
	assert.Zero(t, c.Populate())

	obj, err := c.Begin(context.Background(), m0, nil)
	require.NoError(t, err)
	assert.Equal(t, ErrMethodBusy, c.Unload(context.Background(), m0))

	f := c.newFrame(obj, PassExecute, nil)
	f.counted = true
	require.NoError(t, c.Terminate(context.Background(), f))

	require.NoError(t, c.Unload(context.Background(), m0))
	assert.Nil(t, m0.Attachment())
	_, err = c.Begin(context.Background(), m0, nil)
	assert.Equal(t, ErrNullObject, err)
}

func TestFrameStateString(t *testing.T) {
	specs := map[FrameState]string{
		FrameLoaded:     "loaded",
		FrameRunning:    "running",
		FrameNested:     "nested",
		FrameTerminated: "terminated",
		FrameState(99):  "unknown",
	}
	for state, exp := range specs {
		assert.Equal(t, exp, state.String())
	}
}
