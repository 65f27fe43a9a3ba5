package method

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

type guardKey struct{}

// ExecLock serializes AML execution across the engine. It is held while an
// invocation runs and is suspended around callbacks that may block or
// re-enter the interpreter.
type ExecLock struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

// NewExecLock returns an ExecLock. A positive wait bounds every acquisition.
func NewExecLock(wait time.Duration) *ExecLock {
	return &ExecLock{sem: semaphore.NewWeighted(1), wait: wait}
}

// Guard represents a held ExecLock. A guard belongs to the goroutine that
// entered the lock.
type Guard struct {
	lock   *ExecLock
	active bool
}

// Enter acquires the lock and returns a context carrying the guard.
func (l *ExecLock) Enter(ctx context.Context) (context.Context, *Guard, error) {
	if err := l.acquire(ctx); err != nil {
		return ctx, nil, err
	}

	g := &Guard{lock: l, active: true}
	return context.WithValue(ctx, guardKey{}, g), g, nil
}

func (l *ExecLock) acquire(ctx context.Context) error {
	if l.sem.TryAcquire(1) {
		return nil
	}
	return acquireWithin(ctx, l.sem, l.wait)
}

// GuardFrom returns the guard stored in ctx or nil.
func GuardFrom(ctx context.Context) *Guard {
	g, _ := ctx.Value(guardKey{}).(*Guard)
	return g
}

// Active returns true while the guard holds the lock.
func (g *Guard) Active() bool { return g != nil && g.active }

// Suspend temporarily releases the lock. It is a no-op for an inactive
// guard.
func (g *Guard) Suspend() {
	if !g.Active() {
		return
	}
	g.active = false
	g.lock.sem.Release(1)
}

// Resume re-acquires a suspended lock.
func (g *Guard) Resume(ctx context.Context) error {
	if g == nil || g.active {
		return nil
	}

	if err := g.lock.acquire(ctx); err != nil {
		return err
	}
	g.active = true
	return nil
}

// Exit releases the lock for good.
func (g *Guard) Exit() { g.Suspend() }

// acquireWithin blocks until sem is acquired, ctx expires or the optional
// wait bound elapses.
func acquireWithin(ctx context.Context, sem *semaphore.Weighted, wait time.Duration) error {
	waitCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	err := sem.Acquire(waitCtx, 1)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	return err
}

// SuspendWhile runs fn with the execution lock carried by ctx released and
// re-acquires it afterwards. Callbacks invoked this way may evaluate methods,
// which acquire the lock afresh. If ctx carries no active guard, fn runs
// directly.
func SuspendWhile(ctx context.Context, fn func() error) error {
	g := GuardFrom(ctx)
	if !g.Active() {
		return fn()
	}

	g.Suspend()
	err := fn()
	if resumeErr := g.Resume(ctx); resumeErr != nil && err == nil {
		err = resumeErr
	}
	return err
}
