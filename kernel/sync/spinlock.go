// Package sync provides synchronization primitives that are safe to use from
// contexts that must never sleep, such as interrupt handlers.
package sync

import (
	"runtime"
	"sync/atomic"
)

const (
	// attemptsBeforeYielding is the number of failed acquisition attempts
	// before the spinning task voluntarily gives up its time slice.
	attemptsBeforeYielding = 64
)

var (
	// yieldFn is invoked by spinning tasks once they exceed
	// attemptsBeforeYielding failed attempts. Tests override it to count
	// contention events.
	yieldFn = runtime.Gosched
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. Spinlocks never put the caller to sleep
// which makes them usable while servicing an interrupt.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	acquireSpinlock(&l.state, attemptsBeforeYielding)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// Lock and Unlock allow a Spinlock to be used wherever a sync.Locker is
// expected.
func (l *Spinlock) Lock()   { l.Acquire() }
func (l *Spinlock) Unlock() { l.Release() }

func acquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	for attempts := uint32(0); ; attempts++ {
		if atomic.LoadUint32(state) == 0 && atomic.CompareAndSwapUint32(state, 0, 1) {
			return
		}

		if attempts >= attemptsBeforeYielding {
			yieldFn()
			attempts = 0
		}
	}
}
