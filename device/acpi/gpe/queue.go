package gpe

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of deferred work executed by a WorkQueue worker.
type Task func(ctx context.Context)

// WorkQueue runs tasks submitted from interrupt context on a fixed set of
// worker goroutines. The queue is bounded; Submit never blocks.
type WorkQueue struct {
	workers int
	tasks   chan Task
	log     *zap.Logger

	// mu guards stopped and the closing of tasks.
	mu      sync.RWMutex
	stopped bool

	inflight sync.WaitGroup
	group    *errgroup.Group
	cancel   context.CancelFunc
}

// NewWorkQueue returns a queue that buffers up to depth tasks and runs them
// on the given number of workers once started.
func NewWorkQueue(workers, depth int, logger *zap.Logger) *WorkQueue {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkQueue{
		workers: workers,
		tasks:   make(chan Task, depth),
		log:     logger.Named("workqueue"),
	}
}

// Start launches the workers. Tasks receive a context derived from ctx that
// is cancelled by Stop.
func (q *WorkQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < q.workers; i++ {
		q.group.Go(func() error {
			for task := range q.tasks {
				q.run(ctx, task)
			}
			return nil
		})
	}
	q.log.Debug("started GPE workers", zap.Int("workers", q.workers), zap.Int("depth", cap(q.tasks)))
}

func (q *WorkQueue) run(ctx context.Context, task Task) {
	defer q.inflight.Done()
	task(ctx)
}

// Submit queues task for execution. It returns ErrQueueFull if the queue has
// no free slots and ErrQueueStopped after Stop has been called.
func (q *WorkQueue) Submit(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return ErrQueueStopped
	}

	q.inflight.Add(1)
	select {
	case q.tasks <- task:
		return nil
	default:
		q.inflight.Done()
		return ErrQueueFull
	}
}

// Pending returns the number of queued tasks that no worker has picked up.
func (q *WorkQueue) Pending() int { return len(q.tasks) }

// Flush blocks until every submitted task has completed.
func (q *WorkQueue) Flush() { q.inflight.Wait() }

// Stop rejects further submissions, waits for the workers to drain the queue
// and cancels the context passed to tasks.
func (q *WorkQueue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.tasks)
	q.mu.Unlock()

	if q.group == nil {
		return nil
	}

	err := q.group.Wait()
	q.cancel()
	q.log.Debug("stopped GPE workers")
	return err
}
