package method

import (
	"gopheros/device/acpi/aml/entity"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Object is the runtime descriptor attached to a method node.
type Object struct {
	Node *entity.Method

	ArgCount   uint8
	Serialized bool
	SyncLevel  uint8

	limit uint32

	mu          sync.Mutex
	sem         *semaphore.Weighted
	threadCount int
	owner       entity.OwnerID
}

func newObject(node *entity.Method) *Object {
	return &Object{
		Node:       node,
		ArgCount:   node.ArgCount,
		Serialized: node.Serialized,
		SyncLevel:  node.SyncLevel,
		limit:      node.ConcurrencyLimit(),
	}
}

// Limit returns the maximum number of concurrent invocations or 0 if the
// method may be invoked without limit.
func (o *Object) Limit() uint32 { return o.limit }

// ThreadCount returns the number of live invocations.
func (o *Object) ThreadCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.threadCount
}

// Owner returns the owner id used to tag objects created by the method or
// entity.OwnerTable if none is allocated.
func (o *Object) Owner() entity.OwnerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owner
}

// semaphore returns the concurrency semaphore, creating it on first use.
// Methods without a concurrency limit have no semaphore.
func (o *Object) semaphore() *semaphore.Weighted {
	if o.limit == 0 {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sem == nil {
		o.sem = semaphore.NewWeighted(int64(o.limit))
	}
	return o.sem
}

// descriptorOf returns the method descriptor attached to node.
func descriptorOf(node entity.Entity) (*Object, error) {
	if node == nil {
		return nil, ErrNullEntry
	}

	obj, ok := node.Attachment().(*Object)
	if !ok || obj == nil {
		return nil, ErrNullObject
	}
	return obj, nil
}
