package entity

import (
	"gopheros/kernel"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// MaxOwnerIDs is the default number of owner ids that can be in use at the
// same time.
const MaxOwnerIDs = 4095

// ErrOwnerIDLimit is returned when all owner ids are in use.
var ErrOwnerIDLimit = &kernel.Error{Module: "acpi_namespace", Message: "owner id limit reached"}

// OwnerIDs allocates the ids used to tag entities created by executing
// methods. Id 0 is reserved for firmware tables.
type OwnerIDs struct {
	mu   sync.Mutex
	used *bitset.BitSet
	max  uint
}

// NewOwnerIDs creates an allocator handing out ids in the range [1, max].
func NewOwnerIDs(max uint) *OwnerIDs {
	if max == 0 || max > MaxOwnerIDs {
		max = MaxOwnerIDs
	}

	used := bitset.New(max + 1)
	used.Set(uint(OwnerTable))
	return &OwnerIDs{used: used, max: max}
}

// Allocate reserves the lowest available owner id.
func (o *OwnerIDs) Allocate() (OwnerID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id, ok := o.used.NextClear(1)
	if !ok || id > o.max {
		return 0, ErrOwnerIDLimit
	}

	o.used.Set(id)
	return OwnerID(id), nil
}

// Release returns id to the pool. Releasing OwnerTable or an id that is not
// allocated is a no-op.
func (o *OwnerIDs) Release(id OwnerID) {
	if id == OwnerTable {
		return
	}

	o.mu.Lock()
	o.used.Clear(uint(id))
	o.mu.Unlock()
}

// InUse returns the number of allocated owner ids.
func (o *OwnerIDs) InUse() uint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.used.Count() - 1
}
