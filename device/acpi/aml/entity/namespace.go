package entity

import (
	"context"
	"gopheros/kernel"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLookupCacheSize is the number of absolute paths cached by a
// Namespace when no explicit size is requested.
const DefaultLookupCacheSize = 512

// ErrNameExists is returned when inserting an entity whose name is already
// used by a sibling.
var ErrNameExists = &kernel.Error{Module: "acpi_namespace", Message: "name already exists in scope"}

// DeleteHook is invoked for every entity removed from a Namespace. Hooks run
// after the entity has been unlinked, with the namespace lock held.
type DeleteHook func(ctx context.Context, ent Entity)

// Namespace is the object store for the ACPI namespace. It wraps the entity
// tree rooted at `\` together with the namespace lock, a cache of resolved
// absolute paths and the owner id allocator.
//
// Unless noted otherwise, methods that mutate or walk the tree must be
// invoked while holding the namespace lock.
type Namespace struct {
	mu sync.Mutex

	root   *Scope
	cache  *lru.Cache[string, Entity]
	owners *OwnerIDs

	deleteHooks []DeleteHook
}

// NewNamespace creates a namespace populated with the predefined scopes
// listed in the ACPI specification.
func NewNamespace(cacheSize int, maxOwners uint) *Namespace {
	if cacheSize <= 0 {
		cacheSize = DefaultLookupCacheSize
	}

	// lru.New only fails for non-positive sizes.
	cache, _ := lru.New[string, Entity](cacheSize)

	return &Namespace{
		root:   defaultACPIScopes(),
		cache:  cache,
		owners: NewOwnerIDs(maxOwners),
	}
}

// defaultACPIScopes constructs a tree of scoped entities that correspond to
// the predefined scopes contained in the ACPI specification and returns back
// its root node.
func defaultACPIScopes() *Scope {
	rootNS := NewScope(OpScope, OwnerTable, `\`)
	rootNS.Append(NewScope(OpScope, OwnerTable, `_GPE`)) // General events in GPE register block
	rootNS.Append(NewScope(OpScope, OwnerTable, `_PR_`)) // ACPI 1.0 processor namespace
	rootNS.Append(NewScope(OpScope, OwnerTable, `_SB_`)) // System bus with all device objects
	rootNS.Append(NewScope(OpScope, OwnerTable, `_SI_`)) // System indicators
	rootNS.Append(NewScope(OpScope, OwnerTable, `_TZ_`)) // ACPI 1.0 thermal zone namespace

	return rootNS
}

// Root returns the root scope of the namespace.
func (ns *Namespace) Root() *Scope { return ns.root }

// Owners returns the owner id allocator associated with the namespace.
func (ns *Namespace) Owners() *OwnerIDs { return ns.owners }

// Lock acquires the namespace lock.
func (ns *Namespace) Lock() { ns.mu.Lock() }

// Unlock releases the namespace lock.
func (ns *Namespace) Unlock() { ns.mu.Unlock() }

// OnDelete registers a hook that is invoked for each deleted entity.
func (ns *Namespace) OnDelete(hook DeleteHook) {
	ns.mu.Lock()
	ns.deleteHooks = append(ns.deleteHooks, hook)
	ns.mu.Unlock()
}

// Lookup resolves path relative to scope using the ACPI search rules. A nil
// scope resolves relative to the root. Lookup acquires the namespace lock
// and must not be called by a holder of the lock.
func (ns *Namespace) Lookup(scope Container, path string) Entity {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.LookupLocked(scope, path)
}

// LookupLocked behaves like Lookup but expects the caller to hold the
// namespace lock.
func (ns *Namespace) LookupLocked(scope Container, path string) Entity {
	absolute := len(path) != 0 && path[0] == '\\'
	if absolute {
		if ent, ok := ns.cache.Get(path); ok {
			return ent
		}
	}

	if scope == nil {
		scope = ns.root
	}

	ent := FindInScope(scope, ns.root, path)
	if ent != nil && absolute {
		ns.cache.Add(path, ent)
	}
	return ent
}

// Insert appends ent to parent. It fails with ErrNameExists if parent
// already contains a child with the same name.
func (ns *Namespace) Insert(parent Container, ent Entity) error {
	if name := ent.Name(); name != "" && ns.Child(parent, name) != nil {
		return ErrNameExists
	}

	parent.Append(ent)
	return nil
}

// Child returns the direct child of parent called name or nil.
func (ns *Namespace) Child(parent Container, name string) Entity {
	for _, child := range parent.Children() {
		if child.Name() == name {
			return child
		}
	}
	return nil
}

// Children returns the direct children of node that match typ.
func (ns *Namespace) Children(node Container, typ Type) []Entity {
	var out []Entity
	for _, child := range node.Children() {
		if typ.Matches(child) {
			out = append(out, child)
		}
	}
	return out
}

// Walk visits every entity below start (start included) that matches typ.
func (ns *Namespace) Walk(start Entity, typ Type, fn Visitor) {
	if start == nil {
		start = ns.root
	}
	Visit(0, start, typ, fn)
}

// DeleteSubtree removes every child of node together with its descendants.
// Node itself is kept. It returns the number of deleted entities.
func (ns *Namespace) DeleteSubtree(ctx context.Context, node Container) int {
	victims := append([]Entity(nil), node.Children()...)
	for _, child := range victims {
		node.Remove(child)
	}
	return ns.finishDelete(ctx, victims)
}

// DeleteByOwner removes every entity tagged with owner together with its
// descendants and returns the number of deleted entities. OwnerTable
// entities are never deleted by this call.
func (ns *Namespace) DeleteByOwner(ctx context.Context, owner OwnerID) int {
	if owner == OwnerTable {
		return 0
	}

	var victims []Entity
	Visit(0, ns.root, TypeAny, func(_ int, ent Entity) bool {
		if ent.Owner() != owner || ent.Parent() == nil {
			return true
		}

		victims = append(victims, ent)
		return false
	})

	for _, ent := range victims {
		ent.Parent().Remove(ent)
	}
	return ns.finishDelete(ctx, victims)
}

// finishDelete purges the lookup cache and runs the delete hooks for the
// unlinked entities and their descendants.
func (ns *Namespace) finishDelete(ctx context.Context, victims []Entity) int {
	if len(victims) == 0 {
		return 0
	}
	ns.cache.Purge()

	var deleted []Entity
	for _, victim := range victims {
		Visit(0, victim, TypeAny, func(_ int, ent Entity) bool {
			deleted = append(deleted, ent)
			return true
		})
	}

	for _, ent := range deleted {
		for _, hook := range ns.deleteHooks {
			hook(ctx, ent)
		}
	}
	return len(deleted)
}
