package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceDefaultScopes(t *testing.T) {
	ns := NewNamespace(0, 0)

	for _, path := range []string{`\`, `\_GPE`, `\_PR_`, `\_SB_`, `\_SI_`, `\_TZ_`} {
		ent := ns.Lookup(nil, path)
		require.NotNil(t, ent, path)
		assert.Equal(t, path, PathOf(ent))
	}

	assert.Len(t, ns.Children(ns.Root(), TypeScope), 5)
	assert.Empty(t, ns.Children(ns.Root(), TypeMethod))
}

func TestNamespaceLookupCache(t *testing.T) {
	ns := NewNamespace(4, 0)
	sb := ns.Lookup(nil, `\_SB_`).(Container)

	ns.Lock()
	dev := NewDevice(OwnerTable, "PCI0")
	require.NoError(t, ns.Insert(sb, dev))
	assert.Equal(t, ErrNameExists, ns.Insert(sb, NewDevice(OwnerTable, "PCI0")))
	ns.Unlock()

	assert.Equal(t, Entity(dev), ns.Lookup(nil, `\_SB_.PCI0`))
	assert.Equal(t, 2, ns.cache.Len())

	// Relative lookups and misses are not cached
	assert.Equal(t, Entity(dev), ns.Lookup(sb, `PCI0`))
	assert.Nil(t, ns.Lookup(nil, `\_SB_.NONE`))
	assert.Equal(t, 2, ns.cache.Len())

	ns.Lock()
	assert.Equal(t, 1, ns.DeleteSubtree(context.Background(), sb))
	ns.Unlock()

	assert.Zero(t, ns.cache.Len())
	assert.Nil(t, ns.Lookup(nil, `\_SB_.PCI0`))
}

func TestNamespaceDeleteByOwner(t *testing.T) {
	ns := NewNamespace(0, 0)
	owner, err := ns.Owners().Allocate()
	require.NoError(t, err)

	var deleted []string
	ns.OnDelete(func(_ context.Context, ent Entity) {
		deleted = append(deleted, ent.Name())
	})

	ns.Lock()
	sb := ns.LookupLocked(nil, `\_SB_`).(Container)
	mth := NewMethod(OwnerTable, "MTH0")
	require.NoError(t, ns.Insert(sb, mth))

	// Objects created by the method: one below the method node and one
	// placed elsewhere in the tree via a scoped path.
	require.NoError(t, ns.Insert(mth, NewName(owner, "TMP0", uint64(1))))
	dev := NewDevice(owner, "DEV0")
	require.NoError(t, ns.Insert(sb, dev))
	require.NoError(t, ns.Insert(dev, NewName(OwnerTable, "_HID", uint64(0))))
	require.NoError(t, ns.Insert(sb, NewName(OwnerTable, "KEEP", uint64(2))))

	assert.Zero(t, ns.DeleteByOwner(context.Background(), OwnerTable))
	assert.Equal(t, 3, ns.DeleteByOwner(context.Background(), owner))
	ns.Unlock()

	assert.ElementsMatch(t, []string{"TMP0", "DEV0", "_HID"}, deleted)
	assert.NotNil(t, ns.Lookup(nil, `\_SB_.MTH0`))
	assert.NotNil(t, ns.Lookup(nil, `\_SB_.KEEP`))
	assert.Nil(t, ns.Lookup(nil, `\_SB_.DEV0`))
	assert.Empty(t, mth.Children())
}

func TestOwnerIDs(t *testing.T) {
	ids := NewOwnerIDs(3)

	var got []OwnerID
	for i := 0; i < 3; i++ {
		id, err := ids.Allocate()
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []OwnerID{1, 2, 3}, got)
	assert.EqualValues(t, 3, ids.InUse())

	_, err := ids.Allocate()
	assert.Equal(t, ErrOwnerIDLimit, err)

	ids.Release(2)
	ids.Release(OwnerTable)
	assert.EqualValues(t, 2, ids.InUse())

	id, err := ids.Allocate()
	require.NoError(t, err)
	assert.Equal(t, OwnerID(2), id)
}
