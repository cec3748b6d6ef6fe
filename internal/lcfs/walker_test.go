package lcfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mountForTest(t *testing.T) *Registry {
	t.Helper()
	dev := newTestDevice(t, 256)
	g, err := mountDevice(dev, "test", defaultOps())
	require.NoError(t, err)
	return g
}

func TestGetInodeReadOnlyReturnsAncestorDirectly(t *testing.T) {
	g := mountForTest(t)
	base := g.GlobalLayer()

	file := InodeInit(base, ModeRegular|0644, 0, 0, 0, base.Root(), "")
	ino := file.Stat.Ino
	file.Unlock(true)

	snap, err := AddLayer(g, nil, RootInode)
	require.NoError(t, err)

	id := MakeInodeID(snap.Index(), ino)
	found, err := GetInode(snap, id, nil, false, false)
	require.NoError(t, err)
	defer found.Unlock(false)

	assert.Same(t, file, found, "a read-only lookup of an un-cloned ancestor inode returns the ancestor's own inode, not a copy")
}

func TestGetInodeForWriteClonesFromAncestor(t *testing.T) {
	g := mountForTest(t)
	base := g.GlobalLayer()

	file := InodeInit(base, ModeRegular|0644, 0, 0, 0, base.Root(), "")
	ino := file.Stat.Ino
	MemBmapOps{}.SetBlock(file, 0, 10)
	file.Unlock(true)

	snap, err := AddLayer(g, nil, RootInode)
	require.NoError(t, err)

	id := MakeInodeID(snap.Index(), ino)
	clonesBefore := g.Clones()
	cloned, err := GetInode(snap, id, nil, true, true)
	require.NoError(t, err)

	assert.NotSame(t, file, cloned, "a write into a snapshot must clone, never mutate the ancestor's inode in place")
	assert.Equal(t, g.Clones(), clonesBefore+1)
	assert.True(t, cloned.Shared, "a freshly cloned payload starts out shared with its ancestor")
	assert.Equal(t, file.Stat.Ino, cloned.Stat.Ino, "a clone keeps its ancestor's local inode number")

	block, ok := MemBmapOps{}.GetBlock(cloned, 0)
	assert.True(t, ok)
	assert.Equal(t, uint64(10), block, "the clone's block map still resolves through the shared reference")
	cloned.Unlock(true)

	// A second GetInode in the same layer must now hit its own cache, not
	// clone again.
	again, err := GetInode(snap, id, nil, true, true)
	require.NoError(t, err)
	again.Unlock(true)
	assert.Equal(t, g.Clones(), clonesBefore+1, "a repeat write lookup in the same layer must not clone twice")
}

func TestInodeInitMarksInodeDirty(t *testing.T) {
	g := mountForTest(t)
	base := g.GlobalLayer()
	inode := InodeInit(base, ModeRegular|0644, 0, 0, 0, base.Root(), "")
	defer inode.Unlock(true)
	assert.True(t, inode.Dirty, "a freshly created inode must be dirty so SyncInodes actually persists it")
}

func TestGetInodeReturnsNotExistForUnknownInode(t *testing.T) {
	g := mountForTest(t)
	base := g.GlobalLayer()
	_, err := GetInode(base, MakeInodeID(base.Index(), 999999), nil, false, false)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestRemovedAncestorInodeDoesNotPropagateToGrandchild(t *testing.T) {
	g := mountForTest(t)
	base := g.GlobalLayer()

	file := InodeInit(base, ModeRegular|0644, 0, 0, 0, base.Root(), "")
	ino := file.Stat.Ino
	file.Unlock(true)

	child, err := AddLayer(g, nil, RootInode)
	require.NoError(t, err)

	// Clone into child, then mark the clone removed there (as if the file
	// had been unlinked from this snapshot).
	cloneID := MakeInodeID(child.Index(), ino)
	clone, err := GetInode(child, cloneID, nil, true, true)
	require.NoError(t, err)
	clone.Removed = true
	clone.Unlock(true)

	grandchild, err := AddLayer(g, child, RootInode)
	require.NoError(t, err)

	_, err = GetInode(grandchild, MakeInodeID(grandchild.Index(), ino), nil, false, false)
	assert.ErrorIs(t, err, ErrNotExist, "a grandchild must not see an inode its parent has removed, even though the base layer still has it")
}

func TestCloneInodeSharesDirectoryEntryTable(t *testing.T) {
	g := mountForTest(t)
	base := g.GlobalLayer()

	dir := InodeInit(base, ModeDir|0755, 0, 0, 0, base.Root(), "")
	MemDirOps{}.Add(dir, "child", 42)
	dir.Unlock(true)

	snap, err := AddLayer(g, nil, RootInode)
	require.NoError(t, err)

	id := MakeInodeID(snap.Index(), dir.Stat.Ino)
	cloned, err := GetInode(snap, id, nil, true, true)
	require.NoError(t, err)
	assert.True(t, cloned.Shared)
	assert.Equal(t, uint64(42), MemDirOps{}.Lookup(cloned, "child"), "a cloned directory starts out sharing its ancestor's entry table")

	MemDirOps{}.Add(cloned, "only-in-clone", 43)
	cloned.Unlock(true)

	assert.Equal(t, InvalidInode, MemDirOps{}.Lookup(dir, "only-in-clone"), "writing through the clone must not mutate the ancestor's shared table")
	assert.False(t, cloned.Shared, "the first mutating write must unshare the clone's table")
}
