package lcfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSnapshotRootRequiresDirectory(t *testing.T) {
	g := mountForTest(t)
	base := g.GlobalLayer()

	file := InodeInit(base, ModeRegular|0644, 0, 0, 0, base.Root(), "")
	ino := file.Stat.Ino
	file.Unlock(true)

	err := g.SetSnapshotRoot(base, ino)
	assert.ErrorIs(t, err, ErrNotDir)
}

func TestGetSnapshotTargetIndexTeleportsThroughSnapshotRoot(t *testing.T) {
	g := mountForTest(t)
	base := g.GlobalLayer()

	snapDir := InodeInit(base, ModeDir|0755, 0, 0, 0, base.Root(), "")
	snapDirIno := snapDir.Stat.Ino
	snapDir.Unlock(true)
	require.NoError(t, g.SetSnapshotRoot(base, snapDirIno))

	snap, err := AddLayer(g, nil, RootInode)
	require.NoError(t, err)

	// Looking up snap's root number as a child of the configured snapshot
	// root, from the base layer, must resolve to snap's own registry index.
	idx := g.GetSnapshotTargetIndex(base, snapDirIno, MakeInodeID(base.Index(), snap.Root()))
	assert.Equal(t, snap.Index(), idx)

	// Any other parent local ino (not the configured snapshot root) must
	// not teleport.
	idx = g.GetSnapshotTargetIndex(base, snapDirIno+1, MakeInodeID(base.Index(), snap.Root()))
	assert.Equal(t, base.Index(), idx)
}

func TestRegisterPanicsWhenRegistryFull(t *testing.T) {
	g := mountForTest(t)
	for i := 1; i < MaxLayers; i++ {
		l := newLayer(g, true, g.ops)
		l.ilock = newCloneLock()
		g.Register(l, nil)
	}
	assert.PanicsWithValue(t,
		ErrRegistryFull.Error()+": registry has no free slot",
		func() {
			l := newLayer(g, true, g.ops)
			g.Register(l, nil)
		})
}

func TestUnregisterOfUnknownLayerPanics(t *testing.T) {
	g := mountForTest(t)
	stray := newLayer(g, true, g.ops)
	stray.index = 1 // never actually registered
	assert.Panics(t, func() { g.Unregister(stray) })
}

func TestGetLayerRejectsUnregisteredIndex(t *testing.T) {
	g := mountForTest(t)
	_, err := g.GetLayer(MakeInodeID(5, RootInode), false)
	assert.ErrorIs(t, err, ErrNotExist)
}
