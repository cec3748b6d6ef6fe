package lcfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeDirTableForTest lays out a directory entry table in the on-disk
// shape MemDirOps.Read expects, independent of the package's own (as yet
// unwritten) encoder, so the decode path can be exercised from known bytes.
func encodeDirTableForTest(dir *Inode, buf []byte) error {
	t := tableOf(dir)
	off := 4
	for _, e := range t.entries {
		binary.LittleEndian.PutUint64(buf[off:], e.ino)
		off += 8
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(e.name)))
		off += 2
		off += copy(buf[off:], e.name)
	}
	binary.LittleEndian.PutUint32(buf, uint32(len(t.entries)))
	return nil
}

func TestMemDirOpsAddLookupRemove(t *testing.T) {
	var ops MemDirOps
	dir := &Inode{}

	ops.Add(dir, "b", 2)
	ops.Add(dir, "a", 1)

	assert.Equal(t, uint64(1), ops.Lookup(dir, "a"))
	assert.Equal(t, uint64(2), ops.Lookup(dir, "b"))
	assert.Equal(t, InvalidInode, ops.Lookup(dir, "missing"))

	entries := ops.Entries(dir)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name, "Entries must return a name-sorted snapshot")

	require.True(t, ops.Remove(dir, "a"))
	assert.Equal(t, InvalidInode, ops.Lookup(dir, "a"))
	assert.False(t, ops.Remove(dir, "a"), "removing an already-removed name reports false")
}

func TestMemDirOpsUnshareDoesNotMutateSource(t *testing.T) {
	var ops MemDirOps
	src := &Inode{}
	ops.Add(src, "x", 1)

	clone := &Inode{Dirent: src.Dirent, Shared: true}
	ops.Unshare(clone)
	assert.False(t, clone.Shared)

	ops.Add(clone, "y", 2)
	assert.Equal(t, InvalidInode, ops.Lookup(src, "y"), "mutating the unshared clone must not affect the source table")
}

func TestMemDirOpsReadDecodesEncodedLayout(t *testing.T) {
	var ops MemDirOps
	src := &Inode{}
	ops.Add(src, "alpha", 1)
	ops.Add(src, "beta", 2)

	buf := make([]byte, BlockSize)
	require.NoError(t, encodeDirTableForTest(src, buf))

	dst := &Inode{}
	require.NoError(t, ops.Read(dst, buf))
	assert.Equal(t, uint64(1), ops.Lookup(dst, "alpha"))
	assert.Equal(t, uint64(2), ops.Lookup(dst, "beta"))
}
