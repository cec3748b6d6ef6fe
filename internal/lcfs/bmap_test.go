package lcfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemBmapOpsSetGetBlock(t *testing.T) {
	var ops MemBmapOps
	file := &Inode{}

	_, ok := ops.GetBlock(file, 0)
	assert.False(t, ok, "an unset page has no block")

	ops.SetBlock(file, 2, 100)
	block, ok := ops.GetBlock(file, 2)
	require.True(t, ok)
	assert.Equal(t, uint64(100), block)
	assert.Equal(t, uint64(3), file.BCount, "BCount tracks the highest page index touched, plus one")

	_, ok = ops.GetBlock(file, 0)
	assert.False(t, ok, "pages skipped by a sparse SetBlock report InvalidBlock")
}

func TestMemBmapOpsUnshareDoesNotMutateSource(t *testing.T) {
	var ops MemBmapOps
	src := &Inode{}
	ops.SetBlock(src, 0, 1)

	clone := &Inode{Bmap: src.Bmap, Shared: true}
	ops.Unshare(clone)
	assert.False(t, clone.Shared)

	ops.SetBlock(clone, 0, 99)
	block, _ := ops.GetBlock(src, 0)
	assert.Equal(t, uint64(1), block, "mutating the unshared clone must not affect the source block map")
}

func TestMemBmapOpsTruncPagesToZeroFreesAll(t *testing.T) {
	var ops MemBmapOps
	file := &Inode{}
	ops.SetBlock(file, 0, 1)
	ops.SetBlock(file, 1, 2)

	freed := ops.TruncPages(file, 0, true)
	assert.Equal(t, uint64(2), freed)
	_, ok := ops.GetBlock(file, 0)
	assert.False(t, ok)
}

func TestMemBmapOpsUnshareHandlesExtentPayload(t *testing.T) {
	var ops MemBmapOps
	clone := &Inode{Shared: true}
	clone.ExtentBlock = 5
	clone.ExtentLength = 1

	ops.Unshare(clone)
	assert.False(t, clone.Shared, "a contiguous-extent clone unshares by just clearing the flag, it owns its own extent address already")
}
