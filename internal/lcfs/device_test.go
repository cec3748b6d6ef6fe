package lcfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBlockDeviceReadWrite(t *testing.T) {
	dev := NewMemoryBlockDevice(4 * BlockSize)

	out := NewAlignedBuffer()
	for i := range out {
		out[i] = 0xAB
	}
	require.NoError(t, dev.WriteBlock(2, out))

	in := NewAlignedBuffer()
	require.NoError(t, dev.ReadBlock(2, in))
	assert.Equal(t, out, in)

	// An untouched block must still read as zeroed, not leak another
	// block's content.
	other := NewAlignedBuffer()
	require.NoError(t, dev.ReadBlock(0, other))
	assert.NotEqual(t, out, other)
}

func TestMemoryBlockDeviceRejectsOutOfRangeBlocks(t *testing.T) {
	dev := NewMemoryBlockDevice(2 * BlockSize)
	buf := NewAlignedBuffer()
	assert.Error(t, dev.ReadBlock(5, buf))
	assert.Error(t, dev.WriteBlock(5, buf))
}

func TestSimpleAllocatorAllocAdvancesAndRejectsOverflow(t *testing.T) {
	sb := &Superblock{NBlock: 10, TBlocks: 12}
	alloc := newSimpleAllocator(sb)

	block, err := alloc.Alloc(nil, 1, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), block)
	assert.Equal(t, uint64(11), sb.NBlock)

	_, err = alloc.Alloc(nil, 5, true)
	assert.Error(t, err, "an allocation that would exceed the device's total blocks must fail")
}
