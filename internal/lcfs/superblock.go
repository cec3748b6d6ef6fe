package lcfs

import (
	"encoding/binary"
	"fmt"
)

// Superblock is the on-disk root record: version, magic, block/inode
// counters, and the pointer to the inode-table head.
// The struct is padded to exactly one block on disk.
type Superblock struct {
	Version     uint64
	Magic       uint64
	NBlock      uint64 // next-free block
	NInode      uint64 // next-free local inode number
	TBlocks     uint64 // total blocks on device
	InodeBlock  uint64 // head of the inode-index chain
	Inodes      uint64 // live inode count (best-effort, see DESIGN.md)
	Mounts      uint64 // mount count
}

const superblockFieldCount = 7

// ReadSuperblock reads and decodes the superblock from its fixed block
// offset.
func ReadSuperblock(dev BlockDevice) (*Superblock, error) {
	buf := NewAlignedBuffer()
	if err := dev.ReadBlock(SuperBlockNumber, buf); err != nil {
		return nil, err
	}
	sb := &Superblock{}
	sb.decode(buf)
	return sb, nil
}

// WriteSuperblock encodes and writes the superblock back to its fixed
// block offset.
func WriteSuperblock(dev BlockDevice, sb *Superblock) error {
	buf := NewAlignedBuffer()
	sb.encode(buf)
	return dev.WriteBlock(SuperBlockNumber, buf)
}

func (sb *Superblock) encode(buf []byte) {
	fields := []uint64{
		sb.Version, sb.Magic, sb.NBlock, sb.NInode, sb.TBlocks,
		sb.InodeBlock, sb.Inodes,
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	binary.LittleEndian.PutUint64(buf[superblockFieldCount*8:], sb.Mounts)
}

func (sb *Superblock) decode(buf []byte) {
	fields := []*uint64{
		&sb.Version, &sb.Magic, &sb.NBlock, &sb.NInode, &sb.TBlocks,
		&sb.InodeBlock, &sb.Inodes,
	}
	for i, p := range fields {
		*p = binary.LittleEndian.Uint64(buf[i*8:])
	}
	sb.Mounts = binary.LittleEndian.Uint64(buf[superblockFieldCount*8:])
}

// Format zeros and reinitializes the superblock for a device of the given
// size.
func (sb *Superblock) Format(size int64) {
	*sb = Superblock{
		Version:    Version,
		Magic:      SuperMagic,
		NBlock:     StartBlock,
		NInode:     StartInode,
		TBlocks:    uint64(size) / BlockSize,
		InodeBlock: InvalidBlock,
	}
}

func (sb *Superblock) String() string {
	return fmt.Sprintf("super{version=%d tblocks=%d nblock=%d ninode=%d inodes=%d mounts=%d}",
		sb.Version, sb.TBlocks, sb.NBlock, sb.NInode, sb.Inodes, sb.Mounts)
}
