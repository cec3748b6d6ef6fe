package lcfs

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/timober/lcfs/internal/logger"
)

// inodeIndexBlock is the on-disk inode-index block: a fixed array of block
// addresses followed by a next-block pointer.
type inodeIndexBlock struct {
	blks [IBlockMax]uint64
	next uint64
}

func (b *inodeIndexBlock) decode(buf []byte) {
	for i := 0; i < IBlockMax; i++ {
		b.blks[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	b.next = binary.LittleEndian.Uint64(buf[IBlockMax*8:])
}

func (b *inodeIndexBlock) encode(buf []byte) {
	for i := 0; i < IBlockMax; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], b.blks[i])
	}
	binary.LittleEndian.PutUint64(buf[IBlockMax*8:], b.next)
}

const dinodeSize = 128 // fixed header size reserved at the front of an inode block

// encodeDinode/decodeDinode give the Dinode header a stable, versioned
// on-disk shape. Symlink target bytes (for ModeSymlink) follow
// immediately after, with no terminator, length taken from Stat.Size.
func encodeDinode(d *Dinode, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], d.Stat.Ino)
	binary.LittleEndian.PutUint32(buf[8:], uint32(d.Stat.Mode))
	binary.LittleEndian.PutUint32(buf[12:], d.Stat.Nlink)
	binary.LittleEndian.PutUint32(buf[16:], d.Stat.UID)
	binary.LittleEndian.PutUint32(buf[20:], d.Stat.GID)
	binary.LittleEndian.PutUint64(buf[24:], d.Stat.Rdev)
	binary.LittleEndian.PutUint64(buf[32:], d.Stat.Size)
	binary.LittleEndian.PutUint64(buf[40:], d.Stat.Blocks)
	binary.LittleEndian.PutUint32(buf[48:], d.Stat.BlkSize)
	binary.LittleEndian.PutUint64(buf[56:], d.Parent)
	binary.LittleEndian.PutUint64(buf[64:], d.Block)
	binary.LittleEndian.PutUint64(buf[72:], d.BmapDirBlock)
	binary.LittleEndian.PutUint64(buf[80:], d.XattrBlock)
}

func decodeDinode(d *Dinode, buf []byte) {
	d.Stat.Ino = binary.LittleEndian.Uint64(buf[0:])
	d.Stat.Mode = FileMode(binary.LittleEndian.Uint32(buf[8:]))
	d.Stat.Nlink = binary.LittleEndian.Uint32(buf[12:])
	d.Stat.UID = binary.LittleEndian.Uint32(buf[16:])
	d.Stat.GID = binary.LittleEndian.Uint32(buf[20:])
	d.Stat.Rdev = binary.LittleEndian.Uint64(buf[24:])
	d.Stat.Size = binary.LittleEndian.Uint64(buf[32:])
	d.Stat.Blocks = binary.LittleEndian.Uint64(buf[40:])
	d.Stat.BlkSize = binary.LittleEndian.Uint32(buf[48:])
	d.Parent = binary.LittleEndian.Uint64(buf[56:])
	d.Block = binary.LittleEndian.Uint64(buf[64:])
	d.BmapDirBlock = binary.LittleEndian.Uint64(buf[72:])
	d.XattrBlock = binary.LittleEndian.Uint64(buf[80:])
}

// ReadInodes walks the inode-index chain starting at layer's own chain head
// (layer.InodeBlock) and populates layer's cache.
func ReadInodes(g *Registry, layer *Layer) error {
	block := layer.InodeBlock
	if block == InvalidBlock {
		if layer.rootInode == nil {
			return fmt.Errorf("lcfs: layer %d has no inode chain and no root", layer.index)
		}
		return nil
	}

	ibuf := NewAlignedBuffer()
	ibBuf := NewAlignedBuffer()

	for block != InvalidBlock {
		if err := g.Device.ReadBlock(block, ibBuf); err != nil {
			return err
		}
		var ib inodeIndexBlock
		ib.decode(ibBuf)

		flush := false
		for i := 0; i < IBlockMax; i++ {
			iblock := ib.blks[i]
			if iblock == 0 {
				break
			}
			if iblock == InvalidBlock {
				// Tombstone: not materialized as an explicit
				// child-visible tombstone entry, just skipped.
				continue
			}
			if err := g.Device.ReadBlock(iblock, ibuf); err != nil {
				return err
			}
			var d Dinode
			decodeDinode(&d, ibuf)
			if d.Stat.Ino == 0 {
				// Corrupt/cleared on-disk inode: mark the slot a
				// tombstone and flag the index block for rewrite.
				ib.blks[i] = InvalidBlock
				flush = true
				continue
			}

			inode := &Inode{Dinode: d}
			inode.Block = iblock
			layer.addICount(1)
			layer.cache.insert(layer, inode)

			var err error
			switch {
			case inode.Stat.Mode.IsRegular():
				err = layer.ops.bmap.Read(inode, ibuf[dinodeSize:])
			case inode.Stat.Mode.IsDir():
				err = layer.ops.dir.Read(inode, ibuf[dinodeSize:])
			case inode.Stat.Mode.IsSymlink():
				n := inode.Stat.Size
				inode.Target = string(ibuf[dinodeSize : uint64(dinodeSize)+n])
			}
			if err != nil {
				return err
			}
			if err := layer.ops.xattr.Read(inode, ibuf[dinodeSize:]); err != nil {
				return err
			}
			if inode.Stat.Ino == layer.root {
				layer.rootInode = inode
			}
		}
		if flush {
			ib.encode(ibBuf)
			if err := g.Device.WriteBlock(block, ibBuf); err != nil {
				return err
			}
		}
		block = ib.next
	}
	if layer.rootInode == nil {
		return fmt.Errorf("lcfs: layer %d missing root inode after read", layer.index)
	}
	return nil
}

// FlushInode writes a single dirty inode's codec-owned state and, if the
// metadata itself is dirty, its dinode header. Returns true if a block
// write occurred.
func FlushInode(g *Registry, layer *Layer, inode *Inode) (bool, error) {
	if inode.fs != layer {
		panic("lcfs: FlushInode called with mismatched layer")
	}
	if inode.XattrDirty {
		if err := layer.ops.xattr.Flush(g.Device, inode); err != nil {
			return false, err
		}
	}
	if inode.BmapDirty {
		if err := layer.ops.bmap.Flush(g.Device, inode); err != nil {
			return false, err
		}
	}
	if inode.DirDirty {
		if err := layer.ops.dir.Flush(g.Device, inode); err != nil {
			return false, err
		}
	}

	written := false
	if inode.Dirty {
		if !inode.Removed {
			if inode.Block == InvalidBlock {
				if layer.inodeBlocks == nil || layer.inodeIndex >= IBlockMax {
					if err := newInodeBlock(g, layer); err != nil {
						return false, err
					}
				}
				block, err := g.Alloc.Alloc(layer, 1, true)
				if err != nil {
					return false, err
				}
				inode.Block = block
				layer.inodeBlocks.blks[layer.inodeIndex] = inode.Block
				layer.inodeIndex++
			}
			buf := NewAlignedBuffer()
			encodeDinode(&inode.Dinode, buf)
			if inode.Stat.Mode.IsSymlink() {
				copy(buf[dinodeSize:], inode.Target)
			}
			if err := g.Device.WriteBlock(inode.Block, buf); err != nil {
				return false, err
			}
			written = true
		} else if inode.Block != InvalidBlock {
			// Tombstone write: record that this inode is gone so lookups
			// fail after remount.
			inode.Stat.Ino = 0
			buf := NewAlignedBuffer()
			encodeDinode(&inode.Dinode, buf)
			if err := g.Device.WriteBlock(inode.Block, buf); err != nil {
				return false, err
			}
			written = true
		}
		inode.Dirty = false
	}
	return written, nil
}

// newInodeBlock allocates a fresh inode-index block and chains it onto
// layer's writeback state. When the current in-memory block is full, it is
// written out immediately to a freshly allocated block address, and the new
// block's next pointer is set to that address. When there is no current
// in-memory block (the first write of a sync round), the new block instead
// chains onto layer's existing on-disk head, so a later sync round never
// loses inode blocks written by an earlier one. Either way, on-disk blocks
// are immutable once written — the chain only ever grows, linking
// newest-first down to whichever block has next == InvalidBlock.
func newInodeBlock(g *Registry, layer *Layer) error {
	next := layer.InodeBlock
	if layer.inodeBlocks != nil {
		block, err := g.Alloc.Alloc(layer, 1, true)
		if err != nil {
			return err
		}
		buf := NewAlignedBuffer()
		layer.inodeBlocks.encode(buf)
		if err := g.Device.WriteBlock(block, buf); err != nil {
			return err
		}
		next = block
	}
	layer.inodeBlocks = &inodeIndexBlock{next: next}
	layer.inodeIndex = 0
	return nil
}

// SyncInodes flushes every dirty inode in layer and writes back the
// current inode-index block. The in-memory block is always written to a
// freshly allocated address, never back onto layer's previous head — once
// on disk, an inode-index block is immutable, and only the head pointer
// (layer.InodeBlock, mirrored into the superblock for the base layer) moves.
func SyncInodes(g *Registry, layer *Layer) error {
	var count uint64
	for i := range layer.cache.buckets {
		b := &layer.cache.buckets[i]
		for inode := b.head; inode != nil; inode = inode.next {
			if inode.isDirty() {
				written, err := FlushInode(g, layer, inode)
				if err != nil {
					return err
				}
				if written {
					count++
				}
			}
		}
	}
	if layer.inodeBlocks != nil {
		block, err := g.Alloc.Alloc(layer, 1, true)
		if err != nil {
			return err
		}
		buf := NewAlignedBuffer()
		layer.inodeBlocks.encode(buf)
		if err := g.Device.WriteBlock(block, buf); err != nil {
			return err
		}
		layer.InodeBlock = block
		layer.inodeBlocks = nil
		layer.inodeIndex = 0
	}
	if layer.index == 0 {
		g.Super.InodeBlock = layer.InodeBlock
	}
	if count > 0 {
		atomic.AddUint64(&layer.IWrite, count)
		g.addWrites(count)
	}
	return nil
}

// SyncAll syncs every live layer concurrently, fanning out with
// errgroup since distinct layers' inode chains share
// nothing but the registry's device handle.
func SyncAll(ctx context.Context, g *Registry) error {
	g.mu.Lock()
	layers := make([]*Layer, 0, g.high+1)
	for i := 0; i <= g.high; i++ {
		if g.layers[i] != nil {
			layers = append(layers, g.layers[i])
		}
	}
	g.mu.Unlock()

	eg, _ := errgroup.WithContext(ctx)
	for _, layer := range layers {
		layer := layer
		eg.Go(func() error {
			layer.Lock(false)
			defer layer.Unlock(false)
			return SyncInodes(g, layer)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Infof("synced %d layers", len(layers))
	return nil
}

// DestroyInodes tears down layer's inode cache, freeing every cached
// inode and, if remove is true, returning their payload blocks to the
// allocator.
func DestroyInodes(layer *Layer, remove bool) {
	layer.destroy(layer.registry.Alloc, remove)
}
