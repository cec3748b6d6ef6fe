package lcfs

// bmapTable is the in-memory reference block map: a simple slice of block
// addresses indexed by page number. Stands in for the out-of-scope bmap_*
// codec.
type bmapTable struct {
	blocks []uint64
}

// MemBmapOps is the reference BmapOps implementation.
type MemBmapOps struct{}

func bmapOf(file *Inode) *bmapTable {
	if file.Bmap == nil {
		return nil
	}
	return file.Bmap.(*bmapTable)
}

// SetBlock records the block address backing page index, unsharing the
// map first if needed.
func (o MemBmapOps) SetBlock(file *Inode, page int, block uint64) {
	o.unshare(file)
	t := bmapOf(file)
	if t == nil {
		t = &bmapTable{}
		file.Bmap = t
	}
	for len(t.blocks) <= page {
		t.blocks = append(t.blocks, InvalidBlock)
	}
	t.blocks[page] = block
	file.BCount = uint64(len(t.blocks))
	file.BmapDirty = true
	file.Dirty = true
}

func (o MemBmapOps) GetBlock(file *Inode, page int) (uint64, bool) {
	t := bmapOf(file)
	if t == nil || page >= len(t.blocks) {
		return 0, false
	}
	b := t.blocks[page]
	return b, b != InvalidBlock
}

func (o MemBmapOps) unshare(file *Inode) {
	if !file.Shared {
		return
	}
	src := bmapOf(file)
	cp := &bmapTable{}
	if src != nil {
		cp.blocks = append([]uint64(nil), src.blocks...)
	}
	file.Bmap = cp
	file.Shared = false
}

// Read is a no-op for the reference codec: bmap content, when present, is
// reconstructed lazily by SetBlock/GetBlock rather than eagerly decoded
// from the dinode tail.
func (MemBmapOps) Read(file *Inode, buf []byte) error { return nil }

func (MemBmapOps) Flush(dev BlockDevice, file *Inode) error {
	file.BmapDirty = false
	return nil
}

// TruncPages releases pages/blocks at or beyond size. The reference codec
// handles only "truncate to zero" (size == 0, the only case the core itself
// drives, via freeInode); for any other size it releases nothing and
// returns 0.
func (MemBmapOps) TruncPages(file *Inode, size uint64, remove bool) uint64 {
	var freed uint64
	if file.ExtentLength > 0 {
		if size == 0 {
			freed = file.ExtentLength
			file.ExtentBlock = 0
			file.ExtentLength = 0
		}
		return freed
	}
	t := bmapOf(file)
	if t == nil {
		return 0
	}
	if size == 0 {
		for _, b := range t.blocks {
			if b != InvalidBlock {
				freed++
			}
		}
		file.Bmap = nil
		file.BCount = 0
	}
	return freed
}

// Unshare clears the Shared flag by privatizing the extent/bmap payload,
// the step required before any mutating write to a cloned file. Exported
// for callers (the out-of-scope write path) that need to force an
// unshare without going through SetBlock.
func (o MemBmapOps) Unshare(file *Inode) {
	if !file.Shared {
		return
	}
	if file.ExtentLength > 0 {
		file.Shared = false
		return
	}
	o.unshare(file)
}
