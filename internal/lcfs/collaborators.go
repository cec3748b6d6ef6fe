package lcfs

// This file names the engine's external collaborators: block device I/O,
// the block allocator, and the directory/bmap/xattr codecs. The core only
// ever calls through these interfaces. dir.go, bmap.go and xattr.go in this
// package ship minimal in-memory reference implementations so the engine
// is testable end to end, but any of the three can be swapped for a real
// codec without touching the walker, persistence, or registry code.

// BlockDevice is the block I/O driver. Implementations must be safe for
// concurrent use; read/write of distinct blocks may run concurrently.
type BlockDevice interface {
	ReadBlock(block uint64, buf []byte) error
	WriteBlock(block uint64, buf []byte) error

	// Size returns the usable device size in bytes.
	Size() (int64, error)

	Close() error
}

// BlockAllocator is the free-list/allocator collaborator.
type BlockAllocator interface {
	// Alloc returns the first block of a run of count contiguous blocks.
	Alloc(layer *Layer, count uint64, metadata bool) (uint64, error)

	// Free returns count previously-allocated blocks (tracked by the
	// caller) to the free list. Accounting is by count, not by explicit
	// address: the allocator owns the run bookkeeping, not the caller.
	Free(count uint64)
}

// DirOps is the directory entry codec collaborator: lookup, decode,
// flush, and release of a directory inode's entry table.
type DirOps interface {
	// Lookup resolves name within a directory's entry table, returning
	// InvalidInode if absent.
	Lookup(dir *Inode, name string) uint64

	// Entries returns a snapshot of the directory's entry table, for
	// callers outside the package (such as a FUSE ReadDir handler) that
	// need to enumerate names without duplicating the core engine's own
	// locking.
	Entries(dir *Inode) []DirEntry

	// Read decodes a directory's on-disk entry table from buf (the tail
	// of the inode's block, after the dinode header) into the inode's
	// in-memory directory structure.
	Read(dir *Inode, buf []byte) error

	// Flush encodes and writes a dirty directory's entry table. No-op if
	// the directory isn't dirty.
	Flush(dev BlockDevice, dir *Inode) error

	// Free releases a directory's in-memory entry table.
	Free(dir *Inode)

	// Unshare replaces a shared entry table reference with a private
	// copy, to be called before any mutating directory operation.
	Unshare(dir *Inode)
}

// BmapOps is the block-map codec collaborator: read, flush, and page
// truncation for a regular file's block map.
type BmapOps interface {
	Read(file *Inode, buf []byte) error
	Flush(dev BlockDevice, file *Inode) error

	// TruncPages releases pages/blocks beyond size, returning the count
	// of blocks freed (only meaningful when remove is true).
	TruncPages(file *Inode, size uint64, remove bool) uint64
}

// XattrOps is the extended-attribute codec collaborator: read, flush,
// copy-on-clone, and release for an inode's extended attribute list.
type XattrOps interface {
	Read(inode *Inode, buf []byte) error
	Flush(dev BlockDevice, inode *Inode) error

	// Copy installs a reference-counted (or copy-on-write) copy of src's
	// xattr list onto dst, called from CloneInode.
	Copy(dst, src *Inode)

	Free(inode *Inode)
}
