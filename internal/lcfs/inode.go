package lcfs

import (
	"sync"
	"time"
)

// FileMode mirrors the subset of POSIX mode bits the engine cares about.
// The request dispatcher (out of scope) owns the rest of stat(2) semantics.
type FileMode uint32

const (
	ModeDir     FileMode = 1 << 31
	ModeRegular FileMode = 1 << 30
	ModeSymlink FileMode = 1 << 29

	modeTypeMask = ModeDir | ModeRegular | ModeSymlink
)

func (m FileMode) IsDir() bool     { return m&modeTypeMask == ModeDir }
func (m FileMode) IsRegular() bool { return m&modeTypeMask == ModeRegular }
func (m FileMode) IsSymlink() bool { return m&modeTypeMask == ModeSymlink }

// Perm returns the permission bits (the low 12 bits), mirroring st_mode's
// low bits in the original dinode.
func (m FileMode) Perm() FileMode { return m & 07777 }

// Stat is the subset of POSIX stat(2) fields the core persists, embedded at
// the head of a Dinode.
type Stat struct {
	Ino     uint64
	Mode    FileMode
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    uint64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	BlkSize uint32
}

// Dinode is the on-disk portion of an inode: the part that is memcpy'd to
// and from a single disk block header.
type Dinode struct {
	Stat         Stat
	Parent       uint64 // parent's local inode number
	Block        uint64 // on-disk block this inode lives at
	BmapDirBlock uint64 // directory-of-bmap-blocks pointer
	XattrBlock   uint64
}

// Inode is the in-memory inode: the Dinode header plus fields that never
// touch disk directly.
type Inode struct {
	Dinode

	fs *Layer // owning layer
	// next is the intrusive hash-chain pointer used by the layer's inode
	// cache (icache.go). Guarded by that bucket's mutex.
	next *Inode

	// Payload: exactly one of the following is meaningful, selected by
	// Stat.Mode.
	ExtentBlock  uint64 // regular file, small/contiguous payload
	ExtentLength uint64
	Bmap         interface{} // opaque block-map root, owned by BmapOps
	BCount       uint64
	Dirent       interface{} // opaque directory entry table, owned by DirOps
	Target       string      // symlink target
	Xattr        interface{} // opaque xattr list head, owned by XattrOps

	rwlock sync.RWMutex // guards metadata (and, indirectly, payload pointers)
	pglock sync.RWMutex // guards page-cache state (owned by the page codec)

	Dirty      bool
	BmapDirty  bool
	DirDirty   bool
	XattrDirty bool
	Removed    bool
	Shared     bool // payload referenced by another inode (clone source)
	PCache     bool // eligible for page caching
}

// newInode allocates a bare in-memory inode with disk-home fields marked
// absent.
func newInode(fs *Layer) *Inode {
	inode := &Inode{
		Dinode: Dinode{
			Block:        InvalidBlock,
			BmapDirBlock: InvalidBlock,
			XattrBlock:   InvalidBlock,
		},
	}
	fs.registry.addInodeAccounting(1)
	fs.addICount(1)
	return inode
}

// Lock acquires the inode's metadata lock in the requested mode.
func (i *Inode) Lock(exclusive bool) {
	if exclusive {
		i.rwlock.Lock()
	} else {
		i.rwlock.RLock()
	}
}

// Unlock releases a lock acquired with Lock. The caller must pass the same
// exclusivity it locked with, matching the C source's untyped
// pthread_rwlock_unlock (which doesn't need to know either).
func (i *Inode) Unlock(exclusive bool) {
	if exclusive {
		i.rwlock.Unlock()
	} else {
		i.rwlock.RUnlock()
	}
}

// LockPage/UnlockPage guard page-cache state, always acquired while
// already holding the metadata lock.
func (i *Inode) LockPage(exclusive bool) {
	if exclusive {
		i.pglock.Lock()
	} else {
		i.pglock.RLock()
	}
}

func (i *Inode) UnlockPage(exclusive bool) {
	if exclusive {
		i.pglock.Unlock()
	} else {
		i.pglock.RUnlock()
	}
}

// markDirty marks the parts of the inode that need to be written back.
func (i *Inode) markDirty(meta, bmap, dir, xattr bool) {
	if meta {
		i.Dirty = true
	}
	if bmap {
		i.BmapDirty = true
		i.Dirty = true
	}
	if dir {
		i.DirDirty = true
		i.Dirty = true
	}
	if xattr {
		i.XattrDirty = true
		i.Dirty = true
	}
}

// isDirty reports whether any flush-worthy state is pending.
func (i *Inode) isDirty() bool {
	return i.Dirty || i.BmapDirty || i.DirDirty || i.XattrDirty
}

// Layer returns the owning layer.
func (i *Inode) Layer() *Layer { return i.fs }

func updateTimes(i *Inode, atime, mtime, ctime bool) {
	now := time.Now()
	if atime {
		i.Stat.Atime = now
	}
	if mtime {
		i.Stat.Mtime = now
	}
	if ctime {
		i.Stat.Ctime = now
	}
}

// UpdateInodeTimes is the exported entry point request dispatchers use to
// refresh an inode's atime/mtime/ctime before a metadata-only update.
func UpdateInodeTimes(i *Inode, atime, mtime, ctime bool) {
	updateTimes(i, atime, mtime, ctime)
}
