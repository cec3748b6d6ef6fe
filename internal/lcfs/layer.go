package lcfs

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// collaboratorSet bundles the three out-of-scope codecs a layer needs to
// free or clone inode payloads. Held by the Layer so call sites don't need
// to thread three interfaces through every signature.
type collaboratorSet struct {
	dir   DirOps
	bmap  BmapOps
	xattr XattrOps
}

// cloneLock is the clone-mutex shared across a
// parent layer and every one of its snapshots, so concurrent writers in
// sibling layers can't race materializing the same ancestor inode. It is
// reference-counted because its lifetime spans the whole sibling group,
// owned by the base-most ancestor.
type cloneLock struct {
	mu   sync.Mutex
	refs int32
}

func newCloneLock() *cloneLock {
	return &cloneLock{refs: 1}
}

func (l *cloneLock) acquire() { atomic.AddInt32(&l.refs, 1) }

// release drops a reference; the lock object itself has no explicit
// teardown (Go's GC reclaims it), matching the net effect of the source's
// refcounted free without requiring one.
func (l *cloneLock) release() { atomic.AddInt32(&l.refs, -1) }

// Layer is a mount-point-like context: a root inode, optional parent,
// sibling linkage for snapshots of a common parent, and the layer-global
// locks that serialize clones and snapshot creation against it.
type Layer struct {
	registry *Registry
	index    int
	root     uint64 // root local inode number
	SnapID   uuid.UUID

	parent *Layer
	next   *Layer // sibling link: next snapshot of the same parent
	snap   *Layer // head of this layer's own children list

	rwlock *sync.RWMutex // nil for the base layer, whose exclusivity is mount lifecycle
	ilock  *cloneLock    // shared with all snapshots of the same sibling group

	cache *icache
	ops   collaboratorSet

	icount int64 // atomic: inodes currently cached in this layer

	rootInode *Inode

	// Inode-index writeback state: the index block currently
	// being filled, and where to write it.
	inodeBlocks *inodeIndexBlock
	inodeIndex  int

	// InodeBlock is this layer's own on-disk inode-chain head. The base
	// layer's copy is mirrored into the superblock so it survives a
	// remount; a snapshot layer's copy lives only as long as the layer
	// itself, since the registry has no on-disk layer table to persist
	// snapshots across a remount.
	InodeBlock uint64

	IWrite uint64 // atomic: inodes written by SyncInodes, cumulative

	ReadOnly bool
}

// newLayer allocates a layer structure. locks controls whether the layer
// gets its own reader/writer lock (false for the base layer, which is
// instead serialized by the registry's own lock and its clone mutex).
func newLayer(registry *Registry, locks bool, ops collaboratorSet) *Layer {
	l := &Layer{
		registry:   registry,
		cache:      newICache(registry.icacheSize),
		ops:        ops,
		InodeBlock: InvalidBlock,
	}
	if locks {
		l.rwlock = &sync.RWMutex{}
	}
	return l
}

// Lock acquires the layer's reader/writer lock in the requested mode. The
// base layer has no lock (nil rwlock): its exclusivity is implied by the
// mount lifecycle, so Lock is a no-op there.
func (l *Layer) Lock(exclusive bool) {
	if l.rwlock == nil {
		return
	}
	if exclusive {
		l.rwlock.Lock()
	} else {
		l.rwlock.RLock()
	}
}

func (l *Layer) Unlock(exclusive bool) {
	if l.rwlock == nil {
		return
	}
	if exclusive {
		l.rwlock.Unlock()
	} else {
		l.rwlock.RUnlock()
	}
}

func (l *Layer) addICount(n int64) { atomic.AddInt64(&l.icount, n) }

// ICount returns the number of inodes currently cached in this layer.
func (l *Layer) ICount() int64 { return atomic.LoadInt64(&l.icount) }

// Index returns the layer's registry index.
func (l *Layer) Index() int { return l.index }

// Root returns the layer's root local inode number.
func (l *Layer) Root() uint64 { return l.root }

// RootInode returns the layer's cached root inode.
func (l *Layer) RootInode() *Inode { return l.rootInode }

// Parent returns the layer's parent, or nil for the base layer.
func (l *Layer) Parent() *Layer { return l.parent }

// DirOps returns the layer's directory entry codec, for callers outside
// the package (such as a FUSE request dispatcher) that need to resolve
// names or enumerate entries without duplicating the core engine's own
// locking.
func (l *Layer) DirOps() DirOps { return l.ops.dir }

// destroy frees every cached inode and, if remove is true, returns their
// payload blocks to the allocator.
func (l *Layer) destroy(alloc BlockAllocator, remove bool) {
	count := l.cache.destroyAll(l.registry, l, remove, l.ops)
	if remove && count > 0 {
		alloc.Free(count)
	}
	if l.ilock != nil {
		l.ilock.release()
	}
}

// NewLayerRoot initializes a fresh root directory inode for the layer:
// mode ModeDir|0755, nlink=2, parented to itself.
func NewLayerRoot(l *Layer, root uint64) *Inode {
	inode := newInode(l)
	inode.Stat.Ino = root
	inode.Stat.Mode = ModeDir | 0755
	inode.Stat.Nlink = 2
	inode.Stat.BlkSize = BlockSize
	inode.Parent = root
	updateTimes(inode, true, true, true)
	l.cache.insert(l, inode)
	l.root = root
	l.rootInode = inode
	inode.markDirty(true, false, false, false)
	return inode
}
