package lcfs

import "sync"

// icacheBucket is one hash bucket: a mutex and an intrusive singly-linked
// list head 
type icacheBucket struct {
	lock sync.Mutex
	head *Inode
}

// icache is a per-layer hash table from local inode number to in-memory
// inode. Its bucket count is fixed at construction, sized from
// cfg.Config's inode-cache override (ICacheSize by default).
type icache struct {
	buckets []icacheBucket
}

func newICache(size int) *icache {
	if size <= 0 {
		size = ICacheSize
	}
	return &icache{buckets: make([]icacheBucket, size)}
}

func (c *icache) hash(localIno uint64) int {
	return int(localIno % uint64(len(c.buckets)))
}

// insert adds inode to the cache and sets its owning layer.
func (c *icache) insert(layer *Layer, inode *Inode) {
	b := &c.buckets[c.hash(inode.Stat.Ino)]
	b.lock.Lock()
	inode.next = b.head
	b.head = inode
	b.lock.Unlock()
	inode.fs = layer
}

// lookup scans a bucket's chain without taking its mutex: inodes are never
// removed from the cache during a layer's lifetime, only inserted, so a
// concurrent insert can at worst be missed by a racing lookup, never
// followed into a freed node. This is sound only because destroyAll (the
// sole remover) runs exclusively at layer teardown.
func (c *icache) lookup(localIno uint64) *Inode {
	b := &c.buckets[c.hash(localIno)]
	if b.head == nil {
		return nil
	}
	for inode := b.head; inode != nil; inode = inode.next {
		if inode.Stat.Ino == localIno {
			return inode
		}
	}
	return nil
}

// destroyAll unlinks and frees every cached inode. Called only under the
// owning layer's exclusive lock (layer teardown). If removeBlocks is false
// (clean unmount) payload blocks are left allocated on-device.
func (c *icache) destroyAll(registry *Registry, layer *Layer, removeBlocks bool, ops collaboratorSet) (blocksFreed uint64) {
	var liveCount uint64
	for i := range c.buckets {
		b := &c.buckets[i]
		for b.head != nil {
			inode := b.head
			b.head = inode.next
			if !inode.Removed {
				liveCount++
			}
			blocksFreed += freeInode(inode, removeBlocks, ops)
		}
	}
	if liveCount > 0 {
		registry.addInodeAccounting(-int64(liveCount))
	}
	return blocksFreed
}

// freeInode releases an inode's payload and in-memory structure.
func freeInode(inode *Inode, remove bool, ops collaboratorSet) uint64 {
	var count uint64
	switch {
	case inode.Stat.Mode.IsRegular():
		count = ops.bmap.TruncPages(inode, 0, remove)
	case inode.Stat.Mode.IsDir():
		ops.dir.Free(inode)
	case inode.Stat.Mode.IsSymlink():
		inode.Target = ""
	}
	ops.xattr.Free(inode)
	return count
}
