package lcfs

import (
	"fmt"
	"sync/atomic"
)

// GetInode resolves id within layer, walking the ancestor chain and
// cloning on write if necessary:
//
//  1. If handle is non-nil and either forWrite is false or handle already
//     belongs to layer, it is returned directly (after validating its
//     local ino matches).
//  2. Fast paths for the layer's own root and the registry's
//     snapshot-root directory.
//  3. layer's own cache.
//  4. The ancestor chain, serialized by layer's clone mutex: a read-only
//     request may return the ancestor's inode directly (caller must not
//     mutate it); a write request clones into layer.
//  5. nil if nothing is found.
//
// The returned inode (if any) is locked per exclusive before return.
func GetInode(layer *Layer, id InodeID, handle *Inode, forWrite, exclusive bool) (*Inode, error) {
	localIno := InodeHandleOf(id)

	if handle != nil {
		if !forWrite || handle.fs == layer {
			if handle.Stat.Ino != localIno {
				panic("lcfs: file handle does not match requested inode")
			}
			handle.Lock(exclusive)
			return handle, nil
		}
	}

	if localIno == layer.root {
		layer.rootInode.Lock(exclusive)
		return layer.rootInode, nil
	}
	g := layer.registry
	g.mu.Lock()
	snapRoot := g.snapRootLocal
	snapInode := g.snapRootInode
	g.mu.Unlock()
	if snapRoot != 0 && localIno == snapRoot {
		snapInode.Lock(exclusive)
		return snapInode, nil
	}

	if inode := layer.cache.lookup(localIno); inode != nil {
		inode.Lock(exclusive)
		return inode, nil
	}

	var inode *Inode
	if layer.parent != nil {
		inode = getInodeFromAncestors(layer, localIno, forWrite)
	}

	if inode == nil {
		return nil, fmt.Errorf("%w: inode %d", ErrNotExist, localIno)
	}
	inode.Lock(exclusive)
	return inode, nil
}

// getInodeFromAncestors walks layer's ancestor chain under layer's clone
// mutex, looking for localIno in each parent's own cache in turn. A
// removed ancestor inode stops the walk without cloning or returning it:
// a lookup never materializes a copy of an inode its owning layer has
// already deleted.
func getInodeFromAncestors(layer *Layer, localIno uint64, copyOnWrite bool) *Inode {
	layer.ilock.mu.Lock()
	defer layer.ilock.mu.Unlock()

	// Re-check layer's own cache: another goroutine may have cloned this
	// inode while we waited for the clone mutex.
	if inode := layer.cache.lookup(localIno); inode != nil {
		return inode
	}

	for pfs := layer.parent; pfs != nil; pfs = pfs.parent {
		parent := pfs.cache.lookup(localIno)
		if parent == nil {
			continue
		}
		if parent.Removed {
			return nil
		}
		if copyOnWrite {
			return CloneInode(layer, parent, localIno)
		}
		return parent
	}
	return nil
}

// CloneInode allocates a fresh in-memory inode in target, copying parent's
// stat and installing shallow, shared references to parent's payload. The
// sharing policy is per-kind: a regular file with a contiguous extent
// shares the extent address and marks it Shared; a regular file with a
// block map shares the map pointer and marks it Shared; an empty regular
// file has nothing to share; a directory gets a shared reference to the
// entry table; a symlink gets its parent's target string and is marked
// Shared as well.
func CloneInode(target *Layer, parent *Inode, localIno uint64) *Inode {
	inode := newInode(target)
	inode.Stat = parent.Stat

	switch {
	case parent.Stat.Mode.IsRegular():
		if parent.ExtentLength > 0 || parent.Bmap != nil {
			if parent.ExtentLength > 0 {
				inode.ExtentBlock = parent.ExtentBlock
				inode.ExtentLength = parent.ExtentLength
			} else {
				inode.Bmap = parent.Bmap
				inode.BCount = parent.BCount
				inode.BmapDirty = true
			}
			inode.Shared = true
		} else {
			inode.PCache = true
		}
	case parent.Stat.Mode.IsDir():
		if parent.Dirent != nil {
			inode.Dirent = parent.Dirent
			inode.Shared = true
			inode.DirDirty = true
		}
	case parent.Stat.Mode.IsSymlink():
		inode.Target = parent.Target
		inode.Shared = true
	}

	if parent.Parent == parent.fs.root {
		inode.Parent = target.root
	} else {
		inode.Parent = parent.Parent
	}

	target.ops.xattr.Copy(inode, parent)
	target.cache.insert(target, inode)
	inode.Dirty = true
	atomic.AddInt64(&target.registry.clones, 1)
	return inode
}

// InodeAlloc allocates a fresh layer-local inode number.
func InodeAlloc(layer *Layer) uint64 {
	return atomic.AddUint64(&layer.registry.Super.NInode, 1)
}

// InodeInit creates and locks a brand-new inode (not a clone).
func InodeInit(layer *Layer, mode FileMode, uid, gid uint32, rdev uint64, parent uint64, target string) *Inode {
	ino := InodeAlloc(layer)
	inode := newInode(layer)
	inode.Stat.Ino = ino
	inode.Stat.Mode = mode
	if mode.IsDir() {
		inode.Stat.Nlink = 2
	} else {
		inode.Stat.Nlink = 1
	}
	inode.Stat.UID = uid
	inode.Stat.GID = gid
	inode.Stat.Rdev = rdev
	inode.Stat.BlkSize = BlockSize
	inode.Parent = parent
	inode.PCache = mode.IsRegular()
	updateTimes(inode, true, true, true)
	if target != "" {
		inode.Target = target
		inode.Stat.Size = uint64(len(target))
	}
	inode.Dirty = true
	inode.Lock(true)
	layer.cache.insert(layer, inode)
	return inode
}
