package lcfs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/timober/lcfs/internal/logger"
)

// Registry is the process-wide singleton per mounted device: a fixed-size
// table of layers by index, the snapshot-root directory tracking, and
// global accounting.
type Registry struct {
	Device BlockDevice
	Alloc  BlockAllocator
	Super  *Superblock

	mu     sync.Mutex
	layers [MaxLayers]*Layer
	roots  [MaxLayers]uint64
	high   int // current high-water mark (highest assigned index)

	snapRootLocal uint64 // local inode of the snapshot-root directory, 0 if unset
	snapRootInode *Inode
	snapRootCount int // number of snapshots present when the root was set

	mountsRootLocal uint64 // image/lcfs/layerdb/mounts
	sha256RootLocal uint64 // image/lcfs/layerdb/sha256

	inodesTotal int64 // atomic: sum of non-removed inodes across live layers
	clones      int64 // atomic: inode clone call count
	writes      int64 // atomic: inode writes across all layers

	icacheSize int // bucket count for every layer's inode cache; 0 means ICacheSize

	ops collaboratorSet
}

func newRegistry(dev BlockDevice, alloc BlockAllocator, sb *Superblock, ops collaboratorSet) *Registry {
	return &Registry{
		Device: dev,
		Alloc:  alloc,
		Super:  sb,
		ops:    ops,
	}
}

// newRegistryWithICacheSize is newRegistry plus an inode-cache bucket-count
// override, threaded from cfg.Config.Mount.InodeCacheSize.
func newRegistryWithICacheSize(dev BlockDevice, alloc BlockAllocator, sb *Superblock, ops collaboratorSet, icacheSize int) *Registry {
	g := newRegistry(dev, alloc, sb, ops)
	g.icacheSize = icacheSize
	return g
}

func (g *Registry) addInodeAccounting(n int64) {
	atomic.AddInt64(&g.inodesTotal, n)
}

// InodesTotal returns the best-effort live inode count.
func (g *Registry) InodesTotal() int64 { return atomic.LoadInt64(&g.inodesTotal) }

// Clones returns the cumulative inode clone count.
func (g *Registry) Clones() int64 { return atomic.LoadInt64(&g.clones) }

// Writes returns the cumulative inode-write count across all layers.
func (g *Registry) Writes() int64 { return atomic.LoadInt64(&g.writes) }

func (g *Registry) addWrites(n uint64) {
	atomic.AddInt64(&g.writes, int64(n))
}

// GlobalLayer returns the base layer (registry index 0).
func (g *Registry) GlobalLayer() *Layer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.layers[0]
}

// Register assigns layer a slot, records its root, and splices it into
// parentSnap's sibling list if given. A parentless layer registered while
// slot 0 is empty is the base layer and takes slot 0; every other layer
// gets the first free slot in [1, MaxLayers). A full table is a programmer
// error and panics: registration against a full registry indicates a
// caller bug, not a recoverable runtime condition.
func (g *Registry) Register(layer *Layer, parentSnap *Layer) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	index := -1
	start := 1
	if layer.parent == nil && g.layers[0] == nil {
		start = 0
	}
	for i := start; i < MaxLayers; i++ {
		if g.layers[i] == nil {
			index = i
			break
		}
	}
	if index == -1 {
		panic(fmt.Sprintf("%v: registry has no free slot", ErrRegistryFull))
	}

	layer.index = index
	g.layers[index] = layer
	g.roots[index] = layer.root
	if index > g.high {
		g.high = index
	}

	if parentSnap != nil {
		layer.next = parentSnap.snap
		parentSnap.snap = layer
	}
	return index
}

// Unregister clears layer's slot. Unregistering an index that was never
// registered panics — removal of an unknown layer is fatal.
func (g *Registry) Unregister(layer *Layer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := layer.index
	if i <= 0 || i >= MaxLayers || g.layers[i] != layer {
		panic("lcfs: unregister of unknown layer")
	}
	g.layers[i] = nil
	g.roots[i] = 0
	if g.high == i {
		g.high--
	}
}

// RemoveSnap unlinks layer from its parent's sibling chain.
//
// Known sharp edge: if layer itself has children (layer.snap != nil),
// those children are NOT reparented onto layer's former parent — they
// simply become unreachable from the sibling walk once layer is unlinked.
// This is reproduced faithfully, not fixed.
func (g *Registry) RemoveSnap(layer *Layer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent := layer.parent
	if parent != nil && parent.snap == layer {
		parent.snap = layer.next
		return
	}

	// Head of the sibling chain is the parent's snap field; a layer with no
	// parent is searched for starting from the base layer itself.
	var head *Layer
	if parent != nil {
		head = parent.snap
	} else {
		head = g.layers[0]
	}
	for n := head; n != nil; n = n.next {
		if n.next == layer {
			n.next = layer.next
			break
		}
	}
}

// GetLayer decodes the layer index from id, fetches the slot, and acquires
// the layer's lock in the requested mode, asserting that the slot's
// recorded root still matches the layer occupying it.
func (g *Registry) GetLayer(id InodeID, exclusive bool) (*Layer, error) {
	i := LayerIndexOf(id)
	g.mu.Lock()
	layer := g.layers[i]
	g.mu.Unlock()
	if layer == nil {
		return nil, fmt.Errorf("%w: layer %d not registered", ErrNotExist, i)
	}
	layer.Lock(exclusive)
	if layer.index != i || g.roots[i] != layer.root {
		panic("lcfs: layer table invariant violated")
	}
	return layer, nil
}

// ReleaseLayer unlocks a layer obtained from GetLayer.
func (g *Registry) ReleaseLayer(layer *Layer, exclusive bool) {
	layer.Unlock(exclusive)
}

// GetSnapshotTargetIndex implements the snapshot-root "teleport": if the
// current layer is the base, a snapshot root is configured, and
// parentLocalIno matches it, search the roots table for a layer whose root
// equals inode_handle_of(id) and return that layer's index. Otherwise
// return currentLayer's own index.
func (g *Registry) GetSnapshotTargetIndex(currentLayer *Layer, parentLocalIno uint64, id InodeID) int {
	if currentLayer.index != 0 || g.snapRootLocal == 0 || parentLocalIno != g.snapRootLocal {
		return currentLayer.index
	}
	target := InodeHandleOf(id)
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 1; i <= g.high; i++ {
		if g.layers[i] != nil && g.roots[i] == target {
			return i
		}
	}
	return currentLayer.index
}

// SetSnapshotRoot configures the directory under which snapshots appear as
// subdirectories. Switching an already-configured root is allowed: it warns
// rather than fails when snapshots already exist, trading strictness for
// operational flexibility.
func (g *Registry) SetSnapshotRoot(fs *Layer, ino uint64) error {
	g.mu.Lock()
	hadRoot := g.snapRootLocal != 0
	hadSnaps := g.high > 0
	g.mu.Unlock()

	if hadRoot && hadSnaps {
		logger.Warnf("snapshot root changed from %d to %d while %d snapshots are present", g.snapRootLocal, ino, g.high)
	}

	inode, err := GetInode(fs, MakeInodeID(fs.index, ino), nil, false, false)
	if err != nil {
		return err
	}
	if !inode.Stat.Mode.IsDir() {
		inode.Unlock(false)
		return fmt.Errorf("%w: snapshot root %d is not a directory", ErrNotDir, ino)
	}
	inode.Unlock(false)

	g.mu.Lock()
	g.snapRootLocal = ino
	g.snapRootInode = inode
	g.mu.Unlock()
	return nil
}

// SetupSpecialDir walks image/lcfs/layerdb to cache the well-known mounts
// and sha256 directory locations so later lookups can resolve them without
// a full path walk.
func (g *Registry) SetupSpecialDir(fs *Layer) error {
	g.mu.Lock()
	already := g.mountsRootLocal != 0 && g.sha256RootLocal != 0
	g.mu.Unlock()
	if already {
		return nil
	}

	ino := RootInode
	for _, part := range []string{"image", "lcfs", "layerdb"} {
		inode, err := GetInode(fs, MakeInodeID(fs.index, ino), nil, false, false)
		if err != nil {
			return fmt.Errorf("%w: resolving %q", err, part)
		}
		next := g.ops.dir.Lookup(inode, part)
		inode.Unlock(false)
		if next == InvalidInode {
			return fmt.Errorf("%w: %q not found under special dir path", ErrNotExist, part)
		}
		ino = next
	}

	inode, err := GetInode(fs, MakeInodeID(fs.index, ino), nil, false, false)
	if err != nil {
		return err
	}
	defer inode.Unlock(false)

	g.mu.Lock()
	defer g.mu.Unlock()
	if mounts := g.ops.dir.Lookup(inode, "mounts"); mounts != InvalidInode {
		g.mountsRootLocal = mounts
	} else {
		logger.Warnf("mounts directory not found under layerdb")
	}
	if sha := g.ops.dir.Lookup(inode, "sha256"); sha != InvalidInode {
		g.sha256RootLocal = sha
	} else {
		logger.Warnf("sha256 directory not found under layerdb")
	}
	return nil
}
