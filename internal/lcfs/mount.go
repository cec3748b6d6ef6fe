package lcfs

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/timober/lcfs/internal/logger"
)

// defaultOps wires the in-memory reference codecs (dir.go, bmap.go,
// xattr.go) as the collaborator set used when the caller doesn't supply
// its own. A production deployment would substitute real on-disk codecs
// here without touching any of the core engine above.
func defaultOps() collaboratorSet {
	return collaboratorSet{dir: MemDirOps{}, bmap: MemBmapOps{}, xattr: MemXattrOps{}}
}

// MountOptions carries cfg.Config-sourced overrides applied at mount time.
type MountOptions struct {
	// BlockSizeOverride, given non-zero, must equal the compiled BlockSize.
	// The on-disk layout (dinode offsets, IBlockMax, aligned buffers) is
	// fixed at compile time, so this option exists to reject a mismatched
	// request loudly rather than to actually resize blocks.
	BlockSizeOverride int

	// ICacheSize overrides the bucket count of every layer's inode hash
	// table. Zero keeps the package default (ICacheSize).
	ICacheSize int
}

func (o MountOptions) validate() error {
	if o.BlockSizeOverride != 0 && o.BlockSizeOverride != BlockSize {
		return fmt.Errorf("%w: block size override %d does not match compiled block size %d", ErrIO, o.BlockSizeOverride, BlockSize)
	}
	return nil
}

// Mount opens device, discovers or formats its superblock, constructs the
// base layer, and populates its inode cache.
func Mount(device string) (*Registry, error) {
	return MountWithOptions(device, MountOptions{}, defaultOps())
}

// MountWithOps is Mount with an explicit collaborator set, for swapping in
// real dir/bmap/xattr codecs.
func MountWithOps(device string, ops collaboratorSet) (*Registry, error) {
	return MountWithOptions(device, MountOptions{}, ops)
}

// MountWithOverrides is Mount with cfg.Config-sourced overrides, for the
// `lcfs mount` command's --block-size and --inode-cache-size flags.
func MountWithOverrides(device string, opts MountOptions) (*Registry, error) {
	return MountWithOptions(device, opts, defaultOps())
}

// MountWithOptions is Mount with cfg.Config-sourced overrides and an
// explicit collaborator set, for swapping in real dir/bmap/xattr codecs
// alongside the same overrides MountWithOverrides applies.
func MountWithOptions(device string, opts MountOptions, ops collaboratorSet) (*Registry, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	dev, err := OpenBlockDevice(device)
	if err != nil {
		return nil, err
	}
	g, err := mountDeviceWithICacheSize(dev, device, ops, opts.ICacheSize)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return g, nil
}

// mountDevice is Mount's device-agnostic core, taking an already-open
// BlockDevice. Factored out so tests can drive the mount lifecycle against
// a MemoryBlockDevice without touching the filesystem or O_DIRECT
// alignment requirements.
func mountDevice(dev BlockDevice, label string, ops collaboratorSet) (*Registry, error) {
	return mountDeviceWithICacheSize(dev, label, ops, 0)
}

// mountDeviceWithICacheSize is mountDevice plus an inode-cache bucket-count
// override, threaded from MountOptions.
func mountDeviceWithICacheSize(dev BlockDevice, label string, ops collaboratorSet, icacheSize int) (*Registry, error) {
	size, err := dev.Size()
	if err != nil {
		return nil, err
	}

	sb, err := ReadSuperblock(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: superblock read failed: %v", ErrIO, err)
	}

	formatted := false
	if sb.Version != Version {
		sb.Format(size)
		formatted = true
		logger.Infof("formatting device %s: %s", label, sb)
	} else {
		sb.Mounts++
	}

	g := newRegistryWithICacheSize(dev, newSimpleAllocator(sb), sb, ops, icacheSize)

	base := newLayer(g, false, ops)
	base.ilock = newCloneLock()
	base.InodeBlock = sb.InodeBlock
	base.root = RootInode
	g.Register(base, nil)

	if formatted {
		NewLayerRoot(base, RootInode)
	} else {
		if err := ReadInodes(g, base); err != nil {
			return nil, fmt.Errorf("%w: reading inodes failed: %v", ErrIO, err)
		}
	}

	if err := WriteSuperblock(dev, sb); err != nil {
		return nil, fmt.Errorf("%w: superblock write failed: %v", ErrIO, err)
	}

	logger.Infof("mounted %s: %s", label, sb)
	return g, nil
}

// Format unconditionally reinitializes device's superblock and writes a
// fresh base layer, discarding any existing content. Exposed separately
// from Mount for the `lcfs format` CLI subcommand.
func Format(device string) error {
	return FormatWithOptions(device, MountOptions{})
}

// FormatWithOptions is Format with a block size override check, for the
// `lcfs format` command's --block-size flag.
func FormatWithOptions(device string, opts MountOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	dev, err := OpenBlockDevice(device)
	if err != nil {
		return err
	}
	defer dev.Close()

	size, err := dev.Size()
	if err != nil {
		return err
	}

	sb := &Superblock{}
	sb.Format(size)

	g := newRegistry(dev, newSimpleAllocator(sb), sb, defaultOps())
	base := newLayer(g, false, g.ops)
	base.ilock = newCloneLock()
	g.Register(base, nil)
	NewLayerRoot(base, RootInode)

	if err := SyncInodes(g, base); err != nil {
		return err
	}
	return WriteSuperblock(dev, sb)
}

// Unmount flushes every layer's dirty inodes (newest layer first), writes
// the superblock, frees the base layer's inode cache, and closes the device.
func Unmount(g *Registry) error {
	g.mu.Lock()
	layers := make([]*Layer, 0, g.high+1)
	for i := g.high; i >= 0; i-- {
		if g.layers[i] != nil {
			layers = append(layers, g.layers[i])
		}
	}
	g.mu.Unlock()

	for _, layer := range layers {
		if err := SyncInodes(g, layer); err != nil {
			return err
		}
	}
	if err := WriteSuperblock(g.Device, g.Super); err != nil {
		return err
	}

	base := g.GlobalLayer()
	if base != nil {
		base.destroy(g.Alloc, false)
	}
	logger.Infof("unmounted: %s", g.Super)
	return g.Device.Close()
}

// AddLayer creates a new snapshot layer as a child of parentSnap (nil means
// child of the base layer). The parent is locked exclusively for the
// duration (snapshot creation excludes concurrent requests into the
// affected layer), the new layer shares the parent's clone mutex, and it
// is registered and spliced into the sibling list.
func AddLayer(g *Registry, parent *Layer, root uint64) (*Layer, error) {
	if parent == nil {
		parent = g.GlobalLayer()
	}
	parent.Lock(true)
	defer parent.Unlock(true)

	layer := newLayer(g, true, parent.ops)
	layer.parent = parent
	layer.ilock = parent.ilock
	layer.ilock.acquire()
	layer.SnapID = uuid.New()
	layer.root = root

	g.Register(layer, parent)
	NewLayerRoot(layer, root)

	logger.Infof("created snapshot layer %d (%s) with parent %d", layer.index, layer.SnapID, parent.index)
	return layer, nil
}

// RemoveLayer tears down a snapshot layer: it must hold no children (the
// caller is responsible for recursive removal, since RemoveSnap does not
// reparent grandchildren), unlinks it from its parent's sibling list,
// destroys its inode cache returning blocks to the free list, and
// unregisters it.
func RemoveLayer(g *Registry, layer *Layer) error {
	if layer.index == 0 {
		return fmt.Errorf("lcfs: cannot remove the base layer")
	}
	layer.Lock(true)
	defer layer.Unlock(true)

	g.RemoveSnap(layer)
	layer.destroy(g.Alloc, true)
	g.Unregister(layer)
	logger.Infof("removed snapshot layer %d", layer.index)
	return nil
}
