// Package dispatch adapts the lcfs core engine (internal/lcfs) to
// github.com/jacobsa/fuse/fuseutil.FileSystem, so a mounted registry can be
// exposed to the kernel as a real FUSE mount. It decodes each op's InodeID
// into (layer, local inode) via lcfs.LayerIndexOf/lcfs.InodeHandleOf, calls
// straight into the core engine's locked accessors, and translates results
// back into fuseops response fields.
//
// Byte-range file I/O (ReadFile/WriteFile) is deliberately out of scope for
// this adapter: the core engine models file content only as block
// addresses through BmapOps, and wiring those addresses to the kernel's
// page cache belongs to a full request dispatcher. Those ops, and a
// handful of mutating directory operations not required to browse a
// mounted image, are answered with ENOSYS.
package dispatch

import (
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/timober/lcfs/internal/lcfs"
)

const cacheTTL = time.Minute

// FS implements fuseutil.FileSystem over a single mounted lcfs.Registry,
// serving requests against current (normally the registry's base layer).
type FS struct {
	mu       sync.Mutex
	registry *lcfs.Registry
	current  *lcfs.Layer

	nextHandle uint64
}

var _ fuseutil.FileSystem = (*FS)(nil)

// New builds a dispatcher over registry, serving requests against layer.
func New(registry *lcfs.Registry, layer *lcfs.Layer) *FS {
	return &FS{registry: registry, current: layer}
}

// external translates one of the core engine's packed inode IDs to the
// identifier space the kernel sees. The two currently coincide; external
// exists so the mapping has one place to change if that stops being true.
func external(id lcfs.InodeID) fuseops.InodeID { return fuseops.InodeID(id) }

// internal reverses external, additionally mapping the kernel's reserved
// root ID onto the current layer's actual root inode.
func (fs *FS) internal(id fuseops.InodeID) lcfs.InodeID {
	if id == fuseops.RootInodeID {
		return lcfs.MakeInodeID(fs.current.Index(), lcfs.RootInode)
	}
	return lcfs.InodeID(id)
}

// resolve looks up the layer and locked inode a kernel-facing InodeID names,
// teleporting through the registry for IDs that belong to a layer other
// than fs.current.
func (fs *FS) resolve(id fuseops.InodeID, forWrite bool) (*lcfs.Layer, *lcfs.Inode, error) {
	lid := fs.internal(id)
	idx := lcfs.LayerIndexOf(lid)
	if idx == fs.current.Index() {
		inode, err := lcfs.GetInode(fs.current, lid, nil, forWrite, false)
		return fs.current, inode, err
	}
	layer, err := fs.registry.GetLayer(lid, false)
	if err != nil {
		return nil, nil, err
	}
	inode, err := lcfs.GetInode(layer, lid, nil, forWrite, false)
	return layer, inode, err
}

func attrsOf(inode *lcfs.Inode) fuseops.InodeAttributes {
	st := inode.Stat
	mode := os.FileMode(st.Mode.Perm()) & os.ModePerm
	switch {
	case st.Mode.IsDir():
		mode |= os.ModeDir
	case st.Mode.IsSymlink():
		mode |= os.ModeSymlink
	}
	return fuseops.InodeAttributes{
		Size:  st.Size,
		Nlink: uint32(st.Nlink),
		Mode:  mode,
		Atime: st.Atime,
		Mtime: st.Mtime,
		Ctime: st.Ctime,
		Uid:   st.UID,
		Gid:   st.GID,
	}
}

func direntType(mode lcfs.FileMode) fuseutil.DirentType {
	switch {
	case mode.IsDir():
		return fuseutil.DT_Directory
	case mode.IsSymlink():
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func (fs *FS) allocHandle() fuseops.HandleID {
	fs.mu.Lock()
	fs.nextHandle++
	h := fs.nextHandle
	fs.mu.Unlock()
	return fuseops.HandleID(h)
}

func (fs *FS) Init(op *fuseops.InitOp) {
	op.Respond(nil)
}

func (fs *FS) LookUpInode(op *fuseops.LookUpInodeOp) {
	_, parent, err := fs.resolve(op.Parent, false)
	if err != nil {
		op.Respond(fuse.ENOENT)
		return
	}
	defer parent.Unlock(false)

	childLocal := fs.current.DirOps().Lookup(parent, op.Name)
	if childLocal == lcfs.InvalidInode {
		op.Respond(fuse.ENOENT)
		return
	}
	childID := lcfs.MakeInodeID(fs.current.Index(), childLocal)
	child, err := lcfs.GetInode(fs.current, childID, nil, false, false)
	if err != nil {
		op.Respond(fuse.ENOENT)
		return
	}
	defer child.Unlock(false)

	op.Entry = fuseops.ChildInodeEntry{
		Child:                external(childID),
		Attributes:           attrsOf(child),
		AttributesExpiration: time.Now().Add(cacheTTL),
		EntryExpiration:      time.Now().Add(cacheTTL),
	}
	op.Respond(nil)
}

func (fs *FS) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	_, inode, err := fs.resolve(op.Inode, false)
	if err != nil {
		op.Respond(fuse.ENOENT)
		return
	}
	defer inode.Unlock(false)

	op.Attributes = attrsOf(inode)
	op.AttributesExpiration = time.Now().Add(cacheTTL)
	op.Respond(nil)
}

func (fs *FS) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
	if fs.current.ReadOnly {
		op.Respond(fuse.EIO)
		return
	}
	_, inode, err := fs.resolve(op.Inode, true)
	if err != nil {
		op.Respond(fuse.ENOENT)
		return
	}
	defer inode.Unlock(true)

	if op.Size != nil {
		inode.Stat.Size = *op.Size
	}
	if op.Mode != nil {
		const permMask = lcfs.FileMode(0777)
		inode.Stat.Mode = (inode.Stat.Mode &^ permMask) | (lcfs.FileMode(op.Mode.Perm()) & permMask)
	}
	if op.Atime != nil {
		inode.Stat.Atime = *op.Atime
	}
	if op.Mtime != nil {
		inode.Stat.Mtime = *op.Mtime
	}
	inode.Stat.Ctime = time.Now()
	inode.Dirty = true

	op.Attributes = attrsOf(inode)
	op.AttributesExpiration = time.Now().Add(cacheTTL)
	op.Respond(nil)
}

func (fs *FS) ForgetInode(op *fuseops.ForgetInodeOp) {
	op.Respond(nil)
}

func (fs *FS) OpenDir(op *fuseops.OpenDirOp) {
	_, inode, err := fs.resolve(op.Inode, false)
	if err != nil {
		op.Respond(fuse.ENOENT)
		return
	}
	inode.Unlock(false)
	op.Handle = fs.allocHandle()
	op.Respond(nil)
}

func (fs *FS) ReadDir(op *fuseops.ReadDirOp) {
	_, dir, err := fs.resolve(op.Inode, false)
	if err != nil {
		op.Respond(fuse.ENOENT)
		return
	}
	defer dir.Unlock(false)

	entries := fs.current.DirOps().Entries(dir)
	offset := int(op.Offset)
	if offset >= len(entries) {
		op.Respond(nil)
		return
	}

	var data []byte
	for i := offset; i < len(entries); i++ {
		childID := lcfs.MakeInodeID(fs.current.Index(), entries[i].Ino)
		child, cErr := lcfs.GetInode(fs.current, childID, nil, false, false)
		if cErr != nil {
			continue
		}
		mode := child.Stat.Mode
		child.Unlock(false)

		data = fuseutil.AppendDirent(data, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  external(childID),
			Name:   entries[i].Name,
			Type:   direntType(mode),
		})
		if len(data) > op.Size {
			data = data[:op.Size]
			break
		}
	}
	op.Data = data
	op.Respond(nil)
}

func (fs *FS) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	op.Respond(nil)
}

func (fs *FS) OpenFile(op *fuseops.OpenFileOp) {
	_, inode, err := fs.resolve(op.Inode, false)
	if err != nil {
		op.Respond(fuse.ENOENT)
		return
	}
	inode.Unlock(false)
	op.Handle = fs.allocHandle()
	op.Respond(nil)
}

func (fs *FS) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	op.Respond(nil)
}

// The remaining ops require either byte-range file I/O or mutating
// directory structure through the kernel's request path rather than the
// engine's own Add/Remove entry points; both are out of scope for this
// adapter.

func (fs *FS) MkDir(op *fuseops.MkDirOp)                 { op.Respond(fuse.ENOSYS) }
func (fs *FS) CreateFile(op *fuseops.CreateFileOp)       { op.Respond(fuse.ENOSYS) }
func (fs *FS) CreateSymlink(op *fuseops.CreateSymlinkOp) { op.Respond(fuse.ENOSYS) }
func (fs *FS) RmDir(op *fuseops.RmDirOp)                 { op.Respond(fuse.ENOSYS) }
func (fs *FS) Unlink(op *fuseops.UnlinkOp)               { op.Respond(fuse.ENOSYS) }
func (fs *FS) ReadFile(op *fuseops.ReadFileOp)           { op.Respond(fuse.ENOSYS) }
func (fs *FS) WriteFile(op *fuseops.WriteFileOp)         { op.Respond(fuse.ENOSYS) }
func (fs *FS) SyncFile(op *fuseops.SyncFileOp)           { op.Respond(nil) }
func (fs *FS) FlushFile(op *fuseops.FlushFileOp)         { op.Respond(nil) }
