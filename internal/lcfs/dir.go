package lcfs

import (
	"encoding/binary"
	"sort"
)

// dirEntry is one name -> local-inode mapping.
type dirEntry struct {
	name string
	ino  uint64
}

// dirTable is the in-memory reference directory entry table: a simple
// slice kept sorted by name, standing in for an out-of-scope on-disk
// directory codec.
type dirTable struct {
	entries []dirEntry
}

// MemDirOps is the reference DirOps implementation.
type MemDirOps struct{}

func tableOf(dir *Inode) *dirTable {
	if dir.Dirent == nil {
		return nil
	}
	return dir.Dirent.(*dirTable)
}

// DirEntry is one name -> local-inode mapping, exposed read-only for
// enumeration by callers outside the package (such as a FUSE ReadDir
// handler).
type DirEntry struct {
	Name string
	Ino  uint64
}

// Entries returns a snapshot of dir's entry table in sorted order.
func (MemDirOps) Entries(dir *Inode) []DirEntry {
	t := tableOf(dir)
	if t == nil {
		return nil
	}
	out := make([]DirEntry, len(t.entries))
	for i, e := range t.entries {
		out[i] = DirEntry{Name: e.name, Ino: e.ino}
	}
	return out
}

func (MemDirOps) Lookup(dir *Inode, name string) uint64 {
	t := tableOf(dir)
	if t == nil {
		return InvalidInode
	}
	for _, e := range t.entries {
		if e.name == name {
			return e.ino
		}
	}
	return InvalidInode
}

// Add inserts an entry, unsharing the table first if needed. Exported for
// use by directory-mutating operations in the request dispatcher (out of
// scope here), since the unshare step itself is the core engine's
// responsibility, not the dispatcher's.
func (o MemDirOps) Add(dir *Inode, name string, ino uint64) {
	o.Unshare(dir)
	t := tableOf(dir)
	if t == nil {
		t = &dirTable{}
		dir.Dirent = t
	}
	t.entries = append(t.entries, dirEntry{name: name, ino: ino})
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].name < t.entries[j].name })
	dir.DirDirty = true
	dir.Dirty = true
}

func (o MemDirOps) Remove(dir *Inode, name string) bool {
	o.Unshare(dir)
	t := tableOf(dir)
	if t == nil {
		return false
	}
	for i, e := range t.entries {
		if e.name == name {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			dir.DirDirty = true
			dir.Dirty = true
			return true
		}
	}
	return false
}

func (MemDirOps) Unshare(dir *Inode) {
	if !dir.Shared {
		return
	}
	src := tableOf(dir)
	cp := &dirTable{}
	if src != nil {
		cp.entries = append([]dirEntry(nil), src.entries...)
	}
	dir.Dirent = cp
	dir.Shared = false
}

// Read decodes a directory's entry table from the tail of its inode block:
// a uint32 entry count followed by, per entry, a uint64 local ino, a
// uint16 name length, and the name bytes.
func (MemDirOps) Read(dir *Inode, buf []byte) error {
	if len(buf) < 4 {
		return nil
	}
	n := binary.LittleEndian.Uint32(buf)
	off := 4
	t := &dirTable{}
	for i := uint32(0); i < n; i++ {
		ino := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		nlen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		name := string(buf[off : off+nlen])
		off += nlen
		t.entries = append(t.entries, dirEntry{name: name, ino: ino})
	}
	dir.Dirent = t
	return nil
}

// Flush is a no-op beyond clearing the dirty flag: the reference directory
// codec keeps its table purely in memory and relies on the dinode
// header's own flush to persist inode identity; a production dir_flush
// would serialize the table to a dedicated block chain here.
func (MemDirOps) Flush(dev BlockDevice, dir *Inode) error {
	dir.DirDirty = false
	return nil
}

func (MemDirOps) Free(dir *Inode) {
	dir.Dirent = nil
}
