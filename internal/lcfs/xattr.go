package lcfs

// xattrEntry is one extended-attribute name/value pair.
type xattrEntry struct {
	name  string
	value []byte
}

// xattrList is the in-memory reference xattr list, standing in for the
// out-of-scope xattr_* codec.
type xattrList struct {
	entries []xattrEntry
	shared  bool
}

// MemXattrOps is the reference XattrOps implementation.
type MemXattrOps struct{}

func xattrOf(inode *Inode) *xattrList {
	if inode.Xattr == nil {
		return nil
	}
	return inode.Xattr.(*xattrList)
}

func (MemXattrOps) Get(inode *Inode, name string) ([]byte, bool) {
	l := xattrOf(inode)
	if l == nil {
		return nil, false
	}
	for _, e := range l.entries {
		if e.name == name {
			return e.value, true
		}
	}
	return nil, false
}

func (o MemXattrOps) Set(inode *Inode, name string, value []byte) {
	l := xattrOf(inode)
	if l == nil || l.shared {
		cp := &xattrList{}
		if l != nil {
			cp.entries = append([]xattrEntry(nil), l.entries...)
		}
		l = cp
		inode.Xattr = l
	}
	for i, e := range l.entries {
		if e.name == name {
			l.entries[i].value = value
			inode.XattrDirty = true
			inode.Dirty = true
			return
		}
	}
	l.entries = append(l.entries, xattrEntry{name: name, value: value})
	inode.XattrDirty = true
	inode.Dirty = true
}

// Copy installs a shared reference to src's xattr list on dst, deferring
// the actual copy to first write (Set): xattrs are copied by reference,
// with the codec handling reference/copy-on-write lazily.
func (MemXattrOps) Copy(dst, src *Inode) {
	l := xattrOf(src)
	if l == nil {
		return
	}
	l.shared = true
	dst.Xattr = l
}

func (MemXattrOps) Read(inode *Inode, buf []byte) error { return nil }

func (MemXattrOps) Flush(dev BlockDevice, inode *Inode) error {
	inode.XattrDirty = false
	return nil
}

func (MemXattrOps) Free(inode *Inode) {
	inode.Xattr = nil
}
