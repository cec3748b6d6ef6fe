package lcfs

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// FileBlockDevice backs BlockDevice with a single regular file or block
// special file, opened with O_DIRECT|O_SYNC on Linux to match the source's
// open(device, O_RDWR|O_SYNC|O_DIRECT|O_EXCL). Reads and writes of distinct blocks may proceed concurrently;
// the file descriptor itself is safe for concurrent pread/pwrite.
type FileBlockDevice struct {
	f    *os.File
	mu   sync.Mutex // serializes Close against in-flight I/O bookkeeping only
	path string
}

// OpenBlockDevice opens device for exclusive read/write access. On Linux it
// is opened O_DIRECT|O_SYNC|O_EXCL; on other platforms O_DIRECT is not
// available and is silently dropped (synchronous writes still apply via
// O_SYNC): direct I/O is a Linux-specific alignment optimization, not a
// correctness requirement.
func OpenBlockDevice(device string) (*FileBlockDevice, error) {
	flags := os.O_RDWR | os.O_SYNC
	if runtime.GOOS == "linux" {
		flags |= unix.O_DIRECT | unix.O_EXCL
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(device, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, device, err)
	}
	return &FileBlockDevice{f: f, path: device}, nil
}

// NewAlignedBuffer allocates a BlockSize buffer whose starting address is
// block-aligned, as O_DIRECT requires. Go's allocator does not guarantee
// that alignment, so it over-allocates and slices.
func NewAlignedBuffer() []byte {
	buf := make([]byte, 2*BlockSize)
	off := int(uintptr(unsafe.Pointer(&buf[0])) % BlockSize)
	if off != 0 {
		off = BlockSize - off
	}
	return buf[off : off+BlockSize : off+BlockSize]
}

func (d *FileBlockDevice) ReadBlock(block uint64, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("lcfs: read buffer must be exactly %d bytes", BlockSize)
	}
	_, err := d.f.ReadAt(buf, int64(block)*BlockSize)
	if err != nil {
		return fmt.Errorf("%w: read block %d: %v", ErrIO, block, err)
	}
	return nil
}

func (d *FileBlockDevice) WriteBlock(block uint64, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("lcfs: write buffer must be exactly %d bytes", BlockSize)
	}
	_, err := d.f.WriteAt(buf, int64(block)*BlockSize)
	if err != nil {
		return fmt.Errorf("%w: write block %d: %v", ErrIO, block, err)
	}
	return nil
}

func (d *FileBlockDevice) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrIO, d.path, err)
	}
	if fi.Size() > 0 {
		return fi.Size(), nil
	}
	// Block special files report a zero regular size; fall back to
	// seeking to the end, as the source does with lseek(fd, 0, SEEK_END).
	off, err := d.f.Seek(0, 2)
	if err != nil {
		return 0, fmt.Errorf("%w: seek %s: %v", ErrIO, d.path, err)
	}
	return off, nil
}

func (d *FileBlockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// simpleAllocator is the reference BlockAllocator: a bump pointer over the
// superblock's nblock counter plus a best-effort free count, exercised by
// tests and the default Mount/Format path. A production allocator (a real
// free-list) is out of scope for the core engine.
type simpleAllocator struct {
	mu   sync.Mutex
	sb   *Superblock
	free uint64
}

func newSimpleAllocator(sb *Superblock) *simpleAllocator {
	return &simpleAllocator{sb: sb}
}

func (a *simpleAllocator) Alloc(layer *Layer, count uint64, metadata bool) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	block := a.sb.NBlock
	a.sb.NBlock += count
	if a.sb.NBlock > a.sb.TBlocks {
		return 0, fmt.Errorf("%w: device full", ErrIO)
	}
	return block, nil
}

func (a *simpleAllocator) Free(count uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free += count
}

// MemoryBlockDevice is an in-memory BlockDevice backed by a plain byte
// slice. O_DIRECT has no meaning for memory, so this is not what Mount
// opens in production; it exists so the engine's round-trip and
// concurrency properties can be exercised without a real
// block device or platform-specific alignment requirements.
type MemoryBlockDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryBlockDevice allocates size bytes (rounded up to a whole number
// of blocks) of zeroed backing storage.
func NewMemoryBlockDevice(size int64) *MemoryBlockDevice {
	blocks := (size + BlockSize - 1) / BlockSize
	return &MemoryBlockDevice{data: make([]byte, blocks*BlockSize)}
}

func (d *MemoryBlockDevice) ReadBlock(block uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := block * BlockSize
	if off+BlockSize > uint64(len(d.data)) {
		return fmt.Errorf("%w: block %d out of range", ErrIO, block)
	}
	copy(buf, d.data[off:off+BlockSize])
	return nil
}

func (d *MemoryBlockDevice) WriteBlock(block uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := block * BlockSize
	if off+BlockSize > uint64(len(d.data)) {
		return fmt.Errorf("%w: block %d out of range", ErrIO, block)
	}
	copy(d.data[off:off+BlockSize], buf)
	return nil
}

func (d *MemoryBlockDevice) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.data)), nil
}

func (d *MemoryBlockDevice) Close() error { return nil }
