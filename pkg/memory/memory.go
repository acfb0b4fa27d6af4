// Package memory implements the Memory Manager: per-contract linear memory
// backed by a memory-mapped file, with a snapshot/revert/apply stack so a
// failed nested call cannot corrupt caller state.
package memory

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/georgecane/contractvm/pkg/encoding"
	"github.com/georgecane/contractvm/pkg/types"
	"github.com/georgecane/contractvm/pkg/vmerrors"
)

// PageSize is the Wasm linear-memory page size: 64 KiB.
const PageSize = 64 * 1024

// snapshot is one entry of the snap/revert/apply stack: the memory length
// and contents at the moment snap() was called.
type snapshot struct {
	length int
	shadow []byte
}

// Memory is a contract's linear memory: a page-granular byte vector backed
// by a memory-mapped file, reserved up front to the module's declared
// maximum page count.
type Memory struct {
	file    *os.File
	region  mmap.MMap
	maxPage int
	length  int // current length in pages
	dirty   bool
	stack   []snapshot
}

// Open maps path as a contract's linear memory, reserving maxPages worth of
// backing storage and exposing initPages as the current length. The file is
// created and zero-extended to the maximum size if it does not already
// exist at that size; an existing file is reused as-is.
func Open(path string, maxPages, initPages int) (*Memory, error) {
	if initPages > maxPages {
		return nil, vmerrors.New(vmerrors.Bounds, "initial pages exceed declared maximum")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, vmerrors.Wrap(vmerrors.StorageIO, "open memory file", err)
	}
	size := int64(maxPages) * PageSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, vmerrors.Wrap(vmerrors.StorageIO, "stat memory file", err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, vmerrors.Wrap(vmerrors.StorageIO, "grow memory file to reserved size", err)
		}
	}
	region, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, vmerrors.Wrap(vmerrors.StorageIO, "mmap memory file", err)
	}
	return &Memory{
		file:    f,
		region:  region,
		maxPage: maxPages,
		length:  initPages,
	}, nil
}

// Close unmaps and closes the backing file. Callers must ensure no
// outstanding snapshots reference this Memory.
func (m *Memory) Close() error {
	if err := m.region.Unmap(); err != nil {
		return vmerrors.Wrap(vmerrors.StorageIO, "unmap memory", err)
	}
	return m.file.Close()
}

// Len returns the current length in bytes.
func (m *Memory) Len() int { return m.length * PageSize }

// Pages returns the current length in pages.
func (m *Memory) Pages() int { return m.length }

// Dirty reports whether the memory has been written since creation or the
// last time dirty was cleared by a revert.
func (m *Memory) Dirty() bool { return m.dirty }

// Read copies len(dst) bytes starting at offset into dst. Out-of-bounds
// reads fail with BOUNDS.
func (m *Memory) Read(offset int, dst []byte) error {
	if offset < 0 || offset+len(dst) > m.Len() {
		return vmerrors.New(vmerrors.Bounds, "read out of bounds")
	}
	copy(dst, m.region[offset:offset+len(dst)])
	return nil
}

// Write copies data into the memory starting at offset. Out-of-bounds
// writes fail with BOUNDS and leave the memory unchanged.
func (m *Memory) Write(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > m.Len() {
		return vmerrors.New(vmerrors.Bounds, "write out of bounds")
	}
	copy(m.region[offset:offset+len(data)], data)
	m.dirty = true
	return nil
}

// Grow increments the current length by delta pages, failing if the result
// would exceed the declared maximum. The backing mmap region is already
// sized to the maximum, so growth never reallocates: only the tracked
// length changes and the newly-addressable range reads as zero.
func (m *Memory) Grow(deltaPages int) (prevPages int, err error) {
	if deltaPages < 0 {
		return 0, vmerrors.New(vmerrors.Bounds, "negative grow delta")
	}
	newLen := m.length + deltaPages
	if newLen > m.maxPage {
		return 0, vmerrors.New(vmerrors.Bounds, "grow exceeds declared maximum")
	}
	prevPages = m.length
	oldBytes := prevPages * PageSize
	newBytes := newLen * PageSize
	for i := oldBytes; i < newBytes; i++ {
		m.region[i] = 0
	}
	m.length = newLen
	m.dirty = true
	return prevPages, nil
}

// Snap records the current length and copies the used range into a shadow
// buffer, pushing it onto the snapshot stack. Nested snap calls produce
// nested shadows; the stack depth equals the number of active call frames
// targeting this memory.
func (m *Memory) Snap() {
	shadow := make([]byte, m.Len())
	copy(shadow, m.region[:m.Len()])
	m.stack = append(m.stack, snapshot{length: m.length, shadow: shadow})
}

// Revert pops the most recent snapshot, restoring length and page contents
// and clearing the dirty flag if the stack is now empty.
func (m *Memory) Revert() error {
	if len(m.stack) == 0 {
		return fmt.Errorf("memory: revert with no snapshot on stack")
	}
	top := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	m.length = top.length
	copy(m.region[:len(top.shadow)], top.shadow)
	if len(m.stack) == 0 {
		m.dirty = false
	}
	return nil
}

// Apply pops the most recent snapshot, discarding the shadow and keeping
// current contents.
func (m *Memory) Apply() error {
	if len(m.stack) == 0 {
		return fmt.Errorf("memory: apply with no snapshot on stack")
	}
	m.stack = m.stack[:len(m.stack)-1]
	return nil
}

// Depth returns the current snapshot stack depth.
func (m *Memory) Depth() int { return len(m.stack) }

// Digest computes a deterministic hash over the used pages, length-prefixed,
// used to feed per-contract entries into a commit's root hash.
func (m *Memory) Digest() types.Hash {
	return encoding.HashConcat(encoding.MarshalUint64(uint64(m.length)), m.region[:m.Len()])
}

// Bytes returns a copy of the currently used range, for flushing to the
// Commit Store on commit.
func (m *Memory) Bytes() []byte {
	out := make([]byte, m.Len())
	copy(out, m.region[:m.Len()])
	return out
}
