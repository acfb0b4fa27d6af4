package memory

import (
	"path/filepath"
	"testing"

	"github.com/georgecane/contractvm/pkg/vmerrors"
)

func open(t *testing.T, maxPages, initPages int) *Memory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mem")
	m, err := Open(path, maxPages, initPages)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestReadWriteRoundTrip(t *testing.T) {
	m := open(t, 4, 1)
	if err := m.Write(10, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, 5)
	if err := m.Read(10, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if !m.Dirty() {
		t.Fatalf("expected dirty after write")
	}
}

func TestWriteOutOfBounds(t *testing.T) {
	m := open(t, 1, 1)
	err := m.Write(PageSize-2, []byte("abcd"))
	if _, ok := vmerrors.KindOf(err); !ok {
		t.Fatalf("expected vmerrors.Error, got %v", err)
	}
	if kind, _ := vmerrors.KindOf(err); kind != vmerrors.Bounds {
		t.Fatalf("expected BOUNDS, got %v", kind)
	}
}

func TestGrowExceedsMaximum(t *testing.T) {
	m := open(t, 2, 1)
	if _, err := m.Grow(1); err != nil {
		t.Fatalf("grow within max: %v", err)
	}
	if m.Pages() != 2 {
		t.Fatalf("expected 2 pages, got %d", m.Pages())
	}
	if _, err := m.Grow(1); err == nil {
		t.Fatalf("expected grow beyond maximum to fail")
	}
}

func TestSnapRevertRestoresContents(t *testing.T) {
	m := open(t, 2, 1)
	if err := m.Write(0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	m.Snap()
	if err := m.Write(0, []byte{9, 9, 9}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := m.Grow(1); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if err := m.Revert(); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if m.Pages() != 1 {
		t.Fatalf("expected pages restored to 1, got %d", m.Pages())
	}
	got := make([]byte, 3)
	if err := m.Read(0, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected contents restored, got %v", got)
	}
}

func TestSnapApplyKeepsContents(t *testing.T) {
	m := open(t, 1, 1)
	m.Snap()
	if err := m.Write(0, []byte{7}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got := make([]byte, 1)
	m.Read(0, got)
	if got[0] != 7 {
		t.Fatalf("expected applied write to survive, got %v", got)
	}
	if m.Depth() != 0 {
		t.Fatalf("expected empty snapshot stack after apply, got depth %d", m.Depth())
	}
}

func TestNestedSnapshots(t *testing.T) {
	m := open(t, 1, 1)
	m.Write(0, []byte{1})
	m.Snap()
	m.Write(0, []byte{2})
	m.Snap()
	m.Write(0, []byte{3})
	if err := m.Revert(); err != nil {
		t.Fatalf("inner revert: %v", err)
	}
	got := make([]byte, 1)
	m.Read(0, got)
	if got[0] != 2 {
		t.Fatalf("expected inner revert to restore 2, got %v", got)
	}
	if err := m.Revert(); err != nil {
		t.Fatalf("outer revert: %v", err)
	}
	m.Read(0, got)
	if got[0] != 1 {
		t.Fatalf("expected outer revert to restore 1, got %v", got)
	}
}

func TestDigestDeterministic(t *testing.T) {
	a := open(t, 1, 1)
	b := open(t, 1, 1)
	a.Write(0, []byte("same"))
	b.Write(0, []byte("same"))
	if a.Digest() != b.Digest() {
		t.Fatalf("expected identical digests for identical contents")
	}
	a.Write(0, []byte("diff"))
	if a.Digest() == b.Digest() {
		t.Fatalf("expected different digests after divergent write")
	}
}
