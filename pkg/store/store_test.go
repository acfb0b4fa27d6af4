package store

import (
	"testing"

	"github.com/georgecane/contractvm/pkg/encoding"
	"github.com/georgecane/contractvm/pkg/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func delta(mem []byte, owner []byte) ContractDelta {
	m := &types.Metadata{Owner: owner, InitArgs: []byte("x"), Nonce: 1}
	metaBytes, _ := encoding.MarshalMetadata(m)
	return ContractDelta{
		Memory:         mem,
		MemoryDigest:   encoding.HashBytes(mem),
		Metadata:       m,
		MetadataDigest: encoding.HashBytes(metaBytes),
	}
}

func TestCommitFinalizesAndReadsBack(t *testing.T) {
	s := openStore(t)
	id := types.ContractId{0xAB}
	dirty := map[types.ContractId]ContractDelta{id: delta([]byte("hello"), []byte("owner-a"))}

	root, err := s.Commit(dirty, types.Hash{}, false)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if root.IsZero() {
		t.Fatalf("expected non-zero root")
	}

	got, ok, err := s.ReadMemory(id)
	if err != nil || !ok {
		t.Fatalf("read memory: ok=%v err=%v", ok, err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}

	meta, ok, err := s.ReadMetadata(id)
	if err != nil || !ok {
		t.Fatalf("read metadata: ok=%v err=%v", ok, err)
	}
	if string(meta.Owner) != "owner-a" {
		t.Fatalf("got owner %q", meta.Owner)
	}

	latest, ok := s.LatestRoot()
	if !ok || latest != root {
		t.Fatalf("expected latest root to equal committed root")
	}
}

func TestCommitRootIndependentOfInsertionOrder(t *testing.T) {
	idA := types.ContractId{0x01}
	idB := types.ContractId{0x02}

	s1 := openStore(t)
	r1, err := s1.Commit(map[types.ContractId]ContractDelta{
		idA: delta([]byte("a"), []byte("o")),
		idB: delta([]byte("b"), []byte("o")),
	}, types.Hash{}, false)
	if err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	s2 := openStore(t)
	r2, err := s2.Commit(map[types.ContractId]ContractDelta{
		idB: delta([]byte("b"), []byte("o")),
		idA: delta([]byte("a"), []byte("o")),
	}, types.Hash{}, false)
	if err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	if r1 != r2 {
		t.Fatalf("expected deterministic root independent of map iteration order: %v vs %v", r1, r2)
	}
}

func TestUnchangedContractSurvivesSecondCommit(t *testing.T) {
	s := openStore(t)
	idA := types.ContractId{0x01}
	idB := types.ContractId{0x02}

	root1, err := s.Commit(map[types.ContractId]ContractDelta{
		idA: delta([]byte("a1"), []byte("o")),
		idB: delta([]byte("b1"), []byte("o")),
	}, types.Hash{}, false)
	if err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	_, err = s.Commit(map[types.ContractId]ContractDelta{
		idA: delta([]byte("a2"), []byte("o")),
	}, root1, true)
	if err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	got, ok, err := s.ReadMemory(idB)
	if err != nil || !ok {
		t.Fatalf("read memory b: ok=%v err=%v", ok, err)
	}
	if string(got) != "b1" {
		t.Fatalf("expected unchanged contract to retain prior content, got %q", got)
	}
}

func TestBytecodeRoundTrip(t *testing.T) {
	s := openStore(t)
	id := types.ContractId{0x05}
	code := []byte("\x00asm")
	if err := s.WriteBytecode(id, code); err != nil {
		t.Fatalf("write bytecode: %v", err)
	}
	got, ok, err := s.ReadBytecode(id)
	if err != nil || !ok {
		t.Fatalf("read bytecode: ok=%v err=%v", ok, err)
	}
	if string(got) != string(code) {
		t.Fatalf("got %q", got)
	}
}

func TestColdRestartOfUntouchedStoreHasNoLatestRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, ok := reopened.LatestRoot(); ok {
		t.Fatalf("expected no latest root for an untouched store")
	}
}

func TestColdRestartObservesCommittedRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id := types.ContractId{0x09}
	root, err := s.Commit(map[types.ContractId]ContractDelta{
		id: delta([]byte("fd"), []byte("o")),
	}, types.Hash{}, false)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	s.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	latest, ok := reopened.LatestRoot()
	if !ok || latest != root {
		t.Fatalf("expected reopened store to observe the committed root")
	}
	got, ok, err := reopened.ReadMemory(id)
	if err != nil || !ok || string(got) != "fd" {
		t.Fatalf("expected byte-identical memory after cold restart: got=%q ok=%v err=%v", got, ok, err)
	}
}
