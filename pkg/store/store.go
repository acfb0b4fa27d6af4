// Package store implements the Content-Addressed Commit Store: an on-disk,
// copy-on-write layout over contract memories and metadata keyed by a
// Merkle-style root hash, with a Pebble-backed index that records the
// latest finalized root. Cold-restart recovery scans the file tree and does
// not consult the index.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/georgecane/contractvm/pkg/encoding"
	"github.com/georgecane/contractvm/pkg/types"
	"github.com/georgecane/contractvm/pkg/vmerrors"
)

const (
	mainDir       = "main"
	memoryDir     = "memory"
	leafDir       = "leaf"
	bytecodeDir   = "bytecode"
	objectcodeDir = "objectcode"
	indexDir      = "index"

	baseFile    = "base"
	pageFile    = "page-file"
	elementFile = "element"
)

// ContractDelta is one contract's contribution to a commit: its flushed
// memory bytes and the metadata to persist alongside it, plus their
// precomputed digests (§4.1, §3).
type ContractDelta struct {
	Memory         []byte
	MemoryDigest   types.Hash
	Metadata       *types.Metadata
	MetadataDigest types.Hash
}

// Store is the on-disk Commit Store rooted at a directory, per §6.
type Store struct {
	root      string
	finalize  sync.Mutex // exclusive finalize lock (§5 "Exclusive finalize")
	index     *pebble.DB
	latest    types.Hash
	hasLatest bool
}

var indexRootKey = []byte("latest-root")

// Open opens or creates a Commit Store at path, recovering from any
// crash-interrupted commit by discarding un-finalized staging directories
// (§4.2 "Cold restart").
func Open(path string) (*Store, error) {
	for _, d := range []string{mainDir, memoryDir, leafDir, bytecodeDir, objectcodeDir} {
		if err := os.MkdirAll(filepath.Join(path, d), 0o755); err != nil {
			return nil, vmerrors.Wrap(vmerrors.StorageIO, "create store layout", err)
		}
	}
	db, err := pebble.Open(filepath.Join(path, indexDir), &pebble.Options{})
	if err != nil {
		return nil, vmerrors.Wrap(vmerrors.StorageIO, "open commit index", err)
	}
	s := &Store{root: path, index: db}
	if err := s.recoverStaleStaging(); err != nil {
		db.Close()
		return nil, err
	}
	if val, closer, err := db.Get(indexRootKey); err == nil {
		if len(val) == len(types.Hash{}) {
			copy(s.latest[:], val)
			s.hasLatest = true
		}
		closer.Close()
	} else if err != pebble.ErrNotFound {
		db.Close()
		return nil, vmerrors.Wrap(vmerrors.StorageIO, "read latest root", err)
	}
	return s, nil
}

// Close closes the commit index.
func (s *Store) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}

// recoverStaleStaging removes any `main/<hash>` directory still present at
// open time: under normal operation finalize removes it, so its presence
// means the process crashed between staging and finalization.
func (s *Store) recoverStaleStaging() error {
	entries, err := os.ReadDir(filepath.Join(s.root, mainDir))
	if err != nil {
		return vmerrors.Wrap(vmerrors.StorageIO, "scan main directory", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		hash := e.Name()
		basePath := filepath.Join(s.root, mainDir, hash, baseFile)
		raw, err := os.ReadFile(basePath)
		if err != nil {
			// No base file: nothing meaningful staged, just remove the dir.
			os.RemoveAll(filepath.Join(s.root, mainDir, hash))
			continue
		}
		bi, err := encoding.UnmarshalBaseInfo(raw)
		if err != nil {
			os.RemoveAll(filepath.Join(s.root, mainDir, hash))
			continue
		}
		for _, id := range bi.ContractHints {
			os.RemoveAll(filepath.Join(s.root, memoryDir, id.String(), hash))
			os.RemoveAll(filepath.Join(s.root, leafDir, id.String(), hash))
		}
		os.RemoveAll(filepath.Join(s.root, mainDir, hash))
	}
	return nil
}

// LatestRoot returns the most recently finalized root, if any.
func (s *Store) LatestRoot() (types.Hash, bool) {
	return s.latest, s.hasLatest
}

// Commit stages and finalizes a new commit in one step, matching the
// teacher's synchronous write path: compute the root hash from the dirty
// set, write staged per-contract files, write the base record, then
// atomically finalize by flattening the staged files into their canonical
// per-contract paths (§4.2 "Commit algorithm").
func (s *Store) Commit(dirty map[types.ContractId]ContractDelta, parent types.Hash, hasParent bool) (types.Hash, error) {
	ids := make([]types.ContractId, 0, len(dirty))
	for id := range dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return idString(ids[i]) < idString(ids[j])
	})

	var parts [][]byte
	for _, id := range ids {
		d := dirty[id]
		parts = append(parts, id[:], d.MemoryDigest[:], d.MetadataDigest[:])
	}
	root := encoding.HashConcat(parts...)
	hashHex := root.String()

	for _, id := range ids {
		d := dirty[id]
		memDir := filepath.Join(s.root, memoryDir, id.String(), hashHex)
		if err := os.MkdirAll(memDir, 0o755); err != nil {
			return types.Hash{}, vmerrors.Wrap(vmerrors.StorageIO, "stage memory dir", err)
		}
		if err := os.WriteFile(filepath.Join(memDir, pageFile), d.Memory, 0o644); err != nil {
			return types.Hash{}, vmerrors.Wrap(vmerrors.StorageIO, "stage memory file", err)
		}
		leafPath := filepath.Join(s.root, leafDir, id.String(), hashHex)
		if err := os.MkdirAll(leafPath, 0o755); err != nil {
			return types.Hash{}, vmerrors.Wrap(vmerrors.StorageIO, "stage leaf dir", err)
		}
		metaBytes, err := encoding.MarshalMetadata(d.Metadata)
		if err != nil {
			return types.Hash{}, vmerrors.Wrap(vmerrors.Serialization, "marshal commit metadata", err)
		}
		if err := os.WriteFile(filepath.Join(leafPath, elementFile), metaBytes, 0o644); err != nil {
			return types.Hash{}, vmerrors.Wrap(vmerrors.StorageIO, "stage leaf file", err)
		}
	}

	commitDir := filepath.Join(s.root, mainDir, hashHex)
	if err := os.MkdirAll(commitDir, 0o755); err != nil {
		return types.Hash{}, vmerrors.Wrap(vmerrors.StorageIO, "create commit directory", err)
	}
	bi := &encoding.BaseInfo{ParentRoot: parent, HasParent: hasParent, ContractHints: ids}
	if err := os.WriteFile(filepath.Join(commitDir, baseFile), encoding.MarshalBaseInfo(bi), 0o644); err != nil {
		return types.Hash{}, vmerrors.Wrap(vmerrors.StorageIO, "write base info", err)
	}

	if err := s.finalizeCommit(hashHex, ids); err != nil {
		return types.Hash{}, err
	}
	if err := s.recordLatest(root); err != nil {
		return types.Hash{}, err
	}
	return root, nil
}

// finalizeCommit renames staged per-contract files out of their hash
// namespace into the flat, canonical path, then removes the now-empty
// staging directories. Finalization failures are retried at most once
// before being surfaced, per §7 policy.
func (s *Store) finalizeCommit(hashHex string, ids []types.ContractId) error {
	s.finalize.Lock()
	defer s.finalize.Unlock()

	doFinalize := func() error {
		for _, id := range ids {
			memSrc := filepath.Join(s.root, memoryDir, id.String(), hashHex, pageFile)
			memDst := filepath.Join(s.root, memoryDir, id.String(), pageFile)
			if err := os.Rename(memSrc, memDst); err != nil {
				return err
			}
			if err := os.RemoveAll(filepath.Join(s.root, memoryDir, id.String(), hashHex)); err != nil {
				return err
			}
			leafSrc := filepath.Join(s.root, leafDir, id.String(), hashHex, elementFile)
			leafDst := filepath.Join(s.root, leafDir, id.String(), elementFile)
			if err := os.Rename(leafSrc, leafDst); err != nil {
				return err
			}
			if err := os.RemoveAll(filepath.Join(s.root, leafDir, id.String(), hashHex)); err != nil {
				return err
			}
		}
		commitDir := filepath.Join(s.root, mainDir, hashHex)
		if err := os.Remove(filepath.Join(commitDir, baseFile)); err != nil {
			return err
		}
		return os.RemoveAll(commitDir)
	}

	err := doFinalize()
	if err != nil {
		err = doFinalize() // retry once, per §7
	}
	if err != nil {
		return vmerrors.Wrap(vmerrors.StorageIO, "finalize commit", err)
	}
	return nil
}

func (s *Store) recordLatest(root types.Hash) error {
	s.latest = root
	s.hasLatest = true
	return s.index.Set(indexRootKey, root[:], pebble.Sync)
}

// ReadMemory returns the canonical, materialized memory bytes for a
// contract, falling through implicitly to whatever was last flattened for
// it (unchanged contracts are simply never rewritten).
func (s *Store) ReadMemory(id types.ContractId) ([]byte, bool, error) {
	path := filepath.Join(s.root, memoryDir, id.String(), pageFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, vmerrors.Wrap(vmerrors.StorageIO, "read memory", err)
	}
	return b, true, nil
}

// ReadMetadata returns the canonical metadata for a contract, if any.
func (s *Store) ReadMetadata(id types.ContractId) (*types.Metadata, bool, error) {
	path := filepath.Join(s.root, leafDir, id.String(), elementFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, vmerrors.Wrap(vmerrors.StorageIO, "read metadata", err)
	}
	m, err := encoding.UnmarshalMetadata(b)
	if err != nil {
		return nil, false, vmerrors.Wrap(vmerrors.CorruptCommit, "unmarshal metadata", err)
	}
	return m, true, nil
}

// WriteBytecode persists raw Wasm bytes, content-addressed by contract id.
func (s *Store) WriteBytecode(id types.ContractId, code []byte) error {
	path := filepath.Join(s.root, bytecodeDir, id.String())
	if err := os.WriteFile(path, code, 0o644); err != nil {
		return vmerrors.Wrap(vmerrors.StorageIO, "write bytecode", err)
	}
	return nil
}

// ReadBytecode loads raw Wasm bytes by contract id.
func (s *Store) ReadBytecode(id types.ContractId) ([]byte, bool, error) {
	path := filepath.Join(s.root, bytecodeDir, id.String())
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, vmerrors.Wrap(vmerrors.StorageIO, "read bytecode", err)
	}
	return b, true, nil
}

// WriteObjectCode persists the given bytes under objectcode/<id>, adjacent
// to the bytecode. Session.Commit stores the contract's raw Wasm bytecode
// here; the wazero-compiled module itself is not serialized to disk.
func (s *Store) WriteObjectCode(id types.ContractId, obj []byte) error {
	path := filepath.Join(s.root, objectcodeDir, id.String())
	if err := os.WriteFile(path, obj, 0o644); err != nil {
		return vmerrors.Wrap(vmerrors.StorageIO, "write object code", err)
	}
	return nil
}

// ReadObjectCode loads the bytes stored by WriteObjectCode, if present.
func (s *Store) ReadObjectCode(id types.ContractId) ([]byte, bool, error) {
	path := filepath.Join(s.root, objectcodeDir, id.String())
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, vmerrors.Wrap(vmerrors.StorageIO, "read object code", err)
	}
	return b, true, nil
}

// MemoryPath returns the canonical, finalized on-disk path for a
// contract's memory. A live session never mmaps this path directly — per
// §5, a committed memory file is immutable and shared across lock-free
// readers. Session hydration (see pkg/session) reads the committed bytes
// through ReadMemory and copies them into a session-private working file.
func (s *Store) MemoryPath(id types.ContractId) string {
	return filepath.Join(s.root, memoryDir, id.String(), pageFile)
}

func idString(id types.ContractId) string {
	return fmt.Sprintf("%x", id)
}
