// Package session implements the Session & Call Engine: a transactional
// workspace on top of a base commit that dispatches exported functions,
// tracks a call tree across nested contract-to-contract invocations,
// enforces per-call gas limits, and rolls back failed calls.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/georgecane/contractvm/pkg/abi"
	"github.com/georgecane/contractvm/pkg/calltree"
	"github.com/georgecane/contractvm/pkg/config"
	"github.com/georgecane/contractvm/pkg/contracts"
	"github.com/georgecane/contractvm/pkg/encoding"
	"github.com/georgecane/contractvm/pkg/memory"
	"github.com/georgecane/contractvm/pkg/store"
	"github.com/georgecane/contractvm/pkg/types"
	"github.com/georgecane/contractvm/pkg/vmerrors"
)

// Session is a mutable workspace layered on a base commit, per §3.
type Session struct {
	ctx      context.Context
	registry *contracts.Registry
	store    *store.Store
	gasCfg   config.GasConfig

	baseRoot types.Hash
	hasBase  bool

	tmpDir string
	seq    uint64

	instances       map[types.ContractId]*instance
	pendingBytecode map[types.ContractId][]byte
	dirty           map[types.ContractId]bool

	events   []types.Event
	debugLog []string
	meta     map[string][]byte
	queries  map[string]func([]byte) ([]byte, error)

	tree   *calltree.Tree
	meters []*calltree.Meter
}

// Open creates a new Session rooted at base (or genesis, if hasBase is
// false), seeded with the given metadata map (§9.4's "session metadata is
// queryable by the guest via hd").
func Open(ctx context.Context, registry *contracts.Registry, st *store.Store, gasCfg config.GasConfig, base types.Hash, hasBase bool, meta map[string][]byte) (*Session, error) {
	tmp, err := os.MkdirTemp("", "contractvm-session-*")
	if err != nil {
		return nil, vmerrors.Wrap(vmerrors.StorageIO, "create session workspace", err)
	}
	m := make(map[string][]byte, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	return &Session{
		ctx:             ctx,
		registry:        registry,
		store:           st,
		gasCfg:          gasCfg,
		baseRoot:        base,
		hasBase:         hasBase,
		tmpDir:          tmp,
		instances:       make(map[types.ContractId]*instance),
		pendingBytecode: make(map[types.ContractId][]byte),
		dirty:           make(map[types.ContractId]bool),
		meta:            m,
		queries:         make(map[string]func([]byte) ([]byte, error)),
		tree:            calltree.New(),
	}, nil
}

// Drop discards all in-memory and session-private on-disk work. The base
// commit is untouched.
func (s *Session) Drop() error {
	for _, inst := range s.instances {
		inst.mem.Close()
	}
	return os.RemoveAll(s.tmpDir)
}

// RegisterQuery registers an embedder-provided host query callable by
// guests via `hq`, per the supplemental feature carried from
// original_source/vmx/src/vm/host.rs's HostQueries map.
func (s *Session) RegisterQuery(name string, fn func([]byte) ([]byte, error)) {
	s.queries[name] = fn
}

// SetMeta sets a session metadata key, readable by guests via `hd`.
func (s *Session) SetMeta(key string, value []byte) {
	s.meta[key] = value
}

// Meta reads a session metadata key.
func (s *Session) Meta(key string) ([]byte, bool) {
	v, ok := s.meta[key]
	return v, ok
}

// Events returns a copy of the accumulated event log without clearing it.
func (s *Session) Events() []types.Event {
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}

// TakeEvents returns the accumulated event log and clears it.
func (s *Session) TakeEvents() []types.Event {
	out := s.events
	s.events = nil
	return out
}

// WithDebug drains the debug log into consumer, in emission order.
func (s *Session) WithDebug(consumer func(string)) {
	for _, line := range s.debugLog {
		consumer(line)
	}
	s.debugLog = nil
}

// CallTree exposes the call tree left behind by the most recently completed
// top-level call, for diagnostics (§4.6).
func (s *Session) CallTree() *calltree.Tree { return s.tree }

// Call dispatches a top-level exported function call, per §4.4.
func (s *Session) Call(id types.ContractId, function string, args []byte, gasLimit uint64) ([]byte, uint64, []types.Event, error) {
	s.tree = calltree.New()
	eventsStart := len(s.events)
	result, spent, err := s.dispatch(id, function, args, gasLimit)
	emitted := append([]types.Event(nil), s.events[eventsStart:]...)
	return result, spent, emitted, err
}

// DeployContract validates and registers a new contract, executing its
// `init` export (if any) as a metered call, per §4.3. It is the top-level
// counterpart of the `deploy` host import a guest uses to deploy another
// contract from within a call (see hostenv.go's Deploy, which implements
// abi.HostEnv and shares this logic via deployInternal).
func (s *Session) DeployContract(bytecode, initArgs, owner []byte, nonce, gasLimit uint64) (types.ContractId, error) {
	return s.deployInternal(bytecode, initArgs, owner, nonce, gasLimit)
}

func (s *Session) deployInternal(bytecode, initArgs, owner []byte, nonce, gasLimit uint64) (types.ContractId, error) {
	id := contracts.DeriveContractId(bytecode, owner, nonce)

	if _, ok := s.instances[id]; ok {
		return types.ContractId{}, vmerrors.New(vmerrors.DeployCollision, id.String())
	}
	if _, ok := s.pendingBytecode[id]; ok {
		return types.ContractId{}, vmerrors.New(vmerrors.DeployCollision, id.String())
	}
	if _, ok, err := s.store.ReadBytecode(id); err != nil {
		return types.ContractId{}, err
	} else if ok {
		return types.ContractId{}, vmerrors.New(vmerrors.DeployCollision, id.String())
	}

	compiled, err := s.registry.Compile(id, bytecode)
	if err != nil {
		return types.ContractId{}, err
	}
	minPages, maxPages := declaredPages(compiled, 1024)

	memPath := s.privateMemoryPath(id)
	mem, err := memory.Open(memPath, maxPages, minPages)
	if err != nil {
		return types.ContractId{}, err
	}

	mod, err := s.registry.Instantiate(compiled, s.instanceName(id))
	if err != nil {
		mem.Close()
		return types.ContractId{}, err
	}

	inst := &instance{
		compiled: compiled,
		mod:      mod,
		mem:      mem,
		metadata: &types.Metadata{Id: id, Owner: append([]byte(nil), owner...), InitArgs: append([]byte(nil), initArgs...), Nonce: nonce},
		bytecodeLen: len(bytecode),
	}
	s.instances[id] = inst
	s.pendingBytecode[id] = append([]byte(nil), bytecode...)

	if fn := mod.ExportedFunction("init"); fn != nil {
		if _, _, err := s.dispatch(id, "init", initArgs, gasLimit); err != nil {
			delete(s.instances, id)
			delete(s.pendingBytecode, id)
			mod.Close(s.ctx)
			mem.Close()
			return types.ContractId{}, err
		}
	}

	s.dirty[id] = true
	return id, nil
}

// Commit flushes dirty memories and newly deployed bytecode into the
// Commit Store and returns the new root hash, per §4.2.
func (s *Session) Commit() (types.Hash, error) {
	dirty := make(map[types.ContractId]store.ContractDelta, len(s.dirty))
	for id := range s.dirty {
		inst := s.instances[id]
		memBytes := inst.mem.Bytes()
		metaBytes, err := encoding.MarshalMetadata(inst.metadata)
		if err != nil {
			return types.Hash{}, vmerrors.Wrap(vmerrors.Serialization, "marshal metadata for commit", err)
		}
		dirty[id] = store.ContractDelta{
			Memory:         memBytes,
			MemoryDigest:   inst.mem.Digest(),
			Metadata:       inst.metadata,
			MetadataDigest: encoding.HashBytes(metaBytes),
		}
	}

	root, err := s.store.Commit(dirty, s.baseRoot, s.hasBase)
	if err != nil {
		return types.Hash{}, err
	}
	for id, code := range s.pendingBytecode {
		if err := s.store.WriteBytecode(id, code); err != nil {
			return types.Hash{}, err
		}
		if err := s.store.WriteObjectCode(id, code); err != nil {
			return types.Hash{}, err
		}
	}

	s.baseRoot = root
	s.hasBase = true
	s.dirty = make(map[types.ContractId]bool)
	s.pendingBytecode = make(map[types.ContractId][]byte)
	return root, nil
}

func (s *Session) privateMemoryPath(id types.ContractId) string {
	return filepath.Join(s.tmpDir, fmt.Sprintf("%s.%d", id.String(), s.nextSeq()))
}

// instanceName returns a module name unique to this session's instantiation
// of id, since wazero requires distinct instantiated module names within a
// runtime and a Registry's runtime is shared across every session open on
// the same store.
func (s *Session) instanceName(id types.ContractId) string {
	return fmt.Sprintf("%s#%s.%d", id.String(), s.tmpDir, s.nextSeq())
}

func (s *Session) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// hydrate loads (or returns the cached) instance for id.
func (s *Session) hydrate(id types.ContractId) (*instance, error) {
	if inst, ok := s.instances[id]; ok {
		return inst, nil
	}

	bytecode, ok, err := s.store.ReadBytecode(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, vmerrors.New(vmerrors.ContractNotFound, id.String())
	}
	compiled, err := s.registry.Compile(id, bytecode)
	if err != nil {
		return nil, err
	}
	metadata, ok, err := s.store.ReadMetadata(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, vmerrors.New(vmerrors.CorruptCommit, "contract bytecode present without metadata: "+id.String())
	}
	memBytes, _, err := s.store.ReadMemory(id)
	if err != nil {
		return nil, err
	}

	minPages, maxPages := declaredPages(compiled, 1024)
	initPages := minPages
	if len(memBytes) > initPages*memory.PageSize {
		initPages = (len(memBytes) + memory.PageSize - 1) / memory.PageSize
	}
	mem, err := memory.Open(s.privateMemoryPath(id), maxPages, initPages)
	if err != nil {
		return nil, err
	}
	if len(memBytes) > 0 {
		if err := mem.Write(0, memBytes); err != nil {
			mem.Close()
			return nil, err
		}
	}

	mod, err := s.registry.Instantiate(compiled, s.instanceName(id))
	if err != nil {
		mem.Close()
		return nil, err
	}

	inst := &instance{compiled: compiled, mod: mod, mem: mem, metadata: metadata, bytecodeLen: len(bytecode)}
	s.instances[id] = inst
	return inst, nil
}

// dispatch is the shared call-dispatch path for both top-level Session.Call
// and nested calls arriving through the `c` host import (§4.4 steps 1-7).
func (s *Session) dispatch(id types.ContractId, function string, arg []byte, gasLimit uint64) ([]byte, uint64, error) {
	inst, err := s.hydrate(id)
	if err != nil {
		return nil, 0, err
	}

	var meter *calltree.Meter
	if len(s.meters) > 0 {
		parent := s.meters[len(s.meters)-1]
		reserved, rerr := parent.Reserve(gasLimit)
		if rerr != nil {
			return nil, 0, rerr
		}
		meter = reserved
	} else {
		meter = calltree.NewMeter(gasLimit)
	}

	eventsMark := len(s.events)
	inst.mem.Snap()
	frame := s.tree.Push(id, gasLimit, eventsMark, inst.mem.Depth())
	s.meters = append(s.meters, meter)

	fail := func(ferr error) ([]byte, uint64, error) {
		inst.mem.Revert()
		s.events = s.events[:eventsMark]
		spent := meter.Spent()
		frame.GasSpent = spent
		frame.Result = ferr
		s.meters = s.meters[:len(s.meters)-1]
		s.tree.Pop(ferr)
		if len(s.meters) > 0 {
			s.meters[len(s.meters)-1].Refund(meter)
		}
		return nil, spent, ferr
	}

	cost := s.gasCfg.CostPerInstruction * uint64(inst.bytecodeLen)
	if cerr := meter.Charge(cost); cerr != nil {
		return fail(cerr)
	}

	guestPages := int(inst.mod.Memory().Size()) / memory.PageSize
	if want := inst.mem.Pages(); want > guestPages {
		if _, ok := inst.mod.Memory().Grow(uint32(want - guestPages)); !ok {
			return fail(vmerrors.New(vmerrors.Bounds, "grow guest memory to persisted size on rehydrate"))
		}
	}
	if !inst.mod.Memory().Write(0, inst.mem.Bytes()) {
		return fail(vmerrors.New(vmerrors.Bounds, "sync persisted memory into guest"))
	}
	if len(arg) > abi.BufLen || !inst.mod.Memory().Write(0, arg) {
		return fail(vmerrors.New(vmerrors.Serialization, "argument exceeds argument buffer"))
	}

	fn := inst.mod.ExportedFunction(function)
	if fn == nil {
		return fail(vmerrors.New(vmerrors.Panic, "no such exported function: "+function))
	}

	callCtx := abi.WithEnv(s.registry.CallContext(), s)
	results, callErr := fn.Call(callCtx, uint64(len(arg)))
	if callErr != nil {
		return fail(classifyTrap(callErr))
	}

	retLen := uint32(0)
	if len(results) > 0 {
		retLen = uint32(results[0])
	}
	retBytes, ok := inst.mod.Memory().Read(0, retLen)
	if !ok {
		return fail(vmerrors.New(vmerrors.Bounds, "return value out of bounds"))
	}
	out := append([]byte(nil), retBytes...)

	if newPages := int(inst.mod.Memory().Size()) / memory.PageSize; newPages > inst.mem.Pages() {
		if _, gerr := inst.mem.Grow(newPages - inst.mem.Pages()); gerr != nil {
			return fail(gerr)
		}
	}
	finalBytes, _ := inst.mod.Memory().Read(0, inst.mod.Memory().Size())
	if err := inst.mem.Write(0, finalBytes); err != nil {
		return fail(err)
	}
	inst.mem.Apply()
	s.dirty[id] = true

	spent := meter.Spent()
	frame.GasSpent = spent
	s.meters = s.meters[:len(s.meters)-1]
	s.tree.Pop(nil)
	if len(s.meters) > 0 {
		s.meters[len(s.meters)-1].Refund(meter)
	}
	return out, spent, nil
}

func classifyTrap(err error) error {
	if _, ok := vmerrors.KindOf(err); ok {
		return err
	}
	return vmerrors.Wrap(vmerrors.Panic, "guest trapped", err)
}
