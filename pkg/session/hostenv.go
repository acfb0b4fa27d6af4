package session

import (
	"github.com/georgecane/contractvm/pkg/types"
	"github.com/georgecane/contractvm/pkg/vmerrors"
)

// The Session implements abi.HostEnv directly: every guest import dispatches
// back into the session that hydrated and is currently executing the
// calling instance.

// HostQuery dispatches a guest `hq` call to an embedder-registered query,
// per the supplemental host-query feature.
func (s *Session) HostQuery(name string, arg []byte) ([]byte, error) {
	fn, ok := s.queries[name]
	if !ok {
		return nil, vmerrors.New(vmerrors.ContractNotFound, "no such host query: "+name)
	}
	return fn(arg)
}

// MetaGet answers a guest `hd` call against session metadata.
func (s *Session) MetaGet(key string) ([]byte, bool) {
	v, ok := s.meta[key]
	return v, ok
}

// NestedCall answers a guest `c` call: a contract-to-contract invocation
// metered against the caller's remaining gas, per §4.4.
func (s *Session) NestedCall(id types.ContractId, function string, arg []byte, gasLimit uint64) ([]byte, int32) {
	out, _, err := s.dispatch(id, function, arg, gasLimit)
	if err != nil {
		kind, ok := vmerrors.KindOf(err)
		if !ok {
			kind = vmerrors.Panic
		}
		return nil, vmerrors.NegativeCode(kind)
	}
	return out, 0
}

// Emit appends an event to the session's log, per §4.4's rollback rule:
// a reverted call's events are truncated back to EventsMark by dispatch's
// fail path, so Emit itself only ever appends.
func (s *Session) Emit(topic string, data []byte) error {
	cur := s.tree.Current()
	var source types.ContractId
	if cur != nil {
		source = cur.ContractId
	}
	s.events = append(s.events, types.Event{
		Source: source,
		Topic:  topic,
		Data:   append([]byte(nil), data...),
	})
	return nil
}

// OwnerOf answers a guest `owner` call, checking pending in-session
// deployments before falling back to the Commit Store.
func (s *Session) OwnerOf(id types.ContractId) ([]byte, bool) {
	if inst, ok := s.instances[id]; ok {
		return inst.metadata.Owner, true
	}
	metadata, ok, err := s.store.ReadMetadata(id)
	if err != nil || !ok {
		return nil, false
	}
	return metadata.Owner, true
}

// Deploy answers a guest `deploy` call: a nested deploy, staged in-session
// exactly like a top-level Session.Deploy.
func (s *Session) Deploy(bytecode, initArgs, owner []byte, nonce, gasLimit uint64) (types.ContractId, int32) {
	id, err := s.deployInternal(bytecode, initArgs, owner, nonce, gasLimit)
	if err != nil {
		kind, ok := vmerrors.KindOf(err)
		if !ok {
			kind = vmerrors.Panic
		}
		return types.ContractId{}, vmerrors.NegativeCode(kind)
	}
	return id, 0
}

// Debug appends a line to the session's debug log, per `hdebug`.
func (s *Session) Debug(msg string) {
	s.debugLog = append(s.debugLog, msg)
}

// SelfId answers a guest `self_id` call with the currently executing
// contract's id.
func (s *Session) SelfId() types.ContractId {
	if cur := s.tree.Current(); cur != nil {
		return cur.ContractId
	}
	return types.ContractId{}
}

// Callstack answers a guest `callstack` call with the ids of every
// ancestor frame, innermost first.
func (s *Session) Callstack() []types.ContractId {
	frames := s.tree.Callstack()
	out := make([]types.ContractId, len(frames))
	for i, f := range frames {
		out[i] = f.ContractId
	}
	return out
}

// Limit answers a guest `limit` call with the current frame's gas limit.
func (s *Session) Limit() uint64 {
	if len(s.meters) == 0 {
		return 0
	}
	return s.meters[len(s.meters)-1].Limit()
}

// Spent answers a guest `spent` call with the current frame's gas spent.
func (s *Session) Spent() uint64 {
	if len(s.meters) == 0 {
		return 0
	}
	return s.meters[len(s.meters)-1].Spent()
}
