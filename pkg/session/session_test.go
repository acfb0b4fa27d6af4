package session

import (
	"context"
	"testing"

	"github.com/georgecane/contractvm/pkg/config"
	"github.com/georgecane/contractvm/pkg/contracts"
	"github.com/georgecane/contractvm/pkg/store"
	"github.com/georgecane/contractvm/pkg/types"
)

// minimalModule is a hand-assembled Wasm module exporting a linear memory
// (min 1, max 2 pages) and a function "run" taking one i32 argument-length
// parameter and returning the i32 constant 0 (an empty result), used to
// exercise dispatch without depending on a real compiled contract.
var minimalModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f, // type section: (i32) -> i32
	0x03, 0x02, 0x01, 0x00, // function section
	0x05, 0x04, 0x01, 0x01, 0x01, 0x02, // memory section: min=1 max=2
	0x07, 0x10, 0x02, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, 0x03, 'r', 'u', 'n', 0x00, 0x00, // exports
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x00, 0x0b, // code: local decls=0, i32.const 0, end
}

func newTestSession(t *testing.T) (*Session, *contracts.Registry, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg, err := contracts.NewRegistry(context.Background(), 32)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	gasCfg := config.GasConfig{CostPerInstruction: 1, CostPerPageGrow: 1000, MaxCallDepth: 32, ArgBufferBytes: 65536}
	sess, err := Open(context.Background(), reg, st, gasCfg, types.Hash{}, false, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { sess.Drop() })
	return sess, reg, st
}

func TestDeployAndCallSucceeds(t *testing.T) {
	sess, _, _ := newTestSession(t)

	id, err := sess.DeployContract(minimalModule, nil, []byte("owner-a"), 1, 10000)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	out, spent, events, err := sess.Call(id, "run", nil, 10000)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %d bytes", len(out))
	}
	if spent == 0 {
		t.Fatalf("expected nonzero gas spent")
	}
	if len(events) != 0 {
		t.Fatalf("expected no events from a plain call")
	}
}

func TestDeployRejectsCollidingNonce(t *testing.T) {
	sess, _, _ := newTestSession(t)

	if _, err := sess.DeployContract(minimalModule, nil, []byte("owner-a"), 1, 10000); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	if _, err := sess.DeployContract(minimalModule, nil, []byte("owner-a"), 1, 10000); err == nil {
		t.Fatalf("expected collision error on redeploy with same owner/nonce")
	}
}

func TestCommitPersistsDeployedContract(t *testing.T) {
	sess, reg, st := newTestSession(t)

	id, err := sess.DeployContract(minimalModule, nil, []byte("owner-a"), 1, 10000)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, _, _, err := sess.Call(id, "run", nil, 10000); err != nil {
		t.Fatalf("call: %v", err)
	}
	root, err := sess.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if root.IsZero() {
		t.Fatalf("expected non-zero root")
	}

	if _, ok, _ := st.ReadBytecode(id); !ok {
		t.Fatalf("expected bytecode to survive commit")
	}

	// A fresh session rooted at the new commit can re-hydrate the contract
	// without redeploying it.
	sess2, err := Open(context.Background(), reg, st, sess.gasCfg, root, true, nil)
	if err != nil {
		t.Fatalf("open second session: %v", err)
	}
	defer sess2.Drop()
	if _, _, _, err := sess2.Call(id, "run", nil, 10000); err != nil {
		t.Fatalf("call on rehydrated contract: %v", err)
	}
}

func TestOutOfGasFailsCallAndLeavesNoDirty(t *testing.T) {
	sess, _, _ := newTestSession(t)

	id, err := sess.DeployContract(minimalModule, nil, []byte("owner-a"), 1, 10000)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	// bytecodeLen-based charge exceeds a 1-unit gas limit.
	if _, _, _, err := sess.Call(id, "run", nil, 1); err == nil {
		t.Fatalf("expected OUT_OF_GAS")
	}
	if sess.instances[id].mem.Dirty() {
		t.Fatalf("expected failed call to leave the contract memory clean")
	}
}

func TestSessionMetadataRoundTrip(t *testing.T) {
	sess, _, _ := newTestSession(t)
	if _, ok := sess.Meta("missing"); ok {
		t.Fatalf("expected missing key to be absent")
	}
	sess.SetMeta("k", []byte("v"))
	v, ok := sess.Meta("k")
	if !ok || string(v) != "v" {
		t.Fatalf("expected to read back session metadata, got %q ok=%v", v, ok)
	}
}

func TestHostQueryDispatchesToRegisteredCallback(t *testing.T) {
	sess, _, _ := newTestSession(t)
	sess.RegisterQuery("double", func(arg []byte) ([]byte, error) {
		out := make([]byte, len(arg))
		for i, b := range arg {
			out[i] = b * 2
		}
		return out, nil
	})
	out, err := sess.HostQuery("double", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("host query: %v", err)
	}
	if out[0] != 2 || out[1] != 4 || out[2] != 6 {
		t.Fatalf("unexpected host query result: %v", out)
	}
	if _, err := sess.HostQuery("missing", nil); err == nil {
		t.Fatalf("expected error for unregistered query")
	}
}

func TestDebugLogDrainsOnce(t *testing.T) {
	sess, _, _ := newTestSession(t)
	sess.Debug("line one")
	sess.Debug("line two")
	var got []string
	sess.WithDebug(func(s string) { got = append(got, s) })
	if len(got) != 2 || got[0] != "line one" || got[1] != "line two" {
		t.Fatalf("unexpected debug log: %v", got)
	}
	var again []string
	sess.WithDebug(func(s string) { again = append(again, s) })
	if len(again) != 0 {
		t.Fatalf("expected debug log to be drained after first read")
	}
}
