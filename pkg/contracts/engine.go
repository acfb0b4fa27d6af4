// Package contracts implements Contract Registry & Deployment: compiling
// and caching Wasm bytecode into deterministic object code, validating it
// against the engine's policy, and deriving contract ids.
package contracts

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/georgecane/contractvm/pkg/abi"
	"github.com/georgecane/contractvm/pkg/encoding"
	"github.com/georgecane/contractvm/pkg/types"
	"github.com/georgecane/contractvm/pkg/vmerrors"
)

// Registry compiles and caches contract bytecode as deterministic object
// code, shared-immutable once written (§5 "Shared-resource policy").
type Registry struct {
	mu           sync.RWMutex
	ctx          context.Context
	runtime      wazero.Runtime
	compiled     map[types.ContractId]wazero.CompiledModule
	maxCallDepth int
}

// NewRegistry builds a Registry around a fresh wazero runtime and
// instantiates the Host ABI module against it.
func NewRegistry(ctx context.Context, maxCallDepth int) (*Registry, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig())
	if err := abi.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return nil, err
	}
	return &Registry{
		ctx:          ctx,
		runtime:      r,
		compiled:     make(map[types.ContractId]wazero.CompiledModule),
		maxCallDepth: maxCallDepth,
	}, nil
}

// Close releases the underlying wazero runtime and every compiled module.
func (reg *Registry) Close() error {
	return reg.runtime.Close(reg.ctx)
}

// Compile validates and compiles raw Wasm bytecode, caching the result
// under id. Re-compiling the same id is a no-op returning the cached
// module.
func (reg *Registry) Compile(id types.ContractId, bytecode []byte) (wazero.CompiledModule, error) {
	reg.mu.RLock()
	if m, ok := reg.compiled[id]; ok {
		reg.mu.RUnlock()
		return m, nil
	}
	reg.mu.RUnlock()

	if err := validateRaw(bytecode); err != nil {
		return nil, err
	}
	compiled, err := reg.runtime.CompileModule(reg.ctx, bytecode)
	if err != nil {
		return nil, vmerrors.Wrap(vmerrors.InvalidBytecode, "compile wasm module", err)
	}
	if err := validateCompiled(compiled); err != nil {
		compiled.Close(reg.ctx)
		return nil, err
	}

	reg.mu.Lock()
	reg.compiled[id] = compiled
	reg.mu.Unlock()
	return compiled, nil
}

// Compiled returns a previously compiled module, if cached.
func (reg *Registry) Compiled(id types.ContractId) (wazero.CompiledModule, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	m, ok := reg.compiled[id]
	return m, ok
}

// Instantiate spins up a fresh module instance under the given name, with
// its own wazero-managed linear memory, enforcing the engine's max call
// depth on every guest-to-guest re-entry via a wazero function listener,
// matching the teacher's withCallDepthListener.
func (reg *Registry) Instantiate(compiled wazero.CompiledModule, name string) (api.Module, error) {
	cfg := wazero.NewModuleConfig().WithName(name)
	mod, err := reg.runtime.InstantiateModule(reg.withCallDepthListener(), compiled, cfg)
	if err != nil {
		return nil, vmerrors.Wrap(vmerrors.Panic, "instantiate wasm module", err)
	}
	return mod, nil
}

// CallContext returns the context to pass into a guest function invocation,
// carrying the call-depth listener every instantiated module was also
// instantiated under.
func (reg *Registry) CallContext() context.Context {
	return reg.withCallDepthListener()
}

func (reg *Registry) withCallDepthListener() context.Context {
	maxDepth := reg.maxCallDepth
	factory := experimental.FunctionListenerFactoryFunc(func(def api.FunctionDefinition) experimental.FunctionListener {
		return experimental.FunctionListenerFunc(func(ctx context.Context, mod api.Module, def api.FunctionDefinition, params []uint64, stack experimental.StackIterator) {
			depth := 0
			for stack.Next() {
				depth++
			}
			if depth > maxDepth {
				panic(vmerrors.New(vmerrors.Panic, fmt.Sprintf("wasm max call depth exceeded: %d", depth)))
			}
		})
	})
	return experimental.WithFunctionListenerFactory(reg.ctx, factory)
}

// DeriveContractId computes a contract id deterministically from its
// bytecode, owner, and deploy nonce, per §3.
func DeriveContractId(bytecode, owner []byte, nonce uint64) types.ContractId {
	return types.ContractId(encoding.HashConcat(bytecode, owner, encoding.MarshalUint64(nonce)))
}

// EstimateInstructions returns a deterministic, conservative instruction
// estimate for raw bytecode, used for diagnostics only.
func EstimateInstructions(wasmCode []byte) uint64 {
	return uint64(len(wasmCode))
}
