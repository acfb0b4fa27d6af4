package abi

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/georgecane/contractvm/pkg/types"
	"github.com/georgecane/contractvm/pkg/vmerrors"
)

// ModuleName is the import module name every contract's imports are
// declared against, e.g. `(import "env" "hq" (func ...))`.
const ModuleName = "env"

// HostEnv is the set of services the Host ABI imports dispatch into. A
// Session implements this interface; the current Session is threaded
// through the call via context so the host module itself stays stateless
// and reusable across every contract instance.
type HostEnv interface {
	HostQuery(name string, arg []byte) ([]byte, error)
	MetaGet(key string) ([]byte, bool)
	NestedCall(id types.ContractId, function string, arg []byte, gasLimit uint64) ([]byte, int32)
	Emit(topic string, data []byte) error
	OwnerOf(id types.ContractId) ([]byte, bool)
	Deploy(bytecode, initArgs, owner []byte, nonce, gasLimit uint64) (types.ContractId, int32)
	Debug(msg string)
	SelfId() types.ContractId
	Callstack() []types.ContractId
	Limit() uint64
	Spent() uint64
}

type envKeyType struct{}

var envKey = envKeyType{}

// WithEnv returns a context carrying env, for use as the context passed to
// a guest function invocation.
func WithEnv(ctx context.Context, env HostEnv) context.Context {
	return context.WithValue(ctx, envKey, env)
}

func envFromContext(ctx context.Context) HostEnv {
	env, ok := ctx.Value(envKey).(HostEnv)
	if !ok {
		panic(fmt.Errorf("abi: no HostEnv bound to context"))
	}
	return env
}

// Instantiate builds and instantiates the "env" host module exposing the
// fixed import table of §4.5, grounded on
// original_source/piecrust/src/imports/wasm32.rs for signatures.
func Instantiate(ctx context.Context, r wazero.Runtime) error {
	b := r.NewHostModuleBuilder(ModuleName)

	b.NewFunctionBuilder().WithFunc(hostHq).Export("hq")
	b.NewFunctionBuilder().WithFunc(hostHd).Export("hd")
	b.NewFunctionBuilder().WithFunc(hostCall).Export("c")
	b.NewFunctionBuilder().WithFunc(hostEmit).Export("emit")
	b.NewFunctionBuilder().WithFunc(hostOwner).Export("owner")
	b.NewFunctionBuilder().WithFunc(hostDeploy).Export("deploy")
	b.NewFunctionBuilder().WithFunc(hostDebug).Export("hdebug")
	b.NewFunctionBuilder().WithFunc(hostSelfId).Export("self_id")
	b.NewFunctionBuilder().WithFunc(hostCallstack).Export("callstack")
	b.NewFunctionBuilder().WithFunc(hostLimit).Export("limit")
	b.NewFunctionBuilder().WithFunc(hostSpent).Export("spent")

	_, err := b.Instantiate(ctx)
	if err != nil {
		return vmerrors.Wrap(vmerrors.StorageIO, "instantiate host module", err)
	}
	return nil
}

func guestMemory(mod api.Module, offset, length uint32) []byte {
	mem := mod.Memory()
	b, ok := mem.Read(offset, length)
	if !ok {
		panic(vmerrors.New(vmerrors.Bounds, "guest memory access out of bounds"))
	}
	return b
}

func writeBack(mod api.Module, data []byte) uint32 {
	if len(data) > BufLen {
		panic(vmerrors.New(vmerrors.Serialization, "host result exceeds argument buffer"))
	}
	mem := mod.Memory()
	if !mem.Write(0, data) {
		panic(vmerrors.New(vmerrors.Bounds, "writing host result to argument buffer"))
	}
	return uint32(len(data))
}

// hq(name_ofs, name_len, arg_len) -> ret_len
func hostHq(ctx context.Context, mod api.Module, nameOfs, nameLen, argLen uint32) uint32 {
	env := envFromContext(ctx)
	name := string(guestMemory(mod, nameOfs, nameLen))
	arg := guestMemory(mod, 0, argLen)
	out, err := env.HostQuery(name, arg)
	if err != nil {
		return 0
	}
	return writeBack(mod, out)
}

// hd(name_ofs, name_len) -> ret_len
func hostHd(ctx context.Context, mod api.Module, nameOfs, nameLen uint32) uint32 {
	env := envFromContext(ctx)
	key := string(guestMemory(mod, nameOfs, nameLen))
	val, ok := env.MetaGet(key)
	if !ok {
		return 0
	}
	return writeBack(mod, val)
}

// c(id_ofs, name_ofs, name_len, arg_len, gas_limit) -> i32
func hostCall(ctx context.Context, mod api.Module, idOfs, nameOfs, nameLen, argLen uint32, gasLimit uint64) int32 {
	env := envFromContext(ctx)
	idBytes := guestMemory(mod, idOfs, 32)
	var id types.ContractId
	copy(id[:], idBytes)
	name := string(guestMemory(mod, nameOfs, nameLen))
	arg := guestMemory(mod, 0, argLen)
	out, code := env.NestedCall(id, name, arg, gasLimit)
	if code < 0 {
		return code
	}
	return int32(writeBack(mod, out))
}

// emit(topic_ofs, topic_len, data_len)
func hostEmit(ctx context.Context, mod api.Module, topicOfs, topicLen, dataLen uint32) {
	env := envFromContext(ctx)
	topic := string(guestMemory(mod, topicOfs, topicLen))
	data := guestMemory(mod, 0, dataLen)
	env.Emit(topic, data)
}

// owner(id_ofs) -> len
func hostOwner(ctx context.Context, mod api.Module, idOfs uint32) int32 {
	env := envFromContext(ctx)
	idBytes := guestMemory(mod, idOfs, 32)
	var id types.ContractId
	copy(id[:], idBytes)
	owner, ok := env.OwnerOf(id)
	if !ok {
		return vmerrors.NegativeCode(vmerrors.ContractNotFound)
	}
	return int32(writeBack(mod, owner))
}

// deploy(bytecode_ofs, bytecode_len, init_ofs, init_len, owner_ofs,
// owner_len, nonce, gas_limit) -> i32
func hostDeploy(ctx context.Context, mod api.Module, bytecodeOfs, bytecodeLen, initOfs, initLen, ownerOfs, ownerLen uint32, nonce, gasLimit uint64) int32 {
	env := envFromContext(ctx)
	bytecode := guestMemory(mod, bytecodeOfs, bytecodeLen)
	initArgs := guestMemory(mod, initOfs, initLen)
	owner := guestMemory(mod, ownerOfs, ownerLen)
	id, code := env.Deploy(bytecode, initArgs, owner, nonce, gasLimit)
	if code < 0 {
		return code
	}
	return int32(writeBack(mod, id[:]))
}

// hdebug(arg_len)
func hostDebug(ctx context.Context, mod api.Module, argLen uint32) {
	env := envFromContext(ctx)
	msg := string(guestMemory(mod, 0, argLen))
	env.Debug(msg)
}

// self_id() -> writes the current contract id into the argument buffer.
func hostSelfId(ctx context.Context, mod api.Module) uint32 {
	env := envFromContext(ctx)
	id := env.SelfId()
	return writeBack(mod, id[:])
}

// callstack() -> writes the ancestor contract ids, outermost first, into
// the argument buffer as a flat concatenation of 32-byte ids.
func hostCallstack(ctx context.Context, mod api.Module) uint32 {
	env := envFromContext(ctx)
	stack := env.Callstack()
	out := make([]byte, 0, len(stack)*32)
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i][:]...)
	}
	return writeBack(mod, out)
}

// limit() -> the current frame's gas limit.
func hostLimit(ctx context.Context, mod api.Module) uint64 {
	return envFromContext(ctx).Limit()
}

// spent() -> the current frame's gas spent so far.
func hostSpent(ctx context.Context, mod api.Module) uint64 {
	return envFromContext(ctx).Spent()
}
