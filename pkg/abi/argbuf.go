// Package abi implements the Host ABI & Argument Buffer: the narrow,
// bit-defined boundary between guest Wasm code and the host, wired as a
// wazero host module exposing the fixed import table (hq, hd, c, emit,
// owner, deploy, hdebug, self_id, callstack, limit, spent).
package abi

import "github.com/georgecane/contractvm/pkg/vmerrors"

// BufLen is the size of the argument buffer every instance exposes at
// offset 0 of its single linear memory: the sole data-exchange boundary
// between guest and host.
const BufLen = 64 * 1024

// ReadArgBuf copies length bytes out of a guest memory region, bounds
// checked against BufLen and the region's length.
func ReadArgBuf(mem []byte, offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > BufLen || int(offset)+int(length) > len(mem) {
		return nil, vmerrors.New(vmerrors.Bounds, "argument buffer read out of bounds")
	}
	out := make([]byte, length)
	copy(out, mem[offset:offset+length])
	return out, nil
}

// WriteArgBuf copies data into a guest memory region starting at offset 0,
// failing if it would not fit in the fixed-size buffer. Partial writes are
// never permitted (§6 "Argument-buffer protocol").
func WriteArgBuf(mem []byte, data []byte) error {
	if len(data) > BufLen || len(data) > len(mem) {
		return vmerrors.New(vmerrors.Serialization, "return value exceeds argument buffer")
	}
	copy(mem[:len(data)], data)
	return nil
}
