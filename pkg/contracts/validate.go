package contracts

import (
	"github.com/tetratelabs/wazero"

	"github.com/georgecane/contractvm/pkg/abi"
	"github.com/georgecane/contractvm/pkg/vmerrors"
)

// validateRaw performs the cheap, pre-compile checks on raw bytecode:
// magic number and a deterministic float-opcode scan (kept verbatim from
// the teacher's ValidateWasmCode), plus rejection of a start section.
func validateRaw(code []byte) error {
	if len(code) == 0 {
		return vmerrors.New(vmerrors.InvalidBytecode, "empty code")
	}
	if len(code) < 4 || code[0] != 0x00 || code[1] != 0x61 || code[2] != 0x73 || code[3] != 0x6d {
		return vmerrors.New(vmerrors.InvalidBytecode, "invalid wasm magic number")
	}
	if containsFloatOpcodes(code) {
		return vmerrors.New(vmerrors.InvalidBytecode, "wasm contains floating-point opcodes")
	}
	if containsStartSection(code) {
		return vmerrors.New(vmerrors.InvalidBytecode, "wasm module declares a start section")
	}
	return nil
}

// validateCompiled performs the post-compile structural checks §4.3 and
// SPEC_FULL.md add on top of the teacher's raw-byte checks: exactly one
// exported memory, imports restricted to the Host ABI set.
func validateCompiled(compiled wazero.CompiledModule) error {
	memories := compiled.ExportedMemories()
	if len(memories) != 1 {
		return vmerrors.New(vmerrors.InvalidBytecode, "module must export exactly one linear memory")
	}

	allowed := map[string]bool{
		"hq": true, "hd": true, "c": true, "emit": true, "owner": true,
		"deploy": true, "hdebug": true, "self_id": true, "callstack": true,
		"limit": true, "spent": true,
	}
	for _, fn := range compiled.ImportedFunctions() {
		moduleName, name, isImport := fn.Import()
		if !isImport {
			continue
		}
		if moduleName != abi.ModuleName || !allowed[name] {
			return vmerrors.New(vmerrors.InvalidBytecode, "import outside the host ABI set: "+moduleName+"."+name)
		}
	}
	return nil
}

// containsStartSection reports whether the module declares a start
// section (id 8). wazero runs a start function at InstantiateModule time,
// outside any metered call, so a contract could grow its memory to the
// declared maximum (or otherwise burn unmetered work) before the gas meter
// ever sees a charge. CompiledModule does not surface the start section,
// so this walks the raw section table directly.
func containsStartSection(code []byte) bool {
	offset := 8 // past the 4-byte magic number and 4-byte version
	for offset < len(code) {
		id := code[offset]
		offset++
		size, next, ok := readVarUint32(code, offset)
		if !ok {
			return false
		}
		if id == 8 {
			return true
		}
		offset = next + int(size)
	}
	return false
}

// readVarUint32 decodes an unsigned LEB128 varint starting at offset,
// returning the value and the offset of the first byte past it.
func readVarUint32(b []byte, offset int) (value uint32, next int, ok bool) {
	var shift uint
	for offset < len(b) {
		byteVal := b[offset]
		offset++
		value |= uint32(byteVal&0x7f) << shift
		if byteVal&0x80 == 0 {
			return value, offset, true
		}
		shift += 7
		if shift >= 35 {
			return 0, 0, false
		}
	}
	return 0, 0, false
}

// containsFloatOpcodes scans every byte of the module, not only the code
// section, for float opcode bytes. This is a conservative check that may
// reject some valid code, but is deterministic.
func containsFloatOpcodes(wasmCode []byte) bool {
	floatOpcodes := map[byte]struct{}{
		0x43: {}, // f32.const
		0x44: {}, // f64.const
		0x8b: {}, // f32.add
		0x8c: {}, // f32.sub
		0x8d: {}, // f32.mul
		0x8e: {}, // f32.div
		0x99: {}, // f64.add
		0x9a: {}, // f64.sub
		0x9b: {}, // f64.mul
		0x9c: {}, // f64.div
	}
	for _, b := range wasmCode {
		if _, ok := floatOpcodes[b]; ok {
			return true
		}
	}
	return false
}
