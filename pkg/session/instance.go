package session

import (
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/georgecane/contractvm/pkg/memory"
	"github.com/georgecane/contractvm/pkg/types"
)

// instance is a hydrated contract: its compiled module, a live guest
// instance, and the session-private working copy of its linear memory.
// §5: "Registry cache: per-session; no cross-session mutation."
type instance struct {
	compiled    wazero.CompiledModule
	mod         api.Module
	mem         *memory.Memory
	metadata    *types.Metadata
	bytecodeLen int
}

func declaredPages(compiled wazero.CompiledModule, fallbackMax int) (minPages, maxPages int) {
	for _, def := range compiled.ExportedMemories() {
		minPages = int(def.Min())
		if max, ok := def.Max(); ok {
			maxPages = int(max)
		} else {
			maxPages = fallbackMax
		}
		return
	}
	return 0, fallbackMax
}
