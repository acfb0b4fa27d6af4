package encoding

import (
	"crypto/sha256"

	"github.com/georgecane/contractvm/pkg/types"
)

// HashBytes computes the 256-bit collision-resistant digest this engine
// assumes throughout (§1): SHA-256 over the raw input.
func HashBytes(data []byte) types.Hash {
	return types.Hash(sha256.Sum256(data))
}

// HashConcat hashes the concatenation of its arguments without an
// intermediate allocation of the joined buffer where avoidable, used to
// derive a contract id as hash(bytecode || owner || nonce).
func HashConcat(parts ...[]byte) types.Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
