package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	OwnerHRP      = "own"
	OwnerHashSize = 20
)

// OwnerFromPubKey derives a bech32-encoded, human-readable owner identity
// from an Ed25519 public key. The engine itself treats an owner as an
// opaque up-to-32-byte value (§3); this encoding exists only for the CLI
// wrapper to print and accept owners in a form people can type.
func OwnerFromPubKey(pub []byte) (string, error) {
	if len(pub) == 0 {
		return "", fmt.Errorf("empty public key")
	}
	sum := sha256.Sum256(pub)
	addrBytes := sum[:OwnerHashSize]
	conv, err := bech32.ConvertBits(addrBytes, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("bech32 convert: %w", err)
	}
	addr, err := bech32.Encode(OwnerHRP, conv)
	if err != nil {
		return "", fmt.Errorf("bech32 encode: %w", err)
	}
	return addr, nil
}

// DecodeOwner decodes a bech32 owner identity and returns the 20-byte hash.
func DecodeOwner(addr string) ([]byte, error) {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("bech32 decode: %w", err)
	}
	if hrp != OwnerHRP {
		return nil, fmt.Errorf("invalid owner hrp: %s", hrp)
	}
	out, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("bech32 convert: %w", err)
	}
	if len(out) != OwnerHashSize {
		return nil, fmt.Errorf("invalid owner length: %d", len(out))
	}
	return out, nil
}
