package encoding

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/georgecane/contractvm/pkg/types"
)

// BaseInfo is the contents of a commit directory's `base` file (§6): the
// parent commit root (absent for a genesis commit) and the ids of the
// contracts that changed relative to that parent.
type BaseInfo struct {
	ParentRoot    types.Hash
	HasParent     bool
	ContractHints []types.ContractId
}

// MarshalMetadata deterministically encodes Contract Metadata (§3) in
// protobuf wire format: id, owner, constructor args, deploy nonce.
func MarshalMetadata(m *types.Metadata) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("metadata is nil")
	}
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Id[:])
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Owner)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, m.InitArgs)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Nonce)
	return b, nil
}

// MarshalBaseInfo deterministically encodes a BaseInfo.
func MarshalBaseInfo(bi *BaseInfo) []byte {
	var b []byte
	if bi.HasParent {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, bi.ParentRoot[:])
	}
	for _, id := range bi.ContractHints {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, id[:])
	}
	return b
}

// MarshalUint64 deterministically encodes v as big-endian fixed width,
// used for the deploy nonce in contract-id derivation and the page-count
// prefix of a memory digest.
func MarshalUint64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}
