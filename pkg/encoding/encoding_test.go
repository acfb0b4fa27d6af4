package encoding

import (
	"bytes"
	"testing"

	"github.com/georgecane/contractvm/pkg/types"
)

func TestMetadataRoundTrip(t *testing.T) {
	id := types.ContractId{0x01, 0x02}
	m := &types.Metadata{
		Id:       id,
		Owner:    types.Owner{0xaa, 0xbb, 0xcc},
		InitArgs: []byte("hello"),
		Nonce:    7,
	}
	b, err := MarshalMetadata(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalMetadata(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Id != m.Id || !bytes.Equal(got.Owner, m.Owner) || !bytes.Equal(got.InitArgs, m.InitArgs) || got.Nonce != m.Nonce {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestBaseInfoRoundTrip(t *testing.T) {
	bi := &BaseInfo{
		ParentRoot:    types.Hash{0x9},
		HasParent:     true,
		ContractHints: []types.ContractId{{0x1}, {0x2}},
	}
	b := MarshalBaseInfo(bi)
	got, err := UnmarshalBaseInfo(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ParentRoot != bi.ParentRoot || got.HasParent != bi.HasParent || len(got.ContractHints) != 2 {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, bi)
	}
}

func TestBaseInfoGenesisHasNoParent(t *testing.T) {
	bi := &BaseInfo{ContractHints: []types.ContractId{{0x1}}}
	got, err := UnmarshalBaseInfo(MarshalBaseInfo(bi))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.HasParent {
		t.Fatalf("expected no parent for genesis base info")
	}
}

func TestHashConcatDeterministic(t *testing.T) {
	a := HashConcat([]byte("bytecode"), []byte("owner"), MarshalUint64(3))
	b := HashConcat([]byte("bytecode"), []byte("owner"), MarshalUint64(3))
	if a != b {
		t.Fatalf("expected deterministic hash")
	}
	c := HashConcat([]byte("bytecode"), []byte("owner"), MarshalUint64(4))
	if a == c {
		t.Fatalf("expected different nonce to change hash")
	}
}
