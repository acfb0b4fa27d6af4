package encoding

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/georgecane/contractvm/pkg/types"
)

// UnmarshalMetadata decodes Contract Metadata from protobuf wire format.
func UnmarshalMetadata(b []byte) (*types.Metadata, error) {
	var m types.Metadata
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid metadata tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || typ != protowire.BytesType || len(v) != len(m.Id) {
				return nil, fmt.Errorf("invalid metadata id")
			}
			copy(m.Id[:], v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || typ != protowire.BytesType {
				return nil, fmt.Errorf("invalid metadata owner")
			}
			m.Owner = append(types.Owner(nil), v...)
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || typ != protowire.BytesType {
				return nil, fmt.Errorf("invalid metadata init args")
			}
			m.InitArgs = append([]byte(nil), v...)
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || typ != protowire.VarintType {
				return nil, fmt.Errorf("invalid metadata nonce")
			}
			m.Nonce = v
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("invalid metadata field %d", num)
			}
			b = b[n:]
		}
	}
	return &m, nil
}

// UnmarshalBaseInfo decodes a BaseInfo.
func UnmarshalBaseInfo(b []byte) (*BaseInfo, error) {
	var bi BaseInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid base info tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || typ != protowire.BytesType || len(v) != len(bi.ParentRoot) {
				return nil, fmt.Errorf("invalid base info parent root")
			}
			copy(bi.ParentRoot[:], v)
			bi.HasParent = true
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || typ != protowire.BytesType || len(v) != 32 {
				return nil, fmt.Errorf("invalid base info contract hint")
			}
			var id types.ContractId
			copy(id[:], v)
			bi.ContractHints = append(bi.ContractHints, id)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("invalid base info field %d", num)
			}
			b = b[n:]
		}
	}
	return &bi, nil
}
