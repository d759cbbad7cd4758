package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cuemby/basin/pkg/types"
)

// Tuple encoding: each element is a tag byte followed by a fixed or
// length-prefixed payload. Equality of encoded bytes implies equality of the
// logical tuple, and decoding is the exact inverse. The bytes are persisted
// index keys, so any change here is a schema change.
const (
	tagNull byte = 0x00
	tagInt  byte = 0x01
	tagReal byte = 0x02
	tagText byte = 0x03
	tagBlob byte = 0x04
)

// EncodeTuple encodes an ordered tuple of values into canonical bytes.
func EncodeTuple(values []types.Value) ([]byte, error) {
	buf := make([]byte, 0, 16*len(values)+10)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(values)))
	buf = append(buf, tmp[:n]...)

	for i, v := range values {
		switch v.Kind {
		case types.KindNull:
			buf = append(buf, tagNull)
		case types.KindInt:
			buf = append(buf, tagInt)
			buf = binary.BigEndian.AppendUint64(buf, uint64(v.Int))
		case types.KindReal:
			buf = append(buf, tagReal)
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.Real))
		case types.KindText:
			buf = append(buf, tagText)
			n := binary.PutUvarint(tmp[:], uint64(len(v.Text)))
			buf = append(buf, tmp[:n]...)
			buf = append(buf, v.Text...)
		case types.KindBlob:
			buf = append(buf, tagBlob)
			n := binary.PutUvarint(tmp[:], uint64(len(v.Blob)))
			buf = append(buf, tmp[:n]...)
			buf = append(buf, v.Blob...)
		default:
			return nil, fmt.Errorf("element %d: unknown value kind %d", i, v.Kind)
		}
	}
	return buf, nil
}

// DecodeTuple is the inverse of EncodeTuple.
func DecodeTuple(data []byte) ([]types.Value, error) {
	count, off := binary.Uvarint(data)
	if off <= 0 {
		return nil, fmt.Errorf("invalid tuple header")
	}
	values := make([]types.Value, 0, count)
	for i := uint64(0); i < count; i++ {
		if off >= len(data) {
			return nil, fmt.Errorf("element %d: truncated tuple", i)
		}
		tag := data[off]
		off++
		switch tag {
		case tagNull:
			values = append(values, types.Null())
		case tagInt:
			if off+8 > len(data) {
				return nil, fmt.Errorf("element %d: truncated integer", i)
			}
			values = append(values, types.Int(int64(binary.BigEndian.Uint64(data[off:]))))
			off += 8
		case tagReal:
			if off+8 > len(data) {
				return nil, fmt.Errorf("element %d: truncated real", i)
			}
			values = append(values, types.Real(math.Float64frombits(binary.BigEndian.Uint64(data[off:]))))
			off += 8
		case tagText, tagBlob:
			l, n := binary.Uvarint(data[off:])
			if n <= 0 || off+n+int(l) > len(data) {
				return nil, fmt.Errorf("element %d: truncated payload", i)
			}
			off += n
			payload := data[off : off+int(l)]
			off += int(l)
			if tag == tagText {
				values = append(values, types.Text(string(payload)))
			} else {
				b := make([]byte, len(payload))
				copy(b, payload)
				values = append(values, types.Blob(b))
			}
		default:
			return nil, fmt.Errorf("element %d: unknown tag 0x%02x", i, tag)
		}
	}
	if off != len(data) {
		return nil, fmt.Errorf("trailing bytes after tuple")
	}
	return values, nil
}

// ReplicaID encodes the replica-identity column values of a row, in the
// table's declared column order. The result identifies the logical source
// row across updates.
func ReplicaID(table *types.SourceTable, row types.Row) ([]byte, error) {
	values := make([]types.Value, len(table.ReplicaColumns))
	for i, col := range table.ReplicaColumns {
		v, ok := row[col.Name]
		if !ok {
			v = types.Null()
		}
		values[i] = v
	}
	return EncodeTuple(values)
}
