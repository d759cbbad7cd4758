package codec

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/cuemby/basin/pkg/types"
)

// OpChecksum fingerprints the client-visible fields of an op. The value is
// stable across replays and platforms: the same logical op always hashes to
// the same 32 bits, so replaying a source row produces identical checksums
// and range sums stay comparable across compactions.
func OpChecksum(kind types.OpKind, table, rowID, subkey, data string) uint32 {
	d := xxhash.New()
	writeField(d, string(kind))
	writeField(d, table)
	writeField(d, rowID)
	writeField(d, subkey)
	writeField(d, data)
	return uint32(d.Sum64())
}

func writeField(d *xxhash.Digest, s string) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(s)))
	_, _ = d.Write(l[:])
	_, _ = d.WriteString(s)
}

// subkeyNamespace scopes name-based subkey UUIDs to this schema.
var subkeyNamespace = uuid.MustParse("6a57b9c1-8f02-4d6e-9c35-d1f20b4a8e77")

// Subkey derives the stable per-source-row subkey for a bucket op: a
// name-based UUID over the source key, so every op for the same logical row
// carries the same subkey.
func Subkey(tableID string, replicaID []byte) string {
	buf := make([]byte, 0, len(tableID)+1+len(replicaID))
	buf = append(buf, tableID...)
	buf = append(buf, 0x00)
	buf = append(buf, replicaID...)
	return uuid.NewSHA1(subkeyNamespace, buf).String()
}

// RowHash fingerprints an evaluated row destined for a bucket. It is used by
// the ingest pipeline to detect updates that did not change the emitted data.
func RowHash(table, rowID, data string) uint32 {
	d := xxhash.New()
	writeField(d, table)
	writeField(d, rowID)
	writeField(d, data)
	return uint32(d.Sum64())
}
