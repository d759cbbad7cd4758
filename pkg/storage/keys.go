package storage

import (
	"bytes"
	"encoding/binary"

	"github.com/cuemby/basin/pkg/types"
)

// Composite big-endian keys. Within one group and bucket (or lookup), keys
// sort by op id, which is what range scans rely on. The layouts are part of
// the persisted schema.

func groupKey(id types.GroupID) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(id))
	return k[:]
}

// opPrefix is g(u32) | len(bucket)(u16) | bucket.
func opPrefix(id types.GroupID, bucket string) []byte {
	k := make([]byte, 0, 6+len(bucket))
	k = binary.BigEndian.AppendUint32(k, uint32(id))
	k = binary.BigEndian.AppendUint16(k, uint16(len(bucket)))
	k = append(k, bucket...)
	return k
}

func opKey(id types.GroupID, bucket string, op types.OpID) []byte {
	k := opPrefix(id, bucket)
	return binary.BigEndian.AppendUint64(k, uint64(op))
}

// opIDFromKey extracts the trailing op id of an op or parameter key.
func opIDFromKey(k []byte) types.OpID {
	return types.OpID(binary.BigEndian.Uint64(k[len(k)-8:]))
}

// paramPrefix is g(u32) | len(lookup)(u16) | lookup.
func paramPrefix(id types.GroupID, lookup []byte) []byte {
	k := make([]byte, 0, 6+len(lookup))
	k = binary.BigEndian.AppendUint32(k, uint32(id))
	k = binary.BigEndian.AppendUint16(k, uint16(len(lookup)))
	k = append(k, lookup...)
	return k
}

func paramKey(id types.GroupID, lookup []byte, op types.OpID) []byte {
	k := paramPrefix(id, lookup)
	return binary.BigEndian.AppendUint64(k, uint64(op))
}

// currentPrefix is g(u32) | len(table)(u16) | table id.
func currentPrefix(id types.GroupID, tableID string) []byte {
	k := make([]byte, 0, 6+len(tableID))
	k = binary.BigEndian.AppendUint32(k, uint32(id))
	k = binary.BigEndian.AppendUint16(k, uint16(len(tableID)))
	k = append(k, tableID...)
	return k
}

func currentKey(id types.GroupID, key types.SourceKey) []byte {
	k := currentPrefix(id, key.TableID)
	return append(k, key.ReplicaID...)
}

// sourceKeyFromCurrent reverses currentKey given the full stored key.
func sourceKeyFromCurrent(k []byte) types.SourceKey {
	l := int(binary.BigEndian.Uint16(k[4:6]))
	table := string(k[6 : 6+l])
	replica := make([]byte, len(k)-6-l)
	copy(replica, k[6+l:])
	return types.SourceKey{TableID: table, ReplicaID: replica}
}

func hasPrefix(k, prefix []byte) bool {
	return bytes.HasPrefix(k, prefix)
}
