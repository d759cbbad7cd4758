package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpIDWireFormat(t *testing.T) {
	assert.Equal(t, "0", OpID(0).String())
	assert.Equal(t, "18446744073709551615", OpID(^uint64(0)).String())

	parsed, err := ParseOpID("42")
	require.NoError(t, err)
	assert.Equal(t, OpID(42), parsed)

	_, err = ParseOpID("-1")
	assert.Error(t, err)
}

func TestChecksumWireReinterpretation(t *testing.T) {
	// The u32 checksum crosses the wire as a signed 32-bit integer.
	c := BucketChecksum{Checksum: 0xFFFFFFFF}
	assert.Equal(t, int32(-1), c.WireChecksum())

	op := BucketOp{Kind: OpPut, Checksum: 0x80000000}
	assert.Equal(t, int32(-2147483648), WireEntry(op).Checksum)
}

func TestCheckpointVisible(t *testing.T) {
	tests := []struct {
		name    string
		group   Group
		visible bool
	}{
		{
			name:    "no lsn at all",
			group:   Group{},
			visible: false,
		},
		{
			name:    "lsn behind snapshot boundary",
			group:   Group{LastCheckpointLSN: "0/10", NoCheckpointBeforeLSN: "0/50"},
			visible: false,
		},
		{
			name:    "lsn at boundary",
			group:   Group{LastCheckpointLSN: "0/50", NoCheckpointBeforeLSN: "0/50"},
			visible: true,
		},
		{
			name:    "lsn past boundary",
			group:   Group{LastCheckpointLSN: "0/60", NoCheckpointBeforeLSN: "0/50"},
			visible: true,
		},
		{
			name:    "no boundary recorded",
			group:   Group{LastCheckpointLSN: "0/10"},
			visible: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.visible, tt.group.CheckpointVisible())
		})
	}
}

func TestLegacySourceTableSnapshotDone(t *testing.T) {
	// Records written before the snapshot_done field existed decode as
	// completed snapshots.
	var legacy SourceTable
	require.NoError(t, json.Unmarshal([]byte(`{"id":"t1","schema":"public","name":"users"}`), &legacy))
	assert.True(t, legacy.SnapshotComplete())

	var pending SourceTable
	require.NoError(t, json.Unmarshal([]byte(`{"id":"t2","snapshot_done":false}`), &pending))
	assert.False(t, pending.SnapshotComplete())
}

func TestRowCanonicalJSON(t *testing.T) {
	row := Row{"b": Int(2), "a": Text("x"), "c": Null()}
	a, err := row.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2,"c":null}`, a)

	// Equal rows produce identical bytes regardless of construction order.
	other := Row{"c": Null(), "a": Text("x"), "b": Int(2)}
	b, err := other.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Blobs are outside the JSON subset.
	_, err = Row{"x": Blob([]byte{1})}.CanonicalJSON()
	assert.Error(t, err)
}

func TestValueJSONRoundTrip(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`3`), &v))
	assert.Equal(t, Int(3), v)

	require.NoError(t, json.Unmarshal([]byte(`3.5`), &v))
	assert.Equal(t, Real(3.5), v)

	require.NoError(t, json.Unmarshal([]byte(`"s"`), &v))
	assert.Equal(t, Text("s"), v)

	require.NoError(t, json.Unmarshal([]byte(`null`), &v))
	assert.True(t, v.IsNull())

	// Large integers survive without float truncation.
	require.NoError(t, json.Unmarshal([]byte(`9007199254740993`), &v))
	assert.Equal(t, Int(9007199254740993), v)
}
