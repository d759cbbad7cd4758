package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/basin/pkg/types"
)

func TestTupleRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		values []types.Value
	}{
		{
			name:   "empty tuple",
			values: []types.Value{},
		},
		{
			name:   "single null",
			values: []types.Value{types.Null()},
		},
		{
			name:   "mixed primitives",
			values: []types.Value{types.Int(42), types.Text("user-1"), types.Real(3.5), types.Null()},
		},
		{
			name:   "negative integer",
			values: []types.Value{types.Int(-9223372036854775808)},
		},
		{
			name:   "empty string",
			values: []types.Value{types.Text("")},
		},
		{
			name:   "blob",
			values: []types.Value{types.Blob([]byte{0x00, 0xff, 0x10})},
		},
		{
			name:   "string with separator bytes",
			values: []types.Value{types.Text("a\x00b"), types.Text("c")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeTuple(tt.values)
			require.NoError(t, err)

			decoded, err := DecodeTuple(encoded)
			require.NoError(t, err)
			require.Len(t, decoded, len(tt.values))
			for i := range tt.values {
				assert.True(t, tt.values[i].Equal(decoded[i]), "element %d", i)
			}
		})
	}
}

func TestTupleEncodingDistinguishesTypes(t *testing.T) {
	// Tuples that could collide under a naive concatenation must encode to
	// different bytes.
	a, err := EncodeTuple([]types.Value{types.Text("ab"), types.Text("c")})
	require.NoError(t, err)
	b, err := EncodeTuple([]types.Value{types.Text("a"), types.Text("bc")})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	c, err := EncodeTuple([]types.Value{types.Int(1)})
	require.NoError(t, err)
	d, err := EncodeTuple([]types.Value{types.Real(1)})
	require.NoError(t, err)
	assert.NotEqual(t, c, d)

	e, err := EncodeTuple([]types.Value{types.Text("1")})
	require.NoError(t, err)
	assert.NotEqual(t, c, e)
}

func TestTupleEncodingDeterministic(t *testing.T) {
	values := []types.Value{types.Int(7), types.Text("x"), types.Null()}
	a, err := EncodeTuple(values)
	require.NoError(t, err)
	b, err := EncodeTuple(values)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeTupleRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty input", data: nil},
		{name: "truncated int", data: []byte{0x01, 0x01, 0x00}},
		{name: "unknown tag", data: []byte{0x01, 0x7f}},
		{name: "trailing bytes", data: []byte{0x01, 0x00, 0xaa}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTuple(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestReplicaID(t *testing.T) {
	table := &types.SourceTable{
		ID:     "t1",
		Schema: "public",
		Name:   "users",
		ReplicaColumns: []types.ReplicaColumn{
			{Name: "id"},
			{Name: "tenant"},
		},
	}

	row := types.Row{"id": types.Int(1), "tenant": types.Text("acme"), "extra": types.Text("ignored")}
	a, err := ReplicaID(table, row)
	require.NoError(t, err)

	// Same identity values, different non-identity columns: same bytes.
	b, err := ReplicaID(table, types.Row{"id": types.Int(1), "tenant": types.Text("acme")})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Different identity: different bytes.
	c, err := ReplicaID(table, types.Row{"id": types.Int(2), "tenant": types.Text("acme")})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// Missing identity column encodes as null.
	d, err := ReplicaID(table, types.Row{"id": types.Int(1)})
	require.NoError(t, err)
	e, err := ReplicaID(table, types.Row{"id": types.Int(1), "tenant": types.Null()})
	require.NoError(t, err)
	assert.Equal(t, d, e)
}
