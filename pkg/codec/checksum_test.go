package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/basin/pkg/types"
)

func TestOpChecksumStable(t *testing.T) {
	a := OpChecksum(types.OpPut, "users", "1", "sk", `{"id":1}`)
	b := OpChecksum(types.OpPut, "users", "1", "sk", `{"id":1}`)
	assert.Equal(t, a, b)
}

func TestOpChecksumSensitivity(t *testing.T) {
	base := OpChecksum(types.OpPut, "users", "1", "sk", `{"id":1}`)

	tests := []struct {
		name string
		sum  uint32
	}{
		{"different kind", OpChecksum(types.OpRemove, "users", "1", "sk", `{"id":1}`)},
		{"different table", OpChecksum(types.OpPut, "orders", "1", "sk", `{"id":1}`)},
		{"different row id", OpChecksum(types.OpPut, "users", "2", "sk", `{"id":1}`)},
		{"different data", OpChecksum(types.OpPut, "users", "1", "sk", `{"id":2}`)},
		{"field boundary shift", OpChecksum(types.OpPut, "user", "s1", "sk", `{"id":1}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.sum)
		})
	}
}

func TestSubkeyStablePerSourceRow(t *testing.T) {
	a := Subkey("table-1", []byte{1, 2, 3})
	b := Subkey("table-1", []byte{1, 2, 3})
	assert.Equal(t, a, b)

	c := Subkey("table-1", []byte{1, 2, 4})
	assert.NotEqual(t, a, c)

	d := Subkey("table-2", []byte{1, 2, 3})
	assert.NotEqual(t, a, d)

	// Subkeys render as UUIDs.
	assert.Len(t, a, 36)
}

func TestRowHashDetectsChanges(t *testing.T) {
	a := RowHash("users", "1", `{"region":"eu"}`)
	assert.Equal(t, a, RowHash("users", "1", `{"region":"eu"}`))
	assert.NotEqual(t, a, RowHash("users", "1", `{"region":"us"}`))
	assert.NotEqual(t, a, RowHash("users", "2", `{"region":"eu"}`))
}
