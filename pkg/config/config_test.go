package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/basin", cfg.DataDir)
	assert.Equal(t, 50*datasize.MB, cfg.FlushThreshold.ByteSize)
	assert.Equal(t, 5*time.Minute, cfg.Compaction.Interval.Duration)
	assert.Equal(t, uint64(1000), cfg.Compaction.MaxOpIDLag)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /data/basin
log:
  level: debug
  json: true
flush_threshold: 16MB
checksum_cache_size: 500
compaction:
  interval: 90s
  max_op_id_lag: 250
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/basin", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 16*datasize.MB, cfg.FlushThreshold.ByteSize)
	assert.Equal(t, 500, cfg.ChecksumCacheSize)
	assert.Equal(t, 90*time.Second, cfg.Compaction.Interval.Duration)
	assert.Equal(t, uint64(250), cfg.Compaction.MaxOpIDLag)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 2000, cfg.Compaction.MoveBatchLines)
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad size", content: "flush_threshold: lots\n"},
		{name: "bad duration", content: "compaction:\n  interval: soon\n"},
		{name: "empty data dir", content: "data_dir: \"\"\n"},
		{name: "not yaml", content: "{{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "basin.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
