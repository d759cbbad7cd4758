package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a datasize.ByteSize that unmarshals from YAML strings like
// "50MB" or "512KB".
type ByteSize struct {
	datasize.ByteSize
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return b.UnmarshalText([]byte(s))
}

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CompactionConfig bounds the background compactor.
type CompactionConfig struct {
	Interval        Duration `yaml:"interval"`
	MaxOpIDLag      uint64   `yaml:"max_op_id_lag"`
	ClearBatchLines int      `yaml:"clear_batch_lines"`
	MoveBatchLines  int      `yaml:"move_batch_lines"`
	MemoryLimitMB   int      `yaml:"memory_limit_mb"`
}

// Config is the service configuration, loaded from YAML.
type Config struct {
	DataDir           string           `yaml:"data_dir"`
	Log               LogConfig        `yaml:"log"`
	FlushThreshold    ByteSize         `yaml:"flush_threshold"`
	ChecksumCacheSize int              `yaml:"checksum_cache_size"`
	Compaction        CompactionConfig `yaml:"compaction"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "/var/lib/basin",
		Log:     LogConfig{Level: "info", JSON: true},
		FlushThreshold: ByteSize{
			ByteSize: 50 * datasize.MB,
		},
		ChecksumCacheSize: 10000,
		Compaction: CompactionConfig{
			Interval:        Duration{Duration: 5 * time.Minute},
			MaxOpIDLag:      1000,
			ClearBatchLines: 5000,
			MoveBatchLines:  2000,
			MemoryLimitMB:   64,
		},
	}
}

// Load reads a YAML config file, applying defaults for absent fields. An
// empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir must not be empty")
	}
	return cfg, nil
}
