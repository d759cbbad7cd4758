package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Components derive child loggers
// from it rather than logging through it directly, so every line carries a
// component tag.
var Logger zerolog.Logger

// Config holds logging configuration.
type Config struct {
	// Level is a zerolog level name: debug, info, warn, error. Unknown or
	// empty values fall back to info.
	Level string

	// JSONOutput selects machine-readable JSON lines; the default is a
	// console writer for interactive use.
	JSONOutput bool

	// Output defaults to stdout.
	Output io.Writer
}

// Init builds the root logger. Call once at process start, before any
// component derives a child logger.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent derives a child logger tagged with the component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithGroupID derives a child logger tagged with a sync-rule group.
func WithGroupID(groupID uint32) zerolog.Logger {
	return Logger.With().Uint32("group_id", groupID).Logger()
}

// WithBatchID derives a child logger tagged with an ingest batch.
func WithBatchID(batchID string) zerolog.Logger {
	return Logger.With().Str("batch_id", batchID).Logger()
}
