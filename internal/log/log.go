// Package log configures the process-wide zerolog logger used by every
// cluster-coordination subsystem.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Subsystems derive child loggers from
// it with WithComponent rather than constructing their own.
var Logger zerolog.Logger

// Level is a coarse logging level, independent of zerolog's own type so
// callers configuring this package don't need to import zerolog directly.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls global logger initialization.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global Logger. Called once at process start; safe
// to call again in tests that need a different level or sink.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the owning subsystem,
// e.g. "allocator", "replication", "clusterstate-applier".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithShard returns a child logger tagged with a shard identity.
func WithShard(indexUUID string, shardNum int) zerolog.Logger {
	return Logger.With().Str("index_uuid", indexUUID).Int("shard", shardNum).Logger()
}

// WithNode returns a child logger tagged with a node id.
func WithNode(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}
