// Package logging provides Scribe's logging infrastructure built on charmbracelet/log.
//
// It wraps charmbracelet/log to provide a centralized logger factory with component
// prefixes, level configuration, and stderr-only output. All log output goes to
// stderr; stdout is reserved for structured output (tables, PR URLs, etc.).
//
// Usage:
//
//	// During CLI initialization (PersistentPreRun):
//	logging.Setup(verbose, quiet, jsonFormat)
//
//	// In each package:
//	var logger = logging.New("state")
//	logger.Info("state saved", "path", "specs/001-add-auth/state.yml")
//
// Setup must be called before New. The charmbracelet/log library creates child
// loggers by copying state at creation time; later changes to the default
// logger do not propagate to existing children.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Level aliases for charmbracelet/log levels.
// Re-exported so consumers do not need to import charmbracelet/log directly.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
	LevelFatal = log.FatalLevel
)

// EnvLevel is the environment variable that overrides the base log level
// (debug, info, warn, error). The --verbose and --quiet flags still win
// over it: an operator-typed flag beats ambient environment configuration.
const EnvLevel = "SCRIBE_LOG"

// Setup configures the global logging defaults. Call once during CLI initialization.
//
// The base level is Info, overridable via the SCRIBE_LOG environment
// variable. On top of that:
//   - verbose: sets level to Debug (shows all messages)
//   - quiet: sets level to Error (hides Info and Warn messages)
//   - jsonFormat: switches to JSON formatter (NDJSON, suitable for CI/log aggregation)
//
// If both verbose and quiet are set, quiet wins: in scripted environments
// --quiet should always suppress noise regardless of other flags.
//
// All loggers write to stderr to keep stdout clean for structured output
// (tables, PR URLs) and for the streamed agent text the CLI sink prints.
func Setup(verbose, quiet, jsonFormat bool) {
	level := levelFromEnv()
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// levelFromEnv resolves the base level from SCRIBE_LOG. Unknown or empty
// values fall back to Info.
func levelFromEnv() log.Level {
	switch strings.ToLower(os.Getenv(EnvLevel)) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// New creates a logger with the given component prefix.
//
// The returned logger inherits global level and output settings from the
// default logger at creation time. Call Setup before New to ensure the
// correct configuration is inherited.
//
// An empty component string produces a logger without a prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger.
//
// This is primarily useful for testing, where output can be captured
// with a bytes.Buffer. Remember to restore the original output using
// t.Cleanup.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
