// Package obslog configures the process-wide zerolog logger used by
// every sentryd binary.
package obslog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init wires the global logger's level and output format. pretty
// selects the human-readable console writer (for local/dev use);
// production deployments should leave it false for JSON output
// suitable for log aggregation.
func Init(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	zerolog.SetGlobalLevel(levelFromString(level))
}

func levelFromString(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a logger pre-tagged with a component name, so every
// line it emits carries its origin within the pipeline.
func With(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
