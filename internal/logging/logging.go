// Package logging provides component-scoped structured logging on zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger provides structured logging for pipeline components.
type ComponentLogger struct {
	logger zerolog.Logger
}

// NewComponentLogger creates a component-specific logger with consistent context.
// LOG_LEVEL selects the level; output is human-readable unless ENVIRONMENT=production.
func NewComponentLogger(componentName, version string) *ComponentLogger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(levelFromEnv())

	if os.Getenv("ENVIRONMENT") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}

	logger := log.With().
		Str("component", componentName).
		Str("version", version).
		Logger()

	return &ComponentLogger{logger: logger}
}

// New creates a logger writing JSON lines to w. Used by tests and embedders.
func New(w io.Writer, componentName string) *ComponentLogger {
	return &ComponentLogger{
		logger: zerolog.New(w).With().Timestamp().Str("component", componentName).Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *ComponentLogger {
	return &ComponentLogger{logger: zerolog.Nop()}
}

func levelFromEnv() zerolog.Level {
	switch os.Getenv("LOG_LEVEL") {
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

// Named returns a child logger tagged with a module name.
func (cl *ComponentLogger) Named(name string) *ComponentLogger {
	return &ComponentLogger{logger: cl.logger.With().Str("module", name).Logger()}
}

// With returns a child logger carrying an extra string field.
func (cl *ComponentLogger) With(key, value string) *ComponentLogger {
	return &ComponentLogger{logger: cl.logger.With().Str(key, value).Logger()}
}

func (cl *ComponentLogger) Info() *zerolog.Event {
	return cl.logger.Info()
}

func (cl *ComponentLogger) Error() *zerolog.Event {
	return cl.logger.Error()
}

func (cl *ComponentLogger) Warn() *zerolog.Event {
	return cl.logger.Warn()
}

func (cl *ComponentLogger) Debug() *zerolog.Event {
	return cl.logger.Debug()
}

// LogStageStart logs the beginning of a pipeline stage.
func (cl *ComponentLogger) LogStageStart(stage, input string) {
	cl.Info().
		Str("stage", stage).
		Str("input", input).
		Msg("Stage started")
}

// LogTableWritten logs a published output table.
func (cl *ComponentLogger) LogTableWritten(table, location string, rows int64, files, stale int, duration time.Duration) {
	cl.Info().
		Str("table", table).
		Str("location", location).
		Int64("rows", rows).
		Int("files", files).
		Int("stale_removed", stale).
		Dur("duration", duration).
		Msg("Table written")
}
