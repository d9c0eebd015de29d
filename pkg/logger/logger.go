// Package logger builds the zerolog loggers used throughout finwatch.
// Components receive a logger and scope it with component/repo/service
// fields, so caller annotations are omitted from the output.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level  string // zerolog level name, e.g. "debug", "info", "warn"
	Pretty bool   // human-readable console output for dev mode
}

// New creates a structured logger at the configured level. An unknown level
// name falls back to info; config validation rejects it before this runs,
// so the fallback only covers loggers built ahead of validation.
func New(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// ParseLevel resolves a level name to a zerolog level. An empty name means
// info; unknown names are errors so configuration can reject them.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(name)
}

// SetGlobalLogger sets the package-level logger.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
