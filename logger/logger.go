package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/config"
)

// New returns a configured zerolog.Logger. Development gets a
// human-readable console writer at debug level; production logs JSON
// at info level so it can be shipped to a log aggregator unmodified.
func New(cfg *config.Config) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var log zerolog.Logger
	if cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		log = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return log.With().Str("service", "spoolflow").Logger()
}
