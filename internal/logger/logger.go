// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"atlas-system/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup applies the log configuration to the global zerolog logger.
//
// Pretty output writes a colored console format to stderr; otherwise
// JSON lines are written. An unknown level falls back to info.
func Setup(cfg config.LogConfig) {
	setup(cfg, os.Stderr)
}

func setup(cfg config.LogConfig, out io.Writer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
