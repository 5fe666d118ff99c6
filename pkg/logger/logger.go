// Package logger configures the process-wide zerolog root logger.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger initialization options.
type Config struct {
	Level   string // trace, debug, info, warn, error
	Service string // service name stamped on every entry
	Console bool   // human-readable console output for local development
}

var (
	root zerolog.Logger
	once sync.Once
)

// Init configures the root logger. Safe to call once; later calls are no-ops.
func Init(cfg Config) {
	once.Do(func() {
		level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil || cfg.Level == "" {
			level = zerolog.InfoLevel
		}

		var out = os.Stdout
		ctx := zerolog.New(out).With().Timestamp()
		if cfg.Service != "" {
			ctx = ctx.Str("service", cfg.Service)
		}
		root = ctx.Logger().Level(level)

		if cfg.Console {
			root = root.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
		}
	})
}

// L returns the root logger.
func L() zerolog.Logger {
	return root
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
