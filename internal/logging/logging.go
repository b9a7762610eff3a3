// Package logging configures the process-global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	stdlog "log"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init sets up the global logger. Interactive terminals get the console
// writer; everything else gets JSON. The instance id tags every line so
// overlapping runs against the same store stay distinguishable.
func Init(levelName, instance string) {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelName))); err == nil {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}
	}

	zlog.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "keyai").
		Str("instance", instance).
		Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return zlog.With().Str("component", name).Logger()
}
