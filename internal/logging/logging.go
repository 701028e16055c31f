package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. In development mode output is
// human-readable console text at Debug level; otherwise JSON at the given
// level (defaulting to Info).
func Init(level string, development bool) {
	if development {
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Caller().Logger().Level(zerolog.DebugLevel)
		return
	}

	lvl := parseLevel(level)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
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

// Component returns a logger tagged with a component name. Packages that emit
// logs from background loops take one of these instead of using the global
// logger directly, which keeps test output attributable.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
