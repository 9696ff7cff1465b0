package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var Log zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	log.Logger = Log
}

// SetLevel switches the process logger to the named level. Unknown names
// keep the current level.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		Log.Warn().Str("level", level).Msg("unknown log level, keeping current")
		return
	}
	Log = Log.Level(lvl)
	log.Logger = Log
}
