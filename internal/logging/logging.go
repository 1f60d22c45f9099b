package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const serviceName = "gameserver-sentinel"

// New returns a zerolog logger configured for stdout at info level.
func New() zerolog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a stdout logger at the named level. Unknown names fall back to info.
func NewWithLevel(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// ParseLevel maps a configured level name onto zerolog, accepting "warning"
// for warn and ignoring case and surrounding whitespace. Empty, unknown and
// numeric values yield info.
func ParseLevel(value string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(value))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level < zerolog.TraceLevel || level > zerolog.PanicLevel || name != level.String() {
		return zerolog.InfoLevel
	}
	return level
}
