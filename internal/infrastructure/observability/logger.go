package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// InitLogger builds the process logger. Every entry carries the service name.
func InitLogger(level, service string, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stdout
	}

	ctx := zerolog.New(output).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Caller()
	if service != "" {
		ctx = ctx.Str("service", service)
	}
	return ctx.Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithFields returns a child logger carrying the given fields.
func WithFields(logger zerolog.Logger, fields map[string]any) zerolog.Logger {
	l := logger.With()
	for k, v := range fields {
		l = l.Interface(k, v)
	}
	return l.Logger()
}
