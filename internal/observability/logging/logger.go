package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler and the attributes stamped on every record.
type Options struct {
	Service string
	Level   string
	// Text switches from JSON lines to logfmt-style output.
	Text bool
	// Fallback is used when Level is empty or unknown.
	Fallback slog.Level
}

// New builds a logger writing to w. Service processes also carry the host
// they run on so records from several workers can be told apart.
func New(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level, opts.Fallback)}

	var handler slog.Handler
	if opts.Text {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
		if host, err := os.Hostname(); err == nil && host != "" {
			logger = logger.With("host", host)
		}
	}
	return logger
}

// NewJSONLogger is the logger of the long-running services.
func NewJSONLogger(service, level string) *slog.Logger {
	return New(os.Stdout, Options{Service: service, Level: level, Fallback: slog.LevelInfo})
}

// NewCLILogger keeps taggerctl quiet unless something needs attention.
// Retry warnings from the API client land on stderr next to command errors.
func NewCLILogger(level string) *slog.Logger {
	return New(os.Stderr, Options{Level: level, Text: true, Fallback: slog.LevelWarn})
}

// Component tags records with the subsystem that emitted them.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

func parseLevel(level string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
