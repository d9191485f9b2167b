package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo // Default to INFO if invalid/empty
	}
}

// GetLogLevel returns the log level from LOG_LEVEL environment variable
// Defaults to INFO if not set or invalid
func GetLogLevel() slog.Level {
	return parseLogLevel(os.Getenv("LOG_LEVEL"))
}

// handlerOptions renders durations as "1.5s" instead of raw nanoseconds,
// so provider timings read the same in text and JSON output
func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindDuration {
				return slog.String(a.Key, a.Value.Duration().String())
			}
			return a
		},
	}
}

// NewLogger creates a new structured logger with the configured log level.
// HTTP mode logs JSON to stdout; stdio mode logs text to stderr because
// stdout carries the MCP protocol.
func NewLogger(isStdioMode bool) *slog.Logger {
	return newModeLogger(isStdioMode, os.Stdout, os.Stderr)
}

func newModeLogger(isStdioMode bool, stdout, stderr io.Writer) *slog.Logger {
	opts := handlerOptions(GetLogLevel())

	if isStdioMode {
		return slog.New(slog.NewTextHandler(stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(stdout, opts))
}

// NewTextLogger creates a text-based logger with the configured log level
// Useful for CLI subcommands and tests
func NewTextLogger(output io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(output, handlerOptions(GetLogLevel())))
}

// NewTestLogger creates a logger for testing with configurable level and output
// If level is empty, uses LOG_LEVEL environment variable
func NewTestLogger(output io.Writer, level string) *slog.Logger {
	logLevel := GetLogLevel()
	if level != "" {
		logLevel = parseLogLevel(level)
	}
	return slog.New(slog.NewTextHandler(output, handlerOptions(logLevel)))
}

