// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures NewLogger.
type Options struct {
	Level string // debug, info, warn, error
	Dir   string // empty disables the rotating file
	File  string // file name inside Dir, default cranker.log
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a JSON slog.Logger writing to stdout and, when Dir is
// set, to a rotating log file.
func NewLogger(opt Options) *slog.Logger {
	return slog.New(slog.NewJSONHandler(writer(opt), &slog.HandlerOptions{Level: ParseLevel(opt.Level)}))
}

func writer(opt Options) io.Writer {
	if opt.Dir == "" {
		return os.Stdout
	}
	if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
		// Fall back to stdout only.
		return os.Stdout
	}
	name := opt.File
	if name == "" {
		name = "cranker.log"
	}
	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(opt.Dir, name),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, fileLogger)
}
