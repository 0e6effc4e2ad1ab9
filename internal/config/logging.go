package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the server logger from cfg: text on stderr for operators
// and JSON lines in cfg.File for log shipping. When cfg.File is empty or cannot
// be opened only stderr is used. The returned cleanup closes the file.
func SetupLogger(cfg LogConfig) (*slog.Logger, func() error) {
	level := parseLogLevel(cfg.Level)
	noop := func() error { return nil }

	if cfg.File == "" {
		return slog.New(stderrHandler(os.Stderr, level)), noop
	}

	file, err := openLogFile(cfg.File)
	if err != nil {
		logger := slog.New(stderrHandler(os.Stderr, level))
		logger.Error("failed to open log file, using stderr only", "error", err, "file", cfg.File)
		return logger, noop
	}

	return SetupLoggerWithWriters(os.Stderr, file, level), file.Close
}

// SetupLoggerWithWriters fans out to a text handler on stderr and a JSON
// handler on file.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler(stderr, level), fileHandler))
}

func stderrHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
