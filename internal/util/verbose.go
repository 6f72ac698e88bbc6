package util

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// InitLogger initializes the global slog logger with appropriate level
func InitLogger(verbose bool) {
	InitLoggerTo(os.Stdout, verbose)
}

// InitLoggerTo is InitLogger with an explicit destination.
func InitLoggerTo(w io.Writer, verbose bool) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if verbose {
		opts.Level = slog.LevelDebug
	}

	l := slog.New(slog.NewTextHandler(w, opts))

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	slog.SetDefault(l)
}

// GetLogger returns the configured logger instance
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		// Fallback initialization with INFO level
		InitLogger(IsVerbose())
		return GetLogger()
	}
	return l
}

// IsVerbose checks if verbose mode is enabled by looking at command line arguments
func IsVerbose() bool {
	for _, arg := range os.Args {
		if arg == "--verbose" || arg == "-V" {
			return true
		}
	}
	return false
}
