package util

import (
	"io"
	"log"
	"log/slog"
	"strings"
)

// SetupGlobalLogger replaces the standard log package logger so that
// libraries writing through package log end up in slog.
func SetupGlobalLogger() {
	log.SetFlags(0)
	log.SetOutput(NewLogWriter(GetLogger()))
}

// NewLogWriter returns a writer that logs each write as one info record,
// for example the output of a child process.
func NewLogWriter(l *slog.Logger) io.Writer {
	return &logWriter{logger: l}
}

type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
