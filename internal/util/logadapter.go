package util

import (
	"bytes"

	"github.com/go-logr/logr"
)

// LogrWriter adapts a logr.Logger to io.Writer so remote command output
// can be streamed through the structured log.
type LogrWriter struct {
	Logger logr.Logger
}

// Write logs a message at the info level, dropping the trailing newline
// that line-oriented writers append.
func (w *LogrWriter) Write(msg []byte) (int, error) {
	w.Logger.Info(string(bytes.TrimRight(msg, "\n")))
	return len(msg), nil
}
