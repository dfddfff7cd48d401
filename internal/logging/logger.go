// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package logging builds the structured logger a HubConnection hands to
// its transport, buffer, and protocol collaborators, plus a per-connection
// correlation id used to thread related log lines together across a
// reconnect.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// New builds a slog.Logger configured with the given level, format, and
// output. Supported formats: "json" (default) and "text". Supported
// levels: "debug", "info" (default), "warn", "error". When filePath is
// non-empty, logs are written to stdout and the file (MultiWriter). The
// returned io.Closer must be called on shutdown; it is a no-op when
// filePath is empty.
func New(level, format, filePath string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewConnectionID mints a correlation id for one connection attempt's
// lifetime (handshake through eventual close). It is attached to the
// logger passed to the coordinator's collaborators so every log line for
// one logical connection, across any number of stateful reconnects, can
// be grepped out of a shared log stream.
func NewConnectionID() string {
	return uuid.NewString()
}

// WithConnection returns a logger annotated with id under the
// "connection_id" key.
func WithConnection(logger *slog.Logger, id string) *slog.Logger {
	return logger.With("connection_id", id)
}
