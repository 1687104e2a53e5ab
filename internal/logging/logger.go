// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging implements sf_http's three log sinks from spec.md §6/§7:
// the structured system log (hard errors only, log/slog, the teacher's own
// NewLogger idiom), the human-readable transfer log (one line per pipeline
// event, debug mode amplifies every step), and the fixed-layout binary
// output log record. The system and transfer logs share the same slog
// plumbing so that debug mode's amplification is a single level change;
// the output log writes its binary records directly, outside slog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewSystemLogger builds the slog.Logger used for sf_http's system-log
// entries (hard errors only, per spec.md §7) and for debug-mode
// amplification of every pipeline step. Supported formats: "json"
// (default) and "text". Supported levels: "debug", "info" (default),
// "warn", "error". When filePath is non-empty, records are written to
// stdout AND the file (io.MultiWriter); the returned io.Closer must be
// called on worker shutdown. If filePath is empty, the Closer is a no-op.
func NewSystemLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: could not open system log file %q: %v (logging to stdout only)\n", filePath, err)
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
