// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches every record to two
// handlers. TransferLogger uses it so the per-run transfer log and the
// global system log both see the same records, with debug-mode
// amplification governed independently per handler's own level filter.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the run-local transfer log must never stop the
	// global system log from receiving the record.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewTransferLogger builds a logger that fans every record out to
// baseLogger (the process-wide system logger) AND a run-local file under
//
//	{transferLogDir}/{hostAlias}/{uniqueTag}.log
//
// This is the "human-readable line per event to the transfer log" sink
// from spec.md §7, correlated by the job's UniqueTag. The file always
// accepts DEBUG level regardless of the base logger's level, so debug mode
// amplification (spec.md §7) is available per-run without touching global
// verbosity. Returns the combined logger, an io.Closer that MUST be called
// (defer) when the run ends, and the log file's absolute path.
//
// If transferLogDir is empty, the base logger is returned unmodified
// (no-op), matching a deployment that only wants the system log.
func NewTransferLogger(baseLogger *slog.Logger, transferLogDir, hostAlias, uniqueTag string) (*slog.Logger, io.Closer, string, error) {
	if transferLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	dir := filepath.Join(transferLogDir, hostAlias)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating transfer log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, uniqueTag+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening transfer log file %s: %w", logPath, err)
	}

	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveTransferLog deletes a finished run's transfer log file. It is a
// no-op when transferLogDir is empty or the file is already gone, matching
// the exit handler's "always runs, never fatal" contract.
func RemoveTransferLog(transferLogDir, hostAlias, uniqueTag string) {
	if transferLogDir == "" {
		return
	}
	os.Remove(filepath.Join(transferLogDir, hostAlias, uniqueTag+".log"))
}
