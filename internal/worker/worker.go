// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package worker ties together the FSA attachment, signal handling, and
// the exit handler from spec.md §4.8: "Terminal entrance to EXITED is
// always via the exit handler, which runs regardless of path." It models
// the re-architecture note in spec.md §9 ("a Worker value owning the
// session, with the FSA view as a typed handle") instead of the source's
// process-wide globals, and mirrors the teacher's signal.Notify + channel
// pattern in internal/agent/daemon.go for the SIGINT/SIGQUIT path.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/openafd/sf-http/internal/errs"
	"github.com/openafd/sf-http/internal/fsa"
	"github.com/openafd/sf-http/internal/job"
	"github.com/openafd/sf-http/internal/pipeline"
)

// Worker owns one run's FSA attachment and the job descriptor driving it.
// It is the typed handle spec.md §9 asks for in place of module-level
// mutable globals.
type Worker struct {
	Job    *job.Job
	FSA    *fsa.View
	FSAPos int
	Logger *slog.Logger
}

// New builds a Worker for one job run.
func New(j *job.Job, fsaView *fsa.View, logger *slog.Logger) *Worker {
	return &Worker{Job: j, FSA: fsaView, FSAPos: j.FSAPos, Logger: logger}
}

// Body is the pipeline call the worker drives; it is whatever cmd/sf_http
// has wired up (connect, build Deps, pipeline.Run). Cancellation from a
// SIGINT/SIGQUIT arrives through ctx, not as a separate parameter.
type Body func(ctx context.Context) (pipeline.Result, *errs.Error)

// Run is the sf_http exit handler from spec.md §4.6 step 12 / §4.8 / §7:
// it installs signal handling, recovers from a fatal panic (the Go
// analogue of SIGSEGV/SIGBUS — spec.md §4.8's "abort() that writes a core
// dump"), always releases the connection counter and resets the FSA slot,
// always logs a session summary, and returns the process exit status the
// spec's error taxonomy assigns (spec.md §7).
func (w *Worker) Run(body Body) (code int, summary pipeline.Result) {
	sig := Install()
	defer sig.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	sig.Watch(cancel, done)

	defer func() {
		if r := recover(); r != nil {
			w.Logger.Error("worker panicked, treating as fatal signal",
				"panic", r, "stack", string(debug.Stack()))
			w.resetSlot(true)
			// No exit code in spec.md §7's taxonomy names a crash
			// explicitly (IS_FAULTY_VAR is an FSA sentinel, not an exit
			// status); ALLOC_ERROR is the closest taxonomy member to "the
			// process could not continue running its own state", so it is
			// reused here as the process exit status while IS_FAULTY_VAR
			// carries the actual crash signal in the FSA.
			code = errs.AllocError.ExitStatus()
			w.logSummary(summary, errs.AllocError)
		}
	}()

	result, runErr := body(ctx)
	close(done)

	code = w.exit(result, runErr, sig)
	return code, result
}

// exit implements the code/status selection spec.md §4.8/§7 describe:
// SIGINT/SIGQUIT map to GOT_KILLED unless the FSA slot carries the
// scheduler's shutdown marker (unique_name[2] == 5), in which case the
// exit status is SUCCESS; otherwise the pipeline's own *errs.Error decides.
func (w *Worker) exit(result pipeline.Result, runErr *errs.Error, sig *SignalWatcher) int {
	if sig.Interrupted() {
		if w.shutdownMarker() {
			w.resetSlot(false)
			w.logSummary(result, errs.Success)
			return errs.Success.ExitStatus()
		}
		w.resetSlot(false)
		w.logSummary(result, errs.GotKilled)
		return errs.GotKilled.ExitStatus()
	}

	code := errs.Success
	if runErr != nil {
		code = runErr.Code
	}
	w.resetSlot(false)
	w.logSummary(result, code)
	return code.ExitStatus()
}

// shutdownMarker reports whether the FSA slot's unique_name[2] == 5, the
// scheduler-directed shutdown marker from spec.md §5.
func (w *Worker) shutdownMarker() bool {
	if w.FSA == nil {
		return false
	}
	e, err := w.FSA.ReadEntry(w.FSAPos)
	if err != nil || w.FSAPos >= len(e.JobStatus) {
		return false
	}
	return e.JobStatus[w.FSAPos].UniqueName[2] == 5
}

// resetSlot implements spec.md §4.6 step 12 / §4.8's "always reset the FSA
// slot" contract: the connection counter is released (paired with the
// pipeline's per-connect increment), and the slot's in-use fields are
// zeroed so a successor worker starts clean. faulty sets IS_FAULTY_VAR on
// the host status word, per spec.md §7's crash sentinel.
func (w *Worker) resetSlot(faulty bool) {
	if w.FSA == nil {
		return
	}

	if err := w.FSA.WithRegion(w.FSAPos, fsa.RegionCON, func() error {
		e, err := w.FSA.ReadEntry(w.FSAPos)
		if err != nil {
			return err
		}
		if e.Connections > 0 {
			if err := w.FSA.WriteConnections(w.FSAPos, e.Connections-1); err != nil {
				return err
			}
		}
		if w.FSAPos >= len(e.JobStatus) {
			return nil
		}
		s := e.JobStatus[w.FSAPos]
		s.ConnectStatus = fsa.Disconnect
		s.FileSizeInUse = 0
		s.FileSizeInUseDone = 0
		s.FileNameInUse = ""
		return w.FSA.WriteSlot(w.FSAPos, w.FSAPos, s)
	}); err != nil {
		w.Logger.Warn("FSA CON reset failed", "error", err)
	}

	if !faulty {
		return
	}

	if err := w.FSA.WithRegion(w.FSAPos, fsa.RegionHS, func() error {
		e, err := w.FSA.ReadEntry(w.FSAPos)
		if err != nil {
			return err
		}
		return w.FSA.WriteHostStatus(w.FSAPos, e.HostStatus|fsa.FlagFaultyVar)
	}); err != nil {
		w.Logger.Warn("FSA HS faulty-flag set failed", "error", err)
	}
}

// logSummary emits the session summary the exit handler always produces,
// per spec.md §7 ("the session summary (bytes sent, files delivered, burst
// count)").
func (w *Worker) logSummary(result pipeline.Result, code errs.Code) {
	msg := fmt.Sprintf("sf_http run finished: %s", code)
	if result.BurstCount > 0 {
		msg += " [BURST]"
	}
	if code == errs.Success {
		w.Logger.Info(msg,
			"files_sent", result.FilesSent,
			"bytes_sent", result.BytesSent,
			"burst_count", result.BurstCount,
			"job_id", w.Job.JobID,
			"host_alias", w.Job.HostAlias,
		)
		return
	}
	w.Logger.Error(msg,
		"files_sent", result.FilesSent,
		"bytes_sent", result.BytesSent,
		"burst_count", result.BurstCount,
		"job_id", w.Job.JobID,
		"host_alias", w.Job.HostAlias,
		"exit_code", code.ExitStatus(),
	)
}
