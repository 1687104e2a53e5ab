// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command sf_http is the AFD HTTP sender worker (spec.md §1/§6): spawned
// once per outgoing HTTP job by the supervising scheduler, it sends one
// batch of files to a remote host over HTTP/HTTPS, optionally continuing
// with further batches on the same connection (burst reuse, spec.md
// §4.7), and always exits through the worker package's exit handler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openafd/sf-http/internal/archive"
	"github.com/openafd/sf-http/internal/counter"
	"github.com/openafd/sf-http/internal/errs"
	"github.com/openafd/sf-http/internal/fsa"
	"github.com/openafd/sf-http/internal/httpsession"
	"github.com/openafd/sf-http/internal/job"
	"github.com/openafd/sf-http/internal/logging"
	"github.com/openafd/sf-http/internal/pipeline"
	"github.com/openafd/sf-http/internal/worker"
)

// version is the build-time version string reported by --version (spec.md
// §6). Overridden at link time the same way the teacher's cmd binaries
// are, via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	args, err := job.ParseCLI(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "sf_http: %v\n", err)
		os.Exit(errs.InitError.ExitStatus())
	}

	if args.Version {
		fmt.Println("sf_http", version)
		return
	}

	baseLogger, logCloser := logging.NewSystemLogger("info", "json", "")
	defer logCloser.Close()

	if _, cfgErr := job.ReadAFDConfig(args.WorkDir); cfgErr != nil {
		baseLogger.Warn("reading AFD_CONFIG failed, continuing with defaults", "error", cfgErr)
	}

	fsaPath := filepath.Join(args.WorkDir, "fsa", args.FSAID)
	fsaView, err := fsa.Open(fsaPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sf_http: %v\n", err)
		os.Exit(errs.InitError.ExitStatus())
	}
	defer fsaView.Close()

	currentEntry, err := fsaView.ReadEntry(args.FSAPos)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sf_http: reading FSA entry: %v\n", err)
		os.Exit(errs.InitError.ExitStatus())
	}
	currentToggle := job.ToggleToPrimary
	if currentEntry.HostToggle != 0 {
		currentToggle = job.ToggleToSecondary
	}

	j, err := job.Init(args, currentToggle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sf_http: %v\n", err)
		os.Exit(errs.InitError.ExitStatus())
	}

	runLogger, transferLogCloser, _, err := logging.NewTransferLogger(baseLogger, filepath.Join(args.WorkDir, "log", "transfer"), j.HostAlias, j.UniqueTag)
	if err != nil {
		baseLogger.Warn("opening transfer log failed, continuing with system log only", "error", err)
		runLogger = baseLogger
		transferLogCloser = nil
	}
	if transferLogCloser != nil {
		defer transferLogCloser.Close()
		defer logging.RemoveTransferLog(filepath.Join(args.WorkDir, "log", "transfer"), j.HostAlias, j.UniqueTag)
	}

	nextToggle := uint32(0)
	if j.NextToggle() == job.ToggleToSecondary {
		nextToggle = 1
	}
	if err := fsaView.WithRegion(args.FSAPos, fsa.RegionHS, func() error {
		return fsaView.WriteHostToggle(args.FSAPos, int(nextToggle))
	}); err != nil {
		runLogger.Warn("persisting host toggle failed", "error", err)
	}

	batchDir := filepath.Join(args.WorkDir, "filedir", args.MsgName)
	batch, err := job.ScanBatch(batchDir)
	if err != nil {
		runLogger.Error("scanning batch directory failed", "dir", batchDir, "error", err)
		os.Exit(errs.InitError.ExitStatus())
	}

	outputLog, err := logging.NewOutputLogger(filepath.Join(args.WorkDir, "fifodir", "output.log"))
	if err != nil {
		runLogger.Warn("opening output log failed, output records will not be written", "error", err)
		outputLog = nil
	} else {
		defer outputLog.Close()
	}

	var archiver *archive.Archiver
	var archiveFn pipeline.Archiver
	if j.ArchiveTime > 0 {
		archiver = archive.New(filepath.Join(args.WorkDir, "archive", j.HostAlias))
		archiveFn = archiver.Archive
	}

	seq, seqErr := counter.Open(filepath.Join(args.WorkDir, "counter"), j.HostAlias, j.Port)
	if seqErr != nil {
		runLogger.Warn("opening WMO counter failed, continuing without sequence prefix", "error", seqErr)
		seq = nil
	} else {
		defer seq.Close()
	}

	w := worker.New(j, fsaView, runLogger)

	code, _ := w.Run(func(ctx context.Context) (pipeline.Result, *errs.Error) {
		return runJob(ctx, j, fsaView, runLogger, batch, outputLog, archiveFn, seq)
	})

	if archiver != nil {
		if err := archiver.PruneOlderThan(j.ArchiveTime); err != nil {
			runLogger.Warn("pruning archive directory failed", "error", err)
		}
	}

	os.Exit(code)
}

// runJob performs the connect + pipeline.Run body the worker's exit
// handler wraps. Connect failures and the single burst-continuation
// attempt live here rather than in cmd/sf_http's linear setup, since both
// need the cancellable ctx the exit handler's signal watcher drives.
func runJob(ctx context.Context, j *job.Job, fsaView *fsa.View, logger *slog.Logger, batch job.Batch, outputLog *logging.OutputLogger, archiveFn pipeline.Archiver, seq *counter.Sequencer) (pipeline.Result, *errs.Error) {
	dialTimeout := j.DisconnectDeadline
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	sess, connRes, err := httpsession.Connect(ctx, j.ResolvedHost, j.Proxy, j.Port, j.User, j.Password, j.TLS, "", "", j.SndBufHint, j.RcvBufHint, dialTimeout)
	if err != nil {
		return pipeline.Result{}, errs.Classify(errs.ConnectError, isTimeout(err))
	}
	defer sess.Quit()

	// spec.md §4.2: "if IP-storage is enabled for the host, the resolved
	// address is pinned to the FSA; otherwise any previously pinned IP is
	// cleared." FlagStoreIP is host-wide state read from the FSA entry,
	// not a per-job flag.
	if e, rerr := fsaView.ReadEntry(j.FSAPos); rerr == nil {
		if e.HostStatus&fsa.FlagStoreIP != 0 {
			pinIP(fsaView, j.FSAPos, connRes.ResolvedAddr)
		} else {
			clearPinnedIP(fsaView, j.FSAPos)
		}
	}

	var seqIface pipeline.Sequencer
	if seq != nil {
		seqIface = seq
	}

	deps := &pipeline.Deps{
		Job:       j,
		FSA:       fsaView,
		FSAPos:    j.FSAPos,
		Session:   sess,
		Sequencer: seqIface,
		Logger:    logger,
		OutputLog: outputLog,
		WakeUp:    func() error { return worker.WakeUp(j.WorkDir) },
		Archive:   archiveFn,
	}

	// The real AFD scheduler (FD) decides burst continuation over its own
	// IPC channel, which spec.md's External Interfaces section does not
	// specify beyond the wake-up FIFO; this worker invocation is handed
	// exactly one job (spec.md §6 CLI: one job_no per run), so burst reuse
	// is wired but this deployment's checker always declines continuation.
	noBurst := func() (pipeline.BurstDecision, job.Batch) {
		return pipeline.BurstStopClean, job.Batch{}
	}

	return pipeline.Run(ctx, deps, batch, noBurst)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	for e := err; e != nil; {
		if tt, ok := e.(timeouter); ok {
			t = tt
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return t != nil && t.Timeout()
}

func pinIP(fsaView *fsa.View, pos int, addr string) {
	fsaView.WithRegion(pos, fsa.RegionHS, func() error {
		return fsaView.WriteStoredIP(pos, addr)
	})
}

func clearPinnedIP(fsaView *fsa.View, pos int) {
	fsaView.WithRegion(pos, fsa.RegionHS, func() error {
		return fsaView.WriteStoredIP(pos, "")
	})
}
