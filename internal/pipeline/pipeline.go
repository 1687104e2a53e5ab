// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pipeline implements the sf_http Transfer Pipeline (spec.md
// §4.6-§4.7): the main per-batch send loop and the burst-reuse loop around
// it. Structurally this follows the teacher's RunBackup resume-loop shape
// in internal/agent/backup.go (reconnect, reset per-batch state, loop back
// to the top) but without the teacher's ring-buffer/resume-offset
// machinery, since AFD's burst is "next batch, same connection" rather
// than "resume a partially-sent file".
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openafd/sf-http/internal/errs"
	"github.com/openafd/sf-http/internal/framing"
	"github.com/openafd/sf-http/internal/fsa"
	"github.com/openafd/sf-http/internal/job"
	"github.com/openafd/sf-http/internal/logging"
	"github.com/openafd/sf-http/internal/ratelimit"
)

// Session is the subset of *httpsession.Session the pipeline drives.
// Accepting an interface keeps the pipeline testable against a fake wire.
type Session interface {
	PutBegin(user, password, targetDir, filename string, contentLength int64, firstInBurst bool) error
	Write(buf []byte) (int, error)
	PutFinalize() error
}

// Sequencer is the subset of *counter.Sequencer the pipeline drives.
type Sequencer interface {
	Next() (int, error)
	Closed() bool
}

// BurstDecision is the tagged outcome of check_burst, per the re-
// architecture guidance in spec.md §9 ("a tagged return (Continue |
// StopClean | StopDirty) rather than a flag").
type BurstDecision int

const (
	// BurstStopDirty means the scheduler/timeout left files unsent:
	// STILL_FILES_TO_SEND (the NEITHER outcome of spec.md §4.7).
	BurstStopDirty BurstDecision = iota
	// BurstStopClean means there is nothing more to send: exit 0.
	BurstStopClean
	// BurstContinue means another batch should be appended to this
	// connection without reconnecting.
	BurstContinue
)

// BurstChecker asks whether another batch can be appended to the current
// connection; it returns the next batch to send when the decision is
// BurstContinue.
type BurstChecker func() (BurstDecision, job.Batch)

// Logger is the minimal slog.Logger-shaped surface the pipeline needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Archiver moves a sent file out of the batch directory into the archive
// directory and returns the archive name recorded in the output log. When
// Deps.Archive is nil the pipeline deletes the file itself
// (unlinkWithRetry) and records an empty archive name.
type Archiver func(srcDir, name string, archiveTime time.Duration) (archiveName string, err error)

// Deps bundles everything the pipeline needs beyond the Job/Batch
// themselves.
type Deps struct {
	Job    *job.Job
	FSA    *fsa.View
	FSAPos int

	Session   Session
	Sequencer Sequencer // nil disables bulletin sequence numbers

	Logger    Logger
	OutputLog *logging.OutputLogger // nil disables output-log writes
	WakeUp    func() error          // signals FD_WAKE_UP_FIFO; errors are warnings only

	Archive Archiver

	Now func() time.Time // injectable clock; defaults to time.Now
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Result summarizes a full Run call (including every burst batch) for the
// exit handler's session summary log.
type Result struct {
	FilesSent  int
	BytesSent  int64
	BurstCount int
}

// Run implements spec.md §4.6 steps 1-12 for the first batch, then the
// §4.7 burst loop: once a batch completes, checkBurst decides whether to
// rebind files_to_send and loop back into the pipeline body (not the
// connect step), stop cleanly, or stop dirty leaving files unsent.
func Run(ctx context.Context, d *Deps, first job.Batch, checkBurst BurstChecker) (Result, *errs.Error) {
	var total Result
	batch := first

	firstBatchEver := true
	for {
		res, runErr := runBatch(ctx, d, batch, firstBatchEver)
		total.FilesSent += res.FilesSent
		total.BytesSent += res.BytesSent
		firstBatchEver = false

		if runErr != nil {
			return total, runErr
		}

		decision, next := checkBurst()
		switch decision {
		case BurstContinue:
			total.BurstCount++
			batch = next
			continue
		case BurstStopClean:
			return total, nil
		default:
			return total, errs.New(errs.StillFilesToSend, fmt.Errorf("burst checker declined continuation"))
		}
	}
}

// runBatch sends every file in batch over the already-connected session,
// implementing spec.md §4.6 steps 1-12.
func runBatch(ctx context.Context, d *Deps, batch job.Batch, firstBatchEver bool) (Result, *errs.Error) {
	var res Result

	if len(batch.Files) == 0 {
		// spec.md §8 boundary: an empty batch still removes file_path and
		// exits cleanly.
		if err := job.RemoveEmptyBatchDir(batch.Dir); err != nil {
			d.Logger.Warn("removing empty batch directory failed", "dir", batch.Dir, "error", err)
		}
		return res, nil
	}

	if firstBatchEver {
		if err := d.withCON(func() error {
			if err := d.mutateOwnSlot(func(s *fsa.JobStatusSlot) {
				s.ConnectStatus = fsa.HTTPActive
				s.NoOfFiles = len(batch.Files)
			}); err != nil {
				return err
			}
			return d.bumpConnections(1)
		}); err != nil {
			d.Logger.Warn("FSA CON update failed", "error", err)
		}
	}

	var errorReset bool // fires once per batch, on its first successful send

	for i, fr := range batch.Files {
		n, sendErr := sendOne(ctx, d, batch.Dir, fr, i == 0 && firstBatchEver)
		res.BytesSent += n
		if sendErr != nil {
			return res, sendErr
		}
		res.FilesSent++

		if !errorReset {
			errorReset = true
			d.resetErrorCounterIfNeeded()
		}
	}

	if err := job.RemoveEmptyBatchDir(batch.Dir); err != nil {
		d.Logger.Warn("removing empty batch directory failed", "dir", batch.Dir, "error", err)
	}

	if d.WakeUp != nil {
		if err := d.WakeUp(); err != nil {
			d.Logger.Warn("waking up scheduler failed", "error", err)
		}
	}

	return res, nil
}

// sendOne implements one file's worth of spec.md §4.6 steps 2-11.
func sendOne(ctx context.Context, d *Deps, dir string, fr job.FileRecord, firstInBurst bool) (int64, *errs.Error) {
	j := d.Job

	// Re-stat immediately before committing to a Content-Length: a file
	// that grew between ScanBatch and now is caught here so the advertised
	// length matches what will actually be streamed, rather than relying
	// solely on the mid-stream growth extension below to cover it.
	if grown, statErr := job.Restat(dir, fr.Name); statErr == nil && grown > fr.Size {
		fr.Size = grown
	}

	d.mutateOwnSlot(func(s *fsa.JobStatusSlot) {
		s.FileSizeInUse = fr.Size
		s.FileNameInUse = fr.Name
	})

	env, seqUsed := buildEnvelope(d, j, fr)
	wireLen := fr.Size
	if j.Flags.FileNameIsHeader {
		// spec.md §4.2: "content-length is the final on-the-wire size
		// (including any framing added by the core)" — TotalLength() is
		// only the 8-digit length field's own value (spec.md §8 invariant
		// 4), which deliberately excludes the 10-byte length+type prefix
		// that appendPrefix still writes onto the wire ahead of it.
		wireLen = int64(framing.PrefixWidth) + env.TotalLength()
	}

	if err := d.Session.PutBegin(j.User, j.Password, j.TargetPath, fr.Name, wireLen, firstInBurst); err != nil {
		return 0, errs.New(errs.OpenRemoteError, err)
	}

	f, err := os.Open(dir + "/" + fr.Name)
	if err != nil {
		return 0, errs.New(errs.OpenLocalError, err)
	}
	defer f.Close()

	transferStart := d.now()
	bytesSent, streamErr := stream(ctx, d, f, dir, fr, env, j, seqUsed)
	if streamErr != nil {
		return bytesSent, streamErr
	}

	if err := d.Session.PutFinalize(); err != nil {
		return bytesSent, errs.New(errs.OpenRemoteError, err)
	}

	d.mutateOwnSlot(func(s *fsa.JobStatusSlot) {
		s.NoOfFilesDone++
		s.FileSizeInUse = 0
		s.FileSizeInUseDone = 0
		s.FileSizeDone += bytesSent
		s.BytesSend += bytesSent
	})

	archiveName, archErr := postSend(d, dir, fr)
	if archErr != nil {
		d.Logger.Warn("post-send archive/delete failed", "file", fr.Name, "error", archErr)
	}
	if d.OutputLog != nil {
		rec := logging.OutputRecord{
			FileSize:          bytesSent,
			JobID:             j.JobID,
			UniqueNameLength:  int32(len(j.UniqueTag)),
			TransferTimeTicks: clockTicks(d.now().Sub(transferStart)),
			FileName:          fr.Name,
			ArchiveName:       archiveName,
		}
		if err := d.OutputLog.Write(rec); err != nil {
			d.Logger.Warn("writing output log record failed", "error", err)
		}
	}

	return bytesSent, nil
}

func buildEnvelope(d *Deps, j *job.Job, fr job.FileRecord) (framing.Envelope, bool) {
	if !j.Flags.FileNameIsHeader {
		return framing.Envelope{}, false
	}

	tag, err := framing.TypeTag(j.Mode)
	if err != nil {
		d.Logger.Warn("unknown transfer mode for framing, disabling envelope", "error", err)
		return framing.Envelope{}, false
	}

	env := framing.Envelope{
		TypeTag:  tag,
		Header:   framing.DeriveHeader(fr.Name),
		FileSize: fr.Size,
	}

	if j.Flags.AddSequenceNumber && d.Sequencer != nil && !d.Sequencer.Closed() {
		seq, err := d.Sequencer.Next()
		if err != nil {
			d.Logger.Warn("WMO counter exhausted, continuing without sequence prefix", "error", err)
		} else {
			env.Sequence = &seq
			return env, true
		}
	}

	return env, false
}

// stream implements spec.md §4.6 steps 5-8: the framing prefix, the main
// block-by-block write loop with rate limiting and the timeout-transfer
// deadline check, the trailing partial block, and the single re-stat
// growth extension.
func stream(ctx context.Context, d *Deps, f *os.File, dir string, fr job.FileRecord, env framing.Envelope, j *job.Job, seqUsed bool) (int64, *errs.Error) {
	limiter := ratelimit.Init(j.TrlPerProcess)
	blockSize := ratelimit.EffectiveBlockSize(j.TrlPerProcess, j.BlockSize)
	if blockSize <= 0 {
		blockSize = 1 << 16
	}

	start := d.now()
	var sent int64

	if j.Flags.FileNameIsHeader {
		var prefixBuf []byte
		prefixBuf = appendPrefix(prefixBuf, env)
		if _, err := d.Session.Write(prefixBuf); err != nil {
			return sent, errs.New(errs.WriteRemoteError, err)
		}
		if err := limiter.Limit(len(prefixBuf)); err != nil {
			return sent, errs.New(errs.WriteRemoteError, err)
		}
	}

	remaining := fr.Size
	buf := make([]byte, blockSize)
	for remaining > 0 {
		if j.Flags.TimeoutTransfer && j.TransferTimeout > 0 {
			elapsed := d.now().Sub(start)
			if elapsed < 0 {
				// Wall clock went backwards: reset the deadline window.
				start = d.now()
			} else if elapsed > j.TransferTimeout {
				return sent, errs.New(errs.StillFilesToSend, fmt.Errorf("transfer timeout exceeded after %v", elapsed))
			}
		}

		chunk := int64(len(buf))
		if chunk > remaining {
			chunk = remaining
		}
		n, err := f.Read(buf[:chunk])
		if n > 0 {
			if _, werr := d.Session.Write(buf[:n]); werr != nil {
				return sent, errs.New(errs.WriteRemoteError, werr)
			}
			if lerr := limiter.Limit(n); lerr != nil {
				return sent, errs.New(errs.WriteRemoteError, lerr)
			}
			sent += int64(n)
			remaining -= int64(n)
			d.mutateOwnSlot(func(s *fsa.JobStatusSlot) {
				s.FileSizeInUseDone += int64(n)
			})
		}
		if err != nil {
			return sent, errs.New(errs.ReadLocalError, err)
		}
	}

	// spec.md §4.6 step 8: single re-stat pass for files that grew during
	// send. Only ever one extension attempt, per spec.md §9's "single
	// re-stat policy" open question: repeated growth is not handled.
	if grown, statErr := job.Restat(dir, fr.Name); statErr == nil && grown > fr.Size {
		delta := grown - fr.Size
		if j.Flags.SilentNotLockedFile {
			d.Logger.Debug("file grew during send, sending delta", "file", fr.Name, "delta", delta)
		} else {
			d.Logger.Warn("file grew during send, sending delta", "file", fr.Name, "delta", delta)
		}

		for delta > 0 {
			chunk := int64(len(buf))
			if chunk > delta {
				chunk = delta
			}
			n, err := f.Read(buf[:chunk])
			if n > 0 {
				if _, werr := d.Session.Write(buf[:n]); werr != nil {
					return sent, errs.New(errs.WriteRemoteError, werr)
				}
				if lerr := limiter.Limit(n); lerr != nil {
					return sent, errs.New(errs.WriteRemoteError, lerr)
				}
				sent += int64(n)
				delta -= int64(n)
				d.mutateOwnSlot(func(s *fsa.JobStatusSlot) {
					s.FileSizeInUseDone += int64(n)
				})
			}
			if err != nil {
				return sent, errs.New(errs.ReadLocalError, err)
			}
		}
	}

	if j.Flags.FileNameIsHeader {
		w := &byteSliceWriter{}
		framing.WriteTail(w)
		tailBuf := w.buf
		if _, err := d.Session.Write(tailBuf); err != nil {
			return sent, errs.New(errs.WriteRemoteError, err)
		}
		if err := limiter.Limit(len(tailBuf)); err != nil {
			return sent, errs.New(errs.WriteRemoteError, err)
		}
	}

	return sent, nil
}

func appendPrefix(buf []byte, env framing.Envelope) []byte {
	w := &byteSliceWriter{buf: buf}
	framing.WritePrefix(w, env)
	framing.WriteHead(w, env)
	return w.buf
}

type byteSliceWriter struct{ buf []byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// clockTicksPerSecond stands in for the source's sysconf(_SC_CLK_TCK),
// which is 100 on every Linux platform AFD ships on.
const clockTicksPerSecond = 100

// clockTicks converts a wall-clock duration into the output-log record's
// transfer-time unit (spec.md §6's "transfer-time ticks").
func clockTicks(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d.Seconds() * clockTicksPerSecond)
}

func postSend(d *Deps, dir string, fr job.FileRecord) (string, error) {
	if d.Archive == nil {
		return "", unlinkWithRetry(dir, fr.Name)
	}
	return d.Archive(dir, fr.Name, d.Job.ArchiveTime)
}

// maxUnlinkRetries and unlinkRetryDelay implement spec.md §4.6 step 11 /
// §8's "unlink-EBUSY" boundary: up to twenty 100ms attempts before giving
// up and logging a warning, grounded on the teacher's backoff-retry shape
// in internal/agent/dispatcher.go (fixed attempt ceiling, no reconnection
// needed here since the resource in contention is a local file, not a
// stream).
const (
	maxUnlinkRetries = 20
	unlinkRetryDelay = 100 * time.Millisecond
)

func unlinkWithRetry(dir, name string) error {
	path := dir + "/" + name
	var lastErr error
	for attempt := 0; attempt < maxUnlinkRetries; attempt++ {
		err := os.Remove(path)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, unix.EBUSY) {
			return err
		}
		time.Sleep(unlinkRetryDelay)
	}
	return fmt.Errorf("unlink %q still busy after %d retries: %w", path, maxUnlinkRetries, lastErr)
}

// resetErrorCounterIfNeeded implements spec.md §4.6 step 12's "first
// successful send after a prior error" handling. Every write here is
// scoped to exactly the field(s) its region lock owns: the EC-locked pass
// only ever patches ErrorCounter, ErrorHistory, and (for any slot found
// NOT_WORKING — a cross-slot write spec.md explicitly sanctions under EC)
// that one slot's connect_status word, never a sibling's other fields;
// the HS-locked pass only patches HostStatus and EndEventHandle.
func (d *Deps) resetErrorCounterIfNeeded() {
	if d.FSA == nil {
		return
	}

	var hadErrors bool
	d.withEC(func() error {
		e, err := d.FSA.ReadEntry(d.FSAPos)
		if err != nil {
			return err
		}
		if e.ErrorCounter == 0 {
			return nil
		}
		hadErrors = true

		for i := range e.JobStatus {
			if e.JobStatus[i].ConnectStatus == fsa.NotWorking {
				if err := d.FSA.WriteSlotConnectStatus(d.FSAPos, i, fsa.Disconnect); err != nil {
					return err
				}
			}
		}

		return d.FSA.WriteErrorState(d.FSAPos, 0, [fsa.ErrorHistorySize]int{})
	})

	if hadErrors {
		d.withHS(func() error {
			e, err := d.FSA.ReadEntry(d.FSAPos)
			if err != nil {
				return err
			}
			newStatus := e.HostStatus &^ fsa.FlagEventStatus &^ fsa.FlagAutoPauseQueue
			if err := d.FSA.WriteHostStatus(d.FSAPos, newStatus); err != nil {
				return err
			}
			return d.FSA.WriteEndEventHandle(d.FSAPos, d.now())
		})
	}
}

// mutateOwnSlot applies fn to this worker's own job-status slot and writes
// it back with a single slot-scoped patch (spec.md §5: these fields are
// owned exclusively by this worker's slot, so no region lock is needed —
// no sibling worker ever addresses the same slot index).
func (d *Deps) mutateOwnSlot(fn func(s *fsa.JobStatusSlot)) error {
	if d.FSA == nil {
		return nil
	}
	s, err := d.FSA.ReadSlot(d.FSAPos, d.FSAPos)
	if err != nil {
		return err
	}
	fn(&s)
	return d.FSA.WriteSlot(d.FSAPos, d.FSAPos, s)
}

// bumpConnections adds delta to the CON-region-owned live-connection
// counter via a field-scoped patch (never touches the rest of the row).
func (d *Deps) bumpConnections(delta int) error {
	if d.FSA == nil {
		return nil
	}
	e, err := d.FSA.ReadEntry(d.FSAPos)
	if err != nil {
		return err
	}
	return d.FSA.WriteConnections(d.FSAPos, e.Connections+delta)
}

func (d *Deps) withCON(fn func() error) error { return d.withRegion(fsa.RegionCON, fn) }
func (d *Deps) withEC(fn func() error) error  { return d.withRegion(fsa.RegionEC, fn) }
func (d *Deps) withHS(fn func() error) error  { return d.withRegion(fsa.RegionHS, fn) }

func (d *Deps) withRegion(r fsa.Region, fn func() error) error {
	if d.FSA == nil {
		return fn()
	}
	return d.FSA.WithRegion(d.FSAPos, r, fn)
}
