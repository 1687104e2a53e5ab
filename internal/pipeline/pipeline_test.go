// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openafd/sf-http/internal/errs"
	"github.com/openafd/sf-http/internal/fsa"
	"github.com/openafd/sf-http/internal/job"
)

// fakeSession records everything written to it, standing in for
// *httpsession.Session the way internal/fsa's tests stand in a temp-file
// View for a real mmap'd FSA.
type fakeSession struct {
	begins []fakeBegin
	writes [][]byte
	quit   bool
}

type fakeBegin struct {
	user, password, targetDir, filename string
	contentLength                       int64
	firstInBurst                        bool
}

func (s *fakeSession) PutBegin(user, password, targetDir, filename string, contentLength int64, firstInBurst bool) error {
	s.begins = append(s.begins, fakeBegin{user, password, targetDir, filename, contentLength, firstInBurst})
	return nil
}

func (s *fakeSession) Write(buf []byte) (int, error) {
	cp := append([]byte(nil), buf...)
	s.writes = append(s.writes, cp)
	return len(buf), nil
}

func (s *fakeSession) PutFinalize() error { return nil }

func (s *fakeSession) all() []byte {
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

// fakeSequencer hands out a fixed sequence of counter values, grounded on
// the contract internal/counter.Sequencer exposes (Next/Closed).
type fakeSequencer struct {
	values []int
	pos    int
}

func (s *fakeSequencer) Next() (int, error) {
	v := s.values[s.pos]
	s.pos++
	return v, nil
}

func (s *fakeSequencer) Closed() bool { return s.pos >= len(s.values) }

func writeBatchFile(t *testing.T, dir, name, content string) job.FileRecord {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing batch file %s: %v", name, err)
	}
	return job.FileRecord{Name: name, Size: int64(len(content)), ModTime: time.Now()}
}

func newTestFSA(t *testing.T) (*fsa.View, int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fsa.dat")
	v, err := fsa.Open(path)
	if err != nil {
		t.Fatalf("fsa.Open: %v", err)
	}
	t.Cleanup(func() { v.Close() })

	e := fsa.NewEntry(4)
	if err := v.WriteEntry(0, e); err != nil {
		t.Fatalf("seeding fsa entry: %v", err)
	}
	return v, 0
}

func baseJob() *job.Job {
	return &job.Job{
		HostAlias:  "mirror-a",
		User:       "afduser",
		Password:   "afdpass",
		TargetPath: "/incoming",
		Mode:       job.ModeBinary,
		BlockSize:  1 << 16,
		JobID:      42,
		UniqueTag:  "unique01",
	}
}

// Scenario 1 (spec.md §8): a single plain file, framing off, sent whole
// with the exact content length PUT_BEGIN expects.
func TestRunSingleFilePlainSend(t *testing.T) {
	dir := t.TempDir()
	fr := writeBatchFile(t, dir, "PLAIN.DAT", "hello world")
	batch := job.Batch{Dir: dir, Files: []job.FileRecord{fr}}

	view, pos := newTestFSA(t)
	sess := &fakeSession{}
	j := baseJob()
	j.FSAPos = pos

	deps := &Deps{
		Job:     j,
		FSA:     view,
		FSAPos:  pos,
		Session: sess,
	}

	result, runErr := Run(t.Context(), deps, batch, func() (BurstDecision, job.Batch) {
		return BurstStopClean, job.Batch{}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if result.FilesSent != 1 || result.BytesSent != int64(len("hello world")) {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(sess.begins) != 1 || sess.begins[0].contentLength != int64(len("hello world")) {
		t.Fatalf("PutBegin content length mismatch: %+v", sess.begins)
	}
	if string(sess.all()) != "hello world" {
		t.Fatalf("wire bytes = %q, want plain file content", sess.all())
	}

	e, err := view.ReadEntry(pos)
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if e.JobStatus[pos].NoOfFilesDone != 1 {
		t.Fatalf("NoOfFilesDone = %d, want 1", e.JobStatus[pos].NoOfFilesDone)
	}
	if e.Connections != 1 {
		t.Fatalf("Connections = %d, want 1 (released only by the worker exit handler)", e.Connections)
	}
}

// Scenario 2 (spec.md §8): framing on with an active WMO counter produces
// the exact prefix/header/sequence/tail byte layout around the payload.
func TestRunFramingOnWithSequence(t *testing.T) {
	dir := t.TempDir()
	fr := writeBatchFile(t, dir, "DATA_FILE.BIN", "ABCDE")
	batch := job.Batch{Dir: dir, Files: []job.FileRecord{fr}}

	view, pos := newTestFSA(t)
	sess := &fakeSession{}
	j := baseJob()
	j.FSAPos = pos
	j.Flags.FileNameIsHeader = true
	j.Flags.AddSequenceNumber = true

	deps := &Deps{
		Job:       j,
		FSA:       view,
		FSAPos:    pos,
		Session:   sess,
		Sequencer: &fakeSequencer{values: []int{7}},
	}

	result, runErr := Run(t.Context(), deps, batch, func() (BurstDecision, job.Batch) {
		return BurstStopClean, job.Batch{}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if result.FilesSent != 1 {
		t.Fatalf("FilesSent = %d, want 1", result.FilesSent)
	}

	wire := sess.all()
	// 10-byte length+type prefix, then SOH CR CR LF, then the 3-digit
	// sequence and its CR CR LF terminator, per spec.md §4.4.
	if len(wire) < 10 {
		t.Fatalf("wire too short for bulletin prefix: %q", wire)
	}
	prefix := string(wire[:8])
	for _, c := range prefix {
		if c < '0' || c > '9' {
			t.Fatalf("length prefix %q is not 8 ASCII digits", prefix)
		}
	}
	if wire[8] != 'B' || wire[9] != 'I' {
		t.Fatalf("type tag = %q, want BI for ModeBinary", wire[8:10])
	}
	if wire[10] != 0x01 { // SOH
		t.Fatalf("expected SOH at offset 10, got %x", wire[10])
	}
	if !contains(wire, "007") {
		t.Fatalf("wire bytes missing 3-digit sequence 007: %q", wire)
	}
	if !contains(wire, "ABCDE") {
		t.Fatalf("wire bytes missing file payload: %q", wire)
	}
	if wire[len(wire)-1] != 0x03 { // ETX
		t.Fatalf("expected ETX as last byte, got %x", wire[len(wire)-1])
	}

	// spec.md §4.2/§6: Content-Length must equal the actual on-the-wire
	// size, including the 10-byte length+type prefix itself.
	if len(sess.begins) != 1 {
		t.Fatalf("expected 1 PutBegin call, got %d", len(sess.begins))
	}
	if got, want := sess.begins[0].contentLength, int64(len(wire)); got != want {
		t.Fatalf("PutBegin contentLength = %d, want %d (len(wire))", got, want)
	}
}

func contains(b []byte, s string) bool {
	return len(b) >= len(s) && indexOf(b, s) >= 0
}

func indexOf(b []byte, s string) int {
	for i := 0; i+len(s) <= len(b); i++ {
		if string(b[i:i+len(s)]) == s {
			return i
		}
	}
	return -1
}

// Scenario (spec.md §8): a per-file wall-clock deadline exceeded mid-send
// surfaces as STILL_FILES_TO_SEND, not a generic write error.
func TestRunTransferTimeoutExceeded(t *testing.T) {
	dir := t.TempDir()
	fr := writeBatchFile(t, dir, "SLOW.DAT", "xyz")
	batch := job.Batch{Dir: dir, Files: []job.FileRecord{fr}}

	view, pos := newTestFSA(t)
	sess := &fakeSession{}
	j := baseJob()
	j.FSAPos = pos
	j.Flags.TimeoutTransfer = true
	j.TransferTimeout = 1 * time.Nanosecond
	j.BlockSize = 1 // force at least one loop iteration to observe the elapsed check

	// Now advances by an hour on every call, so the first deadline check in
	// the send loop already sees the deadline passed, without sleeping in
	// the test.
	calls := 0
	deps := &Deps{
		Job:     j,
		FSA:     view,
		FSAPos:  pos,
		Session: sess,
		Now: func() time.Time {
			calls++
			return time.Unix(0, 0).Add(time.Duration(calls) * time.Hour)
		},
	}

	_, runErr := Run(t.Context(), deps, batch, func() (BurstDecision, job.Batch) {
		return BurstStopClean, job.Batch{}
	})
	if runErr == nil {
		t.Fatalf("Run: expected timeout error, got nil")
	}
	if runErr.Code != errs.StillFilesToSend {
		t.Fatalf("Code = %v, want StillFilesToSend", runErr.Code)
	}
}

// Scenario (spec.md §4.7): a burst checker allowing one more batch on the
// same connection increments BurstCount and does not re-run PutBegin's
// firstInBurst flag for the continued batch.
func TestRunBurstContinuation(t *testing.T) {
	dir := t.TempDir()
	fr1 := writeBatchFile(t, dir, "ONE.DAT", "111")
	batch1 := job.Batch{Dir: dir, Files: []job.FileRecord{fr1}}

	dir2 := t.TempDir()
	fr2 := writeBatchFile(t, dir2, "TWO.DAT", "222222")
	batch2 := job.Batch{Dir: dir2, Files: []job.FileRecord{fr2}}

	view, pos := newTestFSA(t)
	sess := &fakeSession{}
	j := baseJob()
	j.FSAPos = pos

	deps := &Deps{
		Job:     j,
		FSA:     view,
		FSAPos:  pos,
		Session: sess,
	}

	calls := 0
	result, runErr := Run(t.Context(), deps, batch1, func() (BurstDecision, job.Batch) {
		calls++
		if calls == 1 {
			return BurstContinue, batch2
		}
		return BurstStopClean, job.Batch{}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if result.BurstCount != 1 {
		t.Fatalf("BurstCount = %d, want 1", result.BurstCount)
	}
	if result.FilesSent != 2 || result.BytesSent != 9 {
		t.Fatalf("unexpected totals: %+v", result)
	}
	if len(sess.begins) != 2 {
		t.Fatalf("expected 2 PutBegin calls, got %d", len(sess.begins))
	}
	if !sess.begins[0].firstInBurst {
		t.Fatalf("first file of first batch should be firstInBurst")
	}
	if sess.begins[1].firstInBurst {
		t.Fatalf("first file of the continued batch must not be firstInBurst")
	}

	e, err := view.ReadEntry(pos)
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if e.Connections != 1 {
		t.Fatalf("Connections = %d, want 1 (one connect for both batches)", e.Connections)
	}
}

// Scenario (spec.md §4.6 step 12): the first successful send of a run
// clears a previously non-zero error counter and flips a sibling's
// NOT_WORKING slot to DISCONNECT.
func TestRunResetsErrorCounterOnFirstSuccess(t *testing.T) {
	dir := t.TempDir()
	fr := writeBatchFile(t, dir, "OK.DAT", "ok")
	batch := job.Batch{Dir: dir, Files: []job.FileRecord{fr}}

	view, pos := newTestFSA(t)
	e, err := view.ReadEntry(pos)
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	e.ErrorCounter = 3
	e.ErrorHistory[0] = 99
	peer := pos + 1
	e.JobStatus[peer].ConnectStatus = fsa.NotWorking
	e.HostStatus |= fsa.FlagEventStatus | fsa.FlagAutoPauseQueue
	if err := view.WriteEntry(pos, e); err != nil {
		t.Fatalf("seeding error state: %v", err)
	}

	sess := &fakeSession{}
	j := baseJob()
	j.FSAPos = pos
	deps := &Deps{Job: j, FSA: view, FSAPos: pos, Session: sess}

	if _, runErr := Run(t.Context(), deps, batch, func() (BurstDecision, job.Batch) {
		return BurstStopClean, job.Batch{}
	}); runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}

	got, err := view.ReadEntry(pos)
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if got.ErrorCounter != 0 {
		t.Fatalf("ErrorCounter = %d, want 0 after first success", got.ErrorCounter)
	}
	if got.ErrorHistory[0] != 0 {
		t.Fatalf("ErrorHistory not cleared: %+v", got.ErrorHistory)
	}
	if got.JobStatus[peer].ConnectStatus != fsa.Disconnect {
		t.Fatalf("ConnectStatus = %v, want Disconnect", got.JobStatus[peer].ConnectStatus)
	}
	if got.HostStatus&fsa.FlagEventStatus != 0 || got.HostStatus&fsa.FlagAutoPauseQueue != 0 {
		t.Fatalf("expected event-status/auto-pause flags cleared, got %#x", got.HostStatus)
	}
}

// Scenario (spec.md §8): an empty batch removes the batch directory and
// returns success without touching the session.
func TestRunEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	batch := job.Batch{Dir: dir, Files: nil}

	view, pos := newTestFSA(t)
	sess := &fakeSession{}
	j := baseJob()
	j.FSAPos = pos
	deps := &Deps{Job: j, FSA: view, FSAPos: pos, Session: sess}

	result, runErr := Run(t.Context(), deps, batch, func() (BurstDecision, job.Batch) {
		return BurstStopClean, job.Batch{}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if result.FilesSent != 0 {
		t.Fatalf("FilesSent = %d, want 0", result.FilesSent)
	}
	if len(sess.begins) != 0 {
		t.Fatalf("expected no PutBegin calls for an empty batch")
	}
}
