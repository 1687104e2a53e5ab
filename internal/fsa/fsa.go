// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fsa implements the worker's view of the Filetransfer Status
// Area: a shared, file-backed table of per-host transfer status, attached
// read/write by every sibling worker process and mutated under advisory
// byte-range locks in the fixed CON -> EC -> HS order (spec.md §5).
//
// The real AFD maps this structure with mmap(2); sf_http follows the same
// shape (a fixed-layout region per host alias, opened once and kept for
// the worker's lifetime) but drives it through pread/pwrite-style typed
// accessors rather than raw pointer arithmetic, since Go has no portable
// struct-over-mmap idiom as clean as C's. The advisory locking itself
// (flock-style byte ranges) is real: internal/fsa/lock.go wraps
// golang.org/x/sys/unix, the same module the teacher repo already carries
// transitively (via gopsutil).
package fsa

import (
	"time"
)

// HostStatusFlag is a bitmask on the FSA entry's host status word, per
// spec.md §3; the event-status flag is one of its bits.
type HostStatusFlag uint32

const (
	FlagEventStatus HostStatusFlag = 1 << iota
	FlagAutoPauseQueue
	FlagErrorOffline
	FlagErrorOfflineStatic
	FlagErrorQueueSet
	FlagActionSuccess
	FlagStoreIP
	// FlagFaultyVar is IS_FAULTY_VAR from spec.md §7: a sentinel set on the
	// host status word by the exit handler's crash path (SIGSEGV/SIGBUS),
	// not an exit code itself.
	FlagFaultyVar
)

// ConnectStatus is a job slot's connection state.
type ConnectStatus int

const (
	Disconnect ConnectStatus = iota
	Connecting
	HTTPActive
	NotWorking
)

// ErrorHistorySize is the length of the error-history ring, matching the
// "clear error history[0..1]" wording in spec.md §4.6 step 12 — two most
// recent error codes are retained.
const ErrorHistorySize = 2

// JobStatusSlot is one of an alias's allowed_transfers job slots.
type JobStatusSlot struct {
	ConnectStatus      ConnectStatus
	NoOfFiles          int
	NoOfFilesDone      int
	FileSizeDone       int64
	FileSizeInUse      int64
	FileSizeInUseDone  int64
	BytesSend          int64
	FileNameInUse      string
	JobID              uint32
	UniqueName         [8]byte // [2] carries the "SIGINT == SUCCESS" shutdown marker (spec.md §5)
}

// Entry is one host alias's FSA row.
type Entry struct {
	RealHostname1 string
	RealHostname2 string

	ProtocolOptions uint32 // TCP keepalive, timeout-transfer, TLS-strict, keep-connected-disconnect
	HostStatus      HostStatusFlag

	HostToggle int // 0 = primary, 1 = secondary — mirrors job.HostToggle

	AllowedTransfers int
	Connections      int // live connect count; incremented on connect, released by the exit handler (spec.md §5)
	ErrorCounter     int
	ErrorHistory     [ErrorHistorySize]int

	StartEventHandle time.Time
	EndEventHandle   time.Time

	StoredIP string // pinned resolved address, when FlagStoreIP is set

	JobStatus []JobStatusSlot // len == AllowedTransfers
}

// NewEntry builds a zeroed Entry with allowedTransfers slots, used by
// tests and as the in-memory shape behind View.
func NewEntry(allowedTransfers int) *Entry {
	return &Entry{
		AllowedTransfers: allowedTransfers,
		JobStatus:        make([]JobStatusSlot, allowedTransfers),
	}
}

// Invariant checks (spec.md §3), exposed for tests and for defensive
// assertions at suspicious call sites (not on every mutation — that would
// contradict the "no lock for slot-private fields" ordering rule).

// NoOfFilesDoneValid reports whether slot i satisfies
// no_of_files_done <= no_of_files.
func (e *Entry) NoOfFilesDoneValid(i int) bool {
	s := e.JobStatus[i]
	return s.NoOfFilesDone <= s.NoOfFiles
}

// FileSizeInUseValid reports whether slot i satisfies
// file_size_in_use_done <= file_size_in_use.
func (e *Entry) FileSizeInUseValid(i int) bool {
	s := e.JobStatus[i]
	return s.FileSizeInUseDone <= s.FileSizeInUse
}

// ErrorCounterConsistent reports whether error_counter == 0 implies no
// slot in this alias is NotWorking.
func (e *Entry) ErrorCounterConsistent() bool {
	if e.ErrorCounter != 0 {
		return true
	}
	for _, s := range e.JobStatus {
		if s.ConnectStatus == NotWorking {
			return false
		}
	}
	return true
}
