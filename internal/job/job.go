// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package job implements the sf_http Job Descriptor: immutable per-run
// config parsed from CLI arguments plus the message file, and the batch of
// file records the worker is asked to deliver.
package job

import "time"

// TransferMode selects how the job's payload is framed on the wire.
type TransferMode int

const (
	ModeBinary TransferMode = iota
	ModeASCII
	ModeFax
)

// TLSMode controls whether/how TLS is negotiated for the HTTP session.
type TLSMode int

const (
	TLSOff TLSMode = iota
	TLSOpportunistic
	TLSRequiredStrict
)

// Flags mirrors the special per-job behavior toggles from spec.md §3.
type Flags struct {
	FileNameIsHeader    bool // bulletin envelope framing on
	AddSequenceNumber   bool // prefix WMO sequence into the envelope
	SilentNotLockedFile bool // downgrade the "file grew" warning to debug
	ToggleHost          bool // flip host_toggle for this run
	TransRename         bool // rename files on the remote after PUT
	TransRenamePrimary  bool // TRANS_RENAME_PRIMARY_ONLY: suppress rename off-primary
	TransExec           bool // exec a command after a successful send
	DisableArchive      bool // always delete, never archive
	TimeoutTransfer     bool // enforce the per-file wall-clock deadline
	KeepConnectedDisc   bool // KEEP_CONNECTED_DISCONNECT: disconnect deadline governs burst
}

// Job is immutable after Init returns. It carries everything the pipeline
// needs to drive one run: connection parameters, target path, transfer
// options, timing windows, and FSA coordinates.
type Job struct {
	// Host identity
	HostAlias       string
	PrimaryHost     string
	SecondaryHost   string
	ResolvedHost    string // the real hostname chosen for this run (§4.1)
	UsedSecondary   bool
	Port            int
	User            string
	Password        string
	Proxy           string // optional proxy "host:port"

	// Target
	TargetPath string // URL path on the remote

	// Transfer behavior
	Mode         TransferMode
	BlockSize    int
	SndBufHint   int
	RcvBufHint   int
	TLS          TLSMode

	// Archive / lifecycle
	ArchiveTime       time.Duration // 0 = delete after send
	KeepConnected     time.Duration // burst reuse window
	DisconnectDeadline time.Duration
	TransferTimeout   time.Duration // per-file wall-clock deadline (Flags.TimeoutTransfer)
	TrlPerProcess     int           // byte/s cap for internal/ratelimit; 0 = unlimited

	Flags Flags

	// Correlation / bookkeeping
	UniqueTag string
	JobID     uint32

	// FSA coordinates
	FSAID  string
	FSAPos int

	// CLI-derived
	WorkDir    string
	JobNumber  int
	MsgName    string
	AgeLimit   time.Duration
	DisableArchiveFlag bool
	RetryCount int
	ResendFromArchive  bool
	TempToggle bool

	nextToggle HostToggle
}

// FileRecord is one file in a batch: name (bounded), size, and mtime, per
// spec.md §3.
type FileRecord struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// MaxFileNameLength bounds FileRecord.Name; names longer than this are
// rejected by the scanner rather than silently truncated.
const MaxFileNameLength = 256

// Batch is an ordered sequence of file records plus the source directory
// they live in.
type Batch struct {
	Dir   string
	Files []FileRecord
}

// TotalSize sums the batch's file sizes.
func (b Batch) TotalSize() int64 {
	var total int64
	for _, f := range b.Files {
		total += f.Size
	}
	return total
}
