// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package job

import (
	"fmt"
	"path/filepath"
)

// Init builds a Job from parsed CLI args plus the message file named by
// those args, resolving the active host per spec.md §4.1. currentToggle is
// the host_toggle value read from the FSA entry before this run started.
//
// Any unreadable or structurally invalid input returns an error; the
// caller (cmd/sf_http) maps that to INIT_ERROR.
func Init(args *CLIArgs, currentToggle HostToggle) (*Job, error) {
	msgPath := filepath.Join(args.WorkDir, "files", "incoming", args.MsgName)
	mf, err := ParseMessageFile(msgPath)
	if err != nil {
		return nil, fmt.Errorf("reading message file: %w", err)
	}

	flags := Flags{
		FileNameIsHeader:    mf.OptionBool("file_name_is_header"),
		AddSequenceNumber:   mf.OptionBool("sequence_number"),
		SilentNotLockedFile: mf.OptionBool("silent_not_locked_file"),
		ToggleHost:          mf.OptionBool("toggle_host") || args.TempToggle,
		TransRename:         mf.OptionBool("trans_rename"),
		TransRenamePrimary:  mf.OptionBool("trans_rename_primary_only"),
		TransExec:           mf.OptionBool("trans_exec"),
		DisableArchive:      args.DisableArchive || mf.OptionBool("no_archive"),
		TimeoutTransfer:     mf.OptionBool("timeout_transfer"),
		KeepConnectedDisc:   mf.OptionBool("keep_connected_disconnect"),
	}

	resolvedHost, nextToggle, usedSecondary := ResolveHost(mf.Host, mf.OptionString("secondary_host", ""), currentToggle, flags.ToggleHost)
	flags = ApplyTransRenameSuppression(flags, usedSecondary)

	mode := ModeBinary
	switch mf.OptionString("mode", "binary") {
	case "ascii":
		mode = ModeASCII
	case "fax":
		mode = ModeFax
	}

	tlsMode := TLSOff
	switch mf.Scheme {
	case "https":
		tlsMode = TLSRequiredStrict
	default:
		if mf.OptionBool("tls_opportunistic") {
			tlsMode = TLSOpportunistic
		}
	}

	archiveTime := mf.OptionDuration("archive_time", 0)
	if flags.DisableArchive {
		archiveTime = 0
	}

	j := &Job{
		HostAlias:          args.FSAID,
		PrimaryHost:        mf.Host,
		SecondaryHost:      mf.OptionString("secondary_host", ""),
		ResolvedHost:       resolvedHost,
		UsedSecondary:      usedSecondary,
		Port:               mf.Port,
		User:               mf.User,
		Password:           mf.Password,
		Proxy:              mf.OptionString("proxy", ""),
		TargetPath:         mf.URLPath,
		Mode:               mode,
		BlockSize:          mf.OptionInt("block_size", 1<<16),
		SndBufHint:         mf.OptionInt("sndbuf", 0),
		RcvBufHint:         mf.OptionInt("rcvbuf", 0),
		TLS:                tlsMode,
		ArchiveTime:        archiveTime,
		KeepConnected:      mf.OptionDuration("keep_connected", 0),
		DisconnectDeadline: mf.OptionDuration("disconnect", 0),
		TransferTimeout:    mf.OptionDuration("transfer_timeout", 0),
		TrlPerProcess:      mf.OptionInt("trl_per_process", 0),
		Flags:              flags,
		UniqueTag:          fmt.Sprintf("%s-%d", args.FSAID, args.JobNo),
		JobID:              uint32(args.JobNo),
		FSAID:              args.FSAID,
		FSAPos:             args.FSAPos,
		WorkDir:            args.WorkDir,
		JobNumber:          args.JobNo,
		MsgName:            args.MsgName,
		AgeLimit:           args.AgeLimit,
		DisableArchiveFlag: args.DisableArchive,
		RetryCount:         args.RetryCount,
		ResendFromArchive:  args.ResendFromArchive,
		TempToggle:         args.TempToggle,
	}

	j.nextToggle = nextToggle

	return j, nil
}

// NextToggle returns the host_toggle value the caller should persist back
// into the FSA entry after this run, per spec.md §4.1. It is held in Job's
// unexported nextToggle field so it does not read as part of the exported
// per-run descriptor.
func (j *Job) NextToggle() HostToggle { return j.nextToggle }
