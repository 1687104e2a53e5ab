// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package job

import (
	"flag"
	"fmt"
	"time"
)

// CLIArgs is the parsed form of sf_http's command line, per spec.md §6:
//
//	sf_http <work_dir> <job_no> <FSA_id> <FSA_pos> <msg_name> [--version]
//	        [-a <age_limit>] [-A] [-o <retries>] [-r] [-t]
type CLIArgs struct {
	WorkDir  string
	JobNo    int
	FSAID    string
	FSAPos   int
	MsgName  string

	Version            bool
	AgeLimit           time.Duration
	DisableArchive     bool
	RetryCount         int
	ResendFromArchive  bool
	TempToggle         bool
}

// ParseCLI parses argv (excluding the program name, i.e. os.Args[1:]).
// Any malformed input is an INIT_ERROR per spec.md §4.1/§7.
func ParseCLI(argv []string) (*CLIArgs, error) {
	fs := flag.NewFlagSet("sf_http", flag.ContinueOnError)

	version := fs.Bool("version", false, "print version and exit")
	ageLimitSec := fs.Int("a", 0, "age limit in seconds")
	disableArchive := fs.Bool("A", false, "disable archiving, always delete")
	retries := fs.Int("o", 0, "retry count")
	resendFromArchive := fs.Bool("r", false, "resend from archive")
	tempToggle := fs.Bool("t", false, "temporary host toggle for this run")

	if err := fs.Parse(argv); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	args := &CLIArgs{
		Version:           *version,
		AgeLimit:          time.Duration(*ageLimitSec) * time.Second,
		DisableArchive:    *disableArchive,
		RetryCount:        *retries,
		ResendFromArchive: *resendFromArchive,
		TempToggle:        *tempToggle,
	}

	if args.Version {
		return args, nil
	}

	positional := fs.Args()
	if len(positional) < 5 {
		return nil, fmt.Errorf("expected 5 positional arguments (work_dir job_no FSA_id FSA_pos msg_name), got %d", len(positional))
	}

	args.WorkDir = positional[0]

	if _, err := fmt.Sscanf(positional[1], "%d", &args.JobNo); err != nil {
		return nil, fmt.Errorf("invalid job_no %q: %w", positional[1], err)
	}

	args.FSAID = positional[2]

	if _, err := fmt.Sscanf(positional[3], "%d", &args.FSAPos); err != nil {
		return nil, fmt.Errorf("invalid FSA_pos %q: %w", positional[3], err)
	}

	args.MsgName = positional[4]

	return args, nil
}
