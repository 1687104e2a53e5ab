// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package errs implements the sf_http error taxonomy: one Code per exit
// status, plus the timeout classifier that promotes a socket timeout into
// the retry-eligible variant of whichever error surfaced.
package errs

import "fmt"

// Code is a sum type with one variant per sf_http exit status.
type Code int

const (
	// Success is the zero-value exit code (TRANSFER_SUCCESS alias).
	Success Code = iota
	ConnectError
	OpenRemoteError
	WriteRemoteError
	OpenLocalError
	ReadLocalError
	AllocError
	StillFilesToSend
	GotKilled
	InitError
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case ConnectError:
		return "CONNECT_ERROR"
	case OpenRemoteError:
		return "OPEN_REMOTE_ERROR"
	case WriteRemoteError:
		return "WRITE_REMOTE_ERROR"
	case OpenLocalError:
		return "OPEN_LOCAL_ERROR"
	case ReadLocalError:
		return "READ_LOCAL_ERROR"
	case AllocError:
		return "ALLOC_ERROR"
	case StillFilesToSend:
		return "STILL_FILES_TO_SEND"
	case GotKilled:
		return "GOT_KILLED"
	case InitError:
		return "INIT_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR(%d)", int(c))
	}
}

// ExitStatus maps a Code to the process exit status. Success is 0; every
// other variant gets a distinct nonzero status in declaration order, so
// callers observing exit codes can distinguish failure classes.
func (c Code) ExitStatus() int {
	return int(c)
}

// Error wraps a Code with the underlying cause, implementing the error
// interface so pipeline code can return a single value and have the
// worker's exit handler recover the Code via As/errors.As-style assertion.
type Error struct {
	Code    Code
	Cause   error
	Retry   bool // true if the scheduler should consider this retry-eligible
	Message string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error for the given code wrapping cause.
func New(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// Newf builds an *Error for the given code with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// retryEligible is the set of variants that have a distinct retry-eligible
// reading when the underlying cause was a socket timeout. CONNECT_ERROR is
// already retry-eligible by definition (spec.md §7); WRITE_REMOTE_ERROR and
// OPEN_REMOTE_ERROR gain retry-eligibility only when the cause classifies
// as a timeout.
var retryEligible = map[Code]bool{
	ConnectError: true,
}

// Classify implements the timeout classifier from spec.md §9: a function
// from (variant, timeout) to (variant', exit_code). When timedOut is true,
// the error is marked retry-eligible regardless of its base variant; the
// Code itself never changes shape (sf_http's exit codes are unchanged by
// timeout framing — only the Retry flag, which the scheduler consults, is
// affected).
func Classify(code Code, timedOut bool) *Error {
	e := &Error{Code: code}
	if timedOut {
		e.Retry = true
		return e
	}
	e.Retry = retryEligible[code]
	return e
}
