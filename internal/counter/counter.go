// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package counter implements the WMO bulletin sequence generator from
// spec.md §4.3: a process-crash-safe persistent counter keyed by
// <host_alias>.<port>, shared with sibling workers via an advisory lock
// on a small file. The teacher repo has no direct equivalent, but the
// ecosystem idiom for "crash-safe counter guarded by an advisory lock on
// a small file" is the same golang.org/x/sys/unix flock pattern the
// teacher already carries transitively (via gopsutil); see DESIGN.md.
package counter

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// MaxWMOCounter is the exclusive upper bound of the sequence; Next wraps
// from MaxWMOCounter-1 back to 0.
const MaxWMOCounter = 1000

// Sequencer generates the next()-in-[0,MaxWMOCounter) value for one
// <host_alias>.<port> counter file. Once Close has been called (either
// explicitly or because a Next call failed), the Sequencer is permanently
// dead for the remainder of this worker's run: spec.md §9 resolves the
// "reopen after failure" open question as "never, for this process".
type Sequencer struct {
	f      *os.File
	closed bool
}

// Open opens (creating if absent) the counter file
// <counterDir>/<hostAlias>.<port>. The file holds the current value as
// 3-digit ASCII text; a freshly created file starts at 0.
func Open(counterDir, hostAlias string, port int) (*Sequencer, error) {
	path := filepath.Join(counterDir, fmt.Sprintf("%s.%d", hostAlias, port))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening WMO counter file %s: %w", path, err)
	}
	return &Sequencer{f: f}, nil
}

// Next returns the next sequence value under an advisory write lock on the
// whole file, persisting the incremented (and possibly wrapped) value
// before releasing the lock. If the Sequencer is already closed (a prior
// Next failed, or Close was called), Next returns an error and the caller
// should fall back to framing without a sequence prefix for the rest of
// the run.
func (s *Sequencer) Next() (int, error) {
	if s.closed {
		return 0, fmt.Errorf("counter: sequencer closed")
	}

	lk := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(s.f.Fd(), unix.F_SETLKW, &lk); err != nil {
		s.Close()
		return 0, fmt.Errorf("locking counter file: %w", err)
	}
	defer func() {
		unlk := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: 0, Len: 0}
		unix.FcntlFlock(s.f.Fd(), unix.F_SETLK, &unlk)
	}()

	current, err := s.read()
	if err != nil {
		s.Close()
		return 0, err
	}

	next := current + 1
	if next >= MaxWMOCounter {
		next = 0
	}

	if err := s.write(next); err != nil {
		s.Close()
		return 0, err
	}

	return next, nil
}

func (s *Sequencer) read() (int, error) {
	buf := make([]byte, 3)
	n, err := s.f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		// Empty (freshly created) file: start counting from 0.
		return -1, nil
	}
	v, convErr := strconv.Atoi(string(buf[:n]))
	if convErr != nil {
		return -1, nil
	}
	return v, nil
}

func (s *Sequencer) write(v int) error {
	text := fmt.Sprintf("%03d", v)
	_, err := s.f.WriteAt([]byte(text), 0)
	return err
}

// Close releases the counter file. It is safe to call more than once.
func (s *Sequencer) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

// Closed reports whether this Sequencer is dead for the rest of the run.
func (s *Sequencer) Closed() bool {
	return s.closed
}
