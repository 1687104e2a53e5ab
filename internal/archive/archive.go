// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package archive implements the post-send "archive" path from spec.md
// §4.6 step 11 / §5 ("Archive directory: shared with the archiver;
// archive_file is responsible for its own atomicity (create-if-absent,
// rename into place)"). Modeled directly on the teacher's AtomicWriter in
// internal/server/storage.go: create the destination directory if
// missing, land the file under a temporary name, then os.Rename into its
// final name so a concurrent reader (the archiver, an admin tool) never
// observes a partially-written archive entry.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// Archiver moves sent files out of a batch directory into a per-host-alias
// archive tree, keyed by calendar day so retention (PruneOlderThan) can
// work a directory at a time instead of stat-ing every file.
type Archiver struct {
	baseDir string
}

// New returns an Archiver rooted at baseDir. baseDir is created lazily on
// the first Archive call, not here, since spec.md §4.6 step 11 only
// archives "if ... the archive directory is usable" — an Archiver whose
// root can't be created simply fails each Archive call, letting the
// pipeline fall back to delete-on-error at the call site's discretion.
func New(baseDir string) *Archiver {
	return &Archiver{baseDir: baseDir}
}

// Archive implements the pipeline.Archiver function shape: it moves
// srcDir/name into the archive tree and returns the archive-relative name
// recorded in the output-log (spec.md §6). archiveTime == 0 means the
// caller should not have invoked Archive at all per spec.md step 11 (the
// pipeline wiring only sets this as the active Archiver when
// job.ArchiveTime > 0); Archive itself only cares about moving the file.
func (a *Archiver) Archive(srcDir, name string, archiveTime time.Duration) (string, error) {
	_ = archiveTime

	dayDir := filepath.Join(a.baseDir, time.Now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return "", fmt.Errorf("creating archive directory %s: %w", dayDir, err)
	}

	srcPath := filepath.Join(srcDir, name)
	finalPath := filepath.Join(dayDir, name)

	if err := moveFile(srcPath, finalPath); err != nil {
		return "", fmt.Errorf("archiving %s: %w", name, err)
	}

	rel, err := filepath.Rel(a.baseDir, finalPath)
	if err != nil {
		return finalPath, nil
	}
	return rel, nil
}

// moveFile renames src to dst, falling back to copy-then-remove when
// src/dst straddle filesystems (EXDEV) — os.Rename alone cannot cross
// that boundary, but the batch and archive directories are not guaranteed
// to share a mount in every deployment.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !errors.Is(err, unix.EXDEV) {
		return err
	}

	tmp := dst + ".tmp"
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp archive file into place: %w", err)
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source for archive copy: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating archive temp file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying into archive temp file: %w", err)
	}
	return out.Close()
}

// PruneOlderThan removes per-day archive directories whose calendar date
// is older than archiveTime relative to now, mirroring the teacher's
// Rotate (internal/server/storage.go) retention sweep but keyed by day
// rather than by a fixed backup count, since archive_time in spec.md §3 is
// a duration ("0 = delete after send"), not a count.
func (a *Archiver) PruneOlderThan(archiveTime time.Duration) error {
	if archiveTime <= 0 {
		return nil
	}

	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading archive directory: %w", err)
	}

	var days []string
	for _, e := range entries {
		if e.IsDir() {
			days = append(days, e.Name())
		}
	}
	sort.Strings(days)

	cutoff := time.Now().UTC().Add(-archiveTime)
	for _, day := range days {
		t, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(a.baseDir, day)); err != nil {
				return fmt.Errorf("pruning archive day %s: %w", day, err)
			}
		}
	}
	return nil
}
