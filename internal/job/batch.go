// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package job

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ScanBatch lists the regular files directly inside dir (the AFD batch
// directory, spec.md §6's <work_dir>/filedir/<job_path>) and returns them
// as a Batch, sorted by name for a deterministic send order. Unlike the
// teacher's recursive Scanner, AFD batch directories are flat — one level,
// no subdirectories to walk.
func ScanBatch(dir string) (Batch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Batch{}, fmt.Errorf("reading batch directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	files := make([]FileRecord, 0, len(names))
	for _, name := range names {
		if len(name) > MaxFileNameLength {
			return Batch{}, fmt.Errorf("file name %q exceeds %d bytes", name, MaxFileNameLength)
		}
		info, statErr := os.Stat(filepath.Join(dir, name))
		if statErr != nil {
			// Transient: file may have been picked up by a peer or removed
			// between ReadDir and Stat. Skip rather than fail the batch.
			continue
		}
		files = append(files, FileRecord{
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return Batch{Dir: dir, Files: files}, nil
}

// Restat re-reads a single file's current size, used by the pipeline's
// "file grew during send" re-stat check (spec.md §4.6 step 8).
func Restat(dir, name string) (int64, error) {
	info, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// RemoveEmptyBatchDir removes dir once every file has been sent, matching
// spec.md §8's "Empty batch still removes file_path and exits cleanly."
func RemoveEmptyBatchDir(dir string) error {
	return os.Remove(dir)
}
