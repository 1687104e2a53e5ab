// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// WakeUpFIFOPath is the fixed relative path of the scheduler's wake-up
// FIFO under a work directory, per spec.md §6.
const WakeUpFIFOPath = "fifodir/FD_WAKE_UP_FIFO"

// WakeUp implements spec.md §4.6's scheduler signal: open
// <work_dir>/fifodir/FD_WAKE_UP_FIFO for write, write one byte, close.
// Opened O_NONBLOCK so a scheduler that isn't currently reading the FIFO
// never stalls the worker; spec.md §4.6 explicitly calls failures here
// non-fatal warnings, so the caller is expected to log, not abort, on
// error.
func WakeUp(workDir string) error {
	path := filepath.Join(workDir, WakeUpFIFOPath)
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("opening wake-up fifo %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{0}); err != nil {
		return fmt.Errorf("writing wake-up fifo %s: %w", path, err)
	}
	return nil
}
