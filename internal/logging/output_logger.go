// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"os"
)

// OutputLogger appends OutputRecord frames to the output-log fifo named in
// spec.md §6 (<work_dir>/fifodir/... in the real AFD; here a plain
// append-only file stands in for the fifo, which the archiver/log daemon
// on the other end would otherwise be reading from). Modeled on the
// teacher's NewSessionLogger fan-out idea, but emitting the fixed binary
// layout from spec.md §6 instead of a JSON log line.
type OutputLogger struct {
	w io.WriteCloser
}

// NewOutputLogger opens (creating if absent) the output-log file at path.
func NewOutputLogger(path string) (*OutputLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening output log %s: %w", path, err)
	}
	return &OutputLogger{w: f}, nil
}

// Write appends one OutputRecord.
func (l *OutputLogger) Write(r OutputRecord) error {
	buf, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := l.w.Write(buf); err != nil {
		return fmt.Errorf("writing output log record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *OutputLogger) Close() error {
	return l.w.Close()
}
