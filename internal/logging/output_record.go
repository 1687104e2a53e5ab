// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"encoding/binary"
	"fmt"
)

// SeparatorChar is the single byte separating the trailing file name and
// archive name in an OutputRecord's wire form, per spec.md §6.
const SeparatorChar = 0x1F // ASCII Unit Separator

// outputRecordHeaderSize is the size of OutputRecord's fixed-layout
// portion, before the variable-length name fields.
const outputRecordHeaderSize = 8 + 4 + 4 + 4 + 8 + 4

// OutputRecord is the fixed-layout binary output-log record from spec.md
// §6/§4.6 step 11: written once per file, success or archive-skip alike,
// carrying the file name, size, job id, retries, unique-name length,
// transfer-time ticks, and archive-name length (zero for deletes).
// Grounded on the teacher's explicit wire-frame writer/reader pair
// (internal/protocol/writer.go + reader.go): small fixed-header-plus-
// trailing-strings frames with a MarshalBinary/UnmarshalBinary pair.
type OutputRecord struct {
	FileSize          int64
	JobID             uint32
	Retries           int32
	UniqueNameLength  int32
	TransferTimeTicks int64
	FileName          string
	ArchiveName       string // empty when the file was deleted, not archived
}

// MarshalBinary encodes the record as:
//
//	[FileSize int64][JobID uint32][Retries int32][UniqueNameLength int32]
//	[TransferTimeTicks int64][ArchiveNameLength int32]
//	[FileName bytes][SeparatorChar][ArchiveName bytes]
func (r OutputRecord) MarshalBinary() ([]byte, error) {
	archiveLen := len(r.ArchiveName)
	buf := make([]byte, outputRecordHeaderSize+len(r.FileName)+1+archiveLen)

	off := 0
	binary.BigEndian.PutUint64(buf[off:], uint64(r.FileSize))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], r.JobID)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(r.Retries))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(r.UniqueNameLength))
	off += 4
	binary.BigEndian.PutUint64(buf[off:], uint64(r.TransferTimeTicks))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(archiveLen))
	off += 4

	off += copy(buf[off:], r.FileName)
	buf[off] = SeparatorChar
	off++
	copy(buf[off:], r.ArchiveName)

	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (r *OutputRecord) UnmarshalBinary(data []byte) error {
	if len(data) < outputRecordHeaderSize+1 {
		return fmt.Errorf("output record too short: %d bytes", len(data))
	}

	off := 0
	r.FileSize = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	r.JobID = binary.BigEndian.Uint32(data[off:])
	off += 4
	r.Retries = int32(binary.BigEndian.Uint32(data[off:]))
	off += 4
	r.UniqueNameLength = int32(binary.BigEndian.Uint32(data[off:]))
	off += 4
	r.TransferTimeTicks = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	archiveLen := int(binary.BigEndian.Uint32(data[off:]))
	off += 4

	rest := data[off:]
	sepIdx := -1
	for i, b := range rest {
		if b == SeparatorChar {
			sepIdx = i
			break
		}
	}
	if sepIdx < 0 {
		return fmt.Errorf("output record missing separator byte")
	}

	r.FileName = string(rest[:sepIdx])
	archiveStart := sepIdx + 1
	if archiveStart+archiveLen > len(rest) {
		return fmt.Errorf("output record archive name length %d exceeds remaining bytes", archiveLen)
	}
	r.ArchiveName = string(rest[archiveStart : archiveStart+archiveLen])

	return nil
}
