// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fsa

import (
	"encoding/binary"
	"time"
)

// Fixed-layout sizes for the file-backed entry record. Real AFD FSA rows are a
// fixed C struct; this is the Go analogue — bounded byte arrays instead of
// pointers, so an Entry can be read/written in place without allocation.
const (
	hostnameFieldLen = 64
	ipFieldLen       = 46 // max textual IPv6 length + nul
	fileNameFieldLen = 64

	MaxJobSlots = 16
)

// Byte offsets of each header field within one entry row, and of each field
// within one job-status slot. Both encode/decode (the full-row snapshot
// used by ReadEntry) and the region/slot-scoped patch writers in view.go
// are built from these same constants, so a region-locked or slot-private
// write touches exactly the bytes spec.md §5 says it owns — never a
// sibling worker's slot or a field guarded by a different region lock.
const (
	offRealHostname1    = 0
	offRealHostname2    = offRealHostname1 + hostnameFieldLen
	offProtocolOptions  = offRealHostname2 + hostnameFieldLen
	offHostStatus       = offProtocolOptions + 4
	offHostToggle       = offHostStatus + 4
	offAllowedTransfers = offHostToggle + 4
	offConnections      = offAllowedTransfers + 4 // CON-region-owned
	offErrorCounter     = offConnections + 4      // EC-region-owned
	offErrorHistory     = offErrorCounter + 4      // EC-region-owned, ErrorHistorySize*4 bytes
	offStartEventHandle = offErrorHistory + ErrorHistorySize*4
	offEndEventHandle   = offStartEventHandle + 8 // HS-region-owned
	offStoredIP         = offEndEventHandle + 8   // HS-region-owned

	entryHeaderSize = offStoredIP + ipFieldLen
	slotsBase       = entryHeaderSize

	offSlotConnectStatus     = 0
	offSlotNoOfFiles         = offSlotConnectStatus + 4
	offSlotNoOfFilesDone     = offSlotNoOfFiles + 4
	offSlotFileSizeDone      = offSlotNoOfFilesDone + 4
	offSlotFileSizeInUse     = offSlotFileSizeDone + 8
	offSlotFileSizeInUseDone = offSlotFileSizeInUse + 8
	offSlotBytesSend         = offSlotFileSizeInUseDone + 8
	offSlotFileNameInUse     = offSlotBytesSend + 8
	offSlotJobID             = offSlotFileNameInUse + fileNameFieldLen
	offSlotUniqueName        = offSlotJobID + 4

	slotRecordSize = offSlotUniqueName + 8

	// EntryRecordSize is the fixed size of one host alias's row in the
	// FSA file, addressed by FSAPos*EntryRecordSize.
	EntryRecordSize = entryHeaderSize + MaxJobSlots*slotRecordSize
)

// slotOffset returns the byte offset of job slot slotIdx within an entry
// row (relative to the row's own start, i.e. before adding pos*EntryRecordSize).
func slotOffset(slotIdx int) int64 {
	return int64(slotsBase) + int64(slotIdx)*int64(slotRecordSize)
}

func putString(buf []byte, s string, width int) {
	n := copy(buf[:width], s)
	for i := n; i < width; i++ {
		buf[i] = 0
	}
}

func getString(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// encodeEntry writes e into buf, which must be at least EntryRecordSize
// bytes. Only the first e.AllowedTransfers slots are meaningful; the rest
// of the slot area is zeroed. Used only to build the initial/full-row
// snapshot (ReadEntry/WriteEntry); region-locked and slot-private mutation
// after that goes through the field-scoped patch writers in view.go.
func encodeEntry(buf []byte, e *Entry) {
	putString(buf[offRealHostname1:offRealHostname1+hostnameFieldLen], e.RealHostname1, hostnameFieldLen)
	putString(buf[offRealHostname2:offRealHostname2+hostnameFieldLen], e.RealHostname2, hostnameFieldLen)

	binary.LittleEndian.PutUint32(buf[offProtocolOptions:], e.ProtocolOptions)
	binary.LittleEndian.PutUint32(buf[offHostStatus:], uint32(e.HostStatus))
	binary.LittleEndian.PutUint32(buf[offHostToggle:], uint32(e.HostToggle))
	binary.LittleEndian.PutUint32(buf[offAllowedTransfers:], uint32(e.AllowedTransfers))
	binary.LittleEndian.PutUint32(buf[offConnections:], uint32(e.Connections))
	binary.LittleEndian.PutUint32(buf[offErrorCounter:], uint32(e.ErrorCounter))

	for i := 0; i < ErrorHistorySize; i++ {
		binary.LittleEndian.PutUint32(buf[offErrorHistory+i*4:], uint32(e.ErrorHistory[i]))
	}

	binary.LittleEndian.PutUint64(buf[offStartEventHandle:], uint64(e.StartEventHandle.Unix()))
	binary.LittleEndian.PutUint64(buf[offEndEventHandle:], uint64(e.EndEventHandle.Unix()))

	putString(buf[offStoredIP:offStoredIP+ipFieldLen], e.StoredIP, ipFieldLen)

	for i := 0; i < MaxJobSlots; i++ {
		s := JobStatusSlot{}
		if i < len(e.JobStatus) {
			s = e.JobStatus[i]
		}
		encodeSlot(buf[int(slotOffset(i)):], s)
	}
}

func encodeSlot(buf []byte, s JobStatusSlot) {
	binary.LittleEndian.PutUint32(buf[offSlotConnectStatus:], uint32(s.ConnectStatus))
	binary.LittleEndian.PutUint32(buf[offSlotNoOfFiles:], uint32(s.NoOfFiles))
	binary.LittleEndian.PutUint32(buf[offSlotNoOfFilesDone:], uint32(s.NoOfFilesDone))
	binary.LittleEndian.PutUint64(buf[offSlotFileSizeDone:], uint64(s.FileSizeDone))
	binary.LittleEndian.PutUint64(buf[offSlotFileSizeInUse:], uint64(s.FileSizeInUse))
	binary.LittleEndian.PutUint64(buf[offSlotFileSizeInUseDone:], uint64(s.FileSizeInUseDone))
	binary.LittleEndian.PutUint64(buf[offSlotBytesSend:], uint64(s.BytesSend))
	putString(buf[offSlotFileNameInUse:offSlotFileNameInUse+fileNameFieldLen], s.FileNameInUse, fileNameFieldLen)
	binary.LittleEndian.PutUint32(buf[offSlotJobID:], s.JobID)
	copy(buf[offSlotUniqueName:offSlotUniqueName+8], s.UniqueName[:])
}

// decodeEntry reads an Entry out of buf (EntryRecordSize bytes), keeping
// only the first allowedTransfers slots (the rest of the record is
// reserved capacity, matching the fixed-size-array FSA row).
func decodeEntry(buf []byte) *Entry {
	e := &Entry{}
	e.RealHostname1 = getString(buf[offRealHostname1 : offRealHostname1+hostnameFieldLen])
	e.RealHostname2 = getString(buf[offRealHostname2 : offRealHostname2+hostnameFieldLen])

	e.ProtocolOptions = binary.LittleEndian.Uint32(buf[offProtocolOptions:])
	e.HostStatus = HostStatusFlag(binary.LittleEndian.Uint32(buf[offHostStatus:]))
	e.HostToggle = int(binary.LittleEndian.Uint32(buf[offHostToggle:]))
	e.AllowedTransfers = int(binary.LittleEndian.Uint32(buf[offAllowedTransfers:]))
	e.Connections = int(binary.LittleEndian.Uint32(buf[offConnections:]))
	e.ErrorCounter = int(binary.LittleEndian.Uint32(buf[offErrorCounter:]))

	for i := 0; i < ErrorHistorySize; i++ {
		e.ErrorHistory[i] = int(binary.LittleEndian.Uint32(buf[offErrorHistory+i*4:]))
	}

	e.StartEventHandle = time.Unix(int64(binary.LittleEndian.Uint64(buf[offStartEventHandle:])), 0)
	e.EndEventHandle = time.Unix(int64(binary.LittleEndian.Uint64(buf[offEndEventHandle:])), 0)

	e.StoredIP = getString(buf[offStoredIP : offStoredIP+ipFieldLen])

	if e.AllowedTransfers > MaxJobSlots {
		e.AllowedTransfers = MaxJobSlots
	}
	e.JobStatus = make([]JobStatusSlot, e.AllowedTransfers)
	for i := 0; i < e.AllowedTransfers; i++ {
		e.JobStatus[i] = decodeSlot(buf[int(slotOffset(i)):])
	}

	return e
}

func decodeSlot(buf []byte) JobStatusSlot {
	s := JobStatusSlot{}
	s.ConnectStatus = ConnectStatus(binary.LittleEndian.Uint32(buf[offSlotConnectStatus:]))
	s.NoOfFiles = int(binary.LittleEndian.Uint32(buf[offSlotNoOfFiles:]))
	s.NoOfFilesDone = int(binary.LittleEndian.Uint32(buf[offSlotNoOfFilesDone:]))
	s.FileSizeDone = int64(binary.LittleEndian.Uint64(buf[offSlotFileSizeDone:]))
	s.FileSizeInUse = int64(binary.LittleEndian.Uint64(buf[offSlotFileSizeInUse:]))
	s.FileSizeInUseDone = int64(binary.LittleEndian.Uint64(buf[offSlotFileSizeInUseDone:]))
	s.BytesSend = int64(binary.LittleEndian.Uint64(buf[offSlotBytesSend:]))
	s.FileNameInUse = getString(buf[offSlotFileNameInUse : offSlotFileNameInUse+fileNameFieldLen])
	s.JobID = binary.LittleEndian.Uint32(buf[offSlotJobID:])
	copy(s.UniqueName[:], buf[offSlotUniqueName:offSlotUniqueName+8])
	return s
}
