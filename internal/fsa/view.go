// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fsa

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// View is a worker's attachment to the shared FSA file: one fixed-size
// EntryRecordSize row per host alias, addressed by FSAPos. Real AFD maps
// this file with mmap(2) and lets every sibling worker dereference the
// same pages directly; sf_http opens the same file descriptor and reads/
// writes through ReadAt/WriteAt instead, which gives the same
// multi-writer-under-advisory-lock semantics without requiring unsafe
// pointer arithmetic over a mapped region.
type View struct {
	f *os.File
}

// Open attaches to the FSA file at path, creating it if absent. The file
// is opened read/write and kept for the worker's lifetime; Close detaches.
func Open(path string) (*View, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening FSA file %s: %w", path, err)
	}
	return &View{f: f}, nil
}

// Close detaches from the FSA file.
func (v *View) Close() error {
	return v.f.Close()
}

// ReadEntry reads the row at pos (an FSAPos index) into an Entry. Callers
// that need a consistent read across the multi-field Entry should hold the
// relevant region lock (AcquireRegion) around the call.
func (v *View) ReadEntry(pos int) (*Entry, error) {
	buf := make([]byte, EntryRecordSize)
	if _, err := v.f.ReadAt(buf, int64(pos)*EntryRecordSize); err != nil {
		return nil, fmt.Errorf("reading FSA entry at pos %d: %w", pos, err)
	}
	return decodeEntry(buf), nil
}

// WriteEntry writes e back to the row at pos. Callers must hold whichever
// region lock(s) cover the fields they changed (spec.md §5): CON for
// connection counters, EC for the error counter/history, HS for host
// status flags; slot-private fields (file_size_in_use*, file_name_in_use,
// no_of_files_done, an uncontested connect_status) may be written without
// a lock.
func (v *View) WriteEntry(pos int, e *Entry) error {
	buf := make([]byte, EntryRecordSize)
	encodeEntry(buf, e)
	if _, err := v.f.WriteAt(buf, int64(pos)*EntryRecordSize); err != nil {
		return fmt.Errorf("writing FSA entry at pos %d: %w", pos, err)
	}
	return nil
}

// patch writes exactly len(buf) bytes at localOffset within row pos,
// leaving every other byte of the row untouched. This is the primitive
// every region-scoped and slot-scoped writer below is built on: unlike
// WriteEntry's whole-row read-modify-write, a patch cannot clobber a field
// owned by a different lock region or a sibling worker's job slot, even
// if that sibling is concurrently writing under a region lock this call
// never takes (spec.md §5's region ownership only works if writes stay
// inside the byte range the holder actually owns).
func (v *View) patch(pos int, localOffset int64, buf []byte) error {
	abs := int64(pos)*EntryRecordSize + localOffset
	if _, err := v.f.WriteAt(buf, abs); err != nil {
		return fmt.Errorf("patching FSA entry at pos %d, offset %d: %w", pos, localOffset, err)
	}
	return nil
}

// ReadSlot reads a single job-status slot out of row pos without decoding
// the rest of the entry.
func (v *View) ReadSlot(pos, slotIdx int) (JobStatusSlot, error) {
	buf := make([]byte, slotRecordSize)
	abs := int64(pos)*EntryRecordSize + slotOffset(slotIdx)
	if _, err := v.f.ReadAt(buf, abs); err != nil {
		return JobStatusSlot{}, fmt.Errorf("reading FSA slot %d at pos %d: %w", slotIdx, pos, err)
	}
	return decodeSlot(buf), nil
}

// WriteSlot writes a single job-status slot's full record. Safe to call
// without a region lock when slotIdx is this worker's own, exclusively-
// owned slot (spec.md §5): no other worker ever addresses the same
// (pos, slotIdx) pair, so this cannot race with a sibling's slot.
func (v *View) WriteSlot(pos, slotIdx int, s JobStatusSlot) error {
	buf := make([]byte, slotRecordSize)
	encodeSlot(buf, s)
	return v.patch(pos, slotOffset(slotIdx), buf)
}

// WriteSlotConnectStatus writes only a slot's connect_status field. Used
// under the EC region lock (spec.md §4.6 step 12) to flip a *sibling's*
// NOT_WORKING slot to DISCONNECT without touching any of that slot's
// other (worker-owned) fields.
func (v *View) WriteSlotConnectStatus(pos, slotIdx int, cs ConnectStatus) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(cs))
	return v.patch(pos, slotOffset(slotIdx)+offSlotConnectStatus, buf)
}

// WriteConnections writes the CON-region-owned live-connection counter.
func (v *View) WriteConnections(pos, n int) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return v.patch(pos, offConnections, buf)
}

// WriteErrorState writes the EC-region-owned error counter and its
// two-entry history ring in one patch (spec.md §4.6 step 12: "zero it ...
// clear error history[0..1]").
func (v *View) WriteErrorState(pos int, counter int, history [ErrorHistorySize]int) error {
	buf := make([]byte, 4+ErrorHistorySize*4)
	binary.LittleEndian.PutUint32(buf[:4], uint32(counter))
	for i := 0; i < ErrorHistorySize; i++ {
		binary.LittleEndian.PutUint32(buf[4+i*4:], uint32(history[i]))
	}
	return v.patch(pos, offErrorCounter, buf)
}

// WriteHostStatus writes the HS-region-owned host status flag word.
func (v *View) WriteHostStatus(pos int, hs HostStatusFlag) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(hs))
	return v.patch(pos, offHostStatus, buf)
}

// WriteEndEventHandle writes the HS-region-owned end-event timestamp.
func (v *View) WriteEndEventHandle(pos int, t time.Time) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(t.Unix()))
	return v.patch(pos, offEndEventHandle, buf)
}

// WriteStoredIP writes the HS-region-owned pinned-IP field (spec.md §4.2).
func (v *View) WriteStoredIP(pos int, ip string) error {
	buf := make([]byte, ipFieldLen)
	putString(buf, ip, ipFieldLen)
	return v.patch(pos, offStoredIP, buf)
}

// WriteHostToggle writes the host's active primary/secondary toggle.
func (v *View) WriteHostToggle(pos, toggle int) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(toggle))
	return v.patch(pos, offHostToggle, buf)
}

// AcquireRegion blocks until the advisory lock for (pos, region) is held.
// The caller must Release the returned Guard on every exit path.
func (v *View) AcquireRegion(pos int, region Region) (*Guard, error) {
	return acquire(int(v.f.Fd()), int64(pos), region)
}

// WithRegion runs fn with region's advisory lock held for pos, releasing
// it (even if fn panics) before returning. This is the preferred way to
// take a region lock: callers cannot forget to release it.
func (v *View) WithRegion(pos int, region Region, fn func() error) error {
	g, err := v.AcquireRegion(pos, region)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn()
}
