// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fsa

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Region identifies one of the three advisory lock regions spec.md §3/§5
// defines per FSA entry: CON (connection counters), EC (error counter),
// HS (host status). A worker never needs to hold more than one at a time,
// but the fixed global order CON -> EC -> HS is preserved in this API's
// naming (and in RegionOrder) so that a future caller that does need to
// nest acquisitions has an unambiguous order to follow.
type Region int

const (
	RegionCON Region = iota
	RegionEC
	RegionHS
	numRegions
)

// RegionOrder is the fixed global lock acquisition order, per spec.md §5.
var RegionOrder = []Region{RegionCON, RegionEC, RegionHS}

func (r Region) String() string {
	switch r {
	case RegionCON:
		return "CON"
	case RegionEC:
		return "EC"
	case RegionHS:
		return "HS"
	default:
		return "UNKNOWN"
	}
}

// regionByteRange returns the (offset, length) of region r's advisory
// lock byte within the lock file, for host alias slot at entryOffset.
// Each region gets one byte of the lock file per entry; the byte's value
// is never read, only its lock state matters (classic flock-as-mutex
// idiom), which keeps the lock file tiny regardless of AllowedTransfers.
func regionByteRange(entryOffset int64, r Region) (int64, int64) {
	return entryOffset*int64(numRegions) + int64(r), 1
}

// Guard represents a held advisory lock; Release must be called exactly
// once, on every exit path (including panics — callers should defer it).
type Guard struct {
	fd     int
	region Region
	offset int64
	length int64
}

// Release drops the advisory lock. It is safe to call on a zero-value
// Guard (no-op), which happens if acquisition failed and the caller still
// defers Release defensively.
func (g *Guard) Release() error {
	if g == nil || g.fd == 0 {
		return nil
	}
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  g.offset,
		Len:    g.length,
	}
	return unix.FcntlFlock(uintptr(g.fd), unix.F_SETLK, &lk)
}

// acquire blocks until the advisory write-lock on the byte range for
// (entryOffset, region) is held, then returns a Guard.
func acquire(fd int, entryOffset int64, region Region) (*Guard, error) {
	offset, length := regionByteRange(entryOffset, region)
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0,
		Start:  offset,
		Len:    length,
	}
	if err := unix.FcntlFlock(uintptr(fd), unix.F_SETLKW, &lk); err != nil {
		return nil, fmt.Errorf("acquiring %s lock: %w", region, err)
	}
	return &Guard{fd: fd, region: region, offset: offset, length: length}, nil
}
