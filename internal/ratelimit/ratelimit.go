// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ratelimit implements the per-file byte-token rate limiter from
// spec.md §4.5: Init at the start of each file when a transfer limit is
// configured, Limit called after every wire write. It generalizes the
// teacher's internal/agent.ThrottledWriter (a golang.org/x/time/rate
// token bucket wrapped around an io.Writer) into a standalone limiter the
// pipeline can drive explicitly around its own read/write/rate-limit
// sequence, since AFD's write and rate-limit steps are separate pipeline
// stages rather than a single io.Writer call.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// maxBurst bounds the token bucket's burst size so that a newly (re-)Init'd
// Limiter cannot immediately let through an unbounded chunk; mirrors the
// teacher's 256KB cap on ThrottledWriter's burst.
const maxBurst = 256 * 1024

// Limiter paces byte throughput against a per-process transfer limit
// (trl_per_process, spec.md §4.5). A zero-value Limiter (or one built with
// a non-positive rate) never blocks.
type Limiter struct {
	limiter *rate.Limiter
}

// Init builds a Limiter for trlPerProcess bytes/second. If trlPerProcess is
// <= 0, rate limiting is disabled for this file and Limit is a no-op.
func Init(trlPerProcess int) *Limiter {
	if trlPerProcess <= 0 {
		return &Limiter{}
	}
	burst := trlPerProcess
	if burst > maxBurst {
		burst = maxBurst
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(trlPerProcess), burst)}
}

// Limit blocks until n bytes' worth of token-time has elapsed, honoring
// the effective block size rule from spec.md §4.5 (min(trl_per_process,
// job.block_size) — the caller is expected to have already sized n that
// way). A disabled Limiter returns immediately.
func (l *Limiter) Limit(n int) error {
	if l == nil || l.limiter == nil || n <= 0 {
		return nil
	}
	burst := l.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := l.limiter.WaitN(context.Background(), chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// EffectiveBlockSize implements "min(trl_per_process, job.block_size)"
// from spec.md §4.5.
func EffectiveBlockSize(trlPerProcess, blockSize int) int {
	if trlPerProcess > 0 && trlPerProcess < blockSize {
		return trlPerProcess
	}
	return blockSize
}
