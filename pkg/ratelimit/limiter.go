// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit provides an adaptive token bucket used to pace probe
// emission. Internally it keeps a Vector-Scalar style split: a durable
// capacity (scalar) and a striped consumption counter (vector), updated
// under a small mutex by Acquire and Release and read without locking by
// Available, refilled by a background convergence loop
// that corrects drift between the configured target rate and the rate
// actually observed.
package ratelimit

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const padSize = 128 - 8

type stripe struct {
	val atomic.Int64
	_   [padSize]byte
}

// Limiter paces probe emission to a target rate with burst capacity.
type Limiter struct {
	capacity atomic.Int64 // burst capacity in tokens
	rate     atomic.Int64 // target tokens/sec

	stripes []stripe
	mask    int
	chooser atomic.Uint64
	rr      uint64

	approxConsumed atomic.Int64

	// convergence is a fixed-point (x1e6) correction multiplier applied to the
	// refill amount each tick, moved within [0.9e6, 1.1e6] by how full the
	// bucket is (see tick).
	convergence atomic.Int64

	lastRefill atomic.Int64 // unix nano

	interval time.Duration

	stopCh    chan struct{}
	closeOnce sync.Once
	tryMu     sync.Mutex

	log zerolog.Logger
}

// Options configures Limiter construction.
type Options struct {
	// Stripes sets the number of striped counters; 0 picks a default based on
	// GOMAXPROCS, clamped to [8,64].
	Stripes int
	// RefillInterval controls how often the convergence loop runs. Default 100ms.
	RefillInterval time.Duration
	Logger         zerolog.Logger
}

// New creates a Limiter with the given burst capacity and target rate
// (tokens per second), and starts its background convergence loop.
func New(capacity, ratePerSecond int64, opts Options) *Limiter {
	s := opts.Stripes
	if s <= 0 {
		p := runtime.GOMAXPROCS(0)
		s = nextPow2(clamp(p, 8, 64))
	} else {
		s = nextPow2(clamp(s, 8, 64))
	}
	l := &Limiter{
		stripes: make([]stripe, s),
		mask:    s - 1,
		stopCh:  make(chan struct{}),
		log:     opts.Logger,
	}
	l.capacity.Store(capacity)
	l.rate.Store(ratePerSecond)
	l.convergence.Store(1_000_000)
	l.lastRefill.Store(time.Now().UnixNano())

	l.interval = opts.RefillInterval
	if l.interval <= 0 {
		l.interval = 100 * time.Millisecond
	}
	go l.runConvergence()
	return l
}

// SetRate updates the target rate in place; takes effect on the next tick.
func (l *Limiter) SetRate(ratePerSecond int64) {
	l.rate.Store(ratePerSecond)
}

// Acquire attempts to consume n tokens immediately, without blocking.
// It returns false if insufficient tokens are available.
func (l *Limiter) Acquire(n int64) bool {
	if n <= 0 {
		return false
	}
	l.tryMu.Lock()
	defer l.tryMu.Unlock()
	avail := l.capacity.Load() - l.currentConsumed()
	if avail < n {
		return false
	}
	idx := int(l.rr) & l.mask
	l.rr++
	l.stripes[idx].val.Add(n)
	l.approxConsumed.Add(n)
	return true
}

// Release returns up to n previously-acquired tokens, clamped so consumption
// never goes negative.
func (l *Limiter) Release(n int64) {
	if n <= 0 {
		return
	}
	l.tryMu.Lock()
	defer l.tryMu.Unlock()
	consumed := l.currentConsumed()
	if n > consumed {
		n = consumed
	}
	if n == 0 {
		return
	}
	idx := int(l.rr) & l.mask
	l.rr++
	l.stripes[idx].val.Add(-n)
	l.approxConsumed.Add(-n)
}

// Available reports the current estimated number of tokens available.
func (l *Limiter) Available() int64 {
	return l.capacity.Load() - l.currentConsumed()
}

func (l *Limiter) currentConsumed() int64 {
	var sum int64
	for i := range l.stripes {
		sum += l.stripes[i].val.Load()
	}
	if sum < 0 {
		return 0
	}
	return sum
}

// runConvergence periodically refills the bucket toward its target rate,
// correcting for the gap between the configured rate and the rate actually
// observed being drained, the same way the teacher's aggregator recomputes
// a cached net from striped state instead of trusting a single counter.
func (l *Limiter) runConvergence() {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			l.tick(now)
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) tick(now time.Time) {
	last := l.lastRefill.Load()
	dtNanos := now.UnixNano() - last
	if dtNanos <= 0 {
		return
	}
	l.lastRefill.Store(now.UnixNano())
	dt := float64(dtNanos) / float64(time.Second)

	rate := l.rate.Load()
	conv := l.convergence.Load()
	expected := float64(rate) * dt * (float64(conv) / 1_000_000)
	refill := int64(expected)
	if refill <= 0 {
		return
	}

	l.tryMu.Lock()
	consumed := l.currentConsumed()
	if refill > consumed {
		refill = consumed
	}
	if refill > 0 {
		idx := int(l.rr) & l.mask
		l.rr++
		l.stripes[idx].val.Add(-refill)
		l.approxConsumed.Add(-refill)
	}
	remaining := l.currentConsumed()
	l.tryMu.Unlock()

	// Adjust the convergence multiplier: while the bucket is nearly full
	// (over 95% of capacity available, so refills outpace demand) lower it,
	// down to 0.9e6; while it is nearly empty (under 5% available) raise it,
	// up to 1.1e6.
	cap := l.capacity.Load()
	if cap > 0 {
		fill := float64(cap-remaining) / float64(cap)
		switch {
		case fill > 0.95 && conv > 900_000:
			l.convergence.Store(conv - 1_000)
		case fill < 0.05 && conv < 1_100_000:
			l.convergence.Store(conv + 1_000)
		}
	}

	if l.log.GetLevel() <= zerolog.DebugLevel {
		l.log.Debug().
			Int64("refilled", refill).
			Int64("remaining_consumed", remaining).
			Int64("convergence", l.convergence.Load()).
			Msg("ratelimit tick")
	}
}

// Close stops the background convergence loop. Safe to call multiple times.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stopCh)
	})
}

func nextPow2(x int) int {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

func clamp(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
