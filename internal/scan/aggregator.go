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

package scan

import "sync/atomic"

const padSize = 128 - 8

// cell is one slot of a bounded MPMC ring buffer. sequence coordinates
// producers and consumers without locks; val is only valid when sequence
// matches the expected generation.
type cell struct {
	sequence atomic.Uint64
	val      ScanResult
	_        [padSize]byte
}

// Aggregator is a bounded, lock-free multi-producer/multi-consumer queue of
// ScanResult values, modeled after the padded-atomic-stripe idiom used for
// the rate limiter: producers and consumers never block each other, they
// only spin briefly on a CAS when two of them land on the same slot.
type Aggregator struct {
	buf  []cell
	mask uint64

	enqueuePos atomic.Uint64
	dequeuePos atomic.Uint64
}

// NewAggregator creates an Aggregator with the given capacity, rounded up to
// the next power of two.
func NewAggregator(capacity int) *Aggregator {
	n := nextPow2Agg(capacity)
	a := &Aggregator{
		buf:  make([]cell, n),
		mask: uint64(n - 1),
	}
	for i := range a.buf {
		a.buf[i].sequence.Store(uint64(i))
	}
	return a
}

// Push enqueues a result. It returns false if the queue is momentarily full;
// callers should retry or fall back to a blocking send.
func (a *Aggregator) Push(r ScanResult) bool {
	for {
		pos := a.enqueuePos.Load()
		c := &a.buf[pos&a.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if a.enqueuePos.CompareAndSwap(pos, pos+1) {
				c.val = r
				c.sequence.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false // full
		default:
			// another producer raced ahead; retry
		}
	}
}

// Pop dequeues a result if one is available.
func (a *Aggregator) Pop() (ScanResult, bool) {
	for {
		pos := a.dequeuePos.Load()
		c := &a.buf[pos&a.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if a.dequeuePos.CompareAndSwap(pos, pos+1) {
				r := c.val
				c.sequence.Store(pos + a.mask + 1)
				return r, true
			}
		case diff < 0:
			return ScanResult{}, false // empty
		default:
			// another consumer raced ahead; retry
		}
	}
}

// Drain pops every currently-available result into a slice. It does not
// block for results produced concurrently with the call.
func (a *Aggregator) Drain() []ScanResult {
	var out []ScanResult
	for {
		r, ok := a.Pop()
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}

func nextPow2Agg(x int) int {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	return x + 1
}
