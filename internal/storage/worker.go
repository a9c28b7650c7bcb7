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

package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"prortip/internal/scan"
)

// defaultFlushTimeout is distinct from the progress bridge's poll interval:
// this is how long the worker waits on an empty channel before flushing
// whatever partial batch it's holding.
const defaultFlushTimeout = 250 * time.Millisecond

// Worker batches results off a channel and commits them to a Backend.
//
// Its receive loop distinguishes three outcomes on every iteration instead
// of folding "channel closed" and "nothing arrived recently" into the same
// ticker-fires branch:
//
//   - a value arrives (Ok(Some)): append to the batch, flush if it's full.
//   - the channel is closed (Ok(None)): flush whatever remains, signal done,
//     and return. This is observed via the `v, ok := <-ch` form, which is
//     the only reliable way to tell "closed" apart from "quiet".
//   - the flush timer fires first (Err(timeout)): flush whatever's
//     accumulated and reset the timer.
//
// A plain ticker+select loop cannot make this distinction: ticker.C firing
// looks identical whether the channel is merely quiet or has been closed,
// so a closed channel combined with a live ticker either spins on a
// zero-value receive or silently drops the final batch depending on branch
// order. That ambiguity is the worker's one prior deadlock/data-loss bug.
type Worker struct {
	backend      Backend
	resultCh     chan scan.ScanResult
	batchSize    int
	flushTimeout time.Duration
	doneCh       chan struct{}
	log          zerolog.Logger
}

// NewWorker creates a Worker. Call Start to launch its loop and Submit to
// send results to it.
func NewWorker(backend Backend, batchSize int, flushTimeout time.Duration, log zerolog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 256
	}
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	return &Worker{
		backend:      backend,
		resultCh:     make(chan scan.ScanResult, batchSize*4),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		doneCh:       make(chan struct{}),
		log:          log,
	}
}

// Submit sends a result to the worker. It blocks if the internal channel is
// full; callers on a probe hot path should prefer a buffered channel sized
// generously via NewWorker's batchSize.
func (w *Worker) Submit(r scan.ScanResult) {
	w.resultCh <- r
}

// Close signals that no more results will be submitted. The worker flushes
// its final partial batch and exits; Done() reports completion.
func (w *Worker) Close() {
	close(w.resultCh)
}

// Done returns a channel that is closed once the worker has finished its
// final flush and exited its loop.
func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}

// Start launches the worker's receive loop in a new goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	batch := make([]ResultEntry, 0, w.batchSize)
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case r, ok := <-w.resultCh:
			if !ok {
				// Ok(None): channel closed. Drain the flush timer so it
				// can't fire after we've already returned, then flush.
				if !timer.Stop() {
					<-timer.C
				}
				w.flush(ctx, batch)
				return
			}
			// Ok(Some)
			batch = append(batch, ResultEntry{CommitID: randomCommitID(), Result: r})
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			// Err(timeout): nothing closed the channel, it's just been
			// quiet; flush whatever partial batch we're holding.
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)

		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			w.flush(ctx, batch)
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []ResultEntry) {
	if len(batch) == 0 {
		return
	}
	if err := w.backend.CommitBatch(ctx, batch); err != nil {
		w.log.Error().Err(err).Int("batch_size", len(batch)).Msg("storage commit failed")
		return
	}
	w.log.Debug().Int("batch_size", len(batch)).Msg("storage batch committed")
}

func randomCommitID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	dst := make([]byte, 32)
	hex.Encode(dst, b[:])
	return string(dst)
}
