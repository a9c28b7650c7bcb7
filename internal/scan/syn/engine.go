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

package syn

import (
	"context"
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"prortip/internal/scan"
	"prortip/pkg/ratelimit"
)

// Engine is the stateless SYN fast path. Unlike ConnectProber, it never
// holds a per-job goroutine or socket: every outbound SYN carries a cookie
// (see cookie.go) that lets an inbound reply be validated using only the
// packet's own bytes plus this engine's key; the pending index (pending.go)
// is consulted only after validation, to recover the job and its send time.
type Engine struct {
	key       CookieKey
	localIP   uint32
	limiter   *ratelimit.Limiter
	srcPort   uint16
	timeout   time.Duration
	log       zerolog.Logger
	transport transport

	// Adaptive is the reactive throttle layer; optional, set after
	// construction. reapExpired/handleReply report into it so a flood of
	// silent drops (ICMP rate-limiting, a saturated link) backs off the
	// scheduler's emission rate even though the SYN path itself never
	// blocks on a per-job basis.
	Adaptive *ratelimit.AdaptiveThrottle
}

// transport is the platform-specific raw-socket boundary: send a single
// SYN and receive raw IPv4 packets until ctx is cancelled. It exists so
// engine.go stays platform-agnostic and the two build-tagged files
// (transport_linux.go, transport_other.go) own the syscalls.
type transport interface {
	sendSYN(pkt []byte, dst uint32) error
	recvLoop(ctx context.Context, out chan<- parsedReply)
	close() error
}

// Options configures a new Engine.
type Options struct {
	LocalAddr netip.Addr
	SrcPort   uint16 // 0 picks an ephemeral-looking ID per packet
	Timeout   time.Duration
	Limiter   *ratelimit.Limiter
	// BatchSize, when > 0, selects the Recvmmsg-based batch transport on
	// platforms that support it (linux); 0 uses the one-packet-at-a-time
	// baseline transport.
	BatchSize int
}

// NewEngine builds a stateless SYN engine bound to a fresh random cookie
// key, unique to this invocation so that replies from a prior, unrelated
// scan of the same host can never be mistaken for this one's.
func NewEngine(opts Options, log zerolog.Logger) (*Engine, error) {
	key, err := NewCookieKey()
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	srcPort := opts.SrcPort
	if srcPort == 0 {
		srcPort = 54321
	}
	tr, err := newTransportWithBatch(opts.BatchSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		key:       key,
		localIP:   addrToUint32(opts.LocalAddr),
		limiter:   opts.Limiter,
		srcPort:   srcPort,
		timeout:   timeout,
		log:       log,
		transport: tr,
	}, nil
}

func addrToUint32(a netip.Addr) uint32 {
	if !a.Is4() {
		return 0
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

// pendingJob is the minimal state the reply-matching loop needs to turn a
// validated cookie back into a ScanResult: the job itself plus when it was
// sent, so RTT can be computed. It is keyed by a short-lived in-memory
// index used for RTT bookkeeping and result emission. Cookie validation
// runs before this map is consulted, so a missing entry never causes a
// false accept; a validated reply whose entry is gone (already reaped as
// filtered) is ignored.
type pendingJob struct {
	job  scan.ScanJob
	sent time.Time
}

// Run implements scan.Prober. It drains jobs, pacing through the limiter
// if configured, firing one SYN per job, while a concurrent goroutine
// drains replies off the raw listener and resolves them via cookie
// validation.
func (e *Engine) Run(ctx context.Context, jobs <-chan scan.ScanJob, agg *scan.Aggregator, tracker *scan.ProgressTracker) {
	replies := make(chan parsedReply, 4096)
	go e.transport.recvLoop(ctx, replies)

	pending := newPendingIndex()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.matchReplies(ctx, replies, pending, agg, tracker)
	}()

	timeoutTicker := time.NewTicker(e.timeout / 4)
	defer timeoutTicker.Stop()

	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				e.drainPending(pending, agg, tracker)
				<-done
				return
			}
			for e.limiter != nil && !e.limiter.Acquire(1) {
				select {
				case <-ctx.Done():
					<-done
					return
				case <-time.After(time.Millisecond):
				}
			}
			e.fire(job, pending)
		case <-timeoutTicker.C:
			e.reapExpired(pending, agg, tracker)
		case <-ctx.Done():
			<-done
			return
		}
	}
}

func (e *Engine) fire(job scan.ScanJob, pending *pendingIndex) {
	dst := addrToUint32(job.Target.Addr)
	dport := uint16(job.Port)
	cookie := e.key.Generate(e.localIP, dst, e.srcPort, dport)
	pkt := buildSynPacket(e.localIP, dst, e.srcPort, dport, cookie)

	pending.put(dst, dport, cookie, pendingJob{job: job, sent: time.Now()})
	if err := e.transport.sendSYN(pkt, dst); err != nil {
		e.log.Debug().Err(err).Str("target", job.Target.Addr.String()).Uint32("port", job.Port).Msg("syn send failed")
	}
}

func (e *Engine) matchReplies(ctx context.Context, replies <-chan parsedReply, pending *pendingIndex, agg *scan.Aggregator, tracker *scan.ProgressTracker) {
	for {
		select {
		case r, ok := <-replies:
			if !ok {
				return
			}
			e.handleReply(r, pending, agg, tracker)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) handleReply(r parsedReply, pending *pendingIndex, agg *scan.Aggregator, tracker *scan.ProgressTracker) {
	// The reply is dst->src relative to the probe: r.dstPort is our
	// ephemeral source port, r.srcPort is the target's port.
	if !e.key.Validate(e.localIP, r.srcAddr, e.srcPort, r.srcPort, r.ackSeq) {
		return
	}
	pj, ok := pending.takeByCookie(r.srcAddr, r.srcPort, r.ackSeq-1)
	if !ok {
		return
	}

	res := scan.ScanResult{
		Target:    pj.job.Target,
		Port:      pj.job.Port,
		Kind:      scan.KindSYN,
		RTT:       time.Since(pj.sent),
		Timestamp: time.Now(),
	}
	switch {
	case r.flags&(synFlag|ackFlag) == synFlag|ackFlag:
		res.State = scan.StateOpen
	case r.flags&rstFlag != 0:
		res.State = scan.StateClosed
	default:
		res.State = scan.StateFiltered
	}
	if e.Adaptive != nil {
		e.Adaptive.ReportSuccess()
	}
	e.emit(res, agg, tracker)
}

func (e *Engine) emit(res scan.ScanResult, agg *scan.Aggregator, tracker *scan.ProgressTracker) {
	for !agg.Push(res) {
		time.Sleep(time.Microsecond)
	}
	if tracker != nil {
		tracker.Advance(res.Target, 1)
	}
}

// reapExpired flushes any pending probe older than the engine's timeout as
// filtered (no reply, consistent with a firewall silently dropping the
// SYN rather than rejecting it).
func (e *Engine) reapExpired(pending *pendingIndex, agg *scan.Aggregator, tracker *scan.ProgressTracker) {
	expired := pending.takeExpired(e.timeout)
	if e.Adaptive != nil {
		for range expired {
			e.Adaptive.ReportTimeout()
		}
	}
	for _, pj := range expired {
		e.emit(scan.ScanResult{
			Target:    pj.job.Target,
			Port:      pj.job.Port,
			Kind:      scan.KindSYN,
			State:     scan.StateFiltered,
			RTT:       time.Since(pj.sent),
			Timestamp: time.Now(),
		}, agg, tracker)
	}
}

func (e *Engine) drainPending(pending *pendingIndex, agg *scan.Aggregator, tracker *scan.ProgressTracker) {
	deadline := time.Now().Add(e.timeout)
	for time.Now().Before(deadline) && pending.len() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	e.reapExpired(pending, agg, tracker)
}

// Close releases the underlying raw socket.
func (e *Engine) Close() error {
	return e.transport.close()
}
