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

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"prortip/internal/rawsock"
	"prortip/pkg/ratelimit"
)

// rawPendingJob is the minimal bookkeeping the raw TCP techniques need to
// turn a matched reply back into a ScanResult. Unlike the SYN fast path,
// these techniques don't need statelessness (only SYN is required to be
// stateless): a plain in-memory map keyed by (dstIP, dstPort) is enough,
// since FIN/NULL/Xmas/ACK never need to survive a process restart mid-scan.
type rawPendingJob struct {
	job  ScanJob
	sent time.Time
}

type rawPendingIndex struct {
	mu sync.Mutex
	m  map[rawPendingKey]rawPendingJob
}

type rawPendingKey struct {
	dstIP   uint32
	dstPort uint16
}

func newRawPendingIndex() *rawPendingIndex {
	return &rawPendingIndex{m: make(map[rawPendingKey]rawPendingJob)}
}

func (p *rawPendingIndex) put(dstIP uint32, dstPort uint16, pj rawPendingJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[rawPendingKey{dstIP, dstPort}] = pj
}

func (p *rawPendingIndex) take(dstIP uint32, dstPort uint16) (rawPendingJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := rawPendingKey{dstIP, dstPort}
	pj, ok := p.m[k]
	if ok {
		delete(p.m, k)
	}
	return pj, ok
}

func (p *rawPendingIndex) takeExpired(timeout time.Duration) []rawPendingJob {
	cutoff := time.Now().Add(-timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []rawPendingJob
	for k, pj := range p.m {
		if pj.sent.Before(cutoff) {
			out = append(out, pj)
			delete(p.m, k)
		}
	}
	return out
}

func (p *rawPendingIndex) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// RawProber implements the FIN, NULL, Xmas, and ACK raw-socket techniques:
// all four send a single crafted TCP segment and classify the target's
// (non-)response per RFC 793, differing only in which flags they set and,
// for ACK, in how a reset is interpreted.
type RawProber struct {
	Kind      Kind // KindFIN, KindNULL, KindXmas, or KindACK
	flags     uint8
	localIP   uint32
	srcPort   uint16
	timeout   time.Duration
	limiter   *ratelimit.Limiter
	Adaptive  *ratelimit.AdaptiveThrottle
	log       zerolog.Logger
	transport *rawsock.Transport
}

// RawOptions configures a new RawProber.
type RawOptions struct {
	LocalAddr netip.Addr
	SrcPort   uint16
	Timeout   time.Duration
	Limiter   *ratelimit.Limiter
}

func flagsForKind(kind Kind) uint8 {
	switch kind {
	case KindFIN:
		return rawsock.FlagFIN
	case KindNULL:
		return 0
	case KindXmas:
		return rawsock.FlagFIN | rawsock.FlagPSH | rawsock.FlagURG
	case KindACK:
		return rawsock.FlagACK
	default:
		return 0
	}
}

// NewRawProber builds a prober for one of the four RFC-793-classified raw
// TCP techniques.
func NewRawProber(kind Kind, opts RawOptions, log zerolog.Logger) (*RawProber, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	srcPort := opts.SrcPort
	if srcPort == 0 {
		srcPort = 54321
	}
	tr, err := rawsock.New(rawsock.ProtoTCP)
	if err != nil {
		return nil, err
	}
	return &RawProber{
		Kind:      kind,
		flags:     flagsForKind(kind),
		localIP:   addrToUint32(opts.LocalAddr),
		srcPort:   srcPort,
		timeout:   timeout,
		limiter:   opts.Limiter,
		log:       log,
		transport: tr,
	}, nil
}

func addrToUint32(a netip.Addr) uint32 {
	if !a.Is4() {
		return 0
	}
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Run implements Prober.
func (r *RawProber) Run(ctx context.Context, jobs <-chan ScanJob, agg *Aggregator, tracker *ProgressTracker) {
	replies := make(chan rawsock.Reply, 4096)
	go r.transport.RecvLoop(ctx, replies)

	pending := newRawPendingIndex()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.matchReplies(ctx, replies, pending, agg, tracker)
	}()

	ticker := time.NewTicker(r.timeout / 4)
	defer ticker.Stop()

	seq := uint32(time.Now().UnixNano())
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				r.drainPending(pending, agg, tracker)
				<-done
				return
			}
			for r.limiter != nil && !r.limiter.Acquire(1) {
				select {
				case <-ctx.Done():
					<-done
					return
				case <-time.After(time.Millisecond):
				}
			}
			seq++
			r.fire(job, seq, pending)
		case <-ticker.C:
			r.reapExpired(pending, agg, tracker)
		case <-ctx.Done():
			<-done
			return
		}
	}
}

func (r *RawProber) fire(job ScanJob, seq uint32, pending *rawPendingIndex) {
	dst := addrToUint32(job.Target.Addr)
	dport := uint16(job.Port)
	pkt := rawsock.BuildTCP(r.localIP, dst, r.srcPort, dport, seq, r.flags)
	pending.put(dst, dport, rawPendingJob{job: job, sent: time.Now()})
	if err := r.transport.Send(pkt, dst); err != nil {
		r.log.Debug().Err(err).Str("target", job.Target.Addr.String()).Uint32("port", job.Port).Msg("raw probe send failed")
	}
}

func (r *RawProber) matchReplies(ctx context.Context, replies <-chan rawsock.Reply, pending *rawPendingIndex, agg *Aggregator, tracker *ProgressTracker) {
	for {
		select {
		case rep, ok := <-replies:
			if !ok {
				return
			}
			if rep.Protocol != rawsock.ProtoTCP {
				continue
			}
			pj, ok := pending.take(rep.SrcAddr, rep.SrcPort)
			if !ok {
				continue
			}
			state := classifyRawReply(r.Kind, rep.Flags)
			if r.Adaptive != nil {
				r.Adaptive.ReportSuccess()
			}
			r.emit(ScanResult{
				Target:    pj.job.Target,
				Port:      pj.job.Port,
				Kind:      r.Kind,
				State:     state,
				RTT:       time.Since(pj.sent),
				Timestamp: time.Now(),
			}, agg, tracker)
		case <-ctx.Done():
			return
		}
	}
}

func (r *RawProber) emit(res ScanResult, agg *Aggregator, tracker *ProgressTracker) {
	for !agg.Push(res) {
		time.Sleep(time.Microsecond)
	}
	if tracker != nil {
		tracker.Advance(res.Target, 1)
	}
}

func (r *RawProber) reapExpired(pending *rawPendingIndex, agg *Aggregator, tracker *ProgressTracker) {
	expired := pending.takeExpired(r.timeout)
	if r.Adaptive != nil {
		for range expired {
			r.Adaptive.ReportTimeout()
		}
	}
	for _, pj := range expired {
		r.emit(ScanResult{
			Target:    pj.job.Target,
			Port:      pj.job.Port,
			Kind:      r.Kind,
			State:     classifyRawTimeout(r.Kind),
			RTT:       time.Since(pj.sent),
			Timestamp: time.Now(),
		}, agg, tracker)
	}
}

func (r *RawProber) drainPending(pending *rawPendingIndex, agg *Aggregator, tracker *ProgressTracker) {
	deadline := time.Now().Add(r.timeout)
	for time.Now().Before(deadline) && pending.len() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	r.reapExpired(pending, agg, tracker)
}

// Close releases the underlying raw socket.
func (r *RawProber) Close() error {
	return r.transport.Close()
}

// classifyRawReply applies the RFC 793 table: a reset always means closed,
// except for the ACK technique, where a reset instead means the port is
// reachable and not firewalled (unfiltered) rather than anything about
// openness.
func classifyRawReply(kind Kind, flags uint8) State {
	if flags&rawsock.FlagRST != 0 {
		if kind == KindACK {
			return StateUnfiltered
		}
		return StateClosed
	}
	return StateFiltered
}

// classifyRawTimeout applies the no-response half of the RFC 793 table:
// FIN/NULL/Xmas can't distinguish an open port from a filtered one when
// nothing comes back, while ACK's no-response case does mean filtered.
func classifyRawTimeout(kind Kind) State {
	if kind == KindACK {
		return StateFiltered
	}
	return StateOpenFiltered
}

// UDPProber implements the UDP raw scan technique (-sU): it sends an empty
// UDP datagram and classifies the result from either an ICMP
// port-unreachable (closed), an actual protocol response (open), or
// silence (open|filtered, since UDP gives no reliable negative signal).
type UDPProber struct {
	localIP  uint32
	srcPort  uint16
	timeout  time.Duration
	limiter  *ratelimit.Limiter
	Adaptive *ratelimit.AdaptiveThrottle
	log      zerolog.Logger
	icmpTr   *rawsock.Transport
	udpTr    *rawsock.Transport
}

// NewUDPProber builds a UDP prober. It opens two raw-socket receive paths
// (ICMP and UDP) because the two admissible "port open" and "port closed"
// signals arrive over different IP protocols.
func NewUDPProber(opts RawOptions, log zerolog.Logger) (*UDPProber, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	srcPort := opts.SrcPort
	if srcPort == 0 {
		srcPort = 54321
	}
	icmpTr, err := rawsock.New(rawsock.ProtoICMP)
	if err != nil {
		return nil, err
	}
	udpTr, err := rawsock.New(rawsock.ProtoUDP)
	if err != nil {
		icmpTr.Close()
		return nil, err
	}
	return &UDPProber{
		localIP: addrToUint32(opts.LocalAddr),
		srcPort: srcPort,
		timeout: timeout,
		limiter: opts.Limiter,
		log:     log,
		icmpTr:  icmpTr,
		udpTr:   udpTr,
	}, nil
}

// Run implements Prober.
func (u *UDPProber) Run(ctx context.Context, jobs <-chan ScanJob, agg *Aggregator, tracker *ProgressTracker) {
	icmpReplies := make(chan rawsock.Reply, 4096)
	udpReplies := make(chan rawsock.Reply, 4096)
	go u.icmpTr.RecvLoop(ctx, icmpReplies)
	go u.udpTr.RecvLoop(ctx, udpReplies)

	pending := newRawPendingIndex()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); u.matchReplies(ctx, icmpReplies, pending, agg, tracker) }()
	go func() { defer wg.Done(); u.matchReplies(ctx, udpReplies, pending, agg, tracker) }()
	go func() { wg.Wait(); close(done) }()

	ticker := time.NewTicker(u.timeout / 4)
	defer ticker.Stop()

	id := uint16(time.Now().UnixNano())
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				u.drainPending(pending, agg, tracker)
				<-done
				return
			}
			for u.limiter != nil && !u.limiter.Acquire(1) {
				select {
				case <-ctx.Done():
					<-done
					return
				case <-time.After(time.Millisecond):
				}
			}
			id++
			u.fire(job, id, pending)
		case <-ticker.C:
			u.reapExpired(pending, agg, tracker)
		case <-ctx.Done():
			<-done
			return
		}
	}
}

func (u *UDPProber) fire(job ScanJob, id uint16, pending *rawPendingIndex) {
	dst := addrToUint32(job.Target.Addr)
	dport := uint16(job.Port)
	pkt := rawsock.BuildUDP(u.localIP, dst, u.srcPort, dport, nil, id)
	pending.put(dst, dport, rawPendingJob{job: job, sent: time.Now()})
	if err := u.udpTr.Send(pkt, dst); err != nil {
		u.log.Debug().Err(err).Str("target", job.Target.Addr.String()).Uint32("port", job.Port).Msg("udp probe send failed")
	}
}

func (u *UDPProber) matchReplies(ctx context.Context, replies <-chan rawsock.Reply, pending *rawPendingIndex, agg *Aggregator, tracker *ProgressTracker) {
	for {
		select {
		case rep, ok := <-replies:
			if !ok {
				return
			}
			var dstIP uint32
			var dstPort uint16
			var state State
			switch {
			case rep.IsPortUnreachable():
				dstIP, dstPort = rep.SrcAddr, rep.OrigDstPort
				state = StateClosed
			case rep.Protocol == rawsock.ProtoUDP:
				dstIP, dstPort = rep.SrcAddr, rep.SrcPort
				state = StateOpen
			default:
				continue
			}
			pj, ok := pending.take(dstIP, dstPort)
			if !ok {
				continue
			}
			if u.Adaptive != nil {
				u.Adaptive.ReportSuccess()
			}
			u.emit(ScanResult{
				Target:    pj.job.Target,
				Port:      pj.job.Port,
				Kind:      KindUDP,
				State:     state,
				RTT:       time.Since(pj.sent),
				Timestamp: time.Now(),
			}, agg, tracker)
		case <-ctx.Done():
			return
		}
	}
}

func (u *UDPProber) emit(res ScanResult, agg *Aggregator, tracker *ProgressTracker) {
	for !agg.Push(res) {
		time.Sleep(time.Microsecond)
	}
	if tracker != nil {
		tracker.Advance(res.Target, 1)
	}
}

func (u *UDPProber) reapExpired(pending *rawPendingIndex, agg *Aggregator, tracker *ProgressTracker) {
	expired := pending.takeExpired(u.timeout)
	if u.Adaptive != nil {
		for range expired {
			u.Adaptive.ReportTimeout()
		}
	}
	for _, pj := range expired {
		u.emit(ScanResult{
			Target:    pj.job.Target,
			Port:      pj.job.Port,
			Kind:      KindUDP,
			State:     StateOpenFiltered,
			RTT:       time.Since(pj.sent),
			Timestamp: time.Now(),
		}, agg, tracker)
	}
}

func (u *UDPProber) drainPending(pending *rawPendingIndex, agg *Aggregator, tracker *ProgressTracker) {
	deadline := time.Now().Add(u.timeout)
	for time.Now().Before(deadline) && pending.len() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	u.reapExpired(pending, agg, tracker)
}

// Close releases both underlying raw sockets.
func (u *UDPProber) Close() error {
	err1 := u.icmpTr.Close()
	err2 := u.udpTr.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// IdleScanner implements the idle (zombie) scan technique (-sI): it
// correlates a third-party host's IP identification sequence before and
// after spoofing a SYN at the target from the zombie's address, inferring
// openness from whether the zombie emitted an unsolicited extra packet in
// response to the target's SYN/ACK.
type IdleScanner struct {
	Zombie    netip.Addr
	localIP   uint32
	srcPort   uint16
	timeout   time.Duration
	log       zerolog.Logger
	transport *rawsock.Transport
}

// NewIdleScanner builds a scanner that probes zombie's IP-ID sequence
// around each spoofed SYN.
func NewIdleScanner(zombie netip.Addr, opts RawOptions, log zerolog.Logger) (*IdleScanner, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	srcPort := opts.SrcPort
	if srcPort == 0 {
		srcPort = 54321
	}
	tr, err := rawsock.New(rawsock.ProtoTCP)
	if err != nil {
		return nil, err
	}
	return &IdleScanner{
		Zombie:    zombie,
		localIP:   addrToUint32(opts.LocalAddr),
		srcPort:   srcPort,
		timeout:   timeout,
		log:       log,
		transport: tr,
	}, nil
}

// Run implements Prober, serializing jobs: each port probed needs a clean
// before/after IP-ID sample from the zombie, so concurrent jobs sharing
// one zombie would corrupt each other's measurement.
func (s *IdleScanner) Run(ctx context.Context, jobs <-chan ScanJob, agg *Aggregator, tracker *ProgressTracker) {
	replies := make(chan rawsock.Reply, 64)
	go s.transport.RecvLoop(ctx, replies)

	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			res := s.scanOne(ctx, job, replies)
			for !agg.Push(res) {
				time.Sleep(time.Microsecond)
			}
			if tracker != nil {
				tracker.Advance(job.Target, 1)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *IdleScanner) zombieIPID(ctx context.Context, replies <-chan rawsock.Reply, probeID uint32) (uint16, bool) {
	zombieIP := addrToUint32(s.Zombie)
	pkt := rawsock.BuildTCP(s.localIP, zombieIP, s.srcPort, 1, probeID, rawsock.FlagSYN|rawsock.FlagACK)
	if err := s.transport.Send(pkt, zombieIP); err != nil {
		return 0, false
	}
	deadline := time.After(s.timeout)
	for {
		select {
		case rep := <-replies:
			if rep.Protocol == rawsock.ProtoTCP && rep.SrcAddr == zombieIP && rep.Flags&rawsock.FlagRST != 0 {
				return rep.IPID, true
			}
		case <-deadline:
			return 0, false
		case <-ctx.Done():
			return 0, false
		}
	}
}

func (s *IdleScanner) scanOne(ctx context.Context, job ScanJob, replies <-chan rawsock.Reply) ScanResult {
	res := ScanResult{Target: job.Target, Port: job.Port, Kind: KindIdle, Timestamp: time.Now()}
	start := time.Now()

	before, ok := s.zombieIPID(ctx, replies, uint32(time.Now().UnixNano()))
	if !ok {
		res.State = StateFiltered
		res.RTT = time.Since(start)
		return res
	}

	dst := addrToUint32(job.Target.Addr)
	zombieIP := addrToUint32(s.Zombie)
	spoofed := rawsock.BuildTCP(zombieIP, dst, s.srcPort, uint16(job.Port), uint32(time.Now().UnixNano()), rawsock.FlagSYN)
	if err := s.transport.Send(spoofed, dst); err != nil {
		s.log.Debug().Err(err).Msg("idle scan spoofed SYN send failed")
	}
	time.Sleep(s.timeout / 4)

	after, ok := s.zombieIPID(ctx, replies, uint32(time.Now().UnixNano()))
	res.RTT = time.Since(start)
	if !ok {
		res.State = StateFiltered
		return res
	}

	switch ipidDelta(before, after) {
	case 2:
		res.State = StateOpen
	case 1:
		res.State = StateClosed
	default:
		res.State = StateFiltered
	}
	return res
}

// ipidDelta computes the forward distance from before to after, correctly
// handling the 16-bit IP identification counter's wraparound.
func ipidDelta(before, after uint16) uint16 {
	return after - before
}

// Close releases the underlying raw socket.
func (s *IdleScanner) Close() error {
	return s.transport.Close()
}
