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
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"prortip/pkg/ratelimit"
)

// ConnectProber runs full TCP three-way-handshake probes using the standard
// dialer. It is the fallback/default path used whenever the stateless SYN
// fast path is unavailable (no raw-socket privilege) or not requested.
type ConnectProber struct {
	limiter *ratelimit.Limiter
	timeout time.Duration
	workers int
	log     zerolog.Logger

	// Adaptive is the reactive throttle layer: set after construction (it
	// is optional, so existing call sites that never touch it keep
	// working). probeOne reports every timeout/success through it so the
	// scheduler's emission loop can back off under ICMP rate-limiting or
	// sustained loss.
	Adaptive *ratelimit.AdaptiveThrottle
}

// NewConnectProber builds a prober bounded by the given limiter and worker
// pool size. The default per-connect timeout is 1000ms: long enough for a
// handshake over a normal path, short enough that a dead-host flood does
// not stall a large scan.
func NewConnectProber(limiter *ratelimit.Limiter, timeout time.Duration, workers int, log zerolog.Logger) *ConnectProber {
	if workers <= 0 {
		workers = 256
	}
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	return &ConnectProber{limiter: limiter, timeout: timeout, workers: workers, log: log}
}

// Run drains jobs from the given channel until it is closed, pushing each
// ScanResult into agg. It blocks until all jobs have been processed.
func (c *ConnectProber) Run(ctx context.Context, jobs <-chan ScanJob, agg *Aggregator, tracker *ProgressTracker) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.workers)

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for c.limiter != nil && !c.limiter.Acquire(1) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(j ScanJob) {
			defer wg.Done()
			defer func() { <-sem }()
			res := c.probeOne(ctx, j)
			for !agg.Push(res) {
				// aggregator momentarily full; yield and retry
				time.Sleep(time.Microsecond)
			}
			if tracker != nil {
				tracker.Advance(j.Target, 1)
			}
		}(job)
	}
	wg.Wait()
}

func (c *ConnectProber) probeOne(ctx context.Context, j ScanJob) ScanResult {
	start := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	addr := net.JoinHostPort(j.Target.Addr.String(), strconv.FormatUint(uint64(j.Port), 10))
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	rtt := time.Since(start)

	res := ScanResult{
		Target:    j.Target,
		Port:      j.Port,
		Kind:      KindConnect,
		RTT:       rtt,
		Timestamp: time.Now(),
	}

	if err == nil {
		_ = conn.Close()
		res.State = StateOpen
		if c.Adaptive != nil {
			c.Adaptive.ReportSuccess()
		}
		return res
	}

	res.Err = err
	res.State = classifyConnectError(err)
	if c.Adaptive != nil {
		if res.State == StateFiltered {
			c.Adaptive.ReportTimeout()
		} else {
			c.Adaptive.ReportSuccess()
		}
	}
	return res
}

// classifyConnectError maps a net.Dial error into the port state table
// mandated for the TCP connect technique: RST -> closed, timeout/no-route ->
// filtered, anything else unexpected -> filtered (conservative default).
func classifyConnectError(err error) State {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return StateClosed
		}
		if opErr.Timeout() {
			return StateFiltered
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StateFiltered
	}
	return StateFiltered
}

// errKindString formats a probe error for logging as its full error text;
// a nil error yields the empty string.
func errKindString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
