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
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"prortip/internal/checkpoint"
	"prortip/internal/detection"
	"prortip/pkg/ratelimit"
	"prortip/pkg/shuffle"
	"prortip/pkg/targets"
)

// Prober is anything that can drain a job channel into an Aggregator. Both
// ConnectProber and the stateless SYN engine satisfy it.
type Prober interface {
	Run(ctx context.Context, jobs <-chan ScanJob, agg *Aggregator, tracker *ProgressTracker)
}

// Scheduler owns target/port expansion, the per-host worker pool, and the
// shared aggregator/tracker/limiter wiring, mirroring the orchestration
// shape of a long-lived service's main wiring: construct components, start
// background workers, run to completion, stop in order.
type Scheduler struct {
	Limiter  *ratelimit.Limiter
	Tracker  *ProgressTracker
	Agg      *Aggregator
	Prober   Prober
	Parallel int
	log      zerolog.Logger

	// HostGroup and Adaptive are the second and third rate-limiter
	// layers (see pkg/ratelimit): Limiter paces raw probe volume,
	// HostGroup paces how many distinct hosts are in flight at once, and
	// Adaptive reacts to loss. A job is enumerated onto the jobs channel
	// only once all three admit. Both are optional (nil-safe); callers
	// that never set them get the first behavior only.
	HostGroup *ratelimit.HostGroupLimiter
	Adaptive  *ratelimit.AdaptiveThrottle

	// Detector runs enrichment on every StateOpen result after the scan
	// completes and before results reach storage. Nil skips enrichment
	// entirely; cmd/prortip wires detection.Disabled{} by default.
	Detector detection.ServiceProbe

	// Checkpoint and ScanID together enable resumable emission (ConfigHash
	// is recorded in each saved Checkpoint): when both are set, Run saves a Checkpoint
	// periodically (every CheckpointEvery emitted indices), once more on
	// interrupt or completion, and a caller can resume a later Run by
	// setting Plan.StartIndex/ShuffleKey from a loaded Checkpoint.
	Checkpoint      checkpoint.Store
	ScanID          string
	ConfigHash      string
	CheckpointEvery uint64
}

// NewScheduler builds a Scheduler, clamping Parallel against half the
// process's open-file-descriptor limit the way a scanner must to avoid FD
// exhaustion when both raw sockets and connect-scan sockets are in flight.
func NewScheduler(limiter *ratelimit.Limiter, tracker *ProgressTracker, agg *Aggregator, prober Prober, parallel int, log zerolog.Logger) *Scheduler {
	requested := parallel
	parallel = clampParallel(parallel)
	if requested > parallel {
		log.Info().Int("requested", requested).Int("clamped", parallel).Msg("max parallelism clamped to half the open-file limit")
	}
	return &Scheduler{
		Limiter:         limiter,
		Tracker:         tracker,
		Agg:             agg,
		Prober:          prober,
		Parallel:        parallel,
		log:             log,
		HostGroup:       ratelimit.NewHostGroupLimiter(0),
		Adaptive:        ratelimit.NewAdaptiveThrottle(),
		CheckpointEvery: 5000,
	}
}

// clampParallel reconciles the requested worker count against the
// process's RLIMIT_NOFILE; NewScheduler logs the adjustment once so an
// operator understands why a requested --max-parallel was not honored verbatim.
func clampParallel(requested int) int {
	if requested <= 0 {
		requested = 1000
	}
	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err == nil {
		cap := int(rlim.Cur / 2)
		if cap > 0 && requested > cap {
			return cap
		}
	}
	return requested
}

// Plan is the fully expanded unit of work for one invocation: every
// (target, port) pair plus the kind of probe to run. The (target, port)
// space is flattened to a single index range [0, N) (host-major: index =
// hostIdx*portsLen + portIdx) and emitted through a keyed shuffle so the
// wire order doesn't trivially reveal the scan's progression. ShuffleKey
// is generated fresh per scan unless resuming from a checkpoint, in which
// case it must be the checkpoint's key so the permutation is reproduced
// exactly; StartIndex resumes emission at a prior LastEmitted+1.
type Plan struct {
	Targets    []targets.Target
	Ports      PortSet
	Kind       Kind
	ShuffleKey shuffle.Key
	StartIndex uint64
}

// TotalWork returns Σ(hosts×ports), computed once up front so the progress
// bridge's poll interval is derived from the real scan size rather than a
// value recomputed (and potentially shadowed) inside a per-host loop.
func (p Plan) TotalWork() uint64 {
	return uint64(len(p.Targets)) * uint64(p.Ports.Len())
}

// Run expands the plan into jobs, registers progress for every target up
// front, emits jobs in shuffled index order (gated by the host-group and
// adaptive rate-limiter layers in addition to the global Limiter the
// Prober itself acquires against), checkpoints emission progress, starts
// the prober, and blocks until the whole plan has been probed. Results
// that came back StateOpen are run through Detector before being
// returned, if one is set.
func (s *Scheduler) Run(ctx context.Context, plan Plan) []ScanResult {
	for _, t := range plan.Targets {
		s.Tracker.Register(t, uint64(plan.Ports.Len()))
	}

	n := plan.TotalWork()
	portsLen := uint64(plan.Ports.Len())
	if n == 0 || portsLen == 0 {
		return s.Agg.Drain()
	}

	jobs := make(chan ScanJob, minInt(s.Parallel, 4096))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		s.emit(ctx, plan, n, portsLen, jobs)
	}()

	s.Prober.Run(ctx, jobs, s.Agg, s.Tracker)
	wg.Wait()

	results := s.Agg.Drain()
	s.enrich(ctx, results)
	return results
}

// emit walks the shuffled index space starting at plan.StartIndex,
// translating each shuffled index back to a (target, port) pair, gating
// every job on the host-group and adaptive throttle layers, and
// checkpointing progress along the way.
func (s *Scheduler) emit(ctx context.Context, plan Plan, n, portsLen uint64, jobs chan<- ScanJob) {
	shuf := shuffle.New(plan.ShuffleKey, n)
	hostRemaining := make(map[string]int, len(plan.Targets))
	hostEntered := make(map[string]bool, len(plan.Targets))
	for _, t := range plan.Targets {
		hostRemaining[t.Addr.String()] = plan.Ports.Len()
	}

	lastSaved := plan.StartIndex
	i := plan.StartIndex
	for ; i < n; i++ {
		flat := shuf.At(n, i)
		hostIdx := flat / portsLen
		portIdx := flat % portsLen
		target := plan.Targets[hostIdx]
		host := target.Addr.String()

		if s.HostGroup != nil && !hostEntered[host] {
			s.HostGroup.Enter(host)
			hostEntered[host] = true
		}
		for s.Adaptive != nil && !s.Adaptive.Allow() {
			select {
			case <-ctx.Done():
				if i > 0 {
					s.saveCheckpoint(i-1, n, plan.ShuffleKey)
				}
				return
			case <-time.After(time.Millisecond):
			}
		}

		select {
		case jobs <- ScanJob{Target: target, Port: plan.Ports.At(int(portIdx)), Kind: plan.Kind}:
		case <-ctx.Done():
			if i > 0 {
				s.saveCheckpoint(i-1, n, plan.ShuffleKey)
			}
			return
		}

		hostRemaining[host]--
		if hostRemaining[host] <= 0 && s.HostGroup != nil {
			s.HostGroup.Leave(host)
		}

		if s.CheckpointEvery > 0 && i-lastSaved >= s.CheckpointEvery {
			s.saveCheckpoint(i, n, plan.ShuffleKey)
			lastSaved = i
		}
	}
	s.saveCheckpoint(n-1, n, plan.ShuffleKey)
}

func (s *Scheduler) saveCheckpoint(lastEmitted, n uint64, key shuffle.Key) {
	if s.Checkpoint == nil || s.ScanID == "" {
		return
	}
	cp := checkpoint.Checkpoint{
		ScanID:      s.ScanID,
		ShuffleKey:  key.String(),
		N:           n,
		LastEmitted: lastEmitted,
		ConfigHash:  s.ConfigHash,
		StartUnix:   time.Now().Unix(),
	}
	if err := s.Checkpoint.Save(cp); err != nil {
		s.log.Warn().Err(err).Msg("failed to save checkpoint")
	}
}

// enrich runs Detector.ProbeService against every StateOpen result,
// silently skipping a result on error or timeout: detection is a
// best-effort enhancement, never a reason to fail the scan.
func (s *Scheduler) enrich(ctx context.Context, results []ScanResult) {
	if s.Detector == nil {
		return
	}
	for i := range results {
		if results[i].State != StateOpen {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		info, err := s.Detector.ProbeService(dctx, results[i].Target.Addr.String(), results[i].Port)
		cancel()
		if err != nil {
			continue
		}
		results[i].Service = info.Name
		results[i].Version = info.Version
		results[i].Banner = info.Banner
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DefaultParallelForHost picks the adaptive per-host worker count from the
// number of ports being probed per host: wider port sweeps get more
// concurrency, always clamped against half the process's open-file-
// descriptor limit.
func DefaultParallelForHost(portsPerHost int) int {
	var base int
	switch {
	case portsPerHost >= 10_000:
		base = 1000
	case portsPerHost >= 1_000:
		base = 500
	case portsPerHost >= 100:
		base = 200
	default:
		base = 20
	}
	return clampParallel(base)
}
