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

// Package main provides the entry point for prortip, a concurrent TCP/SYN
// port scanner.
//
// This file orchestrates the whole scan the way a long-lived service wires
// its components in main: parse flags, build the storage backend, the
// checkpoint store, the rate limiter, the prober, and the scheduler, start
// the background workers, run the scan to completion, and shut everything
// down in order so no in-flight result or checkpoint is lost.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"prortip/internal/checkpoint"
	"prortip/internal/config"
	"prortip/internal/detection"
	"prortip/internal/scan"
	"prortip/internal/scan/syn"
	"prortip/internal/storage"
	"prortip/internal/telemetry"
	"prortip/pkg/ports"
	"prortip/pkg/ratelimit"
	"prortip/pkg/shuffle"
	"prortip/pkg/targets"
)

func main() {
	targetsSpec := flag.String("targets", "", "comma-separated targets: IPs, CIDRs, dash ranges, or hostnames")
	targetsFile := flag.String("iL", "", "read targets from file, one per line (overrides -targets)")
	portsSpec := flag.String("ports", "1-1000", "port spec: comma list, ranges, or 'top100'/'top20'")

	timingFlag := flag.String("T", "T3", "timing template T0 (paranoid) .. T5 (insane)")

	sS := flag.Bool("sS", false, "stateless raw-socket SYN scan (requires CAP_NET_RAW)")
	sT := flag.Bool("sT", false, "TCP connect scan (default if no -s flag is given)")
	sF := flag.Bool("sF", false, "FIN scan")
	sN := flag.Bool("sN", false, "NULL scan")
	sX := flag.Bool("sX", false, "Xmas scan")
	sA := flag.Bool("sA", false, "ACK scan")
	sU := flag.Bool("sU", false, "UDP scan")
	sI := flag.Bool("sI", false, "idle (zombie) scan; requires -zombie-host")
	zombieHost := flag.String("zombie-host", "", "zombie host address for -sI")

	synBatch := flag.Int("syn-batch", 0, "Recvmmsg batch size for the SYN engine; 0 uses the one-packet baseline")
	parallel := flag.Int("max-parallel", 0, "max concurrent probes; 0 picks an adaptive default from the per-host port count")

	rateLimit := flag.Int64("rate-limit", 0, "probes/sec cap; 0 disables pacing")
	rateBurst := flag.Int64("rate-burst", 0, "token bucket burst capacity; 0 defaults to 2x rate-limit")
	hostGroupMax := flag.Int("max-hostgroup", 0, "max distinct hosts in flight at once; 0 disables this layer")

	storageAdapter := flag.String("storage", "memory", "result storage backend: memory or sqlite")
	sqlitePath := flag.String("sqlite-path", "", "sqlite database path (required when -storage=sqlite)")
	batchSize := flag.Int("storage-batch", 256, "result batch size before a storage commit")
	flushTimeout := flag.Duration("storage-flush-interval", 250*time.Millisecond, "max time a partial batch waits before a forced flush")

	checkpointPath := flag.String("checkpoint-file", "", "file-backed checkpoint log path; empty disables file checkpointing")
	redisAddr := flag.String("checkpoint-redis", "", "Redis address for shared checkpoint coordination; empty disables it")
	scanID := flag.String("scan-id", "", "stable identifier for this scan's checkpoint; required with checkpointing enabled")
	checkpointEvery := flag.Uint64("checkpoint-every", 5000, "emit a checkpoint every N emitted indices")

	kafkaTopic := flag.String("kafka-topic", "", "Kafka topic for result publishing; no Kafka producer is wired in this build, so setting it only logs a warning")

	metricsAddr := flag.String("metrics-addr", "", "if non-empty, expose Prometheus /metrics on this address")
	telemetryRate := flag.Float64("telemetry-sample", 1.0, "deterministic per-target telemetry sampling rate (0..1)")
	logInterval := flag.Duration("telemetry-log-interval", 0, "periodic telemetry summary log interval; 0 disables")

	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	kind, err := resolveKind(*sS, *sT, *sF, *sN, *sX, *sA, *sU, *sI)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid scan type flags")
	}
	if kind == scan.KindIdle && *zombieHost == "" {
		log.Fatal().Msg("-sI requires -zombie-host")
	}

	cfg := config.ScanConfig{
		Targets:        *targetsSpec,
		Ports:          *portsSpec,
		RateLimit:      *rateLimit,
		RateBurst:      *rateBurst,
		UseSYN:         kind == scan.KindSYN,
		StorageAdapter: *storageAdapter,
		SqlitePath:     *sqlitePath,
		CheckpointPath: *checkpointPath,
		RedisAddr:      *redisAddr,
		KafkaTopic:     *kafkaTopic,
		MetricsAddr:    *metricsAddr,
		TelemetryRate:  *telemetryRate,
	}

	tmpl, err := config.ParseTimingTemplate(*timingFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid timing template")
	}
	cfg.Timing = tmpl
	timing, err := config.Resolve(tmpl)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid resolved timing")
	}

	telemetry.Enable(telemetry.Config{
		Enabled:     *metricsAddr != "" || *logInterval > 0,
		SampleRate:  *telemetryRate,
		MetricsAddr: *metricsAddr,
		LogInterval: *logInterval,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolvedTargets, err := resolveTargets(ctx, *targetsFile, cfg.Targets)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse targets")
	}
	if len(resolvedTargets) == 0 {
		log.Fatal().Msg("no targets given; use -targets or -iL")
	}

	portNums, err := resolvePorts(*portsSpec)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse port spec")
	}

	backend, err := storage.BuildBackend(storage.Options{Adapter: *storageAdapter, SqlitePath: *sqlitePath})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build storage backend")
	}

	worker := storage.NewWorker(backend, *batchSize, *flushTimeout, log)
	worker.Start(ctx)

	if *kafkaTopic != "" {
		log.Warn().Str("topic", *kafkaTopic).Msg("kafka-topic given but no Producer is wired in this build; see internal/telemetry/kafka_sink.go")
	}

	var cpStore checkpoint.Store
	switch {
	case *redisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		cpStore = checkpoint.NewRedisStore(client, 0)
	case *checkpointPath != "":
		fs, err := checkpoint.NewFileStore(*checkpointPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open checkpoint file")
		}
		defer fs.Close()
		cpStore = fs
	}

	configHash := config.Hash(*targetsSpec, *portsSpec, int(kind))

	var shuffleKey shuffle.Key
	var startIndex uint64
	if cpStore != nil && *scanID != "" {
		if prior, ok, err := cpStore.Load(*scanID); err != nil {
			log.Warn().Err(err).Msg("failed to load prior checkpoint; starting fresh")
		} else if ok && prior.ConfigHash == configHash {
			key, err := shuffle.ParseKey(prior.ShuffleKey)
			if err != nil {
				log.Warn().Err(err).Msg("checkpoint held an unparsable shuffle key; starting fresh")
			} else {
				shuffleKey = key
				startIndex = prior.LastEmitted + 1
				log.Info().Uint64("last_emitted", prior.LastEmitted).Msg("resuming from checkpoint")
			}
		} else if ok {
			log.Warn().Msg("checkpoint config hash mismatch; starting fresh instead of risking skipped or duplicated work")
		}
	}
	if shuffleKey == (shuffle.Key{}) {
		key, err := shuffle.NewKey()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate shuffle key")
		}
		shuffleKey = key
	}

	var limiter *ratelimit.Limiter
	if *rateLimit > 0 {
		burst := *rateBurst
		if burst <= 0 {
			burst = *rateLimit * 2
		}
		limiter = ratelimit.New(burst, *rateLimit, ratelimit.Options{Logger: log})
		defer limiter.Close()
	}
	adaptive := ratelimit.NewAdaptiveThrottle()

	agg := scan.NewAggregator(4096)
	tracker := scan.NewProgressTracker()

	workers := *parallel
	if workers <= 0 {
		workers = scan.DefaultParallelForHost(len(portNums))
	}

	local, err := localSourceAddr(resolvedTargets[0].Addr)
	if err != nil && kind != scan.KindConnect {
		log.Fatal().Err(err).Msg("could not determine local source address for raw-socket scan")
	}

	prober, closer, err := buildProber(kind, *zombieHost, syn.Options{
		LocalAddr: local,
		Timeout:   timing.ProbeTimeout,
		Limiter:   limiter,
		BatchSize: *synBatch,
	}, scan.RawOptions{
		LocalAddr: local,
		Timeout:   timing.ProbeTimeout,
		Limiter:   limiter,
	}, workers, adaptive, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize prober; rerun with elevated privileges or choose -sT")
	}
	if closer != nil {
		defer closer.Close()
	}

	sched := scan.NewScheduler(limiter, tracker, agg, prober, workers, log)
	sched.Adaptive = adaptive
	sched.HostGroup = ratelimit.NewHostGroupLimiter(*hostGroupMax)
	sched.Detector = detection.Disabled{}
	sched.Checkpoint = cpStore
	sched.ScanID = *scanID
	sched.ConfigHash = configHash
	sched.CheckpointEvery = *checkpointEvery

	plan := scan.Plan{
		Targets:    resolvedTargets,
		Ports:      scan.NewPortSet(portNums),
		Kind:       kind,
		ShuffleKey: shuffleKey,
		StartIndex: startIndex,
	}

	bridge := scan.NewProgressBridge(tracker, plan.TotalWork(), 0)
	bridge.Start()

	log.Info().Int("targets", len(resolvedTargets)).Int("ports", len(portNums)).Msg("scan starting")
	results := sched.Run(ctx, plan)
	bridge.Stop()

	for _, r := range results {
		worker.Submit(r)
		telemetry.ObserveState(r.State.String())
		if r.State == scan.StateOpen {
			if r.Service != "" {
				fmt.Printf("%s:%d\t%s\t%s %s\n", r.Target.Addr.String(), r.Port, r.State, r.Service, r.Version)
			} else {
				fmt.Printf("%s:%d\t%s\n", r.Target.Addr.String(), r.Port, r.State)
			}
		}
	}

	worker.Close()
	<-worker.Done()

	log.Info().Int("results", len(results)).Msg("scan complete")
}

func resolveTargets(ctx context.Context, file, spec string) ([]targets.Target, error) {
	if file != "" {
		return targets.ParseFile(ctx, file, nil)
	}
	return targets.Parse(ctx, spec, nil)
}

func resolvePorts(spec string) ([]uint32, error) {
	switch spec {
	case "top20":
		return ports.TopN(20), nil
	case "top100":
		return ports.TopN(100), nil
	default:
		return ports.Parse(spec)
	}
}

// resolveKind maps the mutually-exclusive -sX flags to a scan.Kind,
// defaulting to a TCP connect scan when none is given.
func resolveKind(sS, sT, sF, sN, sX, sA, sU, sI bool) (scan.Kind, error) {
	set := 0
	kind := scan.KindConnect
	for _, f := range []struct {
		on   bool
		kind scan.Kind
	}{
		{sS, scan.KindSYN},
		{sF, scan.KindFIN},
		{sN, scan.KindNULL},
		{sX, scan.KindXmas},
		{sA, scan.KindACK},
		{sU, scan.KindUDP},
		{sI, scan.KindIdle},
	} {
		if f.on {
			set++
			kind = f.kind
		}
	}
	if sT {
		set++
		kind = scan.KindConnect
	}
	if set > 1 {
		return 0, fmt.Errorf("only one scan-type flag may be given")
	}
	return kind, nil
}

// closeFunc is satisfied by every raw-socket prober's Close method.
type closeFunc interface {
	Close() error
}

// buildProber selects and constructs the concrete Prober for kind, wiring
// the adaptive throttle into whichever one it builds.
func buildProber(kind scan.Kind, zombieHost string, synOpts syn.Options, rawOpts scan.RawOptions, workers int, adaptive *ratelimit.AdaptiveThrottle, log zerolog.Logger) (scan.Prober, closeFunc, error) {
	switch kind {
	case scan.KindSYN:
		engine, err := syn.NewEngine(synOpts, log)
		if err != nil {
			return nil, nil, err
		}
		engine.Adaptive = adaptive
		return engine, engine, nil
	case scan.KindFIN, scan.KindNULL, scan.KindXmas, scan.KindACK:
		p, err := scan.NewRawProber(kind, rawOpts, log)
		if err != nil {
			return nil, nil, err
		}
		p.Adaptive = adaptive
		return p, p, nil
	case scan.KindUDP:
		p, err := scan.NewUDPProber(rawOpts, log)
		if err != nil {
			return nil, nil, err
		}
		p.Adaptive = adaptive
		return p, p, nil
	case scan.KindIdle:
		zombie, err := netip.ParseAddr(zombieHost)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid -zombie-host: %w", err)
		}
		p, err := scan.NewIdleScanner(zombie, rawOpts, log)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		c := scan.NewConnectProber(rawOpts.Limiter, rawOpts.Timeout, workers, log)
		c.Adaptive = adaptive
		return c, nil, nil
	}
}

// localSourceAddr picks a local address for raw-socket header construction
// by dialing UDP to the first target (no packet is actually sent; a UDP
// dial just resolves routing) and reading back the chosen local address.
func localSourceAddr(dst netip.Addr) (netip.Addr, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(dst.String(), "80"))
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.ParseAddr(host)
}
