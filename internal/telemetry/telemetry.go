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

// Package telemetry provides opt-in, low-overhead scan metrics: counters
// for probes attempted/admitted by the rate limiter, states observed,
// storage commits/errors, and SYN cookie validation outcomes. When
// disabled, every exported function is a cheap no-op.
package telemetry

import (
	"hash/fnv"
	"net/http"
	"sync/atomic"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config controls sampling, the optional standalone /metrics endpoint, and
// the periodic summary log.
type Config struct {
	Enabled     bool
	SampleRate  float64 // 0..1, deterministic per target via FNV-1a
	MetricsAddr string  // e.g. ":9090"; empty disables the standalone server
	LogInterval time.Duration
}

var (
	modEnabled        atomic.Bool
	samplingThreshold atomic.Uint64

	probesAttempted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prortip_probes_attempted_total",
		Help: "Total probe attempts submitted to the rate limiter",
	})
	probesAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prortip_probes_admitted_total",
		Help: "Total probes admitted by the rate limiter",
	})
	statesObserved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prortip_states_observed_total",
		Help: "Total ports observed in each final state",
	}, []string{"state"})
	storageCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prortip_storage_commits_total",
		Help: "Total result rows committed to the storage backend",
	})
	storageErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prortip_storage_commit_errors_total",
		Help: "Total storage commit batch failures",
	})
	cookiesValidated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prortip_syn_cookies_validated_total",
		Help: "Total stateless SYN cookies that validated successfully",
	})
	cookiesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prortip_syn_cookies_rejected_total",
		Help: "Total stateless SYN cookies rejected as invalid or stale",
	})
)

func init() {
	prometheus.MustRegister(probesAttempted, probesAdmitted, statesObserved,
		storageCommits, storageErrors, cookiesValidated, cookiesRejected)
}

// Enable configures and activates telemetry. Safe to call multiple times.
func Enable(cfg Config, log zerolog.Logger) {
	if cfg.SampleRate < 0 {
		cfg.SampleRate = 0
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	var thr uint64
	switch {
	case cfg.SampleRate <= 0:
		thr = 0
	case cfg.SampleRate >= 1:
		thr = ^uint64(0)
	default:
		max := ^uint64(0)
		f := cfg.SampleRate * (float64(max) + 1.0)
		if f < 1 {
			f = 1
		}
		thr = uint64(f) - 1
	}
	samplingThreshold.Store(thr)
	modEnabled.Store(cfg.Enabled)

	if cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
	if cfg.LogInterval > 0 {
		go runSummaryLoop(cfg.LogInterval, log)
	}
}

// Enabled reports whether telemetry is active.
func Enabled() bool { return modEnabled.Load() }

// ObserveProbe records one rate-limiter decision.
func ObserveProbe(admitted bool) {
	if !modEnabled.Load() {
		return
	}
	probesAttempted.Inc()
	if admitted {
		probesAdmitted.Inc()
	}
}

// ObserveState records one final port classification.
func ObserveState(state string) {
	if !modEnabled.Load() {
		return
	}
	statesObserved.WithLabelValues(state).Inc()
}

// ObserveStorageBatch records a successful or failed commit batch.
func ObserveStorageBatch(rows int, err error) {
	if !modEnabled.Load() {
		return
	}
	if err != nil {
		storageErrors.Inc()
		return
	}
	storageCommits.Add(float64(rows))
}

// ObserveCookie records a SYN cookie validation outcome, sampled
// deterministically by target so a flood doesn't spam all samples onto one
// host.
func ObserveCookie(target string, valid bool) {
	if !modEnabled.Load() || !sampled(target) {
		return
	}
	if valid {
		cookiesValidated.Inc()
	} else {
		cookiesRejected.Inc()
	}
}

func sampled(key string) bool {
	thr := samplingThreshold.Load()
	if thr == 0 {
		return false
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64() <= thr
}

func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}

func runSummaryLoop(interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		log.Info().
			Float64("probes_attempted", counterValue(probesAttempted)).
			Float64("probes_admitted", counterValue(probesAdmitted)).
			Float64("storage_commits", counterValue(storageCommits)).
			Float64("storage_errors", counterValue(storageErrors)).
			Msg("scan telemetry summary")
	}
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
