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

// Package config holds the scan configuration surface: timing presets,
// rate limits, storage/checkpoint backend selection, and telemetry knobs,
// assembled by cmd/prortip from flags and threaded into every component.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TimingTemplate selects a canned tuple of timeout/parallelism/delay values,
// the classic T0 (paranoid) .. T5 (insane) scale.
type TimingTemplate int

const (
	T0Paranoid TimingTemplate = iota
	T1Sneaky
	T2Polite
	T3Normal
	T4Aggressive
	T5Insane
)

// Timing is the resolved tuple of values a TimingTemplate expands to.
type Timing struct {
	ProbeTimeout   time.Duration
	MaxParallelism int
	InitialRTT     time.Duration
	MaxRetries     int
}

// T3Normal's 1000ms ProbeTimeout is the spec-mandated default connect
// timeout (explicitly not 3000ms); the rest of the scale is rescaled
// around it so the template stays monotonically faster from T0 to T5.
var timingPresets = map[TimingTemplate]Timing{
	T0Paranoid:   {ProbeTimeout: 5 * time.Second, MaxParallelism: 1, InitialRTT: 300 * time.Millisecond, MaxRetries: 5},
	T1Sneaky:     {ProbeTimeout: 3 * time.Second, MaxParallelism: 4, InitialRTT: 300 * time.Millisecond, MaxRetries: 4},
	T2Polite:     {ProbeTimeout: 2 * time.Second, MaxParallelism: 32, InitialRTT: 200 * time.Millisecond, MaxRetries: 3},
	T3Normal:     {ProbeTimeout: 1 * time.Second, MaxParallelism: 256, InitialRTT: 100 * time.Millisecond, MaxRetries: 2},
	T4Aggressive: {ProbeTimeout: 500 * time.Millisecond, MaxParallelism: 1024, InitialRTT: 50 * time.Millisecond, MaxRetries: 1},
	T5Insane:     {ProbeTimeout: 250 * time.Millisecond, MaxParallelism: 4096, InitialRTT: 25 * time.Millisecond, MaxRetries: 0},
}

// Resolve looks up the concrete Timing tuple for a template.
func Resolve(t TimingTemplate) (Timing, error) {
	v, ok := timingPresets[t]
	if !ok {
		return Timing{}, fmt.Errorf("unknown timing template %d", t)
	}
	return v, nil
}

// ParseTimingTemplate accepts "T0".."T5" (case-insensitive) or the bare
// digit.
func ParseTimingTemplate(s string) (TimingTemplate, error) {
	switch s {
	case "T0", "t0", "0":
		return T0Paranoid, nil
	case "T1", "t1", "1":
		return T1Sneaky, nil
	case "T2", "t2", "2":
		return T2Polite, nil
	case "T3", "t3", "3":
		return T3Normal, nil
	case "T4", "t4", "4":
		return T4Aggressive, nil
	case "T5", "t5", "5":
		return T5Insane, nil
	default:
		return 0, fmt.Errorf("unrecognized timing template %q, want T0..T5", s)
	}
}

// ScanConfig is the fully assembled configuration for one scan invocation.
type ScanConfig struct {
	Targets string
	Ports   string

	Timing TimingTemplate

	RateLimit int64 // probes/sec, 0 disables pacing
	RateBurst int64

	UseSYN        bool
	StorageAdapter string // "memory" or "sqlite"
	SqlitePath     string

	CheckpointPath string // file-backed checkpoint store path, empty disables
	RedisAddr      string // enables Redis-backed checkpoint coordination

	KafkaAddr  string
	KafkaTopic string

	MetricsAddr    string
	TelemetryRate  float64
	LogIntervalSec int
}

// Hash computes a deterministic fingerprint of the fields that define a
// scan's index space (targets, ports, scan kind). A loaded checkpoint's
// ConfigHash is compared against this before its LastEmitted is trusted:
// resuming against a different target or port list would otherwise
// silently skip or duplicate work instead of failing loudly.
func Hash(targetsSpec, portsSpec string, kind int) string {
	h := sha256.New()
	h.Write([]byte(targetsSpec))
	h.Write([]byte{0})
	h.Write([]byte(portsSpec))
	h.Write([]byte{0})
	h.Write([]byte{byte(kind)})
	return hex.EncodeToString(h.Sum(nil))
}
