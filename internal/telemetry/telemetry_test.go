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

package telemetry

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestObserveProbeNoopWhenDisabled(t *testing.T) {
	modEnabled.Store(false)
	before := counterValue(probesAttempted)
	ObserveProbe(true)
	after := counterValue(probesAttempted)
	if before != after {
		t.Fatalf("expected no change while disabled: before=%v after=%v", before, after)
	}
}

func TestEnableTracksCounters(t *testing.T) {
	Enable(Config{Enabled: true, SampleRate: 1.0}, zerolog.Nop())
	defer modEnabled.Store(false)

	before := counterValue(probesAttempted)
	ObserveProbe(true)
	after := counterValue(probesAttempted)
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1: before=%v after=%v", before, after)
	}
}

func TestSampledIsDeterministic(t *testing.T) {
	samplingThreshold.Store(^uint64(0))
	if !sampled("host-a") {
		t.Fatalf("expected sampled(host-a) to be true at full sample rate")
	}
	a := sampled("host-a")
	b := sampled("host-a")
	if a != b {
		t.Fatalf("expected deterministic sampling for the same key")
	}
}
