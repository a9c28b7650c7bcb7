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

package ratelimit

import (
	"testing"
	"time"
)

func TestHostGroupLimiterReentryIsFree(t *testing.T) {
	h := NewHostGroupLimiter(1)
	h.Enter("10.0.0.1")
	done := make(chan struct{})
	go func() {
		h.Enter("10.0.0.1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("re-entering an already-active host should not block")
	}
	if h.InFlight() != 1 {
		t.Fatalf("InFlight = %d, want 1", h.InFlight())
	}
}

func TestHostGroupLimiterBlocksAtCapacity(t *testing.T) {
	h := NewHostGroupLimiter(1)
	h.Enter("10.0.0.1")

	entered := make(chan struct{})
	go func() {
		h.Enter("10.0.0.2")
		close(entered)
	}()

	select {
	case <-entered:
		t.Fatal("second distinct host should not enter while at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	h.Leave("10.0.0.1")
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second host never admitted after first left")
	}
}

func TestHostGroupLimiterDisabledWhenMaxZero(t *testing.T) {
	h := NewHostGroupLimiter(0)
	h.Enter("a")
	h.Enter("b")
	h.Enter("c")
	if h.InFlight() != 0 {
		t.Fatalf("disabled limiter should not track state, got InFlight=%d", h.InFlight())
	}
}
