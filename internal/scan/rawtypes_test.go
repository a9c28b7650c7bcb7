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
	"testing"

	"prortip/internal/rawsock"
)

func TestClassifyRawReplyRSTMeansClosedExceptForACK(t *testing.T) {
	for _, kind := range []Kind{KindFIN, KindNULL, KindXmas} {
		if got := classifyRawReply(kind, rawsock.FlagRST); got != StateClosed {
			t.Fatalf("kind %v: RST -> %v, want StateClosed", kind, got)
		}
	}
	if got := classifyRawReply(KindACK, rawsock.FlagRST); got != StateUnfiltered {
		t.Fatalf("ACK: RST -> %v, want StateUnfiltered", got)
	}
}

func TestClassifyRawReplyNonRSTIsFiltered(t *testing.T) {
	if got := classifyRawReply(KindFIN, rawsock.FlagACK); got != StateFiltered {
		t.Fatalf("unexpected non-RST reply -> %v, want StateFiltered", got)
	}
}

func TestClassifyRawTimeoutMatchesRFC793Table(t *testing.T) {
	for _, kind := range []Kind{KindFIN, KindNULL, KindXmas} {
		if got := classifyRawTimeout(kind); got != StateOpenFiltered {
			t.Fatalf("kind %v: timeout -> %v, want StateOpenFiltered", kind, got)
		}
	}
	if got := classifyRawTimeout(KindACK); got != StateFiltered {
		t.Fatalf("ACK: timeout -> %v, want StateFiltered", got)
	}
}

func TestIPIDDeltaHandlesWraparound(t *testing.T) {
	if d := ipidDelta(65534, 0); d != 2 {
		t.Fatalf("ipidDelta wraparound = %d, want 2", d)
	}
	if d := ipidDelta(100, 102); d != 2 {
		t.Fatalf("ipidDelta = %d, want 2", d)
	}
	if d := ipidDelta(100, 101); d != 1 {
		t.Fatalf("ipidDelta = %d, want 1", d)
	}
}
