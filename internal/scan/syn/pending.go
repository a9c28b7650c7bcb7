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
	"fmt"
	"sync"
	"time"
)

// pendingIndex is a best-effort lookup from (dstIP, dstPort, cookie) to the
// in-flight job that produced it, used only for RTT bookkeeping and for
// bounding how long an unanswered probe is kept around before being
// reported filtered. Losing an entry (eviction, restart) never causes a
// false accept: handleReply validates the cookie cryptographically first
// and only consults this index afterward to recover the original job.
type pendingIndex struct {
	mu sync.Mutex
	m  map[pendingKey]pendingJob
}

type pendingKey struct {
	dstIP   uint32
	dstPort uint16
	cookie  uint32
}

func newPendingIndex() *pendingIndex {
	return &pendingIndex{m: make(map[pendingKey]pendingJob)}
}

func (p *pendingIndex) put(dstIP uint32, dstPort uint16, cookie uint32, pj pendingJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[pendingKey{dstIP, dstPort, cookie}] = pj
}

func (p *pendingIndex) takeByCookie(dstIP uint32, dstPort uint16, cookie uint32) (pendingJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := pendingKey{dstIP, dstPort, cookie}
	pj, ok := p.m[k]
	if ok {
		delete(p.m, k)
	}
	return pj, ok
}

func (p *pendingIndex) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// takeExpired removes and returns every entry sent more than timeout ago.
func (p *pendingIndex) takeExpired(timeout time.Duration) []pendingJob {
	cutoff := time.Now().Add(-timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pendingJob
	for k, pj := range p.m {
		if pj.sent.Before(cutoff) {
			out = append(out, pj)
			delete(p.m, k)
		}
	}
	return out
}

func (k pendingKey) String() string {
	return fmt.Sprintf("%d:%d/%08x", k.dstIP, k.dstPort, k.cookie)
}
