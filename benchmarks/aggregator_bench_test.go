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

package benchmarks

import (
	"sync"
	"testing"
	"time"

	"prortip/internal/scan"
)

// BenchmarkAggregatorPushPop measures single-producer/single-consumer
// throughput of the lock-free ring buffer under steady state (queue never
// empties or fills).
func BenchmarkAggregatorPushPop(b *testing.B) {
	agg := scan.NewAggregator(1024)
	res := scan.ScanResult{Port: 80, State: scan.StateOpen, Timestamp: time.Now()}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for !agg.Push(res) {
		}
		for {
			if _, ok := agg.Pop(); ok {
				break
			}
		}
	}
}

// BenchmarkAggregatorConcurrentProducers sweeps producer-goroutine counts
// against a single drainer, the shape a real scan puts the aggregator
// under: many probe goroutines pushing, one drain loop (or Drain at the
// end) consuming.
func BenchmarkAggregatorConcurrentProducers(b *testing.B) {
	for _, producers := range []int{1, 4, 16} {
		b.Run(concurrencyLabel(producers), func(b *testing.B) {
			agg := scan.NewAggregator(4096)
			res := scan.ScanResult{Port: 80, State: scan.StateOpen, Timestamp: time.Now()}

			stop := make(chan struct{})
			var drainWg sync.WaitGroup
			drainWg.Add(1)
			go func() {
				defer drainWg.Done()
				for {
					select {
					case <-stop:
						agg.Drain()
						return
					default:
						agg.Pop()
					}
				}
			}()

			b.ResetTimer()
			var wg sync.WaitGroup
			per := b.N / producers
			if per == 0 {
				per = 1
			}
			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < per; i++ {
						for !agg.Push(res) {
						}
					}
				}()
			}
			wg.Wait()
			close(stop)
			drainWg.Wait()
		})
	}
}
