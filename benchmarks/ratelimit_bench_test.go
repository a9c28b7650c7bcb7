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

	"prortip/pkg/ratelimit"
)

// BenchmarkLimiterAcquireSingleThreaded measures the uncontended cost of a
// single Acquire/Release pair, the baseline every concurrent number below
// is compared against.
func BenchmarkLimiterAcquireSingleThreaded(b *testing.B) {
	l := ratelimit.New(1_000_000, 1_000_000, ratelimit.Options{})
	defer l.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if l.Acquire(1) {
			l.Release(1)
		}
	}
}

// BenchmarkLimiterAcquireConcurrent sweeps goroutine counts to show how the
// striped-counter design holds up under contention, mirroring the teacher's
// own concurrency sweep shape for the VSA hot path.
func BenchmarkLimiterAcquireConcurrent(b *testing.B) {
	for _, goroutines := range []int{1, 4, 16, 64} {
		b.Run(concurrencyLabel(goroutines), func(b *testing.B) {
			l := ratelimit.New(1_000_000, 1_000_000, ratelimit.Options{})
			defer l.Close()

			b.ResetTimer()
			var wg sync.WaitGroup
			per := b.N / goroutines
			if per == 0 {
				per = 1
			}
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < per; i++ {
						if l.Acquire(1) {
							l.Release(1)
						}
					}
				}()
			}
			wg.Wait()
		})
	}
}

func concurrencyLabel(n int) string {
	switch n {
	case 1:
		return "goroutines=1"
	case 4:
		return "goroutines=4"
	case 16:
		return "goroutines=16"
	default:
		return "goroutines=64"
	}
}
