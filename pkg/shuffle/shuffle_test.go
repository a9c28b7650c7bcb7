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

package shuffle

import "testing"

func TestShuffleIsBijective(t *testing.T) {
	var key Key
	for i := range key {
		key[i] = byte(i)
	}
	const n = 500
	s := New(key, n)

	seen := make(map[uint64]bool, n)
	for i := uint64(0); i < n; i++ {
		v := s.At(n, i)
		if v >= n {
			t.Fatalf("At(%d) = %d out of range [0,%d)", i, v, n)
		}
		if seen[v] {
			t.Fatalf("At(%d) = %d duplicates a prior output", i, v)
		}
		seen[v] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct outputs, got %d", n, len(seen))
	}
}

func TestShuffleDiffersFromIdentity(t *testing.T) {
	var key Key
	for i := range key {
		key[i] = byte(i * 7)
	}
	const n = 1000
	s := New(key, n)

	identical := 0
	for i := uint64(0); i < n; i++ {
		if s.At(n, i) == i {
			identical++
		}
	}
	if identical > n/4 {
		t.Fatalf("expected shuffle to move most indices, %d/%d stayed fixed", identical, n)
	}
}

func TestShuffleHandlesTrivialDomain(t *testing.T) {
	var key Key
	s := New(key, 1)
	if v := s.At(1, 0); v != 0 {
		t.Fatalf("At(1,0) = %d, want 0", v)
	}
}

func TestShuffleDifferentKeysDifferentOrder(t *testing.T) {
	var k1, k2 Key
	for i := range k2 {
		k2[i] = byte(i + 1)
	}
	const n = 200
	s1 := New(k1, n)
	s2 := New(k2, n)

	diff := 0
	for i := uint64(0); i < n; i++ {
		if s1.At(n, i) != s2.At(n, i) {
			diff++
		}
	}
	if diff == 0 {
		t.Fatalf("expected different keys to produce different permutations")
	}
}

func TestKeyRoundTripsThroughString(t *testing.T) {
	k, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	s := k.String()
	k2, err := ParseKey(s)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if k != k2 {
		t.Fatalf("key did not round-trip: %x != %x", k, k2)
	}
}

func TestParseKeyRejectsWrongLength(t *testing.T) {
	if _, err := ParseKey("abcd"); err == nil {
		t.Fatal("expected error for short key")
	}
}
