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

import "testing"

func TestCookieRoundTripValidates(t *testing.T) {
	k, err := NewCookieKey()
	if err != nil {
		t.Fatalf("NewCookieKey: %v", err)
	}
	srcIP, dstIP := uint32(0x0A000001), uint32(0xC0A80101)
	srcPort, dstPort := uint16(54321), uint16(443)

	isn := k.Generate(srcIP, dstIP, srcPort, dstPort)
	ack := isn + 1
	if !k.Validate(srcIP, dstIP, srcPort, dstPort, ack) {
		t.Fatalf("expected cookie to validate for matching 4-tuple")
	}
}

func TestCookieRejectsWrongTuple(t *testing.T) {
	k, err := NewCookieKey()
	if err != nil {
		t.Fatalf("NewCookieKey: %v", err)
	}
	srcIP, dstIP := uint32(0x0A000001), uint32(0xC0A80101)
	srcPort, dstPort := uint16(54321), uint16(443)

	isn := k.Generate(srcIP, dstIP, srcPort, dstPort)
	if k.Validate(srcIP, dstIP, srcPort, dstPort+1, isn+1) {
		t.Fatalf("expected cookie validation to fail for a different destination port")
	}
}

func TestCookieRejectsWrongKey(t *testing.T) {
	k1, _ := NewCookieKey()
	k2, _ := NewCookieKey()
	srcIP, dstIP := uint32(0x0A000001), uint32(0xC0A80101)
	srcPort, dstPort := uint16(54321), uint16(443)

	isn := k1.Generate(srcIP, dstIP, srcPort, dstPort)
	if k2.Validate(srcIP, dstIP, srcPort, dstPort, isn+1) {
		t.Fatalf("expected validation under a different key to fail")
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	k, _ := NewCookieKey()
	a := k.Generate(1, 2, 3, 4)
	b := k.Generate(1, 2, 3, 4)
	if a != b {
		t.Fatalf("expected Generate to be deterministic for the same inputs: %v != %v", a, b)
	}
}
