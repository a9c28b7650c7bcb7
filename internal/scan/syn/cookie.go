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

// Package syn implements the stateless SYN fast path: packet templating
// and a keyed-cookie initial sequence number in place of any per-flow
// state. The Feistel shuffle that randomizes target×port emission order
// lives in pkg/shuffle and is applied by the scheduler.
package syn

import (
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/blake2s"
)

// CookieKey is a per-scan secret used to derive initial sequence numbers.
// Unlike a SYN-proxy's cookie (which must survive a single round trip of
// server state), this one only needs to survive long enough for this
// process's probe and reply to correlate — no per-flow table is kept.
type CookieKey [32]byte

// NewCookieKey generates a fresh random key for one scan invocation.
func NewCookieKey() (CookieKey, error) {
	var k CookieKey
	if _, err := rand.Read(k[:]); err != nil {
		return k, err
	}
	return k, nil
}

// Generate derives a 32-bit initial sequence number from the 4-tuple and
// key. The reply's ack number (minus one) must equal this value for the
// response to be accepted as ours — this is the entire mechanism that lets
// the stateless path validate replies without a per-target/port map.
func (k CookieKey) Generate(srcIP, dstIP uint32, srcPort, dstPort uint16) uint32 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], srcIP)
	binary.BigEndian.PutUint32(buf[4:8], dstIP)
	binary.BigEndian.PutUint16(buf[8:10], srcPort)
	binary.BigEndian.PutUint16(buf[10:12], dstPort)

	h, err := blake2s.New256(k[:])
	if err != nil {
		// blake2s.New256 only errors on an oversized key, which CookieKey's
		// fixed 32-byte size can never trigger.
		panic(err)
	}
	_, _ = h.Write(buf[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

// Validate reports whether ackNum-1 matches the cookie this key would have
// generated for the 4-tuple (src/dst swapped, since the reply is
// dst->src relative to the original probe).
func (k CookieKey) Validate(probeSrcIP, probeDstIP uint32, probeSrcPort, probeDstPort uint16, ackNum uint32) bool {
	want := k.Generate(probeSrcIP, probeDstIP, probeSrcPort, probeDstPort)
	return ackNum-1 == want
}
