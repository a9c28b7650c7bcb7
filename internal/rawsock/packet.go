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

// Package rawsock builds and parses raw IPv4 packets (TCP with arbitrary
// flag combinations, UDP, and ICMP) and carries them over raw sockets. It
// is a leaf package with no dependency on internal/scan or
// internal/scan/syn, generalizing the same iphdr/tcphdr/checksum pattern
// syn/packet.go uses for its cookie-validated SYN fast path, so both the
// stateless SYN engine and the non-SYN raw scan techniques (FIN, NULL,
// Xmas, ACK, UDP, Idle) build on a consistent wire-level foundation
// without importing one another.
package rawsock

import "encoding/binary"

// IP protocol numbers this package builds or parses.
const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// TCP flag bits, usable in any combination via BuildTCP.
const (
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagPSH = 0x08
	FlagACK = 0x10
	FlagURG = 0x20
)

const (
	sizeIPHDR  = 20
	sizeTCPHdr = 20
	sizeUDPHdr = 8
)

type ipHeader struct {
	versionIHL   uint8
	tos          uint8
	totalLen     uint16
	id           uint16
	flagsFragOff uint16
	ttl          uint8
	protocol     uint8
	checksum     uint16
	srcAddr      uint32
	dstAddr      uint32
}

func marshalIPHeader(h *ipHeader) []byte {
	b := make([]byte, sizeIPHDR)
	b[0] = h.versionIHL
	b[1] = h.tos
	binary.BigEndian.PutUint16(b[2:4], h.totalLen)
	binary.BigEndian.PutUint16(b[4:6], h.id)
	binary.BigEndian.PutUint16(b[6:8], h.flagsFragOff)
	b[8] = h.ttl
	b[9] = h.protocol
	binary.BigEndian.PutUint16(b[10:12], h.checksum)
	binary.BigEndian.PutUint32(b[12:16], h.srcAddr)
	binary.BigEndian.PutUint32(b[16:20], h.dstAddr)
	return b
}

// checksum computes the Internet checksum (RFC 1071) over b.
func checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func pseudoHeader(srcAddr, dstAddr uint32, protocol uint8, length uint16) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], srcAddr)
	binary.BigEndian.PutUint32(b[4:8], dstAddr)
	b[8] = 0
	b[9] = protocol
	binary.BigEndian.PutUint16(b[10:12], length)
	return b
}

func buildIP(srcIP, dstIP uint32, id uint16, protocol uint8, payloadLen int) ipHeader {
	return ipHeader{
		versionIHL:   (4 << 4) | 5,
		totalLen:     uint16(sizeIPHDR + payloadLen),
		id:           id,
		flagsFragOff: 0x4000, // don't fragment
		ttl:          64,
		protocol:     protocol,
		srcAddr:      srcIP,
		dstAddr:      dstIP,
	}
}

func finalizeIP(ip ipHeader) []byte {
	b := marshalIPHeader(&ip)
	sum := checksum(b)
	binary.BigEndian.PutUint16(b[10:12], sum)
	return b
}

// BuildTCP assembles a raw IPv4+TCP packet carrying exactly the flags
// requested (any combination of Flag* bits), used by the FIN/NULL/Xmas/ACK
// raw scan techniques. seq seeds both the TCP sequence number and (low 16
// bits) the IP identification field, giving each probe a distinguishable
// ID without needing per-flow state.
func BuildTCP(srcIP, dstIP uint32, srcPort, dstPort uint16, seq uint32, flags uint8) []byte {
	tcp := make([]byte, sizeTCPHdr)
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], 0)
	tcp[12] = 5 << 4
	tcp[13] = flags
	binary.BigEndian.PutUint16(tcp[14:16], 64240)
	binary.BigEndian.PutUint16(tcp[18:20], 0)

	pseudo := pseudoHeader(srcIP, dstIP, ProtoTCP, uint16(len(tcp)))
	sum := checksum(append(pseudo, tcp...))
	binary.BigEndian.PutUint16(tcp[16:18], sum)

	ip := buildIP(srcIP, dstIP, uint16(seq&0xffff), ProtoTCP, len(tcp))
	return append(finalizeIP(ip), tcp...)
}

// BuildUDP assembles a raw IPv4+UDP packet, used by the UDP raw scan
// technique. id seeds the IP identification field.
func BuildUDP(srcIP, dstIP uint32, srcPort, dstPort uint16, payload []byte, id uint16) []byte {
	udp := make([]byte, sizeUDPHdr+len(payload))
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(len(udp)))
	binary.BigEndian.PutUint16(udp[6:8], 0)
	copy(udp[sizeUDPHdr:], payload)

	pseudo := pseudoHeader(srcIP, dstIP, ProtoUDP, uint16(len(udp)))
	sum := checksum(append(pseudo, udp...))
	if sum == 0 {
		sum = 0xffff // UDP checksum 0 means "no checksum"; avoid the collision
	}
	binary.BigEndian.PutUint16(udp[6:8], sum)

	ip := buildIP(srcIP, dstIP, id, ProtoUDP, len(udp))
	return append(finalizeIP(ip), udp...)
}
