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
	"encoding/binary"
)

const (
	sizeIPHDR        = 20
	sizeTCPHdr       = 20
	sizePseudoTCPHdr = 12

	synFlag = 0x02
	rstFlag = 0x04
	ackFlag = 0x10
)

// iphdr mirrors the fixed 20-byte IPv4 header (no options).
type iphdr struct {
	versionIHL    uint8
	tos           uint8
	totalLen      uint16
	id            uint16
	flagsFragOff  uint16
	ttl           uint8
	protocol      uint8
	checksum      uint16
	srcAddr       uint32
	dstAddr       uint32
}

// tcphdr mirrors the fixed 20-byte TCP header (no options).
type tcphdr struct {
	srcPort    uint16
	dstPort    uint16
	seq        uint32
	ackSeq     uint32
	dataOffRes uint8
	flags      uint8
	window     uint16
	checksum   uint16
	urgPtr     uint16
}

// pseudotcphdr is the IPv4 pseudo-header used for the TCP checksum.
type pseudotcphdr struct {
	srcAddr  uint32
	dstAddr  uint32
	zero     uint8
	protocol uint8
	tcpLen   uint16
}

func htons(v uint16) uint16 { return (v<<8)&0xff00 | v>>8 }
func ntohs(v uint16) uint16 { return htons(v) }

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

// marshalIPHDR serializes h in network byte order.
func marshalIPHDR(h *iphdr) []byte {
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

// marshalTCPHDR serializes h in network byte order.
func marshalTCPHDR(h *tcphdr) []byte {
	b := make([]byte, sizeTCPHdr)
	binary.BigEndian.PutUint16(b[0:2], h.srcPort)
	binary.BigEndian.PutUint16(b[2:4], h.dstPort)
	binary.BigEndian.PutUint32(b[4:8], h.seq)
	binary.BigEndian.PutUint32(b[8:12], h.ackSeq)
	b[12] = h.dataOffRes
	b[13] = h.flags
	binary.BigEndian.PutUint16(b[14:16], h.window)
	binary.BigEndian.PutUint16(b[16:18], h.checksum)
	binary.BigEndian.PutUint16(b[18:20], h.urgPtr)
	return b
}

func marshalPseudoTCPHDR(h *pseudotcphdr) []byte {
	b := make([]byte, sizePseudoTCPHdr)
	binary.BigEndian.PutUint32(b[0:4], h.srcAddr)
	binary.BigEndian.PutUint32(b[4:8], h.dstAddr)
	b[8] = h.zero
	b[9] = h.protocol
	binary.BigEndian.PutUint16(b[10:12], h.tcpLen)
	return b
}

// tcpChecksum computes the TCP checksum over the pseudo-header + TCP
// segment.
func tcpChecksum(srcAddr, dstAddr uint32, tcpSegment []byte) uint16 {
	pseudo := pseudotcphdr{
		srcAddr:  srcAddr,
		dstAddr:  dstAddr,
		protocol: 6, // IPPROTO_TCP
		tcpLen:   uint16(len(tcpSegment)),
	}
	buf := append(marshalPseudoTCPHDR(&pseudo), tcpSegment...)
	return checksum(buf)
}

// buildSynPacket assembles a raw IPv4+TCP SYN packet. seq carries the
// keyed cookie (see cookie.go) in place of a random ISN so that the
// matching reply can be validated without any per-flow state.
func buildSynPacket(srcIP, dstIP uint32, srcPort, dstPort uint16, seq uint32) []byte {
	tcp := tcphdr{
		srcPort:    srcPort,
		dstPort:    dstPort,
		seq:        seq,
		ackSeq:     0,
		dataOffRes: 5 << 4,
		flags:      synFlag,
		window:     64240,
		urgPtr:     0,
	}
	tcpBytes := marshalTCPHDR(&tcp)
	tcpSum := tcpChecksum(srcIP, dstIP, tcpBytes)
	binary.BigEndian.PutUint16(tcpBytes[16:18], tcpSum)

	ip := iphdr{
		versionIHL:   (4 << 4) | 5,
		tos:          0,
		totalLen:     uint16(sizeIPHDR + sizeTCPHdr),
		id:           uint16(seq & 0xffff),
		flagsFragOff: 0x4000, // don't fragment
		ttl:          64,
		protocol:     6, // IPPROTO_TCP
		srcAddr:      srcIP,
		dstAddr:      dstIP,
	}
	ipBytes := marshalIPHDR(&ip)
	ipSum := checksum(ipBytes)
	binary.BigEndian.PutUint16(ipBytes[10:12], ipSum)

	return append(ipBytes, tcpBytes...)
}

// parsedReply is the subset of a received packet's fields the engine needs
// to classify and correlate a reply.
type parsedReply struct {
	srcAddr uint32
	dstAddr uint32
	srcPort uint16
	dstPort uint16
	seq     uint32
	ackSeq  uint32
	flags   uint8
}

// parseReply extracts IP+TCP header fields from a raw packet captured off
// a SOCK_RAW listener. It returns false if the buffer is too short to hold
// both headers or the IP header reports options (IHL != 5), which this
// fast path does not need to handle.
func parseReply(buf []byte) (parsedReply, bool) {
	var r parsedReply
	if len(buf) < sizeIPHDR+sizeTCPHdr {
		return r, false
	}
	ihl := buf[0] & 0x0f
	if ihl != 5 {
		return r, false
	}
	if buf[9] != 6 { // not TCP
		return r, false
	}
	r.srcAddr = binary.BigEndian.Uint32(buf[12:16])
	r.dstAddr = binary.BigEndian.Uint32(buf[16:20])

	tcp := buf[sizeIPHDR:]
	if len(tcp) < sizeTCPHdr {
		return r, false
	}
	r.srcPort = binary.BigEndian.Uint16(tcp[0:2])
	r.dstPort = binary.BigEndian.Uint16(tcp[2:4])
	r.seq = binary.BigEndian.Uint32(tcp[4:8])
	r.ackSeq = binary.BigEndian.Uint32(tcp[8:12])
	r.flags = tcp[13]
	return r, true
}
