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

package rawsock

import "encoding/binary"

// Reply is the subset of a received packet's fields the raw scan
// techniques need to classify and correlate a response, across all three
// protocols this package listens for.
type Reply struct {
	SrcAddr  uint32
	DstAddr  uint32
	Protocol uint8
	IPID     uint16

	// TCP fields, valid when Protocol == ProtoTCP.
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	AckSeq  uint32
	Flags   uint8

	// ICMP fields, valid when Protocol == ProtoICMP.
	ICMPType uint8
	ICMPCode uint8
	// OrigDstPort/OrigSrcPort are parsed from the original datagram
	// embedded in an ICMP error payload (type 3: destination
	// unreachable), letting the UDP scan correlate an unreachable back
	// to the probe that triggered it.
	OrigSrcPort uint16
	OrigDstPort uint16
}

// IsPortUnreachable reports whether this is an ICMP type-3 (destination
// unreachable) message, and code 3 specifically (port unreachable), the
// signal the UDP scan technique treats as Closed.
func (r Reply) IsPortUnreachable() bool {
	return r.Protocol == ProtoICMP && r.ICMPType == 3 && r.ICMPCode == 3
}

// ParseReply extracts IP+transport header fields from a raw packet
// captured off a SOCK_RAW listener. It returns false if the buffer is too
// short or the IP header carries options (IHL != 5), which none of these
// techniques need to handle.
func ParseReply(buf []byte) (Reply, bool) {
	var r Reply
	if len(buf) < sizeIPHDR {
		return r, false
	}
	ihl := buf[0] & 0x0f
	if ihl != 5 {
		return r, false
	}
	r.Protocol = buf[9]
	r.IPID = binary.BigEndian.Uint16(buf[4:6])
	r.SrcAddr = binary.BigEndian.Uint32(buf[12:16])
	r.DstAddr = binary.BigEndian.Uint32(buf[16:20])

	payload := buf[sizeIPHDR:]
	switch r.Protocol {
	case ProtoTCP:
		if len(payload) < sizeTCPHdr {
			return r, false
		}
		r.SrcPort = binary.BigEndian.Uint16(payload[0:2])
		r.DstPort = binary.BigEndian.Uint16(payload[2:4])
		r.Seq = binary.BigEndian.Uint32(payload[4:8])
		r.AckSeq = binary.BigEndian.Uint32(payload[8:12])
		r.Flags = payload[13]
		return r, true
	case ProtoUDP:
		if len(payload) < sizeUDPHdr {
			return r, false
		}
		r.SrcPort = binary.BigEndian.Uint16(payload[0:2])
		r.DstPort = binary.BigEndian.Uint16(payload[2:4])
		return r, true
	case ProtoICMP:
		if len(payload) < 8 {
			return r, false
		}
		r.ICMPType = payload[0]
		r.ICMPCode = payload[1]
		// Destination-unreachable (and most other ICMP error) messages
		// embed the IP header + first 8 bytes of the original datagram
		// starting at offset 8. For a UDP original, that first 8 bytes
		// is exactly the UDP header, giving us the ports that triggered
		// the error.
		orig := payload[8:]
		if len(orig) >= sizeIPHDR {
			origIHL := int(orig[0]&0x0f) * 4
			if origIHL >= sizeIPHDR && len(orig) >= origIHL+4 {
				origL4 := orig[origIHL:]
				if len(origL4) >= 4 {
					r.OrigSrcPort = binary.BigEndian.Uint16(origL4[0:2])
					r.OrigDstPort = binary.BigEndian.Uint16(origL4[2:4])
				}
			}
		}
		return r, true
	default:
		return r, false
	}
}
