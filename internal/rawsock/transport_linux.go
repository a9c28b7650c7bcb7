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

//go:build linux

package rawsock

import (
	"context"
	"encoding/binary"
	"syscall"
)

// Transport sends pre-built IPv4 packets over an AF_INET/SOCK_RAW socket
// with IP_HDRINCL set (so the caller's own IP header survives unmodified)
// and receives raw packets of one protocol at a time, mirroring the
// syn package's send/recv split but generalized to any of the three
// protocols this package builds.
type Transport struct {
	sendFD int
	recvFD int
}

// New opens a transport whose receive side is bound to recvProtocol
// (ProtoTCP, ProtoUDP, or ProtoICMP). The send side always uses
// IPPROTO_RAW so it can carry any protocol's packet built by BuildTCP or
// BuildUDP regardless of what this transport listens for.
func New(recvProtocol int) (*Transport, error) {
	sendFD, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_RAW)
	if err != nil {
		return nil, err
	}
	if err := syscall.SetsockoptInt(sendFD, syscall.IPPROTO_IP, syscall.IP_HDRINCL, 1); err != nil {
		syscall.Close(sendFD)
		return nil, err
	}
	recvFD, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, recvProtocol)
	if err != nil {
		syscall.Close(sendFD)
		return nil, err
	}
	return &Transport{sendFD: sendFD, recvFD: recvFD}, nil
}

// Send transmits a pre-built IPv4 packet to dst.
func (t *Transport) Send(pkt []byte, dst uint32) error {
	var addr syscall.SockaddrInet4
	binary.BigEndian.PutUint32(addr.Addr[:], dst)
	return syscall.Sendto(t.sendFD, pkt, 0, &addr)
}

// RecvLoop reads packets of this transport's bound protocol until ctx is
// cancelled, parsing each and forwarding successfully-parsed replies.
func (t *Transport) RecvLoop(ctx context.Context, out chan<- Reply) {
	defer close(out)
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := syscall.Recvfrom(t.recvFD, buf, 0)
		if err != nil {
			continue
		}
		r, ok := ParseReply(buf[:n])
		if !ok {
			continue
		}
		select {
		case out <- r:
		case <-ctx.Done():
			return
		}
	}
}

// Close releases both underlying sockets.
func (t *Transport) Close() error {
	err1 := syscall.Close(t.sendFD)
	err2 := syscall.Close(t.recvFD)
	if err1 != nil {
		return err1
	}
	return err2
}
