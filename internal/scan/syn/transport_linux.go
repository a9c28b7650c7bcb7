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

package syn

import (
	"context"
	"encoding/binary"
	"syscall"
)

// rawTransport sends and receives raw IPv4 packets over an AF_INET,
// SOCK_RAW socket with IP_HDRINCL set, so the packet built by
// buildSynPacket (which includes its own IP header) is sent unmodified.
type rawTransport struct {
	sendFD int
	recvFD int
}

func newTransport() (transport, error) {
	sendFD, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	if err := syscall.SetsockoptInt(sendFD, syscall.IPPROTO_IP, syscall.IP_HDRINCL, 1); err != nil {
		syscall.Close(sendFD)
		return nil, err
	}
	recvFD, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_TCP)
	if err != nil {
		syscall.Close(sendFD)
		return nil, err
	}
	return &rawTransport{sendFD: sendFD, recvFD: recvFD}, nil
}

// newTransportWithBatch picks the Recvmmsg-based batch transport when
// batchSize > 0, otherwise the one-packet-at-a-time baseline.
func newTransportWithBatch(batchSize int) (transport, error) {
	if batchSize > 0 {
		return newBatchTransport(batchSize)
	}
	return newTransport()
}

func (t *rawTransport) sendSYN(pkt []byte, dst uint32) error {
	var addr syscall.SockaddrInet4
	binary.BigEndian.PutUint32(addr.Addr[:], dst)
	return syscall.Sendto(t.sendFD, pkt, 0, &addr)
}

// recvLoop reads one packet per Recvfrom call in a tight loop; the
// batched golang.org/x/sys/unix.Recvmmsg path lives in batchio_linux.go and
// is what a production build should prefer for high packet rates. This
// loop is the receive path used when no batch size is set; other
// platforms have no raw-socket transport (see transport_other.go).
func (t *rawTransport) recvLoop(ctx context.Context, out chan<- parsedReply) {
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
		r, ok := parseReply(buf[:n])
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

func (t *rawTransport) close() error {
	err1 := syscall.Close(t.sendFD)
	err2 := syscall.Close(t.recvFD)
	if err1 != nil {
		return err1
	}
	return err2
}
