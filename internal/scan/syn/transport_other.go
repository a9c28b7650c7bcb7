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

//go:build !linux

package syn

import (
	"context"
	"errors"
)

// ErrUnsupportedPlatform is returned by NewEngine on platforms without a
// raw-socket transport implementation. Callers should fall back to
// scan.ConnectProber.
var ErrUnsupportedPlatform = errors.New("syn: stateless raw-socket engine is only implemented on linux")

type unsupportedTransport struct{}

func newTransport() (transport, error) {
	return nil, ErrUnsupportedPlatform
}

func newTransportWithBatch(batchSize int) (transport, error) {
	return newTransport()
}

func (unsupportedTransport) sendSYN(pkt []byte, dst uint32) error { return ErrUnsupportedPlatform }
func (unsupportedTransport) recvLoop(ctx context.Context, out chan<- parsedReply) { close(out) }
func (unsupportedTransport) close() error                                        { return nil }
