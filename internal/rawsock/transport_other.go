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

package rawsock

import (
	"context"
	"errors"
)

// ErrUnsupportedPlatform is returned by New on platforms without a
// raw-socket transport implementation. Callers should fall back to
// scan.ConnectProber.
var ErrUnsupportedPlatform = errors.New("rawsock: raw-socket transport is only implemented on linux")

// Transport is a no-op stand-in on platforms without raw-socket support.
type Transport struct{}

// New always fails on non-linux platforms.
func New(recvProtocol int) (*Transport, error) {
	return nil, ErrUnsupportedPlatform
}

func (t *Transport) Send(pkt []byte, dst uint32) error { return ErrUnsupportedPlatform }
func (t *Transport) RecvLoop(ctx context.Context, out chan<- Reply) { close(out) }
func (t *Transport) Close() error                                   { return nil }
