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

// Package scan holds the core scan data model, the lock-free result
// aggregator, the progress tracker, the TCP connect prober, and the
// scheduler that ties them together.
package scan

import (
	"time"

	"prortip/pkg/targets"
)

// State is the classification of a single probed port.
type State uint8

const (
	StateUnknown State = iota
	StateOpen
	StateClosed
	StateFiltered
	StateOpenFiltered
	StateUnfiltered
	StateClosedFiltered
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFiltered:
		return "filtered"
	case StateOpenFiltered:
		return "open|filtered"
	case StateUnfiltered:
		return "unfiltered"
	case StateClosedFiltered:
		return "closed|filtered"
	default:
		return "unknown"
	}
}

// Kind distinguishes the probe technique that produced a result.
type Kind uint8

const (
	KindConnect Kind = iota
	KindSYN
	KindFIN
	KindNULL
	KindXmas
	KindACK
	KindUDP
	KindIdle
)

// Target is a single host to be scanned, already resolved to an address.
type Target = targets.Target

// PortSet is an ordered collection of ports to probe against each target.
// Internally it is iterated with uint32 so that a 65535-port sweep never
// wraps a uint16 counter back to zero.
type PortSet struct {
	ports []uint32
}

// NewPortSet builds a PortSet from concrete port numbers (1-65535).
func NewPortSet(ports []uint32) PortSet {
	return PortSet{ports: ports}
}

// Len returns the number of ports in the set.
func (p PortSet) Len() int { return len(p.ports) }

// At returns the port at index i as a uint32; callers must range over
// [0, Len()) rather than assuming a uint16 range.
func (p PortSet) At(i int) uint32 { return p.ports[i] }

// ScanJob is a single (target, port, kind) unit of work.
type ScanJob struct {
	Target Target
	Port   uint32
	Kind   Kind
}

// ScanResult is the outcome of probing one ScanJob. Service/Version/Banner
// are populated by detection enrichment (run on State==StateOpen results
// only, before a result reaches storage); they stay zero-value otherwise.
type ScanResult struct {
	Target    Target
	Port      uint32
	Kind      Kind
	State     State
	RTT       time.Duration
	Timestamp time.Time
	Err       error

	Service string
	Version string
	Banner  string
}

// Progress is a monotonic snapshot of scan completion for one target.
type Progress struct {
	Target         Target
	PortsTotal     uint64
	PortsCompleted uint64
	StartedAt      time.Time
	LastUpdatedAt  time.Time
}

// Fraction returns the completion ratio in [0,1]. Returns 0 if PortsTotal is 0.
func (p Progress) Fraction() float64 {
	if p.PortsTotal == 0 {
		return 0
	}
	return float64(p.PortsCompleted) / float64(p.PortsTotal)
}
