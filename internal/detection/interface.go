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

// Package detection defines the contracts a service/OS/TLS fingerprinting
// module would implement. The scheduler only depends on these interfaces;
// an actual detection engine is explicitly out of scope for the core.
package detection

import "context"

// ServiceProbe attempts to identify the service listening on an open port.
type ServiceProbe interface {
	ProbeService(ctx context.Context, host string, port uint32) (ServiceInfo, error)
}

// OSFingerprint attempts to identify a target's operating system from TCP/IP
// stack behavior observed during scanning.
type OSFingerprint interface {
	FingerprintOS(ctx context.Context, host string, observations []Observation) (OSInfo, error)
}

// TLSProbe attempts a TLS handshake to extract certificate and negotiated
// protocol details from a port believed to speak TLS.
type TLSProbe interface {
	ProbeTLS(ctx context.Context, host string, port uint32) (TLSInfo, error)
}

// ServiceInfo describes a detected service.
type ServiceInfo struct {
	Name    string
	Version string
	Banner  string
}

// Observation is one data point (e.g. a TTL, window size, TCP option order)
// fed to an OS fingerprint engine.
type Observation struct {
	Kind  string
	Value string
}

// OSInfo describes a detected operating system.
type OSInfo struct {
	Family     string
	Confidence float64
}

// TLSInfo describes a negotiated TLS session.
type TLSInfo struct {
	Version          string
	CipherSuite      string
	CertCommonName   string
	CertSANs         []string
	CertNotAfterUnix int64
}
