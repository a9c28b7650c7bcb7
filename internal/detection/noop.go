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

package detection

import "context"

// Disabled is the default detector wired by the scheduler: it answers every
// contract with a zero-value "not detected" result so callers never need a
// nil check.
type Disabled struct{}

func (Disabled) ProbeService(ctx context.Context, host string, port uint32) (ServiceInfo, error) {
	return ServiceInfo{}, nil
}

func (Disabled) FingerprintOS(ctx context.Context, host string, observations []Observation) (OSInfo, error) {
	return OSInfo{}, nil
}

func (Disabled) ProbeTLS(ctx context.Context, host string, port uint32) (TLSInfo, error) {
	return TLSInfo{}, nil
}
