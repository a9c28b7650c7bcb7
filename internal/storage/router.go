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

package storage

import "fmt"

// Options configures backend construction.
type Options struct {
	Adapter  string // "memory" or "sqlite"
	SqlitePath string
}

// BuildBackend selects and constructs a Backend, mirroring the teacher's
// persistence factory switch over an adapter name.
func BuildBackend(opts Options) (Backend, error) {
	switch opts.Adapter {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "sqlite":
		if opts.SqlitePath == "" {
			return nil, fmt.Errorf("sqlite adapter requires SqlitePath")
		}
		return OpenAsyncDatabaseBackend(opts.SqlitePath)
	default:
		return nil, fmt.Errorf("unknown storage adapter %q", opts.Adapter)
	}
}
