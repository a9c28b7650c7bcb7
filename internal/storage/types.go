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

// Package storage holds the result storage backends: an in-memory backend,
// a durable sqlite-backed backend fed by an async batching worker, and the
// router that picks between them.
package storage

import (
	"context"

	"prortip/internal/scan"
)

// ResultEntry is a stored scan result, addressable by an idempotent commit
// ID so a replayed batch (after a crash/restart) never double-applies.
type ResultEntry struct {
	CommitID string
	Result   scan.ScanResult
}

// Backend persists batches of results and can return everything committed
// so far.
type Backend interface {
	CommitBatch(ctx context.Context, entries []ResultEntry) error
	GetResults(ctx context.Context) ([]scan.ScanResult, error)
	Close() error
}
