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

// Schema (reference):
//
// CREATE TABLE IF NOT EXISTS results (
//   id INTEGER PRIMARY KEY AUTOINCREMENT,
//   host TEXT NOT NULL,
//   port INTEGER NOT NULL,
//   kind INTEGER NOT NULL,
//   state INTEGER NOT NULL,
//   rtt_ns INTEGER NOT NULL,
//   ts INTEGER NOT NULL
// );
// CREATE TABLE IF NOT EXISTS applied_commits (
//   commit_id TEXT PRIMARY KEY,
//   ts INTEGER NOT NULL
// );
//
// Idempotent insert per batch entry:
//   INSERT INTO applied_commits(commit_id, ts) VALUES (?, ?)
//     ON CONFLICT(commit_id) DO NOTHING;
//   -- only insert the result row if this commit_id hadn't been applied yet,
//   -- mirroring the NOT EXISTS guard used for the Postgres counters table.
//   INSERT INTO results(host, port, kind, state, rtt_ns, ts)
//     SELECT ?, ?, ?, ?, ?, ?
//     WHERE (SELECT changes() FROM applied_commits WHERE commit_id = ?) = 1;

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"prortip/internal/scan"
	"prortip/pkg/targets"
)

func targetAddrFromString(s string) (netip.Addr, error) {
	return netip.ParseAddr(s)
}

// AsyncDatabaseBackend persists results to a sqlite database, applying each
// commit exactly once via the applied_commits dedup table, the same idiom
// the teacher's Postgres adapter uses for rate-limiter commits.
type AsyncDatabaseBackend struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// OpenAsyncDatabaseBackend opens (creating if necessary) a sqlite database
// at path and ensures its schema exists.
func OpenAsyncDatabaseBackend(path string) (*AsyncDatabaseBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3 %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			state INTEGER NOT NULL,
			rtt_ns INTEGER NOT NULL,
			ts INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS applied_commits (
			commit_id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &AsyncDatabaseBackend{db: db, defaultTimeout: 10 * time.Second}, nil
}

// CommitBatch applies every entry within a single transaction; entries whose
// CommitID has already been applied are skipped.
func (a *AsyncDatabaseBackend) CommitBatch(ctx context.Context, entries []ResultEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.defaultTimeout)
		defer cancel()
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, e := range entries {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO applied_commits(commit_id, ts) VALUES (?, ?) ON CONFLICT(commit_id) DO NOTHING`,
			e.CommitID, now)
		if err != nil {
			return fmt.Errorf("insert applied_commits(%s): %w", e.CommitID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			continue // already applied; skip the results insert
		}
		r := e.Result
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results(host, port, kind, state, rtt_ns, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			r.Target.Addr.String(), r.Port, int(r.Kind), int(r.State), r.RTT.Nanoseconds(), r.Timestamp.Unix(),
		); err != nil {
			return fmt.Errorf("insert results(%s): %w", e.CommitID, err)
		}
	}
	return tx.Commit()
}

// GetResults returns every committed result, ordered by insertion.
func (a *AsyncDatabaseBackend) GetResults(ctx context.Context) ([]scan.ScanResult, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT host, port, kind, state, rtt_ns, ts FROM results ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scan.ScanResult
	for rows.Next() {
		var host string
		var port int64
		var kind, state int
		var rttNs, ts int64
		if err := rows.Scan(&host, &port, &kind, &state, &rttNs, &ts); err != nil {
			return nil, err
		}
		addr, err := targetAddrFromString(host)
		if err != nil {
			continue
		}
		out = append(out, scan.ScanResult{
			Target:    targets.Target{Addr: addr, Hostname: host},
			Port:      uint32(port),
			Kind:      scan.Kind(kind),
			State:     scan.State(state),
			RTT:       time.Duration(rttNs),
			Timestamp: time.Unix(ts, 0),
		})
	}
	return out, rows.Err()
}

func (a *AsyncDatabaseBackend) Close() error {
	return a.db.Close()
}
