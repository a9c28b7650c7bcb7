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

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisSaveScript writes a checkpoint blob only if it is newer than
// whatever is already stored (by LastEmitted), so two scanner processes
// racing to checkpoint the same scan ID can never regress each other's
// progress — the same idempotent-apply shape as the commit-marker script,
// just gated on a monotonic field instead of a one-shot SETNX.
const redisSaveScript = `
local key = KEYS[1]
local newBlob = ARGV[1]
local newLastEmitted = tonumber(ARGV[2])
local existing = redis.call('GET', key)
if existing then
  local ok, decoded = pcall(cjson.decode, existing)
  if ok and decoded.LastEmitted and tonumber(decoded.LastEmitted) >= newLastEmitted then
    return 0
  end
end
redis.call('SET', key, newBlob)
return 1
`

// RedisStore persists Checkpoints to Redis, enabling a scan to be resumed
// from a different process or host than the one that started it.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a store against an already-configured client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisCheckpointKey(scanID string) string {
	return fmt.Sprintf("prortip:checkpoint:%s", scanID)
}

// Save writes the checkpoint only if its LastEmitted is greater than that of
// what's already stored (an equal or lower value is skipped), then refreshes
// the TTL.
func (r *RedisStore) Save(cp Checkpoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	blob, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	key := redisCheckpointKey(cp.ScanID)
	if err := r.client.Eval(ctx, redisSaveScript, []string{key}, string(blob), cp.LastEmitted).Err(); err != nil {
		return fmt.Errorf("redis save checkpoint %s: %w", cp.ScanID, err)
	}
	return r.client.Expire(ctx, key, r.ttl).Err()
}

// Load fetches the checkpoint for scanID, if any.
func (r *RedisStore) Load(scanID string) (Checkpoint, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	val, err := r.client.Get(ctx, redisCheckpointKey(scanID)).Result()
	if err == redis.Nil {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("redis load checkpoint %s: %w", scanID, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}
