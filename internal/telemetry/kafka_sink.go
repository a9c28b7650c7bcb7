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

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"prortip/internal/scan"
)

// Producer is a minimal abstraction over a Kafka client. We intentionally
// avoid importing a specific Kafka library: no pack example wires a
// concrete one, so this mirrors the teacher's own KafkaProducer interface,
// left to be satisfied by whatever client a deployment chooses.
//
// Requirements for a real implementation: idempotent producer enabled, the
// result's host:port used as the message key so per-key ordering and
// broker-side dedup hold, acks=all.
type Producer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaSink publishes flushed result batches as JSON messages, giving an
// external consumer (SIEM ingestion, a second scan comparing results) a
// live feed without coupling it to the storage backend.
type KafkaSink struct {
	producer       Producer
	topic          string
	defaultTimeout time.Duration
}

// NewKafkaSink builds a sink publishing to the given topic.
func NewKafkaSink(p Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

// ResultMessage is the serialized payload sent to Kafka. The message key is
// "host:port" so ordering per target:port pair is preserved.
type ResultMessage struct {
	Host      string `json:"host"`
	Port      uint32 `json:"port"`
	Kind      uint8  `json:"kind"`
	State     uint8  `json:"state"`
	RTTMillis int64  `json:"rtt_ms"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}

// PublishBatch publishes each result in the batch as its own message.
func (k *KafkaSink) PublishBatch(ctx context.Context, results []scan.ScanResult) error {
	if len(results) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	for _, r := range results {
		msg := ResultMessage{
			Host:      r.Target.Addr.String(),
			Port:      r.Port,
			Kind:      uint8(r.Kind),
			State:     uint8(r.State),
			RTTMillis: r.RTT.Milliseconds(),
			TsUnixMs:  r.Timestamp.UnixMilli(),
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal kafka message: %w", err)
		}
		key := fmt.Sprintf("%s:%d", msg.Host, msg.Port)
		headers := map[string]string{"content-type": "application/json"}
		if err := k.producer.Produce(ctx, k.topic, []byte(key), b, headers); err != nil {
			return fmt.Errorf("kafka produce key=%s: %w", key, err)
		}
	}
	return nil
}
