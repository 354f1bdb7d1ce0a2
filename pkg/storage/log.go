// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOffsetOutOfRange is returned when the requested offset is outside the
// retained range.
var ErrOffsetOutOfRange = errors.New("offset out of range")

// PartitionLogConfig bounds the in-memory tail each partition retains.
type PartitionLogConfig struct {
	// RetainedBytes caps the record bytes kept per partition. Older batches
	// are evicted and the log start offset advances. Zero means 64 MiB.
	RetainedBytes int64
}

func (c PartitionLogConfig) retainedBytes() int64 {
	if c.RetainedBytes <= 0 {
		return 64 << 20
	}
	return c.RetainedBytes
}

type storedBatch struct {
	baseOffset int64
	lastOffset int64
	data       []byte
}

// PartitionLog is the in-memory append-only log of one topic partition.
// Batches keep the client's wire encoding; only the base offset field is
// rewritten at append time.
type PartitionLog struct {
	topic     string
	partition int32
	cfg       PartitionLogConfig

	mu             sync.Mutex
	batches        []storedBatch
	retainedBytes  int64
	logStartOffset int64
	nextOffset     int64
}

// NewPartitionLog creates an empty log beginning at startOffset.
func NewPartitionLog(topic string, partition int32, startOffset int64, cfg PartitionLogConfig) *PartitionLog {
	return &PartitionLog{
		topic:          topic,
		partition:      partition,
		cfg:            cfg,
		logStartOffset: startOffset,
		nextOffset:     startOffset,
	}
}

// Append validates the produced record set, assigns offsets, and retains the
// batches. It returns the base offset assigned to the first record.
func (l *PartitionLog) Append(recordSet []byte) (int64, error) {
	frames, err := scanRecordSet(recordSet)
	if err != nil {
		return 0, fmt.Errorf("append to %s/%d: %w", l.topic, l.partition, err)
	}
	if len(frames) == 0 {
		return 0, fmt.Errorf("append to %s/%d: empty record set", l.topic, l.partition)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	base := l.nextOffset
	for _, f := range frames {
		data := append([]byte(nil), recordSet[f.start:f.start+f.length]...)
		patchBaseOffset(data, l.nextOffset)
		sb := storedBatch{
			baseOffset: l.nextOffset,
			lastOffset: l.nextOffset + int64(f.records) - 1,
			data:       data,
		}
		l.batches = append(l.batches, sb)
		l.retainedBytes += int64(len(data))
		l.nextOffset = sb.lastOffset + 1
	}
	l.evictLocked()
	return base, nil
}

// Read returns retained batches starting at the one containing offset, up to
// maxBytes (always at least one batch when data exists). Reading at the high
// watermark returns an empty set.
func (l *PartitionLog) Read(offset int64, maxBytes int32) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if offset < l.logStartOffset || offset > l.nextOffset {
		return nil, fmt.Errorf("read %s/%d at %d (range %d..%d): %w",
			l.topic, l.partition, offset, l.logStartOffset, l.nextOffset, ErrOffsetOutOfRange)
	}
	if offset == l.nextOffset {
		return nil, nil
	}
	var out []byte
	for _, b := range l.batches {
		if b.lastOffset < offset {
			continue
		}
		if len(out) > 0 && maxBytes > 0 && int64(len(out))+int64(len(b.data)) > int64(maxBytes) {
			break
		}
		out = append(out, b.data...)
	}
	return out, nil
}

// HighWatermark returns the next offset to be assigned.
func (l *PartitionLog) HighWatermark() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextOffset
}

// EarliestOffset returns the first retained offset.
func (l *PartitionLog) EarliestOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logStartOffset
}

func (l *PartitionLog) evictLocked() {
	limit := l.cfg.retainedBytes()
	for len(l.batches) > 1 && l.retainedBytes > limit {
		oldest := l.batches[0]
		l.batches = l.batches[1:]
		l.retainedBytes -= int64(len(oldest.data))
		l.logStartOffset = oldest.lastOffset + 1
	}
}

// Manager owns the partition logs of one broker.
type Manager struct {
	mu   sync.Mutex
	cfg  PartitionLogConfig
	logs map[string]map[int32]*PartitionLog
}

// NewManager builds an empty log manager.
func NewManager(cfg PartitionLogConfig) *Manager {
	return &Manager{cfg: cfg, logs: make(map[string]map[int32]*PartitionLog)}
}

// Get returns the log for topic/partition when it exists.
func (m *Manager) Get(topic string, partition int32) (*PartitionLog, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts, ok := m.logs[topic]
	if !ok {
		return nil, false
	}
	l, ok := parts[partition]
	return l, ok
}

// GetOrCreate returns the log for topic/partition, creating it at
// startOffset when absent.
func (m *Manager) GetOrCreate(topic string, partition int32, startOffset int64) *PartitionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts, ok := m.logs[topic]
	if !ok {
		parts = make(map[int32]*PartitionLog)
		m.logs[topic] = parts
	}
	l, ok := parts[partition]
	if !ok {
		l = NewPartitionLog(topic, partition, startOffset, m.cfg)
		parts[partition] = l
	}
	return l
}

// Drop removes every log of a deleted topic.
func (m *Manager) Drop(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, topic)
}
