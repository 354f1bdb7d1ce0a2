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
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// makeBatch builds a minimal v2 record batch frame carrying count records
// and extra opaque record bytes.
func makeBatch(count int32, extra int) []byte {
	body := make([]byte, recordBatchHeaderMinSize+extra)
	binary.BigEndian.PutUint32(body[8:12], uint32(len(body)-batchFrameHeaderLen))
	body[16] = 2 // magic
	binary.BigEndian.PutUint32(body[23:27], uint32(count-1))
	binary.BigEndian.PutUint32(body[recordCountOffset:recordCountOffset+4], uint32(count))
	return body
}

func TestPartitionLogAppendAssignsOffsets(t *testing.T) {
	log := NewPartitionLog("orders", 0, 0, PartitionLogConfig{})

	base, err := log.Append(makeBatch(3, 10))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if base != 0 {
		t.Fatalf("expected base offset 0 got %d", base)
	}
	if hw := log.HighWatermark(); hw != 3 {
		t.Fatalf("expected high watermark 3 got %d", hw)
	}

	base, err = log.Append(makeBatch(2, 0))
	if err != nil {
		t.Fatalf("Append second: %v", err)
	}
	if base != 3 {
		t.Fatalf("expected base offset 3 got %d", base)
	}
	if hw := log.HighWatermark(); hw != 5 {
		t.Fatalf("expected high watermark 5 got %d", hw)
	}
}

func TestPartitionLogAppendRewritesBaseOffset(t *testing.T) {
	log := NewPartitionLog("orders", 0, 100, PartitionLogConfig{})
	if _, err := log.Append(makeBatch(2, 0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	data, err := log.Read(100, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := int64(binary.BigEndian.Uint64(data[0:8])); got != 100 {
		t.Fatalf("base offset not rewritten: %d", got)
	}
}

func TestPartitionLogAppendMultiBatchSet(t *testing.T) {
	log := NewPartitionLog("orders", 0, 0, PartitionLogConfig{})
	set := append(makeBatch(2, 4), makeBatch(3, 0)...)
	if _, err := log.Append(set); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if hw := log.HighWatermark(); hw != 5 {
		t.Fatalf("expected high watermark 5 got %d", hw)
	}
	// The second batch starts at offset 2.
	data, err := log.Read(2, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := int64(binary.BigEndian.Uint64(data[0:8])); got != 2 {
		t.Fatalf("expected second batch base 2 got %d", got)
	}
}

func TestPartitionLogReadSemantics(t *testing.T) {
	log := NewPartitionLog("orders", 0, 0, PartitionLogConfig{})
	batch := makeBatch(5, 16)
	if _, err := log.Append(batch); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Reading inside the batch returns it whole.
	data, err := log.Read(3, 0)
	if err != nil || len(data) != len(batch) {
		t.Fatalf("mid-batch read: %d bytes, %v", len(data), err)
	}
	// Reading at the high watermark is empty, not an error.
	data, err = log.Read(5, 0)
	if err != nil || data != nil {
		t.Fatalf("high watermark read: %v bytes, %v", data, err)
	}
	// Beyond it is out of range.
	if _, err := log.Read(6, 0); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Fatalf("expected ErrOffsetOutOfRange got %v", err)
	}
}

func TestPartitionLogMaxBytes(t *testing.T) {
	log := NewPartitionLog("orders", 0, 0, PartitionLogConfig{})
	first := makeBatch(1, 100)
	if _, err := log.Append(first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.Append(makeBatch(1, 100)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// A tight budget still returns the first batch.
	data, err := log.Read(0, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(data) != len(first) {
		t.Fatalf("expected one batch got %d bytes", len(data))
	}
}

func TestPartitionLogEviction(t *testing.T) {
	batch := makeBatch(1, 0)
	log := NewPartitionLog("orders", 0, 0, PartitionLogConfig{RetainedBytes: int64(len(batch) + 1)})
	for i := 0; i < 3; i++ {
		if _, err := log.Append(makeBatch(1, 0)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if earliest := log.EarliestOffset(); earliest == 0 {
		t.Fatalf("expected eviction to advance log start offset")
	}
	if _, err := log.Read(0, 0); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Fatalf("expected evicted offset out of range, got %v", err)
	}
}

func TestPartitionLogRejectsGarbage(t *testing.T) {
	log := NewPartitionLog("orders", 0, 0, PartitionLogConfig{})
	if _, err := log.Append([]byte("not a record batch")); err == nil {
		t.Fatalf("expected error for malformed record set")
	}
	truncated := makeBatch(2, 50)[:40]
	if _, err := log.Append(truncated); err == nil {
		t.Fatalf("expected error for truncated batch")
	}
}

func TestManagerGetOrCreate(t *testing.T) {
	m := NewManager(PartitionLogConfig{})
	l1 := m.GetOrCreate("orders", 0, 0)
	l2 := m.GetOrCreate("orders", 0, 0)
	if l1 != l2 {
		t.Fatalf("expected same log instance")
	}
	if _, ok := m.Get("orders", 1); ok {
		t.Fatalf("unexpected partition")
	}
	m.Drop("orders")
	if _, ok := m.Get("orders", 0); ok {
		t.Fatalf("topic not dropped")
	}
}

func TestScanRecordSetRoundTrip(t *testing.T) {
	set := append(makeBatch(2, 8), makeBatch(4, 0)...)
	frames, err := scanRecordSet(set)
	if err != nil {
		t.Fatalf("scanRecordSet: %v", err)
	}
	if len(frames) != 2 || frames[0].records != 2 || frames[1].records != 4 {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if !bytes.Equal(set[frames[1].start:frames[1].start+frames[1].length], makeBatch(4, 0)) {
		t.Fatalf("frame bounds wrong")
	}
}
