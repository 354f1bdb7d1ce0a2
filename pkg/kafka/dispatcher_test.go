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

package kafka

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/novatechflow/streamraft/pkg/metadata"
	"github.com/novatechflow/streamraft/pkg/protocol"
	"github.com/novatechflow/streamraft/pkg/storage"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, metadata.Store) {
	t.Helper()
	store := metadata.NewInMemoryStore()
	if err := store.RegisterNode(context.Background(), metadata.NodeInfo{
		ID: 1, Host: "localhost", Port: 9092,
	}); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	logs := storage.NewManager(storage.PartitionLogConfig{})
	return NewDispatcher(DispatcherConfig{}, store, logs, nil), store
}

// testBatch builds a minimal v2 record batch with count records.
func testBatch(count int32) []byte {
	body := make([]byte, 61+8)
	binary.BigEndian.PutUint32(body[8:12], uint32(len(body)-12))
	body[16] = 2
	binary.BigEndian.PutUint32(body[23:27], uint32(count-1))
	binary.BigEndian.PutUint32(body[57:61], uint32(count))
	return body
}

func dispatch(t *testing.T, d *Dispatcher, apiKey, version int16, body []byte) []byte {
	t.Helper()
	payload, err := d.Handle(context.Background(), &RequestContext{
		Header:  &protocol.RequestHeader{APIKey: apiKey, APIVersion: version, CorrelationID: 1},
		Payload: body,
	})
	if err != nil {
		t.Fatalf("Handle api %d v%d: %v", apiKey, version, err)
	}
	return payload
}

func TestDispatchApiVersions(t *testing.T) {
	d, _ := newTestDispatcher(t)
	body := dispatch(t, d, protocol.APIKeyApiVersion, 0, nil)
	if code := int16(binary.BigEndian.Uint16(body[:2])); code != protocol.NONE {
		t.Fatalf("expected NONE got %d", code)
	}

	// Newer versions are answered with the v0 body and UNSUPPORTED_VERSION.
	body = dispatch(t, d, protocol.APIKeyApiVersion, 3, nil)
	if code := int16(binary.BigEndian.Uint16(body[:2])); code != protocol.UNSUPPORTED_VERSION {
		t.Fatalf("expected UNSUPPORTED_VERSION got %d", code)
	}
}

func TestDispatchProduceFetchRoundTrip(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()
	if _, err := store.CreateTopic(ctx, metadata.TopicSpec{Name: "orders", NumPartitions: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	batch := testBatch(3)
	produce := kmsg.NewProduceRequest()
	produce.Version = 3
	produce.Acks = -1
	produce.TimeoutMillis = 1000
	topic := kmsg.NewProduceRequestTopic()
	topic.Topic = "orders"
	part := kmsg.NewProduceRequestTopicPartition()
	part.Partition = 0
	part.Records = batch
	topic.Partitions = append(topic.Partitions, part)
	produce.Topics = append(produce.Topics, topic)

	body := dispatch(t, d, protocol.APIKeyProduce, 3, produce.AppendTo(nil))
	produceResp := kmsg.NewProduceResponse()
	produceResp.Version = 3
	if err := produceResp.ReadFrom(body); err != nil {
		t.Fatalf("decode produce response: %v", err)
	}
	p := produceResp.Topics[0].Partitions[0]
	if p.ErrorCode != protocol.NONE || p.BaseOffset != 0 {
		t.Fatalf("unexpected produce partition: %+v", p)
	}

	fetch := kmsg.NewFetchRequest()
	fetch.Version = 11
	fetch.ReplicaID = -1
	fetch.MaxBytes = 1 << 20
	fetchTopic := kmsg.NewFetchRequestTopic()
	fetchTopic.Topic = "orders"
	fetchPart := kmsg.NewFetchRequestTopicPartition()
	fetchPart.Partition = 0
	fetchPart.FetchOffset = 0
	fetchPart.PartitionMaxBytes = 1 << 16
	fetchTopic.Partitions = append(fetchTopic.Partitions, fetchPart)
	fetch.Topics = append(fetch.Topics, fetchTopic)

	body = dispatch(t, d, protocol.APIKeyFetch, 11, fetch.AppendTo(nil))
	fetchResp := kmsg.NewFetchResponse()
	fetchResp.Version = 11
	if err := fetchResp.ReadFrom(body); err != nil {
		t.Fatalf("decode fetch response: %v", err)
	}
	fp := fetchResp.Topics[0].Partitions[0]
	if fp.ErrorCode != protocol.NONE {
		t.Fatalf("unexpected fetch error %d", fp.ErrorCode)
	}
	if fp.HighWatermark != 3 {
		t.Fatalf("expected high watermark 3 got %d", fp.HighWatermark)
	}
	if len(fp.RecordBatches) != len(batch) {
		t.Fatalf("expected %d record bytes got %d", len(batch), len(fp.RecordBatches))
	}
	// The stored batch has its base offset rewritten to the assigned one.
	if got := int64(binary.BigEndian.Uint64(fp.RecordBatches[0:8])); got != 0 {
		t.Fatalf("unexpected stored base offset %d", got)
	}
}

func TestDispatchProduceAcksZeroNoResponse(t *testing.T) {
	d, store := newTestDispatcher(t)
	if _, err := store.CreateTopic(context.Background(), metadata.TopicSpec{Name: "orders", NumPartitions: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	produce := kmsg.NewProduceRequest()
	produce.Version = 3
	produce.Acks = 0
	topic := kmsg.NewProduceRequestTopic()
	topic.Topic = "orders"
	part := kmsg.NewProduceRequestTopicPartition()
	part.Records = testBatch(1)
	topic.Partitions = append(topic.Partitions, part)
	produce.Topics = append(produce.Topics, topic)

	payload, err := d.Handle(context.Background(), &RequestContext{
		Header:  &protocol.RequestHeader{APIKey: protocol.APIKeyProduce, APIVersion: 3},
		Payload: produce.AppendTo(nil),
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if payload != nil {
		t.Fatalf("acks=0 must not produce a response")
	}
	// The record still landed.
	if log, ok := d.logs.Get("orders", 0); !ok || log.HighWatermark() != 1 {
		t.Fatalf("acks=0 produce not applied")
	}
}

func TestDispatchProduceUnknownTopic(t *testing.T) {
	d, _ := newTestDispatcher(t)
	produce := kmsg.NewProduceRequest()
	produce.Version = 3
	produce.Acks = -1
	topic := kmsg.NewProduceRequestTopic()
	topic.Topic = "ghost"
	part := kmsg.NewProduceRequestTopicPartition()
	part.Records = testBatch(1)
	topic.Partitions = append(topic.Partitions, part)
	produce.Topics = append(produce.Topics, topic)

	body := dispatch(t, d, protocol.APIKeyProduce, 3, produce.AppendTo(nil))
	resp := kmsg.NewProduceResponse()
	resp.Version = 3
	if err := resp.ReadFrom(body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if code := resp.Topics[0].Partitions[0].ErrorCode; code != protocol.UNKNOWN_TOPIC_OR_PARTITION {
		t.Fatalf("expected UNKNOWN_TOPIC_OR_PARTITION got %d", code)
	}
}

func TestDispatchFetchOffsetOutOfRange(t *testing.T) {
	d, store := newTestDispatcher(t)
	if _, err := store.CreateTopic(context.Background(), metadata.TopicSpec{Name: "orders", NumPartitions: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	d.logs.GetOrCreate("orders", 0, 0)

	fetch := kmsg.NewFetchRequest()
	fetch.Version = 11
	fetch.ReplicaID = -1
	topic := kmsg.NewFetchRequestTopic()
	topic.Topic = "orders"
	part := kmsg.NewFetchRequestTopicPartition()
	part.FetchOffset = 99
	topic.Partitions = append(topic.Partitions, part)
	fetch.Topics = append(fetch.Topics, topic)

	body := dispatch(t, d, protocol.APIKeyFetch, 11, fetch.AppendTo(nil))
	resp := kmsg.NewFetchResponse()
	resp.Version = 11
	if err := resp.ReadFrom(body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if code := resp.Topics[0].Partitions[0].ErrorCode; code != protocol.OFFSET_OUT_OF_RANGE {
		t.Fatalf("expected OFFSET_OUT_OF_RANGE got %d", code)
	}
}

func TestDispatchMetadataReportsMissingTopics(t *testing.T) {
	d, store := newTestDispatcher(t)
	if _, err := store.CreateTopic(context.Background(), metadata.TopicSpec{Name: "orders", NumPartitions: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	meta := kmsg.NewMetadataRequest()
	meta.Version = 8
	for _, name := range []string{"orders", "ghost"} {
		topic := kmsg.NewMetadataRequestTopic()
		topic.Topic = kmsg.StringPtr(name)
		meta.Topics = append(meta.Topics, topic)
	}
	// v8 auto-create flag off to keep "ghost" missing.
	meta.AllowAutoTopicCreation = false

	body := dispatch(t, d, protocol.APIKeyMetadata, 8, meta.AppendTo(nil))
	resp := kmsg.NewMetadataResponse()
	resp.Version = 8
	if err := resp.ReadFrom(body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Topics) != 2 {
		t.Fatalf("expected 2 topics got %d", len(resp.Topics))
	}
	found := map[string]int16{}
	for _, topic := range resp.Topics {
		found[*topic.Topic] = topic.ErrorCode
	}
	if found["orders"] != protocol.NONE {
		t.Fatalf("orders errored: %d", found["orders"])
	}
	if found["ghost"] != protocol.UNKNOWN_TOPIC_OR_PARTITION {
		t.Fatalf("expected missing topic error got %d", found["ghost"])
	}
}

func TestDispatchListOffsets(t *testing.T) {
	d, store := newTestDispatcher(t)
	if _, err := store.CreateTopic(context.Background(), metadata.TopicSpec{Name: "orders", NumPartitions: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	log := d.logs.GetOrCreate("orders", 0, 0)
	if _, err := log.Append(testBatch(4)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int32(-1)) // replica id
	_ = binary.Write(&buf, binary.BigEndian, int32(1))  // topic count
	_ = binary.Write(&buf, binary.BigEndian, int16(len("orders")))
	buf.WriteString("orders")
	_ = binary.Write(&buf, binary.BigEndian, int32(1))  // partition count
	_ = binary.Write(&buf, binary.BigEndian, int32(0))  // partition
	_ = binary.Write(&buf, binary.BigEndian, int64(-1)) // latest

	body := dispatch(t, d, protocol.APIKeyListOffsets, 1, buf.Bytes())
	resp := kmsg.NewListOffsetsResponse()
	resp.Version = 1
	if err := resp.ReadFrom(body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := resp.Topics[0].Partitions[0]
	if p.ErrorCode != protocol.NONE || p.Offset != 4 {
		t.Fatalf("unexpected list offsets: %+v", p)
	}
}
