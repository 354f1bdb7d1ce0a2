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

package protocol

import (
	"bytes"
	"testing"

	"github.com/twmb/franz-go/pkg/kmsg"
)

func TestParseProduceFromKmsg(t *testing.T) {
	// Encode with franz-go's codec so the parser is checked against an
	// independent implementation of the wire format.
	req := kmsg.NewProduceRequest()
	req.Version = 3
	req.Acks = -1
	req.TimeoutMillis = 1500
	topic := kmsg.NewProduceRequestTopic()
	topic.Topic = "orders"
	part := kmsg.NewProduceRequestTopicPartition()
	part.Partition = 2
	part.Records = []byte("opaque-batch-bytes")
	topic.Partitions = append(topic.Partitions, part)
	req.Topics = append(req.Topics, topic)

	body := req.AppendTo(nil)
	header := &RequestHeader{APIKey: APIKeyProduce, APIVersion: 3}
	parsed, err := ParseRequestBody(header, body)
	if err != nil {
		t.Fatalf("ParseRequestBody: %v", err)
	}
	produce, ok := parsed.(*ProduceRequest)
	if !ok {
		t.Fatalf("expected ProduceRequest got %T", parsed)
	}
	if produce.Acks != -1 || produce.TimeoutMs != 1500 {
		t.Fatalf("unexpected produce fields: %+v", produce)
	}
	if len(produce.Topics) != 1 || produce.Topics[0].Name != "orders" {
		t.Fatalf("unexpected topics: %+v", produce.Topics)
	}
	p := produce.Topics[0].Partitions[0]
	if p.Partition != 2 || !bytes.Equal(p.Records, []byte("opaque-batch-bytes")) {
		t.Fatalf("unexpected partition: %+v", p)
	}
}

func TestParseMetadataFromKmsg(t *testing.T) {
	req := kmsg.NewMetadataRequest()
	req.Version = 1
	topic := kmsg.NewMetadataRequestTopic()
	topic.Topic = kmsg.StringPtr("orders")
	req.Topics = append(req.Topics, topic)

	body := req.AppendTo(nil)
	header := &RequestHeader{APIKey: APIKeyMetadata, APIVersion: 1}
	parsed, err := ParseRequestBody(header, body)
	if err != nil {
		t.Fatalf("ParseRequestBody: %v", err)
	}
	meta, ok := parsed.(*MetadataRequest)
	if !ok {
		t.Fatalf("expected MetadataRequest got %T", parsed)
	}
	if meta.AllTopics {
		t.Fatalf("expected topic subset")
	}
	if len(meta.Topics) != 1 || meta.Topics[0] != "orders" {
		t.Fatalf("unexpected topics: %v", meta.Topics)
	}
}

func TestParseMetadataAllTopics(t *testing.T) {
	req := kmsg.NewMetadataRequest()
	req.Version = 1
	// Nil topics encodes as a null array, meaning every topic.
	body := req.AppendTo(nil)
	header := &RequestHeader{APIKey: APIKeyMetadata, APIVersion: 1}
	parsed, err := ParseRequestBody(header, body)
	if err != nil {
		t.Fatalf("ParseRequestBody: %v", err)
	}
	meta := parsed.(*MetadataRequest)
	if !meta.AllTopics {
		t.Fatalf("expected AllTopics for null array")
	}
}

func TestParseFetchFromKmsg(t *testing.T) {
	req := kmsg.NewFetchRequest()
	req.Version = 11
	req.ReplicaID = -1
	req.MaxWaitMillis = 500
	req.MinBytes = 1
	req.MaxBytes = 1 << 20
	topic := kmsg.NewFetchRequestTopic()
	topic.Topic = "orders"
	part := kmsg.NewFetchRequestTopicPartition()
	part.Partition = 0
	part.FetchOffset = 42
	part.PartitionMaxBytes = 1 << 16
	topic.Partitions = append(topic.Partitions, part)
	req.Topics = append(req.Topics, topic)

	body := req.AppendTo(nil)
	header := &RequestHeader{APIKey: APIKeyFetch, APIVersion: 11}
	parsed, err := ParseRequestBody(header, body)
	if err != nil {
		t.Fatalf("ParseRequestBody: %v", err)
	}
	fetch, ok := parsed.(*FetchRequest)
	if !ok {
		t.Fatalf("expected FetchRequest got %T", parsed)
	}
	if fetch.MaxWaitMs != 500 || fetch.MaxBytes != 1<<20 {
		t.Fatalf("unexpected fetch fields: %+v", fetch)
	}
	if len(fetch.Topics) != 1 || fetch.Topics[0].Name != "orders" {
		t.Fatalf("unexpected fetch topics: %+v", fetch.Topics)
	}
	p := fetch.Topics[0].Partitions[0]
	if p.FetchOffset != 42 || p.MaxBytes != 1<<16 {
		t.Fatalf("unexpected fetch partition: %+v", p)
	}
}

func TestParseUnsupportedAPIKey(t *testing.T) {
	header := &RequestHeader{APIKey: 999, APIVersion: 0}
	if _, err := ParseRequestBody(header, nil); err == nil {
		t.Fatalf("expected error for unknown api key")
	}
}

func TestParseProduceTruncated(t *testing.T) {
	header := &RequestHeader{APIKey: APIKeyProduce, APIVersion: 3}
	if _, err := ParseRequestBody(header, []byte{0, 1}); err == nil {
		t.Fatalf("expected error for truncated body")
	}
}
