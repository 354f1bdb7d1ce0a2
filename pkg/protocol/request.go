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
	"fmt"
)

// Request is implemented by concrete protocol request bodies.
type Request interface {
	APIKey() int16
}

// ApiVersionsRequest carries no fields the broker acts on.
type ApiVersionsRequest struct{}

func (ApiVersionsRequest) APIKey() int16 { return APIKeyApiVersion }

// ProduceRequest covers versions 3 through 8. Record batches stay opaque.
type ProduceRequest struct {
	TransactionalID *string
	Acks            int16
	TimeoutMs       int32
	Topics          []ProduceTopic
}

type ProduceTopic struct {
	Name       string
	Partitions []ProducePartition
}

type ProducePartition struct {
	Partition int32
	Records   []byte
}

func (ProduceRequest) APIKey() int16 { return APIKeyProduce }

// FetchRequest covers versions 4 through 11.
type FetchRequest struct {
	ReplicaID      int32
	MaxWaitMs      int32
	MinBytes       int32
	MaxBytes       int32
	IsolationLevel int8
	SessionID      int32
	SessionEpoch   int32
	Topics         []FetchTopic
	RackID         string
}

type FetchTopic struct {
	Name       string
	Partitions []FetchPartition
}

type FetchPartition struct {
	Partition          int32
	CurrentLeaderEpoch int32
	FetchOffset        int64
	LogStartOffset     int64
	MaxBytes           int32
}

func (FetchRequest) APIKey() int16 { return APIKeyFetch }

// ListOffsetsRequest covers versions 0 and 1.
type ListOffsetsRequest struct {
	ReplicaID int32
	Topics    []ListOffsetsTopic
}

type ListOffsetsTopic struct {
	Name       string
	Partitions []ListOffsetsPartition
}

type ListOffsetsPartition struct {
	Partition     int32
	Timestamp     int64
	MaxNumOffsets int32
}

func (ListOffsetsRequest) APIKey() int16 { return APIKeyListOffsets }

// MetadataRequest asks for cluster metadata. Nil Topics means "all".
type MetadataRequest struct {
	Topics                 []string
	AllTopics              bool
	AllowAutoTopicCreation bool
}

func (MetadataRequest) APIKey() int16 { return APIKeyMetadata }

// CreateTopicsRequest covers version 0.
type CreateTopicsRequest struct {
	Topics    []CreateTopicConfig
	TimeoutMs int32
}

type CreateTopicConfig struct {
	Name              string
	NumPartitions     int32
	ReplicationFactor int16
}

func (CreateTopicsRequest) APIKey() int16 { return APIKeyCreateTopics }

// ParseRequestBody decodes the request body that follows an already parsed
// header. The payload is everything the frame carried after the header.
func ParseRequestBody(header *RequestHeader, payload []byte) (Request, error) {
	r := newWireReader(payload)
	switch header.APIKey {
	case APIKeyApiVersion:
		// Body fields (v3+ client software name/version) are irrelevant:
		// any version other than 0 is answered with UNSUPPORTED_VERSION.
		return &ApiVersionsRequest{}, nil
	case APIKeyProduce:
		return parseProduce(header.APIVersion, r)
	case APIKeyFetch:
		return parseFetch(header.APIVersion, r)
	case APIKeyListOffsets:
		return parseListOffsets(header.APIVersion, r)
	case APIKeyMetadata:
		return parseMetadata(header.APIVersion, r)
	case APIKeyCreateTopics:
		return parseCreateTopics(r)
	default:
		return nil, fmt.Errorf("%w: api key %d", ErrUnsupportedAPI, header.APIKey)
	}
}

// ErrUnsupportedAPI marks an api key the dispatcher has no handler for.
var ErrUnsupportedAPI = fmt.Errorf("unsupported api")

func parseProduce(version int16, r *wireReader) (*ProduceRequest, error) {
	if version < 3 || version > 8 {
		return nil, fmt.Errorf("produce version %d not supported", version)
	}
	transactionalID, err := r.NullableString()
	if err != nil {
		return nil, fmt.Errorf("read produce transactional id: %w", err)
	}
	acks, err := r.Int16()
	if err != nil {
		return nil, fmt.Errorf("read produce acks: %w", err)
	}
	timeout, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("read produce timeout: %w", err)
	}
	topicCount, err := r.ArrayLen()
	if err != nil {
		return nil, fmt.Errorf("read produce topic count: %w", err)
	}
	topics := make([]ProduceTopic, 0, topicCount)
	for i := int32(0); i < topicCount; i++ {
		name, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("read produce topic name: %w", err)
		}
		partitionCount, err := r.ArrayLen()
		if err != nil {
			return nil, fmt.Errorf("read produce partition count: %w", err)
		}
		partitions := make([]ProducePartition, 0, partitionCount)
		for j := int32(0); j < partitionCount; j++ {
			index, err := r.Int32()
			if err != nil {
				return nil, fmt.Errorf("read produce partition index: %w", err)
			}
			records, err := r.Bytes()
			if err != nil {
				return nil, fmt.Errorf("read produce records: %w", err)
			}
			partitions = append(partitions, ProducePartition{Partition: index, Records: records})
		}
		topics = append(topics, ProduceTopic{Name: name, Partitions: partitions})
	}
	return &ProduceRequest{
		TransactionalID: transactionalID,
		Acks:            acks,
		TimeoutMs:       timeout,
		Topics:          topics,
	}, nil
}

func parseFetch(version int16, r *wireReader) (*FetchRequest, error) {
	if version < 4 || version > 11 {
		return nil, fmt.Errorf("fetch version %d not supported", version)
	}
	req := &FetchRequest{}
	var err error
	if req.ReplicaID, err = r.Int32(); err != nil {
		return nil, fmt.Errorf("read fetch replica id: %w", err)
	}
	if req.MaxWaitMs, err = r.Int32(); err != nil {
		return nil, fmt.Errorf("read fetch max wait: %w", err)
	}
	if req.MinBytes, err = r.Int32(); err != nil {
		return nil, fmt.Errorf("read fetch min bytes: %w", err)
	}
	if req.MaxBytes, err = r.Int32(); err != nil {
		return nil, fmt.Errorf("read fetch max bytes: %w", err)
	}
	if req.IsolationLevel, err = r.Int8(); err != nil {
		return nil, fmt.Errorf("read fetch isolation level: %w", err)
	}
	if version >= 7 {
		if req.SessionID, err = r.Int32(); err != nil {
			return nil, fmt.Errorf("read fetch session id: %w", err)
		}
		if req.SessionEpoch, err = r.Int32(); err != nil {
			return nil, fmt.Errorf("read fetch session epoch: %w", err)
		}
	}
	topicCount, err := r.ArrayLen()
	if err != nil {
		return nil, fmt.Errorf("read fetch topic count: %w", err)
	}
	req.Topics = make([]FetchTopic, 0, topicCount)
	for i := int32(0); i < topicCount; i++ {
		name, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("read fetch topic name: %w", err)
		}
		partitionCount, err := r.ArrayLen()
		if err != nil {
			return nil, fmt.Errorf("read fetch partition count: %w", err)
		}
		partitions := make([]FetchPartition, 0, partitionCount)
		for j := int32(0); j < partitionCount; j++ {
			var p FetchPartition
			if p.Partition, err = r.Int32(); err != nil {
				return nil, fmt.Errorf("read fetch partition index: %w", err)
			}
			if version >= 9 {
				if p.CurrentLeaderEpoch, err = r.Int32(); err != nil {
					return nil, fmt.Errorf("read fetch leader epoch: %w", err)
				}
			}
			if p.FetchOffset, err = r.Int64(); err != nil {
				return nil, fmt.Errorf("read fetch offset: %w", err)
			}
			if version >= 5 {
				if p.LogStartOffset, err = r.Int64(); err != nil {
					return nil, fmt.Errorf("read fetch log start offset: %w", err)
				}
			}
			if p.MaxBytes, err = r.Int32(); err != nil {
				return nil, fmt.Errorf("read fetch partition max bytes: %w", err)
			}
			partitions = append(partitions, p)
		}
		req.Topics = append(req.Topics, FetchTopic{Name: name, Partitions: partitions})
	}
	if version >= 7 {
		forgottenCount, err := r.ArrayLen()
		if err != nil {
			return nil, fmt.Errorf("read fetch forgotten topic count: %w", err)
		}
		for i := int32(0); i < forgottenCount; i++ {
			if _, err := r.String(); err != nil {
				return nil, fmt.Errorf("read forgotten topic name: %w", err)
			}
			partitionCount, err := r.ArrayLen()
			if err != nil {
				return nil, fmt.Errorf("read forgotten partition count: %w", err)
			}
			for j := int32(0); j < partitionCount; j++ {
				if _, err := r.Int32(); err != nil {
					return nil, fmt.Errorf("read forgotten partition: %w", err)
				}
			}
		}
	}
	if version >= 11 {
		if req.RackID, err = r.String(); err != nil {
			return nil, fmt.Errorf("read fetch rack id: %w", err)
		}
	}
	return req, nil
}

func parseListOffsets(version int16, r *wireReader) (*ListOffsetsRequest, error) {
	if version < 0 || version > 1 {
		return nil, fmt.Errorf("list offsets version %d not supported", version)
	}
	req := &ListOffsetsRequest{}
	var err error
	if req.ReplicaID, err = r.Int32(); err != nil {
		return nil, fmt.Errorf("read list offsets replica id: %w", err)
	}
	topicCount, err := r.ArrayLen()
	if err != nil {
		return nil, fmt.Errorf("read list offsets topic count: %w", err)
	}
	req.Topics = make([]ListOffsetsTopic, 0, topicCount)
	for i := int32(0); i < topicCount; i++ {
		name, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("read list offsets topic name: %w", err)
		}
		partitionCount, err := r.ArrayLen()
		if err != nil {
			return nil, fmt.Errorf("read list offsets partition count: %w", err)
		}
		partitions := make([]ListOffsetsPartition, 0, partitionCount)
		for j := int32(0); j < partitionCount; j++ {
			var p ListOffsetsPartition
			if p.Partition, err = r.Int32(); err != nil {
				return nil, fmt.Errorf("read list offsets partition: %w", err)
			}
			if p.Timestamp, err = r.Int64(); err != nil {
				return nil, fmt.Errorf("read list offsets timestamp: %w", err)
			}
			if version == 0 {
				if p.MaxNumOffsets, err = r.Int32(); err != nil {
					return nil, fmt.Errorf("read list offsets max offsets: %w", err)
				}
			}
			partitions = append(partitions, p)
		}
		req.Topics = append(req.Topics, ListOffsetsTopic{Name: name, Partitions: partitions})
	}
	return req, nil
}

func parseMetadata(version int16, r *wireReader) (*MetadataRequest, error) {
	if version < 0 || version > 8 {
		return nil, fmt.Errorf("metadata version %d not supported", version)
	}
	// Null (-1) and empty topic arrays differ here: null always means
	// every topic, an empty list means every topic only in v0.
	count, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("read metadata topic count: %w", err)
	}
	if count < -1 {
		return nil, fmt.Errorf("invalid metadata topic count %d", count)
	}
	req := &MetadataRequest{}
	switch {
	case count == -1:
		req.AllTopics = true
	case count == 0 && version == 0:
		// v0 has no null array; an empty list means every topic.
		req.AllTopics = true
	default:
		req.Topics = make([]string, 0, count)
		for i := int32(0); i < count; i++ {
			name, err := r.String()
			if err != nil {
				return nil, fmt.Errorf("read metadata topic[%d]: %w", i, err)
			}
			req.Topics = append(req.Topics, name)
		}
	}
	req.AllowAutoTopicCreation = true
	if version >= 4 {
		if req.AllowAutoTopicCreation, err = r.Bool(); err != nil {
			return nil, fmt.Errorf("read metadata allow auto topic creation: %w", err)
		}
	}
	if version >= 8 {
		// Authorized-operations flags; parsed so trailing bytes validate.
		if _, err = r.Bool(); err != nil {
			return nil, fmt.Errorf("read metadata cluster auth ops flag: %w", err)
		}
		if _, err = r.Bool(); err != nil {
			return nil, fmt.Errorf("read metadata topic auth ops flag: %w", err)
		}
	}
	return req, nil
}

func parseCreateTopics(r *wireReader) (*CreateTopicsRequest, error) {
	topicCount, err := r.ArrayLen()
	if err != nil {
		return nil, fmt.Errorf("read create topics count: %w", err)
	}
	req := &CreateTopicsRequest{}
	req.Topics = make([]CreateTopicConfig, 0, topicCount)
	for i := int32(0); i < topicCount; i++ {
		var cfg CreateTopicConfig
		if cfg.Name, err = r.String(); err != nil {
			return nil, fmt.Errorf("read create topic name: %w", err)
		}
		if cfg.NumPartitions, err = r.Int32(); err != nil {
			return nil, fmt.Errorf("read create topic partitions: %w", err)
		}
		if cfg.ReplicationFactor, err = r.Int16(); err != nil {
			return nil, fmt.Errorf("read create topic replication factor: %w", err)
		}
		assignmentCount, err := r.ArrayLen()
		if err != nil {
			return nil, fmt.Errorf("read create topic assignment count: %w", err)
		}
		for j := int32(0); j < assignmentCount; j++ {
			if _, err := r.Int32(); err != nil {
				return nil, fmt.Errorf("read assignment partition: %w", err)
			}
			brokerCount, err := r.ArrayLen()
			if err != nil {
				return nil, fmt.Errorf("read assignment broker count: %w", err)
			}
			for k := int32(0); k < brokerCount; k++ {
				if _, err := r.Int32(); err != nil {
					return nil, fmt.Errorf("read assignment broker: %w", err)
				}
			}
		}
		configCount, err := r.ArrayLen()
		if err != nil {
			return nil, fmt.Errorf("read create topic config count: %w", err)
		}
		for j := int32(0); j < configCount; j++ {
			if _, err := r.String(); err != nil {
				return nil, fmt.Errorf("read config name: %w", err)
			}
			if _, err := r.NullableString(); err != nil {
				return nil, fmt.Errorf("read config value: %w", err)
			}
		}
		req.Topics = append(req.Topics, cfg)
	}
	if req.TimeoutMs, err = r.Int32(); err != nil {
		return nil, fmt.Errorf("read create topics timeout: %w", err)
	}
	return req, nil
}
