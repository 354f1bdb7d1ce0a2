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

import "fmt"

// Response payloads never include the correlation id; the connection writer
// prefixes it together with the frame size.

// ApiVersionsResponse describes server capabilities.
type ApiVersionsResponse struct {
	ErrorCode int16
	Versions  []ApiVersion
}

// MetadataBroker describes a broker in a Metadata response.
type MetadataBroker struct {
	NodeID int32
	Host   string
	Port   int32
	Rack   *string
}

// MetadataTopic describes a topic in a Metadata response.
type MetadataTopic struct {
	ErrorCode  int16
	Name       string
	IsInternal bool
	Partitions []MetadataPartition
}

// MetadataPartition describes partition placement.
type MetadataPartition struct {
	ErrorCode      int16
	PartitionIndex int32
	LeaderID       int32
	LeaderEpoch    int32
	ReplicaNodes   []int32
	ISRNodes       []int32
}

// MetadataResponse holds broker + topic info.
type MetadataResponse struct {
	ThrottleMs   int32
	Brokers      []MetadataBroker
	ClusterID    *string
	ControllerID int32
	Topics       []MetadataTopic
}

// ProduceResponse acknowledges appended record batches.
type ProduceResponse struct {
	Topics     []ProduceTopicResponse
	ThrottleMs int32
}

type ProduceTopicResponse struct {
	Name       string
	Partitions []ProducePartitionResponse
}

type ProducePartitionResponse struct {
	Partition       int32
	ErrorCode       int16
	BaseOffset      int64
	LogAppendTimeMs int64
	LogStartOffset  int64
}

// FetchResponse returns record batches to consumers.
type FetchResponse struct {
	ThrottleMs int32
	ErrorCode  int16
	SessionID  int32
	Topics     []FetchTopicResponse
}

type FetchTopicResponse struct {
	Name       string
	Partitions []FetchPartitionResponse
}

type FetchPartitionResponse struct {
	Partition            int32
	ErrorCode            int16
	HighWatermark        int64
	LastStableOffset     int64
	LogStartOffset       int64
	PreferredReadReplica int32
	RecordSet            []byte
}

// ListOffsetsResponse answers offset lookups.
type ListOffsetsResponse struct {
	Topics []ListOffsetsTopicResponse
}

type ListOffsetsTopicResponse struct {
	Name       string
	Partitions []ListOffsetsPartitionResponse
}

type ListOffsetsPartitionResponse struct {
	Partition       int32
	ErrorCode       int16
	Timestamp       int64
	Offset          int64
	OldStyleOffsets []int64
}

// CreateTopicsResponse reports per-topic creation outcomes.
type CreateTopicsResponse struct {
	Topics []CreateTopicResult
}

type CreateTopicResult struct {
	Name      string
	ErrorCode int16
}

// EncodeApiVersionsResponse renders the version 0 body.
func EncodeApiVersionsResponse(resp *ApiVersionsResponse) ([]byte, error) {
	w := newWireWriter(16 + 6*len(resp.Versions))
	w.Int16(resp.ErrorCode)
	w.Int32(int32(len(resp.Versions)))
	for _, v := range resp.Versions {
		w.Int16(v.APIKey)
		w.Int16(v.MinVersion)
		w.Int16(v.MaxVersion)
	}
	return w.Finish(), nil
}

// EncodeMetadataResponse renders versions 0 through 8.
func EncodeMetadataResponse(resp *MetadataResponse, version int16) ([]byte, error) {
	if version < 0 || version > 8 {
		return nil, fmt.Errorf("metadata response version %d not supported", version)
	}
	w := newWireWriter(256)
	if version >= 3 {
		w.Int32(resp.ThrottleMs)
	}
	w.Int32(int32(len(resp.Brokers)))
	for _, b := range resp.Brokers {
		w.Int32(b.NodeID)
		w.String(b.Host)
		w.Int32(b.Port)
		if version >= 1 {
			w.NullableString(b.Rack)
		}
	}
	if version >= 2 {
		w.NullableString(resp.ClusterID)
	}
	if version >= 1 {
		w.Int32(resp.ControllerID)
	}
	w.Int32(int32(len(resp.Topics)))
	for _, t := range resp.Topics {
		w.Int16(t.ErrorCode)
		w.String(t.Name)
		if version >= 1 {
			w.Bool(t.IsInternal)
		}
		w.Int32(int32(len(t.Partitions)))
		for _, p := range t.Partitions {
			w.Int16(p.ErrorCode)
			w.Int32(p.PartitionIndex)
			w.Int32(p.LeaderID)
			if version >= 7 {
				w.Int32(p.LeaderEpoch)
			}
			w.Int32(int32(len(p.ReplicaNodes)))
			for _, replica := range p.ReplicaNodes {
				w.Int32(replica)
			}
			w.Int32(int32(len(p.ISRNodes)))
			for _, isr := range p.ISRNodes {
				w.Int32(isr)
			}
			if version >= 5 {
				w.Int32(0) // offline replicas
			}
		}
		if version >= 8 {
			w.Int32(-2147483648) // topic authorized operations: unset
		}
	}
	if version >= 8 {
		w.Int32(-2147483648) // cluster authorized operations: unset
	}
	return w.Finish(), nil
}

// EncodeProduceResponse renders versions 3 through 8.
func EncodeProduceResponse(resp *ProduceResponse, version int16) ([]byte, error) {
	if version < 3 || version > 8 {
		return nil, fmt.Errorf("produce response version %d not supported", version)
	}
	w := newWireWriter(128)
	w.Int32(int32(len(resp.Topics)))
	for _, topic := range resp.Topics {
		w.String(topic.Name)
		w.Int32(int32(len(topic.Partitions)))
		for _, p := range topic.Partitions {
			w.Int32(p.Partition)
			w.Int16(p.ErrorCode)
			w.Int64(p.BaseOffset)
			w.Int64(p.LogAppendTimeMs)
			if version >= 5 {
				w.Int64(p.LogStartOffset)
			}
			if version >= 8 {
				w.Int32(0)  // record errors
				w.Int16(-1) // error message
			}
		}
	}
	w.Int32(resp.ThrottleMs)
	return w.Finish(), nil
}

// EncodeFetchResponse renders versions 4 through 11.
func EncodeFetchResponse(resp *FetchResponse, version int16) ([]byte, error) {
	if version < 4 || version > 11 {
		return nil, fmt.Errorf("fetch response version %d not supported", version)
	}
	w := newWireWriter(256)
	w.Int32(resp.ThrottleMs)
	if version >= 7 {
		w.Int16(resp.ErrorCode)
		w.Int32(resp.SessionID)
	}
	w.Int32(int32(len(resp.Topics)))
	for _, topic := range resp.Topics {
		w.String(topic.Name)
		w.Int32(int32(len(topic.Partitions)))
		for _, part := range topic.Partitions {
			w.Int32(part.Partition)
			w.Int16(part.ErrorCode)
			w.Int64(part.HighWatermark)
			w.Int64(part.LastStableOffset)
			if version >= 5 {
				w.Int64(part.LogStartOffset)
			}
			w.Int32(0) // aborted transactions
			if version >= 11 {
				w.Int32(part.PreferredReadReplica)
			}
			w.BytesWithLength(part.RecordSet)
		}
	}
	return w.Finish(), nil
}

// EncodeListOffsetsResponse renders versions 0 and 1.
func EncodeListOffsetsResponse(resp *ListOffsetsResponse, version int16) ([]byte, error) {
	if version < 0 || version > 1 {
		return nil, fmt.Errorf("list offsets response version %d not supported", version)
	}
	w := newWireWriter(128)
	w.Int32(int32(len(resp.Topics)))
	for _, topic := range resp.Topics {
		w.String(topic.Name)
		w.Int32(int32(len(topic.Partitions)))
		for _, p := range topic.Partitions {
			w.Int32(p.Partition)
			w.Int16(p.ErrorCode)
			if version == 0 {
				w.Int32(int32(len(p.OldStyleOffsets)))
				for _, off := range p.OldStyleOffsets {
					w.Int64(off)
				}
			} else {
				w.Int64(p.Timestamp)
				w.Int64(p.Offset)
			}
		}
	}
	return w.Finish(), nil
}

// EncodeCreateTopicsResponse renders the version 0 body.
func EncodeCreateTopicsResponse(resp *CreateTopicsResponse) ([]byte, error) {
	w := newWireWriter(64)
	w.Int32(int32(len(resp.Topics)))
	for _, topic := range resp.Topics {
		w.String(topic.Name)
		w.Int16(topic.ErrorCode)
	}
	return w.Finish(), nil
}

// EncodeErrorResponse builds the smallest valid body for the request's api
// that carries errorCode, so a failed dispatch still answers its correlation
// id instead of desynchronizing the connection.
func EncodeErrorResponse(header *RequestHeader, errorCode int16) []byte {
	switch header.APIKey {
	case APIKeyApiVersion:
		body, _ := EncodeApiVersionsResponse(&ApiVersionsResponse{ErrorCode: errorCode})
		return body
	case APIKeyFetch:
		if header.APIVersion >= 7 && header.APIVersion <= 11 {
			body, _ := EncodeFetchResponse(&FetchResponse{ErrorCode: errorCode}, header.APIVersion)
			return body
		}
		body, _ := EncodeFetchResponse(&FetchResponse{}, clampVersion(header.APIVersion, 4, 11))
		return body
	case APIKeyProduce:
		body, _ := EncodeProduceResponse(&ProduceResponse{}, clampVersion(header.APIVersion, 3, 8))
		return body
	case APIKeyMetadata:
		body, _ := EncodeMetadataResponse(&MetadataResponse{}, clampVersion(header.APIVersion, 0, 8))
		return body
	case APIKeyListOffsets:
		body, _ := EncodeListOffsetsResponse(&ListOffsetsResponse{}, clampVersion(header.APIVersion, 0, 1))
		return body
	case APIKeyCreateTopics:
		body, _ := EncodeCreateTopicsResponse(&CreateTopicsResponse{})
		return body
	default:
		w := newWireWriter(2)
		w.Int16(errorCode)
		return w.Finish()
	}
}

func clampVersion(v, min, max int16) int16 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
