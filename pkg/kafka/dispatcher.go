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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/novatechflow/streamraft/pkg/metadata"
	"github.com/novatechflow/streamraft/pkg/protocol"
	"github.com/novatechflow/streamraft/pkg/storage"
)

// DispatcherConfig tunes the request dispatcher.
type DispatcherConfig struct {
	AutoCreateTopics     bool
	AutoCreatePartitions int32
	TraceRequests        bool
}

// Dispatcher is the concrete Handler: it parses request bodies and serves
// them from the metadata store and the partition logs.
type Dispatcher struct {
	cfg    DispatcherConfig
	store  metadata.Store
	logs   *storage.Manager
	logger *slog.Logger
}

// NewDispatcher wires a dispatcher to its collaborators.
func NewDispatcher(cfg DispatcherConfig, store metadata.Store, logs *storage.Manager, logger *slog.Logger) *Dispatcher {
	if cfg.AutoCreatePartitions <= 0 {
		cfg.AutoCreatePartitions = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:    cfg,
		store:  store,
		logs:   logs,
		logger: logger.With("component", "dispatcher"),
	}
}

// Handle implements Handler.
func (d *Dispatcher) Handle(ctx context.Context, rc *RequestContext) ([]byte, error) {
	header := rc.Header
	if d.cfg.TraceRequests {
		d.logger.Debug("received request",
			"api_key", header.APIKey,
			"api_version", header.APIVersion,
			"correlation", header.CorrelationID,
			"client_id", header.ClientIDString())
	}
	req, err := protocol.ParseRequestBody(header, rc.Payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedAPI) {
			return protocol.EncodeErrorResponse(header, protocol.UNSUPPORTED_VERSION), nil
		}
		return nil, err
	}
	throttleMs := int32(rc.ThrottleDelay / time.Millisecond)

	switch body := req.(type) {
	case *protocol.ApiVersionsRequest:
		return d.handleApiVersions(header)
	case *protocol.MetadataRequest:
		return d.handleMetadata(ctx, header, body, throttleMs)
	case *protocol.ProduceRequest:
		return d.handleProduce(ctx, header, body, throttleMs)
	case *protocol.FetchRequest:
		return d.handleFetch(header, body, throttleMs)
	case *protocol.ListOffsetsRequest:
		return d.handleListOffsets(header, body)
	case *protocol.CreateTopicsRequest:
		return d.handleCreateTopics(ctx, body)
	default:
		return nil, fmt.Errorf("no handler for api key %d", header.APIKey)
	}
}

func (d *Dispatcher) handleApiVersions(header *protocol.RequestHeader) ([]byte, error) {
	errorCode := protocol.NONE
	if header.APIVersion != 0 {
		// Answer with the v0 body; clients downgrade and retry.
		errorCode = protocol.UNSUPPORTED_VERSION
	}
	return protocol.EncodeApiVersionsResponse(&protocol.ApiVersionsResponse{
		ErrorCode: errorCode,
		Versions:  protocol.SupportedVersions(),
	})
}

func (d *Dispatcher) handleMetadata(ctx context.Context, header *protocol.RequestHeader, req *protocol.MetadataRequest, throttleMs int32) ([]byte, error) {
	if d.cfg.AutoCreateTopics && req.AllowAutoTopicCreation && !req.AllTopics {
		for _, name := range req.Topics {
			if strings.TrimSpace(name) == "" {
				continue
			}
			if err := d.ensureTopic(ctx, name); err != nil {
				return nil, fmt.Errorf("auto-create topic %s: %w", name, err)
			}
		}
	}
	filter := req.Topics
	if req.AllTopics {
		filter = nil
	}
	meta, err := d.store.Metadata(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	resp := &protocol.MetadataResponse{
		ThrottleMs:   throttleMs,
		Brokers:      meta.Brokers,
		ClusterID:    meta.ClusterID,
		ControllerID: meta.ControllerID,
		Topics:       meta.Topics,
	}
	// Requested but missing topics come back as per-topic errors.
	if !req.AllTopics {
		present := make(map[string]bool, len(meta.Topics))
		for _, t := range meta.Topics {
			present[t.Name] = true
		}
		for _, name := range req.Topics {
			if !present[name] {
				resp.Topics = append(resp.Topics, protocol.MetadataTopic{
					ErrorCode: protocol.UNKNOWN_TOPIC_OR_PARTITION,
					Name:      name,
				})
			}
		}
	}
	return protocol.EncodeMetadataResponse(resp, header.APIVersion)
}

func (d *Dispatcher) handleProduce(ctx context.Context, header *protocol.RequestHeader, req *protocol.ProduceRequest, throttleMs int32) ([]byte, error) {
	resp := &protocol.ProduceResponse{ThrottleMs: throttleMs}
	for _, topic := range req.Topics {
		topicResp := protocol.ProduceTopicResponse{Name: topic.Name}
		for _, part := range topic.Partitions {
			partResp := protocol.ProducePartitionResponse{
				Partition:       part.Partition,
				BaseOffset:      -1,
				LogAppendTimeMs: -1,
			}
			baseOffset, err := d.appendPartition(ctx, topic.Name, part)
			if err != nil {
				partResp.ErrorCode = produceErrorCode(err)
				d.logger.Debug("produce append failed",
					"topic", topic.Name, "partition", part.Partition, "error", err)
			} else {
				partResp.BaseOffset = baseOffset
			}
			if log, ok := d.logs.Get(topic.Name, part.Partition); ok {
				partResp.LogStartOffset = log.EarliestOffset()
			}
			topicResp.Partitions = append(topicResp.Partitions, partResp)
		}
		resp.Topics = append(resp.Topics, topicResp)
	}
	if req.Acks == 0 {
		return nil, nil
	}
	return protocol.EncodeProduceResponse(resp, header.APIVersion)
}

func (d *Dispatcher) appendPartition(ctx context.Context, topic string, part protocol.ProducePartition) (int64, error) {
	startOffset, err := d.store.NextOffset(ctx, topic, part.Partition)
	if err != nil {
		return 0, err
	}
	log := d.logs.GetOrCreate(topic, part.Partition, startOffset)
	baseOffset, err := log.Append(part.Records)
	if err != nil {
		return 0, err
	}
	if err := d.store.UpdateOffsets(ctx, topic, part.Partition, log.HighWatermark()-1); err != nil {
		return 0, err
	}
	return baseOffset, nil
}

func (d *Dispatcher) handleFetch(header *protocol.RequestHeader, req *protocol.FetchRequest, throttleMs int32) ([]byte, error) {
	resp := &protocol.FetchResponse{ThrottleMs: throttleMs, SessionID: req.SessionID}
	for _, topic := range req.Topics {
		topicResp := protocol.FetchTopicResponse{Name: topic.Name}
		for _, part := range topic.Partitions {
			partResp := protocol.FetchPartitionResponse{
				Partition:            part.Partition,
				PreferredReadReplica: -1,
			}
			log, ok := d.logs.Get(topic.Name, part.Partition)
			if !ok {
				partResp.ErrorCode = protocol.UNKNOWN_TOPIC_OR_PARTITION
			} else {
				partResp.HighWatermark = log.HighWatermark()
				partResp.LastStableOffset = log.HighWatermark()
				partResp.LogStartOffset = log.EarliestOffset()
				records, err := log.Read(part.FetchOffset, part.MaxBytes)
				switch {
				case errors.Is(err, storage.ErrOffsetOutOfRange):
					partResp.ErrorCode = protocol.OFFSET_OUT_OF_RANGE
				case err != nil:
					return nil, err
				default:
					partResp.RecordSet = records
				}
			}
			topicResp.Partitions = append(topicResp.Partitions, partResp)
		}
		resp.Topics = append(resp.Topics, topicResp)
	}
	return protocol.EncodeFetchResponse(resp, header.APIVersion)
}

func (d *Dispatcher) handleListOffsets(header *protocol.RequestHeader, req *protocol.ListOffsetsRequest) ([]byte, error) {
	const (
		timestampLatest   = -1
		timestampEarliest = -2
	)
	resp := &protocol.ListOffsetsResponse{}
	for _, topic := range req.Topics {
		topicResp := protocol.ListOffsetsTopicResponse{Name: topic.Name}
		for _, part := range topic.Partitions {
			partResp := protocol.ListOffsetsPartitionResponse{
				Partition: part.Partition,
				Timestamp: -1,
			}
			log, ok := d.logs.Get(topic.Name, part.Partition)
			if !ok {
				partResp.ErrorCode = protocol.UNKNOWN_TOPIC_OR_PARTITION
			} else {
				var offset int64
				switch part.Timestamp {
				case timestampEarliest:
					offset = log.EarliestOffset()
				default:
					// Timestamp lookup is served as "latest": the in-memory
					// tail keeps no per-record timestamp index.
					offset = log.HighWatermark()
				}
				partResp.Offset = offset
				partResp.OldStyleOffsets = []int64{offset}
			}
			topicResp.Partitions = append(topicResp.Partitions, partResp)
		}
		resp.Topics = append(resp.Topics, topicResp)
	}
	return protocol.EncodeListOffsetsResponse(resp, header.APIVersion)
}

func (d *Dispatcher) handleCreateTopics(ctx context.Context, req *protocol.CreateTopicsRequest) ([]byte, error) {
	resp := &protocol.CreateTopicsResponse{}
	for _, spec := range req.Topics {
		result := protocol.CreateTopicResult{Name: spec.Name}
		_, err := d.store.CreateTopic(ctx, metadata.TopicSpec{
			Name:              spec.Name,
			NumPartitions:     spec.NumPartitions,
			ReplicationFactor: spec.ReplicationFactor,
		})
		switch {
		case errors.Is(err, metadata.ErrTopicExists):
			result.ErrorCode = protocol.TOPIC_ALREADY_EXISTS
		case errors.Is(err, metadata.ErrInvalidTopic):
			result.ErrorCode = protocol.INVALID_TOPIC_EXCEPTION
		case err != nil:
			result.ErrorCode = protocol.UNKNOWN_SERVER_ERROR
		}
		resp.Topics = append(resp.Topics, result)
	}
	return protocol.EncodeCreateTopicsResponse(resp)
}

func (d *Dispatcher) ensureTopic(ctx context.Context, name string) error {
	_, err := d.store.CreateTopic(ctx, metadata.TopicSpec{
		Name:          name,
		NumPartitions: d.cfg.AutoCreatePartitions,
	})
	if err != nil && !errors.Is(err, metadata.ErrTopicExists) {
		return err
	}
	return nil
}

func produceErrorCode(err error) int16 {
	switch {
	case errors.Is(err, metadata.ErrUnknownTopic):
		return protocol.UNKNOWN_TOPIC_OR_PARTITION
	default:
		return protocol.UNKNOWN_SERVER_ERROR
	}
}
