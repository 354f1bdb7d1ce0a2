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

package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/novatechflow/streamraft/pkg/protocol"
)

var (
	// ErrTopicExists indicates the topic is already present.
	ErrTopicExists = errors.New("topic already exists")
	// ErrInvalidTopic indicates the topic specification is invalid.
	ErrInvalidTopic = errors.New("invalid topic configuration")
	// ErrUnknownTopic indicates the topic does not exist.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrUnknownNode indicates no such node is registered.
	ErrUnknownNode = errors.New("unknown node")
)

// NodeInfo describes one broker in the cluster registry: where clients reach
// its Kafka listener and where peers reach its raft RPC endpoint.
type NodeInfo struct {
	ID       int32  `json:"id"`
	Host     string `json:"host"`
	Port     int32  `json:"port"`
	RaftAddr string `json:"raft_addr"`
}

// TopicSpec describes a topic creation request.
type TopicSpec struct {
	Name              string `json:"name"`
	NumPartitions     int32  `json:"num_partitions"`
	ReplicationFactor int16  `json:"replication_factor"`
}

// ClusterMetadata is the Kafka-visible cluster state.
type ClusterMetadata struct {
	Brokers      []protocol.MetadataBroker
	ControllerID int32
	Topics       []protocol.MetadataTopic
	ClusterID    *string
}

// Store exposes cluster metadata to the protocol handlers and the raft
// transport. Implementations are safe for concurrent use.
type Store interface {
	// Metadata returns brokers, controller, and topics. A non-empty topics
	// slice filters to that subset, omitting missing names.
	Metadata(ctx context.Context, topics []string) (*ClusterMetadata, error)
	// CreateTopic creates a topic and returns its metadata.
	CreateTopic(ctx context.Context, spec TopicSpec) (*protocol.MetadataTopic, error)
	// DeleteTopic removes a topic and its offsets.
	DeleteTopic(ctx context.Context, name string) error
	// NextOffset returns the next offset to assign for a partition.
	NextOffset(ctx context.Context, topic string, partition int32) (int64, error)
	// UpdateOffsets records the last appended offset for a partition.
	UpdateOffsets(ctx context.Context, topic string, partition int32, lastOffset int64) error
	// RegisterNode announces a broker to the cluster.
	RegisterNode(ctx context.Context, node NodeInfo) error
	// Nodes lists the registered brokers.
	Nodes(ctx context.Context) ([]NodeInfo, error)
	// RaftAddr resolves a node id to its raft RPC address.
	RaftAddr(ctx context.Context, nodeID int32) (string, error)
	// Close releases the store's resources.
	Close() error
}

// InMemoryStore keeps everything in process. It backs single-node
// deployments and tests, and serves as the snapshot cache of the etcd store.
type InMemoryStore struct {
	mu           sync.RWMutex
	nodes        map[int32]NodeInfo
	topics       map[string]TopicSpec
	offsets      map[string]int64
	controllerID int32
	clusterID    *string
}

// NewInMemoryStore builds an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	cluster := "streamraft"
	return &InMemoryStore{
		nodes:     make(map[int32]NodeInfo),
		topics:    make(map[string]TopicSpec),
		offsets:   make(map[string]int64),
		clusterID: &cluster,
	}
}

func offsetMapKey(topic string, partition int32) string {
	return fmt.Sprintf("%s/%d", topic, partition)
}

// Metadata implements Store.
func (s *InMemoryStore) Metadata(ctx context.Context, topics []string) (*ClusterMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return buildMetadata(s.nodes, s.topics, s.controllerID, s.clusterID, topics), nil
}

// CreateTopic implements Store.
func (s *InMemoryStore) CreateTopic(ctx context.Context, spec TopicSpec) (*protocol.MetadataTopic, error) {
	if err := validateTopicSpec(&spec); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.topics[spec.Name]; exists {
		return nil, ErrTopicExists
	}
	s.topics[spec.Name] = spec
	topic := buildTopic(spec, s.nodes)
	return &topic, nil
}

// DeleteTopic implements Store.
func (s *InMemoryStore) DeleteTopic(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, exists := s.topics[name]
	if !exists {
		return ErrUnknownTopic
	}
	delete(s.topics, name)
	for p := int32(0); p < spec.NumPartitions; p++ {
		delete(s.offsets, offsetMapKey(name, p))
	}
	return nil
}

// NextOffset implements Store.
func (s *InMemoryStore) NextOffset(ctx context.Context, topic string, partition int32) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, exists := s.topics[topic]
	if !exists || partition < 0 || partition >= spec.NumPartitions {
		return 0, ErrUnknownTopic
	}
	return s.offsets[offsetMapKey(topic, partition)], nil
}

// UpdateOffsets implements Store.
func (s *InMemoryStore) UpdateOffsets(ctx context.Context, topic string, partition int32, lastOffset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[offsetMapKey(topic, partition)] = lastOffset + 1
	return nil
}

// RegisterNode implements Store. The first registered node becomes the
// controller.
func (s *InMemoryStore) RegisterNode(ctx context.Context, node NodeInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.nodes) == 0 {
		s.controllerID = node.ID
	}
	s.nodes[node.ID] = node
	return nil
}

// Nodes implements Store.
func (s *InMemoryStore) Nodes(ctx context.Context) ([]NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]NodeInfo, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// RaftAddr implements Store.
func (s *InMemoryStore) RaftAddr(ctx context.Context, nodeID int32) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[nodeID]
	if !ok || node.RaftAddr == "" {
		return "", ErrUnknownNode
	}
	return node.RaftAddr, nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }

// topicMetadata builds the metadata of one known topic.
func (s *InMemoryStore) topicMetadata(name string) (*protocol.MetadataTopic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.topics[name]
	if !ok {
		return nil, ErrUnknownTopic
	}
	topic := buildTopic(spec, s.nodes)
	return &topic, nil
}

// replaceState swaps the full node and topic state; the etcd store uses it
// to refresh its snapshot.
func (s *InMemoryStore) replaceState(nodes map[int32]NodeInfo, topics map[string]TopicSpec, controllerID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nodes
	s.topics = topics
	s.controllerID = controllerID
}

func validateTopicSpec(spec *TopicSpec) error {
	if spec.Name == "" {
		return ErrInvalidTopic
	}
	if spec.NumPartitions <= 0 {
		spec.NumPartitions = 1
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	return nil
}

func buildMetadata(nodes map[int32]NodeInfo, topics map[string]TopicSpec, controllerID int32, clusterID *string, filter []string) *ClusterMetadata {
	meta := &ClusterMetadata{ControllerID: controllerID, ClusterID: clusterID}
	ids := make([]int32, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		n := nodes[id]
		meta.Brokers = append(meta.Brokers, protocol.MetadataBroker{NodeID: n.ID, Host: n.Host, Port: n.Port})
	}

	names := make([]string, 0, len(topics))
	if len(filter) > 0 {
		for _, name := range filter {
			if _, ok := topics[name]; ok {
				names = append(names, name)
			}
		}
	} else {
		for name := range topics {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		meta.Topics = append(meta.Topics, buildTopic(topics[name], nodes))
	}
	return meta
}

// buildTopic spreads partition leadership round-robin over the registered
// nodes and grows replica sets from the leader up to the replication factor.
func buildTopic(spec TopicSpec, nodes map[int32]NodeInfo) protocol.MetadataTopic {
	ids := make([]int32, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	topic := protocol.MetadataTopic{Name: spec.Name}
	for p := int32(0); p < spec.NumPartitions; p++ {
		part := protocol.MetadataPartition{PartitionIndex: p, LeaderID: -1}
		if len(ids) > 0 {
			leaderIdx := int(p) % len(ids)
			part.LeaderID = ids[leaderIdx]
			replicas := int(spec.ReplicationFactor)
			if replicas > len(ids) {
				replicas = len(ids)
			}
			for r := 0; r < replicas; r++ {
				id := ids[(leaderIdx+r)%len(ids)]
				part.ReplicaNodes = append(part.ReplicaNodes, id)
				part.ISRNodes = append(part.ISRNodes, id)
			}
		}
		topic.Partitions = append(topic.Partitions, part)
	}
	return topic
}
