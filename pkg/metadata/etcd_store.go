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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/novatechflow/streamraft/pkg/protocol"
)

const (
	etcdOpTimeout   = 3 * time.Second
	nodeLeaseTTLSec = 10
)

// EtcdStoreConfig defines how the store connects to etcd.
type EtcdStoreConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	// Prefix roots every key; defaults to "/streamraft".
	Prefix string
}

// EtcdStore persists topics, offsets, and the node registry in etcd. Reads
// of cluster metadata are served from an in-memory snapshot kept fresh by a
// watch on the key prefix.
type EtcdStore struct {
	client   *clientv3.Client
	prefix   string
	snapshot *InMemoryStore
	cancel   context.CancelFunc
	leaseID  clientv3.LeaseID
}

// NewEtcdStore connects to etcd and loads the initial snapshot.
func NewEtcdStore(ctx context.Context, cfg EtcdStoreConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/streamraft"
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	store := &EtcdStore{
		client:   cli,
		prefix:   cfg.Prefix,
		snapshot: NewInMemoryStore(),
		cancel:   cancel,
	}
	if err := store.refreshSnapshot(ctx); err != nil {
		cancel()
		_ = cli.Close()
		return nil, err
	}
	go store.watch(watchCtx)
	return store, nil
}

func (s *EtcdStore) nodeKey(id int32) string {
	return fmt.Sprintf("%s/nodes/%d", s.prefix, id)
}

func (s *EtcdStore) topicKey(name string) string {
	return fmt.Sprintf("%s/topics/%s/spec", s.prefix, name)
}

func (s *EtcdStore) offsetKey(topic string, partition int32) string {
	return fmt.Sprintf("%s/topics/%s/partitions/%d/next_offset", s.prefix, topic, partition)
}

// Metadata serves from the watched snapshot.
func (s *EtcdStore) Metadata(ctx context.Context, topics []string) (*ClusterMetadata, error) {
	return s.snapshot.Metadata(ctx, topics)
}

// CreateTopic writes the spec to etcd if absent.
func (s *EtcdStore) CreateTopic(ctx context.Context, spec TopicSpec) (*protocol.MetadataTopic, error) {
	if err := validateTopicSpec(&spec); err != nil {
		return nil, err
	}
	value, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal topic spec: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	key := s.topicKey(spec.Name)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return nil, fmt.Errorf("create topic %s: %w", spec.Name, err)
	}
	if !resp.Succeeded {
		return nil, ErrTopicExists
	}
	if err := s.refreshSnapshot(ctx); err != nil {
		return nil, err
	}
	return s.snapshot.topicMetadata(spec.Name)
}

// DeleteTopic removes the spec and every partition offset.
func (s *EtcdStore) DeleteTopic(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	// The spec key lives under this prefix too, so one delete covers the
	// spec and every partition offset.
	resp, err := s.client.Delete(ctx, fmt.Sprintf("%s/topics/%s/", s.prefix, name), clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("delete topic %s: %w", name, err)
	}
	if resp.Deleted == 0 {
		return ErrUnknownTopic
	}
	return s.refreshSnapshot(ctx)
}

// NextOffset reads the persisted next offset for a partition.
func (s *EtcdStore) NextOffset(ctx context.Context, topic string, partition int32) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	resp, err := s.client.Get(ctx, s.offsetKey(topic, partition))
	if err != nil {
		return 0, err
	}
	if len(resp.Kvs) == 0 {
		if _, err := s.snapshot.NextOffset(ctx, topic, partition); err != nil {
			return 0, err
		}
		return 0, nil
	}
	val := strings.TrimSpace(string(resp.Kvs[0].Value))
	offset, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse offset for %s/%d: %w", topic, partition, err)
	}
	return offset, nil
}

// UpdateOffsets stores last+1 so future appends continue from there.
func (s *EtcdStore) UpdateOffsets(ctx context.Context, topic string, partition int32, lastOffset int64) error {
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	_, err := s.client.Put(ctx, s.offsetKey(topic, partition), strconv.FormatInt(lastOffset+1, 10))
	return err
}

// RegisterNode announces this broker under a lease so a dead process drops
// out of the registry once the lease expires.
func (s *EtcdStore) RegisterNode(ctx context.Context, node NodeInfo) error {
	value, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal node info: %w", err)
	}
	grantCtx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	lease, err := s.client.Grant(grantCtx, nodeLeaseTTLSec)
	if err != nil {
		return fmt.Errorf("grant node lease: %w", err)
	}
	s.leaseID = lease.ID
	if _, err := s.client.Put(grantCtx, s.nodeKey(node.ID), string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("register node %d: %w", node.ID, err)
	}
	keepAlive, err := s.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("keep node lease alive: %w", err)
	}
	go func() {
		for range keepAlive {
		}
	}()
	return s.refreshSnapshot(ctx)
}

// Nodes lists the registered brokers.
func (s *EtcdStore) Nodes(ctx context.Context) ([]NodeInfo, error) {
	return s.snapshot.Nodes(ctx)
}

// RaftAddr resolves a node id to its raft RPC address.
func (s *EtcdStore) RaftAddr(ctx context.Context, nodeID int32) (string, error) {
	return s.snapshot.RaftAddr(ctx, nodeID)
}

// Close revokes the node lease and closes the client.
func (s *EtcdStore) Close() error {
	s.cancel()
	if s.leaseID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
		_, _ = s.client.Revoke(ctx, s.leaseID)
		cancel()
	}
	return s.client.Close()
}

// refreshSnapshot loads nodes and topics into the in-memory view.
func (s *EtcdStore) refreshSnapshot(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()

	nodes := make(map[int32]NodeInfo)
	nodeResp, err := s.client.Get(ctx, s.prefix+"/nodes/", clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	controllerID := int32(-1)
	for _, kv := range nodeResp.Kvs {
		var node NodeInfo
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			continue
		}
		nodes[node.ID] = node
		if controllerID == -1 || node.ID < controllerID {
			controllerID = node.ID
		}
	}

	topics := make(map[string]TopicSpec)
	topicResp, err := s.client.Get(ctx, s.prefix+"/topics/", clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}
	for _, kv := range topicResp.Kvs {
		if !strings.HasSuffix(string(kv.Key), "/spec") {
			continue
		}
		var spec TopicSpec
		if err := json.Unmarshal(kv.Value, &spec); err != nil {
			continue
		}
		topics[spec.Name] = spec
	}

	s.snapshot.replaceState(nodes, topics, controllerID)
	return nil
}

// watch keeps the snapshot fresh as other brokers register and topics
// change.
func (s *EtcdStore) watch(ctx context.Context) {
	ch := s.client.Watch(ctx, s.prefix+"/", clientv3.WithPrefix())
	for resp := range ch {
		if resp.Err() != nil {
			continue
		}
		_ = s.refreshSnapshot(ctx)
	}
}
