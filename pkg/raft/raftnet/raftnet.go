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

// Package raftnet is the gRPC peer transport behind raft.ClientProtocol.
// Connection pooling and reconnects live here; the heartbeat manager only
// sees deadline-bounded calls.
package raftnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/novatechflow/streamraft/pkg/gen/raftpb"
	"github.com/novatechflow/streamraft/pkg/raft"
)

// AddrResolver maps node ids to raft RPC addresses. The metadata store
// satisfies this.
type AddrResolver interface {
	RaftAddr(ctx context.Context, nodeID int32) (string, error)
}

// StaticResolver resolves from a fixed map, for single-process clusters and
// tests.
type StaticResolver map[int32]string

// RaftAddr implements AddrResolver.
func (r StaticResolver) RaftAddr(ctx context.Context, nodeID int32) (string, error) {
	addr, ok := r[nodeID]
	if !ok {
		return "", fmt.Errorf("no raft address for node %d", nodeID)
	}
	return addr, nil
}

// Client implements raft.ClientProtocol over gRPC with one pooled client
// connection per peer.
type Client struct {
	resolver AddrResolver
	logger   *slog.Logger
	dialOpts []grpc.DialOption

	mu     sync.Mutex
	conns  map[raft.NodeID]*grpc.ClientConn
	closed bool
}

// NewClient builds a transport client. Extra dial options are appended to
// the defaults; tests use this to dial in-memory listeners.
func NewClient(resolver AddrResolver, logger *slog.Logger, dialOpts ...grpc.DialOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		resolver: resolver,
		logger:   logger.With("component", "raft_transport"),
		dialOpts: dialOpts,
		conns:    make(map[raft.NodeID]*grpc.ClientConn),
	}
}

// Heartbeat implements raft.ClientProtocol.
func (c *Client) Heartbeat(ctx context.Context, target raft.NodeID, req *raft.HeartbeatRequest) (*raft.HeartbeatReply, error) {
	conn, err := c.conn(ctx, target)
	if err != nil {
		return nil, err
	}
	reply, err := raftpb.NewRaftTransportClient(conn).Heartbeat(ctx, encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("heartbeat to node %d: %w", target, err)
	}
	return decodeReply(reply), nil
}

func (c *Client) conn(ctx context.Context, target raft.NodeID) (*grpc.ClientConn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("transport client closed")
	}
	if conn, ok := c.conns[target]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	addr, err := c.resolver.RaftAddr(ctx, int32(target))
	if err != nil {
		return nil, fmt.Errorf("resolve node %d: %w", target, err)
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, c.dialOpts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial node %d at %s: %w", target, addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return nil, errors.New("transport client closed")
	}
	if existing, ok := c.conns[target]; ok {
		// Lost the dial race; keep the first connection.
		_ = conn.Close()
		return existing, nil
	}
	c.conns[target] = conn
	c.logger.Debug("opened peer connection", "node", target, "addr", addr)
	return conn, nil
}

// Close tears down every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var firstErr error
	for id, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, id)
	}
	return firstErr
}

// HeartbeatHandler serves inbound heartbeat batches on the follower side.
type HeartbeatHandler func(ctx context.Context, req *raft.HeartbeatRequest) (*raft.HeartbeatReply, error)

// Server adapts a HeartbeatHandler onto the generated service.
type Server struct {
	raftpb.UnimplementedRaftTransportServer
	handler HeartbeatHandler
	logger  *slog.Logger
}

// Register attaches the raft transport service to a gRPC server.
func Register(s grpc.ServiceRegistrar, handler HeartbeatHandler, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	raftpb.RegisterRaftTransportServer(s, &Server{
		handler: handler,
		logger:  logger.With("component", "raft_transport_server"),
	})
}

// Heartbeat implements raftpb.RaftTransportServer.
func (s *Server) Heartbeat(ctx context.Context, req *raftpb.HeartbeatRequest) (*raftpb.HeartbeatReply, error) {
	reply, err := s.handler(ctx, decodeRequest(req))
	if err != nil {
		s.logger.Debug("heartbeat handler failed", "source", req.GetSource(), "error", err)
		return nil, err
	}
	return encodeReply(reply), nil
}

func encodeRequest(req *raft.HeartbeatRequest) *raftpb.HeartbeatRequest {
	out := &raftpb.HeartbeatRequest{Source: int32(req.Source)}
	for _, e := range req.Entries {
		out.Entries = append(out.Entries, &raftpb.HeartbeatEntry{
			Group:        uint64(e.Group),
			Term:         e.Term,
			CommitIndex:  e.CommitIndex,
			PrevLogIndex: e.PrevLogIndex,
			PrevLogTerm:  e.PrevLogTerm,
		})
	}
	return out
}

func decodeRequest(req *raftpb.HeartbeatRequest) *raft.HeartbeatRequest {
	out := &raft.HeartbeatRequest{Source: raft.NodeID(req.GetSource())}
	for _, e := range req.GetEntries() {
		out.Entries = append(out.Entries, raft.HeartbeatEntry{
			Group:        raft.GroupID(e.GetGroup()),
			Term:         e.GetTerm(),
			CommitIndex:  e.GetCommitIndex(),
			PrevLogIndex: e.GetPrevLogIndex(),
			PrevLogTerm:  e.GetPrevLogTerm(),
		})
	}
	return out
}

func encodeReply(reply *raft.HeartbeatReply) *raftpb.HeartbeatReply {
	out := &raftpb.HeartbeatReply{}
	for _, e := range reply.Entries {
		out.Entries = append(out.Entries, &raftpb.HeartbeatEntryReply{
			Group:        uint64(e.Group),
			Success:      e.Success,
			Term:         e.Term,
			LastLogIndex: e.LastLogIndex,
		})
	}
	return out
}

func decodeReply(reply *raftpb.HeartbeatReply) *raft.HeartbeatReply {
	out := &raft.HeartbeatReply{}
	for _, e := range reply.GetEntries() {
		out.Entries = append(out.Entries, raft.HeartbeatEntryReply{
			Group:        raft.GroupID(e.GetGroup()),
			Success:      e.GetSuccess(),
			Term:         e.GetTerm(),
			LastLogIndex: e.GetLastLogIndex(),
		})
	}
	return out
}
