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

package raft

import "context"

// GroupID identifies one replication group.
type GroupID uint64

// NodeID identifies one broker node; it matches the metadata registry id.
type NodeID int32

// HeartbeatEntry is one group's heartbeat to one follower.
type HeartbeatEntry struct {
	Group        GroupID
	Term         int64
	CommitIndex  int64
	PrevLogIndex int64
	PrevLogTerm  int64
}

// HeartbeatEntryReply is one group's answer within a batched reply.
type HeartbeatEntryReply struct {
	Group        GroupID
	Success      bool
	Term         int64
	LastLogIndex int64
}

// HeartbeatRequest batches the heartbeats of every local group that shares
// the target peer, so a tick costs one RPC per peer instead of one per
// (group, peer) pair.
type HeartbeatRequest struct {
	Source  NodeID
	Entries []HeartbeatEntry
}

// HeartbeatReply carries per-group results back from a peer.
type HeartbeatReply struct {
	Entries []HeartbeatEntryReply
}

// ClientProtocol is the peer transport facade. Heartbeat must terminate by
// the context deadline with either a reply or an error, must be safe to call
// concurrently for distinct peers, and must observe cancellation. Pooling,
// reconnect, and backoff live behind this interface.
type ClientProtocol interface {
	Heartbeat(ctx context.Context, target NodeID, req *HeartbeatRequest) (*HeartbeatReply, error)
}

// Group is a replication group registered with the heartbeat manager. The
// manager reads a consistent entry per (tick, peer) via HeartbeatFor and
// feeds outcomes back through ProcessReply; it never mutates group state
// directly.
type Group interface {
	ID() GroupID
	// Peers lists every replica of the group, including the local node.
	Peers() []NodeID
	// HeartbeatFor builds this tick's entry for one follower.
	HeartbeatFor(peer NodeID) HeartbeatEntry
	// ProcessReply delivers one follower's result. A non-nil err marks a
	// transport-level failure; reply is meaningless then.
	ProcessReply(peer NodeID, reply HeartbeatEntryReply, err error)
}
