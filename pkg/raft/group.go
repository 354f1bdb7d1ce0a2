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

import (
	"sort"
	"sync"
)

// ReplicaConfig seeds a Replica.
type ReplicaConfig struct {
	ID    GroupID
	Self  NodeID
	Peers []NodeID
	Term  int64
}

// Replica is the leader-side bookkeeping of one replication group: per-peer
// match indexes, commit index advancement, and liveness counters. Log
// replication and elections are the consensus engine's concern; the replica
// only tracks what heartbeats tell it.
type Replica struct {
	id   GroupID
	self NodeID

	mu           sync.Mutex
	peers        []NodeID
	term         int64
	commitIndex  int64
	lastLogIndex int64
	matchIndex   map[NodeID]int64
	missed       map[NodeID]int
}

// NewReplica builds a replica from cfg. The peer list includes the local
// node.
func NewReplica(cfg ReplicaConfig) *Replica {
	r := &Replica{
		id:         cfg.ID,
		self:       cfg.Self,
		peers:      append([]NodeID(nil), cfg.Peers...),
		term:       cfg.Term,
		matchIndex: make(map[NodeID]int64),
		missed:     make(map[NodeID]int),
	}
	sort.Slice(r.peers, func(i, j int) bool { return r.peers[i] < r.peers[j] })
	return r
}

// ID implements Group.
func (r *Replica) ID() GroupID { return r.id }

// Self returns the local node id.
func (r *Replica) Self() NodeID { return r.self }

// Peers implements Group.
func (r *Replica) Peers() []NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NodeID(nil), r.peers...)
}

// HeartbeatFor implements Group.
func (r *Replica) HeartbeatFor(peer NodeID) HeartbeatEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return HeartbeatEntry{
		Group:        r.id,
		Term:         r.term,
		CommitIndex:  r.commitIndex,
		PrevLogIndex: r.matchIndex[peer],
		PrevLogTerm:  r.term,
	}
}

// ProcessReply implements Group. Successful replies advance the peer's match
// index and possibly the commit index; transport failures bump the peer's
// missed-heartbeat counter so liveness loss is observable.
func (r *Replica) ProcessReply(peer NodeID, reply HeartbeatEntryReply, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.missed[peer]++
		return
	}
	r.missed[peer] = 0
	if reply.Term > r.term {
		r.term = reply.Term
	}
	if reply.Success {
		if reply.LastLogIndex > r.matchIndex[peer] {
			r.matchIndex[peer] = reply.LastLogIndex
		}
		r.advanceCommitLocked()
	}
}

// advanceCommitLocked moves the commit index to the median replicated index.
func (r *Replica) advanceCommitLocked() {
	indexes := make([]int64, 0, len(r.peers))
	for _, p := range r.peers {
		if p == r.self {
			indexes = append(indexes, r.lastLogIndex)
			continue
		}
		indexes = append(indexes, r.matchIndex[p])
	}
	if len(indexes) == 0 {
		return
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	majority := indexes[(len(indexes)-1)/2]
	if majority > r.commitIndex {
		r.commitIndex = majority
	}
}

// AppendedTo records that the local log now extends to index.
func (r *Replica) AppendedTo(index int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index > r.lastLogIndex {
		r.lastLogIndex = index
	}
}

// Term returns the current term.
func (r *Replica) Term() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.term
}

// CommitIndex returns the current commit index.
func (r *Replica) CommitIndex() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitIndex
}

// MatchIndex returns the last index known replicated to peer.
func (r *Replica) MatchIndex(peer NodeID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchIndex[peer]
}

// MissedHeartbeats returns consecutive transport failures toward peer.
func (r *Replica) MissedHeartbeats(peer NodeID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.missed[peer]
}
