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
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ManagerConfig configures the heartbeat manager.
type ManagerConfig struct {
	Self     NodeID
	Interval time.Duration
}

// nodeBatch accumulates one tick's heartbeats toward one peer.
type nodeBatch struct {
	groups  []Group
	request *HeartbeatRequest
}

// Manager sends the periodic heartbeats of every locally led replication
// group. Per tick it batches entries by target peer, sends at most one RPC
// per peer, and fans per-entry results back to the owning groups. Sending
// one RPC per (group, peer) pair would be quadratic in groups; batching
// keeps a tick linear in peers.
type Manager struct {
	self     NodeID
	interval time.Duration
	client   ClientProtocol
	logger   *slog.Logger
	probe    *heartbeatProbe

	mu sync.Mutex
	// groups stays sorted by id: insert and delete are rare, traversal and
	// lookup are the hot path.
	groups      []Group
	timer       *time.Timer
	lastTick    time.Time
	peerPermits map[NodeID]chan struct{}
	started     bool
	stopped     bool

	// dispatchSem serializes ticks so a slow tick cannot overlap the next.
	dispatchSem chan struct{}
	gate        sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewManager builds a heartbeat manager. reg may be nil to leave metrics
// unregistered.
func NewManager(cfg ManagerConfig, client ClientProtocol, logger *slog.Logger, reg prometheus.Registerer) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 150 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		self:        cfg.Self,
		interval:    cfg.Interval,
		client:      client,
		logger:      logger.With("component", "heartbeat_manager"),
		probe:       newHeartbeatProbe(reg),
		peerPermits: make(map[NodeID]chan struct{}),
		dispatchSem: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterGroup adds g. Registration is idempotent by group id and takes
// effect on the next tick.
func (m *Manager) RegisterGroup(g Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.groups), func(i int) bool { return m.groups[i].ID() >= g.ID() })
	if i < len(m.groups) && m.groups[i].ID() == g.ID() {
		return
	}
	m.groups = append(m.groups, nil)
	copy(m.groups[i+1:], m.groups[i:])
	m.groups[i] = g
	m.probe.setGroups(len(m.groups))
}

// DeregisterGroup removes the group with id. Replies already in flight for
// it are discarded silently.
func (m *Manager) DeregisterGroup(id GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.groups), func(i int) bool { return m.groups[i].ID() >= id })
	if i >= len(m.groups) || m.groups[i].ID() != id {
		return
	}
	m.groups = append(m.groups[:i], m.groups[i+1:]...)
	m.probe.setGroups(len(m.groups))
}

// findGroupLocked resolves an id against the live registration set.
func (m *Manager) findGroupLocked(id GroupID) Group {
	i := sort.Search(len(m.groups), func(i int) bool { return m.groups[i].ID() >= id })
	if i < len(m.groups) && m.groups[i].ID() == id {
		return m.groups[i]
	}
	return nil
}

func (m *Manager) lookupGroup(id GroupID) Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findGroupLocked(id)
}

// Start arms the tick timer.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("heartbeat manager already started")
	}
	if m.stopped {
		return errors.New("heartbeat manager stopped")
	}
	m.started = true
	m.lastTick = time.Now()
	m.timer = time.AfterFunc(m.interval, m.onTimer)
	return nil
}

// Stop cancels the timer, signals shutdown, and waits for in-flight
// dispatches.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.gate.Wait()
		return
	}
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
	m.cancel()
	m.gate.Wait()
}

func (m *Manager) onTimer() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.gate.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.gate.Done()
		m.dispatchHeartbeats()
	}()
}

// dispatchHeartbeats runs one tick: build per-peer batches, launch at most
// one send per peer, then re-arm the timer relative to the previous tick.
// Sends may outlive the tick; the per-peer permit keeps replies from one
// peer in tick order and prevents stacking RPCs on a stuck peer.
func (m *Manager) dispatchHeartbeats() {
	select {
	case m.dispatchSem <- struct{}{}:
	case <-m.ctx.Done():
		return
	}
	defer func() { <-m.dispatchSem }()

	m.mu.Lock()
	last := m.lastTick
	m.lastTick = time.Now()
	batches := m.buildBatchesLocked()
	m.mu.Unlock()

	for peer, batch := range batches {
		permit := m.peerPermit(peer)
		select {
		case permit <- struct{}{}:
		default:
			// A previous heartbeat to this peer is still outstanding;
			// stacking another would not help a stuck peer.
			m.probe.skipped.Inc()
			m.logger.Debug("skipping heartbeat, previous still in flight", "peer", peer)
			continue
		}
		m.gate.Add(1)
		go func(peer NodeID, batch *nodeBatch, permit chan struct{}) {
			defer m.gate.Done()
			defer func() { <-permit }()
			m.sendHeartbeat(peer, batch)
		}(peer, batch, permit)
	}
	m.rearm(last)
}

// buildBatchesLocked groups this tick's entries by target peer.
func (m *Manager) buildBatchesLocked() map[NodeID]*nodeBatch {
	batches := make(map[NodeID]*nodeBatch)
	for _, g := range m.groups {
		for _, peer := range g.Peers() {
			if peer == m.self {
				continue
			}
			b := batches[peer]
			if b == nil {
				b = &nodeBatch{request: &HeartbeatRequest{Source: m.self}}
				batches[peer] = b
			}
			b.groups = append(b.groups, g)
			b.request.Entries = append(b.request.Entries, g.HeartbeatFor(peer))
		}
	}
	return batches
}

// sendHeartbeat delivers one batch and routes the outcome. The deadline is
// the heartbeat interval: an answer arriving later than the next tick is as
// good as none.
func (m *Manager) sendHeartbeat(peer NodeID, batch *nodeBatch) {
	ctx, cancel := context.WithTimeout(m.ctx, m.interval)
	defer cancel()

	reply, err := m.client.Heartbeat(ctx, peer, batch.request)
	if err != nil {
		m.probe.failures.Inc()
		m.logger.Debug("heartbeat failed", "peer", peer, "groups", len(batch.groups), "error", err)
		for _, g := range batch.groups {
			// Deliver only to groups still registered.
			if m.lookupGroup(g.ID()) != nil {
				g.ProcessReply(peer, HeartbeatEntryReply{}, err)
			}
		}
		return
	}
	m.probe.sent.Inc()
	for _, entry := range reply.Entries {
		g := m.lookupGroup(entry.Group)
		if g == nil {
			// Raced with deregistration; drop silently.
			continue
		}
		g.ProcessReply(peer, entry, nil)
	}
}

// rearm schedules the next tick at last+interval, clipped to now so a slow
// tick fires again immediately instead of in the past.
func (m *Manager) rearm(last time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.timer == nil {
		return
	}
	next := last.Add(m.interval)
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	m.timer.Reset(delay)
}

func (m *Manager) peerPermit(peer NodeID) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	permit, ok := m.peerPermits[peer]
	if !ok {
		permit = make(chan struct{}, 1)
		m.peerPermits[peer] = permit
	}
	return permit
}

type heartbeatProbe struct {
	sent     prometheus.Counter
	failures prometheus.Counter
	skipped  prometheus.Counter
	groups   prometheus.Gauge
}

func newHeartbeatProbe(reg prometheus.Registerer) *heartbeatProbe {
	p := &heartbeatProbe{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamraft_raft_heartbeats_sent_total",
			Help: "Batched heartbeat RPCs answered by a peer.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamraft_raft_heartbeat_failures_total",
			Help: "Batched heartbeat RPCs that failed or timed out.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamraft_raft_heartbeats_skipped_total",
			Help: "Per-peer dispatches skipped because one was outstanding.",
		}),
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamraft_raft_groups",
			Help: "Replication groups registered with the heartbeat manager.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.sent, p.failures, p.skipped, p.groups)
	}
	return p
}

func (p *heartbeatProbe) setGroups(n int) {
	p.groups.Set(float64(n))
}
