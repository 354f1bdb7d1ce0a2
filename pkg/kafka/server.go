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
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/streamraft/pkg/protocol"
)

// RequestContext bundles one parsed request for dispatch.
type RequestContext struct {
	Header        *protocol.RequestHeader
	Payload       []byte
	ThrottleDelay time.Duration
	RemoteAddr    net.Addr
}

// Handler dispatches a request and returns the response payload, without
// size prefix or correlation id. A nil payload with nil error means no
// response is written (acks=0 produce). Handlers must honor ctx: the server
// blocks on the returned response before later responses on the same
// connection can be written.
type Handler interface {
	Handle(ctx context.Context, rc *RequestContext) ([]byte, error)
}

// ListenerConfig describes one accept socket. A non-nil TLS config switches
// the listener to TLS.
type ListenerConfig struct {
	Addr      string
	TLS       *tls.Config
	Keepalive time.Duration
}

// ServerConfig carries the protocol server's tunables. The memory estimate
// knobs mirror the admission formula size*Multiplier+Overhead.
type ServerConfig struct {
	Listeners             []ListenerConfig
	MaxRequestMemory      int64
	MemEstimateMultiplier int64
	MemEstimateOverhead   int64
	Quota                 QuotaConfig
	// PipelineDepth bounds how many responses may be queued per connection
	// before the read loop stops accepting new requests.
	PipelineDepth int
}

func (c *ServerConfig) withDefaults() ServerConfig {
	cfg := *c
	if cfg.MaxRequestMemory <= 0 {
		cfg.MaxRequestMemory = 64 << 20
	}
	if cfg.MemEstimateMultiplier <= 0 {
		cfg.MemEstimateMultiplier = 2
	}
	if cfg.MemEstimateOverhead <= 0 {
		cfg.MemEstimateOverhead = 8000
	}
	if cfg.PipelineDepth <= 0 {
		cfg.PipelineDepth = 128
	}
	return cfg
}

// Server owns the Kafka protocol listeners and their connections. One Server
// is one shard: its admission semaphore, quota table, and connection set are
// only shared through it.
type Server struct {
	cfg     ServerConfig
	handler Handler
	logger  *slog.Logger
	probe   *Probe
	mem     *MemorySemaphore
	quota   *QuotaManager

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[*connection]struct{}
	started   bool
	stopped   bool

	gate   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds a Server. reg may be nil to leave metrics unregistered.
func NewServer(cfg ServerConfig, handler Handler, logger *slog.Logger, reg prometheus.Registerer) (*Server, error) {
	if handler == nil {
		return nil, errors.New("kafka.Server requires a Handler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	resolved := cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     resolved,
		handler: handler,
		logger:  logger.With("component", "kafka_server"),
		probe:   NewProbe(reg),
		mem:     NewMemorySemaphore(resolved.MaxRequestMemory),
		quota:   NewQuotaManager(resolved.Quota),
		conns:   make(map[*connection]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start binds every configured listener and begins accepting.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already started")
	}
	if len(s.cfg.Listeners) == 0 {
		return errors.New("no listeners configured")
	}
	for _, lc := range s.cfg.Listeners {
		ln, err := net.Listen("tcp", lc.Addr)
		if err != nil {
			for _, open := range s.listeners {
				_ = open.Close()
			}
			s.listeners = nil
			return fmt.Errorf("listen on %s: %w", lc.Addr, err)
		}
		if lc.TLS != nil {
			ln = tls.NewListener(ln, lc.TLS)
			s.logger.Debug("started secured Kafka API listener", "addr", ln.Addr().String())
		} else {
			s.logger.Debug("started plaintext Kafka API listener", "addr", ln.Addr().String())
		}
		s.listeners = append(s.listeners, ln)
		s.gate.Add(1)
		go s.acceptLoop(ln, lc.Keepalive)
	}
	s.started = true
	return nil
}

// ListenAddresses reports the bound addresses, useful with ":0" listeners.
func (s *Server) ListenAddresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]string, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr().String())
	}
	return addrs
}

// Waiters exposes the admission queue depth for observability.
func (s *Server) Waiters() int {
	return s.mem.Waiters()
}

func (s *Server) acceptLoop(ln net.Listener, keepalive time.Duration) {
	defer s.gate.Done()
	for {
		netConn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("accept failed", "error", err)
			continue
		}
		if tcp, ok := netConn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
			if keepalive > 0 {
				_ = tcp.SetKeepAlive(true)
				_ = tcp.SetKeepAlivePeriod(keepalive)
			}
		}
		conn := newConnection(s, netConn)
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			_ = netConn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.probe.ConnectionEstablished()
		s.gate.Add(1)
		go func() {
			defer s.gate.Done()
			conn.run(s.ctx)
			s.removeConnection(conn)
		}()
	}
}

// removeConnection drops conn from the registry exactly once; the map delete
// is O(1) so teardown under shutdown never scans the set.
func (s *Server) removeConnection(conn *connection) {
	s.mu.Lock()
	_, present := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if present {
		s.probe.ConnectionClosed()
	}
}

// Stop aborts the listeners, signals shutdown to every connection, and
// returns once all listener and connection tasks have finished.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.gate.Wait()
		return
	}
	s.stopped = true
	listeners := s.listeners
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.logger.Debug("aborting listeners", "count", len(listeners))
	for _, ln := range listeners {
		_ = ln.Close()
	}
	s.cancel()
	s.mem.Close()
	s.logger.Debug("shutting down connections", "count", len(conns))
	for _, c := range conns {
		c.shutdown()
	}
	s.gate.Wait()
}
