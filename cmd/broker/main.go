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

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/novatechflow/streamraft/internal/config"
	"github.com/novatechflow/streamraft/pkg/kafka"
	"github.com/novatechflow/streamraft/pkg/metadata"
	"github.com/novatechflow/streamraft/pkg/raft"
	"github.com/novatechflow/streamraft/pkg/raft/raftnet"
	"github.com/novatechflow/streamraft/pkg/storage"
)

const controllerGroupID raft.GroupID = 1

func main() {
	cfgPath := os.Getenv("STREAMRAFT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("broker exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := buildStore(ctx, cfg, logger)
	defer store.Close()
	if err := store.RegisterNode(ctx, metadata.NodeInfo{
		ID:       cfg.NodeID,
		Host:     cfg.AdvertisedHost,
		Port:     cfg.AdvertisedPort,
		RaftAddr: advertisedRaftAddr(cfg),
	}); err != nil {
		return fmt.Errorf("register node: %w", err)
	}

	logs := storage.NewManager(storage.PartitionLogConfig{RetainedBytes: cfg.RetainedLogBytes})
	dispatcher := kafka.NewDispatcher(kafka.DispatcherConfig{
		AutoCreateTopics:     cfg.AutoCreateTopics,
		AutoCreatePartitions: cfg.AutoCreatePartitions,
		TraceRequests:        cfg.TraceKafka,
	}, store, logs, logger)

	listeners, err := buildListeners(cfg.Listeners)
	if err != nil {
		return err
	}
	server, err := kafka.NewServer(kafka.ServerConfig{
		Listeners:             listeners,
		MaxRequestMemory:      cfg.MaxRequestMemory,
		MemEstimateMultiplier: cfg.MemEstimateMultiplier,
		MemEstimateOverhead:   cfg.MemEstimateOverhead,
		Quota: kafka.QuotaConfig{
			TargetByteRate: cfg.Quota.TargetByteRate,
			Window:         cfg.Quota.Window,
			MaxDelay:       cfg.Quota.MaxDelay,
		},
	}, dispatcher, logger, reg)
	if err != nil {
		return err
	}

	followers := newFollowerState(logger)
	grpcServer, err := startRaftServer(cfg.RaftAddr, followers, logger)
	if err != nil {
		return err
	}

	resolver := buildResolver(cfg, store)
	transport := raftnet.NewClient(resolver, logger)
	defer transport.Close()

	heartbeats := raft.NewManager(raft.ManagerConfig{
		Self:     raft.NodeID(cfg.NodeID),
		Interval: cfg.HeartbeatInterval,
	}, transport, logger, reg)
	registerControllerGroup(cfg, heartbeats)
	if err := heartbeats.Start(); err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}
	logger.Info("broker started",
		"node_id", cfg.NodeID,
		"kafka", server.ListenAddresses(),
		"raft", cfg.RaftAddr,
		"metrics", cfg.MetricsAddr)
	startMetricsServer(ctx, cfg.MetricsAddr, reg, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	server.Stop()
	heartbeats.Stop()
	stopGRPC(grpcServer)
	return nil
}

// followerState acknowledges inbound heartbeats and tracks the highest term
// seen per group, the follower half of the heartbeat exchange. Log
// replication state lives with the consensus engine, not here.
type followerState struct {
	logger *slog.Logger
	mu     sync.Mutex
	terms  map[raft.GroupID]int64
}

func newFollowerState(logger *slog.Logger) *followerState {
	return &followerState{
		logger: logger.With("component", "raft_follower"),
		terms:  make(map[raft.GroupID]int64),
	}
}

func (f *followerState) handle(ctx context.Context, req *raft.HeartbeatRequest) (*raft.HeartbeatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply := &raft.HeartbeatReply{}
	for _, entry := range req.Entries {
		term := f.terms[entry.Group]
		success := entry.Term >= term
		if success {
			f.terms[entry.Group] = entry.Term
		}
		reply.Entries = append(reply.Entries, raft.HeartbeatEntryReply{
			Group:        entry.Group,
			Success:      success,
			Term:         f.terms[entry.Group],
			LastLogIndex: entry.PrevLogIndex,
		})
	}
	return reply, nil
}

// registerControllerGroup joins the cluster-wide controller group when the
// config names peers. Partition groups register through the same manager as
// they come up.
func registerControllerGroup(cfg config.Config, m *raft.Manager) {
	ids := []raft.NodeID{raft.NodeID(cfg.NodeID)}
	for idStr := range cfg.Peers {
		id, err := strconv.ParseInt(idStr, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, raft.NodeID(id))
	}
	if len(ids) < 2 {
		return
	}
	m.RegisterGroup(raft.NewReplica(raft.ReplicaConfig{
		ID:    controllerGroupID,
		Self:  raft.NodeID(cfg.NodeID),
		Peers: ids,
		Term:  1,
	}))
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) metadata.Store {
	if len(cfg.Etcd.Endpoints) == 0 {
		logger.Info("using in-memory metadata store")
		return metadata.NewInMemoryStore()
	}
	store, err := metadata.NewEtcdStore(ctx, metadata.EtcdStoreConfig{
		Endpoints: cfg.Etcd.Endpoints,
		Username:  cfg.Etcd.Username,
		Password:  cfg.Etcd.Password,
	})
	if err != nil {
		logger.Error("failed to initialize etcd store; using in-memory", "error", err)
		return metadata.NewInMemoryStore()
	}
	logger.Info("using etcd-backed metadata store", "endpoints", cfg.Etcd.Endpoints)
	return store
}

// buildResolver prefers the static peer map; without one, peers resolve
// through the metadata registry.
func buildResolver(cfg config.Config, store metadata.Store) raftnet.AddrResolver {
	if len(cfg.Peers) == 0 {
		return store
	}
	static := raftnet.StaticResolver{}
	for idStr, addr := range cfg.Peers {
		id, err := strconv.ParseInt(idStr, 10, 32)
		if err != nil || strings.TrimSpace(addr) == "" {
			continue
		}
		static[int32(id)] = addr
	}
	return static
}

func buildListeners(configs []config.ListenerConfig) ([]kafka.ListenerConfig, error) {
	listeners := make([]kafka.ListenerConfig, 0, len(configs))
	for _, lc := range configs {
		listener := kafka.ListenerConfig{Addr: lc.Addr, Keepalive: lc.Keepalive}
		if lc.TLSCertFile != "" {
			cert, err := tls.LoadX509KeyPair(lc.TLSCertFile, lc.TLSKeyFile)
			if err != nil {
				return nil, fmt.Errorf("load TLS credentials for %s: %w", lc.Addr, err)
			}
			listener.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
		}
		listeners = append(listeners, listener)
	}
	return listeners, nil
}

func startRaftServer(addr string, followers *followerState, logger *slog.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("raft server listen on %s: %w", addr, err)
	}
	server := grpc.NewServer()
	raftnet.Register(server, followers.handle, logger)
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("raft server error", "error", err)
		}
	}()
	return server, nil
}

func stopGRPC(server *grpc.Server) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		server.Stop()
	}
}

func startMetricsServer(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ready")
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

func advertisedRaftAddr(cfg config.Config) string {
	host, port, err := net.SplitHostPort(cfg.RaftAddr)
	if err != nil {
		return cfg.RaftAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = cfg.AdvertisedHost
	}
	return net.JoinHostPort(host, port)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelWarn
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true,
	})
	return slog.New(handler).With("component", "broker")
}
