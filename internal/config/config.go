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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ListenerConfig describes one Kafka API listener. Setting both TLS paths
// switches the listener to TLS.
type ListenerConfig struct {
	Addr        string        `koanf:"addr"`
	TLSCertFile string        `koanf:"tls_cert_file"`
	TLSKeyFile  string        `koanf:"tls_key_file"`
	Keepalive   time.Duration `koanf:"keepalive"`
}

// QuotaConfig bounds per-client throughput.
type QuotaConfig struct {
	TargetByteRate int64         `koanf:"target_byte_rate"`
	Window         time.Duration `koanf:"window"`
	MaxDelay       time.Duration `koanf:"max_delay"`
}

// EtcdConfig points the metadata store at an etcd cluster. Empty endpoints
// select the in-memory store.
type EtcdConfig struct {
	Endpoints []string `koanf:"endpoints"`
	Username  string   `koanf:"username"`
	Password  string   `koanf:"password"`
}

// Config is the broker process configuration.
type Config struct {
	NodeID         int32  `koanf:"node_id"`
	AdvertisedHost string `koanf:"advertised_host"`
	AdvertisedPort int32  `koanf:"advertised_port"`

	Listeners []ListenerConfig `koanf:"listeners"`

	MaxRequestMemory      int64 `koanf:"max_request_memory"`
	MemEstimateMultiplier int64 `koanf:"mem_estimate_multiplier"`
	MemEstimateOverhead   int64 `koanf:"mem_estimate_overhead"`

	Quota QuotaConfig `koanf:"quota"`

	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	RaftAddr          string        `koanf:"raft_addr"`
	// Peers maps node id -> raft address when no etcd registry is used,
	// e.g. "2=host-b:19095".
	Peers map[string]string `koanf:"peers"`

	Etcd EtcdConfig `koanf:"etcd"`

	MetricsAddr          string `koanf:"metrics_addr"`
	LogLevel             string `koanf:"log_level"`
	AutoCreateTopics     bool   `koanf:"auto_create_topics"`
	AutoCreatePartitions int32  `koanf:"auto_create_partitions"`
	RetainedLogBytes     int64  `koanf:"retained_log_bytes"`
	TraceKafka           bool   `koanf:"trace_kafka"`
}

// Load merges the YAML file at path (when present) with environment
// variables (prefix `STREAMRAFT__`, delimiter `__`), then applies defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	_ = k.Load(env.Provider("STREAMRAFT__", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "STREAMRAFT__"))
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.NodeID == 0 {
		c.NodeID = 1
	}
	if c.AdvertisedHost == "" {
		c.AdvertisedHost = "localhost"
	}
	if c.AdvertisedPort == 0 {
		c.AdvertisedPort = 19092
	}
	if len(c.Listeners) == 0 {
		c.Listeners = []ListenerConfig{{Addr: ":19092"}}
	}
	if c.MaxRequestMemory == 0 {
		c.MaxRequestMemory = 64 << 20
	}
	if c.MemEstimateMultiplier == 0 {
		c.MemEstimateMultiplier = 2
	}
	if c.MemEstimateOverhead == 0 {
		c.MemEstimateOverhead = 8000
	}
	if c.Quota.Window == 0 {
		c.Quota.Window = 10 * time.Second
	}
	if c.Quota.MaxDelay == 0 {
		c.Quota.MaxDelay = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 150 * time.Millisecond
	}
	if c.RaftAddr == "" {
		c.RaftAddr = ":19095"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":19093"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.AutoCreatePartitions == 0 {
		c.AutoCreatePartitions = 1
	}
	if c.RetainedLogBytes == 0 {
		c.RetainedLogBytes = 64 << 20
	}
}

func validate(c *Config) error {
	if c.NodeID < 0 {
		return fmt.Errorf("node_id must be positive, got %d", c.NodeID)
	}
	for i, l := range c.Listeners {
		if l.Addr == "" {
			return fmt.Errorf("listener %d has no addr", i)
		}
		if (l.TLSCertFile == "") != (l.TLSKeyFile == "") {
			return fmt.Errorf("listener %s needs both tls_cert_file and tls_key_file", l.Addr)
		}
	}
	if c.MaxRequestMemory <= c.MemEstimateOverhead {
		return fmt.Errorf("max_request_memory %d cannot admit any request past the %d byte overhead",
			c.MaxRequestMemory, c.MemEstimateOverhead)
	}
	return nil
}
