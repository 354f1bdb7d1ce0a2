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
	"sync"
	"time"
)

// ThrottleResult reports the quota decision for one request. On the first
// violation in a window the delay is returned to the client but the server
// does not sleep; subsequent violations apply the delay as backpressure
// before dispatch. Kafka clients use the reported delay to tell throttling
// apart from ordinary latency.
type ThrottleResult struct {
	FirstViolation bool
	Delay          time.Duration
}

// QuotaConfig bounds per-client throughput.
type QuotaConfig struct {
	// TargetByteRate is the allowed bytes/sec per client id. Zero disables
	// throttling.
	TargetByteRate int64
	// Window is the measurement window for the rate estimate.
	Window time.Duration
	// MaxDelay caps the computed throttle delay.
	MaxDelay time.Duration
}

func (c *QuotaConfig) withDefaults() QuotaConfig {
	cfg := *c
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return cfg
}

// clientQuota tracks one client id. Buckets map a second to the bytes seen
// in it, pruned to the window on every touch.
type clientQuota struct {
	buckets   map[int64]int64
	throttled bool
	lastSeen  time.Time
}

// QuotaManager owns the per-client throughput state of one shard.
type QuotaManager struct {
	mu      sync.Mutex
	cfg     QuotaConfig
	clients map[string]*clientQuota
	lastGC  time.Time
	now     func() time.Time
}

// NewQuotaManager builds a quota manager from cfg.
func NewQuotaManager(cfg QuotaConfig) *QuotaManager {
	return &QuotaManager{
		cfg:     cfg.withDefaults(),
		clients: make(map[string]*clientQuota),
		now:     time.Now,
	}
}

// RecordAndThrottle charges n bytes to clientID and returns the throttle
// decision for the request that carried them.
func (q *QuotaManager) RecordAndThrottle(clientID string, n int64) ThrottleResult {
	if q.cfg.TargetByteRate <= 0 {
		return ThrottleResult{}
	}
	now := q.now()
	bucket := now.Unix()

	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.clients[clientID]
	if c == nil {
		c = &clientQuota{buckets: make(map[int64]int64)}
		q.clients[clientID] = c
	}
	c.lastSeen = now
	if n > 0 {
		c.buckets[bucket] += n
	}
	q.pruneLocked(c, bucket)
	q.gcLocked(now)

	rate := q.rateLocked(c, bucket)
	if rate <= float64(q.cfg.TargetByteRate) {
		c.throttled = false
		return ThrottleResult{}
	}

	overage := (rate - float64(q.cfg.TargetByteRate)) / float64(q.cfg.TargetByteRate)
	delay := q.cfg.MaxDelay
	if scaled := overage * float64(q.cfg.Window); scaled < float64(q.cfg.MaxDelay) {
		delay = time.Duration(scaled)
	}
	first := !c.throttled
	c.throttled = true
	return ThrottleResult{FirstViolation: first, Delay: delay}
}

// rateLocked estimates bytes/sec over the occupied portion of the window.
func (q *QuotaManager) rateLocked(c *clientQuota, current int64) float64 {
	if len(c.buckets) == 0 {
		return 0
	}
	var total int64
	minBucket := current
	for b, count := range c.buckets {
		total += count
		if b < minBucket {
			minBucket = b
		}
	}
	windowSecs := int64(q.cfg.Window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	span := current - minBucket + 1
	if span > windowSecs {
		span = windowSecs
	}
	if span < 1 {
		span = 1
	}
	return float64(total) / float64(span)
}

func (q *QuotaManager) pruneLocked(c *clientQuota, current int64) {
	windowSecs := int64(q.cfg.Window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	minBucket := current - windowSecs
	for b := range c.buckets {
		if b < minBucket {
			delete(c.buckets, b)
		}
	}
}

// gcLocked drops clients idle for more than two windows. Runs at most once
// per window so steady traffic does not pay for it.
func (q *QuotaManager) gcLocked(now time.Time) {
	if now.Sub(q.lastGC) < q.cfg.Window {
		return
	}
	q.lastGC = now
	idleCutoff := now.Add(-2 * q.cfg.Window)
	for id, c := range q.clients {
		if c.lastSeen.Before(idleCutoff) {
			delete(q.clients, id)
		}
	}
}
