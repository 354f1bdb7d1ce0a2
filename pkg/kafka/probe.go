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
	"github.com/prometheus/client_golang/prometheus"
)

// Probe exposes the protocol server's metrics. A nil registerer keeps the
// metrics unregistered, which tests use to avoid registry collisions.
type Probe struct {
	connectionsActive  prometheus.Gauge
	connectionsTotal   prometheus.Counter
	bytesSent          prometheus.Counter
	requestsServed     prometheus.Counter
	requestErrors      prometheus.Counter
	awaitingMemory     prometheus.Counter
	throttleViolations *prometheus.CounterVec
}

// NewProbe builds the server probe and registers it with reg when non-nil.
func NewProbe(reg prometheus.Registerer) *Probe {
	p := &Probe{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamraft_kafka_connections_active",
			Help: "Open Kafka protocol connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamraft_kafka_connections_total",
			Help: "Accepted Kafka protocol connections.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamraft_kafka_bytes_sent_total",
			Help: "Response bytes written to clients.",
		}),
		requestsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamraft_kafka_requests_served_total",
			Help: "Requests whose response was written.",
		}),
		requestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamraft_kafka_request_errors_total",
			Help: "Requests whose dispatch failed.",
		}),
		awaitingMemory: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamraft_kafka_requests_awaiting_memory_total",
			Help: "Requests that had to wait for the shard memory budget.",
		}),
		throttleViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamraft_kafka_quota_violations_total",
			Help: "Quota violations labeled by whether the server slept.",
		}, []string{"enforced"}),
	}
	if reg != nil {
		reg.MustRegister(
			p.connectionsActive,
			p.connectionsTotal,
			p.bytesSent,
			p.requestsServed,
			p.requestErrors,
			p.awaitingMemory,
			p.throttleViolations,
		)
	}
	return p
}

func (p *Probe) ConnectionEstablished() {
	p.connectionsTotal.Inc()
	p.connectionsActive.Inc()
}

func (p *Probe) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *Probe) AddBytesSent(n int) {
	p.bytesSent.Add(float64(n))
}

func (p *Probe) RequestServed() {
	p.requestsServed.Inc()
}

func (p *Probe) RequestProcessingError() {
	p.requestErrors.Inc()
}

func (p *Probe) WaitingForAvailableMemory() {
	p.awaitingMemory.Inc()
}

func (p *Probe) QuotaViolation(enforced bool) {
	if enforced {
		p.throttleViolations.WithLabelValues("true").Inc()
	} else {
		p.throttleViolations.WithLabelValues("false").Inc()
	}
}
