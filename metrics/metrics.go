/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exports Prometheus counters/gauges for session and
// event-loop activity, grounded on ptp/sptp/stats/prom_exporter.go's
// PrometheusExporter shape: its own registry, a dedicated listener,
// started in a background goroutine.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Exporter owns every counter/gauge this process publishes and the
// HTTP listener that serves them.
type Exporter struct {
	registry *prometheus.Registry
	port     int

	PacketsSent     prometheus.Counter
	PacketsReceived prometheus.Counter
	PacketsLost     prometheus.Counter
	ActiveSessions  prometheus.Gauge
	ReactorOvertime prometheus.Counter
}

// NewExporter creates an Exporter with a fresh registry and its own
// metric set.
func NewExporter(port int) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		port:     port,
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twamp_packets_sent_total",
			Help: "Total TWAMP-Test packets sent.",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twamp_packets_received_total",
			Help: "Total TWAMP-Test packets received.",
		}),
		PacketsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twamp_packets_lost_total",
			Help: "Total TWAMP-Test packets never matched to a reply.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "twamp_active_sessions",
			Help: "Number of sessions currently tracked.",
		}),
		ReactorOvertime: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twamp_reactor_overtime_total",
			Help: "Total times the event loop entered its overtime grace window.",
		}),
	}
	e.registry.MustRegister(e.PacketsSent, e.PacketsReceived, e.PacketsLost, e.ActiveSessions, e.ReactorOvertime)
	return e
}

// Start runs the metrics HTTP server. It blocks; callers run it in
// its own goroutine, matching PrometheusExporter.Start.
func (e *Exporter) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	log.Infof("metrics: listening on :%d/metrics", e.port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", e.port), mux); err != nil { //#nosec G114
		log.Errorf("metrics: listener exited: %v", err)
	}
}
