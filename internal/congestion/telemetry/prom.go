// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package telemetry provides opt-in Prometheus metrics for dataset ingestion
// and cluster verification. It is safe to call from the per-line hot path:
// when disabled, all public functions are no-ops.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Config controls the behavior of the telemetry module.
//
// Notes:
//   - MetricsAddr, when non-empty, starts a dedicated HTTP server that serves /metrics.
//   - LogInterval > 0 starts a progress loop that logs per-dataset line counts
//     through Logger (see progress.go).
type Config struct {
	Enabled     bool
	MetricsAddr string        // e.g., ":9090". Empty to disable standalone metrics endpoint
	LogInterval time.Duration // 0 disables progress logging
	Logger      logrus.FieldLogger
}

var (
	modEnabled atomic.Bool

	// Label cardinality is bounded by the fixed dataset bindings and the
	// cluster's server nodes.
	linesDecodedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "congestion_lines_decoded_total",
		Help: "Data lines decoded into records",
	}, []string{"dataset"})
	linesFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "congestion_lines_failed_total",
		Help: "Data lines rejected by the decoder, by failure kind",
	}, []string{"dataset", "kind"})
	putsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "congestion_puts_total",
		Help: "Records written to the store",
	}, []string{"dataset"})
	putErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "congestion_put_errors_total",
		Help: "Store writes that failed",
	}, []string{"dataset"})
	putSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "congestion_put_seconds",
		Help:    "Latency of a single store write",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	})
	ingestElapsedMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "congestion_ingest_elapsed_ms",
		Help: "Wall-clock duration of the last ingestion of a dataset, in milliseconds",
	}, []string{"dataset"})
	usedMemoryKB = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "congestion_used_memory_kb",
		Help: "Heap in use after the last ingestion of a dataset (-1 if unavailable)",
	}, []string{"dataset"})
	residentMemoryKB = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "congestion_resident_memory_kb",
		Help: "Process resident set size after the last ingestion of a dataset (-1 if unavailable)",
	}, []string{"dataset"})
	verifySampledEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "congestion_verify_sampled_entries",
		Help: "Entries sampled from one server node by the last verification",
	}, []string{"dataset", "node"})
)

func init() {
	prometheus.MustRegister(linesDecodedTotal, linesFailedTotal, putsTotal, putErrorsTotal, putSeconds,
		ingestElapsedMs, usedMemoryKB, residentMemoryKB, verifySampledEntries)
}

// Enable configures the module. Safe to call multiple times; subsequent calls replace config.
func Enable(cfg Config) {
	modEnabled.Store(cfg.Enabled)
	startOrUpdateProgress(cfg)
	if cfg.Enabled && cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
}

// Enabled reports whether telemetry is active.
func Enabled() bool { return modEnabled.Load() }

// ObserveDecoded records one successfully decoded line.
func ObserveDecoded(dataset string) {
	if !modEnabled.Load() {
		return
	}
	linesDecodedTotal.WithLabelValues(dataset).Inc()
	progressFor(dataset).decoded.Add(1)
}

// ObserveLineFailed records one rejected line; kind is the decode error kind.
func ObserveLineFailed(dataset, kind string) {
	if !modEnabled.Load() {
		return
	}
	linesFailedTotal.WithLabelValues(dataset, kind).Inc()
	progressFor(dataset).failed.Add(1)
}

// ObservePut records one store write and its latency.
func ObservePut(dataset string, took time.Duration, err error) {
	if !modEnabled.Load() {
		return
	}
	putSeconds.Observe(took.Seconds())
	if err != nil {
		putErrorsTotal.WithLabelValues(dataset).Inc()
		return
	}
	putsTotal.WithLabelValues(dataset).Inc()
}

// ObserveIngest publishes a dataset's final measurements.
func ObserveIngest(dataset string, elapsedMillis float64, usedKB, residentKB int64) {
	if !modEnabled.Load() {
		return
	}
	ingestElapsedMs.WithLabelValues(dataset).Set(elapsedMillis)
	usedMemoryKB.WithLabelValues(dataset).Set(float64(usedKB))
	residentMemoryKB.WithLabelValues(dataset).Set(float64(residentKB))
}

// ObserveVerifySample records how many entries were sampled from one node.
func ObserveVerifySample(dataset, node string, n int) {
	if !modEnabled.Load() {
		return
	}
	verifySampledEntries.WithLabelValues(dataset, node).Set(float64(n))
}

// startMetricsEndpoint exposes /metrics on the given addr in a background goroutine.
func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
