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

// Package main provides the entry point for the congestion dataset loader.
//
// The loader bulk-loads two traffic congestion datasets into a distributed
// key-value store, one map per dataset:
//
//   - 5min_congestion: a tab-separated file of 5-minute observations
//     (offer_date, offer_hour).
//   - 1hour_congestion: a comma-separated file of hourly aggregates
//     (time, congestion_time).
//
// Each load is timed and followed by one memory sample (managed heap and
// process resident memory). The measurement is written as a two-line CSV
// report per dataset (5min_result.csv, 1hour_result.csv). After loading, the
// loader samples a few entries from every server node to show how the data
// is spread across the cluster.
//
// This file is responsible for orchestrating a run:
//  1. Loading configuration (YAML file, then command-line overrides).
//  2. Connecting to the store and waiting until it answers.
//  3. Loading every dataset, sequentially or in parallel.
//  4. Verifying the distribution and printing a final summary.
//
// A missing source, a bad line or a failed report never stops the process;
// only an unreachable store does.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"congestion/internal/congestion/config"
	"congestion/internal/congestion/ingest"
	"congestion/internal/congestion/metrics"
	"congestion/internal/congestion/persistence"
	"congestion/internal/congestion/record"
	"congestion/internal/congestion/report"
	"congestion/internal/congestion/summary"
	"congestion/internal/congestion/telemetry"
	"congestion/internal/congestion/verify"
	"congestion/internal/logging"
)

func main() {
	// 1. Parse flags. Flags that are set override the config file.
	// - store: "memory" runs against an in-process simulated cluster; "redis" against a real one
	// - redis_addrs: comma-separated seed addresses; more than one implies cluster mode
	// - data_5min / data_1hour: source files of the two datasets
	// - parallel: load both datasets at the same time (memory samples are process-wide)
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	storeAdapter := flag.String("store", "", "Store adapter: memory | redis")
	redisAddrs := flag.String("redis_addrs", "", "Comma-separated Redis addresses (e.g., 127.0.0.1:6379)")
	redisCluster := flag.Bool("redis_cluster", false, "Treat redis_addrs as Redis Cluster seeds even if only one is given")
	memoryNodes := flag.Int("memory_nodes", 0, "Number of simulated server nodes for the memory store")
	data5min := flag.String("data_5min", "", "Source file of the 5-minute dataset (tab-separated)")
	data1hour := flag.String("data_1hour", "", "Source file of the 1-hour dataset (comma-separated)")
	outputDir := flag.String("output_dir", "", "Directory for the *_result.csv reports")
	parallel := flag.Bool("parallel", false, "Load datasets concurrently")
	dump := flag.Bool("dump", false, "Log every stored entry after each dataset load")
	samplePerNode := flag.Int("sample_per_node", 0, "Entries to sample from each server node during verification")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
	logLevel := flag.String("log_level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log_format", "", "Log format: text | json")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	applyFlags(cfg, isFlagSet, flagValues{
		store: *storeAdapter, redisAddrs: *redisAddrs, redisCluster: *redisCluster, memoryNodes: *memoryNodes,
		data5min: *data5min, data1hour: *data1hour, outputDir: *outputDir, parallel: *parallel, dump: *dump,
		samplePerNode: *samplePerNode, metricsAddr: *metricsAddr, logLevel: *logLevel, logFormat: *logFormat,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	captureSettings(cfg)

	// Telemetry (no-op if disabled)
	telemetry.Enable(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled || cfg.Telemetry.MetricsAddr != "",
		MetricsAddr: cfg.Telemetry.MetricsAddr,
		LogInterval: cfg.Telemetry.LogInterval,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect to the store. This is the only startup-fatal step.
	store, err := persistence.BuildStore(cfg.Store.Adapter, persistence.Options{
		Addrs:    cfg.Store.Addrs,
		Cluster:  cfg.Store.Cluster,
		Password: cfg.Store.Password,
		Nodes:    cfg.Store.Nodes,
	})
	if err != nil {
		logger.WithField("action", "build_store").WithError(err).Fatal("could not build store")
	}
	defer store.Close()
	if err := persistence.WaitReady(ctx, store, persistence.PingBackOff(cfg.Store.PingAttempts), logger); err != nil {
		logger.WithField("action", "store_ping").WithError(err).Fatal("store unreachable")
	}

	verifier := &verify.Verifier{
		Store:         store,
		SamplePerNode: cfg.Verify.SamplePerNode,
		Logger:        logger,
		Out:           os.Stdout,
	}
	if _, err := verifier.CheckNodes(ctx); err != nil {
		logger.WithField("action", "check_nodes").WithError(err).Warn("could not list server nodes")
	}

	// 3. Load every dataset.
	runner := &ingest.Runner{
		Store: store,
		Sampler: metrics.Sampler{OnProbeError: func(err error) {
			logger.WithField("action", "sample_memory").WithError(err).Warn("resident memory unavailable")
		}},
		Sink:          report.NewSink(cfg.OutputDir, logger),
		Logger:        logger,
		DumpAfterLoad: cfg.Verify.Dump,
	}
	bindings := cfg.Bindings()
	outcomes := runner.RunAll(ctx, bindings, cfg.Run.Parallel)

	// 4. Verify distribution per node, then summarize.
	var reports []verify.Report
	for _, b := range bindings {
		rep, err := verifier.Verify(ctx, b.Name)
		if err != nil {
			logger.WithField("action", "verify").WithField("dataset", b.Name).WithError(err).Error("verification failed")
			continue
		}
		reports = append(reports, rep)
	}

	summary.Print(os.Stdout, outcomes, reports)
	logFinal(logger, outcomes)
}

type flagValues struct {
	store         string
	redisAddrs    string
	redisCluster  bool
	memoryNodes   int
	data5min      string
	data1hour     string
	outputDir     string
	parallel      bool
	dump          bool
	samplePerNode int
	metricsAddr   string
	logLevel      string
	logFormat     string
}

// applyFlags copies every explicitly set flag onto cfg.
func applyFlags(cfg *config.Config, set func(string) bool, v flagValues) {
	if set("store") {
		cfg.Store.Adapter = v.store
	}
	if set("redis_addrs") {
		cfg.Store.Addrs = splitAddrs(v.redisAddrs)
	}
	if set("redis_cluster") {
		cfg.Store.Cluster = v.redisCluster
	}
	if set("memory_nodes") {
		cfg.Store.Nodes = v.memoryNodes
	}
	if set("data_5min") {
		cfg.SetSource(record.FiveMinuteDataset, v.data5min)
	}
	if set("data_1hour") {
		cfg.SetSource(record.OneHourDataset, v.data1hour)
	}
	if set("output_dir") {
		cfg.OutputDir = v.outputDir
	}
	if set("parallel") {
		cfg.Run.Parallel = v.parallel
	}
	if set("dump") {
		cfg.Verify.Dump = v.dump
	}
	if set("sample_per_node") {
		cfg.Verify.SamplePerNode = v.samplePerNode
	}
	if set("metrics_addr") {
		cfg.Telemetry.MetricsAddr = v.metricsAddr
	}
	if set("log_level") {
		cfg.Log.Level = v.logLevel
	}
	if set("log_format") {
		cfg.Log.Format = v.logFormat
	}
}

func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func splitAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// captureSettings records the effective configuration for the final summary.
func captureSettings(cfg *config.Config) {
	adapter := cfg.Store.Adapter
	if adapter == "" {
		adapter = "memory"
	}
	summary.SetSetting("store", adapter)
	if adapter == "redis" {
		summary.SetSetting("redis_addrs", strings.Join(cfg.Store.Addrs, ","))
		summary.SetSettingBool("redis_cluster", cfg.Store.Cluster)
	} else {
		summary.SetSettingInt("memory_nodes", cfg.Store.Nodes)
	}
	for _, b := range cfg.Bindings() {
		summary.SetSetting(b.Name+".source", b.Source)
	}
	summary.SetSetting("output_dir", cfg.OutputDir)
	summary.SetSettingBool("parallel", cfg.Run.Parallel)
	summary.SetSettingBool("dump", cfg.Verify.Dump)
	summary.SetSettingInt("sample_per_node", cfg.Verify.SamplePerNode)
	if cfg.Telemetry.MetricsAddr != "" {
		summary.SetSetting("metrics_addr", cfg.Telemetry.MetricsAddr)
	}
}

func logFinal(logger logrus.FieldLogger, outcomes []ingest.Outcome) {
	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	logger.WithField("action", "done").WithField("datasets", len(outcomes)).WithField("failed", failed).
		Info("loader finished")
}
