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

package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Internal per-dataset line counters and the progress loop.

type datasetProgress struct {
	decoded atomic.Int64
	failed  atomic.Int64
}

var (
	progress sync.Map // map[string]*datasetProgress

	progressMu   sync.Mutex
	progressStop chan struct{}
	progressDone chan struct{}
	currCfg      atomic.Value // stores Config
)

func progressFor(dataset string) *datasetProgress {
	if p, ok := progress.Load(dataset); ok {
		return p.(*datasetProgress)
	}
	p, _ := progress.LoadOrStore(dataset, &datasetProgress{})
	return p.(*datasetProgress)
}

// Snapshot returns decoded and failed line counts per dataset since start.
func Snapshot() map[string][2]int64 {
	out := make(map[string][2]int64)
	progress.Range(func(k, v any) bool {
		p := v.(*datasetProgress)
		out[k.(string)] = [2]int64{p.decoded.Load(), p.failed.Load()}
		return true
	})
	return out
}

func startOrUpdateProgress(cfg Config) {
	progressMu.Lock()
	defer progressMu.Unlock()

	currCfg.Store(cfg)

	if progressStop != nil {
		close(progressStop)
		<-progressDone
		progressStop, progressDone = nil, nil
	}
	if !cfg.Enabled || cfg.LogInterval <= 0 || cfg.Logger == nil {
		return
	}
	progressStop = make(chan struct{})
	progressDone = make(chan struct{})
	go progressLoop(progressStop, progressDone)
}

func progressLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	cfg, _ := currCfg.Load().(Config)
	ticker := time.NewTicker(cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			publishProgress(cfg)
		case <-stop:
			return
		}
	}
}

func publishProgress(cfg Config) {
	snap := Snapshot()
	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c := snap[n]
		cfg.Logger.WithField("action", "ingest_progress").WithField("dataset", n).
			WithField("decoded", c[0]).WithField("failed", c[1]).Info("ingestion progress")
	}
}
