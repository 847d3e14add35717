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

// Package metrics measures one dataset load: wall-clock elapsed time and a
// single post-load memory sample (managed heap plus OS resident memory).
package metrics

import (
	"errors"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// UnknownKB is reported when resident memory could not be queried.
const UnknownKB int64 = -1

// ErrMemoryQueryFailed wraps failures of the resident memory probe.
var ErrMemoryQueryFailed = errors.New("memory query failed")

// Row is the fixed-shape result of one dataset load.
type Row struct {
	Operation     string
	ElapsedMillis float64
	UsedKB        int64
	ResidentKB    int64
}

// SkippedRow is the row reported for a dataset that never started loading.
func SkippedRow(operation string) Row {
	return Row{Operation: operation}
}

// Timer measures elapsed wall-clock time on the monotonic clock.
type Timer struct {
	start   time.Time
	elapsed time.Duration
	running bool
}

// Start (re)starts the timer.
func (t *Timer) Start() {
	t.start = time.Now()
	t.elapsed = 0
	t.running = true
}

// Stop freezes the elapsed time. Calling Stop on a stopped timer is a no-op.
func (t *Timer) Stop() time.Duration {
	if t.running {
		t.elapsed = time.Since(t.start)
		t.running = false
	}
	return t.elapsed
}

// ElapsedMillis returns the elapsed time in fractional milliseconds. While
// running it reports the time so far.
func (t *Timer) ElapsedMillis() float64 {
	d := t.elapsed
	if t.running {
		d = time.Since(t.start)
	}
	return float64(d.Nanoseconds()) / 1e6
}

// Memory is a point-in-time memory sample, in kilobytes.
type Memory struct {
	UsedKB     int64
	ResidentKB int64
}

// RSSProbe returns the resident set size of the current process in bytes.
type RSSProbe func() (uint64, error)

// HeapProbe returns the managed heap bytes in use.
type HeapProbe func() uint64

// Sampler takes memory samples. Zero value uses the runtime heap and the
// gopsutil process probe.
type Sampler struct {
	RSS  RSSProbe
	Heap HeapProbe
	// OnProbeError is called when the RSS probe fails; the sample still succeeds.
	OnProbeError func(error)
}

// Sample returns the current memory usage. A failing RSS probe yields
// ResidentKB = UnknownKB.
func (s Sampler) Sample() Memory {
	heap := s.Heap
	if heap == nil {
		heap = HeapInUse
	}
	rss := s.RSS
	if rss == nil {
		rss = ProcessRSS
	}

	m := Memory{UsedKB: int64(heap() / 1024), ResidentKB: UnknownKB}
	b, err := rss()
	if err != nil {
		if s.OnProbeError != nil {
			s.OnProbeError(errors.Join(ErrMemoryQueryFailed, err))
		}
		return m
	}
	m.ResidentKB = int64(b / 1024)
	return m
}

// HeapInUse reads the bytes of allocated heap objects from the runtime.
func HeapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// ProcessRSS queries the OS for the resident set size of this process.
func ProcessRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}
