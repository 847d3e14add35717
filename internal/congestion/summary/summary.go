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

// Package summary prints the end-of-process table: one row per dataset run,
// the per-node verification counts and the settings the process ran with.
package summary

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"congestion/internal/congestion/ingest"
	"congestion/internal/congestion/verify"
)

var (
	// settings holds human-readable configuration captured at startup.
	settingsMu sync.RWMutex
	settings   = make(map[string]string)
)

// Setting setters capture runtime configuration knobs for final printing.
func SetSetting(name string, value string) {
	settingsMu.Lock()
	settings[name] = value
	settingsMu.Unlock()
}

func SetSettingInt(name string, v int) { SetSetting(name, fmt.Sprintf("%d", v)) }
func SetSettingBool(name string, b bool) { SetSetting(name, fmt.Sprintf("%t", b)) }
func SetSettingDuration(name string, d time.Duration) { SetSetting(name, d.String()) }

// settingsSnapshot returns a copy of settings for stable iteration/printing.
func settingsSnapshot() map[string]string {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		out[k] = v
	}
	return out
}

// resetSettingsForTests clears the settings registry. Intended for tests only.
func resetSettingsForTests() {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	for k := range settings {
		delete(settings, k)
	}
}

// Print writes the summary to w, in yellow unless NO_COLOR is set.
func Print(w io.Writer, outcomes []ingest.Outcome, reports []verify.Report) {
	yellow, reset := "\x1b[33m", "\x1b[0m"
	if os.Getenv("NO_COLOR") != "" {
		yellow, reset = "", ""
	}
	now := time.Now().Format(time.RFC3339)

	sep := strings.Repeat("-", 103)
	fmt.Fprintf(w, "%s[%s] Final ingestion metrics\n", yellow, now)
	fmt.Fprintln(w, sep)
	fmt.Fprintf(w, "%-18s %-8s %12s %10s %8s %10s %12s %12s\n", "Dataset", "Status", "Time (ms)", "Records", "Failed", "Store", "Used (KB)", "RSS (KB)")
	fmt.Fprintln(w, sep)
	for _, o := range outcomes {
		r := o.Result
		fmt.Fprintf(w, "%-18s %-8s %12.3f %10d %8d %10d %12d %12d\n",
			o.Binding.Name, status(o), r.Row.ElapsedMillis, r.Keys, r.Failed, r.StoreSize, r.Row.UsedKB, r.Row.ResidentKB)
	}
	fmt.Fprintln(w, sep)

	if len(reports) > 0 {
		fmt.Fprintf(w, "Verification samples\n")
		fmt.Fprintln(w, sep)
		fmt.Fprintf(w, "%-18s %-50s %12s\n", "Dataset", "Node", "Sampled")
		fmt.Fprintln(w, sep)
		for _, rep := range reports {
			if !rep.Found {
				fmt.Fprintf(w, "%-18s %-50s %12s\n", rep.Map, "-", "not found")
				continue
			}
			for _, ns := range rep.Nodes {
				fmt.Fprintf(w, "%-18s %-50s %12d\n", rep.Map, ns.Node, len(ns.Entries))
			}
		}
		fmt.Fprintln(w, sep)
	}

	th := settingsSnapshot()
	keys := make([]string, 0, len(th))
	for k := range th {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintf(w, "Configured settings\n")
		fmt.Fprintln(w, sep)
		fmt.Fprintf(w, "%-30s %40s\n", "Name", "Value")
		fmt.Fprintln(w, sep)
		for _, k := range keys {
			fmt.Fprintf(w, "%-30s %40s\n", k, th[k])
		}
		fmt.Fprintln(w, sep)
	}
	fmt.Fprint(w, reset)
}

func status(o ingest.Outcome) string {
	switch {
	case o.Err != nil:
		return "failed"
	case o.Result.Skipped:
		return "skipped"
	default:
		return "ok"
	}
}
