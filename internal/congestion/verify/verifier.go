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

// Package verify samples a loaded map node by node so an operator can see
// that every server node holds part of the data.
package verify

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"congestion/internal/congestion/persistence"
	"congestion/internal/congestion/telemetry"
)

// DefaultSamplePerNode is the number of entries read from each node.
const DefaultSamplePerNode = 5

// NodeSample holds the entries read from one server node.
type NodeSample struct {
	Node    persistence.NodeID
	Entries []persistence.Entry
}

// Report is the outcome of one verification.
type Report struct {
	Map   string
	Found bool
	Nodes []NodeSample
}

// Sampled returns the total number of entries read across nodes.
func (r Report) Sampled() int {
	n := 0
	for _, s := range r.Nodes {
		n += len(s.Entries)
	}
	return n
}

// Verifier reads at most SamplePerNode entries from every server node. It
// never writes to the store.
type Verifier struct {
	Store         persistence.Store
	SamplePerNode int // <= 0 means DefaultSamplePerNode
	Logger        logrus.FieldLogger
	// Out, when set, receives a human-readable listing of the samples.
	Out io.Writer
}

func (v *Verifier) limit() int {
	if v.SamplePerNode <= 0 {
		return DefaultSamplePerNode
	}
	return v.SamplePerNode
}

// Verify samples the named map. An absent map is reported, not an error.
func (v *Verifier) Verify(ctx context.Context, name string) (Report, error) {
	rep := Report{Map: name}
	m, ok, err := v.Store.Map(ctx, name)
	if err != nil {
		return rep, fmt.Errorf("lookup map %s: %w", name, err)
	}
	if !ok {
		v.printf("Cache %s not found.\n", name)
		if v.Logger != nil {
			v.Logger.WithField("action", "verify").WithField("dataset", name).Warn("map not found")
		}
		return rep, nil
	}
	rep.Found = true

	nodes, err := v.Store.ServerNodes(ctx)
	if err != nil {
		return rep, fmt.Errorf("list server nodes: %w", err)
	}
	v.printf("Verifying data distribution for cache: %s\n", name)
	for _, node := range nodes {
		sample, err := v.sampleNode(ctx, m, node)
		if err != nil {
			return rep, err
		}
		rep.Nodes = append(rep.Nodes, sample)
		telemetry.ObserveVerifySample(name, string(node), len(sample.Entries))
		v.printf("Node %s: %d entries sampled\n", node, len(sample.Entries))
		for _, e := range sample.Entries {
			v.printf("  Key: %d, Value: %v\n", e.Key, e.Fields)
		}
	}
	if v.Logger != nil {
		v.Logger.WithField("action", "verify").WithField("dataset", name).
			WithField("nodes", len(rep.Nodes)).WithField("sampled", rep.Sampled()).Info("map verified")
	}
	return rep, nil
}

// sampleNode reads at most limit entries held by node. The cursor is closed
// on every path.
func (v *Verifier) sampleNode(ctx context.Context, m persistence.Map, node persistence.NodeID) (NodeSample, error) {
	s := NodeSample{Node: node}
	c := m.ScanNode(ctx, node)
	defer c.Close()
	for len(s.Entries) < v.limit() && c.Next() {
		s.Entries = append(s.Entries, c.Entry())
	}
	if err := c.Err(); err != nil {
		return s, fmt.Errorf("scan node %s: %w", node, err)
	}
	return s, nil
}

// CheckNodes logs every server node of the store and returns them.
func (v *Verifier) CheckNodes(ctx context.Context) ([]persistence.NodeID, error) {
	nodes, err := v.Store.ServerNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list server nodes: %w", err)
	}
	for _, n := range nodes {
		if v.Logger != nil {
			v.Logger.WithField("action", "check_nodes").WithField("node", string(n)).Info("server node connected")
		}
	}
	if len(nodes) == 0 && v.Logger != nil {
		v.Logger.WithField("action", "check_nodes").Warn("no server nodes")
	}
	return nodes, nil
}

func (v *Verifier) printf(format string, args ...any) {
	if v.Out != nil {
		_, _ = fmt.Fprintf(v.Out, format, args...)
	}
}
