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

// Package persistence abstracts the distributed key-value store the loader
// writes into.
//
// The loader needs only a small capability surface: named maps keyed by a
// surrogate integer, puts, a size, a full scan, a scan restricted to the
// partitions held by one server node, and the list of server nodes. Two
// adapters implement it: an in-process MemoryStore (tests, dry runs) and a
// RedisStore backed by a standalone Redis or a Redis Cluster.
package persistence

import (
	"context"
	"errors"
)

// NodeID identifies one server node of the store (e.g., "10.0.0.5:6379").
type NodeID string

// Entry is one stored record as returned by a scan.
type Entry struct {
	Key    int64
	Fields map[string]string
}

// ErrUnknownNode is returned by node-scoped scans for a node that is not a
// current server member.
var ErrUnknownNode = errors.New("unknown server node")

// Store is the cluster-level capability surface.
type Store interface {
	// GetOrCreateMap returns the named map, registering it if needed.
	GetOrCreateMap(ctx context.Context, name string) (Map, error)
	// Map looks up an existing map; ok is false if it was never created.
	Map(ctx context.Context, name string) (m Map, ok bool, err error)
	// ServerNodes lists the data-holding members of the cluster.
	ServerNodes(ctx context.Context) ([]NodeID, error)
	Close() error
}

// Map is a named collection of records keyed by surrogate key.
//
// Put must be idempotent per key: writing the same key twice leaves a single
// entry holding the last fields.
type Map interface {
	Name() string
	Put(ctx context.Context, key int64, fields map[string]string) error
	Size(ctx context.Context) (int64, error)
	// Scan iterates every entry of the map across all nodes.
	Scan(ctx context.Context) Cursor
	// ScanNode iterates only the entries physically held by node.
	ScanNode(ctx context.Context, node NodeID) Cursor
}

// Cursor is a forward-only iterator over scan results. Callers must Close it.
//
//	c := m.Scan(ctx)
//	defer c.Close()
//	for c.Next() { use(c.Entry()) }
//	if err := c.Err(); err != nil { ... }
type Cursor interface {
	Next() bool
	Entry() Entry
	Err() error
	Close() error
}

// errCursor is a cursor that yields nothing and reports err.
type errCursor struct{ err error }

func (c errCursor) Next() bool   { return false }
func (c errCursor) Entry() Entry { return Entry{} }
func (c errCursor) Err() error   { return c.err }
func (c errCursor) Close() error { return nil }

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
