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

package persistence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// MemoryStore is an in-process Store that simulates a cluster of server
// nodes. Each key lives on exactly one node, chosen by hashing the key.
// It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes []NodeID
	maps  map[string]*memoryMap

	// PutErr, when set, is returned by every Put (tests).
	PutErr error
}

// NewMemoryStore returns a store with n simulated server nodes (min 1).
func NewMemoryStore(n int) *MemoryStore {
	if n <= 0 {
		n = 1
	}
	nodes := make([]NodeID, n)
	for i := range nodes {
		nodes[i] = NodeID(fmt.Sprintf("memory-node-%d", i))
	}
	return &MemoryStore{nodes: nodes, maps: make(map[string]*memoryMap)}
}

func (s *MemoryStore) GetOrCreateMap(_ context.Context, name string) (Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[name]
	if !ok {
		m = &memoryMap{store: s, name: name, parts: make([]map[int64]map[string]string, len(s.nodes))}
		for i := range m.parts {
			m.parts[i] = make(map[int64]map[string]string)
		}
		s.maps[name] = m
	}
	return m, nil
}

func (s *MemoryStore) Map(_ context.Context, name string) (Map, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.maps[name]
	if !ok {
		return nil, false, nil
	}
	return m, true, nil
}

func (s *MemoryStore) ServerNodes(context.Context) ([]NodeID, error) {
	return append([]NodeID(nil), s.nodes...), nil
}

func (s *MemoryStore) Close() error { return nil }

// nodeFor returns the partition index owning key.
func (s *MemoryStore) nodeFor(key int64) int {
	h := xxhash.Sum64String(strconv.FormatInt(key, 10))
	return int(h % uint64(len(s.nodes)))
}

func (s *MemoryStore) nodeIndex(id NodeID) (int, bool) {
	for i, n := range s.nodes {
		if n == id {
			return i, true
		}
	}
	return 0, false
}

type memoryMap struct {
	store *MemoryStore
	name  string
	parts []map[int64]map[string]string
}

func (m *memoryMap) Name() string { return m.name }

func (m *memoryMap) Put(ctx context.Context, key int64, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if m.store.PutErr != nil {
		return m.store.PutErr
	}
	m.parts[m.store.nodeFor(key)][key] = copyFields(fields)
	return nil
}

func (m *memoryMap) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	var n int64
	for _, p := range m.parts {
		n += int64(len(p))
	}
	return n, nil
}

func (m *memoryMap) Scan(ctx context.Context) Cursor {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	var entries []Entry
	for _, p := range m.parts {
		entries = append(entries, snapshot(p)...)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return &sliceCursor{ctx: ctx, entries: entries}
}

func (m *memoryMap) ScanNode(ctx context.Context, node NodeID) Cursor {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	i, ok := m.store.nodeIndex(node)
	if !ok {
		return errCursor{err: fmt.Errorf("%w: %s", ErrUnknownNode, node)}
	}
	entries := snapshot(m.parts[i])
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return &sliceCursor{ctx: ctx, entries: entries}
}

func snapshot(p map[int64]map[string]string) []Entry {
	out := make([]Entry, 0, len(p))
	for k, v := range p {
		out = append(out, Entry{Key: k, Fields: copyFields(v)})
	}
	return out
}

// sliceCursor iterates a detached snapshot.
type sliceCursor struct {
	ctx     context.Context
	entries []Entry
	pos     int
	cur     Entry
	err     error
	closed  bool
}

func (c *sliceCursor) Next() bool {
	if c.closed || c.err != nil || c.pos >= len(c.entries) {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.cur = c.entries[c.pos]
	c.pos++
	return true
}

func (c *sliceCursor) Entry() Entry { return c.cur }
func (c *sliceCursor) Err() error   { return c.err }

func (c *sliceCursor) Close() error {
	c.closed = true
	c.entries = nil
	return nil
}
