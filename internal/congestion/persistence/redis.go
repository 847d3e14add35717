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
	"strconv"
	"strings"
)

// Redis key layout:
//
//	<map>:<key>        HASH  record fields
//	congestion:maps    SET   names of created maps
//
// Record keys carry no hash tag so Redis Cluster spreads them across slots.
const RedisMapRegistryKey = "congestion:maps"

// RedisRecordKey returns the Redis key of one record.
func RedisRecordKey(mapName string, key int64) string {
	return mapName + ":" + strconv.FormatInt(key, 10)
}

// redisMatch is the SCAN pattern selecting every record of a map.
func redisMatch(mapName string) string { return mapName + ":*" }

// defaultScanCount is the COUNT hint passed to SCAN.
const defaultScanCount = 512

// RedisStore implements Store on top of a standalone Redis or Redis Cluster.
type RedisStore struct {
	client    RedisCluster
	scanCount int64
}

// NewRedisStore returns a store using client.
func NewRedisStore(client RedisCluster) *RedisStore {
	return &RedisStore{client: client, scanCount: defaultScanCount}
}

func (s *RedisStore) GetOrCreateMap(ctx context.Context, name string) (Map, error) {
	if err := s.client.SAdd(ctx, RedisMapRegistryKey, name); err != nil {
		return nil, fmt.Errorf("redis register map=%s: %w", name, err)
	}
	return &redisMap{store: s, name: name}, nil
}

func (s *RedisStore) Map(ctx context.Context, name string) (Map, bool, error) {
	ok, err := s.client.SIsMember(ctx, RedisMapRegistryKey, name)
	if err != nil {
		return nil, false, fmt.Errorf("redis lookup map=%s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisMap{store: s, name: name}, true, nil
}

func (s *RedisStore) ServerNodes(ctx context.Context) ([]NodeID, error) {
	nodes, err := listNodes(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("redis list nodes: %w", err)
	}
	ids := make([]NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = NodeID(n.Addr())
	}
	return ids, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

type redisMap struct {
	store *RedisStore
	name  string
}

func (m *redisMap) Name() string { return m.name }

func (m *redisMap) Put(ctx context.Context, key int64, fields map[string]string) error {
	if err := m.store.client.HSet(ctx, RedisRecordKey(m.name, key), fields); err != nil {
		return fmt.Errorf("redis hset map=%s key=%d: %w", m.name, key, err)
	}
	return nil
}

// Size counts the map's keys on every node with SCAN.
func (m *redisMap) Size(ctx context.Context) (int64, error) {
	nodes, err := listNodes(ctx, m.store.client)
	if err != nil {
		return 0, fmt.Errorf("redis list nodes: %w", err)
	}
	var total int64
	for _, n := range nodes {
		var cursor uint64
		for {
			keys, next, err := n.Scan(ctx, cursor, redisMatch(m.name), m.store.scanCount)
			if err != nil {
				return 0, fmt.Errorf("redis scan node=%s map=%s: %w", n.Addr(), m.name, err)
			}
			for _, k := range keys {
				if _, ok := parseRecordKey(m.name, k); ok {
					total++
				}
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}
	return total, nil
}

func (m *redisMap) Scan(ctx context.Context) Cursor {
	nodes, err := listNodes(ctx, m.store.client)
	if err != nil {
		return errCursor{err: fmt.Errorf("redis list nodes: %w", err)}
	}
	return &redisCursor{ctx: ctx, m: m, nodes: nodes}
}

func (m *redisMap) ScanNode(ctx context.Context, node NodeID) Cursor {
	nodes, err := listNodes(ctx, m.store.client)
	if err != nil {
		return errCursor{err: fmt.Errorf("redis list nodes: %w", err)}
	}
	for _, n := range nodes {
		if NodeID(n.Addr()) == node {
			return &redisCursor{ctx: ctx, m: m, nodes: []RedisNode{n}}
		}
	}
	return errCursor{err: fmt.Errorf("%w: %s", ErrUnknownNode, node)}
}

func parseRecordKey(mapName, redisKey string) (int64, bool) {
	rest, ok := strings.CutPrefix(redisKey, mapName+":")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// redisCursor walks the given nodes one after another with SCAN and reads
// each matching hash with HGETALL.
type redisCursor struct {
	ctx   context.Context
	m     *redisMap
	nodes []RedisNode

	node    int
	cursor  uint64
	started bool
	keys    []string

	cur    Entry
	err    error
	closed bool
}

func (c *redisCursor) Next() bool {
	for !c.closed && c.err == nil {
		if len(c.keys) > 0 {
			k := c.keys[0]
			c.keys = c.keys[1:]
			id, ok := parseRecordKey(c.m.name, k)
			if !ok {
				continue
			}
			fields, err := c.nodes[c.node].HGetAll(c.ctx, k)
			if err != nil {
				c.err = fmt.Errorf("redis hgetall %s: %w", k, err)
				return false
			}
			if len(fields) == 0 {
				continue // deleted between SCAN and HGETALL
			}
			c.cur = Entry{Key: id, Fields: fields}
			return true
		}
		if c.node >= len(c.nodes) {
			return false
		}
		if c.started && c.cursor == 0 {
			c.node++
			c.started = false
			continue
		}
		n := c.nodes[c.node]
		keys, next, err := n.Scan(c.ctx, c.cursor, redisMatch(c.m.name), c.m.store.scanCount)
		if err != nil {
			c.err = fmt.Errorf("redis scan node=%s map=%s: %w", n.Addr(), c.m.name, err)
			return false
		}
		c.keys, c.cursor, c.started = keys, next, true
	}
	return false
}

func (c *redisCursor) Entry() Entry { return c.cur }
func (c *redisCursor) Err() error   { return c.err }

func (c *redisCursor) Close() error {
	c.closed = true
	c.keys = nil
	return nil
}
