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
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// RedisNode is the per-node surface used for node-scoped scans.
type RedisNode interface {
	Addr() string
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, next uint64, err error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// RedisCluster is the minimal surface RedisStore needs from a Redis client.
// Writes go through the cluster-aware client so keys are routed by slot;
// scans go node by node.
type RedisCluster interface {
	Ping(ctx context.Context) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	SAdd(ctx context.Context, key string, member string) error
	SIsMember(ctx context.Context, key string, member string) (bool, error)
	// ForEachNode calls fn for every master node. Calls may run concurrently.
	ForEachNode(ctx context.Context, fn func(ctx context.Context, node RedisNode) error) error
	Close() error
}

// GoRedisCluster wraps github.com/redis/go-redis/v9. It serves both a
// standalone server (one node) and a Redis Cluster (one node per master).
type GoRedisCluster struct {
	c       redis.UniversalClient
	cluster *redis.ClusterClient
	single  *redis.Client
}

// NewGoRedisClient connects to a standalone Redis at addr.
func NewGoRedisClient(addr, password string) *GoRedisCluster {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &GoRedisCluster{c: c, single: c}
}

// NewGoRedisClusterClient connects to a Redis Cluster through the given seed
// addresses.
func NewGoRedisClusterClient(addrs []string, password string) *GoRedisCluster {
	c := redis.NewClusterClient(&redis.ClusterOptions{Addrs: addrs, Password: password})
	return &GoRedisCluster{c: c, cluster: c}
}

func (g *GoRedisCluster) Ping(ctx context.Context) error {
	return g.c.Ping(ctx).Err()
}

func (g *GoRedisCluster) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	return g.c.HSet(ctx, key, args...).Err()
}

func (g *GoRedisCluster) SAdd(ctx context.Context, key string, member string) error {
	return g.c.SAdd(ctx, key, member).Err()
}

func (g *GoRedisCluster) SIsMember(ctx context.Context, key string, member string) (bool, error) {
	return g.c.SIsMember(ctx, key, member).Result()
}

func (g *GoRedisCluster) ForEachNode(ctx context.Context, fn func(ctx context.Context, node RedisNode) error) error {
	if g.cluster != nil {
		return g.cluster.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return fn(ctx, goRedisNode{c})
		})
	}
	return fn(ctx, goRedisNode{g.single})
}

func (g *GoRedisCluster) Close() error { return g.c.Close() }

type goRedisNode struct{ c *redis.Client }

func (n goRedisNode) Addr() string { return n.c.Options().Addr }

func (n goRedisNode) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return n.c.Scan(ctx, cursor, match, count).Result()
}

func (n goRedisNode) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return n.c.HGetAll(ctx, key).Result()
}

// listNodes collects the nodes of c. ForEachNode may call back concurrently.
func listNodes(ctx context.Context, c RedisCluster) ([]RedisNode, error) {
	var (
		mu    sync.Mutex
		nodes []RedisNode
	)
	err := c.ForEachNode(ctx, func(_ context.Context, n RedisNode) error {
		mu.Lock()
		nodes = append(nodes, n)
		mu.Unlock()
		return nil
	})
	return nodes, err
}
