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
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Options configures BuildStore.
type Options struct {
	// Addrs are Redis addresses. One address means a standalone server unless
	// Cluster is set; several addresses always mean a cluster.
	Addrs    []string
	Cluster  bool
	Password string
	// Nodes is the number of simulated server nodes of the memory adapter.
	Nodes int
}

// ErrNoRedisAddr is returned when the redis adapter is selected without an
// address.
var ErrNoRedisAddr = errors.New("redis adapter requires at least one address")

// BuildStore constructs a Store from a string selector.
// Supported adapters:
//   - "memory": in-process store with Options.Nodes simulated nodes (default)
//   - "redis": standalone Redis or Redis Cluster at Options.Addrs
func BuildStore(adapter string, opts Options) (Store, error) {
	switch adapter {
	case "", "memory":
		return NewMemoryStore(opts.Nodes), nil
	case "redis":
		switch {
		case len(opts.Addrs) == 0:
			return nil, ErrNoRedisAddr
		case opts.Cluster || len(opts.Addrs) > 1:
			return NewRedisStore(NewGoRedisClusterClient(opts.Addrs, opts.Password)), nil
		default:
			return NewRedisStore(NewGoRedisClient(opts.Addrs[0], opts.Password)), nil
		}
	default:
		return nil, fmt.Errorf("unknown store adapter: %s", adapter)
	}
}

// Pinger is implemented by stores that can check connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

// PingBackOff is the retry schedule used by WaitReady.
func PingBackOff(attempts int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = 0
	return backoff.WithMaxRetries(eb, uint64(attempts))
}

// WaitReady pings the store until it answers, retrying with b. Stores that
// are not Pingers are ready immediately.
func WaitReady(ctx context.Context, s Store, b backoff.BackOff, logger logrus.FieldLogger) error {
	p, ok := s.(Pinger)
	if !ok {
		return nil
	}
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return p.Ping(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		if logger != nil {
			logger.WithField("action", "store_ping").WithField("attempt", attempt).
				WithField("retry_in", next).WithError(err).Warn("store not ready")
		}
	})
}
