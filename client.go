// Package nostrclient is the client-side query layer for a Nostr-based
// application: it coalesces overlapping requests into a bounded set of
// wire-level subscriptions, tracks their lifecycle, and fronts the REST
// gateway and blob servers with short-TTL caches.
package nostrclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"nostr-client/internal/cache"
	"nostr-client/internal/config"
	"nostr-client/internal/nostr"
)

// Client wires the query layer together: relay pool, subscription manager,
// gateway client, profile store, token cache and feed service.
type Client struct {
	Metrics  *Metrics
	Pool     *RelayPool
	Source   *RelaySource
	Manager  *SubscriptionManager
	Gateway  *GatewayClient
	Profiles *ProfileStore
	Tokens   *TokenCache
	Feed     *FeedService

	backend cache.Backend
}

// New builds a client from configuration. The signing key is optional;
// without one authenticated blob fetches degrade to unauthenticated.
func New(cfg *config.ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = config.Get()
	}

	metrics := NewMetrics()

	pool := NewRelayPool(metrics)
	source := NewRelaySource(pool, cfg.Relays)
	manager := NewSubscriptionManager(source, ManagerConfig{
		MaxSubscriptions: cfg.MaxSubscriptions,
		Timeout:          cfg.SubscriptionTimeout(),
		BatchWindow:      cfg.BatchWindow(),
		MaxBatchSize:     cfg.MaxBatchSize,
	}, metrics)

	gateway := NewGatewayClient(cfg.GatewayURL, metrics)
	backend := newCacheBackend(cfg)
	profiles := NewProfileStore(gateway, backend, cache.DefaultConfig(), metrics)

	var signKey *btcec.PrivateKey
	if cfg.PrivateKey != "" {
		key, err := nostr.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			pool.Shutdown()
			backend.Close()
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		signKey = key
	}
	tokens := NewTokenCache(signKey, TokenCacheConfig{
		Validity:      cfg.TokenTTL(),
		SweepInterval: cfg.TokenSweepInterval(),
	}, metrics)

	feed := NewFeedService(manager, profiles, tokens, metrics)

	return &Client{
		Metrics:  metrics,
		Pool:     pool,
		Source:   source,
		Manager:  manager,
		Gateway:  gateway,
		Profiles: profiles,
		Tokens:   tokens,
		Feed:     feed,
		backend:  backend,
	}, nil
}

// newCacheBackend selects redis when configured, falling back to memory.
func newCacheBackend(cfg *config.ClientConfig) cache.Backend {
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, "nostr:")
		if err == nil {
			slog.Info("redis cache initialized")
			return redisCache
		}
		slog.Warn("redis connection failed, using memory cache", "error", err)
	}
	return cache.NewMemoryCache(10000, 2*time.Minute)
}

// Close tears the client down: cancels all subscriptions, closes relay
// connections, and stops background sweeps.
func (c *Client) Close() {
	c.Manager.Close()
	c.Pool.Shutdown()
	c.Tokens.Close()
	c.backend.Close()
	slog.Debug("client closed")
}
