// Package config loads the client configuration from a JSON file with
// environment overrides.
package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ClientConfig represents the client.json configuration for the query layer
type ClientConfig struct {
	Relays     []string `json:"relays"`     // Relay websocket URLs
	GatewayURL string   `json:"gatewayUrl"` // Cache-fronted REST gateway base URL
	RedisURL   string   `json:"redisUrl"`   // Optional shared cache backend

	MaxSubscriptions   int `json:"maxSubscriptions"`   // Concurrency cap (default 10)
	SubscriptionTTLSec int `json:"subscriptionTtlSec"` // Subscription timeout (default 600)
	BatchWindowMs      int `json:"batchWindowMs"`      // Request coalescing debounce (default 100)
	MaxBatchSize       int `json:"maxBatchSize"`       // Max queued requests per drain (default 20)
	TokenTTLSec        int `json:"tokenTtlSec"`        // Auth token validity (default 3600)
	TokenSweepSec      int `json:"tokenSweepSec"`      // Auth cache sweep interval (default 900)

	PrivateKey string `json:"privateKey"` // Hex signing key; empty means unauthenticated
}

var (
	clientConfig     *ClientConfig
	clientConfigMu   sync.RWMutex
	clientConfigOnce sync.Once
)

// Get returns the current client configuration (thread-safe)
func Get() *ClientConfig {
	clientConfigOnce.Do(func() {
		clientConfigMu.Lock()
		defer clientConfigMu.Unlock()
		if clientConfig == nil {
			clientConfig = loadFromFile()
		}
	})

	clientConfigMu.RLock()
	defer clientConfigMu.RUnlock()
	return clientConfig
}

// Reload reloads the configuration from file
func Reload() error {
	newConfig := loadFromFile()
	clientConfigMu.Lock()
	defer clientConfigMu.Unlock()
	clientConfig = newConfig
	slog.Info("client configuration reloaded", "relays", len(newConfig.Relays))
	return nil
}

func loadFromFile() *ClientConfig {
	configPath := os.Getenv("CLIENT_CONFIG")
	if configPath == "" {
		configPath = "config/client.json"
	}

	config := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("client config file not found, using defaults", "path", configPath)
		} else {
			slog.Warn("could not read client config, using defaults", "path", configPath, "error", err)
		}
	} else if err := json.Unmarshal(data, config); err != nil {
		slog.Error("invalid JSON in client config, using defaults", "path", configPath, "error", err)
		config = Default()
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	slog.Info("loaded client configuration",
		"relays", len(config.Relays),
		"gateway", config.GatewayURL,
		"max_subscriptions", config.MaxSubscriptions)

	return config
}

func applyEnvOverrides(c *ClientConfig) {
	if url := os.Getenv("GATEWAY_URL"); url != "" {
		c.GatewayURL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.RedisURL = url
	}
	if key := os.Getenv("NOSTR_PRIVATE_KEY"); key != "" {
		c.PrivateKey = key
	}
}

func applyDefaults(c *ClientConfig) {
	d := Default()
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = d.MaxSubscriptions
	}
	if c.SubscriptionTTLSec <= 0 {
		c.SubscriptionTTLSec = d.SubscriptionTTLSec
	}
	if c.BatchWindowMs <= 0 {
		c.BatchWindowMs = d.BatchWindowMs
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.TokenTTLSec <= 0 {
		c.TokenTTLSec = d.TokenTTLSec
	}
	if c.TokenSweepSec <= 0 {
		c.TokenSweepSec = d.TokenSweepSec
	}
	if len(c.Relays) == 0 {
		c.Relays = d.Relays
	}
	if c.GatewayURL == "" {
		c.GatewayURL = d.GatewayURL
	}
}

// Default returns the embedded default configuration
func Default() *ClientConfig {
	return &ClientConfig{
		Relays:             []string{"wss://relay.damus.io", "wss://nos.lol"},
		GatewayURL:         "https://gateway.divine.video",
		MaxSubscriptions:   10,
		SubscriptionTTLSec: 600,
		BatchWindowMs:      100,
		MaxBatchSize:       20,
		TokenTTLSec:        3600,
		TokenSweepSec:      900,
	}
}

// SubscriptionTimeout returns the subscription timeout as a duration.
func (c *ClientConfig) SubscriptionTimeout() time.Duration {
	return time.Duration(c.SubscriptionTTLSec) * time.Second
}

// BatchWindow returns the coalescing debounce window as a duration.
func (c *ClientConfig) BatchWindow() time.Duration {
	return time.Duration(c.BatchWindowMs) * time.Millisecond
}

// TokenTTL returns the auth token validity window as a duration.
func (c *ClientConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSec) * time.Second
}

// TokenSweepInterval returns the auth cache sweep interval as a duration.
func (c *ClientConfig) TokenSweepInterval() time.Duration {
	return time.Duration(c.TokenSweepSec) * time.Second
}
