package nostrclient

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"nostr-client/internal/nostr"
	"nostr-client/internal/types"
)

// TokenCacheConfig holds the auth token cache tuning knobs.
type TokenCacheConfig struct {
	Validity      time.Duration // token validity window
	SweepInterval time.Duration // background expiry sweep interval
}

// DefaultTokenCacheConfig returns sensible defaults
func DefaultTokenCacheConfig() TokenCacheConfig {
	return TokenCacheConfig{
		Validity:      1 * time.Hour,
		SweepInterval: 15 * time.Minute,
	}
}

type tokenEntry struct {
	header    string
	createdAt time.Time
	expiresAt time.Time // always createdAt + validity
}

// expired is the single expiry predicate shared by the read path and the
// background sweep.
func (e *tokenEntry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// TokenCache produces and caches signed blob-authorization headers keyed by
// (content hash, target scope). Signing is expensive, so a hit within the
// validity window returns the cached header byte-for-byte.
type TokenCache struct {
	cfg     TokenCacheConfig
	signKey *btcec.PrivateKey // nil means no signing identity
	metrics *Metrics

	mu      sync.Mutex
	entries map[string]*tokenEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTokenCache creates the cache and starts its background sweep. signKey
// may be nil; GetOrCreate then reports no token, which callers treat as an
// expected condition rather than a failure.
func NewTokenCache(signKey *btcec.PrivateKey, cfg TokenCacheConfig, metrics *Metrics) *TokenCache {
	def := DefaultTokenCacheConfig()
	if cfg.Validity <= 0 {
		cfg.Validity = def.Validity
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	tc := &TokenCache{
		cfg:     cfg,
		signKey: signKey,
		metrics: metrics,
		entries: make(map[string]*tokenEntry),
		stopCh:  make(chan struct{}),
	}
	go tc.sweepLoop()
	return tc
}

// tokenKey builds the stable cache key over (content hash, scope).
func tokenKey(contentHash, scope string) string {
	h := sha256.New()
	h.Write([]byte(contentHash))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrCreate returns an authorization header for fetching the blob with
// the given content hash, scoped to a server URL when scope is non-empty.
// The second return is false when no signing identity is configured or
// signing fails; callers then proceed unauthenticated.
func (tc *TokenCache) GetOrCreate(contentHash, scope string) (string, bool) {
	if tc.signKey == nil {
		return "", false
	}

	key := tokenKey(contentHash, scope)
	now := time.Now()

	// The lock is held across signing: two concurrent misses for the
	// same key must not both sign, and every caller within a validity
	// window sees the same header bytes.
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if entry, ok := tc.entries[key]; ok && !entry.expired(now) {
		tc.metrics.IncTokenCacheHits()
		return entry.header, true
	}

	header, ok := tc.buildToken(contentHash, scope, now)
	if !ok {
		return "", false
	}
	tc.entries[key] = &tokenEntry{
		header:    header,
		createdAt: now,
		expiresAt: now.Add(tc.cfg.Validity),
	}
	return header, true
}

// buildToken signs a blob-auth event and encodes it as a header value:
// "Nostr <base64(event json)>".
func (tc *TokenCache) buildToken(contentHash, scope string, now time.Time) (string, bool) {
	expiration := now.Add(tc.cfg.Validity).Unix()
	tags := [][]string{
		{"t", "get"},
		{"x", contentHash},
		{"expiration", strconv.FormatInt(expiration, 10)},
	}
	if scope != "" {
		tags = append(tags, []string{"server", scope})
	}

	evt := &types.Event{
		Kind:      KindBlobAuth,
		CreatedAt: now.Unix(),
		Tags:      tags,
		Content:   "",
	}
	if err := nostr.SignEvent(tc.signKey, evt); err != nil {
		slog.Warn("token cache: signing failed", "hash", nostr.ShortID(contentHash), "error", err)
		return "", false
	}

	data, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("token cache: event encoding failed", "error", err)
		return "", false
	}

	tc.metrics.IncTokensSigned()
	return "Nostr " + base64.StdEncoding.EncodeToString(data), true
}

// Clear drops all entries immediately; used on identity changes (logout).
func (tc *TokenCache) Clear() {
	tc.mu.Lock()
	tc.entries = make(map[string]*tokenEntry)
	tc.mu.Unlock()
	slog.Debug("token cache: cleared")
}

// Len returns the number of cached tokens, expired or not.
func (tc *TokenCache) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.entries)
}

// Close stops the background sweep.
func (tc *TokenCache) Close() {
	tc.stopOnce.Do(func() {
		close(tc.stopCh)
	})
}

func (tc *TokenCache) sweepLoop() {
	ticker := time.NewTicker(tc.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-tc.stopCh:
			return
		case <-ticker.C:
			tc.sweep()
		}
	}
}

// sweep removes expired entries regardless of lookup traffic, so the cache
// stays bounded even for keys that are never read again.
func (tc *TokenCache) sweep() {
	now := time.Now()
	removed := 0
	tc.mu.Lock()
	for key, entry := range tc.entries {
		if entry.expired(now) {
			delete(tc.entries, key)
			removed++
		}
	}
	remaining := len(tc.entries)
	tc.mu.Unlock()

	if removed > 0 {
		slog.Debug("token cache: sweep", "removed", removed, "remaining", remaining)
	}
}
