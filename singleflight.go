package nostrclient

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"nostr-client/internal/cache"
	"nostr-client/internal/types"
)

// ProfileStore fronts the gateway's read endpoints with a TTL cache and
// singleflight deduplication: when multiple goroutines request the same
// pubkey or event id simultaneously, only one actually fetches while the
// others wait and share the result.
type ProfileStore struct {
	gateway *GatewayClient
	backend cache.Backend
	ttl     cache.Config
	metrics *Metrics

	profileGroup singleflight.Group
	eventGroup   singleflight.Group
}

// NewProfileStore creates a store over the gateway and cache backend.
func NewProfileStore(gateway *GatewayClient, backend cache.Backend, ttl cache.Config, metrics *Metrics) *ProfileStore {
	return &ProfileStore{
		gateway: gateway,
		backend: backend,
		ttl:     ttl,
		metrics: metrics,
	}
}

// notFoundSentinel marks a cached negative lookup. Short TTL so absent
// profiles are retried soon.
var notFoundSentinel = []byte("null")

// GetProfile returns the parsed profile for a pubkey, or nil when the
// gateway has none. Concurrent identical lookups collapse into one fetch.
func (s *ProfileStore) GetProfile(ctx context.Context, pubkey string) (*types.ProfileInfo, error) {
	cacheKey := "profile:" + pubkey

	// Check cache first (avoid singleflight overhead for cache hits)
	if data, ok, err := s.backend.Get(ctx, cacheKey); err == nil && ok {
		s.metrics.IncCacheHit()
		if string(data) == string(notFoundSentinel) {
			return nil, nil
		}
		var p types.ProfileInfo
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
	}
	s.metrics.IncCacheMiss()

	result, err, shared := s.profileGroup.Do(pubkey, func() (interface{}, error) {
		return s.fetchProfileDirect(ctx, pubkey, cacheKey)
	})
	if shared {
		slog.Debug("singleflight: shared profile fetch", "pubkey", shortID(pubkey))
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*types.ProfileInfo), nil
}

func (s *ProfileStore) fetchProfileDirect(ctx context.Context, pubkey, cacheKey string) (interface{}, error) {
	evt, err := s.gateway.GetProfile(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		s.backend.Set(ctx, cacheKey, notFoundSentinel, s.ttl.ProfileNotFoundTTL)
		return nil, nil
	}

	profile := types.ParseProfile(evt.Content)
	if profile == nil {
		s.backend.Set(ctx, cacheKey, notFoundSentinel, s.ttl.ProfileNotFoundTTL)
		return nil, nil
	}

	if data, err := json.Marshal(profile); err == nil {
		s.backend.Set(ctx, cacheKey, data, s.ttl.ProfileTTL)
	}
	return profile, nil
}

// GetEvent returns an event by id, or nil when the gateway has none.
func (s *ProfileStore) GetEvent(ctx context.Context, id string) (*types.Event, error) {
	cacheKey := "event:" + id

	if data, ok, err := s.backend.Get(ctx, cacheKey); err == nil && ok {
		s.metrics.IncCacheHit()
		if string(data) == string(notFoundSentinel) {
			return nil, nil
		}
		var evt types.Event
		if err := json.Unmarshal(data, &evt); err == nil {
			return &evt, nil
		}
	}
	s.metrics.IncCacheMiss()

	result, err, shared := s.eventGroup.Do(id, func() (interface{}, error) {
		evt, err := s.gateway.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		if evt == nil {
			s.backend.Set(ctx, cacheKey, notFoundSentinel, s.ttl.ProfileNotFoundTTL)
			return nil, nil
		}
		if data, err := json.Marshal(evt); err == nil {
			s.backend.Set(ctx, cacheKey, data, s.ttl.EventTTL)
		}
		return evt, nil
	})
	if shared {
		slog.Debug("singleflight: shared event fetch", "id", shortID(id))
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*types.Event), nil
}
