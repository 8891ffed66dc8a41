package nostrclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"nostr-client/internal/types"
	"nostr-client/internal/util"
)

// FeedService turns domain queries (video feeds, profile lookups, blob
// fetches) into protocol filters and feeds them to the subscription
// manager, the gateway and the token cache.
type FeedService struct {
	manager  *SubscriptionManager
	profiles *ProfileStore
	tokens   *TokenCache
	client   *http.Client
	metrics  *Metrics
}

// NewFeedService wires the query layer's entry points together.
func NewFeedService(manager *SubscriptionManager, profiles *ProfileStore, tokens *TokenCache, metrics *Metrics) *FeedService {
	return &FeedService{
		manager:  manager,
		profiles: profiles,
		tokens:   tokens,
		client:   &http.Client{Timeout: 30 * time.Second},
		metrics:  metrics,
	}
}

// WatchVideoFeed opens a live subscription for video events tagged with any
// of the given hashtags. limit <= 0 asks for a default page of 20.
func (s *FeedService) WatchVideoFeed(hashtags []string, limit int, cbs SubscriptionCallbacks) (string, error) {
	if len(hashtags) == 0 {
		return "", ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 20
	}
	filter := types.Filter{
		Kinds: []int{KindVideo},
		TTags: util.DedupeStrings(hashtags),
		Limit: limit,
	}
	return s.manager.CreateFilterSubscription(filter, cbs, 0)
}

// WatchAuthorVideos opens a live subscription for video events by the given
// authors.
func (s *FeedService) WatchAuthorVideos(pubkeys []string, limit int, cbs SubscriptionCallbacks) (string, error) {
	if len(pubkeys) == 0 {
		return "", ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 20
	}
	filter := types.Filter{
		Kinds:   []int{KindVideo},
		Authors: util.DedupeStrings(pubkeys),
		Limit:   limit,
	}
	return s.manager.CreateFilterSubscription(filter, cbs, 0)
}

// WatchProfiles opens a live kind-0 subscription for the given pubkeys.
func (s *FeedService) WatchProfiles(pubkeys []string, cbs SubscriptionCallbacks) (string, error) {
	return s.manager.CreateSubscription(util.DedupeStrings(pubkeys), cbs, 0)
}

// RequestProfile enqueues a coalescable profile request; overlapping
// requests within the batch window share one wire subscription.
func (s *FeedService) RequestProfile(pubkey string, cbs SubscriptionCallbacks) {
	s.manager.QueueRequest(pubkey, cbs)
}

// LookupProfile resolves a profile through the gateway read path (cache,
// then singleflight, then HTTP). Returns nil when the profile is unknown.
func (s *FeedService) LookupProfile(ctx context.Context, pubkey string) (*types.ProfileInfo, error) {
	return s.profiles.GetProfile(ctx, pubkey)
}

// LookupEvent resolves a single event through the gateway read path.
func (s *FeedService) LookupEvent(ctx context.Context, id string) (*types.Event, error) {
	return s.profiles.GetEvent(ctx, id)
}

// FetchBlob downloads a content-addressed blob, attaching a signed
// authorization header when a signing identity is available. A missing
// token is not an error: the fetch proceeds unauthenticated and the server
// decides whether to allow it.
func (s *FeedService) FetchBlob(ctx context.Context, blobURL, contentHash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build blob request: %w", err)
	}

	if header, ok := s.tokens.GetOrCreate(contentHash, blobURL); ok {
		req.Header.Set("Authorization", header)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob server returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// CancelWatch cancels a previously opened watch. Idempotent.
func (s *FeedService) CancelWatch(id string) {
	s.manager.CancelSubscription(id)
}
