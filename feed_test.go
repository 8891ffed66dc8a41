package nostrclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nostr-client/internal/cache"
	"nostr-client/internal/nostr"
)

func newTestFeedService(t *testing.T, signKeyHex string) (*FeedService, *fakeSource) {
	t.Helper()
	source := &fakeSource{}
	metrics := NewMetrics()
	manager := NewSubscriptionManager(source, ManagerConfig{BatchWindow: 20 * time.Millisecond}, metrics)
	t.Cleanup(manager.Close)

	backend := cache.NewMemoryCache(100, time.Minute)
	t.Cleanup(func() { backend.Close() })
	profiles := NewProfileStore(NewGatewayClient("http://gateway.invalid", metrics), backend, cache.DefaultConfig(), metrics)

	signKey, _ := nostr.ParsePrivateKey(signKeyHex) // nil without a key hex
	tokens := NewTokenCache(signKey, TokenCacheConfig{}, metrics)
	t.Cleanup(tokens.Close)

	return NewFeedService(manager, profiles, tokens, metrics), source
}

func TestWatchVideoFeedBuildsHashtagFilter(t *testing.T) {
	svc, source := newTestFeedService(t, "")

	id, err := svc.WatchVideoFeed([]string{"bitcoin", "nostr", "bitcoin"}, 0, SubscriptionCallbacks{})
	if err != nil {
		t.Fatalf("WatchVideoFeed: %v", err)
	}
	if id == "" {
		t.Fatal("empty watch id")
	}

	filter := source.stream(0).filter
	if len(filter.Kinds) != 1 || filter.Kinds[0] != KindVideo {
		t.Fatalf("filter kinds = %v, want [%d]", filter.Kinds, KindVideo)
	}
	if len(filter.TTags) != 2 {
		t.Fatalf("hashtags not deduplicated: %v", filter.TTags)
	}
	if filter.Limit != 20 {
		t.Fatalf("default limit = %d, want 20", filter.Limit)
	}
}

func TestWatchVideoFeedRequiresHashtags(t *testing.T) {
	svc, _ := newTestFeedService(t, "")
	if _, err := svc.WatchVideoFeed(nil, 10, SubscriptionCallbacks{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWatchAuthorVideosBuildsAuthorFilter(t *testing.T) {
	svc, source := newTestFeedService(t, "")

	if _, err := svc.WatchAuthorVideos([]string{"alice", "bob"}, 5, SubscriptionCallbacks{}); err != nil {
		t.Fatalf("WatchAuthorVideos: %v", err)
	}

	filter := source.stream(0).filter
	if len(filter.Authors) != 2 {
		t.Fatalf("filter authors = %v", filter.Authors)
	}
	if filter.Limit != 5 {
		t.Fatalf("limit = %d, want 5", filter.Limit)
	}
}

func TestRequestProfileQueues(t *testing.T) {
	svc, source := newTestFeedService(t, "")

	svc.RequestProfile("alice", SubscriptionCallbacks{})
	svc.RequestProfile("alice", SubscriptionCallbacks{})

	waitFor(t, time.Second, func() bool { return source.subscribeCount() == 1 }, "coalesced profile request flush")
	filter := source.stream(0).filter
	if len(filter.Authors) != 1 || filter.Authors[0] != "alice" {
		t.Fatalf("batch filter authors = %v", filter.Authors)
	}
}

func TestCancelWatch(t *testing.T) {
	svc, _ := newTestFeedService(t, "")

	id, err := svc.WatchVideoFeed([]string{"music"}, 10, SubscriptionCallbacks{})
	if err != nil {
		t.Fatalf("WatchVideoFeed: %v", err)
	}
	svc.CancelWatch(id)
	svc.CancelWatch(id) // idempotent
	if svc.manager.HasSubscription(id) {
		t.Fatal("watch survived cancel")
	}
}

func TestFetchBlobAttachesAuthHeader(t *testing.T) {
	svc, _ := newTestFeedService(t, testPrivKeyHex)

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("blob-bytes"))
	}))
	defer srv.Close()

	data, err := svc.FetchBlob(context.Background(), srv.URL+"/"+testContentHash, testContentHash)
	if err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	if string(data) != "blob-bytes" {
		t.Fatalf("blob payload = %q", data)
	}
	if !strings.HasPrefix(gotAuth, "Nostr ") {
		t.Fatalf("Authorization = %q, want Nostr scheme", gotAuth)
	}
}

func TestFetchBlobUnauthenticatedWithoutKey(t *testing.T) {
	svc, _ := newTestFeedService(t, "")

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if _, err := svc.FetchBlob(context.Background(), srv.URL+"/"+testContentHash, testContentHash); err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("unauthenticated fetch sent Authorization %q", gotAuth)
	}
}

func TestFetchBlobErrorStatus(t *testing.T) {
	svc, _ := newTestFeedService(t, "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := svc.FetchBlob(context.Background(), srv.URL+"/x", "x"); err == nil {
		t.Fatal("403 fetch reported success")
	}
}
