package nostrclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nostr-client/internal/types"
)

// fakeRelay is a minimal in-process relay: it answers every REQ with one
// profile EVENT followed by EOSE, and records CLOSE frames.
type fakeRelay struct {
	srv *httptest.Server
	url string

	mu     sync.Mutex
	closes []string
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	fr := &fakeRelay{}
	upgrader := websocket.Upgrader{}
	fr.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg []interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if len(msg) < 2 {
				continue
			}
			verb, _ := msg[0].(string)
			subID, _ := msg[1].(string)
			switch verb {
			case "REQ":
				conn.WriteJSON([]interface{}{"EVENT", subID, map[string]interface{}{
					"id":         "evt1",
					"pubkey":     "alice",
					"created_at": 1700000000,
					"kind":       0,
					"tags":       []interface{}{},
					"content":    `{"name":"alice"}`,
				}})
				conn.WriteJSON([]interface{}{"EOSE", subID})
			case "CLOSE":
				fr.mu.Lock()
				fr.closes = append(fr.closes, subID)
				fr.mu.Unlock()
			}
		}
	}))
	t.Cleanup(fr.srv.Close)
	fr.url = "ws" + strings.TrimPrefix(fr.srv.URL, "http")
	return fr
}

func (fr *fakeRelay) closedSubs() []string {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return append([]string(nil), fr.closes...)
}

func TestPoolSubscribeDeliversEventAndEOSE(t *testing.T) {
	relay := newFakeRelay(t)
	pool := NewRelayPool(NewMetrics())
	defer pool.Shutdown()

	sub, err := pool.Subscribe(context.Background(), relay.url, "s1", types.Filter{
		Kinds:   []int{KindProfile},
		Authors: []string{"alice"},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case evt := <-sub.EventChan:
		if evt.ID != "evt1" || evt.PubKey != "alice" {
			t.Fatalf("wrong event delivered: %+v", evt)
		}
		if len(evt.RelaysSeen) != 1 || evt.RelaysSeen[0] != relay.url {
			t.Fatalf("relay attribution lost: %v", evt.RelaysSeen)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}

	select {
	case <-sub.EOSEChan:
	case <-time.After(2 * time.Second):
		t.Fatal("EOSE never delivered")
	}
}

func TestPoolReusesConnectionPerRelay(t *testing.T) {
	relay := newFakeRelay(t)
	pool := NewRelayPool(NewMetrics())
	defer pool.Shutdown()

	for _, subID := range []string{"s1", "s2"} {
		if _, err := pool.Subscribe(context.Background(), relay.url, subID, types.Filter{Kinds: []int{KindProfile}}); err != nil {
			t.Fatalf("Subscribe %s: %v", subID, err)
		}
	}
	if got := pool.ConnectionStats(); got != 1 {
		t.Fatalf("pool holds %d connections to one relay, want 1", got)
	}
}

func TestPoolUnsubscribeSendsClose(t *testing.T) {
	relay := newFakeRelay(t)
	pool := NewRelayPool(NewMetrics())
	defer pool.Shutdown()

	sub, err := pool.Subscribe(context.Background(), relay.url, "s1", types.Filter{Kinds: []int{KindProfile}})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pool.Unsubscribe(relay.url, sub)

	select {
	case <-sub.Done:
	default:
		t.Fatal("Done not closed after Unsubscribe")
	}
	waitFor(t, 2*time.Second, func() bool {
		for _, id := range relay.closedSubs() {
			if id == "s1" {
				return true
			}
		}
		return false
	}, "CLOSE frame to reach the relay")

	// Idempotent: a second Unsubscribe for the same subscription is a no-op.
	pool.Unsubscribe(relay.url, sub)
}

func TestPoolRejectsUnsafeRelayURLs(t *testing.T) {
	pool := NewRelayPool(NewMetrics())
	defer pool.Shutdown()

	for _, url := range []string{
		"http://relay.example.com",  // wrong scheme
		"ws://10.0.0.1:7777",        // private range
		"ws://169.254.169.254:7777", // metadata endpoint
		"ws://",                     // no host
	} {
		if _, err := pool.Subscribe(context.Background(), url, "s1", types.Filter{Kinds: []int{KindProfile}}); err == nil {
			t.Errorf("Subscribe accepted unsafe relay URL %q", url)
		}
	}
}

func TestPoolShutdownClosesConnections(t *testing.T) {
	relay := newFakeRelay(t)
	pool := NewRelayPool(NewMetrics())

	if _, err := pool.Subscribe(context.Background(), relay.url, "s1", types.Filter{Kinds: []int{KindProfile}}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	pool.Shutdown()

	if got := pool.ConnectionStats(); got != 0 {
		t.Fatalf("pool holds %d connections after Shutdown, want 0", got)
	}
}
