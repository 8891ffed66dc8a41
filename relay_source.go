package nostrclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"nostr-client/internal/nostr"
	"nostr-client/internal/types"
)

// EventSource opens streaming queries on a transport. The subscription
// manager only depends on this interface; RelaySource is the production
// implementation and tests substitute their own.
type EventSource interface {
	Subscribe(ctx context.Context, subID string, filter types.Filter) (*EventStream, error)
}

// EventStream is one live query: events are delivered in transport order
// until Done is closed. Close cancels the upstream query; it is safe to
// call more than once.
type EventStream struct {
	Events <-chan types.Event
	EOSE   <-chan bool
	Done   <-chan struct{}

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// Close cancels the stream.
func (s *EventStream) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// RelaySource fans a single logical subscription out to every configured
// relay and merges the results: events are deduplicated by event ID across
// relays, and one aggregate EOSE is emitted once every live relay has sent
// its own.
type RelaySource struct {
	pool   *RelayPool
	relays []string
}

// NewRelaySource creates an EventSource over the pool and relay list.
// Malformed relay URLs are dropped up front rather than failing every
// subscribe attempt later.
func NewRelaySource(pool *RelayPool, relays []string) *RelaySource {
	var normalized []string
	for _, relay := range relays {
		if clean := nostr.NormalizeRelayURL(relay); clean != "" {
			normalized = append(normalized, clean)
		} else {
			slog.Warn("source: dropping invalid relay URL", "relay", relay)
		}
	}
	return &RelaySource{pool: pool, relays: normalized}
}

// Subscribe opens the query on every relay. It fails only when no relay
// accepts the subscription.
func (s *RelaySource) Subscribe(ctx context.Context, subID string, filter types.Filter) (*EventStream, error) {
	if len(s.relays) == 0 {
		return nil, fmt.Errorf("%w: no relays configured", ErrConnectionUnavailable)
	}

	ctx, cancel := context.WithCancel(ctx)

	type relaySub struct {
		url string
		sub *RelaySubscription
	}
	var subs []relaySub
	for _, relay := range s.relays {
		sub, err := s.pool.Subscribe(ctx, relay, subID, filter)
		if err != nil {
			slog.Debug("source: relay subscribe failed", "relay", relay, "error", err)
			continue
		}
		subs = append(subs, relaySub{url: relay, sub: sub})
	}
	if len(subs) == 0 {
		cancel()
		return nil, fmt.Errorf("%w: all relays refused the subscription", ErrConnectionUnavailable)
	}

	events := make(chan types.Event, 100)
	eose := make(chan bool, 1)
	done := make(chan struct{})

	// Raw fan-in channel fed by one goroutine per relay
	raw := make(chan types.Event, 100)
	eoseCh := make(chan string, len(subs))

	var wg sync.WaitGroup
	for _, rs := range subs {
		wg.Add(1)
		go func(rs relaySub) {
			defer wg.Done()
			sentEOSE := false
			for {
				select {
				case <-ctx.Done():
					return
				case <-rs.sub.Done:
					return
				case evt := <-rs.sub.EventChan:
					select {
					case raw <- evt:
					case <-ctx.Done():
						return
					}
				case <-rs.sub.EOSEChan:
					if !sentEOSE {
						sentEOSE = true
						eoseCh <- rs.url
					}
					// Keep listening after EOSE
				}
			}
		}(rs)
	}

	go func() {
		wg.Wait()
		close(raw)
	}()

	// Merge loop: dedupe across relays, aggregate EOSE, close Done when
	// every relay leg has finished or the stream is cancelled.
	go func() {
		defer func() {
			for _, rs := range subs {
				s.pool.Unsubscribe(rs.url, rs.sub)
			}
			close(done)
		}()

		seenIDs := make(map[string]bool)
		eoseCount := 0
		for {
			select {
			case <-ctx.Done():
				return
			case relayURL, ok := <-eoseCh:
				if !ok {
					continue
				}
				eoseCount++
				slog.Debug("source: EOSE received", "relay", relayURL, "count", eoseCount, "total", len(subs))
				if eoseCount == len(subs) {
					select {
					case eose <- true:
					default:
					}
				}
			case evt, ok := <-raw:
				if !ok {
					return
				}
				if seenIDs[evt.ID] {
					continue
				}
				seenIDs[evt.ID] = true
				select {
				case events <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &EventStream{
		Events: events,
		EOSE:   eose,
		Done:   done,
		cancel: cancel,
	}, nil
}
