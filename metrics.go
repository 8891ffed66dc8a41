package nostrclient

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Metrics holds counters shared by the client components. Each component
// receives a *Metrics at construction; a nil receiver disables counting so
// callers can opt out entirely.
type Metrics struct {
	subscriptionsCreated  atomic.Int64
	subscriptionsEvicted  atomic.Int64
	subscriptionsTimedOut atomic.Int64
	subscriptionsFailed   atomic.Int64

	requestsQueued    atomic.Int64
	requestsCoalesced atomic.Int64
	batchesFlushed    atomic.Int64

	gatewayRequests atomic.Int64
	gatewayErrors   atomic.Int64
	gatewayHits     atomic.Int64

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	tokensSigned   atomic.Int64
	tokenCacheHits atomic.Int64

	eventsDelivered atomic.Int64
	eventsDropped   atomic.Int64
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Each Inc method checks the receiver before touching a field: taking a
// field address on a nil *Metrics would fault before any shared helper
// could run its own check.

func (m *Metrics) IncSubscriptionsCreated() {
	if m == nil {
		return
	}
	m.subscriptionsCreated.Add(1)
}

func (m *Metrics) IncSubscriptionsEvicted() {
	if m == nil {
		return
	}
	m.subscriptionsEvicted.Add(1)
}

func (m *Metrics) IncSubscriptionsTimedOut() {
	if m == nil {
		return
	}
	m.subscriptionsTimedOut.Add(1)
}

func (m *Metrics) IncSubscriptionsFailed() {
	if m == nil {
		return
	}
	m.subscriptionsFailed.Add(1)
}

func (m *Metrics) IncRequestsQueued() {
	if m == nil {
		return
	}
	m.requestsQueued.Add(1)
}

func (m *Metrics) IncRequestsCoalesced() {
	if m == nil {
		return
	}
	m.requestsCoalesced.Add(1)
}

func (m *Metrics) IncBatchesFlushed() {
	if m == nil {
		return
	}
	m.batchesFlushed.Add(1)
}

func (m *Metrics) IncGatewayRequests() {
	if m == nil {
		return
	}
	m.gatewayRequests.Add(1)
}

func (m *Metrics) IncGatewayErrors() {
	if m == nil {
		return
	}
	m.gatewayErrors.Add(1)
}

func (m *Metrics) IncGatewayHits() {
	if m == nil {
		return
	}
	m.gatewayHits.Add(1)
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Add(1)
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Add(1)
}

func (m *Metrics) IncTokensSigned() {
	if m == nil {
		return
	}
	m.tokensSigned.Add(1)
}

func (m *Metrics) IncTokenCacheHits() {
	if m == nil {
		return
	}
	m.tokenCacheHits.Add(1)
}

func (m *Metrics) IncEventsDelivered() {
	if m == nil {
		return
	}
	m.eventsDelivered.Add(1)
}

func (m *Metrics) IncEventsDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Add(1)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	SubscriptionsCreated  int64
	SubscriptionsEvicted  int64
	SubscriptionsTimedOut int64
	SubscriptionsFailed   int64
	RequestsQueued        int64
	RequestsCoalesced     int64
	BatchesFlushed        int64
	GatewayRequests       int64
	GatewayErrors         int64
	GatewayHits           int64
	CacheHits             int64
	CacheMisses           int64
	TokensSigned          int64
	TokenCacheHits        int64
	EventsDelivered       int64
	EventsDropped         int64
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		SubscriptionsCreated:  m.subscriptionsCreated.Load(),
		SubscriptionsEvicted:  m.subscriptionsEvicted.Load(),
		SubscriptionsTimedOut: m.subscriptionsTimedOut.Load(),
		SubscriptionsFailed:   m.subscriptionsFailed.Load(),
		RequestsQueued:        m.requestsQueued.Load(),
		RequestsCoalesced:     m.requestsCoalesced.Load(),
		BatchesFlushed:        m.batchesFlushed.Load(),
		GatewayRequests:       m.gatewayRequests.Load(),
		GatewayErrors:         m.gatewayErrors.Load(),
		GatewayHits:           m.gatewayHits.Load(),
		CacheHits:             m.cacheHits.Load(),
		CacheMisses:           m.cacheMisses.Load(),
		TokensSigned:          m.tokensSigned.Load(),
		TokenCacheHits:        m.tokenCacheHits.Load(),
		EventsDelivered:       m.eventsDelivered.Load(),
		EventsDropped:         m.eventsDropped.Load(),
	}
}

// WriteTo writes the counters in Prometheus text exposition format.
func (m *Metrics) WriteTo(w io.Writer) (int64, error) {
	s := m.Snapshot()
	var total int64

	write := func(name, help, typ string, value int64) error {
		n, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", name, help, name, typ, name, value)
		total += int64(n)
		return err
	}

	rows := []struct {
		name, help string
		value      int64
	}{
		{"nostr_subscriptions_created_total", "Subscriptions opened", s.SubscriptionsCreated},
		{"nostr_subscriptions_evicted_total", "Subscriptions evicted at the concurrency cap", s.SubscriptionsEvicted},
		{"nostr_subscriptions_timedout_total", "Subscriptions ended by their timeout", s.SubscriptionsTimedOut},
		{"nostr_subscriptions_failed_total", "Subscriptions that failed to open", s.SubscriptionsFailed},
		{"nostr_requests_queued_total", "Requests enqueued for coalescing", s.RequestsQueued},
		{"nostr_requests_coalesced_total", "Duplicate requests merged into pending ones", s.RequestsCoalesced},
		{"nostr_batches_flushed_total", "Coalescing batches drained", s.BatchesFlushed},
		{"nostr_gateway_requests_total", "Gateway HTTP requests", s.GatewayRequests},
		{"nostr_gateway_errors_total", "Gateway HTTP failures", s.GatewayErrors},
		{"nostr_gateway_cache_hits_total", "Gateway responses served from its cache", s.GatewayHits},
		{"cache_hits_total", "Local cache hits", s.CacheHits},
		{"cache_misses_total", "Local cache misses", s.CacheMisses},
		{"nostr_tokens_signed_total", "Auth tokens signed", s.TokensSigned},
		{"nostr_token_cache_hits_total", "Auth tokens served from cache", s.TokenCacheHits},
		{"nostr_events_delivered_total", "Events delivered to callbacks", s.EventsDelivered},
		{"nostr_events_dropped_total", "Events dropped due to full channels", s.EventsDropped},
	}
	for _, row := range rows {
		if err := write(row.name, row.help, "counter", row.value); err != nil {
			return total, err
		}
	}
	return total, nil
}
