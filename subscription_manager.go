package nostrclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"nostr-client/internal/types"
	"nostr-client/internal/util"
)

// SubscriptionCallbacks carries the per-subscription delivery hooks. Only
// OnEvent is required; nil hooks are skipped.
//
// OnEvent runs on the subscription's delivery goroutine. Cancelling the
// same subscription from inside OnEvent must happen asynchronously
// (go CancelSubscription(id)): a synchronous cancel waits for the
// in-flight delivery and would block on its own callback.
type SubscriptionCallbacks struct {
	OnEvent    func(types.Event)
	OnError    func(error)
	OnComplete func()
}

// ManagerConfig holds the subscription manager tuning knobs.
type ManagerConfig struct {
	MaxSubscriptions int           // concurrency cap; oldest is evicted beyond it
	Timeout          time.Duration // hard deadline from subscription creation
	BatchWindow      time.Duration // coalescing debounce, level-reset on enqueue
	MaxBatchSize     int           // queue length that forces an immediate drain
}

// DefaultManagerConfig returns sensible defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxSubscriptions: 10,
		Timeout:          10 * time.Minute,
		BatchWindow:      100 * time.Millisecond,
		MaxBatchSize:     20,
	}
}

// terminalReason classifies how a subscription ended. Exactly one terminal
// transition happens per subscription; which callbacks fire depends on it.
type terminalReason int

const (
	reasonCancelled terminalReason = iota // explicit cancel: no callbacks
	reasonEvicted                         // cap eviction: no callbacks
	reasonTimeout                         // deadline: completion path
	reasonComplete                        // upstream finished: completion path
)

// pendingRequest is one queued coalescable request, keyed by target pubkey.
type pendingRequest struct {
	key string
	cbs SubscriptionCallbacks
}

// managedSubscription is one active subscription owned by the manager. The
// transport stream is owned by this entity and released exactly once on any
// terminal path.
type managedSubscription struct {
	id        string
	seq       uint64 // creation order; eviction tie-break
	createdAt time.Time
	identity  string   // canonical filter encoding, for duplicate detection
	keys      []string // queued keys absorbed into this subscription, if any
	cbs       SubscriptionCallbacks

	mu       sync.Mutex // guards stream/timer handoff during creation
	stream   *EventStream
	timer    *time.Timer
	finished atomic.Bool
	terminal sync.Once

	// deliverMu is held across each event delivery (finished check plus
	// callback). finish takes it as a barrier after setting finished, so
	// no OnEvent invocation can begin once a cancel has returned.
	deliverMu sync.Mutex
}

// SubscriptionManager owns the set of active subscriptions, the request
// coalescing queue, the concurrency cap with oldest-eviction, and the
// per-subscription timeout timers.
type SubscriptionManager struct {
	cfg     ManagerConfig
	source  EventSource
	metrics *Metrics

	mu         sync.Mutex
	subs       map[string]*managedSubscription
	seq        uint64
	queue      []*pendingRequest
	requested  map[string]bool
	batchTimer *time.Timer
	closed     bool
}

// NewSubscriptionManager creates a manager over the given transport.
func NewSubscriptionManager(source EventSource, cfg ManagerConfig, metrics *Metrics) *SubscriptionManager {
	def := DefaultManagerConfig()
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = def.MaxSubscriptions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = def.BatchWindow
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	return &SubscriptionManager{
		cfg:       cfg,
		source:    source,
		metrics:   metrics,
		subs:      make(map[string]*managedSubscription),
		requested: make(map[string]bool),
	}
}

// CreateSubscription opens a profile-class subscription for the target
// pubkeys. timeout <= 0 uses the configured default. Returns the new
// subscription id, or the id of an identical in-flight subscription along
// with ErrDuplicateRequest so the caller can await the existing one.
func (m *SubscriptionManager) CreateSubscription(targets []string, cbs SubscriptionCallbacks, timeout time.Duration) (string, error) {
	if len(targets) == 0 {
		return "", ErrInvalidArgument
	}
	filter := types.Filter{
		Kinds:   []int{KindProfile},
		Authors: targets,
		Limit:   len(targets),
	}
	return m.create(filter, cbs, timeout, nil)
}

// CreateFilterSubscription opens a subscription for an arbitrary filter.
// Used by higher layers for non-author queries (e.g. hashtag video feeds).
func (m *SubscriptionManager) CreateFilterSubscription(filter types.Filter, cbs SubscriptionCallbacks, timeout time.Duration) (string, error) {
	if len(filter.Authors) == 0 && len(filter.IDs) == 0 && len(filter.Kinds) == 0 &&
		len(filter.ETags) == 0 && len(filter.PTags) == 0 && len(filter.TTags) == 0 &&
		len(filter.HTags) == 0 && len(filter.DTags) == 0 {
		return "", ErrInvalidArgument
	}
	return m.create(filter, cbs, timeout, nil)
}

// subscriptionIdentity builds a stable key for duplicate detection: the
// canonical filter JSON with all collections sorted.
func subscriptionIdentity(f types.Filter) string {
	canonical := f
	canonical.IDs = util.SortedCopy(f.IDs)
	canonical.Authors = util.SortedCopy(f.Authors)
	canonical.ETags = util.SortedCopy(f.ETags)
	canonical.PTags = util.SortedCopy(f.PTags)
	canonical.TTags = util.SortedCopy(f.TTags)
	canonical.HTags = util.SortedCopy(f.HTags)
	canonical.DTags = util.SortedCopy(f.DTags)
	data, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	return string(data)
}

func (m *SubscriptionManager) create(filter types.Filter, cbs SubscriptionCallbacks, timeout time.Duration, keys []string) (string, error) {
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}
	identity := subscriptionIdentity(filter)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrConnectionUnavailable
	}

	for _, s := range m.subs {
		if s.identity == identity {
			id := s.id
			m.mu.Unlock()
			return id, ErrDuplicateRequest
		}
	}

	// At the cap: evict the single oldest active subscription. Ties on
	// creation time break toward the earlier-created (lower sequence).
	if len(m.subs) >= m.cfg.MaxSubscriptions {
		var oldest *managedSubscription
		for _, s := range m.subs {
			if oldest == nil ||
				s.createdAt.Before(oldest.createdAt) ||
				(s.createdAt.Equal(oldest.createdAt) && s.seq < oldest.seq) {
				oldest = s
			}
		}
		if oldest != nil {
			delete(m.subs, oldest.id)
			m.mu.Unlock()
			m.finish(oldest, reasonEvicted)
			m.metrics.IncSubscriptionsEvicted()
			slog.Debug("manager: evicted oldest subscription", "id", oldest.id)
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				return "", ErrConnectionUnavailable
			}
		}
	}

	m.seq++
	sub := &managedSubscription{
		id:        "sub-" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatUint(m.seq, 10),
		seq:       m.seq,
		createdAt: time.Now(),
		identity:  identity,
		keys:      keys,
		cbs:       cbs,
	}
	// Reserve the slot before the subscribe I/O so concurrent creates see
	// the cap correctly.
	m.subs[sub.id] = sub
	m.mu.Unlock()

	stream, err := m.source.Subscribe(context.Background(), sub.id, filter)
	if err != nil {
		m.mu.Lock()
		delete(m.subs, sub.id)
		m.mu.Unlock()
		m.metrics.IncSubscriptionsFailed()
		return "", err
	}

	sub.mu.Lock()
	sub.stream = stream
	alreadyDone := sub.finished.Load()
	if !alreadyDone {
		sub.timer = time.AfterFunc(timeout, func() {
			m.metrics.IncSubscriptionsTimedOut()
			slog.Debug("manager: subscription timed out", "id", sub.id)
			m.finish(sub, reasonTimeout)
		})
	}
	sub.mu.Unlock()

	if alreadyDone {
		// Cancelled or evicted while the subscribe was in flight.
		stream.Close()
		return sub.id, nil
	}

	go m.run(sub)

	m.metrics.IncSubscriptionsCreated()
	slog.Debug("manager: subscription created",
		"id", sub.id,
		"kinds", filter.Kinds,
		"authors", len(filter.Authors))
	return sub.id, nil
}

// run delivers stream events to the subscription's callback until the
// stream finishes. One goroutine per subscription preserves transport
// delivery order.
func (m *SubscriptionManager) run(sub *managedSubscription) {
	for {
		select {
		case evt := <-sub.stream.Events:
			sub.deliverMu.Lock()
			if sub.finished.Load() {
				sub.deliverMu.Unlock()
				return
			}
			if sub.cbs.OnEvent != nil {
				sub.cbs.OnEvent(evt)
			}
			sub.deliverMu.Unlock()
			m.metrics.IncEventsDelivered()
		case <-sub.stream.Done:
			m.finish(sub, reasonComplete)
			return
		}
	}
}

// finish performs the exactly-once terminal cleanup for a subscription:
// stop the timeout timer, release the transport stream, release any owned
// queue keys, drop it from the active set, and fire the callbacks the
// terminal reason calls for.
func (m *SubscriptionManager) finish(sub *managedSubscription, reason terminalReason) {
	sub.terminal.Do(func() {
		sub.finished.Store(true)

		// Taking deliverMu drains any in-flight delivery: once it is
		// held, the delivery loop sees finished and stops before its
		// next callback.
		sub.deliverMu.Lock()
		sub.mu.Lock()
		if sub.timer != nil {
			sub.timer.Stop()
		}
		stream := sub.stream
		sub.mu.Unlock()
		sub.deliverMu.Unlock()
		if stream != nil {
			stream.Close()
		}

		m.mu.Lock()
		delete(m.subs, sub.id)
		for _, key := range sub.keys {
			delete(m.requested, key)
		}
		m.mu.Unlock()

		switch reason {
		case reasonComplete, reasonTimeout:
			if sub.cbs.OnComplete != nil {
				sub.cbs.OnComplete()
			}
		case reasonCancelled, reasonEvicted:
			// No user callbacks on a clean cancel or eviction.
		}
	})
}

// CancelSubscription cancels the subscription with the given id. Idempotent;
// unknown ids are a no-op. Never returns an error.
func (m *SubscriptionManager) CancelSubscription(id string) {
	m.mu.Lock()
	sub := m.subs[id]
	m.mu.Unlock()
	if sub == nil {
		return
	}
	m.finish(sub, reasonCancelled)
	slog.Debug("manager: subscription cancelled", "id", id)
}

// CancelAll cancels every active subscription and clears the pending queue
// and its requested-key markers. Used for full teardown.
func (m *SubscriptionManager) CancelAll() {
	m.mu.Lock()
	subs := make([]*managedSubscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.queue = nil
	m.requested = make(map[string]bool)
	if m.batchTimer != nil {
		m.batchTimer.Stop()
		m.batchTimer = nil
	}
	m.mu.Unlock()

	for _, sub := range subs {
		m.finish(sub, reasonCancelled)
	}
	slog.Debug("manager: all subscriptions cancelled", "count", len(subs))
}

// Close tears the manager down; further creates fail with
// ErrConnectionUnavailable and further queued requests are dropped.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.CancelAll()
}

// Metrics exposes the manager's counter set.
func (m *SubscriptionManager) Metrics() *Metrics {
	return m.metrics
}

// ActiveCount returns the number of active subscriptions.
func (m *SubscriptionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// HasSubscription reports whether the given id is still active.
func (m *SubscriptionManager) HasSubscription(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[id]
	return ok
}

// QueueRequest enqueues a coalescable profile request for the given pubkey.
// A key that is already queued or still covered by an in-flight batch
// subscription is silently merged (no second enqueue, no error). Each
// enqueue level-resets the debounce window; a queue that reaches the max
// batch size drains immediately instead of waiting out the window.
func (m *SubscriptionManager) QueueRequest(key string, cbs SubscriptionCallbacks) {
	if key == "" {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.requested[key] {
		m.mu.Unlock()
		m.metrics.IncRequestsCoalesced()
		return
	}
	m.requested[key] = true
	m.queue = append(m.queue, &pendingRequest{key: key, cbs: cbs})
	m.metrics.IncRequestsQueued()

	if len(m.queue) >= m.cfg.MaxBatchSize {
		// Cap reached: drain now, don't wait for the window.
		if m.batchTimer != nil {
			m.batchTimer.Stop()
			m.batchTimer = nil
		}
		m.mu.Unlock()
		go m.flushQueue()
		return
	}

	if m.batchTimer != nil {
		m.batchTimer.Stop()
	}
	m.batchTimer = time.AfterFunc(m.cfg.BatchWindow, m.flushQueue)
	m.mu.Unlock()
}

// flushQueue drains up to MaxBatchSize queued requests in FIFO order into
// one batch subscription covering the union of their keys. Events are
// routed to the request whose key matches the event author; when the batch
// subscription reaches a terminal state every member's own callbacks fire
// and its key leaves the requested set.
func (m *SubscriptionManager) flushQueue() {
	m.mu.Lock()
	n := len(m.queue)
	if n > m.cfg.MaxBatchSize {
		n = m.cfg.MaxBatchSize
	}
	batch := m.queue[:n:n]
	m.queue = m.queue[n:]
	if m.batchTimer != nil {
		m.batchTimer.Stop()
		m.batchTimer = nil
	}
	if len(m.queue) > 0 {
		// Partial drain at the cap: keep the window running for the rest.
		m.batchTimer = time.AfterFunc(m.cfg.BatchWindow, m.flushQueue)
	}
	m.mu.Unlock()

	if n == 0 {
		return
	}
	m.metrics.IncBatchesFlushed()

	keys := make([]string, 0, len(batch))
	byKey := make(map[string]*pendingRequest, len(batch))
	for _, req := range batch {
		keys = append(keys, req.key)
		byKey[req.key] = req
	}

	filter := types.Filter{
		Kinds:   []int{KindProfile},
		Authors: keys,
		Limit:   len(keys),
	}
	cbs := SubscriptionCallbacks{
		OnEvent: func(evt types.Event) {
			if req, ok := byKey[evt.PubKey]; ok && req.cbs.OnEvent != nil {
				req.cbs.OnEvent(evt)
			}
		},
		OnComplete: func() {
			for _, req := range batch {
				if req.cbs.OnComplete != nil {
					req.cbs.OnComplete()
				}
			}
		},
	}

	slog.Debug("manager: flushing request batch", "keys", len(keys))

	if _, err := m.create(filter, cbs, 0, keys); err != nil {
		// The whole batch failed: every member gets its own error and its
		// key is released so it can be requested again.
		m.mu.Lock()
		for _, key := range keys {
			delete(m.requested, key)
		}
		m.mu.Unlock()
		slog.Warn("manager: batch subscription failed", "keys", len(keys), "error", err)
		for _, req := range batch {
			if req.cbs.OnError != nil {
				req.cbs.OnError(err)
			}
		}
	}
}

// QueuedCount returns the number of requests waiting in the batch queue.
func (m *SubscriptionManager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
