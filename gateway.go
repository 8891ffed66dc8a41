package nostrclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"nostr-client/internal/nostr"
	"nostr-client/internal/types"
)

// GatewayResponse is the decoded envelope of one gateway call. Events are
// kept in the order the gateway returned them.
type GatewayResponse struct {
	Events          []types.Event
	Cached          bool
	CacheAgeSeconds int
	EventCount      int
}

// gatewayEnvelope is the wire shape of every gateway response.
type gatewayEnvelope struct {
	Events          []types.Event `json:"events"`
	Cached          bool          `json:"cached"`
	CacheAgeSeconds int           `json:"cacheAgeSeconds"`
}

// GatewayClient is a stateless-per-call adapter for the cache-fronted REST
// gateway. It never retries; retry policy belongs to the caller.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	metrics *Metrics
}

// NewGatewayClient creates a gateway client for the given base URL.
func NewGatewayClient(baseURL string, metrics *Metrics) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: metrics,
	}
}

// EncodeFilter returns the base64url form of the canonical filter JSON,
// as carried in the query endpoint's filter parameter.
func EncodeFilter(filter types.Filter) (string, error) {
	data, err := json.Marshal(filter)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Query issues a filter query against the gateway. A well-formed envelope
// with zero events is a valid response, not an error.
func (g *GatewayClient) Query(ctx context.Context, filter types.Filter) (*GatewayResponse, error) {
	encoded, err := EncodeFilter(filter)
	if err != nil {
		return nil, &GatewayError{Kind: GatewayMalformedResponse, Message: "filter encoding failed", Err: err}
	}
	return g.get(ctx, g.baseURL+"/query?filter="+encoded)
}

// GetProfile fetches the profile event for a pubkey. Returns (nil, nil)
// when the gateway has no profile for it.
func (g *GatewayClient) GetProfile(ctx context.Context, pubkey string) (*types.Event, error) {
	resp, err := g.get(ctx, g.baseURL+"/profile/"+url.PathEscape(pubkey))
	if err != nil {
		return nil, err
	}
	if len(resp.Events) == 0 {
		return nil, nil
	}
	evt := resp.Events[0]
	return &evt, nil
}

// GetEvent fetches a single event by id. Returns (nil, nil) when the
// gateway does not know the event.
func (g *GatewayClient) GetEvent(ctx context.Context, id string) (*types.Event, error) {
	resp, err := g.get(ctx, g.baseURL+"/event/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if len(resp.Events) == 0 {
		return nil, nil
	}
	evt := resp.Events[0]
	return &evt, nil
}

func (g *GatewayClient) get(ctx context.Context, fullURL string) (*GatewayResponse, error) {
	g.metrics.IncGatewayRequests()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		g.metrics.IncGatewayErrors()
		return nil, &GatewayError{Kind: GatewayNetworkError, Message: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.IncGatewayErrors()
		return nil, &GatewayError{Kind: GatewayNetworkError, Message: "gateway unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		g.metrics.IncGatewayErrors()
		return nil, &GatewayError{Kind: GatewayNetworkError, Message: "reading response body failed", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		g.metrics.IncGatewayErrors()
		return nil, &GatewayError{
			Kind:    GatewayStatusError,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("unexpected status: %s", http.StatusText(resp.StatusCode)),
		}
	}

	var envelope gatewayEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		g.metrics.IncGatewayErrors()
		return nil, &GatewayError{Kind: GatewayMalformedResponse, Message: "invalid envelope", Err: err}
	}

	if envelope.Cached {
		g.metrics.IncGatewayHits()
	}

	slog.Debug("gateway: response",
		"events", len(envelope.Events),
		"cached", envelope.Cached,
		"cache_age_s", envelope.CacheAgeSeconds)

	return &GatewayResponse{
		Events:          envelope.Events,
		Cached:          envelope.Cached,
		CacheAgeSeconds: envelope.CacheAgeSeconds,
		EventCount:      len(envelope.Events),
	}, nil
}

// shortID truncates ID/pubkey to 12 chars for logging
func shortID(id string) string {
	return nostr.ShortID(id)
}
