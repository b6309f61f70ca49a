// Package backend is the typed client for the Core Backend collaborator:
// order lookup, party lookup by phone, status mutation, and result
// reporting, with short-TTL caching and retry-then-queue fallback.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"github.com/ClareAI/astra-comms-core/pkg/redis"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means the Core Backend has no record for the id.
	ErrNotFound = errors.New("backend: not found")
	// ErrConflict means the Core Backend rejected a state transition.
	ErrConflict = errors.New("backend: transition rejected")
	// ErrQueued means the mutation could not be delivered after retries and
	// was handed to the durable outbound queue for later delivery.
	ErrQueued = errors.New("backend: request queued for later delivery")
)

// OutboundQueue is the durable-queue seam mutations fall back to when the
// Core Backend stays unreachable through the whole retry schedule.
type OutboundQueue interface {
	Publish(ctx context.Context, orderingKey string, payload []byte) error
}

// Config carries the collaborator endpoint and the cache TTLs.
type Config struct {
	BaseURL           string
	ServiceCredential string
	RequestTimeout    time.Duration
	OrderCacheTTL     time.Duration
	PartyCacheTTL     time.Duration
	CacheNamespace    string
}

// Client is the Core Backend client. All reads go through a short-TTL Redis
// cache so multi-pod deployments share lookups; all mutations retry with
// exponential backoff before degrading to the durable queue.
type Client struct {
	cfg      Config
	http     *http.Client
	redisSvc redis.RedisServiceInterface
	queue    OutboundQueue
}

func NewClient(cfg Config, redisSvc redis.RedisServiceInterface, queue OutboundQueue) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.OrderCacheTTL == 0 {
		cfg.OrderCacheTTL = 30 * time.Second
	}
	if cfg.PartyCacheTTL == 0 {
		cfg.PartyCacheTTL = 2 * time.Minute
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		redisSvc: redisSvc,
		queue:    queue,
	}
}

// GetOrder returns the Core Backend's view of an order, cached for at most
// the order cache TTL.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	cacheKey := c.cacheKey("order", orderID)
	if cached, err := c.redisSvc.GetValue(ctx, cacheKey); err == nil {
		var order domain.Order
		if json.Unmarshal([]byte(cached), &order) == nil {
			return &order, nil
		}
	}

	var order domain.Order
	if err := c.getJSON(ctx, "/api/v1/orders/"+url.PathEscape(orderID), &order); err != nil {
		return nil, err
	}

	if data, err := json.Marshal(order); err == nil {
		if err := c.redisSvc.SetValue(ctx, cacheKey, string(data), c.cfg.OrderCacheTTL); err != nil {
			logger.Base().Warn("order cache write failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return &order, nil
}

// LookupPartyByPhone resolves a normalized phone to at most one party.
// Resolution order on the Core Backend side: vendor registry, rider
// registry, then customer-with-phone-only. Cached for the party cache TTL.
func (c *Client) LookupPartyByPhone(ctx context.Context, phone string) (*domain.Party, error) {
	normalized := NormalizePhone(phone)
	cacheKey := c.cacheKey("party", normalized)
	if cached, err := c.redisSvc.GetValue(ctx, cacheKey); err == nil {
		var party domain.Party
		if json.Unmarshal([]byte(cached), &party) == nil {
			return &party, nil
		}
	}

	var party domain.Party
	if err := c.getJSON(ctx, "/api/v1/parties/by-phone/"+url.PathEscape(normalized), &party); err != nil {
		return nil, err
	}
	party.Phone = NormalizePhone(party.Phone)

	if data, err := json.Marshal(party); err == nil {
		if err := c.redisSvc.SetValue(ctx, cacheKey, string(data), c.cfg.PartyCacheTTL); err != nil {
			logger.Base().Warn("party cache write failed", zap.String("phone", normalized), zap.Error(err))
		}
	}
	return &party, nil
}

// transitionRequest is the wire shape for a requested state transition.
type transitionRequest struct {
	ToState string `json:"toState"`
	Actor   string `json:"actor"`
	Reason  string `json:"reason,omitempty"`
}

// ReportTransition asks the Core Backend to move an order to a new state.
// A 409 surfaces as ErrConflict immediately (upstream rejection, never
// retried). Transport failures retry on the shared backoff schedule; if the
// schedule exhausts, the request goes to the durable outbound queue and the
// caller sees ErrQueued.
func (c *Client) ReportTransition(ctx context.Context, orderID string, toState domain.OrderState, actor, reason string) error {
	body, _ := json.Marshal(transitionRequest{ToState: string(toState), Actor: actor, Reason: reason})
	path := "/api/v1/orders/" + url.PathEscape(orderID) + "/transition"

	err := c.postWithRetry(ctx, path, body)
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}

	envelope, _ := json.Marshal(map[string]interface{}{
		"type":    "order.transition",
		"orderId": orderID,
		"toState": toState,
		"actor":   actor,
		"reason":  reason,
	})
	if qerr := c.queue.Publish(ctx, orderID, envelope); qerr != nil {
		logger.Base().Error("transition report lost: retries and queue both failed",
			zap.String("order_id", orderID), zap.Error(err), zap.NamedError("queue_error", qerr))
		return err
	}
	logger.Base().Warn("transition report queued after retry exhaustion",
		zap.String("order_id", orderID), zap.String("to_state", string(toState)))
	return ErrQueued
}

// CallResult is the terminal outcome of a call session.
type CallResult struct {
	CallID  string                 `json:"callId"`
	Outcome domain.CallOutcome     `json:"outcome"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ReportCallResult delivers the terminal call outcome. Idempotent on callId
// on the Core Backend side, so the full retry schedule is safe.
func (c *Client) ReportCallResult(ctx context.Context, result CallResult) error {
	body, _ := json.Marshal(result)
	path := "/api/v1/calls/" + url.PathEscape(result.CallID) + "/result"

	err := c.postWithRetry(ctx, path, body)
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}

	envelope, _ := json.Marshal(map[string]interface{}{
		"type":    "call.result",
		"callId":  result.CallID,
		"outcome": result.Outcome,
		"details": result.Details,
	})
	if qerr := c.queue.Publish(ctx, result.CallID, envelope); qerr != nil {
		return err
	}
	return ErrQueued
}

// NotifyEvent is the fire-and-forget notification path; it never fails the
// caller. Delivery is one attempt on a detached context.
func (c *Client) NotifyEvent(kind string, payload map[string]interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()

		body, _ := json.Marshal(map[string]interface{}{"kind": kind, "payload": payload})
		if err := c.post(ctx, "/api/v1/notifications", body); err != nil {
			logger.Base().Warn("best-effort notification failed", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

// postWithRetry runs the shared mutation retry discipline: 0.5s * 2^n with
// +/-20% jitter, capped at 30s, 5 attempts total.
func (c *Client) postWithRetry(ctx context.Context, path string, body []byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	attempts := uint64(5)
	operation := func() error {
		err := c.post(ctx, path, body)
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceCredential)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("backend: unexpected status %d for %s", resp.StatusCode, path)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceCredential)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("backend: unexpected status %d for %s", resp.StatusCode, path)
	}
}

func (c *Client) cacheKey(kind, id string) string {
	ns := c.cfg.CacheNamespace
	if ns == "" {
		ns = "astra_comms"
	}
	return fmt.Sprintf("%s:backend:%s:%s", ns, kind, id)
}
