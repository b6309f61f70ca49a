package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/pkg/redis"
)

// fakeRedis is an in-memory stand-in for the cache/queue backbone.
type fakeRedis struct {
	mu    sync.Mutex
	store map[string]string
	lists map[string][]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{store: make(map[string]string), lists: make(map[string][]string)}
}

func (f *fakeRedis) GenerateKey(keyType redis.KeyType, id string) string {
	return string(keyType) + ":" + id
}

func (f *fakeRedis) GetValue(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.store[key]
	if !ok {
		return "", redis.ErrKeyNotExist
	}
	return v, nil
}

func (f *fakeRedis) SetValue(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[key] = value
	return nil
}

func (f *fakeRedis) DelValue(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, key)
	return nil
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}

func (f *fakeRedis) Subscribe(ctx context.Context, channel string, handler func(string)) error {
	return nil
}

func (f *fakeRedis) LPush(ctx context.Context, listKey, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[listKey] = append([]string{payload}, f.lists[listKey]...)
	return nil
}

func (f *fakeRedis) BRPop(ctx context.Context, listKey string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.lists[listKey]
	if len(items) == 0 {
		return "", redis.ErrKeyNotExist
	}
	last := items[len(items)-1]
	f.lists[listKey] = items[:len(items)-1]
	return last, nil
}

type captureQueue struct {
	mu       sync.Mutex
	payloads [][]byte
	keys     []string
}

func (q *captureQueue) Publish(ctx context.Context, key string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = append(q.keys, key)
	q.payloads = append(q.payloads, payload)
	return nil
}

func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *captureQueue) {
	t.Helper()
	queue := &captureQueue{}
	client := NewClient(Config{
		BaseURL:           srv.URL,
		ServiceCredential: "test-cred",
		RequestTimeout:    2 * time.Second,
	}, newFakeRedis(), queue)
	return client, queue
}

func TestGetOrderCaches(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"orderId":"O-1","amount":32500,"paymentMode":"cod","state":"confirmed","vendor":{"kind":"vendor","id":"V-42","phone":"+919876543210"}}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	ctx := context.Background()

	first, err := client.GetOrder(ctx, "O-1")
	require.NoError(t, err)
	assert.Equal(t, "O-1", first.ID)
	assert.Equal(t, domain.OrderStateConfirmed, first.State)

	second, err := client.GetOrder(ctx, "O-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, hits, "second lookup must come from cache")
}

func TestGetOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	_, err := client.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupPartyNormalizesPhone(t *testing.T) {
	var requestedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.Write([]byte(`{"kind":"rider","id":"R-7","phone":"9876543210","displayName":"Ravi"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	party, err := client.LookupPartyByPhone(context.Background(), "98765 43210")
	require.NoError(t, err)
	assert.Contains(t, requestedPath, "/by-phone/+919876543210")
	assert.Equal(t, "+919876543210", party.Phone)
}

func TestReportTransitionConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client, queue := newTestClient(t, srv)
	err := client.ReportTransition(context.Background(), "O-1", domain.OrderStateProcessing, "comms-core", "test")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, queue.payloads, "upstream rejection must not be queued")
}

func TestReportCallResultSuccess(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	err := client.ReportCallResult(context.Background(), CallResult{
		CallID:  "C-9",
		Outcome: domain.OutcomeAccepted,
		Details: map[string]interface{}{"prepMinutes": 30},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-cred", auth)
}
