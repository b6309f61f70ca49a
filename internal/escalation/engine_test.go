package escalation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClareAI/astra-comms-core/internal/backend"
	"github.com/ClareAI/astra-comms-core/internal/core/event"
	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/pkg/redis"
	"github.com/ClareAI/astra-comms-core/pkg/twilio"
)

type fakeRedis struct {
	mu    sync.Mutex
	store map[string]string
}

func newFakeRedis() *fakeRedis { return &fakeRedis{store: make(map[string]string)} }

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

func (f *fakeRedis) DelValue(ctx context.Context, key string) error              { return nil }
func (f *fakeRedis) Publish(ctx context.Context, ch string, m interface{}) error { return nil }
func (f *fakeRedis) Subscribe(ctx context.Context, ch string, h func(string)) error {
	return nil
}
func (f *fakeRedis) LPush(ctx context.Context, key, payload string) error { return nil }
func (f *fakeRedis) BRPop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	return "", redis.ErrKeyNotExist
}

type captureQueue struct {
	mu       sync.Mutex
	payloads []string
}

func (q *captureQueue) Publish(ctx context.Context, key string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, string(payload))
	return nil
}

func (q *captureQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.payloads)
}

type fakePlacer struct {
	calls int32
}

func (p *fakePlacer) PlaceCall(req twilio.PlaceCallRequest) (string, error) {
	atomic.AddInt32(&p.calls, 1)
	return "CA-test", nil
}

func (p *fakePlacer) TransferCall(callID, peerPhone string) error { return nil }

func (p *fakePlacer) EndCall(callID string) error { return nil }

type stepCounter struct {
	mu        sync.Mutex
	byChannel map[string]int
}

func newStepCounter(bus event.EventBus) *stepCounter {
	c := &stepCounter{byChannel: make(map[string]int)}
	bus.Subscribe(event.EscalationStepFired, func(ev *event.Event) {
		data, ok := ev.GetEscalationData()
		if !ok {
			return
		}
		c.mu.Lock()
		c.byChannel[data.Channel]++
		c.mu.Unlock()
	})
	return c
}

func (c *stepCounter) count(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byChannel[channel]
}

func newTestEngine(t *testing.T) (*Engine, event.EventBus, *captureQueue, *fakePlacer) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	backendClient := backend.NewClient(backend.Config{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
	}, newFakeRedis(), &captureQueue{})

	bus := event.NewEventBus()
	t.Cleanup(func() { bus.Close() })
	queue := &captureQueue{}
	placer := &fakePlacer{}

	engine := NewEngine(DefaultLadder(), backendClient, nil, placer, bus, queue, nil, map[string]string{})
	return engine, bus, queue, placer
}

func TestStartIsIdempotent(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	first, err := engine.Start(domain.FlowCustomerStatus, "O-4", nil)
	require.NoError(t, err)

	second, err := engine.Start(domain.FlowCustomerStatus, "O-4", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.StartedAt, second.StartedAt, "second start must return the existing ladder")
}

func TestConcurrentStartsOneLadder(t *testing.T) {
	engine, bus, _, _ := newTestEngine(t)
	counter := newStepCounter(bus)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			esc, err := engine.Start(domain.FlowCustomerStatus, "O-6", nil)
			if assert.NoError(t, err) {
				ids[i] = esc.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	// step 0 (push) fires exactly once despite eight concurrent starts
	require.Eventually(t, func() bool {
		return counter.count(string(domain.ChannelPush)) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, counter.count(string(domain.ChannelPush)))
}

func TestStopCancelsPendingSteps(t *testing.T) {
	engine, bus, _, _ := newTestEngine(t)
	counter := newStepCounter(bus)

	esc, err := engine.Start(domain.FlowCustomerStatus, "O-3", nil)
	require.NoError(t, err)

	// wait for step 0, then stop before step 1's 30s due time
	require.Eventually(t, func() bool {
		return counter.count(string(domain.ChannelPush)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, engine.Stop(esc.ID, "acked via chat"))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, counter.count(string(domain.ChannelChat)), "chat step must never fire after stop")

	require.Eventually(t, func() bool {
		_, tracked := engine.Get(esc.ID)
		return !tracked
	}, 2*time.Second, 10*time.Millisecond, "stopped ladder is no longer tracked")
}

func TestStopIsIdempotent(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	esc, err := engine.Start(domain.FlowCustomerStatus, "O-5", nil)
	require.NoError(t, err)

	assert.True(t, engine.Stop(esc.ID, "first"))
	assert.False(t, engine.Stop(esc.ID, "second"), "second stop is a no-op")
	assert.False(t, engine.Stop("vendor.new_order:never-started", "unknown"))
}

func TestSingleStepFlowCompletesAndEmitsExhausted(t *testing.T) {
	engine, bus, queue, _ := newTestEngine(t)
	counter := newStepCounter(bus)

	_, err := engine.Start(domain.FlowCustomerDelay, "O-2", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return counter.count(string(domain.ChannelChat)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// nobody acknowledged, so the exhausted alert lands on the durable queue
	require.Eventually(t, func() bool {
		return queue.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, queue.payloads[0], "escalation.exhausted")
}

func TestAckFromCallStopsLadder(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	esc, err := engine.Start(domain.FlowRiderAddressUpdate, "O-7", domain.JSONB{"phone": "+919876543210"})
	require.NoError(t, err)

	engine.AckFromCall("O-7", domain.PurposeRiderAddressUpdate, domain.OutcomeAccepted)

	require.Eventually(t, func() bool {
		_, tracked := engine.Get(esc.ID)
		return !tracked
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMissedOutcomeDoesNotStopLadder(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	esc, err := engine.Start(domain.FlowRiderAddressUpdate, "O-8", domain.JSONB{"phone": "+919876543210"})
	require.NoError(t, err)

	engine.AckFromCall("O-8", domain.PurposeRiderAddressUpdate, domain.OutcomeMissed)

	got, tracked := engine.Get(esc.ID)
	require.True(t, tracked, "a missed call keeps the ladder climbing")
	assert.Equal(t, domain.EscalationStatusActive, got.Status)
	engine.Stop(esc.ID, "test cleanup")
}

func TestDeterministicEscalationID(t *testing.T) {
	assert.Equal(t,
		EscalationID(domain.FlowVendorNewOrder, "O-1"),
		EscalationID(domain.FlowVendorNewOrder, "O-1"))
	assert.NotEqual(t,
		EscalationID(domain.FlowVendorNewOrder, "O-1"),
		EscalationID(domain.FlowRiderAssign, "O-1"))
}
