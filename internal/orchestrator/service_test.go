package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClareAI/astra-comms-core/internal/backend"
	"github.com/ClareAI/astra-comms-core/internal/core/event"
	"github.com/ClareAI/astra-comms-core/internal/core/session"
	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/internal/providers"
	"github.com/ClareAI/astra-comms-core/internal/storage"
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

type nopQueue struct{}

func (nopQueue) Publish(ctx context.Context, key string, payload []byte) error { return nil }

// ttsDriver synthesizes instantly; failASR makes recognition exhaust.
type ttsDriver struct {
	name    string
	failASR bool
}

func (d *ttsDriver) Name() string { return d.name }

func (d *ttsDriver) Recognize(ctx context.Context, req providers.RecognizeRequest) (providers.Result, error) {
	if d.failASR {
		return providers.Result{}, &providers.TransientError{Err: assert.AnError}
	}
	return providers.Result{Transcript: "kahan hai mera order"}, nil
}

func (d *ttsDriver) Synthesize(ctx context.Context, req providers.SynthesizeRequest) (providers.Result, error) {
	return providers.Result{Audio: []byte("audio:" + req.Text)}, nil
}

type fakePlacer struct {
	placed int32
	ended  int32
}

func (p *fakePlacer) PlaceCall(req twilio.PlaceCallRequest) (string, error) {
	atomic.AddInt32(&p.placed, 1)
	return "CA-1", nil
}

func (p *fakePlacer) TransferCall(callID, peerPhone string) error { return nil }

func (p *fakePlacer) EndCall(callID string) error {
	atomic.AddInt32(&p.ended, 1)
	return nil
}

type fakeSink struct {
	mu    sync.Mutex
	plays []string
}

func (s *fakeSink) Play(callID string, audio []byte, mark string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, mark)
	return true
}

func (s *fakeSink) Interrupt(callID string) {}

type fakeResponder struct{}

func (fakeResponder) Reply(ctx context.Context, language string, history []domain.Turn, userText string) (string, error) {
	return "aapka order raaste mein hai", nil
}

type testHarness struct {
	svc       *Service
	store     *session.Store
	templates *storage.TemplateCache
	placer    *fakePlacer
	sink      *fakeSink
	reports   *int32
}

func newHarness(t *testing.T, failASR bool) *testHarness {
	t.Helper()

	var reports int32
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/result") {
			atomic.AddInt32(&reports, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backendSrv.Close)

	registry := providers.NewRegistry()
	driver := &ttsDriver{name: "local", failASR: failASR}
	registry.Register(domain.ProviderKindASR, driver)
	registry.Register(domain.ProviderKindTTS, driver)
	registry.SetPriority(domain.ProviderKindASR, []string{"local"})
	registry.SetPriority(domain.ProviderKindTTS, []string{"local"})
	router := providers.NewRouter(registry, providers.NewHealthCache(30*time.Second), providers.NewMetrics())

	store := session.NewStore(100)
	templates := storage.NewTemplateCache(1 << 20)
	backendClient := backend.NewClient(backend.Config{
		BaseURL:        backendSrv.URL,
		RequestTimeout: time.Second,
	}, newFakeRedis(), nopQueue{})

	bus := event.NewEventBus()
	t.Cleanup(func() { bus.Close() })

	placer := &fakePlacer{}
	sink := &fakeSink{}

	svc := NewService(store, router, templates, backendClient, nil,
		placer, sink, bus, fakeResponder{}, "hi", "")

	return &testHarness{svc: svc, store: store, templates: templates, placer: placer, sink: sink, reports: &reports}
}

func (h *testHarness) waitForState(t *testing.T, callID string, state domain.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess, ok := h.store.Get(callID)
		return ok && sess.State == state
	}, 2*time.Second, 10*time.Millisecond, "expected state %s", state)
}

func TestOutboundCallPlacesAndPreSynthesizes(t *testing.T) {
	h := newHarness(t, false)

	callID, err := h.svc.StartOutboundCall(context.Background(), StartCallRequest{
		Purpose:  domain.PurposeVendorNewOrder,
		OrderID:  "O-1",
		To:       "+919876543210",
		CallerID: "+918000000001",
		Language: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "CA-1", callID)
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.placer.placed))

	sess, ok := h.store.Get(callID)
	require.True(t, ok)
	assert.Equal(t, domain.PurposeVendorNewOrder, sess.Purpose)

	// the greeting, the prompts, and the apology are rendered before pickup
	require.Eventually(t, func() bool {
		return h.templates.Len() >= 4
	}, 2*time.Second, 10*time.Millisecond)
	_, ok = h.templates.Get(storage.TemplateKey{
		PhraseID: ApologyPhraseID, Language: "hi",
	})
	assert.True(t, ok)
}

func TestDuplicateKeypadAdvancesOnce(t *testing.T) {
	h := newHarness(t, false)

	callID, err := h.svc.StartOutboundCall(context.Background(), StartCallRequest{
		Purpose: domain.PurposeVendorNewOrder,
		OrderID: "O-1",
		To:      "+919876543210",
	})
	require.NoError(t, err)

	h.svc.HandleEvent(callID, Event{Kind: EventAnswered, Timestamp: time.Now()})
	h.waitForState(t, callID, domain.StateGreeting)

	// the provider retransmits the same keypad event
	h.svc.HandleEvent(callID, Event{Kind: EventKeypad, Digit: "1", Seq: 7, Timestamp: time.Now()})
	h.svc.HandleEvent(callID, Event{Kind: EventKeypad, Digit: "1", Seq: 7, Timestamp: time.Now()})

	h.waitForState(t, callID, stateAckAccept)
	// a processed duplicate would have advanced again (digit 1 -> set_15)
	time.Sleep(100 * time.Millisecond)
	sess, _ := h.store.Get(callID)
	assert.Equal(t, stateAckAccept, sess.State)
}

func TestAcceptFlowReportsExactlyOnce(t *testing.T) {
	h := newHarness(t, false)

	callID, err := h.svc.StartOutboundCall(context.Background(), StartCallRequest{
		Purpose: domain.PurposeVendorNewOrder,
		OrderID: "O-1",
		To:      "+919876543210",
	})
	require.NoError(t, err)

	h.svc.HandleEvent(callID, Event{Kind: EventAnswered, Timestamp: time.Now()})
	h.waitForState(t, callID, domain.StateGreeting)
	h.svc.HandleEvent(callID, Event{Kind: EventKeypad, Digit: "1", Seq: 1, Timestamp: time.Now()})
	h.waitForState(t, callID, stateAckAccept)
	h.svc.HandleEvent(callID, Event{Kind: EventKeypad, Digit: "2", Seq: 2, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(h.reports) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// terminal state ends the call and tears down the session
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&h.placer.ended) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// a late hangup webhook must not produce a second report
	h.svc.HandleEvent(callID, Event{Kind: EventHangup, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(h.reports))
}

func TestUnansweredCallStillReportsOnce(t *testing.T) {
	h := newHarness(t, false)

	callID, err := h.svc.StartOutboundCall(context.Background(), StartCallRequest{
		Purpose: domain.PurposeVendorNewOrder,
		OrderID: "O-1",
		To:      "+919876543210",
	})
	require.NoError(t, err)

	// the provider reports no-answer before any answered event
	h.svc.HandleEvent(callID, Event{Kind: EventHangup, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(h.reports) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := h.store.Get(callID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "unanswered session must be torn down")
}

func TestUnknownCallEventDropped(t *testing.T) {
	h := newHarness(t, false)
	// must not panic or create a session
	h.svc.HandleEvent("no-such-call", Event{Kind: EventKeypad, Digit: "1", Timestamp: time.Now()})
	assert.Equal(t, 0, h.store.Count())
}

func TestOpenEndedRecognitionFailureReportsFailedASR(t *testing.T) {
	h := newHarness(t, true)

	require.NoError(t, h.svc.AttachInboundCall("CA-in", domain.PurposeInboundCustomer, "", "", "hi"))
	h.svc.HandleEvent("CA-in", Event{Kind: EventAnswered, Timestamp: time.Now()})
	h.waitForState(t, "CA-in", domain.StateGreeting)

	// wait for the apology clip to be pre-synthesized so the failure path
	// can speak before hanging up
	require.Eventually(t, func() bool {
		_, ok := h.templates.Get(storage.TemplateKey{PhraseID: ApologyPhraseID, Language: "hi"})
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	h.svc.HandleEvent("CA-in", Event{Kind: EventSpeech, Audio: []byte("mulaw-bytes"), Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(h.reports) == 1
	}, 3*time.Second, 10*time.Millisecond)

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	assert.Contains(t, h.sink.plays, "apology", "a failing call never leaves the line silent")
}

func TestOpenEndedTurnRoundTrip(t *testing.T) {
	h := newHarness(t, false)

	require.NoError(t, h.svc.AttachInboundCall("CA-2", domain.PurposeInboundCustomer, "", "", "hi"))
	h.svc.HandleEvent("CA-2", Event{Kind: EventAnswered, Timestamp: time.Now()})
	h.waitForState(t, "CA-2", domain.StateGreeting)

	h.svc.HandleEvent("CA-2", Event{Kind: EventSpeech, Audio: []byte("mulaw-bytes"), Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		sess, ok := h.store.Get("CA-2")
		return ok && sess.OpenEndedTurns == 1 && len(sess.ConversationHistory) == 2
	}, 2*time.Second, 10*time.Millisecond)

	sess, _ := h.store.Get("CA-2")
	assert.Equal(t, "caller", sess.ConversationHistory[0].Role)
	assert.Equal(t, "system", sess.ConversationHistory[1].Role)
	assert.Equal(t, stateConversation, sess.State)
}
