package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClareAI/astra-comms-core/internal/backend"
	"github.com/ClareAI/astra-comms-core/internal/core/event"
	"github.com/ClareAI/astra-comms-core/internal/core/session"
	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/internal/orchestrator"
	"github.com/ClareAI/astra-comms-core/internal/providers"
	"github.com/ClareAI/astra-comms-core/internal/storage"
	"github.com/ClareAI/astra-comms-core/internal/telephony"
	"github.com/ClareAI/astra-comms-core/pkg/redis"
	"github.com/ClareAI/astra-comms-core/pkg/twilio"
)

type nullRedis struct{}

func (nullRedis) GenerateKey(kt redis.KeyType, id string) string { return string(kt) + ":" + id }
func (nullRedis) GetValue(ctx context.Context, key string) (string, error) {
	return "", redis.ErrKeyNotExist
}
func (nullRedis) SetValue(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (nullRedis) DelValue(ctx context.Context, key string) error              { return nil }
func (nullRedis) Publish(ctx context.Context, ch string, m interface{}) error { return nil }
func (nullRedis) Subscribe(ctx context.Context, ch string, h func(string)) error {
	return nil
}
func (nullRedis) LPush(ctx context.Context, key, payload string) error { return nil }
func (nullRedis) BRPop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	return "", redis.ErrKeyNotExist
}

type nullQueue struct{}

func (nullQueue) Publish(ctx context.Context, key string, payload []byte) error { return nil }

type nullPlacer struct{}

func (nullPlacer) PlaceCall(req twilio.PlaceCallRequest) (string, error) { return "CA-x", nil }
func (nullPlacer) TransferCall(callID, peerPhone string) error           { return nil }
func (nullPlacer) EndCall(callID string) error                           { return nil }

type nullDriver struct{}

func (nullDriver) Name() string { return "local" }
func (nullDriver) Recognize(ctx context.Context, req providers.RecognizeRequest) (providers.Result, error) {
	return providers.Result{Transcript: "ok"}, nil
}
func (nullDriver) Synthesize(ctx context.Context, req providers.SynthesizeRequest) (providers.Result, error) {
	return providers.Result{Audio: []byte("a")}, nil
}

type nullResponder struct{}

func (nullResponder) Reply(ctx context.Context, lang string, hist []domain.Turn, text string) (string, error) {
	return "ok", nil
}

func newTelephonyTestHandler(t *testing.T) (*TelephonyHandler, *session.Store) {
	t.Helper()

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backendSrv.Close)

	registry := providers.NewRegistry()
	registry.Register(domain.ProviderKindASR, nullDriver{})
	registry.Register(domain.ProviderKindTTS, nullDriver{})
	registry.SetPriority(domain.ProviderKindASR, []string{"local"})
	registry.SetPriority(domain.ProviderKindTTS, []string{"local"})
	router := providers.NewRouter(registry, providers.NewHealthCache(30*time.Second), providers.NewMetrics())

	store := session.NewStore(100)
	bus := event.NewEventBus()
	t.Cleanup(func() { bus.Close() })

	backendClient := backend.NewClient(backend.Config{
		BaseURL:        backendSrv.URL,
		RequestTimeout: time.Second,
	}, nullRedis{}, nullQueue{})

	orch := orchestrator.NewService(
		store, router, storage.NewTemplateCache(1<<20), backendClient, nil,
		nullPlacer{}, telephony.NewStreamRegistry(), bus, nullResponder{}, "hi", "")

	return NewTelephonyHandler(orch, telephony.NewStreamRegistry(), "secret"), store
}

func postForm(h http.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestKeypadRequiresDigit(t *testing.T) {
	h, _ := newTelephonyTestHandler(t)

	rec := postForm(h.HandleKeypad, "/telephony/keypad", url.Values{
		"callId": {"C-1"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestKeypadRequiresCallID(t *testing.T) {
	h, _ := newTelephonyTestHandler(t)

	rec := postForm(h.HandleKeypad, "/telephony/keypad", url.Values{
		"digit": {"1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeypadUnknownCallAcceptedAndDropped(t *testing.T) {
	h, store := newTelephonyTestHandler(t)

	rec := postForm(h.HandleKeypad, "/telephony/keypad", url.Values{
		"callId": {"C-unknown"},
		"digit":  {"1"},
		"seq":    {"7"},
	})
	// never an error: the provider may retransmit for calls we tore down
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, store.Count())
}

func TestCallStatusRequiresFields(t *testing.T) {
	h, _ := newTelephonyTestHandler(t)

	rec := postForm(h.HandleCallStatus, "/telephony/call-status", url.Values{
		"callId": {"C-1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallStatusUnknownCallAccepted(t *testing.T) {
	h, _ := newTelephonyTestHandler(t)

	rec := postForm(h.HandleCallStatus, "/telephony/call-status", url.Values{
		"callId": {"C-unknown"},
		"status": {"completed"},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestStreamRejectsUnknownSession(t *testing.T) {
	h, _ := newTelephonyTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/telephony/stream?callId=C-none", nil)
	rec := httptest.NewRecorder()
	h.HandleStream(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordingRequiresURL(t *testing.T) {
	h, _ := newTelephonyTestHandler(t)

	rec := postForm(h.HandleRecording, "/telephony/recording", url.Values{
		"callId": {"C-1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswerVerifiesPlacementSignature(t *testing.T) {
	h, _ := newTelephonyTestHandler(t)

	form := url.Values{"callId": {"C-1"}, "to": {"+919876543210"}}
	sig := twilio.SignParams("secret", "vendor.new_order", "O-1", "+919876543210")

	req := httptest.NewRequest(http.MethodPost,
		"/telephony/answer?purpose=vendor.new_order&orderId=O-1&language=hi&sig="+sig,
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleAnswer(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Stream")

	// tampered purpose fails verification
	req = httptest.NewRequest(http.MethodPost,
		"/telephony/answer?purpose=rider.assign&orderId=O-1&language=hi&sig="+sig,
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.HandleAnswer(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
