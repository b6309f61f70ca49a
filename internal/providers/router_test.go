package providers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

// scriptedDriver returns a fixed result or error and counts invocations.
type scriptedDriver struct {
	name  string
	err   error
	calls int32
}

func (d *scriptedDriver) Name() string { return d.name }

func (d *scriptedDriver) Recognize(ctx context.Context, req RecognizeRequest) (Result, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.err != nil {
		return Result{}, d.err
	}
	return Result{Transcript: "hello from " + d.name}, nil
}

func (d *scriptedDriver) Synthesize(ctx context.Context, req SynthesizeRequest) (Result, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.err != nil {
		return Result{}, d.err
	}
	return Result{Audio: []byte(d.name)}, nil
}

func newTestRouter(drivers ...*scriptedDriver) (*Router, *Registry, *Metrics) {
	registry := NewRegistry()
	var names []string
	for _, d := range drivers {
		registry.Register(domain.ProviderKindASR, d)
		registry.Register(domain.ProviderKindTTS, d)
		names = append(names, d.name)
	}
	registry.SetPriority(domain.ProviderKindASR, names)
	registry.SetPriority(domain.ProviderKindTTS, names)

	health := NewHealthCache(30 * time.Second)
	metrics := NewMetrics()
	return NewRouter(registry, health, metrics), registry, metrics
}

func usageFor(metrics *Metrics, name string) (UsageSnapshot, bool) {
	for _, u := range metrics.Snapshot() {
		if u.Name == name && u.Kind == domain.ProviderKindASR {
			return u, true
		}
	}
	return UsageSnapshot{}, false
}

func TestRouteFallsOverOnTransientFailure(t *testing.T) {
	failing := &scriptedDriver{name: "local", err: &TransientError{Err: errors.New("connection refused")}}
	healthy := &scriptedDriver{name: "deepgram"}
	router, _, metrics := newTestRouter(failing, healthy)

	result, provider, err := router.Recognize(context.Background(), RecognizeRequest{Audio: []byte("x"), Language: "hi"}, "")
	require.NoError(t, err)
	assert.Equal(t, "deepgram", provider)
	assert.Equal(t, "hello from deepgram", result.Transcript)

	// both the failed attempt and the successful one are recorded
	failed, ok := usageFor(metrics, "local")
	require.True(t, ok)
	assert.EqualValues(t, 1, failed.Requests)
	assert.EqualValues(t, 1, failed.Failures)

	succeeded, ok := usageFor(metrics, "deepgram")
	require.True(t, ok)
	assert.EqualValues(t, 1, succeeded.Requests)
	assert.EqualValues(t, 0, succeeded.Failures)
}

func TestRouteExhaustsAllProviders(t *testing.T) {
	a := &scriptedDriver{name: "local", err: &TransientError{Err: errors.New("down")}}
	b := &scriptedDriver{name: "google", err: &TransientError{Err: errors.New("down")}}
	c := &scriptedDriver{name: "azure", err: &TransientError{Err: errors.New("down")}}
	router, _, _ := newTestRouter(a, b, c)

	_, _, err := router.Recognize(context.Background(), RecognizeRequest{Audio: []byte("x")}, "")
	assert.ErrorIs(t, err, ErrProvidersExhausted)
	assert.EqualValues(t, 1, atomic.LoadInt32(&a.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&b.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&c.calls))
}

func TestRouteSkipsUnhealthyProviderForOneWindow(t *testing.T) {
	flaky := &scriptedDriver{name: "local", err: &TransientError{Err: errors.New("down")}}
	healthy := &scriptedDriver{name: "deepgram"}
	router, _, _ := newTestRouter(flaky, healthy)

	_, provider, err := router.Recognize(context.Background(), RecognizeRequest{Audio: []byte("x")}, "")
	require.NoError(t, err)
	assert.Equal(t, "deepgram", provider)

	// second route inside the health window must not touch the flaky driver
	_, provider, err = router.Recognize(context.Background(), RecognizeRequest{Audio: []byte("y")}, "")
	require.NoError(t, err)
	assert.Equal(t, "deepgram", provider)
	assert.EqualValues(t, 1, atomic.LoadInt32(&flaky.calls))
}

func TestRouteFatalErrorAbortsRoute(t *testing.T) {
	fatal := &scriptedDriver{name: "local", err: &FatalError{Err: errors.New("bad request")}}
	healthy := &scriptedDriver{name: "deepgram"}
	router, _, _ := newTestRouter(fatal, healthy)

	_, provider, err := router.Recognize(context.Background(), RecognizeRequest{Audio: []byte("x")}, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProvidersExhausted)
	assert.Equal(t, "local", provider)
	assert.EqualValues(t, 0, atomic.LoadInt32(&healthy.calls), "fatal errors must not fail over")
}

func TestRoutePreferredProviderFirst(t *testing.T) {
	first := &scriptedDriver{name: "local"}
	second := &scriptedDriver{name: "deepgram"}
	router, _, _ := newTestRouter(first, second)

	_, provider, err := router.Synthesize(context.Background(), SynthesizeRequest{Text: "hi"}, "deepgram")
	require.NoError(t, err)
	assert.Equal(t, "deepgram", provider)
	assert.EqualValues(t, 0, atomic.LoadInt32(&first.calls))
}

func TestSetPriorityReordersCandidates(t *testing.T) {
	a := &scriptedDriver{name: "local"}
	b := &scriptedDriver{name: "deepgram"}
	router, registry, _ := newTestRouter(a, b)

	registry.SetPriority(domain.ProviderKindTTS, []string{"deepgram", "local"})

	_, provider, err := router.Synthesize(context.Background(), SynthesizeRequest{Text: "hi"}, "")
	require.NoError(t, err)
	assert.Equal(t, "deepgram", provider)
}

func TestCandidatesDeduplicatePreferred(t *testing.T) {
	a := &scriptedDriver{name: "local"}
	b := &scriptedDriver{name: "deepgram"}
	_, registry, _ := newTestRouter(a, b)

	candidates := registry.candidates(domain.ProviderKindASR, "local")
	assert.Equal(t, []string{"local", "deepgram"}, candidates)
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(&TransientError{Err: errors.New("x")}))
	assert.False(t, IsTransient(&FatalError{Err: errors.New("x")}))
	assert.False(t, IsTransient(errors.New("plain")))
}
