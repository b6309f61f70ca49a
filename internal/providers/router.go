package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

// defaultProviderRPS bounds how hard the router leans on any single driver;
// burst is double the sustained rate.
const defaultProviderRPS = 50

// Router is the capability router: for each recognition/synthesis
// request it walks the candidate list (preferred first, then priority
// order), skips unhealthy drivers, and fails over on transient errors.
type Router struct {
	registry *Registry
	health   *HealthCache
	metrics  *Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRouter(registry *Registry, health *HealthCache, metrics *Metrics) *Router {
	return &Router{
		registry: registry,
		health:   health,
		metrics:  metrics,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Recognize routes a short-utterance speech-to-text request and returns the
// transcript plus the provider that served it.
func (r *Router) Recognize(ctx context.Context, req RecognizeRequest, preferred string) (Result, string, error) {
	return r.route(ctx, domain.ProviderKindASR, preferred, len(req.Audio), func(ctx context.Context, d Driver) (Result, error) {
		return d.Recognize(ctx, req)
	})
}

// Synthesize routes a speech-to-audio request and returns the audio bytes
// plus the provider that served it.
func (r *Router) Synthesize(ctx context.Context, req SynthesizeRequest, preferred string) (Result, string, error) {
	return r.route(ctx, domain.ProviderKindTTS, preferred, len(req.Text), func(ctx context.Context, d Driver) (Result, error) {
		return d.Synthesize(ctx, req)
	})
}

func (r *Router) route(ctx context.Context, kind domain.ProviderKind, preferred string, inputSize int, call func(context.Context, Driver) (Result, error)) (Result, string, error) {
	candidates := r.registry.candidates(kind, preferred)

	for _, name := range candidates {
		driver, ok := r.registry.Driver(kind, name)
		if !ok {
			continue
		}
		if !r.health.Available(ctx, kind, driver) {
			logger.Base().Debug("skipping unavailable provider",
				zap.String("kind", string(kind)), zap.String("provider", name))
			continue
		}
		if err := r.limiter(kind, name).Wait(ctx); err != nil {
			return Result{}, "", err
		}

		callCtx, cancel := context.WithTimeout(ctx, timeoutFor(kind))
		start := time.Now()
		result, err := call(callCtx, driver)
		cancel()

		latencyMs := time.Since(start).Milliseconds()
		r.metrics.Record(kind, name, latencyMs, inputSize, err != nil)

		if err == nil {
			result.LatencyMs = latencyMs
			r.health.MarkHealthy(kind, name, time.Since(start))
			return result, name, nil
		}

		if !IsTransient(err) {
			logger.Base().Error("provider returned fatal error, aborting route",
				zap.String("kind", string(kind)), zap.String("provider", name), zap.Error(err))
			return Result{}, name, err
		}

		r.health.MarkUnhealthy(kind, name, err)
		logger.Base().Warn("provider failed, trying next candidate",
			zap.String("kind", string(kind)), zap.String("provider", name), zap.Error(err))

		if ctx.Err() != nil {
			return Result{}, "", ctx.Err()
		}
	}

	return Result{}, "", ErrProvidersExhausted
}

func (r *Router) limiter(kind domain.ProviderKind, name string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := string(kind) + "|" + name
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(defaultProviderRPS), defaultProviderRPS*2)
		r.limiters[key] = lim
	}
	return lim
}
