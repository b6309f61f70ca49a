// Package providers implements the capability router:
// one operation each for speech-to-text and speech-to-audio, independent of
// which external service implements it today.
package providers

import (
	"context"
	"errors"
	"time"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

// RecognizeRequest is a short-utterance speech-to-text request.
type RecognizeRequest struct {
	Audio    []byte
	Language string
}

// SynthesizeRequest is a speech-to-audio request.
type SynthesizeRequest struct {
	Text     string
	Language string
	Voice    string
}

// Result is the payload of a successful driver call. Failures come back
// as TransientError or FatalError; the router only fails over to the next
// candidate on a transient one.
type Result struct {
	Audio      []byte
	Transcript string
	LatencyMs  int64
}

// TransientError marks a driver failure the router should fail over on.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a driver failure that must not be retried against any
// candidate (e.g. malformed request) — it propagates straight to the caller.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err should trigger failover to the next
// candidate in the priority list rather than aborting the route outright.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// Driver is one configured implementation of either capability. A single
// driver type may implement both Recognize and Synthesize (e.g. "google"),
// or only one — Route only calls the method for the kind being requested.
type Driver interface {
	Name() string
	Recognize(ctx context.Context, req RecognizeRequest) (Result, error)
	Synthesize(ctx context.Context, req SynthesizeRequest) (Result, error)
}

// HealthProber is implemented by drivers that can be actively probed for
// reachability (local drivers, over HTTP). Cloud drivers skip this and are
// considered available iff their credential is configured.
type HealthProber interface {
	Probe(ctx context.Context) error
}

var (
	// ErrProvidersExhausted is returned when every candidate in the priority
	// list for a kind failed or was unhealthy.
	ErrProvidersExhausted = errors.New("providers: candidate list exhausted")
)

// ShortUtteranceTimeout and SynthesisTimeout are the kind-appropriate
// per-call timeouts.
const (
	ShortUtteranceTimeout = 30 * time.Second
	SynthesisTimeout      = 60 * time.Second
)

func timeoutFor(kind domain.ProviderKind) time.Duration {
	if kind == domain.ProviderKindTTS {
		return SynthesisTimeout
	}
	return ShortUtteranceTimeout
}
