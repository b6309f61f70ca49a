package providers

import (
	"fmt"
	"net/http"
)

// classifyStatus maps an HTTP status from a driver endpoint onto the
// sum-typed failure model: 5xx and 429 fail over to the next candidate,
// any other non-2xx aborts the route.
func classifyStatus(provider string, status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	err := fmt.Errorf("%s: unexpected status %d", provider, status)
	if status >= 500 || status == http.StatusTooManyRequests {
		return &TransientError{Err: err}
	}
	return &FatalError{Err: err}
}

// transient wraps a transport-level failure (network, timeout) so the
// router fails over.
func transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}
