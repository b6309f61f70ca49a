// Package twilio wraps the Telephony Provider's outbound-call API: signed
// callback URLs, bounded retry on placement, and call teardown.
package twilio

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

const (
	placementAttempts = 3
	ringTimeoutSec    = 30
	callTimeLimitSec  = 1800 // full-call limit enforced at the provider
)

// Config carries the provider account and the callback surface settings.
type Config struct {
	AccountSID      string
	AuthToken       string
	CallbackBaseURL string
	WebhookSecret   string
}

// PlaceCallRequest describes one outbound call.
type PlaceCallRequest struct {
	To       string
	CallerID string
	Purpose  string
	OrderID  string
	Language string
	Recorded bool
	// RingOnly places a short attention-ring with no interactive content.
	RingOnly bool
}

// CallService places and ends calls against the provider REST API.
type CallService struct {
	client *twilio.RestClient
	config Config
}

func NewCallService(config Config) *CallService {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})
	return &CallService{client: client, config: config}
}

// PlaceCall requests an outbound call and returns the provider call id.
// Transport failures retry up to placementAttempts with 0.5s * 2^n backoff.
func (s *CallService) PlaceCall(req PlaceCallRequest) (string, error) {
	callbackURL := s.signedCallbackURL(req)

	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.CallerID)
	params.SetUrl(callbackURL)
	params.SetMethod("POST")
	params.SetStatusCallback(s.config.CallbackBaseURL + "/telephony/call-status")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetTimeout(ringTimeoutSec)
	params.SetTimeLimit(callTimeLimitSec)
	if req.Recorded && !req.RingOnly {
		params.SetRecord(true)
	}

	var lastErr error
	for attempt := 0; attempt < placementAttempts; attempt++ {
		if attempt > 0 {
			backoff := 500 * time.Millisecond << uint(attempt-1)
			logger.Base().Warn("call placement retry",
				zap.String("to", req.To),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			time.Sleep(backoff)
		}

		resp, err := s.client.Api.CreateCall(params)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Sid == nil {
			lastErr = fmt.Errorf("twilio: placement response missing call sid")
			continue
		}

		logger.Base().Info("outbound call placed",
			zap.String("call_id", *resp.Sid),
			zap.String("purpose", req.Purpose),
			zap.String("order_id", req.OrderID))
		return *resp.Sid, nil
	}
	return "", fmt.Errorf("twilio: call placement failed after %d attempts: %w", placementAttempts, lastErr)
}

// TransferCall redirects an in-progress call to a human peer by replacing
// its instruction document with a dial to the peer's number.
func (s *CallService) TransferCall(callID, peerPhone string) error {
	params := &api.UpdateCallParams{}
	params.SetTwiml(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Dial>%s</Dial></Response>`, peerPhone))
	_, err := s.client.Api.UpdateCall(callID, params)
	if err != nil {
		logger.Base().Error("failed to transfer call",
			zap.String("call_id", callID), zap.Error(err))
	}
	return err
}

// EndCall asks the provider to complete an in-progress call.
func (s *CallService) EndCall(callID string) error {
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	_, err := s.client.Api.UpdateCall(callID, params)
	if err != nil {
		logger.Base().Warn("failed to end call", zap.String("call_id", callID), zap.Error(err))
	}
	return err
}

// signedCallbackURL builds the answer-webhook URL carrying the call's
// purpose context plus an HMAC so inbound callbacks can be verified as
// ours even before the shared-secret body signature is checked.
func (s *CallService) signedCallbackURL(req PlaceCallRequest) string {
	q := url.Values{}
	q.Set("purpose", req.Purpose)
	q.Set("orderId", req.OrderID)
	q.Set("language", req.Language)
	if req.RingOnly {
		q.Set("ringOnly", "1")
	}
	q.Set("sig", SignParams(s.config.WebhookSecret, req.Purpose, req.OrderID, req.To))

	return s.config.CallbackBaseURL + "/telephony/answer?" + q.Encode()
}

// SignParams computes the hex HMAC-SHA256 over the pipe-joined values.
func SignParams(secret string, values ...string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for i, v := range values {
		if i > 0 {
			mac.Write([]byte{'|'})
		}
		mac.Write([]byte(v))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyParams checks a signature produced by SignParams in constant time.
func VerifyParams(secret, signature string, values ...string) bool {
	expected := SignParams(secret, values...)
	return hmac.Equal([]byte(signature), []byte(expected))
}
