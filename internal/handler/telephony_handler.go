package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/internal/orchestrator"
	"github.com/ClareAI/astra-comms-core/internal/telephony"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"github.com/ClareAI/astra-comms-core/pkg/twilio"
	"go.uber.org/zap"
)

const (
	recordingMaxBytes = 10 << 20
	recordingTimeout  = 30 * time.Second
)

// TelephonyHandler is the inbound surface the Telephony Provider calls:
// lifecycle webhooks, keypad events, recording completions, and the
// bidirectional media stream.
type TelephonyHandler struct {
	orch          *orchestrator.Service
	streams       *telephony.StreamRegistry
	utterances    *telephony.UtteranceAssembler
	webhookSecret string
	upgrader      websocket.Upgrader
	recordingHTTP *http.Client
}

func NewTelephonyHandler(orch *orchestrator.Service, streams *telephony.StreamRegistry, webhookSecret string) *TelephonyHandler {
	h := &TelephonyHandler{
		orch:          orch,
		streams:       streams,
		webhookSecret: webhookSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		recordingHTTP: &http.Client{Timeout: recordingTimeout},
	}
	h.utterances = telephony.NewUtteranceAssembler(h.onUtterance)
	return h
}

// HandleCallStatus processes lifecycle webhooks: ringing, answered,
// completed, no-answer, busy, failed. Unknown call ids are dropped with a
// warning, never errored — the provider retransmits.
func (h *TelephonyHandler) HandleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error": "malformed form"}`, http.StatusBadRequest)
		return
	}
	callID := r.PostFormValue("callId")
	status := r.PostFormValue("status")
	if callID == "" || status == "" {
		http.Error(w, `{"error": "callId and status are required"}`, http.StatusBadRequest)
		return
	}

	logger.Base().Info("call status webhook",
		zap.String("call_id", callID), zap.String("status", status))

	metadata := decodeJSONField(r.PostFormValue("customField"))
	if d := r.PostFormValue("duration"); d != "" {
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadata["durationSec"], _ = strconv.Atoi(d)
	}

	switch status {
	case "answered", "in-progress":
		h.orch.HandleEvent(callID, orchestrator.Event{
			Kind: orchestrator.EventAnswered, Timestamp: time.Now(), Metadata: metadata,
		})
	case "completed", "no-answer", "busy", "failed":
		h.streams.Close(callID)
		h.orch.HandleEvent(callID, orchestrator.Event{
			Kind: orchestrator.EventHangup, Timestamp: time.Now(), Metadata: metadata,
		})
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleKeypad processes digit presses. A zero-length digit is a 422; a
// duplicate sequence number is dropped inside the orchestrator loop.
func (h *TelephonyHandler) HandleKeypad(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error": "malformed form"}`, http.StatusBadRequest)
		return
	}
	callID := r.PostFormValue("callId")
	digit := r.PostFormValue("digit")
	if callID == "" {
		http.Error(w, `{"error": "callId is required"}`, http.StatusBadRequest)
		return
	}
	if digit == "" {
		http.Error(w, `{"error": "digit is required"}`, http.StatusUnprocessableEntity)
		return
	}

	var seq int64
	if raw := r.PostFormValue("seq"); raw != "" {
		seq, _ = strconv.ParseInt(raw, 10, 64)
	}

	h.orch.HandleEvent(callID, orchestrator.Event{
		Kind:      orchestrator.EventKeypad,
		Digit:     digit,
		Seq:       seq,
		Timestamp: time.Now(),
		Metadata:  decodeJSONField(r.PostFormValue("context")),
	})
	w.WriteHeader(http.StatusAccepted)
}

// HandleRecording fetches a completed recording (bounded) and hands the
// audio to the orchestrator.
func (h *TelephonyHandler) HandleRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error": "malformed form"}`, http.StatusBadRequest)
		return
	}
	callID := r.PostFormValue("callId")
	recordingURL := r.PostFormValue("recordingUrl")
	if callID == "" || recordingURL == "" {
		http.Error(w, `{"error": "callId and recordingUrl are required"}`, http.StatusBadRequest)
		return
	}

	// fetch out of the webhook's request cycle; the provider only needs the 202
	go func() {
		audio, err := h.fetchRecording(recordingURL)
		if err != nil {
			logger.Base().Error("recording fetch failed",
				zap.String("call_id", callID),
				zap.String("url", recordingURL),
				zap.Error(err))
			return
		}
		h.orch.HandleEvent(callID, orchestrator.Event{
			Kind:         orchestrator.EventRecording,
			Audio:        audio,
			RecordingURL: recordingURL,
			Timestamp:    time.Now(),
		})
	}()

	w.WriteHeader(http.StatusAccepted)
}

// HandleAnswer serves the signed answer URL given to the provider at
// placement. It verifies the placement signature, attaches the session for
// inbound-originated calls, and tells the provider to open the media
// stream.
func (h *TelephonyHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	purpose := q.Get("purpose")
	orderID := q.Get("orderId")
	language := q.Get("language")
	sig := q.Get("sig")

	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error": "malformed form"}`, http.StatusBadRequest)
		return
	}
	callID := r.PostFormValue("callId")
	if callID == "" {
		callID = r.PostFormValue("CallSid")
	}
	to := r.PostFormValue("to")
	if to == "" {
		to = r.PostFormValue("To")
	}

	if purpose != "" && !twilio.VerifyParams(h.webhookSecret, sig, purpose, orderID, to) {
		logger.Base().Warn("answer callback signature rejected", zap.String("call_id", callID))
		http.Error(w, `{"error": "bad signature"}`, http.StatusUnauthorized)
		return
	}

	if purpose == "" {
		// call originated at the provider: an inbound customer call
		purpose = string(domain.PurposeInboundCustomer)
	}
	if q.Get("ringOnly") != "1" {
		if err := h.orch.AttachInboundCall(callID, domain.Purpose(purpose), orderID, "", language); err != nil {
			logger.Base().Error("failed to attach call session",
				zap.String("call_id", callID), zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="wss://%s/telephony/stream?callId=%s"/></Connect></Response>`,
		r.Host, callID)
}

// HandleStream upgrades to the bidirectional media WebSocket and runs the
// bridge until either side closes.
func (h *TelephonyHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("callId")
	if callID == "" {
		http.Error(w, `{"error": "callId is required"}`, http.StatusBadRequest)
		return
	}
	if !h.orch.HasSession(callID) {
		logger.Base().Warn("stream for unknown call rejected", zap.String("call_id", callID))
		http.Error(w, `{"error": "unknown session"}`, http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Error("stream upgrade failed", zap.String("call_id", callID), zap.Error(err))
		return
	}

	bridge := telephony.NewStreamBridge(callID, conn, h.onInboundAudio, h.onStreamMark)
	h.streams.Register(callID, bridge)
	defer func() {
		h.streams.Unregister(callID, bridge)
		h.utterances.Drop(callID)
	}()

	bridge.Run()
}

// onInboundAudio feeds each 20 ms inbound frame to the utterance
// assembler. Barge-in is signalled per assembled utterance (see
// onUtterance), not per frame.
func (h *TelephonyHandler) onInboundAudio(callID string, frame []byte) {
	h.utterances.Append(callID, frame)
}

// onUtterance hands one assembled utterance to the orchestrator as a
// speech event, preceded by an interrupt so any in-flight playback stops.
func (h *TelephonyHandler) onUtterance(callID string, audio []byte) {
	h.orch.HandleEvent(callID, orchestrator.Event{Kind: orchestrator.EventInterrupt, Timestamp: time.Now()})
	h.orch.HandleEvent(callID, orchestrator.Event{
		Kind:      orchestrator.EventSpeech,
		Audio:     audio,
		Timestamp: time.Now(),
	})
}

func (h *TelephonyHandler) onStreamMark(callID, mark string) {
	logger.Base().Debug("playback mark acknowledged",
		zap.String("call_id", callID), zap.String("mark", mark))
}

func (h *TelephonyHandler) fetchRecording(url string) ([]byte, error) {
	resp, err := h.recordingHTTP.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recording fetch: unexpected status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, recordingMaxBytes))
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// decodeJSONField parses the optional JSON context/customField blobs the
// provider attaches to webhooks.
func decodeJSONField(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
