package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ClareAI/astra-comms-core/internal/core/event"
	"github.com/ClareAI/astra-comms-core/internal/core/session"
	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/internal/escalation"
	"github.com/ClareAI/astra-comms-core/internal/providers"
)

// AdminHandler is the internal control surface: escalation control,
// provider health and priority, session introspection, and stats.
type AdminHandler struct {
	engine   *escalation.Engine
	ladder   *escalation.Ladder
	registry *providers.Registry
	health   *providers.HealthCache
	metrics  *providers.Metrics
	store    *session.Store
	bus      event.EventBus
}

func NewAdminHandler(
	engine *escalation.Engine,
	ladder *escalation.Ladder,
	registry *providers.Registry,
	health *providers.HealthCache,
	metrics *providers.Metrics,
	store *session.Store,
	bus event.EventBus,
) *AdminHandler {
	return &AdminHandler{
		engine:   engine,
		ladder:   ladder,
		registry: registry,
		health:   health,
		metrics:  metrics,
		store:    store,
		bus:      bus,
	}
}

type startEscalationBody struct {
	Purpose string       `json:"purpose"`
	OrderID string       `json:"orderId"`
	Data    domain.JSONB `json:"data,omitempty"`
}

// HandleEscalationStart starts (or returns) a ladder; idempotent by
// construction of the deterministic escalation id.
func (h *AdminHandler) HandleEscalationStart(w http.ResponseWriter, r *http.Request) {
	var body startEscalationBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, `{"error": "malformed body"}`, http.StatusBadRequest)
		return
	}
	if body.Purpose == "" || body.OrderID == "" {
		http.Error(w, `{"error": "purpose and orderId are required"}`, http.StatusBadRequest)
		return
	}

	esc, err := h.engine.Start(domain.EscalationFlow(body.Purpose), body.OrderID, body.Data)
	if err != nil {
		http.Error(w, `{"error": "unknown flow"}`, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"escalationId": esc.ID,
		"status":       esc.Status,
		"startedAt":    esc.StartedAt,
	})
}

type stopEscalationBody struct {
	EscalationID string `json:"escalationId"`
	Reason       string `json:"reason,omitempty"`
}

// HandleEscalationStop cancels a ladder; stopping an unknown id is 404.
func (h *AdminHandler) HandleEscalationStop(w http.ResponseWriter, r *http.Request) {
	var body stopEscalationBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, `{"error": "malformed body"}`, http.StatusBadRequest)
		return
	}
	if body.EscalationID == "" {
		http.Error(w, `{"error": "escalationId is required"}`, http.StatusBadRequest)
		return
	}

	if !h.engine.Stop(body.EscalationID, body.Reason) {
		http.Error(w, `{"error": "unknown escalation"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleProvidersHealth serves the current health cache snapshot.
func (h *AdminHandler) HandleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.health.Snapshot(),
		"asrPriority": h.registry.Priority(domain.ProviderKindASR),
		"ttsPriority": h.registry.Priority(domain.ProviderKindTTS),
	})
}

type priorityBody struct {
	Kind     string   `json:"kind"`
	Priority []string `json:"priority"`
}

// HandleSetPriority swaps a capability's provider priority order at runtime.
func (h *AdminHandler) HandleSetPriority(w http.ResponseWriter, r *http.Request) {
	var body priorityBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, `{"error": "malformed body"}`, http.StatusBadRequest)
		return
	}
	kind := domain.ProviderKind(body.Kind)
	if kind != domain.ProviderKindASR && kind != domain.ProviderKindTTS {
		http.Error(w, `{"error": "kind must be asr or tts"}`, http.StatusBadRequest)
		return
	}
	if len(body.Priority) == 0 {
		http.Error(w, `{"error": "priority list is required"}`, http.StatusBadRequest)
		return
	}

	h.registry.SetPriority(kind, body.Priority)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":     kind,
		"priority": h.registry.Priority(kind),
	})
}

// HandleListSessions returns sanitized snapshots of every live session.
func (h *AdminHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    h.store.Count(),
		"sessions": h.store.Snapshot(),
	})
}

// HandleGetSession returns one session by call id.
func (h *AdminHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]
	sess, ok := h.store.Get(callID)
	if !ok {
		http.Error(w, `{"error": "unknown session"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, *sess)
}

// HandleStats serves provider usage counters, bus stats, and the webhook
// auth-failure counter.
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providerUsage": h.metrics.Snapshot(),
		"bus":           h.bus.GetStats(),
		"authFailures":  AuthFailureCount(),
		"sessions":      h.store.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
