package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ClareAI/astra-comms-core/internal/core/event"
	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/internal/escalation"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

// EventsHandler receives business events from the Core Backend and turns
// them into escalation starts/stops plus bus notifications.
type EventsHandler struct {
	engine *escalation.Engine
	bus    event.EventBus
}

func NewEventsHandler(engine *escalation.Engine, bus event.EventBus) *EventsHandler {
	return &EventsHandler{engine: engine, bus: bus}
}

type orderEventBody struct {
	OrderID  string        `json:"orderId"`
	StoreID  string        `json:"storeId,omitempty"`
	RiderID  string        `json:"riderId,omitempty"`
	Amount   float64       `json:"amount,omitempty"`
	Phone    string        `json:"phone,omitempty"`
	Language string        `json:"language,omitempty"`
	Items    []domain.Item `json:"items,omitempty"`
	Data     domain.JSONB  `json:"data,omitempty"`
}

// HandleOrderEvent processes POST /events/order/{action}.
func (h *EventsHandler) HandleOrderEvent(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	body, ok := h.decode(w, r)
	if !ok {
		return
	}

	switch action {
	case "new":
		data := mergeEventData(body)
		if _, err := h.engine.Start(domain.FlowVendorNewOrder, body.OrderID, data); err != nil {
			logger.Base().Error("failed to start vendor ladder",
				zap.String("order_id", body.OrderID), zap.Error(err))
			http.Error(w, `{"error": "escalation start failed"}`, http.StatusInternalServerError)
			return
		}
		h.bus.Publish(event.OrderCreated, &event.OrderEventData{OrderID: body.OrderID})

	case "accepted":
		h.engine.StopForFlow(domain.FlowVendorNewOrder, body.OrderID, "backend:order.accepted")
		h.bus.Publish(event.OrderConfirmed, &event.OrderEventData{OrderID: body.OrderID, State: "confirmed"})

	case "rejected":
		h.engine.StopForFlow(domain.FlowVendorNewOrder, body.OrderID, "backend:order.rejected")
		h.bus.Publish(event.OrderCancelled, &event.OrderEventData{OrderID: body.OrderID, State: "cancelled"})

	case "ready":
		h.engine.StopForFlow(domain.FlowVendorReminder, body.OrderID, "backend:order.ready")
		h.bus.Publish(event.OrderHandover, &event.OrderEventData{OrderID: body.OrderID, State: "handover"})

	case "delivered":
		h.engine.StopForFlow(domain.FlowCustomerStatus, body.OrderID, "backend:order.delivered")
		h.bus.Publish(event.OrderDelivered, &event.OrderEventData{OrderID: body.OrderID, State: "delivered"})

	default:
		http.Error(w, `{"error": "unknown order event"}`, http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleRiderEvent processes POST /events/rider/{action}.
func (h *EventsHandler) HandleRiderEvent(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	body, ok := h.decode(w, r)
	if !ok {
		return
	}

	switch action {
	case "assigned":
		data := mergeEventData(body)
		if _, err := h.engine.Start(domain.FlowRiderAssign, body.OrderID, data); err != nil {
			logger.Base().Error("failed to start rider ladder",
				zap.String("order_id", body.OrderID), zap.Error(err))
			http.Error(w, `{"error": "escalation start failed"}`, http.StatusInternalServerError)
			return
		}
		h.bus.Publish(event.OrderRiderAssigned, &event.OrderEventData{OrderID: body.OrderID})

	case "accepted":
		h.engine.StopForFlow(domain.FlowRiderAssign, body.OrderID, "backend:rider.accepted")
		h.engine.StopForFlow(domain.FlowRiderAddressUpdate, body.OrderID, "backend:rider.accepted")

	case "rejected":
		h.engine.StopForFlow(domain.FlowRiderAssign, body.OrderID, "backend:rider.rejected")

	default:
		http.Error(w, `{"error": "unknown rider event"}`, http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleAddressChanged processes POST /events/address/changed.
func (h *EventsHandler) HandleAddressChanged(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}

	data := mergeEventData(body)
	if _, err := h.engine.Start(domain.FlowRiderAddressUpdate, body.OrderID, data); err != nil {
		logger.Base().Error("failed to start address-update ladder",
			zap.String("order_id", body.OrderID), zap.Error(err))
		http.Error(w, `{"error": "escalation start failed"}`, http.StatusInternalServerError)
		return
	}
	h.bus.Publish(event.AddressChanged, &event.OrderEventData{OrderID: body.OrderID})
	w.WriteHeader(http.StatusAccepted)
}

func (h *EventsHandler) decode(w http.ResponseWriter, r *http.Request) (orderEventBody, bool) {
	var body orderEventBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, `{"error": "malformed body"}`, http.StatusBadRequest)
		return body, false
	}
	if body.OrderID == "" {
		http.Error(w, `{"error": "orderId is required"}`, http.StatusBadRequest)
		return body, false
	}
	return body, true
}

// mergeEventData folds the event's typed fields into the escalation data
// bag the ladder and call metadata read from.
func mergeEventData(body orderEventBody) domain.JSONB {
	data := domain.JSONB{}
	for k, v := range body.Data {
		data[k] = v
	}
	if body.Phone != "" {
		data["phone"] = body.Phone
	}
	if body.Language != "" {
		data["language"] = body.Language
	}
	if body.StoreID != "" {
		data["storeId"] = body.StoreID
	}
	if body.RiderID != "" {
		data["riderId"] = body.RiderID
	}
	if body.Amount > 0 {
		data["amountText"] = formatAmount(body.Amount)
	}
	return data
}

func formatAmount(amount float64) string {
	return "rupees " + strconv.FormatFloat(amount, 'f', -1, 64)
}
