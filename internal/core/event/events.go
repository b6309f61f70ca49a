package event

import (
	"time"
)

// EventType represents the type of event carried on the in-process bus.
type EventType string

const (
	// Order lifecycle, mirrored from Core Backend webhooks (see events_handler.go)
	OrderCreated       EventType = "order.created"
	OrderPartial       EventType = "order.partial"
	OrderConfirmed     EventType = "order.confirmed"
	OrderRiderAssigned EventType = "order.rider_assigned"
	OrderHandover      EventType = "order.handover"
	OrderDelivered     EventType = "order.delivered"
	OrderCancelled     EventType = "order.cancelled"
	AddressChanged     EventType = "order.address_changed"

	// Escalation lifecycle
	EscalationStarted   EventType = "escalation.started"
	EscalationStepFired EventType = "escalation.step_fired"
	EscalationStopped   EventType = "escalation.stopped"
	EscalationCompleted EventType = "escalation.completed"

	// Call lifecycle
	CallPlaced    EventType = "call.placed"
	CallAccepted  EventType = "call.accepted"
	CallConnected EventType = "call.connected"
	CallEnded     EventType = "call.ended"
	CallFailed    EventType = "call.failed"

	// Outbound notification fan-out (push/chat/ring channels)
	CommsNotificationSent EventType = "comms.notification.sent"

	// Internal/system events
	HandlerPanic EventType = "handler.panic"
)

// Event is the envelope carried through the bus. CallID and OrderID are
// correlation ids; either may be empty depending on the topic.
type Event struct {
	Type      EventType   `json:"type"`
	CallID    string      `json:"callId,omitempty"`
	OrderID   string      `json:"orderId,omitempty"`
	PartyID   string      `json:"partyId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     error       `json:"error,omitempty"`
}

// OrderEventData carries the order-lifecycle payload from Core Backend.
type OrderEventData struct {
	OrderID string `json:"orderId"`
	State   string `json:"state,omitempty"`
}

// EscalationEventData carries escalation-ladder progress.
type EscalationEventData struct {
	EscalationID string `json:"escalationId"`
	OrderID      string `json:"orderId"`
	Channel      string `json:"channel,omitempty"`
	StepIndex    int    `json:"stepIndex,omitempty"`
}

// CallEventData carries call-lifecycle payloads.
type CallEventData struct {
	CallID  string `json:"callId"`
	OrderID string `json:"orderId,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

func NewEvent(eventType EventType, callID string) *Event {
	return &Event{
		Type:      eventType,
		CallID:    callID,
		Timestamp: time.Now(),
	}
}

func (e *Event) WithOrderID(orderID string) *Event {
	e.OrderID = orderID
	return e
}

func (e *Event) WithPartyID(partyID string) *Event {
	e.PartyID = partyID
	return e
}

func (e *Event) WithData(data interface{}) *Event {
	e.Data = data
	return e
}

func (e *Event) WithError(err error) *Event {
	e.Error = err
	return e
}

func (e *Event) IsError() bool {
	return e.Error != nil
}

func (e *Event) GetOrderData() (*OrderEventData, bool) {
	data, ok := e.Data.(*OrderEventData)
	return data, ok
}

func (e *Event) GetEscalationData() (*EscalationEventData, bool) {
	data, ok := e.Data.(*EscalationEventData)
	return data, ok
}

func (e *Event) GetCallData() (*CallEventData, bool) {
	data, ok := e.Data.(*CallEventData)
	return data, ok
}
